package vector

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/codemode-ai/codemode/pkg/embeddings"
	"github.com/codemode-ai/codemode/pkg/logger"
)

const (
	redisEntriesSuffix = ":entries"
	redisModelSuffix   = ":model_info"

	redisDescField = "desc_vec"
	redisCodeField = "code_vec"
	redisHashField = "content_hash"
)

// RedisIndex stores one hash per entry under {prefix}:entry:{id}, with the
// id set at {prefix}:entries and the model info at {prefix}:model_info.
// Search is a full scan with cosine scoring in Go, which is fine at skill
// library scale and keeps the index runnable against any Redis, including
// miniredis in tests.
type RedisIndex struct {
	client   *redis.Client
	prefix   string
	embedder embeddings.Embedder
}

// NewRedisIndex opens an index at the given key prefix. Like the embedded
// index, a persisted dimension that disagrees with the embedder clears
// all entries.
func NewRedisIndex(ctx context.Context, client *redis.Client, prefix string, embedder embeddings.Embedder) (*RedisIndex, error) {
	idx := &RedisIndex{client: client, prefix: prefix, embedder: embedder}

	current := embedder.ModelInfo()
	stored, ok, err := idx.readModelInfo(ctx)
	if err != nil {
		return nil, err
	}
	if ok && stored.Dimension != current.Dimension {
		logger.Warnw("embedding dimension changed, clearing vector index",
			"stored", stored.Dimension, "current", current.Dimension)
		if err := idx.Clear(ctx); err != nil {
			return nil, err
		}
	}
	if err := idx.writeModelInfo(ctx, current); err != nil {
		return nil, err
	}
	return idx, nil
}

func (idx *RedisIndex) entriesKey() string { return idx.prefix + redisEntriesSuffix }

func (idx *RedisIndex) entryKey(id string) string { return idx.prefix + ":entry:" + id }

func (idx *RedisIndex) readModelInfo(ctx context.Context) (embeddings.ModelInfo, bool, error) {
	data, err := idx.client.Get(ctx, idx.prefix+redisModelSuffix).Result()
	if err == redis.Nil {
		return embeddings.ModelInfo{}, false, nil
	}
	if err != nil {
		return embeddings.ModelInfo{}, false, err
	}
	var info embeddings.ModelInfo
	if err := json.Unmarshal([]byte(data), &info); err != nil {
		logger.Warnw("corrupt model info record, ignoring", "error", err)
		return embeddings.ModelInfo{}, false, nil
	}
	return info, true, nil
}

func (idx *RedisIndex) writeModelInfo(ctx context.Context, info embeddings.ModelInfo) error {
	data, err := json.Marshal(info)
	if err != nil {
		return err
	}
	return idx.client.Set(ctx, idx.prefix+redisModelSuffix, string(data), 0).Err()
}

// Add implements Index.
func (idx *RedisIndex) Add(ctx context.Context, id, description, source, contentHash string) error {
	if err := ValidateID(id); err != nil {
		return err
	}

	stored, err := idx.ContentHash(ctx, id)
	if err != nil {
		return err
	}
	if stored == contentHash {
		return nil
	}

	descVec, err := idx.embedder.Embed(ctx, description)
	if err != nil {
		return fmt.Errorf("embedding description of %s: %w", id, err)
	}
	codeVec, err := idx.embedder.Embed(ctx, source)
	if err != nil {
		return fmt.Errorf("embedding source of %s: %w", id, err)
	}
	descJSON, err := json.Marshal(descVec)
	if err != nil {
		return err
	}
	codeJSON, err := json.Marshal(codeVec)
	if err != nil {
		return err
	}

	// The hash write is a single HSET so a concurrent reader never sees a
	// half-updated entry; the id-set add follows.
	if err := idx.client.HSet(ctx, idx.entryKey(id),
		redisDescField, string(descJSON),
		redisCodeField, string(codeJSON),
		redisHashField, contentHash,
	).Err(); err != nil {
		return err
	}
	return idx.client.SAdd(ctx, idx.entriesKey(), id).Err()
}

// Remove implements Index.
func (idx *RedisIndex) Remove(ctx context.Context, id string) error {
	if err := ValidateID(id); err != nil {
		return err
	}
	if err := idx.client.SRem(ctx, idx.entriesKey(), id).Err(); err != nil {
		return err
	}
	return idx.client.Del(ctx, idx.entryKey(id)).Err()
}

// Search implements Index.
func (idx *RedisIndex) Search(ctx context.Context, query string, limit int, descWeight, codeWeight float64) ([]Match, error) {
	if limit <= 0 {
		return nil, nil
	}
	ids, err := idx.client.SMembers(ctx, idx.entriesKey()).Result()
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, nil
	}

	queryVec, err := idx.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embedding query: %w", err)
	}

	var descHits, codeHits []sideHit
	for _, id := range ids {
		fields, err := idx.client.HGetAll(ctx, idx.entryKey(id)).Result()
		if err != nil {
			return nil, err
		}
		if len(fields) == 0 {
			continue
		}
		if vec, ok := decodeVector(fields[redisDescField]); ok {
			descHits = append(descHits, sideHit{id: id, sim: similarityFromDistance(cosineDistance(queryVec, vec))})
		}
		if vec, ok := decodeVector(fields[redisCodeField]); ok {
			codeHits = append(codeHits, sideHit{id: id, sim: similarityFromDistance(cosineDistance(queryVec, vec))})
		}
	}
	return combineSides(descHits, codeHits, descWeight, codeWeight, limit), nil
}

func decodeVector(encoded string) ([]float32, bool) {
	if encoded == "" {
		return nil, false
	}
	var vec []float32
	if err := json.Unmarshal([]byte(encoded), &vec); err != nil {
		logger.Warnw("corrupt vector record, skipping", "error", err)
		return nil, false
	}
	return vec, true
}

// ContentHash implements Index.
func (idx *RedisIndex) ContentHash(ctx context.Context, id string) (string, error) {
	if err := ValidateID(id); err != nil {
		return "", err
	}
	hash, err := idx.client.HGet(ctx, idx.entryKey(id), redisHashField).Result()
	if err == redis.Nil {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return hash, nil
}

// ModelInfo implements Index.
func (idx *RedisIndex) ModelInfo(ctx context.Context) (embeddings.ModelInfo, error) {
	info, ok, err := idx.readModelInfo(ctx)
	if err != nil {
		return embeddings.ModelInfo{}, err
	}
	if !ok {
		return idx.embedder.ModelInfo(), nil
	}
	return info, nil
}

// Clear implements Index.
func (idx *RedisIndex) Clear(ctx context.Context) error {
	ids, err := idx.client.SMembers(ctx, idx.entriesKey()).Result()
	if err != nil {
		return err
	}
	for _, id := range ids {
		if err := idx.client.Del(ctx, idx.entryKey(id)).Err(); err != nil {
			return err
		}
	}
	return idx.client.Del(ctx, idx.entriesKey()).Err()
}

// Count implements Index.
func (idx *RedisIndex) Count(ctx context.Context) (int, error) {
	n, err := idx.client.SCard(ctx, idx.entriesKey()).Result()
	return int(n), err
}
