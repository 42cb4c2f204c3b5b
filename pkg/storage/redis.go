package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/codemode-ai/codemode/pkg/errors"
	"github.com/codemode-ai/codemode/pkg/logger"
)

// RedisBackend stores everything in a single Redis connection under a
// configurable key prefix: {prefix}:tools and {prefix}:skills are hashes of
// name to document, each artifact is one hash written with a single HSET,
// and {prefix}:deps is a set.
type RedisBackend struct {
	client *redis.Client
	url    string
	prefix string

	mu        sync.Mutex
	tools     *redisToolStore
	skills    *redisSkillStore
	artifacts *redisArtifactStore
	deps      *redisDepsStore
}

// NewRedisBackend connects to the given Redis URL
// (e.g. "redis://localhost:6379/0").
func NewRedisBackend(url, prefix string) (*RedisBackend, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parsing redis url: %w", err)
	}
	return &RedisBackend{
		client: redis.NewClient(opts),
		url:    url,
		prefix: prefix,
	}, nil
}

// NewRedisBackendWithClient wraps an existing client. The url is only used
// to build the access descriptor; pass the address the client dials.
func NewRedisBackendWithClient(client *redis.Client, url, prefix string) *RedisBackend {
	return &RedisBackend{client: client, url: url, prefix: prefix}
}

// NewRedisBackendFromAccess reconstructs a backend from an access
// descriptor. Each sub-store keeps the exact prefix the descriptor names.
func NewRedisBackendFromAccess(access RedisAccess) (*RedisBackend, error) {
	opts, err := redis.ParseURL(access.URL)
	if err != nil {
		return nil, fmt.Errorf("parsing redis url: %w", err)
	}
	client := redis.NewClient(opts)
	b := &RedisBackend{client: client, url: access.URL}
	b.tools = &redisToolStore{client: client, key: access.ToolsPrefix}
	b.skills = &redisSkillStore{client: client, key: access.SkillsPrefix}
	b.artifacts = &redisArtifactStore{client: client, prefix: access.ArtifactsPrefix}
	b.deps = &redisDepsStore{client: client, key: access.DepsPrefix}
	return b, nil
}

// Client exposes the underlying connection for components that share it,
// such as the Redis vector index.
func (b *RedisBackend) Client() *redis.Client {
	return b.client
}

// Prefix returns the configured key prefix.
func (b *RedisBackend) Prefix() string {
	return b.prefix
}

// ToolStore implements Backend.
func (b *RedisBackend) ToolStore() ToolStore {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.tools == nil {
		b.tools = &redisToolStore{client: b.client, key: b.prefix + ":tools"}
	}
	return b.tools
}

// SkillStore implements Backend.
func (b *RedisBackend) SkillStore() SkillStore {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.skills == nil {
		b.skills = &redisSkillStore{client: b.client, key: b.prefix + ":skills"}
	}
	return b.skills
}

// ArtifactStore implements Backend.
func (b *RedisBackend) ArtifactStore() ArtifactStore {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.artifacts == nil {
		b.artifacts = &redisArtifactStore{client: b.client, prefix: b.prefix + ":artifacts"}
	}
	return b.artifacts
}

// DepsStore implements Backend.
func (b *RedisBackend) DepsStore() DepsStore {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.deps == nil {
		b.deps = &redisDepsStore{client: b.client, key: b.prefix + ":deps"}
	}
	return b.deps
}

// Access implements Backend.
func (b *RedisBackend) Access() Access {
	return Access{
		Type: AccessTypeRedis,
		Redis: &RedisAccess{
			URL:             b.url,
			ToolsPrefix:     b.ToolStore().Path(),
			SkillsPrefix:    b.SkillStore().Path(),
			ArtifactsPrefix: b.ArtifactStore().Path(),
			DepsPrefix:      b.DepsStore().Path(),
		},
	}
}

// Close implements Backend.
func (b *RedisBackend) Close() error {
	return b.client.Close()
}

// redisToolStore keeps tool descriptors in one hash: field name, value the
// raw YAML document.
type redisToolStore struct {
	client *redis.Client
	key    string
}

func (s *redisToolStore) Path() string { return s.key }

func (s *redisToolStore) List(ctx context.Context) ([]ToolSpec, error) {
	docs, err := s.client.HGetAll(ctx, s.key).Result()
	if err != nil {
		return nil, err
	}
	specs := make([]ToolSpec, 0, len(docs))
	for name, raw := range docs {
		specs = append(specs, ToolSpec{Name: name, Raw: []byte(raw)})
	}
	return specs, nil
}

func (s *redisToolStore) Get(ctx context.Context, name string) (*ToolSpec, error) {
	if err := ValidateFlatName(name); err != nil {
		return nil, err
	}
	raw, err := s.client.HGet(ctx, s.key, name).Result()
	if err == redis.Nil {
		return nil, errors.Newf(errors.KindNotFound, "tool descriptor %q not found", name)
	}
	if err != nil {
		return nil, err
	}
	return &ToolSpec{Name: name, Raw: []byte(raw)}, nil
}

func (s *redisToolStore) Put(ctx context.Context, name string, raw []byte) error {
	if err := ValidateFlatName(name); err != nil {
		return err
	}
	return s.client.HSet(ctx, s.key, name, string(raw)).Err()
}

func (s *redisToolStore) Delete(ctx context.Context, name string) error {
	if err := ValidateFlatName(name); err != nil {
		return err
	}
	removed, err := s.client.HDel(ctx, s.key, name).Result()
	if err != nil {
		return err
	}
	if removed == 0 {
		return errors.Newf(errors.KindNotFound, "tool descriptor %q not found", name)
	}
	return nil
}

// redisSkillRecord is the stored form of a skill in Redis. Unlike the file
// store the description travels alongside the source, so skills created
// without a docstring keep their description.
type redisSkillRecord struct {
	Description string `json:"description"`
	Source      string `json:"source"`
}

type redisSkillStore struct {
	client *redis.Client
	key    string
}

func (s *redisSkillStore) Path() string { return s.key }

func (s *redisSkillStore) List(ctx context.Context) ([]SkillRecord, error) {
	docs, err := s.client.HGetAll(ctx, s.key).Result()
	if err != nil {
		return nil, err
	}
	recs := make([]SkillRecord, 0, len(docs))
	for name, doc := range docs {
		var stored redisSkillRecord
		if err := json.Unmarshal([]byte(doc), &stored); err != nil {
			logger.Warnw("skipping corrupt skill record", "skill", name, "error", err)
			continue
		}
		recs = append(recs, SkillRecord{Name: name, Description: stored.Description, Source: stored.Source})
	}
	return recs, nil
}

func (s *redisSkillStore) Get(ctx context.Context, name string) (*SkillRecord, error) {
	if err := ValidateFlatName(name); err != nil {
		return nil, err
	}
	doc, err := s.client.HGet(ctx, s.key, name).Result()
	if err == redis.Nil {
		return nil, errors.Newf(errors.KindNotFound, "skill %q not found", name)
	}
	if err != nil {
		return nil, err
	}
	var stored redisSkillRecord
	if err := json.Unmarshal([]byte(doc), &stored); err != nil {
		return nil, errors.New(errors.KindInternal, fmt.Sprintf("corrupt skill record %q", name), err)
	}
	return &SkillRecord{Name: name, Description: stored.Description, Source: stored.Source}, nil
}

func (s *redisSkillStore) Put(ctx context.Context, rec SkillRecord) error {
	if err := ValidateFlatName(rec.Name); err != nil {
		return err
	}
	doc, err := json.Marshal(redisSkillRecord{Description: rec.Description, Source: rec.Source})
	if err != nil {
		return err
	}
	return s.client.HSet(ctx, s.key, rec.Name, string(doc)).Err()
}

func (s *redisSkillStore) Delete(ctx context.Context, name string) error {
	if err := ValidateFlatName(name); err != nil {
		return err
	}
	removed, err := s.client.HDel(ctx, s.key, name).Result()
	if err != nil {
		return err
	}
	if removed == 0 {
		return errors.Newf(errors.KindNotFound, "skill %q not found", name)
	}
	return nil
}

// redisArtifactStore keeps one hash per artifact at {prefix}:{name}. The
// whole record is written with a single HSET so concurrent writers never
// observe a torn artifact.
type redisArtifactStore struct {
	client *redis.Client
	prefix string
}

func (s *redisArtifactStore) Path() string { return s.prefix }

func (s *redisArtifactStore) key(name string) string {
	return s.prefix + ":" + name
}

func (s *redisArtifactStore) Save(ctx context.Context, name string, data any, description string, metadata map[string]any) (*Artifact, error) {
	if err := ValidateName(name); err != nil {
		return nil, err
	}

	var (
		payload string
		typeTag string
	)
	switch v := data.(type) {
	case []byte:
		payload, typeTag = string(v), ArtifactTypeBytes
	case string:
		payload, typeTag = v, ArtifactTypeText
	default:
		encoded, err := json.Marshal(v)
		if err != nil {
			return nil, errors.New(errors.KindInternal, fmt.Sprintf("artifact %q is not JSON-serializable", name), err)
		}
		payload, typeTag = string(encoded), ArtifactTypeJSON
	}

	now := time.Now().UTC()
	metaJSON := "{}"
	if metadata != nil {
		encoded, err := json.Marshal(metadata)
		if err != nil {
			return nil, errors.New(errors.KindInternal, fmt.Sprintf("artifact %q metadata is not JSON-serializable", name), err)
		}
		metaJSON = string(encoded)
	}

	err := s.client.HSet(ctx, s.key(name),
		"data", payload,
		"type", typeTag,
		"description", description,
		"metadata", metaJSON,
		"created_at", now.Format(time.RFC3339Nano),
	).Err()
	if err != nil {
		return nil, err
	}

	return &Artifact{
		Name:        name,
		Path:        s.key(name),
		Description: description,
		Type:        typeTag,
		Metadata:    metadata,
		CreatedAt:   now,
	}, nil
}

func (s *redisArtifactStore) Load(ctx context.Context, name string) (any, error) {
	if err := ValidateName(name); err != nil {
		return nil, err
	}
	fields, err := s.client.HGetAll(ctx, s.key(name)).Result()
	if err != nil {
		return nil, err
	}
	if len(fields) == 0 {
		return nil, errors.Newf(errors.KindNotFound, "artifact %q not found", name)
	}
	payload := fields["data"]
	switch fields["type"] {
	case ArtifactTypeBytes:
		return []byte(payload), nil
	case ArtifactTypeJSON:
		var value any
		if err := json.Unmarshal([]byte(payload), &value); err != nil {
			return payload, nil
		}
		return value, nil
	default:
		return payload, nil
	}
}

func (s *redisArtifactStore) Get(ctx context.Context, name string) (*Artifact, error) {
	if err := ValidateName(name); err != nil {
		return nil, err
	}
	fields, err := s.client.HGetAll(ctx, s.key(name)).Result()
	if err != nil {
		return nil, err
	}
	if len(fields) == 0 {
		return nil, nil
	}
	return s.fieldsToArtifact(name, fields), nil
}

func (s *redisArtifactStore) List(ctx context.Context) ([]Artifact, error) {
	var (
		artifacts []Artifact
		cursor    uint64
	)
	pattern := s.prefix + ":*"
	for {
		keys, next, err := s.client.Scan(ctx, cursor, pattern, 100).Result()
		if err != nil {
			return nil, err
		}
		for _, key := range keys {
			name := strings.TrimPrefix(key, s.prefix+":")
			fields, err := s.client.HGetAll(ctx, key).Result()
			if err != nil {
				logger.Warnw("skipping unreadable artifact", "key", key, "error", err)
				continue
			}
			if len(fields) == 0 {
				continue
			}
			artifacts = append(artifacts, *s.fieldsToArtifact(name, fields))
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}
	return artifacts, nil
}

func (s *redisArtifactStore) Exists(ctx context.Context, name string) (bool, error) {
	if err := ValidateName(name); err != nil {
		return false, err
	}
	n, err := s.client.Exists(ctx, s.key(name)).Result()
	return n > 0, err
}

func (s *redisArtifactStore) Delete(ctx context.Context, name string) error {
	if err := ValidateName(name); err != nil {
		return err
	}
	return s.client.Del(ctx, s.key(name)).Err()
}

func (s *redisArtifactStore) fieldsToArtifact(name string, fields map[string]string) *Artifact {
	var metadata map[string]any
	if raw := fields["metadata"]; raw != "" && raw != "{}" {
		if err := json.Unmarshal([]byte(raw), &metadata); err != nil {
			logger.Warnw("corrupt artifact metadata", "artifact", name, "error", err)
		}
	}
	createdAt, err := time.Parse(time.RFC3339Nano, fields["created_at"])
	if err != nil {
		createdAt = time.Time{}
	}
	return &Artifact{
		Name:        name,
		Path:        s.key(name),
		Description: fields["description"],
		Type:        fields["type"],
		Metadata:    metadata,
		CreatedAt:   createdAt,
	}
}

// redisDepsStore keeps declared dependencies in a set.
type redisDepsStore struct {
	client *redis.Client
	key    string
}

func (s *redisDepsStore) Path() string { return s.key }

func (s *redisDepsStore) List(ctx context.Context) ([]string, error) {
	pkgs, err := s.client.SMembers(ctx, s.key).Result()
	if err != nil {
		return nil, err
	}
	return pkgs, nil
}

func (s *redisDepsStore) Add(ctx context.Context, pkg string) error {
	return s.client.SAdd(ctx, s.key, pkg).Err()
}

func (s *redisDepsStore) Remove(ctx context.Context, pkg string) (bool, error) {
	removed, err := s.client.SRem(ctx, s.key, pkg).Result()
	return removed > 0, err
}
