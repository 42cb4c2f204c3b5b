package vector

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/philippgille/chromem-go"

	"github.com/codemode-ai/codemode/pkg/embeddings"
	"github.com/codemode-ai/codemode/pkg/logger"
)

const (
	descCollection = "skill_descriptions"
	codeCollection = "skill_sources"

	modelInfoFile = "model_info.json"
	hashMetaKey   = "content_hash"
)

// ChromemIndex is the embedded vector index, backed by chromem-go. Each
// entry is stored as two documents, one per collection, sharing the id.
// When persisted, a sidecar file records the embedding model so a model
// change can be detected on the next open.
type ChromemIndex struct {
	db          *chromem.DB
	embedder    embeddings.Embedder
	persistPath string

	mu sync.Mutex
}

// NewChromemIndex opens (or creates) an index. An empty persistPath gives
// an in-memory index. If the persisted model dimension disagrees with the
// embedder's, the index is cleared before use.
func NewChromemIndex(persistPath string, embedder embeddings.Embedder) (*ChromemIndex, error) {
	var (
		db  *chromem.DB
		err error
	)
	if persistPath != "" {
		db, err = chromem.NewPersistentDB(persistPath, false)
		if err != nil {
			return nil, fmt.Errorf("opening vector index at %s: %w", persistPath, err)
		}
	} else {
		db = chromem.NewDB()
	}

	idx := &ChromemIndex{
		db:          db,
		embedder:    embedder,
		persistPath: persistPath,
	}
	if err := idx.reconcileModel(context.Background()); err != nil {
		return nil, err
	}
	return idx, nil
}

// reconcileModel compares the persisted model info with the live embedder
// and clears the index on a dimension change.
func (idx *ChromemIndex) reconcileModel(ctx context.Context) error {
	current := idx.embedder.ModelInfo()
	stored, ok := idx.readModelInfo()
	if ok && stored.Dimension != current.Dimension {
		logger.Warnw("embedding dimension changed, clearing vector index",
			"stored", stored.Dimension, "current", current.Dimension)
		if err := idx.Clear(ctx); err != nil {
			return err
		}
	}
	return idx.writeModelInfo(current)
}

func (idx *ChromemIndex) readModelInfo() (embeddings.ModelInfo, bool) {
	if idx.persistPath == "" {
		return embeddings.ModelInfo{}, false
	}
	data, err := os.ReadFile(filepath.Join(idx.persistPath, modelInfoFile))
	if err != nil {
		return embeddings.ModelInfo{}, false
	}
	var info embeddings.ModelInfo
	if err := json.Unmarshal(data, &info); err != nil {
		logger.Warnw("corrupt model info sidecar, ignoring", "error", err)
		return embeddings.ModelInfo{}, false
	}
	return info, true
}

func (idx *ChromemIndex) writeModelInfo(info embeddings.ModelInfo) error {
	if idx.persistPath == "" {
		return nil
	}
	data, err := json.MarshalIndent(info, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(idx.persistPath, 0o750); err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(idx.persistPath, modelInfoFile), data, 0o600)
}

// embeddingFunc adapts our Embedder to chromem's callback shape. It is
// only invoked when a document is added without a precomputed embedding.
func (idx *ChromemIndex) embeddingFunc() chromem.EmbeddingFunc {
	return func(ctx context.Context, text string) ([]float32, error) {
		return idx.embedder.Embed(ctx, text)
	}
}

func (idx *ChromemIndex) collection(name string) (*chromem.Collection, error) {
	if c := idx.db.GetCollection(name, idx.embeddingFunc()); c != nil {
		return c, nil
	}
	c, err := idx.db.CreateCollection(name, nil, idx.embeddingFunc())
	if err != nil {
		return nil, fmt.Errorf("creating collection %s: %w", name, err)
	}
	return c, nil
}

// Add implements Index.
func (idx *ChromemIndex) Add(ctx context.Context, id, description, source, contentHash string) error {
	if err := ValidateID(id); err != nil {
		return err
	}
	idx.mu.Lock()
	defer idx.mu.Unlock()

	stored, err := idx.contentHashLocked(ctx, id)
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

	meta := map[string]string{hashMetaKey: contentHash}
	descs, err := idx.collection(descCollection)
	if err != nil {
		return err
	}
	codes, err := idx.collection(codeCollection)
	if err != nil {
		return err
	}

	// chromem has no update; replace both documents.
	_ = descs.Delete(ctx, nil, nil, id)
	_ = codes.Delete(ctx, nil, nil, id)
	if err := descs.AddDocument(ctx, chromem.Document{ID: id, Content: description, Embedding: descVec, Metadata: meta}); err != nil {
		return fmt.Errorf("indexing description of %s: %w", id, err)
	}
	if err := codes.AddDocument(ctx, chromem.Document{ID: id, Content: source, Embedding: codeVec, Metadata: meta}); err != nil {
		return fmt.Errorf("indexing source of %s: %w", id, err)
	}
	return nil
}

// Remove implements Index.
func (idx *ChromemIndex) Remove(ctx context.Context, id string) error {
	if err := ValidateID(id); err != nil {
		return err
	}
	idx.mu.Lock()
	defer idx.mu.Unlock()

	for _, name := range []string{descCollection, codeCollection} {
		if c := idx.db.GetCollection(name, idx.embeddingFunc()); c != nil {
			_ = c.Delete(ctx, nil, nil, id)
		}
	}
	return nil
}

// Search implements Index.
func (idx *ChromemIndex) Search(ctx context.Context, query string, limit int, descWeight, codeWeight float64) ([]Match, error) {
	if limit <= 0 {
		return nil, nil
	}
	idx.mu.Lock()
	defer idx.mu.Unlock()

	count := idx.countLocked()
	if count == 0 {
		return nil, nil
	}
	k := candidateK(limit, count)

	queryVec, err := idx.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embedding query: %w", err)
	}

	descHits, err := idx.querySide(ctx, descCollection, queryVec, k)
	if err != nil {
		return nil, err
	}
	codeHits, err := idx.querySide(ctx, codeCollection, queryVec, k)
	if err != nil {
		return nil, err
	}
	return combineSides(descHits, codeHits, descWeight, codeWeight, limit), nil
}

func (idx *ChromemIndex) querySide(ctx context.Context, name string, queryVec []float32, k int) ([]sideHit, error) {
	c := idx.db.GetCollection(name, idx.embeddingFunc())
	if c == nil {
		return nil, nil
	}
	if n := c.Count(); n < k {
		k = n
	}
	if k == 0 {
		return nil, nil
	}
	results, err := c.QueryEmbedding(ctx, queryVec, k, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("querying %s: %w", name, err)
	}
	hits := make([]sideHit, 0, len(results))
	for _, r := range results {
		// chromem reports cosine similarity; convert through the distance
		// so both backends share the same score mapping.
		hits = append(hits, sideHit{id: r.ID, sim: similarityFromDistance(1 - float64(r.Similarity))})
	}
	return hits, nil
}

// ContentHash implements Index.
func (idx *ChromemIndex) ContentHash(ctx context.Context, id string) (string, error) {
	if err := ValidateID(id); err != nil {
		return "", err
	}
	idx.mu.Lock()
	defer idx.mu.Unlock()
	return idx.contentHashLocked(ctx, id)
}

func (idx *ChromemIndex) contentHashLocked(ctx context.Context, id string) (string, error) {
	c := idx.db.GetCollection(descCollection, idx.embeddingFunc())
	if c == nil {
		return "", nil
	}
	doc, err := c.GetByID(ctx, id)
	if err != nil {
		return "", nil
	}
	return doc.Metadata[hashMetaKey], nil
}

// ModelInfo implements Index.
func (idx *ChromemIndex) ModelInfo(context.Context) (embeddings.ModelInfo, error) {
	if info, ok := idx.readModelInfo(); ok {
		return info, nil
	}
	return idx.embedder.ModelInfo(), nil
}

// Clear implements Index.
func (idx *ChromemIndex) Clear(context.Context) error {
	idx.db.DeleteCollection(descCollection)
	idx.db.DeleteCollection(codeCollection)
	return nil
}

// Count implements Index.
func (idx *ChromemIndex) Count(context.Context) (int, error) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	return idx.countLocked(), nil
}

func (idx *ChromemIndex) countLocked() int {
	c := idx.db.GetCollection(descCollection, idx.embeddingFunc())
	if c == nil {
		return 0
	}
	return c.Count()
}
