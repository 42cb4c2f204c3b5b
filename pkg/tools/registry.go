package tools

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/codemode-ai/codemode/pkg/embeddings"
	"github.com/codemode-ai/codemode/pkg/errors"
	"github.com/codemode-ai/codemode/pkg/logger"
)

// Substring search scores, used when no embedder is configured.
const (
	scoreExactName   = 100
	scorePartialName = 50
	scoreDescription = 25
)

// Registry holds the flat tool namespace. Registration is eager: the
// adapter's tools are listed and checked for name collisions immediately.
// Reads vastly outnumber writes, so a RWMutex guards the maps.
type Registry struct {
	embedder embeddings.Embedder

	mu       sync.RWMutex
	adapters []Adapter
	byName   map[string]*registered
}

type registered struct {
	tool    Tool
	adapter Adapter
	vector  []float32
}

// NewRegistry creates an empty registry. embedder may be nil, in which
// case Search falls back to substring scoring.
func NewRegistry(embedder embeddings.Embedder) *Registry {
	return &Registry{
		embedder: embedder,
		byName:   map[string]*registered{},
	}
}

// RegisterAdapter lists the adapter's tools, merges extraTags into each,
// and adds them to the namespace. A duplicate tool name rejects the whole
// adapter and registers nothing.
func (r *Registry) RegisterAdapter(ctx context.Context, adapter Adapter, extraTags ...string) error {
	toolList, err := adapter.Tools(ctx)
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for i := range toolList {
		if _, exists := r.byName[toolList[i].Name]; exists {
			return errors.Newf(errors.KindAlreadyExists, "tool %q is already registered", toolList[i].Name)
		}
	}

	for i := range toolList {
		tool := toolList[i]
		if len(extraTags) > 0 && tool.Tags == nil {
			tool.Tags = map[string]bool{}
		}
		for _, tag := range extraTags {
			tool.Tags[tag] = true
		}
		entry := &registered{tool: tool, adapter: adapter}
		if r.embedder != nil {
			vec, err := r.embedder.Embed(ctx, tool.Name+". "+tool.Description)
			if err != nil {
				logger.Warnw("failed to embed tool, search falls back to substring for it",
					"tool", tool.Name, "error", err)
			} else {
				entry.vector = vec
			}
		}
		r.byName[tool.Name] = entry
	}
	r.adapters = append(r.adapters, adapter)
	return nil
}

// List returns tools sorted by name. A non-empty scope keeps only tools
// whose tags intersect it.
func (r *Registry) List(scope ...string) []Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var toolList []Tool
	for _, entry := range r.byName {
		if !inScope(&entry.tool, scope) {
			continue
		}
		toolList = append(toolList, entry.tool)
	}
	sort.Slice(toolList, func(i, j int) bool { return toolList[i].Name < toolList[j].Name })
	return toolList
}

func inScope(tool *Tool, scope []string) bool {
	if len(scope) == 0 {
		return true
	}
	for _, tag := range scope {
		if tool.HasTag(tag) {
			return true
		}
	}
	return false
}

// Get returns the named tool.
func (r *Registry) Get(name string) (*Tool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entry, ok := r.byName[name]
	if !ok {
		return nil, errors.Newf(errors.KindNotFound, "tool %q not found", name)
	}
	tool := entry.tool
	return &tool, nil
}

// Recipes returns the callables of the named tool.
func (r *Registry) Recipes(name string) ([]Callable, error) {
	tool, err := r.Get(name)
	if err != nil {
		return nil, err
	}
	return tool.Callables, nil
}

// Call routes a call to the adapter owning name.
func (r *Registry) Call(ctx context.Context, name, callable string, args map[string]any) (any, error) {
	r.mu.RLock()
	entry, ok := r.byName[name]
	r.mu.RUnlock()
	if !ok {
		return nil, errors.Newf(errors.KindNotFound, "tool %q not found", name)
	}
	if callable != "" && entry.tool.Callable(callable) == nil {
		return nil, errors.Newf(errors.KindNotFound, "tool %q has no callable %q", name, callable)
	}
	value, err := entry.adapter.Call(ctx, name, callable, args)
	if err != nil {
		if errors.KindOf(err) != errors.KindInternal {
			return nil, err
		}
		return nil, errors.New(errors.KindCallFailed, "tool "+name+" failed", err)
	}
	return value, nil
}

// Search ranks tools against the query: cosine over tool embeddings when
// an embedder is configured, substring scoring otherwise. Results are
// sorted by score descending and truncated to limit.
func (r *Registry) Search(ctx context.Context, query string, limit int, scope ...string) ([]SearchHit, error) {
	if limit <= 0 {
		return nil, nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()

	var queryVec []float32
	if r.embedder != nil {
		vec, err := r.embedder.Embed(ctx, query)
		if err != nil {
			return nil, err
		}
		queryVec = vec
	}

	var hits []SearchHit
	for _, entry := range r.byName {
		if !inScope(&entry.tool, scope) {
			continue
		}
		var score float64
		if queryVec != nil && entry.vector != nil {
			score = cosineSimilarity(queryVec, entry.vector)
		} else {
			score = substringScore(&entry.tool, query)
		}
		if score <= 0 {
			continue
		}
		tool := entry.tool
		hits = append(hits, SearchHit{Tool: &tool, Score: score})
	}
	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].Tool.Name < hits[j].Tool.Name
	})
	if len(hits) > limit {
		hits = hits[:limit]
	}
	return hits, nil
}

func substringScore(tool *Tool, query string) float64 {
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return 0
	}
	name := strings.ToLower(tool.Name)
	if name == q {
		return scoreExactName
	}
	if strings.Contains(name, q) {
		return scorePartialName
	}
	if strings.Contains(strings.ToLower(tool.Description), q) {
		return scoreDescription
	}
	return 0
}

func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) {
		return 0
	}
	var dot float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
	}
	// Registry vectors come from the embedder already normalized; clamp
	// for safety.
	if dot < 0 {
		return 0
	}
	return dot
}

// Close closes all adapters in reverse registration order. MCP clients
// nest cancellation scopes, so LIFO is required, not cosmetic.
func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var firstErr error
	for i := len(r.adapters) - 1; i >= 0; i-- {
		if err := r.adapters[i].Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	r.adapters = nil
	r.byName = map[string]*registered{}
	return firstErr
}

// ScopedView is a read-only view of the registry filtered by a tag mask.
type ScopedView struct {
	registry *Registry
	scope    []string
}

// ScopedView returns a view whose reads are filtered to tools tagged with
// any of the given tags.
func (r *Registry) ScopedView(tags ...string) *ScopedView {
	return &ScopedView{registry: r, scope: tags}
}

// List returns the in-scope tools.
func (v *ScopedView) List() []Tool {
	return v.registry.List(v.scope...)
}

// Get returns the named tool if it is in scope.
func (v *ScopedView) Get(name string) (*Tool, error) {
	tool, err := v.registry.Get(name)
	if err != nil {
		return nil, err
	}
	if !inScope(tool, v.scope) {
		return nil, errors.Newf(errors.KindNotFound, "tool %q not found", name)
	}
	return tool, nil
}

// Call routes a call if the tool is in scope.
func (v *ScopedView) Call(ctx context.Context, name, callable string, args map[string]any) (any, error) {
	if _, err := v.Get(name); err != nil {
		return nil, err
	}
	return v.registry.Call(ctx, name, callable, args)
}

// Search searches within the view's scope.
func (v *ScopedView) Search(ctx context.Context, query string, limit int) ([]SearchHit, error) {
	return v.registry.Search(ctx, query, limit, v.scope...)
}
