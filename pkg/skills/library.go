package skills

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/codemode-ai/codemode/pkg/embeddings"
	"github.com/codemode-ai/codemode/pkg/errors"
	"github.com/codemode-ai/codemode/pkg/logger"
	"github.com/codemode-ai/codemode/pkg/storage"
	"github.com/codemode-ai/codemode/pkg/vector"
)

// SearchHit is one library search result.
type SearchHit struct {
	Skill *Skill  `json:"skill"`
	Score float64 `json:"score"`
}

// Library coordinates the skill store (source of truth) with an optional
// vector index. Search quality degrades gracefully: index when present,
// in-memory cosine when only an embedder is available, substring match
// otherwise.
type Library struct {
	store    storage.SkillStore
	index    vector.Index
	embedder embeddings.Embedder

	// transient embeddings for the no-index fallback, keyed by skill name
	mu        sync.Mutex
	fallbackV map[string][]float32
}

// Option configures a Library.
type Option func(*Library)

// WithIndex attaches a vector index.
func WithIndex(index vector.Index) Option {
	return func(l *Library) { l.index = index }
}

// WithEmbedder attaches an embedder for the in-memory search fallback.
func WithEmbedder(embedder embeddings.Embedder) Option {
	return func(l *Library) { l.embedder = embedder }
}

// NewLibrary creates a library over the store.
func NewLibrary(store storage.SkillStore, opts ...Option) *Library {
	l := &Library{store: store, fallbackV: map[string][]float32{}}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Add validates and persists the skill, then indexes it. Indexing is
// content-hash gated, so re-adding an unchanged skill does not re-embed.
func (l *Library) Add(ctx context.Context, name, source, description string) (*Skill, error) {
	skill, err := New(name, source, description)
	if err != nil {
		return nil, err
	}
	if err := l.store.Put(ctx, storage.SkillRecord{
		Name:        skill.Name,
		Description: skill.Description,
		Source:      skill.Source,
	}); err != nil {
		return nil, err
	}
	l.indexSkill(ctx, skill)
	return skill, nil
}

func (l *Library) indexSkill(ctx context.Context, skill *Skill) {
	hash := vector.SkillContentHash(skill.Description, skill.Source)
	if l.index != nil {
		if err := l.index.Add(ctx, skill.Name, skill.Description, skill.Source, hash); err != nil {
			logger.Warnw("failed to index skill", "skill", skill.Name, "error", err)
		}
		return
	}
	if l.embedder != nil {
		vec, err := l.embedder.Embed(ctx, skill.Description+"\n"+skill.Source)
		if err != nil {
			logger.Warnw("failed to embed skill for fallback search", "skill", skill.Name, "error", err)
			return
		}
		l.mu.Lock()
		l.fallbackV[skill.Name] = vec
		l.mu.Unlock()
	}
}

// Remove deletes the skill from the store and the index.
func (l *Library) Remove(ctx context.Context, name string) error {
	if err := l.store.Delete(ctx, name); err != nil {
		return err
	}
	if l.index != nil {
		if err := l.index.Remove(ctx, name); err != nil {
			logger.Warnw("failed to remove skill from index", "skill", name, "error", err)
		}
	}
	l.mu.Lock()
	delete(l.fallbackV, name)
	l.mu.Unlock()
	return nil
}

// Get returns the named skill.
func (l *Library) Get(ctx context.Context, name string) (*Skill, error) {
	rec, err := l.store.Get(ctx, name)
	if err != nil {
		return nil, err
	}
	return recordToSkill(rec), nil
}

// List returns all skills sorted by name.
func (l *Library) List(ctx context.Context) ([]*Skill, error) {
	recs, err := l.store.List(ctx)
	if err != nil {
		return nil, err
	}
	skillList := make([]*Skill, 0, len(recs))
	for i := range recs {
		skillList = append(skillList, recordToSkill(&recs[i]))
	}
	sort.Slice(skillList, func(i, j int) bool { return skillList[i].Name < skillList[j].Name })
	return skillList, nil
}

// recordToSkill rebuilds a Skill from its stored record. Stored sources
// were validated on the way in; if one no longer parses, it is surfaced
// with whatever metadata survives rather than dropped.
func recordToSkill(rec *storage.SkillRecord) *Skill {
	skill, err := New(rec.Name, rec.Source, rec.Description)
	if err != nil {
		logger.Warnw("stored skill no longer validates", "skill", rec.Name, "error", err)
		return &Skill{Name: rec.Name, Description: rec.Description, Source: rec.Source}
	}
	return skill
}

// Search ranks skills against the query. Index ids that no longer exist
// in the store are filtered out, which masks stale index entries.
func (l *Library) Search(ctx context.Context, query string, limit int) ([]SearchHit, error) {
	if limit <= 0 {
		return nil, nil
	}

	if l.index != nil {
		matches, err := l.index.Search(ctx, query, limit, 0.7, 0.3)
		if err != nil {
			return nil, err
		}
		var hits []SearchHit
		for _, m := range matches {
			skill, err := l.Get(ctx, m.ID)
			if errors.IsNotFound(err) {
				continue
			}
			if err != nil {
				return nil, err
			}
			hits = append(hits, SearchHit{Skill: skill, Score: m.Score})
		}
		return hits, nil
	}

	if l.embedder != nil {
		return l.fallbackSearch(ctx, query, limit)
	}
	return l.substringSearch(ctx, query, limit)
}

func (l *Library) fallbackSearch(ctx context.Context, query string, limit int) ([]SearchHit, error) {
	queryVec, err := l.embedder.Embed(ctx, query)
	if err != nil {
		return nil, err
	}
	skillList, err := l.List(ctx)
	if err != nil {
		return nil, err
	}

	var hits []SearchHit
	for _, skill := range skillList {
		l.mu.Lock()
		vec, ok := l.fallbackV[skill.Name]
		l.mu.Unlock()
		if !ok {
			vec, err = l.embedder.Embed(ctx, skill.Description+"\n"+skill.Source)
			if err != nil {
				continue
			}
			l.mu.Lock()
			l.fallbackV[skill.Name] = vec
			l.mu.Unlock()
		}
		score := cosine(queryVec, vec)
		if score > 0 {
			hits = append(hits, SearchHit{Skill: skill, Score: score})
		}
	}
	sortHits(hits)
	if len(hits) > limit {
		hits = hits[:limit]
	}
	return hits, nil
}

func (l *Library) substringSearch(ctx context.Context, query string, limit int) ([]SearchHit, error) {
	skillList, err := l.List(ctx)
	if err != nil {
		return nil, err
	}
	q := strings.ToLower(strings.TrimSpace(query))
	var hits []SearchHit
	for _, skill := range skillList {
		var score float64
		switch {
		case strings.ToLower(skill.Name) == q:
			score = 100
		case strings.Contains(strings.ToLower(skill.Name), q):
			score = 50
		case strings.Contains(strings.ToLower(skill.Description), q):
			score = 25
		}
		if score > 0 {
			hits = append(hits, SearchHit{Skill: skill, Score: score})
		}
	}
	sortHits(hits)
	if len(hits) > limit {
		hits = hits[:limit]
	}
	return hits, nil
}

func sortHits(hits []SearchHit) {
	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].Skill.Name < hits[j].Skill.Name
	})
}

func cosine(a, b []float32) float64 {
	if len(a) != len(b) {
		return 0
	}
	var dot float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
	}
	if dot < 0 {
		return 0
	}
	return dot
}

// Refresh re-lists the store and re-indexes every skill. Content-hash
// gating makes this cheap for unchanged skills, so it doubles as the
// warm-start path.
func (l *Library) Refresh(ctx context.Context) error {
	recs, err := l.store.List(ctx)
	if err != nil {
		return err
	}
	for i := range recs {
		l.indexSkill(ctx, recordToSkill(&recs[i]))
	}
	return nil
}
