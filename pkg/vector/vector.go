// Package vector provides the semantic index over skill descriptions and
// sources, with chromem-go (embedded, persisted) and Redis backends.
//
// Every entry carries two vectors, one for the description and one for the
// source, plus a content hash that gates re-embedding: adding an unchanged
// entry is a no-op. A persisted index also remembers the embedding model;
// if the model dimension changes between opens the index clears itself.
package vector

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"math"
	"regexp"
	"sort"
	"strings"

	"github.com/codemode-ai/codemode/pkg/embeddings"
	"github.com/codemode-ai/codemode/pkg/errors"
)

// Match is one search hit.
type Match struct {
	ID    string  `json:"id"`
	Score float64 `json:"score"`
}

// Index is the semantic index contract.
type Index interface {
	// Add indexes the entry unless the stored content hash already equals
	// contentHash, in which case nothing is embedded or written.
	Add(ctx context.Context, id, description, source, contentHash string) error

	// Remove deletes the entry. Removing an unknown id is not an error.
	Remove(ctx context.Context, id string) error

	// Search embeds the query once and scores entries as
	// descWeight*simDesc + codeWeight*simCode, descending.
	Search(ctx context.Context, query string, limit int, descWeight, codeWeight float64) ([]Match, error)

	// ContentHash returns the stored hash for id, or "" when absent.
	ContentHash(ctx context.Context, id string) (string, error)

	// ModelInfo returns the embedding model the index was built with.
	ModelInfo(ctx context.Context) (embeddings.ModelInfo, error)

	// Clear removes every entry.
	Clear(ctx context.Context) error

	// Count returns the number of indexed entries.
	Count(ctx context.Context) (int, error)
}

var idPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

const maxIDBytes = 128

// ValidateID enforces index id hygiene: identifier shape, bounded length,
// and none of the characters that key syntaxes reserve.
func ValidateID(id string) error {
	if id == "" {
		return errors.NewInvalidName("index id is empty", nil)
	}
	if len(id) > maxIDBytes {
		return errors.Newf(errors.KindInvalidName, "index id %q exceeds %d bytes", id, maxIDBytes)
	}
	if strings.ContainsAny(id, ":{}[]") {
		return errors.Newf(errors.KindInvalidName, "index id %q contains a reserved character", id)
	}
	if !idPattern.MatchString(id) {
		return errors.Newf(errors.KindInvalidName, "index id %q is not a valid identifier", id)
	}
	return nil
}

// SkillContentHash derives the content hash that gates re-indexing of a
// skill: the first 16 hex characters of SHA-256 over description and
// source.
func SkillContentHash(description, source string) string {
	sum := sha256.Sum256([]byte(description + "|||" + source))
	return hex.EncodeToString(sum[:])[:16]
}

// similarityFromDistance maps a cosine distance in [0, 2] to a similarity
// in [0, 1].
func similarityFromDistance(d float64) float64 {
	sim := 1 - d/2
	if sim < 0 {
		return 0
	}
	if sim > 1 {
		return 1
	}
	return sim
}

// cosineDistance is 1 - cosine similarity, in [0, 2] for arbitrary
// vectors and exactly 0 for identical directions.
func cosineDistance(a, b []float32) float64 {
	if len(a) != len(b) {
		return 2
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 2
	}
	return 1 - dot/(math.Sqrt(normA)*math.Sqrt(normB))
}

// sideHit is one candidate from a single-sided nearest-neighbor pass.
type sideHit struct {
	id  string
	sim float64
}

// combineSides merges description-side and code-side candidates into the
// final ranking. An id seen on only one side contributes 0 for the
// missing side.
func combineSides(descHits, codeHits []sideHit, descWeight, codeWeight float64, limit int) []Match {
	combined := map[string]*Match{}
	for _, hit := range descHits {
		combined[hit.id] = &Match{ID: hit.id, Score: descWeight * hit.sim}
	}
	for _, hit := range codeHits {
		if m, ok := combined[hit.id]; ok {
			m.Score += codeWeight * hit.sim
		} else {
			combined[hit.id] = &Match{ID: hit.id, Score: codeWeight * hit.sim}
		}
	}

	matches := make([]Match, 0, len(combined))
	for _, m := range combined {
		matches = append(matches, *m)
	}
	sort.SliceStable(matches, func(i, j int) bool {
		if matches[i].Score != matches[j].Score {
			return matches[i].Score > matches[j].Score
		}
		return matches[i].ID < matches[j].ID
	})
	if limit >= 0 && len(matches) > limit {
		matches = matches[:limit]
	}
	return matches
}

// candidateK is the per-side fan-out for a search with the given limit.
func candidateK(limit, count int) int {
	k := 2 * limit
	if k > count {
		k = count
	}
	return k
}
