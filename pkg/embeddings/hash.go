package embeddings

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
	"unicode"
)

// HashEmbedder is a deterministic feature-hash embedder. It needs no
// network or model files, which makes it the default for tests and for
// offline deployments where substring search is not enough. Similar texts
// share token buckets and therefore have related vectors; it is not a
// semantic model.
type HashEmbedder struct {
	dimension int
}

// NewHashEmbedder creates a hash embedder with the given dimension.
func NewHashEmbedder(dimension int) *HashEmbedder {
	if dimension <= 0 {
		dimension = 256
	}
	return &HashEmbedder{dimension: dimension}
}

// ModelInfo implements Embedder.
func (e *HashEmbedder) ModelInfo() ModelInfo {
	return ModelInfo{Name: "feature-hash", Dimension: e.dimension, Version: "1"}
}

// Embed implements Embedder. Tokens are lowercased words plus character
// trigrams; each token increments its hash bucket and the final vector is
// L2-normalized.
func (e *HashEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	vec := make([]float32, e.dimension)
	for _, token := range tokenize(text) {
		h := fnv.New32a()
		_, _ = h.Write([]byte(token))
		vec[h.Sum32()%uint32(e.dimension)]++
	}

	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if norm > 0 {
		scale := float32(1 / math.Sqrt(norm))
		for i := range vec {
			vec[i] *= scale
		}
	}
	return vec, nil
}

func tokenize(text string) []string {
	lower := strings.ToLower(text)
	words := strings.FieldsFunc(lower, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	tokens := make([]string, 0, len(words)*3)
	for _, word := range words {
		tokens = append(tokens, word)
		for i := 0; i+3 <= len(word); i++ {
			tokens = append(tokens, word[i:i+3])
		}
	}
	return tokens
}
