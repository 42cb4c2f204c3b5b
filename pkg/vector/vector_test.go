package vector

import (
	"context"
	"sync/atomic"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codemode-ai/codemode/pkg/embeddings"
	"github.com/codemode-ai/codemode/pkg/errors"
)

// countingEmbedder wraps an embedder and counts Embed calls, which is how
// the hash-gating tests observe that nothing was re-embedded.
type countingEmbedder struct {
	embeddings.Embedder
	calls atomic.Int32
}

func (c *countingEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	c.calls.Add(1)
	return c.Embedder.Embed(ctx, text)
}

func newChromemForTest(t *testing.T, e embeddings.Embedder) Index {
	t.Helper()
	idx, err := NewChromemIndex("", e)
	require.NoError(t, err)
	return idx
}

func newRedisForTest(t *testing.T, e embeddings.Embedder) Index {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	idx, err := NewRedisIndex(context.Background(), client, "idx", e)
	require.NoError(t, err)
	return idx
}

func TestIndexContract(t *testing.T) {
	t.Parallel()

	backends := map[string]func(*testing.T, embeddings.Embedder) Index{
		"chromem": newChromemForTest,
		"redis":   newRedisForTest,
	}
	for name, open := range backends {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			t.Run("AddSearchRemove", func(t *testing.T) { testAddSearchRemove(t, open) })
			t.Run("HashGatedAdd", func(t *testing.T) { testHashGatedAdd(t, open) })
			t.Run("ContentHashMissing", func(t *testing.T) { testContentHashMissing(t, open) })
			t.Run("WeightsSteerRanking", func(t *testing.T) { testWeightsSteerRanking(t, open) })
			t.Run("ClearAndCount", func(t *testing.T) { testClearAndCount(t, open) })
			t.Run("RejectsBadIDs", func(t *testing.T) { testRejectsBadIDs(t, open) })
		})
	}
}

func testAddSearchRemove(t *testing.T, open func(*testing.T, embeddings.Embedder) Index) {
	ctx := context.Background()
	idx := open(t, embeddings.NewHashEmbedder(128))

	require.NoError(t, idx.Add(ctx, "port_scan", "scan hosts for open tcp ports", "def run(host):\n    return scan(host)\n", "h1"))
	require.NoError(t, idx.Add(ctx, "dns_lookup", "resolve a hostname to addresses", "def run(name):\n    return resolve(name)\n", "h2"))

	count, err := idx.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	matches, err := idx.Search(ctx, "scan open ports on a host", 5, 0.7, 0.3)
	require.NoError(t, err)
	require.NotEmpty(t, matches)
	assert.Equal(t, "port_scan", matches[0].ID)
	for _, m := range matches {
		assert.GreaterOrEqual(t, m.Score, 0.0)
		assert.LessOrEqual(t, m.Score, 1.0)
	}

	require.NoError(t, idx.Remove(ctx, "port_scan"))
	count, err = idx.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	// Removing an unknown id is not an error.
	require.NoError(t, idx.Remove(ctx, "port_scan"))
}

func testHashGatedAdd(t *testing.T, open func(*testing.T, embeddings.Embedder) Index) {
	ctx := context.Background()
	counter := &countingEmbedder{Embedder: embeddings.NewHashEmbedder(64)}
	idx := open(t, counter)

	require.NoError(t, idx.Add(ctx, "skill_a", "desc", "source", "hash-1"))
	after := counter.calls.Load()
	assert.GreaterOrEqual(t, after, int32(2))

	// Same hash: no embedding, no write.
	require.NoError(t, idx.Add(ctx, "skill_a", "desc", "source", "hash-1"))
	assert.Equal(t, after, counter.calls.Load())

	// Changed hash: re-embedded.
	require.NoError(t, idx.Add(ctx, "skill_a", "desc v2", "source v2", "hash-2"))
	assert.Greater(t, counter.calls.Load(), after)

	hash, err := idx.ContentHash(ctx, "skill_a")
	require.NoError(t, err)
	assert.Equal(t, "hash-2", hash)

	count, err := idx.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func testContentHashMissing(t *testing.T, open func(*testing.T, embeddings.Embedder) Index) {
	idx := open(t, embeddings.NewHashEmbedder(32))
	hash, err := idx.ContentHash(context.Background(), "absent")
	require.NoError(t, err)
	assert.Empty(t, hash)
}

func testWeightsSteerRanking(t *testing.T, open func(*testing.T, embeddings.Embedder) Index) {
	ctx := context.Background()
	idx := open(t, embeddings.NewHashEmbedder(128))

	// One entry matches on description, the other on source.
	require.NoError(t, idx.Add(ctx, "desc_match", "parse nginx access logs", "def run(x):\n    return x\n", "a"))
	require.NoError(t, idx.Add(ctx, "code_match", "unrelated helper", "def run():\n    return parse_nginx_access_logs()\n", "b"))

	byDesc, err := idx.Search(ctx, "parse nginx access logs", 2, 1.0, 0.0)
	require.NoError(t, err)
	require.NotEmpty(t, byDesc)
	assert.Equal(t, "desc_match", byDesc[0].ID)

	byCode, err := idx.Search(ctx, "parse nginx access logs", 2, 0.0, 1.0)
	require.NoError(t, err)
	require.NotEmpty(t, byCode)
	assert.Equal(t, "code_match", byCode[0].ID)
}

func testClearAndCount(t *testing.T, open func(*testing.T, embeddings.Embedder) Index) {
	ctx := context.Background()
	idx := open(t, embeddings.NewHashEmbedder(32))

	require.NoError(t, idx.Add(ctx, "a", "one", "src", "1"))
	require.NoError(t, idx.Add(ctx, "b", "two", "src", "2"))
	require.NoError(t, idx.Clear(ctx))

	count, err := idx.Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, count)

	matches, err := idx.Search(ctx, "anything", 5, 0.5, 0.5)
	require.NoError(t, err)
	assert.Empty(t, matches)
}

func testRejectsBadIDs(t *testing.T, open func(*testing.T, embeddings.Embedder) Index) {
	ctx := context.Background()
	idx := open(t, embeddings.NewHashEmbedder(32))

	for _, id := range []string{"", "1starts_with_digit", "has space", "has:colon", "a{b}", "x[y]", "dash-ed"} {
		err := idx.Add(ctx, id, "d", "s", "h")
		assert.True(t, errors.IsInvalidName(err), "id %q should be rejected", id)
	}
}

func TestChromemModelChangeClearsIndex(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	dir := t.TempDir()

	idx, err := NewChromemIndex(dir, embeddings.NewHashEmbedder(64))
	require.NoError(t, err)
	require.NoError(t, idx.Add(ctx, "skill_a", "desc", "src", "h"))

	// Reopen with a different dimension: everything is gone.
	idx2, err := NewChromemIndex(dir, embeddings.NewHashEmbedder(128))
	require.NoError(t, err)
	count, err := idx2.Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, count)

	info, err := idx2.ModelInfo(ctx)
	require.NoError(t, err)
	assert.Equal(t, 128, info.Dimension)
}

func TestRedisModelChangeClearsIndex(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	idx, err := NewRedisIndex(ctx, client, "idx", embeddings.NewHashEmbedder(64))
	require.NoError(t, err)
	require.NoError(t, idx.Add(ctx, "skill_a", "desc", "src", "h"))

	idx2, err := NewRedisIndex(ctx, client, "idx", embeddings.NewHashEmbedder(128))
	require.NoError(t, err)
	count, err := idx2.Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestSkillContentHash(t *testing.T) {
	t.Parallel()

	h := SkillContentHash("desc", "source")
	assert.Len(t, h, 16)
	assert.Equal(t, h, SkillContentHash("desc", "source"))
	assert.NotEqual(t, h, SkillContentHash("desc", "source2"))
	assert.NotEqual(t, h, SkillContentHash("desc2", "source"))

	// The separator keeps (a+b, c) and (a, b+c) splits distinct.
	assert.NotEqual(t, SkillContentHash("ab", "c"), SkillContentHash("a", "bc"))
}

func TestSimilarityFromDistance(t *testing.T) {
	t.Parallel()

	assert.Equal(t, 1.0, similarityFromDistance(0))
	assert.Equal(t, 0.5, similarityFromDistance(1))
	assert.Equal(t, 0.0, similarityFromDistance(2))
	assert.Equal(t, 0.0, similarityFromDistance(3))
	assert.Equal(t, 1.0, similarityFromDistance(-0.5))
}

func TestCombineSidesMissingSideContributesZero(t *testing.T) {
	t.Parallel()

	matches := combineSides(
		[]sideHit{{id: "only_desc", sim: 1.0}},
		[]sideHit{{id: "only_code", sim: 1.0}},
		0.7, 0.3, 10,
	)
	require.Len(t, matches, 2)
	assert.Equal(t, "only_desc", matches[0].ID)
	assert.InDelta(t, 0.7, matches[0].Score, 1e-9)
	assert.InDelta(t, 0.3, matches[1].Score, 1e-9)
}
