package tools

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codemode-ai/codemode/pkg/embeddings"
	"github.com/codemode-ai/codemode/pkg/errors"
)

// fakeAdapter serves a fixed tool list and records calls and close order.
type fakeAdapter struct {
	tools    []Tool
	lastCall string
	closed   *[]string
	name     string
	result   any
	err      error
}

func (f *fakeAdapter) Tools(context.Context) ([]Tool, error) {
	return f.tools, nil
}

func (f *fakeAdapter) Call(_ context.Context, tool, callable string, _ map[string]any) (any, error) {
	f.lastCall = tool + "/" + callable
	return f.result, f.err
}

func (f *fakeAdapter) Close() error {
	if f.closed != nil {
		*f.closed = append(*f.closed, f.name)
	}
	return nil
}

func simpleTool(name, description string, tags ...string) Tool {
	tagSet := map[string]bool{}
	for _, tag := range tags {
		tagSet[tag] = true
	}
	return Tool{Name: name, Description: description, Tags: tagSet}
}

func TestRegistryRegisterAndCall(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	registry := NewRegistry(nil)

	adapter := &fakeAdapter{
		tools:  []Tool{simpleTool("nmap", "network scanner")},
		result: "scanned",
	}
	require.NoError(t, registry.RegisterAdapter(ctx, adapter))

	tool, err := registry.Get("nmap")
	require.NoError(t, err)
	assert.Equal(t, "network scanner", tool.Description)

	value, err := registry.Call(ctx, "nmap", "", map[string]any{"target": "10.0.0.1"})
	require.NoError(t, err)
	assert.Equal(t, "scanned", value)
	assert.Equal(t, "nmap/", adapter.lastCall)

	_, err = registry.Call(ctx, "missing", "", nil)
	assert.True(t, errors.IsNotFound(err))
}

func TestRegistryDuplicateNameRejected(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	registry := NewRegistry(nil)

	require.NoError(t, registry.RegisterAdapter(ctx, &fakeAdapter{tools: []Tool{simpleTool("dup", "")}}))
	err := registry.RegisterAdapter(ctx, &fakeAdapter{tools: []Tool{simpleTool("other", ""), simpleTool("dup", "")}})
	assert.True(t, errors.IsAlreadyExists(err))

	// The rejected adapter registered nothing, not even its unique tool.
	_, err = registry.Get("other")
	assert.True(t, errors.IsNotFound(err))
}

func TestRegistryListScope(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	registry := NewRegistry(nil)

	require.NoError(t, registry.RegisterAdapter(ctx, &fakeAdapter{tools: []Tool{
		simpleTool("recon_scan", "", "recon"),
		simpleTool("exploit_x", "", "exploit"),
		simpleTool("report_gen", "", "reporting"),
	}}))

	all := registry.List()
	assert.Len(t, all, 3)
	assert.Equal(t, "exploit_x", all[0].Name) // sorted

	recon := registry.List("recon", "reporting")
	require.Len(t, recon, 2)
	assert.Equal(t, "recon_scan", recon[0].Name)
	assert.Equal(t, "report_gen", recon[1].Name)
}

func TestRegistryExtraTagsMerged(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	registry := NewRegistry(nil)

	require.NoError(t, registry.RegisterAdapter(ctx, &fakeAdapter{tools: []Tool{simpleTool("t", "", "own")}}, "extra"))
	tool, err := registry.Get("t")
	require.NoError(t, err)
	assert.True(t, tool.HasTag("own"))
	assert.True(t, tool.HasTag("extra"))
}

func TestRegistrySubstringSearchScores(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	registry := NewRegistry(nil)

	require.NoError(t, registry.RegisterAdapter(ctx, &fakeAdapter{tools: []Tool{
		simpleTool("scan", "generic scanner"),
		simpleTool("port_scan", "scan open ports"),
		simpleTool("reporter", "formats scan results"),
		simpleTool("unrelated", "does something else"),
	}}))

	hits, err := registry.Search(ctx, "scan", 10)
	require.NoError(t, err)
	require.Len(t, hits, 3)
	assert.Equal(t, "scan", hits[0].Tool.Name)
	assert.Equal(t, float64(scoreExactName), hits[0].Score)
	assert.Equal(t, "port_scan", hits[1].Tool.Name)
	assert.Equal(t, float64(scorePartialName), hits[1].Score)
	assert.Equal(t, "reporter", hits[2].Tool.Name)
	assert.Equal(t, float64(scoreDescription), hits[2].Score)

	hits, err = registry.Search(ctx, "scan", 1)
	require.NoError(t, err)
	assert.Len(t, hits, 1)
}

func TestRegistryEmbedderSearch(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	registry := NewRegistry(embeddings.NewHashEmbedder(128))

	require.NoError(t, registry.RegisterAdapter(ctx, &fakeAdapter{tools: []Tool{
		simpleTool("http_fetch", "fetch a url over http and return the body"),
		simpleTool("db_backup", "dump the database to an archive"),
	}}))

	hits, err := registry.Search(ctx, "download the contents of a url", 2)
	require.NoError(t, err)
	require.NotEmpty(t, hits)
	assert.Equal(t, "http_fetch", hits[0].Tool.Name)
}

func TestRegistryCloseLIFO(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	registry := NewRegistry(nil)

	var closed []string
	for _, name := range []string{"first", "second", "third"} {
		adapter := &fakeAdapter{
			name:   name,
			closed: &closed,
			tools:  []Tool{simpleTool("tool_" + name, "")},
		}
		require.NoError(t, registry.RegisterAdapter(ctx, adapter))
	}

	require.NoError(t, registry.Close())
	assert.Equal(t, []string{"third", "second", "first"}, closed)
	assert.Empty(t, registry.List())
}

func TestRegistryCallWrapsAdapterErrors(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	registry := NewRegistry(nil)

	require.NoError(t, registry.RegisterAdapter(ctx, &fakeAdapter{
		tools: []Tool{simpleTool("flaky", "")},
		err:   assert.AnError,
	}))

	_, err := registry.Call(ctx, "flaky", "", nil)
	assert.True(t, errors.IsCallFailed(err))
}

func TestScopedView(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	registry := NewRegistry(nil)

	require.NoError(t, registry.RegisterAdapter(ctx, &fakeAdapter{
		tools: []Tool{
			simpleTool("visible", "in scope", "recon"),
			simpleTool("hidden", "out of scope", "admin"),
		},
		result: "ok",
	}))

	view := registry.ScopedView("recon")
	assert.Len(t, view.List(), 1)

	_, err := view.Get("hidden")
	assert.True(t, errors.IsNotFound(err))

	_, err = view.Call(ctx, "hidden", "", nil)
	assert.True(t, errors.IsNotFound(err))

	value, err := view.Call(ctx, "visible", "", nil)
	require.NoError(t, err)
	assert.Equal(t, "ok", value)

	hits, err := view.Search(ctx, "scope", 10)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "visible", hits[0].Tool.Name)
}

func TestRegistryCallUnknownCallable(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	registry := NewRegistry(nil)

	tool := simpleTool("multi", "")
	tool.Callables = []Callable{{Name: "a"}}
	require.NoError(t, registry.RegisterAdapter(ctx, &fakeAdapter{tools: []Tool{tool}, result: 1}))

	_, err := registry.Call(ctx, "multi", "b", nil)
	assert.True(t, errors.IsNotFound(err))

	_, err = registry.Call(ctx, "multi", "a", nil)
	assert.NoError(t, err)
}
