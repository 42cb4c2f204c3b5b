package storage

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codemode-ai/codemode/pkg/errors"
)

func TestFileBackendFreshDirectory(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	// The base directory does not exist yet; every operation must work
	// without an explicit bootstrap step.
	base := filepath.Join(t.TempDir(), "store")
	backend := NewFileBackend(base)

	tools, err := backend.ToolStore().List(ctx)
	require.NoError(t, err)
	assert.Empty(t, tools)

	skills, err := backend.SkillStore().List(ctx)
	require.NoError(t, err)
	assert.Empty(t, skills)

	artifacts, err := backend.ArtifactStore().List(ctx)
	require.NoError(t, err)
	assert.Empty(t, artifacts)

	deps, err := backend.DepsStore().List(ctx)
	require.NoError(t, err)
	assert.Empty(t, deps)
}

func TestFileToolStoreRoundTrip(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := NewFileBackend(t.TempDir()).ToolStore()

	doc := []byte("type: cli\ndescription: list files\ncommand: ls\n")
	require.NoError(t, store.Put(ctx, "list_files", doc))

	spec, err := store.Get(ctx, "list_files")
	require.NoError(t, err)
	assert.Equal(t, "list_files", spec.Name)
	assert.Equal(t, doc, spec.Raw)

	specs, err := store.List(ctx)
	require.NoError(t, err)
	require.Len(t, specs, 1)
	assert.Equal(t, "list_files", specs[0].Name)

	require.NoError(t, store.Delete(ctx, "list_files"))
	_, err = store.Get(ctx, "list_files")
	assert.True(t, errors.IsNotFound(err))
	assert.True(t, errors.IsNotFound(store.Delete(ctx, "list_files")))
}

func TestFileSkillStoreDocstringDescription(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := NewFileBackend(t.TempDir()).SkillStore()

	source := "\"\"\"Summarize scan output.\n\nLonger explanation here.\n\"\"\"\n\ndef run(text):\n    return text\n"
	require.NoError(t, store.Put(ctx, SkillRecord{Name: "summarize", Source: source}))

	rec, err := store.Get(ctx, "summarize")
	require.NoError(t, err)
	assert.Equal(t, "Summarize scan output.", rec.Description)
	assert.Equal(t, source, rec.Source)

	// No docstring means no description; the source is still intact.
	bare := "def run():\n    return 1\n"
	require.NoError(t, store.Put(ctx, SkillRecord{Name: "bare", Source: bare}))
	rec, err = store.Get(ctx, "bare")
	require.NoError(t, err)
	assert.Empty(t, rec.Description)
}

func TestFileArtifactRoundTrip(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := NewFileBackend(t.TempDir()).ArtifactStore()

	tests := []struct {
		name string
		data any
		typ  string
	}{
		{"blob.bin", []byte{0x00, 0xff, 0x10}, ArtifactTypeBytes},
		{"notes.txt", "plain text", ArtifactTypeText},
		{"result.json", map[string]any{"hosts": []any{"a", "b"}, "count": float64(2)}, ArtifactTypeJSON},
	}
	for _, tc := range tests {
		meta, err := store.Save(ctx, tc.name, tc.data, "desc "+tc.name, map[string]any{"k": "v"})
		require.NoError(t, err)
		assert.Equal(t, tc.typ, meta.Type)

		loaded, err := store.Load(ctx, tc.name)
		require.NoError(t, err)
		assert.Equal(t, tc.data, loaded, "artifact %q should round-trip in its saved form", tc.name)
	}

	artifacts, err := store.List(ctx)
	require.NoError(t, err)
	assert.Len(t, artifacts, 3)
}

func TestFileArtifactNestedNames(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := NewFileBackend(t.TempDir()).ArtifactStore()

	_, err := store.Save(ctx, "scans/web/nmap.json", map[string]any{"open": float64(80)}, "", nil)
	require.NoError(t, err)

	ok, err := store.Exists(ctx, "scans/web/nmap.json")
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, store.Delete(ctx, "scans/web/nmap.json"))
	ok, err = store.Exists(ctx, "scans/web/nmap.json")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestFileArtifactRejectsTraversal(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := NewFileBackend(t.TempDir()).ArtifactStore()

	for _, name := range []string{"../outside", "/abs/path", "a/../../b"} {
		_, err := store.Save(ctx, name, "x", "", nil)
		assert.True(t, errors.IsInvalidName(err), "name %q should be rejected", name)
		_, err = store.Load(ctx, name)
		assert.True(t, errors.IsInvalidName(err))
	}
}

func TestFileArtifactGetMissingReturnsNil(t *testing.T) {
	t.Parallel()
	store := NewFileBackend(t.TempDir()).ArtifactStore()

	meta, err := store.Get(context.Background(), "nope")
	require.NoError(t, err)
	assert.Nil(t, meta)
}

func TestFileArtifactCorruptIndexTreatedEmpty(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	base := t.TempDir()
	backend := NewFileBackend(base)
	store := backend.ArtifactStore()

	_, err := store.Save(ctx, "a.txt", "hello", "", nil)
	require.NoError(t, err)

	dir := backend.Access().File.ArtifactsPath
	require.NoError(t, os.WriteFile(filepath.Join(dir, artifactIndexFile), []byte("{not json"), 0o600))

	artifacts, err := store.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, artifacts)

	// A new save rebuilds a valid index.
	_, err = store.Save(ctx, "b.txt", "world", "", nil)
	require.NoError(t, err)
	artifacts, err = store.List(ctx)
	require.NoError(t, err)
	assert.Len(t, artifacts, 1)
}

func TestFileDepsStore(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := NewFileBackend(t.TempDir()).DepsStore()

	require.NoError(t, store.Add(ctx, "requests"))
	require.NoError(t, store.Add(ctx, "numpy>=1.0"))
	require.NoError(t, store.Add(ctx, "requests")) // idempotent

	pkgs, err := store.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"requests", "numpy>=1.0"}, pkgs)

	removed, err := store.Remove(ctx, "requests")
	require.NoError(t, err)
	assert.True(t, removed)

	removed, err = store.Remove(ctx, "requests")
	require.NoError(t, err)
	assert.False(t, removed)

	pkgs, err = store.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"numpy>=1.0"}, pkgs)
}

func TestFileAccessRoundTrip(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	base := t.TempDir()
	backend := NewFileBackend(base)
	require.NoError(t, backend.SkillStore().Put(ctx, SkillRecord{Name: "s", Source: "def run():\n    return 1\n"}))

	reopened, err := OpenAccess(backend.Access())
	require.NoError(t, err)
	rec, err := reopened.SkillStore().Get(ctx, "s")
	require.NoError(t, err)
	assert.Equal(t, "def run():\n    return 1\n", rec.Source)
}

func TestDocstring(t *testing.T) {
	t.Parallel()

	tests := []struct {
		source string
		want   string
	}{
		{`"""One line."""`, "One line."},
		{"\"\"\"First.\nSecond.\n\"\"\"", "First."},
		{"\n  \"\"\"Indented.\"\"\"\n", "Indented."},
		{"def run():\n    pass\n", ""},
		{`"""unterminated`, ""},
		{"", ""},
	}
	for _, tc := range tests {
		assert.Equal(t, tc.want, Docstring(tc.source))
	}
}
