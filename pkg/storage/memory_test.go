package storage

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryDepsStore(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryDepsStore()

	pkgs, err := store.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, pkgs)

	require.NoError(t, store.Add(ctx, "requests>=2.0"))
	require.NoError(t, store.Add(ctx, "numpy"))
	require.NoError(t, store.Add(ctx, "numpy")) // idempotent

	pkgs, err = store.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"numpy", "requests>=2.0"}, pkgs)

	removed, err := store.Remove(ctx, "numpy")
	require.NoError(t, err)
	assert.True(t, removed)

	removed, err = store.Remove(ctx, "numpy")
	require.NoError(t, err)
	assert.False(t, removed)

	assert.Equal(t, "<memory>", store.Path())
}
