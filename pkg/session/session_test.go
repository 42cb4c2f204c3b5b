package session

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codemode-ai/codemode/pkg/executor"
)

func newBaseDir(t *testing.T) string {
	t.Helper()
	base := t.TempDir()
	toolDoc := `name: greeter
description: Greets people
command: echo
recipes:
  - name: greet
    description: Say hello
    template: ["hello", "{name}"]
`
	require.NoError(t, os.MkdirAll(filepath.Join(base, "tools"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(base, "tools", "greeter.yaml"), []byte(toolDoc), 0o644))
	return base
}

func newSession(t *testing.T) *Session {
	t.Helper()
	ctx := context.Background()
	s, err := FromBase(ctx, newBaseDir(t))
	require.NoError(t, err)
	require.NoError(t, s.Start(ctx))
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestRunBasics(t *testing.T) {
	t.Parallel()
	s := newSession(t)
	ctx := context.Background()

	result, err := s.Run(ctx, "x = 40\nx + 2", 0)
	require.NoError(t, err)
	assert.True(t, result.Success())
	assert.Equal(t, int64(42), result.Value)

	result, err = s.Run(ctx, `print("working")`, 0)
	require.NoError(t, err)
	assert.Equal(t, "working\n", result.Stdout)
}

func TestRunUserFailureIsNotAGoError(t *testing.T) {
	t.Parallel()
	s := newSession(t)

	result, err := s.Run(context.Background(), "undefined_name", 0)
	require.NoError(t, err)
	assert.False(t, result.Success())
	assert.NotEmpty(t, result.Error)
}

func TestToolsAreVisibleToCode(t *testing.T) {
	t.Parallel()
	s := newSession(t)

	result, err := s.Run(context.Background(), `[t["name"] for t in tools.list()]`, 0)
	require.NoError(t, err)
	require.True(t, result.Success(), result.Error)
	assert.Equal(t, []any{"greeter"}, result.Value)
}

func TestSkillRoundTripThroughCode(t *testing.T) {
	t.Parallel()
	s := newSession(t)
	ctx := context.Background()

	result, err := s.Run(ctx, `skills.create("doubler", "def run(n):\n    return n * 2\n", description="Double a number.")`, 0)
	require.NoError(t, err)
	require.True(t, result.Success(), result.Error)

	result, err = s.Run(ctx, `skills.invoke("doubler", n=21)`, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(42), result.Value)

	// Facade sees the same skill.
	skill, err := s.Skills().Get(ctx, "doubler")
	require.NoError(t, err)
	assert.Equal(t, "Double a number.", skill.Description)
}

func TestArtifactsSharedWithFacade(t *testing.T) {
	t.Parallel()
	s := newSession(t)
	ctx := context.Background()

	result, err := s.Run(ctx, `artifacts.save("notes.txt", "remember", description="Notes")`, 0)
	require.NoError(t, err)
	require.True(t, result.Success(), result.Error)

	loaded, err := s.Artifacts().Load(ctx, "notes.txt")
	require.NoError(t, err)
	assert.Equal(t, "remember", loaded)
}

func TestResetKeepsStorage(t *testing.T) {
	t.Parallel()
	s := newSession(t)
	ctx := context.Background()

	_, err := s.Run(ctx, `x = 1
artifacts.save("kept.txt", "data")`, 0)
	require.NoError(t, err)
	require.NoError(t, s.Reset(ctx))

	result, err := s.Run(ctx, "x", 0)
	require.NoError(t, err)
	assert.False(t, result.Success())

	exists, err := s.Artifacts().Exists(ctx, "kept.txt")
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestCloseIsIdempotentAndFinal(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s, err := FromBase(ctx, newBaseDir(t))
	require.NoError(t, err)
	require.NoError(t, s.Start(ctx))

	require.NoError(t, s.Close())
	require.NoError(t, s.Close())

	result, err := s.Run(ctx, "1", 0)
	require.NoError(t, err)
	assert.False(t, result.Success())
	assert.Contains(t, result.Error, "closed")
}

func TestCapabilitiesPassthrough(t *testing.T) {
	t.Parallel()
	s := newSession(t)

	assert.True(t, s.Supports(executor.CapTimeout))
	assert.True(t, s.Supports(executor.CapReset))
	assert.False(t, s.Supports(executor.CapProcessIsolation))
	assert.NotEmpty(t, s.Capabilities())
}

func TestWithHelper(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s, err := FromBase(ctx, newBaseDir(t))
	require.NoError(t, err)

	ran := false
	err = With(ctx, s, func(s *Session) error {
		ran = true
		result, err := s.Run(ctx, "2 + 2", 0)
		if err != nil {
			return err
		}
		assert.Equal(t, int64(4), result.Value)
		return nil
	})
	require.NoError(t, err)
	assert.True(t, ran)

	// With closed the session on the way out.
	result, err := s.Run(ctx, "1", 0)
	require.NoError(t, err)
	assert.Contains(t, result.Error, "closed")
}

func TestInstallDepsWithoutManager(t *testing.T) {
	t.Parallel()
	s := newSession(t)

	_, err := s.InstallDeps(context.Background(), []string{"requests"})
	assert.Error(t, err)
}
