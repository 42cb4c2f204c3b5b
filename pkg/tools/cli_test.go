package tools

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codemode-ai/codemode/pkg/errors"
)

func TestCLIAdapterRecipes(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	adapter, err := NewCLIAdapter([]CLIToolConfig{{
		Name:        "echoer",
		Description: "echoes its input",
		Command:     "echo",
		Recipes: []CLIRecipe{
			{Name: "say", Template: []string{"{message}"}},
			{Name: "greet", Template: []string{"hello", "{name}"}},
		},
	}})
	require.NoError(t, err)

	toolList, err := adapter.Tools(ctx)
	require.NoError(t, err)
	require.Len(t, toolList, 1)
	require.Len(t, toolList[0].Callables, 2)
	assert.Equal(t, []Param{{Name: "message", Required: true}}, toolList[0].Callables[0].Params)

	value, err := adapter.Call(ctx, "echoer", "say", map[string]any{"message": "ping"})
	require.NoError(t, err)
	assert.Equal(t, "ping", value)

	value, err = adapter.Call(ctx, "echoer", "greet", map[string]any{"name": "mallory"})
	require.NoError(t, err)
	assert.Equal(t, "hello mallory", value)
}

func TestCLIAdapterMissingArgument(t *testing.T) {
	t.Parallel()

	adapter, err := NewCLIAdapter([]CLIToolConfig{{
		Name:    "echoer",
		Command: "echo",
		Recipes: []CLIRecipe{{Name: "say", Template: []string{"{message}"}}},
	}})
	require.NoError(t, err)

	_, err = adapter.Call(context.Background(), "echoer", "say", map[string]any{})
	assert.True(t, errors.IsCallFailed(err))
	assert.Contains(t, err.Error(), "message")
}

func TestCLIAdapterUnknownRecipe(t *testing.T) {
	t.Parallel()

	adapter, err := NewCLIAdapter([]CLIToolConfig{{Name: "echoer", Command: "echo"}})
	require.NoError(t, err)

	_, err = adapter.Call(context.Background(), "echoer", "nope", nil)
	assert.True(t, errors.IsNotFound(err))
}

func TestCLIAdapterJSONOutputDecoded(t *testing.T) {
	t.Parallel()

	adapter, err := NewCLIAdapter([]CLIToolConfig{{
		Name:    "jsonner",
		Command: "echo",
		Args:    []string{`{"port": 80, "open": true}`},
	}})
	require.NoError(t, err)

	value, err := adapter.Call(context.Background(), "jsonner", "", nil)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"port": float64(80), "open": true}, value)
}

func TestCLIAdapterCommandFailure(t *testing.T) {
	t.Parallel()

	adapter, err := NewCLIAdapter([]CLIToolConfig{{Name: "fails", Command: "false"}})
	require.NoError(t, err)

	_, err = adapter.Call(context.Background(), "fails", "", nil)
	assert.True(t, errors.IsCallFailed(err))
}

func TestCLIAdapterEscapeHatchFlags(t *testing.T) {
	t.Parallel()

	adapter, err := NewCLIAdapter([]CLIToolConfig{{Name: "flagger", Command: "echo"}})
	require.NoError(t, err)

	value, err := adapter.Call(context.Background(), "flagger", "", map[string]any{"b": "2", "a": "1"})
	require.NoError(t, err)
	assert.Equal(t, "--a 1 --b 2", value)
}

func TestCLIAdapterValidation(t *testing.T) {
	t.Parallel()

	_, err := NewCLIAdapter([]CLIToolConfig{{Command: "echo"}})
	assert.True(t, errors.IsInvalidName(err))

	_, err = NewCLIAdapter([]CLIToolConfig{{Name: "nocmd"}})
	assert.True(t, errors.IsMisconfigured(err))

	_, err = NewCLIAdapter([]CLIToolConfig{
		{Name: "dup", Command: "echo"},
		{Name: "dup", Command: "echo"},
	})
	assert.True(t, errors.IsAlreadyExists(err))
}

func TestPlaceholders(t *testing.T) {
	t.Parallel()

	assert.Equal(t, []string{"a", "b"}, placeholders("{a}-{b}"))
	assert.Empty(t, placeholders("plain"))
	assert.Empty(t, placeholders("{unclosed"))
}
