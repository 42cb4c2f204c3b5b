package interp

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.starlark.net/starlark"
)

func TestToGoProjection(t *testing.T) {
	t.Parallel()

	list := starlark.NewList([]starlark.Value{starlark.MakeInt(1), starlark.String("a")})
	dict := starlark.NewDict(1)
	require.NoError(t, dict.SetKey(starlark.String("k"), starlark.Float(1.5)))
	set := starlark.NewSet(1)
	require.NoError(t, set.Insert(starlark.MakeInt(3)))

	assert.Nil(t, ToGo(starlark.None))
	assert.Equal(t, true, ToGo(starlark.True))
	assert.Equal(t, int64(7), ToGo(starlark.MakeInt(7)))
	assert.Equal(t, 2.5, ToGo(starlark.Float(2.5)))
	assert.Equal(t, "s", ToGo(starlark.String("s")))
	assert.Equal(t, []byte("b"), ToGo(starlark.Bytes("b")))
	assert.Equal(t, []any{int64(1), "a"}, ToGo(list))
	assert.Equal(t, map[string]any{"k": 1.5}, ToGo(dict))
	assert.Equal(t, []any{int64(3)}, ToGo(set))
	assert.Equal(t, []any{int64(1), int64(2)}, ToGo(starlark.Tuple{starlark.MakeInt(1), starlark.MakeInt(2)}))

	// No natural projection: display string fallback.
	assert.Contains(t, ToGo(sleepBuiltin()), "sleep")
}

func TestToStarlarkRoundTrip(t *testing.T) {
	t.Parallel()

	input := map[string]any{
		"n":     float64(3),
		"pi":    3.14,
		"ok":    true,
		"name":  "x",
		"items": []any{float64(1), "two", nil},
		"inner": map[string]any{"deep": float64(9)},
	}
	v, err := ToStarlark(input)
	require.NoError(t, err)

	back := ToGo(v)
	assert.Equal(t, map[string]any{
		"n":     int64(3),
		"pi":    3.14,
		"ok":    true,
		"name":  "x",
		"items": []any{int64(1), "two", nil},
		"inner": map[string]any{"deep": int64(9)},
	}, back)
}

func TestToStarlarkRejectsUnknownTypes(t *testing.T) {
	t.Parallel()

	_, err := ToStarlark(struct{ X int }{1})
	assert.Error(t, err)
}
