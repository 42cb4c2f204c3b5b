package interp

import (
	"fmt"
	"math"
	"sort"

	"go.starlark.net/starlark"
)

// ToGo projects a Starlark value to a JSON-safe Go value: primitives pass
// through, lists/tuples/sets become []any, dicts become map[string]any
// with stringified keys, None becomes nil. Anything without a natural
// projection falls back to its display string.
func ToGo(v starlark.Value) any {
	switch v := v.(type) {
	case starlark.NoneType:
		return nil
	case starlark.Bool:
		return bool(v)
	case starlark.Int:
		if i, ok := v.Int64(); ok {
			return i
		}
		return v.String()
	case starlark.Float:
		return float64(v)
	case starlark.String:
		return string(v)
	case starlark.Bytes:
		return []byte(v)
	case *starlark.List:
		return iterableToSlice(v)
	case starlark.Tuple:
		out := make([]any, len(v))
		for i, elem := range v {
			out[i] = ToGo(elem)
		}
		return out
	case *starlark.Set:
		return iterableToSlice(v)
	case *starlark.Dict:
		out := make(map[string]any, v.Len())
		for _, item := range v.Items() {
			out[dictKey(item[0])] = ToGo(item[1])
		}
		return out
	case starlark.IterableMapping:
		out := map[string]any{}
		iter := v.Iterate()
		defer iter.Done()
		var key starlark.Value
		for iter.Next(&key) {
			if value, found, err := v.Get(key); err == nil && found {
				out[dictKey(key)] = ToGo(value)
			}
		}
		return out
	default:
		return v.String()
	}
}

func dictKey(key starlark.Value) string {
	if s, ok := key.(starlark.String); ok {
		return string(s)
	}
	return key.String()
}

func iterableToSlice(v starlark.Iterable) []any {
	var out []any
	iter := v.Iterate()
	defer iter.Done()
	var elem starlark.Value
	for iter.Next(&elem) {
		out = append(out, ToGo(elem))
	}
	if out == nil {
		out = []any{}
	}
	return out
}

// ToStarlark lifts a JSON-safe Go value into Starlark. Map keys are
// inserted in sorted order so rendering is deterministic.
func ToStarlark(value any) (starlark.Value, error) {
	switch v := value.(type) {
	case nil:
		return starlark.None, nil
	case bool:
		return starlark.Bool(v), nil
	case int:
		return starlark.MakeInt(v), nil
	case int64:
		return starlark.MakeInt64(v), nil
	case float64:
		// JSON decoding gives float64 for every number; keep integral
		// values as ints so user code can index with them.
		if v == math.Trunc(v) && math.Abs(v) < 1e15 {
			return starlark.MakeInt64(int64(v)), nil
		}
		return starlark.Float(v), nil
	case string:
		return starlark.String(v), nil
	case []byte:
		return starlark.Bytes(v), nil
	case []any:
		elems := make([]starlark.Value, len(v))
		for i, elem := range v {
			converted, err := ToStarlark(elem)
			if err != nil {
				return nil, err
			}
			elems[i] = converted
		}
		return starlark.NewList(elems), nil
	case []string:
		elems := make([]starlark.Value, len(v))
		for i, elem := range v {
			elems[i] = starlark.String(elem)
		}
		return starlark.NewList(elems), nil
	case map[string]any:
		dict := starlark.NewDict(len(v))
		keys := make([]string, 0, len(v))
		for key := range v {
			keys = append(keys, key)
		}
		sort.Strings(keys)
		for _, key := range keys {
			converted, err := ToStarlark(v[key])
			if err != nil {
				return nil, err
			}
			if err := dict.SetKey(starlark.String(key), converted); err != nil {
				return nil, err
			}
		}
		return dict, nil
	default:
		return nil, fmt.Errorf("cannot convert %T to starlark", value)
	}
}

// kwargsToMap converts Starlark call kwargs into a JSON-safe args map.
func kwargsToMap(kwargs []starlark.Tuple) map[string]any {
	args := make(map[string]any, len(kwargs))
	for _, pair := range kwargs {
		name, _ := starlark.AsString(pair[0])
		args[name] = ToGo(pair[1])
	}
	return args
}
