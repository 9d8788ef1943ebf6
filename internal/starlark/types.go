// Package starlark runs visualization snippets in a Starlark sandbox.
//
// A snippet sees the query result as df, the option selections as
// options, and assigns its output to result using the table() or chart()
// builtins. Anything it prints is captured per run.
package starlark

import (
	"encoding/json"
	"fmt"
	"math/big"
	"sort"
	"time"

	"go.starlark.net/starlark"
	"go.starlark.net/starlarkstruct"

	"github.com/leapstack-labs/leapdash/pkg/core"
)

// Struct constructors marking values built by the table and chart builtins.
const (
	tableConstructor = starlark.String("table")
	chartConstructor = starlark.String("chart")
)

// GoToStarlark converts a Go value to a Starlark value.
// Supported: nil, strings, bools, all int and float widths, *big.Int,
// json.Number, time.Time, []byte, []string, []any, map[string]any and
// core.Record. Other values with a String method bind as their string.
func GoToStarlark(v any) (starlark.Value, error) {
	if v == nil {
		return starlark.None, nil
	}

	switch val := v.(type) {
	case string:
		return starlark.String(val), nil

	case []byte:
		return starlark.String(val), nil

	case bool:
		return starlark.Bool(val), nil

	case int:
		return starlark.MakeInt(val), nil
	case int8:
		return starlark.MakeInt64(int64(val)), nil
	case int16:
		return starlark.MakeInt64(int64(val)), nil
	case int32:
		return starlark.MakeInt64(int64(val)), nil
	case int64:
		return starlark.MakeInt64(val), nil
	case uint:
		return starlark.MakeUint(val), nil
	case uint8:
		return starlark.MakeUint64(uint64(val)), nil
	case uint16:
		return starlark.MakeUint64(uint64(val)), nil
	case uint32:
		return starlark.MakeUint64(uint64(val)), nil
	case uint64:
		return starlark.MakeUint64(val), nil

	case float32:
		return starlark.Float(val), nil
	case float64:
		return starlark.Float(val), nil

	case json.Number:
		if i, err := val.Int64(); err == nil {
			return starlark.MakeInt64(i), nil
		}
		f, err := val.Float64()
		if err != nil {
			return nil, fmt.Errorf("invalid number %q", val)
		}
		return starlark.Float(f), nil

	case *big.Int:
		if val == nil {
			return starlark.None, nil
		}
		return starlark.MakeBigInt(val), nil

	case time.Time:
		return starlark.String(val.Format(time.RFC3339)), nil

	case []string:
		list := make([]starlark.Value, len(val))
		for i, s := range val {
			list[i] = starlark.String(s)
		}
		return starlark.NewList(list), nil

	case []any:
		list := make([]starlark.Value, len(val))
		for i, item := range val {
			sv, err := GoToStarlark(item)
			if err != nil {
				return nil, fmt.Errorf("list index %d: %w", i, err)
			}
			list[i] = sv
		}
		return starlark.NewList(list), nil

	case core.Record:
		return GoToStarlark(map[string]any(val))

	case map[string]any:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		dict := starlark.NewDict(len(val))
		for _, k := range keys {
			sv, err := GoToStarlark(val[k])
			if err != nil {
				return nil, fmt.Errorf("dict key %q: %w", k, err)
			}
			if err := dict.SetKey(starlark.String(k), sv); err != nil {
				return nil, fmt.Errorf("dict setkey %q: %w", k, err)
			}
		}
		return dict, nil

	case fmt.Stringer:
		return starlark.String(val.String()), nil

	default:
		return nil, fmt.Errorf("unsupported type: %T", v)
	}
}

// ToGo converts a Starlark value back to a Go value.
// Returns: string, int64, float64, bool, []any, map[string]any, nil, or
// *core.Table / *core.Figure for values built by table() and chart().
func ToGo(v starlark.Value) (any, error) {
	switch val := v.(type) {
	case starlark.NoneType:
		return nil, nil

	case starlark.String:
		return string(val), nil

	case starlark.Int:
		i64, ok := val.Int64()
		if !ok {
			// Fallback for very large integers - convert to string
			return val.String(), nil
		}
		return i64, nil

	case starlark.Float:
		return float64(val), nil

	case starlark.Bool:
		return bool(val), nil

	case *starlark.List:
		return iterableToGo(val, val.Len(), "list")

	case starlark.Tuple:
		return iterableToGo(val, val.Len(), "tuple")

	case *starlark.Dict:
		result := make(map[string]any, val.Len())
		for _, item := range val.Items() {
			key, ok := item[0].(starlark.String)
			if !ok {
				return nil, fmt.Errorf("dict key must be string, got %s", item[0].Type())
			}
			gv, err := ToGo(item[1])
			if err != nil {
				return nil, fmt.Errorf("dict key %q: %w", key, err)
			}
			result[string(key)] = gv
		}
		return result, nil

	case *starlarkstruct.Struct:
		switch val.Constructor() {
		case tableConstructor:
			return structToTable(val)
		case chartConstructor:
			return structToFigure(val)
		}
		d := make(starlark.StringDict)
		val.ToStringDict(d)
		result := make(map[string]any, len(d))
		for k, fv := range d {
			gv, err := ToGo(fv)
			if err != nil {
				return nil, fmt.Errorf("field %q: %w", k, err)
			}
			result[k] = gv
		}
		return result, nil

	default:
		// Try to get a string representation
		return val.String(), nil
	}
}

func iterableToGo(seq starlark.Indexable, n int, what string) ([]any, error) {
	result := make([]any, n)
	for i := range n {
		gv, err := ToGo(seq.Index(i))
		if err != nil {
			return nil, fmt.Errorf("%s index %d: %w", what, i, err)
		}
		result[i] = gv
	}
	return result, nil
}

func structField(s *starlarkstruct.Struct, name string) (any, error) {
	v, err := s.Attr(name)
	if err != nil || v == nil {
		return nil, nil //nolint:nilerr // absent fields are nil
	}
	return ToGo(v)
}

func structToTable(s *starlarkstruct.Struct) (*core.Table, error) {
	cols, err := structField(s, "columns")
	if err != nil {
		return nil, fmt.Errorf("table columns: %w", err)
	}
	rows, err := structField(s, "rows")
	if err != nil {
		return nil, fmt.Errorf("table rows: %w", err)
	}

	t := &core.Table{Columns: []string{}, Rows: []core.Record{}}
	for _, c := range asSlice(cols) {
		name, ok := c.(string)
		if !ok {
			return nil, fmt.Errorf("table column names must be strings, got %T", c)
		}
		t.Columns = append(t.Columns, name)
	}
	for i, r := range asSlice(rows) {
		m, ok := r.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("table row %d must be a dict, got %T", i, r)
		}
		t.Rows = append(t.Rows, core.Record(m))
	}
	return t, nil
}

func structToFigure(s *starlarkstruct.Struct) (*core.Figure, error) {
	f := &core.Figure{}
	var err error
	if f.Data, err = structField(s, "data"); err != nil {
		return nil, fmt.Errorf("chart data: %w", err)
	}
	if f.Layout, err = structField(s, "layout"); err != nil {
		return nil, fmt.Errorf("chart layout: %w", err)
	}
	if f.Config, err = structField(s, "config"); err != nil {
		return nil, fmt.Errorf("chart config: %w", err)
	}
	return f, nil
}

func asSlice(v any) []any {
	if list, ok := v.([]any); ok {
		return list
	}
	return nil
}
