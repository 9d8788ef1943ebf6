package starlark

import (
	"encoding/json"
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.starlark.net/starlark"

	"github.com/leapstack-labs/leapdash/pkg/core"
)

func TestGoToStarlark(t *testing.T) {
	tests := []struct {
		name    string
		input   any
		wantStr string
		wantErr bool
	}{
		{
			name:    "string",
			input:   "hello",
			wantStr: `"hello"`,
		},
		{
			name:    "int",
			input:   42,
			wantStr: "42",
		},
		{
			name:    "int64",
			input:   int64(123456789),
			wantStr: "123456789",
		},
		{
			name:    "float64",
			input:   3.14,
			wantStr: "3.14",
		},
		{
			name:    "bool true",
			input:   true,
			wantStr: "True",
		},
		{
			name:    "bool false",
			input:   false,
			wantStr: "False",
		},
		{
			name:    "nil",
			input:   nil,
			wantStr: "None",
		},
		{
			name:    "string slice",
			input:   []string{"a", "b", "c"},
			wantStr: `["a", "b", "c"]`,
		},
		{
			name:    "empty string slice",
			input:   []string{},
			wantStr: "[]",
		},
		{
			name:    "any slice",
			input:   []any{"x", 1, true},
			wantStr: `["x", 1, True]`,
		},
		{
			name:    "map",
			input:   map[string]any{"key": "value"},
			wantStr: `{"key": "value"}`,
		},
		{
			name:    "map keys sorted",
			input:   map[string]any{"b": 1, "a": 2},
			wantStr: `{"a": 2, "b": 1}`,
		},
		{
			name:    "int32",
			input:   int32(7),
			wantStr: "7",
		},
		{
			name:    "json number",
			input:   json.Number("12"),
			wantStr: "12",
		},
		{
			name:    "bytes",
			input:   []byte("raw"),
			wantStr: `"raw"`,
		},
		{
			name:    "time",
			input:   time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC),
			wantStr: `"2024-01-02T03:04:05Z"`,
		},
		{
			name:    "record",
			input:   core.Record{"region": "East"},
			wantStr: `{"region": "East"}`,
		},
		{
			name:    "hugeint sum",
			input:   big.NewInt(42),
			wantStr: "42",
		},
		{
			name:    "big int beyond int64",
			input:   mustBigInt("170141183460469231731687303715884105727"),
			wantStr: "170141183460469231731687303715884105727",
		},
		{
			name:    "stringer",
			input:   weekday(2),
			wantStr: `"Tuesday"`,
		},
		{
			name:    "unsupported",
			input:   struct{}{},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := GoToStarlark(tt.input)
			if tt.wantErr {
				assert.Error(t, err, "expected error")
				return
			}
			require.NoError(t, err, "unexpected error")
			assert.Equal(t, tt.wantStr, got.String(), "GoToStarlark()")
		})
	}
}

type weekday int

func (d weekday) String() string { return time.Weekday(d).String() }

func mustBigInt(s string) *big.Int {
	b, ok := new(big.Int).SetString(s, 10)
	if !ok {
		panic("bad integer " + s)
	}
	return b
}

func TestToGo(t *testing.T) {
	tests := []struct {
		name    string
		input   starlark.Value
		want    any
		wantErr bool
	}{
		{
			name:  "string",
			input: starlark.String("hello"),
			want:  "hello",
		},
		{
			name:  "int",
			input: starlark.MakeInt(42),
			want:  int64(42),
		},
		{
			name:  "float",
			input: starlark.Float(3.14),
			want:  3.14,
		},
		{
			name:  "bool true",
			input: starlark.Bool(true),
			want:  true,
		},
		{
			name:  "bool false",
			input: starlark.Bool(false),
			want:  false,
		},
		{
			name:  "none",
			input: starlark.None,
			want:  nil,
		},
		{
			name:  "list",
			input: starlark.NewList([]starlark.Value{starlark.String("a"), starlark.MakeInt(1)}),
			want:  []any{"a", int64(1)},
		},
		{
			name:  "tuple",
			input: starlark.Tuple{starlark.Bool(true)},
			want:  []any{true},
		},
		{
			name:  "dict",
			input: dictOf(t, map[string]starlark.Value{"k": starlark.Float(1.5)}),
			want:  map[string]any{"k": 1.5},
		},
		{
			name:    "dict with int key",
			input:   intKeyDict(t),
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ToGo(tt.input)
			if tt.wantErr {
				assert.Error(t, err, "expected error")
				return
			}
			require.NoError(t, err, "unexpected error")
			assert.Equal(t, tt.want, got, "ToGo()")
		})
	}
}

func dictOf(t *testing.T, m map[string]starlark.Value) *starlark.Dict {
	t.Helper()
	d := starlark.NewDict(len(m))
	for k, v := range m {
		require.NoError(t, d.SetKey(starlark.String(k), v))
	}
	return d
}

func intKeyDict(t *testing.T) *starlark.Dict {
	t.Helper()
	d := starlark.NewDict(1)
	require.NoError(t, d.SetKey(starlark.MakeInt(1), starlark.None))
	return d
}
