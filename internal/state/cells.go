package state

import (
	"encoding/json"
	"math"
	"math/big"
	"strconv"
	"strings"
	"time"

	"github.com/leapstack-labs/leapdash/pkg/core"
)

// encodeRows rewrites cells into their persisted form. Floats always
// carry a fraction or exponent so they decode as floats, and times use
// the layout snippets are given.
func encodeRows(rows []core.Record) []core.Record {
	out := make([]core.Record, len(rows))
	for i, r := range rows {
		out[i] = core.Record(encodeMap(r))
	}
	return out
}

func encodeMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = encodeCell(v)
	}
	return out
}

func encodeCell(v any) any {
	switch x := v.(type) {
	case float64:
		return floatNumber(x)
	case float32:
		return floatNumber(float64(x))
	case time.Time:
		return x.Format(time.RFC3339)
	case []byte:
		return string(x)
	case core.Record:
		return encodeMap(x)
	case map[string]any:
		return encodeMap(x)
	case []any:
		out := make([]any, len(x))
		for i, e := range x {
			out[i] = encodeCell(e)
		}
		return out
	default:
		return v
	}
}

// floatNumber renders f so it cannot be mistaken for an integer.
// JSON has no non-finite numbers; those persist as null.
func floatNumber(f float64) any {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return nil
	}
	s := strconv.FormatFloat(f, 'g', -1, 64)
	if !strings.ContainsAny(s, ".eE") {
		s += ".0"
	}
	return json.Number(s)
}

// decodeRows turns json.Number cells back into int64, float64 or, for
// integers beyond int64, *big.Int.
func decodeRows(rows []core.Record) {
	for _, r := range rows {
		decodeMap(r)
	}
}

func decodeMap(m map[string]any) {
	for k, v := range m {
		m[k] = decodeCell(v)
	}
}

func decodeCell(v any) any {
	switch x := v.(type) {
	case json.Number:
		s := x.String()
		if strings.ContainsAny(s, ".eE") {
			if f, err := x.Float64(); err == nil {
				return f
			}
			return s
		}
		if i, err := x.Int64(); err == nil {
			return i
		}
		if b, ok := new(big.Int).SetString(s, 10); ok {
			return b
		}
		return s
	case map[string]any:
		decodeMap(x)
		return x
	case []any:
		for i, e := range x {
			x[i] = decodeCell(e)
		}
		return x
	default:
		return v
	}
}
