// Package options derives the choices and selections of visualization
// options from a query result.
package options

import (
	"cmp"
	"encoding/json"
	"slices"

	"github.com/leapstack-labs/leapdash/pkg/core"
)

// Inferred is the computed state of one option: what can be picked and
// what is picked.
type Inferred struct {
	Choices []any `json:"choices"`
	Default any   `json:"default"`
}

// Infer computes choices and selections for every option of one
// visualization. Column-sourced choices are the distinct non-null values
// of the column in first-seen order; a missing column yields no choices.
// Options that take part in a cascade get the sorted values left after
// filtering rows by the other cascade selections.
//
// A prior selection survives only if every selected value is still a
// choice. Otherwise the option resets to its declared default when that
// is valid, then to the first choice (single) or nothing (multiple).
func Infer(table *core.Table, opts []core.VisualizationOption, prior core.OptionValues) map[string]Inferred {
	out := make(map[string]Inferred, len(opts))

	cascaded := cascadeChoices(table, opts, prior)

	for _, opt := range opts {
		var choices []any
		if c, ok := cascaded[opt.Name]; ok {
			choices = c
		} else {
			choices = sourceChoices(table, opt.Source)
		}

		sel, ok := prior[opt.Name]
		if ok && valid(opt, sel, choices) {
			out[opt.Name] = Inferred{Choices: choices, Default: selection(opt, sel)}
			continue
		}
		out[opt.Name] = Inferred{Choices: choices, Default: fallback(opt, choices)}
	}
	return out
}

// Selections returns just the selected values of an inference.
func Selections(inferred map[string]Inferred) core.OptionValues {
	out := make(core.OptionValues, len(inferred))
	for name, inf := range inferred {
		out[name] = inf.Default
	}
	return out
}

func sourceChoices(table *core.Table, src core.OptionSource) []any {
	switch s := src.(type) {
	case core.ColumnSource:
		return Distinct(table, s.Column)
	case core.ListSource:
		return slices.Clone(s.Choices)
	default:
		return []any{}
	}
}

// Distinct returns the distinct non-null values of a column in order of
// first occurrence.
func Distinct(table *core.Table, column string) []any {
	out := []any{}
	if !table.HasColumn(column) {
		return out
	}
	seen := make(map[string]struct{})
	for _, row := range table.Rows {
		v := row[column]
		if v == nil {
			continue
		}
		k := core.ValueKey(v)
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, v)
	}
	return out
}

func valid(opt core.VisualizationOption, sel any, choices []any) bool {
	if opt.Multiple {
		for _, v := range asList(sel) {
			if !contains(choices, v) {
				return false
			}
		}
		return true
	}
	if sel == nil {
		return false
	}
	return contains(choices, sel)
}

func selection(opt core.VisualizationOption, sel any) any {
	if opt.Multiple {
		return asList(sel)
	}
	return sel
}

func fallback(opt core.VisualizationOption, choices []any) any {
	if opt.Default != nil && valid(opt, opt.Default, choices) {
		return selection(opt, opt.Default)
	}
	if opt.Multiple {
		return []any{}
	}
	if len(choices) > 0 {
		return choices[0]
	}
	return nil
}

func asList(v any) []any {
	switch x := v.(type) {
	case nil:
		return []any{}
	case []any:
		return slices.Clone(x)
	case []string:
		out := make([]any, len(x))
		for i, s := range x {
			out[i] = s
		}
		return out
	default:
		return []any{x}
	}
}

func contains(list []any, v any) bool {
	k := core.ValueKey(v)
	return slices.ContainsFunc(list, func(e any) bool { return core.ValueKey(e) == k })
}

// compareValues orders numbers numerically and everything else by its
// canonical key. Numbers sort before other values.
func compareValues(a, b any) int {
	fa, aok := number(a)
	fb, bok := number(b)
	switch {
	case aok && bok:
		return cmp.Compare(fa, fb)
	case aok:
		return -1
	case bok:
		return 1
	}
	return cmp.Compare(core.ValueKey(a), core.ValueKey(b))
}

func number(v any) (float64, bool) {
	switch x := v.(type) {
	case int:
		return float64(x), true
	case int8:
		return float64(x), true
	case int16:
		return float64(x), true
	case int32:
		return float64(x), true
	case int64:
		return float64(x), true
	case uint:
		return float64(x), true
	case uint8:
		return float64(x), true
	case uint16:
		return float64(x), true
	case uint32:
		return float64(x), true
	case uint64:
		return float64(x), true
	case float32:
		return float64(x), true
	case float64:
		return x, true
	case json.Number:
		f, err := x.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}
