package options

import (
	"cmp"
	"slices"

	"github.com/leapstack-labs/leapdash/pkg/core"
)

// CascadeChoices narrows hierarchical columns against each other. Rows are
// filtered by every non-nil selection (a list selection matches any of
// its values) and each column of the hierarchy gets the sorted distinct
// values that remain.
func CascadeChoices(table *core.Table, hierarchy []string, selected map[string]any) map[string][]any {
	var rows []core.Record
	if table != nil {
		rows = table.Rows
	}

	filtered := make([]core.Record, 0, len(rows))
	for _, row := range rows {
		if matches(row, selected) {
			filtered = append(filtered, row)
		}
	}

	out := make(map[string][]any, len(hierarchy))
	for _, col := range hierarchy {
		if !table.HasColumn(col) {
			out[col] = []any{}
			continue
		}
		values := Distinct(&core.Table{Columns: []string{col}, Rows: filtered}, col)
		slices.SortStableFunc(values, compareValues)
		out[col] = values
	}
	return out
}

func matches(row core.Record, selected map[string]any) bool {
	for col, sel := range selected {
		if sel == nil {
			continue
		}
		if list, ok := sel.([]any); ok {
			if len(list) == 0 {
				continue
			}
			if !contains(list, row[col]) {
				return false
			}
			continue
		}
		if core.ValueKey(row[col]) != core.ValueKey(sel) {
			return false
		}
	}
	return true
}

// cascadeChoices applies CascadeChoices to the options of one
// visualization that declare a cascade, ordered by level. Prior
// selections of those options drive the filter.
func cascadeChoices(table *core.Table, opts []core.VisualizationOption, prior core.OptionValues) map[string][]any {
	var members []core.VisualizationOption
	for _, o := range opts {
		if o.Cascade != nil {
			members = append(members, o)
		}
	}
	if len(members) == 0 {
		return nil
	}
	slices.SortStableFunc(members, func(a, b core.VisualizationOption) int {
		return cmp.Compare(a.Cascade.Level, b.Cascade.Level)
	})

	hierarchy := make([]string, 0, len(members))
	selected := make(map[string]any, len(members))
	for _, o := range members {
		hierarchy = append(hierarchy, o.Cascade.Column)
		if v, ok := prior[o.Name]; ok {
			selected[o.Cascade.Column] = v
		}
	}

	// A stale selection would empty every level; drop it and narrow again.
	byColumn := CascadeChoices(table, hierarchy, selected)
	for range members {
		stale := false
		for _, o := range members {
			v, ok := selected[o.Cascade.Column]
			if ok && v != nil && !valid(o, v, Distinct(table, o.Cascade.Column)) {
				delete(selected, o.Cascade.Column)
				stale = true
			}
		}
		if !stale {
			break
		}
		byColumn = CascadeChoices(table, hierarchy, selected)
	}

	out := make(map[string][]any, len(members))
	for _, o := range members {
		out[o.Name] = byColumn[o.Cascade.Column]
	}
	return out
}
