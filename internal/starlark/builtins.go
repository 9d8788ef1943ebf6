package starlark

import (
	"fmt"

	starjson "go.starlark.net/lib/json"
	starmath "go.starlark.net/lib/math"
	"go.starlark.net/starlark"
	"go.starlark.net/starlarkstruct"

	"github.com/leapstack-labs/leapdash/pkg/core"
)

// ResultVar is the global a snippet assigns its output to.
const ResultVar = "result"

// Predeclared returns the globals visible to a snippet:
// df, options, table, chart, struct, json and math.
func Predeclared(b core.Bindings) (starlark.StringDict, error) {
	df, err := TableToStarlark(b.Table)
	if err != nil {
		return nil, fmt.Errorf("bind df: %w", err)
	}
	opts, err := GoToStarlark(map[string]any(b.Options))
	if err != nil {
		return nil, fmt.Errorf("bind options: %w", err)
	}

	return starlark.StringDict{
		"df":      df,
		"options": opts,
		"table":   starlark.NewBuiltin("table", tableBuiltin),
		"chart":   starlark.NewBuiltin("chart", chartBuiltin),
		"struct":  starlark.NewBuiltin("struct", starlarkstruct.Make),
		"json":    starjson.Module,
		"math":    starmath.Module,
	}, nil
}

// TableToStarlark exposes a table as a struct with columns, rows (dicts
// keyed in column order) and a column(name) helper.
func TableToStarlark(t *core.Table) (starlark.Value, error) {
	if t == nil {
		t = &core.Table{}
	}

	cols := make([]starlark.Value, len(t.Columns))
	for i, c := range t.Columns {
		cols[i] = starlark.String(c)
	}

	rows := make([]starlark.Value, len(t.Rows))
	for i, r := range t.Rows {
		d := starlark.NewDict(len(t.Columns))
		for _, c := range t.Columns {
			v, err := GoToStarlark(r[c])
			if err != nil {
				return nil, fmt.Errorf("row %d column %q: %w", i, c, err)
			}
			if err := d.SetKey(starlark.String(c), v); err != nil {
				return nil, err
			}
		}
		rows[i] = d
	}
	rowList := starlark.NewList(rows)

	column := starlark.NewBuiltin("column", func(_ *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		var name string
		if err := starlark.UnpackPositionalArgs(fn.Name(), args, kwargs, 1, &name); err != nil {
			return nil, err
		}
		if !t.HasColumn(name) {
			return nil, fmt.Errorf("%s: no column %q", fn.Name(), name)
		}
		out := make([]starlark.Value, rowList.Len())
		for i := range rowList.Len() {
			v, _, err := rowList.Index(i).(*starlark.Dict).Get(starlark.String(name))
			if err != nil {
				return nil, err
			}
			out[i] = v
		}
		return starlark.NewList(out), nil
	})

	return starlarkstruct.FromStringDict(starlark.String("df"), starlark.StringDict{
		"columns": starlark.NewList(cols),
		"rows":    rowList,
		"column":  column,
	}), nil
}

// tableBuiltin implements table(rows, columns=None). Without columns the
// order is the first-seen order of row keys.
func tableBuiltin(_ *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var rows *starlark.List
	var columns *starlark.List
	if err := starlark.UnpackArgs(fn.Name(), args, kwargs, "rows", &rows, "columns?", &columns); err != nil {
		return nil, err
	}

	var derived []starlark.Value
	seen := make(map[string]bool)
	for i := range rows.Len() {
		d, ok := rows.Index(i).(*starlark.Dict)
		if !ok {
			return nil, fmt.Errorf("%s: row %d must be a dict, got %s", fn.Name(), i, rows.Index(i).Type())
		}
		for _, k := range d.Keys() {
			ks, ok := k.(starlark.String)
			if !ok {
				return nil, fmt.Errorf("%s: row %d has non-string key %s", fn.Name(), i, k)
			}
			if !seen[string(ks)] {
				seen[string(ks)] = true
				derived = append(derived, ks)
			}
		}
	}

	if columns == nil {
		columns = starlark.NewList(derived)
	}
	for i := range columns.Len() {
		if _, ok := columns.Index(i).(starlark.String); !ok {
			return nil, fmt.Errorf("%s: column names must be strings, got %s", fn.Name(), columns.Index(i).Type())
		}
	}

	return starlarkstruct.FromStringDict(tableConstructor, starlark.StringDict{
		"columns": columns,
		"rows":    rows,
	}), nil
}

// chartBuiltin implements chart(data, layout=None, config=None).
func chartBuiltin(_ *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var data starlark.Value
	var layout, config starlark.Value = starlark.None, starlark.None
	if err := starlark.UnpackArgs(fn.Name(), args, kwargs, "data", &data, "layout?", &layout, "config?", &config); err != nil {
		return nil, err
	}
	return starlarkstruct.FromStringDict(chartConstructor, starlark.StringDict{
		"data":   data,
		"layout": layout,
		"config": config,
	}), nil
}
