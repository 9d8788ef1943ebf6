package core

import (
	"encoding/json"
	"maps"
	"slices"
	"time"
)

// Record is one result row keyed by column name.
type Record map[string]any

// Table is an ordered tabular result: column names plus rows.
type Table struct {
	Columns []string `json:"columns"`
	Rows    []Record `json:"rows"`
}

// HasColumn reports whether the table has the named column.
func (t *Table) HasColumn(name string) bool {
	return t != nil && slices.Contains(t.Columns, name)
}

// Len returns the number of rows.
func (t *Table) Len() int {
	if t == nil {
		return 0
	}
	return len(t.Rows)
}

// Clone returns a copy of the table whose rows can be mutated freely.
// Cell values are scalars, so a per-row map copy is a full copy.
func (t *Table) Clone() *Table {
	if t == nil {
		return nil
	}
	out := &Table{
		Columns: slices.Clone(t.Columns),
		Rows:    make([]Record, len(t.Rows)),
	}
	for i, r := range t.Rows {
		out.Rows[i] = maps.Clone(r)
	}
	return out
}

// CacheEntry is the immutable cached result of one processed query.
type CacheEntry struct {
	Hash      string    `json:"hash"`
	Query     string    `json:"query"`
	Table     *Table    `json:"table"`
	CreatedAt time.Time `json:"created_at"`
}

// Figure is a chart definition passed through verbatim.
type Figure struct {
	Data   any `json:"data"`
	Layout any `json:"layout"`
	Config any `json:"config"`
}

// ResultKind classifies what a snippet produced.
type ResultKind string

// Result kinds.
const (
	ResultTable ResultKind = "table"
	ResultChart ResultKind = "chart"
)

// Result is the classified output of one transformation run. A table
// result always carries its columns and records keys, even when empty;
// a chart result carries neither.
type Result struct {
	Kind        ResultKind `json:"kind"`
	Columns     []string   `json:"columns"`
	Records     []Record   `json:"records"`
	Chart       *Figure    `json:"chart,omitempty"`
	PrintOutput string     `json:"print_output"`
}

// MarshalJSON implements json.Marshaler.
func (r Result) MarshalJSON() ([]byte, error) {
	type wire struct {
		Kind        ResultKind `json:"kind"`
		Columns     *[]string  `json:"columns,omitempty"`
		Records     *[]Record  `json:"records,omitempty"`
		Chart       *Figure    `json:"chart,omitempty"`
		PrintOutput string     `json:"print_output"`
	}
	w := wire{Kind: r.Kind, Chart: r.Chart, PrintOutput: r.PrintOutput}
	if r.Kind == ResultTable {
		cols, recs := r.Columns, r.Records
		if cols == nil {
			cols = []string{}
		}
		if recs == nil {
			recs = []Record{}
		}
		w.Columns, w.Records = &cols, &recs
	}
	return json.Marshal(w)
}

// VizOutcome is the per-visualization result of a dashboard run. Exactly
// one of Result and Err is set.
type VizOutcome struct {
	Index  int
	Title  string
	Result *Result
	Err    error
}

// Snapshot is an immutable, independently replayable copy of a
// dashboard's executed state.
type Snapshot struct {
	ID             string          `json:"id"`
	CreatedAt      time.Time       `json:"created_at"`
	ParamValues    ParamValues     `json:"param_values"`
	OptionValues   AllOptionValues `json:"option_values"`
	Dashboard      Dashboard       `json:"dashboard"`
	ProcessedQuery string          `json:"processed_query"`
	Hash           string          `json:"hash"`
	Table          *Table          `json:"table"`
}
