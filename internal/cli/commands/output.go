package commands

import (
	"encoding/json"
	"fmt"
	"io"
	"slices"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"github.com/leapstack-labs/leapdash/pkg/core"
)

// Output formats.
const (
	FormatTable    = "table"
	FormatJSON     = "json"
	FormatCSV      = "csv"
	FormatMarkdown = "md"
)

var formats = []string{FormatTable, FormatJSON, FormatCSV, FormatMarkdown, "markdown"}

func checkFormat(format string) error {
	if !slices.Contains(formats, format) {
		return fmt.Errorf("unknown format %q (want table, json, csv or md)", format)
	}
	return nil
}

// renderTable writes columns and records in format.
func renderTable(w io.Writer, cols []string, records []core.Record, format string) error {
	switch format {
	case FormatJSON:
		if records == nil {
			records = []core.Record{}
		}
		return renderJSON(w, records)
	case FormatCSV:
		return renderCSV(w, cols, records)
	case FormatMarkdown, "markdown":
		return renderMarkdown(w, cols, records)
	default:
		return renderPretty(w, cols, records)
	}
}

func renderPretty(w io.Writer, cols []string, records []core.Record) error {
	if len(records) == 0 {
		_, _ = fmt.Fprintln(w, "(0 rows)")
		return nil
	}

	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)

	headerRow := make(table.Row, len(cols))
	for i, col := range cols {
		headerRow[i] = col
	}
	t.AppendHeader(headerRow)

	for _, rec := range records {
		row := make(table.Row, len(cols))
		for i, col := range cols {
			row[i] = formatValue(rec[col])
		}
		t.AppendRow(row)
	}

	t.Render()
	_, _ = fmt.Fprintf(w, "(%d rows)\n", len(records))
	return nil
}

func renderJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func renderCSV(w io.Writer, cols []string, records []core.Record) error {
	_, _ = fmt.Fprintln(w, strings.Join(cols, ","))

	for _, rec := range records {
		values := make([]string, len(cols))
		for i, col := range cols {
			values[i] = escapeCSV(formatValue(rec[col]))
		}
		_, _ = fmt.Fprintln(w, strings.Join(values, ","))
	}
	return nil
}

func renderMarkdown(w io.Writer, cols []string, records []core.Record) error {
	if len(records) == 0 {
		_, _ = fmt.Fprintln(w, "(0 rows)")
		return nil
	}

	_, _ = fmt.Fprintf(w, "| %s |\n", strings.Join(cols, " | "))
	seps := make([]string, len(cols))
	for i := range seps {
		seps[i] = "---"
	}
	_, _ = fmt.Fprintf(w, "| %s |\n", strings.Join(seps, " | "))

	for _, rec := range records {
		values := make([]string, len(cols))
		for i, col := range cols {
			values[i] = formatValue(rec[col])
		}
		_, _ = fmt.Fprintf(w, "| %s |\n", strings.Join(values, " | "))
	}
	return nil
}

// renderOutcome writes one visualization outcome with a heading. Charts
// are written as their JSON figure.
func renderOutcome(w io.Writer, o core.VizOutcome, format string) error {
	title := o.Title
	if title == "" {
		title = fmt.Sprintf("visualization %d", o.Index)
	}
	_, _ = fmt.Fprintln(w, text.Bold.Sprintf("[%d] %s", o.Index, title))

	if o.Err != nil {
		if out := core.DiagnosticsOf(o.Err); out != "" {
			_, _ = fmt.Fprint(w, indent(out))
		}
		_, _ = fmt.Fprintln(w, text.FgRed.Sprintf("error: %v", o.Err))
		return nil
	}
	return renderResult(w, o.Result, format)
}

func renderResult(w io.Writer, res *core.Result, format string) error {
	if res.PrintOutput != "" {
		_, _ = fmt.Fprint(w, indent(res.PrintOutput))
	}
	if res.Kind == core.ResultChart {
		return renderJSON(w, res.Chart)
	}
	return renderTable(w, res.Columns, res.Records, format)
}

func indent(s string) string {
	lines := strings.SplitAfter(s, "\n")
	var b strings.Builder
	for _, l := range lines {
		if l == "" {
			continue
		}
		b.WriteString("  > ")
		b.WriteString(l)
	}
	if !strings.HasSuffix(s, "\n") {
		b.WriteString("\n")
	}
	return b.String()
}

func formatValue(v any) string {
	if v == nil {
		return "NULL"
	}
	return fmt.Sprintf("%v", v)
}

func escapeCSV(s string) string {
	if strings.ContainsAny(s, ",\"\n") {
		return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
	}
	return s
}
