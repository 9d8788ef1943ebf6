package commands

import (
	"context"
	"fmt"
	"io"
	"os"
	"slices"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/leapstack-labs/leapdash/internal/engine"
	"github.com/leapstack-labs/leapdash/pkg/core"
)

// QueryOptions holds options for the query command.
type QueryOptions struct {
	inputFlags
	Format string
	SQL    string
	Input  string
}

// NewQueryCommand creates the query command.
func NewQueryCommand() *cobra.Command {
	opts := &QueryOptions{}

	cmd := &cobra.Command{
		Use:   "query [dashboard]",
		Short: "Execute a dashboard query or ad hoc SQL",
		Long: `Execute a dashboard's query against the data source and print the result
together with the option choices inferred for its visualizations.

Ad hoc SQL can be given with --sql, read from a file with --input or piped
on stdin. When invoked without a dashboard or SQL on a terminal, enters
interactive REPL mode.`,
		Example: `  # Run a dashboard query with defaults
  leapdash query sales.yaml

  # Override parameters and output as JSON
  leapdash query sales.yaml --param region=East --format json

  # Ad hoc SQL
  leapdash query --sql "SELECT region, sum(amount) FROM sales GROUP BY 1"

  # Piped input
  cat report.sql | leapdash query

  # Interactive mode
  leapdash query`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runQuery(cmd, args, opts)
		},
	}

	cmd.Flags().StringVarP(&opts.Format, "format", "f", FormatTable, "Output format: table, json, csv, md")
	cmd.Flags().StringVarP(&opts.SQL, "sql", "s", "", "Execute this SQL instead of a dashboard query")
	cmd.Flags().StringVarP(&opts.Input, "input", "i", "", "Read SQL from file")
	cmd.Flags().StringArrayVarP(&opts.Params, "param", "p", nil, "Parameter value as name=value (repeatable)")
	cmd.Flags().StringArrayVarP(&opts.Options, "option", "o", nil, "Option selection as viz.option=value (repeatable)")

	return cmd
}

func runQuery(cmd *cobra.Command, args []string, opts *QueryOptions) error {
	if err := checkFormat(opts.Format); err != nil {
		return err
	}

	cc, cleanup, err := NewCommandContext(cmd)
	if err != nil {
		return err
	}
	defer cleanup()
	ctx := cmd.Context()

	var dash *core.Dashboard
	switch {
	case len(args) > 0:
		dash, err = loadDashboard(ctx, cc, args[0])
		if err != nil {
			return err
		}
	case opts.SQL != "":
		dash = adhocDashboard(opts.SQL)
	case opts.Input != "":
		content, err := os.ReadFile(opts.Input)
		if err != nil {
			return fmt.Errorf("failed to read file: %w", err)
		}
		dash = adhocDashboard(string(content))
	case !isTerminal(os.Stdin):
		content, err := io.ReadAll(cmd.InOrStdin())
		if err != nil {
			return fmt.Errorf("failed to read stdin: %w", err)
		}
		dash = adhocDashboard(string(content))
	default:
		return runQueryREPL(cmd, cc, opts)
	}

	values, err := parseParams(dash, opts.Params)
	if err != nil {
		return err
	}
	prior, err := parseOptions(dash, opts.Options)
	if err != nil {
		return err
	}

	sid := cc.Engine.OpenSession()
	defer cc.Engine.EndSession(sid)

	return executeAndRender(ctx, cmd.OutOrStdout(), cc.Engine, sid, dash, values, prior, opts.Format)
}

// adhocDashboard wraps bare SQL in a dashboard without parameters.
func adhocDashboard(sql string) *core.Dashboard {
	return &core.Dashboard{
		ID:    "adhoc",
		Query: core.Query{Code: strings.TrimSpace(sql)},
	}
}

func executeAndRender(ctx context.Context, w io.Writer, eng *engine.Engine, sid string, dash *core.Dashboard, values core.ParamValues, prior core.AllOptionValues, format string) error {
	res, err := eng.ExecuteQuery(ctx, sid, *dash, values, prior)
	if err != nil {
		return err
	}
	tbl, err := eng.Table(sid, res.Hash)
	if err != nil {
		return err
	}

	if format == FormatJSON {
		rows := tbl.Rows
		if rows == nil {
			rows = []core.Record{}
		}
		return renderJSON(w, map[string]any{
			"query_hash":       res.Hash,
			"processed_sql":    res.ProcessedQuery,
			"columns":          res.Columns,
			"rows":             rows,
			"inferred_options": res.Inferred,
		})
	}

	if err := renderTable(w, tbl.Columns, tbl.Rows, format); err != nil {
		return err
	}
	if format == FormatTable {
		renderInferred(w, dash, res)
	}
	return nil
}

// renderInferred lists the choices and selection of every option.
func renderInferred(w io.Writer, dash *core.Dashboard, res *engine.QueryResult) {
	idx := make([]int, 0, len(res.Inferred))
	for i, opts := range res.Inferred {
		if len(opts) > 0 {
			idx = append(idx, i)
		}
	}
	if len(idx) == 0 {
		return
	}
	slices.Sort(idx)

	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"Visualization", "Option", "Choices", "Selected"})
	for _, i := range idx {
		title := fmt.Sprint(i)
		if i < len(dash.Visualizations) && dash.Visualizations[i].Title != "" {
			title = dash.Visualizations[i].Title
		}
		names := make([]string, 0, len(res.Inferred[i]))
		for name := range res.Inferred[i] {
			names = append(names, name)
		}
		slices.Sort(names)
		for _, name := range names {
			inf := res.Inferred[i][name]
			t.AppendRow(table.Row{title, name, formatList(inf.Choices), formatValue(inf.Default)})
		}
	}
	_, _ = fmt.Fprintln(w)
	t.Render()
}

func formatList(values []any) string {
	parts := make([]string, len(values))
	for i, v := range values {
		parts[i] = formatValue(v)
	}
	return strings.Join(parts, ", ")
}
