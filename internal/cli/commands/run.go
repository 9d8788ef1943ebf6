package commands

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/leapstack-labs/leapdash/internal/engine"
	"github.com/leapstack-labs/leapdash/pkg/core"
)

// RunOptions holds options for the run command.
type RunOptions struct {
	inputFlags
	Format string
	Viz    string
}

// NewRunCommand creates the run command.
func NewRunCommand() *cobra.Command {
	opts := &RunOptions{}

	cmd := &cobra.Command{
		Use:   "run <dashboard>",
		Short: "Execute a dashboard and run its visualizations",
		Long: `Execute a dashboard's query, then run every visualization against the
result and print each table or chart together with its print output.

A failing visualization does not stop the others; the command exits with
an error when at least one failed.`,
		Example: `  # Run every visualization
  leapdash run sales.yaml

  # Run one visualization with an option selection
  leapdash run sales.yaml --viz top --option top.limit=5

  # JSON output for scripting
  leapdash run sales.yaml --format json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDashboard(cmd, args[0], opts)
		},
	}

	cmd.Flags().StringVarP(&opts.Format, "format", "f", FormatTable, "Output format for tables: table, json, csv, md")
	cmd.Flags().StringVar(&opts.Viz, "viz", "", "Run only this visualization (index or title)")
	cmd.Flags().StringArrayVarP(&opts.Params, "param", "p", nil, "Parameter value as name=value (repeatable)")
	cmd.Flags().StringArrayVarP(&opts.Options, "option", "o", nil, "Option selection as viz.option=value (repeatable)")

	return cmd
}

func runDashboard(cmd *cobra.Command, ref string, opts *RunOptions) error {
	if err := checkFormat(opts.Format); err != nil {
		return err
	}

	cc, cleanup, err := NewCommandContext(cmd)
	if err != nil {
		return err
	}
	defer cleanup()
	ctx := cmd.Context()

	dash, err := loadDashboard(ctx, cc, ref)
	if err != nil {
		return err
	}
	values, err := parseParams(dash, opts.Params)
	if err != nil {
		return err
	}
	prior, err := parseOptions(dash, opts.Options)
	if err != nil {
		return err
	}

	eng := cc.Engine
	sid := eng.OpenSession()
	defer eng.EndSession(sid)

	res, err := eng.ExecuteQuery(ctx, sid, *dash, values, prior)
	if err != nil {
		return err
	}
	cc.Logger.Debug("query executed", "dashboard", dash.ID, "hash", res.Hash, "rows", res.RowCount)

	var outcomes []core.VizOutcome
	if opts.Viz != "" {
		idx, err := visualizationIndex(dash, opts.Viz)
		if err != nil {
			return err
		}
		outcomes = []core.VizOutcome{runOne(cmd, eng, sid, res, dash, idx)}
	} else {
		outcomes, err = eng.RunAll(ctx, sid, res.Hash, *dash, prior)
		if err != nil {
			return err
		}
	}

	return renderOutcomes(cmd.OutOrStdout(), outcomes, opts.Format)
}

// runOne runs a single visualization with the inferred selections, which
// already honor any valid explicit selection.
func runOne(cmd *cobra.Command, eng *engine.Engine, sid string, res *engine.QueryResult, dash *core.Dashboard, idx int) core.VizOutcome {
	selected := core.OptionValues{}
	for name, inf := range res.Inferred[idx] {
		selected[name] = inf.Default
	}

	out := core.VizOutcome{Index: idx, Title: dash.Visualizations[idx].Title}
	out.Result, out.Err = eng.RunTransformation(cmd.Context(), sid, res.Hash, *dash, idx, selected)
	return out
}

func renderOutcomes(w io.Writer, outcomes []core.VizOutcome, format string) error {
	if format == FormatJSON {
		return renderJSON(w, outcomeJSON(outcomes))
	}

	failed := 0
	for i, o := range outcomes {
		if i > 0 {
			_, _ = fmt.Fprintln(w)
		}
		if o.Err != nil {
			failed++
		}
		if err := renderOutcome(w, o, format); err != nil {
			return err
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d visualizations failed", failed, len(outcomes))
	}
	return nil
}

func outcomeJSON(outcomes []core.VizOutcome) []map[string]any {
	out := make([]map[string]any, len(outcomes))
	for i, o := range outcomes {
		m := map[string]any{
			"index": o.Index,
			"title": o.Title,
		}
		if o.Err != nil {
			m["status"] = "error"
			m["kind"] = core.KindOf(o.Err)
			m["message"] = o.Err.Error()
			m["print_output"] = core.DiagnosticsOf(o.Err)
		} else {
			m["status"] = "success"
			m["result"] = o.Result
		}
		out[i] = m
	}
	return out
}
