package commands

import (
	"fmt"
	"io"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/leapstack-labs/leapdash/internal/options"
	"github.com/leapstack-labs/leapdash/internal/share"
	"github.com/leapstack-labs/leapdash/pkg/core"
)

// NewShareCommand creates the share command and its subcommands.
func NewShareCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "share",
		Short: "Create and inspect dashboard snapshots",
		Long: `Shares are immutable snapshots of a dashboard run: the definition, the
parameter and option values, the processed query and the cached result.
A share can be replayed without touching the data source.`,
	}

	cmd.AddCommand(newShareCreateCommand())
	cmd.AddCommand(newShareShowCommand())
	cmd.AddCommand(newShareListCommand())

	return cmd
}

func newShareCreateCommand() *cobra.Command {
	var in inputFlags

	cmd := &cobra.Command{
		Use:   "create <dashboard>",
		Short: "Execute a dashboard and snapshot the result",
		Example: `  leapdash share create sales.yaml --param region=East
  leapdash share create sales.yaml --option top.limit=1`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runShareCreate(cmd, args[0], in)
		},
	}

	cmd.Flags().StringArrayVarP(&in.Params, "param", "p", nil, "Parameter value as name=value (repeatable)")
	cmd.Flags().StringArrayVarP(&in.Options, "option", "o", nil, "Option selection as viz.option=value (repeatable)")

	return cmd
}

func runShareCreate(cmd *cobra.Command, ref string, in inputFlags) error {
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
	values, err := parseParams(dash, in.Params)
	if err != nil {
		return err
	}
	prior, err := parseOptions(dash, in.Options)
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

	// Store the effective selections, not just the explicit ones
	selected := make(core.AllOptionValues, len(res.Inferred))
	for i, inf := range res.Inferred {
		selected[i] = options.Selections(inf)
	}

	id, err := eng.CreateShare(ctx, share.CreateRequest{
		SessionID:      sid,
		Hash:           res.Hash,
		ParamValues:    values,
		OptionValues:   selected,
		Dashboard:      *dash,
		ProcessedQuery: res.ProcessedQuery,
	})
	if err != nil {
		return err
	}

	cc.Logger.Info("share created", "id", id, "dashboard", dash.ID, "rows", res.RowCount)
	_, _ = fmt.Fprintln(cmd.OutOrStdout(), id)
	return nil
}

func newShareShowCommand() *cobra.Command {
	var (
		replay bool
		format string
	)

	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show a stored snapshot",
		Long: `Show a stored snapshot. With --replay, every visualization is re-run
against the snapshotted result.`,
		Example: `  leapdash share show 1a2b3c4d5e
  leapdash share show 1a2b3c4d5e --replay`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runShareShow(cmd, args[0], replay, format)
		},
	}

	cmd.Flags().BoolVar(&replay, "replay", false, "Re-run the visualizations from the snapshot")
	cmd.Flags().StringVarP(&format, "format", "f", FormatTable, "Output format: table, json, csv, md")

	return cmd
}

func runShareShow(cmd *cobra.Command, id string, replay bool, format string) error {
	if err := checkFormat(format); err != nil {
		return err
	}

	cc, cleanup, err := NewCommandContext(cmd)
	if err != nil {
		return err
	}
	defer cleanup()
	ctx := cmd.Context()
	w := cmd.OutOrStdout()

	if !replay {
		snap, err := cc.Engine.ResolveShare(ctx, id)
		if err != nil {
			return err
		}
		if format == FormatJSON {
			return renderJSON(w, snap)
		}
		renderSnapshotHeader(w, snap)
		return renderTable(w, snap.Table.Columns, snap.Table.Rows, format)
	}

	rep, err := cc.Engine.ReplayShare(ctx, id)
	if err != nil {
		return err
	}
	defer cc.Engine.EndSession(rep.SessionID)

	if format == FormatJSON {
		return renderJSON(w, map[string]any{
			"share_id":         rep.Snapshot.ID,
			"created_at":       rep.Snapshot.CreatedAt,
			"query_hash":       rep.Snapshot.Hash,
			"processed_sql":    rep.Snapshot.ProcessedQuery,
			"param_values":     rep.Snapshot.ParamValues,
			"inferred_options": rep.Inferred,
			"results":          outcomeJSON(rep.Outcomes),
		})
	}
	renderSnapshotHeader(w, rep.Snapshot)
	return renderOutcomes(w, rep.Outcomes, format)
}

func renderSnapshotHeader(w io.Writer, snap *core.Snapshot) {
	title := snap.Dashboard.Title
	if title == "" {
		title = snap.Dashboard.ID
	}
	_, _ = fmt.Fprintf(w, "Share %s: %s\n", snap.ID, title)
	_, _ = fmt.Fprintf(w, "Created: %s\n", snap.CreatedAt.Format(time.RFC3339))
	_, _ = fmt.Fprintf(w, "Query:   %s\n\n", snap.ProcessedQuery)
}

func newShareListCommand() *cobra.Command {
	var (
		limit  int
		format string
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List recent snapshots",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cc, cleanup, err := NewCommandContext(cmd)
			if err != nil {
				return err
			}
			defer cleanup()

			snaps, err := cc.Engine.ListShares(cmd.Context(), limit)
			if err != nil {
				return err
			}
			return renderShareList(cmd.OutOrStdout(), snaps, format)
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Maximum number of snapshots")
	cmd.Flags().StringVarP(&format, "format", "f", FormatTable, "Output format: table, json")

	return cmd
}

func renderShareList(w io.Writer, snaps []*core.Snapshot, format string) error {
	if format == FormatJSON {
		type item struct {
			ID        string    `json:"id"`
			Dashboard string    `json:"dashboard"`
			CreatedAt time.Time `json:"created_at"`
			Hash      string    `json:"hash"`
		}
		items := make([]item, len(snaps))
		for i, s := range snaps {
			items[i] = item{ID: s.ID, Dashboard: s.Dashboard.ID, CreatedAt: s.CreatedAt, Hash: s.Hash}
		}
		return renderJSON(w, items)
	}

	if len(snaps) == 0 {
		_, _ = fmt.Fprintln(w, "No shares.")
		return nil
	}

	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"ID", "Dashboard", "Created"})
	for _, s := range snaps {
		t.AppendRow(table.Row{s.ID, s.Dashboard.ID, s.CreatedAt.Format(time.RFC3339)})
	}
	t.Render()
	return nil
}
