package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

// NewRenderCommand creates the render command.
func NewRenderCommand() *cobra.Command {
	var (
		in     inputFlags
		format string
	)

	cmd := &cobra.Command{
		Use:   "render <dashboard>",
		Short: "Render a dashboard query with parameters substituted",
		Long: `Render the final SQL for a dashboard with every ${name} placeholder
and relative date substituted.

This is useful for debugging parameter formats and seeing the exact SQL
that will be sent to the data source. Nothing is executed.`,
		Example: `  # Render with parameter defaults
  leapdash render sales.yaml

  # Override parameters
  leapdash render sales.yaml --param region=East,West --param since=2024-01-01

  # Render as JSON
  leapdash render sales.yaml --format json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRender(cmd, args[0], in, format)
		},
	}

	cmd.Flags().StringArrayVarP(&in.Params, "param", "p", nil, "Parameter value as name=value (repeatable)")
	cmd.Flags().StringVarP(&format, "format", "f", "text", "Output format: text, json, md")

	return cmd
}

func runRender(cmd *cobra.Command, ref string, in inputFlags, format string) error {
	cc, cleanup, err := NewCommandContext(cmd)
	if err != nil {
		return err
	}
	defer cleanup()

	dash, err := loadDashboard(cmd.Context(), cc, ref)
	if err != nil {
		return err
	}
	values, err := parseParams(dash, in.Params)
	if err != nil {
		return err
	}

	sql, err := cc.Engine.ResolveTemplate(*dash, values)
	if err != nil {
		return err
	}

	w := cmd.OutOrStdout()
	switch format {
	case FormatJSON:
		return renderJSON(w, map[string]string{
			"dashboard": dash.ID,
			"sql":       sql,
		})
	case FormatMarkdown, "markdown":
		_, _ = fmt.Fprintf(w, "# Rendered SQL: %s\n\n```sql\n%s\n```\n", dash.ID, sql)
	default:
		_, _ = fmt.Fprintln(w, sql)
	}
	return nil
}
