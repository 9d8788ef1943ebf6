package commands

import (
	"fmt"

	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/spf13/cobra"
)

// NewValidateCommand creates the validate command.
func NewValidateCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate [dashboard...]",
		Short: "Validate dashboard definitions",
		Long: `Validate dashboard definitions without touching the data source.

Checks required fields, parameter and option types, unique names, and
that every placeholder in the query names a declared parameter or a
relative date. Validates every definition in the dashboards directory
when no dashboard is given.`,
		Example: `  # Validate everything
  leapdash validate

  # Validate specific definitions
  leapdash validate sales.yaml ./drafts/new.json`,
		RunE: runValidate,
	}
	return cmd
}

func runValidate(cmd *cobra.Command, args []string) error {
	cc, err := NewCommandContextWithoutEngine(cmd)
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	w := cmd.OutOrStdout()

	refs := args
	if len(refs) == 0 {
		store, err := cc.DefinitionStore()
		if err != nil {
			return err
		}
		refs, err = store.List(ctx)
		if err != nil {
			return err
		}
		if len(refs) == 0 {
			_, _ = fmt.Fprintf(w, "No dashboards found in %s\n", cc.Cfg.DashboardsDir)
			return nil
		}
	}

	invalid := 0
	for _, ref := range refs {
		if _, err := loadDashboard(ctx, cc, ref); err != nil {
			invalid++
			_, _ = fmt.Fprintf(w, "%s %s: %v\n", text.FgRed.Sprint("✗"), ref, err)
			continue
		}
		_, _ = fmt.Fprintf(w, "%s %s\n", text.FgGreen.Sprint("✓"), ref)
	}

	if invalid > 0 {
		return fmt.Errorf("%d of %d dashboards invalid", invalid, len(refs))
	}
	return nil
}
