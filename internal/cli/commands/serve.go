package commands

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"runtime"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/leapstack-labs/leapdash/internal/api"
	"github.com/leapstack-labs/leapdash/internal/definitions"
)

// NewServeCommand creates the serve command.
func NewServeCommand() *cobra.Command {
	var open bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the dashboard HTTP API",
		Long: `Start a web server exposing the dashboard operations as a JSON API.

Endpoints:
  POST /api/parse_sql       Render a query with parameter values
  POST /api/query           Execute a query and infer option choices
  POST /api/visualize       Run one or every visualization
  POST /api/share           Snapshot a result
  GET  /api/share/{id}      Replay a snapshot
  GET  /api/dashboards      List, read and (PUT) write definitions
  GET  /api/events          Server-sent definition change events`,
		Example: `  # Serve on the configured address
  leapdash serve

  # Custom port, watching the dashboards directory
  leapdash serve --port 3000 --watch`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd, open)
		},
	}

	cmd.Flags().String("host", "", "Host to listen on (default: 127.0.0.1)")
	cmd.Flags().Int("port", 0, "Port to serve on (default: 8787)")
	cmd.Flags().Bool("watch", false, "Broadcast changes of the dashboards directory")
	cmd.Flags().BoolVar(&open, "open", false, "Open the API address in a browser")

	return cmd
}

func runServe(cmd *cobra.Command, open bool) error {
	cc, cleanup, err := NewCommandContext(cmd)
	if err != nil {
		return err
	}
	defer cleanup()
	cfg := cc.Cfg

	var watchDir string
	if cfg.Server.Watch {
		base, err := definitions.BaseURL(cfg.DashboardsDir)
		if err != nil {
			return err
		}
		dir, ok := definitions.LocalDir(base)
		if !ok {
			cc.Logger.Warn("watch needs a local dashboards directory", "dashboards_dir", cfg.DashboardsDir)
		} else if _, err := os.Stat(dir); err != nil {
			return fmt.Errorf("dashboards directory does not exist: %s", dir)
		}
		watchDir = dir
	}

	server := api.NewServer(api.Config{
		Engine:             cc.Engine,
		Host:               cfg.Server.Host,
		Port:               cfg.Server.Port,
		SessionSecret:      cfg.Server.SessionSecret,
		AllowedOrigins:     cfg.Server.AllowedOrigins,
		SessionIdleTimeout: cfg.Server.SessionIdleTimeout,
		WatchDir:           watchDir,
		Logger:             cc.Logger,
	})

	url := fmt.Sprintf("http://%s:%d", cfg.Server.Host, cfg.Server.Port)
	if open {
		go openBrowser(url + "/healthz")
	}

	_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Serving dashboards from %s on %s\n", cfg.DashboardsDir, url)
	_, _ = fmt.Fprintln(cmd.OutOrStdout(), "Press Ctrl+C to stop")

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return server.Serve(ctx)
}

// openBrowser opens the default browser to the specified URL.
func openBrowser(url string) {
	var cmd *exec.Cmd

	switch runtime.GOOS {
	case "darwin":
		cmd = exec.CommandContext(context.Background(), "open", url)
	case "linux":
		cmd = exec.CommandContext(context.Background(), "xdg-open", url)
	case "windows":
		cmd = exec.CommandContext(context.Background(), "rundll32", "url.dll,FileProtocolHandler", url)
	default:
		return
	}

	_ = cmd.Start()
}
