package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/chzyer/readline"
	"github.com/spf13/cobra"
)

const (
	replPrompt     = "leapdash> "
	replContPrompt = "     ...> "
)

// replSession is the state shared by the REPL loop and its dot-commands.
// Every statement runs in one cache session, so repeated queries are
// served from the cache.
type replSession struct {
	cc     *CommandContext
	sid    string
	format string
	out    io.Writer
	errOut io.Writer
}

func runQueryREPL(cmd *cobra.Command, cc *CommandContext, opts *QueryOptions) error {
	ctx := cmd.Context()

	rs := &replSession{
		cc:     cc,
		sid:    cc.Engine.OpenSession(),
		format: opts.Format,
		out:    cmd.OutOrStdout(),
		errOut: cmd.ErrOrStderr(),
	}
	defer cc.Engine.EndSession(rs.sid)

	// Keep history next to the snapshot database
	var historyFile string
	if p := cc.Cfg.StatePath; p != "" && p != ":memory:" {
		historyFile = filepath.Join(filepath.Dir(p), "query_history")
	}

	rl, err := readline.NewEx(&readline.Config{
		Prompt:          replPrompt,
		HistoryFile:     historyFile,
		AutoComplete:    rs.completer(ctx),
		InterruptPrompt: "^C",
		EOFPrompt:       ".quit",
	})
	if err != nil {
		return fmt.Errorf("failed to initialize REPL: %w", err)
	}
	defer func() { _ = rl.Close() }()

	_, _ = fmt.Fprintf(rs.out, "leapdash query REPL (source: %s)\n", cc.Cfg.Source.Type)
	_, _ = fmt.Fprintln(rs.out, "Type .help for commands, .quit to exit")
	_, _ = fmt.Fprintln(rs.out)

	var buf strings.Builder
	for {
		line, err := rl.Readline()
		if errors.Is(err, readline.ErrInterrupt) {
			buf.Reset()
			rl.SetPrompt(replPrompt)
			continue
		}
		if errors.Is(err, io.EOF) {
			break
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		if buf.Len() == 0 && strings.HasPrefix(line, ".") {
			if quit := rs.dotCommand(ctx, line); quit {
				break
			}
			continue
		}

		// Accumulate multi-line SQL until semicolon
		buf.WriteString(line)
		if !strings.HasSuffix(line, ";") {
			buf.WriteString("\n")
			rl.SetPrompt(replContPrompt)
			continue
		}
		rl.SetPrompt(replPrompt)

		query := strings.TrimSuffix(buf.String(), ";")
		buf.Reset()

		if err := rs.execSQL(ctx, query); err != nil {
			_, _ = fmt.Fprintf(rs.errOut, "Error: %v\n", err)
		}
		_, _ = fmt.Fprintln(rs.out)
	}

	return nil
}

func (rs *replSession) execSQL(ctx context.Context, query string) error {
	return executeAndRender(ctx, rs.out, rs.cc.Engine, rs.sid, adhocDashboard(query), nil, nil, rs.format)
}

// dotCommand runs one dot-command and reports whether the REPL should exit.
func (rs *replSession) dotCommand(ctx context.Context, line string) bool {
	parts := strings.Fields(line)
	command := strings.ToLower(parts[0])

	switch command {
	case ".quit", ".exit":
		return true

	case ".help":
		printREPLHelp(rs.out)

	case ".dashboards":
		names, err := rs.cc.Engine.ListDashboards(ctx)
		if err != nil {
			_, _ = fmt.Fprintf(rs.errOut, "Error: %v\n", err)
			return false
		}
		for _, n := range names {
			_, _ = fmt.Fprintln(rs.out, n)
		}

	case ".run", ".render":
		if len(parts) < 2 {
			_, _ = fmt.Fprintf(rs.errOut, "Usage: %s <dashboard>\n", command)
			return false
		}
		if err := rs.dashboard(ctx, command, parts[1]); err != nil {
			_, _ = fmt.Fprintf(rs.errOut, "Error: %v\n", err)
		}

	case ".format":
		if len(parts) < 2 {
			_, _ = fmt.Fprintf(rs.out, "format: %s\n", rs.format)
			return false
		}
		if err := checkFormat(parts[1]); err != nil {
			_, _ = fmt.Fprintf(rs.errOut, "Error: %v\n", err)
			return false
		}
		rs.format = parts[1]

	case ".stats":
		st := rs.cc.Engine.Stats()
		_, _ = fmt.Fprintf(rs.out, "sessions: %d, cached results: %d, fetches: %d\n", st.Sessions, st.Entries, st.Fetches)

	case ".clear":
		_, _ = fmt.Fprint(rs.out, "\033[H\033[2J")

	default:
		_, _ = fmt.Fprintf(rs.errOut, "Unknown command: %s (type .help for commands)\n", command)
	}
	return false
}

func (rs *replSession) dashboard(ctx context.Context, command, ref string) error {
	dash, err := loadDashboard(ctx, rs.cc, ref)
	if err != nil {
		return err
	}
	if command == ".render" {
		sql, err := rs.cc.Engine.ResolveTemplate(*dash, nil)
		if err != nil {
			return err
		}
		_, _ = fmt.Fprintln(rs.out, sql)
		return nil
	}
	return executeAndRender(ctx, rs.out, rs.cc.Engine, rs.sid, dash, nil, nil, rs.format)
}

func printREPLHelp(w io.Writer) {
	help := `
Commands:
  .help              Show this help message
  .dashboards        List dashboard definitions
  .run <dashboard>   Execute a dashboard query with its defaults
  .render <dashboard> Show a dashboard query with defaults substituted
  .format [name]     Show or set the output format (table, json, csv, md)
  .stats             Show cache statistics
  .clear             Clear the screen
  .quit / .exit      Exit the REPL

Tips:
  - SQL statements must end with a semicolon (;)
  - Repeating a statement is served from the session cache
  - Tab completion works for dot-commands and dashboard names
`
	_, _ = fmt.Fprintln(w, help)
}

// completer offers dot-commands, with dashboard names after .run and .render.
func (rs *replSession) completer(ctx context.Context) *readline.PrefixCompleter {
	var names []readline.PrefixCompleterInterface
	if list, err := rs.cc.Engine.ListDashboards(ctx); err == nil {
		for _, n := range list {
			names = append(names, readline.PcItem(n))
		}
	}

	return readline.NewPrefixCompleter(
		readline.PcItem(".help"),
		readline.PcItem(".dashboards"),
		readline.PcItem(".run", names...),
		readline.PcItem(".render", names...),
		readline.PcItem(".format",
			readline.PcItem(FormatTable),
			readline.PcItem(FormatJSON),
			readline.PcItem(FormatCSV),
			readline.PcItem(FormatMarkdown),
		),
		readline.PcItem(".stats"),
		readline.PcItem(".clear"),
		readline.PcItem(".quit"),
		readline.PcItem(".exit"),
	)
}
