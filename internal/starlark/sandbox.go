package starlark

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"go.starlark.net/starlark"
	"go.starlark.net/syntax"

	"github.com/leapstack-labs/leapdash/pkg/core"
)

// Defaults applied when a Sandbox is built without limits.
const (
	DefaultMaxSteps = 10_000_000
	DefaultTimeout  = 30 * time.Second
)

// snippetFile is the file name reported in tracebacks.
const snippetFile = "snippet.star"

var fileOptions = &syntax.FileOptions{
	Set:             true,
	While:           true,
	TopLevelControl: true,
	GlobalReassign:  true,
	Recursion:       true,
}

// Option configures a Sandbox.
type Option func(*Sandbox)

// WithMaxSteps bounds the number of computation steps per run.
func WithMaxSteps(n uint64) Option {
	return func(s *Sandbox) { s.maxSteps = n }
}

// WithTimeout bounds the wall-clock time per run.
func WithTimeout(d time.Duration) Option {
	return func(s *Sandbox) { s.timeout = d }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Sandbox) {
		if l != nil {
			s.logger = l
		}
	}
}

// Sandbox executes snippets on a fresh thread per run. It holds no state
// between runs and is safe for concurrent use.
type Sandbox struct {
	maxSteps uint64
	timeout  time.Duration
	logger   *slog.Logger
}

// New creates a sandbox.
func New(opts ...Option) *Sandbox {
	s := &Sandbox{
		maxSteps: DefaultMaxSteps,
		timeout:  DefaultTimeout,
		logger:   slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// printBuffer collects print() output of one run.
type printBuffer struct {
	mu sync.Mutex
	sb strings.Builder
}

func (p *printBuffer) print(_ *starlark.Thread, msg string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sb.WriteString(msg)
	p.sb.WriteByte('\n')
}

func (p *printBuffer) String() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.sb.String()
}

// Run executes code against the bindings. The returned output always
// carries the captured print output, also when err is non-nil; errors are
// *core.Error of KindTransform with the print output as diagnostics.
func (s *Sandbox) Run(ctx context.Context, code string, b core.Bindings) (*core.SandboxOutput, error) {
	out := &core.SandboxOutput{}
	buf := &printBuffer{}

	fail := func(err error, msg string) (*core.SandboxOutput, error) {
		out.PrintOutput = buf.String()
		e := core.Wrap(err, core.KindTransform, "transform", msg).WithDiagnostics(out.PrintOutput)
		var se syntax.Error
		if errors.As(err, &se) {
			e = e.At(int(se.Pos.Line), int(se.Pos.Col))
		}
		return out, e
	}

	globals, err := Predeclared(b)
	if err != nil {
		return fail(err, "bind inputs")
	}

	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	thread := &starlark.Thread{Name: snippetFile, Print: buf.print}
	if s.maxSteps > 0 {
		thread.SetMaxExecutionSteps(s.maxSteps)
	}
	stop := context.AfterFunc(ctx, func() {
		thread.Cancel(context.Cause(ctx).Error())
	})
	defer stop()

	start := time.Now()
	result, err := starlark.ExecFileOptions(fileOptions, thread, snippetFile, code, globals)
	s.logger.Debug("snippet executed",
		slog.Duration("elapsed", time.Since(start)),
		slog.Uint64("steps", thread.ExecutionSteps()),
		slog.Bool("ok", err == nil))
	if err != nil {
		var ee *starlark.EvalError
		if errors.As(err, &ee) {
			return fail(errors.New(ee.Backtrace()), "snippet failed")
		}
		return fail(err, "snippet failed")
	}

	v, ok := result[ResultVar]
	if !ok {
		return fail(fmt.Errorf("%s was not assigned", ResultVar), "snippet produced no result")
	}
	gv, err := ToGo(v)
	if err != nil {
		return fail(err, "convert result")
	}

	out.Value = gv
	out.PrintOutput = buf.String()
	return out, nil
}

var _ core.Sandbox = (*Sandbox)(nil)
