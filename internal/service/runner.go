package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/multidoc/gateway/internal/model"
)

var (
	ErrCanceled = errors.New("command canceled")
)

type StderrFunc func(ctx context.Context, line string)

// Executor runs a single command to completion. A non-zero exit code is a
// regular Result; errors are reserved for *LaunchError, *TimeoutError,
// ErrCanceled and unexpected failures.
type Executor interface {
	Run(ctx context.Context, cmd Command) (Result, error)
}

type Command struct {
	Path    string
	Args    []string
	Env     []string // appended to the environment of the gateway
	Dir     string
	Stdin   string
	Timeout time.Duration
}

type Result struct {
	Path     string
	Args     []string
	Dir      string
	Started  time.Time
	Stopped  time.Time
	State    *os.ProcessState
	ExitCode int // -1 if the process did not exit normally
	Stdout   *bytes.Buffer
	Stderr   *bytes.Buffer
}

// LaunchError is returned when the process could not be started at all.
type LaunchError struct {
	Path string
	Dir  string
	Err  error
}

func (e *LaunchError) Error() string {
	return fmt.Sprintf("launching %s in %s: %v", e.Path, e.Dir, e.Err)
}

func (e *LaunchError) Unwrap() error {
	return e.Err
}

// TimeoutError is returned when the command did not finish in time and was killed.
type TimeoutError struct {
	Timeout time.Duration
}

func (e *TimeoutError) Error() string {
	return "command timed out after " + e.Timeout.String()
}

func (e *TimeoutError) Unwrap() error {
	return context.DeadlineExceeded
}

// Runner is a thin, opinionated wrapper around os/exec. Each Run owns its
// process exclusively, so a single Runner may be used concurrently.
type Runner struct {
	stderrFunc StderrFunc
	waitDelay  time.Duration
}

func NewRunner() *Runner {
	return &Runner{
		waitDelay: model.DefaultWaitDelay,
	}
}

// WithStderrFunc makes Run call fn for every line written to stderr,
// in addition to capturing it.
func (r *Runner) WithStderrFunc(fn StderrFunc) *Runner {
	r.stderrFunc = fn
	return r
}

// WithWaitDelay bounds how long Run waits for output pipes to be closed
// after the process has been killed.
func (r *Runner) WithWaitDelay(d time.Duration) *Runner {
	r.waitDelay = d
	return r
}

// Run starts the process, writes proto.Stdin to it and closes its input, then
// waits for it to exit or for proto.Timeout to elapse. On timeout the whole
// process group is killed and reaped before Run returns. Processes still in
// the group once the command exits are killed as well.
func (r *Runner) Run(ctx context.Context, proto Command) (Result, error) {
	result := Result{
		Path:     proto.Path,
		Args:     append([]string(nil), proto.Args...),
		Dir:      proto.Dir,
		ExitCode: -1,
		Stdout:   &bytes.Buffer{},
		Stderr:   &bytes.Buffer{},
	}

	parent := ctx
	var cancel context.CancelFunc
	if proto.Timeout == 0 {
		slog.WarnContext(ctx, "command has no timeout", "path", proto.Path)
		ctx, cancel = context.WithCancel(ctx)
	} else {
		ctx, cancel = context.WithTimeout(ctx, proto.Timeout)
	}
	defer cancel()

	cmd := exec.CommandContext(ctx, proto.Path, proto.Args...)
	cmd.Dir = proto.Dir
	if len(proto.Env) > 0 {
		cmd.Env = append(os.Environ(), proto.Env...)
	}
	cmd.Stdin = strings.NewReader(proto.Stdin)
	cmd.Stdout = result.Stdout
	var lines *lineWriter
	if r.stderrFunc != nil {
		lines = &lineWriter{ctx: ctx, fn: r.stderrFunc, w: result.Stderr}
		cmd.Stderr = lines
	} else {
		cmd.Stderr = result.Stderr
	}
	cmd.WaitDelay = r.waitDelay
	setProcessGroup(cmd)

	result.Started = time.Now().UTC()
	if err := cmd.Start(); err != nil {
		result.Stopped = time.Now().UTC()
		return result, &LaunchError{Path: proto.Path, Dir: proto.Dir, Err: err}
	}
	slog.DebugContext(ctx, "command started", "path", proto.Path, "pid", cmd.Process.Pid)

	waitErr := cmd.Wait()
	result.Stopped = time.Now().UTC()
	result.State = cmd.ProcessState
	if cmd.ProcessState != nil {
		result.ExitCode = cmd.ProcessState.ExitCode()
	}
	if lines != nil {
		lines.Flush()
	}
	// the direct child is reaped, its background processes must not outlive it
	switch err := killProcessGroup(cmd); {
	case err == nil:
		slog.DebugContext(ctx, "killed processes left behind by command", "path", proto.Path, "pgid", cmd.Process.Pid)
	case !errors.Is(err, os.ErrProcessDone):
		slog.ErrorContext(ctx, "killing process group failed", "path", proto.Path, "pgid", cmd.Process.Pid, "error", err)
	}

	switch {
	case waitErr == nil:
		return result, nil
	case parent.Err() != nil:
		return result, fmt.Errorf("%w: %w", ErrCanceled, context.Cause(parent))
	case ctx.Err() != nil:
		return result, &TimeoutError{Timeout: proto.Timeout}
	case errors.Is(waitErr, exec.ErrWaitDelay) && cmd.ProcessState != nil:
		// exited, but a leftover process kept the output open past WaitDelay
		slog.WarnContext(ctx, "command output not closed after exit", "path", proto.Path, "wait_delay", r.waitDelay)
		return result, nil
	}

	var exitErr *exec.ExitError
	if errors.As(waitErr, &exitErr) {
		return result, nil
	}
	return result, fmt.Errorf("waiting for %s: %w", proto.Path, waitErr)
}

// lineWriter captures everything into w and reports complete lines to fn.
// exec.Cmd writes from a single goroutine, so no locking is needed.
type lineWriter struct {
	ctx     context.Context
	fn      StderrFunc
	w       *bytes.Buffer
	pending []byte
}

func (l *lineWriter) Write(p []byte) (int, error) {
	l.w.Write(p)
	l.pending = append(l.pending, p...)
	for {
		idx := bytes.IndexByte(l.pending, '\n')
		if idx < 0 {
			break
		}
		l.fn(l.ctx, strings.TrimSuffix(string(l.pending[:idx]), "\r"))
		l.pending = l.pending[idx+1:]
	}
	return len(p), nil
}

// Flush reports the last line if not newline terminated.
func (l *lineWriter) Flush() {
	if len(l.pending) == 0 {
		return
	}
	l.fn(l.ctx, string(l.pending))
	l.pending = nil
}
