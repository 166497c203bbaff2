package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime/debug"
	"strings"
	"time"

	"github.com/multidoc/gateway/internal/log"
	"github.com/multidoc/gateway/internal/model"

	"github.com/google/uuid"
)

// Supervisor turns an InvocationRequest into exactly one InvocationResult.
// It holds no per-invocation state; concurrent Invoke calls are independent.
type Supervisor struct {
	exec        Executor
	tool        model.Tool
	timeout     time.Duration
	modeTimeout time.Duration
	env         []string
}

func NewSupervisor(tool model.Tool, exec Executor) (*Supervisor, error) {
	normal, mode, err := tool.Deadlines()
	if err != nil {
		return nil, err
	}
	return &Supervisor{
		exec:        exec,
		tool:        tool,
		timeout:     normal,
		modeTimeout: mode,
		env:         tool.Environ(),
	}, nil
}

// SupervisorFromConfig returns a Supervisor backed by a Runner which logs
// the child's stderr at debug level.
func SupervisorFromConfig(cfg model.Config) (*Supervisor, error) {
	waitDelay, err := cfg.Tool.WaitDelayDuration()
	if err != nil {
		return nil, fmt.Errorf("parsing tool.wait_delay: %w", err)
	}
	runner := NewRunner().
		WithWaitDelay(waitDelay).
		WithStderrFunc(func(ctx context.Context, line string) {
			slog.DebugContext(ctx, "stderr", "line", line)
		})
	return NewSupervisor(cfg.Tool, runner)
}

// Deadline returns the maximum run time of an invocation.
func (s *Supervisor) Deadline(modeFlag bool) time.Duration {
	if modeFlag {
		return s.modeTimeout
	}
	return s.timeout
}

// Command builds the exact command executed for req. The prompt gets a
// trailing newline if it has none.
func (s *Supervisor) Command(req model.InvocationRequest) Command {
	stdin := req.Prompt
	if !strings.HasSuffix(stdin, "\n") {
		stdin += "\n"
	}
	return Command{
		Path:    s.tool.Executable(),
		Args:    s.tool.Argv(req.ModeFlag),
		Env:     s.env,
		Dir:     s.tool.Dir,
		Stdin:   stdin,
		Timeout: s.Deadline(req.ModeFlag),
	}
}

// Invoke runs the tool once and classifies what happened. It never panics
// and never returns a zero Outcome.
func (s *Supervisor) Invoke(ctx context.Context, req model.InvocationRequest) (result model.InvocationResult) {
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	ctx = log.ContextAttrs(ctx, req.Attr())
	start := time.Now()

	defer func() {
		if rec := recover(); rec != nil {
			slog.ErrorContext(ctx, "invocation panicked", "panic", rec, "stack", string(debug.Stack()))
			result = model.InvocationResult{
				Outcome:      model.OutcomeInternalError,
				ErrorMessage: fmt.Sprintf("internal error: %v", rec),
			}
		}
		result.Duration = time.Since(start)
		slog.InfoContext(ctx, "invocation done", result.Attr())
	}()

	slog.DebugContext(ctx, "invocation received")
	if err := s.preflight(); err != nil {
		slog.ErrorContext(ctx, "preflight failed", "error", err)
		return s.launchFailure()
	}

	cmd := s.Command(req)
	slog.DebugContext(ctx, "invocation launching",
		"path", cmd.Path,
		"args", cmd.Args,
		"dir", cmd.Dir,
		"timeout", cmd.Timeout,
	)
	res, err := s.exec.Run(ctx, cmd)
	return s.classify(ctx, cmd, res, err)
}

// preflight makes sure the working directory and the entry point exist, so
// a missing project is reported as a launch failure and not as a compiler error.
func (s *Supervisor) preflight() error {
	info, err := os.Stat(s.tool.Dir)
	if err != nil {
		return fmt.Errorf("working directory: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("working directory %s: not a directory", s.tool.Dir)
	}
	if entry := s.entryPath(); entry != "" {
		if _, err := os.Stat(entry); err != nil {
			return fmt.Errorf("entry point: %w", err)
		}
	}
	return nil
}

func (s *Supervisor) entryPath() string {
	entry := s.tool.EntryPath()
	if entry == "" || filepath.IsAbs(entry) {
		return entry
	}
	return filepath.Join(s.tool.Dir, entry)
}

func (s *Supervisor) classify(ctx context.Context, cmd Command, res Result, err error) model.InvocationResult {
	var launchErr *LaunchError
	var timeoutErr *TimeoutError
	switch {
	case errors.As(err, &timeoutErr):
		slog.DebugContext(ctx, "invocation timed out", "discarded_stdout", bufLen(res.Stdout))
		return model.InvocationResult{
			Outcome:      model.OutcomeTimeout,
			ErrorMessage: timeoutMessage(timeoutErr.Timeout),
		}
	case errors.As(err, &launchErr):
		slog.ErrorContext(ctx, "invocation failed to launch", "error", err)
		return s.launchFailure()
	case errors.Is(err, ErrCanceled):
		return model.InvocationResult{
			Outcome:      model.OutcomeInternalError,
			ErrorMessage: "An unexpected error occurred: invocation canceled",
		}
	case err != nil:
		slog.ErrorContext(ctx, "invocation failed", "error", err)
		return model.InvocationResult{
			Outcome:      model.OutcomeInternalError,
			ErrorMessage: "An unexpected error occurred: " + err.Error(),
		}
	}

	code := res.ExitCode
	ret := model.InvocationResult{
		Stdout:   bufString(res.Stdout),
		Stderr:   bufString(res.Stderr),
		ExitCode: &code,
	}
	if code == 0 {
		ret.Outcome = model.OutcomeSuccess
		return ret
	}
	ret.Outcome = model.OutcomeNonZeroExit
	ret.ErrorMessage = ret.Stderr
	slog.DebugContext(ctx, "invocation exited with non zero code", "path", cmd.Path, "exit_code", code)
	return ret
}

func (s *Supervisor) launchFailure() model.InvocationResult {
	target := s.entryPath()
	if target == "" {
		target = s.tool.Dir
	}
	return model.InvocationResult{
		Outcome: model.OutcomeLaunchFailure,
		ErrorMessage: fmt.Sprintf(
			"Failed to run command. Ensure '%s' is installed and '%s' is correct.",
			s.tool.Executable(),
			target,
		),
	}
}

func timeoutMessage(d time.Duration) string {
	return fmt.Sprintf(
		"Command timed out after %s. Please try again with a shorter prompt or without LambdaChat option.",
		humanDuration(d),
	)
}

func humanDuration(d time.Duration) string {
	switch {
	case d == time.Minute:
		return "1 minute"
	case d > 0 && d%time.Minute == 0:
		return fmt.Sprintf("%d minutes", d/time.Minute)
	default:
		return d.String()
	}
}

func bufString(b *bytes.Buffer) string {
	if b == nil {
		return ""
	}
	return b.String()
}

func bufLen(b *bytes.Buffer) int {
	if b == nil {
		return 0
	}
	return b.Len()
}
