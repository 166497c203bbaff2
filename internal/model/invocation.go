package model

import (
	"log/slog"
	"time"
)

// InvocationRequest is a validated request to run the external tool once.
type InvocationRequest struct {
	ID       string // correlates log lines of one invocation
	Prompt   string // untrimmed, never blank
	ModeFlag bool   // selects the alternate (slower) execution mode
	Caller   string // authenticated identity
}

func (r InvocationRequest) Attr() slog.Attr {
	return slog.Group("invocation",
		slog.String("id", r.ID),
		slog.String("caller", r.Caller),
		slog.Bool("mode_flag", r.ModeFlag),
		slog.Int("prompt_len", len(r.Prompt)),
	)
}

type Outcome string

const (
	OutcomeSuccess       Outcome = "success"
	OutcomeNonZeroExit   Outcome = "non_zero_exit"
	OutcomeTimeout       Outcome = "timeout"
	OutcomeLaunchFailure Outcome = "launch_failure"
	OutcomeInternalError Outcome = "internal_error"
)

// InvocationResult is the classified, immutable outcome of one invocation.
type InvocationResult struct {
	Outcome      Outcome
	Stdout       string
	Stderr       string
	ExitCode     *int // set for Success and NonZeroExit
	ErrorMessage string
	Duration     time.Duration
}

func (r InvocationResult) Success() bool {
	return r.Outcome == OutcomeSuccess
}

func (r InvocationResult) Attr() slog.Attr {
	attrs := []slog.Attr{
		slog.String("outcome", string(r.Outcome)),
		slog.Duration("duration", r.Duration),
		slog.Int("stdout_len", len(r.Stdout)),
		slog.Int("stderr_len", len(r.Stderr)),
	}
	if r.ExitCode != nil {
		attrs = append(attrs, slog.Int("exit_code", *r.ExitCode))
	}
	if r.ErrorMessage != "" {
		attrs = append(attrs, slog.String("error", r.ErrorMessage))
	}
	return slog.Attr{Key: "result", Value: slog.GroupValue(attrs...)}
}
