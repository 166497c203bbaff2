// Package service runs the external tool on behalf of an authenticated caller.
//
// Validate checks a run request and produces a model.InvocationRequest.
//
// Supervisor owns the policy of a single invocation:
//   - builds the argument vector (args, entry point, optional mode flag)
//   - picks the deadline, longer when the mode flag is set
//   - feeds the prompt to stdin, newline terminated
//   - classifies the outcome into a model.InvocationResult
//
// Runner is a thin, opinionated wrapper around os/exec used by Supervisor
// through the Executor interface. It starts the child in its own process
// group and kills the group when the deadline passes or the context is
// cancelled.
//
// Data flow:
//
//	handler          Validate          Supervisor            Runner
//	   |  payload ------>|                  |                    |
//	   |<---- request ---|                  |                    |
//	   |  Invoke() ------------------------>| preflight          |
//	   |                                    | Run(Command) ----->| Start, stdin, Wait
//	   |                                    |<------ Result -----| (exit, kill or error)
//	   |<------------- InvocationResult ----| classify           |
//
// Invariants:
//   - Each Invoke produces exactly one terminal result.
//   - A timed out child is killed and reaped, its partial output is discarded.
//   - A non-zero exit code is never reported as success.
//   - Concurrent invocations share nothing but the Executor.
package service
