//go:build !unix

package service

import (
	"os"
	"os/exec"
)

// setProcessGroup is a no-op, exec.CommandContext kills the direct child only.
func setProcessGroup(_ *exec.Cmd) {}

func killProcessGroup(_ *exec.Cmd) error {
	return os.ErrProcessDone
}
