//go:build !unix

package supervisor

import (
	"os"
	"os/exec"
)

func setProcessGroup(_ *exec.Cmd) {}

func signalTerminate(cmd *exec.Cmd) error {
	if cmd.Process == nil {
		return nil
	}
	if err := cmd.Process.Signal(os.Interrupt); err != nil {
		// Interrupt is not deliverable everywhere; the kill follows after the grace period anyway.
		return cmd.Process.Kill()
	}
	return nil
}

func signalKill(cmd *exec.Cmd) error {
	if cmd.Process == nil {
		return nil
	}
	return cmd.Process.Kill()
}
