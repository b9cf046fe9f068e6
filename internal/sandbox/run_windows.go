//go:build windows

package sandbox

import "os/exec"

// startInGroup kills only the interpreter; WaitDelay bounds the wait on
// pipes held open by orphaned children.
func startInGroup(cmd *exec.Cmd) {
	cmd.Cancel = func() error { return killGroup(cmd) }
}

func killGroup(cmd *exec.Cmd) error {
	if cmd.Process == nil {
		return nil
	}
	return cmd.Process.Kill()
}
