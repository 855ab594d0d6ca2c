package worker

import "os/exec"

func killProcess(cmd *exec.Cmd) error {
	return cmd.Process.Kill()
}

func initCmd(cmd *exec.Cmd) {
	// No-op on Windows.
}
