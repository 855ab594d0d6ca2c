//go:build aix || darwin || dragonfly || freebsd || linux || netbsd || openbsd || solaris

package worker

import (
	"errors"
	"os"
	"os/exec"
	"syscall"
)

func killProcess(cmd *exec.Cmd) error {
	var err error = syscall.ESRCH
	if pgid, pgErr := syscall.Getpgid(cmd.Process.Pid); pgErr == nil {
		// Negative pid sends signal to all in process group
		err = syscall.Kill(-pgid, syscall.SIGKILL)
	}

	if err != nil {
		err = cmd.Process.Kill()
	}

	if errors.Is(err, syscall.ESRCH) || errors.Is(err, os.ErrProcessDone) {
		return nil
	}

	return err
}

func initCmd(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Setpgid: true,
	}
}
