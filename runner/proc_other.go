//go:build !unix

package runner

import (
	"errors"
	"os"
	"os/exec"
)

func shellCommand(command string) *exec.Cmd {
	return exec.Command("cmd", "/C", command)
}

// Without process groups there is no gentle interrupt.
func interruptGroup(process *os.Process) error {
	return process.Kill()
}

func killGroup(process *os.Process) error {
	if err := process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return err
	}
	return nil
}
