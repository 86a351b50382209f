//go:build unix

package runner

import (
	"errors"
	"os"
	"os/exec"
	"syscall"

	"golang.org/x/sys/unix"
)

func shellCommand(command string) *exec.Cmd {
	cmd := exec.Command("sh", "-c", command)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	return cmd
}

// interruptGroup sends SIGINT to the whole process group (negative PID).
func interruptGroup(process *os.Process) error {
	return unix.Kill(-process.Pid, unix.SIGINT)
}

// killGroup sends SIGKILL to the process group. A group with no members
// left is not an error.
func killGroup(process *os.Process) error {
	if err := unix.Kill(-process.Pid, unix.SIGKILL); err != nil && !errors.Is(err, unix.ESRCH) {
		return err
	}
	return nil
}
