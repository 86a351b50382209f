package runner

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"time"
)

// Environment variables exported to every command.
const (
	EnvTarget  = "TASKWATCH_TARGET"
	EnvChanged = "TASKWATCH_CHANGED"
)

const defaultGrace = 2 * time.Second

// outputDelay bounds how long Wait keeps copying output after the shell has
// exited, when a background child still holds stdout or stderr.
const outputDelay = 250 * time.Millisecond

// CommandTask runs shell commands one after another in Dir and stops at the
// first one that fails. Each command runs in its own process group so that
// an interrupt reaches everything it spawned.
type CommandTask struct {
	Commands       []string
	Dir            string
	Env            []string // Extra KEY=VALUE pairs on top of the current environment
	Stdout         io.Writer
	Stderr         io.Writer
	Grace          time.Duration // Time between SIGINT and SIGKILL on cancellation
	FatalExitCodes []int
	Logger         *slog.Logger
}

// Run implements Task.
func (c *CommandTask) Run(ctx context.Context, target string, files []string) error {
	for _, command := range c.Commands {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := c.runOne(ctx, target, files, command); err != nil {
			return err
		}
	}
	return nil
}

func (c *CommandTask) runOne(ctx context.Context, target string, files []string, command string) error {
	cmd := shellCommand(command)
	cmd.Dir = c.Dir
	cmd.Env = append(os.Environ(), c.Env...)
	cmd.Env = append(cmd.Env,
		EnvTarget+"="+target,
		EnvChanged+"="+strings.Join(files, "\n"),
	)
	cmd.Stdout = orDiscard(c.Stdout)
	cmd.Stderr = orDiscard(c.Stderr)
	cmd.WaitDelay = outputDelay

	c.logger().Debug("starting command", "target", target, "command", command, "dir", c.Dir)

	if err := cmd.Start(); err != nil {
		return Fatal(fmt.Errorf("starting %q: %w", command, err))
	}

	done := make(chan error, 1)
	go func() {
		done <- cmd.Wait()
	}()

	var err error
	select {
	case err = <-done:
	case <-ctx.Done():
		err = c.stop(cmd, done)
		c.logger().Debug("command interrupted", "target", target, "command", command, "error", err)
		return ctx.Err()
	}

	if err == nil {
		return nil
	}
	if errors.Is(err, exec.ErrWaitDelay) {
		c.logger().Debug("command left output open", "target", target, "command", command)
		return nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		code := exitErr.ExitCode()
		failure := fmt.Errorf("command %q exited with code %d", command, code)
		if c.isFatalCode(code) {
			return Fatal(failure)
		}
		return failure
	}
	return fmt.Errorf("running %q: %w", command, err)
}

// stop interrupts the process group, escalates to a kill after the grace
// period, and always waits for the process to exit. Group members that
// ignored SIGINT and outlived the shell are killed too.
func (c *CommandTask) stop(cmd *exec.Cmd, done <-chan error) error {
	if err := interruptGroup(cmd.Process); err != nil {
		c.logger().Debug("interrupt failed", "pid", cmd.Process.Pid, "error", err)
	}

	timer := time.NewTimer(c.grace())
	defer timer.Stop()

	var err error
	select {
	case err = <-done:
	case <-timer.C:
		c.kill(cmd)
		err = <-done
	}
	c.kill(cmd)
	return err
}

func (c *CommandTask) kill(cmd *exec.Cmd) {
	if err := killGroup(cmd.Process); err != nil {
		c.logger().Debug("kill failed", "pid", cmd.Process.Pid, "error", err)
	}
}

func (c *CommandTask) isFatalCode(code int) bool {
	for _, fatal := range c.FatalExitCodes {
		if code == fatal {
			return true
		}
	}
	return false
}

func (c *CommandTask) grace() time.Duration {
	if c.Grace > 0 {
		return c.Grace
	}
	return defaultGrace
}

func (c *CommandTask) logger() *slog.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func orDiscard(w io.Writer) io.Writer {
	if w == nil {
		return io.Discard
	}
	return w
}
