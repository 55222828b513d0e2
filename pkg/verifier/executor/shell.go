package executor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"syscall"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"
)

const outputTail = 4096

type CommandResult struct {
	ExitCode int
	Output   []byte
}

// CommandError is a command that ran but exited non-zero.
type CommandError struct {
	Command  string
	ExitCode int
	Output   string
}

func (e *CommandError) Error() string {
	if e.Output == "" {
		return fmt.Sprintf("%q exited with code %d", e.Command, e.ExitCode)
	}
	return fmt.Sprintf("%q exited with code %d: %s", e.Command, e.ExitCode, e.Output)
}

// Shell runs configured commands through sh -c.
type Shell struct {
	timeout time.Duration
	logger  *zap.Logger
}

func NewShell(timeout time.Duration, logger *zap.Logger) *Shell {
	return &Shell{timeout: timeout, logger: logger.Named("shell")}
}

// Exec runs command in dir. Only a failure to start, or a timeout, is an error;
// the exit code is reported in the result.
func (s *Shell) Exec(ctx context.Context, dir, command string, env []string) (*CommandResult, error) {
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	var out bytes.Buffer
	cmd := exec.CommandContext(ctx, "sh", "-c", command)
	cmd.Dir = dir
	cmd.Env = append(os.Environ(), env...)
	cmd.Stdout = &out
	cmd.Stderr = &out
	// kill the whole process group so children holding the output pipe go too
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	}
	cmd.WaitDelay = 5 * time.Second

	start := time.Now()
	err := cmd.Run()
	s.logger.Debug("command done",
		zap.String("dir", dir),
		zap.String("command", command),
		zap.Duration("took", time.Since(start)))

	if ctx.Err() != nil {
		return nil, fmt.Errorf("%q: %w", command, ctx.Err())
	}
	if err != nil {
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			return nil, fmt.Errorf("start %q: %w", command, err)
		}
		return &CommandResult{ExitCode: exitErr.ExitCode(), Output: out.Bytes()}, nil
	}
	return &CommandResult{Output: out.Bytes()}, nil
}

// Run is Exec that treats a non-zero exit as a *CommandError.
func (s *Shell) Run(ctx context.Context, dir, command string, env ...string) error {
	if command == "" {
		return nil
	}
	res, err := s.Exec(ctx, dir, command, env)
	if err != nil {
		return err
	}
	if res.ExitCode != 0 {
		return &CommandError{Command: command, ExitCode: res.ExitCode, Output: tail(res.Output)}
	}
	return nil
}

func tail(out []byte) string {
	out = bytes.TrimSpace(out)
	if len(out) > outputTail {
		out = out[len(out)-outputTail:]
		for len(out) > 0 && !utf8.RuneStart(out[0]) {
			out = out[1:]
		}
	}
	return string(out)
}
