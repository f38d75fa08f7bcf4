// Package command runs shell-level setup commands inside the artifact root.
package command

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"time"

	"github.com/sanvibhowmick/forge/internal/domain"
	"go.uber.org/zap"
)

// DefaultTimeout bounds a single shell command.
const DefaultTimeout = 60 * time.Second

// Result is the captured outcome of one command.
type Result struct {
	Command  string
	Stdout   string
	Stderr   string
	ExitCode int
	Duration time.Duration
	// Err is set when the command could not complete: timeout, missing
	// shell, or a non-zero exit.
	Err error
}

// TimedOut reports whether the command hit its deadline.
func (r *Result) TimedOut() bool {
	return errors.Is(r.Err, domain.ErrCommandTimeout)
}

// Output renders the result the way it is fed back as diagnostic text.
func (r *Result) Output() string {
	if r.TimedOut() {
		secs := strconv.FormatFloat(r.timeoutSeconds(), 'f', -1, 64)
		return fmt.Sprintf("ERROR: Command timed out after %s seconds.", secs)
	}
	var exitErr *exec.ExitError
	if r.Err != nil && !errors.As(r.Err, &exitErr) {
		return fmt.Sprintf("ERROR: %v", r.Err)
	}
	return fmt.Sprintf("STDOUT:\n%s\nSTDERR:\n%s", r.Stdout, r.Stderr)
}

func (r *Result) timeoutSeconds() float64 {
	var te *timeoutError
	if errors.As(r.Err, &te) {
		return te.after.Seconds()
	}
	return DefaultTimeout.Seconds()
}

type timeoutError struct {
	after time.Duration
}

func (e *timeoutError) Error() string {
	return fmt.Sprintf("command timed out after %s", e.after)
}

func (e *timeoutError) Unwrap() error {
	return domain.ErrCommandTimeout
}

// Runner executes commands through the shell with a hard timeout.
type Runner struct {
	dir     string
	shell   string
	timeout time.Duration
	logger  *zap.Logger
}

// NewRunner creates a Runner whose commands execute in dir. A zero timeout
// selects DefaultTimeout.
func NewRunner(dir string, timeout time.Duration, logger *zap.Logger) *Runner {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{
		dir:     dir,
		shell:   "sh",
		timeout: timeout,
		logger:  logger,
	}
}

// Run executes cmd via `sh -c`. It never returns an error; failures are
// carried on the Result so callers can record them as diagnostics.
func (r *Runner) Run(ctx context.Context, cmd string) *Result {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	r.logger.Info("running command", zap.String("command", cmd), zap.String("dir", r.dir))

	c := exec.CommandContext(ctx, r.shell, "-c", cmd)
	c.Dir = r.dir
	c.WaitDelay = time.Second
	var stdout, stderr bytes.Buffer
	c.Stdout = &stdout
	c.Stderr = &stderr

	start := time.Now()
	err := c.Run()
	res := &Result{
		Command:  cmd,
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		ExitCode: exitCode(c, err),
		Duration: time.Since(start),
	}

	switch {
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		res.Err = &timeoutError{after: r.timeout}
		r.logger.Warn("command timed out",
			zap.String("command", cmd),
			zap.Duration("timeout", r.timeout))
	case err != nil:
		res.Err = err
		r.logger.Warn("command failed",
			zap.String("command", cmd),
			zap.Int("exit_code", res.ExitCode),
			zap.Error(err))
	default:
		r.logger.Debug("command completed",
			zap.String("command", cmd),
			zap.Duration("duration", res.Duration))
	}
	return res
}

func exitCode(c *exec.Cmd, err error) int {
	if c.ProcessState != nil {
		return c.ProcessState.ExitCode()
	}
	if err != nil {
		return -1
	}
	return 0
}
