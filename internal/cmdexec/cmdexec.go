// Package cmdexec runs external commands with a hard time bound.
//
// Spawn failures, timeouts and non-zero exits all come back as errors on a
// populated Result so callers can turn them into (ok, reason) pairs without
// losing the command output.
package cmdexec

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/westy4ever/PilotFS-sub000/pkg/remote/errs"
)

// Result holds the outcome of one command.
type Result struct {
	Stdout   string
	Stderr   string
	ExitCode int
	Duration time.Duration
}

// Combined returns stderr followed by stdout, trimmed.
func (r Result) Combined() string {
	return strings.TrimSpace(strings.TrimSpace(r.Stderr) + "\n" + strings.TrimSpace(r.Stdout))
}

// Runner executes a command and waits at most timeout for it.
type Runner interface {
	Run(ctx context.Context, timeout time.Duration, name string, args ...string) (Result, error)
}

// ErrNonZeroExit is wrapped by Run when the command exits with a non-zero status.
var ErrNonZeroExit = errors.New("non-zero exit status")

// Exec is the os/exec backed Runner.
type Exec struct {
	// Env, when non-nil, replaces the inherited environment.
	Env []string
}

// Run starts name with args and waits for it. A timeout <= 0 means the
// command is bounded only by ctx. Only expiry of timeout itself yields a
// NetworkTimeoutError; when the caller's ctx ends first the error wraps
// ctx.Err().
func (e Exec) Run(ctx context.Context, timeout time.Duration, name string, args ...string) (Result, error) {
	parent := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if e.Env != nil {
		cmd.Env = e.Env
	}

	start := time.Now()
	err := cmd.Run()
	res := Result{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		ExitCode: -1,
		Duration: time.Since(start),
	}
	if cmd.ProcessState != nil {
		res.ExitCode = cmd.ProcessState.ExitCode()
	}

	if parent.Err() != nil {
		return res, fmt.Errorf("%s cancelled: %w", name, parent.Err())
	}
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return res, &errs.NetworkTimeoutError{Op: name, Timeout: timeout}
	}
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return res, fmt.Errorf("%s: %w (%d)", name, ErrNonZeroExit, res.ExitCode)
		}
		return res, fmt.Errorf("start %s: %w", name, err)
	}
	return res, nil
}
