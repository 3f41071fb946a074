// File: internal/loopback/hooks.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Operator hooks run around playback start and stop.

package loopback

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/momentics/hioload-loopback/internal/logging"
)

// CommandRunner executes argv and reports its exit code.
type CommandRunner interface {
	Run(ctx context.Context, argv []string) (int, error)
}

// ExecRunner runs hooks as child processes sharing the engine's stdio.
type ExecRunner struct{}

// Run executes argv and waits for it to finish or ctx to expire.
func (ExecRunner) Run(ctx context.Context, argv []string) (int, error) {
	if len(argv) == 0 {
		return 0, nil
	}
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	err := cmd.Run()
	if err == nil {
		return 0, nil
	}
	if ctx.Err() == context.DeadlineExceeded {
		return -1, fmt.Errorf("%s timed out: %w", argv[0], ctx.Err())
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode(), nil
	}
	return -1, err
}

// hook is one configured command.
type hook struct {
	name    string
	argv    []string
	timeout time.Duration
	runner  CommandRunner
	log     *slog.Logger
}

func newHook(name, command string, timeout time.Duration, runner CommandRunner, log *slog.Logger) hook {
	return hook{
		name:    name,
		argv:    strings.Fields(command),
		timeout: timeout,
		runner:  runner,
		log:     log,
	}
}

func (h hook) configured() bool {
	return len(h.argv) > 0
}

// run blocks for at most the hook timeout. Failures are only logged.
func (h hook) run() {
	if !h.configured() {
		return
	}
	ctx := context.Background()
	if h.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.timeout)
		defer cancel()
	}

	start := time.Now()
	code, err := h.runner.Run(ctx, h.argv)
	switch {
	case err != nil:
		h.log.Warn("hook failed", "hook", h.name, "cmd", h.argv, logging.KeyError, err)
	case code != 0:
		h.log.Warn("hook exited non-zero", "hook", h.name, "cmd", h.argv, "code", code)
	default:
		h.log.Info("hook completed", "hook", h.name, "cmd", h.argv, "duration", time.Since(start))
	}
}
