// Package fake
// Author: momentics <momentics@gmail.com>
//
// Recording command runner for hook tests.

package fake

import "context"

// Runner records every command it is asked to run.
type Runner struct {
	Calls    [][]string
	ExitCode int
	Err      error
}

// Run records argv and returns the configured outcome.
func (r *Runner) Run(_ context.Context, argv []string) (int, error) {
	cp := make([]string, len(argv))
	copy(cp, argv)
	r.Calls = append(r.Calls, cp)
	return r.ExitCode, r.Err
}
