//go:build !unix

// File: internal/app/dump_other.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package app

import (
	"context"
	"log/slog"

	"github.com/momentics/hioload-loopback/control"
)

func watchDumpSignal(ctx context.Context, probes *control.DebugProbes, log *slog.Logger) func() {
	return func() {}
}
