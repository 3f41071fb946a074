//go:build unix

// File: internal/app/dump_unix.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package app

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/momentics/hioload-loopback/control"
)

// watchDumpSignal logs every probe on SIGUSR1 until ctx ends or the
// returned stop function is called.
func watchDumpSignal(ctx context.Context, probes *control.DebugProbes, log *slog.Logger) func() {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGUSR1)
	done := make(chan struct{})

	go func() {
		for {
			select {
			case <-ch:
				log.Info("state dump", "probes", probes.DumpState())
			case <-ctx.Done():
				return
			case <-done:
				return
			}
		}
	}()

	return func() {
		signal.Stop(ch)
		close(done)
	}
}
