// File: reactor/poller.go
// Author: momentics <momentics@gmail.com>
//
// Platform-neutral readiness backend used by Reactor.

package reactor

import (
	"time"

	"github.com/momentics/hioload-loopback/api"
)

// Poller is the OS readiness primitive behind a Reactor.
type Poller interface {
	// Add starts watching fd for the conditions in mask.
	Add(fd int, mask api.EventMask) error

	// Remove stops watching fd.
	Remove(fd int) error

	// Wait blocks for at most timeout and fills events. An interrupted wait
	// returns zero events and no error.
	Wait(timeout time.Duration, events []api.PollEvent) (int, error)

	// Close releases the backend.
	Close() error
}
