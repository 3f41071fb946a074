// File: reactor/reactor.go
// Author: momentics <momentics@gmail.com>
//
// Single-threaded event reactor: readiness dispatch plus a fixed-cadence tick
// for timeout handlers. Nothing in here is safe for concurrent use; the
// reactor and every handler it calls run on one goroutine.

package reactor

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/momentics/hioload-loopback/api"
	"github.com/momentics/hioload-loopback/internal/logging"
)

// DefaultTick is the default interval between timeout handler rounds.
const DefaultTick = 250 * time.Millisecond

const maxEvents = 32

type registration struct {
	pd      api.PollDescriptor
	handler api.Handler
}

// Reactor multiplexes readiness of registered descriptors.
type Reactor struct {
	poller   Poller
	tick     time.Duration
	now      func() time.Time
	log      *slog.Logger
	entries  map[int]registration
	timeouts []api.TimeoutHandler
	events   []api.PollEvent
	lastTick time.Time
}

// Option configures a Reactor.
type Option func(*Reactor)

// WithTick sets the tick interval; non-positive values are ignored.
func WithTick(d time.Duration) Option {
	return func(r *Reactor) {
		if d > 0 {
			r.tick = d
		}
	}
}

// WithClock replaces the wall clock, used by tests.
func WithClock(now func() time.Time) Option {
	return func(r *Reactor) { r.now = now }
}

// WithLogger sets the reactor logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Reactor) { r.log = l }
}

// New creates a reactor over poller.
func New(poller Poller, opts ...Option) *Reactor {
	r := &Reactor{
		poller:  poller,
		tick:    DefaultTick,
		now:     time.Now,
		log:     logging.L("reactor"),
		entries: make(map[int]registration),
		events:  make([]api.PollEvent, maxEvents),
	}
	for _, o := range opts {
		o(r)
	}
	r.lastTick = r.now()
	return r
}

// Tick returns the configured tick interval.
func (r *Reactor) Tick() time.Duration {
	return r.tick
}

// Register associates pd.Fd with h.
func (r *Reactor) Register(pd api.PollDescriptor, h api.Handler) error {
	if h == nil {
		return fmt.Errorf("register %s: nil handler: %w", pd.Name, api.ErrInvalidArgument)
	}
	if _, ok := r.entries[pd.Fd]; ok {
		return fmt.Errorf("register %s fd %d: %w", pd.Name, pd.Fd, api.ErrAlreadyExists)
	}
	if err := r.poller.Add(pd.Fd, pd.Mask); err != nil {
		return fmt.Errorf("register %s: %w", pd.Name, err)
	}
	r.entries[pd.Fd] = registration{pd: pd, handler: h}
	r.log.Debug("registered", "name", pd.Name, "fd", pd.Fd, "mask", pd.Mask.String())
	return nil
}

// Unregister removes pd.Fd from the registration table.
func (r *Reactor) Unregister(pd api.PollDescriptor) error {
	if _, ok := r.entries[pd.Fd]; !ok {
		return fmt.Errorf("unregister %s fd %d: %w", pd.Name, pd.Fd, api.ErrNotFound)
	}
	delete(r.entries, pd.Fd)
	if err := r.poller.Remove(pd.Fd); err != nil {
		return fmt.Errorf("unregister %s: %w", pd.Name, err)
	}
	r.log.Debug("unregistered", "name", pd.Name, "fd", pd.Fd)
	return nil
}

// RegisterTimeoutHandler adds h to the tick set. Adding it twice is a no-op.
func (r *Reactor) RegisterTimeoutHandler(h api.TimeoutHandler) {
	for _, existing := range r.timeouts {
		if existing == h {
			return
		}
	}
	r.timeouts = append(r.timeouts, h)
}

// UnregisterTimeoutHandler removes h from the tick set.
func (r *Reactor) UnregisterTimeoutHandler(h api.TimeoutHandler) error {
	for i, existing := range r.timeouts {
		if existing == h {
			r.timeouts = append(r.timeouts[:i], r.timeouts[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("unregister timeout handler: %w", api.ErrNotFound)
}

// Run loops until ctx is cancelled. Poller failures are logged and the loop
// keeps going after a backoff that doubles up to one tick; only process
// termination stops it.
func (r *Reactor) Run(ctx context.Context) error {
	var backoff time.Duration
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		err := r.Step()
		if err == nil {
			backoff = 0
			continue
		}
		backoff = nextBackoff(backoff, r.tick)
		r.log.Error("poll failed", logging.KeyError, err, "retry_in", backoff)
		t := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
	}
}

const minBackoff = 10 * time.Millisecond

func nextBackoff(cur, limit time.Duration) time.Duration {
	next := cur * 2
	if next < minBackoff {
		next = minBackoff
	}
	if next > limit {
		next = limit
	}
	return next
}

// Step runs one iteration: a readiness wait bounded by the tick, dispatch of
// every ready descriptor, then the timeout round if a tick has elapsed.
func (r *Reactor) Step() error {
	n, err := r.poller.Wait(r.tick, r.events)
	for i := 0; i < n; i++ {
		r.dispatch(r.events[i])
	}

	if now := r.now(); now.Sub(r.lastTick) >= r.tick {
		for _, h := range r.snapshotTimeouts() {
			r.safeTimeout(h)
		}
		r.lastTick = r.now()
	}
	return err
}

func (r *Reactor) dispatch(ev api.PollEvent) {
	entry, ok := r.entries[ev.Fd]
	if !ok {
		r.log.Debug("event for unknown fd", "fd", ev.Fd, "mask", ev.Mask.String())
		return
	}
	if ev.Mask&api.EventFaults != 0 {
		r.log.Warn("descriptor fault", "name", entry.pd.Name, "fd", ev.Fd, "mask", ev.Mask.String())
	}

	defer func() {
		if p := recover(); p != nil {
			r.log.Error("handler panic", "name", entry.pd.Name, "panic", p)
		}
	}()
	if handled := entry.handler.HandleEvent(ev.Fd, ev.Mask, entry.pd.Name); !handled {
		r.log.Debug("event not handled", "name", entry.pd.Name, "mask", ev.Mask.String())
	}
}

func (r *Reactor) snapshotTimeouts() []api.TimeoutHandler {
	out := make([]api.TimeoutHandler, len(r.timeouts))
	copy(out, r.timeouts)
	return out
}

func (r *Reactor) safeTimeout(h api.TimeoutHandler) {
	defer func() {
		if p := recover(); p != nil {
			r.log.Error("timeout handler panic", "panic", p)
		}
	}()
	h.HandleTimeout()
}

// Close releases the poller.
func (r *Reactor) Close() error {
	return r.poller.Close()
}
