// Package fake
// Author: momentics <momentics@gmail.com>
//
// Scripted reactor poller.

package fake

import (
	"time"

	"github.com/momentics/hioload-loopback/api"
)

// Poller implements reactor.Poller with scripted event batches. Each Wait call
// returns the next queued batch (or nothing) and then runs OnWait.
type Poller struct {
	Added   map[int]api.EventMask
	Removed []int
	Waits   []time.Duration
	AddErr  error
	WaitErr error
	OnWait  func(timeout time.Duration)
	Closed  bool

	batches [][]api.PollEvent
}

// NewPoller creates an empty scripted poller.
func NewPoller() *Poller {
	return &Poller{Added: make(map[int]api.EventMask)}
}

// Queue appends one batch of events returned by a future Wait.
func (p *Poller) Queue(events ...api.PollEvent) {
	p.batches = append(p.batches, events)
}

func (p *Poller) Add(fd int, mask api.EventMask) error {
	if p.AddErr != nil {
		return p.AddErr
	}
	p.Added[fd] = mask
	return nil
}

func (p *Poller) Remove(fd int) error {
	delete(p.Added, fd)
	p.Removed = append(p.Removed, fd)
	return nil
}

func (p *Poller) Wait(timeout time.Duration, events []api.PollEvent) (int, error) {
	p.Waits = append(p.Waits, timeout)
	n := 0
	if len(p.batches) > 0 {
		batch := p.batches[0]
		p.batches = p.batches[1:]
		n = copy(events, batch)
	}
	if p.OnWait != nil {
		p.OnWait(timeout)
	}
	return n, p.WaitErr
}

func (p *Poller) Close() error {
	p.Closed = true
	return nil
}
