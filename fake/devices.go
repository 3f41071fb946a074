// Package fake
// Author: momentics <momentics@gmail.com>
//
// In-memory capture/playback devices, playback opener and volume control.

package fake

import (
	"bytes"
	"fmt"

	"github.com/momentics/hioload-loopback/api"
)

// Capture is a scripted capture device.
type Capture struct {
	Fd      int
	Chunks  [][]byte
	ReadErr error
	Status  api.DeviceState
	Drops   int
	Reads   int
	Closed  bool
}

// NewCapture creates a capture device on fd.
func NewCapture(fd int) *Capture {
	return &Capture{Fd: fd, Status: api.DeviceRunning}
}

// Push queues chunks returned by future reads.
func (c *Capture) Push(chunks ...[]byte) {
	c.Chunks = append(c.Chunks, chunks...)
}

func (c *Capture) Read() ([]byte, error) {
	c.Reads++
	if c.ReadErr != nil {
		return nil, c.ReadErr
	}
	if len(c.Chunks) == 0 {
		return nil, nil
	}
	chunk := c.Chunks[0]
	c.Chunks = c.Chunks[1:]
	return chunk, nil
}

func (c *Capture) Descriptor(name string) (api.PollDescriptor, error) {
	return api.PollDescriptor{Name: name, Fd: c.Fd, Mask: api.EventReadable}, nil
}

func (c *Capture) State() api.DeviceState { return c.Status }

func (c *Capture) Drop() error {
	c.Drops++
	return nil
}

func (c *Capture) Close() error {
	c.Closed = true
	return nil
}

// Playback records accepted bytes. Behaviour of the next writes can be
// scripted through Limits (max bytes accepted per call, consumed in order)
// and Xruns (number of upcoming writes failing with api.ErrXrun).
type Playback struct {
	AvailFrames int
	AvailErr    error
	Limits      []int
	Xruns       int
	Writes      int
	Closed      bool

	data bytes.Buffer
}

// NewPlayback creates a playback device reporting avail frames.
func NewPlayback(avail int) *Playback {
	return &Playback{AvailFrames: avail}
}

func (p *Playback) Write(b []byte) (int, error) {
	if p.Closed {
		return 0, fmt.Errorf("write on closed playback")
	}
	p.Writes++
	if p.Xruns > 0 {
		p.Xruns--
		return 0, api.ErrXrun
	}
	n := len(b)
	if len(p.Limits) > 0 {
		if p.Limits[0] < n {
			n = p.Limits[0]
		}
		p.Limits = p.Limits[1:]
	}
	p.data.Write(b[:n])
	return n, nil
}

func (p *Playback) Avail() (int, error) {
	return p.AvailFrames, p.AvailErr
}

func (p *Playback) Close() error {
	p.Closed = true
	return nil
}

// Data returns everything written so far, in order.
func (p *Playback) Data() []byte {
	return p.data.Bytes()
}

// Opener hands out playback devices. Statuses scripts the outcome of the
// next open attempts; once exhausted every attempt succeeds.
type Opener struct {
	Statuses []api.OpenStatus
	Devices  []*Playback
	Avail    int
	Period   int
	Periods  int
	Attempts int
}

// NewOpener creates an opener whose devices report avail frames.
func NewOpener(period, periods, avail int) *Opener {
	return &Opener{Period: period, Periods: periods, Avail: avail}
}

func (o *Opener) Open() api.OpenResult {
	o.Attempts++
	status := api.Opened
	if len(o.Statuses) > 0 {
		status = o.Statuses[0]
		o.Statuses = o.Statuses[1:]
	}
	switch status {
	case api.OpenBusy:
		return api.OpenResult{Status: api.OpenBusy, Err: api.ErrDeviceBusy}
	case api.OpenFailed:
		return api.OpenResult{Status: api.OpenFailed, Err: fmt.Errorf("no such device")}
	}
	dev := NewPlayback(o.Avail)
	o.Devices = append(o.Devices, dev)
	return api.OpenResult{Status: api.Opened, Device: dev}
}

func (o *Opener) PeriodSize() int  { return o.Period }
func (o *Opener) PeriodCount() int { return o.Periods }

// Last returns the most recently opened device or nil.
func (o *Opener) Last() *Playback {
	if len(o.Devices) == 0 {
		return nil
	}
	return o.Devices[len(o.Devices)-1]
}

// Written concatenates the data written to every device opened so far.
func (o *Opener) Written() []byte {
	var out []byte
	for _, d := range o.Devices {
		out = append(out, d.Data()...)
	}
	return out
}

// Volume is an in-memory mixer control.
type Volume struct {
	Levels map[api.Direction][]int
	Sets   []int
	Acks   int
	GetErr error
	SetErr error
}

// NewVolume creates a control with the given playback and capture levels.
func NewVolume(playback, capture []int) *Volume {
	return &Volume{Levels: map[api.Direction][]int{
		api.Playback: playback,
		api.Capture:  capture,
	}}
}

func (v *Volume) Volume(dir api.Direction) ([]int, error) {
	if v.GetErr != nil {
		return nil, v.GetErr
	}
	levels := v.Levels[dir]
	out := make([]int, len(levels))
	copy(out, levels)
	return out, nil
}

func (v *Volume) SetVolume(percent int, channel int) error {
	if v.SetErr != nil {
		return v.SetErr
	}
	v.Sets = append(v.Sets, percent)
	levels := v.Levels[api.Playback]
	for i := range levels {
		if channel == api.AllChannels || channel == i {
			levels[i] = percent
		}
	}
	return nil
}

func (v *Volume) AcknowledgeEvents() error {
	v.Acks++
	return nil
}
