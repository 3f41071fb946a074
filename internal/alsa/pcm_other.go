//go:build !linux
// +build !linux

// File: internal/alsa/pcm_other.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package alsa

import "github.com/momentics/hioload-loopback/api"

// Capture is unavailable outside Linux.
type Capture struct{}

// OpenCapture always fails outside Linux.
func OpenCapture(name string, cfg api.StreamConfig) (*Capture, error) {
	return nil, api.ErrNotSupported
}

func (c *Capture) Read() ([]byte, error) { return nil, api.ErrNotSupported }
func (c *Capture) Descriptor(name string) (api.PollDescriptor, error) {
	return api.PollDescriptor{}, api.ErrNotSupported
}
func (c *Capture) State() api.DeviceState { return api.DeviceDisconnected }
func (c *Capture) Drop() error            { return api.ErrNotSupported }
func (c *Capture) Close() error           { return nil }

// Open always fails outside Linux.
func (o *PlaybackOpener) Open() api.OpenResult {
	return api.OpenResult{Status: api.OpenFailed, Err: api.ErrNotSupported}
}
