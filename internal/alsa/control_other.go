//go:build !linux
// +build !linux

// File: internal/alsa/control_other.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package alsa

import "github.com/momentics/hioload-loopback/api"

// Control is unavailable outside Linux.
type Control struct{}

// OpenControl always fails outside Linux.
func OpenControl(card uint, name string) (*Control, error) {
	return nil, api.ErrNotSupported
}

func (c *Control) Card() uint                               { return 0 }
func (c *Control) Name() string                             { return "" }
func (c *Control) Volume(dir api.Direction) ([]int, error)  { return nil, api.ErrNotSupported }
func (c *Control) SetVolume(percent int, channel int) error { return api.ErrNotSupported }
func (c *Control) AcknowledgeEvents() error                 { return api.ErrNotSupported }
func (c *Control) Close() error                             { return nil }
func (c *Control) Descriptor(name string) (api.PollDescriptor, error) {
	return api.PollDescriptor{}, api.ErrNotSupported
}
