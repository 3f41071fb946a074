//go:build linux
// +build linux

// File: internal/alsa/control_linux.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Mixer volume elements on top of the gen2brain/alsa mixer.

package alsa

import (
	"errors"
	"fmt"
	"syscall"

	"github.com/gen2brain/alsa"

	"github.com/momentics/hioload-loopback/api"
)

// maxEventsPerAck bounds one AcknowledgeEvents call so a chatty card
// cannot hold the reactor.
const maxEventsPerAck = 64

type element struct {
	ctl      *alsa.MixerCtl
	name     string
	channels int
}

// Control is an integer volume element on one sound card, subscribed to
// change notifications.
type Control struct {
	mixer *alsa.Mixer
	card  uint
	name  string
	elems map[api.Direction]*element
}

// volumeNames lists the element names tried for each direction, most
// specific first.
func volumeNames(name string) map[api.Direction][]string {
	return map[api.Direction][]string{
		api.Playback: {name + " Playback Volume", name + " Volume"},
		api.Capture:  {name + " Capture Volume", name + " Volume"},
	}
}

// OpenControl finds the volume element called name on card. Both
// "<name> Playback Volume" and "<name> Capture Volume" are tried, with
// "<name> Volume" filling whichever direction is missing.
func OpenControl(card uint, name string) (*Control, error) {
	m, err := alsa.MixerOpen(card)
	if err != nil {
		return nil, api.Wrap(api.ErrCodeDevice, "open mixer", err).WithContext("card", card)
	}
	c := &Control{mixer: m, card: card, name: name, elems: make(map[api.Direction]*element)}

	for dir, names := range volumeNames(name) {
		for _, full := range names {
			ctl, err := m.CtlByName(full)
			if err != nil || ctl.Type() != alsa.SNDRV_CTL_ELEM_TYPE_INTEGER {
				continue
			}
			c.elems[dir] = &element{ctl: ctl, name: full, channels: int(ctl.NumValues())}
			break
		}
	}
	if len(c.elems) == 0 {
		_ = m.Close()
		return nil, fmt.Errorf("mixer %q on card %d: %w", name, card, api.ErrNotFound)
	}

	if err := m.SubscribeEvents(true); err != nil {
		_ = m.Close()
		return nil, fmt.Errorf("mixer %q on card %d: %w", name, card, err)
	}
	return c, nil
}

// elem returns the element for dir, falling back to the other direction.
func (c *Control) elem(dir api.Direction) *element {
	if el := c.elems[dir]; el != nil {
		return el
	}
	for _, el := range c.elems {
		return el
	}
	return nil
}

func (el *element) limits() (lo, hi int64, err error) {
	rmin, err := el.ctl.RangeMin()
	if err != nil {
		return 0, 0, fmt.Errorf("range %s: %w", el.name, err)
	}
	rmax, err := el.ctl.RangeMax()
	if err != nil {
		return 0, 0, fmt.Errorf("range %s: %w", el.name, err)
	}
	return int64(rmin), int64(rmax), nil
}

// Card returns the card number.
func (c *Control) Card() uint { return c.card }

// Name returns the control name as given to OpenControl.
func (c *Control) Name() string { return c.name }

// Volume returns per-channel percentages for dir.
func (c *Control) Volume(dir api.Direction) ([]int, error) {
	el := c.elem(dir)
	lo, hi, err := el.limits()
	if err != nil {
		return nil, err
	}
	out := make([]int, el.channels)
	for i := range out {
		v, err := el.ctl.Value(uint(i))
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", el.name, err)
		}
		out[i] = toPercent(int64(v), lo, hi)
	}
	return out, nil
}

// SetVolume writes percent to one channel or every channel of the
// playback element.
func (c *Control) SetVolume(percent int, channel int) error {
	el := c.elem(api.Playback)
	if channel != api.AllChannels && (channel < 0 || channel >= el.channels) {
		return fmt.Errorf("%s channel %d: %w", el.name, channel, api.ErrInvalidArgument)
	}
	lo, hi, err := el.limits()
	if err != nil {
		return err
	}
	raw := int(fromPercent(percent, lo, hi))
	for i := 0; i < el.channels; i++ {
		if channel != api.AllChannels && channel != i {
			continue
		}
		if err := el.ctl.SetValue(uint(i), raw); err != nil {
			return fmt.Errorf("write %s: %w", el.name, err)
		}
	}
	return nil
}

// AcknowledgeEvents drains the queued change notifications. Events of a
// kind the mixer does not decode are consumed and skipped.
func (c *Control) AcknowledgeEvents() error {
	for i := 0; i < maxEventsPerAck; i++ {
		pending, err := c.mixer.WaitEvent(0)
		if err != nil {
			return fmt.Errorf("poll mixer events: %w", err)
		}
		if !pending {
			return nil
		}
		if err := c.mixer.ConsumeEvent(); err != nil {
			var errno syscall.Errno
			if errors.As(err, &errno) {
				return fmt.Errorf("read mixer event: %w", err)
			}
		}
	}
	return nil
}

func (c *Control) Descriptor(name string) (api.PollDescriptor, error) {
	fd := c.mixer.Fd()
	if fd == ^uintptr(0) {
		return api.PollDescriptor{}, fmt.Errorf("mixer descriptor: %w", api.ErrNotFound)
	}
	return api.PollDescriptor{Name: name, Fd: int(fd), Mask: api.EventReadable}, nil
}

func (c *Control) Close() error {
	return c.mixer.Close()
}
