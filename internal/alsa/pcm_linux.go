//go:build linux
// +build linux

// File: internal/alsa/pcm_linux.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Non-blocking PCM streams on top of gen2brain/alsa.

package alsa

import (
	"errors"
	"fmt"
	"syscall"

	"github.com/gen2brain/alsa"

	"github.com/momentics/hioload-loopback/api"
	"github.com/momentics/hioload-loopback/internal/logging"
)

func pcmConfig(cfg api.StreamConfig) *alsa.Config {
	format := alsa.SNDRV_PCM_FORMAT_S16_LE
	if cfg.Format == api.FormatS32LE {
		format = alsa.SNDRV_PCM_FORMAT_S32_LE
	}
	return &alsa.Config{
		Channels:    uint32(cfg.Channels),
		Rate:        uint32(cfg.Rate),
		PeriodSize:  uint32(cfg.PeriodSize),
		PeriodCount: uint32(cfg.PeriodCount),
		Format:      format,
	}
}

// Capture is a non-blocking capture stream reading one period per call.
type Capture struct {
	pcm       *alsa.PCM
	buf       []byte
	frameSize int
}

// OpenCapture opens and starts the capture PCM name.
func OpenCapture(name string, cfg api.StreamConfig) (*Capture, error) {
	card, device, err := ParseDeviceName(name)
	if err != nil {
		return nil, err
	}
	pcm, err := alsa.PcmOpen(card, device, alsa.PCM_IN|alsa.PCM_NONBLOCK, pcmConfig(cfg))
	if err != nil {
		return nil, api.Wrap(api.ErrCodeDevice, "open capture", classify(err)).
			WithContext("device", name)
	}
	fs := int(pcm.FrameSize())
	c := &Capture{
		pcm:       pcm,
		buf:       make([]byte, int(pcm.PeriodSize())*fs),
		frameSize: fs,
	}
	if err := pcm.Start(); err != nil {
		logging.L("alsa").Debug("capture start deferred to first read", "device", name, logging.KeyError, err)
	}
	return c, nil
}

// Read returns a copy of the frames read, nil when none were ready.
func (c *Capture) Read() ([]byte, error) {
	frames, err := c.pcm.Read(c.buf)
	if err != nil {
		if errors.Is(err, syscall.EAGAIN) {
			return nil, nil
		}
		return nil, classify(err)
	}
	if frames <= 0 {
		return nil, nil
	}
	out := make([]byte, frames*c.frameSize)
	copy(out, c.buf)
	return out, nil
}

func (c *Capture) Descriptor(name string) (api.PollDescriptor, error) {
	fd := c.pcm.Fd()
	if fd == ^uintptr(0) {
		return api.PollDescriptor{}, fmt.Errorf("capture descriptor: %w", api.ErrNotFound)
	}
	return api.PollDescriptor{Name: name, Fd: int(fd), Mask: api.EventReadable}, nil
}

func (c *Capture) State() api.DeviceState {
	return api.DeviceState(c.pcm.State())
}

// Drop discards buffered frames and restarts the stream.
func (c *Capture) Drop() error {
	if err := c.pcm.Stop(); err != nil {
		return err
	}
	if err := c.pcm.Prepare(); err != nil {
		return err
	}
	return c.pcm.Start()
}

func (c *Capture) Close() error {
	return c.pcm.Close()
}

// Playback is a non-blocking playback stream that reports xruns instead of
// recovering from them.
type Playback struct {
	pcm       *alsa.PCM
	frameSize int
	buffer    int
}

// Open attempts to open the playback PCM.
func (o *PlaybackOpener) Open() api.OpenResult {
	card, device, err := ParseDeviceName(o.name)
	if err != nil {
		return api.OpenResult{Status: api.OpenFailed, Err: err}
	}
	pcm, err := alsa.PcmOpen(card, device, alsa.PCM_OUT|alsa.PCM_NONBLOCK|alsa.PCM_NORESTART, pcmConfig(o.cfg))
	if err != nil {
		err = classify(err)
		if errors.Is(err, api.ErrDeviceBusy) {
			return api.OpenResult{Status: api.OpenBusy, Err: err}
		}
		return api.OpenResult{Status: api.OpenFailed, Err: api.Wrap(api.ErrCodeDevice, "open playback", err).
			WithContext("device", o.name)}
	}
	o.period = int(pcm.PeriodSize())
	o.periods = int(pcm.PeriodCount())
	o.log.Debug("playback opened", "device", o.name, "buffer", pcm.BufferSize(), "period", o.period)
	return api.OpenResult{Status: api.Opened, Device: &Playback{
		pcm:       pcm,
		frameSize: int(pcm.FrameSize()),
		buffer:    int(pcm.BufferSize()),
	}}
}

// Write queues whole frames of p and returns the bytes accepted.
func (p *Playback) Write(b []byte) (int, error) {
	whole := len(b) - len(b)%p.frameSize
	if whole == 0 {
		return 0, nil
	}
	frames, err := p.pcm.Write(b[:whole])
	if err != nil {
		if errors.Is(err, syscall.EAGAIN) {
			return 0, nil
		}
		return 0, classify(err)
	}
	return frames * p.frameSize, nil
}

// Avail returns free buffer space in frames.
func (p *Playback) Avail() (int, error) {
	delay, err := p.pcm.Delay()
	if err != nil {
		return 0, classify(err)
	}
	avail := p.buffer - delay
	if avail < 0 {
		avail = 0
	}
	return avail, nil
}

func (p *Playback) Close() error {
	return p.pcm.Close()
}

// classify maps errno values onto the api sentinels.
func classify(err error) error {
	switch {
	case errors.Is(err, syscall.EPIPE):
		return fmt.Errorf("%w: %v", api.ErrXrun, err)
	case errors.Is(err, syscall.EBUSY):
		return fmt.Errorf("%w: %v", api.ErrDeviceBusy, err)
	}
	return err
}
