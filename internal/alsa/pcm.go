// File: internal/alsa/pcm.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package alsa

import (
	"log/slog"

	"github.com/momentics/hioload-loopback/api"
	"github.com/momentics/hioload-loopback/internal/logging"
)

// PlaybackOpener opens the configured playback PCM on demand. The period
// geometry reported after a successful open is the one the hardware chose.
type PlaybackOpener struct {
	name    string
	cfg     api.StreamConfig
	period  int
	periods int
	log     *slog.Logger
}

// NewPlaybackOpener prepares an opener for device name.
func NewPlaybackOpener(name string, cfg api.StreamConfig) *PlaybackOpener {
	return &PlaybackOpener{
		name:    name,
		cfg:     cfg,
		period:  cfg.PeriodSize,
		periods: cfg.PeriodCount,
		log:     logging.L("alsa"),
	}
}

// Name returns the device identifier.
func (o *PlaybackOpener) Name() string { return o.name }

func (o *PlaybackOpener) PeriodSize() int  { return o.period }
func (o *PlaybackOpener) PeriodCount() int { return o.periods }
