// File: internal/volume/forwarder.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Mirrors capture mixer changes onto the playback mixer while playback runs.

package volume

import (
	"log/slog"

	"github.com/momentics/hioload-loopback/api"
	"github.com/momentics/hioload-loopback/control"
	"github.com/momentics/hioload-loopback/internal/logging"
)

// Metric keys published by the forwarder. The registry is the only view of
// forwarder state that other goroutines may read.
const (
	MetricActive   = "volume_active"
	MetricCached   = "volume_cached"
	MetricMirrored = "volume_changes"
)

// Forwarder copies the capture control volume to the playback control.
// It starts inactive; the engine activates it when playback opens.
type Forwarder struct {
	capture  api.VolumeControl
	playback api.VolumeControl
	log      *slog.Logger
	metrics  *control.MetricsRegistry

	active bool
	cached *int
}

// Option configures a Forwarder.
type Option func(*Forwarder)

// WithMetrics publishes forwarder state into mr.
func WithMetrics(mr *control.MetricsRegistry) Option {
	return func(f *Forwarder) { f.metrics = mr }
}

// NewForwarder creates an inactive forwarder. A nil logger selects the
// component logger.
func NewForwarder(capture, playback api.VolumeControl, log *slog.Logger, opts ...Option) *Forwarder {
	if log == nil {
		log = logging.L("volume")
	}
	f := &Forwarder{capture: capture, playback: playback, log: log}
	for _, o := range opts {
		o(f)
	}
	if f.metrics == nil {
		f.metrics = control.NewMetricsRegistry()
	}
	f.metrics.Set(MetricActive, false)
	return f
}

// Active reports whether changes are mirrored. Reactor goroutine only;
// other goroutines read MetricActive.
func (f *Forwarder) Active() bool { return f.active }

// Cached returns the playback volume saved by the last Stop.
func (f *Forwarder) Cached() (int, bool) {
	if f.cached == nil {
		return 0, false
	}
	return *f.cached, true
}

// Start activates mirroring and restores the cached playback volume.
func (f *Forwarder) Start() {
	f.active = true
	f.metrics.Set(MetricActive, true)
	if f.cached == nil {
		return
	}
	f.log.Info("restoring volume", "percent", *f.cached)
	if err := f.playback.SetVolume(*f.cached, api.AllChannels); err != nil {
		f.log.Warn("restoring playback volume failed", logging.KeyError, err)
	}
}

// Stop deactivates mirroring and snapshots the playback volume.
func (f *Forwarder) Stop() {
	f.active = false
	f.metrics.Set(MetricActive, false)
	levels, err := f.playback.Volume(api.Playback)
	if err != nil {
		f.log.Warn("reading playback volume failed", logging.KeyError, err)
		return
	}
	if len(levels) == 0 {
		return
	}
	v := levels[0]
	f.cached = &v
	f.metrics.Set(MetricCached, v)
	f.log.Info("saved volume", "percent", v)
}

// HandleEvent reacts to readiness of the capture control descriptor.
func (f *Forwarder) HandleEvent(fd int, mask api.EventMask, name string) bool {
	if !f.active {
		// consume the notification, the descriptor is level triggered
		if err := f.capture.AcknowledgeEvents(); err != nil {
			f.log.Warn("acknowledging mixer event failed", "name", name, logging.KeyError, err)
		}
		return false
	}

	levels, err := f.capture.Volume(api.Capture)
	if ackErr := f.capture.AcknowledgeEvents(); ackErr != nil {
		f.log.Warn("acknowledging mixer event failed", "name", name, logging.KeyError, ackErr)
	}
	if err != nil {
		f.log.Warn("reading capture volume failed", "name", name, logging.KeyError, err)
		return false
	}
	if len(levels) == 0 {
		f.log.Debug("capture control reports no channels", "name", name)
		return false
	}

	f.log.Info("adjusting volume", "name", name, "percent", levels[0])
	if err := f.playback.SetVolume(levels[0], api.AllChannels); err != nil {
		f.log.Warn("setting playback volume failed", logging.KeyError, err)
		return false
	}
	f.metrics.Inc(MetricMirrored)
	return true
}
