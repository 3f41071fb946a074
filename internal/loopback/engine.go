// File: internal/loopback/engine.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Capture to playback state machine. Every method runs on the reactor
// goroutine; the engine holds no locks.

package loopback

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/momentics/hioload-loopback/api"
	"github.com/momentics/hioload-loopback/control"
	"github.com/momentics/hioload-loopback/internal/logging"
)

// Metric keys published by the engine.
const (
	MetricState          = "state"
	MetricChunksCaptured = "chunks_captured"
	MetricBytesWritten   = "bytes_written"
	MetricPartialWrites  = "partial_writes"
	MetricOverruns       = "overruns"
	MetricXruns          = "xruns"
	MetricOpenAttempts   = "open_attempts"
	MetricBusyFailures   = "busy_failures"
	MetricSilenceCloses  = "silence_closes"
	MetricIdleCloses     = "idle_closes"
)

// Options holds the engine policy constants.
type Options struct {
	// IdleTimeout closes playback when no capture event arrived for this long.
	IdleTimeout time.Duration
	// OpenGracePeriod is the minimum wait before retrying a failed open.
	OpenGracePeriod time.Duration
	// SilenceWindow is the duration of digital silence that closes playback.
	SilenceWindow time.Duration
	// DrainThreshold is the queue depth at which writing starts.
	DrainThreshold int
	// SilenceDetection enables the energy based shutdown path.
	SilenceDetection bool

	RunBeforeStart string
	RunAfterStop   string
	HookTimeout    time.Duration

	// Capture stream parameters.
	Rate        int
	Channels    int
	PeriodSize  int
	PeriodCount int
	Format      api.SampleFormat
}

// DefaultOptions returns the stock policy for a 44.1kHz stereo stream.
func DefaultOptions() Options {
	return Options{
		IdleTimeout:      2 * time.Second,
		OpenGracePeriod:  500 * time.Millisecond,
		SilenceWindow:    2 * time.Second,
		DrainThreshold:   2,
		SilenceDetection: true,
		HookTimeout:      10 * time.Second,
		Rate:             44100,
		Channels:         2,
		PeriodSize:       444,
		PeriodCount:      2,
		Format:           api.FormatS16LE,
	}
}

// withDefaults fills unset numeric fields. Booleans are taken as given.
func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.IdleTimeout <= 0 {
		o.IdleTimeout = d.IdleTimeout
	}
	if o.OpenGracePeriod <= 0 {
		o.OpenGracePeriod = d.OpenGracePeriod
	}
	if o.SilenceWindow <= 0 {
		o.SilenceWindow = d.SilenceWindow
	}
	if o.DrainThreshold <= 0 {
		o.DrainThreshold = d.DrainThreshold
	}
	if o.HookTimeout <= 0 {
		o.HookTimeout = d.HookTimeout
	}
	if o.Rate <= 0 {
		o.Rate = d.Rate
	}
	if o.Channels <= 0 {
		o.Channels = d.Channels
	}
	if o.PeriodSize <= 0 {
		o.PeriodSize = d.PeriodSize
	}
	if o.PeriodCount <= 0 {
		o.PeriodCount = d.PeriodCount
	}
	return o
}

// Forwarder is notified when playback starts and stops.
type Forwarder interface {
	Start()
	Stop()
}

// Option injects an engine dependency.
type Option func(*Engine)

// WithForwarder attaches a volume forwarder.
func WithForwarder(f Forwarder) Option {
	return func(e *Engine) { e.forwarder = f }
}

// WithClock replaces the wall clock.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithRunner replaces the hook command runner.
func WithRunner(r CommandRunner) Option {
	return func(e *Engine) { e.runner = r }
}

// WithMetrics publishes counters to mr.
func WithMetrics(mr *control.MetricsRegistry) Option {
	return func(e *Engine) { e.metrics = mr }
}

// WithLogger sets the engine logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.log = l }
}

// Engine forwards capture chunks to a playback device opened on demand.
type Engine struct {
	capture api.CaptureDevice
	opener  api.PlaybackOpener
	opts    Options

	forwarder Forwarder
	runner    CommandRunner
	metrics   *control.MetricsRegistry
	log       *slog.Logger
	now       func() time.Time

	beforeStart hook
	afterStop   hook

	state        State
	started      bool
	startHookRan bool
	playback     api.PlaybackDevice
	pending      *PendingBuffer

	lastCaptureEvent time.Time
	lastStateChange  time.Time
	silenceStart     time.Time
	silentChunks     int
	silencePeriods   int
}

// New creates an engine in the Listening state. Start must be called
// before the first capture event is dispatched.
func New(capture api.CaptureDevice, opener api.PlaybackOpener, opts Options, deps ...Option) *Engine {
	e := &Engine{
		capture: capture,
		opener:  opener,
		opts:    opts.withDefaults(),
		runner:  ExecRunner{},
		log:     logging.L("loopback"),
		now:     time.Now,
		pending: NewPendingBuffer(),
		state:   StateListening,
	}
	for _, d := range deps {
		d(e)
	}
	if e.metrics == nil {
		e.metrics = control.NewMetricsRegistry()
	}
	e.beforeStart = newHook("before-start", e.opts.RunBeforeStart, e.opts.HookTimeout, e.runner, e.log)
	e.afterStop = newHook("after-stop", e.opts.RunAfterStop, e.opts.HookTimeout, e.runner, e.log)
	e.silencePeriods = SilencePeriods(e.opts.SilenceWindow, e.opts.Rate, e.opts.PeriodSize)
	e.metrics.Set(MetricState, e.state.String())
	return e
}

// Register attaches the capture descriptor and the idle check to r.
func (e *Engine) Register(r api.Registrar) error {
	pd, err := e.capture.Descriptor("capture")
	if err != nil {
		return fmt.Errorf("capture descriptor: %w", err)
	}
	if err := r.Register(pd, e); err != nil {
		return err
	}
	r.RegisterTimeoutHandler(e)
	return nil
}

// Start primes the capture stream. It may be called once.
func (e *Engine) Start() error {
	if e.started {
		return fmt.Errorf("engine already started: %w", api.ErrInvalidArgument)
	}
	e.started = true
	data, err := e.capture.Read()
	if err != nil {
		return fmt.Errorf("initial capture read: %w", err)
	}
	if len(data) > 0 {
		e.log.Warn("initial data discarded", "bytes", len(data))
	}
	e.state = StateListening
	e.lastStateChange = e.now()
	e.metrics.Set(MetricState, e.state.String())
	return nil
}

// State returns the current capture state.
func (e *Engine) State() State { return e.state }

// Pending returns the number of queued chunks.
func (e *Engine) Pending() int { return e.pending.Len() }

// SilencePeriods returns the silent chunk count that closes playback.
func (e *Engine) SilencePeriods() int { return e.silencePeriods }

// Metrics returns the registry the engine publishes to.
func (e *Engine) Metrics() *control.MetricsRegistry { return e.metrics }

// SetState requests a transition to Listening or Playing and returns the
// resulting state. DeviceBusy cannot be requested.
func (e *Engine) SetState(target State) State {
	if target == StateDeviceBusy {
		e.log.Error("state cannot be requested directly", logging.KeyState, target.String())
		return e.state
	}
	return e.transition(target)
}

func (e *Engine) transition(target State) State {
	if e.state == target {
		return e.state
	}
	switch target {
	case StateListening:
		e.stopPlayback()
	case StatePlaying:
		if e.state == StateDeviceBusy && e.now().Sub(e.lastStateChange) < e.opts.OpenGracePeriod {
			return e.state
		}
		e.startPlayback()
	}
	return e.state
}

func (e *Engine) setState(s State) {
	if s != e.state {
		e.log.Info("state change", "from", e.state.String(), "to", s.String())
	}
	e.state = s
	e.lastStateChange = e.now()
	e.metrics.Set(MetricState, s.String())
}

func (e *Engine) startPlayback() {
	if e.state == StateListening {
		e.beforeStart.run()
		e.startHookRan = e.beforeStart.configured()
	}

	e.metrics.Inc(MetricOpenAttempts)
	res := e.opener.Open()
	switch res.Status {
	case api.Opened:
		e.playback = res.Device
		e.pending.Reset()
		e.log.Info("opened playback device",
			"period_size", e.opener.PeriodSize(), "periods", e.opener.PeriodCount())
		if e.forwarder != nil {
			e.forwarder.Start()
		}
		e.setState(StatePlaying)
	case api.OpenBusy:
		e.metrics.Inc(MetricBusyFailures)
		e.log.Warn("playback device busy", "retry_after", e.opts.OpenGracePeriod, logging.KeyError, res.Err)
		e.setState(StateDeviceBusy)
	default:
		e.log.Error("opening playback device failed", "retry_after", e.opts.OpenGracePeriod, logging.KeyError, res.Err)
		e.setState(StateDeviceBusy)
	}
}

func (e *Engine) stopPlayback() {
	from := e.state
	if e.playback != nil {
		if err := e.playback.Close(); err != nil {
			e.log.Warn("closing playback device", logging.KeyError, err)
		}
		e.playback = nil
	}
	e.pending.Reset()
	e.lastCaptureEvent = time.Time{}
	e.silenceStart = time.Time{}
	e.silentChunks = 0
	if from == StatePlaying && e.forwarder != nil {
		e.forwarder.Stop()
	}
	e.setState(StateListening)

	if from == StatePlaying || e.startHookRan {
		e.afterStop.run()
	}
	e.startHookRan = false
}

// HandleEvent processes capture readiness.
func (e *Engine) HandleEvent(fd int, mask api.EventMask, name string) bool {
	if mask.Has(api.EventError) {
		e.log.Warn("capture fault", "name", name, "mask", mask.String(), "device_state", e.capture.State().String())
		if err := e.capture.Drop(); err != nil {
			e.log.Warn("capture drop failed", logging.KeyError, err)
		}
	}

	now := e.now()
	e.lastCaptureEvent = now
	data, err := e.capture.Read()
	if err != nil {
		e.log.Warn("capture read failed", logging.KeyError, err)
		return false
	}
	if len(data) == 0 {
		e.log.Warn("capture event but no data", "name", name)
		return false
	}
	e.metrics.Inc(MetricChunksCaptured)

	silent := false
	if e.opts.SilenceDetection {
		if Energy(data, e.opts.Format) == 0 {
			silent = true
			e.silentChunks++
			if e.silenceStart.IsZero() {
				e.silenceStart = now
			}
			if e.silentChunks >= e.silencePeriods {
				if e.state != StateListening {
					e.log.Info("sustained silence, closing playback",
						"periods", e.silentChunks, "since", e.silenceStart)
					e.metrics.Inc(MetricSilenceCloses)
					e.transition(StateListening)
				}
				return false
			}
		} else {
			e.silentChunks = 0
			e.silenceStart = time.Time{}
		}
	}

	// silence never starts a new cycle
	if e.state == StateListening && silent {
		return false
	}
	if e.transition(StatePlaying) != StatePlaying {
		e.log.Debug("capture data discarded", logging.KeyState, e.state.String(), "bytes", len(data))
		return false
	}

	e.pending.PushBack(data)
	e.drain(silent)
	return true
}

// drain writes queued chunks while the device has headroom for them.
func (e *Engine) drain(silent bool) {
	if e.pending.Len() < e.opts.DrainThreshold {
		e.log.Debug("buffering", "pending", e.pending.Len())
		return
	}
	period := e.opener.PeriodSize()
	depthCap := e.opener.PeriodCount() - 1
	if depthCap < 0 {
		depthCap = 0
	}

	for e.pending.Len() > 0 && e.playback != nil {
		avail, err := e.playback.Avail()
		if err != nil {
			if errors.Is(err, api.ErrXrun) {
				e.recoverXrun(err)
				return
			}
			e.log.Warn("playback avail failed", logging.KeyError, err)
			return
		}
		behind := min(e.pending.Len()-1, depthCap)
		if avail <= period*behind {
			e.log.Debug("playback buffer full", "avail", avail, "pending", e.pending.Len())
			return
		}

		chunk := e.pending.Pop()
		n, err := e.playback.Write(chunk)
		if err != nil {
			e.pending.PushFront(chunk)
			if errors.Is(err, api.ErrXrun) {
				e.recoverXrun(err)
				return
			}
			e.log.Warn("playback write failed", logging.KeyError, err)
			return
		}
		e.metrics.Add(MetricBytesWritten, int64(n))
		switch {
		case n == 0:
			e.pending.PushFront(chunk)
			e.metrics.Inc(MetricOverruns)
			e.log.Warn("playback overrun, write accepted nothing", "avail", avail)
			return
		case n < len(chunk):
			e.pending.PushFront(chunk[n:])
			e.metrics.Inc(MetricPartialWrites)
			e.log.Debug("partial write", "written", n, "requested", len(chunk))
			return
		}
		e.log.Debug("wrote chunk", "bytes", n, "avail", avail, "silence", silent)
	}
}

// recoverXrun reopens playback. Unwritten data stays queued.
func (e *Engine) recoverXrun(cause error) {
	e.metrics.Inc(MetricXruns)
	e.log.Warn("playback underrun, reopening device", logging.KeyError, cause)
	if err := e.playback.Close(); err != nil {
		e.log.Warn("closing playback device", logging.KeyError, err)
	}
	e.playback = nil

	e.metrics.Inc(MetricOpenAttempts)
	res := e.opener.Open()
	if res.Status == api.Opened {
		e.playback = res.Device
		return
	}
	if res.Status == api.OpenBusy {
		e.metrics.Inc(MetricBusyFailures)
	}
	e.log.Warn("reopen after underrun failed", logging.KeyError, res.Err)
	e.transition(StateListening)
}

// HandleTimeout closes playback when capture has gone quiet.
func (e *Engine) HandleTimeout() {
	if e.state != StatePlaying {
		return
	}
	// playback requested without capture traffic idles from the transition
	last := e.lastCaptureEvent
	if last.IsZero() {
		last = e.lastStateChange
	}
	if idle := e.now().Sub(last); idle >= e.opts.IdleTimeout {
		e.log.Info("timeout, closing playback device", "idle", idle)
		e.metrics.Inc(MetricIdleCloses)
		e.transition(StateListening)
	}
}

// Close releases both devices without running hooks.
func (e *Engine) Close() error {
	var errs []error
	if e.playback != nil {
		errs = append(errs, e.playback.Close())
		e.playback = nil
	}
	errs = append(errs, e.capture.Close())
	return errors.Join(errs...)
}
