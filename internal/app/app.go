// Package app
// Author: momentics <momentics@gmail.com>
//
// Startup wiring: device discovery, capture and playback backends, mixer
// forwarding, the loopback engine and the reactor loop.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/momentics/hioload-loopback/api"
	"github.com/momentics/hioload-loopback/control"
	"github.com/momentics/hioload-loopback/internal/alsa"
	"github.com/momentics/hioload-loopback/internal/config"
	"github.com/momentics/hioload-loopback/internal/logging"
	"github.com/momentics/hioload-loopback/internal/loopback"
	"github.com/momentics/hioload-loopback/internal/volume"
	"github.com/momentics/hioload-loopback/internal/wavsink"
	"github.com/momentics/hioload-loopback/reactor"
)

// Exit codes reported to the operator.
const (
	ExitFailure  = 1
	ExitNoDevice = 2
)

// ExitError carries the process exit code of a startup failure.
type ExitError struct {
	Code int
	Err  error
}

func (e *ExitError) Error() string { return e.Err.Error() }
func (e *ExitError) Unwrap() error { return e.Err }

func exit(code int, err error) error {
	return &ExitError{Code: code, Err: err}
}

// EngineOptions translates the configuration into engine policy.
func EngineOptions(cfg *config.Config) loopback.Options {
	return loopback.Options{
		IdleTimeout:      cfg.IdleTimeout,
		OpenGracePeriod:  cfg.GracePeriod,
		SilenceWindow:    cfg.SilenceWindow,
		DrainThreshold:   cfg.DrainThreshold,
		SilenceDetection: cfg.SilenceDetection,
		RunBeforeStart:   cfg.RunBeforeStart,
		RunAfterStop:     cfg.RunAfterStop,
		HookTimeout:      cfg.HookTimeout,
		Rate:             cfg.Rate,
		Channels:         cfg.Channels,
		PeriodSize:       cfg.PeriodSize,
		PeriodCount:      cfg.Periods,
		Format:           cfg.SampleFormat(),
	}
}

// devices picks the capture and playback identifiers, defaulting to the
// first PCM of each direction.
func devices(cfg *config.Config) (input, output string, err error) {
	captures, err := alsa.ListPCMs(api.Capture)
	if err != nil {
		return "", "", exit(ExitFailure, err)
	}
	if len(captures) == 0 {
		return "", "", exit(ExitNoDevice, api.ErrNoCaptureDevice)
	}
	input = cfg.Input
	if input == "" {
		input = captures[0]
	}

	output = cfg.Output
	if wavsink.IsWAV(output) {
		return input, output, nil
	}
	playbacks, err := alsa.ListPCMs(api.Playback)
	if err != nil {
		return "", "", exit(ExitFailure, err)
	}
	if len(playbacks) == 0 {
		return "", "", exit(ExitNoDevice, api.ErrNoPlaybackDevice)
	}
	if output == "" {
		output = playbacks[0]
	}
	return input, output, nil
}

// mixerSpecs parses the mixer flags. Forwarding needs both.
func mixerSpecs(cfg *config.Config, log *slog.Logger) (in, out *alsa.MixerSpec, err error) {
	if cfg.InputMixer == "" && cfg.OutputMixer == "" {
		return nil, nil, nil
	}
	if cfg.InputMixer == "" || cfg.OutputMixer == "" {
		log.Warn("volume forwarding needs both input and output mixers", "input_mixer", cfg.InputMixer, "output_mixer", cfg.OutputMixer)
	}
	parse := func(s string) (*alsa.MixerSpec, error) {
		if s == "" {
			return nil, nil
		}
		spec, err := alsa.ParseMixerSpec(s)
		if err != nil {
			return nil, exit(ExitFailure, err)
		}
		return &spec, nil
	}
	if in, err = parse(cfg.InputMixer); err != nil {
		return nil, nil, err
	}
	if out, err = parse(cfg.OutputMixer); err != nil {
		return nil, nil, err
	}
	return in, out, nil
}

// mixerCard returns the card of spec, or the card of device when the spec
// does not name one.
func mixerCard(spec *alsa.MixerSpec, device string) (uint, error) {
	if spec.HasCard {
		return spec.Card, nil
	}
	card, _, err := alsa.ParseDeviceName(device)
	return card, err
}

// Run starts the loopback and blocks until ctx is cancelled.
func Run(ctx context.Context, cfg *config.Config) error {
	log := logging.L("app")

	input, output, err := devices(cfg)
	if err != nil {
		log.Error("no usable audio device", logging.KeyError, err)
		return err
	}
	inMixer, outMixer, err := mixerSpecs(cfg, log)
	if err != nil {
		log.Error("invalid mixer specification", logging.KeyError, err)
		return err
	}

	capture, err := alsa.OpenCapture(input, cfg.StreamConfig(input))
	if err != nil {
		return exit(ExitFailure, fmt.Errorf("capture %s: %w", input, err))
	}
	captureOwned := true
	defer func() {
		if captureOwned {
			capture.Close()
		}
	}()

	var opener api.PlaybackOpener
	if wavsink.IsWAV(output) {
		opener = wavsink.NewOpener(output, cfg.StreamConfig(output))
	} else {
		opener = alsa.NewPlaybackOpener(output, cfg.StreamConfig(output))
	}

	poller, err := reactor.NewPoller()
	if err != nil {
		return exit(ExitFailure, fmt.Errorf("poller: %w", err))
	}
	r := reactor.New(poller, reactor.WithTick(cfg.Tick))
	defer r.Close()

	metrics := control.NewMetricsRegistry()
	probes := control.NewDebugProbes()
	probes.RegisterMetrics("engine", metrics)
	control.RegisterPlatformProbes(probes)
	probes.RegisterProbe("devices", func() any {
		return map[string]string{"input": input, "output": output}
	})

	deps := []loopback.Option{loopback.WithMetrics(metrics)}

	if inMixer != nil && outMixer != nil {
		fwd, closeMixers, err := setupForwarder(r, metrics, inMixer, outMixer, input, output, cfg.Volume, log)
		if err != nil {
			return exit(ExitFailure, err)
		}
		defer closeMixers()
		deps = append(deps, loopback.WithForwarder(fwd))
	}

	engine := loopback.New(capture, opener, EngineOptions(cfg), deps...)
	captureOwned = false
	defer engine.Close()
	if err := engine.Register(r); err != nil {
		return exit(ExitFailure, err)
	}
	if err := engine.Start(); err != nil {
		return exit(ExitFailure, err)
	}

	stopDump := watchDumpSignal(ctx, probes, log)
	defer stopDump()

	log.Info("loopback running",
		"input", input, "output", output,
		"rate", cfg.Rate, "channels", cfg.Channels,
		"period_size", cfg.PeriodSize, "periods", cfg.Periods,
		"silence_periods", engine.SilencePeriods())

	err = r.Run(ctx)
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		log.Info("shutting down", "metrics", metrics.GetSnapshot())
		return nil
	}
	return err
}

func setupForwarder(r *reactor.Reactor, metrics *control.MetricsRegistry, inSpec, outSpec *alsa.MixerSpec, input, output string, initial int, log *slog.Logger) (*volume.Forwarder, func() error, error) {
	inCard, err := mixerCard(inSpec, input)
	if err != nil {
		return nil, nil, fmt.Errorf("input mixer card: %w", err)
	}
	outCard, err := mixerCard(outSpec, output)
	if err != nil {
		return nil, nil, fmt.Errorf("output mixer card: %w", err)
	}

	capCtl, err := alsa.OpenControl(inCard, inSpec.Control)
	if err != nil {
		return nil, nil, fmt.Errorf("input mixer %s: %w", inSpec, err)
	}
	pbCtl, err := alsa.OpenControl(outCard, outSpec.Control)
	if err != nil {
		capCtl.Close()
		return nil, nil, fmt.Errorf("output mixer %s: %w", outSpec, err)
	}
	closeAll := func() error {
		return errors.Join(capCtl.Close(), pbCtl.Close())
	}

	if initial != config.VolumeUnchanged {
		if err := pbCtl.SetVolume(initial, api.AllChannels); err != nil {
			log.Warn("setting initial volume failed", logging.KeyError, err)
		}
	}

	fwd := volume.NewForwarder(capCtl, pbCtl, nil, volume.WithMetrics(metrics))
	pd, err := capCtl.Descriptor("capture_control")
	if err == nil {
		err = r.Register(pd, fwd)
	}
	if err != nil {
		closeAll()
		return nil, nil, fmt.Errorf("register input mixer: %w", err)
	}
	log.Info("volume forwarding enabled", "input_mixer", inSpec.String(), "input_card", inCard,
		"output_mixer", outSpec.String(), "output_card", outCard)
	return fwd, closeAll, nil
}
