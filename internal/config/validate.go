package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/momentics/hioload-loopback/api"
	"github.com/momentics/hioload-loopback/internal/logging"
)

// ErrInvalidValue marks problems that cannot be clamped into range.
var ErrInvalidValue = errors.New("invalid configuration value")

var validLogLevels = map[string]bool{
	"debug":   true,
	"info":    true,
	"warn":    true,
	"warning": true,
	"error":   true,
}

func clampInt(errs []error, name string, v *int, lo, hi int) []error {
	if *v < lo {
		errs = append(errs, fmt.Errorf("%s %d is below minimum %d, clamping", name, *v, lo))
		*v = lo
	} else if *v > hi {
		errs = append(errs, fmt.Errorf("%s %d exceeds maximum %d, clamping", name, *v, hi))
		*v = hi
	}
	return errs
}

func clampDuration(errs []error, name string, v *time.Duration, lo, hi time.Duration) []error {
	if *v < lo {
		errs = append(errs, fmt.Errorf("%s %s is below minimum %s, clamping", name, *v, lo))
		*v = lo
	} else if *v > hi {
		errs = append(errs, fmt.Errorf("%s %s exceeds maximum %s, clamping", name, *v, hi))
		*v = hi
	}
	return errs
}

// Validate checks the config and returns every problem found. Values that
// would stall or crash the engine are clamped into range; the rest wrap
// ErrInvalidValue and are picked out by Rejected.
func (c *Config) Validate() []error {
	var errs []error

	errs = clampInt(errs, "rate", &c.Rate, 4000, 768000)
	errs = clampInt(errs, "channels", &c.Channels, 1, 32)
	errs = clampInt(errs, "period_size", &c.PeriodSize, 16, 65536)
	errs = clampInt(errs, "periods", &c.Periods, 2, 64)
	errs = clampInt(errs, "drain_threshold", &c.DrainThreshold, 1, 64)
	errs = clampInt(errs, "volume", &c.Volume, VolumeUnchanged, 100)

	errs = clampDuration(errs, "tick", &c.Tick, 10*time.Millisecond, 5*time.Second)
	errs = clampDuration(errs, "idle_timeout", &c.IdleTimeout, 100*time.Millisecond, time.Hour)
	errs = clampDuration(errs, "grace_period", &c.GracePeriod, time.Millisecond, time.Minute)
	errs = clampDuration(errs, "silence_window", &c.SilenceWindow, 100*time.Millisecond, time.Hour)
	errs = clampDuration(errs, "hook_timeout", &c.HookTimeout, time.Second, 10*time.Minute)

	if _, err := api.ParseSampleFormat(c.Format); err != nil {
		errs = append(errs, fmt.Errorf("format %q: %w (use s16_le or s32_le)", c.Format, ErrInvalidValue))
	}
	if c.LogLevel != "" && !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Errorf("log_level %q: %w (use debug, info, warn, error)", c.LogLevel, ErrInvalidValue))
	}
	if c.LogFormat != "" && c.LogFormat != "text" && c.LogFormat != "json" {
		errs = append(errs, fmt.Errorf("log_format %q: %w (use text or json)", c.LogFormat, ErrInvalidValue))
	}

	log := logging.L("config")
	for _, err := range errs {
		log.Warn("config validation", logging.KeyError, err)
	}
	return errs
}

// Rejected joins the problems of errs that Validate could not clamp, nil
// when the config is usable.
func Rejected(errs []error) error {
	var bad []error
	for _, err := range errs {
		if errors.Is(err, ErrInvalidValue) {
			bad = append(bad, err)
		}
	}
	return errors.Join(bad...)
}

// SampleFormat returns the parsed sample format, s16_le when invalid.
func (c *Config) SampleFormat() api.SampleFormat {
	f, _ := api.ParseSampleFormat(c.Format)
	return f
}

// StreamConfig returns the stream parameters for device.
func (c *Config) StreamConfig(device string) api.StreamConfig {
	return api.StreamConfig{
		Device:      device,
		Rate:        c.Rate,
		Channels:    c.Channels,
		Format:      c.SampleFormat(),
		PeriodSize:  c.PeriodSize,
		PeriodCount: c.Periods,
	}
}
