// Package config
// Author: momentics <momentics@gmail.com>
//
// Layered configuration: defaults, optional YAML file, ALSALOOP_* environment
// variables and command line flags, in increasing precedence.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// DefaultFile is read when no --config flag is given and it exists.
var DefaultFile = "/etc/alsaloop/alsaloop.yaml"

// EnvPrefix prefixes environment overrides, e.g. ALSALOOP_RATE.
const EnvPrefix = "ALSALOOP"

// VolumeUnchanged leaves the playback mixer level alone at startup.
const VolumeUnchanged = -1

type Config struct {
	Debug     bool   `mapstructure:"debug"`
	LogLevel  string `mapstructure:"log_level"`
	LogFormat string `mapstructure:"log_format"`

	Input      string `mapstructure:"input"`
	Output     string `mapstructure:"output"`
	Rate       int    `mapstructure:"rate"`
	Channels   int    `mapstructure:"channels"`
	PeriodSize int    `mapstructure:"period_size"`
	Periods    int    `mapstructure:"periods"`
	Format     string `mapstructure:"format"`

	InputMixer  string `mapstructure:"input_mixer"`
	OutputMixer string `mapstructure:"output_mixer"`
	Volume      int    `mapstructure:"volume"`

	RunBeforeStart string        `mapstructure:"run_before_start"`
	RunAfterStop   string        `mapstructure:"run_after_stop"`
	HookTimeout    time.Duration `mapstructure:"hook_timeout"`

	Tick             time.Duration `mapstructure:"tick"`
	IdleTimeout      time.Duration `mapstructure:"idle_timeout"`
	GracePeriod      time.Duration `mapstructure:"grace_period"`
	SilenceWindow    time.Duration `mapstructure:"silence_window"`
	DrainThreshold   int           `mapstructure:"drain_threshold"`
	SilenceDetection bool          `mapstructure:"silence_detection"`
}

// Default returns the stock configuration.
func Default() *Config {
	return &Config{
		LogLevel:         "info",
		LogFormat:        "text",
		Rate:             44100,
		Channels:         2,
		PeriodSize:       444,
		Periods:          2,
		Format:           "s16_le",
		Volume:           VolumeUnchanged,
		HookTimeout:      10 * time.Second,
		Tick:             250 * time.Millisecond,
		IdleTimeout:      2 * time.Second,
		GracePeriod:      500 * time.Millisecond,
		SilenceWindow:    2 * time.Second,
		DrainThreshold:   2,
		SilenceDetection: true,
	}
}

// flagKeys maps command line flags onto configuration keys.
var flagKeys = map[string]string{
	"debug":            "debug",
	"log-level":        "log_level",
	"log-format":       "log_format",
	"input":            "input",
	"output":           "output",
	"rate":             "rate",
	"channels":         "channels",
	"periodsize":       "period_size",
	"periods":          "periods",
	"format":           "format",
	"input-mixer":      "input_mixer",
	"output-mixer":     "output_mixer",
	"volume":           "volume",
	"run-before-start": "run_before_start",
	"run-after-stop":   "run_after_stop",
	"hook-timeout":     "hook_timeout",
	"tick":             "tick",
	"idle-timeout":     "idle_timeout",
	"grace-period":     "grace_period",
	"silence-window":   "silence_window",
	"drain-threshold":  "drain_threshold",
}

// RegisterFlags defines every configuration flag on fs.
func RegisterFlags(fs *pflag.FlagSet) {
	d := Default()
	fs.BoolP("debug", "d", false, "enable debug logging")
	fs.String("log-level", d.LogLevel, "log level (debug, info, warn, error)")
	fs.String("log-format", d.LogFormat, "log format (text, json)")
	fs.StringP("input", "i", "", "capture device, e.g. hw:1,0 (default: first capture PCM)")
	fs.StringP("output", "o", "", "playback device, e.g. hw:0,0 or wav:/path.wav (default: first playback PCM)")
	fs.IntP("rate", "r", d.Rate, "sample rate in Hz")
	fs.IntP("channels", "c", d.Channels, "channel count")
	fs.IntP("periodsize", "p", d.PeriodSize, "period size in frames")
	fs.IntP("periods", "P", d.Periods, "number of periods")
	fs.String("format", d.Format, "sample format (s16_le, s32_le)")
	fs.StringP("input-mixer", "I", "", "capture mixer control, may carry the card index, e.g. Digital:2")
	fs.StringP("output-mixer", "O", "", "playback mixer control, may carry the card index, e.g. PCM:1")
	fs.IntP("volume", "V", d.Volume, "initial playback volume in percent (-1 leaves it unchanged)")
	fs.StringP("run-before-start", "B", "", "command to run when the capture device becomes active")
	fs.StringP("run-after-stop", "A", "", "command to run when the capture device is idle or silent")
	fs.Duration("hook-timeout", d.HookTimeout, "maximum run time of a hook command")
	fs.Duration("tick", d.Tick, "reactor tick interval")
	fs.Duration("idle-timeout", d.IdleTimeout, "close playback after this long without capture events")
	fs.Duration("grace-period", d.GracePeriod, "wait before retrying a busy playback device")
	fs.Duration("silence-window", d.SilenceWindow, "close playback after this much digital silence")
	fs.Int("drain-threshold", d.DrainThreshold, "queued chunks before writing starts")
	fs.Bool("no-silence-detection", false, "keep playing through digital silence")
}

// Load resolves the configuration. cfgFile may be empty, in which case
// DefaultFile is read when present. flags may be nil.
func Load(cfgFile string, flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	setDefaults(v, Default())

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.SetConfigFile(DefaultFile)
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if cfgFile != "" || !(errors.As(err, &notFound) || isMissing(err)) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	if flags != nil {
		for name, key := range flagKeys {
			if f := flags.Lookup(name); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, fmt.Errorf("bind flag %s: %w", name, err)
				}
			}
		}
		if f := flags.Lookup("no-silence-detection"); f != nil && f.Changed && f.Value.String() == "true" {
			v.Set("silence_detection", false)
		}
	}

	cfg := Default()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if cfg.Debug {
		cfg.LogLevel = "debug"
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper, d *Config) {
	v.SetDefault("debug", d.Debug)
	v.SetDefault("log_level", d.LogLevel)
	v.SetDefault("log_format", d.LogFormat)
	v.SetDefault("input", d.Input)
	v.SetDefault("output", d.Output)
	v.SetDefault("rate", d.Rate)
	v.SetDefault("channels", d.Channels)
	v.SetDefault("period_size", d.PeriodSize)
	v.SetDefault("periods", d.Periods)
	v.SetDefault("format", d.Format)
	v.SetDefault("input_mixer", d.InputMixer)
	v.SetDefault("output_mixer", d.OutputMixer)
	v.SetDefault("volume", d.Volume)
	v.SetDefault("run_before_start", d.RunBeforeStart)
	v.SetDefault("run_after_stop", d.RunAfterStop)
	v.SetDefault("hook_timeout", d.HookTimeout)
	v.SetDefault("tick", d.Tick)
	v.SetDefault("idle_timeout", d.IdleTimeout)
	v.SetDefault("grace_period", d.GracePeriod)
	v.SetDefault("silence_window", d.SilenceWindow)
	v.SetDefault("drain_threshold", d.DrainThreshold)
	v.SetDefault("silence_detection", d.SilenceDetection)
}

func isMissing(err error) bool {
	return errors.Is(err, fs.ErrNotExist)
}
