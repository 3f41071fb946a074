// File: cmd/alsaloop/main.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// alsaloop forwards an ALSA capture device to a playback device, closing
// playback while the source is idle or silent.

package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/momentics/hioload-loopback/api"
	"github.com/momentics/hioload-loopback/internal/app"
	"github.com/momentics/hioload-loopback/internal/config"
	"github.com/momentics/hioload-loopback/internal/logging"
)

var (
	version = "0.1.0"
	cfgFile string
)

var rootCmd = &cobra.Command{
	Use:           "alsaloop",
	Short:         "ALSA loopback with volume forwarding",
	Long:          `alsaloop mirrors a capture device (e.g. a USB audio gadget) to a playback device in real time, optionally forwarding volume changes between their mixers.`,
	Version:       version,
	Args:          cobra.NoArgs,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(cfgFile, cmd.Flags())
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		logging.Init(cfg.LogFormat, cfg.LogLevel, os.Stderr)
		if err := config.Rejected(cfg.Validate()); err != nil {
			return &app.ExitError{Code: app.ExitFailure, Err: err}
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return app.Run(ctx, cfg)
	},
}

func init() {
	rootCmd.Flags().StringVar(&cfgFile, "config", "", "config file (default is "+config.DefaultFile+")")
	config.RegisterFlags(rootCmd.Flags())
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		var ee *app.ExitError
		if errors.As(err, &ee) {
			if ee.Code == app.ExitFailure && errors.Is(err, api.ErrInvalidMixerSpec) {
				_ = rootCmd.Usage()
			}
			os.Exit(ee.Code)
		}
		os.Exit(app.ExitFailure)
	}
}
