// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/Thermoquad/billbridge/pkg/config"
	"github.com/Thermoquad/billbridge/pkg/logging"
)

var (
	cfgFile       string
	logLevel      string
	wsNoSSLVerify bool
)

var rootCmd = &cobra.Command{
	Use:   "billbridge",
	Short: "CCNET bill validator protocol converter",
	Long: `Billbridge - Lets a CCNET host drive an ID003 or ccTalk bill validator.

The host talks CCNET on the upstream link as if a CCNET validator were
attached. Billbridge polls the real validator on the downstream link, keeps
its status fresh and answers every host command in the validator's protocol.

Configuration is read from billbridge.yaml (./ or /etc/billbridge/), from
--config, and from BILLBRIDGE_ environment variables such as
BILLBRIDGE_DOWNSTREAM_PORT=/dev/ttyUSB1.

Links may be local serial ports or WebSocket serial bridges (url: ws://...).
For WebSocket authentication, the password is read from the BILLBRIDGE_PASSWORD
environment variable, or prompted interactively if not set.`,
	Version:      "1.0.0",
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "Config file (default ./billbridge.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Log level: error, warn, proto, info, debug")
	rootCmd.PersistentFlags().BoolVar(&wsNoSSLVerify, "no-ssl-verify", false, "Skip TLS certificate verification (wss:// only)")
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

// loadConfig reads the configuration with command line overrides applied
func loadConfig() (*viper.Viper, *config.Config, error) {
	v := config.New(cfgFile)
	if err := v.BindPFlag("log.level", rootCmd.PersistentFlags().Lookup("log-level")); err != nil {
		return nil, nil, err
	}
	cfg, err := config.Load(v)
	if err != nil {
		return nil, nil, err
	}
	return v, cfg, nil
}

// newLogger builds a logger whose level can be changed later
func newLogger(w io.Writer, level string) (*slog.Logger, *slog.LevelVar, error) {
	l, err := logging.ParseLevel(level)
	if err != nil {
		return nil, nil, err
	}
	lv := new(slog.LevelVar)
	lv.Set(l)
	return logging.New(w, lv), lv, nil
}

// linkConfig picks a link by role
func linkConfig(cfg *config.Config, role string) (config.LinkConfig, error) {
	switch role {
	case config.RoleUpstream:
		return cfg.Upstream, nil
	case config.RoleDownstream:
		return cfg.Downstream, nil
	default:
		return config.LinkConfig{}, fmt.Errorf("unknown link %q (use upstream or downstream)", role)
	}
}
