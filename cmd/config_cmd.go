// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/Thermoquad/billbridge/pkg/config"
)

var configStorePath string

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect or persist the configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration",
	Long: `Print the configuration after defaults, the config file, environment
variables and flags are merged.`,
	RunE: runConfigShow,
}

var configSaveCmd = &cobra.Command{
	Use:   "save",
	Short: "Store both interface settings",
	Long: `Write the effective upstream and downstream interface settings to the
config store, where 'run --store' picks them up.`,
	RunE: runConfigSave,
}

var configLoadCmd = &cobra.Command{
	Use:   "load",
	Short: "Print the stored interface settings",
	RunE:  runConfigLoad,
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configShowCmd, configSaveCmd, configLoadCmd)
	configCmd.PersistentFlags().StringVar(&configStorePath, "store", "", "Config store path (default store.path)")
}

func printYAML(v interface{}) error {
	enc := yaml.NewEncoder(os.Stdout)
	enc.SetIndent(2)
	if err := enc.Encode(v); err != nil {
		return err
	}
	return enc.Close()
}

func openConfigStore(cfg *config.Config) (*config.Store, error) {
	path := configStorePath
	if path == "" {
		path = cfg.Store.Path
	}
	if path == "" {
		return nil, errors.New("no store configured (use --store or store.path)")
	}
	return config.OpenStore(path)
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	v, cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if used := v.ConfigFileUsed(); used != "" {
		fmt.Printf("# %s\n", used)
	} else {
		fmt.Printf("# defaults only\n")
	}
	return printYAML(cfg)
}

func runConfigSave(cmd *cobra.Command, args []string) error {
	_, cfg, err := loadConfig()
	if err != nil {
		return err
	}
	store, err := openConfigStore(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	if err := store.SaveInterfaces(cfg.Upstream, cfg.Downstream); err != nil {
		return err
	}
	fmt.Printf("Saved interface settings (upstream %s, downstream %s)\n", cfg.Upstream.Protocol, cfg.Downstream.Protocol)
	return nil
}

func runConfigLoad(cmd *cobra.Command, args []string) error {
	_, cfg, err := loadConfig()
	if err != nil {
		return err
	}
	store, err := openConfigStore(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	up, down, err := store.LoadInterfaces()
	if err != nil {
		return err
	}
	return printYAML(map[string]config.LinkConfig{
		config.RoleUpstream:   up,
		config.RoleDownstream: down,
	})
}
