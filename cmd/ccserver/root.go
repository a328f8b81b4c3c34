// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 CollectConnect Contributors

package main

import (
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/collectconnect/ccserver/internal/config"
	"github.com/collectconnect/ccserver/internal/logging"
)

const serviceName = "ccserver"

// NewRootCmd creates the root command for the ccserver CLI.
// A nil deps uses the default implementations.
func NewRootCmd(deps *Deps) *cobra.Command {
	if deps == nil {
		deps = &Deps{}
	}

	cmd := &cobra.Command{
		Use:   "ccserver",
		Short: "CollectConnect identity server",
		Long: `ccserver owns CollectConnect player identity: device-bound login,
session keys, and diceware recovery phrases.`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().String("config", "", "config file path (default: XDG_CONFIG_HOME/ccserver/config.yaml if present)")
	config.RegisterFlags(cmd.PersistentFlags())

	cmd.AddCommand(NewCoreCmd(deps))
	cmd.AddCommand(NewMigrateCmd(deps))
	cmd.AddCommand(NewAccountCmd(deps))
	cmd.AddCommand(NewPhraseCmd(deps))

	return cmd
}

// loadConfig resolves the config file and layers cmd's flags over it.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, err := cmd.Flags().GetString("config")
	if err != nil {
		return nil, err //nolint:wrapcheck // flag is registered by NewRootCmd
	}
	if path == "" {
		if path, err = config.DefaultPath(); err != nil {
			return nil, err
		}
	}

	cfg, err := config.Load(path, cmd.Flags())
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// setupLogging installs the default logger described by cfg.
func setupLogging(cfg *config.Config) (*slog.Logger, error) {
	return logging.SetDefault(logging.Options{
		Service: serviceName,
		Version: version,
		Format:  cfg.Log.Format,
		Level:   cfg.Log.Level,
	})
}
