// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Vitalog Contributors

package main

import (
	"github.com/spf13/cobra"
)

// Global flags available to all subcommands.
var configFile string

// NewRootCmd creates the root command for the vitalog CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "vitalog",
		Short: "Vitalog - personal health tracking",
		Long: `Vitalog is a personal health tracking web application with
email/password accounts, confirmed email flows, and session management.`,
	}

	// Global flag for config file path
	cmd.PersistentFlags().StringVar(&configFile, "config", "", "config file path")

	// Add subcommands
	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newMigrateCmd())
	cmd.AddCommand(newPruneTokensCmd())

	return cmd
}
