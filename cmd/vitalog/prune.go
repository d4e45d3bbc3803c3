// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Vitalog Contributors

package main

import (
	"github.com/samber/oops"
	"github.com/spf13/cobra"

	authpg "github.com/vitalog/vitalog/internal/auth/postgres"
	"github.com/vitalog/vitalog/internal/config"
	"github.com/vitalog/vitalog/internal/store"
)

// newPruneTokensCmd creates the prune-tokens subcommand.
func newPruneTokensCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "prune-tokens",
		Short: "Delete expired account tokens",
		Long: `Delete session and email tokens past their validity window.
Run periodically; expired tokens are already rejected at read time, so
pruning only reclaims storage.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(configFile, cmd.Flags())
			if err != nil {
				return err
			}
			return runPruneTokens(cmd, cfg)
		},
	}
}

func runPruneTokens(cmd *cobra.Command, cfg *config.Config) error {
	if cfg.DatabaseURL == "" {
		return oops.Code("CONFIG_INVALID").Errorf("database_url is required")
	}

	ctx := cmd.Context()

	pool, err := store.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer pool.Close()

	deleted, err := authpg.NewTokenRepository(pool).DeleteExpired(ctx)
	if err != nil {
		return err
	}

	cmd.Printf("Pruned %d expired tokens\n", deleted)
	return nil
}
