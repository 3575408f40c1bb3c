package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/vladimir-ks/statusline-broker/internal/cleanup"
)

func newSweepCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Force-run the cleanup sweeper regardless of its 24h cooldown",
		RunE: func(cmd *cobra.Command, args []string) error {
			lo := newLayout(flags.baseDir)
			sweeper := cleanup.New(lo.base, lo.cooldowns, lo.refreshIntents)
			if err := sweeper.ForceSweep(); err != nil {
				return fmt.Errorf("sweep: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "sweep complete")
			return nil
		},
	}
}
