package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mihaimyh/gympass/pkg/membership"
)

func newSweepCommand(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Expire passes whose validity window has closed, once",
		RunE: func(cmd *cobra.Command, _ []string) error {
			st, closeStorage, err := openStorage(cmd.Context(), c.cfg, false)
			if err != nil {
				return err
			}
			defer closeStorage()

			sweeper := &membership.Sweeper{Storage: st}
			if ts, ok := st.(membership.TimeSource); ok {
				sweeper.TimeSource = ts
			}
			n, err := sweeper.RunOnce(cmd.Context())
			if err != nil {
				return fmt.Errorf("sweep: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "expired %d passes\n", n)
			return nil
		},
	}
}
