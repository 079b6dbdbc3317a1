package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newMigrateCommand(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if c.cfg.Storage.Driver != "postgres" {
				return fmt.Errorf("migrate needs the postgres storage driver, got %q", c.cfg.Storage.Driver)
			}
			_, closeStorage, err := openStorage(cmd.Context(), c.cfg, true)
			if err != nil {
				return err
			}
			defer closeStorage()

			c.log.Info().Msg("migrations applied")
			return nil
		},
	}
}
