package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ccamacho/madison/internal/store"
)

func newMigrateCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:       "migrate <up|down>",
		Short:     "Apply or roll back schema migrations",
		Long:      `Migrate up applies every pending migration. Migrate down runs every down migration in reverse and clears the ledger.`,
		Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
		ValidArgs: []string{"up", "down"},
		RunE: func(cmd *cobra.Command, args []string) error {
			var err error
			if args[0] == "up" {
				err = store.ApplyMigrations(cmd.Context(), c.db, store.Migrations())
			} else {
				err = store.RollbackMigrations(cmd.Context(), c.db, store.Migrations())
			}
			if err != nil {
				return fmt.Errorf("migrate %s: %w", args[0], err)
			}
			c.logger.Info().Str("direction", args[0]).Msg("migrations done")
			return nil
		},
	}
}
