package main

import (
	"database/sql"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/ccamacho/madison/internal/annotation"
	"github.com/ccamacho/madison/internal/config"
	"github.com/ccamacho/madison/internal/export"
	"github.com/ccamacho/madison/internal/logging"
	"github.com/ccamacho/madison/internal/store"
)

// cli carries the flag values and the connections opened for a command.
type cli struct {
	cfg    config.Config
	logger zerolog.Logger
	db     *sql.DB
}

func newRootCmd() *cobra.Command {
	c := &cli{cfg: config.Load()}

	root := &cobra.Command{
		Use:   "madisonctl",
		Short: "Operate the Madison annotation service",
		Long: `madisonctl runs maintenance tasks against the annotation database:
exporting a document's comments, rebuilding the legacy search index and
applying or rolling back schema migrations.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			c.logger = logging.Console(cmd.ErrOrStderr(), c.cfg.LogLevel)
			db, err := store.Open(cmd.Context(), c.cfg.DatabaseURL)
			if err != nil {
				return err
			}
			c.db = db
			return nil
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			if c.db == nil {
				return nil
			}
			return c.db.Close()
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&c.cfg.DatabaseURL, "database-url", c.cfg.DatabaseURL, "postgres connection string")
	flags.StringVar(&c.cfg.LogLevel, "log-level", c.cfg.LogLevel, "log level (debug, info, warn, error)")

	root.AddCommand(newExportCmd(c), newReindexCmd(c), newMigrateCmd(c))
	return root
}

func (c *cli) engine() *annotation.Engine {
	return annotation.NewEngine(store.NewPostgresStore(c.db), c.logger)
}

func (c *cli) annotator() *export.Annotator {
	return export.NewAnnotator(c.cfg.Consumer)
}
