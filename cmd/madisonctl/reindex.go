package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ccamacho/madison/internal/search"
)

func newReindexCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reindex",
		Short: "Rebuild the legacy search index from the database",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			index := search.NewMeili(c.cfg.MeiliURL, c.cfg.MeiliMasterKey, c.cfg.MeiliIndex, c.logger)
			defer index.Close()

			engine := c.engine()
			svc := search.NewService(index, nil, c.logger).WithFallback(search.NewPgFTS(c.db), engine, c.annotator())
			n, err := svc.Reindex(cmd.Context())
			if err != nil {
				return fmt.Errorf("reindex after %d comments: %w", n, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "indexed %d comments\n", n)
			return nil
		},
	}
	cmd.Flags().StringVar(&c.cfg.MeiliURL, "meili-url", c.cfg.MeiliURL, "Meilisearch URL")
	cmd.Flags().StringVar(&c.cfg.MeiliMasterKey, "meili-key", c.cfg.MeiliMasterKey, "Meilisearch API key")
	cmd.Flags().StringVar(&c.cfg.MeiliIndex, "meili-index", c.cfg.MeiliIndex, "Meilisearch index uid")
	return cmd
}
