package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ccamacho/madison/internal/export"
)

func newExportCmd(c *cli) *cobra.Command {
	var (
		format        string
		out           string
		includeHidden bool
	)
	cmd := &cobra.Command{
		Use:   "export <document-id>",
		Short: "Export a document's comments",
		Long: `Export renders every comment on a document.

Formats: csv, json (Annotator), pdf, docx

Example:
  madisonctl export doc-1 --format csv --out comments.csv`,
		Args: func(cmd *cobra.Command, args []string) error {
			if err := cobra.ExactArgs(1)(cmd, args); err != nil {
				return err
			}
			if _, err := export.ParseFormat(format); err != nil {
				return fmt.Errorf("%w: %q", err, format)
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			parsed, _ := export.ParseFormat(format)
			exports := export.NewService(c.engine(), c.annotator())
			result, err := exports.Export(cmd.Context(), export.Request{
				DocumentID:    args[0],
				Format:        parsed,
				IncludeHidden: includeHidden,
			})
			if err != nil {
				return fmt.Errorf("export %s: %w", args[0], err)
			}

			if out == "" {
				_, err = cmd.OutOrStdout().Write(result.Data)
				return err
			}
			if err := os.WriteFile(out, result.Data, 0o644); err != nil {
				return fmt.Errorf("write %s: %w", out, err)
			}
			c.logger.Info().Str("file", out).Int("bytes", len(result.Data)).Msg("export written")
			return nil
		},
	}
	cmd.Flags().StringVar(&format, "format", string(export.FormatCSV), "output format")
	cmd.Flags().StringVarP(&out, "out", "o", "", "output file (default: stdout)")
	cmd.Flags().BoolVar(&includeHidden, "include-hidden", false, "keep hidden comments and replies")
	return cmd
}
