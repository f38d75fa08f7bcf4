package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/sanvibhowmick/forge/internal/memory"
)

func newIngestCmd() *cobra.Command {
	var opts memory.IngestOptions

	cmd := &cobra.Command{
		Use:   "ingest <dir>",
		Short: "Index an existing codebase as design context",
		Long: `Ingest walks a directory and upserts its code and documentation into the
memory collection. Later runs retrieve the closest files as context for
the design stage.

Examples:
  forge ingest ./legacy-service
  forge ingest --max-file-size 262144 .`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			root := args[0]
			if info, err := os.Stat(root); err != nil {
				return err
			} else if !info.IsDir() {
				return fmt.Errorf("%s is not a directory", root)
			}

			ctx := cmd.Context()
			a, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			if a.cfg.Memory.Provider == "none" {
				return errors.New("memory is disabled (memory.provider: none)")
			}
			store, err := a.openMemory()
			if err != nil {
				return err
			}

			res, err := memory.Ingest(ctx, root, store, opts, a.zapLogger().Named("ingest"))
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s indexed %d file(s) from %s, skipped %d\n",
				passStyle.Render("✓"), res.Indexed, res.Root, res.Skipped)
			return nil
		},
	}

	cmd.Flags().Int64Var(&opts.MaxFileSize, "max-file-size", 0, "skip files larger than this many bytes (default 1 MiB)")
	cmd.Flags().IntVar(&opts.BatchSize, "batch-size", 0, "documents per index call (default 32)")
	cmd.Flags().StringSliceVar(&opts.IgnoreFiles, "ignore-file", []string{".gitignore"}, "gitignore-style files to honor, relative to dir")
	return cmd
}
