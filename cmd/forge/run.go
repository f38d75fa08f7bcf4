package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sanvibhowmick/forge/internal/pipeline"
)

func newRunCmd() *cobra.Command {
	var (
		keepWorkspace bool
		maxBuilds     int
	)

	cmd := &cobra.Command{
		Use:   "run [requirement]",
		Short: "Run the full pipeline for a requirement",
		Long: `Run designs, tests, builds and hardens a repository for the requirement.

Without an argument an interactive prompt asks for the requirement. The
workspace is wiped first unless --keep-workspace is set.

Examples:
  forge run "a CLI calculator that supports the four basic operations"
  forge run --keep-workspace "add a power operation"
  forge run`,
		Args: cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			requirement := strings.TrimSpace(strings.Join(args, " "))
			if requirement == "" {
				var err error
				requirement, err = promptRequirement(os.Stdin, cmd.ErrOrStderr())
				if err != nil {
					return err
				}
			}

			ctx := cmd.Context()
			a, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			out := cmd.OutOrStdout()
			f, err := a.buildPipeline(pipelineOptions{
				maxBuilds: maxBuilds,
				progress: func(ev pipeline.Event) {
					if line := renderEvent(ev); line != "" {
						fmt.Fprintln(out, line)
					}
				},
			})
			if err != nil {
				return err
			}

			a.logger.Info(ctx, "starting run",
				zap.String("requirement", requirement),
				zap.String("workspace", f.workspace.Root()),
				zap.Bool("keep_workspace", keepWorkspace))

			state, runErr := f.run(ctx, requirement, !keepWorkspace, a.logger)

			fmt.Fprintln(out)
			if tree, err := f.workspace.Tree(); err == nil {
				fmt.Fprintln(out, renderTree(f.workspace.Root(), tree))
			} else {
				a.logger.Warn(ctx, "rendering tree failed", zap.Error(err))
			}
			fmt.Fprintln(out, renderOutcome(state, runErr))

			return runErr
		},
	}

	cmd.Flags().BoolVar(&keepWorkspace, "keep-workspace", false, "keep existing files in the workspace (brownfield runs)")
	cmd.Flags().IntVar(&maxBuilds, "max-builds", 10, "stop after this many builds while the suite keeps failing (0 = unbounded, never below the iteration bound)")
	return cmd
}
