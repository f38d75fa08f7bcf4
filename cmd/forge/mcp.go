package main

import (
	"context"

	"github.com/spf13/cobra"

	forgemcp "github.com/sanvibhowmick/forge/internal/mcp"
	"github.com/sanvibhowmick/forge/internal/pipeline"
)

func newMCPCmd() *cobra.Command {
	var (
		keepWorkspace bool
		maxBuilds     int
	)

	cmd := &cobra.Command{
		Use:   "mcp",
		Short: "Serve forge tools to an MCP client over stdio",
		Long: `Mcp serves forge_run, forge_runs, forge_run_show and forge_tree to an MCP
client on stdin and stdout. Logs go to stderr.

Example client configuration:
  {"mcpServers": {"forge": {"command": "forge", "args": ["mcp"]}}}`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			f, err := a.buildPipeline(pipelineOptions{maxBuilds: maxBuilds})
			if err != nil {
				return err
			}

			var runs forgemcp.RunStore
			if f.history != nil {
				runs = f.history
			}

			runner := forgemcp.RunnerFunc(func(ctx context.Context, requirement string) (*pipeline.State, error) {
				return f.run(ctx, requirement, !keepWorkspace, a.logger)
			})

			mcpCfg := forgemcp.DefaultConfig()
			mcpCfg.Version = version
			mcpCfg.Logger = a.zapLogger().Named("mcp")
			mcpCfg.Metrics = forgemcp.NewMetrics(a.telemetry.Meter("forge/mcp"), mcpCfg.Logger)

			var scrubber forgemcp.Scrubber
			if a.redactor != nil {
				scrubber = a.redactor
			}

			srv, err := forgemcp.NewServer(mcpCfg, runner, runs, f.workspace, scrubber)
			if err != nil {
				return err
			}
			return srv.Run(ctx)
		},
	}

	cmd.Flags().BoolVar(&keepWorkspace, "keep-workspace", false, "keep existing files in the workspace between runs")
	cmd.Flags().IntVar(&maxBuilds, "max-builds", 10, "stop after this many builds while the suite keeps failing (0 = unbounded)")
	return cmd
}
