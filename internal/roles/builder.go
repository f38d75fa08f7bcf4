package roles

import (
	"context"
	"fmt"
	"strings"

	"github.com/sanvibhowmick/forge/internal/command"
	"github.com/sanvibhowmick/forge/internal/domain"
	"github.com/sanvibhowmick/forge/internal/generation"
	"github.com/sanvibhowmick/forge/internal/logging"
	"go.uber.org/zap"
)

// SetupReport lists what happened to each setup command.
type SetupReport struct {
	Results []*command.Result
	Skipped []string
}

// Failed returns the results that did not succeed.
func (r *SetupReport) Failed() []*command.Result {
	var out []*command.Result
	for _, res := range r.Results {
		if res.Err != nil {
			out = append(out, res)
		}
	}
	return out
}

// Diagnostic renders failed commands for logs and records.
func (r *SetupReport) Diagnostic() string {
	var parts []string
	for _, res := range r.Failed() {
		parts = append(parts, fmt.Sprintf("$ %s\n%s", res.Command, res.Output()))
	}
	return strings.Join(parts, "\n\n")
}

// Builder prepares the environment and writes every planned file.
type Builder struct {
	gen    generation.Generator
	runner CommandRunner
	store  ArtifactStore
	logger *logging.Logger
}

// NewBuilder creates a Builder.
func NewBuilder(gen generation.Generator, runner CommandRunner, store ArtifactStore, logger *logging.Logger) *Builder {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Builder{gen: gen, runner: runner, store: store, logger: logger}
}

// Setup runs the specification's setup commands in order. Commands that
// would alter the controlling shell or VCS state are skipped. Failures are
// reported, never returned.
func (b *Builder) Setup(ctx context.Context, spec *domain.Specification) *SetupReport {
	report := &SetupReport{}
	for _, cmd := range spec.SetupCommands {
		if command.IsEnvironmentMutating(cmd) {
			b.logger.Warn(ctx, "skipping environment-mutating setup command", zap.String("command", cmd))
			report.Skipped = append(report.Skipped, cmd)
			continue
		}
		res := b.runner.Run(ctx, cmd)
		report.Results = append(report.Results, res)
		if res.Err != nil {
			b.logger.Warn(ctx, "setup command failed",
				zap.String("command", cmd),
				zap.Bool("timed_out", res.TimedOut()),
				zap.String("output", res.Output()))
		}
	}
	return report
}

// Build generates the full content of every file task, in order, and
// writes each one before moving to the next.
func (b *Builder) Build(ctx context.Context, spec *domain.Specification, feedback string) ([]domain.ArtifactWrite, error) {
	if strings.TrimSpace(feedback) == "" {
		feedback = initialFeedback
	}

	writes := make([]domain.ArtifactWrite, 0, len(spec.FileStructure))
	for _, task := range spec.FileStructure {
		req := generation.Request{
			System: builderSystem,
			User:   builderPrompt(spec, task, feedback),
		}
		text, err := b.gen.Generate(ctx, req)
		if err != nil {
			return writes, fmt.Errorf("generating %s: %w", task.Path, err)
		}

		content := generation.UnwrapCodeFence(text)
		if content != "" && !strings.HasSuffix(content, "\n") {
			content += "\n"
		}
		clean, err := b.store.Write(task.Path, content)
		if err != nil {
			return writes, err
		}
		writes = append(writes, domain.ArtifactWrite{Path: clean, Content: content})
		b.logger.Debug(ctx, "file built", zap.String("path", clean), zap.Int("bytes", len(content)))
	}

	b.logger.Info(ctx, "build complete", zap.Int("files", len(writes)))
	return writes, nil
}
