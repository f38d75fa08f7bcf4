package main

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/sanvibhowmick/forge/internal/command"
	"github.com/sanvibhowmick/forge/internal/config"
	"github.com/sanvibhowmick/forge/internal/events"
	"github.com/sanvibhowmick/forge/internal/generation"
	"github.com/sanvibhowmick/forge/internal/history"
	"github.com/sanvibhowmick/forge/internal/logging"
	"github.com/sanvibhowmick/forge/internal/memory"
	"github.com/sanvibhowmick/forge/internal/pipeline"
	"github.com/sanvibhowmick/forge/internal/qdrant"
	"github.com/sanvibhowmick/forge/internal/roles"
	"github.com/sanvibhowmick/forge/internal/sandbox"
	"github.com/sanvibhowmick/forge/internal/secrets"
	"github.com/sanvibhowmick/forge/internal/telemetry"
	"github.com/sanvibhowmick/forge/internal/workspace"
)

// app holds the ambient services every command needs. Heavier
// dependencies are opened on demand and released by Close in reverse
// order.
type app struct {
	cfg       *config.Config
	logger    *logging.Logger
	telemetry *telemetry.Telemetry
	redactor  *secrets.Redactor

	closers []func() error
}

func newApp(ctx context.Context) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	tel, err := telemetry.New(ctx, telemetry.FromSettings(cfg.Telemetry, version))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize telemetry: %w", err)
	}

	logCfg, err := logging.FromSettings(cfg.Logging)
	if err != nil {
		_ = tel.Shutdown(ctx)
		return nil, err
	}
	logger, err := logging.NewLogger(logCfg, tel.LoggerProvider())
	if err != nil {
		_ = tel.Shutdown(ctx)
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	a := &app{cfg: cfg, logger: logger, telemetry: tel}
	a.onClose(func() error {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return tel.Shutdown(sctx)
	})

	if cfg.Secrets.Enabled {
		allow, err := secrets.LoadAllowlist(cfg.Secrets.Allowlist)
		if err != nil {
			a.Close()
			return nil, err
		}
		if a.redactor, err = secrets.NewRedactor(allow); err != nil {
			a.Close()
			return nil, err
		}
	}
	return a, nil
}

func (a *app) onClose(fn func() error) {
	a.closers = append(a.closers, fn)
}

// Close releases everything opened through the app.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.logger.Warn(context.Background(), "close failed", zap.Error(err))
		}
	}
	a.closers = nil
	_ = a.logger.Sync()
}

func (a *app) zapLogger() *zap.Logger {
	return a.logger.Underlying()
}

func (a *app) openHistory() (*history.Store, error) {
	if !a.cfg.History.Enabled {
		return nil, errors.New("run history is disabled (history.enabled)")
	}
	opts := []history.Option{history.WithLogger(a.zapLogger().Named("history"))}
	if a.redactor != nil {
		opts = append(opts, history.WithScrubber(a.redactor))
	}
	store, err := history.Open(a.cfg.History.Path, opts...)
	if err != nil {
		return nil, err
	}
	a.onClose(store.Close)
	return store, nil
}

func (a *app) openEvents() (*events.Publisher, error) {
	pub, err := events.Connect(a.cfg.Events, a.zapLogger().Named("events"))
	if err != nil {
		return nil, err
	}
	a.onClose(pub.Close)
	return pub, nil
}

// openMemory returns the configured context store. Provider "none" yields
// memory.Nop.
func (a *app) openMemory() (memory.Store, error) {
	mc := a.cfg.Memory
	if mc.Provider == "none" {
		return memory.Nop{}, nil
	}

	embedder, err := memory.NewEmbedder(a.cfg.Embeddings)
	if err != nil {
		return nil, err
	}

	var store memory.Store
	switch mc.Provider {
	case "chromem":
		store, err = memory.NewChromemStore(mc.Chromem.Path, mc.Chromem.Collection, mc.Chromem.Compress, embedder, a.zapLogger().Named("memory"))
		if err != nil {
			return nil, err
		}
	default:
		client, err := qdrant.NewGRPCClient(qdrant.FromSettings(mc.Qdrant), a.zapLogger().Named("qdrant"))
		if err != nil {
			return nil, err
		}
		store, err = memory.NewQdrantStore(client, embedder, mc.Qdrant.Collection, mc.Qdrant.VectorSize, a.zapLogger().Named("memory"))
		if err != nil {
			_ = client.Close()
			return nil, err
		}
	}
	a.onClose(store.Close)
	return store, nil
}

func (a *app) openGenerator() (generation.Generator, error) {
	provider, err := generation.NewProvider(a.cfg.Generation)
	if err != nil {
		return nil, err
	}
	opts := []generation.ClientOption{
		generation.WithLogger(a.logger.Named("generation")),
		generation.WithMetrics(generation.NewMetrics(a.telemetry.Meter("forge/generation"), a.zapLogger())),
	}
	if a.redactor != nil {
		opts = append(opts, generation.WithScrubber(a.redactor))
	}
	return generation.NewClient(provider, a.cfg.Generation.Provider, a.cfg.Generation, opts...)
}

func (a *app) openWorkspace() (*workspace.Store, error) {
	root, err := filepath.Abs(a.cfg.Workspace.Root)
	if err != nil {
		return nil, fmt.Errorf("resolving workspace root: %w", err)
	}
	return workspace.NewStore(root,
		workspace.WithLogger(a.zapLogger().Named("workspace")),
		workspace.WithHistory(a.cfg.Workspace.History),
	)
}

func sandboxConfig(s config.SandboxConfig) sandbox.Config {
	return sandbox.Config{
		Image:       s.Image,
		MountPath:   s.MountPath,
		TestsDir:    s.TestsDir,
		NetworkMode: s.Network,
		Timeout:     s.Timeout.Duration(),
		MemoryMB:    s.MemoryMB,
		CPUs:        s.CPUs,
		PidsLimit:   s.PidsLimit,
	}
}

// forge is a fully wired pipeline bound to one workspace.
type forge struct {
	coordinator *pipeline.Coordinator
	workspace   *workspace.Store
	history     *history.Store
	publisher   *events.Publisher
}

type pipelineOptions struct {
	maxBuilds int
	progress  pipeline.ProgressFunc
}

func (a *app) buildPipeline(opts pipelineOptions) (*forge, error) {
	gen, err := a.openGenerator()
	if err != nil {
		return nil, err
	}

	ws, err := a.openWorkspace()
	if err != nil {
		return nil, err
	}

	retriever, err := a.openMemory()
	if err != nil {
		// A missing memory backend only costs the design stage its context.
		a.logger.Warn(context.Background(), "memory unavailable, designing without context", zap.Error(err))
		retriever = memory.Nop{}
	}

	runtime, err := sandbox.NewDockerRuntime(a.zapLogger().Named("sandbox"))
	if err != nil {
		return nil, err
	}
	a.onClose(runtime.Close)

	verifier, err := sandbox.NewVerifier(runtime, ws.Root(), sandboxConfig(a.cfg.Sandbox), a.zapLogger().Named("sandbox"))
	if err != nil {
		return nil, err
	}
	runner := command.NewRunner(ws.Root(), a.cfg.Command.Timeout.Duration(), a.zapLogger().Named("command"))

	f := &forge{workspace: ws}
	sinks := []pipeline.EventSink{pipeline.LogSink{Logger: a.logger}}

	if a.cfg.History.Enabled {
		store, err := a.openHistory()
		if err != nil {
			return nil, err
		}
		f.history = store
		sinks = append(sinks, store)
	}
	if a.cfg.Events.Enabled {
		pub, err := a.openEvents()
		if err != nil {
			return nil, err
		}
		f.publisher = pub
		sinks = append(sinks, pub)
	}

	f.coordinator, err = pipeline.NewCoordinator(pipeline.Roles{
		Designer:   roles.NewDesigner(gen, a.logger.Named("design")),
		TestAuthor: roles.NewTestAuthor(gen, a.logger.Named("test_author")),
		Builder:    roles.NewBuilder(gen, runner, ws, a.logger.Named("build")),
		Verifier:   verifier,
		Reviewer:   roles.NewReviewer(gen, a.logger.Named("review")),
	}, ws,
		pipeline.WithRetriever(retriever, a.cfg.Memory.Limit),
		pipeline.WithBuildLimit(opts.maxBuilds),
		pipeline.WithSinks(sinks...),
		pipeline.WithProgress(opts.progress),
		pipeline.WithTracer(a.telemetry.Tracer("forge/pipeline")),
		pipeline.WithLogger(a.logger),
	)
	if err != nil {
		return nil, err
	}
	return f, nil
}

// run executes one pipeline run and records its final state. The returned
// state is never nil.
func (f *forge) run(ctx context.Context, requirement string, reset bool, logger *logging.Logger) (*pipeline.State, error) {
	if reset {
		if err := f.workspace.Reset(); err != nil {
			return pipeline.NewState("", requirement), err
		}
	}

	state, runErr := f.coordinator.Run(ctx, requirement)

	if f.history != nil {
		// The run context may already be cancelled.
		if err := f.history.RecordRun(context.WithoutCancel(ctx), state, runErr); err != nil {
			logger.Warn(ctx, "recording run failed", zap.Error(err))
		}
	}
	return state, runErr
}
