package mcp

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"github.com/sanvibhowmick/forge/internal/history"
	"github.com/sanvibhowmick/forge/internal/pipeline"
)

// ErrRunInProgress is returned when forge_run is called during another run.
var ErrRunInProgress = errors.New("a pipeline run is already in progress")

// Runner executes one pipeline run against the shared workspace.
type Runner interface {
	Run(ctx context.Context, requirement string) (*pipeline.State, error)
}

// RunnerFunc adapts a function to Runner.
type RunnerFunc func(ctx context.Context, requirement string) (*pipeline.State, error)

func (f RunnerFunc) Run(ctx context.Context, requirement string) (*pipeline.State, error) {
	return f(ctx, requirement)
}

// RunStore is the read side of the run history.
type RunStore interface {
	ListRuns(ctx context.Context, limit int) ([]*history.Run, error)
	GetRun(ctx context.Context, id string) (*history.Run, error)
}

// TreeSource renders the artifact tree.
type TreeSource interface {
	Tree() (string, error)
}

// Scrubber masks secrets in tool output.
type Scrubber interface {
	Scrub(text string) string
}

// Server is the forge MCP server.
type Server struct {
	mcp      *mcp.Server
	runner   Runner
	runs     RunStore
	tree     TreeSource
	scrubber Scrubber
	metrics  *Metrics
	logger   *zap.Logger

	// runMu serializes forge_run; the workspace has a single owner.
	runMu sync.Mutex
}

// Config configures the MCP server.
type Config struct {
	// Name is the server implementation name (default: "forge")
	Name string

	// Version is the server version (default: "dev")
	Version string

	// Logger for structured logging
	Logger *zap.Logger

	// Metrics records tool invocations. Defaults to the global meter.
	Metrics *Metrics
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Name:    "forge",
		Version: "dev",
		Logger:  zap.NewNop(),
	}
}

// NewServer creates the server and registers its tools. runs may be nil
// when history is disabled; the history tools then report that.
func NewServer(cfg *Config, runner Runner, runs RunStore, tree TreeSource, scrubber Scrubber) (*Server, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if runner == nil {
		return nil, fmt.Errorf("runner is required")
	}
	if tree == nil {
		return nil, fmt.Errorf("tree source is required")
	}
	if cfg.Name == "" {
		cfg.Name = "forge"
	}
	if cfg.Version == "" {
		cfg.Version = "dev"
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = NewMetrics(nil, cfg.Logger)
	}

	s := &Server{
		mcp: mcp.NewServer(&mcp.Implementation{
			Name:    cfg.Name,
			Version: cfg.Version,
		}, nil),
		runner:   runner,
		runs:     runs,
		tree:     tree,
		scrubber: scrubber,
		metrics:  cfg.Metrics,
		logger:   cfg.Logger,
	}
	s.registerTools()
	return s, nil
}

// MCP returns the underlying SDK server.
func (s *Server) MCP() *mcp.Server {
	return s.mcp
}

// Run serves on the stdio transport until ctx ends or the client leaves.
func (s *Server) Run(ctx context.Context) error {
	s.logger.Info("starting MCP server on stdio transport")
	if err := s.mcp.Run(ctx, &mcp.StdioTransport{}); err != nil {
		return fmt.Errorf("server run failed: %w", err)
	}
	return nil
}

func (s *Server) scrub(text string) string {
	if s.scrubber == nil {
		return text
	}
	return s.scrubber.Scrub(text)
}
