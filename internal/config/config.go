// Package config loads forge configuration.
//
// Values come from built-in defaults, then an optional YAML file, then
// FORGE_* environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap/zapcore"
)

// Config is the complete forge configuration.
type Config struct {
	Workspace  WorkspaceConfig  `koanf:"workspace"`
	Command    CommandConfig    `koanf:"command"`
	Sandbox    SandboxConfig    `koanf:"sandbox"`
	Generation GenerationConfig `koanf:"generation"`
	Embeddings EmbeddingsConfig `koanf:"embeddings"`
	Memory     MemoryConfig     `koanf:"memory"`
	Events     EventsConfig     `koanf:"events"`
	History    HistoryConfig    `koanf:"history"`
	Server     ServerConfig     `koanf:"server"`
	Secrets    SecretsConfig    `koanf:"secrets"`
	Telemetry  TelemetryConfig  `koanf:"telemetry"`
	Logging    LoggingConfig    `koanf:"logging"`
}

// WorkspaceConfig locates the artifact root.
type WorkspaceConfig struct {
	Root    string `koanf:"root"`
	History bool   `koanf:"history"` // commit a git snapshot after each build and review
}

// CommandConfig bounds host setup commands.
type CommandConfig struct {
	Timeout Duration `koanf:"timeout"`
}

// SandboxConfig describes the verification container.
type SandboxConfig struct {
	Image     string   `koanf:"image"`
	MountPath string   `koanf:"mount_path"`
	TestsDir  string   `koanf:"tests_dir"`
	Network   string   `koanf:"network"`
	Timeout   Duration `koanf:"timeout"`
	MemoryMB  int64    `koanf:"memory_mb"`
	CPUs      float64  `koanf:"cpus"`
	PidsLimit int64    `koanf:"pids_limit"`
}

// GenerationConfig selects and tunes the text generation backend.
type GenerationConfig struct {
	Provider    string   `koanf:"provider"` // openai or anthropic
	Model       string   `koanf:"model"`
	BaseURL     string   `koanf:"base_url"`
	APIKey      Secret   `koanf:"api_key"`
	Temperature float64  `koanf:"temperature"`
	MaxTokens   int      `koanf:"max_tokens"`
	RateLimit   float64  `koanf:"rate_limit"` // requests per second
	Burst       int      `koanf:"burst"`
	MaxRetries  uint     `koanf:"max_retries"`
	Timeout     Duration `koanf:"timeout"`
}

// EmbeddingsConfig configures the embedding model used for retrieval.
type EmbeddingsConfig struct {
	Model   string `koanf:"model"`
	BaseURL string `koanf:"base_url"`
	APIKey  Secret `koanf:"api_key"`
}

// MemoryConfig selects the context retrieval backend.
type MemoryConfig struct {
	Provider string        `koanf:"provider"` // qdrant, chromem or none
	Limit    int           `koanf:"limit"`
	Qdrant   QdrantConfig  `koanf:"qdrant"`
	Chromem  ChromemConfig `koanf:"chromem"`
}

// QdrantConfig holds the gRPC connection to Qdrant.
type QdrantConfig struct {
	Host       string `koanf:"host"`
	Port       int    `koanf:"port"`
	Collection string `koanf:"collection"`
	VectorSize uint64 `koanf:"vector_size"`
	UseTLS     bool   `koanf:"use_tls"`
	APIKey     Secret `koanf:"api_key"`
}

// ChromemConfig holds the embedded vector store location.
type ChromemConfig struct {
	Path       string `koanf:"path"`
	Collection string `koanf:"collection"`
	Compress   bool   `koanf:"compress"`
}

// EventsConfig configures the NATS stage event stream.
type EventsConfig struct {
	Enabled       bool   `koanf:"enabled"`
	URL           string `koanf:"url"`
	SubjectPrefix string `koanf:"subject_prefix"`
}

// HistoryConfig configures the sqlite run history.
type HistoryConfig struct {
	Enabled bool   `koanf:"enabled"`
	Path    string `koanf:"path"`
}

// ServerConfig configures the HTTP status server.
type ServerConfig struct {
	Host            string   `koanf:"host"`
	Port            int      `koanf:"port"`
	ShutdownTimeout Duration `koanf:"shutdown_timeout"`
}

// SecretsConfig controls scrubbing of prompts and diagnostics.
type SecretsConfig struct {
	Enabled   bool   `koanf:"enabled"`
	Allowlist string `koanf:"allowlist"`
}

// TelemetryConfig configures OpenTelemetry export.
type TelemetryConfig struct {
	Enabled     bool    `koanf:"enabled"`
	ServiceName string  `koanf:"service_name"`
	Endpoint    string  `koanf:"endpoint"`
	Protocol    string  `koanf:"protocol"` // grpc or http
	Insecure    bool    `koanf:"insecure"`
	SampleRate  float64 `koanf:"sample_rate"`
}

// LoggingConfig is the user-facing subset of logging settings.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
	OTEL   bool   `koanf:"otel"`
}

// Default returns the configuration used when nothing overrides it.
func Default() *Config {
	dataDir := defaultDataDir()
	return &Config{
		Workspace: WorkspaceConfig{
			Root: "generated_repo",
		},
		Command: CommandConfig{
			Timeout: Duration(60 * time.Second),
		},
		Sandbox: SandboxConfig{
			Image:     "python:3.11-slim",
			MountPath: "/app",
			TestsDir:  "tests",
			Network:   "bridge",
			Timeout:   Duration(10 * time.Minute),
			MemoryMB:  1024,
			CPUs:      1,
			PidsLimit: 256,
		},
		Generation: GenerationConfig{
			Provider:    "openai",
			Model:       "gpt-4o",
			Temperature: 0.2,
			MaxTokens:   4096,
			RateLimit:   2,
			Burst:       1,
			MaxRetries:  3,
			Timeout:     Duration(2 * time.Minute),
		},
		Embeddings: EmbeddingsConfig{
			Model: "text-embedding-3-small",
		},
		Memory: MemoryConfig{
			Provider: "qdrant",
			Limit:    5,
			Qdrant: QdrantConfig{
				Host:       "localhost",
				Port:       6334,
				Collection: "forge_repo_memory",
				VectorSize: 1536,
			},
			Chromem: ChromemConfig{
				Path:       filepath.Join(dataDir, "memory"),
				Collection: "forge_repo_memory",
				Compress:   true,
			},
		},
		Events: EventsConfig{
			URL:           "nats://127.0.0.1:4222",
			SubjectPrefix: "forge.runs",
		},
		History: HistoryConfig{
			Enabled: true,
			Path:    filepath.Join(dataDir, "history.db"),
		},
		Server: ServerConfig{
			Host:            "127.0.0.1",
			Port:            9191,
			ShutdownTimeout: Duration(10 * time.Second),
		},
		Secrets: SecretsConfig{
			Enabled: true,
		},
		Telemetry: TelemetryConfig{
			ServiceName: "forge",
			Endpoint:    "localhost:4317",
			Protocol:    "grpc",
			Insecure:    true,
			SampleRate:  1.0,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".forge"
	}
	return filepath.Join(home, ".local", "share", "forge")
}

// applyProviderKeys falls back to the provider's conventional environment
// variable when no key was configured.
func applyProviderKeys(cfg *Config) {
	if !cfg.Generation.APIKey.IsSet() {
		switch cfg.Generation.Provider {
		case "anthropic":
			cfg.Generation.APIKey = Secret(os.Getenv("ANTHROPIC_API_KEY"))
		default:
			cfg.Generation.APIKey = Secret(os.Getenv("OPENAI_API_KEY"))
		}
	}
	if !cfg.Embeddings.APIKey.IsSet() {
		cfg.Embeddings.APIKey = Secret(os.Getenv("OPENAI_API_KEY"))
	}
	if !cfg.Memory.Qdrant.APIKey.IsSet() {
		cfg.Memory.Qdrant.APIKey = Secret(os.Getenv("QDRANT_API_KEY"))
	}
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	var errs []error

	if strings.TrimSpace(c.Workspace.Root) == "" {
		errs = append(errs, errors.New("workspace.root is required"))
	}
	if c.Command.Timeout.Duration() <= 0 {
		errs = append(errs, errors.New("command.timeout must be positive"))
	}

	switch c.Sandbox.Network {
	case "bridge", "none":
	default:
		errs = append(errs, fmt.Errorf("sandbox.network must be bridge or none, got %q", c.Sandbox.Network))
	}
	if c.Sandbox.Image == "" {
		errs = append(errs, errors.New("sandbox.image is required"))
	}
	if !strings.HasPrefix(c.Sandbox.MountPath, "/") {
		errs = append(errs, fmt.Errorf("sandbox.mount_path must be absolute, got %q", c.Sandbox.MountPath))
	}
	if c.Sandbox.Timeout.Duration() <= 0 {
		errs = append(errs, errors.New("sandbox.timeout must be positive"))
	}

	switch c.Generation.Provider {
	case "openai", "anthropic":
	default:
		errs = append(errs, fmt.Errorf("generation.provider must be openai or anthropic, got %q", c.Generation.Provider))
	}
	if c.Generation.Model == "" {
		errs = append(errs, errors.New("generation.model is required"))
	}
	if c.Generation.RateLimit < 0 {
		errs = append(errs, errors.New("generation.rate_limit cannot be negative"))
	}

	switch c.Memory.Provider {
	case "qdrant", "chromem", "none":
	default:
		errs = append(errs, fmt.Errorf("memory.provider must be qdrant, chromem or none, got %q", c.Memory.Provider))
	}
	if c.Memory.Limit < 1 {
		errs = append(errs, fmt.Errorf("memory.limit must be at least 1, got %d", c.Memory.Limit))
	}
	if c.Memory.Provider == "qdrant" && (c.Memory.Qdrant.Port < 1 || c.Memory.Qdrant.Port > 65535) {
		errs = append(errs, fmt.Errorf("memory.qdrant.port out of range: %d", c.Memory.Qdrant.Port))
	}

	if c.Events.Enabled && c.Events.URL == "" {
		errs = append(errs, errors.New("events.url is required when events are enabled"))
	}
	if c.History.Enabled && c.History.Path == "" {
		errs = append(errs, errors.New("history.path is required when history is enabled"))
	}
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port out of range: %d", c.Server.Port))
	}

	if c.Telemetry.Enabled {
		if c.Telemetry.ServiceName == "" {
			errs = append(errs, errors.New("telemetry.service_name is required when telemetry is enabled"))
		}
		if c.Telemetry.Protocol != "grpc" && c.Telemetry.Protocol != "http" {
			errs = append(errs, fmt.Errorf("telemetry.protocol must be grpc or http, got %q", c.Telemetry.Protocol))
		}
	}

	if c.Logging.Format != "json" && c.Logging.Format != "console" {
		errs = append(errs, fmt.Errorf("logging.format must be json or console, got %q", c.Logging.Format))
	}
	if c.Logging.Level != "trace" {
		var lvl zapcore.Level
		if err := lvl.UnmarshalText([]byte(c.Logging.Level)); err != nil {
			errs = append(errs, fmt.Errorf("logging.level: %w", err))
		}
	}

	return errors.Join(errs...)
}
