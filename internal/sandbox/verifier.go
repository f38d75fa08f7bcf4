// Package sandbox verifies the artifact tree by running its test suite in a
// disposable, resource-bounded container.
package sandbox

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sanvibhowmick/forge/internal/domain"
	"go.uber.org/zap"
)

// Config controls the verification environment.
type Config struct {
	Image       string
	MountPath   string
	TestsDir    string
	NetworkMode string
	Timeout     time.Duration
	MemoryMB    int64
	CPUs        float64
	PidsLimit   int64
}

// DefaultConfig mirrors the stock python verification image.
func DefaultConfig() Config {
	return Config{
		Image:       "python:3.11-slim",
		MountPath:   "/app",
		TestsDir:    "tests",
		NetworkMode: "bridge",
		Timeout:     10 * time.Minute,
		MemoryMB:    1024,
		CPUs:        1,
		PidsLimit:   256,
	}
}

// Validate checks that the configuration can produce an isolated run.
func (c Config) Validate() error {
	if c.Image == "" {
		return fmt.Errorf("sandbox image is required")
	}
	if c.MountPath == "" || c.MountPath[0] != '/' {
		return fmt.Errorf("sandbox mount path must be absolute, got %q", c.MountPath)
	}
	switch c.NetworkMode {
	case "bridge", "none":
	default:
		return fmt.Errorf("sandbox network mode must be bridge or none, got %q", c.NetworkMode)
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("sandbox timeout must be positive")
	}
	return nil
}

// Verifier runs the suite against the artifact root.
type Verifier struct {
	runtime Runtime
	root    string
	config  Config
	logger  *zap.Logger
	now     func() time.Time
}

// NewVerifier creates a Verifier that mounts root into each environment.
func NewVerifier(runtime Runtime, root string, cfg Config, logger *zap.Logger) (*Verifier, error) {
	if runtime == nil {
		return nil, fmt.Errorf("sandbox runtime is required")
	}
	if root == "" {
		return nil, fmt.Errorf("artifact root is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Verifier{
		runtime: runtime,
		root:    root,
		config:  cfg,
		logger:  logger,
		now:     time.Now,
	}, nil
}

// Verify installs the filtered dependencies and runs the suite. It always
// returns a record; infrastructure faults are classified ERROR.
func (v *Verifier) Verify(ctx context.Context, dependencies []string) domain.VerificationRecord {
	pkgs := Packages(dependencies)
	script := Script(pkgs, v.config.MountPath, v.config.TestsDir)

	v.logger.Info("running sandbox verification",
		zap.String("image", v.config.Image),
		zap.Strings("packages", pkgs),
		zap.String("network", v.config.NetworkMode))

	runCtx, cancel := context.WithTimeout(ctx, v.config.Timeout)
	defer cancel()

	start := v.now()
	res, err := v.runtime.Run(runCtx, v.spec(script))
	if err != nil {
		if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
			err = fmt.Errorf("timed out after %s: %w", v.config.Timeout, err)
		}
		err = fmt.Errorf("%w: %v", domain.ErrSandboxProvision, err)
	}

	status, diag := Classify(res, err)
	switch status {
	case domain.StatusFail:
		v.logger.Warn("sandbox tests failed",
			zap.Error(fmt.Errorf("%w: exit code %d", domain.ErrTestFailure, res.ExitCode)))
	case domain.StatusError:
		v.logger.Warn("sandbox verification errored", zap.Error(err))
	}
	v.logger.Info("sandbox verification finished",
		zap.String("status", string(status)),
		zap.Duration("duration", v.now().Sub(start)))

	return domain.VerificationRecord{
		Status:     status,
		Diagnostic: diag,
		Timestamp:  v.now(),
	}
}

func (v *Verifier) spec(script string) RunSpec {
	return RunSpec{
		Image:      v.config.Image,
		Cmd:        []string{"bash", "-c", script},
		WorkingDir: v.config.MountPath,
		Env:        []string{"PYTHONDONTWRITEBYTECODE=1", "PIP_DISABLE_PIP_VERSION_CHECK=1"},
		Mounts: []Mount{{
			Source: v.root,
			Target: v.config.MountPath,
		}},
		NetworkMode: v.config.NetworkMode,
		MemoryBytes: v.config.MemoryMB * 1024 * 1024,
		NanoCPUs:    int64(v.config.CPUs * 1e9),
		PidsLimit:   v.config.PidsLimit,
	}
}
