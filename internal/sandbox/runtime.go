package sandbox

import (
	"context"
)

// Mount binds a host directory into the environment.
type Mount struct {
	Source   string
	Target   string
	ReadOnly bool
}

// RunSpec describes one disposable execution.
type RunSpec struct {
	Image       string
	Cmd         []string
	WorkingDir  string
	Env         []string
	Mounts      []Mount
	NetworkMode string
	MemoryBytes int64
	NanoCPUs    int64
	PidsLimit   int64
}

// RunResult is what a finished execution reports.
type RunResult struct {
	ExitCode int64
	Stdout   string
	Stderr   string
}

// Runtime provisions an environment, runs the command to completion and
// destroys the environment. A non-nil error means the environment itself
// failed; a failing command is reported through RunResult.ExitCode.
type Runtime interface {
	Run(ctx context.Context, spec RunSpec) (*RunResult, error)
}
