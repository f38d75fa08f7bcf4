// Package roles holds the four generation-backed stage executors: design,
// test authoring, building and adversarial review.
//
// Each role owns its prompt and output parsing. None of them decides what
// runs next; that is the pipeline's job.
package roles

import (
	"context"

	"github.com/sanvibhowmick/forge/internal/command"
	"github.com/sanvibhowmick/forge/internal/domain"
)

// TestsDir is the directory every authored test file must live under.
const TestsDir = "tests"

// AuditPath is the only file the reviewer may write.
const AuditPath = TestsDir + "/test_security_audit.py"

// MaxAuditTargets caps how many files the reviewer reads.
const MaxAuditTargets = 3

// ArtifactStore is the slice of the workspace the roles touch.
type ArtifactStore interface {
	Write(rel, content string) (string, error)
	Read(rel string) (string, error)
	Exists(rel string) bool
}

// CommandRunner executes setup commands.
type CommandRunner interface {
	Run(ctx context.Context, cmd string) *command.Result
}

// TestSuite is the structured output of test authoring and review.
type TestSuite struct {
	Files []domain.ArtifactWrite `json:"files" jsonschema:"test files to create, each with its full content"`
}
