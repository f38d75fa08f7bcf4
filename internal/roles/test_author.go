package roles

import (
	"context"
	"fmt"
	"strings"

	"github.com/sanvibhowmick/forge/internal/domain"
	"github.com/sanvibhowmick/forge/internal/generation"
	"github.com/sanvibhowmick/forge/internal/logging"
	"go.uber.org/zap"
)

// TestAuthor writes the test suite from the specification alone.
type TestAuthor struct {
	gen    generation.Generator
	logger *logging.Logger
}

// NewTestAuthor creates a TestAuthor.
func NewTestAuthor(gen generation.Generator, logger *logging.Logger) *TestAuthor {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &TestAuthor{gen: gen, logger: logger}
}

// AuthorTests returns one write per test file. Paths are cleaned, must be
// distinct, and must sit under TestsDir.
func (a *TestAuthor) AuthorTests(ctx context.Context, spec *domain.Specification) ([]domain.ArtifactWrite, error) {
	specJSON, err := spec.MarshalIndent()
	if err != nil {
		return nil, fmt.Errorf("encoding specification: %w", err)
	}

	var suite TestSuite
	req := generation.Request{System: testAuthorSystem, User: testAuthorPrompt(string(specJSON))}
	if err := generation.GenerateJSON(ctx, a.gen, req, &suite); err != nil {
		return nil, err
	}

	writes, err := validateTestWrites(suite.Files)
	if err != nil {
		return nil, err
	}

	paths := make([]string, len(writes))
	for i, w := range writes {
		paths[i] = w.Path
	}
	a.logger.Info(ctx, "test suite authored", zap.Strings("files", paths))
	return writes, nil
}

func validateTestWrites(files []domain.ArtifactWrite) ([]domain.ArtifactWrite, error) {
	if len(files) == 0 {
		return nil, fmt.Errorf("%w: no test files returned", domain.ErrSchemaViolation)
	}

	seen := make(map[string]bool, len(files))
	out := make([]domain.ArtifactWrite, 0, len(files))
	for _, f := range files {
		clean, err := domain.CleanRelativePath(f.Path)
		if err != nil {
			return nil, err
		}
		if !strings.HasPrefix(clean, TestsDir+"/") {
			return nil, fmt.Errorf("%w: test file %q is outside %s/", domain.ErrSchemaViolation, clean, TestsDir)
		}
		if seen[clean] {
			return nil, fmt.Errorf("%w: %s", domain.ErrDuplicateTestTarget, clean)
		}
		seen[clean] = true
		out = append(out, domain.ArtifactWrite{Path: clean, Content: f.Content})
	}
	return out, nil
}
