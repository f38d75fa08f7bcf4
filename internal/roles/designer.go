package roles

import (
	"context"
	"errors"
	"fmt"

	"github.com/sanvibhowmick/forge/internal/domain"
	"github.com/sanvibhowmick/forge/internal/generation"
	"github.com/sanvibhowmick/forge/internal/logging"
	"go.uber.org/zap"
)

// Designer turns a requirement into a Specification.
type Designer struct {
	gen    generation.Generator
	logger *logging.Logger
}

// NewDesigner creates a Designer.
func NewDesigner(gen generation.Generator, logger *logging.Logger) *Designer {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Designer{gen: gen, logger: logger}
}

// Design asks for a schema-constrained specification. Any schema or
// invariant failure is reported as domain.ErrSpecificationMalformed.
func (d *Designer) Design(ctx context.Context, requirement, repoContext string) (*domain.Specification, error) {
	req := generation.Request{
		System: designSystem,
		User:   designPrompt(requirement, repoContext),
	}

	var spec domain.Specification
	if err := generation.GenerateJSON(ctx, d.gen, req, &spec); err != nil {
		if errors.Is(err, domain.ErrSchemaViolation) {
			return nil, fmt.Errorf("%w: %w", domain.ErrSpecificationMalformed, err)
		}
		return nil, err
	}
	if err := spec.Validate(); err != nil {
		return nil, err
	}

	d.logger.Info(ctx, "specification designed",
		zap.String("project", spec.ProjectName),
		zap.Int("files", len(spec.FileStructure)),
		zap.Int("setup_commands", len(spec.SetupCommands)))
	return &spec, nil
}
