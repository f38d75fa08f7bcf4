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

// Reviewer writes adversarial tests against the files it judges riskiest.
type Reviewer struct {
	gen    generation.Generator
	logger *logging.Logger
}

// NewReviewer creates a Reviewer.
func NewReviewer(gen generation.Generator, logger *logging.Logger) *Reviewer {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Reviewer{gen: gen, logger: logger}
}

// Audit selects targets, reads them from store and returns at most one
// write, always to AuditPath. It returns no writes when nothing usable was
// selected or produced.
func (r *Reviewer) Audit(ctx context.Context, spec *domain.Specification, store ArtifactStore) ([]domain.ArtifactWrite, error) {
	targets, err := r.selectTargets(ctx, spec)
	if err != nil {
		return nil, err
	}
	if len(targets) == 0 {
		r.logger.Warn(ctx, "no valid audit targets selected, skipping audit")
		return nil, nil
	}

	var blocks []string
	for _, p := range targets {
		if !store.Exists(p) {
			continue
		}
		content, err := store.Read(p)
		if err != nil {
			r.logger.Warn(ctx, "cannot read audit target", zap.String("path", p), zap.Error(err))
			continue
		}
		blocks = append(blocks, fmt.Sprintf("FILE: %s\nCONTENT:\n%s", p, content))
	}
	if len(blocks) == 0 {
		r.logger.Warn(ctx, "selected audit targets do not exist yet", zap.Strings("targets", targets))
		return nil, nil
	}
	r.logger.Info(ctx, "auditing", zap.Strings("targets", targets))

	var suite TestSuite
	req := generation.Request{System: auditSystem, User: auditPrompt(blocks)}
	if err := generation.GenerateJSON(ctx, r.gen, req, &suite); err != nil {
		return nil, err
	}

	var parts []string
	for _, f := range suite.Files {
		clean, err := domain.CleanRelativePath(f.Path)
		if err != nil || clean != AuditPath || strings.TrimSpace(f.Content) == "" {
			continue
		}
		parts = append(parts, strings.TrimRight(f.Content, "\n"))
	}
	if len(parts) == 0 {
		r.logger.Warn(ctx, "audit produced no usable tests")
		return nil, nil
	}

	return []domain.ArtifactWrite{{
		Path:    AuditPath,
		Content: strings.Join(parts, "\n\n\n") + "\n",
	}}, nil
}

func (r *Reviewer) selectTargets(ctx context.Context, spec *domain.Specification) ([]string, error) {
	text, err := r.gen.Generate(ctx, generation.Request{System: selectionSystem, User: selectionPrompt(spec)})
	if err != nil {
		return nil, fmt.Errorf("selecting audit targets: %w", err)
	}
	return parseTargets(ctx, generation.StripCodeFences(text), spec, r.logger), nil
}

// parseTargets keeps planned, distinct paths in answer order, up to
// MaxAuditTargets.
func parseTargets(ctx context.Context, answer string, spec *domain.Specification, logger *logging.Logger) []string {
	fields := strings.FieldsFunc(answer, func(r rune) bool { return r == ',' || r == '\n' })
	seen := make(map[string]bool)
	var out []string
	for _, f := range fields {
		candidate := strings.Trim(strings.TrimSpace(f), "`'\"- ")
		if candidate == "" {
			continue
		}
		clean, err := domain.CleanRelativePath(candidate)
		if err != nil || !spec.HasPath(clean) {
			logger.Warn(ctx, "dropping unknown audit target", zap.String("path", candidate))
			continue
		}
		if seen[clean] {
			continue
		}
		seen[clean] = true
		out = append(out, clean)
		if len(out) == MaxAuditTargets {
			break
		}
	}
	return out
}
