package mcp

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"github.com/sanvibhowmick/forge/internal/domain"
	"github.com/sanvibhowmick/forge/internal/history"
	"github.com/sanvibhowmick/forge/internal/pipeline"
)

const (
	defaultRunsLimit = 10
	maxRunsLimit     = 100
)

func (s *Server) registerTools() {
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "forge_run",
		Description: "Run the full forge pipeline (design, tests, build, sandbox verification, adversarial review) for a requirement and return the outcome",
	}, instrument(s, "forge_run", s.handleRun))

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "forge_runs",
		Description: "List recent forge pipeline runs, newest first",
	}, instrument(s, "forge_runs", s.handleRuns))

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "forge_run_show",
		Description: "Show one forge run with its stage events and verification records",
	}, instrument(s, "forge_run_show", s.handleRunShow))

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "forge_tree",
		Description: "Show the file tree of the generated repository",
	}, instrument(s, "forge_tree", s.handleTree))
}

type toolHandler[In, Out any] func(ctx context.Context, args In) (string, Out, error)

// instrument adapts a handler to the SDK signature and records metrics.
func instrument[In, Out any](s *Server, name string, h toolHandler[In, Out]) mcp.ToolHandlerFor[In, Out] {
	return func(ctx context.Context, _ *mcp.CallToolRequest, args In) (*mcp.CallToolResult, Out, error) {
		start := time.Now()
		s.metrics.IncrementActive(ctx, name)

		text, out, err := h(ctx, args)

		s.metrics.DecrementActive(ctx, name)
		s.metrics.RecordInvocation(ctx, name, time.Since(start), err)
		if err != nil {
			s.logger.Warn("tool failed", zap.String("tool", name), zap.Error(err))
			var zero Out
			return nil, zero, err
		}
		return &mcp.CallToolResult{
			Content: []mcp.Content{&mcp.TextContent{Text: text}},
		}, out, nil
	}
}

// ===== RUN =====

type runInput struct {
	Requirement string `json:"requirement" jsonschema:"what the generated repository should do"`
}

// Output types carry timestamps as RFC 3339 strings so the inferred
// output schemas stay plain.
type recordOutput struct {
	Index      int    `json:"index"`
	Status     string `json:"status"`
	Diagnostic string `json:"diagnostic,omitempty"`
	Timestamp  string `json:"timestamp,omitempty"`
}

type runOutput struct {
	RunID       string         `json:"run_id"`
	Outcome     string         `json:"outcome"`
	Project     string         `json:"project,omitempty"`
	Iterations  int            `json:"iterations"`
	Reviews     int            `json:"reviews"`
	Records     []recordOutput `json:"records"`
	FailedStage string         `json:"failed_stage,omitempty"`
	Error       string         `json:"error,omitempty"`
	Tree        string         `json:"tree,omitempty"`
}

func (s *Server) records(recs []domain.VerificationRecord) []recordOutput {
	out := make([]recordOutput, 0, len(recs))
	for _, rec := range recs {
		r := recordOutput{
			Index:      rec.Index,
			Status:     string(rec.Status),
			Diagnostic: s.scrub(rec.Diagnostic),
		}
		if !rec.Timestamp.IsZero() {
			r.Timestamp = rec.Timestamp.UTC().Format(time.RFC3339)
		}
		out = append(out, r)
	}
	return out
}

func (s *Server) handleRun(ctx context.Context, args runInput) (string, runOutput, error) {
	requirement := strings.TrimSpace(args.Requirement)
	if requirement == "" {
		return "", runOutput{}, errors.New("requirement is required")
	}
	if !s.runMu.TryLock() {
		return "", runOutput{}, ErrRunInProgress
	}
	defer s.runMu.Unlock()

	state, runErr := s.runner.Run(ctx, requirement)
	if state == nil {
		if runErr == nil {
			runErr = errors.New("runner returned no state")
		}
		return "", runOutput{}, runErr
	}

	out := runOutput{
		RunID:      state.RunID,
		Outcome:    pipeline.Outcome(state, runErr),
		Iterations: state.Iteration,
		Reviews:    state.Reviews,
		Records:    s.records(state.Records),
	}
	if state.Spec != nil {
		out.Project = state.Spec.ProjectName
	}
	if runErr != nil {
		if stage, ok := pipeline.FailedStage(runErr); ok {
			out.FailedStage = string(stage)
		}
		out.Error = s.scrub(runErr.Error())
	}
	if tree, err := s.tree.Tree(); err == nil {
		out.Tree = tree
	}

	text := fmt.Sprintf("Run %s finished: %s after %d build(s) and %d review(s).", out.RunID, out.Outcome, out.Iterations, out.Reviews)
	if out.Error != "" {
		text = fmt.Sprintf("Run %s failed: %s", out.RunID, out.Error)
	}
	return text, out, nil
}

// ===== HISTORY =====

type runsInput struct {
	Limit int `json:"limit,omitempty" jsonschema:"maximum number of runs to return (default 10, max 100)"`
}

type runSummary struct {
	RunID       string `json:"run_id"`
	Requirement string `json:"requirement"`
	Status      string `json:"status"`
	Stage       string `json:"stage"`
	Iterations  int    `json:"iterations"`
	StartedAt   string `json:"started_at"`
}

func summarize(r *history.Run) runSummary {
	return runSummary{
		RunID:       r.ID,
		Requirement: r.Requirement,
		Status:      r.Status,
		Stage:       r.Stage,
		Iterations:  r.Iteration,
		StartedAt:   r.StartedAt.UTC().Format(time.RFC3339),
	}
}

type runsOutput struct {
	Runs []runSummary `json:"runs"`
}

func (s *Server) handleRuns(ctx context.Context, args runsInput) (string, runsOutput, error) {
	if s.runs == nil {
		return "", runsOutput{}, errors.New("run history is disabled")
	}
	limit := args.Limit
	switch {
	case limit <= 0:
		limit = defaultRunsLimit
	case limit > maxRunsLimit:
		limit = maxRunsLimit
	}

	runs, err := s.runs.ListRuns(ctx, limit)
	if err != nil {
		return "", runsOutput{}, fmt.Errorf("listing runs: %w", err)
	}

	out := runsOutput{Runs: make([]runSummary, 0, len(runs))}
	var b strings.Builder
	for _, r := range runs {
		out.Runs = append(out.Runs, summarize(r))
		fmt.Fprintf(&b, "%s  %-9s  %s\n", r.ID, r.Status, r.Requirement)
	}
	if len(runs) == 0 {
		return "No runs recorded.", out, nil
	}
	return strings.TrimRight(b.String(), "\n"), out, nil
}

type runShowInput struct {
	RunID string `json:"run_id" jsonschema:"the run identifier"`
}

type eventOutput struct {
	Stage     string `json:"stage"`
	Phase     string `json:"phase"`
	Iteration int    `json:"iteration"`
	Status    string `json:"status,omitempty"`
	Summary   string `json:"summary,omitempty"`
	Error     string `json:"error,omitempty"`
}

type runShowOutput struct {
	Run     runSummary     `json:"run"`
	Project string         `json:"project,omitempty"`
	Error   string         `json:"error,omitempty"`
	Events  []eventOutput  `json:"events"`
	Records []recordOutput `json:"records"`
}

func (s *Server) handleRunShow(ctx context.Context, args runShowInput) (string, runShowOutput, error) {
	if s.runs == nil {
		return "", runShowOutput{}, errors.New("run history is disabled")
	}
	if strings.TrimSpace(args.RunID) == "" {
		return "", runShowOutput{}, errors.New("run_id is required")
	}

	r, err := s.runs.GetRun(ctx, args.RunID)
	if err != nil {
		return "", runShowOutput{}, err
	}

	out := runShowOutput{
		Run:     summarize(r),
		Project: r.Project,
		Error:   s.scrub(r.Error),
		Events:  make([]eventOutput, 0, len(r.Events)),
		Records: s.records(r.Records),
	}
	for _, ev := range r.Events {
		out.Events = append(out.Events, eventOutput{
			Stage:     string(ev.Stage),
			Phase:     string(ev.Phase),
			Iteration: ev.Iteration,
			Status:    string(ev.Status),
			Summary:   ev.Summary,
			Error:     s.scrub(ev.Error),
		})
	}

	text := fmt.Sprintf("Run %s: %s at %s, %d build(s), %d verification(s).",
		r.ID, r.Status, r.Stage, r.Iteration, len(r.Records))
	return text, out, nil
}

// ===== WORKSPACE =====

type treeInput struct{}

type treeOutput struct {
	Tree string `json:"tree"`
}

func (s *Server) handleTree(_ context.Context, _ treeInput) (string, treeOutput, error) {
	tree, err := s.tree.Tree()
	if err != nil {
		return "", treeOutput{}, fmt.Errorf("rendering tree: %w", err)
	}
	if tree == "" {
		return "The workspace is empty.", treeOutput{}, nil
	}
	return tree, treeOutput{Tree: tree}, nil
}
