package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/sanvibhowmick/forge/internal/domain"
	"github.com/sanvibhowmick/forge/internal/logging"
	"github.com/sanvibhowmick/forge/internal/memory"
	"github.com/sanvibhowmick/forge/internal/roles"
	"github.com/sanvibhowmick/forge/internal/workspace"
)

const tracerName = "forge/pipeline"

// DefaultContextLimit is how many documents design retrieval asks for.
const DefaultContextLimit = 5

// Designer turns a requirement into a specification.
type Designer interface {
	Design(ctx context.Context, requirement, repoContext string) (*domain.Specification, error)
}

// TestAuthor writes the test suite for a specification.
type TestAuthor interface {
	AuthorTests(ctx context.Context, spec *domain.Specification) ([]domain.ArtifactWrite, error)
}

// Builder prepares the environment and writes implementation files.
type Builder interface {
	Setup(ctx context.Context, spec *domain.Specification) *roles.SetupReport
	Build(ctx context.Context, spec *domain.Specification, feedback string) ([]domain.ArtifactWrite, error)
}

// Verifier runs the suite in isolation. It never fails; faults come back as
// ERROR records.
type Verifier interface {
	Verify(ctx context.Context, dependencies []string) domain.VerificationRecord
}

// Reviewer proposes adversarial tests against the current implementation.
type Reviewer interface {
	Audit(ctx context.Context, spec *domain.Specification, store roles.ArtifactStore) ([]domain.ArtifactWrite, error)
}

// Store is the artifact root as the coordinator sees it.
type Store interface {
	roles.ArtifactStore
	Apply(writes []domain.ArtifactWrite) error
	Snapshot(message string) (string, error)
}

// Roles bundles the stage executors.
type Roles struct {
	Designer   Designer
	TestAuthor TestAuthor
	Builder    Builder
	Verifier   Verifier
	Reviewer   Reviewer
}

func (r Roles) validate() error {
	switch {
	case r.Designer == nil:
		return errors.New("designer is required")
	case r.TestAuthor == nil:
		return errors.New("test author is required")
	case r.Builder == nil:
		return errors.New("builder is required")
	case r.Verifier == nil:
		return errors.New("verifier is required")
	case r.Reviewer == nil:
		return errors.New("reviewer is required")
	}
	return nil
}

// ProgressFunc is called with every event, after the sinks.
type ProgressFunc func(Event)

// Coordinator owns the state machine. It is not safe for concurrent Runs.
type Coordinator struct {
	roles     Roles
	store     Store
	retriever memory.Retriever
	limit     int
	maxBuilds int
	sinks     []EventSink
	progress  ProgressFunc
	tracer    trace.Tracer
	logger    *logging.Logger
	newRunID  func() string
	now       func() time.Time
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithRetriever sets the context source for design.
func WithRetriever(r memory.Retriever, limit int) Option {
	return func(c *Coordinator) {
		if r != nil {
			c.retriever = r
		}
		if limit > 0 {
			c.limit = limit
		}
	}
}

// WithBuildLimit stops a run that is still failing after n builds. Zero
// leaves FAIL routing unbounded. A limit below MaxIterations is raised to
// it; a failing suite is always rebuilt before the iteration bound.
func WithBuildLimit(n int) Option {
	return func(c *Coordinator) {
		if n >= 0 {
			c.maxBuilds = n
		}
	}
}

// WithSinks adds event sinks.
func WithSinks(sinks ...EventSink) Option {
	return func(c *Coordinator) {
		c.sinks = append(c.sinks, sinks...)
	}
}

// WithProgress sets the progress callback.
func WithProgress(fn ProgressFunc) Option {
	return func(c *Coordinator) {
		c.progress = fn
	}
}

// WithTracer overrides the global tracer.
func WithTracer(t trace.Tracer) Option {
	return func(c *Coordinator) {
		if t != nil {
			c.tracer = t
		}
	}
}

// WithLogger sets the logger. Stage events are also logged through it.
func WithLogger(l *logging.Logger) Option {
	return func(c *Coordinator) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithRunIDs overrides run ID generation.
func WithRunIDs(fn func() string) Option {
	return func(c *Coordinator) {
		if fn != nil {
			c.newRunID = fn
		}
	}
}

// NewCoordinator creates a Coordinator over store.
func NewCoordinator(r Roles, store Store, opts ...Option) (*Coordinator, error) {
	if err := r.validate(); err != nil {
		return nil, fmt.Errorf("invalid roles: %w", err)
	}
	if store == nil {
		return nil, errors.New("store is required")
	}
	c := &Coordinator{
		roles:     r,
		store:     store,
		retriever: memory.Nop{},
		limit:     DefaultContextLimit,
		tracer:    otel.Tracer(tracerName),
		logger:    logging.NewNop(),
		newRunID:  uuid.NewString,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Run drives requirement to DONE. The returned state is never nil, so
// callers can inspect how far a failed run got.
func (c *Coordinator) Run(ctx context.Context, requirement string) (*State, error) {
	state := NewState(c.newRunID(), requirement)
	ctx = logging.WithRunID(ctx, state.RunID)

	ActiveRuns.Inc()
	defer ActiveRuns.Dec()

	ctx, span := c.tracer.Start(ctx, "pipeline.run", trace.WithAttributes(
		attribute.String("forge.run_id", state.RunID),
	))
	defer span.End()

	c.logger.Info(ctx, "pipeline started", zap.Int("requirement_len", len(requirement)))

	for state.Stage != StageDone {
		if err := ctx.Err(); err != nil {
			err = fmt.Errorf("%w: %w", ErrCancelled, err)
			RunsTotal.WithLabelValues(OutcomeCancelled).Inc()
			span.SetStatus(codes.Error, "cancelled")
			c.emit(context.WithoutCancel(ctx), Event{
				RunID:     state.RunID,
				Stage:     state.Stage,
				Phase:     PhaseFailed,
				Iteration: state.Iteration,
				Error:     err.Error(),
				Time:      c.now(),
			})
			return state, &StageError{Stage: state.Stage, Err: err}
		}

		next, err := c.execute(ctx, state)
		if err != nil {
			RunsTotal.WithLabelValues(OutcomeFailed).Inc()
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return state, &StageError{Stage: state.Stage, Err: err}
		}
		state.Stage = next
	}

	outcome := Outcome(state, nil)
	RunsTotal.WithLabelValues(outcome).Inc()
	RunIterations.Observe(float64(state.Iteration))
	span.SetAttributes(
		attribute.Int("forge.iterations", state.Iteration),
		attribute.Int("forge.reviews", state.Reviews),
		attribute.String("forge.outcome", outcome),
	)
	c.logger.Info(ctx, "pipeline finished",
		zap.String("outcome", outcome),
		zap.Int("iterations", state.Iteration),
		zap.Int("verifications", len(state.Records)),
		zap.Bool("hardened", state.Hardened()))
	return state, nil
}

// execute runs the current stage inside its span and event bracket and
// returns the stage that follows.
func (c *Coordinator) execute(ctx context.Context, state *State) (Stage, error) {
	stage := state.Stage
	ctx = logging.WithStage(ctx, string(stage))
	ctx = logging.WithIteration(ctx, state.Iteration)

	ctx, span := c.tracer.Start(ctx, "pipeline."+string(stage), trace.WithAttributes(
		attribute.String("forge.stage", string(stage)),
		attribute.Int("forge.iteration", state.Iteration),
	))
	defer span.End()

	start := c.now()
	c.emit(ctx, Event{RunID: state.RunID, Stage: stage, Phase: PhaseStarted, Iteration: state.Iteration, Time: start})

	var (
		next    Stage
		summary string
		status  domain.Status
		err     error
	)
	switch stage {
	case StageDesign:
		summary, err = c.design(ctx, state)
		next = successor(stage)
	case StageTestAuthor:
		summary, err = c.authorTests(ctx, state)
		next = successor(stage)
	case StageBuild:
		summary, err = c.build(ctx, state)
		next = successor(stage)
	case StageVerify:
		rec := c.verify(ctx, state)
		status = rec.Status
		next = Route(rec, state.Iteration)
		if next == StageBuild && c.buildLimitReached(state.Iteration) {
			c.logger.Warn(ctx, "build limit reached, stopping on failing suite",
				zap.Int("builds", state.Iteration),
				zap.String("status", string(rec.Status)))
			next = StageDone
		}
		summary = fmt.Sprintf("verification %d: %s, next %s", rec.Index, rec.Status, next)
		span.SetAttributes(attribute.String("forge.status", string(rec.Status)))
	case StageReview:
		summary, err = c.review(ctx, state)
		next = successor(stage)
	default:
		err = fmt.Errorf("unknown stage %q", stage)
	}

	elapsed := c.now().Sub(start)
	ev := Event{
		RunID:     state.RunID,
		Stage:     stage,
		Iteration: state.Iteration,
		Status:    status,
		Summary:   summary,
		Duration:  elapsed,
		Time:      c.now(),
	}
	if err != nil {
		StageDuration.WithLabelValues(string(stage), "failed").Observe(elapsed.Seconds())
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		ev.Phase = PhaseFailed
		ev.Error = err.Error()
		c.emit(ctx, ev)
		return "", err
	}
	StageDuration.WithLabelValues(string(stage), "completed").Observe(elapsed.Seconds())
	ev.Phase = PhaseCompleted
	ev.Next = next
	c.emit(ctx, ev)
	return next, nil
}

func (c *Coordinator) emit(ctx context.Context, ev Event) {
	for _, sink := range c.sinks {
		if err := sink.HandleEvent(ctx, ev); err != nil {
			c.logger.Warn(ctx, "event sink failed", zap.Error(err))
		}
	}
	if c.progress != nil {
		c.progress(ev)
	}
}

func (c *Coordinator) design(ctx context.Context, state *State) (string, error) {
	repoContext, err := c.retriever.RetrieveContext(ctx, state.Requirement, c.limit)
	if err != nil {
		// Retrieval is best effort; design proceeds on an empty context.
		c.logger.Warn(ctx, "context retrieval failed", zap.Error(err))
		repoContext = ""
	}
	state.Context = repoContext

	spec, err := c.roles.Designer.Design(ctx, state.Requirement, repoContext)
	if err != nil {
		return "", err
	}
	data, err := spec.MarshalIndent()
	if err != nil {
		return "", fmt.Errorf("encoding specification: %w", err)
	}
	if _, err := c.store.Write(workspace.SpecFileName, string(data)); err != nil {
		return "", fmt.Errorf("writing %s: %w", workspace.SpecFileName, err)
	}
	state.Spec = spec
	return fmt.Sprintf("planned %d files for %s", len(spec.FileStructure), spec.ProjectName), nil
}

func (c *Coordinator) authorTests(ctx context.Context, state *State) (string, error) {
	writes, err := c.roles.TestAuthor.AuthorTests(ctx, state.Spec)
	if err != nil {
		return "", err
	}
	if err := c.store.Apply(writes); err != nil {
		return "", err
	}
	state.TestOutput = encodeWrites(writes)
	return fmt.Sprintf("wrote %d test files", len(writes)), nil
}

func (c *Coordinator) build(ctx context.Context, state *State) (string, error) {
	if state.Iteration == 0 {
		report := c.roles.Builder.Setup(ctx, state.Spec)
		if failed := report.Failed(); len(failed) > 0 {
			c.logger.Warn(ctx, "setup commands failed",
				zap.Int("failed", len(failed)),
				zap.String("diagnostic", report.Diagnostic()))
		}
	}

	writes, err := c.roles.Builder.Build(ctx, state.Spec, state.Feedback())
	if err != nil {
		return "", err
	}
	state.Iteration++
	c.snapshot(ctx, fmt.Sprintf("build %d", state.Iteration))
	return fmt.Sprintf("built %d files", len(writes)), nil
}

func (c *Coordinator) buildLimitReached(builds int) bool {
	if c.maxBuilds <= 0 {
		return false
	}
	return builds >= max(c.maxBuilds, MaxIterations)
}

func (c *Coordinator) verify(ctx context.Context, state *State) domain.VerificationRecord {
	rec := c.roles.Verifier.Verify(ctx, state.Spec.SetupCommands)
	if rec.Timestamp.IsZero() {
		rec.Timestamp = c.now()
	}
	rec = state.appendRecord(rec)
	VerificationsTotal.WithLabelValues(string(rec.Status)).Inc()
	return rec
}

func (c *Coordinator) review(ctx context.Context, state *State) (string, error) {
	writes, err := c.roles.Reviewer.Audit(ctx, state.Spec, c.store)
	if err != nil {
		return "", err
	}
	if err := c.store.Apply(writes); err != nil {
		return "", err
	}
	state.completeReview()
	c.snapshot(ctx, fmt.Sprintf("review %d", state.Reviews))
	return fmt.Sprintf("review %d added %d audit files", state.Reviews, len(writes)), nil
}

func encodeWrites(writes []domain.ArtifactWrite) string {
	data, err := json.Marshal(roles.TestSuite{Files: writes})
	if err != nil {
		return ""
	}
	return string(data)
}

func (c *Coordinator) snapshot(ctx context.Context, message string) {
	hash, err := c.store.Snapshot(message)
	if err != nil {
		c.logger.Warn(ctx, "snapshot failed", zap.Error(err))
		return
	}
	if hash != "" {
		c.logger.Debug(ctx, "snapshot recorded", zap.String("commit", hash))
	}
}
