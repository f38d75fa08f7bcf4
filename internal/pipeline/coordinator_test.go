package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/sanvibhowmick/forge/internal/domain"
	"github.com/sanvibhowmick/forge/internal/logging"
	"github.com/sanvibhowmick/forge/internal/roles"
	"github.com/sanvibhowmick/forge/internal/telemetry"
	"github.com/sanvibhowmick/forge/internal/workspace"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func testSpec() *domain.Specification {
	return &domain.Specification{
		ProjectName: "calculator",
		FileStructure: []domain.FileTask{
			{Path: "src/calculator.py", Description: "add and divide"},
			{Path: "src/__init__.py", Description: "package marker"},
		},
		SetupCommands: []string{"python -m venv venv", "pip install pytest"},
	}
}

type mockDesigner struct {
	mock.Mock
}

func (m *mockDesigner) Design(ctx context.Context, requirement, repoContext string) (*domain.Specification, error) {
	args := m.Called(ctx, requirement, repoContext)
	spec, _ := args.Get(0).(*domain.Specification)
	return spec, args.Error(1)
}

type fakeTestAuthor struct {
	calls int
	err   error
}

func (f *fakeTestAuthor) AuthorTests(context.Context, *domain.Specification) ([]domain.ArtifactWrite, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return []domain.ArtifactWrite{
		{Path: "tests/test_calculator.py", Content: "def test_add():\n    assert True\n"},
	}, nil
}

type fakeBuilder struct {
	store     *workspace.Store
	setups    int
	feedbacks []string
	err       error
}

func (f *fakeBuilder) Setup(context.Context, *domain.Specification) *roles.SetupReport {
	f.setups++
	return &roles.SetupReport{}
}

func (f *fakeBuilder) Build(_ context.Context, spec *domain.Specification, feedback string) ([]domain.ArtifactWrite, error) {
	f.feedbacks = append(f.feedbacks, feedback)
	if f.err != nil {
		return nil, f.err
	}
	var writes []domain.ArtifactWrite
	for _, task := range spec.FileStructure {
		content := fmt.Sprintf("# build %d\n", len(f.feedbacks))
		if _, err := f.store.Write(task.Path, content); err != nil {
			return writes, err
		}
		writes = append(writes, domain.ArtifactWrite{Path: task.Path, Content: content})
	}
	return writes, nil
}

// scriptedVerifier answers with statuses in order and repeats the last one.
type scriptedVerifier struct {
	statuses []domain.Status
	deps     [][]string
}

func (v *scriptedVerifier) Verify(_ context.Context, deps []string) domain.VerificationRecord {
	i := len(v.deps)
	v.deps = append(v.deps, deps)
	if i >= len(v.statuses) {
		i = len(v.statuses) - 1
	}
	return domain.VerificationRecord{
		Status:     v.statuses[i],
		Diagnostic: fmt.Sprintf("round %d", len(v.deps)),
	}
}

type fakeReviewer struct {
	calls int
}

func (f *fakeReviewer) Audit(context.Context, *domain.Specification, roles.ArtifactStore) ([]domain.ArtifactWrite, error) {
	f.calls++
	return []domain.ArtifactWrite{
		{Path: roles.AuditPath, Content: fmt.Sprintf("def test_audit_%d():\n    assert True\n", f.calls)},
	}, nil
}

type harness struct {
	store    *workspace.Store
	designer *mockDesigner
	author   *fakeTestAuthor
	builder  *fakeBuilder
	verifier *scriptedVerifier
	reviewer *fakeReviewer

	mu     sync.Mutex
	events []Event
}

func newHarness(t *testing.T, statuses ...domain.Status) *harness {
	t.Helper()
	store, err := workspace.NewStore(t.TempDir())
	require.NoError(t, err)

	designer := &mockDesigner{}
	designer.On("Design", mock.Anything, mock.Anything, mock.Anything).Return(testSpec(), nil).Maybe()

	return &harness{
		store:    store,
		designer: designer,
		author:   &fakeTestAuthor{},
		builder:  &fakeBuilder{store: store},
		verifier: &scriptedVerifier{statuses: statuses},
		reviewer: &fakeReviewer{},
	}
}

func (h *harness) roles() Roles {
	return Roles{
		Designer:   h.designer,
		TestAuthor: h.author,
		Builder:    h.builder,
		Verifier:   h.verifier,
		Reviewer:   h.reviewer,
	}
}

func (h *harness) coordinator(t *testing.T, opts ...Option) *Coordinator {
	t.Helper()
	opts = append([]Option{WithProgress(func(ev Event) {
		h.mu.Lock()
		h.events = append(h.events, ev)
		h.mu.Unlock()
	})}, opts...)
	c, err := NewCoordinator(h.roles(), h.store, opts...)
	require.NoError(t, err)
	return c
}

// completed returns the stages of completed events in order.
func (h *harness) completed() []Stage {
	h.mu.Lock()
	defer h.mu.Unlock()
	var out []Stage
	for _, ev := range h.events {
		if ev.Phase == PhaseCompleted {
			out = append(out, ev.Stage)
		}
	}
	return out
}

func TestCoordinator_PassEveryRoundHardens(t *testing.T) {
	h := newHarness(t, domain.StatusPass)

	state, err := h.coordinator(t).Run(context.Background(), "build a calculator")
	require.NoError(t, err)

	assert.Equal(t, []Stage{
		StageDesign, StageTestAuthor,
		StageBuild, StageVerify, StageReview,
		StageBuild, StageVerify, StageReview,
		StageBuild, StageVerify,
	}, h.completed())
	assert.Equal(t, StageDone, state.Stage)
	assert.Equal(t, MaxIterations, state.Iteration)
	assert.Equal(t, 2, state.Reviews)
	assert.Len(t, state.Records, 3)
	assert.True(t, state.Hardened())
	assert.NotEmpty(t, state.RunID)
	assert.NotEmpty(t, state.TestOutput)

	for i, rec := range state.Records {
		assert.Equal(t, i, rec.Index)
		assert.False(t, rec.Timestamp.IsZero())
	}

	assert.True(t, h.store.Exists(workspace.SpecFileName))
	assert.True(t, h.store.Exists("tests/test_calculator.py"))
	audit, err := h.store.Read(roles.AuditPath)
	require.NoError(t, err)
	assert.Contains(t, audit, "test_audit_2")

	// Latest content only, from the third build.
	src, err := h.store.Read("src/calculator.py")
	require.NoError(t, err)
	assert.Equal(t, "# build 3\n", src)
	h.designer.AssertNumberOfCalls(t, "Design", 1)
}

func TestCoordinator_SpecFileRoundTrips(t *testing.T) {
	h := newHarness(t, domain.StatusPass)

	_, err := h.coordinator(t).Run(context.Background(), "build a calculator")
	require.NoError(t, err)

	data, err := h.store.Read(workspace.SpecFileName)
	require.NoError(t, err)
	spec, err := domain.ParseSpecification([]byte(data))
	require.NoError(t, err)
	assert.Equal(t, testSpec().SetupCommands, spec.SetupCommands)
	assert.Equal(t, testSpec().Paths(), spec.Paths())
}

func TestCoordinator_FailCyclesRunSetupOnce(t *testing.T) {
	h := newHarness(t,
		domain.StatusFail, domain.StatusFail, domain.StatusFail, domain.StatusFail, domain.StatusFail,
		domain.StatusPass)

	state, err := h.coordinator(t).Run(context.Background(), "build a calculator")
	require.NoError(t, err)

	assert.Equal(t, 1, h.builder.setups)
	assert.Len(t, h.builder.feedbacks, 6)
	assert.Equal(t, 6, state.Iteration)
	assert.Zero(t, h.reviewer.calls, "a pass past the bound goes straight to DONE")
	assert.Equal(t, "Initial build phase.", h.builder.feedbacks[0])
	assert.Equal(t, "STATUS: FAIL\nround 1", h.builder.feedbacks[1])
	assert.Equal(t, "STATUS: FAIL\nround 5", h.builder.feedbacks[5])

	for _, deps := range h.verifier.deps {
		assert.Equal(t, testSpec().SetupCommands, deps)
	}
}

func TestCoordinator_IterationIsMonotone(t *testing.T) {
	h := newHarness(t, domain.StatusFail, domain.StatusPass, domain.StatusFail, domain.StatusPass)

	state, err := h.coordinator(t).Run(context.Background(), "req")
	require.NoError(t, err)

	var builds []int
	for _, ev := range h.events {
		if ev.Stage == StageBuild && ev.Phase == PhaseCompleted {
			builds = append(builds, ev.Iteration)
		}
	}
	require.NotEmpty(t, builds)
	for i, it := range builds {
		assert.Equal(t, i+1, it)
	}
	assert.Equal(t, len(h.builder.feedbacks), state.Iteration)
}

func TestCoordinator_PassAtBoundIsDone(t *testing.T) {
	h := newHarness(t, domain.StatusFail, domain.StatusFail, domain.StatusPass)

	state, err := h.coordinator(t).Run(context.Background(), "req")
	require.NoError(t, err)

	assert.Equal(t, 3, state.Iteration)
	assert.Zero(t, state.Reviews)
	assert.True(t, state.Passed())
	assert.False(t, state.Hardened())
}

func TestCoordinator_ErrorIsRebuilt(t *testing.T) {
	h := newHarness(t, domain.StatusError, domain.StatusPass)

	state, err := h.coordinator(t).Run(context.Background(), "req")
	require.NoError(t, err)

	assert.Equal(t, []Stage{
		StageDesign, StageTestAuthor,
		StageBuild, StageVerify,
		StageBuild, StageVerify, StageReview,
		StageBuild, StageVerify,
	}, h.completed())
	assert.Equal(t, 1, state.Reviews)
	assert.Equal(t, "STATUS: ERROR\nround 1", h.builder.feedbacks[1])
}

func TestCoordinator_BuildLimit(t *testing.T) {
	h := newHarness(t, domain.StatusFail)
	tl := logging.NewTestLogger()

	state, err := h.coordinator(t, WithBuildLimit(4), WithLogger(tl.Logger)).Run(context.Background(), "req")
	require.NoError(t, err)

	assert.Equal(t, 4, state.Iteration)
	assert.False(t, state.Passed())
	tl.AssertLogged(t, zapcore.WarnLevel, "build limit reached")
}

func TestCoordinator_BuildLimitBelowIterationBound(t *testing.T) {
	t.Run("failing suite is rebuilt until it passes", func(t *testing.T) {
		h := newHarness(t, domain.StatusFail, domain.StatusFail, domain.StatusPass)
		tl := logging.NewTestLogger()

		state, err := h.coordinator(t, WithBuildLimit(1), WithLogger(tl.Logger)).Run(context.Background(), "req")
		require.NoError(t, err)

		assert.Equal(t, 3, state.Iteration)
		assert.True(t, state.Passed())
		assert.Equal(t, []string{"STATUS: FAIL\nround 1", "STATUS: FAIL\nround 2"}, h.builder.feedbacks[1:])
		tl.AssertNotLogged(t, zapcore.WarnLevel, "build limit reached")
	})

	t.Run("limit is raised to the iteration bound", func(t *testing.T) {
		h := newHarness(t, domain.StatusFail)
		tl := logging.NewTestLogger()

		state, err := h.coordinator(t, WithBuildLimit(1), WithLogger(tl.Logger)).Run(context.Background(), "req")
		require.NoError(t, err)

		assert.Equal(t, MaxIterations, state.Iteration)
		assert.False(t, state.Passed())
		tl.AssertLogged(t, zapcore.WarnLevel, "build limit reached")
	})
}

func TestCoordinator_FatalDesignError(t *testing.T) {
	h := newHarness(t, domain.StatusPass)
	h.designer = &mockDesigner{}
	h.designer.On("Design", mock.Anything, "req", "").
		Return(nil, fmt.Errorf("%w: missing file_structure", domain.ErrSpecificationMalformed))

	state, err := h.coordinator(t).Run(context.Background(), "req")
	require.Error(t, err)

	var se *StageError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, StageDesign, se.Stage)
	assert.ErrorIs(t, err, domain.ErrSpecificationMalformed)
	assert.True(t, domain.IsFatal(err))
	assert.Equal(t, "stage DESIGN: specification malformed: missing file_structure", err.Error())

	require.NotNil(t, state)
	assert.Nil(t, state.Spec)
	assert.Zero(t, h.author.calls)
	assert.False(t, h.store.Exists(workspace.SpecFileName))

	last := h.events[len(h.events)-1]
	assert.Equal(t, PhaseFailed, last.Phase)
	assert.Equal(t, StageDesign, last.Stage)
	assert.Contains(t, last.Error, "missing file_structure")
}

func TestCoordinator_DuplicateTestTargetIsFatal(t *testing.T) {
	h := newHarness(t, domain.StatusPass)
	h.author.err = fmt.Errorf("%w: tests/test_a.py", domain.ErrDuplicateTestTarget)

	_, err := h.coordinator(t).Run(context.Background(), "req")

	stage, ok := FailedStage(err)
	require.True(t, ok)
	assert.Equal(t, StageTestAuthor, stage)
	assert.ErrorIs(t, err, domain.ErrDuplicateTestTarget)
	assert.Zero(t, h.builder.setups)
}

func TestCoordinator_BuildErrorIsNotRetried(t *testing.T) {
	h := newHarness(t, domain.StatusPass)
	h.builder.err = errors.New("model unavailable")

	state, err := h.coordinator(t).Run(context.Background(), "req")

	stage, ok := FailedStage(err)
	require.True(t, ok)
	assert.Equal(t, StageBuild, stage)
	assert.Len(t, h.builder.feedbacks, 1)
	assert.Zero(t, state.Iteration)
	assert.Empty(t, h.verifier.deps)
}

func TestCoordinator_CancelledBetweenStages(t *testing.T) {
	h := newHarness(t, domain.StatusPass)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	c := h.coordinator(t, WithProgress(func(ev Event) {
		if ev.Stage == StageDesign && ev.Phase == PhaseCompleted {
			cancel()
		}
	}))
	state, err := c.Run(ctx, "req")

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrCancelled)
	assert.ErrorIs(t, err, context.Canceled)
	stage, _ := FailedStage(err)
	assert.Equal(t, StageTestAuthor, stage)
	assert.NotNil(t, state.Spec, "the running stage completed")
	assert.Zero(t, h.author.calls)
}

func TestCoordinator_SinksReceiveEveryEvent(t *testing.T) {
	h := newHarness(t, domain.StatusPass)
	tl := logging.NewTestLogger()

	var got []Event
	ok := SinkFunc(func(_ context.Context, ev Event) error {
		got = append(got, ev)
		return nil
	})
	broken := SinkFunc(func(context.Context, Event) error {
		return errors.New("bus down")
	})

	c := h.coordinator(t,
		WithSinks(ok, broken, LogSink{Logger: tl.Logger}),
		WithLogger(tl.Logger),
		WithRunIDs(func() string { return "run-fixed" }))
	state, err := c.Run(context.Background(), "req")
	require.NoError(t, err)

	assert.Equal(t, "run-fixed", state.RunID)
	require.Len(t, got, len(h.events))
	assert.Equal(t, PhaseStarted, got[0].Phase)
	assert.Equal(t, StageDesign, got[0].Stage)
	for _, ev := range got {
		assert.Equal(t, "run-fixed", ev.RunID)
		assert.False(t, ev.Time.IsZero())
	}

	var verifyStatuses []domain.Status
	for _, ev := range got {
		if ev.Stage == StageVerify && ev.Phase == PhaseCompleted {
			verifyStatuses = append(verifyStatuses, ev.Status)
			assert.Contains(t, ev.Summary, "PASS")
		}
	}
	assert.Len(t, verifyStatuses, 3)

	tl.AssertLogged(t, zapcore.WarnLevel, "event sink failed")
	tl.AssertLogged(t, zapcore.InfoLevel, "stage completed")
	tl.AssertField(t, "stage completed", "run.id", "run-fixed")
}

func TestCoordinator_RetrieverFailureFallsBackToEmptyContext(t *testing.T) {
	h := newHarness(t, domain.StatusPass)
	h.designer = &mockDesigner{}
	h.designer.On("Design", mock.Anything, "req", "").Return(testSpec(), nil).Once()

	failing := retrieverFunc(func(context.Context, string, int) (string, error) {
		return "", errors.New("qdrant unreachable")
	})
	state, err := h.coordinator(t, WithRetriever(failing, 3)).Run(context.Background(), "req")
	require.NoError(t, err)
	assert.Empty(t, state.Context)
	h.designer.AssertExpectations(t)
}

func TestCoordinator_RetrievedContextReachesDesign(t *testing.T) {
	h := newHarness(t, domain.StatusPass)
	h.designer = &mockDesigner{}
	h.designer.On("Design", mock.Anything, "extend auth", "FILE: src/auth.py\nCONTENT:\npass").
		Return(testSpec(), nil).Once()

	var gotLimit int
	r := retrieverFunc(func(_ context.Context, q string, limit int) (string, error) {
		gotLimit = limit
		return "FILE: src/auth.py\nCONTENT:\npass", nil
	})
	state, err := h.coordinator(t, WithRetriever(r, 7)).Run(context.Background(), "extend auth")
	require.NoError(t, err)

	assert.Equal(t, 7, gotLimit)
	assert.Equal(t, "FILE: src/auth.py\nCONTENT:\npass", state.Context)
	h.designer.AssertExpectations(t)
}

func TestCoordinator_Spans(t *testing.T) {
	h := newHarness(t, domain.StatusPass)
	tt := telemetry.NewTestTelemetry()

	_, err := h.coordinator(t, WithTracer(tt.Tracer(tracerName))).Run(context.Background(), "req")
	require.NoError(t, err)

	names := tt.SpanNames()
	assert.Contains(t, names, "pipeline.run")
	assert.Contains(t, names, "pipeline.DESIGN")
	assert.Contains(t, names, "pipeline.REVIEW")
	tt.AssertSpanAttribute(t, "pipeline.run", "forge.outcome", "hardened")
	tt.AssertSpanAttribute(t, "pipeline.run", "forge.iterations", int64(3))
	tt.AssertSpanAttribute(t, "pipeline.VERIFY", "forge.status", "PASS")
}

func TestNewCoordinator_Validation(t *testing.T) {
	h := newHarness(t, domain.StatusPass)

	r := h.roles()
	r.Verifier = nil
	_, err := NewCoordinator(r, h.store)
	assert.ErrorContains(t, err, "verifier is required")

	_, err = NewCoordinator(h.roles(), nil)
	assert.ErrorContains(t, err, "store is required")
}

type retrieverFunc func(ctx context.Context, query string, limit int) (string, error)

func (f retrieverFunc) RetrieveContext(ctx context.Context, query string, limit int) (string, error) {
	return f(ctx, query, limit)
}
