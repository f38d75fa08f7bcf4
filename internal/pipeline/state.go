package pipeline

import (
	"errors"

	"github.com/sanvibhowmick/forge/internal/domain"
)

// Run outcomes.
const (
	OutcomeHardened  = "hardened"
	OutcomePassed    = "passed"
	OutcomeExhausted = "exhausted"
	OutcomeFailed    = "failed"
	OutcomeCancelled = "cancelled"
)

// State is the run's accumulated knowledge. Only the coordinator mutates
// it, one stage at a time.
type State struct {
	RunID       string
	Requirement string

	// Context is the retrieved repository context given to design.
	Context string
	Spec    *domain.Specification
	// TestOutput is the serialized output of test authoring.
	TestOutput string

	// Iteration counts completed BUILD stages.
	Iteration int
	Records   []domain.VerificationRecord
	Reviews   int

	// recordsAtFirstReview is len(Records) when the first review finished,
	// or -1 before that.
	recordsAtFirstReview int

	Stage Stage
}

// NewState returns a fresh state at DESIGN.
func NewState(runID, requirement string) *State {
	return &State{
		RunID:                runID,
		Requirement:          requirement,
		Stage:                StageDesign,
		recordsAtFirstReview: -1,
	}
}

// Latest returns the most recent verification record.
func (s *State) Latest() (domain.VerificationRecord, bool) {
	if len(s.Records) == 0 {
		return domain.VerificationRecord{}, false
	}
	return s.Records[len(s.Records)-1], true
}

// Feedback is what the next build sees.
func (s *State) Feedback() string {
	if latest, ok := s.Latest(); ok {
		return latest.Feedback()
	}
	return "Initial build phase."
}

// Passed reports whether the latest record is a PASS.
func (s *State) Passed() bool {
	latest, ok := s.Latest()
	return ok && latest.Passed()
}

// Hardened reports whether a PASS was recorded after at least one review.
func (s *State) Hardened() bool {
	if s.recordsAtFirstReview < 0 {
		return false
	}
	for _, r := range s.Records[s.recordsAtFirstReview:] {
		if r.Passed() {
			return true
		}
	}
	return false
}

func (s *State) appendRecord(r domain.VerificationRecord) domain.VerificationRecord {
	r.Index = len(s.Records)
	s.Records = append(s.Records, r)
	return r
}

func (s *State) completeReview() {
	s.Reviews++
	if s.recordsAtFirstReview < 0 {
		s.recordsAtFirstReview = len(s.Records)
	}
}

// Outcome summarizes how a run ended given Run's return values.
func Outcome(s *State, err error) string {
	switch {
	case errors.Is(err, ErrCancelled):
		return OutcomeCancelled
	case err != nil:
		return OutcomeFailed
	case s == nil:
		return OutcomeFailed
	case s.Hardened():
		return OutcomeHardened
	case s.Passed():
		return OutcomePassed
	default:
		return OutcomeExhausted
	}
}
