package pipeline

import (
	"testing"

	"github.com/sanvibhowmick/forge/internal/domain"
	"github.com/stretchr/testify/assert"
)

func TestRoute(t *testing.T) {
	tests := []struct {
		name      string
		status    domain.Status
		iteration int
		want      Stage
	}{
		{"fail first build", domain.StatusFail, 1, StageBuild},
		{"fail at bound", domain.StatusFail, MaxIterations, StageBuild},
		{"fail past bound", domain.StatusFail, 7, StageBuild},
		{"error routes like fail", domain.StatusError, 1, StageBuild},
		{"error at bound", domain.StatusError, MaxIterations, StageBuild},
		{"pass with budget", domain.StatusPass, 1, StageReview},
		{"pass one below bound", domain.StatusPass, MaxIterations - 1, StageReview},
		{"pass at bound", domain.StatusPass, MaxIterations, StageDone},
		{"pass past bound", domain.StatusPass, 5, StageDone},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := domain.VerificationRecord{Status: tt.status}
			assert.Equal(t, tt.want, Route(rec, tt.iteration))
		})
	}
}

func TestSuccessor(t *testing.T) {
	assert.Equal(t, StageTestAuthor, successor(StageDesign))
	assert.Equal(t, StageBuild, successor(StageTestAuthor))
	assert.Equal(t, StageVerify, successor(StageBuild))
	assert.Equal(t, StageBuild, successor(StageReview))
	assert.Equal(t, StageDone, successor(StageDone))
}

func TestAllStages(t *testing.T) {
	stages := AllStages()
	assert.Len(t, stages, 6)
	assert.Equal(t, StageDesign, stages[0])
	assert.Equal(t, StageDone, stages[len(stages)-1])
}
