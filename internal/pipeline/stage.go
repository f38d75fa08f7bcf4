// Package pipeline drives a requirement through design, test authoring,
// build, verification and review until the suite passes and has been
// hardened, or the iteration bound is reached.
package pipeline

import "github.com/sanvibhowmick/forge/internal/domain"

// MaxIterations bounds the number of build rounds that may be followed by a
// review.
const MaxIterations = 3

// Stage names a node of the pipeline graph.
type Stage string

const (
	StageDesign     Stage = "DESIGN"
	StageTestAuthor Stage = "TEST_AUTHOR"
	StageBuild      Stage = "BUILD"
	StageVerify     Stage = "VERIFY"
	StageReview     Stage = "REVIEW"
	StageDone       Stage = "DONE"
)

// AllStages lists the stages in first-visit order.
func AllStages() []Stage {
	return []Stage{StageDesign, StageTestAuthor, StageBuild, StageVerify, StageReview, StageDone}
}

// Route picks the stage after VERIFY. Anything but PASS goes back to BUILD
// with the record as feedback. A PASS is reviewed while iterations remain.
func Route(latest domain.VerificationRecord, iteration int) Stage {
	if latest.Status != domain.StatusPass {
		return StageBuild
	}
	if iteration < MaxIterations {
		return StageReview
	}
	return StageDone
}

// successor returns the fixed successor of every stage except VERIFY.
func successor(s Stage) Stage {
	switch s {
	case StageDesign:
		return StageTestAuthor
	case StageTestAuthor, StageReview:
		return StageBuild
	case StageBuild:
		return StageVerify
	default:
		return StageDone
	}
}
