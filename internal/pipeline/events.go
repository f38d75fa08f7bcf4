package pipeline

import (
	"context"
	"time"

	"github.com/sanvibhowmick/forge/internal/domain"
	"github.com/sanvibhowmick/forge/internal/logging"
	"go.uber.org/zap"
)

// Phase marks where in a stage an event was emitted.
type Phase string

const (
	PhaseStarted   Phase = "started"
	PhaseCompleted Phase = "completed"
	PhaseFailed    Phase = "failed"
)

// Event brackets one stage execution.
type Event struct {
	RunID     string        `json:"run_id"`
	Stage     Stage         `json:"stage"`
	Phase     Phase         `json:"phase"`
	Iteration int           `json:"iteration"`
	Status    domain.Status `json:"status,omitempty"`
	// Next is the stage that follows a completed stage.
	Next     Stage         `json:"next,omitempty"`
	Summary  string        `json:"summary,omitempty"`
	Error    string        `json:"error,omitempty"`
	Duration time.Duration `json:"duration,omitempty"`
	Time     time.Time     `json:"time"`
}

// EventSink receives every event of a run. A failing sink is logged and
// never stops the pipeline.
type EventSink interface {
	HandleEvent(ctx context.Context, ev Event) error
}

// SinkFunc adapts a function to EventSink.
type SinkFunc func(ctx context.Context, ev Event) error

func (f SinkFunc) HandleEvent(ctx context.Context, ev Event) error {
	return f(ctx, ev)
}

// LogSink writes events to a logger.
type LogSink struct {
	Logger *logging.Logger
}

func (s LogSink) HandleEvent(ctx context.Context, ev Event) error {
	fields := []zap.Field{
		zap.String("phase", string(ev.Phase)),
		zap.String("summary", ev.Summary),
	}
	if ev.Status != "" {
		fields = append(fields, zap.String("status", string(ev.Status)))
	}
	if ev.Duration > 0 {
		fields = append(fields, zap.Duration("duration", ev.Duration))
	}
	switch ev.Phase {
	case PhaseFailed:
		s.Logger.Error(ctx, "stage failed", append(fields, zap.String("error", ev.Error))...)
	case PhaseStarted:
		s.Logger.Debug(ctx, "stage started", fields...)
	default:
		s.Logger.Info(ctx, "stage completed", fields...)
	}
	return nil
}
