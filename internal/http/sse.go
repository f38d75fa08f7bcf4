package http

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/sanvibhowmick/forge/internal/pipeline"
)

// handleRunEvents streams stage events of a run as Server-Sent Events.
//
// Each event is written as
//
//	event: completed
//	data: {"run_id":"...","stage":"VERIFY","phase":"completed",...}
//
// The stream ends after the run reaches DONE, after a failed stage, or when
// the client disconnects.
func (s *Server) handleRunEvents(c echo.Context) error {
	if s.stream == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "event stream is disabled")
	}
	runID := c.Param("id")

	events := make(chan pipeline.Event, 16)
	sub, err := s.stream.Subscribe(runID, func(ev pipeline.Event) {
		select {
		case events <- ev:
		default:
			s.logger.Warn("dropping event for slow stream client", zap.String("run_id", runID))
		}
	})
	if err != nil {
		s.logger.Error("subscribing to run events failed", zap.String("run_id", runID), zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to subscribe")
	}
	defer func() {
		_ = sub.Unsubscribe()
	}()

	res := c.Response()
	res.Header().Set("Content-Type", "text/event-stream")
	res.Header().Set("Cache-Control", "no-cache")
	res.Header().Set("Connection", "keep-alive")
	res.Header().Set("X-Accel-Buffering", "no")
	res.WriteHeader(http.StatusOK)
	res.Flush()

	ticker := time.NewTicker(s.config.Heartbeat)
	defer ticker.Stop()

	for {
		select {
		case ev := <-events:
			data, err := json.Marshal(ev)
			if err != nil {
				continue
			}
			fmt.Fprintf(res, "event: %s\n", ev.Phase)
			fmt.Fprintf(res, "data: %s\n\n", data)
			res.Flush()

			if streamEnds(ev) {
				return nil
			}

		case <-ticker.C:
			fmt.Fprintf(res, ": heartbeat\n\n")
			res.Flush()

		case <-c.Request().Context().Done():
			return nil
		}
	}
}

func streamEnds(ev pipeline.Event) bool {
	if ev.Phase == pipeline.PhaseFailed {
		return true
	}
	return ev.Phase == pipeline.PhaseCompleted && ev.Next == pipeline.StageDone
}
