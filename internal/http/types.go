package http

import (
	"time"

	"github.com/sanvibhowmick/forge/internal/history"
)

// HealthResponse is the response body for GET /health.
type HealthResponse struct {
	Status string `json:"status"`
}

// RunSummary is one row of GET /api/v1/runs.
type RunSummary struct {
	ID          string     `json:"id"`
	Requirement string     `json:"requirement"`
	Status      string     `json:"status"`
	Stage       string     `json:"stage"`
	Iteration   int        `json:"iteration"`
	Reviews     int        `json:"reviews"`
	Project     string     `json:"project,omitempty"`
	StartedAt   time.Time  `json:"started_at"`
	FinishedAt  *time.Time `json:"finished_at,omitempty"`
}

// RunListResponse is the response body for GET /api/v1/runs.
type RunListResponse struct {
	Runs []RunSummary `json:"runs"`
}

// ScrubRequest is the request body for POST /api/v1/scrub.
type ScrubRequest struct {
	Content string `json:"content"`
}

// ScrubResponse is the response body for POST /api/v1/scrub.
type ScrubResponse struct {
	Content       string `json:"content"`
	FindingsCount int    `json:"findings_count"`
}

func summarize(r *history.Run) RunSummary {
	return RunSummary{
		ID:          r.ID,
		Requirement: r.Requirement,
		Status:      r.Status,
		Stage:       r.Stage,
		Iteration:   r.Iteration,
		Reviews:     r.Reviews,
		Project:     r.Project,
		StartedAt:   r.StartedAt,
		FinishedAt:  r.FinishedAt,
	}
}
