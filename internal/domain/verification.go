package domain

import (
	"fmt"
	"time"
)

// Status is the classified outcome of one verification round.
type Status string

const (
	StatusPass  Status = "PASS"
	StatusFail  Status = "FAIL"
	StatusError Status = "ERROR"
)

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusPass, StatusFail, StatusError:
		return true
	}
	return false
}

// VerificationRecord is appended once per verifier invocation.
type VerificationRecord struct {
	Status     Status    `json:"status"`
	Diagnostic string    `json:"diagnostic"`
	Index      int       `json:"index"`
	Timestamp  time.Time `json:"timestamp"`
}

// Passed reports whether the round succeeded.
func (r VerificationRecord) Passed() bool {
	return r.Status == StatusPass
}

// Feedback renders the record as builder feedback. The diagnostic is
// included verbatim.
func (r VerificationRecord) Feedback() string {
	return fmt.Sprintf("STATUS: %s\n%s", r.Status, r.Diagnostic)
}

// ArtifactWrite is a full-content write of one file into the artifact root.
type ArtifactWrite struct {
	Path    string `json:"path" jsonschema:"file path relative to the project root"`
	Content string `json:"content" jsonschema:"complete file content"`
}
