// Package store persists runs, their test results, and artifact records.
package store

import (
	"time"
)

// RunStatus is the lifecycle state of a run. Terminal states are
// monotonic: once terminal, a run never changes again.
type RunStatus string

const (
	RunPending   RunStatus = "pending"
	RunRunning   RunStatus = "running"
	RunCompleted RunStatus = "completed"
	RunFailed    RunStatus = "failed"
	RunCancelled RunStatus = "cancelled"
)

// Terminal reports whether the status permits no further mutation.
func (s RunStatus) Terminal() bool {
	switch s {
	case RunCompleted, RunFailed, RunCancelled:
		return true
	}
	return false
}

// Run is one durable execution of a suite.
type Run struct {
	ID           string     `json:"id" db:"id"`
	SuiteName    string     `json:"suite_name" db:"suite_name"`
	Status       RunStatus  `json:"status" db:"status"`
	StartedAt    time.Time  `json:"started_at" db:"started_at"`
	FinishedAt   *time.Time `json:"finished_at,omitempty" db:"finished_at"`
	DurationMS   *int64     `json:"duration_ms,omitempty" db:"duration_ms"`
	BytesScanned int64      `json:"bytes_scanned,omitempty" db:"bytes_scanned"`
	QueryIDs     []string   `json:"query_ids" db:"-"`
	Environment  string     `json:"environment" db:"environment"`
	Connection   string     `json:"connection" db:"connection"`
	ErrorMessage string     `json:"error_message,omitempty" db:"error_message"`
}

// TestStatus is the terminal verdict of one test within a run.
type TestStatus string

const (
	TestPass  TestStatus = "pass"
	TestFail  TestStatus = "fail"
	TestError TestStatus = "error"
	TestSkip  TestStatus = "skip"
)

// RunTest is written exactly once, in its terminal state.
type RunTest struct {
	ID           string         `json:"id" db:"id"`
	RunID        string         `json:"run_id" db:"run_id"`
	Name         string         `json:"name" db:"name"`
	Kind         string         `json:"type" db:"type"`
	Status       TestStatus     `json:"status" db:"status"`
	StartedAt    time.Time      `json:"started_at" db:"started_at"`
	FinishedAt   time.Time      `json:"finished_at" db:"finished_at"`
	DurationMS   int64          `json:"duration_ms" db:"duration_ms"`
	Observed     map[string]any `json:"observed,omitempty" db:"-"`
	Expected     map[string]any `json:"expected,omitempty" db:"-"`
	QueryID      string         `json:"query_id,omitempty" db:"query_id"`
	ErrorMessage string         `json:"error_message,omitempty" db:"error_message"`
}

// ArtifactKind identifies what an artifact record points at.
type ArtifactKind string

const (
	ArtifactReport  ArtifactKind = "report"
	ArtifactLogs    ArtifactKind = "logs"
	ArtifactSamples ArtifactKind = "samples"
)

// Artifact is an append-only pointer to a stored object.
type Artifact struct {
	ID          string       `json:"id" db:"id"`
	RunID       string       `json:"run_id" db:"run_id"`
	Kind        ArtifactKind `json:"kind" db:"kind"`
	Path        string       `json:"path" db:"path"`
	URL         string       `json:"url,omitempty" db:"url"`
	SizeBytes   int64        `json:"size_bytes" db:"size_bytes"`
	ContentType string       `json:"content_type" db:"content_type"`
	CreatedAt   time.Time    `json:"created_at" db:"created_at"`
	ExpiresAt   *time.Time   `json:"expires_at,omitempty" db:"expires_at"`
}

// Finalize carries the terminal fields written when a run ends.
type Finalize struct {
	Status       RunStatus
	FinishedAt   time.Time
	DurationMS   int64
	QueryIDs     []string
	BytesScanned int64
	ErrorMessage string
}

// ListFilter narrows ListRuns.
type ListFilter struct {
	SuiteName string
	Status    RunStatus
	Limit     int
	Offset    int
}
