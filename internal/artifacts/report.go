// Package artifacts writes run reports, logs, and violation samples to an
// object store and returns opaque locators for them.
package artifacts

import (
	"time"

	"github.com/dataflowguard/dto/internal/store"
)

// ReportVersion is stamped into every report.json.
const ReportVersion = "1.0"

// Summary aggregates test verdicts for a run. SuccessRate is omitted when
// the run executed no tests.
type Summary struct {
	Total       int      `json:"total"`
	Passed      int      `json:"passed"`
	Failed      int      `json:"failed"`
	Errors      int      `json:"error"`
	Skipped     int      `json:"skipped"`
	SuccessRate *float64 `json:"success_rate,omitempty"`
}

// Report is the durable record of one run. Marshalling a Report and parsing
// it back yields the same run state.
type Report struct {
	RunID        string          `json:"run_id"`
	SuiteName    string          `json:"suite_name"`
	Status       store.RunStatus `json:"status"`
	StartedAt    time.Time       `json:"started_at"`
	FinishedAt   *time.Time      `json:"finished_at,omitempty"`
	DurationMS   *int64          `json:"duration_ms,omitempty"`
	BytesScanned int64           `json:"bytes_scanned"`
	Environment  string          `json:"environment"`
	Connection   string          `json:"connection"`
	QueryIDs     []string        `json:"query_ids"`
	Summary      Summary         `json:"summary"`
	TestResults  []store.RunTest `json:"test_results"`
	GeneratedAt  time.Time       `json:"generated_at"`
	Version      string          `json:"version"`
}

// BuildReport assembles the report for a finished run.
func BuildReport(run store.Run, tests []store.RunTest) *Report {
	summary := Summary{Total: len(tests)}
	for _, t := range tests {
		switch t.Status {
		case store.TestPass:
			summary.Passed++
		case store.TestFail:
			summary.Failed++
		case store.TestError:
			summary.Errors++
		case store.TestSkip:
			summary.Skipped++
		}
	}
	if summary.Total > 0 {
		rate := float64(summary.Passed) / float64(summary.Total)
		summary.SuccessRate = &rate
	}

	queryIDs := run.QueryIDs
	if queryIDs == nil {
		queryIDs = []string{}
	}
	if tests == nil {
		tests = []store.RunTest{}
	}

	return &Report{
		RunID:        run.ID,
		SuiteName:    run.SuiteName,
		Status:       run.Status,
		StartedAt:    run.StartedAt,
		FinishedAt:   run.FinishedAt,
		DurationMS:   run.DurationMS,
		BytesScanned: run.BytesScanned,
		Environment:  run.Environment,
		Connection:   run.Connection,
		QueryIDs:     queryIDs,
		Summary:      summary,
		TestResults:  tests,
		GeneratedAt:  time.Now().UTC(),
		Version:      ReportVersion,
	}
}
