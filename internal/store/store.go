package store

import (
	"context"
	"errors"
)

var (
	// ErrRunNotFound is returned for unknown run IDs.
	ErrRunNotFound = errors.New("run not found")
	// ErrRunFinalized rejects writes against a run already in a terminal
	// state.
	ErrRunFinalized = errors.New("run already finalized")
	// ErrDuplicateTest rejects a second terminal record for the same test
	// name within a run.
	ErrDuplicateTest = errors.New("test already recorded for run")
)

// Store is the durable repository the orchestrator writes through. Each
// append and finalize is one atomic unit; a given run has at most one
// writer.
type Store interface {
	BeginRun(ctx context.Context, suiteName, environment, connection string) (*Run, error)
	AppendTest(ctx context.Context, runID string, test RunTest) error
	FinalizeRun(ctx context.Context, runID string, fin Finalize) error
	AppendArtifact(ctx context.Context, runID string, artifact Artifact) error

	GetRun(ctx context.Context, runID string) (*Run, error)
	ListRuns(ctx context.Context, filter ListFilter) ([]Run, error)
	ListTests(ctx context.Context, runID string, limit, offset int) ([]RunTest, error)
	ListArtifacts(ctx context.Context, runID string) ([]Artifact, error)

	Close() error
}
