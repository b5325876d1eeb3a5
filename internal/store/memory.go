package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Memory is a mutex-guarded in-process store. It backs local mode and
// tests; semantics match the SQL store exactly.
type Memory struct {
	mu        sync.RWMutex
	runs      map[string]*Run
	tests     map[string][]RunTest
	artifacts map[string][]Artifact
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		runs:      make(map[string]*Run),
		tests:     make(map[string][]RunTest),
		artifacts: make(map[string][]Artifact),
	}
}

func (m *Memory) BeginRun(_ context.Context, suiteName, environment, connection string) (*Run, error) {
	run := &Run{
		ID:          uuid.New().String(),
		SuiteName:   suiteName,
		Status:      RunRunning,
		StartedAt:   time.Now().UTC(),
		Environment: environment,
		Connection:  connection,
	}

	m.mu.Lock()
	m.runs[run.ID] = run
	m.mu.Unlock()

	copied := *run
	return &copied, nil
}

func (m *Memory) AppendTest(_ context.Context, runID string, test RunTest) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	run, ok := m.runs[runID]
	if !ok {
		return ErrRunNotFound
	}
	if run.Status.Terminal() {
		return ErrRunFinalized
	}
	for _, existing := range m.tests[runID] {
		if existing.Name == test.Name {
			return ErrDuplicateTest
		}
	}

	if test.ID == "" {
		test.ID = uuid.New().String()
	}
	test.RunID = runID
	m.tests[runID] = append(m.tests[runID], test)
	return nil
}

func (m *Memory) FinalizeRun(_ context.Context, runID string, fin Finalize) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	run, ok := m.runs[runID]
	if !ok {
		return ErrRunNotFound
	}
	if run.Status.Terminal() {
		return ErrRunFinalized
	}

	finishedAt := fin.FinishedAt
	run.Status = fin.Status
	run.FinishedAt = &finishedAt
	duration := fin.DurationMS
	run.DurationMS = &duration
	run.QueryIDs = append([]string(nil), fin.QueryIDs...)
	run.BytesScanned = fin.BytesScanned
	run.ErrorMessage = fin.ErrorMessage
	return nil
}

func (m *Memory) AppendArtifact(_ context.Context, runID string, artifact Artifact) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.runs[runID]; !ok {
		return ErrRunNotFound
	}
	if artifact.ID == "" {
		artifact.ID = uuid.New().String()
	}
	artifact.RunID = runID
	m.artifacts[runID] = append(m.artifacts[runID], artifact)
	return nil
}

func (m *Memory) GetRun(_ context.Context, runID string) (*Run, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	run, ok := m.runs[runID]
	if !ok {
		return nil, ErrRunNotFound
	}
	copied := *run
	copied.QueryIDs = append([]string(nil), run.QueryIDs...)
	return &copied, nil
}

func (m *Memory) ListRuns(_ context.Context, filter ListFilter) ([]Run, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var runs []Run
	for _, run := range m.runs {
		if filter.SuiteName != "" && run.SuiteName != filter.SuiteName {
			continue
		}
		if filter.Status != "" && run.Status != filter.Status {
			continue
		}
		copied := *run
		copied.QueryIDs = append([]string(nil), run.QueryIDs...)
		runs = append(runs, copied)
	}

	sort.Slice(runs, func(i, j int) bool {
		return runs[i].StartedAt.After(runs[j].StartedAt)
	})

	return paginate(runs, filter.Limit, filter.Offset), nil
}

func (m *Memory) ListTests(_ context.Context, runID string, limit, offset int) ([]RunTest, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if _, ok := m.runs[runID]; !ok {
		return nil, ErrRunNotFound
	}
	tests := append([]RunTest(nil), m.tests[runID]...)
	return paginate(tests, limit, offset), nil
}

func (m *Memory) ListArtifacts(_ context.Context, runID string) ([]Artifact, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if _, ok := m.runs[runID]; !ok {
		return nil, ErrRunNotFound
	}
	return append([]Artifact(nil), m.artifacts[runID]...), nil
}

func (m *Memory) Close() error { return nil }

func paginate[T any](items []T, limit, offset int) []T {
	if offset >= len(items) {
		return nil
	}
	items = items[offset:]
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}
