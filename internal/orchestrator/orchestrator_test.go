package orchestrator

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dataflowguard/dto/internal/artifacts"
	"github.com/dataflowguard/dto/internal/events"
	"github.com/dataflowguard/dto/internal/store"
	"github.com/dataflowguard/dto/internal/warehouse"
)

// fakeWarehouse is a scriptable warehouse client for pipeline tests.
type fakeWarehouse struct {
	mu          sync.Mutex
	connectErr  error
	connectFn   func(ctx context.Context) error
	connects    int
	closes      int
	explainFn   func(sql string) (*warehouse.ExplainResult, error)
	selectFn    func(ctx context.Context, sql string) (*warehouse.SelectResult, error)
	selectCalls []string
}

func (f *fakeWarehouse) Connect(ctx context.Context) error {
	f.mu.Lock()
	f.connects++
	fn := f.connectFn
	err := f.connectErr
	f.mu.Unlock()
	if fn != nil {
		return fn(ctx)
	}
	return err
}

func (f *fakeWarehouse) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closes++
	return nil
}

func (f *fakeWarehouse) TestConnection(context.Context) error { return nil }

func (f *fakeWarehouse) Explain(_ context.Context, sql string) (*warehouse.ExplainResult, error) {
	if f.explainFn != nil {
		return f.explainFn(sql)
	}
	return &warehouse.ExplainResult{PlanText: "TableScan", PlanHash: "abc123", EstimatedBytes: 1024}, nil
}

func (f *fakeWarehouse) Select(ctx context.Context, sql string, _ int) (*warehouse.SelectResult, error) {
	f.mu.Lock()
	f.selectCalls = append(f.selectCalls, sql)
	f.mu.Unlock()
	if f.selectFn != nil {
		return f.selectFn(ctx, sql)
	}
	return &warehouse.SelectResult{QueryID: "qid-1", Rows: nil}, nil
}

func (f *fakeWarehouse) GetTableSchema(context.Context, string) ([]warehouse.ColumnInfo, error) {
	return nil, nil
}

func (f *fakeWarehouse) GetTableStats(context.Context, string) (*warehouse.TableStats, error) {
	return nil, nil
}

func (f *fakeWarehouse) selected() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.selectCalls))
	copy(out, f.selectCalls)
	return out
}

// captureWriter records artifact writes in memory.
type captureWriter struct {
	mu      sync.Mutex
	reports []*artifacts.Report
	logs    [][]string
	samples map[string][]map[string]any
}

func newCaptureWriter() *captureWriter {
	return &captureWriter{samples: make(map[string][]map[string]any)}
}

func (c *captureWriter) WriteReport(_ context.Context, run store.Run, report *artifacts.Report) (*store.Artifact, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reports = append(c.reports, report)
	return &store.Artifact{RunID: run.ID, Kind: store.ArtifactReport, Path: "report.json"}, nil
}

func (c *captureWriter) WriteLogs(_ context.Context, run store.Run, lines []string) (*store.Artifact, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.logs = append(c.logs, lines)
	return &store.Artifact{RunID: run.ID, Kind: store.ArtifactLogs, Path: "logs.txt"}, nil
}

func (c *captureWriter) WriteSamples(_ context.Context, run store.Run, testName string, rows []map[string]any) (*store.Artifact, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.samples[testName] = rows
	return &store.Artifact{RunID: run.ID, Kind: store.ArtifactSamples, Path: "samples/" + testName + "_violations.json"}, nil
}

func (c *captureWriter) Health(context.Context) bool { return true }

func (c *captureWriter) lastReport() *artifacts.Report {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.reports) == 0 {
		return nil
	}
	return c.reports[len(c.reports)-1]
}

func writeSuite(t *testing.T, dir, filename, payload string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, filename), []byte(payload), 0o600))
}

const uniquenessSuite = `
name: orders_dq
connection: snowflake-prod
tests:
  - name: order_id_unique
    kind: uniqueness
    dataset: PROD.RAW.ORDERS
    keys: [ORDER_ID]
`

func newTestOrchestrator(t *testing.T, fake *fakeWarehouse, writer artifacts.Writer, suiteYAML string, opts Options) (*Orchestrator, *store.Memory) {
	t.Helper()
	dir := t.TempDir()
	writeSuite(t, dir, "suite.yaml", suiteYAML)

	st := store.NewMemory()
	t.Cleanup(func() { _ = st.Close() })

	if opts.Environment == "" {
		opts.Environment = "test"
	}
	if opts.SampleRowLimit == 0 {
		opts.SampleRowLimit = 100
	}

	factory := func() warehouse.Client { return fake }
	o := New(st, factory, writer, events.NewBus(slog.Default()), NewRegistry(dir), slog.Default(), opts)
	return o, st
}

func waitTerminal(t *testing.T, o *Orchestrator, runID string) *store.Run {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		run, err := o.Status(context.Background(), runID)
		require.NoError(t, err)
		if run.Status.Terminal() {
			return run
		}
		select {
		case <-deadline:
			t.Fatalf("run %s never reached a terminal state (status %s)", runID, run.Status)
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func TestUniquenessPass(t *testing.T) {
	fake := &fakeWarehouse{}
	o, st := newTestOrchestrator(t, fake, newCaptureWriter(), uniquenessSuite, Options{})

	runID, err := o.StartRun(context.Background(), "orders_dq", RunOptions{})
	require.NoError(t, err)

	run := waitTerminal(t, o, runID)
	assert.Equal(t, store.RunCompleted, run.Status)

	tests, err := st.ListTests(context.Background(), runID, 0, 0)
	require.NoError(t, err)
	require.Len(t, tests, 1)
	assert.Equal(t, store.TestPass, tests[0].Status)
	assert.EqualValues(t, 0, tests[0].Observed["duplicate_groups"])
	assert.Equal(t, "qid-1", tests[0].QueryID)
	assert.Equal(t, []string{"qid-1"}, run.QueryIDs)
}

func TestUniquenessFailStoresSamples(t *testing.T) {
	fake := &fakeWarehouse{
		selectFn: func(context.Context, string) (*warehouse.SelectResult, error) {
			return &warehouse.SelectResult{
				QueryID: "qid-2",
				Rows: []map[string]any{
					{"ORDER_ID": int64(1), "DUPLICATE_COUNT": int64(3)},
					{"ORDER_ID": int64(2), "DUPLICATE_COUNT": int64(2)},
				},
			}, nil
		},
	}
	writer := newCaptureWriter()
	o, st := newTestOrchestrator(t, fake, writer, uniquenessSuite, Options{})

	runID, err := o.StartRun(context.Background(), "orders_dq", RunOptions{})
	require.NoError(t, err)

	run := waitTerminal(t, o, runID)
	assert.Equal(t, store.RunCompleted, run.Status)

	tests, err := st.ListTests(context.Background(), runID, 0, 0)
	require.NoError(t, err)
	require.Len(t, tests, 1)
	assert.Equal(t, store.TestFail, tests[0].Status)
	assert.EqualValues(t, 2, tests[0].Observed["duplicate_groups"])
	assert.Contains(t, tests[0].Observed, "sample_rows_uri")

	writer.mu.Lock()
	samples := writer.samples["order_id_unique"]
	writer.mu.Unlock()
	assert.Len(t, samples, 2)
}

func TestSampleRowLimitZeroStoresNoSamples(t *testing.T) {
	fake := &fakeWarehouse{
		selectFn: func(context.Context, string) (*warehouse.SelectResult, error) {
			return &warehouse.SelectResult{
				QueryID: "qid-1",
				Rows: []map[string]any{
					{"ORDER_ID": int64(1), "DUPLICATE_COUNT": int64(3)},
				},
			}, nil
		},
	}
	writer := newCaptureWriter()

	dir := t.TempDir()
	writeSuite(t, dir, "suite.yaml", uniquenessSuite)
	st := store.NewMemory()
	t.Cleanup(func() { _ = st.Close() })

	factory := func() warehouse.Client { return fake }
	o := New(st, factory, writer, events.NewBus(slog.Default()), NewRegistry(dir), slog.Default(),
		Options{Environment: "test"})

	runID, err := o.StartRun(context.Background(), "orders_dq", RunOptions{})
	require.NoError(t, err)

	run := waitTerminal(t, o, runID)
	assert.Equal(t, store.RunCompleted, run.Status)

	tests, err := st.ListTests(context.Background(), runID, 0, 0)
	require.NoError(t, err)
	require.Len(t, tests, 1)
	assert.Equal(t, store.TestFail, tests[0].Status)
	assert.NotContains(t, tests[0].Observed, "sample_rows_uri")

	writer.mu.Lock()
	_, wrote := writer.samples["order_id_unique"]
	writer.mu.Unlock()
	assert.False(t, wrote, "sample rows must not be written when the limit is zero")
}

func TestGuardrailViolationRecordsError(t *testing.T) {
	fake := &fakeWarehouse{
		explainFn: func(string) (*warehouse.ExplainResult, error) {
			return nil, &warehouse.Error{Kind: warehouse.KindValidation, Op: "explain",
				Err: assert.AnError}
		},
	}
	o, st := newTestOrchestrator(t, fake, newCaptureWriter(), uniquenessSuite, Options{})

	runID, err := o.StartRun(context.Background(), "orders_dq", RunOptions{})
	require.NoError(t, err)

	run := waitTerminal(t, o, runID)
	assert.Equal(t, store.RunCompleted, run.Status)

	tests, err := st.ListTests(context.Background(), runID, 0, 0)
	require.NoError(t, err)
	require.Len(t, tests, 1)
	assert.Equal(t, store.TestError, tests[0].Status)
	assert.Equal(t, "guardrail_violation", tests[0].Observed["error"])
	assert.Empty(t, fake.selected(), "no statement may reach the warehouse after a guardrail block")
}

func TestScanBudgetBlocksBeforeSelect(t *testing.T) {
	fake := &fakeWarehouse{
		explainFn: func(string) (*warehouse.ExplainResult, error) {
			return nil, &warehouse.Error{Kind: warehouse.KindBudgetExceeded, Op: "explain",
				Err: assert.AnError}
		},
	}
	o, st := newTestOrchestrator(t, fake, newCaptureWriter(), uniquenessSuite, Options{})

	runID, err := o.StartRun(context.Background(), "orders_dq", RunOptions{})
	require.NoError(t, err)

	waitTerminal(t, o, runID)

	tests, err := st.ListTests(context.Background(), runID, 0, 0)
	require.NoError(t, err)
	require.Len(t, tests, 1)
	assert.Equal(t, store.TestError, tests[0].Status)
	assert.Equal(t, "budget_exceeded", tests[0].Observed["error"])
	assert.Empty(t, fake.selected(), "select must not run after a pre-flight budget failure")
}

func TestFreshnessScenario(t *testing.T) {
	suite := `
name: freshness_dq
connection: snowflake-prod
tests:
  - name: orders_fresh
    kind: freshness
    dataset: PROD.RAW.ORDERS
    column: ORDER_TS
    window:
      last_hours: 24
  - name: orders_very_fresh
    kind: freshness
    dataset: PROD.RAW.ORDERS
    column: ORDER_TS
    window:
      last_hours: 1
`
	fake := &fakeWarehouse{
		selectFn: func(_ context.Context, sql string) (*warehouse.SelectResult, error) {
			return &warehouse.SelectResult{
				QueryID: "qid-f",
				Rows:    []map[string]any{{"MAX_TS": "2026-08-20 07:30:00", "HOURS_LAG": int64(2)}},
			}, nil
		},
	}
	o, st := newTestOrchestrator(t, fake, newCaptureWriter(), suite, Options{})

	runID, err := o.StartRun(context.Background(), "freshness_dq", RunOptions{})
	require.NoError(t, err)
	waitTerminal(t, o, runID)

	tests, err := st.ListTests(context.Background(), runID, 0, 0)
	require.NoError(t, err)
	require.Len(t, tests, 2)

	byName := map[string]store.RunTest{}
	for _, tc := range tests {
		byName[tc.Name] = tc
	}
	assert.Equal(t, store.TestPass, byName["orders_fresh"].Status)
	assert.Equal(t, store.TestFail, byName["orders_very_fresh"].Status)
	assert.EqualValues(t, 2, byName["orders_very_fresh"].Observed["hours_lag"])
}

func TestCancellation(t *testing.T) {
	suite := `
name: slow_dq
connection: snowflake-prod
tests:
  - name: first
    kind: row_count
    dataset: PROD.RAW.ORDERS
    min_rows: 0
  - name: second
    kind: row_count
    dataset: PROD.RAW.ORDERS
    min_rows: 0
  - name: third
    kind: row_count
    dataset: PROD.RAW.ORDERS
    min_rows: 0
`
	firstDone := make(chan struct{})
	var once sync.Once
	fake := &fakeWarehouse{
		selectFn: func(ctx context.Context, sql string) (*warehouse.SelectResult, error) {
			rows := []map[string]any{{"ROW_COUNT": int64(10)}}
			var isFirst bool
			once.Do(func() {
				isFirst = true
				close(firstDone)
			})
			if isFirst {
				return &warehouse.SelectResult{QueryID: "qid-1", Rows: rows}, nil
			}
			// Subsequent queries hang until cancelled.
			<-ctx.Done()
			return nil, &warehouse.Error{Kind: warehouse.KindTimeout, Op: "select", Err: ctx.Err()}
		},
	}
	o, st := newTestOrchestrator(t, fake, newCaptureWriter(), suite, Options{MaxParallel: 1})

	runID, err := o.StartRun(context.Background(), "slow_dq", RunOptions{})
	require.NoError(t, err)

	sub, err := o.Follow(context.Background(), runID)
	require.NoError(t, err)
	defer sub.Close()

	<-firstDone
	require.NoError(t, o.Cancel(context.Background(), runID))
	// Cancel is idempotent.
	require.NoError(t, o.Cancel(context.Background(), runID))

	run := waitTerminal(t, o, runID)
	assert.Equal(t, store.RunCancelled, run.Status)

	tests, err := st.ListTests(context.Background(), runID, 0, 0)
	require.NoError(t, err)
	names := make([]string, 0, len(tests))
	for _, tc := range tests {
		names = append(names, tc.Name)
	}
	assert.NotContains(t, names, "third", "tests after cancel must not be recorded")

	var sawCancelled, sawCompleted bool
	timeout := time.After(3 * time.Second)
	for !sawCompleted {
		select {
		case ev, ok := <-sub.C():
			if !ok {
				sawCompleted = true
				break
			}
			if ev.Type == events.EventRunStatus {
				if payload, ok := ev.Payload.(map[string]any); ok && payload["status"] == "cancelled" {
					sawCancelled = true
				}
			}
			if ev.Type == events.EventRunCompleted {
				sawCompleted = true
			}
		case <-timeout:
			t.Fatal("stream never delivered run_completed")
		}
	}
	assert.True(t, sawCancelled, "subscriber must see run_status cancelled")

	// Cancel after terminal stays a no-op.
	require.NoError(t, o.Cancel(context.Background(), runID))
}

// laggyStore stalls after handing out a non-terminal run, widening the
// gap between a status read and whatever the caller does next.
type laggyStore struct {
	store.Store
	delay time.Duration
}

func (s *laggyStore) GetRun(ctx context.Context, runID string) (*store.Run, error) {
	run, err := s.Store.GetRun(ctx, runID)
	if err == nil && !run.Status.Terminal() {
		time.Sleep(s.delay)
	}
	return run, err
}

func TestFollowAttachedDuringFinalizeTerminates(t *testing.T) {
	suite := `
name: empty_dq
connection: snowflake-prod
tests: []
`
	dir := t.TempDir()
	writeSuite(t, dir, "suite.yaml", suite)

	mem := store.NewMemory()
	t.Cleanup(func() { _ = mem.Close() })
	st := &laggyStore{Store: mem, delay: 50 * time.Millisecond}

	factory := func() warehouse.Client { return &fakeWarehouse{} }
	o := New(st, factory, newCaptureWriter(), events.NewBus(slog.Default()), NewRegistry(dir), slog.Default(),
		Options{Environment: "test", SampleRowLimit: 100})

	runID, err := o.StartRun(context.Background(), "empty_dq", RunOptions{})
	require.NoError(t, err)

	// Attach while the run is finalizing: run_completed can be published
	// between the status read and the subscription, and the stream must
	// still terminate.
	sub, err := o.Follow(context.Background(), runID)
	require.NoError(t, err)
	defer sub.Close()

	timeout := time.After(3 * time.Second)
	for {
		select {
		case ev, ok := <-sub.C():
			if !ok {
				return
			}
			if ev.Type == events.EventRunCompleted {
				return
			}
		case <-timeout:
			t.Fatal("follow stream for a completed run never terminated")
		}
	}
}

func TestCancelDuringConnectRecordsCancelled(t *testing.T) {
	connecting := make(chan struct{})
	fake := &fakeWarehouse{
		connectFn: func(ctx context.Context) error {
			close(connecting)
			<-ctx.Done()
			return &warehouse.Error{Kind: warehouse.KindConnection, Op: "connect", Err: ctx.Err()}
		},
	}
	o, _ := newTestOrchestrator(t, fake, newCaptureWriter(), uniquenessSuite, Options{})

	runID, err := o.StartRun(context.Background(), "orders_dq", RunOptions{})
	require.NoError(t, err)

	<-connecting
	require.NoError(t, o.Cancel(context.Background(), runID))

	run := waitTerminal(t, o, runID)
	assert.Equal(t, store.RunCancelled, run.Status)
	assert.Empty(t, run.ErrorMessage)
}

func TestEmptySuiteCompletesWithZeroSummary(t *testing.T) {
	suite := `
name: empty_dq
connection: snowflake-prod
tests: []
`
	writer := newCaptureWriter()
	o, _ := newTestOrchestrator(t, &fakeWarehouse{}, writer, suite, Options{})

	runID, err := o.StartRun(context.Background(), "empty_dq", RunOptions{})
	require.NoError(t, err)

	run := waitTerminal(t, o, runID)
	assert.Equal(t, store.RunCompleted, run.Status)

	report := writer.lastReport()
	require.NotNil(t, report)
	assert.Zero(t, report.Summary.Total)
	assert.Nil(t, report.Summary.SuccessRate)
}

func TestDryRunSkipsWarehouse(t *testing.T) {
	fake := &fakeWarehouse{}
	o, st := newTestOrchestrator(t, fake, newCaptureWriter(), uniquenessSuite, Options{})

	runID, err := o.StartRun(context.Background(), "orders_dq", RunOptions{DryRun: true})
	require.NoError(t, err)

	run := waitTerminal(t, o, runID)
	assert.Equal(t, store.RunCompleted, run.Status)

	fake.mu.Lock()
	connects := fake.connects
	fake.mu.Unlock()
	assert.Zero(t, connects, "dry run must not open a warehouse session")

	tests, err := st.ListTests(context.Background(), runID, 0, 0)
	require.NoError(t, err)
	require.Len(t, tests, 1)
	assert.Equal(t, store.TestSkip, tests[0].Status)
	assert.Equal(t, true, tests[0].Observed["dry_run"])
}

func TestConnectFailureFailsRun(t *testing.T) {
	fake := &fakeWarehouse{
		connectErr: &warehouse.Error{Kind: warehouse.KindAuth, Op: "connect", Err: assert.AnError},
	}
	o, _ := newTestOrchestrator(t, fake, newCaptureWriter(), uniquenessSuite, Options{})

	runID, err := o.StartRun(context.Background(), "orders_dq", RunOptions{})
	require.NoError(t, err)

	run := waitTerminal(t, o, runID)
	assert.Equal(t, store.RunFailed, run.Status)
	assert.Contains(t, run.ErrorMessage, "auth")
}

func TestStartRunUnknownSuite(t *testing.T) {
	o, _ := newTestOrchestrator(t, &fakeWarehouse{}, newCaptureWriter(), uniquenessSuite, Options{})

	_, err := o.StartRun(context.Background(), "no_such_suite", RunOptions{})
	assert.ErrorIs(t, err, ErrSuiteNotFound)
}

func TestTimeBudgetSkipsRemainingTests(t *testing.T) {
	suite := `
name: budget_dq
connection: snowflake-prod
tests:
  - name: first
    kind: row_count
    dataset: PROD.RAW.ORDERS
    min_rows: 0
  - name: second
    kind: row_count
    dataset: PROD.RAW.ORDERS
    min_rows: 0
  - name: third
    kind: row_count
    dataset: PROD.RAW.ORDERS
    min_rows: 0
`
	fake := &fakeWarehouse{
		selectFn: func(context.Context, string) (*warehouse.SelectResult, error) {
			time.Sleep(600 * time.Millisecond)
			return &warehouse.SelectResult{QueryID: "qid", Rows: []map[string]any{{"ROW_COUNT": int64(1)}}}, nil
		},
	}
	o, st := newTestOrchestrator(t, fake, newCaptureWriter(), suite, Options{MaxParallel: 1})

	runID, err := o.StartRun(context.Background(), "budget_dq", RunOptions{BudgetSeconds: 1})
	require.NoError(t, err)

	run := waitTerminal(t, o, runID)
	assert.Equal(t, store.RunCompleted, run.Status, "budget exhaustion completes, not fails")
	assert.True(t, strings.Contains(run.ErrorMessage, "budget"), "budget note expected, got %q", run.ErrorMessage)

	tests, err := st.ListTests(context.Background(), runID, 0, 0)
	require.NoError(t, err)
	assert.Less(t, len(tests), 3, "at least one test must be skipped by the budget")
}
