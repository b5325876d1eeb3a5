// Package orchestrator owns the run lifecycle: it compiles each test,
// executes it against the warehouse under guardrails, evaluates the
// outcome, persists results, and publishes progress.
package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/dataflowguard/dto/internal/artifacts"
	"github.com/dataflowguard/dto/internal/compiler"
	"github.com/dataflowguard/dto/internal/dsl"
	"github.com/dataflowguard/dto/internal/evaluator"
	"github.com/dataflowguard/dto/internal/events"
	"github.com/dataflowguard/dto/internal/store"
	"github.com/dataflowguard/dto/internal/warehouse"
)

// WarehouseFactory opens a fresh warehouse client. Each run gets its own
// session so per-run query tags and timeouts hold.
type WarehouseFactory func() warehouse.Client

// Options tune orchestration behavior across runs.
type Options struct {
	Environment          string
	MaxParallel          int
	SampleRowLimit       int
	DefaultBudgetSeconds int
	MaxBudgetSeconds     int
}

// RunOptions apply to a single run.
type RunOptions struct {
	DryRun        bool
	BudgetSeconds int
}

// Orchestrator drives suites through the run state machine.
type Orchestrator struct {
	store     store.Store
	factory   WarehouseFactory
	artifacts artifacts.Writer
	bus       *events.Bus
	registry  *Registry
	logger    *slog.Logger
	opts      Options

	mu     sync.Mutex
	active map[string]*activeRun
}

type activeRun struct {
	cancel    context.CancelFunc
	cancelled bool
}

// New wires an orchestrator. A nil artifact writer disables artifact
// storage; a nil bus disables progress events.
func New(st store.Store, factory WarehouseFactory, writer artifacts.Writer, bus *events.Bus, registry *Registry, logger *slog.Logger, opts Options) *Orchestrator {
	if writer == nil {
		writer = artifacts.Disabled{}
	}
	if bus == nil {
		bus = events.NewBus(logger)
	}
	if logger == nil {
		logger = slog.Default()
	}
	if opts.MaxParallel < 1 {
		opts.MaxParallel = 1
	}
	return &Orchestrator{
		store:     st,
		factory:   factory,
		artifacts: writer,
		bus:       bus,
		registry:  registry,
		logger:    logger,
		opts:      opts,
		active:    make(map[string]*activeRun),
	}
}

// StartRun resolves the suite, persists a running Run, and executes it
// asynchronously. The returned run ID is valid immediately for Status,
// Cancel, and Follow.
func (o *Orchestrator) StartRun(ctx context.Context, suiteName string, opts RunOptions) (string, error) {
	suite, err := o.registry.Resolve(suiteName)
	if err != nil {
		return "", err
	}

	budget := opts.BudgetSeconds
	if budget <= 0 {
		budget = o.opts.DefaultBudgetSeconds
	}
	if o.opts.MaxBudgetSeconds > 0 && budget > o.opts.MaxBudgetSeconds {
		budget = o.opts.MaxBudgetSeconds
	}
	opts.BudgetSeconds = budget

	run, err := o.store.BeginRun(ctx, suite.Name, o.opts.Environment, suite.Connection)
	if err != nil {
		return "", fmt.Errorf("begin run: %w", err)
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	o.mu.Lock()
	o.active[run.ID] = &activeRun{cancel: cancel}
	o.mu.Unlock()

	go o.execute(runCtx, run, suite, opts)
	return run.ID, nil
}

// Cancel requests cancellation of a running run. Repeated cancels and
// cancels of already-terminal runs are no-ops.
func (o *Orchestrator) Cancel(ctx context.Context, runID string) error {
	o.mu.Lock()
	ar, ok := o.active[runID]
	if ok {
		already := ar.cancelled
		ar.cancelled = true
		o.mu.Unlock()
		if !already {
			ar.cancel()
			o.bus.Publish(events.Event{
				RunID:   runID,
				Type:    events.EventRunStatus,
				Payload: map[string]any{"status": string(store.RunCancelled)},
			})
		}
		return nil
	}
	o.mu.Unlock()

	run, err := o.store.GetRun(ctx, runID)
	if err != nil {
		return err
	}
	if run.Status.Terminal() {
		return nil
	}
	// Running in the store but not owned by this process.
	return fmt.Errorf("run %s is not owned by this orchestrator", runID)
}

// Status reports the current persisted state of a run.
func (o *Orchestrator) Status(ctx context.Context, runID string) (*store.Run, error) {
	return o.store.GetRun(ctx, runID)
}

// Follow subscribes to a run's progress stream. The first event is a
// run_state snapshot from the store.
func (o *Orchestrator) Follow(ctx context.Context, runID string) (*events.Subscription, error) {
	run, err := o.store.GetRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	sub := o.bus.Subscribe(runID, func() events.Event {
		return events.Event{
			RunID:   runID,
			Type:    events.EventRunState,
			Payload: run,
		}
	})
	// Re-read after the subscription exists. A run that finalized between
	// the first read and Subscribe published run_completed to a bus entry
	// this subscription was not part of; replaying it here ends the
	// stream instead of leaving it waiting on heartbeats. finish()
	// persists the terminal status before publishing, so a non-terminal
	// read here guarantees the publish is still ahead of us.
	if !run.Status.Terminal() {
		if current, err := o.store.GetRun(ctx, runID); err == nil {
			run = current
		}
	}
	if run.Status.Terminal() {
		o.bus.Publish(events.Event{RunID: runID, Type: events.EventRunCompleted, Payload: run})
	}
	return sub, nil
}

func (o *Orchestrator) isCancelled(runID string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if ar, ok := o.active[runID]; ok {
		return ar.cancelled
	}
	return false
}

func (o *Orchestrator) release(runID string) {
	o.mu.Lock()
	if ar, ok := o.active[runID]; ok {
		ar.cancel()
		delete(o.active, runID)
	}
	o.mu.Unlock()
}

// runLog accumulates the human-readable execution log that becomes the
// logs.txt artifact.
type runLog struct {
	mu    sync.Mutex
	lines []string
}

func (l *runLog) printf(format string, args ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.lines = append(l.lines, fmt.Sprintf("%s %s",
		time.Now().UTC().Format(time.RFC3339), fmt.Sprintf(format, args...)))
}

func (l *runLog) snapshot() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]string, len(l.lines))
	copy(out, l.lines)
	return out
}

func (o *Orchestrator) execute(ctx context.Context, run *store.Run, suite *dsl.TestSuite, opts RunOptions) {
	defer o.release(run.ID)

	// Store and artifact writes must survive cancellation: a cancelled
	// run still finalizes and keeps its partial results.
	persistCtx := context.WithoutCancel(ctx)

	started := time.Now()
	var deadline time.Time
	if opts.BudgetSeconds > 0 {
		deadline = started.Add(time.Duration(opts.BudgetSeconds) * time.Second)
	}

	log := &runLog{}
	log.printf("run %s started: suite=%s tests=%d dry_run=%t", run.ID, suite.Name, len(suite.Tests), opts.DryRun)

	o.bus.Publish(events.Event{
		RunID:   run.ID,
		Type:    events.EventRunStatus,
		Payload: map[string]any{"status": string(store.RunRunning), "total_tests": len(suite.Tests)},
	})

	var wh warehouse.Client
	if !opts.DryRun {
		wh = o.factory()
		if err := wh.Connect(ctx); err != nil {
			log.printf("warehouse connection failed: %v", err)
			state := finishState{
				status: store.RunFailed,
				errMsg: fmt.Sprintf("warehouse connection failed: %s", errorKind(err)),
			}
			// Connect runs under the cancellable run context, so a
			// cancellation surfaces here as a connect error.
			if o.isCancelled(run.ID) {
				state = finishState{status: store.RunCancelled}
				log.printf("run cancelled")
			}
			o.finish(persistCtx, run, log, state, started)
			return
		}
		defer func() {
			if err := wh.Close(); err != nil {
				o.logger.Warn("warehouse close failed", "run_id", run.ID, "error", err)
			}
		}()
	}

	var (
		resMu        sync.Mutex
		queryIDs     []string
		bytesScanned int64
		budgetHit    bool
		storeErr     error
	)

	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(o.opts.MaxParallel)

	for _, test := range suite.Tests {
		if o.isCancelled(run.ID) {
			break
		}
		if !deadline.IsZero() && time.Now().After(deadline) {
			resMu.Lock()
			budgetHit = true
			resMu.Unlock()
			log.printf("time budget of %ds exhausted, remaining tests skipped", opts.BudgetSeconds)
			break
		}

		group.Go(func() error {
			if groupCtx.Err() != nil || o.isCancelled(run.ID) {
				return nil
			}

			record := o.runTest(groupCtx, wh, run.ID, test, opts, log)

			if err := o.store.AppendTest(persistCtx, run.ID, record); err != nil {
				if errors.Is(err, store.ErrRunFinalized) || errors.Is(err, store.ErrDuplicateTest) {
					return nil
				}
				resMu.Lock()
				if storeErr == nil {
					storeErr = err
				}
				resMu.Unlock()
				return err
			}

			resMu.Lock()
			if record.QueryID != "" {
				queryIDs = append(queryIDs, record.QueryID)
			}
			if v, ok := record.Observed["bytes_scanned"]; ok {
				if n, ok := toInt64(v); ok {
					bytesScanned += n
				}
			}
			resMu.Unlock()

			o.bus.Publish(events.Event{
				RunID:   run.ID,
				Type:    events.EventTestResult,
				Payload: record,
			})
			return nil
		})
	}

	_ = group.Wait()

	state := finishState{status: store.RunCompleted, queryIDs: queryIDs, bytesScanned: bytesScanned}
	switch {
	case storeErr != nil:
		state.status = store.RunFailed
		state.errMsg = fmt.Sprintf("result store failure: %v", storeErr)
	case o.isCancelled(run.ID):
		state.status = store.RunCancelled
		log.printf("run cancelled")
	case budgetHit:
		state.errMsg = fmt.Sprintf("time budget of %ds exceeded; remaining tests were not executed", opts.BudgetSeconds)
	}

	o.finish(persistCtx, run, log, state, started)
}

type finishState struct {
	status       store.RunStatus
	errMsg       string
	queryIDs     []string
	bytesScanned int64
}

func (o *Orchestrator) finish(ctx context.Context, run *store.Run, log *runLog, state finishState, started time.Time) {
	finishedAt := time.Now().UTC()
	fin := store.Finalize{
		Status:       state.status,
		FinishedAt:   finishedAt,
		DurationMS:   time.Since(started).Milliseconds(),
		QueryIDs:     state.queryIDs,
		BytesScanned: state.bytesScanned,
		ErrorMessage: state.errMsg,
	}
	if err := o.store.FinalizeRun(ctx, run.ID, fin); err != nil && !errors.Is(err, store.ErrRunFinalized) {
		o.logger.Error("finalize failed", "run_id", run.ID, "error", err)
	}
	log.printf("run %s finalized: status=%s", run.ID, state.status)

	o.writeArtifacts(ctx, run.ID, log)

	final, err := o.store.GetRun(ctx, run.ID)
	if err != nil {
		final = run
	}
	o.bus.Publish(events.Event{
		RunID:   run.ID,
		Type:    events.EventRunCompleted,
		Payload: final,
	})
}

func (o *Orchestrator) writeArtifacts(ctx context.Context, runID string, log *runLog) {
	run, err := o.store.GetRun(ctx, runID)
	if err != nil {
		o.logger.Warn("artifact stage skipped", "run_id", runID, "error", err)
		return
	}
	tests, err := o.store.ListTests(ctx, runID, 0, 0)
	if err != nil {
		o.logger.Warn("artifact stage skipped", "run_id", runID, "error", err)
		return
	}

	report := artifacts.BuildReport(*run, tests)
	if a, err := o.artifacts.WriteReport(ctx, *run, report); err == nil && a != nil {
		o.appendArtifact(ctx, runID, *a)
	}
	if a, err := o.artifacts.WriteLogs(ctx, *run, log.snapshot()); err == nil && a != nil {
		o.appendArtifact(ctx, runID, *a)
	}
}

func (o *Orchestrator) appendArtifact(ctx context.Context, runID string, artifact store.Artifact) {
	if err := o.store.AppendArtifact(ctx, runID, artifact); err != nil {
		o.logger.Warn("artifact record failed", "run_id", runID, "path", artifact.Path, "error", err)
	}
}

// runTest executes the per-test pipeline and returns the terminal record.
// Failures become status=error records; they never abort the run.
func (o *Orchestrator) runTest(ctx context.Context, wh warehouse.Client, runID string, test dsl.TestDefinition, opts RunOptions, log *runLog) store.RunTest {
	testStart := time.Now()
	record := store.RunTest{
		ID:        uuid.NewString(),
		RunID:     runID,
		Name:      test.Name,
		Kind:      string(test.Kind.Canonical()),
		StartedAt: testStart.UTC(),
	}
	done := func(status store.TestStatus) store.RunTest {
		record.Status = status
		record.FinishedAt = time.Now().UTC()
		record.DurationMS = time.Since(testStart).Milliseconds()
		return record
	}

	compiled, err := compiler.CompileTest(test)
	if err != nil {
		log.printf("test %s: compilation failed: %v", test.Name, err)
		record.ErrorMessage = fmt.Sprintf("compilation failed: %v", err)
		record.Observed = map[string]any{"error": "compilation_failed"}
		return done(store.TestError)
	}
	for _, w := range compiled.Warnings {
		log.printf("test %s: %s", test.Name, w)
	}
	record.Expected = expectedMap(compiled.Expected)

	if opts.DryRun {
		log.printf("test %s: compiled (dry run)", test.Name)
		record.Observed = map[string]any{"dry_run": true}
		return done(store.TestSkip)
	}

	explained, err := wh.Explain(ctx, compiled.SQL)
	if err != nil {
		if warehouse.IsKind(err, warehouse.KindBudgetExceeded) {
			log.printf("test %s: scan budget exceeded pre-flight", test.Name)
			record.ErrorMessage = err.Error()
			record.Observed = map[string]any{"error": "budget_exceeded"}
			return done(store.TestError)
		}
		if warehouse.IsKind(err, warehouse.KindValidation) {
			log.printf("test %s: guardrail rejected statement: %v", test.Name, err)
			record.ErrorMessage = err.Error()
			record.Observed = map[string]any{"error": "guardrail_violation"}
			return done(store.TestError)
		}
		// EXPLAIN is advisory beyond budget enforcement; proceed.
		log.printf("test %s: explain unavailable: %v", test.Name, err)
	} else if explained != nil {
		log.printf("test %s: plan %s, estimated %d bytes", test.Name, explained.PlanHash, explained.EstimatedBytes)
	}

	selected, err := wh.Select(ctx, compiled.SQL, o.opts.SampleRowLimit)
	if err != nil {
		kind := errorKind(err)
		log.printf("test %s: execution failed: %s", test.Name, kind)
		record.ErrorMessage = err.Error()
		record.Observed = map[string]any{"error": kind}
		return done(store.TestError)
	}
	record.QueryID = selected.QueryID

	result := evaluator.Evaluate(test, selected.Rows, evaluator.Stats{
		BytesScanned: selected.Stats.BytesScanned,
		ElapsedMS:    selected.Stats.ElapsedMS,
		RowCount:     selected.Stats.Rows,
	})
	record.Observed = result.Observed

	if result.Status == evaluator.StatusFail && len(result.Samples) > 0 && o.opts.SampleRowLimit > 0 {
		persistCtx := context.WithoutCancel(ctx)
		run, err := o.store.GetRun(persistCtx, runID)
		if err == nil {
			samples := result.Samples
			if len(samples) > o.opts.SampleRowLimit {
				samples = samples[:o.opts.SampleRowLimit]
			}
			if a, err := o.artifacts.WriteSamples(persistCtx, *run, test.Name, samples); err == nil && a != nil {
				o.appendArtifact(persistCtx, runID, *a)
				record.Observed["sample_rows_uri"] = a.Path
			}
		}
	}

	log.printf("test %s: %s (%d violations)", test.Name, result.Status, result.Violations)
	return done(store.TestStatus(result.Status))
}

// expectedMap renders the compiler's expectation descriptor as the JSON
// object stored with the test.
func expectedMap(expected compiler.Expected) map[string]any {
	raw, err := json.Marshal(expected)
	if err != nil {
		return nil
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func errorKind(err error) string {
	var whErr *warehouse.Error
	if errors.As(err, &whErr) {
		return string(whErr.Kind)
	}
	return "upstream"
}

func toInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int64:
		return n, true
	case int:
		return int64(n), true
	case float64:
		return int64(n), true
	}
	return 0, false
}
