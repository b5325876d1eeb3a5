package cli

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/dataflowguard/dto/internal/ai"
	"github.com/dataflowguard/dto/internal/artifacts"
	"github.com/dataflowguard/dto/internal/config"
	"github.com/dataflowguard/dto/internal/events"
	"github.com/dataflowguard/dto/internal/orchestrator"
	"github.com/dataflowguard/dto/internal/redact"
	"github.com/dataflowguard/dto/internal/store"
	"github.com/dataflowguard/dto/internal/warehouse"
)

// app bundles the wired components a command needs.
type app struct {
	cfg    *config.Config
	logger *slog.Logger
}

func loadApp(cmd *cobra.Command) (*app, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	logger := Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &app{cfg: cfg, logger: logger}, nil
}

func (a *app) openStore() (store.Store, error) {
	if a.cfg.Store.Driver == "memory" {
		return store.NewMemory(), nil
	}
	return store.Open(a.cfg.Store.Driver, a.cfg.Store.DSN)
}

func (a *app) warehouseClient() warehouse.Client {
	redactor := redact.NewPolicy(a.cfg.Policies.PIIRedactionEnabled)
	return warehouse.NewSnowflake(a.cfg.Warehouse, a.cfg.Guardrails(), redactor, a.logger)
}

func (a *app) warehouseFactory() orchestrator.WarehouseFactory {
	return func() warehouse.Client { return a.warehouseClient() }
}

// aiProvider returns the model adapter permitted by policy. With external
// AI disabled or no endpoint configured, only the deterministic local path
// is used.
func (a *app) aiProvider() ai.Provider {
	if a.cfg.Policies.ExternalAIEnabled && a.cfg.AI.Endpoint != "" {
		timeout := time.Duration(a.cfg.AI.TimeoutS) * time.Second
		return ai.NewOpenAI(a.cfg.AI.Endpoint, a.cfg.AI.Model, a.cfg.AI.APIKey, timeout, a.logger)
	}
	return ai.NewStub(a.cfg.AI.Model)
}

func (a *app) artifactWriter(ctx context.Context) artifacts.Writer {
	if a.cfg.Artifacts.Bucket == "" {
		return artifacts.Disabled{}
	}
	return artifacts.NewS3(ctx, a.cfg.Artifacts, a.logger)
}

func (a *app) orchestrator(ctx context.Context, st store.Store) *orchestrator.Orchestrator {
	return orchestrator.New(
		st,
		a.warehouseFactory(),
		a.artifactWriter(ctx),
		events.NewBus(a.logger),
		orchestrator.NewRegistry(a.cfg.SuiteDir),
		a.logger,
		orchestrator.Options{
			Environment:          a.cfg.Environment,
			MaxParallel:          a.cfg.Budgets.MaxParallelTests,
			SampleRowLimit:       a.cfg.Policies.SampleRowLimit,
			DefaultBudgetSeconds: a.cfg.Policies.DefaultTimeBudgetSeconds,
			MaxBudgetSeconds:     a.cfg.Policies.MaxTimeBudgetSeconds,
		},
	)
}

func errExit(err error) error {
	return fmt.Errorf("dto: %w", err)
}
