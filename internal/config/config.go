// Package config loads the process configuration from YAML with
// environment overrides.
package config

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"

	"github.com/dataflowguard/dto/internal/artifacts"
	"github.com/dataflowguard/dto/internal/warehouse"
)

// Budgets bound what a run may cost.
type Budgets struct {
	SelectTimeoutS   int      `yaml:"select_timeout_s"`
	ScanBudgetBytes  int64    `yaml:"scan_budget_bytes"`
	SampleLimit      int      `yaml:"sample_limit"`
	// AllowedSchemas restricts queries to the listed db.schema pairs.
	// INFORMATION_SCHEMA is always reachable; schema tests depend on it.
	AllowedSchemas []string `yaml:"allowed_schemas"`
	QueryTag         string   `yaml:"query_tag"`
	MaxParallelTests int      `yaml:"max_parallel_tests"`
}

// StoreConfig selects the run-store backend.
type StoreConfig struct {
	// Driver is one of postgres, sqlite, memory.
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"`
}

// AIConfig configures the model adapter. An empty endpoint means the
// deterministic local path only.
type AIConfig struct {
	Endpoint    string  `yaml:"endpoint"`
	Model       string  `yaml:"model"`
	APIKey      string  `yaml:"api_key"`
	Temperature float64 `yaml:"temperature"`
	TopP        float64 `yaml:"top_p"`
	Seed        int64   `yaml:"seed"`
	TimeoutS    int     `yaml:"timeout_s"`
}

// Policies are the operator-controlled safety switches.
type Policies struct {
	ExternalAIEnabled        bool `yaml:"external_ai_enabled"`
	SQLPreviewEnabled        bool `yaml:"sql_preview_enabled"`
	AdminPowerMode           bool `yaml:"admin_power_mode"`
	PIIRedactionEnabled      bool `yaml:"pii_redaction_enabled"`
	SampleRowLimit           int  `yaml:"sample_row_limit"`
	DefaultTimeBudgetSeconds int  `yaml:"default_time_budget_seconds"`
	MaxTimeBudgetSeconds     int  `yaml:"max_time_budget_seconds"`
	RunRetentionDays         int  `yaml:"run_retention_days"`
	ArtifactRetentionDays    int  `yaml:"artifact_retention_days"`
}

// SQLPreviewAllowed reports whether compiled SQL may be shown to a caller.
// Both switches must hold.
func (p Policies) SQLPreviewAllowed() bool {
	return p.SQLPreviewEnabled && p.AdminPowerMode
}

// Config is the full process configuration.
type Config struct {
	Environment string              `yaml:"environment"`
	SuiteDir    string              `yaml:"suite_dir"`
	Warehouse   warehouse.Settings  `yaml:"warehouse"`
	Budgets     Budgets             `yaml:"budgets"`
	Store       StoreConfig         `yaml:"store"`
	Artifacts   artifacts.Settings  `yaml:"artifacts"`
	AI          AIConfig            `yaml:"ai"`
	Policies    Policies            `yaml:"policies"`
}

// Default is the configuration used when no file or override says
// otherwise.
func Default() Config {
	return Config{
		Environment: "dev",
		SuiteDir:    "suites",
		Warehouse: warehouse.Settings{
			AuthMethod:        warehouse.AuthPassword,
			QueryTag:          "DataFlowGuard",
			StatementTimeoutS: 300,
		},
		Budgets: Budgets{
			SelectTimeoutS:   300,
			SampleLimit:      100,
			QueryTag:         "DataFlowGuard",
			MaxParallelTests: 1,
		},
		Store: StoreConfig{
			Driver: "sqlite",
			DSN:    "dto.db",
		},
		AI: AIConfig{
			Model:       "dto-local",
			Temperature: 0,
			TopP:        1,
			Seed:        42,
			TimeoutS:    30,
		},
		Policies: Policies{
			PIIRedactionEnabled:      true,
			SampleRowLimit:           100,
			DefaultTimeBudgetSeconds: 300,
			MaxTimeBudgetSeconds:     3600,
			RunRetentionDays:         90,
			ArtifactRetentionDays:    30,
		},
	}
}

// Load reads the YAML file at path, layers environment overrides on top,
// and validates the result. A missing file is not an error; defaults plus
// environment apply.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		raw, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(raw, &cfg); err != nil {
				return nil, fmt.Errorf("parse config %s: %w", path, err)
			}
		case os.IsNotExist(err):
			// fall through to defaults
		default:
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	cfg.applyEnv()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyEnv() {
	envString("DTO_ENVIRONMENT", &c.Environment)
	envString("DTO_SUITE_DIR", &c.SuiteDir)

	envString("DTO_WAREHOUSE_ACCOUNT", &c.Warehouse.Account)
	envString("DTO_WAREHOUSE_USER", &c.Warehouse.User)
	envString("DTO_WAREHOUSE_PASSWORD", &c.Warehouse.Password)
	envString("DTO_WAREHOUSE_PRIVATE_KEY_PATH", &c.Warehouse.PrivateKeyPath)
	envString("DTO_WAREHOUSE_PRIVATE_KEY_PASSPHRASE", &c.Warehouse.PrivateKeyPassphrase)
	envString("DTO_WAREHOUSE_ROLE", &c.Warehouse.Role)
	envString("DTO_WAREHOUSE_WAREHOUSE", &c.Warehouse.Warehouse)
	envString("DTO_WAREHOUSE_DATABASE", &c.Warehouse.Database)
	envString("DTO_WAREHOUSE_SCHEMA", &c.Warehouse.Schema)
	if v := os.Getenv("DTO_WAREHOUSE_AUTH_METHOD"); v != "" {
		c.Warehouse.AuthMethod = warehouse.AuthMethod(v)
	}

	envString("DTO_STORE_DRIVER", &c.Store.Driver)
	envString("DTO_STORE_DSN", &c.Store.DSN)

	envString("DTO_AI_ENDPOINT", &c.AI.Endpoint)
	envString("DTO_AI_MODEL", &c.AI.Model)
	envString("DTO_AI_API_KEY", &c.AI.APIKey)

	envString("DTO_ARTIFACTS_ENDPOINT", &c.Artifacts.Endpoint)
	envString("DTO_ARTIFACTS_BUCKET", &c.Artifacts.Bucket)
	envString("DTO_ARTIFACTS_ACCESS_KEY", &c.Artifacts.AccessKey)
	envString("DTO_ARTIFACTS_SECRET_KEY", &c.Artifacts.SecretKey)

	if v := os.Getenv("DTO_SCAN_BUDGET_BYTES"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			c.Budgets.ScanBudgetBytes = n
		}
	}
}

func envString(key string, target *string) {
	if v := os.Getenv(key); v != "" {
		*target = v
	}
}

func (c *Config) validate() error {
	switch c.Store.Driver {
	case "postgres", "sqlite", "memory":
	default:
		return fmt.Errorf("store driver %q: must be postgres, sqlite, or memory", c.Store.Driver)
	}
	if c.Budgets.MaxParallelTests < 1 {
		c.Budgets.MaxParallelTests = 1
	}
	if c.Budgets.SampleLimit <= 0 {
		c.Budgets.SampleLimit = 100
	}
	// Zero is a legal value: it disables sample-row storage entirely.
	if c.Policies.SampleRowLimit < 0 {
		return fmt.Errorf("policies.sample_row_limit must not be negative, got %d",
			c.Policies.SampleRowLimit)
	}
	if c.Policies.MaxTimeBudgetSeconds > 0 &&
		c.Policies.DefaultTimeBudgetSeconds > c.Policies.MaxTimeBudgetSeconds {
		return fmt.Errorf("default_time_budget_seconds %d exceeds max_time_budget_seconds %d",
			c.Policies.DefaultTimeBudgetSeconds, c.Policies.MaxTimeBudgetSeconds)
	}
	return nil
}

// Guardrails derives the execution guardrails from the budget settings.
func (c *Config) Guardrails() warehouse.Guardrails {
	return warehouse.Guardrails{
		ScanBudgetBytes: c.Budgets.ScanBudgetBytes,
		SampleLimit:     c.Budgets.SampleLimit,
		AllowedSchemas:  c.Budgets.AllowedSchemas,
	}
}
