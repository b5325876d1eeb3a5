// Package warehouse provides the read-only Snowflake client: guardrailed
// statement execution, EXPLAIN-based scan budgeting, and best-effort query
// metrics.
package warehouse

import "context"

// AuthMethod enumerates the authentication schemes the settings may name.
// Only password and private_key are implemented; the rest are recognized so
// configuration errors say "unsupported", not "unknown".
type AuthMethod string

const (
	AuthPassword   AuthMethod = "password"
	AuthPrivateKey AuthMethod = "private_key"
	AuthIAM        AuthMethod = "iam"
	AuthOIDC       AuthMethod = "oidc"
	AuthKerberos   AuthMethod = "kerberos"
	AuthMTLS       AuthMethod = "mtls"
	AuthVault      AuthMethod = "vault"
)

// Settings is everything needed to open one warehouse session.
type Settings struct {
	Account              string     `yaml:"account"`
	User                 string     `yaml:"user"`
	AuthMethod           AuthMethod `yaml:"auth_method"`
	Password             string     `yaml:"password"`
	PrivateKeyPath       string     `yaml:"private_key_path"`
	PrivateKeyPassphrase string     `yaml:"private_key_passphrase"`
	Role                 string     `yaml:"role"`
	Warehouse            string     `yaml:"warehouse"`
	Database             string     `yaml:"database"`
	Schema               string     `yaml:"schema"`
	Region               string     `yaml:"region"`
	Host                 string     `yaml:"host"`

	QueryTag          string `yaml:"query_tag"`
	StatementTimeoutS int    `yaml:"statement_timeout_s"`
}

// Guardrails are the execution-time protections applied to every statement.
type Guardrails struct {
	ScanBudgetBytes int64    `yaml:"scan_budget_bytes"`
	SampleLimit     int      `yaml:"sample_limit"`
	AllowedSchemas  []string `yaml:"allowed_schemas"`
}

// ExplainResult is the outcome of a pre-flight EXPLAIN.
type ExplainResult struct {
	PlanText       string `json:"plan_text"`
	PlanHash       string `json:"plan_hash"`
	EstimatedBytes int64  `json:"estimated_bytes"`
}

// Stats are the execution metrics fetched from query history.
type Stats struct {
	BytesScanned int64  `json:"bytes_scanned"`
	ElapsedMS    int64  `json:"elapsed_ms"`
	Rows         int64  `json:"rows"`
	Warehouse    string `json:"warehouse,omitempty"`
	Role         string `json:"role,omitempty"`
	Database     string `json:"database,omitempty"`
	Schema       string `json:"schema,omitempty"`
}

// SelectResult is the outcome of one guardrailed SELECT.
type SelectResult struct {
	QueryID string           `json:"query_id"`
	Rows    []map[string]any `json:"rows"`
	Stats   Stats            `json:"stats"`
}

// ColumnInfo describes one column of a warehouse table.
type ColumnInfo struct {
	Name     string `json:"name" db:"COLUMN_NAME"`
	Type     string `json:"type" db:"DATA_TYPE"`
	Nullable string `json:"nullable" db:"IS_NULLABLE"`
}

// TableStats is a cheap structural summary of one table.
type TableStats struct {
	RowCount int64 `json:"row_count"`
	Bytes    int64 `json:"bytes"`
}

// Client is the read-only warehouse capability the orchestrator consumes.
// One client owns one session; clients are not shared across runs.
type Client interface {
	Connect(ctx context.Context) error
	Close() error
	TestConnection(ctx context.Context) error
	Explain(ctx context.Context, sql string) (*ExplainResult, error)
	Select(ctx context.Context, sql string, limit int) (*SelectResult, error)
	GetTableSchema(ctx context.Context, name string) ([]ColumnInfo, error)
	GetTableStats(ctx context.Context, name string) (*TableStats, error)
}
