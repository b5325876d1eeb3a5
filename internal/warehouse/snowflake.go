package warehouse

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"

	"github.com/jmoiron/sqlx"
	sf "github.com/snowflakedb/gosnowflake"

	"github.com/dataflowguard/dto/internal/guardrail"
	"github.com/dataflowguard/dto/internal/redact"
)

const defaultQueryTag = "DataFlowGuard"

var (
	limitPattern = regexp.MustCompile(`(?i)\bLIMIT\s+\d+`)
	// Byte figures reported in EXPLAIN plan text, e.g. "bytesAssigned=1234"
	// or "bytes: 1,234".
	planBytesPattern = regexp.MustCompile(`(?i)bytes\w*[=:]\s*([0-9][0-9,]*)`)
)

// Snowflake is the production Client. It pins a single connection so
// session parameters, LAST_QUERY_ID, and session-scoped query history all
// refer to the same session.
type Snowflake struct {
	settings Settings
	guards   Guardrails
	redactor *redact.Policy
	logger   *slog.Logger

	db *sqlx.DB
}

// NewSnowflake builds an unconnected client.
func NewSnowflake(settings Settings, guards Guardrails, redactor *redact.Policy, logger *slog.Logger) *Snowflake {
	if logger == nil {
		logger = slog.Default()
	}
	if redactor == nil {
		redactor = redact.NewPolicy(false)
	}
	return &Snowflake{settings: settings, guards: guards, redactor: redactor, logger: logger}
}

// Connect opens the session and applies session parameters.
func (c *Snowflake) Connect(ctx context.Context) error {
	cfg, err := c.driverConfig()
	if err != nil {
		return err
	}

	dsn, err := sf.DSN(cfg)
	if err != nil {
		return &Error{Kind: KindConnection, Op: "connect", Err: err}
	}

	db, err := sqlx.Open("snowflake", dsn)
	if err != nil {
		return &Error{Kind: KindConnection, Op: "connect", Err: err}
	}
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		kind := KindConnection
		if isAuthError(err) {
			kind = KindAuth
		}
		return &Error{Kind: kind, Op: "connect", Err: err}
	}

	c.db = db
	c.logger.Info("warehouse session opened",
		"account", c.settings.Account,
		"warehouse", c.settings.Warehouse,
		"query_tag", c.queryTag())
	return nil
}

func (c *Snowflake) driverConfig() (*sf.Config, error) {
	tag := c.queryTag()
	params := map[string]*string{
		"QUERY_TAG":                stringPtr(tag),
		"JDBC_QUERY_RESULT_FORMAT": stringPtr("JSON"),
	}
	if c.settings.StatementTimeoutS > 0 {
		params["STATEMENT_TIMEOUT_IN_SECONDS"] = stringPtr(strconv.Itoa(c.settings.StatementTimeoutS))
	}

	cfg := &sf.Config{
		Account:   c.settings.Account,
		User:      c.settings.User,
		Role:      c.settings.Role,
		Warehouse: c.settings.Warehouse,
		Database:  c.settings.Database,
		Schema:    c.settings.Schema,
		Region:    c.settings.Region,
		Host:      c.settings.Host,
		Params:    params,
	}

	method := c.settings.AuthMethod
	if method == "" {
		if c.settings.PrivateKeyPath != "" {
			method = AuthPrivateKey
		} else {
			method = AuthPassword
		}
	}

	switch method {
	case AuthPassword:
		if c.settings.Password == "" {
			return nil, &Error{Kind: KindAuth, Op: "connect", Err: errors.New("password auth selected but no password configured")}
		}
		cfg.Password = c.settings.Password

	case AuthPrivateKey:
		key, err := loadPrivateKey(c.settings.PrivateKeyPath, c.settings.PrivateKeyPassphrase)
		if err != nil {
			return nil, &Error{Kind: KindAuth, Op: "connect", Err: err}
		}
		cfg.Authenticator = sf.AuthTypeJwt
		cfg.PrivateKey = key

	case AuthIAM, AuthOIDC, AuthKerberos, AuthMTLS, AuthVault:
		return nil, &Error{Kind: KindAuth, Op: "connect",
			Err: fmt.Errorf("auth method %q is recognized but not supported", method)}

	default:
		return nil, &Error{Kind: KindAuth, Op: "connect",
			Err: fmt.Errorf("unknown auth method %q", method)}
	}

	return cfg, nil
}

// Close releases the session. Safe to call on an unconnected client.
func (c *Snowflake) Close() error {
	if c.db == nil {
		return nil
	}
	err := c.db.Close()
	c.db = nil
	return err
}

// TestConnection runs a trivial probe on the open session.
func (c *Snowflake) TestConnection(ctx context.Context) error {
	if err := c.requireSession("test_connection"); err != nil {
		return err
	}
	var one int
	if err := c.db.GetContext(ctx, &one, "SELECT 1"); err != nil {
		return wrapErr("test_connection", err)
	}
	return nil
}

// Explain validates sql, runs EXPLAIN USING TEXT, and applies the
// pre-flight scan budget. The plan hash identifies a plan without storing
// the full text everywhere.
func (c *Snowflake) Explain(ctx context.Context, query string) (*ExplainResult, error) {
	if err := guardrail.ValidateWithSchemas(query, c.guards.AllowedSchemas); err != nil {
		return nil, &Error{Kind: KindValidation, Op: "explain", Err: err}
	}
	if err := c.requireSession("explain"); err != nil {
		return nil, err
	}

	rows, err := c.db.QueryxContext(ctx, "EXPLAIN USING TEXT "+query)
	if err != nil {
		return nil, wrapErr("explain", err)
	}
	defer func() { _ = rows.Close() }()

	var lines []string
	for rows.Next() {
		var line string
		if err := rows.Scan(&line); err != nil {
			return nil, wrapErr("explain", err)
		}
		lines = append(lines, line)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapErr("explain", err)
	}

	planText := strings.Join(lines, "\n")
	sum := sha256.Sum256([]byte(planText))

	result := &ExplainResult{
		PlanText:       planText,
		PlanHash:       hex.EncodeToString(sum[:])[:16],
		EstimatedBytes: estimateBytes(planText),
	}

	if c.guards.ScanBudgetBytes > 0 && result.EstimatedBytes > c.guards.ScanBudgetBytes {
		return result, &Error{
			Kind: KindBudgetExceeded,
			Op:   "explain",
			Err: fmt.Errorf("estimated %d bytes exceeds budget %d",
				result.EstimatedBytes, c.guards.ScanBudgetBytes),
		}
	}
	return result, nil
}

// Select validates, caps, and executes one read-only statement, then
// redacts rows and fetches execution metrics best-effort.
func (c *Snowflake) Select(ctx context.Context, query string, limit int) (*SelectResult, error) {
	if err := guardrail.ValidateWithSchemas(query, c.guards.AllowedSchemas); err != nil {
		return nil, &Error{Kind: KindValidation, Op: "select", Err: err}
	}
	if err := c.requireSession("select"); err != nil {
		return nil, err
	}

	query = c.applyLimit(query, limit)

	rows, err := c.db.QueryxContext(ctx, query)
	if err != nil {
		return nil, wrapErr("select", err)
	}

	var resultRows []map[string]any
	for rows.Next() {
		row := map[string]any{}
		if err := rows.MapScan(row); err != nil {
			_ = rows.Close()
			return nil, wrapErr("select", err)
		}
		resultRows = append(resultRows, normalizeRow(row))
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return nil, wrapErr("select", err)
	}
	_ = rows.Close()

	result := &SelectResult{Rows: c.redactor.RedactRows(resultRows)}
	result.Stats.Rows = int64(len(resultRows))

	// Single pinned connection, so LAST_QUERY_ID refers to our statement.
	var queryID string
	if err := c.db.GetContext(ctx, &queryID, "SELECT LAST_QUERY_ID()"); err != nil {
		c.logger.Warn("could not resolve query id", "error", err)
	} else {
		result.QueryID = queryID
		c.fetchStats(ctx, result)
	}

	if c.guards.ScanBudgetBytes > 0 && result.Stats.BytesScanned > c.guards.ScanBudgetBytes {
		// Post-flight breach is a warning, never a retroactive failure.
		c.logger.Warn("scan budget exceeded post-flight",
			"query_id", result.QueryID,
			"bytes_scanned", result.Stats.BytesScanned,
			"budget", c.guards.ScanBudgetBytes)
	}

	return result, nil
}

// fetchStats reads execution metrics from session query history. Failures
// are logged and swallowed: metrics are advisory.
func (c *Snowflake) fetchStats(ctx context.Context, result *SelectResult) {
	const historyQuery = `
		SELECT BYTES_SCANNED, TOTAL_ELAPSED_TIME, ROWS_PRODUCED,
		       WAREHOUSE_NAME, ROLE_NAME, DATABASE_NAME, SCHEMA_NAME
		FROM TABLE(INFORMATION_SCHEMA.QUERY_HISTORY_BY_SESSION())
		WHERE QUERY_ID = ?`

	row := c.db.QueryRowxContext(ctx, historyQuery, result.QueryID)

	var (
		bytesScanned, elapsed, produced       sql.NullInt64
		warehouseName, role, database, schema sql.NullString
	)
	err := row.Scan(&bytesScanned, &elapsed, &produced, &warehouseName, &role, &database, &schema)
	if err != nil {
		c.logger.Warn("query history lookup failed", "query_id", result.QueryID, "error", err)
		return
	}

	result.Stats.BytesScanned = bytesScanned.Int64
	result.Stats.ElapsedMS = elapsed.Int64
	if produced.Valid {
		result.Stats.Rows = produced.Int64
	}
	result.Stats.Warehouse = warehouseName.String
	result.Stats.Role = role.String
	result.Stats.Database = database.String
	result.Stats.Schema = schema.String
}

// GetTableSchema looks up column metadata from INFORMATION_SCHEMA.
func (c *Snowflake) GetTableSchema(ctx context.Context, name string) ([]ColumnInfo, error) {
	if err := c.requireSession("get_table_schema"); err != nil {
		return nil, err
	}

	parts := strings.Split(strings.ToUpper(name), ".")
	var query string
	var args []any
	switch len(parts) {
	case 3:
		query = "SELECT COLUMN_NAME, DATA_TYPE, IS_NULLABLE FROM " + parts[0] +
			".INFORMATION_SCHEMA.COLUMNS WHERE TABLE_SCHEMA = ? AND TABLE_NAME = ? ORDER BY ORDINAL_POSITION"
		args = []any{parts[1], parts[2]}
	case 2:
		query = "SELECT COLUMN_NAME, DATA_TYPE, IS_NULLABLE FROM INFORMATION_SCHEMA.COLUMNS " +
			"WHERE TABLE_SCHEMA = ? AND TABLE_NAME = ? ORDER BY ORDINAL_POSITION"
		args = []any{parts[0], parts[1]}
	case 1:
		query = "SELECT COLUMN_NAME, DATA_TYPE, IS_NULLABLE FROM INFORMATION_SCHEMA.COLUMNS " +
			"WHERE TABLE_NAME = ? ORDER BY ORDINAL_POSITION"
		args = []any{parts[0]}
	default:
		return nil, &Error{Kind: KindValidation, Op: "get_table_schema",
			Err: fmt.Errorf("invalid table name %q", name)}
	}

	var columns []ColumnInfo
	if err := c.db.SelectContext(ctx, &columns, query, args...); err != nil {
		return nil, wrapErr("get_table_schema", err)
	}
	return columns, nil
}

// GetTableStats returns a row count for the table via the guardrailed path.
func (c *Snowflake) GetTableStats(ctx context.Context, name string) (*TableStats, error) {
	result, err := c.Select(ctx, "SELECT COUNT(*) AS ROW_COUNT FROM "+strings.ToUpper(name), 1)
	if err != nil {
		return nil, err
	}
	stats := &TableStats{Bytes: result.Stats.BytesScanned}
	if len(result.Rows) > 0 {
		switch v := result.Rows[0]["ROW_COUNT"].(type) {
		case int64:
			stats.RowCount = v
		case float64:
			stats.RowCount = int64(v)
		case string:
			stats.RowCount, _ = strconv.ParseInt(v, 10, 64)
		}
	}
	return stats, nil
}

func (c *Snowflake) requireSession(op string) error {
	if c.db == nil {
		return &Error{Kind: KindConnection, Op: op, Err: errors.New("not connected")}
	}
	return nil
}

func (c *Snowflake) queryTag() string {
	if c.settings.QueryTag != "" {
		return c.settings.QueryTag
	}
	return defaultQueryTag
}

// applyLimit appends LIMIT min(limit, sample_limit) when the statement has
// none of its own. EXPLAIN statements are passed through untouched.
func (c *Snowflake) applyLimit(query string, limit int) string {
	if strings.HasPrefix(strings.ToUpper(strings.TrimSpace(query)), "EXPLAIN") {
		return query
	}
	if limitPattern.MatchString(query) {
		return query
	}

	effective := limit
	if c.guards.SampleLimit > 0 && (effective <= 0 || effective > c.guards.SampleLimit) {
		effective = c.guards.SampleLimit
	}
	if effective <= 0 {
		return query
	}
	return strings.TrimRight(strings.TrimSpace(query), ";") + " LIMIT " + strconv.Itoa(effective)
}

// estimateBytes sums the byte figures EXPLAIN text reports. Zero means the
// plan carried no estimate; the budget check treats that as unbounded-safe.
func estimateBytes(planText string) int64 {
	var total int64
	for _, match := range planBytesPattern.FindAllStringSubmatch(planText, -1) {
		n, err := strconv.ParseInt(strings.ReplaceAll(match[1], ",", ""), 10, 64)
		if err == nil {
			total += n
		}
	}
	return total
}

func isAuthError(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "incorrect username or password") ||
		strings.Contains(msg, "authentication") ||
		strings.Contains(msg, "390") // Snowflake auth error codes share the 390xxx range.
}

// normalizeRow converts []byte values to string so rows serialize cleanly.
func normalizeRow(row map[string]any) map[string]any {
	for k, v := range row {
		if b, ok := v.([]byte); ok {
			row[k] = string(b)
		}
	}
	return row
}

func stringPtr(s string) *string { return &s }
