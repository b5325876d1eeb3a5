// Package redact masks personally identifiable information in sample rows
// and free text before it reaches artifacts, logs, or AI prompt context.
package redact

import (
	"fmt"
	"log/slog"
	"regexp"
	"strings"
)

// errorSentinel replaces text payloads when redaction itself fails. Raw
// values are never propagated on error.
const errorSentinel = "[CONTEXT_REDACTED_DUE_TO_ERROR]"

type contentPattern struct {
	kind    string
	pattern *regexp.Regexp
}

// Content patterns applied to every string value regardless of column name.
var contentPatterns = []contentPattern{
	{"EMAIL", regexp.MustCompile(`\b[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}\b`)},
	{"PHONE", regexp.MustCompile(`\b\d{3}[-.]?\d{3}[-.]?\d{4}\b`)},
	{"SSN", regexp.MustCompile(`\b\d{3}-?\d{2}-?\d{4}\b`)},
	{"CREDIT_CARD", regexp.MustCompile(`\b\d{4}[-\s]?\d{4}[-\s]?\d{4}[-\s]?\d{4}\b`)},
	{"IP_ADDRESS", regexp.MustCompile(`\b\d{1,3}\.\d{1,3}\.\d{1,3}\.\d{1,3}\b`)},
}

// Case-insensitive substrings that mark a column as PII regardless of its
// contents.
var piiColumnHints = []string{
	"email", "phone", "ssn", "social security", "credit card",
	"address", "name", "dob", "birth date",
}

var selectStarPattern = regexp.MustCompile(`\bSELECT\s+\*`)

// Policy applies PII redaction when enabled. The zero value is disabled.
type Policy struct {
	Enabled bool
}

// NewPolicy returns a redaction policy.
func NewPolicy(enabled bool) *Policy {
	return &Policy{Enabled: enabled}
}

// RedactRows masks PII in sample rows. On any internal failure the whole
// payload is replaced with an empty set rather than risking exposure.
func (p *Policy) RedactRows(rows []map[string]any) (redacted []map[string]any) {
	if !p.Enabled {
		return rows
	}

	defer func() {
		if r := recover(); r != nil {
			slog.Error("row redaction failed, dropping payload", "panic", r)
			redacted = []map[string]any{}
		}
	}()

	redacted = make([]map[string]any, 0, len(rows))
	for _, row := range rows {
		out := make(map[string]any, len(row))
		for column, value := range row {
			out[column] = p.redactValue(column, value)
		}
		redacted = append(redacted, out)
	}
	return redacted
}

// RedactText masks PII patterns in free text such as AI prompt context.
func (p *Policy) RedactText(s string) (redacted string) {
	if !p.Enabled {
		return s
	}

	defer func() {
		if r := recover(); r != nil {
			slog.Error("text redaction failed, substituting sentinel", "panic", r)
			redacted = errorSentinel
		}
	}()

	redacted = s
	for _, cp := range contentPatterns {
		redacted = cp.pattern.ReplaceAllString(redacted, "[REDACTED_"+cp.kind+"]")
	}
	return redacted
}

// IsPIIColumn reports whether the column name suggests PII content.
func (p *Policy) IsPIIColumn(name string) bool {
	lower := strings.ToLower(name)
	for _, hint := range piiColumnHints {
		if strings.Contains(lower, hint) {
			return true
		}
	}
	return false
}

// RedactedColumns returns the subset of columns that would be masked.
func (p *Policy) RedactedColumns(columns []string) []string {
	if !p.Enabled {
		return nil
	}
	var out []string
	for _, col := range columns {
		if p.IsPIIColumn(col) {
			out = append(out, col)
		}
	}
	return out
}

// ValidateQueryForPII warns when a query selects * or names known PII
// columns. tableCols maps table name to its column names.
func (p *Policy) ValidateQueryForPII(sql string, tableCols map[string][]string) []string {
	if !p.Enabled || len(tableCols) == 0 {
		return nil
	}

	var warnings []string
	upper := strings.ToUpper(sql)

	if selectStarPattern.MatchString(upper) {
		warnings = append(warnings, "SELECT * detected - may expose PII columns")
	}

	for table, columns := range tableCols {
		for _, col := range p.RedactedColumns(columns) {
			wordPattern := regexp.MustCompile(`\b` + regexp.QuoteMeta(strings.ToUpper(col)) + `\b`)
			if wordPattern.MatchString(upper) {
				warnings = append(warnings, fmt.Sprintf("PII column %s selected from %s", col, table))
			}
		}
	}
	return warnings
}

func (p *Policy) redactValue(column string, value any) any {
	if value == nil {
		return nil
	}

	str := fmt.Sprintf("%v", value)

	if p.IsPIIColumn(column) {
		return maskValue(str)
	}

	for _, cp := range contentPatterns {
		if cp.pattern.MatchString(str) {
			return cp.pattern.ReplaceAllString(str, "[REDACTED_"+cp.kind+"]")
		}
	}
	return value
}

// maskValue keeps a short prefix/suffix so the shape of the value survives.
func maskValue(value string) string {
	n := len(value)
	switch {
	case n <= 4:
		return strings.Repeat("*", n)
	case n <= 8:
		return value[:2] + strings.Repeat("*", n-4) + value[n-2:]
	default:
		return value[:3] + strings.Repeat("*", n-6) + value[n-3:]
	}
}
