// Package guardrail performs lexical validation of candidate SQL before it
// is allowed anywhere near a warehouse session. It is the single boundary
// between user intent and the database: only one read-only statement may
// pass, and any ambiguity errs toward rejection.
package guardrail

import (
	"fmt"
	"regexp"
	"strings"
)

// Kind identifies the reason a statement was rejected.
type Kind string

const (
	EmptyStatement     Kind = "empty_statement"
	MultipleStatements Kind = "multiple_statements"
	DisallowedPrefix   Kind = "disallowed_prefix"
	ForbiddenKeyword   Kind = "forbidden_keyword"
	SchemaNotAllowed   Kind = "schema_not_allowed"
)

// ValidationError carries the rejection reason. Callers surface the Kind
// and Detail but never echo the normalized SQL back to end users.
type ValidationError struct {
	Kind   Kind
	Detail string
}

func (e *ValidationError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("sql rejected: %s", e.Kind)
	}
	return fmt.Sprintf("sql rejected: %s: %s", e.Kind, e.Detail)
}

// allowedPrefixes are the only statement forms the warehouse client emits.
var allowedPrefixes = []string{"SELECT", "WITH", "EXPLAIN"}

// forbiddenKeywords covers DDL/DML plus session-mutating verbs. Matched as
// whole words, case-insensitive, after comment stripping.
var forbiddenKeywords = []string{
	"INSERT", "UPDATE", "DELETE", "MERGE", "CREATE", "ALTER", "DROP",
	"RENAME", "TRUNCATE", "GRANT", "REVOKE", "CALL", "USE", "COPY",
	"PUT", "GET", "BEGIN", "COMMIT", "ROLLBACK", "SET", "UNSET",
	"EXECUTE", "VACUUM", "ANALYZE",
}

var (
	keywordPatterns = compileKeywordPatterns()
	// Fully-qualified db.schema.table references after FROM/JOIN. The
	// identifier grammar is deliberately conservative ASCII; anything it
	// cannot match fails closed when an allowlist is configured.
	schemaRefPattern = regexp.MustCompile(`\b(FROM|JOIN)\s+([A-Z_][A-Z0-9_]*\.[A-Z_][A-Z0-9_]*\.[A-Z_][A-Z0-9_]*)`)
	whitespaceRun    = regexp.MustCompile(`\s+`)
)

func compileKeywordPatterns() map[string]*regexp.Regexp {
	patterns := make(map[string]*regexp.Regexp, len(forbiddenKeywords))
	for _, kw := range forbiddenKeywords {
		patterns[kw] = regexp.MustCompile(`\b` + kw + `\b`)
	}
	return patterns
}

// Validate checks that sql is a single read-only statement.
func Validate(sql string) error {
	return ValidateWithSchemas(sql, nil)
}

// ValidateWithSchemas additionally enforces a db.schema allowlist on all
// fully-qualified FROM/JOIN references. An empty allowlist disables the
// schema check. INFORMATION_SCHEMA references are always allowed; its
// views are read-only metadata.
func ValidateWithSchemas(sql string, allowedSchemas []string) error {
	normalized := Normalize(sql)
	if normalized == "" {
		return &ValidationError{Kind: EmptyStatement}
	}

	statements := splitStatements(normalized)
	if len(statements) == 0 {
		return &ValidationError{Kind: EmptyStatement}
	}
	if len(statements) > 1 {
		return &ValidationError{
			Kind:   MultipleStatements,
			Detail: fmt.Sprintf("%d statements found", len(statements)),
		}
	}

	upper := strings.ToUpper(statements[0])
	if !hasAllowedPrefix(upper) {
		return &ValidationError{
			Kind:   DisallowedPrefix,
			Detail: "only SELECT, WITH, and EXPLAIN statements are allowed",
		}
	}

	for _, kw := range forbiddenKeywords {
		if keywordPatterns[kw].MatchString(upper) {
			return &ValidationError{Kind: ForbiddenKeyword, Detail: kw}
		}
	}

	if len(allowedSchemas) > 0 {
		if err := checkSchemaAccess(upper, allowedSchemas); err != nil {
			return err
		}
	}

	return nil
}

// Normalize strips line and block comments and collapses whitespace. The
// comment scanner respects single-quoted strings and double-quoted
// identifiers so quoted text is never mistaken for a comment delimiter.
func Normalize(sql string) string {
	var out strings.Builder
	out.Grow(len(sql))

	runes := []rune(sql)
	length := len(runes)

	for i := 0; i < length; i++ {
		char := runes[i]

		switch char {
		case '-':
			if i+1 < length && runes[i+1] == '-' {
				for i < length && runes[i] != '\n' {
					i++
				}
				out.WriteRune(' ')
				continue
			}
			out.WriteRune(char)

		case '/':
			if i+1 < length && runes[i+1] == '*' {
				i += 2
				for i+1 < length {
					if runes[i] == '*' && runes[i+1] == '/' {
						i++
						break
					}
					i++
				}
				out.WriteRune(' ')
				continue
			}
			out.WriteRune(char)

		case '\'':
			out.WriteRune(char)
			i++
			for i < length {
				out.WriteRune(runes[i])
				if runes[i] == '\'' {
					if i+1 < length && runes[i+1] == '\'' {
						i++
						out.WriteRune('\'')
					} else {
						break
					}
				}
				i++
			}

		case '"':
			out.WriteRune(char)
			i++
			for i < length {
				out.WriteRune(runes[i])
				if runes[i] == '"' {
					break
				}
				i++
			}

		default:
			out.WriteRune(char)
		}
	}

	return strings.TrimSpace(whitespaceRun.ReplaceAllString(out.String(), " "))
}

func splitStatements(normalized string) []string {
	parts := strings.Split(normalized, ";")
	statements := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			statements = append(statements, trimmed)
		}
	}
	return statements
}

func hasAllowedPrefix(upper string) bool {
	for _, prefix := range allowedPrefixes {
		if strings.HasPrefix(upper, prefix+" ") || upper == prefix {
			return true
		}
	}
	return false
}

func checkSchemaAccess(upper string, allowedSchemas []string) error {
	allowed := make(map[string]struct{}, len(allowedSchemas))
	for _, schema := range allowedSchemas {
		allowed[strings.ToUpper(strings.TrimSpace(schema))] = struct{}{}
	}

	for _, match := range schemaRefPattern.FindAllStringSubmatch(upper, -1) {
		parts := strings.Split(match[2], ".")
		// INFORMATION_SCHEMA holds read-only metadata views and is what
		// schema tests query; it passes without an allowlist entry.
		if parts[1] == "INFORMATION_SCHEMA" {
			continue
		}
		schemaRef := parts[0] + "." + parts[1]
		if _, ok := allowed[schemaRef]; !ok {
			return &ValidationError{Kind: SchemaNotAllowed, Detail: schemaRef}
		}
	}
	return nil
}
