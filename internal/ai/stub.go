package ai

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"regexp"
	"strings"

	"github.com/dataflowguard/dto/internal/compiler"
)

// StubWarning marks every response produced by the deterministic local path.
const StubWarning = "deterministic stub response; no external model was consulted"

// stubConfidence is deliberately low so callers can tell stubbed output
// from model output.
const stubConfidence = 0.45

// Stub is a fully local, deterministic provider. Output is a pure function
// of (prompt, seed, model), which makes it usable both as the offline
// fallback and as the only provider when external AI is disabled by policy.
type Stub struct {
	Model string
}

// NewStub returns a deterministic provider identifying as model.
func NewStub(model string) *Stub {
	if model == "" {
		model = "local-stub"
	}
	return &Stub{Model: model}
}

func (s *Stub) Health(ctx context.Context) (Health, error) {
	if err := ctx.Err(); err != nil {
		return Health{}, err
	}
	return Health{OK: true, Detail: "deterministic local provider", Model: s.Model}, nil
}

// Generate returns text derived from a hash of (prompt|seed|model).
func (s *Stub) Generate(ctx context.Context, prompt string, opts Options) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return fmt.Sprintf("stub-response-%s", s.fingerprint(prompt, opts.Seed)), nil
}

// CompileExpression maps keyword features of the expression onto an IR.
// Unrecognized expressions fall back to a row-count probe with a warning.
func (s *Stub) CompileExpression(ctx context.Context, req CompileRequest) (CompileResponse, error) {
	if err := ctx.Err(); err != nil {
		return CompileResponse{}, err
	}

	ir := compiler.IR{
		Dataset: strings.ToUpper(req.Dataset),
		Dialect: compiler.DialectSnowflake,
	}

	warnings := []string{StubWarning}
	lower := strings.ToLower(req.Expression)

	switch {
	case strings.Contains(req.Expression, "=="):
		left, expr, err := compiler.ParseRule(req.Expression)
		if err != nil {
			return CompileResponse{}, fmt.Errorf("stub compile: %w", err)
		}
		ir.Assertion = compiler.Assertion{Kind: compiler.AssertRule, Left: left, Expr: expr}

	case strings.Contains(lower, "unique") || strings.Contains(lower, "duplicate"):
		ir.Assertion = compiler.Assertion{
			Kind: compiler.AssertUniqueness,
			Keys: []string{guessColumn(req.Expression)},
		}

	case strings.Contains(lower, "null"):
		ir.Assertion = compiler.Assertion{
			Kind:   compiler.AssertNotNull,
			Column: guessColumn(req.Expression),
		}

	case strings.Contains(lower, "fresh") || strings.Contains(lower, "recent") ||
		strings.Contains(lower, "hour"):
		ir.Assertion = compiler.Assertion{
			Kind:     compiler.AssertFreshness,
			Column:   guessColumn(req.Expression),
			MaxHours: 24,
		}

	case strings.Contains(lower, "count") || strings.Contains(lower, "rows") ||
		strings.Contains(lower, "empty"):
		one := int64(1)
		ir.Assertion = compiler.Assertion{Kind: compiler.AssertRowCountRange, MinRows: &one}

	default:
		one := int64(1)
		ir.Assertion = compiler.Assertion{Kind: compiler.AssertRowCountRange, MinRows: &one}
		warnings = append(warnings, "expression not understood, defaulting to row_count")
	}

	preview, err := compiler.GenerateSQL(ir)
	if err != nil {
		return CompileResponse{}, fmt.Errorf("stub compile: %w", err)
	}

	return CompileResponse{
		IR:         ir,
		SQLPreview: preview,
		Confidence: stubConfidence,
		Warnings:   warnings,
	}, nil
}

func (s *Stub) fingerprint(prompt string, seed int64) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s|%d|%s", prompt, seed, s.Model)))
	return hex.EncodeToString(sum[:])[:12]
}

var wordPattern = regexp.MustCompile(`[A-Za-z_][A-Za-z0-9_]*`)

// Filler words that never name a column.
var stopWords = map[string]struct{}{
	"the": {}, "a": {}, "an": {}, "is": {}, "are": {}, "be": {}, "must": {},
	"should": {}, "every": {}, "all": {}, "no": {}, "not": {}, "of": {},
	"in": {}, "on": {}, "and": {}, "or": {}, "unique": {}, "duplicate": {},
	"duplicates": {}, "null": {}, "nulls": {}, "fresh": {}, "recent": {},
	"hour": {}, "hours": {}, "count": {}, "rows": {}, "row": {}, "empty": {},
	"values": {}, "value": {}, "column": {}, "than": {}, "within": {},
	"last": {}, "have": {}, "has": {},
}

func guessColumn(expression string) string {
	for _, word := range wordPattern.FindAllString(expression, -1) {
		if _, skip := stopWords[strings.ToLower(word)]; !skip {
			return strings.ToUpper(word)
		}
	}
	return "ID"
}
