// Package ai abstracts the text generator used to compile natural-language
// expectations into test IR. The core only ever sees the Provider contract;
// whether a response came from a hosted model or the deterministic local
// path is visible solely through confidence and warnings.
package ai

import (
	"context"

	"github.com/dataflowguard/dto/internal/compiler"
)

// Options tune a single generation call.
type Options struct {
	Temperature float64
	TopP        float64
	Seed        int64
	MaxTokens   int
}

// Health reports provider reachability.
type Health struct {
	OK     bool   `json:"ok"`
	Detail string `json:"detail,omitempty"`
	Model  string `json:"model,omitempty"`
}

// CompileRequest asks the provider to turn a natural-language expectation
// into an IR for one dataset.
type CompileRequest struct {
	Expression     string
	Dataset        string
	TestType       string
	CatalogContext string
}

// CompileResponse carries the IR plus provenance the caller records.
type CompileResponse struct {
	IR         compiler.IR `json:"ir"`
	SQLPreview string      `json:"sql_preview,omitempty"`
	Confidence float64     `json:"confidence"`
	Warnings   []string    `json:"warnings,omitempty"`
}

// Provider is the capability the orchestrator and CLI consume. Determinism
// contract: the same (prompt, seed, model) triple produces the same output.
type Provider interface {
	Health(ctx context.Context) (Health, error)
	Generate(ctx context.Context, prompt string, opts Options) (string, error)
	CompileExpression(ctx context.Context, req CompileRequest) (CompileResponse, error)
}
