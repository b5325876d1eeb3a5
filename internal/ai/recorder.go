package ai

import (
	"context"
	"sync"
)

// Metadata is the provenance captured for the most recent compile call.
type Metadata struct {
	Model      string   `json:"model"`
	Seed       int64    `json:"seed"`
	Confidence float64  `json:"confidence"`
	Warnings   []string `json:"warnings,omitempty"`
	Stubbed    bool     `json:"stubbed"`
}

// Recorder decorates a Provider, capturing per-call metadata without the
// inner provider knowing it is observed. Composition, not inheritance: the
// recorder never alters requests or responses.
type Recorder struct {
	inner Provider
	model string
	seed  int64

	mu   sync.Mutex
	last Metadata
}

// NewRecorder wraps inner, tagging metadata with the configured model/seed.
func NewRecorder(inner Provider, model string, seed int64) *Recorder {
	return &Recorder{inner: inner, model: model, seed: seed}
}

func (r *Recorder) Health(ctx context.Context) (Health, error) {
	return r.inner.Health(ctx)
}

func (r *Recorder) Generate(ctx context.Context, prompt string, opts Options) (string, error) {
	return r.inner.Generate(ctx, prompt, opts)
}

func (r *Recorder) CompileExpression(ctx context.Context, req CompileRequest) (CompileResponse, error) {
	resp, err := r.inner.CompileExpression(ctx, req)
	if err != nil {
		return resp, err
	}

	meta := Metadata{
		Model:      r.model,
		Seed:       r.seed,
		Confidence: resp.Confidence,
		Warnings:   append([]string(nil), resp.Warnings...),
	}
	for _, w := range resp.Warnings {
		if w == StubWarning {
			meta.Stubbed = true
			break
		}
	}

	r.mu.Lock()
	r.last = meta
	r.mu.Unlock()

	return resp, nil
}

// Last returns the metadata of the most recent successful compile call.
func (r *Recorder) Last() Metadata {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.last
}
