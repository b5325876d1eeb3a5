package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/itchyny/gojq"

	"github.com/dataflowguard/dto/internal/compiler"
)

const defaultTimeout = 30 * time.Second

// OpenAI talks to an OpenAI-compatible chat-completions endpoint. Any
// transport or parse failure degrades to the deterministic stub so callers
// always get a usable, clearly marked response.
type OpenAI struct {
	endpoint string
	model    string
	apiKey   string
	client   *http.Client
	fallback *Stub
	logger   *slog.Logger
}

// NewOpenAI builds an adapter for endpoint (e.g. "https://api.openai.com/v1").
func NewOpenAI(endpoint, model, apiKey string, timeout time.Duration, logger *slog.Logger) *OpenAI {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &OpenAI{
		endpoint: strings.TrimRight(endpoint, "/"),
		model:    model,
		apiKey:   apiKey,
		client:   &http.Client{Timeout: timeout},
		fallback: NewStub(model),
		logger:   logger,
	}
}

func (o *OpenAI) Health(ctx context.Context) (Health, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, o.endpoint+"/models", nil)
	if err != nil {
		return Health{OK: false, Detail: err.Error(), Model: o.model}, nil
	}
	o.authorize(req)

	resp, err := o.client.Do(req)
	if err != nil {
		return Health{OK: false, Detail: err.Error(), Model: o.model}, nil
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return Health{OK: false, Detail: fmt.Sprintf("endpoint returned %d", resp.StatusCode), Model: o.model}, nil
	}
	return Health{OK: true, Model: o.model}, nil
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	TopP        float64       `json:"top_p"`
	Seed        int64         `json:"seed,omitempty"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

// Generate sends one chat completion and returns the first choice's text.
func (o *OpenAI) Generate(ctx context.Context, prompt string, opts Options) (string, error) {
	body, err := json.Marshal(chatRequest{
		Model:       o.model,
		Messages:    []chatMessage{{Role: "user", Content: prompt}},
		Temperature: opts.Temperature,
		TopP:        opts.TopP,
		Seed:        opts.Seed,
		MaxTokens:   opts.MaxTokens,
	})
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		o.endpoint+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	o.authorize(req)

	resp, err := o.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("model request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("read model response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("model endpoint returned %d", resp.StatusCode)
	}

	var parsed chatResponse
	if err := json.Unmarshal(payload, &parsed); err != nil {
		return "", fmt.Errorf("decode model response: %w", err)
	}
	if len(parsed.Choices) == 0 {
		return "", fmt.Errorf("model returned no choices")
	}
	return parsed.Choices[0].Message.Content, nil
}

// CompileExpression prompts the model for a JSON envelope and extracts the
// IR from it. The model's SQL is never trusted: the preview is regenerated
// locally from the extracted IR so it passes the same lowering as
// template-mode tests.
func (o *OpenAI) CompileExpression(ctx context.Context, req CompileRequest) (CompileResponse, error) {
	prompt := buildCompilePrompt(req)

	text, err := o.Generate(ctx, prompt, Options{Temperature: 0, TopP: 1, Seed: 42})
	if err != nil {
		return o.degrade(ctx, req, err)
	}

	resp, err := parseModelEnvelope(text, req)
	if err != nil {
		return o.degrade(ctx, req, err)
	}
	return resp, nil
}

func (o *OpenAI) degrade(ctx context.Context, req CompileRequest, cause error) (CompileResponse, error) {
	if ctx.Err() != nil {
		return CompileResponse{}, ctx.Err()
	}
	o.logger.Warn("external model unavailable, using deterministic fallback",
		"model", o.model, "error", cause)

	resp, err := o.fallback.CompileExpression(ctx, req)
	if err != nil {
		return CompileResponse{}, err
	}
	resp.Warnings = append(resp.Warnings, fmt.Sprintf("external model unavailable: %v", cause))
	return resp, nil
}

func (o *OpenAI) authorize(req *http.Request) {
	if o.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+o.apiKey)
	}
}

func buildCompilePrompt(req CompileRequest) string {
	var b strings.Builder
	b.WriteString("Compile the following data-quality expectation into a JSON object ")
	b.WriteString(`{"ir": {...}, "confidence": 0.0-1.0}` + ".\n")
	fmt.Fprintf(&b, "Dataset: %s\n", req.Dataset)
	if req.TestType != "" {
		fmt.Fprintf(&b, "Test type: %s\n", req.TestType)
	}
	if req.CatalogContext != "" {
		fmt.Fprintf(&b, "Catalog context:\n%s\n", req.CatalogContext)
	}
	fmt.Fprintf(&b, "Expectation: %s\n", req.Expression)
	b.WriteString("Respond with JSON only.")
	return b.String()
}

// parseModelEnvelope extracts {ir, confidence} from model output, which may
// wrap the JSON in prose or code fences.
func parseModelEnvelope(text string, req CompileRequest) (CompileResponse, error) {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end <= start {
		return CompileResponse{}, fmt.Errorf("model output contains no JSON object")
	}

	var doc any
	if err := json.Unmarshal([]byte(text[start:end+1]), &doc); err != nil {
		return CompileResponse{}, fmt.Errorf("model output is not valid JSON: %w", err)
	}

	irValue, ok := jqFirst(doc, ".ir")
	if !ok || irValue == nil {
		return CompileResponse{}, fmt.Errorf("model output has no .ir field")
	}

	irJSON, err := json.Marshal(irValue)
	if err != nil {
		return CompileResponse{}, fmt.Errorf("re-encode ir: %w", err)
	}
	var ir compiler.IR
	if err := json.Unmarshal(irJSON, &ir); err != nil {
		return CompileResponse{}, fmt.Errorf("model ir does not match the schema: %w", err)
	}
	if ir.Dataset == "" {
		ir.Dataset = strings.ToUpper(req.Dataset)
	}
	if ir.Dialect == "" {
		ir.Dialect = compiler.DialectSnowflake
	}

	preview, err := compiler.GenerateSQL(ir)
	if err != nil {
		return CompileResponse{}, fmt.Errorf("model ir does not lower to SQL: %w", err)
	}

	confidence := 0.8
	if v, ok := jqFirst(doc, ".confidence"); ok {
		if f, isNum := v.(float64); isNum && f >= 0 && f <= 1 {
			confidence = f
		}
	}

	return CompileResponse{IR: ir, SQLPreview: preview, Confidence: confidence}, nil
}

// jqFirst runs a gojq query and returns its first result.
func jqFirst(doc any, query string) (any, bool) {
	q, err := gojq.Parse(query)
	if err != nil {
		return nil, false
	}
	iter := q.Run(doc)
	v, ok := iter.Next()
	if !ok {
		return nil, false
	}
	if _, isErr := v.(error); isErr {
		return nil, false
	}
	return v, true
}
