package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
)

// CompletePayload is the input for ai.complete.
type CompletePayload struct {
	Prompt    string `json:"prompt"`
	MaxTokens int    `json:"max_tokens,omitempty"`
}

// CompleteResult is the generated text.
type CompleteResult struct {
	Text string `json:"text"`
}

// CompletionService is the upstream surface the ai.complete tool calls.
type CompletionService interface {
	Complete(ctx context.Context, p CompletePayload) (*CompleteResult, error)
}

const maxCompletionTokens = 4096

// CompleteTool generates text with the configured language model, used
// for drafting replies and campaign copy.
type CompleteTool struct {
	svc    CompletionService
	logger *slog.Logger
}

// NewCompleteTool creates an ai.complete tool.
func NewCompleteTool(svc CompletionService, logger *slog.Logger) *CompleteTool {
	return &CompleteTool{svc: svc, logger: logger}
}

func (t *CompleteTool) Name() string { return "ai.complete" }

func (t *CompleteTool) Description() string {
	return "Generate text with the configured language model, for drafting replies and copy."
}

func (t *CompleteTool) Validate(payload json.RawMessage) error {
	var p CompletePayload
	if err := decodeStrict(payload, &p); err != nil {
		return err
	}
	if p.Prompt == "" {
		return fmt.Errorf("prompt is required")
	}
	if p.MaxTokens < 0 || p.MaxTokens > maxCompletionTokens {
		return fmt.Errorf("max_tokens must be between 0 and %d", maxCompletionTokens)
	}
	return nil
}

func (t *CompleteTool) Execute(ctx context.Context, payload json.RawMessage) (*Result, error) {
	var p CompletePayload
	if err := decodeStrict(payload, &p); err != nil {
		return nil, err
	}
	res, err := t.svc.Complete(ctx, p)
	if err != nil {
		return nil, err
	}
	t.logger.DebugContext(ctx, "completion generated",
		slog.Int("prompt_len", len(p.Prompt)),
		slog.Int("text_len", len(res.Text)),
	)
	return &Result{
		Output:  marshalOutput(res),
		Summary: "generated completion",
	}, nil
}

var _ Tool = (*CompleteTool)(nil)
