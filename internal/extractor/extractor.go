// Package extractor converts a free-form dialogue into a structured,
// schema-conformant payload by running the model in low-temperature
// extraction mode.
package extractor

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	"github.com/david-nelson-elske/choice-sherpa-sub005/internal/anthropic"
	"github.com/david-nelson-elske/choice-sherpa-sub005/internal/conversation"
	"github.com/david-nelson-elske/choice-sherpa-sub005/internal/sanitize"
	"github.com/david-nelson-elske/choice-sherpa-sub005/internal/schema"
	"github.com/david-nelson-elske/choice-sherpa-sub005/internal/step"
)

// CompletionClient is the slice of the model port extraction needs.
type CompletionClient interface {
	Complete(ctx context.Context, system string, messages []anthropic.Message, maxTokens int, temperature float64) (string, anthropic.Usage, error)
}

type Extractor struct {
	llm    CompletionClient
	logger *slog.Logger
}

func New(llm CompletionClient, logger *slog.Logger) *Extractor {
	return &Extractor{llm: llm, logger: logger}
}

// Extract runs a full extraction and validates the payload strictly.
// Deterministic given identical model output and free of side effects on
// the conversation, so callers may safely retry.
func (e *Extractor) Extract(ctx context.Context, conv *conversation.Conversation) (*Extraction, error) {
	return e.run(ctx, conv, schema.Validate)
}

// Preview runs a mid-dialogue extraction with partial validation, so an
// incomplete payload still produces a live preview instead of failing.
func (e *Extractor) Preview(ctx context.Context, conv *conversation.Conversation) (*Extraction, error) {
	return e.run(ctx, conv, schema.ValidatePartial)
}

func (e *Extractor) run(ctx context.Context, conv *conversation.Conversation, validate func(step.Type, map[string]any) error) (*Extraction, error) {
	cfg := step.ConfigFor(conv.StepType)
	prompt := userPrompt(conv)

	e.logger.Info("extracting from dialogue",
		"conversation_id", conv.ID.String(),
		"step_type", string(conv.StepType),
		"user_turns", conv.UserTurns(),
	)

	// Temperature pinned to 0: extraction must be as deterministic as the
	// provider allows.
	raw, usage, err := e.llm.Complete(ctx, extractionSystemPrompt(conv.StepType),
		[]anthropic.Message{{Role: "user", Content: prompt}},
		cfg.MaxExtractTokens, 0)
	if err != nil {
		return nil, err
	}

	payload, err := parsePayload(raw)
	if err != nil {
		e.logger.Error("failed to parse extraction response",
			"conversation_id", conv.ID.String(),
			"error", err,
		)
		return nil, err
	}

	sanitizeLeaves(payload)

	if err := validate(conv.StepType, payload); err != nil {
		return nil, err
	}

	e.logger.Info("extraction complete",
		"conversation_id", conv.ID.String(),
		"step_type", string(conv.StepType),
		"input_tokens", usage.InputTokens,
		"output_tokens", usage.OutputTokens,
		"estimated_cost", usage.EstimatedCost(),
	)

	return &Extraction{
		StepType:    conv.StepType,
		Payload:     payload,
		ExtractedAt: time.Now().UTC(),
	}, nil
}

// parsePayload decodes the model's JSON, tolerating a markdown code fence
// around the object.
func parsePayload(raw string) (map[string]any, error) {
	text := strings.TrimSpace(raw)
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(text, "```")
	text = strings.TrimSpace(text)

	var payload map[string]any
	if err := json.Unmarshal([]byte(text), &payload); err != nil {
		return nil, &ParseError{Err: err}
	}
	return payload, nil
}

// sanitizeLeaves cleans every string leaf of the parsed structure in place.
func sanitizeLeaves(v map[string]any) {
	for key, val := range v {
		v[key] = sanitizeValue(val)
	}
}

func sanitizeValue(v any) any {
	switch val := v.(type) {
	case string:
		return sanitize.Field(val)
	case map[string]any:
		sanitizeLeaves(val)
		return val
	case []any:
		for i, item := range val {
			val[i] = sanitizeValue(item)
		}
		return val
	}
	return v
}
