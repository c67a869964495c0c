// Package transport publishes conversation events over NATS: incremental
// stream output per message, extraction lifecycle, and the correction-loop
// signal consumed by prompt optimisation.
package transport

import "encoding/json"

// Stream event subjects are per conversation:
//
//	sherpa.conversation.<id>.stream
//	sherpa.conversation.<id>.extraction
const (
	// SubjectExtractionSignal carries confirmed/revised signals for the
	// extraction-quality feedback loop.
	SubjectExtractionSignal = "sherpa.dialogue.extraction.signal"

	// SubjectStepConfirmed hands confirmed payloads to the service that
	// owns the decision step aggregate.
	SubjectStepConfirmed = "sherpa.dialogue.step.confirmed"
)

// Terminal reasons on a StreamError.
const (
	ReasonCancelled = "cancelled"
	ReasonTimeout   = "timeout"
	ReasonProvider  = "provider"
)

// TokenUsage is attached to each completed model call.
type TokenUsage struct {
	InputTokens   int     `json:"input_tokens"`
	OutputTokens  int     `json:"output_tokens"`
	EstimatedCost float64 `json:"estimated_cost"`
}

// StreamChunk is one incremental delta of an assistant message. The
// terminal delta carries Final with an empty Delta.
type StreamChunk struct {
	MessageID string `json:"message_id"`
	Delta     string `json:"delta"`
	Final     bool   `json:"final"`
}

// StreamError is the single terminal event of a failed, cancelled or
// timed-out turn.
type StreamError struct {
	MessageID string `json:"message_id"`
	Reason    string `json:"reason"`
	Error     string `json:"error"`
}

// StreamComplete closes a successful turn with the full sanitized content.
type StreamComplete struct {
	MessageID string     `json:"message_id"`
	Content   string     `json:"content"`
	Usage     TokenUsage `json:"usage"`
}

// ExtractionReady announces a pending extraction awaiting confirmation.
type ExtractionReady struct {
	ConversationID string          `json:"conversation_id"`
	StepType       string          `json:"step_type"`
	Payload        json.RawMessage `json:"payload"`
	Partial        bool            `json:"partial"`
}

// StepConfirmed carries a confirmed, schema-valid payload to the step
// owner.
type StepConfirmed struct {
	StepID   string          `json:"step_id"`
	StepType string          `json:"step_type"`
	Payload  json.RawMessage `json:"payload"`
}

// ExtractionSignal is emitted when a pending extraction is confirmed or
// revised, so downstream loops can adjust extraction quality.
type ExtractionSignal struct {
	ConversationID string `json:"conversation_id"`
	StepID         string `json:"step_id"`
	StepType       string `json:"step_type"`
	SignalType     string `json:"signal_type"` // confirmed | revised
}
