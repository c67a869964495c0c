// Package engine drives conversation turns: it validates input, bounds the
// context window, streams model output to the transport, and owns the
// per-conversation cancellation registry.
package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/david-nelson-elske/choice-sherpa-sub005/internal/anthropic"
	"github.com/david-nelson-elske/choice-sherpa-sub005/internal/conversation"
	"github.com/david-nelson-elske/choice-sherpa-sub005/internal/extractor"
	"github.com/david-nelson-elske/choice-sherpa-sub005/internal/sanitize"
	"github.com/david-nelson-elske/choice-sherpa-sub005/internal/schema"
	"github.com/david-nelson-elske/choice-sherpa-sub005/internal/step"
	"github.com/david-nelson-elske/choice-sherpa-sub005/internal/transport"
	"github.com/david-nelson-elske/choice-sherpa-sub005/internal/window"
)

var (
	ErrTurnInFlight            = errors.New("a turn is already in flight for this conversation")
	ErrLastMessageNotAssistant = errors.New("last message is not assistant-authored")
	ErrNoPendingExtraction     = errors.New("no pending extraction")
	ErrConversationExists      = errors.New("conversation already exists for this step")
)

// ProviderError wraps a model-side failure with its terminal reason
// (cancelled, timeout or provider). The in-flight turn is aborted without
// persisting a partial assistant message; retrying is the caller's call.
type ProviderError struct {
	Reason string
	Err    error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("turn %s: %v", e.Reason, e.Err)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// Repository is the persistence collaborator. Implementations return
// conversation.ErrNotFound when nothing matches.
type Repository interface {
	CreateConversation(ctx context.Context, conv *conversation.Conversation) error
	GetByID(ctx context.Context, id uuid.UUID) (*conversation.Conversation, error)
	GetByStepID(ctx context.Context, stepID uuid.UUID) (*conversation.Conversation, error)
	UpdateState(ctx context.Context, conv *conversation.Conversation) error
	AppendMessages(ctx context.Context, convID uuid.UUID, msgs ...conversation.Message) error
	ListMessages(ctx context.Context, convID uuid.UUID, limit, offset int) ([]conversation.Message, int, error)
}

// ModelClient is the streaming slice of the model port.
type ModelClient interface {
	Stream(ctx context.Context, system string, messages []anthropic.Message, maxTokens int) (<-chan anthropic.StreamEvent, <-chan error)
}

// DataExtractor produces structured payloads from a dialogue.
type DataExtractor interface {
	Extract(ctx context.Context, conv *conversation.Conversation) (*extractor.Extraction, error)
	Preview(ctx context.Context, conv *conversation.Conversation) (*extractor.Extraction, error)
}

// Events receives transport events. Publish failures are logged, never
// fatal to the turn.
type Events interface {
	Chunk(convID uuid.UUID, chunk transport.StreamChunk) error
	StreamError(convID uuid.UUID, ev transport.StreamError) error
	Complete(convID uuid.UUID, ev transport.StreamComplete) error
	Extraction(convID uuid.UUID, ev transport.ExtractionReady) error
	Signal(sig transport.ExtractionSignal) error
}

// StepSink is the owning-aggregate port: confirmed payloads transfer to it.
type StepSink interface {
	ExtractionConfirmed(ctx context.Context, stepID uuid.UUID, stepType step.Type, payload json.RawMessage) error
}

type Engine struct {
	repo      Repository
	llm       ModelClient
	extractor DataExtractor
	events    Events
	steps     StepSink
	logger    *slog.Logger
	timeout   time.Duration
	reg       *registry
}

func New(repo Repository, llm ModelClient, ext DataExtractor, events Events, steps StepSink, timeout time.Duration, logger *slog.Logger) *Engine {
	return &Engine{
		repo:      repo,
		llm:       llm,
		extractor: ext,
		events:    events,
		steps:     steps,
		logger:    logger,
		timeout:   timeout,
		reg:       newRegistry(),
	}
}

// TurnResult is returned to the caller once a turn reaches a terminal state.
type TurnResult struct {
	MessageID uuid.UUID
	Content   string
	Phase     conversation.Phase
	Usage     anthropic.Usage
}

// StartConversation creates and activates the 1:1 conversation for a
// dialogue step. An empty opening falls back to the step's default.
func (e *Engine) StartConversation(ctx context.Context, stepID uuid.UUID, stepType step.Type, ownerID uuid.UUID, opening string) (*conversation.Conversation, error) {
	if _, err := e.repo.GetByStepID(ctx, stepID); err == nil {
		return nil, ErrConversationExists
	} else if !errors.Is(err, conversation.ErrNotFound) {
		return nil, fmt.Errorf("check existing conversation: %w", err)
	}

	if strings.TrimSpace(opening) == "" {
		opening = defaultOpening(stepType)
	}

	conv := conversation.New(stepID, stepType, step.SystemPrompt(stepType), ownerID)
	if err := conv.Activate(opening); err != nil {
		return nil, err
	}
	if err := e.repo.CreateConversation(ctx, conv); err != nil {
		return nil, fmt.Errorf("create conversation: %w", err)
	}

	e.logger.Info("conversation started",
		"conversation_id", conv.ID.String(),
		"step_id", stepID.String(),
		"step_type", string(stepType),
	)
	return conv, nil
}

func defaultOpening(stepType step.Type) string {
	return fmt.Sprintf("Let's work through the %s step. What's on your mind?", step.ConfigFor(stepType).Label)
}

// StartTurn runs one full user turn: validate, persist the user message,
// stream the model's reply, and on success persist the sanitized assistant
// message and advance the phase. Blocks until the turn is terminal.
func (e *Engine) StartTurn(ctx context.Context, convID uuid.UUID, content string) (*TurnResult, error) {
	conv, err := e.repo.GetByID(ctx, convID)
	if err != nil {
		return nil, err
	}

	// Validation and state checks run before any I/O.
	userMsg, err := conv.ReceiveUserMessage(content)
	if err != nil {
		return nil, err
	}

	messageID := uuid.New()
	turnCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	if err := e.reg.begin(convID, messageID, cancel); err != nil {
		return nil, err
	}
	defer e.reg.finish(convID)

	// The user message is persisted only once the turn succeeds, so a failed
	// turn leaves the stored conversation at its prior state and the client
	// can resubmit without duplicating input.
	return e.streamTurn(ctx, turnCtx, conv, userMsg, messageID, conv.Messages, userMsg)
}

// Regenerate streams a replacement for the last assistant message. The
// prior reply stays in the log; context rewinds to the preceding user turn.
func (e *Engine) Regenerate(ctx context.Context, convID uuid.UUID) (*TurnResult, error) {
	conv, err := e.repo.GetByID(ctx, convID)
	if err != nil {
		return nil, err
	}
	if !conv.AcceptsInput() {
		return nil, &conversation.StateError{Op: "regenerate", State: conv.State}
	}
	last := conv.LastMessage()
	if last == nil || last.Role != conversation.RoleAssistant {
		return nil, ErrLastMessageNotAssistant
	}

	messageID := uuid.New()
	turnCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	if err := e.reg.begin(convID, messageID, cancel); err != nil {
		return nil, err
	}
	defer e.reg.finish(convID)

	history := conv.Messages[:len(conv.Messages)-1]
	var latestUser *conversation.Message
	for i := len(history) - 1; i >= 0; i-- {
		if history[i].Role == conversation.RoleUser {
			latestUser = &history[i]
			break
		}
	}

	return e.streamTurn(ctx, turnCtx, conv, latestUser, messageID, history)
}

// streamTurn is the shared streaming core for StartTurn and Regenerate.
// history is the message set the context window is built from; latest is
// the user message phase recomputation keys on; persistOnSuccess holds
// not-yet-stored messages (the triggering user turn) written only once the
// stream completes.
func (e *Engine) streamTurn(ctx, turnCtx context.Context, conv *conversation.Conversation, latest *conversation.Message, messageID uuid.UUID, history []conversation.Message, persistOnSuccess ...*conversation.Message) (*TurnResult, error) {
	windowConv := *conv
	windowConv.Messages = history
	w := window.Build(&windowConv)

	cfg := step.ConfigFor(conv.StepType)
	events, errCh := e.llm.Stream(turnCtx, w.System, toModelMessages(w.Messages), cfg.ReservedTokens)

	var full strings.Builder
	var usage anthropic.Usage
	for ev := range events {
		if ev.Done {
			usage = ev.Usage
			continue
		}
		full.WriteString(ev.Delta)
		e.emitChunk(conv.ID, transport.StreamChunk{MessageID: messageID.String(), Delta: ev.Delta})
	}
	if err := <-errCh; err != nil {
		reason := terminalReason(err)
		e.emitError(conv.ID, transport.StreamError{MessageID: messageID.String(), Reason: reason, Error: err.Error()})
		e.logger.Warn("turn aborted",
			"conversation_id", conv.ID.String(),
			"message_id", messageID.String(),
			"reason", reason,
			"error", err,
		)
		return nil, &ProviderError{Reason: reason, Err: err}
	}

	clean, err := sanitize.Clean(full.String())
	if err != nil {
		e.emitError(conv.ID, transport.StreamError{MessageID: messageID.String(), Reason: transport.ReasonProvider, Error: err.Error()})
		return nil, &ProviderError{Reason: transport.ReasonProvider, Err: err}
	}

	// One append for the whole turn: the triggering user message and the
	// assistant reply commit together, so a storage fault cannot leave an
	// unanswered user message behind.
	toStore := make([]conversation.Message, 0, len(persistOnSuccess)+1)
	for _, pending := range persistOnSuccess {
		toStore = append(toStore, *pending)
	}
	assistant := conv.AppendAssistant(clean, usage.OutputTokens)
	assistant.ID = messageID
	toStore = append(toStore, *assistant)
	if err := e.repo.AppendMessages(ctx, conv.ID, toStore...); err != nil {
		return nil, fmt.Errorf("append turn messages: %w", err)
	}

	conv.Phase = conversation.NextPhase(conv.Phase, conv, latest)
	if conv.Phase == conversation.PhaseExtract {
		e.runPreviewExtraction(ctx, conv)
	}
	if err := e.repo.UpdateState(ctx, conv); err != nil {
		return nil, fmt.Errorf("update conversation: %w", err)
	}

	e.emitChunk(conv.ID, transport.StreamChunk{MessageID: messageID.String(), Final: true})
	e.emitComplete(conv.ID, transport.StreamComplete{
		MessageID: messageID.String(),
		Content:   clean,
		Usage:     tokenUsage(usage),
	})

	e.logger.Info("turn complete",
		"conversation_id", conv.ID.String(),
		"message_id", messageID.String(),
		"phase", string(conv.Phase),
		"input_tokens", usage.InputTokens,
		"output_tokens", usage.OutputTokens,
		"window_tokens", w.TokenEstimate,
		"window_dropped", w.Dropped,
	)

	return &TurnResult{
		MessageID: messageID,
		Content:   clean,
		Phase:     conv.Phase,
		Usage:     usage,
	}, nil
}

// runPreviewExtraction attempts a live-preview extraction once the phase
// lands on Extract. Failure is logged and leaves the phase on Extract so
// the next turn retries; success parks the payload pending confirmation.
func (e *Engine) runPreviewExtraction(ctx context.Context, conv *conversation.Conversation) {
	ext, err := e.extractor.Preview(ctx, conv)
	if err != nil {
		e.logger.Warn("preview extraction failed",
			"conversation_id", conv.ID.String(),
			"error", err,
		)
		return
	}
	payload, err := json.Marshal(ext.Payload)
	if err != nil {
		e.logger.Error("marshal extraction payload", "error", err)
		return
	}
	conv.SetPendingExtraction(payload)
	e.emitExtraction(conv.ID, transport.ExtractionReady{
		ConversationID: conv.ID.String(),
		StepType:       string(conv.StepType),
		Payload:        payload,
		Partial:        true,
	})
}

// Cancel signals the in-flight call streaming messageID. Idempotent: a
// finished or unknown message is a no-op.
func (e *Engine) Cancel(messageID uuid.UUID) {
	if e.reg.cancel(messageID) {
		e.logger.Info("turn cancelled", "message_id", messageID.String())
	}
}

// ReviseExtraction replaces the pending payload after strict validation.
func (e *Engine) ReviseExtraction(ctx context.Context, convID uuid.UUID, payload json.RawMessage) (*conversation.Conversation, error) {
	if err := e.reg.reserve(convID); err != nil {
		return nil, err
	}
	defer e.reg.finish(convID)

	conv, err := e.repo.GetByID(ctx, convID)
	if err != nil {
		return nil, err
	}

	parsed, err := decodePayload(payload)
	if err != nil {
		return nil, err
	}
	if err := schema.Validate(conv.StepType, parsed); err != nil {
		return nil, err
	}
	if err := conv.ReviseExtraction(payload); err != nil {
		return nil, err
	}
	audit := conv.LastMessage()
	if err := e.repo.AppendMessages(ctx, convID, *audit); err != nil {
		return nil, fmt.Errorf("append audit message: %w", err)
	}
	if err := e.repo.UpdateState(ctx, conv); err != nil {
		return nil, fmt.Errorf("update conversation: %w", err)
	}

	e.emitSignal(transport.ExtractionSignal{
		ConversationID: conv.ID.String(),
		StepID:         conv.StepID.String(),
		StepType:       string(conv.StepType),
		SignalType:     "revised",
	})
	return conv, nil
}

// ConfirmExtraction validates the pending payload strictly, hands it to the
// owning aggregate and marks the conversation complete.
func (e *Engine) ConfirmExtraction(ctx context.Context, convID uuid.UUID) (*conversation.Conversation, error) {
	if err := e.reg.reserve(convID); err != nil {
		return nil, err
	}
	defer e.reg.finish(convID)

	conv, err := e.repo.GetByID(ctx, convID)
	if err != nil {
		return nil, err
	}
	if len(conv.PendingExtraction) == 0 {
		return nil, ErrNoPendingExtraction
	}

	parsed, err := decodePayload(conv.PendingExtraction)
	if err != nil {
		return nil, err
	}
	if err := schema.Validate(conv.StepType, parsed); err != nil {
		return nil, err
	}
	if err := conv.Confirm(); err != nil {
		return nil, err
	}

	if err := e.steps.ExtractionConfirmed(ctx, conv.StepID, conv.StepType, conv.PendingExtraction); err != nil {
		return nil, fmt.Errorf("hand off confirmed extraction: %w", err)
	}

	if err := conv.CompleteStep(); err != nil {
		return nil, err
	}
	if err := e.repo.UpdateState(ctx, conv); err != nil {
		return nil, fmt.Errorf("update conversation: %w", err)
	}

	e.emitSignal(transport.ExtractionSignal{
		ConversationID: conv.ID.String(),
		StepID:         conv.StepID.String(),
		StepType:       string(conv.StepType),
		SignalType:     "confirmed",
	})
	e.logger.Info("extraction confirmed",
		"conversation_id", conv.ID.String(),
		"step_id", conv.StepID.String(),
	)
	return conv, nil
}

// Reopen is the privileged Complete→InProgress transition.
func (e *Engine) Reopen(ctx context.Context, convID uuid.UUID) (*conversation.Conversation, error) {
	if err := e.reg.reserve(convID); err != nil {
		return nil, err
	}
	defer e.reg.finish(convID)

	conv, err := e.repo.GetByID(ctx, convID)
	if err != nil {
		return nil, err
	}
	if err := conv.Reopen(); err != nil {
		return nil, err
	}
	audit := conv.LastMessage()
	if err := e.repo.AppendMessages(ctx, convID, *audit); err != nil {
		return nil, fmt.Errorf("append audit message: %w", err)
	}
	if err := e.repo.UpdateState(ctx, conv); err != nil {
		return nil, fmt.Errorf("update conversation: %w", err)
	}
	return conv, nil
}

// Conversation fetches a conversation by id.
func (e *Engine) Conversation(ctx context.Context, id uuid.UUID) (*conversation.Conversation, error) {
	return e.repo.GetByID(ctx, id)
}

// ConversationByStep fetches the step's conversation for the read surface.
func (e *Engine) ConversationByStep(ctx context.Context, stepID uuid.UUID) (*conversation.Conversation, error) {
	return e.repo.GetByStepID(ctx, stepID)
}

// Messages returns one page of a conversation's log plus the total count.
func (e *Engine) Messages(ctx context.Context, convID uuid.UUID, limit, offset int) ([]conversation.Message, int, error) {
	if _, err := e.repo.GetByID(ctx, convID); err != nil {
		return nil, 0, err
	}
	return e.repo.ListMessages(ctx, convID, limit, offset)
}

// Shutdown cancels every in-flight turn.
func (e *Engine) Shutdown() {
	e.reg.cancelAll()
}

func terminalReason(err error) string {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return transport.ReasonTimeout
	case errors.Is(err, context.Canceled):
		return transport.ReasonCancelled
	default:
		return transport.ReasonProvider
	}
}

func decodePayload(raw json.RawMessage) (map[string]any, error) {
	var parsed map[string]any
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, &extractor.ParseError{Err: err}
	}
	return parsed, nil
}

func toModelMessages(msgs []conversation.Message) []anthropic.Message {
	// The messages array must open with a user turn. Every conversation
	// starts with the assistant greeting, so a leading assistant run is
	// dropped; the system prompt already carries the step framing.
	start := 0
	for start < len(msgs) && msgs[start].Role == conversation.RoleAssistant {
		start++
	}
	msgs = msgs[start:]

	out := make([]anthropic.Message, 0, len(msgs))
	for _, m := range msgs {
		role := string(m.Role)
		// The messages array accepts only user/assistant roles; synthesized
		// system-role digests ride along as user turns.
		if m.Role == conversation.RoleSystem {
			role = string(conversation.RoleUser)
		}
		out = append(out, anthropic.Message{Role: role, Content: m.Content})
	}
	return out
}

func tokenUsage(u anthropic.Usage) transport.TokenUsage {
	return transport.TokenUsage{
		InputTokens:   u.InputTokens,
		OutputTokens:  u.OutputTokens,
		EstimatedCost: u.EstimatedCost(),
	}
}

func (e *Engine) emitChunk(convID uuid.UUID, chunk transport.StreamChunk) {
	if err := e.events.Chunk(convID, chunk); err != nil {
		e.logger.Warn("publish chunk", "conversation_id", convID.String(), "error", err)
	}
}

func (e *Engine) emitError(convID uuid.UUID, ev transport.StreamError) {
	if err := e.events.StreamError(convID, ev); err != nil {
		e.logger.Warn("publish stream error", "conversation_id", convID.String(), "error", err)
	}
}

func (e *Engine) emitComplete(convID uuid.UUID, ev transport.StreamComplete) {
	if err := e.events.Complete(convID, ev); err != nil {
		e.logger.Warn("publish stream complete", "conversation_id", convID.String(), "error", err)
	}
}

func (e *Engine) emitExtraction(convID uuid.UUID, ev transport.ExtractionReady) {
	if err := e.events.Extraction(convID, ev); err != nil {
		e.logger.Warn("publish extraction", "conversation_id", convID.String(), "error", err)
	}
}

func (e *Engine) emitSignal(sig transport.ExtractionSignal) {
	if err := e.events.Signal(sig); err != nil {
		e.logger.Warn("publish signal", "error", err)
	}
}
