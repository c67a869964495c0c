package conversation

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/david-nelson-elske/choice-sherpa-sub005/internal/step"
)

// State is the conversation lifecycle. Transitions are forward-only except
// Confirmed→InProgress (user edits) and the privileged Complete→InProgress
// reopen.
type State string

const (
	StateInitializing State = "initializing"
	StateReady        State = "ready"
	StateInProgress   State = "in_progress"
	StateConfirmed    State = "confirmed"
	StateComplete     State = "complete"
)

// Phase is the dialogue phase within InProgress. Cyclic, not ordered; it
// steers model behaviour and readiness checks, never the lifecycle.
type Phase string

const (
	PhaseIntro   Phase = "intro"
	PhaseGather  Phase = "gather"
	PhaseClarify Phase = "clarify"
	PhaseExtract Phase = "extract"
	PhaseConfirm Phase = "confirm"
)

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// MaxUserContentChars bounds a single user turn.
const MaxUserContentChars = 20000

// Message is an immutable, append-only dialogue turn.
type Message struct {
	ID            uuid.UUID
	Role          Role
	Content       string
	TokenEstimate int
	CreatedAt     time.Time
}

// Conversation is the per-step dialogue aggregate: at most one per dialogue
// step, owning its messages, never deleted — only marked Complete.
type Conversation struct {
	ID                uuid.UUID
	StepID            uuid.UUID
	StepType          step.Type
	State             State
	Phase             Phase
	SystemPrompt      string
	Messages          []Message
	PendingExtraction json.RawMessage
	OwnerID           uuid.UUID
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// ErrNotFound is returned by repositories when no conversation matches.
var ErrNotFound = errors.New("conversation not found")

// StateError reports an operation attempted in a lifecycle state that does
// not permit it.
type StateError struct {
	Op    string
	State State
}

func (e *StateError) Error() string {
	return fmt.Sprintf("operation %q not allowed in state %q", e.Op, e.State)
}

// InvalidContentError reports user content rejected before any I/O.
type InvalidContentError struct {
	Reason string
}

func (e *InvalidContentError) Error() string {
	return "invalid content: " + e.Reason
}

// New creates a conversation for a dialogue step in the Initializing state.
func New(stepID uuid.UUID, stepType step.Type, systemPrompt string, ownerID uuid.UUID) *Conversation {
	now := time.Now().UTC()
	return &Conversation{
		ID:           uuid.New(),
		StepID:       stepID,
		StepType:     stepType,
		State:        StateInitializing,
		Phase:        PhaseIntro,
		SystemPrompt: systemPrompt,
		OwnerID:      ownerID,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

// Activate moves Initializing→Ready once the opening assistant message is in
// place. Requires a non-empty system prompt.
func (c *Conversation) Activate(opening string) error {
	if c.State != StateInitializing {
		return &StateError{Op: "activate", State: c.State}
	}
	if c.SystemPrompt == "" {
		return &InvalidContentError{Reason: "system prompt is empty"}
	}
	if strings.TrimSpace(opening) == "" {
		return &InvalidContentError{Reason: "opening message is empty"}
	}
	c.appendMessage(RoleAssistant, opening)
	c.State = StateReady
	c.touch()
	return nil
}

// ReceiveUserMessage appends a user turn. Legal only from Ready, InProgress
// or Confirmed; the first user message moves Ready→InProgress.
func (c *Conversation) ReceiveUserMessage(content string) (*Message, error) {
	if strings.TrimSpace(content) == "" {
		return nil, &InvalidContentError{Reason: "message content is empty"}
	}
	if len(content) > MaxUserContentChars {
		return nil, &InvalidContentError{Reason: fmt.Sprintf("message content exceeds %d characters", MaxUserContentChars)}
	}
	switch c.State {
	case StateReady, StateInProgress, StateConfirmed:
	default:
		return nil, &StateError{Op: "receive_user_message", State: c.State}
	}
	msg := c.appendMessage(RoleUser, content)
	if c.State == StateReady {
		c.State = StateInProgress
	}
	c.touch()
	return msg, nil
}

// AppendAssistant stores a completed (sanitized) assistant turn.
func (c *Conversation) AppendAssistant(content string, tokens int) *Message {
	msg := c.appendMessage(RoleAssistant, content)
	msg.TokenEstimate = tokens
	c.touch()
	return msg
}

// SetPendingExtraction records an extracted payload awaiting user
// confirmation and parks the dialogue on the Confirm phase.
func (c *Conversation) SetPendingExtraction(payload json.RawMessage) {
	c.PendingExtraction = payload
	c.Phase = PhaseConfirm
	c.touch()
}

// ReviseExtraction replaces the pending payload from an active state,
// leaving an audit trail in the message log.
func (c *Conversation) ReviseExtraction(payload json.RawMessage) error {
	switch c.State {
	case StateReady, StateInProgress, StateConfirmed:
	default:
		return &StateError{Op: "revise_extraction", State: c.State}
	}
	c.PendingExtraction = payload
	c.Phase = PhaseConfirm
	c.appendMessage(RoleSystem, "Extracted data revised by the user.")
	c.touch()
	return nil
}

// Confirm moves InProgress→Confirmed once the user accepts the pending
// extraction.
func (c *Conversation) Confirm() error {
	if c.State != StateInProgress {
		return &StateError{Op: "confirm", State: c.State}
	}
	if len(c.PendingExtraction) == 0 {
		return &InvalidContentError{Reason: "no pending extraction to confirm"}
	}
	c.State = StateConfirmed
	c.touch()
	return nil
}

// CompleteStep marks the conversation read-only after the owning aggregate
// accepts the confirmed payload.
func (c *Conversation) CompleteStep() error {
	if c.State != StateConfirmed {
		return &StateError{Op: "complete", State: c.State}
	}
	c.State = StateComplete
	c.touch()
	return nil
}

// Reopen is the privileged Complete→InProgress transition.
func (c *Conversation) Reopen() error {
	if c.State != StateComplete {
		return &StateError{Op: "reopen", State: c.State}
	}
	c.State = StateInProgress
	c.Phase = PhaseGather
	c.appendMessage(RoleSystem, "Conversation reopened for further edits.")
	c.touch()
	return nil
}

// AcceptsInput reports whether user turns are currently legal.
func (c *Conversation) AcceptsInput() bool {
	switch c.State {
	case StateReady, StateInProgress, StateConfirmed:
		return true
	}
	return false
}

// UserTurns counts the user messages so far.
func (c *Conversation) UserTurns() int {
	n := 0
	for _, m := range c.Messages {
		if m.Role == RoleUser {
			n++
		}
	}
	return n
}

// LastMessage returns the newest message, or nil on an empty log.
func (c *Conversation) LastMessage() *Message {
	if len(c.Messages) == 0 {
		return nil
	}
	return &c.Messages[len(c.Messages)-1]
}

func (c *Conversation) appendMessage(role Role, content string) *Message {
	c.Messages = append(c.Messages, Message{
		ID:            uuid.New(),
		Role:          role,
		Content:       content,
		TokenEstimate: EstimateTokens(content),
		CreatedAt:     time.Now().UTC(),
	})
	return &c.Messages[len(c.Messages)-1]
}

func (c *Conversation) touch() {
	c.UpdatedAt = time.Now().UTC()
}

// EstimateTokens is the shared length/4 token heuristic.
func EstimateTokens(content string) int {
	return len(content) / 4
}

// ParseState converts a stored state string, rejecting unknown values.
func ParseState(s string) (State, error) {
	switch State(s) {
	case StateInitializing, StateReady, StateInProgress, StateConfirmed, StateComplete:
		return State(s), nil
	}
	return "", fmt.Errorf("unknown conversation state %q", s)
}

// ParsePhase converts a stored phase string, rejecting unknown values.
func ParsePhase(s string) (Phase, error) {
	switch Phase(s) {
	case PhaseIntro, PhaseGather, PhaseClarify, PhaseExtract, PhaseConfirm:
		return Phase(s), nil
	}
	return "", fmt.Errorf("unknown agent phase %q", s)
}
