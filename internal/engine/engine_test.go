package engine

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/david-nelson-elske/choice-sherpa-sub005/internal/anthropic"
	"github.com/david-nelson-elske/choice-sherpa-sub005/internal/conversation"
	"github.com/david-nelson-elske/choice-sherpa-sub005/internal/extractor"
	"github.com/david-nelson-elske/choice-sherpa-sub005/internal/sanitize"
	"github.com/david-nelson-elske/choice-sherpa-sub005/internal/schema"
	"github.com/david-nelson-elske/choice-sherpa-sub005/internal/step"
	"github.com/david-nelson-elske/choice-sherpa-sub005/internal/transport"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeRepo keeps conversations and messages in memory, returning copies so
// engine-side mutations only land via UpdateState/AppendMessages.
type fakeRepo struct {
	mu       sync.Mutex
	convs    map[uuid.UUID]*conversation.Conversation
	byStep   map[uuid.UUID]uuid.UUID
	messages map[uuid.UUID][]conversation.Message
	batches  []int // message count per AppendMessages call
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		convs:    make(map[uuid.UUID]*conversation.Conversation),
		byStep:   make(map[uuid.UUID]uuid.UUID),
		messages: make(map[uuid.UUID][]conversation.Message),
	}
}

func (r *fakeRepo) CreateConversation(_ context.Context, conv *conversation.Conversation) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored := *conv
	stored.Messages = nil
	r.convs[conv.ID] = &stored
	r.byStep[conv.StepID] = conv.ID
	r.messages[conv.ID] = append([]conversation.Message(nil), conv.Messages...)
	return nil
}

func (r *fakeRepo) GetByID(_ context.Context, id uuid.UUID) (*conversation.Conversation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, ok := r.convs[id]
	if !ok {
		return nil, conversation.ErrNotFound
	}
	conv := *stored
	conv.Messages = append([]conversation.Message(nil), r.messages[id]...)
	return &conv, nil
}

func (r *fakeRepo) GetByStepID(ctx context.Context, stepID uuid.UUID) (*conversation.Conversation, error) {
	r.mu.Lock()
	id, ok := r.byStep[stepID]
	r.mu.Unlock()
	if !ok {
		return nil, conversation.ErrNotFound
	}
	return r.GetByID(ctx, id)
}

func (r *fakeRepo) UpdateState(_ context.Context, conv *conversation.Conversation) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, ok := r.convs[conv.ID]
	if !ok {
		return conversation.ErrNotFound
	}
	stored.State = conv.State
	stored.Phase = conv.Phase
	stored.PendingExtraction = conv.PendingExtraction
	stored.UpdatedAt = conv.UpdatedAt
	return nil
}

func (r *fakeRepo) AppendMessages(_ context.Context, convID uuid.UUID, msgs ...conversation.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages[convID] = append(r.messages[convID], msgs...)
	r.batches = append(r.batches, len(msgs))
	return nil
}

func (r *fakeRepo) ListMessages(_ context.Context, convID uuid.UUID, limit, offset int) ([]conversation.Message, int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	all := r.messages[convID]
	total := len(all)
	if offset > total {
		offset = total
	}
	end := offset + limit
	if end > total {
		end = total
	}
	return append([]conversation.Message(nil), all[offset:end]...), total, nil
}

func (r *fakeRepo) messageCount(convID uuid.UUID) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.messages[convID])
}

// fakeModel emits canned deltas. With block set it holds the stream open
// until the context is cancelled.
type fakeModel struct {
	mu       sync.Mutex
	deltas   []string
	err      error
	block    bool
	usage    anthropic.Usage
	requests [][]anthropic.Message
}

func (m *fakeModel) Stream(ctx context.Context, _ string, messages []anthropic.Message, _ int) (<-chan anthropic.StreamEvent, <-chan error) {
	m.mu.Lock()
	m.requests = append(m.requests, append([]anthropic.Message(nil), messages...))
	m.mu.Unlock()
	events := make(chan anthropic.StreamEvent)
	errCh := make(chan error, 1)
	go func() {
		defer close(events)
		defer close(errCh)
		for _, d := range m.deltas {
			select {
			case events <- anthropic.StreamEvent{Delta: d}:
			case <-ctx.Done():
				errCh <- ctx.Err()
				return
			}
		}
		if m.block {
			<-ctx.Done()
			errCh <- ctx.Err()
			return
		}
		if m.err != nil {
			errCh <- m.err
			return
		}
		usage := m.usage
		if usage == (anthropic.Usage{}) {
			usage = anthropic.Usage{InputTokens: 10, OutputTokens: 5}
		}
		select {
		case events <- anthropic.StreamEvent{Done: true, StopReason: "end_turn", Usage: usage}:
		case <-ctx.Done():
			errCh <- ctx.Err()
		}
	}()
	return events, errCh
}

// fakeEvents records everything published and signals the first chunk.
type fakeEvents struct {
	mu          sync.Mutex
	chunks      []transport.StreamChunk
	errearly    []transport.StreamError
	completes   []transport.StreamComplete
	extractions []transport.ExtractionReady
	signals     []transport.ExtractionSignal
	firstChunk  chan transport.StreamChunk
	sentFirst   bool
}

func newFakeEvents() *fakeEvents {
	return &fakeEvents{firstChunk: make(chan transport.StreamChunk, 1)}
}

func (f *fakeEvents) Chunk(_ uuid.UUID, chunk transport.StreamChunk) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.chunks = append(f.chunks, chunk)
	if !f.sentFirst {
		f.sentFirst = true
		f.firstChunk <- chunk
	}
	return nil
}

func (f *fakeEvents) StreamError(_ uuid.UUID, ev transport.StreamError) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.errearly = append(f.errearly, ev)
	return nil
}

func (f *fakeEvents) Complete(_ uuid.UUID, ev transport.StreamComplete) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.completes = append(f.completes, ev)
	return nil
}

func (f *fakeEvents) Extraction(_ uuid.UUID, ev transport.ExtractionReady) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.extractions = append(f.extractions, ev)
	return nil
}

func (f *fakeEvents) Signal(sig transport.ExtractionSignal) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.signals = append(f.signals, sig)
	return nil
}

type fakeExtractor struct {
	payload map[string]any
	err     error
}

func (f *fakeExtractor) Extract(_ context.Context, conv *conversation.Conversation) (*extractor.Extraction, error) {
	return f.Preview(nil, conv)
}

func (f *fakeExtractor) Preview(_ context.Context, conv *conversation.Conversation) (*extractor.Extraction, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &extractor.Extraction{StepType: conv.StepType, Payload: f.payload, ExtractedAt: time.Now().UTC()}, nil
}

type fakeSink struct {
	mu      sync.Mutex
	stepIDs []uuid.UUID
	payload json.RawMessage
	err     error
}

func (f *fakeSink) ExtractionConfirmed(_ context.Context, stepID uuid.UUID, _ step.Type, payload json.RawMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.stepIDs = append(f.stepIDs, stepID)
	f.payload = payload
	return nil
}

type fixture struct {
	engine *Engine
	repo   *fakeRepo
	model  *fakeModel
	events *fakeEvents
	sink   *fakeSink
	conv   *conversation.Conversation
}

func newFixture(t *testing.T, kind step.Type, model *fakeModel) *fixture {
	t.Helper()
	repo := newFakeRepo()
	events := newFakeEvents()
	sink := &fakeSink{}
	ext := &fakeExtractor{payload: map[string]any{
		"alternatives": []any{
			map[string]any{"id": "build", "name": "Build"},
			map[string]any{"id": "buy", "name": "Buy"},
		},
	}}
	eng := New(repo, model, ext, events, sink, 2*time.Second, discardLogger())

	conv, err := eng.StartConversation(context.Background(), uuid.New(), kind, uuid.New(), "")
	if err != nil {
		t.Fatalf("start conversation: %v", err)
	}
	return &fixture{engine: eng, repo: repo, model: model, events: events, sink: sink, conv: conv}
}

func TestStartConversation_OnePerStep(t *testing.T) {
	f := newFixture(t, step.Framing, &fakeModel{})
	_, err := f.engine.StartConversation(context.Background(), f.conv.StepID, step.Framing, f.conv.OwnerID, "")
	if !errors.Is(err, ErrConversationExists) {
		t.Fatalf("expected ErrConversationExists, got %v", err)
	}
}

func TestStartTurn_EmptyContentRejectedBeforeAnyIO(t *testing.T) {
	f := newFixture(t, step.Framing, &fakeModel{deltas: []string{"hi"}})
	before := f.repo.messageCount(f.conv.ID)

	_, err := f.engine.StartTurn(context.Background(), f.conv.ID, "   ")
	var invalid *conversation.InvalidContentError
	if !errors.As(err, &invalid) {
		t.Fatalf("expected InvalidContentError, got %v", err)
	}
	if f.repo.messageCount(f.conv.ID) != before {
		t.Error("no message may be persisted for a rejected send")
	}
	if len(f.events.chunks) != 0 {
		t.Error("no events may be published for a rejected send")
	}
}

func TestStartTurn_SuccessStreamsPersistsAndAdvancesPhase(t *testing.T) {
	f := newFixture(t, step.Framing, &fakeModel{deltas: []string{"Good ", "question", "."}})
	before := f.repo.messageCount(f.conv.ID)

	result, err := f.engine.StartTurn(context.Background(), f.conv.ID, "I need to decide on a vendor")
	if err != nil {
		t.Fatalf("start turn: %v", err)
	}
	if result.Content != "Good question." {
		t.Errorf("expected assembled content, got %q", result.Content)
	}
	if result.Phase != conversation.PhaseGather {
		t.Errorf("expected gather after first user turn, got %s", result.Phase)
	}
	if result.Usage.OutputTokens != 5 {
		t.Errorf("unexpected usage: %+v", result.Usage)
	}

	// User and assistant messages persisted.
	if got := f.repo.messageCount(f.conv.ID); got != before+2 {
		t.Errorf("expected %d messages, got %d", before+2, got)
	}

	// Deltas in order, then one final chunk.
	var text string
	finals := 0
	for _, c := range f.events.chunks {
		if c.Final {
			finals++
			continue
		}
		text += c.Delta
	}
	if text != "Good question." {
		t.Errorf("chunk order broken: %q", text)
	}
	if finals != 1 {
		t.Errorf("expected exactly one final chunk, got %d", finals)
	}
	if len(f.events.completes) != 1 {
		t.Fatalf("expected one StreamComplete, got %d", len(f.events.completes))
	}
	if f.events.completes[0].Content != "Good question." {
		t.Error("StreamComplete content mismatch")
	}

	stored, err := f.repo.GetByID(context.Background(), f.conv.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if stored.State != conversation.StateInProgress {
		t.Errorf("expected in_progress persisted, got %s", stored.State)
	}
}

func TestStartTurn_PersistsTurnInOneBatch(t *testing.T) {
	f := newFixture(t, step.Framing, &fakeModel{deltas: []string{"Reply."}})

	if _, err := f.engine.StartTurn(context.Background(), f.conv.ID, "a question to decide"); err != nil {
		t.Fatalf("turn: %v", err)
	}

	f.repo.mu.Lock()
	defer f.repo.mu.Unlock()
	if len(f.repo.batches) != 1 {
		t.Fatalf("expected one append for the turn, got %d", len(f.repo.batches))
	}
	// User input and assistant reply commit together.
	if f.repo.batches[0] != 2 {
		t.Errorf("expected user+assistant in one batch, got %d messages", f.repo.batches[0])
	}
}

func TestStartTurn_ModelContextOpensWithUserTurn(t *testing.T) {
	model := &fakeModel{deltas: []string{"Sure."}}
	f := newFixture(t, step.Framing, model)

	if _, err := f.engine.StartTurn(context.Background(), f.conv.ID, "help me frame this decision"); err != nil {
		t.Fatalf("turn: %v", err)
	}

	model.mu.Lock()
	defer model.mu.Unlock()
	if len(model.requests) != 1 {
		t.Fatalf("expected one model call, got %d", len(model.requests))
	}
	sent := model.requests[0]
	if len(sent) == 0 {
		t.Fatal("no messages sent to the model")
	}
	// The opening assistant greeting must not reach the wire first: the
	// messages array has to start with a user turn.
	if sent[0].Role != "user" {
		t.Errorf("first wire message must be user-authored, got %q", sent[0].Role)
	}
	for _, m := range sent {
		if m.Role != "user" && m.Role != "assistant" {
			t.Errorf("illegal wire role %q", m.Role)
		}
	}
}

func TestStartTurn_SecondConcurrentTurnRejected(t *testing.T) {
	f := newFixture(t, step.Framing, &fakeModel{deltas: []string{"thinking"}, block: true})

	done := make(chan error, 1)
	go func() {
		_, err := f.engine.StartTurn(context.Background(), f.conv.ID, "first turn input")
		done <- err
	}()

	var first transport.StreamChunk
	select {
	case first = <-f.events.firstChunk:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for stream start")
	}

	_, err := f.engine.StartTurn(context.Background(), f.conv.ID, "second turn input")
	if !errors.Is(err, ErrTurnInFlight) {
		t.Fatalf("expected ErrTurnInFlight, got %v", err)
	}

	f.engine.Cancel(uuid.MustParse(first.MessageID))
	<-done
}

func TestStartTurn_CancelMidStream(t *testing.T) {
	f := newFixture(t, step.Framing, &fakeModel{deltas: []string{"partial "}, block: true})
	before := f.repo.messageCount(f.conv.ID)

	done := make(chan error, 1)
	go func() {
		_, err := f.engine.StartTurn(context.Background(), f.conv.ID, "cancel me please")
		done <- err
	}()

	var first transport.StreamChunk
	select {
	case first = <-f.events.firstChunk:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for stream start")
	}
	f.engine.Cancel(uuid.MustParse(first.MessageID))

	err := <-done
	var provErr *ProviderError
	if !errors.As(err, &provErr) {
		t.Fatalf("expected ProviderError, got %v", err)
	}
	if provErr.Reason != transport.ReasonCancelled {
		t.Errorf("expected cancelled reason, got %q", provErr.Reason)
	}

	if len(f.events.errearly) != 1 {
		t.Fatalf("expected exactly one StreamError, got %d", len(f.events.errearly))
	}
	if len(f.events.completes) != 0 {
		t.Error("cancelled turn must not emit StreamComplete")
	}
	if f.repo.messageCount(f.conv.ID) != before {
		t.Error("cancelled turn must not persist messages")
	}
}

func TestCancel_AfterCompletionIsNoop(t *testing.T) {
	f := newFixture(t, step.Framing, &fakeModel{deltas: []string{"done"}})

	result, err := f.engine.StartTurn(context.Background(), f.conv.ID, "quick question about the choice")
	if err != nil {
		t.Fatalf("start turn: %v", err)
	}

	f.engine.Cancel(result.MessageID)
	f.engine.Cancel(uuid.New()) // never-started message

	if len(f.events.errearly) != 0 {
		t.Error("no-op cancel must not emit events")
	}
}

func TestStartTurn_TimeoutReportedAsTimeout(t *testing.T) {
	f := newFixture(t, step.Framing, &fakeModel{block: true})
	f.engine.timeout = 50 * time.Millisecond

	_, err := f.engine.StartTurn(context.Background(), f.conv.ID, "slow model ahead")
	var provErr *ProviderError
	if !errors.As(err, &provErr) {
		t.Fatalf("expected ProviderError, got %v", err)
	}
	if provErr.Reason != transport.ReasonTimeout {
		t.Errorf("expected timeout reason, got %q", provErr.Reason)
	}
}

func TestStartTurn_ProviderFailureLeavesPriorState(t *testing.T) {
	f := newFixture(t, step.Framing, &fakeModel{deltas: []string{"par"}, err: errors.New("upstream exploded")})
	before := f.repo.messageCount(f.conv.ID)

	_, err := f.engine.StartTurn(context.Background(), f.conv.ID, "does this survive")
	var provErr *ProviderError
	if !errors.As(err, &provErr) {
		t.Fatalf("expected ProviderError, got %v", err)
	}
	if provErr.Reason != transport.ReasonProvider {
		t.Errorf("expected provider reason, got %q", provErr.Reason)
	}
	if f.repo.messageCount(f.conv.ID) != before {
		t.Error("failed turn must not persist messages")
	}

	stored, _ := f.repo.GetByID(context.Background(), f.conv.ID)
	if stored.State != conversation.StateReady {
		t.Errorf("stored state must stay ready, got %s", stored.State)
	}
}

func TestStartTurn_OversizedResponseRejected(t *testing.T) {
	f := newFixture(t, step.Framing, &fakeModel{deltas: []string{strings.Repeat("a", sanitize.MaxResponseChars+1)}})
	before := f.repo.messageCount(f.conv.ID)

	_, err := f.engine.StartTurn(context.Background(), f.conv.ID, "long answer incoming")
	var tooLong *sanitize.TooLongError
	if !errors.As(err, &tooLong) {
		t.Fatalf("expected TooLongError, got %v", err)
	}
	if f.repo.messageCount(f.conv.ID) != before {
		t.Error("oversized response must not persist any message")
	}
	if len(f.events.errearly) != 1 {
		t.Errorf("expected one StreamError, got %d", len(f.events.errearly))
	}
}

func TestStartTurn_ReadinessTriggersPreviewExtraction(t *testing.T) {
	f := newFixture(t, step.Alternatives, &fakeModel{deltas: []string{"Noted."}})

	if _, err := f.engine.StartTurn(context.Background(), f.conv.ID, "option one is build in-house"); err != nil {
		t.Fatalf("turn 1: %v", err)
	}
	result, err := f.engine.StartTurn(context.Background(), f.conv.ID, "option two is buy a product")
	if err != nil {
		t.Fatalf("turn 2: %v", err)
	}

	if result.Phase != conversation.PhaseConfirm {
		t.Fatalf("expected confirm after extraction, got %s", result.Phase)
	}
	if len(f.events.extractions) != 1 {
		t.Fatalf("expected one extraction event, got %d", len(f.events.extractions))
	}
	if !f.events.extractions[0].Partial {
		t.Error("mid-dialogue extraction must be partial")
	}

	stored, _ := f.repo.GetByID(context.Background(), f.conv.ID)
	if len(stored.PendingExtraction) == 0 {
		t.Error("pending extraction must be persisted")
	}
}

func TestRegenerate_RequiresAssistantLast(t *testing.T) {
	f := newFixture(t, step.Framing, &fakeModel{deltas: []string{"Redo."}})

	// Conversation ends on an assistant message after a successful turn.
	if _, err := f.engine.StartTurn(context.Background(), f.conv.ID, "what should I decide"); err != nil {
		t.Fatalf("turn: %v", err)
	}
	result, err := f.engine.Regenerate(context.Background(), f.conv.ID)
	if err != nil {
		t.Fatalf("regenerate: %v", err)
	}
	if result.Content != "Redo." {
		t.Errorf("unexpected regenerated content %q", result.Content)
	}

	// Manually park a trailing user message; regenerate must now refuse.
	f.repo.AppendMessages(context.Background(), f.conv.ID, conversation.Message{
		ID: uuid.New(), Role: conversation.RoleUser, Content: "trailing user turn", CreatedAt: time.Now().UTC(),
	})
	_, err = f.engine.Regenerate(context.Background(), f.conv.ID)
	if !errors.Is(err, ErrLastMessageNotAssistant) {
		t.Fatalf("expected ErrLastMessageNotAssistant, got %v", err)
	}
}

func TestReviseExtraction_ValidatesStrictly(t *testing.T) {
	f := newFixture(t, step.Alternatives, &fakeModel{deltas: []string{"ok"}})

	bad := json.RawMessage(`{"alternatives":[{"id":"only-one","name":"One"}]}`)
	_, err := f.engine.ReviseExtraction(context.Background(), f.conv.ID, bad)
	var fieldErr *schema.FieldError
	if !errors.As(err, &fieldErr) {
		t.Fatalf("expected FieldError, got %v", err)
	}

	good := json.RawMessage(`{"alternatives":[{"id":"build","name":"Build"},{"id":"buy","name":"Buy"}]}`)
	conv, err := f.engine.ReviseExtraction(context.Background(), f.conv.ID, good)
	if err != nil {
		t.Fatalf("revise: %v", err)
	}
	if conv.Phase != conversation.PhaseConfirm {
		t.Errorf("expected confirm phase, got %s", conv.Phase)
	}
	if len(f.events.signals) != 1 || f.events.signals[0].SignalType != "revised" {
		t.Errorf("expected revised signal, got %+v", f.events.signals)
	}
}

func TestConfirmExtraction_HandsOffAndCompletes(t *testing.T) {
	f := newFixture(t, step.Alternatives, &fakeModel{deltas: []string{"Noted."}})

	if _, err := f.engine.StartTurn(context.Background(), f.conv.ID, "option one is build"); err != nil {
		t.Fatalf("turn 1: %v", err)
	}
	if _, err := f.engine.StartTurn(context.Background(), f.conv.ID, "option two is buy"); err != nil {
		t.Fatalf("turn 2: %v", err)
	}

	conv, err := f.engine.ConfirmExtraction(context.Background(), f.conv.ID)
	if err != nil {
		t.Fatalf("confirm: %v", err)
	}
	if conv.State != conversation.StateComplete {
		t.Errorf("expected complete, got %s", conv.State)
	}
	if len(f.sink.stepIDs) != 1 || f.sink.stepIDs[0] != f.conv.StepID {
		t.Error("confirmed payload must transfer to the owning step")
	}
	if len(f.events.signals) != 1 || f.events.signals[0].SignalType != "confirmed" {
		t.Errorf("expected confirmed signal, got %+v", f.events.signals)
	}
}

func TestConfirmExtraction_WithoutPending(t *testing.T) {
	f := newFixture(t, step.Framing, &fakeModel{})
	_, err := f.engine.ConfirmExtraction(context.Background(), f.conv.ID)
	if !errors.Is(err, ErrNoPendingExtraction) {
		t.Fatalf("expected ErrNoPendingExtraction, got %v", err)
	}
}

func TestReopen_FromComplete(t *testing.T) {
	f := newFixture(t, step.Alternatives, &fakeModel{deltas: []string{"Noted."}})

	if _, err := f.engine.StartTurn(context.Background(), f.conv.ID, "option one is build"); err != nil {
		t.Fatalf("turn 1: %v", err)
	}
	if _, err := f.engine.StartTurn(context.Background(), f.conv.ID, "option two is buy"); err != nil {
		t.Fatalf("turn 2: %v", err)
	}
	if _, err := f.engine.ConfirmExtraction(context.Background(), f.conv.ID); err != nil {
		t.Fatalf("confirm: %v", err)
	}

	conv, err := f.engine.Reopen(context.Background(), f.conv.ID)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	if conv.State != conversation.StateInProgress || conv.Phase != conversation.PhaseGather {
		t.Errorf("expected in_progress/gather, got %s/%s", conv.State, conv.Phase)
	}

	// Reopen from a non-complete conversation is a state error.
	_, err = f.engine.Reopen(context.Background(), f.conv.ID)
	var stateErr *conversation.StateError
	if !errors.As(err, &stateErr) {
		t.Fatalf("expected StateError, got %v", err)
	}
}

func TestMessages_Pagination(t *testing.T) {
	f := newFixture(t, step.Framing, &fakeModel{deltas: []string{"Reply."}})
	if _, err := f.engine.StartTurn(context.Background(), f.conv.ID, "one question to decide"); err != nil {
		t.Fatalf("turn: %v", err)
	}

	msgs, total, err := f.engine.Messages(context.Background(), f.conv.ID, 2, 0)
	if err != nil {
		t.Fatalf("messages: %v", err)
	}
	if total != 3 {
		t.Errorf("expected 3 total, got %d", total)
	}
	if len(msgs) != 2 {
		t.Errorf("expected page of 2, got %d", len(msgs))
	}

	_, _, err = f.engine.Messages(context.Background(), uuid.New(), 10, 0)
	if !errors.Is(err, conversation.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
