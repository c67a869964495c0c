package engine

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// registry tracks the at-most-one in-flight turn per conversation and owns
// the per-turn cancellation functions. Entries are created on stream start
// and removed on the terminal event; cancelling a message that already
// finished or never started is a no-op.
type registry struct {
	mu        sync.Mutex
	turns     map[uuid.UUID]turnSlot // conversation ID -> slot
	byMessage map[uuid.UUID]uuid.UUID
}

type turnSlot struct {
	messageID uuid.UUID
	cancel    context.CancelFunc
}

func newRegistry() *registry {
	return &registry{
		turns:     make(map[uuid.UUID]turnSlot),
		byMessage: make(map[uuid.UUID]uuid.UUID),
	}
}

// begin claims the conversation's slot for a streaming turn.
func (r *registry) begin(convID, messageID uuid.UUID, cancel context.CancelFunc) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, busy := r.turns[convID]; busy {
		return ErrTurnInFlight
	}
	r.turns[convID] = turnSlot{messageID: messageID, cancel: cancel}
	r.byMessage[messageID] = convID
	return nil
}

// reserve claims the slot for a non-streaming mutation, so revisions and
// confirmations cannot interleave with an in-flight turn.
func (r *registry) reserve(convID uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, busy := r.turns[convID]; busy {
		return ErrTurnInFlight
	}
	r.turns[convID] = turnSlot{}
	return nil
}

// finish releases the conversation's slot. Safe to call after cancel.
func (r *registry) finish(convID uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	slot, ok := r.turns[convID]
	if !ok {
		return
	}
	delete(r.turns, convID)
	if slot.messageID != uuid.Nil {
		delete(r.byMessage, slot.messageID)
	}
}

// cancel signals the turn streaming messageID, if it is still in flight.
// Returns whether a live turn was cancelled.
func (r *registry) cancel(messageID uuid.UUID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	convID, ok := r.byMessage[messageID]
	if !ok {
		return false
	}
	slot := r.turns[convID]
	if slot.cancel != nil {
		slot.cancel()
	}
	return true
}

// cancelAll aborts every in-flight turn, for shutdown.
func (r *registry) cancelAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, slot := range r.turns {
		if slot.cancel != nil {
			slot.cancel()
		}
	}
}
