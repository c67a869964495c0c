package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/david-nelson-elske/choice-sherpa-sub005/internal/conversation"
	"github.com/david-nelson-elske/choice-sherpa-sub005/internal/step"
)

// CreateConversation inserts the conversation row plus its opening messages
// in one transaction.
func (s *Store) CreateConversation(ctx context.Context, conv *conversation.Conversation) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		INSERT INTO conversations (id, step_id, step_type, state, phase, system_prompt, pending_extraction, owner_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		conv.ID, conv.StepID, string(conv.StepType), string(conv.State), string(conv.Phase),
		conv.SystemPrompt, conv.PendingExtraction, conv.OwnerID, conv.CreatedAt, conv.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert conversation: %w", err)
	}

	for _, msg := range conv.Messages {
		if err := insertMessage(ctx, tx, conv.ID, msg); err != nil {
			return err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// GetByID loads a conversation with its full ordered message log.
func (s *Store) GetByID(ctx context.Context, id uuid.UUID) (*conversation.Conversation, error) {
	return s.getConversation(ctx, `WHERE id = $1`, id)
}

// GetByStepID loads the 1:1 conversation for a dialogue step.
func (s *Store) GetByStepID(ctx context.Context, stepID uuid.UUID) (*conversation.Conversation, error) {
	return s.getConversation(ctx, `WHERE step_id = $1`, stepID)
}

func (s *Store) getConversation(ctx context.Context, where string, arg any) (*conversation.Conversation, error) {
	var conv conversation.Conversation
	var stepType, state, phase string

	err := s.pool.QueryRow(ctx, `
		SELECT id, step_id, step_type, state, phase, system_prompt, pending_extraction, owner_id, created_at, updated_at
		FROM conversations `+where,
		arg,
	).Scan(&conv.ID, &conv.StepID, &stepType, &state, &phase,
		&conv.SystemPrompt, &conv.PendingExtraction, &conv.OwnerID, &conv.CreatedAt, &conv.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, conversation.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("select conversation: %w", err)
	}

	if conv.StepType, err = step.Parse(stepType); err != nil {
		return nil, fmt.Errorf("stored conversation: %w", err)
	}
	if conv.State, err = conversation.ParseState(state); err != nil {
		return nil, fmt.Errorf("stored conversation: %w", err)
	}
	if conv.Phase, err = conversation.ParsePhase(phase); err != nil {
		return nil, fmt.Errorf("stored conversation: %w", err)
	}

	conv.Messages, err = s.allMessages(ctx, conv.ID)
	if err != nil {
		return nil, err
	}
	return &conv, nil
}

// UpdateState persists the mutable aggregate fields: state, phase, pending
// extraction and the updated timestamp.
func (s *Store) UpdateState(ctx context.Context, conv *conversation.Conversation) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE conversations
		SET state = $1, phase = $2, pending_extraction = $3, updated_at = $4
		WHERE id = $5`,
		string(conv.State), string(conv.Phase), conv.PendingExtraction, conv.UpdatedAt, conv.ID,
	)
	if err != nil {
		return fmt.Errorf("update conversation: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return conversation.ErrNotFound
	}
	return nil
}
