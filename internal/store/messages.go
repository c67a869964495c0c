package store

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/david-nelson-elske/choice-sherpa-sub005/internal/conversation"
)

// AppendMessages inserts the messages and touches the parent conversation's
// updated timestamp in one transaction, so a turn's user input and assistant
// reply land together or not at all.
func (s *Store) AppendMessages(ctx context.Context, convID uuid.UUID, msgs ...conversation.Message) error {
	if len(msgs) == 0 {
		return nil
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	for _, msg := range msgs {
		if err := insertMessage(ctx, tx, convID, msg); err != nil {
			return err
		}
	}

	_, err = tx.Exec(ctx, `UPDATE conversations SET updated_at = now() WHERE id = $1`, convID)
	if err != nil {
		return fmt.Errorf("touch conversation: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func insertMessage(ctx context.Context, tx pgx.Tx, convID uuid.UUID, msg conversation.Message) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO messages (id, conversation_id, role, content, token_estimate, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		msg.ID, convID, string(msg.Role), msg.Content, msg.TokenEstimate, msg.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	return nil
}

// ListMessages returns one page ordered by creation time plus the total
// count for pagination headers.
func (s *Store) ListMessages(ctx context.Context, convID uuid.UUID, limit, offset int) ([]conversation.Message, int, error) {
	var total int
	err := s.pool.QueryRow(ctx,
		`SELECT count(*) FROM messages WHERE conversation_id = $1`, convID,
	).Scan(&total)
	if err != nil {
		return nil, 0, fmt.Errorf("count messages: %w", err)
	}

	rows, err := s.pool.Query(ctx, `
		SELECT id, role, content, token_estimate, created_at
		FROM messages
		WHERE conversation_id = $1
		ORDER BY created_at, id
		LIMIT $2 OFFSET $3`,
		convID, limit, offset,
	)
	if err != nil {
		return nil, 0, fmt.Errorf("select messages: %w", err)
	}
	defer rows.Close()

	msgs, err := scanMessages(rows)
	if err != nil {
		return nil, 0, err
	}
	return msgs, total, nil
}

func (s *Store) allMessages(ctx context.Context, convID uuid.UUID) ([]conversation.Message, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, role, content, token_estimate, created_at
		FROM messages
		WHERE conversation_id = $1
		ORDER BY created_at, id`,
		convID,
	)
	if err != nil {
		return nil, fmt.Errorf("select messages: %w", err)
	}
	defer rows.Close()
	return scanMessages(rows)
}

func scanMessages(rows pgx.Rows) ([]conversation.Message, error) {
	var msgs []conversation.Message
	for rows.Next() {
		var msg conversation.Message
		var role string
		if err := rows.Scan(&msg.ID, &role, &msg.Content, &msg.TokenEstimate, &msg.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		msg.Role = conversation.Role(role)
		msgs = append(msgs, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate messages: %w", err)
	}
	return msgs, nil
}
