package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/pkg/errors"

	"github.com/chatmemory/engine/internal/store"
)

// CreateMessage persists a conversational turn.
func (d *DB) CreateMessage(ctx context.Context, create store.CreateMessage) (*store.Message, error) {
	const stmt = `
		INSERT INTO message (story_id, content_type, content)
		VALUES ($1, $2, $3)
		RETURNING id, created_at
	`
	m := store.Message{
		StoryID:     create.StoryID,
		ContentType: create.ContentType,
		Content:     create.Content,
	}
	err := d.db.QueryRowContext(ctx, stmt, create.StoryID, string(create.ContentType), []byte(create.Content)).
		Scan(&m.ID, &m.CreatedAt)
	if err != nil {
		return nil, errors.Wrap(err, "failed to insert message")
	}
	return &m, nil
}

// FindPending selects every message with extracted = false whose story
// belongs to userID, joined to its story for the handler name, ordered by
// created_at ascending — Stage 1 of the extraction pipeline.
func (d *DB) FindPending(ctx context.Context, userID string) ([]store.PendingMessage, error) {
	const stmt = `
		SELECT m.id, m.story_id, m.content_type, m.content, m.extracted, m.created_at, s.handler, s.user_id
		FROM message m
		JOIN story s ON s.id = m.story_id
		WHERE s.user_id = $1 AND m.extracted = false
		ORDER BY m.created_at ASC
	`
	rows, err := d.db.QueryContext(ctx, stmt, userID)
	if err != nil {
		return nil, errors.Wrap(err, "failed to load pending messages")
	}
	defer rows.Close()

	var pending []store.PendingMessage
	for rows.Next() {
		var p store.PendingMessage
		if err := rows.Scan(&p.ID, &p.StoryID, &p.ContentType, &p.Content, &p.Extracted, &p.CreatedAt, &p.Handler, &p.UserID); err != nil {
			return nil, errors.Wrap(err, "failed to scan pending message")
		}
		pending = append(pending, p)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "failed to iterate pending messages")
	}
	return pending, nil
}

// MarkExtracted flips the extracted flag for the given message ids. It is
// always called from within the Stage 6 transaction alongside the memory
// mutations that message batch produced.
func (d *DB) MarkExtracted(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}

	placeholders := make([]string, len(ids))
	args := make([]any, len(ids))
	for i, id := range ids {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
		args[i] = id
	}

	stmt := "UPDATE message SET extracted = true, updated_at = now() WHERE id IN (" + strings.Join(placeholders, ",") + ")"
	if _, err := d.db.ExecContext(ctx, stmt, args...); err != nil {
		return errors.Wrap(err, "failed to mark messages extracted")
	}
	return nil
}
