package postgres

import (
	"context"

	"github.com/pkg/errors"

	"github.com/chatmemory/engine/internal/store"
)

// CreateStory persists a new scoping container.
func (d *DB) CreateStory(ctx context.Context, create store.CreateStory) (*store.Story, error) {
	const stmt = `
		INSERT INTO story (user_id, name, handler)
		VALUES ($1, $2, $3)
		RETURNING id, created_at
	`
	s := store.Story{UserID: create.UserID, Name: create.Name, Handler: create.Handler}
	if err := d.db.QueryRowContext(ctx, stmt, create.UserID, create.Name, create.Handler).Scan(&s.ID, &s.CreatedAt); err != nil {
		return nil, errors.Wrap(err, "failed to insert story")
	}
	return &s, nil
}

// GetStory loads a story by id.
func (d *DB) GetStory(ctx context.Context, id int64) (*store.Story, error) {
	const stmt = `SELECT id, user_id, name, handler, created_at FROM story WHERE id = $1`
	var s store.Story
	if err := d.db.QueryRowContext(ctx, stmt, id).Scan(&s.ID, &s.UserID, &s.Name, &s.Handler, &s.CreatedAt); err != nil {
		return nil, errors.Wrap(err, "failed to get story")
	}
	return &s, nil
}
