package postgres

import (
	"context"

	"github.com/pgvector/pgvector-go"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"github.com/chatmemory/engine/internal/store"
)

// validateEmbeddingDim enforces Invariant 1 (dim(embedding) = VectorDimension)
// before a write reaches the database, the same fail-fast-on-the-caller's-side
// idiom as the teacher's EpisodicVectorSearchOptions.Validate.
func validateEmbeddingDim(vec []float32) error {
	if len(vec) != VectorDimension {
		return errors.Errorf("invalid embedding: want dimension %d, got %d", VectorDimension, len(vec))
	}
	return nil
}

// Insert appends a new memory owned by create.UserID.
func (d *DB) Insert(ctx context.Context, create store.CreateMemory) (*store.Memory, error) {
	if err := validateEmbeddingDim(create.Embedding); err != nil {
		return nil, err
	}

	const stmt = `
		INSERT INTO memory (user_id, content, category, importance, confidence, action, embedding)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, created_at, updated_at
	`
	var m store.Memory
	m.UserID = create.UserID
	m.Content = create.Content
	m.Category = create.Category
	m.Importance = create.Importance
	m.Confidence = create.Confidence
	m.Action = create.Action
	m.Embedding = create.Embedding

	vec := pgvector.NewVector(create.Embedding)
	err := d.db.QueryRowContext(ctx, stmt,
		create.UserID, create.Content, create.Category, create.Importance,
		create.Confidence, string(create.Action), vec,
	).Scan(&m.ID, &m.CreatedAt, &m.UpdatedAt)
	if err != nil {
		return nil, errors.Wrap(err, "failed to insert memory")
	}
	return &m, nil
}

// Update replaces content/prev_content/embedding/action on a memory row.
func (d *DB) Update(ctx context.Context, id int64, update store.UpdateMemory) (*store.Memory, error) {
	if err := validateEmbeddingDim(update.Embedding); err != nil {
		return nil, err
	}

	const stmt = `
		UPDATE memory
		SET content = $1, previous_content = $2, embedding = $3, action = $4, updated_at = now()
		WHERE id = $5
		RETURNING id, user_id, content, previous_content, category, importance, confidence, action, created_at, updated_at
	`
	vec := pgvector.NewVector(update.Embedding)
	var m store.Memory
	var prev *string
	err := d.db.QueryRowContext(ctx, stmt,
		update.Content, update.PrevContent, vec, string(update.Action), id,
	).Scan(&m.ID, &m.UserID, &m.Content, &prev, &m.Category, &m.Importance, &m.Confidence, &m.Action, &m.CreatedAt, &m.UpdatedAt)
	if err != nil {
		return nil, errors.Wrap(err, "failed to update memory")
	}
	m.PrevContent = prev
	m.Embedding = update.Embedding
	return &m, nil
}

// Search returns up to opts.TopK memories owned by opts.UserID whose cosine
// similarity to queryEmbedding strictly exceeds opts.MinSimilarity, sorted by
// similarity descending.
func (d *DB) Search(ctx context.Context, queryEmbedding []float32, opts store.SearchOptions) ([]store.MemoryMatch, error) {
	if opts.TopK <= 0 {
		return nil, nil
	}

	const stmt = `
		SELECT id, user_id, content, previous_content, category, importance, confidence, action,
		       created_at, updated_at, 1 - (embedding <=> $1) AS similarity
		FROM memory
		WHERE user_id = $2 AND 1 - (embedding <=> $1) > $3
		ORDER BY embedding <=> $1
		LIMIT $4
	`
	vec := pgvector.NewVector(queryEmbedding)
	rows, err := d.db.QueryContext(ctx, stmt, vec, opts.UserID, opts.MinSimilarity, opts.TopK)
	if err != nil {
		return nil, errors.Wrap(err, "failed to search memory")
	}
	defer rows.Close()

	var matches []store.MemoryMatch
	for rows.Next() {
		var m store.Memory
		var prev *string
		var similarity float64
		if err := rows.Scan(&m.ID, &m.UserID, &m.Content, &prev, &m.Category, &m.Importance, &m.Confidence, &m.Action, &m.CreatedAt, &m.UpdatedAt, &similarity); err != nil {
			return nil, errors.Wrap(err, "failed to scan memory search result")
		}
		m.PrevContent = prev
		matches = append(matches, store.MemoryMatch{Memory: m, Similarity: similarity})
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "failed to iterate memory search results")
	}
	return matches, nil
}

// BulkSearch fans the search out across queryEmbeddings concurrently,
// preserving input order in the returned slice regardless of completion
// order.
func (d *DB) BulkSearch(ctx context.Context, queryEmbeddings [][]float32, opts store.SearchOptions) ([][]store.MemoryMatch, error) {
	results := make([][]store.MemoryMatch, len(queryEmbeddings))

	g, gctx := errgroup.WithContext(ctx)
	for i, emb := range queryEmbeddings {
		i, emb := i, emb
		g.Go(func() error {
			matches, err := d.Search(gctx, emb, opts)
			if err != nil {
				return err
			}
			results[i] = matches
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}
