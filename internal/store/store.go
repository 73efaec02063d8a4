package store

import "context"

// MemoryStore is the C1 contract: persist memory records with embedding
// vectors and run single/bulk top-K cosine searches filtered by owner.
type MemoryStore interface {
	Insert(ctx context.Context, create CreateMemory) (*Memory, error)
	Update(ctx context.Context, id int64, update UpdateMemory) (*Memory, error)
	Search(ctx context.Context, queryEmbedding []float32, opts SearchOptions) ([]MemoryMatch, error)
	BulkSearch(ctx context.Context, queryEmbeddings [][]float32, opts SearchOptions) ([][]MemoryMatch, error)
}

// MessageStore persists conversational turns and tracks extraction progress.
type MessageStore interface {
	CreateMessage(ctx context.Context, create CreateMessage) (*Message, error)
	FindPending(ctx context.Context, userID string) ([]PendingMessage, error)
	MarkExtracted(ctx context.Context, ids []int64) error
}

// StoryStore persists the scoping container that maps messages to owners.
type StoryStore interface {
	CreateStory(ctx context.Context, create CreateStory) (*Story, error)
	GetStory(ctx context.Context, id int64) (*Story, error)
}

// Tx is the transactional handle Stage 6 of the extraction pipeline uses to
// apply every memory mutation and the extracted-flag flip atomically.
type Tx interface {
	MemoryStore
	MessageStore
}

// Driver aggregates the full persistence surface the core consumes,
// following the teacher corpus's convention of one Driver interface per
// storage backend.
type Driver interface {
	MemoryStore
	MessageStore
	StoryStore

	// WithTx runs fn against a transactional view of the store. All writes
	// issued through the Tx commit together or not at all.
	WithTx(ctx context.Context, fn func(Tx) error) error

	Close() error
}
