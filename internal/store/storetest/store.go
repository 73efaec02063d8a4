// Package storetest provides an in-memory store.Driver for exercising the
// extraction pipeline, the scheduler, and recall without a real database —
// following the teacher corpus's mockAIBlockStore idiom
// (store/db/postgres/ai_block_test.go) of a hand-rolled mock satisfying the
// package's own interface rather than a real connection or a SQL mock
// library.
package storetest

import (
	"context"
	"math"
	"sort"
	"sync"

	"github.com/chatmemory/engine/internal/store"
)

// Store is an in-memory store.Driver. It is safe for concurrent use.
type Store struct {
	mu sync.Mutex

	memories map[int64]*store.Memory
	messages map[int64]*store.Message
	stories  map[int64]*store.Story
	nextID   int64

	// Error injection for failure-path tests.
	InsertErr        error
	UpdateErr        error
	SearchErr        error
	MarkExtractedErr error
}

// New creates an empty in-memory store.
func New() *Store {
	return &Store{
		memories: make(map[int64]*store.Memory),
		messages: make(map[int64]*store.Message),
		stories:  make(map[int64]*store.Story),
	}
}

func (s *Store) allocID() int64 {
	s.nextID++
	return s.nextID
}

// Insert implements store.MemoryStore.
func (s *Store) Insert(_ context.Context, create store.CreateMemory) (*store.Memory, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.InsertErr != nil {
		return nil, s.InsertErr
	}

	m := &store.Memory{
		ID:         s.allocID(),
		UserID:     create.UserID,
		Content:    create.Content,
		Category:   create.Category,
		Action:     create.Action,
		Embedding:  append([]float32(nil), create.Embedding...),
		Importance: create.Importance,
		Confidence: create.Confidence,
	}
	s.memories[m.ID] = m
	copied := *m
	return &copied, nil
}

// Update implements store.MemoryStore.
func (s *Store) Update(_ context.Context, id int64, update store.UpdateMemory) (*store.Memory, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.UpdateErr != nil {
		return nil, s.UpdateErr
	}

	m, ok := s.memories[id]
	if !ok {
		return nil, errNotFound("memory", id)
	}
	prev := update.PrevContent
	m.PrevContent = &prev
	m.Content = update.Content
	m.Embedding = append([]float32(nil), update.Embedding...)
	m.Action = update.Action
	copied := *m
	return &copied, nil
}

// Search implements store.MemoryStore.
func (s *Store) Search(_ context.Context, queryEmbedding []float32, opts store.SearchOptions) ([]store.MemoryMatch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.SearchErr != nil {
		return nil, s.SearchErr
	}
	if opts.TopK <= 0 {
		return nil, nil
	}

	var matches []store.MemoryMatch
	for _, m := range s.memories {
		if m.UserID != opts.UserID {
			continue
		}
		sim := cosineSimilarity(queryEmbedding, m.Embedding)
		if sim > opts.MinSimilarity {
			matches = append(matches, store.MemoryMatch{Memory: *m, Similarity: sim})
		}
	}

	sort.Slice(matches, func(i, j int) bool { return matches[i].Similarity > matches[j].Similarity })
	if len(matches) > opts.TopK {
		matches = matches[:opts.TopK]
	}
	return matches, nil
}

// BulkSearch implements store.MemoryStore.
func (s *Store) BulkSearch(ctx context.Context, queryEmbeddings [][]float32, opts store.SearchOptions) ([][]store.MemoryMatch, error) {
	results := make([][]store.MemoryMatch, len(queryEmbeddings))
	for i, emb := range queryEmbeddings {
		matches, err := s.Search(ctx, emb, opts)
		if err != nil {
			return nil, err
		}
		results[i] = matches
	}
	return results, nil
}

// CreateMessage implements store.MessageStore.
func (s *Store) CreateMessage(_ context.Context, create store.CreateMessage) (*store.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m := &store.Message{
		ID:          s.allocID(),
		StoryID:     create.StoryID,
		ContentType: create.ContentType,
		Content:     create.Content,
	}
	s.messages[m.ID] = m
	copied := *m
	return &copied, nil
}

// FindPending implements store.MessageStore.
func (s *Store) FindPending(_ context.Context, userID string) ([]store.PendingMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var pending []store.PendingMessage
	for _, m := range s.messages {
		if m.Extracted {
			continue
		}
		story, ok := s.stories[m.StoryID]
		if !ok || story.UserID != userID {
			continue
		}
		pending = append(pending, store.PendingMessage{
			Message: *m,
			Handler: story.Handler,
			UserID:  story.UserID,
		})
	}
	sort.Slice(pending, func(i, j int) bool { return pending[i].ID < pending[j].ID })
	return pending, nil
}

// MarkExtracted implements store.MessageStore.
func (s *Store) MarkExtracted(_ context.Context, ids []int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.MarkExtractedErr != nil {
		return s.MarkExtractedErr
	}
	for _, id := range ids {
		if m, ok := s.messages[id]; ok {
			m.Extracted = true
		}
	}
	return nil
}

// CreateStory implements store.StoryStore.
func (s *Store) CreateStory(_ context.Context, create store.CreateStory) (*store.Story, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := &store.Story{ID: s.allocID(), UserID: create.UserID, Name: create.Name, Handler: create.Handler}
	s.stories[st.ID] = st
	copied := *st
	return &copied, nil
}

// GetStory implements store.StoryStore.
func (s *Store) GetStory(_ context.Context, id int64) (*store.Story, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.stories[id]
	if !ok {
		return nil, errNotFound("story", id)
	}
	copied := *st
	return &copied, nil
}

// WithTx runs fn against this same store. The in-memory store has no
// partial-failure modes of its own, so "rollback" is implemented by
// snapshotting and restoring state if fn returns an error — sufficient to
// exercise Stage 6's all-or-nothing contract in tests.
func (s *Store) WithTx(ctx context.Context, fn func(store.Tx) error) error {
	s.mu.Lock()
	snapshotMemories := cloneMemories(s.memories)
	snapshotMessages := cloneMessages(s.messages)
	s.mu.Unlock()

	if err := fn(s); err != nil {
		s.mu.Lock()
		s.memories = snapshotMemories
		s.messages = snapshotMessages
		s.mu.Unlock()
		return err
	}
	return nil
}

// Close implements store.Driver.
func (s *Store) Close() error { return nil }

func cloneMemories(in map[int64]*store.Memory) map[int64]*store.Memory {
	out := make(map[int64]*store.Memory, len(in))
	for k, v := range in {
		copied := *v
		out[k] = &copied
	}
	return out
}

func cloneMessages(in map[int64]*store.Message) map[int64]*store.Message {
	out := make(map[int64]*store.Message, len(in))
	for k, v := range in {
		copied := *v
		out[k] = &copied
	}
	return out
}

func cosineSimilarity(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

type notFoundError struct {
	kind string
	id   int64
}

func (e notFoundError) Error() string { return e.kind + " not found" }

func errNotFound(kind string, id int64) error { return notFoundError{kind: kind, id: id} }

var _ store.Driver = (*Store)(nil)
