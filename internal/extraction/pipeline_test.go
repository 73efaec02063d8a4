package extraction

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chatmemory/engine/internal/handler"
	"github.com/chatmemory/engine/internal/handler/simplehandler"
	"github.com/chatmemory/engine/internal/llm"
	"github.com/chatmemory/engine/internal/llm/llmtest"
	"github.com/chatmemory/engine/internal/store"
	"github.com/chatmemory/engine/internal/store/storetest"
	"github.com/chatmemory/engine/internal/telemetry"
)

const dims = 8

func newFixture(t *testing.T) (*storetest.Store, *llmtest.Gateway, *handler.Registry) {
	t.Helper()
	s := storetest.New()
	gw := llmtest.New(dims)
	reg := handler.NewRegistry()
	reg.Register(simplehandler.Handler{})
	return s, gw, reg
}

func seedTurn(t *testing.T, s *storetest.Store, userID, question, answer string) {
	t.Helper()
	story, err := s.CreateStory(context.Background(), store.CreateStory{UserID: userID, Handler: simplehandler.Name, Name: "turn"})
	require.NoError(t, err)
	_, err = s.CreateMessage(context.Background(), store.CreateMessage{
		StoryID: story.ID, ContentType: store.ContentTypeQuery, Content: simplehandler.QueryContent(question),
	})
	require.NoError(t, err)
	_, err = s.CreateMessage(context.Background(), store.CreateMessage{
		StoryID: story.ID, ContentType: store.ContentTypeResponse, Content: simplehandler.ResponseContent(answer),
	})
	require.NoError(t, err)
}

func TestExtract_EmptyBatchReturnsZeroStats(t *testing.T) {
	s, gw, reg := newFixture(t)
	p := &Pipeline{Store: s, Handlers: reg, LLM: gw}

	stats, err := p.Extract(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, Stats{}, stats)
}

func TestExtract_ColdStartAddsMemory(t *testing.T) {
	s, gw, reg := newFixture(t)
	seedTurn(t, s, "u1", "I live in Portland, Oregon and prefer jasmine tea.", "Got it, noted!")

	gw.WithResponses(
		[]byte(`{"facts":[{"text":"Lives in Portland, Oregon.","category":"location","importance":0.8,"confidence":0.9},{"text":"Prefers jasmine tea.","category":"preference","importance":0.5,"confidence":0.9}]}`),
		[]byte(`{"memory":[{"id":"1","event":"ADD","text":"Lives in Portland, Oregon."},{"id":"2","event":"ADD","text":"Prefers jasmine tea."}]}`),
	)

	p := &Pipeline{Store: s, Handlers: reg, LLM: gw, Clock: func() time.Time { return time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC) }}

	stats, err := p.Extract(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, 2, stats.FactsExtracted)
	assert.Equal(t, 2, stats.MemoriesAdded)
	assert.Equal(t, 0, stats.MemoriesUpdated)
	assert.Equal(t, 2, stats.MessagesExtracted)

	matches, err := s.Search(context.Background(), make([]float32, dims), store.SearchOptions{UserID: "u1", TopK: 10, MinSimilarity: -1})
	require.NoError(t, err)
	require.Len(t, matches, 2)
	pending, err := s.FindPending(context.Background(), "u1")
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestExtract_RecordsPerStageLatency(t *testing.T) {
	s, gw, reg := newFixture(t)
	seedTurn(t, s, "u1", "I live in Portland, Oregon.", "Got it, noted!")
	gw.WithResponses(
		[]byte(`{"facts":[{"text":"Lives in Portland, Oregon.","category":"location","importance":0.8,"confidence":0.9}]}`),
		[]byte(`{"memory":[{"id":"1","event":"ADD","text":"Lives in Portland, Oregon."}]}`),
	)

	registry := prometheus.NewRegistry()
	metrics := telemetry.New(telemetry.Config{Registry: registry})
	p := &Pipeline{Store: s, Handlers: reg, LLM: gw, Metrics: metrics}

	_, err := p.Extract(context.Background(), "u1")
	require.NoError(t, err)

	count, err := testutil.GatherAndCount(registry, "chatmemory_extraction_stage_latency_seconds")
	require.NoError(t, err)
	assert.Positive(t, count, "each stage Extract ran through should have recorded a latency observation")
}

func TestExtract_SecondRunIsNoop(t *testing.T) {
	s, gw, reg := newFixture(t)
	seedTurn(t, s, "u1", "I live in Portland, Oregon.", "Noted.")
	gw.WithResponses(
		[]byte(`{"facts":[{"text":"Lives in Portland, Oregon.","category":"location","importance":0.8,"confidence":0.9}]}`),
		[]byte(`{"memory":[{"id":"1","event":"ADD","text":"Lives in Portland, Oregon."}]}`),
	)
	p := &Pipeline{Store: s, Handlers: reg, LLM: gw}

	first, err := p.Extract(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, 1, first.MemoriesAdded)

	second, err := p.Extract(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, Stats{}, second)
}

func TestExtract_CorrectionUpdatesExistingMemory(t *testing.T) {
	s, gw, reg := newFixture(t)

	// Seed an existing memory directly, as if a prior run had added it.
	existing, err := s.Insert(context.Background(), store.CreateMemory{
		UserID: "u1", Content: "Lives in Portland.", Category: "location", Action: store.ActionAdd,
		Embedding: make([]float32, dims), Importance: 0.8, Confidence: 0.9,
	})
	require.NoError(t, err)

	seedTurn(t, s, "u1", "Correction: I moved to Seattle last week.", "Updated!")
	gw.WithResponses(
		[]byte(`{"facts":[{"text":"Moved to Seattle.","category":"location","importance":0.8,"confidence":0.9}]}`),
		[]byte(`{"memory":[{"id":"1","event":"UPDATE","text":"Lives in Seattle."}]}`),
	)
	// candidate memory search returns the existing memory as unified id "1"
	// (the UPDATE decision's id names the memory it targets), fact as "2".
	gw.EmbedFunc = func(_ context.Context, texts []string) ([][]float32, error) {
		vectors := make([][]float32, len(texts))
		for i := range texts {
			v := make([]float32, dims)
			v[0] = 1 // same direction as the existing memory's embedding
			// (set below), so storetest's cosine similarity is exactly 1
			// and Stage 4 resolves it deterministically.
			vectors[i] = v
		}
		return vectors, nil
	}
	// Give the existing memory a matching embedding so Stage 4's
	// bulk_search resolves it as a candidate.
	_, err = s.Update(context.Background(), existing.ID, store.UpdateMemory{
		Content: existing.Content, PrevContent: "", Embedding: func() []float32 { v := make([]float32, dims); v[0] = 1; return v }(), Action: store.ActionAdd,
	})
	require.NoError(t, err)

	p := &Pipeline{Store: s, Handlers: reg, LLM: gw, ResolutionMinSimilarity: -1}

	stats, err := p.Extract(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, 1, stats.MemoriesUpdated)
	assert.Equal(t, 0, stats.MemoriesAdded)

	matches, err := s.Search(context.Background(), func() []float32 { v := make([]float32, dims); v[0] = 1; return v }(), store.SearchOptions{UserID: "u1", TopK: 1, MinSimilarity: -1})
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Contains(t, matches[0].Memory.Content, "Seattle")
	assert.Contains(t, *matches[0].Memory.PrevContent, "Portland")
	assert.Equal(t, store.ActionUpdate, matches[0].Memory.Action)
}

func TestExtract_UnknownHandlerAbortsWholeBatch(t *testing.T) {
	s, gw, reg := newFixture(t)
	story, err := s.CreateStory(context.Background(), store.CreateStory{UserID: "u1", Handler: "does-not-exist", Name: "turn"})
	require.NoError(t, err)
	_, err = s.CreateMessage(context.Background(), store.CreateMessage{
		StoryID: story.ID, ContentType: store.ContentTypeQuery, Content: simplehandler.QueryContent("hi"),
	})
	require.NoError(t, err)

	p := &Pipeline{Store: s, Handlers: reg, LLM: gw}
	_, err = p.Extract(context.Background(), "u1")
	require.ErrorIs(t, err, ErrUnknownHandler)

	pending, err := s.FindPending(context.Background(), "u1")
	require.NoError(t, err)
	assert.Len(t, pending, 1, "unknown-handler messages must never be marked extracted")
}

func TestExtract_SchemaMismatchDropsLineButStillMarksExtracted(t *testing.T) {
	s, gw, reg := newFixture(t)
	story, err := s.CreateStory(context.Background(), store.CreateStory{UserID: "u1", Handler: simplehandler.Name, Name: "turn"})
	require.NoError(t, err)
	// Wrong shape for a query message.
	_, err = s.CreateMessage(context.Background(), store.CreateMessage{
		StoryID: story.ID, ContentType: store.ContentTypeQuery, Content: simplehandler.ResponseContent("malformed"),
	})
	require.NoError(t, err)

	p := &Pipeline{Store: s, Handlers: reg, LLM: gw}
	stats, err := p.Extract(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, 1, stats.MessagesExtracted)

	pending, err := s.FindPending(context.Background(), "u1")
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestExtract_PartialDecisionWithUnknownIDIsSkipped(t *testing.T) {
	s, gw, reg := newFixture(t)
	seedTurn(t, s, "u1", "I like hiking.", "Cool.")
	gw.WithResponses(
		[]byte(`{"facts":[{"text":"Likes hiking.","category":"preference","importance":0.5,"confidence":0.8}]}`),
		[]byte(`{"memory":[{"id":"99","event":"ADD","text":"Likes hiking."}]}`),
	)

	p := &Pipeline{Store: s, Handlers: reg, LLM: gw}
	stats, err := p.Extract(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, 0, stats.MemoriesAdded)
	assert.Equal(t, 2, stats.MessagesExtracted)
}

func TestExtract_EmptyFactTextDropped(t *testing.T) {
	s, gw, reg := newFixture(t)
	seedTurn(t, s, "u1", "hello", "hi")
	gw.WithResponses(
		[]byte(`{"facts":[{"text":"   ","category":"x","importance":0.1,"confidence":0.1}]}`),
	)

	p := &Pipeline{Store: s, Handlers: reg, LLM: gw}
	stats, err := p.Extract(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, 1, stats.FactsExtracted)
	assert.Equal(t, 0, stats.MemoriesAdded)
	assert.Equal(t, 2, stats.MessagesExtracted)
}

func TestExtract_EmbedFailureAbortsWithNoSideEffects(t *testing.T) {
	s, gw, reg := newFixture(t)
	seedTurn(t, s, "u1", "I like tea.", "Noted.")
	gw.WithResponses([]byte(`{"facts":[{"text":"Likes tea.","category":"preference","importance":0.5,"confidence":0.8}]}`))
	gw.EmbedFunc = func(_ context.Context, _ []string) ([][]float32, error) {
		return nil, assertionError("embedding provider unreachable")
	}

	p := &Pipeline{Store: s, Handlers: reg, LLM: gw}
	_, err := p.Extract(context.Background(), "u1")
	require.Error(t, err)

	pending, err := s.FindPending(context.Background(), "u1")
	require.NoError(t, err)
	assert.Len(t, pending, 2, "a Stage 3 failure must leave the batch untouched")
}

type assertionError string

func (e assertionError) Error() string { return string(e) }

var _ llm.Gateway = (*llmtest.Gateway)(nil)
