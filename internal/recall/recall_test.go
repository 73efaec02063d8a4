package recall

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chatmemory/engine/internal/llm/llmtest"
	"github.com/chatmemory/engine/internal/store"
	"github.com/chatmemory/engine/internal/store/storetest"
)

const dims = 8

func seedMemory(t *testing.T, s *storetest.Store, userID, content string, direction float32) {
	t.Helper()
	v := make([]float32, dims)
	v[0] = direction
	_, err := s.Insert(context.Background(), store.CreateMemory{
		UserID: userID, Content: content, Category: "preference", Action: store.ActionAdd,
		Embedding: v, Importance: 0.6, Confidence: 0.9,
	})
	require.NoError(t, err)
}

func TestRecall_NoMatchesReturnsSentinel(t *testing.T) {
	s := storetest.New()
	gw := llmtest.New(dims)
	r := &Recaller{Store: s, LLM: gw}

	got := r.Recall(context.Background(), "u1", "what does the user like?", Options{})
	assert.Equal(t, NoMemoriesFound, got)
}

func TestRecall_FormatsMatchesAsBulletedList(t *testing.T) {
	s := storetest.New()
	gw := llmtest.New(dims)
	gw.EmbedFunc = func(_ context.Context, texts []string) ([][]float32, error) {
		v := make([]float32, dims)
		v[0] = 1
		return [][]float32{v}, nil
	}
	seedMemory(t, s, "u1", "Prefers jasmine tea.", 1)

	r := &Recaller{Store: s, LLM: gw}
	got := r.Recall(context.Background(), "u1", "beverage preferences", Options{MinSimilarity: -1})
	assert.Contains(t, got, "- Prefers jasmine tea.")
	assert.Contains(t, got, "importance=0.60")
	assert.Contains(t, got, "confidence=0.90")
}

func TestRecall_EmbedFailureReturnsSentinel(t *testing.T) {
	s := storetest.New()
	gw := llmtest.New(dims).WithEmbedErr(assertErr("embedding provider down"))
	r := &Recaller{Store: s, LLM: gw}

	got := r.Recall(context.Background(), "u1", "cue", Options{})
	assert.Equal(t, UnableToLoadMemories, got)
}

func TestRecall_SearchFailureReturnsSentinel(t *testing.T) {
	s := storetest.New()
	s.SearchErr = assertErr("store unavailable")
	gw := llmtest.New(dims)
	r := &Recaller{Store: s, LLM: gw}

	got := r.Recall(context.Background(), "u1", "cue", Options{})
	assert.Equal(t, UnableToLoadMemories, got)
}

func TestRecall_NegativeTopKReturnsNoMatches(t *testing.T) {
	s := storetest.New()
	gw := llmtest.New(dims)
	seedMemory(t, s, "u1", "Prefers jasmine tea.", 1)
	r := &Recaller{Store: s, LLM: gw}

	got := r.Recall(context.Background(), "u1", "cue", Options{TopK: -1})
	assert.Equal(t, NoMemoriesFound, got)
}

func TestFormatLine_OmitsBracketForZeroValuedMetadata(t *testing.T) {
	got := formatLine(store.Memory{Content: "Lives in Lisbon."})
	assert.Equal(t, "- Lives in Lisbon.", got)
}

func TestFormatLine_IncludesBracketWhenAnyFieldIsSet(t *testing.T) {
	got := formatLine(store.Memory{Content: "Prefers jasmine tea.", Importance: 0.6})
	assert.Contains(t, got, "[")
	assert.Contains(t, got, "importance=0.60")
}

type assertErr string

func (e assertErr) Error() string { return string(e) }
