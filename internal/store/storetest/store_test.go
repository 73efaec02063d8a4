package storetest

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chatmemory/engine/internal/store"
)

func TestBulkSearch_FanOutRespectsTopKAndMinSimilarity(t *testing.T) {
	s := New()
	ctx := context.Background()

	for i := 0; i < 50; i++ {
		v := make([]float32, 4)
		v[i%4] = 1
		_, err := s.Insert(ctx, store.CreateMemory{UserID: "u1", Content: "memory", Embedding: v, Action: store.ActionAdd})
		require.NoError(t, err)
	}

	queries := make([][]float32, 10)
	for i := range queries {
		v := make([]float32, 4)
		v[i%4] = 1
		queries[i] = v
	}

	results, err := s.BulkSearch(ctx, queries, store.SearchOptions{UserID: "u1", TopK: 5, MinSimilarity: 0.3})
	require.NoError(t, err)
	require.Len(t, results, 10)

	for _, matches := range results {
		assert.LessOrEqual(t, len(matches), 5)
		for i, m := range matches {
			assert.Greater(t, m.Similarity, 0.3)
			if i > 0 {
				assert.GreaterOrEqual(t, matches[i-1].Similarity, m.Similarity, "per-list ordering must be descending")
			}
		}
	}
}
