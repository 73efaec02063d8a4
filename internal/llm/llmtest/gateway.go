// Package llmtest provides a configurable mock llm.Gateway for exercising
// the extraction pipeline and recall without a live provider, following the
// teacher corpus's MockLLM idiom (ai/e2e/mocks/llm.go).
package llmtest

import (
	"context"
	"sync"

	"github.com/chatmemory/engine/internal/llm"
)

// Gateway is a configurable mock llm.Gateway.
type Gateway struct {
	mu sync.Mutex

	// CompleteFunc, if set, is called for every Complete invocation in
	// place of the canned response queue.
	CompleteFunc func(ctx context.Context, messages []llm.Message, schema *llm.Schema) ([]byte, error)
	responses    [][]byte
	completeErr  error

	// EmbedFunc, if set, is called for every Embed invocation.
	EmbedFunc func(ctx context.Context, texts []string) ([][]float32, error)
	embedErr  error
	dims      int

	calls int
}

// New creates an empty mock gateway with the given embedding dimension.
func New(dims int) *Gateway {
	return &Gateway{dims: dims}
}

// WithResponses queues raw JSON responses returned by successive Complete calls.
func (g *Gateway) WithResponses(responses ...[]byte) *Gateway {
	g.responses = responses
	return g
}

// WithCompleteErr makes every Complete call fail with err.
func (g *Gateway) WithCompleteErr(err error) *Gateway {
	g.completeErr = err
	return g
}

// WithEmbedErr makes every Embed call fail with err.
func (g *Gateway) WithEmbedErr(err error) *Gateway {
	g.embedErr = err
	return g
}

func (g *Gateway) Complete(ctx context.Context, messages []llm.Message, schema *llm.Schema) ([]byte, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.CompleteFunc != nil {
		return g.CompleteFunc(ctx, messages, schema)
	}
	if g.completeErr != nil {
		return nil, g.completeErr
	}
	if g.calls >= len(g.responses) {
		return []byte(`{}`), nil
	}
	resp := g.responses[g.calls]
	g.calls++
	return resp, nil
}

func (g *Gateway) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if g.EmbedFunc != nil {
		return g.EmbedFunc(ctx, texts)
	}
	if g.embedErr != nil {
		return nil, g.embedErr
	}

	vectors := make([][]float32, len(texts))
	for i, t := range texts {
		vectors[i] = deterministicVector(t, g.dims)
	}
	return vectors, nil
}

func (g *Gateway) Dimensions() int { return g.dims }

// deterministicVector derives a stable vector from text so that identical
// inputs always embed identically and different inputs diverge, without
// depending on a real embedding model in tests.
func deterministicVector(text string, dims int) []float32 {
	v := make([]float32, dims)
	if dims == 0 {
		return v
	}
	fnvOffsetBasis := uint32(2166136261)
	seed := int32(fnvOffsetBasis)
	for _, r := range text {
		seed = (seed ^ int32(r)) * 16777619
	}
	for i := range v {
		seed = seed*1664525 + 1013904223
		v[i] = float32((seed%1000))/1000 - 0.5
	}
	return v
}

var _ llm.Gateway = (*Gateway)(nil)
