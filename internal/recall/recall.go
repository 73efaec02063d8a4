// Package recall implements C5, the read-side path from a free-text cue to
// a formatted prompt section: embed the cue, run a top-K similarity search,
// and render the result as plain text a handler can splice into a prompt.
// It never returns an error to the caller — handlers are forbidden from
// touching the store directly, so this is the one place a search failure
// has to be absorbed rather than propagated.
package recall

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/chatmemory/engine/internal/llm"
	"github.com/chatmemory/engine/internal/store"
)

const (
	NoMemoriesFound      = "(No relevant memories found)"
	UnableToLoadMemories = "(Unable to load memories)"

	defaultTopK          = 5
	defaultMinSimilarity = 0.7
)

// Options bounds one Recall call. Zero values fall back to the package
// defaults (top 5, similarity 0.7).
type Options struct {
	TopK          int
	MinSimilarity float64
}

// Recaller formats a user's relevant memories for a prompt, given a
// free-text cue.
type Recaller struct {
	Store store.Driver
	LLM   llm.Gateway
}

// Recall embeds cueText, searches userID's memories, and returns a
// newline-joined, "- "-prefixed list. It never errors: on any failure it
// logs and returns the UnableToLoadMemories sentinel.
func (r *Recaller) Recall(ctx context.Context, userID, cueText string, opts Options) string {
	topK := opts.TopK
	if topK == 0 {
		topK = defaultTopK
	}
	minSimilarity := opts.MinSimilarity
	if minSimilarity == 0 {
		minSimilarity = defaultMinSimilarity
	}
	if topK < 0 {
		return NoMemoriesFound
	}

	vectors, err := r.LLM.Embed(ctx, []string{cueText})
	if err != nil {
		slog.Error("recall: embed cue failed", "user_id", userID, "err", err)
		return UnableToLoadMemories
	}
	if len(vectors) == 0 {
		slog.Error("recall: embedding gateway returned no vectors", "user_id", userID)
		return UnableToLoadMemories
	}

	matches, err := r.Store.Search(ctx, vectors[0], store.SearchOptions{
		UserID:        userID,
		TopK:          topK,
		MinSimilarity: minSimilarity,
	})
	if err != nil {
		slog.Error("recall: search failed", "user_id", userID, "err", err)
		return UnableToLoadMemories
	}
	if len(matches) == 0 {
		return NoMemoriesFound
	}

	return Format(matches)
}

// Format renders memory matches the way Recall does, exposed separately so
// callers that already have matches (e.g. a debug endpoint) don't have to
// round-trip through the LLM gateway.
func Format(matches []store.MemoryMatch) string {
	lines := make([]string, len(matches))
	for i, m := range matches {
		lines[i] = formatLine(m.Memory)
	}
	return strings.Join(lines, "\n")
}

func formatLine(m store.Memory) string {
	if m.Category == "" && m.Importance == 0 && m.Confidence == 0 {
		return fmt.Sprintf("- %s", m.Content)
	}

	var meta []string
	if m.Category != "" {
		meta = append(meta, m.Category)
	}
	meta = append(meta, fmt.Sprintf("importance=%.2f", m.Importance))
	meta = append(meta, fmt.Sprintf("confidence=%.2f", m.Confidence))
	return fmt.Sprintf("- %s [%s]", m.Content, strings.Join(meta, ", "))
}
