// Package extraction implements the staged fact-retrieval and
// memory-resolution pipeline: load a user's pending messages, turn them into
// normalized facts via the LLM gateway, resolve each fact against existing
// memories by embedding similarity, and apply the resulting ADD/UPDATE
// decisions transactionally.
package extraction

import "github.com/chatmemory/engine/internal/store"

// Fact is one normalized declarative statement surfaced by Stage 2.
type Fact struct {
	Text       string
	Category   string
	Importance float64
	Confidence float64
}

// Event is the decision kind the resolution LLM assigns to a unified id.
type Event string

const (
	EventAdd    Event = "ADD"
	EventUpdate Event = "UPDATE"
)

// Decision is one raw LLM output row from Stage 5, before validation against
// the unified id namespace.
type Decision struct {
	ID    string
	Event Event
	Text  string
}

// origin records what a unified id refers to: either an existing memory
// candidate or a newly retrieved fact.
type origin struct {
	memory *store.MemoryMatch
	fact   *Fact
}

// planAdd is a validated ADD decision ready for Stage 6.
type planAdd struct {
	create store.CreateMemory
}

// planUpdate is a validated UPDATE decision ready for Stage 6.
type planUpdate struct {
	memoryID    int64
	prevContent string
	content     string
	embedding   []float32
}

// DecisionPlan is the validated, embedding-complete output of Stage 5.
type DecisionPlan struct {
	Adds    []planAdd
	Updates []planUpdate
}

// Stats is the return value of Extract: the four counts the contract names.
type Stats struct {
	FactsExtracted    int
	MemoriesAdded     int
	MemoriesUpdated   int
	MessagesExtracted int
}
