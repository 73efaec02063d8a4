package extraction

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/chatmemory/engine/internal/store"
)

const factRetrievalSystemPrompt = `You extract durable facts about a user from a conversation transcript.

Rules:
- Only output normalized, declarative statements in first person or about the user (e.g. "Lives in Portland, Oregon.").
- Never output a fact that merely restates the question, a greeting, or small talk.
- Never output two facts that say the same thing in different words; keep only the most specific one.
- Assign each fact a category (e.g. "location", "preference", "relationship", "work", "health").
- Assign importance and confidence in [0,1]; importance reflects how useful the fact is for future personalization, confidence reflects how certain the statement is given the transcript.
- If the transcript contains no durable fact, return an empty facts list.`

func factRetrievalPrompt(conversation string, now time.Time) string {
	return fmt.Sprintf("Current date: %s\n\nConversation:\n%s", now.Format("2006-01-02"), conversation)
}

const memoryUpdateSystemPrompt = `You resolve newly extracted facts against a user's existing memories.

You will receive a numbered list mixing existing memories and new facts, sharing one id namespace.
For each new fact id, decide:
- event="ADD" if it is genuinely new information not covered by any existing memory.
- event="UPDATE" if it refines, corrects, or supersedes an existing memory; set id to that existing memory's id and text to the corrected content.
Do not emit a decision for an existing memory id unless a new fact supersedes it.
Never invent an id that was not in the input list.`

// memoryUpdatePrompt renders the unified-id namespace (existing memory
// candidates first, then new facts) as the numbered list the resolution
// prompt references by id.
func memoryUpdatePrompt(candidates []store.MemoryMatch, facts []Fact, factIDs []string) string {
	var b strings.Builder
	b.WriteString("Existing memories:\n")
	if len(candidates) == 0 {
		b.WriteString("(none)\n")
	}
	for i, m := range candidates {
		fmt.Fprintf(&b, "%d. %s\n", i+1, m.Memory.Content)
	}
	b.WriteString("\nNew facts:\n")
	for i, f := range facts {
		fmt.Fprintf(&b, "%s. %s\n", factIDs[i], f.Text)
	}
	return b.String()
}

func parseUnifiedID(id string) (int, bool) {
	n, err := strconv.Atoi(strings.TrimSpace(id))
	if err != nil || n <= 0 {
		return 0, false
	}
	return n, true
}
