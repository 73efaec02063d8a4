package extraction

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/chatmemory/engine/internal/handler"
	"github.com/chatmemory/engine/internal/llm"
	"github.com/chatmemory/engine/internal/store"
	"github.com/chatmemory/engine/internal/telemetry"
)

const (
	defaultResolutionTopK   = 3
	defaultResolutionMinSim = 0.7
)

// Pipeline runs the six-stage extraction described by Extract.
type Pipeline struct {
	Store    store.Driver
	Handlers *handler.Registry
	LLM      llm.Gateway

	// Metrics is optional; when set, Extract reports started/succeeded/
	// failed counters.
	Metrics *telemetry.Metrics

	// ResolutionTopK and ResolutionMinSimilarity bound Stage 4's
	// bulk_search call. Zero values fall back to the spec defaults (3 and
	// 0.7).
	ResolutionTopK          int
	ResolutionMinSimilarity float64

	// Clock is swappable in tests; defaults to time.Now.
	Clock func() time.Time
}

func (p *Pipeline) now() time.Time {
	if p.Clock != nil {
		return p.Clock()
	}
	return time.Now()
}

func (p *Pipeline) topK() int {
	if p.ResolutionTopK > 0 {
		return p.ResolutionTopK
	}
	return defaultResolutionTopK
}

func (p *Pipeline) minSimilarity() float64 {
	if p.ResolutionMinSimilarity > 0 {
		return p.ResolutionMinSimilarity
	}
	return defaultResolutionMinSim
}

// Extract runs Stages 1-6 for userID and returns the batch's counts.
func (p *Pipeline) Extract(ctx context.Context, userID string) (Stats, error) {
	if p.Metrics != nil {
		p.Metrics.ExtractionStarted()
	}
	stats, err := p.extract(ctx, userID)
	if p.Metrics != nil {
		if err != nil {
			p.Metrics.ExtractionFailed(telemetryKind(err))
		} else {
			p.Metrics.ExtractionSucceeded()
		}
	}
	return stats, err
}

func telemetryKind(err error) string {
	switch {
	case errors.Is(err, ErrUnknownHandler):
		return "unknown_handler"
	case errors.Is(err, llm.ErrInvalidResponse):
		return "invalid_response"
	case errors.Is(err, llm.ErrEmptyResponse):
		return "empty_response"
	default:
		return "transport"
	}
}

// observeStage records one stage's wall-clock cost when Metrics is
// configured; it's a no-op otherwise, so stage timing never needs its own
// nil guard at every call site.
func (p *Pipeline) observeStage(stage string, start time.Time) {
	if p.Metrics != nil {
		p.Metrics.ObserveStage(stage, time.Since(start))
	}
}

func (p *Pipeline) extract(ctx context.Context, userID string) (Stats, error) {
	// Stage 1 — load pending.
	stageStart := time.Now()
	pending, err := p.Store.FindPending(ctx, userID)
	p.observeStage("load_pending", stageStart)
	if err != nil {
		return Stats{}, errors.Wrap(err, "extraction: load pending messages")
	}
	if len(pending) == 0 {
		return Stats{}, nil
	}

	messageIDs := make([]int64, len(pending))
	for i, m := range pending {
		messageIDs[i] = m.ID
	}

	// Stage 2 — render, fail the whole batch on an unregistered handler.
	stageStart = time.Now()
	lines, err := p.renderLines(pending)
	p.observeStage("render", stageStart)
	if err != nil {
		return Stats{}, err
	}

	var facts []Fact
	if len(lines) > 0 {
		stageStart = time.Now()
		facts, err = p.retrieveFacts(ctx, lines)
		p.observeStage("retrieve_facts", stageStart)
		if err != nil {
			return Stats{}, errors.Wrap(err, "extraction: fact retrieval")
		}
	}

	factsExtracted := len(facts)
	facts = dropEmptyFacts(facts)

	if len(facts) == 0 {
		// Stage 6 with an empty plan: nothing to mutate but the batch's
		// messages still flip to extracted.
		stageStart = time.Now()
		err := p.applyPlan(ctx, DecisionPlan{}, messageIDs)
		p.observeStage("apply", stageStart)
		if err != nil {
			return Stats{}, errors.Wrap(err, "extraction: apply empty plan")
		}
		return Stats{FactsExtracted: factsExtracted, MessagesExtracted: len(pending)}, nil
	}

	// Stage 3 — embed facts, order-preserving.
	stageStart = time.Now()
	factEmbeddings, err := p.LLM.Embed(ctx, factTexts(facts))
	p.observeStage("embed", stageStart)
	if err != nil {
		return Stats{}, errors.Wrap(err, "extraction: embed facts")
	}

	// Stage 4 — resolution context.
	stageStart = time.Now()
	candidates, err := p.buildResolutionContext(ctx, userID, factEmbeddings)
	p.observeStage("resolution_context", stageStart)
	if err != nil {
		return Stats{}, errors.Wrap(err, "extraction: build resolution context")
	}

	origins, factIDs := unifiedNamespace(candidates, facts)

	// Stage 5 — decide ADD vs UPDATE.
	stageStart = time.Now()
	decisions, err := p.decide(ctx, candidates, facts, factIDs)
	p.observeStage("decide", stageStart)
	if err != nil {
		return Stats{}, errors.Wrap(err, "extraction: memory decision")
	}

	plan, err := p.buildPlan(ctx, userID, decisions, origins, facts, factEmbeddings, factIDs)
	if err != nil {
		return Stats{}, errors.Wrap(err, "extraction: build decision plan")
	}

	// Stage 6 — apply.
	stageStart = time.Now()
	err = p.applyPlan(ctx, plan, messageIDs)
	p.observeStage("apply", stageStart)
	if err != nil {
		return Stats{}, errors.Wrap(err, "extraction: apply decision plan")
	}

	return Stats{
		FactsExtracted:    factsExtracted,
		MemoriesAdded:     len(plan.Adds),
		MemoriesUpdated:   len(plan.Updates),
		MessagesExtracted: len(pending),
	}, nil
}

// renderLines renders every pending message through its story's handler.
// An unregistered handler aborts the entire batch (ErrUnknownHandler);
// a single message failing its handler's schema is dropped from the
// conversation but never blocks the batch.
func (p *Pipeline) renderLines(pending []store.PendingMessage) ([]string, error) {
	lines := make([]string, 0, len(pending))
	for _, m := range pending {
		if !p.Handlers.Has(m.Handler) {
			return nil, fmt.Errorf("%w: %q", ErrUnknownHandler, m.Handler)
		}
		line, err := p.Handlers.Render(m.Handler, m.ContentType, m.Content)
		if err != nil {
			if errors.Is(err, handler.ErrUnsupportedContent) {
				continue
			}
			return nil, err
		}
		lines = append(lines, line)
	}
	return lines, nil
}

func (p *Pipeline) retrieveFacts(ctx context.Context, lines []string) ([]Fact, error) {
	conversation := strings.Join(lines, "\n\n")
	messages := []llm.Message{
		llm.SystemMessage(factRetrievalSystemPrompt),
		llm.UserMessage(factRetrievalPrompt(conversation, p.now())),
	}

	raw, err := p.LLM.Complete(ctx, messages, llm.FactRetrievalSchema)
	if err != nil {
		return nil, err
	}

	var out struct {
		Facts []Fact `json:"facts"`
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, errors.Wrap(llm.ErrInvalidResponse, err.Error())
	}
	return out.Facts, nil
}

func dropEmptyFacts(facts []Fact) []Fact {
	out := make([]Fact, 0, len(facts))
	for _, f := range facts {
		f.Text = strings.TrimSpace(f.Text)
		if f.Text == "" {
			continue
		}
		out = append(out, f)
	}
	return out
}

func factTexts(facts []Fact) []string {
	texts := make([]string, len(facts))
	for i, f := range facts {
		texts[i] = f.Text
	}
	return texts
}

// buildResolutionContext runs Stage 4's bulk_search and flattens the
// results, deduplicating by memory id with first-occurrence order.
func (p *Pipeline) buildResolutionContext(ctx context.Context, userID string, factEmbeddings [][]float32) ([]store.MemoryMatch, error) {
	results, err := p.Store.BulkSearch(ctx, factEmbeddings, store.SearchOptions{
		UserID:        userID,
		TopK:          p.topK(),
		MinSimilarity: p.minSimilarity(),
	})
	if err != nil {
		return nil, err
	}

	seen := make(map[int64]bool)
	var candidates []store.MemoryMatch
	for _, matches := range results {
		for _, m := range matches {
			if seen[m.Memory.ID] {
				continue
			}
			seen[m.Memory.ID] = true
			candidates = append(candidates, m)
		}
	}
	return candidates, nil
}

// unifiedNamespace assigns candidates ids "1".."N" and facts ids
// "N+1".."N+M", returning the id->origin map and the per-fact id slice
// (aligned to facts, for prompt rendering).
func unifiedNamespace(candidates []store.MemoryMatch, facts []Fact) (map[int]origin, []string) {
	origins := make(map[int]origin, len(candidates)+len(facts))
	for i := range candidates {
		origins[i+1] = origin{memory: &candidates[i]}
	}
	factIDs := make([]string, len(facts))
	for i := range facts {
		id := len(candidates) + i + 1
		origins[id] = origin{fact: &facts[i]}
		factIDs[i] = fmt.Sprintf("%d", id)
	}
	return origins, factIDs
}

func (p *Pipeline) decide(ctx context.Context, candidates []store.MemoryMatch, facts []Fact, factIDs []string) ([]Decision, error) {
	messages := []llm.Message{
		llm.SystemMessage(memoryUpdateSystemPrompt),
		llm.UserMessage(memoryUpdatePrompt(candidates, facts, factIDs)),
	}

	raw, err := p.LLM.Complete(ctx, messages, llm.MemoryUpdateSchema)
	if err != nil {
		return nil, err
	}

	var out struct {
		Memory []struct {
			ID    string `json:"id"`
			Event Event  `json:"event"`
			Text  string `json:"text"`
		} `json:"memory"`
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, errors.Wrap(llm.ErrInvalidResponse, err.Error())
	}

	decisions := make([]Decision, len(out.Memory))
	for i, m := range out.Memory {
		decisions[i] = Decision{ID: m.ID, Event: m.Event, Text: m.Text}
	}
	return decisions, nil
}

// buildPlan validates raw decisions against the unified id namespace,
// drops anything unresolvable per §8's boundary behaviors, and batch-embeds
// only the texts that need a fresh embedding.
func (p *Pipeline) buildPlan(ctx context.Context, userID string, decisions []Decision, origins map[int]origin, facts []Fact, factEmbeddings [][]float32, factIDs []string) (DecisionPlan, error) {
	factEmbeddingByID := make(map[string][]float32, len(facts))
	for i, id := range factIDs {
		factEmbeddingByID[id] = factEmbeddings[i]
	}

	type pendingAdd struct {
		fact *Fact
		text string
	}
	type pendingUpdate struct {
		memory *store.MemoryMatch
		text   string
	}

	var adds []pendingAdd
	var updates []pendingUpdate
	toEmbed := make(map[string]bool)

	for _, d := range decisions {
		idx, ok := parseUnifiedID(d.ID)
		if !ok {
			continue // unparseable unified id, dropped per §8
		}
		o, ok := origins[idx]
		if !ok {
			continue // PartialDecision: unknown unified id
		}
		text := strings.TrimSpace(d.Text)
		if text == "" {
			continue
		}

		switch d.Event {
		case EventAdd:
			if o.fact == nil {
				continue // ADD must reference a fact, not an existing memory
			}
			adds = append(adds, pendingAdd{fact: o.fact, text: text})
			if text != strings.TrimSpace(o.fact.Text) {
				toEmbed[text] = true
			}
		case EventUpdate:
			if o.memory == nil {
				continue // UPDATE must reference an existing memory
			}
			updates = append(updates, pendingUpdate{memory: o.memory, text: text})
			toEmbed[text] = true
		}
	}

	embeddingByText := make(map[string][]float32, len(toEmbed))
	if len(toEmbed) > 0 {
		texts := make([]string, 0, len(toEmbed))
		for t := range toEmbed {
			texts = append(texts, t)
		}
		vectors, err := p.LLM.Embed(ctx, texts)
		if err != nil {
			return DecisionPlan{}, err
		}
		for i, t := range texts {
			embeddingByText[t] = vectors[i]
		}
	}

	var plan DecisionPlan
	for _, a := range adds {
		embedding := embeddingByText[a.text]
		if embedding == nil {
			// text unchanged from the original fact; reuse its embedding.
			if fid, ok := indexOfFact(facts, a.fact); ok {
				embedding = factEmbeddings[fid]
			}
		}
		plan.Adds = append(plan.Adds, planAdd{create: store.CreateMemory{
			UserID:     userID,
			Content:    a.text,
			Category:   a.fact.Category,
			Action:     store.ActionAdd,
			Embedding:  embedding,
			Importance: a.fact.Importance,
			Confidence: a.fact.Confidence,
		}})
	}
	for _, u := range updates {
		plan.Updates = append(plan.Updates, planUpdate{
			memoryID:    u.memory.Memory.ID,
			prevContent: u.memory.Memory.Content,
			content:     u.text,
			embedding:   embeddingByText[u.text],
		})
	}

	return plan, nil
}

func indexOfFact(facts []Fact, target *Fact) (int, bool) {
	for i := range facts {
		if &facts[i] == target {
			return i, true
		}
	}
	return 0, false
}

// applyPlan runs Stage 6: every memory mutation and the extracted-flag flip
// commit together or not at all.
func (p *Pipeline) applyPlan(ctx context.Context, plan DecisionPlan, messageIDs []int64) error {
	return p.Store.WithTx(ctx, func(tx store.Tx) error {
		for _, a := range plan.Adds {
			if _, err := tx.Insert(ctx, a.create); err != nil {
				return err
			}
		}
		for _, u := range plan.Updates {
			if _, err := tx.Update(ctx, u.memoryID, store.UpdateMemory{
				Content:     u.content,
				PrevContent: u.prevContent,
				Embedding:   u.embedding,
				Action:      store.ActionUpdate,
			}); err != nil {
				return err
			}
		}
		return tx.MarkExtracted(ctx, messageIDs)
	})
}
