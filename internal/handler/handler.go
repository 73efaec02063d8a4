// Package handler defines the contract the core's extraction pipeline uses
// to turn opaque, handler-specific message content into plain-text lines,
// and the write-once registry that maps a story's handler name to its
// implementation. The handlers themselves are collaborators: this module
// ships the contract and registry, not a production persona.
package handler

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/chatmemory/engine/internal/store"
)

// Handler knows how to validate and render one shape of message content.
// A handler is stateless and registered once at process init.
type Handler interface {
	// Name is the value stored on story.handler that selects this handler.
	Name() string

	// RenderLine turns one message's content into a single plain-text
	// line for the fact-extraction prompt, of the form "User: …" or
	// "Assistant: …" depending on contentType. It returns
	// ErrUnsupportedContent (wrapped) if content fails this
	// handler's schema.
	RenderLine(contentType store.ContentType, content json.RawMessage) (string, error)
}

// ErrUnsupportedContent is wrapped and returned by RenderLine when content
// does not match the handler's expected shape. Stage 2 of the extraction
// pipeline treats it as "drop from rendering, still mark extracted."
var ErrUnsupportedContent = fmt.Errorf("handler: content does not match handler schema")

// ErrUnknownHandler is returned by Registry.Render when no handler is
// registered under the requested name. Stage 2 treats this as fatal for the
// whole batch.
var ErrUnknownHandler = fmt.Errorf("handler: no handler registered under this name")

// Registry maps a handler name to its implementation. It is write-once by
// convention: every handler registers itself from its own package's init(),
// and nothing unregisters or replaces an entry afterward.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

// NewRegistry creates an empty registry. The module-level DefaultRegistry is
// normally what callers populate and read from; NewRegistry exists for
// tests that want an isolated set of handlers.
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]Handler)}
}

// Register adds h under h.Name(). It panics on a duplicate name — a
// collision means two handler packages picked the same identifier, which is
// a programming error caught at init time, not a runtime condition to
// recover from.
func (r *Registry) Register(h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.handlers[h.Name()]; exists {
		panic("handler: duplicate registration for " + h.Name())
	}
	r.handlers[h.Name()] = h
}

// Render looks up name and renders content through it.
func (r *Registry) Render(name string, contentType store.ContentType, content json.RawMessage) (string, error) {
	r.mu.RLock()
	h, ok := r.handlers[name]
	r.mu.RUnlock()
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownHandler, name)
	}
	return h.RenderLine(contentType, content)
}

// Has reports whether name is registered, without rendering anything.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.handlers[name]
	return ok
}

// DefaultRegistry is the process-wide registry handler packages register
// into from their own init() functions.
var DefaultRegistry = NewRegistry()
