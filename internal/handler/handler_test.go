package handler

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chatmemory/engine/internal/store"
)

type stubHandler struct {
	name string
}

func (s stubHandler) Name() string { return s.name }

func (s stubHandler) RenderLine(contentType store.ContentType, content json.RawMessage) (string, error) {
	if string(content) == `"bad"` {
		return "", ErrUnsupportedContent
	}
	return string(contentType) + ":" + string(content), nil
}

func TestRegistry_RenderDispatchesByName(t *testing.T) {
	r := NewRegistry()
	r.Register(stubHandler{name: "stub"})

	line, err := r.Render("stub", store.ContentTypeQuery, json.RawMessage(`"hi"`))
	require.NoError(t, err)
	assert.Equal(t, `query:"hi"`, line)
}

func TestRegistry_RenderUnknownHandler(t *testing.T) {
	r := NewRegistry()
	_, err := r.Render("missing", store.ContentTypeQuery, json.RawMessage(`"hi"`))
	require.ErrorIs(t, err, ErrUnknownHandler)
}

func TestRegistry_RenderPropagatesSchemaMismatch(t *testing.T) {
	r := NewRegistry()
	r.Register(stubHandler{name: "stub"})

	_, err := r.Render("stub", store.ContentTypeQuery, json.RawMessage(`"bad"`))
	require.ErrorIs(t, err, ErrUnsupportedContent)
}

func TestRegistry_RegisterDuplicatePanics(t *testing.T) {
	r := NewRegistry()
	r.Register(stubHandler{name: "dup"})
	assert.Panics(t, func() {
		r.Register(stubHandler{name: "dup"})
	})
}

func TestRegistry_Has(t *testing.T) {
	r := NewRegistry()
	assert.False(t, r.Has("stub"))
	r.Register(stubHandler{name: "stub"})
	assert.True(t, r.Has("stub"))
}
