package simplehandler

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chatmemory/engine/internal/handler"
	"github.com/chatmemory/engine/internal/store"
)

func TestHandler_RendersQueryAndResponse(t *testing.T) {
	h := Handler{}

	line, err := h.RenderLine(store.ContentTypeQuery, QueryContent("Where do I live?"))
	require.NoError(t, err)
	assert.Equal(t, "User: Where do I live?", line)

	line, err = h.RenderLine(store.ContentTypeResponse, ResponseContent("Portland, Oregon."))
	require.NoError(t, err)
	assert.Equal(t, "Assistant: Portland, Oregon.", line)
}

func TestHandler_RejectsMismatchedContent(t *testing.T) {
	h := Handler{}
	_, err := h.RenderLine(store.ContentTypeQuery, ResponseContent("wrong shape"))
	require.ErrorIs(t, err, handler.ErrUnsupportedContent)
}

func TestHandler_RegisteredAtInit(t *testing.T) {
	assert.True(t, handler.DefaultRegistry.Has(Name))
}
