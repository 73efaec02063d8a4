package llm

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFactRetrievalSchema_Marshals(t *testing.T) {
	data, err := json.Marshal(FactRetrievalSchema)
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, "object", decoded["type"])
	assert.Contains(t, decoded, "properties")
}

func TestMemoryUpdateSchema_RequiresEventAndText(t *testing.T) {
	memory, ok := MemoryUpdateSchema.Properties["memory"]
	require.True(t, ok)
	require.NotNil(t, memory.Items)
	assert.ElementsMatch(t, []string{"id", "event", "text"}, memory.Items.Required)
	assert.Equal(t, []string{"ADD", "UPDATE"}, memory.Items.Properties["event"].Enum)
}

func TestConvertMessages_MapsRoles(t *testing.T) {
	out := convertMessages([]Message{
		{Role: "system", Content: "a"},
		{Role: "user", Content: "b"},
		{Role: "assistant", Content: "c"},
		{Role: "unknown", Content: "d"},
	})

	require.Len(t, out, 4)
	assert.Equal(t, "system", out[0].Role)
	assert.Equal(t, "user", out[1].Role)
	assert.Equal(t, "assistant", out[2].Role)
	assert.Equal(t, "user", out[3].Role)
}
