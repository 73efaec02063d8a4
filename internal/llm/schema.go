package llm

import "encoding/json"

// Schema implements json.Marshaler for OpenAI's JSON Schema structured-output
// format. The alias type prevents infinite recursion during marshaling.
type Schema struct {
	Properties           map[string]*Schema `json:"properties,omitempty"`
	Type                 string             `json:"type"`
	Description          string             `json:"description,omitempty"`
	Required             []string           `json:"required,omitempty"`
	Enum                 []string           `json:"enum,omitempty"`
	Items                *Schema            `json:"items,omitempty"`
	AdditionalProperties bool               `json:"additionalProperties"`
}

func (s *Schema) MarshalJSON() ([]byte, error) {
	type alias Schema
	return json.Marshal((*alias)(s))
}

// FactRetrievalSchema is the Stage 2 response shape: normalized declarative
// statements extracted from one batch of rendered conversation lines.
var FactRetrievalSchema = &Schema{
	Type:                 "object",
	AdditionalProperties: false,
	Required:             []string{"facts"},
	Properties: map[string]*Schema{
		"facts": {
			Type: "array",
			Items: &Schema{
				Type:                 "object",
				AdditionalProperties: false,
				Required:             []string{"text", "category", "importance", "confidence"},
				Properties: map[string]*Schema{
					"text":       {Type: "string"},
					"category":   {Type: "string"},
					"importance": {Type: "number", Description: "in [0,1]"},
					"confidence": {Type: "number", Description: "in [0,1]"},
				},
			},
		},
	},
}

// MemoryUpdateSchema is the Stage 5 response shape: one ADD/UPDATE decision
// per candidate fact, referencing the unified id namespace built in Stage 4.
var MemoryUpdateSchema = &Schema{
	Type:                 "object",
	AdditionalProperties: false,
	Required:             []string{"memory"},
	Properties: map[string]*Schema{
		"memory": {
			Type: "array",
			Items: &Schema{
				Type:                 "object",
				AdditionalProperties: false,
				Required:             []string{"id", "event", "text"},
				Properties: map[string]*Schema{
					"id":    {Type: "string", Description: "unified id of the fact or existing memory this decision applies to"},
					"event": {Type: "string", Enum: []string{"ADD", "UPDATE"}},
					"text":  {Type: "string", Description: "the memory content to store"},
				},
			},
		},
	},
}
