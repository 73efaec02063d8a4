// Package llm wraps the chat-completion and embedding calls the extraction
// pipeline and prompt recall depend on behind a small Gateway interface, so
// callers never import an OpenAI-specific type.
package llm

import "context"

// Gateway is the C2 contract: structured completion against a caller-supplied
// JSON schema, and batch embedding.
type Gateway interface {
	// Complete sends messages to the model and returns the raw JSON object
	// the model produced, validated against schema by the provider's
	// structured-output mode where supported.
	Complete(ctx context.Context, messages []Message, schema *Schema) ([]byte, error)

	// Embed returns one embedding vector per input text, in input order.
	Embed(ctx context.Context, texts []string) ([][]float32, error)

	// Dimensions reports the embedding vector length this gateway produces.
	Dimensions() int
}

// Message is one turn in a chat-completion request.
type Message struct {
	Role    string // system, user, assistant
	Content string
}

func SystemMessage(content string) Message { return Message{Role: "system", Content: content} }
func UserMessage(content string) Message   { return Message{Role: "user", Content: content} }
