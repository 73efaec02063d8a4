// Package simplehandler is a reference handler implementation for
// question/answer conversational turns. It exists to exercise the
// internal/handler contract end to end and to give the extraction pipeline
// something concrete to render in tests; a real deployment registers its
// own domain-specific handlers the same way.
package simplehandler

import (
	"encoding/json"
	"fmt"

	"github.com/chatmemory/engine/internal/handler"
	"github.com/chatmemory/engine/internal/store"
)

// Name is the value a story's handler column must carry to route through
// this implementation.
const Name = "simple"

type questionContent struct {
	Question string `json:"question"`
}

type answerContent struct {
	Answer string `json:"answer"`
}

// Handler renders {question} content_type=query and {answer}
// content_type=response turns as "User: …" / "Assistant: …" lines.
type Handler struct{}

func (Handler) Name() string { return Name }

func (Handler) RenderLine(contentType store.ContentType, content json.RawMessage) (string, error) {
	switch contentType {
	case store.ContentTypeQuery:
		var c questionContent
		if err := json.Unmarshal(content, &c); err != nil || c.Question == "" {
			return "", fmt.Errorf("%w: expected {question}", handler.ErrUnsupportedContent)
		}
		return "User: " + c.Question, nil
	case store.ContentTypeResponse:
		var c answerContent
		if err := json.Unmarshal(content, &c); err != nil || c.Answer == "" {
			return "", fmt.Errorf("%w: expected {answer}", handler.ErrUnsupportedContent)
		}
		return "Assistant: " + c.Answer, nil
	default:
		return "", fmt.Errorf("%w: unknown content_type %q", handler.ErrUnsupportedContent, contentType)
	}
}

// QueryContent builds the content payload for a query-side message.
func QueryContent(question string) json.RawMessage {
	b, _ := json.Marshal(questionContent{Question: question})
	return b
}

// ResponseContent builds the content payload for a response-side message.
func ResponseContent(answer string) json.RawMessage {
	b, _ := json.Marshal(answerContent{Answer: answer})
	return b
}

func init() {
	handler.DefaultRegistry.Register(Handler{})
}

var _ handler.Handler = Handler{}
