package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/pkg/errors"
	"github.com/sashabaranov/go-openai"
)

// Config configures the OpenAI-compatible gateway. Provider selects the
// base URL preset; any OpenAI-compatible endpoint can be reached through
// BaseURL directly.
type Config struct {
	Provider       string // openai, deepseek, siliconflow, ollama, zai, dashscope
	Model          string
	EmbeddingModel string
	BaseURL        string
	APIKey         string
	EmbeddingDims  int
	MaxTokens      int
	Temperature    float32
	TimeoutSeconds int
}

type openAIGateway struct {
	client      *openai.Client
	model       string
	embedModel  string
	dims        int
	maxTokens   int
	temperature float32
	timeout     time.Duration
}

// NewOpenAIGateway builds a Gateway against an OpenAI-compatible endpoint.
func NewOpenAIGateway(cfg Config) (Gateway, error) {
	clientConfig := openai.DefaultConfig(cfg.APIKey)

	baseURL := cfg.BaseURL
	switch cfg.Provider {
	case "deepseek":
		if baseURL == "" {
			baseURL = "https://api.deepseek.com"
		}
	case "siliconflow":
		if baseURL == "" {
			baseURL = "https://api.siliconflow.cn/v1"
		}
	case "zai":
		if baseURL == "" {
			baseURL = "https://open.bigmodel.cn/api/paas/v4"
		}
	case "dashscope":
		if baseURL == "" {
			baseURL = "https://dashscope.aliyuncs.com/compatible-mode/v1"
		}
	case "ollama":
		if baseURL == "" {
			baseURL = "http://localhost:11434"
		}
	case "openai", "":
		// use go-openai's default base URL unless overridden
	default:
		slog.Info("llm: using generic OpenAI-compatible provider", "provider", cfg.Provider)
	}
	if baseURL != "" {
		clientConfig.BaseURL = baseURL
	}

	timeout := cfg.TimeoutSeconds
	if timeout <= 0 {
		timeout = 60
	}

	dims := cfg.EmbeddingDims
	if dims <= 0 {
		dims = 1536
	}

	return &openAIGateway{
		client:      openai.NewClientWithConfig(clientConfig),
		model:       cfg.Model,
		embedModel:  cfg.EmbeddingModel,
		dims:        dims,
		maxTokens:   cfg.MaxTokens,
		temperature: cfg.Temperature,
		timeout:     time.Duration(timeout) * time.Second,
	}, nil
}

func (g *openAIGateway) Complete(ctx context.Context, messages []Message, schema *Schema) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	req := openai.ChatCompletionRequest{
		Model:       g.model,
		MaxTokens:   g.maxTokens,
		Temperature: g.temperature,
		Messages:    convertMessages(messages),
	}
	if schema != nil {
		req.ResponseFormat = &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONSchema,
			JSONSchema: &openai.ChatCompletionResponseFormatJSONSchema{
				Name:   "structured_response",
				Strict: true,
				Schema: schema,
			},
		}
	}

	start := time.Now()
	resp, err := g.client.CreateChatCompletion(ctx, req)
	latency := time.Since(start)
	if err != nil {
		slog.Error("llm: completion request failed", "model", g.model, "error", err, "latency_ms", latency.Milliseconds())
		return nil, errors.Wrap(err, "llm completion failed")
	}
	if len(resp.Choices) == 0 {
		return nil, ErrEmptyResponse
	}

	content := resp.Choices[0].Message.Content
	if schema != nil && !json.Valid([]byte(content)) {
		return nil, errors.Wrap(ErrInvalidResponse, content)
	}

	slog.Debug("llm: completion succeeded",
		"model", g.model,
		"latency_ms", latency.Milliseconds(),
		"total_tokens", resp.Usage.TotalTokens,
	)
	return []byte(content), nil
}

func (g *openAIGateway) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	req := openai.EmbeddingRequest{
		Input:      texts,
		Model:      openai.EmbeddingModel(g.embedModel),
		Dimensions: g.dims,
	}
	resp, err := g.client.CreateEmbeddings(ctx, req)
	if err != nil {
		return nil, errors.Wrap(err, "llm embedding request failed")
	}
	if len(resp.Data) == 0 {
		return nil, ErrEmptyResponse
	}
	if len(resp.Data) != len(texts) {
		return nil, errors.Wrap(ErrInvalidResponse, fmt.Sprintf("expected %d embeddings, got %d", len(texts), len(resp.Data)))
	}

	vectors := make([][]float32, len(resp.Data))
	for _, d := range resp.Data {
		vectors[d.Index] = d.Embedding
	}
	return vectors, nil
}

func (g *openAIGateway) Dimensions() int { return g.dims }

func convertMessages(messages []Message) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, len(messages))
	for i, m := range messages {
		role := openai.ChatMessageRoleUser
		switch m.Role {
		case "system":
			role = openai.ChatMessageRoleSystem
		case "assistant":
			role = openai.ChatMessageRoleAssistant
		}
		out[i] = openai.ChatCompletionMessage{Role: role, Content: m.Content}
	}
	return out
}
