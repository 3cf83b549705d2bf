package llm

import (
	"context"
	"errors"

	openai "github.com/sashabaranov/go-openai"
)

// OpenAIProvider implements Provider against the OpenAI Chat Completions API.
type OpenAIProvider struct {
	client       *openai.Client
	defaultModel string
}

// OpenAIConfig configures an OpenAIProvider.
type OpenAIConfig struct {
	APIKey       string
	BaseURL      string
	DefaultModel string
}

func NewOpenAIProvider(cfg OpenAIConfig) (*OpenAIProvider, error) {
	if cfg.APIKey == "" {
		return &OpenAIProvider{defaultModel: defaultOrFallback(cfg.DefaultModel, openai.GPT4o)}, nil
	}
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	return &OpenAIProvider{
		client:       openai.NewClientWithConfig(clientCfg),
		defaultModel: defaultOrFallback(cfg.DefaultModel, openai.GPT4o),
	}, nil
}

func defaultOrFallback(v, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}

func (p *OpenAIProvider) Name() string { return "openai" }

func (p *OpenAIProvider) SupportsTools() bool { return true }

func (p *OpenAIProvider) Models() []Model {
	return []Model{
		{ID: openai.GPT4o, ContextSize: 128000},
		{ID: openai.GPT4Turbo, ContextSize: 128000},
		{ID: openai.GPT3Dot5Turbo, ContextSize: 16385},
	}
}

func (p *OpenAIProvider) Complete(ctx context.Context, req *Request) (*Response, error) {
	if p.client == nil {
		return nil, &ModelError{Provider: p.Name(), Err: errors.New("openai API key not configured"), Retryable: false}
	}
	model := req.Model
	if model == "" {
		model = p.defaultModel
	}
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 4096
	}

	messages := make([]openai.ChatCompletionMessage, 0, len(req.Messages)+1)
	if req.System != "" {
		messages = append(messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: req.System})
	}
	for _, m := range req.Messages {
		role := openai.ChatMessageRoleUser
		if m.Role == "assistant" {
			role = openai.ChatMessageRoleAssistant
		}
		messages = append(messages, openai.ChatCompletionMessage{Role: role, Content: m.Content})
	}

	resp, err := p.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       model,
		Messages:    messages,
		MaxTokens:   maxTokens,
		Temperature: float32(req.Temperature),
	})
	if err != nil {
		return nil, &ModelError{Provider: p.Name(), Err: err, Retryable: isRetryableOpenAIError(err)}
	}
	if len(resp.Choices) == 0 {
		return nil, &ModelError{Provider: p.Name(), Err: errors.New("empty choices in response"), Retryable: false}
	}

	return &Response{
		Text:         resp.Choices[0].Message.Content,
		InputTokens:  int64(resp.Usage.PromptTokens),
		OutputTokens: int64(resp.Usage.CompletionTokens),
		StopReason:   string(resp.Choices[0].FinishReason),
	}, nil
}

func isRetryableOpenAIError(err error) bool {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.HTTPStatusCode {
		case 429, 500, 502, 503, 504:
			return true
		}
	}
	return false
}
