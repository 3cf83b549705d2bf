package llm

import (
	"context"
	"errors"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// AnthropicProvider implements Provider against the Anthropic Messages API.
type AnthropicProvider struct {
	client       anthropic.Client
	defaultModel string
}

// AnthropicConfig configures an AnthropicProvider.
type AnthropicConfig struct {
	APIKey       string
	BaseURL      string
	DefaultModel string
}

// NewAnthropicProvider constructs a client-backed provider. An empty
// APIKey is accepted (the SDK falls back to ANTHROPIC_API_KEY) so
// construction never fails at config-load time.
func NewAnthropicProvider(cfg AnthropicConfig) (*AnthropicProvider, error) {
	var options []option.RequestOption
	if cfg.APIKey != "" {
		options = append(options, option.WithAPIKey(cfg.APIKey))
	}
	if cfg.BaseURL != "" {
		options = append(options, option.WithBaseURL(cfg.BaseURL))
	}
	model := cfg.DefaultModel
	if model == "" {
		model = "claude-sonnet-4-20250514"
	}
	return &AnthropicProvider{
		client:       anthropic.NewClient(options...),
		defaultModel: model,
	}, nil
}

func (p *AnthropicProvider) Name() string { return "anthropic" }

func (p *AnthropicProvider) SupportsTools() bool { return true }

func (p *AnthropicProvider) Models() []Model {
	return []Model{
		{ID: "claude-opus-4-20250514", ContextSize: 200000},
		{ID: "claude-sonnet-4-20250514", ContextSize: 200000},
		{ID: "claude-3-5-haiku-20241022", ContextSize: 200000},
	}
}

func (p *AnthropicProvider) Complete(ctx context.Context, req *Request) (*Response, error) {
	model := req.Model
	if model == "" {
		model = p.defaultModel
	}
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 4096
	}

	messages := make([]anthropic.MessageParam, 0, len(req.Messages))
	for _, m := range req.Messages {
		block := anthropic.NewTextBlock(m.Content)
		switch m.Role {
		case "assistant":
			messages = append(messages, anthropic.NewAssistantMessage(block))
		default:
			messages = append(messages, anthropic.NewUserMessage(block))
		}
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		Messages:  messages,
		MaxTokens: int64(maxTokens),
	}
	if req.System != "" {
		params.System = []anthropic.TextBlockParam{{Type: "text", Text: req.System}}
	}

	msg, err := p.client.Messages.New(ctx, params)
	if err != nil {
		return nil, &ModelError{Provider: p.Name(), Err: err, Retryable: isRetryableAnthropicError(err)}
	}

	var text string
	for _, block := range msg.Content {
		if tb := block.AsAny(); tb != nil {
			if t, ok := tb.(anthropic.TextBlock); ok {
				text += t.Text
			}
		}
	}

	return &Response{
		Text:         text,
		InputTokens:  msg.Usage.InputTokens,
		OutputTokens: msg.Usage.OutputTokens,
		StopReason:   string(msg.StopReason),
	}, nil
}

func isRetryableAnthropicError(err error) bool {
	if err == nil {
		return false
	}
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		switch apiErr.StatusCode {
		case 429, 500, 502, 503, 504:
			return true
		default:
			return false
		}
	}
	return false
}
