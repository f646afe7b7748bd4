package providers

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/pingpal-io/pingpal/pkg/session"
)

// AnthropicProvider talks to the Anthropic Messages API.
type AnthropicProvider struct {
	client anthropic.Client
}

// NewAnthropicProvider creates a provider; apiBase may be empty.
func NewAnthropicProvider(apiKey, apiBase string) *AnthropicProvider {
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if apiBase != "" {
		opts = append(opts, option.WithBaseURL(apiBase))
	}
	return &AnthropicProvider{client: anthropic.NewClient(opts...)}
}

func (p *AnthropicProvider) Name() string { return "anthropic" }

// Chat sends the conversation and returns the reply. The system turn is
// lifted out of the message list, as the Messages API requires.
func (p *AnthropicProvider) Chat(ctx context.Context, messages []Message, opts Options) (*Response, error) {
	maxTokens := int64(opts.MaxTokens)
	if maxTokens <= 0 {
		maxTokens = 1024
	}
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(opts.Model),
		MaxTokens: maxTokens,
	}
	if opts.Temperature > 0 {
		params.Temperature = anthropic.Float(opts.Temperature)
	}

	for _, m := range messages {
		switch m.Role {
		case session.RoleSystem:
			params.System = append(params.System, anthropic.TextBlockParam{Text: m.Text})
		case session.RoleAssistant:
			params.Messages = append(params.Messages,
				anthropic.NewAssistantMessage(anthropic.NewTextBlock(m.Text)))
		default:
			blocks := []anthropic.ContentBlockParamUnion{anthropic.NewTextBlock(m.Text)}
			for _, img := range m.Images {
				blocks = append(blocks, anthropic.NewImageBlockBase64(
					img.MimeType, base64.StdEncoding.EncodeToString(img.Data)))
			}
			params.Messages = append(params.Messages, anthropic.NewUserMessage(blocks...))
		}
	}

	resp, err := p.client.Messages.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("anthropic: %w", err)
	}

	var text strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}
	return &Response{
		Content:   text.String(),
		Completed: resp.StopReason == anthropic.StopReasonEndTurn,
	}, nil
}
