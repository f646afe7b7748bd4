package providers

import (
	"context"
	"encoding/base64"
	"fmt"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/openai/openai-go/v3/shared"

	"github.com/pingpal-io/pingpal/pkg/session"
)

// OpenAIProvider talks to the OpenAI chat completions API.
type OpenAIProvider struct {
	client openai.Client
}

// NewOpenAIProvider creates a provider. apiBase may be empty for the default
// endpoint (or point at any OpenAI-compatible service).
func NewOpenAIProvider(apiKey, apiBase string) *OpenAIProvider {
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if apiBase != "" {
		opts = append(opts, option.WithBaseURL(apiBase))
	}
	return &OpenAIProvider{client: openai.NewClient(opts...)}
}

func (p *OpenAIProvider) Name() string { return "openai" }

// Chat sends the conversation and returns the reply. Completed is true only
// when the model reports a normal stop.
func (p *OpenAIProvider) Chat(ctx context.Context, messages []Message, opts Options) (*Response, error) {
	params := openai.ChatCompletionNewParams{
		Model:    shared.ChatModel(opts.Model),
		Messages: toOpenAIMessages(messages),
	}
	if opts.Temperature > 0 {
		params.Temperature = openai.Float(opts.Temperature)
	}
	if opts.MaxTokens > 0 {
		params.MaxCompletionTokens = openai.Int(int64(opts.MaxTokens))
	}
	if opts.ReasoningEffort != "" {
		params.ReasoningEffort = shared.ReasoningEffort(opts.ReasoningEffort)
	}
	if opts.Verbosity != "" {
		params.Verbosity = openai.ChatCompletionNewParamsVerbosity(opts.Verbosity)
	}

	resp, err := p.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("openai: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("openai: response contained no choices")
	}

	choice := resp.Choices[0]
	return &Response{
		Content:   choice.Message.Content,
		Completed: choice.FinishReason == "stop",
	}, nil
}

func toOpenAIMessages(messages []Message) []openai.ChatCompletionMessageParamUnion {
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(messages))
	for _, m := range messages {
		switch m.Role {
		case session.RoleSystem:
			out = append(out, openai.SystemMessage(m.Text))
		case session.RoleAssistant:
			out = append(out, openai.AssistantMessage(m.Text))
		default:
			if len(m.Images) == 0 {
				out = append(out, openai.UserMessage(m.Text))
				continue
			}
			parts := []openai.ChatCompletionContentPartUnionParam{
				openai.TextContentPart(m.Text),
			}
			for _, img := range m.Images {
				uri := fmt.Sprintf("data:%s;base64,%s",
					img.MimeType, base64.StdEncoding.EncodeToString(img.Data))
				parts = append(parts, openai.ImageContentPart(
					openai.ChatCompletionContentPartImageImageURLParam{URL: uri}))
			}
			out = append(out, openai.UserMessage(parts))
		}
	}
	return out
}
