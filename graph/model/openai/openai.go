// Package openai provides a ChatModel adapter for OpenAI-compatible chat
// completion endpoints, including DashScope's compatible mode for Qwen.
package openai

import (
	"context"
	"errors"
	"fmt"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"

	"github.com/xiaomayi-ant/insight-agent/graph/model"
)

// DashScopeBaseURL is the OpenAI-compatible endpoint for Qwen models.
const DashScopeBaseURL = "https://dashscope.aliyuncs.com/compatible-mode/v1"

// DefaultModel is used when Config.Model is empty.
const DefaultModel = "qwen-turbo"

// Config configures the adapter.
type Config struct {
	APIKey string

	// BaseURL overrides the API endpoint. Empty means api.openai.com.
	BaseURL string

	Model string

	// Temperature is the default sampling temperature; a per-call
	// model.WithTemperature wins.
	Temperature float64
}

// ChatModel implements model.ChatModel over the openai-go SDK.
//
// Example usage:
//
//	m, err := openai.NewChatModel(openai.Config{
//	    APIKey:  os.Getenv("DASHSCOPE_API_KEY"),
//	    BaseURL: openai.DashScopeBaseURL,
//	    Model:   "qwen-plus",
//	})
//	out, err := m.Chat(ctx, messages, model.WithJSON())
type ChatModel struct {
	client      *openai.Client
	modelName   string
	temperature float64
}

// NewChatModel creates a ChatModel. SDK-level retries are disabled: a
// failed call is reported to the workflow, which decides what to do.
func NewChatModel(cfg Config) (*ChatModel, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("openai: API key cannot be empty")
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}

	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithMaxRetries(0),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	client := openai.NewClient(opts...)
	return &ChatModel{
		client:      &client,
		modelName:   cfg.Model,
		temperature: cfg.Temperature,
	}, nil
}

// Name returns the configured model name.
func (m *ChatModel) Name() string { return m.modelName }

// Chat implements model.ChatModel.
func (m *ChatModel) Chat(ctx context.Context, messages []model.Message, opts ...model.CallOption) (model.ChatOut, error) {
	if err := ctx.Err(); err != nil {
		return model.ChatOut{}, err
	}

	completion, err := m.client.Chat.Completions.New(ctx, m.params(messages, model.ApplyOptions(opts...)))
	if err != nil {
		return model.ChatOut{}, fmt.Errorf("openai chat completion: %w", err)
	}
	if len(completion.Choices) == 0 {
		return model.ChatOut{}, errors.New("openai: no choices in response")
	}

	return model.ChatOut{
		Text: completion.Choices[0].Message.Content,
		Usage: model.Usage{
			InputTokens:  int(completion.Usage.PromptTokens),
			OutputTokens: int(completion.Usage.CompletionTokens),
		},
	}, nil
}

// ChatStream implements model.ChatModel.
func (m *ChatModel) ChatStream(ctx context.Context, messages []model.Message, onChunk func(string), opts ...model.CallOption) (model.ChatOut, error) {
	if err := ctx.Err(); err != nil {
		return model.ChatOut{}, err
	}

	params := m.params(messages, model.ApplyOptions(opts...))
	params.StreamOptions = openai.ChatCompletionStreamOptionsParam{IncludeUsage: openai.Bool(true)}

	stream := m.client.Chat.Completions.NewStreaming(ctx, params)
	defer stream.Close()

	var out model.ChatOut
	for stream.Next() {
		chunk := stream.Current()
		if chunk.Usage.TotalTokens > 0 {
			out.Usage = model.Usage{
				InputTokens:  int(chunk.Usage.PromptTokens),
				OutputTokens: int(chunk.Usage.CompletionTokens),
			}
		}
		if len(chunk.Choices) == 0 {
			continue
		}
		delta := chunk.Choices[0].Delta.Content
		if delta == "" {
			continue
		}
		out.Text += delta
		if onChunk != nil {
			onChunk(delta)
		}
	}
	if err := stream.Err(); err != nil {
		return out, fmt.Errorf("openai chat stream: %w", err)
	}
	return out, nil
}

func (m *ChatModel) params(messages []model.Message, o model.CallOptions) openai.ChatCompletionNewParams {
	temperature := m.temperature
	if o.Temperature != nil {
		temperature = *o.Temperature
	}

	params := openai.ChatCompletionNewParams{
		Model:       shared.ChatModel(m.modelName),
		Messages:    convertMessages(messages),
		Temperature: openai.Float(temperature),
	}
	if o.JSON {
		params.ResponseFormat = openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONObject: openai.Ptr(shared.NewResponseFormatJSONObjectParam()),
		}
	}
	return params
}

func convertMessages(messages []model.Message) []openai.ChatCompletionMessageParamUnion {
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(messages))
	for _, msg := range messages {
		switch msg.Role {
		case model.RoleSystem:
			out = append(out, openai.SystemMessage(msg.Content))
		case model.RoleAssistant:
			out = append(out, openai.AssistantMessage(msg.Content))
		default:
			out = append(out, openai.UserMessage(msg.Content))
		}
	}
	return out
}
