// Package google provides a ChatModel adapter for Google's Gemini API.
package google

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"

	"github.com/xiaomayi-ant/insight-agent/graph/model"
)

// DefaultModel is used when Config.Model is empty.
const DefaultModel = "gemini-1.5-flash"

// Config configures the adapter.
type Config struct {
	APIKey      string
	Model       string
	Temperature float64
}

// ChatModel implements model.ChatModel over the generative-ai-go SDK.
//
// Call Close when done to release the underlying client.
type ChatModel struct {
	client      *genai.Client
	modelName   string
	temperature float64
}

// NewChatModel creates a ChatModel.
func NewChatModel(ctx context.Context, cfg Config) (*ChatModel, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("google: API key cannot be empty")
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}

	client, err := genai.NewClient(ctx, option.WithAPIKey(cfg.APIKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create Google client: %w", err)
	}
	return &ChatModel{client: client, modelName: cfg.Model, temperature: cfg.Temperature}, nil
}

// Name returns the configured model name.
func (m *ChatModel) Name() string { return m.modelName }

// Close releases the client.
func (m *ChatModel) Close() error {
	if m.client != nil {
		return m.client.Close()
	}
	return nil
}

// Chat implements model.ChatModel.
func (m *ChatModel) Chat(ctx context.Context, messages []model.Message, opts ...model.CallOption) (model.ChatOut, error) {
	if err := ctx.Err(); err != nil {
		return model.ChatOut{}, err
	}

	session, last, err := m.session(messages, model.ApplyOptions(opts...))
	if err != nil {
		return model.ChatOut{}, err
	}

	resp, err := session.SendMessage(ctx, last...)
	if err != nil {
		return model.ChatOut{}, fmt.Errorf("google API error: %w", err)
	}
	if err := blocked(resp); err != nil {
		return model.ChatOut{}, err
	}
	return convertResponse(resp), nil
}

// ChatStream implements model.ChatModel.
func (m *ChatModel) ChatStream(ctx context.Context, messages []model.Message, onChunk func(string), opts ...model.CallOption) (model.ChatOut, error) {
	if err := ctx.Err(); err != nil {
		return model.ChatOut{}, err
	}

	session, last, err := m.session(messages, model.ApplyOptions(opts...))
	if err != nil {
		return model.ChatOut{}, err
	}

	var out model.ChatOut
	iter := session.SendMessageStream(ctx, last...)
	for {
		resp, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return out, fmt.Errorf("google stream: %w", err)
		}
		if err := blocked(resp); err != nil {
			return out, err
		}

		piece := convertResponse(resp)
		if piece.Usage != (model.Usage{}) {
			out.Usage = piece.Usage
		}
		if piece.Text == "" {
			continue
		}
		out.Text += piece.Text
		if onChunk != nil {
			onChunk(piece.Text)
		}
	}
	return out, nil
}

// session builds a chat session holding every message but the last user
// turn, which is returned separately to be sent.
func (m *ChatModel) session(messages []model.Message, o model.CallOptions) (*genai.ChatSession, []genai.Part, error) {
	system, rest := model.SplitSystem(messages)
	if len(rest) == 0 {
		return nil, nil, errors.New("google: at least one user message is required")
	}

	gm := m.client.GenerativeModel(m.modelName)
	temperature := m.temperature
	if o.Temperature != nil {
		temperature = *o.Temperature
	}
	gm.SetTemperature(float32(temperature))
	if o.JSON {
		gm.ResponseMIMEType = "application/json"
	}
	if system != "" {
		gm.SystemInstruction = &genai.Content{Parts: []genai.Part{genai.Text(system)}}
	}

	session := gm.StartChat()
	session.History = convertHistory(rest[:len(rest)-1])
	return session, []genai.Part{genai.Text(rest[len(rest)-1].Content)}, nil
}

func convertHistory(messages []model.Message) []*genai.Content {
	history := make([]*genai.Content, 0, len(messages))
	for _, msg := range messages {
		role := "user"
		if msg.Role == model.RoleAssistant {
			role = "model"
		}
		history = append(history, &genai.Content{Role: role, Parts: []genai.Part{genai.Text(msg.Content)}})
	}
	return history
}

func convertResponse(resp *genai.GenerateContentResponse) model.ChatOut {
	out := model.ChatOut{}
	if resp == nil {
		return out
	}
	if resp.UsageMetadata != nil {
		out.Usage = model.Usage{
			InputTokens:  int(resp.UsageMetadata.PromptTokenCount),
			OutputTokens: int(resp.UsageMetadata.CandidatesTokenCount),
		}
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return out
	}

	var sb strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if text, ok := part.(genai.Text); ok {
			sb.WriteString(string(text))
		}
	}
	out.Text = sb.String()
	return out
}

// blocked turns a safety-filtered response into a SafetyFilterError.
func blocked(resp *genai.GenerateContentResponse) error {
	if resp == nil {
		return nil
	}
	if resp.PromptFeedback != nil && resp.PromptFeedback.BlockReason != genai.BlockReasonUnspecified {
		return &SafetyFilterError{reason: resp.PromptFeedback.BlockReason.String(), category: "prompt"}
	}
	if len(resp.Candidates) > 0 && resp.Candidates[0].FinishReason == genai.FinishReasonSafety {
		category := "unknown"
		for _, rating := range resp.Candidates[0].SafetyRatings {
			if rating.Blocked {
				category = rating.Category.String()
				break
			}
		}
		return &SafetyFilterError{reason: "safety", category: category}
	}
	return nil
}

// SafetyFilterError reports content blocked by Gemini's safety filters.
type SafetyFilterError struct {
	reason   string
	category string
}

func (e *SafetyFilterError) Error() string {
	return "content blocked by safety filter: " + e.category
}

// Category returns the harm category that triggered the block.
func (e *SafetyFilterError) Category() string { return e.category }

// Reason returns the block reason reported by the API.
func (e *SafetyFilterError) Reason() string { return e.reason }
