// Package model provides LLM integration adapters.
package model

import "context"

// ChatModel defines the interface for LLM chat providers.
//
// This interface abstracts the differences between the providers the
// workflow can run against (an OpenAI-compatible endpoint such as
// DashScope, Anthropic, Google) behind one unified API.
//
// Implementations should:
//   - Handle provider-specific authentication
//   - Convert the standard Message format to the provider's format
//   - Respect context cancellation and timeouts
//   - Report token usage when the provider returns it
//
// Example usage:
//
//	m := openai.NewChatModel(openai.Config{APIKey: key, Model: "qwen-plus"})
//	out, err := m.Chat(ctx, []model.Message{
//	    {Role: model.RoleUser, Content: "你好"},
//	}, model.WithJSON())
type ChatModel interface {
	// Chat sends messages to the LLM and returns the complete response.
	Chat(ctx context.Context, messages []Message, opts ...CallOption) (ChatOut, error)

	// ChatStream sends messages and calls onChunk for every text fragment
	// as it arrives. The returned ChatOut holds the full concatenated text.
	// Providers that cannot stream may return the full text without ever
	// calling onChunk.
	ChatStream(ctx context.Context, messages []Message, onChunk func(string), opts ...CallOption) (ChatOut, error)
}

// Message represents a single message in an LLM conversation.
type Message struct {
	// Role identifies the message sender. Use the Role* constants.
	Role string `json:"role"`

	// Content contains the message text.
	Content string `json:"content"`
}

// Standard role constants for LLM conversations.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ChatOut represents the output from an LLM chat completion.
type ChatOut struct {
	// Text contains the LLM's generated response.
	Text string

	// Usage reports token consumption, zero when the provider omits it.
	Usage Usage
}

// Usage counts the tokens consumed by one call.
type Usage struct {
	InputTokens  int
	OutputTokens int
}

// CallOptions holds per-call generation settings.
type CallOptions struct {
	// JSON asks the provider for a single JSON object response.
	JSON bool

	// Temperature overrides the model's sampling temperature when set.
	Temperature *float64
}

// CallOption configures a single Chat or ChatStream call.
type CallOption func(*CallOptions)

// WithJSON requests JSON-object output.
func WithJSON() CallOption {
	return func(o *CallOptions) { o.JSON = true }
}

// WithTemperature sets the sampling temperature for one call.
func WithTemperature(t float64) CallOption {
	return func(o *CallOptions) { o.Temperature = &t }
}

// ApplyOptions folds opts into a CallOptions value. Adapters call it once
// per request.
func ApplyOptions(opts ...CallOption) CallOptions {
	var o CallOptions
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	return o
}

// SplitSystem separates leading system messages from the conversation.
// Providers with a dedicated system field (Anthropic, Gemini) use it; the
// system texts are joined with blank lines.
func SplitSystem(messages []Message) (system string, rest []Message) {
	for _, m := range messages {
		if m.Role == RoleSystem {
			if system != "" {
				system += "\n\n"
			}
			system += m.Content
			continue
		}
		rest = append(rest, m)
	}
	return system, rest
}
