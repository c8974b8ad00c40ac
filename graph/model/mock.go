package model

import (
	"context"
	"sync"
)

// MockChatModel is a test implementation of ChatModel.
//
// Use MockChatModel in tests to verify workflow behavior without making
// actual LLM API calls. It provides:
//   - Configurable responses, in sequence or computed per call
//   - Call history tracking
//   - Error injection
//   - Simulated streaming
//   - Thread-safe operation
//
// Example usage:
//
//	mock := &MockChatModel{
//	    Responses: []ChatOut{
//	        {Text: "First response"},
//	        {Text: "Second response"},
//	    },
//	}
//	out, err := mock.Chat(ctx, messages)
//	// Returns "First response", then "Second response" on subsequent calls
type MockChatModel struct {
	// Responses contains the sequence of responses to return.
	// If all responses are consumed, the last response repeats.
	Responses []ChatOut

	// Handler, if set, computes the response for each call and takes
	// precedence over Responses and Err. Batch tests use it to answer
	// concurrent calls by content rather than by arrival order.
	Handler func(messages []Message, opts CallOptions) (ChatOut, error)

	// Err, if set, will be returned instead of a response.
	Err error

	// ChunkSize is the number of runes per simulated stream chunk.
	// Zero makes ChatStream behave like a provider that does not stream.
	ChunkSize int

	// Calls tracks the history of all invocations.
	Calls []MockChatCall

	mu        sync.Mutex
	callIndex int
}

// MockChatCall records a single invocation.
type MockChatCall struct {
	Messages []Message
	Options  CallOptions
	Stream   bool
}

// Chat implements the ChatModel interface.
func (m *MockChatModel) Chat(ctx context.Context, messages []Message, opts ...CallOption) (ChatOut, error) {
	return m.respond(ctx, messages, ApplyOptions(opts...), false)
}

// ChatStream implements the ChatModel interface. The response text is
// delivered through onChunk in ChunkSize-rune pieces.
func (m *MockChatModel) ChatStream(ctx context.Context, messages []Message, onChunk func(string), opts ...CallOption) (ChatOut, error) {
	out, err := m.respond(ctx, messages, ApplyOptions(opts...), true)
	if err != nil {
		return ChatOut{}, err
	}

	if m.ChunkSize > 0 && onChunk != nil {
		runes := []rune(out.Text)
		for start := 0; start < len(runes); start += m.ChunkSize {
			end := start + m.ChunkSize
			if end > len(runes) {
				end = len(runes)
			}
			onChunk(string(runes[start:end]))
		}
	}
	return out, nil
}

func (m *MockChatModel) respond(ctx context.Context, messages []Message, opts CallOptions, stream bool) (ChatOut, error) {
	if ctx.Err() != nil {
		return ChatOut{}, ctx.Err()
	}

	m.mu.Lock()
	m.Calls = append(m.Calls, MockChatCall{
		Messages: append([]Message(nil), messages...),
		Options:  opts,
		Stream:   stream,
	})
	handler := m.Handler
	m.mu.Unlock()

	if handler != nil {
		return handler(messages, opts)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.Err != nil {
		return ChatOut{}, m.Err
	}
	if len(m.Responses) == 0 {
		return ChatOut{}, nil
	}

	idx := m.callIndex
	if idx >= len(m.Responses) {
		idx = len(m.Responses) - 1
	} else {
		m.callIndex++
	}
	return m.Responses[idx], nil
}

// Reset clears the call history and resets the response index.
func (m *MockChatModel) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.Calls = nil
	m.callIndex = 0
}

// CallCount returns the number of calls made so far.
func (m *MockChatModel) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return len(m.Calls)
}
