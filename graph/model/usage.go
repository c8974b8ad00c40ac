package model

import (
	"context"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// UsageTracker accumulates token usage per model across calls.
//
// Totals are kept in memory for the debug endpoint and, when a registry is
// supplied, exported as insight_model_tokens_total{model,direction}.
type UsageTracker struct {
	mu      sync.RWMutex
	byModel map[string]Usage
	calls   int

	tokens *prometheus.CounterVec
}

// NewUsageTracker creates a tracker. A nil registry keeps totals in memory
// only.
func NewUsageTracker(registry prometheus.Registerer) *UsageTracker {
	t := &UsageTracker{byModel: make(map[string]Usage)}
	if registry != nil {
		t.tokens = promauto.With(registry).NewCounterVec(prometheus.CounterOpts{
			Namespace: "insight",
			Name:      "model_tokens_total",
			Help:      "LLM tokens consumed, by model and direction (input, output)",
		}, []string{"model", "direction"})
	}
	return t
}

// Record adds one call's usage. Safe for concurrent use; batch items
// record from several goroutines.
func (t *UsageTracker) Record(modelName string, u Usage) {
	if t == nil {
		return
	}

	t.mu.Lock()
	total := t.byModel[modelName]
	total.InputTokens += u.InputTokens
	total.OutputTokens += u.OutputTokens
	t.byModel[modelName] = total
	t.calls++
	t.mu.Unlock()

	if t.tokens != nil {
		t.tokens.WithLabelValues(modelName, "input").Add(float64(u.InputTokens))
		t.tokens.WithLabelValues(modelName, "output").Add(float64(u.OutputTokens))
	}
}

// Totals returns the summed usage over every model.
func (t *UsageTracker) Totals() Usage {
	t.mu.RLock()
	defer t.mu.RUnlock()

	var sum Usage
	for _, u := range t.byModel {
		sum.InputTokens += u.InputTokens
		sum.OutputTokens += u.OutputTokens
	}
	return sum
}

// ByModel returns a copy of the per-model totals.
func (t *UsageTracker) ByModel() map[string]Usage {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make(map[string]Usage, len(t.byModel))
	for k, v := range t.byModel {
		out[k] = v
	}
	return out
}

// Calls returns the number of recorded calls.
func (t *UsageTracker) Calls() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.calls
}

// Metered wraps m so that every successful call is recorded on t under
// name.
func Metered(m ChatModel, name string, t *UsageTracker) ChatModel {
	return &metered{next: m, name: name, tracker: t}
}

type metered struct {
	next    ChatModel
	name    string
	tracker *UsageTracker
}

func (m *metered) Chat(ctx context.Context, messages []Message, opts ...CallOption) (ChatOut, error) {
	out, err := m.next.Chat(ctx, messages, opts...)
	if err == nil {
		m.tracker.Record(m.name, out.Usage)
	}
	return out, err
}

func (m *metered) ChatStream(ctx context.Context, messages []Message, onChunk func(string), opts ...CallOption) (ChatOut, error) {
	out, err := m.next.ChatStream(ctx, messages, onChunk, opts...)
	if err == nil {
		m.tracker.Record(m.name, out.Usage)
	}
	return out, err
}
