package model

import (
	"context"
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestUsageTracker(t *testing.T) {
	registry := prometheus.NewRegistry()
	tracker := NewUsageTracker(registry)

	tracker.Record("qwen-plus", Usage{InputTokens: 100, OutputTokens: 20})
	tracker.Record("qwen-plus", Usage{InputTokens: 50, OutputTokens: 5})
	tracker.Record("claude", Usage{InputTokens: 1, OutputTokens: 2})

	if got := tracker.Totals(); got.InputTokens != 151 || got.OutputTokens != 27 {
		t.Errorf("Totals = %+v", got)
	}
	if got := tracker.ByModel()["qwen-plus"]; got.InputTokens != 150 {
		t.Errorf("ByModel qwen-plus = %+v", got)
	}
	if tracker.Calls() != 3 {
		t.Errorf("Calls = %d", tracker.Calls())
	}
	if got := testutil.ToFloat64(tracker.tokens.WithLabelValues("qwen-plus", "output")); got != 25 {
		t.Errorf("exported output tokens = %v", got)
	}

	var nilTracker *UsageTracker
	nilTracker.Record("x", Usage{InputTokens: 1})
}

func TestMetered(t *testing.T) {
	tracker := NewUsageTracker(nil)
	mock := &MockChatModel{Responses: []ChatOut{{Text: "ok", Usage: Usage{InputTokens: 3, OutputTokens: 4}}}}
	m := Metered(mock, "mock", tracker)

	if _, err := m.Chat(context.Background(), nil); err != nil {
		t.Fatal(err)
	}
	if _, err := m.ChatStream(context.Background(), nil, nil); err != nil {
		t.Fatal(err)
	}
	if got := tracker.Totals(); got.InputTokens != 6 || got.OutputTokens != 8 {
		t.Errorf("Totals = %+v", got)
	}

	failing := Metered(&MockChatModel{Err: errors.New("down")}, "bad", tracker)
	_, _ = failing.Chat(context.Background(), nil)
	if tracker.Calls() != 2 {
		t.Errorf("failed calls must not be recorded, Calls = %d", tracker.Calls())
	}
}
