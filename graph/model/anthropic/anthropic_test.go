package anthropic

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/xiaomayi-ant/insight-agent/graph/model"
)

func TestNewChatModel(t *testing.T) {
	if _, err := NewChatModel(Config{}); err == nil {
		t.Fatal("expected error for empty API key")
	}
	m, err := NewChatModel(Config{APIKey: "k"})
	if err != nil {
		t.Fatal(err)
	}
	if m.Name() != DefaultModel || m.maxTokens != 4096 {
		t.Errorf("defaults not applied: %s %d", m.Name(), m.maxTokens)
	}
}

func TestChatModel_Chat(t *testing.T) {
	var captured map[string]interface{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/v1/messages") {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &captured)

		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"id":"msg_1","type":"message","role":"assistant","model":"claude",
			"content":[{"type":"text","text":"{\"key_insight\":\"x\"}"}],
			"stop_reason":"end_turn","usage":{"input_tokens":9,"output_tokens":4}}`)
	}))
	defer srv.Close()

	m, err := NewChatModel(Config{APIKey: "k", BaseURL: srv.URL})
	if err != nil {
		t.Fatal(err)
	}

	out, err := m.Chat(context.Background(), []model.Message{
		{Role: model.RoleSystem, Content: "analyst"},
		{Role: model.RoleUser, Content: "stats"},
	}, model.WithJSON())
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if out.Text != `{"key_insight":"x"}` {
		t.Errorf("Text = %q", out.Text)
	}
	if out.Usage.InputTokens != 9 || out.Usage.OutputTokens != 4 {
		t.Errorf("Usage = %+v", out.Usage)
	}

	system, _ := captured["system"].([]interface{})
	if len(system) != 1 {
		t.Fatalf("system = %v", captured["system"])
	}
	block, _ := system[0].(map[string]interface{})
	if text, _ := block["text"].(string); !strings.HasPrefix(text, "analyst") || !strings.Contains(text, "JSON") {
		t.Errorf("system text = %q", text)
	}
	msgs, _ := captured["messages"].([]interface{})
	if len(msgs) != 1 {
		t.Errorf("system message must not be sent as a turn: %v", msgs)
	}
}

func TestChatModel_ChatStream(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		events := []string{
			`event: message_start
data: {"type":"message_start","message":{"id":"msg_1","type":"message","role":"assistant","model":"claude","content":[],"stop_reason":null,"usage":{"input_tokens":5,"output_tokens":0}}}`,
			`event: content_block_start
data: {"type":"content_block_start","index":0,"content_block":{"type":"text","text":""}}`,
			`event: content_block_delta
data: {"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":"你好"}}`,
			`event: content_block_delta
data: {"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":"，世界"}}`,
			`event: content_block_stop
data: {"type":"content_block_stop","index":0}`,
			`event: message_delta
data: {"type":"message_delta","delta":{"stop_reason":"end_turn"},"usage":{"output_tokens":6}}`,
			`event: message_stop
data: {"type":"message_stop"}`,
		}
		for _, e := range events {
			fmt.Fprint(w, e+"\n\n")
		}
	}))
	defer srv.Close()

	m, _ := NewChatModel(Config{APIKey: "k", BaseURL: srv.URL})

	var chunks []string
	out, err := m.ChatStream(context.Background(), []model.Message{{Role: model.RoleUser, Content: "hi"}}, func(s string) {
		chunks = append(chunks, s)
	})
	if err != nil {
		t.Fatalf("ChatStream: %v", err)
	}
	if strings.Join(chunks, "|") != "你好|，世界" {
		t.Errorf("chunks = %v", chunks)
	}
	if out.Text != "你好，世界" {
		t.Errorf("Text = %q", out.Text)
	}
	if out.Usage.OutputTokens != 6 {
		t.Errorf("Usage = %+v", out.Usage)
	}
}
