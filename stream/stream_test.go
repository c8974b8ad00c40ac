package stream

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xiaomayi-ant/insight-agent/graph"
	"github.com/xiaomayi-ant/insight-agent/graph/emit"
)

func collect(t *testing.T, ch <-chan Event) []Event {
	t.Helper()
	var events []Event
	timeout := time.After(2 * time.Second)
	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				return events
			}
			events = append(events, ev)
		case <-timeout:
			t.Fatalf("stream did not close, got %v", events)
		}
	}
}

func tokens(events []Event) string {
	var s string
	for _, ev := range events {
		if ev.Type == KindToken {
			s += ev.Content
		}
	}
	return s
}

func countKind(events []Event, kind Kind) int {
	n := 0
	for _, ev := range events {
		if ev.Type == kind {
			n++
		}
	}
	return n
}

func nodeStart(feed emit.Emitter, node string) {
	feed.Emit(emit.Event{RunID: "r", NodeID: node, Msg: emit.MsgNodeStart})
}

func token(feed emit.Emitter, node, text string) {
	feed.Emit(emit.Event{RunID: "r", NodeID: node, Msg: emit.MsgToken, Text: text})
}

func TestStream_TokensWithSuffixTopUp(t *testing.T) {
	r := NewReconciler()
	final := "你好世界\n\n![ROI](https://quickchart.io/chart?c=x)"

	events := collect(t, r.Stream(context.Background(), func(_ context.Context, feed emit.Emitter) (string, error) {
		nodeStart(feed, "summarize")
		token(feed, "summarize", "你好")
		token(feed, "summarize", "世界")
		return final, nil
	}))

	require.Equal(t, []Event{
		{Type: KindStatus, Content: InitialStatus},
		{Type: KindStatus, Content: "正在生成总结..."},
		{Type: KindToken, Content: "你好"},
		{Type: KindToken, Content: "世界"},
		{Type: KindToken, Content: "\n\n![ROI](https://quickchart.io/chart?c=x)"},
		{Type: KindDone},
	}, events)
}

func TestStream_NoTopUpWhenComplete(t *testing.T) {
	r := NewReconciler()
	events := collect(t, r.Stream(context.Background(), func(_ context.Context, feed emit.Emitter) (string, error) {
		token(feed, "simple_chat", "hi")
		return "hi", nil
	}))

	assert.Equal(t, "hi", tokens(events))
	assert.Equal(t, 1, countKind(events, KindToken))
	assert.Equal(t, KindDone, events[len(events)-1].Type)
}

func TestStream_NoTopUpWhenNotPrefix(t *testing.T) {
	r := NewReconciler()
	events := collect(t, r.Stream(context.Background(), func(_ context.Context, feed emit.Emitter) (string, error) {
		token(feed, "summarize", "abc")
		return "xyz and more", nil
	}))
	assert.Equal(t, "abc", tokens(events))
}

func TestStream_ReplayWhenNothingStreamed(t *testing.T) {
	r := NewReconciler()
	events := collect(t, r.Stream(context.Background(), func(_ context.Context, feed emit.Emitter) (string, error) {
		nodeStart(feed, "intent_classify")
		nodeStart(feed, "search")
		return "当前未收录该达人", nil
	}))

	require.Equal(t, Event{Type: KindStatus, Content: "正在分析意图..."}, events[1])
	require.Equal(t, Event{Type: KindStatus, Content: "正在搜索VikingDB..."}, events[2])

	var replayed []string
	for _, ev := range events {
		if ev.Type == KindToken {
			replayed = append(replayed, ev.Content)
		}
	}
	assert.Equal(t, []string{"当", "前", "未", "收", "录", "该", "达", "人"}, replayed)
	assert.Equal(t, KindDone, events[len(events)-1].Type)
}

func TestStream_ErrorThenDone(t *testing.T) {
	r := NewReconciler()
	events := collect(t, r.Stream(context.Background(), func(_ context.Context, feed emit.Emitter) (string, error) {
		nodeStart(feed, "search")
		return "", &graph.NodeError{
			Message: "VikingDB search failed",
			Code:    "NODE_FAILED",
			NodeID:  "search",
			Cause:   errors.New("HTTP 500: boom"),
		}
	}))

	require.GreaterOrEqual(t, len(events), 2)
	last, beforeLast := events[len(events)-1], events[len(events)-2]
	assert.Equal(t, Event{Type: KindDone}, last)
	assert.Equal(t, Event{Type: KindError, Content: ErrorPrefix + "VikingDB search failed"}, beforeLast)
	assert.NotContains(t, beforeLast.Content, "boom")
	assert.Equal(t, 1, countKind(events, KindError))
	assert.Equal(t, 0, countKind(events, KindToken))
}

func TestStream_FiltersAndTranslates(t *testing.T) {
	r := NewReconciler()
	events := collect(t, r.Stream(context.Background(), func(_ context.Context, feed emit.Emitter) (string, error) {
		nodeStart(feed, "analyze")
		token(feed, "analyze", `{"key_insight":`)
		feed.Emit(emit.Event{NodeID: "search", Msg: emit.MsgToolStart, Meta: map[string]interface{}{"tool": "vikingdb_search"}})
		feed.Emit(emit.Event{NodeID: "search", Msg: emit.MsgNodeEnd})
		feed.Emit(emit.Event{NodeID: "search", Msg: emit.MsgRoute})
		feed.Emit(emit.Event{NodeID: "join", Msg: emit.MsgStatus, Text: "已匹配 3 行"})
		nodeStart(feed, "custom_node")
		token(feed, "summarize", "ok")
		return "ok", nil
	}))

	assert.Equal(t, []Event{
		{Type: KindStatus, Content: InitialStatus},
		{Type: KindStatus, Content: "正在分析数据洞察..."},
		{Type: KindStatus, Content: "正在调用工具: vikingdb_search..."},
		{Type: KindStatus, Content: "已匹配 3 行"},
		{Type: KindToken, Content: "ok"},
		{Type: KindDone},
	}, events)
}

func TestStream_ExactlyOneDone(t *testing.T) {
	runs := map[string]RunFunc{
		"success": func(_ context.Context, feed emit.Emitter) (string, error) {
			token(feed, "simple_chat", "a")
			return "ab", nil
		},
		"empty": func(context.Context, emit.Emitter) (string, error) { return "", nil },
		"failure": func(context.Context, emit.Emitter) (string, error) {
			return "", &graph.EngineError{Message: "no valid route from node: join", Code: "NO_ROUTE"}
		},
		"plain error": func(context.Context, emit.Emitter) (string, error) {
			return "", errors.New("boom")
		},
	}

	r := NewReconciler()
	for name, run := range runs {
		t.Run(name, func(t *testing.T) {
			events := collect(t, r.Stream(context.Background(), run))
			assert.Equal(t, 1, countKind(events, KindDone))
			assert.Equal(t, KindDone, events[len(events)-1].Type)
			for i, ev := range events {
				if ev.Type == KindError {
					assert.Equal(t, len(events)-2, i, "error must be followed directly by done")
				}
			}
		})
	}
}

func TestStream_CallerDisconnect(t *testing.T) {
	r := NewReconciler()
	ctx, cancel := context.WithCancel(context.Background())

	release := make(chan struct{})
	finished := make(chan struct{})
	ch := r.Stream(ctx, func(runCtx context.Context, feed emit.Emitter) (string, error) {
		defer close(finished)
		token(feed, "simple_chat", "partial")
		<-release
		// Late events are dropped instead of blocking the run.
		token(feed, "simple_chat", "late")
		return "partial late", runCtx.Err()
	})

	first := <-ch
	assert.Equal(t, KindStatus, first.Type)
	second := <-ch
	assert.Equal(t, Event{Type: KindToken, Content: "partial"}, second)

	cancel()
	events := collect(t, ch)
	assert.Equal(t, 0, countKind(events, KindDone))

	close(release)
	select {
	case <-finished:
	case <-time.After(time.Second):
		t.Fatal("run blocked after caller disconnect")
	}
}
