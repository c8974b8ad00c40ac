package graph

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestNodeFunc(t *testing.T) {
	type ctxKey string
	ctx := context.WithValue(context.Background(), ctxKey("k"), "from-ctx")

	node := NodeFunc[testState, testUpdate](func(ctx context.Context, s testState) NodeResult[testUpdate] {
		v, _ := ctx.Value(ctxKey("k")).(string)
		return NodeResult[testUpdate]{Delta: testUpdate{Visit: v}}
	})

	result := node.Run(ctx, testState{})
	if result.Err != nil {
		t.Fatalf("unexpected error: %v", result.Err)
	}
	if result.Delta.Visit != "from-ctx" {
		t.Errorf("Delta.Visit = %q, want from-ctx", result.Delta.Visit)
	}
}

func TestNodeError(t *testing.T) {
	cause := errors.New("connection refused")
	err := &NodeError{Message: "search failed", Code: "NODE_FAILED", NodeID: "search", Cause: cause}

	if got := err.Error(); got != "node search: search failed" {
		t.Errorf("Error() = %q", got)
	}
	if !errors.Is(err, cause) {
		t.Error("NodeError should unwrap to its cause")
	}

	if got := (&NodeError{Message: "bare"}).Error(); got != "bare" {
		t.Errorf("Error() without node = %q", got)
	}
}

func TestAsNodeError(t *testing.T) {
	t.Run("plain error", func(t *testing.T) {
		ne := asNodeError("join", errors.New("boom"))
		if ne.NodeID != "join" || ne.Code != "NODE_FAILED" || ne.Message != "boom" {
			t.Errorf("got %+v", ne)
		}
	})

	t.Run("engine error keeps its code", func(t *testing.T) {
		ne := asNodeError("join", &EngineError{Message: "slow", Code: "NODE_TIMEOUT"})
		if ne.Code != "NODE_TIMEOUT" {
			t.Errorf("Code = %q", ne.Code)
		}
	})

	t.Run("existing node error is filled in", func(t *testing.T) {
		ne := asNodeError("join", &NodeError{Message: "x"})
		if ne.NodeID != "join" || ne.Code != "NODE_FAILED" {
			t.Errorf("got %+v", ne)
		}
	})
}

func TestReducer(t *testing.T) {
	prev := testState{Path: []string{"a"}, Score: 3}

	next := reduceTest(prev, testUpdate{Visit: "b", Flag: boolPtr(true)})
	if len(next.Path) != 2 || next.Score != 3 || !next.Flag {
		t.Errorf("unexpected merge: %+v", next)
	}
	if len(prev.Path) != 1 {
		t.Error("reducer must not mutate the previous state")
	}

	zeroed := reduceTest(next, testUpdate{Score: intPtr(0)})
	if zeroed.Score != 0 {
		t.Error("explicit zero value should overwrite")
	}
}

func TestGetNodeTimeout(t *testing.T) {
	tests := []struct {
		name   string
		policy NodePolicy
		def    time.Duration
		want   time.Duration
	}{
		{"policy wins", NodePolicy{Timeout: time.Second}, time.Minute, time.Second},
		{"default used", NodePolicy{}, time.Minute, time.Minute},
		{"none", NodePolicy{}, 0, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := getNodeTimeout(tt.policy, tt.def); got != tt.want {
				t.Errorf("got %v, want %v", got, tt.want)
			}
		})
	}
}

func TestEngineError(t *testing.T) {
	if got := (&EngineError{Message: "m", Code: "C"}).Error(); got != "C: m" {
		t.Errorf("Error() = %q", got)
	}
	if got := (&EngineError{Message: "m"}).Error(); got != "m" {
		t.Errorf("Error() = %q", got)
	}
}
