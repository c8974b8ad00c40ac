package workflow

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/xiaomayi-ant/insight-agent/chart"
	"github.com/xiaomayi-ant/insight-agent/graph/emit"
	"github.com/xiaomayi-ant/insight-agent/graph/model"
	"github.com/xiaomayi-ant/insight-agent/store"
	"github.com/xiaomayi-ant/insight-agent/stream"
	"github.com/xiaomayi-ant/insight-agent/vikingdb"
)

type fakeSearcher struct {
	mu     sync.Mutex
	result *SearchResult
	err    error
	reqs   []SearchRequest
}

func (f *fakeSearcher) Search(_ context.Context, req SearchRequest) (*SearchResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reqs = append(f.reqs, req)
	return f.result, f.err
}

type fakeRows struct {
	rows       []store.Row
	err        error
	statements []string
}

func (f *fakeRows) Query(_ context.Context, statement string, _ int) ([]store.Row, error) {
	f.statements = append(f.statements, statement)
	return f.rows, f.err
}

type fakeCharts struct {
	link string
	err  error
	got  []chart.Series
}

func (f *fakeCharts) Render(_ context.Context, s chart.Series) (string, error) {
	f.got = append(f.got, s)
	return f.link, f.err
}

func record(materialID, influencer, analysis string) vikingdb.Record {
	return vikingdb.Record{Fields: map[string]any{
		"influencer":      influencer,
		"intent_analysis": analysis,
		"landscape_video": "tos://videos/" + materialID + ".mp4",
	}}
}

func structureJSON(opening string) string {
	return fmt.Sprintf(`{
		"narrative_analysis": {"script_archetype": "Problem_Solution", "narrative_chain": "Hook -> Pain_Point -> Demo", "pacing": "Fast"},
		"tactical_breakdown": {"opening_strategy": %q, "core_selling_points": ["Price_Anchor", "Live_Demo"], "closing_trigger": "Limited_Stock", "dominant_emotion": "Trust"},
		"innovation_check": {"is_innovative": false, "unique_tactic_desc": ""}
	}`, opening)
}

const roiSchema = `CREATE TABLE mandasike_qianchuan_room_daily_dimension (
	timeline TEXT,
	statCostForRoi2 REAL,
	roi2MaterialVideoName TEXT,
	materialId TEXT,
	roi2MaterialUploadTime TEXT,
	totalPrepayAndPayOrderRoi2 REAL,
	liveShowCountForRoi2V2 INTEGER,
	liveWatchCountForRoi2V2 INTEGER
)`

type roiRow struct {
	name, id    string
	cost, roi   float64
	show, watch int
}

func newROIStore(t *testing.T, rows ...roiRow) *store.DB {
	t.Helper()
	ctx := context.Background()
	db, err := store.OpenSQLite(ctx, ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	_, err = db.SQL().ExecContext(ctx, roiSchema)
	require.NoError(t, err)
	for _, r := range rows {
		_, err := db.SQL().ExecContext(ctx,
			`INSERT INTO mandasike_qianchuan_room_daily_dimension VALUES ('2025-01-01', ?, ?, ?, '2024-12-01', ?, ?, ?)`,
			r.cost, r.name, r.id, r.roi, r.show, r.watch)
		require.NoError(t, err)
	}
	return db
}

// scriptedModel answers each prompt kind from its own function.
type scriptedModel struct {
	intent      func(input string) (string, error)
	structurize func(text string, repair bool) (string, error)
	analyze     func(csv string) (string, error)
	summarize   func(prompt string) (string, error)
	chat        func(messages []model.Message) (string, error)
}

func (s *scriptedModel) mock() *model.MockChatModel {
	return &model.MockChatModel{
		ChunkSize: 4,
		Handler: func(messages []model.Message, _ model.CallOptions) (model.ChatOut, error) {
			text, err := s.answer(messages)
			return model.ChatOut{Text: text}, err
		},
	}
}

func (s *scriptedModel) answer(messages []model.Message) (string, error) {
	system := ""
	if len(messages) > 0 && messages[0].Role == model.RoleSystem {
		system = messages[0].Content
	}
	last := messages[len(messages)-1].Content

	switch {
	case system == intentSystemPrompt && s.intent != nil:
		return s.intent(last)
	case strings.HasPrefix(system, structurizeSystemPrompt) && s.structurize != nil:
		return s.structurize(last, strings.HasSuffix(system, structurizeRepairSuffix))
	case system == analyzeSystemPrompt && s.analyze != nil:
		return s.analyze(last)
	case system == summarizeSystemPrompt && s.summarize != nil:
		return s.summarize(last)
	case s.chat != nil:
		return s.chat(messages)
	}
	return "", fmt.Errorf("unexpected prompt: %.40q", system)
}

type testAgent struct {
	*Agent
	history *emit.BufferedEmitter
}

func newTestAgent(t *testing.T, cfg Config, deps Deps) *testAgent {
	t.Helper()
	history := emit.NewBufferedEmitter(0)
	a, err := NewAgent(cfg, deps, WithEmitter(history))
	require.NoError(t, err)
	a.newRunID = func() string { return "run-1" }
	return &testAgent{Agent: a, history: history}
}

// visited lists the nodes started during run-1.
func (a *testAgent) visited() []string {
	var ids []string
	for _, ev := range a.history.GetHistoryWithFilter("run-1", emit.HistoryFilter{Msg: emit.MsgNodeStart}) {
		ids = append(ids, ev.NodeID)
	}
	return ids
}

func collectStream(t *testing.T, ch <-chan stream.Event) []stream.Event {
	t.Helper()
	var events []stream.Event
	deadline := time.After(5 * time.Second)
	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				return events
			}
			events = append(events, ev)
		case <-deadline:
			t.Fatalf("stream did not finish: %v", events)
		}
	}
}

func streamedText(events []stream.Event) string {
	var sb strings.Builder
	for _, ev := range events {
		if ev.Type == stream.KindToken {
			sb.WriteString(ev.Content)
		}
	}
	return sb.String()
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.ItemTimeout = time.Second
	return cfg
}
