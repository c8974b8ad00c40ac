package server

import (
	"bufio"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"github.com/xiaomayi-ant/insight-agent/graph"
	"github.com/xiaomayi-ant/insight-agent/graph/emit"
	"github.com/xiaomayi-ant/insight-agent/store"
	"github.com/xiaomayi-ant/insight-agent/stream"
	"github.com/xiaomayi-ant/insight-agent/vikingdb"
)

type fakeAgent struct {
	events  []stream.Event
	runID   string
	message string
	system  string
}

func (f *fakeAgent) RunWithID(_ context.Context, runID, message, systemPrompt string) <-chan stream.Event {
	f.runID, f.message, f.system = runID, message, systemPrompt
	ch := make(chan stream.Event, len(f.events))
	for _, ev := range f.events {
		ch <- ev
	}
	close(ch)
	return ch
}

type fakeSearcher struct {
	result *vikingdb.SearchResult
	err    error
	got    vikingdb.SearchRequest
}

func (f *fakeSearcher) Search(_ context.Context, req vikingdb.SearchRequest) (*vikingdb.SearchResult, error) {
	f.got = req
	return f.result, f.err
}

type fakeRows struct {
	rows      []store.Row
	err       error
	statement string
	maxRows   int
}

func (f *fakeRows) Query(_ context.Context, statement string, maxRows int) ([]store.Row, error) {
	f.statement, f.maxRows = statement, maxRows
	return f.rows, f.err
}

func newTestServer(t *testing.T, deps Deps) *httptest.Server {
	t.Helper()
	if deps.Agent == nil {
		deps.Agent = &fakeAgent{}
	}
	if deps.Searcher == nil {
		deps.Searcher = &fakeSearcher{}
	}
	if deps.Rows == nil {
		deps.Rows = &fakeRows{}
	}
	srv := httptest.NewServer(New(Config{CORSOrigins: []string{"https://app.example.com"}}, deps).Handler())
	t.Cleanup(srv.Close)
	return srv
}

func post(t *testing.T, url, body string) (*http.Response, string) {
	t.Helper()
	resp, err := http.Post(url, "application/json", strings.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, string(data)
}

func TestHealth(t *testing.T) {
	srv := newTestServer(t, Deps{})

	resp, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"ok":true}`, string(body))
}

func TestAgentStream_Frames(t *testing.T) {
	agent := &fakeAgent{events: []stream.Event{
		{Type: stream.KindStatus, Content: stream.InitialStatus},
		{Type: stream.KindToken, Content: "你好"},
		{Type: stream.KindDone},
	}}
	srv := newTestServer(t, Deps{Agent: agent})

	resp, body := post(t, srv.URL+"/api/v1/agent/stream", `{"message":"hello","system_prompt":"be brief"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, strings.HasPrefix(resp.Header.Get("Content-Type"), "text/event-stream"))
	assert.Equal(t, agent.runID, resp.Header.Get("X-Run-ID"))
	assert.Equal(t, "hello", agent.message)
	assert.Equal(t, "be brief", agent.system)

	var frames []string
	sc := bufio.NewScanner(strings.NewReader(body))
	for sc.Scan() {
		if line := sc.Text(); strings.HasPrefix(line, "data: ") {
			frames = append(frames, strings.TrimPrefix(line, "data: "))
		}
	}
	require.Len(t, frames, 4)
	assert.JSONEq(t, `{"type":"status","content":"正在分析您的请求..."}`, frames[0])
	assert.JSONEq(t, `{"type":"token","content":"你好"}`, frames[1])
	assert.Equal(t, "done", gjson.Get(frames[2], "type").String())
	assert.Equal(t, "[DONE]", frames[3])
}

func TestAgentStream_BadRequests(t *testing.T) {
	srv := newTestServer(t, Deps{})

	resp, body := post(t, srv.URL+"/api/v1/agent/stream", `{"message":"  "}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "message is required", gjson.Get(body, "detail").String())

	resp, _ = post(t, srv.URL+"/api/v1/agent/stream", `{"message":`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, err := http.Get(srv.URL + "/api/v1/agent/stream")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestSearch(t *testing.T) {
	searcher := &fakeSearcher{result: &vikingdb.SearchResult{Records: []vikingdb.Record{
		{Fields: map[string]any{"influencer": "李诞"}, Score: 0.9},
	}}}
	srv := newTestServer(t, Deps{Searcher: searcher})

	resp, body := post(t, srv.URL+"/vkdb/search", `{"influence":"李诞","limit":3,"output_fields":["influencer"]}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	assert.Equal(t, int64(1), gjson.Get(body, "returned").Int())
	assert.Equal(t, "李诞", gjson.Get(body, "records.0.fields.influencer").String())
	assert.Equal(t, vikingdb.SearchRequest{Influencer: "李诞", Limit: 3, OutputFields: []string{"influencer"}}, searcher.got)
}

func TestSearch_Errors(t *testing.T) {
	srv := newTestServer(t, Deps{Searcher: &fakeSearcher{err: vikingdb.ErrEmptyQuery}})
	resp, _ := post(t, srv.URL+"/vkdb/search", `{}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	srv = newTestServer(t, Deps{Searcher: &fakeSearcher{err: errors.New("HTTP 502: bad gateway")}})
	resp, body := post(t, srv.URL+"/vkdb/search", `{"text":"x"}`)
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	assert.Contains(t, gjson.Get(body, "detail").String(), "HTTP 502")
}

func TestJoin(t *testing.T) {
	searcher := &fakeSearcher{result: &vikingdb.SearchResult{Records: []vikingdb.Record{
		{Fields: map[string]any{"landscape_video": "tos://v/1001.mp4"}},
		{Fields: map[string]any{"landscape_video": map[string]any{"value": "tos://v/1002.mp4"}}},
		{Fields: map[string]any{"landscape_video": "tos://v/cover.mp4"}},
	}}}
	rows := &fakeRows{rows: []store.Row{
		{store.ColMaterialID: "1001", store.ColCost: 10.0, store.ColShow: int64(100), store.ColWatch: int64(5)},
	}}
	srv := newTestServer(t, Deps{Searcher: searcher, Rows: rows})

	resp, body := post(t, srv.URL+"/vkdb/mysql-join", `{"influencer":"李诞","mysql_max_rows":10}`)
	require.Equal(t, http.StatusOK, resp.StatusCode, body)

	assert.Equal(t, 100, searcher.got.Limit)
	assert.Equal(t, 10, rows.maxRows)
	assert.Contains(t, rows.statement, "materialId in ('1001','1002')")

	assert.Equal(t, "李诞", gjson.Get(body, "influencer").String())
	assert.Equal(t, int64(3), gjson.Get(body, "vkdb.returned").Int())
	assert.Equal(t, int64(3), gjson.Get(body, "vkdb.tos_urls.#").Int())
	assert.Equal(t, int64(1), gjson.Get(body, "mysql.row_count").Int())
	assert.Equal(t, store.DefaultTable, gjson.Get(body, "mysql.table").String())
	assert.Equal(t, int64(1), gjson.Get(body, "analysis.unique_materials").Int())
}

func TestJoin_RequireIn(t *testing.T) {
	searcher := &fakeSearcher{result: &vikingdb.SearchResult{}}
	rows := &fakeRows{}
	srv := newTestServer(t, Deps{Searcher: searcher, Rows: rows})

	resp, body := post(t, srv.URL+"/vkdb/mysql-join", `{"influencer":"李诞"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, rows.statement, "1=0")
	assert.Equal(t, int64(0), gjson.Get(body, "mysql.row_count").Int())
	assert.True(t, gjson.Get(body, "mysql.rows").IsArray())

	resp, _ = post(t, srv.URL+"/vkdb/mysql-join", `{"influencer":"李诞","require_in":false}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, rows.statement, "1=1")
}

func TestJoin_Validation(t *testing.T) {
	tests := []struct {
		name   string
		body   string
		status int
	}{
		{"missing influencer", `{}`, http.StatusBadRequest},
		{"limit too high", `{"influencer":"李诞","vkdb_limit":5000}`, http.StatusBadRequest},
		{"max in negative", `{"influencer":"李诞","mysql_max_in":-1}`, http.StatusBadRequest},
		{"illegal influencer", `{"influencer":"李诞' OR 1=1 --"}`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := newTestServer(t, Deps{Searcher: &fakeSearcher{result: &vikingdb.SearchResult{}}})
			resp, _ := post(t, srv.URL+"/vkdb/mysql-join", tt.body)
			assert.Equal(t, tt.status, resp.StatusCode)
		})
	}

	srv := newTestServer(t, Deps{
		Searcher: &fakeSearcher{result: &vikingdb.SearchResult{}},
		Rows:     &fakeRows{err: errors.New("connection refused")},
	})
	resp, _ := post(t, srv.URL+"/vkdb/mysql-join", `{"influencer":"李诞"}`)
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
}

func TestCORS(t *testing.T) {
	srv := newTestServer(t, Deps{})

	req, _ := http.NewRequest(http.MethodOptions, srv.URL+"/api/v1/agent/stream", nil)
	req.Header.Set("Origin", "https://app.example.com")
	req.Header.Set("Access-Control-Request-Method", "POST")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Equal(t, "https://app.example.com", resp.Header.Get("Access-Control-Allow-Origin"))
	assert.Contains(t, resp.Header.Get("Access-Control-Allow-Methods"), "POST")

	req.Header.Set("Origin", "https://evil.example.com")
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Empty(t, resp.Header.Get("Access-Control-Allow-Origin"))

	get, _ := http.NewRequest(http.MethodGet, srv.URL+"/health", nil)
	get.Header.Set("Origin", "https://app.example.com")
	resp, err = http.DefaultClient.Do(get)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, "https://app.example.com", resp.Header.Get("Access-Control-Allow-Origin"))
}

func TestRunHistoryAndMetrics(t *testing.T) {
	history := emit.NewBufferedEmitter(10)
	history.Emit(emit.Event{RunID: "run-7", Msg: emit.MsgRunStart})
	history.Emit(emit.Event{RunID: "run-7", Step: 1, NodeID: "search", Msg: emit.MsgNodeStart})

	registry := prometheus.NewRegistry()
	metrics := graph.NewPrometheusMetrics(registry)
	metrics.RecordRun("done")

	srv := newTestServer(t, Deps{History: history, Gatherer: registry})

	resp, err := http.Get(srv.URL + "/debug/runs/run-7")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, int64(2), gjson.GetBytes(body, "events.#").Int())
	assert.Equal(t, "search", gjson.GetBytes(body, "events.1.nodeID").String())

	resp, err = http.Get(srv.URL + "/debug/runs/nope")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, err = http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	body, _ = io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Contains(t, string(body), "insight_")
}
