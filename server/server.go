// Package server exposes the insight agent over HTTP: a server-sent
// event stream for chat, the raw search and join endpoints, health,
// run history and Prometheus metrics.
package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/apex/log"
	"github.com/bytedance/sonic"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/xiaomayi-ant/insight-agent/graph/emit"
	"github.com/xiaomayi-ant/insight-agent/store"
	"github.com/xiaomayi-ant/insight-agent/stream"
	"github.com/xiaomayi-ant/insight-agent/vikingdb"
	"github.com/xiaomayi-ant/insight-agent/workflow"
)

// DefaultCORSOrigins are allowed when none are configured.
var DefaultCORSOrigins = []string{"http://localhost:3000", "http://127.0.0.1:3000"}

const maxBodyBytes = 1 << 20

// Agent streams one chat run.
type Agent interface {
	RunWithID(ctx context.Context, runID, message, systemPrompt string) <-chan stream.Event
}

// Config tunes the HTTP surface.
type Config struct {
	CORSOrigins []string

	// Table is the ROI table used by the join endpoint.
	Table string
}

// Deps are the handlers' collaborators. History and Gatherer are
// optional.
type Deps struct {
	Agent    Agent
	Searcher workflow.Searcher
	Rows     workflow.RowQuerier
	History  *emit.BufferedEmitter
	Gatherer prometheus.Gatherer
	Logger   log.Interface
}

// Server routes requests to the agent and its collaborators.
type Server struct {
	cfg     Config
	deps    Deps
	origins map[string]bool
	logger  log.Interface
	router  *mux.Router
}

// New builds the router.
func New(cfg Config, deps Deps) *Server {
	if deps.Logger == nil {
		deps.Logger = log.Log
	}
	if len(cfg.CORSOrigins) == 0 {
		cfg.CORSOrigins = DefaultCORSOrigins
	}
	if cfg.Table == "" {
		cfg.Table = store.DefaultTable
	}

	s := &Server{
		cfg:     cfg,
		deps:    deps,
		origins: make(map[string]bool, len(cfg.CORSOrigins)),
		logger:  deps.Logger,
		router:  mux.NewRouter(),
	}
	for _, o := range cfg.CORSOrigins {
		s.origins[strings.TrimRight(o, "/")] = true
	}

	s.router.Use(s.logRequests)
	s.router.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	s.router.HandleFunc("/api/v1/agent/stream", s.handleAgentStream).Methods(http.MethodPost)
	s.router.HandleFunc("/vkdb/search", s.handleSearch).Methods(http.MethodPost)
	s.router.HandleFunc("/vkdb/mysql-join", s.handleJoin).Methods(http.MethodPost)
	if deps.History != nil {
		s.router.HandleFunc("/debug/runs/{run_id}", s.handleRunHistory).Methods(http.MethodGet)
	}
	if deps.Gatherer != nil {
		s.router.Handle("/metrics", promhttp.HandlerFor(deps.Gatherer, promhttp.HandlerOpts{}))
	}
	return s
}

// Handler returns the root handler, CORS included.
func (s *Server) Handler() http.Handler {
	return s.cors(s.router)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

type chatRequest struct {
	Message      string `json:"message"`
	SystemPrompt string `json:"system_prompt"`
}

// handleAgentStream relays the agent's events as SSE frames and closes
// with a [DONE] frame.
func (s *Server) handleAgentStream(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := s.decode(r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		s.writeError(w, http.StatusBadRequest, "message is required")
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		s.writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	runID := uuid.NewString()
	logger := s.logger.WithField("run_id", runID)
	logger.WithField("message", truncate(req.Message, 50)).Info("stream request received")

	h := w.Header()
	h.Set("Content-Type", "text/event-stream; charset=utf-8")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	h.Set("X-Run-ID", runID)
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	started := time.Now()
	events := 0
	for ev := range s.deps.Agent.RunWithID(r.Context(), runID, req.Message, req.SystemPrompt) {
		data, err := sonic.Marshal(ev)
		if err != nil {
			logger.WithError(err).Error("encode event failed")
			continue
		}
		if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
			logger.WithError(err).Warn("client gone")
			return
		}
		flusher.Flush()
		events++
	}
	if r.Context().Err() != nil {
		logger.Info("client disconnected")
		return
	}
	_, _ = io.WriteString(w, "data: [DONE]\n\n")
	flusher.Flush()

	logger.WithFields(log.Fields{
		"events":     events,
		"elapsed_ms": time.Since(started).Milliseconds(),
	}).Info("stream completed")
}

type searchRequest struct {
	Influence    string   `json:"influence"`
	Text         string   `json:"text"`
	Limit        int      `json:"limit"`
	OutputFields []string `json:"output_fields"`
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	var req searchRequest
	if err := s.decode(r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	result, err := s.deps.Searcher.Search(r.Context(), vikingdb.SearchRequest{
		Query:        strings.TrimSpace(req.Text),
		Influencer:   strings.TrimSpace(req.Influence),
		Limit:        req.Limit,
		OutputFields: req.OutputFields,
	})
	switch {
	case errors.Is(err, vikingdb.ErrEmptyQuery):
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	case err != nil:
		s.logger.WithError(err).Error("search failed")
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if result == nil {
		result = &vikingdb.SearchResult{}
	}
	if result.Records == nil {
		result.Records = []vikingdb.Record{}
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"returned": result.Returned(),
		"records":  result.Records,
	})
}

type joinRequest struct {
	Influencer   string `json:"influencer"`
	VkdbLimit    int    `json:"vkdb_limit"`
	MySQLMaxIn   int    `json:"mysql_max_in"`
	MySQLMaxRows int    `json:"mysql_max_rows"`
	RequireIn    *bool  `json:"require_in"`
}

// validate fills defaults and checks ranges.
func (j *joinRequest) validate() error {
	j.Influencer = strings.TrimSpace(j.Influencer)
	if j.Influencer == "" {
		return errors.New("influencer is required")
	}
	fields := []struct {
		name     string
		value    *int
		def, max int
	}{
		{"vkdb_limit", &j.VkdbLimit, 100, 1000},
		{"mysql_max_in", &j.MySQLMaxIn, 100, 500},
		{"mysql_max_rows", &j.MySQLMaxRows, 5000, 50000},
	}
	for _, f := range fields {
		if *f.value == 0 {
			*f.value = f.def
		}
		if *f.value < 1 || *f.value > f.max {
			return fmt.Errorf("%s must be between 1 and %d", f.name, f.max)
		}
	}
	if j.RequireIn == nil {
		t := true
		j.RequireIn = &t
	}
	return nil
}

// handleJoin searches for an influencer and joins the hits with their
// ROI rows.
func (s *Server) handleJoin(w http.ResponseWriter, r *http.Request) {
	var req joinRequest
	if err := s.decode(r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := req.validate(); err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	logger := s.logger.WithField("influencer", req.Influencer)

	result, err := s.deps.Searcher.Search(r.Context(), vikingdb.SearchRequest{
		Query:      req.Influencer,
		Influencer: req.Influencer,
		Limit:      req.VkdbLimit,
	})
	if err != nil {
		logger.WithError(err).Error("join search failed")
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	joined, err := workflow.RunJoin(r.Context(), s.deps.Rows, req.Influencer, result, workflow.JoinOptions{
		Table:     s.cfg.Table,
		MaxIn:     req.MySQLMaxIn,
		MaxRows:   req.MySQLMaxRows,
		RequireIn: *req.RequireIn,
		Dialect:   workflow.DialectOf(s.deps.Rows),
	})
	switch {
	case errors.Is(err, store.ErrIllegalFilter):
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	case err != nil:
		logger.WithError(err).Error("join query failed")
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, joined)
}

func (s *Server) handleRunHistory(w http.ResponseWriter, r *http.Request) {
	runID := mux.Vars(r)["run_id"]
	events := s.deps.History.GetHistory(runID)
	if len(events) == 0 {
		s.writeError(w, http.StatusNotFound, "unknown run: "+runID)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"run_id": runID, "events": events})
}

func (s *Server) decode(r *http.Request, v any) error {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		return fmt.Errorf("read body: %w", err)
	}
	if len(body) == 0 {
		return nil
	}
	if err := sonic.Unmarshal(body, v); err != nil {
		return fmt.Errorf("invalid JSON body: %w", err)
	}
	return nil
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := sonic.Marshal(v)
	if err != nil {
		s.logger.WithError(err).Error("encode response failed")
		http.Error(w, `{"detail":"internal error"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(data)
}

func (s *Server) writeError(w http.ResponseWriter, status int, detail string) {
	s.writeJSON(w, status, map[string]string{"detail": detail})
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
