// Command insight-agent serves the influencer insight workflow over HTTP.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/apex/log"
	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/xiaomayi-ant/insight-agent/chart"
	"github.com/xiaomayi-ant/insight-agent/config"
	"github.com/xiaomayi-ant/insight-agent/graph"
	"github.com/xiaomayi-ant/insight-agent/graph/batch"
	"github.com/xiaomayi-ant/insight-agent/graph/emit"
	"github.com/xiaomayi-ant/insight-agent/graph/model"
	"github.com/xiaomayi-ant/insight-agent/server"
	"github.com/xiaomayi-ant/insight-agent/store"
	"github.com/xiaomayi-ant/insight-agent/vikingdb"
	"github.com/xiaomayi-ant/insight-agent/workflow"
)

const historyRuns = 200

func main() {
	settings, err := config.Load()
	if err != nil {
		log.WithError(err).Fatal("invalid configuration")
	}

	logOut, closeLog, err := setupLogging(settings.Log)
	if err != nil {
		log.WithError(err).Fatal("logging setup failed")
	}
	defer closeLog()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, settings, logOut); err != nil {
		log.WithError(err).Error("insight-agent stopped")
		closeLog()
		os.Exit(1)
	}
}

func run(ctx context.Context, settings config.Settings, logOut *logOutput) error {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := graph.NewPrometheusMetrics(registry)
	usage := model.NewUsageTracker(registry)

	chat, closeChat, err := newChatModel(ctx, settings.LLM, usage)
	if err != nil {
		return err
	}
	defer closeChat()

	searcher, closeSearch, err := newSearcher(ctx, settings)
	if err != nil {
		return err
	}
	defer closeSearch()

	rows, err := openRows(ctx, settings)
	if err != nil {
		return err
	}
	defer rows.Close()

	var charts workflow.ChartRenderer
	if settings.Chart.Enabled {
		charts = chart.NewQuickChart(settings.ChartConfig())
	}

	history := emit.NewBufferedEmitter(historyRuns)
	opts := []workflow.AgentOption{
		workflow.WithEmitter(history),
		workflow.WithMetrics(metrics),
	}
	if logOut.debug {
		opts = append(opts, workflow.WithEmitter(emit.NewLogEmitter(logOut.writer, logOut.json)))
	}
	if settings.OTelEnabled {
		tp := sdktrace.NewTracerProvider(sdktrace.WithBatcher(newLogSpanExporter(log.Log)))
		otel.SetTracerProvider(tp)
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = tp.Shutdown(shutdownCtx)
		}()
		opts = append(opts, workflow.WithEmitter(emit.NewOTelEmitter(tp.Tracer("insight-agent"))))
	}

	wfCfg := settings.WorkflowConfig()
	runner := batch.NewRunner(wfCfg.Concurrency, wfCfg.ItemTimeout,
		batch.WithLogger(log.Log),
		batch.WithName("structurize"),
		batch.WithObserver(metrics))

	agent, err := workflow.NewAgent(wfCfg, workflow.Deps{
		Model:    chat,
		Searcher: searcher,
		Rows:     rows,
		Charts:   charts,
		Runner:   runner,
		Logger:   log.Log,
	}, opts...)
	if err != nil {
		return err
	}

	handler := server.New(server.Config{
		CORSOrigins: settings.Server.CORSOrigins,
		Table:       settings.MySQL.Table,
	}, server.Deps{
		Agent:    agent,
		Searcher: searcher,
		Rows:     rows,
		History:  history,
		Gatherer: registry,
		Logger:   log.Log,
	}).Handler()

	httpServer := &http.Server{
		Addr:              settings.Server.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.WithFields(log.Fields{
			"addr":     settings.Server.Addr,
			"provider": settings.LLM.Provider,
			"otel":     settings.OTelEnabled,
		}).Info("insight-agent listening")
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return httpServer.Shutdown(shutdownCtx)
}

// newSearcher builds the VikingDB client, cached in Redis when an address
// is configured.
func newSearcher(ctx context.Context, settings config.Settings) (workflow.Searcher, func(), error) {
	client, err := vikingdb.NewClient(settings.VikingDBConfig(), log.Log)
	if err != nil {
		return nil, nil, err
	}
	if settings.Redis.Addr == "" {
		return client, func() {}, nil
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     settings.Redis.Addr,
		Password: settings.Redis.Password,
		DB:       settings.Redis.DB,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		log.WithError(err).WithField("addr", settings.Redis.Addr).Warn("redis unreachable, search cache will fall through")
	}
	cached := vikingdb.NewCachedSearcher(client, rdb, settings.Redis.TTL, log.Log)
	return cached, func() { _ = rdb.Close() }, nil
}

// openRows opens SQLite when a path is configured, MySQL otherwise.
func openRows(ctx context.Context, settings config.Settings) (*store.DB, error) {
	if settings.SQLitePath != "" {
		log.WithField("path", settings.SQLitePath).Info("using sqlite row source")
		return store.OpenSQLite(ctx, settings.SQLitePath)
	}
	return store.OpenMySQL(ctx, settings.MySQLConfig())
}
