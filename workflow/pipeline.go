package workflow

import (
	"fmt"
	"time"

	"github.com/apex/log"

	"github.com/xiaomayi-ant/insight-agent/graph"
	"github.com/xiaomayi-ant/insight-agent/graph/batch"
	"github.com/xiaomayi-ant/insight-agent/graph/model"
	"github.com/xiaomayi-ant/insight-agent/store"
)

// Node IDs.
const (
	NodeIntentClassify  = "intent_classify"
	NodeSearch          = "search"
	NodeItemStructurize = "item_structurize"
	NodeJoin            = "join"
	NodeAggregate       = "aggregate"
	NodeAnalyze         = "analyze"
	NodeSummarize       = "summarize"
	NodeSimpleChat      = "simple_chat"
)

// DefaultDimensions are the tag fields aggregated against ROI rows.
var DefaultDimensions = []string{"opening_strategy", "script_archetype", "closing_trigger"}

// Config tunes the pipeline.
type Config struct {
	// SearchLimit and OutputFields are passed to the searcher; zero
	// values use the searcher's defaults.
	SearchLimit  int
	OutputFields []string

	Table   string
	MaxIn   int
	MaxRows int

	StructurizeEnabled bool
	Concurrency        int
	ItemTimeout        time.Duration

	// DegradeThreshold is the structurize success rate below which the
	// pipeline drops the enrichment.
	DegradeThreshold float64

	MinCount   int
	Dimensions []string

	MaxSteps int
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		Table:              store.DefaultTable,
		MaxIn:              100,
		MaxRows:            5000,
		StructurizeEnabled: true,
		Concurrency:        5,
		ItemTimeout:        30 * time.Second,
		DegradeThreshold:   0.5,
		MinCount:           2,
		Dimensions:         DefaultDimensions,
		MaxSteps:           16,
	}
}

// Deps are the collaborators the pipeline calls.
type Deps struct {
	Model model.ChatModel

	// StructurizeModel serves the batch stage; nil uses Model.
	StructurizeModel model.ChatModel

	Searcher Searcher
	Rows     RowQuerier

	// Charts is optional.
	Charts ChartRenderer

	// Runner is a long-lived batch runner shared across requests. Nil
	// creates one per structurize call.
	Runner *batch.Runner

	// Observer receives batch item outcomes when Runner is nil.
	Observer batch.Observer

	Logger log.Interface
}

// pipeline holds the node implementations.
type pipeline struct {
	cfg    Config
	deps   Deps
	logger log.Interface
}

func newPipeline(cfg Config, deps Deps) *pipeline {
	if deps.Logger == nil {
		deps.Logger = log.Log
	}
	if deps.StructurizeModel == nil {
		deps.StructurizeModel = deps.Model
	}
	if len(cfg.Dimensions) == 0 {
		cfg.Dimensions = DefaultDimensions
	}
	if cfg.Table == "" {
		cfg.Table = store.DefaultTable
	}
	return &pipeline{cfg: cfg, deps: deps, logger: deps.Logger}
}

// fail records a node failure. The state keeps the full error chain; the
// returned NodeError carries only the summary as its Message, which is
// what callers get to see, and err as its Cause.
func fail(delta Update, err error, format string, args ...any) graph.NodeResult[Update] {
	summary := fmt.Sprintf(format, args...)
	full := summary + ": " + err.Error()
	delta.Error = &full
	return graph.NodeResult[Update]{Delta: delta, Err: &graph.NodeError{
		Message: summary,
		Code:    "NODE_FAILED",
		Cause:   err,
	}}
}

func ok(delta Update) graph.NodeResult[Update] {
	return graph.NodeResult[Update]{Delta: delta}
}
