// Package workflow wires the insight pipeline onto the graph engine:
// intent classification, vector search, item structurization, the ROI
// join, aggregation, analysis and the final streamed answer.
package workflow

import (
	"errors"
	"fmt"

	"github.com/xiaomayi-ant/insight-agent/graph/model"
	"github.com/xiaomayi-ant/insight-agent/store"
)

// NotFoundMessage is the answer when the search finds no records.
const NotFoundMessage = "当前未收录该达人"

// Intent is the classified purpose of a request.
type Intent int

const (
	IntentUnclassified Intent = iota
	IntentVkdbSearch
	IntentSimpleChat
)

func (i Intent) String() string {
	switch i {
	case IntentVkdbSearch:
		return "vkdb_search"
	case IntentSimpleChat:
		return "simple_chat"
	default:
		return "unclassified"
	}
}

// ParseIntent maps a model label to an Intent.
func ParseIntent(label string) (Intent, bool) {
	switch label {
	case "vkdb_search":
		return IntentVkdbSearch, true
	case "simple_chat":
		return IntentSimpleChat, true
	}
	return IntentUnclassified, false
}

// StructuredItem is the structurization outcome for one search record.
type StructuredItem struct {
	ItemID    string           `json:"materialId"`
	Payload   *IntentStructure `json:"structured_intent,omitempty"`
	Succeeded bool             `json:"success"`
	Error     string           `json:"error,omitempty"`
}

// JoinResult is the outcome of joining search hits with ROI rows.
type JoinResult struct {
	Influencer string            `json:"influencer"`
	Search     JoinSearch        `json:"vkdb"`
	Rows       JoinRows          `json:"mysql"`
	Analysis   store.ROIAnalysis `json:"analysis"`
}

// JoinSearch summarizes the search side of a join.
type JoinSearch struct {
	Returned    int      `json:"returned"`
	TOSURLs     []string `json:"tos_urls"`
	MaterialIDs []string `json:"material_ids"`
}

// JoinRows holds the rows returned for the join statement.
type JoinRows struct {
	Table    string      `json:"table"`
	RowCount int         `json:"row_count"`
	Rows     []store.Row `json:"rows"`
}

// StatRow is one aggregated (dimension, tag) bucket.
type StatRow struct {
	Dimension  string  `json:"dimension"`
	Tag        string  `json:"tag"`
	Count      int     `json:"count"`
	AvgROI     float64 `json:"avg_roi"`
	AvgCTR     float64 `json:"avg_ctr"`
	TotalCost  float64 `json:"total_cost"`
	TotalShow  int64   `json:"total_show"`
	TotalClick int64   `json:"total_click"`
}

// AggregatedStats is the tag-level summary fed to analysis.
type AggregatedStats struct {
	Rows []StatRow `json:"rows"`

	// Merged is the number of structured items that matched a row.
	Merged int `json:"merged"`

	CSV string `json:"csv"`
}

// PlotSeries is the chart data proposed by analysis.
type PlotSeries struct {
	Title  string    `json:"title,omitempty"`
	Labels []string  `json:"labels"`
	Values []float64 `json:"values"`
}

// AnalysisResult is the model's reading of the aggregated stats.
type AnalysisResult struct {
	KeyInsight string     `json:"key_insight"`
	GoldenRule string     `json:"golden_rule"`
	PlotSeries PlotSeries `json:"plot_series"`

	// ChartURL is set when a chart was rendered for PlotSeries.
	ChartURL string `json:"chart_url,omitempty"`
}

// State is the record threaded through one run. One State exists per
// request and is never shared.
type State struct {
	Messages []model.Message

	Intent         Intent
	SearchQuery    string
	InfluencerHint string

	// SearchResult is read-only once set.
	SearchResult *SearchResult
	NoResult     bool

	StructuredItems []StructuredItem

	// Degraded is set when structurization was skipped or fell below
	// the success threshold. Join treats it as "no enrichment".
	Degraded bool

	JoinResult      *JoinResult
	AggregatedStats *AggregatedStats
	Analysis        *AnalysisResult

	FinalSummary string
	Error        string
}

// NewState seeds a State from the caller's message.
func NewState(message, systemPrompt string) State {
	var msgs []model.Message
	if systemPrompt != "" {
		msgs = append(msgs, model.Message{Role: model.RoleSystem, Content: systemPrompt})
	}
	msgs = append(msgs, model.Message{Role: model.RoleUser, Content: message})
	return State{Messages: msgs}
}

// LastUserMessage returns the most recent user message text.
func (s State) LastUserMessage() string {
	for i := len(s.Messages) - 1; i >= 0; i-- {
		if s.Messages[i].Role == model.RoleUser {
			return s.Messages[i].Content
		}
	}
	return ""
}

// SuccessRate is the share of structured items that succeeded, or 0 with
// no items.
func (s State) SuccessRate() float64 {
	if len(s.StructuredItems) == 0 {
		return 0
	}
	ok := 0
	for _, item := range s.StructuredItems {
		if item.Succeeded {
			ok++
		}
	}
	return float64(ok) / float64(len(s.StructuredItems))
}

// Update is a partial State. Nil fields are absent.
type Update struct {
	Messages []model.Message

	Intent         *Intent
	SearchQuery    *string
	InfluencerHint *string

	SearchResult *SearchResult
	NoResult     *bool

	StructuredItems []StructuredItem
	Degraded        *bool

	JoinResult      *JoinResult
	AggregatedStats *AggregatedStats
	Analysis        *AnalysisResult

	FinalSummary *string
	Error        *string
}

// Reduce merges u into s. Present fields overwrite, Messages append.
// Applying the same update twice equals applying it once except for
// Messages, which grow by the same delta each time.
func Reduce(s State, u Update) State {
	if len(u.Messages) > 0 {
		merged := make([]model.Message, 0, len(s.Messages)+len(u.Messages))
		merged = append(merged, s.Messages...)
		s.Messages = append(merged, u.Messages...)
	}
	if u.Intent != nil {
		s.Intent = *u.Intent
	}
	if u.SearchQuery != nil {
		s.SearchQuery = *u.SearchQuery
	}
	if u.InfluencerHint != nil {
		s.InfluencerHint = *u.InfluencerHint
	}
	if u.SearchResult != nil {
		s.SearchResult = u.SearchResult
	}
	if u.NoResult != nil {
		s.NoResult = *u.NoResult
	}
	if u.StructuredItems != nil {
		s.StructuredItems = u.StructuredItems
	}
	if u.Degraded != nil {
		s.Degraded = *u.Degraded
	}
	if u.JoinResult != nil {
		s.JoinResult = u.JoinResult
	}
	if u.AggregatedStats != nil {
		s.AggregatedStats = u.AggregatedStats
	}
	if u.Analysis != nil {
		s.Analysis = u.Analysis
	}
	if u.FinalSummary != nil {
		s.FinalSummary = *u.FinalSummary
	}
	if u.Error != nil {
		s.Error = *u.Error
	}
	return s
}

// Validate checks the shape of an update before it is merged.
func (u Update) Validate() error {
	if u.Intent != nil && *u.Intent == IntentUnclassified {
		return errors.New("intent cannot be reset to unclassified")
	}
	if u.NoResult != nil && *u.NoResult {
		if u.JoinResult != nil || u.AggregatedStats != nil {
			return errors.New("no-result update cannot carry join or aggregate results")
		}
		if len(u.StructuredItems) > 0 {
			return errors.New("no-result update cannot carry structured items")
		}
	}
	seen := make(map[string]bool, len(u.StructuredItems))
	for i, item := range u.StructuredItems {
		if item.ItemID == "" {
			return fmt.Errorf("structured item %d has no id", i)
		}
		if seen[item.ItemID] {
			return fmt.Errorf("duplicate structured item id %s", item.ItemID)
		}
		seen[item.ItemID] = true
		if item.Succeeded && item.Payload == nil {
			return fmt.Errorf("structured item %s succeeded without payload", item.ItemID)
		}
	}
	for _, m := range u.Messages {
		if m.Role == "" {
			return errors.New("message without role")
		}
	}
	return nil
}

func ptr[T any](v T) *T { return &v }
