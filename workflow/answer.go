package workflow

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"

	"github.com/apex/log"
	"github.com/bytedance/sonic"

	"github.com/xiaomayi-ant/insight-agent/chart"
	"github.com/xiaomayi-ant/insight-agent/graph"
	"github.com/xiaomayi-ant/insight-agent/graph/emit"
	"github.com/xiaomayi-ant/insight-agent/graph/model"
)

// joinView is the part of a join result shown to the summarizer. Raw rows
// are left out; the per-material analysis already covers them.
type joinView struct {
	Influencer string     `json:"influencer"`
	Search     JoinSearch `json:"vkdb"`
	Table      string     `json:"table"`
	RowCount   int        `json:"row_count"`
	Analysis   any        `json:"analysis"`
}

// summarize streams the final answer. A summary set upstream is kept as
// is. A rendered chart is appended after the stream ends.
func (p *pipeline) summarize(ctx context.Context, s State) graph.NodeResult[Update] {
	logger := p.logger.WithField("node_id", NodeSummarize)
	if s.FinalSummary != "" {
		logger.Info("summary already set upstream")
		return ok(Update{})
	}
	if s.SearchResult == nil {
		return fail(Update{}, errors.New("no search result"), "LLM summarization failed")
	}

	prompt, err := p.summaryPrompt(s)
	if err != nil {
		return fail(Update{}, err, "LLM summarization failed")
	}

	out, err := p.deps.Model.ChatStream(ctx, []model.Message{
		{Role: model.RoleSystem, Content: summarizeSystemPrompt},
		{Role: model.RoleUser, Content: prompt},
	}, tokenSink(ctx, logger))
	if err != nil {
		logger.WithError(err).Error("summarization failed")
		return fail(Update{}, err, "LLM summarization failed")
	}

	summary := out.Text
	if a := s.Analysis; a != nil && a.ChartURL != "" {
		summary += chart.Markdown(a.PlotSeries.Title, a.ChartURL)
	}

	logger.WithField("length", len([]rune(summary))).Info("summary completed")
	return ok(Update{
		FinalSummary: &summary,
		Messages:     []model.Message{{Role: model.RoleAssistant, Content: summary}},
	})
}

func (p *pipeline) summaryPrompt(s State) (string, error) {
	var sb strings.Builder
	sb.WriteString("用户查询：")
	sb.WriteString(firstNonEmpty(s.SearchQuery, "查询"))

	search, err := sonic.MarshalString(s.SearchResult)
	if err != nil {
		return "", err
	}
	sb.WriteString("\n\nVikingDB搜索结果：\n")
	sb.WriteString(search)

	if j := s.JoinResult; j != nil {
		view, err := sonic.MarshalString(joinView{
			Influencer: j.Influencer,
			Search:     j.Search,
			Table:      j.Rows.Table,
			RowCount:   j.Rows.RowCount,
			Analysis:   j.Analysis,
		})
		if err != nil {
			return "", err
		}
		sb.WriteString("\n\nMySQL分析结果：\n")
		sb.WriteString(view)
	}

	if st := s.AggregatedStats; st != nil && len(st.Rows) > 0 {
		sb.WriteString("\n\n标签统计：\n")
		sb.WriteString(st.CSV)
	}
	if a := s.Analysis; a != nil {
		sb.WriteString("\n\n分析结论：\n关键洞察：")
		sb.WriteString(a.KeyInsight)
		sb.WriteString("\n黄金法则：")
		sb.WriteString(a.GoldenRule)
	}

	sb.WriteString("\n\n请生成总结回复。")
	return sb.String(), nil
}

// simpleChat answers the conversation directly.
func (p *pipeline) simpleChat(ctx context.Context, s State) graph.NodeResult[Update] {
	logger := p.logger.WithField("node_id", NodeSimpleChat)
	if len(s.Messages) == 0 {
		return fail(Update{}, errors.New("no messages provided"), "Simple chat failed")
	}

	out, err := p.deps.Model.ChatStream(ctx, s.Messages, tokenSink(ctx, logger))
	if err != nil {
		logger.WithError(err).Error("chat failed")
		return fail(Update{}, err, "Simple chat failed")
	}

	logger.WithField("length", len([]rune(out.Text))).Info("reply completed")
	return ok(Update{
		FinalSummary: &out.Text,
		Messages:     []model.Message{{Role: model.RoleAssistant, Content: out.Text}},
	})
}

// tokenSink forwards streamed chunks as token events, logging the 1st,
// 10th and 20th chunk.
func tokenSink(ctx context.Context, logger log.Interface) func(string) {
	var n atomic.Int64
	return func(chunk string) {
		emit.Token(ctx, chunk)
		switch count := n.Add(1); count {
		case 1, 10, 20:
			logger.WithField("tokens", count).Debug("streaming")
		}
	}
}
