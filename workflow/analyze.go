package workflow

import (
	"context"
	"strings"

	"github.com/apex/log"
	"github.com/bytedance/sonic"
	"github.com/kaptinlin/jsonrepair"

	"github.com/xiaomayi-ant/insight-agent/chart"
	"github.com/xiaomayi-ant/insight-agent/graph"
	"github.com/xiaomayi-ant/insight-agent/graph/model"
)

// analyze asks the model for the key insight behind the aggregated stats
// and renders the proposed series as a chart when a renderer is set.
func (p *pipeline) analyze(ctx context.Context, s State) graph.NodeResult[Update] {
	logger := p.logger.WithField("node_id", NodeAnalyze)
	if s.AggregatedStats == nil || len(s.AggregatedStats.Rows) == 0 {
		logger.Info("no aggregated stats, skipping analysis")
		return ok(Update{})
	}

	out, err := p.deps.Model.Chat(ctx, []model.Message{
		{Role: model.RoleSystem, Content: analyzeSystemPrompt},
		{Role: model.RoleUser, Content: s.AggregatedStats.CSV},
	}, model.WithJSON())
	if err != nil {
		logger.WithError(err).Error("analysis call failed")
		return fail(Update{}, err, "LLM analysis failed")
	}

	analysis, err := decodeAnalysis(out.Text)
	if err != nil {
		logger.WithError(err).Error("analysis answer unusable")
		return fail(Update{}, err, "LLM analysis failed")
	}

	if p.deps.Charts != nil && len(analysis.PlotSeries.Labels) > 0 {
		link, err := p.deps.Charts.Render(ctx, chart.Series{
			Title:  analysis.PlotSeries.Title,
			Labels: analysis.PlotSeries.Labels,
			Values: analysis.PlotSeries.Values,
		})
		if err != nil {
			logger.WithError(err).Warn("chart rendering failed")
		} else {
			analysis.ChartURL = link
		}
	}

	logger.WithFields(log.Fields{
		"key_insight": analysis.KeyInsight,
		"chart":       analysis.ChartURL != "",
	}).Info("analysis completed")
	return ok(Update{Analysis: analysis})
}

func decodeAnalysis(raw string) (*AnalysisResult, error) {
	text := stripFences(raw)
	var a AnalysisResult
	if err := sonic.UnmarshalString(text, &a); err != nil {
		repaired, rerr := jsonrepair.JSONRepair(text)
		if rerr != nil {
			return nil, err
		}
		if err := sonic.UnmarshalString(repaired, &a); err != nil {
			return nil, err
		}
	}
	a.KeyInsight = strings.TrimSpace(a.KeyInsight)
	a.GoldenRule = strings.TrimSpace(a.GoldenRule)
	if n := len(a.PlotSeries.Values); len(a.PlotSeries.Labels) > n {
		a.PlotSeries.Labels = a.PlotSeries.Labels[:n]
	} else {
		a.PlotSeries.Values = a.PlotSeries.Values[:len(a.PlotSeries.Labels)]
	}
	return &a, nil
}
