package workflow

import (
	"context"
	"encoding/csv"
	"errors"
	"sort"
	"strconv"
	"strings"

	"github.com/apex/log"

	"github.com/xiaomayi-ant/insight-agent/graph"
	"github.com/xiaomayi-ant/insight-agent/store"
)

// EmptyStatsCSV is the CSV produced when nothing could be aggregated.
const EmptyStatsCSV = "tag,count,avg_roi,avg_ctr\n"

// mergedRow is one structured item matched with one ROI row.
type mergedRow struct {
	structure *IntentStructure
	roi       float64
	ctr       float64
	cost      float64
	show      int64
	click     int64
}

// dimensionValue returns the tag of s along dimension.
func dimensionValue(s *IntentStructure, dimension string) (string, bool) {
	switch dimension {
	case "opening_strategy":
		return s.TacticalBreakdown.OpeningStrategy, true
	case "closing_trigger":
		return s.TacticalBreakdown.ClosingTrigger, true
	case "dominant_emotion":
		return s.TacticalBreakdown.DominantEmotion, true
	case "script_archetype":
		return s.NarrativeAnalysis.ScriptArchetype, true
	case "pacing":
		return s.NarrativeAnalysis.Pacing, true
	}
	return "", false
}

// mergeItemsWithRows inner-joins successful items with rows on material id.
func mergeItemsWithRows(items []StructuredItem, rows []store.Row) []mergedRow {
	byID := make(map[string][]store.Row)
	for _, r := range rows {
		id := store.String(r[store.ColMaterialID])
		byID[id] = append(byID[id], r)
	}

	var merged []mergedRow
	for _, item := range items {
		if !item.Succeeded || item.Payload == nil {
			continue
		}
		for _, r := range byID[item.ItemID] {
			m := mergedRow{structure: item.Payload}
			m.roi, _ = store.Float(r[store.ColROI])
			m.cost, _ = store.Float(r[store.ColCost])
			show, _ := store.Float(r[store.ColShow])
			watch, _ := store.Float(r[store.ColWatch])
			m.show, m.click = int64(show), int64(watch)
			if show > 0 {
				m.ctr = watch / show
			}
			merged = append(merged, m)
		}
	}
	return merged
}

// aggregateDimension groups merged rows by their tag along dimension,
// keeping tags seen at least minCount times, most frequent first.
func aggregateDimension(merged []mergedRow, dimension string, minCount int) []StatRow {
	index := make(map[string]int)
	var stats []StatRow
	for _, m := range merged {
		tag, _ := dimensionValue(m.structure, dimension)
		i, seen := index[tag]
		if !seen {
			i = len(stats)
			index[tag] = i
			stats = append(stats, StatRow{Dimension: dimension, Tag: tag})
		}
		st := &stats[i]
		st.Count++
		st.AvgROI += m.roi
		st.AvgCTR += m.ctr
		st.TotalCost += m.cost
		st.TotalShow += m.show
		st.TotalClick += m.click
	}

	kept := stats[:0]
	for _, st := range stats {
		if st.Count < minCount {
			continue
		}
		st.AvgROI /= float64(st.Count)
		st.AvgCTR /= float64(st.Count)
		kept = append(kept, st)
	}
	sort.SliceStable(kept, func(a, b int) bool {
		if kept[a].Count != kept[b].Count {
			return kept[a].Count > kept[b].Count
		}
		return kept[a].Tag < kept[b].Tag
	})
	return kept
}

// StatsCSV renders rows as dimension,tag,count,avg_roi,avg_ctr.
func StatsCSV(rows []StatRow) string {
	if len(rows) == 0 {
		return EmptyStatsCSV
	}
	var sb strings.Builder
	w := csv.NewWriter(&sb)
	_ = w.Write([]string{"dimension", "tag", "count", "avg_roi", "avg_ctr"})
	for _, r := range rows {
		_ = w.Write([]string{
			r.Dimension,
			r.Tag,
			strconv.Itoa(r.Count),
			strconv.FormatFloat(r.AvgROI, 'f', -1, 64),
			strconv.FormatFloat(r.AvgCTR, 'f', -1, 64),
		})
	}
	w.Flush()
	return sb.String()
}

func (p *pipeline) aggregate(_ context.Context, s State) graph.NodeResult[Update] {
	if s.NoResult {
		return ok(Update{})
	}
	if s.JoinResult == nil {
		return fail(Update{}, errors.New("no join result"), "aggregation failed")
	}
	logger := p.logger.WithField("node_id", NodeAggregate)

	merged := mergeItemsWithRows(s.StructuredItems, s.JoinResult.Rows.Rows)
	var rows []StatRow
	for _, dim := range p.cfg.Dimensions {
		if _, known := dimensionValue(&IntentStructure{}, dim); !known {
			logger.WithField("dimension", dim).Warn("unknown dimension skipped")
			continue
		}
		rows = append(rows, aggregateDimension(merged, dim, p.cfg.MinCount)...)
	}
	if rows == nil {
		rows = []StatRow{}
	}

	stats := &AggregatedStats{Rows: rows, Merged: len(merged), CSV: StatsCSV(rows)}
	logger.WithFields(log.Fields{
		"merged": len(merged),
		"rows":   len(rows),
	}).Info("aggregation completed")

	return ok(Update{AggregatedStats: stats})
}
