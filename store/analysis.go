package store

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// MaterialStat aggregates the rows of one material.
type MaterialStat struct {
	MaterialID    string  `json:"materialId"`
	VideoName     string  `json:"roi2MaterialVideoName"`
	TimelineCount int     `json:"timeline_count"`
	SumCost       float64 `json:"sum_statCostForRoi2"`
	SumShow       float64 `json:"sum_liveShowCountForRoi2V2"`
}

// ROIAnalysis summarizes a row set per material.
type ROIAnalysis struct {
	TotalRows       int            `json:"total_rows"`
	UniqueMaterials int            `json:"unique_materials"`
	ByMaterial      []MaterialStat `json:"by_material"`
}

// AnalyzeROIRows groups rows by material id, summing cost and impressions.
// Materials are ordered by total cost, then total impressions, both
// descending. Rows without a material id count toward TotalRows only.
func AnalyzeROIRows(rows []Row) ROIAnalysis {
	index := make(map[string]int)
	stats := []MaterialStat{}

	for _, r := range rows {
		id := String(r[ColMaterialID])
		if id == "" {
			continue
		}
		i, ok := index[id]
		if !ok {
			i = len(stats)
			index[id] = i
			stats = append(stats, MaterialStat{MaterialID: id, VideoName: String(r[ColVideoName])})
		}
		stats[i].TimelineCount++
		if v, ok := Float(r[ColCost]); ok {
			stats[i].SumCost += v
		}
		if v, ok := Float(r[ColShow]); ok {
			stats[i].SumShow += v
		}
	}

	sort.SliceStable(stats, func(a, b int) bool {
		if stats[a].SumCost != stats[b].SumCost {
			return stats[a].SumCost > stats[b].SumCost
		}
		return stats[a].SumShow > stats[b].SumShow
	})

	return ROIAnalysis{
		TotalRows:       len(rows),
		UniqueMaterials: len(stats),
		ByMaterial:      stats,
	}
}

// Float converts a driver value to float64. Numeric strings are parsed;
// nil and anything unparseable report false.
func Float(v any) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case float32:
		return float64(x), true
	case int:
		return float64(x), true
	case int32:
		return float64(x), true
	case int64:
		return float64(x), true
	case uint64:
		return float64(x), true
	case []byte:
		return Float(string(x))
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(x), 64)
		if err != nil {
			return 0, false
		}
		return f, true
	default:
		return 0, false
	}
}

// String renders a driver value as text; nil becomes "".
func String(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case []byte:
		return string(x)
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	default:
		return fmt.Sprint(x)
	}
}
