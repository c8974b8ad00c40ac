package store

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// DefaultTable is the reporting table queried by the join step.
const DefaultTable = "mandasike_qianchuan_room_daily_dimension"

// ErrIllegalFilter is returned when filter text falls outside its
// allow-list. Statements are composed as text, so nothing outside the
// allow-lists ever reaches SQL.
var ErrIllegalFilter = errors.New("illegal filter value")

var (
	influencerAllowed = regexp.MustCompile(`^[\x{4e00}-\x{9fff}A-Za-z0-9 \t.\-_()（）·]+$`)
	materialIDAllowed = regexp.MustCompile(`^[A-Za-z0-9_\-.]+$`)
	tableAllowed      = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)
)

// ROIQuery describes one ROI statement.
type ROIQuery struct {
	// Influencer is matched as a substring of the material video name.
	Influencer string

	// MaterialIDs restrict rows to these materials.
	MaterialIDs []string

	// Table defaults to DefaultTable.
	Table string

	// RequireIn makes an empty MaterialIDs list match nothing (1=0)
	// instead of every material (1=1).
	RequireIn bool

	Dialect Dialect
}

// ROI columns selected by ComposeROIStatement.
const (
	ColTimeline   = "timeline"
	ColCost       = "statCostForRoi2"
	ColVideoName  = "roi2MaterialVideoName"
	ColMaterialID = "materialId"
	ColUploadTime = "roi2MaterialUploadTime"
	ColROI        = "totalPrepayAndPayOrderRoi2"
	ColShow       = "liveShowCountForRoi2V2"
	ColWatch      = "liveWatchCountForRoi2V2"
)

// ComposeROIStatement builds the ROI select for q. Every piece of filter
// text is checked against an allow-list and then quoted for q.Dialect.
func ComposeROIStatement(q ROIQuery) (string, error) {
	influencer := strings.TrimSpace(q.Influencer)
	if influencer == "" {
		return "", fmt.Errorf("%w: influencer is empty", ErrIllegalFilter)
	}
	if !influencerAllowed.MatchString(influencer) {
		return "", fmt.Errorf("%w: influencer contains illegal chars: %s", ErrIllegalFilter, influencer)
	}

	table := q.Table
	if table == "" {
		table = DefaultTable
	}
	if !tableAllowed.MatchString(table) {
		return "", fmt.Errorf("%w: table name: %s", ErrIllegalFilter, table)
	}

	for _, id := range q.MaterialIDs {
		if !materialIDAllowed.MatchString(id) {
			return "", fmt.Errorf("%w: materialId contains illegal chars: %s", ErrIllegalFilter, id)
		}
	}

	var inClause string
	switch {
	case len(q.MaterialIDs) == 0 && q.RequireIn:
		inClause = "1=0"
	case len(q.MaterialIDs) == 0:
		inClause = "1=1"
	default:
		quoted := make([]string, len(q.MaterialIDs))
		for i, id := range q.MaterialIDs {
			quoted[i] = quoteString(id, q.Dialect)
		}
		inClause = ColMaterialID + " in (" + strings.Join(quoted, ",") + ")"
	}

	likeExpr := "'%" + escapeLike(influencer) + "%' ESCAPE " + escapeLiteral(q.Dialect)

	var sb strings.Builder
	sb.WriteString("select\n  ")
	sb.WriteString(strings.Join([]string{
		ColTimeline, ColCost, ColVideoName, ColMaterialID,
		ColUploadTime, ColROI, ColShow, ColWatch,
	}, ",\n  "))
	sb.WriteString("\nfrom " + table)
	sb.WriteString("\nwhere " + ColVideoName + " like " + likeExpr)
	sb.WriteString("\n  and " + inClause)
	sb.WriteString("\n  and " + ColShow + " > 0")
	sb.WriteString("\n  and " + ColWatch + " > 0")
	return sb.String(), nil
}

// ParseMaterialIDs splits a comma-separated id list, dropping blanks and
// duplicates and stopping at max ids.
func ParseMaterialIDs(raw string, max int) ([]string, error) {
	seen := make(map[string]bool)
	ids := []string{}
	for _, part := range strings.Split(raw, ",") {
		id := strings.TrimSpace(part)
		if id == "" || seen[id] {
			continue
		}
		if !materialIDAllowed.MatchString(id) {
			return nil, fmt.Errorf("%w: materialId contains illegal chars: %s", ErrIllegalFilter, id)
		}
		seen[id] = true
		ids = append(ids, id)
		if max > 0 && len(ids) >= max {
			break
		}
	}
	return ids, nil
}

// quoteString renders s as a string literal. MySQL treats backslash as an
// escape inside literals, SQLite does not.
func quoteString(s string, d Dialect) string {
	if d != DialectSQLite {
		s = strings.ReplaceAll(s, `\`, `\\`)
	}
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

// escapeLike escapes LIKE wildcards with a backslash. The allow-list keeps
// quotes and backslashes out of s, so no literal quoting is needed.
func escapeLike(s string) string {
	s = strings.ReplaceAll(s, "%", `\%`)
	return strings.ReplaceAll(s, "_", `\_`)
}

// escapeLiteral is the ESCAPE clause operand: a single backslash character.
func escapeLiteral(d Dialect) string {
	if d == DialectSQLite {
		return `'\'`
	}
	return `'\\'`
}
