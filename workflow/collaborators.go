package workflow

import (
	"context"
	"net/url"
	"strings"

	"github.com/xiaomayi-ant/insight-agent/chart"
	"github.com/xiaomayi-ant/insight-agent/store"
	"github.com/xiaomayi-ant/insight-agent/vikingdb"
)

type (
	// SearchRequest is the search collaborator's request.
	SearchRequest = vikingdb.SearchRequest

	// SearchResult is the opaque search payload kept in State.
	SearchResult = vikingdb.SearchResult
)

// Searcher finds records for a query. vikingdb.Client and
// vikingdb.CachedSearcher implement it.
type Searcher interface {
	Search(ctx context.Context, req SearchRequest) (*SearchResult, error)
}

// RowQuerier runs a composed statement. store.DB implements it.
type RowQuerier interface {
	Query(ctx context.Context, statement string, maxRows int) ([]store.Row, error)
}

// ChartRenderer turns a series into an image reference. Failures are
// swallowed by the caller.
type ChartRenderer interface {
	Render(ctx context.Context, s chart.Series) (string, error)
}

// JoinKeyField is the record field the join key is read from.
const JoinKeyField = "landscape_video"

// JoinKey is what ExtractJoinKey finds in a record.
type JoinKey struct {
	// TOSURL is the video location, possibly empty.
	TOSURL string

	// MaterialID is empty when the filename is not a numeric id.
	MaterialID string
}

// ExtractJoinKey reads the video location from a landscape_video value,
// either a string or an object with a "value" key, and takes the
// material id from its filename: the text before the last ".mp4"
// (case-insensitive), which must be all digits.
func ExtractJoinKey(landscapeVideo any) JoinKey {
	var raw string
	switch v := landscapeVideo.(type) {
	case string:
		raw = strings.TrimSpace(v)
	case map[string]any:
		if s, ok := v["value"].(string); ok {
			raw = strings.TrimSpace(s)
		}
	}
	return JoinKey{TOSURL: raw, MaterialID: materialIDFromURL(raw)}
}

func materialIDFromURL(raw string) string {
	if raw == "" {
		return ""
	}

	filename := raw[strings.LastIndex(raw, "/")+1:]
	if u, err := url.Parse(raw); err == nil && u.Path != "" {
		filename = u.Path[strings.LastIndex(u.Path, "/")+1:]
	}
	filename = strings.TrimSpace(filename)

	idx := strings.LastIndex(strings.ToLower(filename), ".mp4")
	if idx <= 0 {
		return ""
	}
	id := filename[:idx]
	for _, r := range id {
		if r < '0' || r > '9' {
			return ""
		}
	}
	return id
}

// recordJoinKey extracts the join key of a search record.
func recordJoinKey(rec vikingdb.Record) JoinKey {
	return ExtractJoinKey(rec.Fields[JoinKeyField])
}
