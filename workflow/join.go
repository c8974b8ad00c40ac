package workflow

import (
	"context"
	"errors"
	"time"

	"github.com/apex/log"

	"github.com/xiaomayi-ant/insight-agent/graph"
	"github.com/xiaomayi-ant/insight-agent/graph/emit"
	"github.com/xiaomayi-ant/insight-agent/store"
)

// ToolQuery is the tool name announced before the ROI query.
const ToolQuery = "mysql_query"

// joinKeys collects the video locations and the distinct material ids
// of result, stopping once maxIn ids were found.
func joinKeys(result *SearchResult, maxIn int) (tosURLs, materialIDs []string) {
	tosURLs, materialIDs = []string{}, []string{}
	if result == nil {
		return tosURLs, materialIDs
	}
	seen := make(map[string]bool)
	for _, rec := range result.Records {
		key := recordJoinKey(rec)
		if key.TOSURL != "" {
			tosURLs = append(tosURLs, key.TOSURL)
		}
		if key.MaterialID == "" || seen[key.MaterialID] {
			continue
		}
		seen[key.MaterialID] = true
		materialIDs = append(materialIDs, key.MaterialID)
		if maxIn > 0 && len(materialIDs) >= maxIn {
			break
		}
	}
	return tosURLs, materialIDs
}

// JoinOptions control RunJoin.
type JoinOptions struct {
	// Table defaults to store.DefaultTable.
	Table   string
	MaxIn   int
	MaxRows int

	// RequireIn makes a search without material ids match no rows.
	RequireIn bool

	Dialect store.Dialect
}

// RunJoin fetches the ROI rows of the materials in result whose video
// name mentions influencer, and summarizes them per material.
func RunJoin(ctx context.Context, rows RowQuerier, influencer string, result *SearchResult, opts JoinOptions) (*JoinResult, error) {
	if opts.Table == "" {
		opts.Table = store.DefaultTable
	}
	tosURLs, ids := joinKeys(result, opts.MaxIn)

	statement, err := store.ComposeROIStatement(store.ROIQuery{
		Influencer:  influencer,
		MaterialIDs: ids,
		Table:       opts.Table,
		RequireIn:   opts.RequireIn,
		Dialect:     opts.Dialect,
	})
	if err != nil {
		return nil, err
	}

	emit.ToolStart(ctx, ToolQuery)
	found, err := rows.Query(ctx, statement, opts.MaxRows)
	if err != nil {
		return nil, err
	}
	if found == nil {
		found = []store.Row{}
	}

	return &JoinResult{
		Influencer: influencer,
		Search: JoinSearch{
			Returned:    result.Returned(),
			TOSURLs:     tosURLs,
			MaterialIDs: ids,
		},
		Rows: JoinRows{
			Table:    opts.Table,
			RowCount: len(found),
			Rows:     found,
		},
		Analysis: store.AnalyzeROIRows(found),
	}, nil
}

// DialectOf reports the SQL dialect of rows, defaulting to MySQL.
func DialectOf(rows RowQuerier) store.Dialect {
	if d, ok := rows.(interface{ Dialect() store.Dialect }); ok {
		return d.Dialect()
	}
	return store.DialectMySQL
}

// join fetches the ROI rows of the materials found by the search. An
// empty material set still runs, matching nothing.
func (p *pipeline) join(ctx context.Context, s State) graph.NodeResult[Update] {
	if s.NoResult {
		return ok(Update{})
	}
	if s.SearchResult == nil {
		return fail(Update{}, errors.New("no search result"), "MySQL join failed")
	}

	influencer := firstNonEmpty(s.InfluencerHint, s.SearchQuery)
	logger := p.logger.WithFields(log.Fields{
		"node_id":    NodeJoin,
		"influencer": influencer,
		"degraded":   s.Degraded,
	})

	started := time.Now()
	joined, err := RunJoin(ctx, p.deps.Rows, influencer, s.SearchResult, JoinOptions{
		Table:     p.cfg.Table,
		MaxIn:     p.cfg.MaxIn,
		MaxRows:   p.cfg.MaxRows,
		RequireIn: true,
		Dialect:   DialectOf(p.deps.Rows),
	})
	elapsed := time.Since(started)
	if err != nil {
		logger.WithError(err).WithField("elapsed_ms", elapsed.Milliseconds()).Error("join failed")
		return fail(Update{}, err, "MySQL join failed")
	}

	logger.WithFields(log.Fields{
		"material_ids": len(joined.Search.MaterialIDs),
		"row_count":    joined.Rows.RowCount,
		"elapsed_ms":   elapsed.Milliseconds(),
	}).Info("join completed")

	return ok(Update{JoinResult: joined})
}
