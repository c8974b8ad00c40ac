package workflow

import (
	"context"
	"errors"
	"time"

	"github.com/apex/log"

	"github.com/xiaomayi-ant/insight-agent/graph"
	"github.com/xiaomayi-ant/insight-agent/graph/emit"
)

// ToolSearch is the tool name announced before a search.
const ToolSearch = "vikingdb_search"

// search queries the vector store. A search that comes back empty is a
// business outcome: the run ends with NotFoundMessage even if the
// searcher also reported an error alongside the empty result.
func (p *pipeline) search(ctx context.Context, s State) graph.NodeResult[Update] {
	if s.Intent != IntentVkdbSearch {
		return fail(Update{}, errors.New("intent is "+s.Intent.String()), "search failed")
	}
	if s.SearchQuery == "" {
		return fail(Update{}, errors.New("no query provided"), "search failed")
	}

	influencer := firstNonEmpty(s.InfluencerHint, s.SearchQuery)
	logger := p.logger.WithFields(log.Fields{
		"node_id":    NodeSearch,
		"query":      s.SearchQuery,
		"influencer": influencer,
	})

	emit.ToolStart(ctx, ToolSearch)
	started := time.Now()
	result, err := p.deps.Searcher.Search(ctx, SearchRequest{
		Query:        s.SearchQuery,
		Influencer:   influencer,
		Limit:        p.cfg.SearchLimit,
		OutputFields: p.cfg.OutputFields,
	})
	elapsed := time.Since(started)
	if err == nil && result == nil {
		result = &SearchResult{}
	}

	if result != nil && result.Returned() == 0 {
		if err != nil {
			logger.WithError(err).Warn("search error ignored, empty result wins")
		}
		logger.WithField("elapsed_ms", elapsed.Milliseconds()).Warn("no records found")
		return ok(Update{
			SearchResult:   result,
			NoResult:       ptr(true),
			InfluencerHint: &influencer,
			FinalSummary:   ptr(NotFoundMessage),
		})
	}
	if err != nil {
		logger.WithError(err).WithField("elapsed_ms", elapsed.Milliseconds()).Error("search failed")
		return fail(Update{}, err, "VikingDB search failed")
	}

	logger.WithFields(log.Fields{
		"returned":   result.Returned(),
		"elapsed_ms": elapsed.Milliseconds(),
	}).Info("search completed")

	return ok(Update{
		SearchResult:   result,
		NoResult:       ptr(false),
		InfluencerHint: &influencer,
	})
}
