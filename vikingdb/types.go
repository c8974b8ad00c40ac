// Package vikingdb is a client for VikingDB multi-modal search, with
// request signing and an optional Redis-backed result cache.
package vikingdb

import (
	"context"
	"errors"
)

// ErrEmptyQuery is returned when a search has neither query text nor an
// influencer to search for.
var ErrEmptyQuery = errors.New("vikingdb: empty query")

// SearchRequest is one search.
type SearchRequest struct {
	// Query is the search text.
	Query string `json:"query"`

	// Influencer restricts results to one influencer when influence
	// filtering is enabled.
	Influencer string `json:"influencer,omitempty"`

	// Limit caps the number of records. Zero uses the client default.
	Limit int `json:"limit,omitempty"`

	// OutputFields lists the record fields to return. Empty uses the
	// client default.
	OutputFields []string `json:"output_fields,omitempty"`
}

// Record is one search hit.
type Record struct {
	Fields map[string]any `json:"fields"`
	Score  float64        `json:"score,omitempty"`
}

// SearchResult is the payload of a search. It is treated as read-only once
// returned.
type SearchResult struct {
	Records []Record `json:"records"`
}

// Searcher runs searches. *Client and *CachedSearcher implement it.
type Searcher interface {
	Search(ctx context.Context, req SearchRequest) (*SearchResult, error)
}

// Returned is the number of records in r; nil counts as zero.
func (r *SearchResult) Returned() int {
	if r == nil {
		return 0
	}
	return len(r.Records)
}

// String returns a text field of the record, or "" if absent or not text.
func (rec Record) String(field string) string {
	s, _ := rec.Fields[field].(string)
	return s
}
