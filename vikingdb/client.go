package vikingdb

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/apex/log"
	"github.com/bytedance/sonic"
	"github.com/tidwall/gjson"
)

// MultiModalPath is the multi-modal search endpoint.
const MultiModalPath = "/api/vikingdb/data/search/multi_modal"

// DefaultOutputFields are requested when neither the request nor the
// config names any.
var DefaultOutputFields = []string{"influencer", "intent_analysis", "landscape_video"}

// Config configures a Client.
type Config struct {
	AccessKey string
	SecretKey string
	Host      string
	Region    string
	Service   string

	// Scheme is "https" unless overridden (tests use "http").
	Scheme string

	Timeout time.Duration

	Collection string

	// Index defaults to Collection.
	Index string

	// EnableInfluenceFilter adds a must-match filter on the influencer
	// field when the request names one.
	EnableInfluenceFilter bool

	NeedInstruction bool

	Limit        int
	OutputFields []string
}

// Client calls the VikingDB data plane.
type Client struct {
	cfg    Config
	http   *http.Client
	logger log.Interface
	now    func() time.Time
}

// NewClient creates a Client, filling defaults for region, service,
// scheme, timeout, index, limit and output fields.
func NewClient(cfg Config, logger log.Interface) (*Client, error) {
	if cfg.Host == "" {
		return nil, fmt.Errorf("vikingdb: host is required")
	}
	if cfg.Collection == "" {
		return nil, fmt.Errorf("vikingdb: collection name is required")
	}
	if cfg.Region == "" {
		cfg.Region = "cn-beijing"
	}
	if cfg.Service == "" {
		cfg.Service = "vikingdb"
	}
	if cfg.Scheme == "" {
		cfg.Scheme = "https"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	if cfg.Index == "" {
		cfg.Index = cfg.Collection
	}
	if cfg.Limit <= 0 {
		cfg.Limit = 10
	}
	if len(cfg.OutputFields) == 0 {
		cfg.OutputFields = DefaultOutputFields
	}
	if logger == nil {
		logger = log.Log
	}

	return &Client{
		cfg:    cfg,
		http:   &http.Client{Timeout: cfg.Timeout},
		logger: logger,
		now:    time.Now,
	}, nil
}

// Search runs a multi-modal text search.
func (c *Client) Search(ctx context.Context, req SearchRequest) (*SearchResult, error) {
	text := strings.TrimSpace(req.Query)
	if text == "" {
		text = strings.TrimSpace(req.Influencer)
	}
	if text == "" {
		return nil, ErrEmptyQuery
	}

	payload := c.buildBody(text, req)
	body, err := sonic.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("vikingdb: encode request: %w", err)
	}

	raw, err := c.post(ctx, MultiModalPath, body)
	if err != nil {
		return nil, err
	}

	result, err := parseSearchResponse(raw)
	if err != nil {
		return nil, err
	}

	c.logger.WithFields(log.Fields{
		"query":      text,
		"influencer": req.Influencer,
		"returned":   result.Returned(),
	}).Debug("vikingdb search")
	return result, nil
}

func (c *Client) buildBody(text string, req SearchRequest) map[string]any {
	limit := req.Limit
	if limit <= 0 {
		limit = c.cfg.Limit
	}
	fields := req.OutputFields
	if len(fields) == 0 {
		fields = c.cfg.OutputFields
	}

	body := map[string]any{
		"collection_name":  c.cfg.Collection,
		"index_name":       c.cfg.Index,
		"limit":            limit,
		"output_fields":    fields,
		"text":             text,
		"need_instruction": c.cfg.NeedInstruction,
	}

	if influencer := strings.TrimSpace(req.Influencer); c.cfg.EnableInfluenceFilter && influencer != "" {
		body["filter"] = InfluencerFilter(influencer)
	}
	return body
}

// InfluencerFilter is the must-match filter on the influencer field.
func InfluencerFilter(influencer string) map[string]any {
	return map[string]any{
		"op": "and",
		"conds": []any{
			map[string]any{
				"op":    "must",
				"field": "influencer",
				"conds": []string{influencer},
			},
		},
	}
}

func (c *Client) post(ctx context.Context, path string, body []byte) ([]byte, error) {
	url := c.cfg.Scheme + "://" + c.cfg.Host + path
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("vikingdb: failed to create request: %w", err)
	}
	req.Host = c.cfg.Host
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Host", c.cfg.Host)

	sign(req, body, credentials{
		AccessKey: c.cfg.AccessKey,
		SecretKey: c.cfg.SecretKey,
		Region:    c.cfg.Region,
		Service:   c.cfg.Service,
	}, c.now())

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("vikingdb: failed to execute request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("vikingdb: failed to read response body: %w", err)
	}
	if resp.StatusCode/100 != 2 {
		return nil, fmt.Errorf("HTTP %d: %s", resp.StatusCode, respBody)
	}
	return respBody, nil
}

// parseSearchResponse reads result.data[].fields out of a search response.
func parseSearchResponse(raw []byte) (*SearchResult, error) {
	if !gjson.ValidBytes(raw) {
		return nil, fmt.Errorf("Non-JSON response: %s", raw)
	}

	parsed := gjson.ParseBytes(raw)
	result := &SearchResult{Records: []Record{}}

	parsed.Get("result.data").ForEach(func(_, item gjson.Result) bool {
		if !item.IsObject() {
			return true
		}
		rec := Record{Fields: map[string]any{}, Score: item.Get("score").Float()}
		if fields, ok := item.Get("fields").Value().(map[string]any); ok {
			rec.Fields = fields
		}
		result.Records = append(result.Records, rec)
		return true
	})

	return result, nil
}
