// Package chart renders bar charts through the QuickChart service and
// returns an image URL that can be embedded in a Markdown answer.
package chart

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/bytedance/sonic"
	"github.com/tidwall/gjson"
)

// DefaultBaseURL is the public QuickChart endpoint.
const DefaultBaseURL = "https://quickchart.io"

// ErrEmptySeries is returned when there is nothing to plot.
var ErrEmptySeries = errors.New("chart: empty series")

// Series is one labelled data series.
type Series struct {
	Title  string    `json:"title,omitempty"`
	Labels []string  `json:"labels"`
	Values []float64 `json:"values"`
}

// Validate checks that labels and values line up.
func (s Series) Validate() error {
	if len(s.Labels) == 0 || len(s.Values) == 0 {
		return ErrEmptySeries
	}
	if len(s.Labels) != len(s.Values) {
		return fmt.Errorf("chart: %d labels but %d values", len(s.Labels), len(s.Values))
	}
	return nil
}

// Config configures a QuickChart renderer.
type Config struct {
	BaseURL string
	Width   int
	Height  int

	// Shorten asks the service for a short URL (POST /chart/create)
	// instead of encoding the chart into a GET URL.
	Shorten bool

	Timeout time.Duration
}

// QuickChart renders charts via quickchart.io or a self-hosted instance.
type QuickChart struct {
	cfg  Config
	http *http.Client
}

// NewQuickChart creates a renderer, filling defaults.
func NewQuickChart(cfg Config) *QuickChart {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Width <= 0 {
		cfg.Width = 600
	}
	if cfg.Height <= 0 {
		cfg.Height = 360
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &QuickChart{cfg: cfg, http: &http.Client{Timeout: cfg.Timeout}}
}

// Render returns an image URL for s.
func (q *QuickChart) Render(ctx context.Context, s Series) (string, error) {
	if err := s.Validate(); err != nil {
		return "", err
	}

	config := chartConfig(s)
	if q.cfg.Shorten {
		return q.create(ctx, config)
	}

	spec, err := sonic.MarshalString(config)
	if err != nil {
		return "", fmt.Errorf("chart: encode config: %w", err)
	}

	params := url.Values{}
	params.Set("c", spec)
	params.Set("w", fmt.Sprint(q.cfg.Width))
	params.Set("h", fmt.Sprint(q.cfg.Height))
	return q.cfg.BaseURL + "/chart?" + params.Encode(), nil
}

func (q *QuickChart) create(ctx context.Context, config map[string]any) (string, error) {
	body, err := sonic.Marshal(map[string]any{
		"chart":  config,
		"width":  q.cfg.Width,
		"height": q.cfg.Height,
	})
	if err != nil {
		return "", fmt.Errorf("chart: encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, q.cfg.BaseURL+"/chart/create", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("chart: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := q.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("chart: request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("chart: read response: %w", err)
	}
	if resp.StatusCode/100 != 2 {
		return "", fmt.Errorf("chart: HTTP %d: %s", resp.StatusCode, raw)
	}

	link := gjson.GetBytes(raw, "url").String()
	if link == "" {
		return "", fmt.Errorf("chart: no url in response")
	}
	return link, nil
}

func chartConfig(s Series) map[string]any {
	cfg := map[string]any{
		"type": "bar",
		"data": map[string]any{
			"labels": s.Labels,
			"datasets": []any{
				map[string]any{"label": s.Title, "data": s.Values},
			},
		},
	}
	if s.Title != "" {
		cfg["options"] = map[string]any{
			"title": map[string]any{"display": true, "text": s.Title},
		}
	}
	return cfg
}

// Markdown formats an image reference to append to an answer.
func Markdown(title, link string) string {
	if title == "" {
		title = "chart"
	}
	return "\n\n![" + title + "](" + link + ")"
}
