package chart

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSeries_Validate(t *testing.T) {
	assert.ErrorIs(t, Series{}.Validate(), ErrEmptySeries)
	assert.Error(t, Series{Labels: []string{"a", "b"}, Values: []float64{1}}.Validate())
	assert.NoError(t, Series{Labels: []string{"a"}, Values: []float64{1}}.Validate())
}

func TestQuickChart_RenderURL(t *testing.T) {
	q := NewQuickChart(Config{})
	link, err := q.Render(context.Background(), Series{
		Title:  "avg_roi",
		Labels: []string{"Pain_Point", "Price_Anchor"},
		Values: []float64{2.5, 1.25},
	})
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(link, DefaultBaseURL+"/chart?"), link)

	u, err := url.Parse(link)
	require.NoError(t, err)
	assert.Equal(t, "600", u.Query().Get("w"))

	var cfg map[string]any
	require.NoError(t, json.Unmarshal([]byte(u.Query().Get("c")), &cfg))
	assert.Equal(t, "bar", cfg["type"])
	data := cfg["data"].(map[string]any)
	assert.Equal(t, []any{"Pain_Point", "Price_Anchor"}, data["labels"])
}

func TestQuickChart_Shorten(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chart/create", r.URL.Path)
		raw, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(raw, &got)
		_, _ = io.WriteString(w, `{"success":true,"url":"https://quickchart.io/chart/render/zf-abc"}`)
	}))
	defer srv.Close()

	q := NewQuickChart(Config{BaseURL: srv.URL, Shorten: true})
	link, err := q.Render(context.Background(), Series{Labels: []string{"a"}, Values: []float64{1}})
	require.NoError(t, err)
	assert.Equal(t, "https://quickchart.io/chart/render/zf-abc", link)
	assert.Equal(t, "bar", got["chart"].(map[string]any)["type"])
}

func TestQuickChart_ShortenError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	q := NewQuickChart(Config{BaseURL: srv.URL, Shorten: true})
	_, err := q.Render(context.Background(), Series{Labels: []string{"a"}, Values: []float64{1}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "HTTP 502")
}

func TestMarkdown(t *testing.T) {
	assert.Equal(t, "\n\n![ROI](https://x/y.png)", Markdown("ROI", "https://x/y.png"))
	assert.Equal(t, "\n\n![chart](u)", Markdown("", "u"))
}
