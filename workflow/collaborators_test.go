package workflow

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/xiaomayi-ant/insight-agent/vikingdb"
)

func TestExtractJoinKey(t *testing.T) {
	tests := []struct {
		name  string
		value any
		url   string
		id    string
	}{
		{"plain url", "https://tos.example.com/videos/7300123.mp4", "https://tos.example.com/videos/7300123.mp4", "7300123"},
		{"query string", "https://tos.example.com/v/42.mp4?sign=abc", "https://tos.example.com/v/42.mp4?sign=abc", "42"},
		{"upper extension", "tos://bucket/99.MP4", "tos://bucket/99.MP4", "99"},
		{"object value", map[string]any{"value": " tos://bucket/1001.mp4 "}, "tos://bucket/1001.mp4", "1001"},
		{"non numeric", "tos://bucket/abc.mp4", "tos://bucket/abc.mp4", ""},
		{"mixed", "tos://bucket/12a.mp4", "tos://bucket/12a.mp4", ""},
		{"no extension", "tos://bucket/1001", "tos://bucket/1001", ""},
		{"bare extension", "tos://bucket/.mp4", "tos://bucket/.mp4", ""},
		{"bare filename", "555.mp4", "555.mp4", "555"},
		{"object without value", map[string]any{"uri": "x"}, "", ""},
		{"wrong type", 1001, "", ""},
		{"nil", nil, "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			key := ExtractJoinKey(tt.value)
			assert.Equal(t, tt.url, key.TOSURL)
			assert.Equal(t, tt.id, key.MaterialID)
		})
	}
}

func TestJoinKeys(t *testing.T) {
	result := &SearchResult{Records: []vikingdb.Record{
		record("1001", "张三", "a"),
		record("1002", "张三", "b"),
		record("1001", "张三", "c"),
		{Fields: map[string]any{"landscape_video": "tos://v/abc.mp4"}},
		{Fields: map[string]any{}},
		record("1003", "张三", "d"),
	}}

	urls, ids := joinKeys(result, 0)
	assert.Len(t, urls, 5)
	assert.Equal(t, []string{"1001", "1002", "1003"}, ids)

	_, ids = joinKeys(result, 2)
	assert.Equal(t, []string{"1001", "1002"}, ids)

	urls, ids = joinKeys(nil, 10)
	assert.Empty(t, urls)
	assert.NotNil(t, ids)
}
