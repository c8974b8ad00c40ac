package workflow

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xiaomayi-ant/insight-agent/graph/model"
)

func TestReduce_EmptyUpdateIsIdentity(t *testing.T) {
	s := NewState("找张三的视频", "sys")
	s.Intent = IntentVkdbSearch
	s.SearchQuery = "张三"

	assert.Equal(t, s, Reduce(s, Update{}))
}

func TestReduce_ReapplyingUpdate(t *testing.T) {
	s := NewState("hello", "")
	summary := "hi"
	u := Update{
		Intent:       ptr(IntentSimpleChat),
		FinalSummary: &summary,
		Messages:     []model.Message{{Role: model.RoleAssistant, Content: "hi"}},
	}

	once := Reduce(s, u)
	twice := Reduce(once, u)

	assert.Equal(t, once.Intent, twice.Intent)
	assert.Equal(t, once.FinalSummary, twice.FinalSummary)
	assert.Len(t, once.Messages, 2)
	assert.Len(t, twice.Messages, 3)
}

func TestReduce_DoesNotAliasMessages(t *testing.T) {
	s := NewState("hello", "")
	s.Messages = append(make([]model.Message, 0, 8), s.Messages...)

	a := Reduce(s, Update{Messages: []model.Message{{Role: model.RoleAssistant, Content: "a"}}})
	b := Reduce(s, Update{Messages: []model.Message{{Role: model.RoleAssistant, Content: "b"}}})

	assert.Equal(t, "a", a.Messages[1].Content)
	assert.Equal(t, "b", b.Messages[1].Content)
	assert.Len(t, s.Messages, 1)
}

func TestReduce_OverwritesPresentFields(t *testing.T) {
	s := State{Degraded: true, Error: "old"}
	s = Reduce(s, Update{Degraded: ptr(false), StructuredItems: []StructuredItem{}})

	assert.False(t, s.Degraded)
	assert.NotNil(t, s.StructuredItems)
	assert.Equal(t, "old", s.Error)
}

func TestUpdate_Validate(t *testing.T) {
	payload := &IntentStructure{}
	tests := []struct {
		name    string
		update  Update
		wantErr bool
	}{
		{"empty", Update{}, false},
		{"search intent", Update{Intent: ptr(IntentVkdbSearch)}, false},
		{"unclassified intent", Update{Intent: ptr(IntentUnclassified)}, true},
		{"no result with join", Update{NoResult: ptr(true), JoinResult: &JoinResult{}}, true},
		{"no result with stats", Update{NoResult: ptr(true), AggregatedStats: &AggregatedStats{}}, true},
		{"no result with items", Update{NoResult: ptr(true), StructuredItems: []StructuredItem{{ItemID: "1"}}}, true},
		{"result with join", Update{NoResult: ptr(false), JoinResult: &JoinResult{}}, false},
		{"item without id", Update{StructuredItems: []StructuredItem{{}}}, true},
		{"duplicate ids", Update{StructuredItems: []StructuredItem{{ItemID: "1"}, {ItemID: "1"}}}, true},
		{"success without payload", Update{StructuredItems: []StructuredItem{{ItemID: "1", Succeeded: true}}}, true},
		{"success with payload", Update{StructuredItems: []StructuredItem{{ItemID: "1", Succeeded: true, Payload: payload}}}, false},
		{"message without role", Update{Messages: []model.Message{{Content: "x"}}}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.update.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestState_Helpers(t *testing.T) {
	s := NewState("第二个问题", "be brief")
	require.Len(t, s.Messages, 2)
	assert.Equal(t, model.RoleSystem, s.Messages[0].Role)
	assert.Equal(t, "第二个问题", s.LastUserMessage())

	assert.Zero(t, s.SuccessRate())
	s.StructuredItems = []StructuredItem{
		{ItemID: "1", Succeeded: true},
		{ItemID: "2"},
		{ItemID: "3"},
		{ItemID: "4", Succeeded: true},
	}
	assert.InDelta(t, 0.5, s.SuccessRate(), 1e-9)
}

func TestParseIntent(t *testing.T) {
	i, ok := ParseIntent("vkdb_search")
	assert.True(t, ok)
	assert.Equal(t, IntentVkdbSearch, i)
	assert.Equal(t, "vkdb_search", i.String())

	_, ok = ParseIntent("weather")
	assert.False(t, ok)
	assert.Equal(t, "unclassified", IntentUnclassified.String())
}
