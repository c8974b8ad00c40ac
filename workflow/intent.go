package workflow

import (
	"context"
	"errors"
	"strings"

	"github.com/apex/log"
	"github.com/bytedance/sonic"

	"github.com/xiaomayi-ant/insight-agent/graph"
	"github.com/xiaomayi-ant/insight-agent/graph/model"
)

var searchKeywords = []string{
	"搜索", "查找", "查询", "找", "查", "数据", "视频", "影响者", "分析",
	"search", "find", "video", "data", "analy",
}

type intentReply struct {
	Intent     string `json:"intent"`
	Query      string `json:"query"`
	Influencer string `json:"influencer"`
}

func (p *pipeline) classifyIntent(ctx context.Context, s State) graph.NodeResult[Update] {
	input := strings.TrimSpace(s.LastUserMessage())
	if input == "" {
		return fail(Update{}, errors.New("no message provided"), "intent classification failed")
	}
	logger := p.logger.WithField("node_id", NodeIntentClassify)

	out, err := p.deps.Model.Chat(ctx, []model.Message{
		{Role: model.RoleSystem, Content: intentSystemPrompt},
		{Role: model.RoleUser, Content: "用户输入：" + input + "\n\n请按照上述 JSON 结构返回。"},
	}, model.WithJSON())

	var reply intentReply
	if err == nil {
		err = sonic.UnmarshalString(strings.TrimSpace(out.Text), &reply)
	}
	if err != nil {
		logger.WithError(err).Warn("intent model failed, using keyword rule")
		return ok(keywordIntent(input))
	}

	intent, known := ParseIntent(strings.TrimSpace(reply.Intent))
	if !known || intent == IntentSimpleChat {
		logger.WithField("intent", reply.Intent).Info("intent classified as simple_chat")
		return ok(Update{Intent: ptr(IntentSimpleChat)})
	}

	influencer := strings.TrimSpace(reply.Influencer)
	query := firstNonEmpty(reply.Query, influencer, input)

	logger.WithFields(log.Fields{
		"query":      query,
		"influencer": influencer,
	}).Info("intent classified as vkdb_search")

	return ok(Update{
		Intent:         ptr(IntentVkdbSearch),
		SearchQuery:    &query,
		InfluencerHint: &influencer,
	})
}

// keywordIntent is the rule used when the model cannot classify.
func keywordIntent(input string) Update {
	lower := strings.ToLower(input)
	for _, kw := range searchKeywords {
		if strings.Contains(lower, kw) {
			return Update{
				Intent:      ptr(IntentVkdbSearch),
				SearchQuery: &input,
			}
		}
	}
	return Update{Intent: ptr(IntentSimpleChat)}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
