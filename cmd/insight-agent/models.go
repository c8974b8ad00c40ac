package main

import (
	"context"
	"fmt"

	"github.com/xiaomayi-ant/insight-agent/config"
	"github.com/xiaomayi-ant/insight-agent/graph/model"
	"github.com/xiaomayi-ant/insight-agent/graph/model/anthropic"
	"github.com/xiaomayi-ant/insight-agent/graph/model/google"
	"github.com/xiaomayi-ant/insight-agent/graph/model/openai"
)

// newChatModel builds the configured provider's adapter, metered into
// usage.
func newChatModel(ctx context.Context, cfg config.LLM, usage *model.UsageTracker) (model.ChatModel, func(), error) {
	noop := func() {}
	switch cfg.Provider {
	case config.ProviderOpenAI:
		m, err := openai.NewChatModel(openai.Config{
			APIKey:      cfg.APIKey,
			BaseURL:     cfg.BaseURL,
			Model:       cfg.Model,
			Temperature: cfg.Temperature,
		})
		if err != nil {
			return nil, nil, err
		}
		return model.Metered(m, m.Name(), usage), noop, nil

	case config.ProviderAnthropic:
		m, err := anthropic.NewChatModel(anthropic.Config{
			APIKey:      cfg.AnthropicAPIKey,
			Model:       cfg.AnthropicModel,
			Temperature: cfg.Temperature,
		})
		if err != nil {
			return nil, nil, err
		}
		return model.Metered(m, m.Name(), usage), noop, nil

	case config.ProviderGoogle:
		m, err := google.NewChatModel(ctx, google.Config{
			APIKey:      cfg.GoogleAPIKey,
			Model:       cfg.GoogleModel,
			Temperature: cfg.Temperature,
		})
		if err != nil {
			return nil, nil, err
		}
		return model.Metered(m, m.Name(), usage), func() { _ = m.Close() }, nil
	}
	return nil, nil, fmt.Errorf("unknown LLM provider %q", cfg.Provider)
}
