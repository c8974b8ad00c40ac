package workflow

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/apex/log"
	"github.com/bytedance/sonic"
	"github.com/kaptinlin/jsonrepair"

	"github.com/xiaomayi-ant/insight-agent/graph"
	"github.com/xiaomayi-ant/insight-agent/graph/batch"
	"github.com/xiaomayi-ant/insight-agent/graph/model"
)

// IntentField holds a record's free-text intent analysis.
const IntentField = "intent_analysis"

// eligibleItems picks the records that can be structurized: those with a
// numeric join key and a non-empty intent analysis. Repeated material ids
// keep their first record.
func eligibleItems(result *SearchResult, logger log.Interface) []batch.Item[string] {
	if result == nil {
		return nil
	}
	seen := make(map[string]bool)
	var items []batch.Item[string]
	for i, rec := range result.Records {
		key := recordJoinKey(rec)
		if key.MaterialID == "" {
			logger.WithField("record", i).Warn("skipping record without materialId")
			continue
		}
		text := strings.TrimSpace(rec.String(IntentField))
		if text == "" {
			logger.WithField("item_id", key.MaterialID).Warn("skipping record without intent_analysis")
			continue
		}
		if seen[key.MaterialID] {
			logger.WithFields(log.Fields{"item_id": key.MaterialID, "record": i}).
				Warn("skipping record with repeated materialId")
			continue
		}
		seen[key.MaterialID] = true
		items = append(items, batch.Item[string]{ID: key.MaterialID, Input: text})
	}
	return items
}

// structurize turns each eligible record's intent analysis into an
// IntentStructure through the batch runner. The node is degrade-tolerant:
// a disabled stage, an empty batch or a low success rate marks the state
// Degraded and the pipeline continues without enrichment.
func (p *pipeline) structurize(ctx context.Context, s State) graph.NodeResult[Update] {
	logger := p.logger.WithField("node_id", NodeItemStructurize)

	if !p.cfg.StructurizeEnabled {
		logger.Info("structurize disabled, degrading")
		return ok(Update{Degraded: ptr(true)})
	}

	items := eligibleItems(s.SearchResult, logger)
	if len(items) == 0 {
		logger.Warn("no structurizable records, degrading")
		return ok(Update{StructuredItems: []StructuredItem{}, Degraded: ptr(true)})
	}

	runner := p.deps.Runner
	if runner == nil {
		runner = batch.NewRunner(p.cfg.Concurrency, p.cfg.ItemTimeout,
			batch.WithLogger(p.logger),
			batch.WithName("structurize"),
			batch.WithObserver(p.deps.Observer))
	}

	started := time.Now()
	results := batch.Run(ctx, runner, items, p.structurizeOne)

	structured := make([]StructuredItem, len(results))
	succeeded := 0
	for i, r := range results {
		structured[i] = StructuredItem{ItemID: r.ID, Succeeded: r.Succeeded, Error: r.Error}
		if r.Succeeded {
			structured[i].Payload = r.Value
			succeeded++
		}
	}

	rate := float64(succeeded) / float64(len(results))
	degraded := rate < p.cfg.DegradeThreshold
	entry := logger.WithFields(log.Fields{
		"total":        len(results),
		"succeeded":    succeeded,
		"success_rate": rate,
		"threshold":    p.cfg.DegradeThreshold,
		"elapsed_ms":   time.Since(started).Milliseconds(),
	})

	delta := Update{StructuredItems: structured, Degraded: &degraded}
	if succeeded == 0 {
		entry.Warn("structurize failed for every item")
		return graph.NodeResult[Update]{
			Delta: delta,
			Err:   fmt.Errorf("structurize: all %d items failed", len(results)),
		}
	}
	if degraded {
		entry.Warn("structurize success rate below threshold, degrading")
	} else {
		entry.Info("structurize completed")
	}
	return ok(delta)
}

// structurizeOne parses one intent analysis, with a single repair pass
// when the first answer does not satisfy the schema.
func (p *pipeline) structurizeOne(ctx context.Context, text string) (*IntentStructure, error) {
	m := p.deps.StructurizeModel

	out, err := m.Chat(ctx, []model.Message{
		{Role: model.RoleSystem, Content: structurizeSystemPrompt},
		{Role: model.RoleUser, Content: text},
	}, model.WithJSON())
	if err != nil {
		return nil, err
	}

	parsed, firstErr := decodeStructure(out.Text)
	if firstErr == nil {
		return parsed, nil
	}

	out, err = m.Chat(ctx, []model.Message{
		{Role: model.RoleSystem, Content: structurizeSystemPrompt + structurizeRepairSuffix},
		{Role: model.RoleUser, Content: text},
	}, model.WithJSON())
	if err != nil {
		return nil, fmt.Errorf("repair call failed after %v: %w", firstErr, err)
	}

	repaired, err := jsonrepair.JSONRepair(stripFences(out.Text))
	if err != nil {
		return nil, fmt.Errorf("repair: %w", err)
	}
	return decodeStructure(repaired)
}

func decodeStructure(raw string) (*IntentStructure, error) {
	var s IntentStructure
	if err := sonic.UnmarshalString(strings.TrimSpace(raw), &s); err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}
	s.Normalize()
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

// stripFences removes a Markdown code fence around a JSON answer.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}
