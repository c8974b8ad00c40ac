package workflow

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

var tagPattern = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_]*$`)

var (
	allowedPacing   = []string{"Fast", "Moderate", "Slow"}
	allowedEmotions = []string{"Excitement", "Anxiety", "Curiosity", "Humor", "Trust"}
)

const maxSellingPoints = 5

// IntentStructure is the structured reading of one video's free-text
// intent analysis.
type IntentStructure struct {
	NarrativeAnalysis NarrativeAnalysis `json:"narrative_analysis"`
	TacticalBreakdown TacticalBreakdown `json:"tactical_breakdown"`
	InnovationCheck   InnovationCheck   `json:"innovation_check"`
}

// NarrativeAnalysis describes the script's story shape.
type NarrativeAnalysis struct {
	ScriptArchetype string `json:"script_archetype"`
	NarrativeChain  string `json:"narrative_chain"`
	Pacing          string `json:"pacing"`
}

// TacticalBreakdown lists the selling tactics from opening to close.
type TacticalBreakdown struct {
	OpeningStrategy   string   `json:"opening_strategy"`
	CoreSellingPoints []string `json:"core_selling_points"`
	ClosingTrigger    string   `json:"closing_trigger"`
	DominantEmotion   string   `json:"dominant_emotion"`
}

// InnovationCheck flags a tactic not covered by the known tags.
type InnovationCheck struct {
	IsInnovative     bool   `json:"is_innovative"`
	UniqueTacticDesc string `json:"unique_tactic_desc"`
}

// Normalize trims every field and caps the selling points at five. It
// runs before Validate.
func (s *IntentStructure) Normalize() {
	n := &s.NarrativeAnalysis
	n.ScriptArchetype = strings.TrimSpace(n.ScriptArchetype)
	n.NarrativeChain = strings.TrimSpace(n.NarrativeChain)
	n.Pacing = strings.TrimSpace(n.Pacing)

	t := &s.TacticalBreakdown
	t.OpeningStrategy = strings.TrimSpace(t.OpeningStrategy)
	t.ClosingTrigger = strings.TrimSpace(t.ClosingTrigger)
	t.DominantEmotion = strings.TrimSpace(t.DominantEmotion)
	if len(t.CoreSellingPoints) > maxSellingPoints {
		t.CoreSellingPoints = t.CoreSellingPoints[:maxSellingPoints]
	}
	for i, p := range t.CoreSellingPoints {
		t.CoreSellingPoints[i] = strings.TrimSpace(p)
	}
}

// Validate enforces the schema contract. It reports the first violation.
func (s *IntentStructure) Validate() error {
	n := s.NarrativeAnalysis
	if err := requireTag(n.ScriptArchetype, "script_archetype"); err != nil {
		return err
	}
	if err := requireNonEmpty(n.NarrativeChain, "narrative_chain"); err != nil {
		return err
	}
	if !strings.Contains(n.NarrativeChain, "->") {
		return errors.New("narrative_chain must contain '->'")
	}
	if err := requireOneOf(n.Pacing, "pacing", allowedPacing); err != nil {
		return err
	}

	t := s.TacticalBreakdown
	if err := requireTag(t.OpeningStrategy, "opening_strategy"); err != nil {
		return err
	}
	if len(t.CoreSellingPoints) == 0 {
		return errors.New("core_selling_points must contain at least 1 item")
	}
	for _, p := range t.CoreSellingPoints {
		if err := requireTag(p, "core_selling_points[]"); err != nil {
			return err
		}
	}
	if err := requireTag(t.ClosingTrigger, "closing_trigger"); err != nil {
		return err
	}
	return requireOneOf(t.DominantEmotion, "dominant_emotion", allowedEmotions)
}

func requireNonEmpty(v, field string) error {
	if v == "" {
		return fmt.Errorf("%s must be non-empty", field)
	}
	if strings.EqualFold(v, "unknown") {
		return fmt.Errorf("%s must not be 'Unknown'", field)
	}
	return nil
}

func requireTag(v, field string) error {
	if err := requireNonEmpty(v, field); err != nil {
		return err
	}
	if !tagPattern.MatchString(v) {
		return fmt.Errorf("%s must match pattern %s, got: %q", field, tagPattern, v)
	}
	return nil
}

func requireOneOf(v, field string, allowed []string) error {
	if err := requireNonEmpty(v, field); err != nil {
		return err
	}
	for _, a := range allowed {
		if v == a {
			return nil
		}
	}
	return fmt.Errorf("%s must be one of %v", field, allowed)
}
