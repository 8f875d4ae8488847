// Package game defines the domain entities shared across the Starcrew core:
// player personalities, character sheets, the ship, message channels, the
// turn phase enumeration, and the per-session game state.
//
// Entities here are plain data. Personality traits bias LLM prompt
// construction, memory-corruption behaviour, and stance classification —
// they never gate game mechanics. The mechanical rules live in
// internal/dice and internal/validation.
package game

import (
	"errors"
	"fmt"
)

// Personality is the immutable strategic-layer profile of an AI player.
// Every trait is a real number in [0.0, 1.0].
type Personality struct {
	// AnalyticalScore biases planning prompts toward systematic reasoning
	// and weights detail_drift / false_confidence corruption when high.
	AnalyticalScore float64 `yaml:"analytical_score" json:"analytical_score"`

	// RiskTolerance biases intent prompts toward bold or cautious plans.
	RiskTolerance float64 `yaml:"risk_tolerance" json:"risk_tolerance"`

	// DetailOriented lowers corruption probability and weights
	// conflation corruption when low.
	DetailOriented float64 `yaml:"detail_oriented" json:"detail_oriented"`

	// EmotionalMemory weights emotional_coloring corruption when high.
	EmotionalMemory float64 `yaml:"emotional_memory" json:"emotional_memory"`

	// Assertiveness biases how strongly OOC messages push a position.
	Assertiveness float64 `yaml:"assertiveness" json:"assertiveness"`

	// Cooperativeness biases agreement in OOC discussion.
	Cooperativeness float64 `yaml:"cooperativeness" json:"cooperativeness"`

	// Openness biases willingness to adopt other players' plans.
	Openness float64 `yaml:"openness" json:"openness"`

	// RuleAdherence biases clarification questions toward rules queries.
	RuleAdherence float64 `yaml:"rule_adherence" json:"rule_adherence"`

	// RoleplayIntensity biases P2C directives toward in-fiction framing.
	RoleplayIntensity float64 `yaml:"roleplay_intensity" json:"roleplay_intensity"`

	// BaseDecayRate is the personal baseline for memory-corruption
	// probability.
	BaseDecayRate float64 `yaml:"base_decay_rate" json:"base_decay_rate"`
}

// Validate reports all traits outside the [0, 1] range.
func (p Personality) Validate() error {
	traits := map[string]float64{
		"analytical_score":   p.AnalyticalScore,
		"risk_tolerance":     p.RiskTolerance,
		"detail_oriented":    p.DetailOriented,
		"emotional_memory":   p.EmotionalMemory,
		"assertiveness":      p.Assertiveness,
		"cooperativeness":    p.Cooperativeness,
		"openness":           p.Openness,
		"rule_adherence":     p.RuleAdherence,
		"roleplay_intensity": p.RoleplayIntensity,
		"base_decay_rate":    p.BaseDecayRate,
	}
	var problems []error
	for name, v := range traits {
		if v < 0 || v > 1 {
			problems = append(problems, fmt.Errorf("trait %s %.3f is out of range [0, 1]", name, v))
		}
	}
	return errors.Join(problems...)
}
