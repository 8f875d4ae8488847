package memory

import (
	"math"
	"math/rand/v2"

	"github.com/starcrew-ai/starcrew/pkg/game"
)

// corruptionCap bounds the per-read corruption probability.
const corruptionCap = 0.95

// CorruptionProbability computes the chance that an edge degrades on this
// read:
//
//	p = personality × time × importance × rehearsal × global strength
//
// daysNow is the in-game day of the read; the time factor grows with the
// gap to the edge's formation day and saturates over roughly a year.
func CorruptionProbability(edge Edge, personality game.Personality, daysNow, globalStrength float64) float64 {
	deltaDays := daysNow - edge.DaysElapsed
	if deltaDays < 0 {
		deltaDays = 0
	}
	timeFactor := 1 - math.Exp(-deltaDays/365)
	importanceModifier := 1.5 - edge.Importance
	rehearsalFactor := math.Max(0, 1-0.05*float64(edge.RehearsalCount))
	personalityModifier := personality.BaseDecayRate * (1 + (0.5 - personality.DetailOriented))

	p := personalityModifier * timeFactor * importanceModifier * rehearsalFactor * globalStrength
	if p < 0 {
		return 0
	}
	return math.Min(p, corruptionCap)
}

// typeWeight pairs a corruption type with its selection weight.
type typeWeight struct {
	ctype  CorruptionType
	weight float64
}

// SelectCorruptionType picks a corruption flavour weighted by the owning
// player's personality. Emotional rememberers recolor; analytical ones
// drift on details; inattentive ones conflate.
func SelectCorruptionType(personality game.Personality, rng *rand.Rand) CorruptionType {
	var weights []typeWeight
	switch {
	case personality.EmotionalMemory > 0.7:
		weights = []typeWeight{
			{CorruptionEmotionalColoring, 0.5},
			{CorruptionSimplification, 0.3},
			{CorruptionDetailDrift, 0.2},
		}
	case personality.AnalyticalScore > 0.7:
		weights = []typeWeight{
			{CorruptionDetailDrift, 0.4},
			{CorruptionFalseConfidence, 0.3},
			{CorruptionSimplification, 0.3},
		}
	case personality.DetailOriented < 0.3:
		weights = []typeWeight{
			{CorruptionConflation, 0.5},
			{CorruptionSimplification, 0.3},
			{CorruptionFalseConfidence, 0.2},
		}
	default:
		weights = []typeWeight{
			{CorruptionDetailDrift, 0.3},
			{CorruptionSimplification, 0.3},
			{CorruptionEmotionalColoring, 0.2},
			{CorruptionConflation, 0.2},
		}
	}

	draw := rng.Float64()
	acc := 0.0
	for _, w := range weights {
		acc += w.weight
		if draw < acc {
			return w.ctype
		}
	}
	return weights[len(weights)-1].ctype
}
