// Package dice implements the resolution mechanics: pool building, per-die
// success classification against a character's number, LASER FEELINGS
// detection, and the outcome tiers derived from total successes.
//
// Nothing here consults personality or any other soft signal; the pool and
// the classification depend only on the declared action and the
// character's number.
package dice

import (
	"fmt"
	"math/rand/v2"

	"github.com/starcrew-ai/starcrew/pkg/game"
)

// Outcome is the tier derived from total successes. LASER FEELINGS never
// changes the tier.
type Outcome string

const (
	OutcomeFailure  Outcome = "failure"
	OutcomePartial  Outcome = "partial"
	OutcomeSuccess  Outcome = "success"
	OutcomeCritical Outcome = "critical"
)

// OutcomeFor maps a success count to its tier: 0 failure, 1 partial,
// 2 success, 3+ critical.
func OutcomeFor(totalSuccesses int) Outcome {
	switch {
	case totalSuccesses <= 0:
		return OutcomeFailure
	case totalSuccesses == 1:
		return OutcomePartial
	case totalSuccesses == 2:
		return OutcomeSuccess
	default:
		return OutcomeCritical
	}
}

// Result is the full record of one resolved roll.
type Result struct {
	DiceCount            int     `json:"dice_count"`
	IndividualRolls      []int   `json:"individual_rolls"`
	DieSuccesses         []bool  `json:"die_successes"`
	LaserFeelingsIndices []int   `json:"laser_feelings_indices,omitempty"`
	TotalSuccesses       int     `json:"total_successes"`
	Outcome              Outcome `json:"outcome"`

	// Question is the auto-generated GM question granted by an exact
	// match; empty when no die matched the number.
	Question string `json:"question,omitempty"`
}

// laserFeelingsQuestion is the single question text generated on an exact
// match. The GM answers it truthfully during the interrupt.
const laserFeelingsQuestion = "What is really going on here?"

// Roller rolls dice from an injected random source.
//
// # Determinism
//
// Roller is deterministic with respect to its source: the same seed and
// the same call sequence always produce the same results. Production code
// seeds from entropy; tests inject a fixed seed.
type Roller struct {
	rng *rand.Rand
}

// NewRoller creates a Roller from src. A nil src falls back to an
// entropy-seeded source.
func NewRoller(src rand.Source) *Roller {
	if src == nil {
		src = rand.NewPCG(rand.Uint64(), rand.Uint64())
	}
	return &Roller{rng: rand.New(src)}
}

// PoolSize computes the dice pool for an action: base 1, +1 prepared,
// +1 expert, +1 per successful helper. Helper successes are uncapped.
func PoolSize(prepared, expert bool, helperSuccesses int) int {
	n := 1
	if prepared {
		n++
	}
	if expert {
		n++
	}
	if helperSuccesses > 0 {
		n += helperSuccesses
	}
	return n
}

// Roll builds the pool for the declared action, rolls it, and classifies
// every die against number under the task rule.
func (r *Roller) Roll(number int, task game.TaskType, prepared, expert bool, helperSuccesses int) (Result, error) {
	if number < 2 || number > 5 {
		return Result{}, fmt.Errorf("dice: number %d is out of range [2, 5]", number)
	}
	if !task.IsValid() {
		return Result{}, fmt.Errorf("dice: task type %q is invalid", task)
	}

	count := PoolSize(prepared, expert, helperSuccesses)
	values := make([]int, count)
	for i := range values {
		values[i] = r.rng.IntN(6) + 1
	}
	return Score(values, number, task)
}

// HelperRoll resolves one helper's pre-roll using the helper's own number
// and the main action's task type. The helper counts as successful when at
// least one die succeeds.
func (r *Roller) HelperRoll(helperNumber int, task game.TaskType, prepared, expert bool) (Result, error) {
	return r.Roll(helperNumber, task, prepared, expert, 0)
}

// Score classifies an explicit value list against number under the task
// rule. Used both by [Roller.Roll] and to re-classify GM override values.
func Score(values []int, number int, task game.TaskType) (Result, error) {
	if len(values) == 0 {
		return Result{}, fmt.Errorf("dice: empty value list")
	}
	if number < 2 || number > 5 {
		return Result{}, fmt.Errorf("dice: number %d is out of range [2, 5]", number)
	}
	if !task.IsValid() {
		return Result{}, fmt.Errorf("dice: task type %q is invalid", task)
	}

	res := Result{
		DiceCount:       len(values),
		IndividualRolls: values,
		DieSuccesses:    make([]bool, len(values)),
	}
	for i, v := range values {
		if v < 1 || v > 6 {
			return Result{}, fmt.Errorf("dice: value %d at index %d is out of range [1, 6]", v, i)
		}
		switch {
		case v == number:
			res.DieSuccesses[i] = true
			res.LaserFeelingsIndices = append(res.LaserFeelingsIndices, i)
		case task == game.TaskLasers && v < number:
			res.DieSuccesses[i] = true
		case task == game.TaskFeelings && v > number:
			res.DieSuccesses[i] = true
		}
		if res.DieSuccesses[i] {
			res.TotalSuccesses++
		}
	}
	res.Outcome = OutcomeFor(res.TotalSuccesses)
	if len(res.LaserFeelingsIndices) > 0 {
		res.Question = laserFeelingsQuestion
	}
	return res, nil
}
