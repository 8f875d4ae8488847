package dice

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/starcrew-ai/starcrew/pkg/game"
)

// The GM override grammar is deliberately minimal: "NdM", "NdM+K",
// "NdM-K" with N in 1..6, M fixed at 6, K in 0..5, or an explicit value
// list "[v1,v2,...]". Anything else is rejected.
var (
	rollSpecPattern = regexp.MustCompile(`^([1-6])d(6)([+-][0-5])?$`)
	listSpecPattern = regexp.MustCompile(`^\[\s*\d(\s*,\s*\d)*\s*\]$`)
)

// Override is a parsed GM dice override. Exactly one of the two shapes is
// populated: a roll request (Count > 0) or explicit Values.
type Override struct {
	// Count and Modifier describe an NdM(+|-)K request. Modifier shifts
	// each rolled die, clamped to [1, 6] before classification.
	Count    int
	Modifier int

	// Values is the explicit result list for the "[v1,v2,...]" form.
	Values []int
}

// ParseOverride parses a GM dice-spec string.
func ParseOverride(spec string) (Override, error) {
	spec = strings.TrimSpace(spec)
	if m := rollSpecPattern.FindStringSubmatch(spec); m != nil {
		count, _ := strconv.Atoi(m[1])
		mod := 0
		if m[3] != "" {
			mod, _ = strconv.Atoi(m[3])
		}
		return Override{Count: count, Modifier: mod}, nil
	}
	if listSpecPattern.MatchString(spec) {
		inner := strings.Trim(spec, "[]")
		var values []int
		for _, part := range strings.Split(inner, ",") {
			v, err := strconv.Atoi(strings.TrimSpace(part))
			if err != nil || v < 1 || v > 6 {
				return Override{}, fmt.Errorf("dice: override value %q is out of range [1, 6]", strings.TrimSpace(part))
			}
			values = append(values, v)
		}
		if len(values) > 6 {
			return Override{}, fmt.Errorf("dice: override lists at most 6 values, got %d", len(values))
		}
		return Override{Values: values}, nil
	}
	return Override{}, fmt.Errorf("dice: override %q does not match NdM, NdM+K, NdM-K, or [v1,v2,...]", spec)
}

// Apply resolves the override into a classified result. Explicit values
// are scored directly; roll requests are rolled from r's source with the
// modifier applied per die. Classification, including LASER FEELINGS
// detection, always re-runs against number and task.
func (o Override) Apply(r *Roller, number int, task game.TaskType) (Result, error) {
	values := o.Values
	if len(values) == 0 {
		if o.Count < 1 {
			return Result{}, fmt.Errorf("dice: empty override")
		}
		values = make([]int, o.Count)
		for i := range values {
			v := r.rng.IntN(6) + 1 + o.Modifier
			if v < 1 {
				v = 1
			}
			if v > 6 {
				v = 6
			}
			values[i] = v
		}
	}
	return Score(values, number, task)
}
