package game

import (
	"errors"
	"fmt"
	"slices"

	"github.com/starcrew-ai/starcrew/internal/ids"
)

// Style is a character archetype. Exactly seven styles exist.
type Style string

const (
	StyleAlien      Style = "alien"
	StyleAndroid    Style = "android"
	StyleDangerous  Style = "dangerous"
	StyleHeroic     Style = "heroic"
	StyleHotShot    Style = "hot-shot"
	StyleIntrepid   Style = "intrepid"
	StyleSavvy      Style = "savvy"
)

// Styles lists every valid character style.
var Styles = []Style{
	StyleAlien, StyleAndroid, StyleDangerous, StyleHeroic,
	StyleHotShot, StyleIntrepid, StyleSavvy,
}

// IsValid reports whether s is a recognised style.
func (s Style) IsValid() bool { return slices.Contains(Styles, s) }

// Role is a character's crew role. Exactly seven roles exist.
type Role string

const (
	RoleDoctor    Role = "doctor"
	RoleEnvoy     Role = "envoy"
	RoleEngineer  Role = "engineer"
	RoleExplorer  Role = "explorer"
	RolePilot     Role = "pilot"
	RoleScientist Role = "scientist"
	RoleSoldier   Role = "soldier"
)

// Roles lists every valid crew role.
var Roles = []Role{
	RoleDoctor, RoleEnvoy, RoleEngineer, RoleExplorer,
	RolePilot, RoleScientist, RoleSoldier,
}

// IsValid reports whether r is a recognised role.
func (r Role) IsValid() bool { return slices.Contains(Roles, r) }

// TaskType selects the success rule for a roll: lasers tasks succeed
// under the character's number, feelings tasks succeed over it.
type TaskType string

const (
	// TaskLasers covers logic, technology, and precision tasks.
	// A die succeeds when its value is strictly below the number.
	TaskLasers TaskType = "lasers"

	// TaskFeelings covers intuition, diplomacy, and passion tasks.
	// A die succeeds when its value is strictly above the number.
	TaskFeelings TaskType = "feelings"
)

// IsValid reports whether t is a recognised task type.
func (t TaskType) IsValid() bool { return t == TaskLasers || t == TaskFeelings }

// CharacterSheet is the immutable roleplay-layer identity of one crew
// member. Exactly one agent controls each character.
type CharacterSheet struct {
	CharacterID string `yaml:"character_id" json:"character_id"`
	AgentID     string `yaml:"agent_id" json:"agent_id"`
	Name        string `yaml:"name" json:"name"`
	Style       Style  `yaml:"style" json:"style"`
	Role        Role   `yaml:"role" json:"role"`

	// Number partitions tasks: lower favours lasers, higher favours
	// feelings. Valid range is 2–5.
	Number int `yaml:"number" json:"number"`

	Goal string `yaml:"character_goal" json:"character_goal"`

	// Equipment is the starting gear, in declaration order. May be empty.
	Equipment []string `yaml:"equipment" json:"equipment"`

	SpeechPatterns []string `yaml:"speech_patterns" json:"speech_patterns"`
	Mannerisms     []string `yaml:"mannerisms" json:"mannerisms"`
}

// Validate checks the sheet's identifier formats, enumerations, and
// number range, returning all problems joined.
func (c CharacterSheet) Validate() error {
	var problems []error
	if !ids.ValidCharacterID(c.CharacterID) {
		problems = append(problems, fmt.Errorf("character_id %q does not match char_[a-z0-9_]+", c.CharacterID))
	}
	if !ids.ValidAgentID(c.AgentID) {
		problems = append(problems, fmt.Errorf("agent_id %q does not match agent_[a-z0-9_]+", c.AgentID))
	}
	if c.Name == "" {
		problems = append(problems, errors.New("name is required"))
	}
	if !c.Style.IsValid() {
		problems = append(problems, fmt.Errorf("style %q is invalid; valid values: %v", c.Style, Styles))
	}
	if !c.Role.IsValid() {
		problems = append(problems, fmt.Errorf("role %q is invalid; valid values: %v", c.Role, Roles))
	}
	if c.Number < 2 || c.Number > 5 {
		problems = append(problems, fmt.Errorf("number %d is out of range [2, 5]", c.Number))
	}
	return errors.Join(problems...)
}

// ShipStrength is one of the seven ship strengths.
type ShipStrength string

const (
	ShipFastShip       ShipStrength = "fast"
	ShipNimble         ShipStrength = "nimble"
	ShipWellArmed      ShipStrength = "well-armed"
	ShipPowerfulShield ShipStrength = "powerful shields"
	ShipSuperiorSensor ShipStrength = "superior sensors"
	ShipCloakingDevice ShipStrength = "cloaking device"
	ShipFightBays      ShipStrength = "fightercraft bays"
)

// ShipStrengths lists every valid ship strength.
var ShipStrengths = []ShipStrength{
	ShipFastShip, ShipNimble, ShipWellArmed, ShipPowerfulShield,
	ShipSuperiorSensor, ShipCloakingDevice, ShipFightBays,
}

// ShipProblem is one of the four ship problems.
type ShipProblem string

const (
	ProblemFuelHog        ShipProblem = "fuel hog"
	ProblemOnlyOneMedpod  ShipProblem = "only one medical pod"
	ProblemHorribleCircui ShipProblem = "horrible circuit breakers"
	ProblemGrimDark       ShipProblem = "grim dark past"
)

// ShipProblems lists every valid ship problem.
var ShipProblems = []ShipProblem{
	ProblemFuelHog, ProblemOnlyOneMedpod, ProblemHorribleCircui, ProblemGrimDark,
}

// ShipConfig is the immutable party-wide ship description. It is
// narrative-only: no mechanic ever consults it.
type ShipConfig struct {
	Name      string         `yaml:"name" json:"name"`
	Strengths []ShipStrength `yaml:"strengths" json:"strengths"`
	Problem   ShipProblem    `yaml:"problem" json:"problem"`
}

// Validate checks the ship's name, strength count/values, and problem.
func (s ShipConfig) Validate() error {
	var problems []error
	if s.Name == "" {
		problems = append(problems, errors.New("ship name is required"))
	}
	if len(s.Strengths) != 2 {
		problems = append(problems, fmt.Errorf("ship must have exactly two strengths, got %d", len(s.Strengths)))
	}
	for _, st := range s.Strengths {
		if !slices.Contains(ShipStrengths, st) {
			problems = append(problems, fmt.Errorf("ship strength %q is invalid; valid values: %v", st, ShipStrengths))
		}
	}
	if len(s.Strengths) == 2 && s.Strengths[0] == s.Strengths[1] {
		problems = append(problems, fmt.Errorf("ship strengths must be distinct, got %q twice", s.Strengths[0]))
	}
	if !slices.Contains(ShipProblems, s.Problem) {
		problems = append(problems, fmt.Errorf("ship problem %q is invalid; valid values: %v", s.Problem, ShipProblems))
	}
	return errors.Join(problems...)
}
