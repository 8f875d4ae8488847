package roster

import (
	"strings"
	"testing"

	"github.com/starcrew-ai/starcrew/pkg/game"
)

const crewYAML = `
campaign:
  name: "Signals from the Rim"
  description: "A distress call from beyond the charted lanes."
ship:
  name: "Raptor"
  strengths: ["fast", "nimble"]
  problem: "fuel hog"
players:
  - agent_id: agent_kit
    name: "Kit"
    personality:
      analytical_score: 0.8
      risk_tolerance: 0.4
      detail_oriented: 0.7
      emotional_memory: 0.3
      assertiveness: 0.6
      cooperativeness: 0.5
      openness: 0.5
      rule_adherence: 0.9
      roleplay_intensity: 0.4
      base_decay_rate: 0.3
  - agent_id: agent_zara
    name: "Zara"
    personality:
      analytical_score: 0.2
      risk_tolerance: 0.9
      detail_oriented: 0.3
      emotional_memory: 0.8
      assertiveness: 0.8
      cooperativeness: 0.4
      openness: 0.7
      rule_adherence: 0.2
      roleplay_intensity: 0.9
      base_decay_rate: 0.3
characters:
  - character_id: char_tess
    agent_id: agent_kit
    name: "Tess"
    style: "savvy"
    role: "engineer"
    number: 2
    character_goal: "Keep the Raptor flying"
    equipment: ["toolkit"]
    speech_patterns: ["clipped"]
    mannerisms: ["taps console"]
  - character_id: char_vex
    agent_id: agent_zara
    name: "Vex"
    style: "hot-shot"
    role: "pilot"
    number: 4
    character_goal: "Outfly everything"
    equipment: []
    speech_patterns: ["brags"]
    mannerisms: ["leans back"]
`

func loadTestRoster(t *testing.T) *Roster {
	t.Helper()
	cf, err := LoadFromReader(strings.NewReader(crewYAML))
	if err != nil {
		t.Fatalf("LoadFromReader() error = %v", err)
	}
	r, err := New(cf)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return r
}

func TestLoadAndIndex(t *testing.T) {
	t.Parallel()

	r := loadTestRoster(t)
	if got := r.ActiveAgents(); len(got) != 2 || got[0] != "agent_kit" || got[1] != "agent_zara" {
		t.Errorf("ActiveAgents() = %v, want declaration order", got)
	}

	sheet, ok := r.CharacterFor("agent_zara")
	if !ok || sheet.CharacterID != "char_vex" {
		t.Errorf("CharacterFor(agent_zara) = %+v/%v, want char_vex", sheet, ok)
	}

	sheet, ok = r.SheetByCharacter("char_tess")
	if !ok || sheet.Number != 2 {
		t.Errorf("SheetByCharacter(char_tess) = %+v/%v", sheet, ok)
	}

	p, ok := r.PersonalityFor("agent_kit")
	if !ok || p.AnalyticalScore != 0.8 {
		t.Errorf("PersonalityFor(agent_kit) = %+v/%v", p, ok)
	}

	if r.Ship().Name != "Raptor" || r.Campaign().Name != "Signals from the Rim" {
		t.Errorf("ship=%q campaign=%q", r.Ship().Name, r.Campaign().Name)
	}
}

func TestLinks(t *testing.T) {
	t.Parallel()

	links := loadTestRoster(t).Links()
	charID, ok := links.CharacterFor("agent_kit")
	if !ok || charID != "char_tess" {
		t.Errorf("Links().CharacterFor(agent_kit) = %q/%v, want char_tess", charID, ok)
	}
	if _, ok := links.CharacterFor("agent_ghost"); ok {
		t.Error("unknown agent resolved to a character")
	}
}

func TestLoadFromReader_RejectsUnknownKeys(t *testing.T) {
	t.Parallel()

	_, err := LoadFromReader(strings.NewReader("campain:\n  name: typo\n"))
	if err == nil {
		t.Error("unknown top-level key accepted")
	}
}

func TestNew_Rejections(t *testing.T) {
	t.Parallel()

	base := func(t *testing.T) *CrewFile {
		t.Helper()
		cf, err := LoadFromReader(strings.NewReader(crewYAML))
		if err != nil {
			t.Fatalf("LoadFromReader() error = %v", err)
		}
		return cf
	}

	tests := []struct {
		name    string
		mutate  func(*CrewFile)
		wantErr string
	}{
		{
			name:    "duplicate character control",
			mutate:  func(cf *CrewFile) { cf.Characters[1].AgentID = "agent_kit" },
			wantErr: "more than one character",
		},
		{
			name:    "character with unknown agent",
			mutate:  func(cf *CrewFile) { cf.Characters[0].AgentID = "agent_ghost" },
			wantErr: "unknown agent",
		},
		{
			name:    "player without character",
			mutate:  func(cf *CrewFile) { cf.Characters = cf.Characters[:1] },
			wantErr: "controls no character",
		},
		{
			name:    "trait out of range",
			mutate:  func(cf *CrewFile) { cf.Players[0].Personality.RiskTolerance = 1.4 },
			wantErr: "risk_tolerance",
		},
		{
			name:    "bad ship",
			mutate:  func(cf *CrewFile) { cf.Ship.Strengths = []game.ShipStrength{"fast"} },
			wantErr: "two strengths",
		},
		{
			name:    "number out of range",
			mutate:  func(cf *CrewFile) { cf.Characters[0].Number = 6 },
			wantErr: "out of range",
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			cf := base(t)
			tc.mutate(cf)
			_, err := New(cf)
			if err == nil || !strings.Contains(err.Error(), tc.wantErr) {
				t.Errorf("New() error = %v, want mention of %q", err, tc.wantErr)
			}
		})
	}
}
