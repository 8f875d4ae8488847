package ids_test

import (
	"strings"
	"testing"

	"github.com/starcrew-ai/starcrew/internal/ids"
)

func TestValidAgentID(t *testing.T) {
	t.Parallel()

	tests := []struct {
		id   string
		want bool
	}{
		{"agent_alex", true},
		{"agent_a1_b2", true},
		{"agent_", false},
		{"agent_Alex", false},
		{"char_alex", false},
		{"alex", false},
		{"", false},
	}
	for _, tt := range tests {
		if got := ids.ValidAgentID(tt.id); got != tt.want {
			t.Errorf("ValidAgentID(%q) = %v, want %v", tt.id, got, tt.want)
		}
	}
}

func TestValidCharacterID(t *testing.T) {
	t.Parallel()

	tests := []struct {
		id   string
		want bool
	}{
		{"char_zara7", true},
		{"char_zara_7", true},
		{"char_", false},
		{"agent_zara", false},
		{"", false},
	}
	for _, tt := range tests {
		if got := ids.ValidCharacterID(tt.id); got != tt.want {
			t.Errorf("ValidCharacterID(%q) = %v, want %v", tt.id, got, tt.want)
		}
	}
}

func TestGroupKeys(t *testing.T) {
	t.Parallel()

	if got := ids.AgentGroup("agent_alex"); got != "agent_alex" {
		t.Errorf("AgentGroup = %q, want agent_alex", got)
	}
	if got := ids.CharacterGroup("char_zara7"); got != "character_zara7" {
		t.Errorf("CharacterGroup = %q, want character_zara7", got)
	}

	for _, key := range []string{"campaign_main", "agent_alex", "character_zara7"} {
		if !ids.ValidGroupKey(key) {
			t.Errorf("ValidGroupKey(%q) = false, want true", key)
		}
	}
	for _, key := range []string{"", "campaign_side", "char_zara7", "Character_zara"} {
		if ids.ValidGroupKey(key) {
			t.Errorf("ValidGroupKey(%q) = true, want false", key)
		}
	}
}

func TestGeneratedIDs(t *testing.T) {
	t.Parallel()

	if id := ids.NewMessageID(); !strings.HasPrefix(id, "msg_") {
		t.Errorf("NewMessageID() = %q, want msg_ prefix", id)
	}
	if id := ids.NewJobID(); !strings.HasPrefix(id, "job_") {
		t.Errorf("NewJobID() = %q, want job_ prefix", id)
	}
	if a, b := ids.NewEdgeUUID(), ids.NewEdgeUUID(); a == b {
		t.Error("NewEdgeUUID() returned duplicate values")
	}
}

func TestSessionKey(t *testing.T) {
	t.Parallel()

	if got := ids.SessionKey("sess-1", 7); got != "sess-1/7" {
		t.Errorf("SessionKey = %q, want sess-1/7", got)
	}
}
