// Package ids defines the identifier formats used across the Starcrew core:
// agent IDs, character IDs, memory group keys, and generated UUIDs for
// messages, memory edges, and worker jobs.
//
// Agent and character IDs are immutable once assigned and must match the
// patterns validated here. Group keys scope memory storage: each agent and
// character has a personal key, and the party shares [GroupCampaign].
package ids

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/google/uuid"
)

// GroupCampaign is the shared memory scope for party-wide knowledge.
const GroupCampaign = "campaign_main"

// GMSpeaker is the reserved sender identifier for the game master on any
// message channel.
const GMSpeaker = "dm"

var (
	agentIDPattern     = regexp.MustCompile(`^agent_[a-z0-9_]+$`)
	characterIDPattern = regexp.MustCompile(`^char_[a-z0-9_]+$`)
	characterGroupPat  = regexp.MustCompile(`^character_[a-z0-9_]+$`)
)

// ValidAgentID reports whether id matches the agent ID format
// (agent_ followed by lowercase letters, digits, or underscores).
func ValidAgentID(id string) bool {
	return agentIDPattern.MatchString(id)
}

// ValidCharacterID reports whether id matches the character ID format
// (char_ followed by lowercase letters, digits, or underscores).
func ValidCharacterID(id string) bool {
	return characterIDPattern.MatchString(id)
}

// AgentGroup returns the personal memory group key for an agent
// ("agent_<id suffix>"). Agent IDs already carry the agent_ prefix, so the
// group key is the ID itself.
func AgentGroup(agentID string) string { return agentID }

// CharacterGroup returns the personal memory group key for a character.
// Character IDs already carry the char_ prefix; the group key prepends the
// "character_" scope marker expected by the memory store.
func CharacterGroup(characterID string) string {
	return "character_" + strings.TrimPrefix(characterID, "char_")
}

// ValidGroupKey reports whether key is a recognised memory group key:
// campaign_main, an agent key, or a character_<suffix> key.
func ValidGroupKey(key string) bool {
	if key == GroupCampaign {
		return true
	}
	if agentIDPattern.MatchString(key) {
		return true
	}
	return characterGroupPat.MatchString(key)
}

// NewMessageID returns a fresh message identifier.
func NewMessageID() string { return "msg_" + uuid.NewString() }

// NewJobID returns a fresh worker job identifier.
func NewJobID() string { return "job_" + uuid.NewString() }

// NewEdgeUUID returns a fresh memory-edge identifier.
func NewEdgeUUID() string { return uuid.NewString() }

// SessionKey builds the composite key used for checkpoints and advisory
// locks: "<sessionID>/<phaseIndex>".
func SessionKey(sessionID string, phaseIndex int) string {
	return fmt.Sprintf("%s/%d", sessionID, phaseIndex)
}
