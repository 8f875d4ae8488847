// Package roster loads and indexes a campaign's crew: the AI players with
// their personalities, the characters they control, and the shared ship.
// The agent/character pairing is a bijection fixed for the campaign; the
// router and the phase nodes both resolve it through a Roster.
package roster

import (
	"errors"
	"fmt"
	"io"
	"os"
	"slices"

	"gopkg.in/yaml.v3"

	"github.com/starcrew-ai/starcrew/internal/ids"
	"github.com/starcrew-ai/starcrew/pkg/game"
)

// PlayerProfile is one AI player: identity plus personality.
type PlayerProfile struct {
	AgentID     string           `yaml:"agent_id" json:"agent_id"`
	Name        string           `yaml:"name" json:"name"`
	Personality game.Personality `yaml:"personality" json:"personality"`
}

// Validate checks the profile's identifier and trait ranges.
func (p PlayerProfile) Validate() error {
	var problems []error
	if !ids.ValidAgentID(p.AgentID) {
		problems = append(problems, fmt.Errorf("agent_id %q does not match agent_[a-z0-9_]+", p.AgentID))
	}
	if p.Name == "" {
		problems = append(problems, errors.New("name is required"))
	}
	if err := p.Personality.Validate(); err != nil {
		problems = append(problems, err)
	}
	return errors.Join(problems...)
}

// CampaignMeta holds top-level metadata for a campaign crew file.
type CampaignMeta struct {
	Name        string `yaml:"name" json:"name"`
	Description string `yaml:"description" json:"description"`
}

// CrewFile is the top-level structure of a crew YAML file.
//
// Example:
//
//	campaign:
//	  name: "Signals from the Rim"
//	ship:
//	  name: "Raptor"
//	  strengths: [fast, nimble]
//	  problem: "fuel hog"
//	players:
//	  - agent_id: agent_kit
//	    name: "Kit"
//	    personality: { analytical_score: 0.8, ... }
//	characters:
//	  - character_id: char_zara
//	    agent_id: agent_kit
//	    ...
type CrewFile struct {
	Campaign   CampaignMeta          `yaml:"campaign"`
	Ship       game.ShipConfig       `yaml:"ship"`
	Players    []PlayerProfile       `yaml:"players"`
	Characters []game.CharacterSheet `yaml:"characters"`
}

// LoadFile reads and parses a crew YAML file from disk.
func LoadFile(path string) (*CrewFile, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("roster: open crew file %q: %w", path, err)
	}
	defer f.Close()

	cf, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("roster: parse crew file %q: %w", path, err)
	}
	return cf, nil
}

// LoadFromReader parses crew YAML from an [io.Reader]. The reader is
// consumed entirely; the caller is responsible for closing it.
func LoadFromReader(r io.Reader) (*CrewFile, error) {
	var cf CrewFile
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true) // reject unknown keys to catch typos
	if err := dec.Decode(&cf); err != nil {
		return nil, fmt.Errorf("roster: decode crew yaml: %w", err)
	}
	return &cf, nil
}

// Roster is the validated, indexed crew of one campaign.
type Roster struct {
	meta    CampaignMeta
	ship    game.ShipConfig
	players map[string]PlayerProfile
	byAgent map[string]game.CharacterSheet
	byChar  map[string]game.CharacterSheet
	agents  []string
}

// New builds a Roster from a parsed crew file, validating every entity
// and the agent/character bijection. All problems are reported joined.
func New(cf *CrewFile) (*Roster, error) {
	if cf == nil {
		return nil, errors.New("roster: crew file must not be nil")
	}

	var problems []error
	if err := cf.Ship.Validate(); err != nil {
		problems = append(problems, fmt.Errorf("ship: %w", err))
	}

	r := &Roster{
		meta:    cf.Campaign,
		ship:    cf.Ship,
		players: make(map[string]PlayerProfile, len(cf.Players)),
		byAgent: make(map[string]game.CharacterSheet, len(cf.Characters)),
		byChar:  make(map[string]game.CharacterSheet, len(cf.Characters)),
	}

	for _, p := range cf.Players {
		if err := p.Validate(); err != nil {
			problems = append(problems, fmt.Errorf("player %s: %w", p.AgentID, err))
			continue
		}
		if _, dup := r.players[p.AgentID]; dup {
			problems = append(problems, fmt.Errorf("player %s declared twice", p.AgentID))
			continue
		}
		r.players[p.AgentID] = p
		r.agents = append(r.agents, p.AgentID)
	}

	for _, c := range cf.Characters {
		if err := c.Validate(); err != nil {
			problems = append(problems, fmt.Errorf("character %s: %w", c.CharacterID, err))
			continue
		}
		if _, ok := r.players[c.AgentID]; !ok {
			problems = append(problems, fmt.Errorf("character %s is controlled by unknown agent %s", c.CharacterID, c.AgentID))
			continue
		}
		if _, dup := r.byAgent[c.AgentID]; dup {
			problems = append(problems, fmt.Errorf("agent %s controls more than one character", c.AgentID))
			continue
		}
		if _, dup := r.byChar[c.CharacterID]; dup {
			problems = append(problems, fmt.Errorf("character %s declared twice", c.CharacterID))
			continue
		}
		r.byAgent[c.AgentID] = c
		r.byChar[c.CharacterID] = c
	}

	for _, agentID := range r.agents {
		if _, ok := r.byAgent[agentID]; !ok {
			problems = append(problems, fmt.Errorf("player %s controls no character", agentID))
		}
	}

	if err := errors.Join(problems...); err != nil {
		return nil, fmt.Errorf("roster: %w", err)
	}
	if len(r.agents) == 0 {
		return nil, errors.New("roster: crew file declares no players")
	}
	return r, nil
}

// Load reads, parses, and indexes a crew file in one step.
func Load(path string) (*Roster, error) {
	cf, err := LoadFile(path)
	if err != nil {
		return nil, err
	}
	return New(cf)
}

// Campaign returns the campaign metadata.
func (r *Roster) Campaign() CampaignMeta { return r.meta }

// Ship returns the shared ship description.
func (r *Roster) Ship() game.ShipConfig { return r.ship }

// ActiveAgents returns the agent IDs in crew-file declaration order,
// which fixes fan-out and tie-break order for every turn.
func (r *Roster) ActiveAgents() []string { return slices.Clone(r.agents) }

// CharacterFor returns the sheet of the character an agent controls.
func (r *Roster) CharacterFor(agentID string) (game.CharacterSheet, bool) {
	c, ok := r.byAgent[agentID]
	return c, ok
}

// SheetByCharacter returns a character's sheet by character ID.
func (r *Roster) SheetByCharacter(characterID string) (game.CharacterSheet, bool) {
	c, ok := r.byChar[characterID]
	return c, ok
}

// PersonalityFor returns an agent's player personality.
func (r *Roster) PersonalityFor(agentID string) (game.Personality, bool) {
	p, ok := r.players[agentID]
	return p.Personality, ok
}

// PlayerFor returns an agent's full profile.
func (r *Roster) PlayerFor(agentID string) (PlayerProfile, bool) {
	p, ok := r.players[agentID]
	return p, ok
}

// Links returns the router's view of the agent/character pairing.
func (r *Roster) Links() ChannelLinks { return ChannelLinks{r} }

// ChannelLinks adapts a Roster to the router's link-resolution interface.
type ChannelLinks struct {
	roster *Roster
}

// CharacterFor returns the ID of the character controlled by agentID.
func (l ChannelLinks) CharacterFor(agentID string) (string, bool) {
	c, ok := l.roster.byAgent[agentID]
	if !ok {
		return "", false
	}
	return c.CharacterID, true
}
