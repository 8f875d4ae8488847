package router

import (
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode"

	"github.com/starcrew-ai/starcrew/internal/ids"
)

// Channel identifies one of the three message planes.
type Channel string

const (
	// ChannelIC carries in-fiction events: character speech, actions, and
	// GM narration. Characters read it in full; players only ever see the
	// derived summaries.
	ChannelIC Channel = "ic"

	// ChannelOOC carries strategic table talk between players. Characters
	// never see it.
	ChannelOOC Channel = "ooc"

	// ChannelP2C carries one player's directive to its own character.
	// Exactly one recipient per message.
	ChannelP2C Channel = "p2c"
)

// IsValid reports whether c is a recognised channel.
func (c Channel) IsValid() bool {
	return c == ChannelIC || c == ChannelOOC || c == ChannelP2C
}

// Message is one entry in a channel's append log.
type Message struct {
	// ID is the unique message identifier ("msg_<uuid>"). Publishing the
	// same ID twice is rejected.
	ID        string    `json:"id"`
	SessionID string    `json:"session_id"`
	Channel   Channel   `json:"channel"`

	// From is the sender: an agent ID on OOC and P2C, a character ID or
	// [ids.GMSpeaker] on IC.
	From string `json:"from"`

	// Recipient is the target character ID. Set on P2C only.
	Recipient string `json:"recipient,omitempty"`

	Content       string    `json:"content"`
	TurnNumber    int       `json:"turn_number"`
	SessionNumber int       `json:"session_number"`
	CreatedAt     time.Time `json:"created_at"`
}

// NewMessage assembles a message with a fresh ID and timestamp. Recipient
// is the target character on P2C and must be empty elsewhere.
func NewMessage(sessionID string, ch Channel, from, recipient, content string, turnNumber, sessionNumber int) Message {
	return Message{
		ID:            ids.NewMessageID(),
		SessionID:     sessionID,
		Channel:       ch,
		From:          from,
		Recipient:     recipient,
		Content:       content,
		TurnNumber:    turnNumber,
		SessionNumber: sessionNumber,
		CreatedAt:     time.Now().UTC(),
	}
}

// Validate checks the structural invariants of a message before it is
// appended. Sender/recipient authority is checked by the [Router].
func (m Message) Validate() error {
	var problems []error
	if m.ID == "" {
		problems = append(problems, errors.New("message id is required"))
	}
	if m.SessionID == "" {
		problems = append(problems, errors.New("session id is required"))
	}
	if !m.Channel.IsValid() {
		problems = append(problems, fmt.Errorf("channel %q is invalid", m.Channel))
	}
	if m.From == "" {
		problems = append(problems, errors.New("sender is required"))
	}
	if m.Content == "" {
		problems = append(problems, errors.New("content is required"))
	}
	switch m.Channel {
	case ChannelP2C:
		if !ids.ValidCharacterID(m.Recipient) {
			problems = append(problems, fmt.Errorf("p2c recipient %q is not a character id", m.Recipient))
		}
		if !ids.ValidAgentID(m.From) {
			problems = append(problems, fmt.Errorf("p2c sender %q is not an agent id", m.From))
		}
	case ChannelOOC:
		if m.Recipient != "" {
			problems = append(problems, errors.New("ooc messages are broadcast; recipient must be empty"))
		}
		if !ids.ValidAgentID(m.From) {
			problems = append(problems, fmt.Errorf("ooc sender %q is not an agent id", m.From))
		}
	case ChannelIC:
		if m.Recipient != "" {
			problems = append(problems, errors.New("ic messages are broadcast; recipient must be empty"))
		}
		if m.From != ids.GMSpeaker && !ids.ValidCharacterID(m.From) {
			problems = append(problems, fmt.Errorf("ic sender %q is neither a character id nor %q", m.From, ids.GMSpeaker))
		}
	}
	return errors.Join(problems...)
}

// ICSummary is the player-visible projection of an IC message. Players
// never see full IC bodies, only these.
type ICSummary struct {
	MessageID string `json:"message_id"`
	SessionID string `json:"session_id"`

	// CharacterID is the acting character, or [ids.GMSpeaker] for GM
	// narration.
	CharacterID string `json:"character_id"`

	ActionSummary string `json:"action_summary"`

	// OutcomeSummary is populated for GM messages only; outcomes are
	// never inferred from character messages.
	OutcomeSummary string `json:"outcome_summary,omitempty"`

	TurnNumber int       `json:"turn_number"`
	CreatedAt  time.Time `json:"created_at"`
}

// summaryMaxLen caps the projected text length.
const summaryMaxLen = 240

// Summarize derives the player-visible projection of an IC message. The
// function is pure over the message content: the same message always
// yields the same summary.
func Summarize(m Message) ICSummary {
	s := ICSummary{
		MessageID:   m.ID,
		SessionID:   m.SessionID,
		CharacterID: m.From,
		TurnNumber:  m.TurnNumber,
		CreatedAt:   m.CreatedAt,
	}
	if m.From == ids.GMSpeaker {
		s.OutcomeSummary = firstSentence(m.Content)
		s.ActionSummary = truncate(m.Content, summaryMaxLen)
		return s
	}
	s.ActionSummary = firstSentence(m.Content)
	return s
}

// firstSentence returns the content up to the first sentence terminator,
// truncated to the summary cap.
func firstSentence(text string) string {
	text = strings.TrimSpace(text)
	for i, r := range text {
		if r == '.' || r == '!' || r == '?' {
			return truncate(text[:i+1], summaryMaxLen)
		}
	}
	return truncate(text, summaryMaxLen)
}

// truncate cuts text at the last word boundary before max runes.
func truncate(text string, max int) string {
	runes := []rune(text)
	if len(runes) <= max {
		return text
	}
	cut := max
	for cut > 0 && !unicode.IsSpace(runes[cut-1]) {
		cut--
	}
	if cut == 0 {
		cut = max
	}
	return strings.TrimSpace(string(runes[:cut])) + "…"
}
