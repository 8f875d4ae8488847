// Package router implements the three-channel message plane of a Starcrew
// session: IC (in-fiction), OOC (strategic table talk), and P2C
// (player-to-character directives).
//
// Visibility is enforced here, at the read path, not by callers: no
// operation exists that returns OOC content to a character or a full IC
// body to a player. Every IC publish commits atomically with its derived
// player-visible summary.
package router

import (
	"cmp"
	"context"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/starcrew-ai/starcrew/internal/errs"
	"github.com/starcrew-ai/starcrew/internal/ids"
)

// Store is the persistence backend for channel logs. Implementations must
// make AppendIC atomic (body + summary commit together or not at all) and
// must register the P2C channel key inside the same transaction as the
// first P2C append for that key.
type Store interface {
	// AppendIC appends an IC message together with its summary projection.
	AppendIC(ctx context.Context, msg Message, summary ICSummary) error

	// Append appends an OOC or P2C message.
	Append(ctx context.Context, msg Message) error

	// RecentIC returns the most recent IC bodies for a session, oldest
	// first, at most limit.
	RecentIC(ctx context.Context, sessionID string, limit int) ([]Message, error)

	// RecentP2C returns the most recent P2C messages addressed to
	// characterID, oldest first, at most limit.
	RecentP2C(ctx context.Context, sessionID, characterID string, limit int) ([]Message, error)

	// RecentOOC returns the most recent OOC messages, oldest first.
	RecentOOC(ctx context.Context, sessionID string, limit int) ([]Message, error)

	// RecentSummaries returns the most recent IC summaries, oldest first.
	RecentSummaries(ctx context.Context, sessionID string, limit int) ([]ICSummary, error)

	// ActiveP2CChannels returns the explicit index of character IDs with
	// at least one P2C message this session.
	ActiveP2CChannels(ctx context.Context, sessionID string) ([]string, error)

	// ClearSession purges all channels and the P2C index for a session.
	// Idempotent and atomic across keys.
	ClearSession(ctx context.Context, sessionID string) error

	// PurgeOlderThan removes messages past the retention window and
	// returns the number deleted.
	PurgeOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// Links resolves the player/character pairing used to authorize P2C
// publishes. Pairings are fixed for the lifetime of a session.
type Links interface {
	// CharacterFor returns the character controlled by agentID.
	CharacterFor(agentID string) (string, bool)
}

// readAttempts and readBackoff bound the retry loop around store reads.
// Exhaustion is fatal to the current phase.
const readAttempts = 3

var readBackoff = 100 * time.Millisecond

// Router enforces channel visibility over a [Store].
type Router struct {
	store Store
	links Links
	log   *slog.Logger
}

// New creates a Router over store. links authorizes P2C publishes; log may
// be nil for the default logger.
func New(store Store, links Links, log *slog.Logger) *Router {
	if log == nil {
		log = slog.Default()
	}
	return &Router{store: store, links: links, log: log}
}

// Publish appends msg to its channel's ordered log. IC messages commit
// together with their summary projection; P2C messages are checked against
// the sender's player/character link.
func (r *Router) Publish(ctx context.Context, msg Message) error {
	if err := msg.Validate(); err != nil {
		return errs.Validation("router: publish", err)
	}

	if msg.Channel == ChannelP2C {
		charID, ok := r.links.CharacterFor(msg.From)
		if !ok {
			return errs.Permission("router: p2c publish: sender %q controls no character", msg.From)
		}
		if charID != msg.Recipient {
			return errs.Permission("router: p2c publish: sender %q controls %q, not %q", msg.From, charID, msg.Recipient)
		}
	}

	var err error
	if msg.Channel == ChannelIC {
		err = r.store.AppendIC(ctx, msg, Summarize(msg))
	} else {
		err = r.store.Append(ctx, msg)
	}
	if err != nil {
		return fmt.Errorf("router: publish %s message %s: %w", msg.Channel, msg.ID, err)
	}

	r.log.DebugContext(ctx, "message published",
		"channel", msg.Channel, "from", msg.From, "message_id", msg.ID)
	return nil
}

// FetchForCharacter returns the most recent IC entries plus P2C entries
// addressed to characterID, merged in timestamp order. Characters never
// receive OOC content; callers that are not characters are rejected.
func (r *Router) FetchForCharacter(ctx context.Context, sessionID, characterID string, limit int) ([]Message, error) {
	if !ids.ValidCharacterID(characterID) {
		return nil, errs.Permission("router: fetch_for_character: caller %q is not a character", characterID)
	}

	var ic, p2c []Message
	err := r.withRetry(ctx, func(ctx context.Context) error {
		var err error
		if ic, err = r.store.RecentIC(ctx, sessionID, limit); err != nil {
			return err
		}
		p2c, err = r.store.RecentP2C(ctx, sessionID, characterID, limit)
		return err
	})
	if err != nil {
		return nil, errs.PhaseFailure("router: fetch_for_character", err)
	}

	merged := append(ic, p2c...)
	slices.SortStableFunc(merged, func(a, b Message) int {
		return cmp.Compare(a.CreatedAt.UnixNano(), b.CreatedAt.UnixNano())
	})
	if limit > 0 && len(merged) > limit {
		merged = merged[len(merged)-limit:]
	}
	return merged, nil
}

// PlayerFeed is the strategic-layer view of the table: OOC traffic plus IC
// summaries. Full IC bodies are structurally absent.
type PlayerFeed struct {
	OOC       []Message
	Summaries []ICSummary
}

// FetchForPlayer returns the most recent OOC entries plus IC summaries for
// agentID. Players never receive full IC bodies; callers that are not
// agents are rejected.
func (r *Router) FetchForPlayer(ctx context.Context, sessionID, agentID string, limit int) (PlayerFeed, error) {
	if !ids.ValidAgentID(agentID) {
		return PlayerFeed{}, errs.Permission("router: fetch_for_player: caller %q is not an agent", agentID)
	}

	var feed PlayerFeed
	err := r.withRetry(ctx, func(ctx context.Context) error {
		var err error
		if feed.OOC, err = r.store.RecentOOC(ctx, sessionID, limit); err != nil {
			return err
		}
		feed.Summaries, err = r.store.RecentSummaries(ctx, sessionID, limit)
		return err
	})
	if err != nil {
		return PlayerFeed{}, errs.PhaseFailure("router: fetch_for_player", err)
	}
	return feed, nil
}

// ActiveP2CChannels returns the explicit index of characters with P2C
// traffic this session. The index is maintained on publish, never
// discovered by scanning.
func (r *Router) ActiveP2CChannels(ctx context.Context, sessionID string) ([]string, error) {
	var keys []string
	err := r.withRetry(ctx, func(ctx context.Context) error {
		var err error
		keys, err = r.store.ActiveP2CChannels(ctx, sessionID)
		return err
	})
	if err != nil {
		return nil, errs.PhaseFailure("router: active p2c channels", err)
	}
	return keys, nil
}

// ClearSession purges every channel and the P2C index for sessionID.
func (r *Router) ClearSession(ctx context.Context, sessionID string) error {
	if err := r.store.ClearSession(ctx, sessionID); err != nil {
		return fmt.Errorf("router: clear session %s: %w", sessionID, err)
	}
	r.log.InfoContext(ctx, "session channels cleared", "session_id", sessionID)
	return nil
}

// withRetry runs fn up to readAttempts times with linear doubling backoff.
func (r *Router) withRetry(ctx context.Context, fn func(context.Context) error) error {
	var err error
	delay := readBackoff
	for attempt := 1; attempt <= readAttempts; attempt++ {
		if err = fn(ctx); err == nil {
			return nil
		}
		if attempt == readAttempts {
			break
		}
		r.log.WarnContext(ctx, "channel read failed, retrying",
			"attempt", attempt, "error", err)
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
		delay *= 2
	}
	return err
}
