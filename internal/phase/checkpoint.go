// Package phase drives a session turn through its checkpointed phase
// cycle: GM interrupts park the machine, fan-out phases dispatch agent
// work, branch decisions pick the next phase, and every completed phase
// snapshots the full game state before the next one starts.
package phase

import (
	"context"
	"sync"
	"time"

	"github.com/starcrew-ai/starcrew/pkg/game"
)

// Snapshot is one checkpoint record. Version is monotonic per session, so
// a replayed save can never overwrite a newer state.
type Snapshot struct {
	SessionID  string          `json:"session_id"`
	PhaseIndex int             `json:"phase_index"`
	Version    int64           `json:"version"`
	State      *game.GameState `json:"state"`
	CreatedAt  time.Time       `json:"created_at"`
}

// Checkpointer persists snapshots keyed by (session_id, phase_index).
// Implementations must be safe for concurrent use and must assign
// monotonically increasing versions per session.
type Checkpointer interface {
	// Save persists the state as the checkpoint for (sessionID, phase)
	// and returns the assigned version. The state is stored as given; the
	// caller passes a clone.
	Save(ctx context.Context, sessionID string, phase game.Phase, state *game.GameState) (int64, error)

	// Load returns the checkpoint for (sessionID, phase), or (nil, nil)
	// when none exists.
	Load(ctx context.Context, sessionID string, phase game.Phase) (*Snapshot, error)

	// Latest returns the session's highest-version checkpoint, or
	// (nil, nil) when the session has none.
	Latest(ctx context.Context, sessionID string) (*Snapshot, error)

	// ClearSession removes every checkpoint of a session. Idempotent.
	ClearSession(ctx context.Context, sessionID string) error
}

var _ Checkpointer = (*MemoryCheckpointer)(nil)

// MemoryCheckpointer is the in-process Checkpointer for single-node runs
// and tests. Checkpoints do not survive a restart.
type MemoryCheckpointer struct {
	mu       sync.Mutex
	records  map[string]map[int]Snapshot // session -> phase index -> snapshot
	versions map[string]int64
}

// NewMemoryCheckpointer creates an empty in-process checkpointer.
func NewMemoryCheckpointer() *MemoryCheckpointer {
	return &MemoryCheckpointer{
		records:  make(map[string]map[int]Snapshot),
		versions: make(map[string]int64),
	}
}

// Save implements [Checkpointer].
func (c *MemoryCheckpointer) Save(ctx context.Context, sessionID string, phase game.Phase, state *game.GameState) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.versions[sessionID]++
	version := c.versions[sessionID]
	if c.records[sessionID] == nil {
		c.records[sessionID] = make(map[int]Snapshot)
	}
	c.records[sessionID][phase.Index()] = Snapshot{
		SessionID:  sessionID,
		PhaseIndex: phase.Index(),
		Version:    version,
		State:      state.Clone(),
		CreatedAt:  time.Now().UTC(),
	}
	return version, nil
}

// Load implements [Checkpointer].
func (c *MemoryCheckpointer) Load(ctx context.Context, sessionID string, phase game.Phase) (*Snapshot, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	snap, ok := c.records[sessionID][phase.Index()]
	if !ok {
		return nil, nil
	}
	snap.State = snap.State.Clone()
	return &snap, nil
}

// Latest implements [Checkpointer].
func (c *MemoryCheckpointer) Latest(ctx context.Context, sessionID string) (*Snapshot, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var latest *Snapshot
	for _, snap := range c.records[sessionID] {
		if latest == nil || snap.Version > latest.Version {
			s := snap
			latest = &s
		}
	}
	if latest == nil {
		return nil, nil
	}
	latest.State = latest.State.Clone()
	return latest, nil
}

// ClearSession implements [Checkpointer].
func (c *MemoryCheckpointer) ClearSession(ctx context.Context, sessionID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.records, sessionID)
	delete(c.versions, sessionID)
	return nil
}
