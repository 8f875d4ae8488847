package postgres_test

import (
	"context"
	"os"
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/starcrew-ai/starcrew/internal/phase/postgres"
	"github.com/starcrew-ai/starcrew/pkg/game"
)

// newTestCheckpointer connects using STARCREW_TEST_POSTGRES_DSN and
// starts from an empty phase_checkpoints table, or skips.
func newTestCheckpointer(t *testing.T) *postgres.Checkpointer {
	t.Helper()
	dsn := os.Getenv("STARCREW_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("STARCREW_TEST_POSTGRES_DSN not set — skipping PostgreSQL integration tests")
	}
	ctx := context.Background()

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		t.Fatalf("pool: %v", err)
	}
	t.Cleanup(pool.Close)
	if _, err := pool.Exec(ctx, "DROP TABLE IF EXISTS phase_checkpoints"); err != nil {
		t.Fatalf("drop table: %v", err)
	}

	cp, err := postgres.NewCheckpointer(ctx, pool)
	if err != nil {
		t.Fatalf("NewCheckpointer: %v", err)
	}
	return cp
}

func TestSaveLoadLatest(t *testing.T) {
	cp := newTestCheckpointer(t)
	ctx := context.Background()

	st := game.NewGameState("session-1", 1, 4, []string{"agent_kit"})
	v1, err := cp.Save(ctx, "session-1", game.PhaseDMNarration, st)
	if err != nil {
		t.Fatalf("Save: %v", err)
	}
	if v1 != 1 {
		t.Errorf("first version = %d, want 1", v1)
	}

	st.DMNarration = "A derelict drifts ahead."
	v2, err := cp.Save(ctx, "session-1", game.PhaseMemoryRetrieval, st)
	if err != nil {
		t.Fatalf("Save second: %v", err)
	}
	if v2 != 2 {
		t.Errorf("second version = %d, want 2", v2)
	}

	snap, err := cp.Load(ctx, "session-1", game.PhaseDMNarration)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if snap == nil || snap.Version != 1 {
		t.Fatalf("Load = %+v, want version 1", snap)
	}
	if snap.State.TurnNumber != 4 {
		t.Errorf("restored TurnNumber = %d, want 4", snap.State.TurnNumber)
	}

	latest, err := cp.Latest(ctx, "session-1")
	if err != nil {
		t.Fatalf("Latest: %v", err)
	}
	if latest == nil || latest.Version != 2 {
		t.Fatalf("Latest = %+v, want version 2", latest)
	}
	if latest.State.DMNarration == "" {
		t.Error("latest snapshot lost the narration")
	}
}

func TestLoadMissing(t *testing.T) {
	cp := newTestCheckpointer(t)
	ctx := context.Background()

	snap, err := cp.Load(ctx, "nope", game.PhaseDMNarration)
	if err != nil || snap != nil {
		t.Fatalf("Load missing = %v, %v; want nil, nil", snap, err)
	}
	latest, err := cp.Latest(ctx, "nope")
	if err != nil || latest != nil {
		t.Fatalf("Latest missing = %v, %v; want nil, nil", latest, err)
	}
}

func TestResaveBumpsVersion(t *testing.T) {
	cp := newTestCheckpointer(t)
	ctx := context.Background()

	st := game.NewGameState("session-1", 1, 1, nil)
	if _, err := cp.Save(ctx, "session-1", game.PhaseDMNarration, st); err != nil {
		t.Fatalf("Save: %v", err)
	}
	v, err := cp.Save(ctx, "session-1", game.PhaseDMNarration, st)
	if err != nil {
		t.Fatalf("re-Save: %v", err)
	}
	if v != 2 {
		t.Errorf("re-saved version = %d, want 2", v)
	}
}

func TestClearSession(t *testing.T) {
	cp := newTestCheckpointer(t)
	ctx := context.Background()

	st := game.NewGameState("session-1", 1, 1, nil)
	if _, err := cp.Save(ctx, "session-1", game.PhaseDMNarration, st); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if _, err := cp.Save(ctx, "session-2", game.PhaseDMNarration, st); err != nil {
		t.Fatalf("Save other: %v", err)
	}

	if err := cp.ClearSession(ctx, "session-1"); err != nil {
		t.Fatalf("ClearSession: %v", err)
	}
	if snap, _ := cp.Latest(ctx, "session-1"); snap != nil {
		t.Error("session-1 checkpoints survived ClearSession")
	}
	if snap, _ := cp.Latest(ctx, "session-2"); snap == nil {
		t.Error("session-2 checkpoints were clobbered by ClearSession of session-1")
	}
}
