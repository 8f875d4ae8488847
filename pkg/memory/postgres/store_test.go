package postgres_test

import (
	"context"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgxvec "github.com/pgvector/pgvector-go/pgx"

	"github.com/starcrew-ai/starcrew/pkg/memory"
	"github.com/starcrew-ai/starcrew/pkg/memory/postgres"
)

const testEmbeddingDim = 4

// testDSN returns the test database DSN from the environment, or skips
// the test if STARCREW_TEST_POSTGRES_DSN is not set.
func testDSN(t *testing.T) string {
	t.Helper()
	dsn := os.Getenv("STARCREW_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("STARCREW_TEST_POSTGRES_DSN not set — skipping PostgreSQL integration tests")
	}
	return dsn
}

// newTestStore creates a fresh [postgres.Store] with a clean schema.
func newTestStore(t *testing.T) *postgres.Store {
	t.Helper()
	dsn := testDSN(t)
	ctx := context.Background()

	cleanPool := mustPool(t, ctx, dsn)
	t.Cleanup(cleanPool.Close)
	dropSchema(t, ctx, cleanPool)

	store, err := postgres.NewStore(ctx, dsn, testEmbeddingDim)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	t.Cleanup(store.Close)
	return store
}

func mustPool(t *testing.T, ctx context.Context, dsn string) *pgxpool.Pool {
	t.Helper()
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		t.Fatalf("parse config: %v", err)
	}
	cfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		// best-effort: pgvector may not be installed yet on a fresh DB
		_ = pgxvec.RegisterTypes(ctx, conn)
		return nil
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		t.Fatalf("pool: %v", err)
	}
	return pool
}

func dropSchema(t *testing.T, ctx context.Context, pool *pgxpool.Pool) {
	t.Helper()
	for _, stmt := range []string{
		"DROP TABLE IF EXISTS memory_edges CASCADE",
		"DROP TABLE IF EXISTS memory_episodes CASCADE",
	} {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			t.Fatalf("dropSchema %q: %v", stmt, err)
		}
	}
}

func edge(uuid, groupKey, fact string, validAt time.Time) memory.Edge {
	return memory.Edge{
		UUID:           uuid,
		Fact:           fact,
		ValidAt:        validAt,
		GroupKey:       groupKey,
		MemoryType:     memory.Episodic,
		Confidence:     0.9,
		KnowledgeLayer: memory.LayerBoth,
	}
}

func TestInsertAndSearchEdges(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	edges := []memory.Edge{
		edge("e1", "agent:kit", "The derelict's reactor is still warm.", now.Add(-2*time.Hour)),
		edge("e2", "agent:kit", "Vex owes a favour to the stationmaster.", now.Add(-1*time.Hour)),
		edge("e3", "campaign:rim", "The Rim patrol changed its route.", now.Add(-30*time.Minute)),
		edge("e4", "agent:mara", "Kit hides a stash of spare couplers.", now.Add(-10*time.Minute)),
	}
	if err := store.InsertEdges(ctx, edges); err != nil {
		t.Fatalf("InsertEdges: %v", err)
	}

	got, err := store.SearchCandidates(ctx, memory.CandidateQuery{
		GroupKeys: []string{"agent:kit", "campaign:rim"},
		AsOf:      now,
	})
	if err != nil {
		t.Fatalf("SearchCandidates: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("SearchCandidates: want 3 edges across both group keys, got %d", len(got))
	}
	for _, e := range got {
		if e.GroupKey == "agent:mara" {
			t.Errorf("edge %s from a foreign group key leaked into results", e.UUID)
		}
	}

	// An AsOf before every valid_at returns nothing.
	early, err := store.SearchCandidates(ctx, memory.CandidateQuery{
		GroupKeys: []string{"agent:kit"},
		AsOf:      now.Add(-3 * time.Hour),
	})
	if err != nil {
		t.Fatalf("SearchCandidates early: %v", err)
	}
	if len(early) != 0 {
		t.Errorf("SearchCandidates early: want 0, got %d", len(early))
	}
}

func TestSearchFullText(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	if err := store.InsertEdges(ctx, []memory.Edge{
		edge("e1", "agent:kit", "The reactor coolant leak started near bay two.", now.Add(-time.Hour)),
		edge("e2", "agent:kit", "Vex prefers to negotiate before shooting.", now.Add(-time.Minute)),
	}); err != nil {
		t.Fatalf("InsertEdges: %v", err)
	}

	got, err := store.SearchCandidates(ctx, memory.CandidateQuery{
		GroupKeys: []string{"agent:kit"},
		AsOf:      now,
		Query:     "reactor coolant",
	})
	if err != nil {
		t.Fatalf("SearchCandidates: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("full-text search: want 1 match, got %d", len(got))
	}
	if !strings.Contains(got[0].Fact, "coolant") {
		t.Errorf("full-text search matched %q", got[0].Fact)
	}
}

func TestSearchByEmbedding(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	near := edge("near", "agent:kit", "The airlock cycles slowly.", now.Add(-time.Hour))
	near.Embedding = []float32{1, 0, 0, 0}
	far := edge("far", "agent:kit", "The galley smells of burnt caf.", now.Add(-time.Hour))
	far.Embedding = []float32{0, 1, 0, 0}
	none := edge("none", "agent:kit", "No embedding on this one.", now.Add(-time.Hour))

	if err := store.InsertEdges(ctx, []memory.Edge{far, near, none}); err != nil {
		t.Fatalf("InsertEdges: %v", err)
	}

	got, err := store.SearchCandidates(ctx, memory.CandidateQuery{
		GroupKeys: []string{"agent:kit"},
		AsOf:      now,
		Embedding: []float32{0.9, 0.1, 0, 0},
	})
	if err != nil {
		t.Fatalf("SearchCandidates: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("vector search: want 2 embedded edges, got %d", len(got))
	}
	if got[0].UUID != "near" {
		t.Errorf("vector search order: want %q first, got %q", "near", got[0].UUID)
	}
}

func TestInsertCorruptedSupersedes(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	pristine := edge("orig", "agent:kit", "The patrol passes every six hours.", now.Add(-time.Hour))
	if err := store.InsertEdges(ctx, []memory.Edge{pristine}); err != nil {
		t.Fatalf("InsertEdges: %v", err)
	}

	variant := edge("corrupt-1", "agent:kit", "The patrol passes every four hours.", now)
	variant.CorruptionType = memory.CorruptionDetailDrift
	variant.OriginalUUID = "orig"
	if err := store.InsertCorrupted(ctx, variant, now); err != nil {
		t.Fatalf("InsertCorrupted: %v", err)
	}

	orig, err := store.GetEdge(ctx, "orig")
	if err != nil {
		t.Fatalf("GetEdge: %v", err)
	}
	if orig == nil || orig.InvalidAt == nil {
		t.Fatal("pristine edge was not invalidated by its corrupted variant")
	}

	// Reads as of now see only the variant.
	got, err := store.SearchCandidates(ctx, memory.CandidateQuery{
		GroupKeys:        []string{"agent:kit"},
		AsOf:             now.Add(time.Second),
		IncludeCorrupted: true,
	})
	if err != nil {
		t.Fatalf("SearchCandidates: %v", err)
	}
	if len(got) != 1 || got[0].UUID != "corrupt-1" {
		t.Fatalf("post-corruption read: want only the variant, got %v", got)
	}

	// The partial unique index rejects a second live variant of the same
	// pristine edge.
	second := edge("corrupt-2", "agent:kit", "The patrol passes hourly.", now)
	second.CorruptionType = memory.CorruptionDetailDrift
	second.OriginalUUID = "orig"
	if err := store.InsertCorrupted(ctx, second, now); err == nil {
		t.Fatal("second live corrupted variant was accepted")
	}
}

func TestIncrementRehearsal(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	if err := store.InsertEdges(ctx, []memory.Edge{
		edge("e1", "agent:kit", "fact one", now),
		edge("e2", "agent:kit", "fact two", now),
	}); err != nil {
		t.Fatalf("InsertEdges: %v", err)
	}

	if err := store.IncrementRehearsal(ctx, []string{"e1", "missing"}); err != nil {
		t.Fatalf("IncrementRehearsal: %v", err)
	}
	e1, err := store.GetEdge(ctx, "e1")
	if err != nil {
		t.Fatalf("GetEdge: %v", err)
	}
	if e1.RehearsalCount != 1 {
		t.Errorf("e1 RehearsalCount = %d, want 1", e1.RehearsalCount)
	}
	e2, _ := store.GetEdge(ctx, "e2")
	if e2.RehearsalCount != 0 {
		t.Errorf("e2 RehearsalCount = %d, want 0", e2.RehearsalCount)
	}
}

func TestInsertEpisode(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	ep := memory.Episode{
		ID:            "ep-1",
		GroupKey:      "campaign:rim",
		SessionNumber: 2,
		Content:       "The crew boarded the derelict and lost the cargo winch.",
		ReferenceTime: time.Now().UTC(),
		Metadata:      map[string]any{"turn": 4},
		CreatedAt:     time.Now().UTC(),
	}
	if err := store.InsertEpisode(ctx, ep); err != nil {
		t.Fatalf("InsertEpisode: %v", err)
	}
	// Duplicate IDs are rejected by the primary key.
	if err := store.InsertEpisode(ctx, ep); err == nil {
		t.Fatal("duplicate episode ID was accepted")
	}
}
