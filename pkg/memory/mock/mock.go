// Package mock provides an in-memory test double for the memory.Store
// interface.
//
// Ranking is simulated: candidates are returned newest-first, with a
// naive substring match applied when a query is set. Error fields inject
// failures per method.
package mock

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/starcrew-ai/starcrew/pkg/memory"
)

var _ memory.Store = (*Store)(nil)

// Store is a mock implementation of memory.Store. The zero value is ready
// to use. Safe for concurrent use.
type Store struct {
	mu       sync.Mutex
	episodes []memory.Episode
	edges    []memory.Edge

	// InsertEpisodeErr, if non-nil, is returned from InsertEpisode.
	InsertEpisodeErr error

	// InsertEdgesErr, if non-nil, is returned from InsertEdges.
	InsertEdgesErr error

	// SearchErr, if non-nil, is returned from SearchCandidates.
	SearchErr error

	// RehearsalErr, if non-nil, is returned from IncrementRehearsal.
	RehearsalErr error

	// CorruptErr, if non-nil, is returned from InsertCorrupted.
	CorruptErr error

	// RehearsalCalls records the UUID batches passed to IncrementRehearsal.
	RehearsalCalls [][]string
}

// InsertEpisode implements memory.Store.
func (s *Store) InsertEpisode(ctx context.Context, ep memory.Episode) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.InsertEpisodeErr != nil {
		return s.InsertEpisodeErr
	}
	s.episodes = append(s.episodes, ep)
	return nil
}

// InsertEdges implements memory.Store.
func (s *Store) InsertEdges(ctx context.Context, edges []memory.Edge) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.InsertEdgesErr != nil {
		return s.InsertEdgesErr
	}
	for _, e := range edges {
		if s.indexOf(e.UUID) >= 0 {
			return fmt.Errorf("mock store: duplicate edge uuid %s", e.UUID)
		}
		s.edges = append(s.edges, e)
	}
	return nil
}

// SearchCandidates implements memory.Store.
func (s *Store) SearchCandidates(ctx context.Context, q memory.CandidateQuery) ([]memory.Edge, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.SearchErr != nil {
		return nil, s.SearchErr
	}

	matched := make([]memory.Edge, 0)
	for _, e := range s.edges {
		if !slices.Contains(q.GroupKeys, e.GroupKey) {
			continue
		}
		if e.ValidAt.After(q.AsOf) {
			continue
		}
		if e.InvalidAt != nil && !e.InvalidAt.After(q.AsOf) {
			continue
		}
		if q.MinConfidence > 0 && e.Confidence < q.MinConfidence {
			continue
		}
		if q.ExcludeLayer != "" && e.KnowledgeLayer == q.ExcludeLayer {
			continue
		}
		if !q.IncludeCorrupted && e.Corrupted() {
			continue
		}
		if q.Query != "" && len(q.Embedding) == 0 &&
			!strings.Contains(strings.ToLower(e.Fact), strings.ToLower(q.Query)) {
			continue
		}
		matched = append(matched, e)
	}

	slices.SortFunc(matched, func(a, b memory.Edge) int {
		return b.ValidAt.Compare(a.ValidAt)
	})
	limit := q.Limit
	if limit <= 0 {
		limit = 20
	}
	if len(matched) > limit {
		matched = matched[:limit]
	}
	return matched, nil
}

// GetEdge implements memory.Store.
func (s *Store) GetEdge(ctx context.Context, uuid string) (*memory.Edge, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.indexOf(uuid)
	if i < 0 {
		return nil, nil
	}
	e := s.edges[i]
	return &e, nil
}

// IncrementRehearsal implements memory.Store.
func (s *Store) IncrementRehearsal(ctx context.Context, uuids []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.RehearsalErr != nil {
		return s.RehearsalErr
	}
	s.RehearsalCalls = append(s.RehearsalCalls, slices.Clone(uuids))
	for _, id := range uuids {
		if i := s.indexOf(id); i >= 0 {
			s.edges[i].RehearsalCount++
		}
	}
	return nil
}

// Invalidate implements memory.Store.
func (s *Store) Invalidate(ctx context.Context, uuid string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if i := s.indexOf(uuid); i >= 0 && s.edges[i].InvalidAt == nil {
		t := at
		s.edges[i].InvalidAt = &t
	}
	return nil
}

// InsertCorrupted implements memory.Store.
func (s *Store) InsertCorrupted(ctx context.Context, corrupted memory.Edge, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.CorruptErr != nil {
		return s.CorruptErr
	}
	if s.indexOf(corrupted.UUID) >= 0 {
		return fmt.Errorf("mock store: duplicate edge uuid %s", corrupted.UUID)
	}
	s.edges = append(s.edges, corrupted)
	if i := s.indexOf(corrupted.OriginalUUID); i >= 0 && s.edges[i].InvalidAt == nil {
		t := at
		s.edges[i].InvalidAt = &t
	}
	return nil
}

// Episodes returns a snapshot of all stored episodes.
func (s *Store) Episodes() []memory.Episode {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.episodes)
}

// Edges returns a snapshot of all stored edges.
func (s *Store) Edges() []memory.Edge {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.edges)
}

// Seed inserts edges directly, bypassing error injection. For test setup.
func (s *Store) Seed(edges ...memory.Edge) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.edges = append(s.edges, edges...)
}

// indexOf must be called with the lock held.
func (s *Store) indexOf(uuid string) int {
	return slices.IndexFunc(s.edges, func(e memory.Edge) bool { return e.UUID == uuid })
}
