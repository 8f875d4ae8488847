// Package mock provides an in-memory [router.Store] for tests. It keeps
// real per-channel ordering so router behaviour can be asserted end to
// end, and exposes error injection fields for failure-path tests.
package mock

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/starcrew-ai/starcrew/internal/router"
)

var _ router.Store = (*Store)(nil)

// Store is an in-memory channel store. Safe for concurrent use.
type Store struct {
	mu        sync.Mutex
	messages  []router.Message
	summaries []router.ICSummary
	p2cIndex  map[string]map[string]bool // session -> character set

	// AppendErr is returned by Append and AppendIC when non-nil.
	AppendErr error

	// ReadErr is returned by every read method when non-nil. FailReads
	// limits the injection to the first N reads; zero means always.
	ReadErr   error
	FailReads int

	reads int
}

// NewStore returns an empty in-memory store.
func NewStore() *Store {
	return &Store{p2cIndex: make(map[string]map[string]bool)}
}

func (s *Store) readFailure() error {
	if s.ReadErr == nil {
		return nil
	}
	s.reads++
	if s.FailReads > 0 && s.reads > s.FailReads {
		return nil
	}
	return s.ReadErr
}

// AppendIC implements [router.Store].
func (s *Store) AppendIC(_ context.Context, msg router.Message, summary router.ICSummary) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.AppendErr != nil {
		return s.AppendErr
	}
	if err := s.checkDuplicate(msg.ID); err != nil {
		return err
	}
	s.messages = append(s.messages, msg)
	s.summaries = append(s.summaries, summary)
	return nil
}

// Append implements [router.Store].
func (s *Store) Append(_ context.Context, msg router.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.AppendErr != nil {
		return s.AppendErr
	}
	if err := s.checkDuplicate(msg.ID); err != nil {
		return err
	}
	s.messages = append(s.messages, msg)
	if msg.Channel == router.ChannelP2C {
		set := s.p2cIndex[msg.SessionID]
		if set == nil {
			set = make(map[string]bool)
			s.p2cIndex[msg.SessionID] = set
		}
		set[msg.Recipient] = true
	}
	return nil
}

func (s *Store) checkDuplicate(id string) error {
	for _, m := range s.messages {
		if m.ID == id {
			return fmt.Errorf("mock store: duplicate message id %s", id)
		}
	}
	return nil
}

// RecentIC implements [router.Store].
func (s *Store) RecentIC(_ context.Context, sessionID string, limit int) ([]router.Message, error) {
	return s.recent(sessionID, router.ChannelIC, "", limit)
}

// RecentOOC implements [router.Store].
func (s *Store) RecentOOC(_ context.Context, sessionID string, limit int) ([]router.Message, error) {
	return s.recent(sessionID, router.ChannelOOC, "", limit)
}

// RecentP2C implements [router.Store].
func (s *Store) RecentP2C(_ context.Context, sessionID, characterID string, limit int) ([]router.Message, error) {
	return s.recent(sessionID, router.ChannelP2C, characterID, limit)
}

func (s *Store) recent(sessionID string, channel router.Channel, recipient string, limit int) ([]router.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.readFailure(); err != nil {
		return nil, err
	}

	var out []router.Message
	for _, m := range s.messages {
		if m.SessionID != sessionID || m.Channel != channel {
			continue
		}
		if recipient != "" && m.Recipient != recipient {
			continue
		}
		out = append(out, m)
	}
	slices.SortStableFunc(out, func(a, b router.Message) int {
		return cmp.Compare(a.CreatedAt.UnixNano(), b.CreatedAt.UnixNano())
	})
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

// RecentSummaries implements [router.Store].
func (s *Store) RecentSummaries(_ context.Context, sessionID string, limit int) ([]router.ICSummary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.readFailure(); err != nil {
		return nil, err
	}

	var out []router.ICSummary
	for _, sm := range s.summaries {
		if sm.SessionID == sessionID {
			out = append(out, sm)
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

// ActiveP2CChannels implements [router.Store].
func (s *Store) ActiveP2CChannels(_ context.Context, sessionID string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.readFailure(); err != nil {
		return nil, err
	}

	var out []string
	for id := range s.p2cIndex[sessionID] {
		out = append(out, id)
	}
	slices.Sort(out)
	return out, nil
}

// ClearSession implements [router.Store].
func (s *Store) ClearSession(_ context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.messages = slices.DeleteFunc(s.messages, func(m router.Message) bool {
		return m.SessionID == sessionID
	})
	s.summaries = slices.DeleteFunc(s.summaries, func(sm router.ICSummary) bool {
		return sm.SessionID == sessionID
	})
	delete(s.p2cIndex, sessionID)
	return nil
}

// PurgeOlderThan implements [router.Store].
func (s *Store) PurgeOlderThan(_ context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	before := len(s.messages)
	s.messages = slices.DeleteFunc(s.messages, func(m router.Message) bool {
		return m.CreatedAt.Before(cutoff)
	})
	return int64(before - len(s.messages)), nil
}

// MessageCount returns the number of stored messages, for assertions.
func (s *Store) MessageCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.messages)
}
