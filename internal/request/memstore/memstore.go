// Package memstore keeps request sessions in process memory. Sessions are
// lost on restart.
package memstore

import (
	"context"
	"sync"
	"time"

	"github.com/m3rciful/requestbot/internal/request"
)

// Store is a concurrency-safe in-memory request.Store.
type Store struct {
	mu       sync.RWMutex
	sessions map[int64]request.Session
}

var _ request.Store = (*Store)(nil)

// New constructs an empty store.
func New() *Store {
	return &Store{sessions: make(map[int64]request.Session)}
}

// Get returns a copy of the session for a user, or a fresh idle session if none exists.
func (s *Store) Get(_ context.Context, userID int64) (request.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if sess, ok := s.sessions[userID]; ok {
		return sess.Clone(), nil
	}
	return request.NewSession(userID), nil
}

// Put stores a copy of sess, replacing any previous session of the same user.
func (s *Store) Put(_ context.Context, sess request.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.sessions[sess.UserID] = sess.Clone()
	return nil
}

// Delete removes the entire session for a user.
func (s *Store) Delete(_ context.Context, userID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.sessions, userID)
	return nil
}

// Count returns the number of stored sessions.
func (s *Store) Count(context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions), nil
}

// PruneIdle drops idle sessions with nothing pending whose last publish is before postedBefore.
func (s *Store) PruneIdle(_ context.Context, postedBefore time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for id, sess := range s.sessions {
		if sess.State != request.StateIdle || sess.Pending != nil {
			continue
		}
		if sess.LastPostedAt.Before(postedBefore) {
			delete(s.sessions, id)
			n++
		}
	}
	return n, nil
}
