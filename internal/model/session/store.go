package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrSessionNotFound indicates no active session exists for the identifier.
var ErrSessionNotFound = errors.New("session not found")

// Store exposes session persistence to handlers and bot actions.
type Store interface {
	// FindOrCreate returns the active session for the external user, creating
	// one with an empty context when none exists. Concurrent first messages
	// from the same user may both create a session; callers must not assume
	// idempotence.
	FindOrCreate(ctx context.Context, externalUserID string) (Session, error)
	// FindByID returns the active session with the given id or
	// ErrSessionNotFound.
	FindByID(ctx context.Context, id string) (Session, error)
	// SaveContext overwrites the session context wholesale and stamps
	// UpdatedAt.
	SaveContext(ctx context.Context, id string, state Context) error
}

// MemoryStore implements Store with a mutex-guarded map, suitable for
// development and tests.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]Session
}

// NewMemoryStore returns an empty in-memory session store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{sessions: make(map[string]Session)}
}

// FindOrCreate implements Store.
func (s *MemoryStore) FindOrCreate(_ context.Context, externalUserID string) (Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, sess := range s.sessions {
		if sess.ExternalUserID == externalUserID && sess.Active {
			sess.Context = sess.Context.Clone()
			return sess, nil
		}
	}

	sess := Session{
		ID:             uuid.NewString(),
		ExternalUserID: externalUserID,
		Active:         true,
		Context:        Context{},
		UpdatedAt:      time.Now().UTC(),
	}
	s.sessions[sess.ID] = sess
	return sess, nil
}

// FindByID implements Store.
func (s *MemoryStore) FindByID(_ context.Context, id string) (Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sess, ok := s.sessions[id]
	if !ok || !sess.Active {
		return Session{}, ErrSessionNotFound
	}
	sess.Context = sess.Context.Clone()
	return sess, nil
}

// SaveContext implements Store.
func (s *MemoryStore) SaveContext(_ context.Context, id string, state Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[id]
	if !ok || !sess.Active {
		return ErrSessionNotFound
	}

	sess.Context = state.Clone()
	sess.UpdatedAt = time.Now().UTC()
	s.sessions[id] = sess
	return nil
}
