package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/tobrady/witbridge/internal/model/session"
)

// SessionStore handles session CRUD on SQLite.
type SessionStore struct {
	db *DB

	// lookupFallthrough controls what happens when the find half of
	// find-or-create fails: true falls through and creates a fresh session,
	// false propagates the lookup error to the caller.
	lookupFallthrough bool
}

// NewSessionStore creates a SQLite-backed session store.
func NewSessionStore(db *DB, lookupFallthrough bool) *SessionStore {
	return &SessionStore{db: db, lookupFallthrough: lookupFallthrough}
}

// FindOrCreate implements session.Store.
func (s *SessionStore) FindOrCreate(ctx context.Context, externalUserID string) (session.Session, error) {
	existing, err := s.findActiveByUser(ctx, externalUserID)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, session.ErrSessionNotFound) {
		if !s.lookupFallthrough {
			return session.Session{}, fmt.Errorf("lookup session for %s: %w", externalUserID, err)
		}
		log.Printf("[store] session lookup for %s failed, creating fresh session: %v", externalUserID, err)
	}

	return s.create(ctx, externalUserID)
}

// FindByID implements session.Store.
func (s *SessionStore) FindByID(ctx context.Context, id string) (session.Session, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, external_user_id, active, context, updated_at
		FROM sessions WHERE id = ? AND active = 1
	`, id)
	return scanSession(row)
}

// SaveContext implements session.Store.
func (s *SessionStore) SaveContext(ctx context.Context, id string, state session.Context) error {
	raw, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("encode context: %w", err)
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE sessions SET context = ?, updated_at = ? WHERE id = ? AND active = 1
	`, string(raw), time.Now().Unix(), id)
	if err != nil {
		return fmt.Errorf("update session context: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update session context: %w", err)
	}
	if affected == 0 {
		return session.ErrSessionNotFound
	}
	return nil
}

func (s *SessionStore) findActiveByUser(ctx context.Context, externalUserID string) (session.Session, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, external_user_id, active, context, updated_at
		FROM sessions WHERE external_user_id = ? AND active = 1
	`, externalUserID)
	return scanSession(row)
}

func (s *SessionStore) create(ctx context.Context, externalUserID string) (session.Session, error) {
	sess := session.Session{
		ID:             uuid.NewString(),
		ExternalUserID: externalUserID,
		Active:         true,
		Context:        session.Context{},
		UpdatedAt:      time.Now().UTC(),
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sessions (id, external_user_id, active, context, updated_at)
		VALUES (?, ?, 1, '{}', ?)
	`, sess.ID, sess.ExternalUserID, sess.UpdatedAt.Unix())
	if err != nil {
		return session.Session{}, fmt.Errorf("insert session: %w", err)
	}
	return sess, nil
}

func scanSession(row *sql.Row) (session.Session, error) {
	var (
		sess      session.Session
		active    int
		raw       string
		updatedAt int64
	)
	err := row.Scan(&sess.ID, &sess.ExternalUserID, &active, &raw, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return session.Session{}, session.ErrSessionNotFound
	}
	if err != nil {
		return session.Session{}, fmt.Errorf("scan session: %w", err)
	}

	sess.Active = active == 1
	sess.UpdatedAt = time.Unix(updatedAt, 0).UTC()
	sess.Context = session.Context{}
	if err := json.Unmarshal([]byte(raw), &sess.Context); err != nil {
		return session.Session{}, fmt.Errorf("decode session context: %w", err)
	}
	return sess, nil
}
