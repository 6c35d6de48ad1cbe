package store

import (
	"database/sql"
	"errors"
	"time"
)

// Session sources.
const (
	SourceAPI    = "api"
	SourceCamera = "camera"
)

// Session is a recognition stream as recorded in the database.
type Session struct {
	ID         string     `json:"id"`
	Source     string     `json:"source"`
	CreatedAt  time.Time  `json:"created_at"`
	LastSeenAt time.Time  `json:"last_seen_at"`
	ClosedAt   *time.Time `json:"closed_at,omitempty"`
	Events     int        `json:"events"`
}

// SessionRepository provides CRUD operations for sessions.
type SessionRepository struct {
	db *sql.DB
}

// Sessions returns the session repository for this store.
func (s *Store) Sessions() *SessionRepository {
	return &SessionRepository{db: s.db}
}

// Touch records activity for a session, creating it if needed. The source
// of an existing session is not changed. An empty source means SourceAPI.
func (r *SessionRepository) Touch(id, source string) error {
	if source == "" {
		source = SourceAPI
	}
	now := time.Now()
	_, err := r.db.Exec(
		`INSERT INTO sessions (id, source, created_at, last_seen_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET last_seen_at = excluded.last_seen_at, closed_at = NULL`,
		id, source, now, now,
	)
	return err
}

const sessionColumns = `s.id, s.source, s.created_at, s.last_seen_at, s.closed_at,
	(SELECT COUNT(*) FROM gesture_events e WHERE e.session_id = s.id)`

func scanSession(sc interface{ Scan(...any) error }) (*Session, error) {
	s := &Session{}
	var closed sql.NullTime
	if err := sc.Scan(&s.ID, &s.Source, &s.CreatedAt, &s.LastSeenAt, &closed, &s.Events); err != nil {
		return nil, err
	}
	if closed.Valid {
		s.ClosedAt = &closed.Time
	}
	return s, nil
}

// GetByID retrieves a session by its ID.
func (r *SessionRepository) GetByID(id string) (*Session, error) {
	s, err := scanSession(r.db.QueryRow(
		`SELECT `+sessionColumns+` FROM sessions s WHERE s.id = ?`, id,
	))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return s, nil
}

// List retrieves the most recently active sessions. A limit of zero or less
// returns all of them.
func (r *SessionRepository) List(limit int) ([]*Session, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := r.db.Query(
		`SELECT `+sessionColumns+` FROM sessions s ORDER BY s.last_seen_at DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sessions []*Session
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, s)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return sessions, nil
}

// Close marks a session as ended. Its events are kept.
func (r *SessionRepository) Close(id string) error {
	result, err := r.db.Exec(`UPDATE sessions SET closed_at = ? WHERE id = ?`, time.Now(), id)
	if err != nil {
		return err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}

	if rowsAffected == 0 {
		return ErrNotFound
	}

	return nil
}

// Delete removes a session and its events.
func (r *SessionRepository) Delete(id string) error {
	result, err := r.db.Exec(`DELETE FROM sessions WHERE id = ?`, id)
	if err != nil {
		return err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}

	if rowsAffected == 0 {
		return ErrNotFound
	}

	return nil
}
