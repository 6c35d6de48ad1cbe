package store

import (
	"database/sql"
	"encoding/json"
	"strings"
	"time"
)

// Event is one entry appended to a session transcript.
type Event struct {
	ID         int64     `json:"id"`
	SessionID  string    `json:"session_id"`
	Gesture    string    `json:"gesture"`
	Confidence float64   `json:"confidence"`
	Transcript []string  `json:"transcript"`
	CreatedAt  time.Time `json:"created_at"`
}

// EventFilter narrows List. Zero fields match everything.
type EventFilter struct {
	SessionID string
	Gesture   string
	Since     time.Time
	Limit     int
}

// EventRepository stores the transcript log.
type EventRepository struct {
	db *sql.DB
}

// Events returns the event repository for this store.
func (s *Store) Events() *EventRepository {
	return &EventRepository{db: s.db}
}

// Create inserts e. The session must exist.
func (r *EventRepository) Create(e *Event) error {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}

	transcript := e.Transcript
	if transcript == nil {
		transcript = []string{}
	}
	data, err := json.Marshal(transcript)
	if err != nil {
		return err
	}

	result, err := r.db.Exec(
		`INSERT INTO gesture_events (session_id, gesture, confidence, transcript, created_at)
		 VALUES (?, ?, ?, ?, ?)`,
		e.SessionID, e.Gesture, e.Confidence, string(data), e.CreatedAt,
	)
	if err != nil {
		return err
	}

	e.ID, err = result.LastInsertId()
	return err
}

// List retrieves events newest first.
func (r *EventRepository) List(f EventFilter) ([]*Event, error) {
	var (
		where []string
		args  []any
	)
	if f.SessionID != "" {
		where = append(where, "session_id = ?")
		args = append(args, f.SessionID)
	}
	if f.Gesture != "" {
		where = append(where, "gesture = ?")
		args = append(args, f.Gesture)
	}
	if !f.Since.IsZero() {
		where = append(where, "created_at >= ?")
		args = append(args, f.Since)
	}

	query := `SELECT id, session_id, gesture, confidence, transcript, created_at FROM gesture_events`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY id DESC"
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}

	rows, err := r.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []*Event
	for rows.Next() {
		e := &Event{}
		var transcript string
		if err := rows.Scan(&e.ID, &e.SessionID, &e.Gesture, &e.Confidence, &transcript, &e.CreatedAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(transcript), &e.Transcript); err != nil {
			return nil, err
		}
		events = append(events, e)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return events, nil
}

// Counts returns how many times each gesture was appended.
func (r *EventRepository) Counts() (map[string]int, error) {
	rows, err := r.db.Query(`SELECT gesture, COUNT(*) FROM gesture_events GROUP BY gesture`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var gesture string
		var n int
		if err := rows.Scan(&gesture, &n); err != nil {
			return nil, err
		}
		counts[gesture] = n
	}

	return counts, rows.Err()
}
