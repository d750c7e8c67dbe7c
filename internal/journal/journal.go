// Package journal persists every decoded inbound event to a local SQLite
// database. The journal is diagnostic: it answers "what did the server tell
// us and when", which matters when a reconnect may have dropped events.
package journal

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/mistakeknot/orgsync/internal/events"
)

// Journal is an append-only event log.
type Journal struct {
	db *sql.DB
}

// Open opens or creates the journal database at path.
func Open(path string) (*Journal, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}
	if _, err := db.Exec(`
CREATE TABLE IF NOT EXISTS events (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  event_type TEXT NOT NULL,
  entity_id TEXT,
  payload TEXT NOT NULL,
  created_ts TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_events_entity ON events(entity_id);
`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate journal: %w", err)
	}
	return &Journal{db: db}, nil
}

// Close closes the underlying database.
func (j *Journal) Close() error {
	return j.db.Close()
}

// Append records one inbound event. Acks are skipped; they carry no domain
// state.
func (j *Journal) Append(evt events.Event) error {
	if evt.IsAck() {
		return nil
	}
	entityID := ""
	payload := "{}"
	if evt.Payload != nil {
		data, err := json.Marshal(evt.Payload)
		if err != nil {
			return fmt.Errorf("marshal payload: %w", err)
		}
		payload = string(data)
		entityID = extractID(evt.Payload.Model)
	}
	_, err := j.db.Exec(
		`INSERT INTO events (event_type, entity_id, payload, created_ts) VALUES (?, ?, ?, ?)`,
		string(evt.Type), entityID, payload, time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("append event: %w", err)
	}
	return nil
}

func extractID(model json.RawMessage) string {
	if len(model) == 0 {
		return ""
	}
	var probe struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(model, &probe); err != nil {
		return ""
	}
	return probe.ID
}

// Entry is one journaled event.
type Entry struct {
	ID        int64
	EventType events.Type
	EntityID  string
	Payload   json.RawMessage
	CreatedAt time.Time
}

// Filter narrows a journal query.
type Filter struct {
	EventTypes []events.Type
	EntityID   string
	Since      *time.Time
	Limit      int
}

// List returns journaled events newest-first.
func (j *Journal) List(f Filter) ([]Entry, error) {
	var (
		where []string
		args  []any
	)
	if len(f.EventTypes) > 0 {
		marks := make([]string, len(f.EventTypes))
		for i, t := range f.EventTypes {
			marks[i] = "?"
			args = append(args, string(t))
		}
		where = append(where, "event_type IN ("+strings.Join(marks, ",")+")")
	}
	if f.EntityID != "" {
		where = append(where, "entity_id = ?")
		args = append(args, f.EntityID)
	}
	if f.Since != nil {
		where = append(where, "created_ts >= ?")
		args = append(args, f.Since.UTC().Format(time.RFC3339Nano))
	}

	query := "SELECT id, event_type, entity_id, payload, created_ts FROM events"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY id DESC"
	limit := f.Limit
	if limit <= 0 {
		limit = 100
	}
	query += " LIMIT ?"
	args = append(args, limit)

	rows, err := j.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("query journal: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var (
			entry   Entry
			evtType string
			payload string
			created string
		)
		if err := rows.Scan(&entry.ID, &evtType, &entry.EntityID, &payload, &created); err != nil {
			return nil, fmt.Errorf("scan journal row: %w", err)
		}
		entry.EventType = events.Type(evtType)
		entry.Payload = json.RawMessage(payload)
		if ts, err := time.Parse(time.RFC3339Nano, created); err == nil {
			entry.CreatedAt = ts
		}
		out = append(out, entry)
	}
	return out, rows.Err()
}
