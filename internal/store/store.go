package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"muezzin/internal/model"
)

// ErrNotFound is returned when no schedule is stored for a day.
var ErrNotFound = errors.New("not found")

const dayLayout = "2006-01-02"

// HistoryEntry is one line of the engine's audit trail.
type HistoryEntry struct {
	ID        string                 `json:"id"`
	Event     string                 `json:"event"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	CreatedAt time.Time              `json:"createdAt"`
}

// Store wraps the SQLite database holding last-good schedules and history.
type Store struct {
	db *sql.DB
}

// Open creates (if needed) and opens the database at path.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("store path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create store directory: %w", err)
	}
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite store: %w", err)
	}
	if err := initSchema(db); err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

func initSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS schedules (
			day TEXT PRIMARY KEY,
			location TEXT NOT NULL,
			events TEXT NOT NULL,
			saved_at TIMESTAMP NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS history (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			event TEXT NOT NULL,
			metadata TEXT,
			created_at TIMESTAMP NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_history_event ON history(event);`,
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("schema apply failed: %w", err)
		}
	}
	return nil
}

// Close shuts down the database.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// storedEvent keeps instants as RFC3339 with offset; the zone name is
// restored from the schedule row.
type storedEvent struct {
	Name string `json:"name"`
	At   string `json:"at"`
}

// SaveSchedule upserts sched under its calendar day.
func (s *Store) SaveSchedule(sched *model.Schedule) error {
	if sched == nil {
		return errors.New("schedule is nil")
	}
	events := make([]storedEvent, 0, sched.Len())
	for _, ev := range sched.Events() {
		events = append(events, storedEvent{Name: ev.Name, At: ev.At.Format(time.RFC3339Nano)})
	}
	payload, err := json.Marshal(events)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(`INSERT INTO schedules (day, location, events, saved_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(day) DO UPDATE SET location=excluded.location, events=excluded.events, saved_at=excluded.saved_at`,
		sched.Day.Format(dayLayout), sched.Day.Location().String(), string(payload), time.Now().UTC(),
	)
	return err
}

// LoadSchedule returns the stored schedule for the calendar day of day.
func (s *Store) LoadSchedule(day time.Time) (*model.Schedule, error) {
	var locName, payload string
	row := s.db.QueryRow(`SELECT location, events FROM schedules WHERE day=?`, day.Format(dayLayout))
	if err := row.Scan(&locName, &payload); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	loc, err := time.LoadLocation(locName)
	if err != nil {
		loc = day.Location()
	}

	var stored []storedEvent
	if err := json.Unmarshal([]byte(payload), &stored); err != nil {
		return nil, fmt.Errorf("decode stored schedule: %w", err)
	}
	events := make([]model.Event, 0, len(stored))
	for _, se := range stored {
		at, err := time.Parse(time.RFC3339Nano, se.At)
		if err != nil {
			return nil, fmt.Errorf("decode stored event %q: %w", se.Name, err)
		}
		events = append(events, model.Event{Name: se.Name, At: at.In(loc)})
	}

	d, err := time.ParseInLocation(dayLayout, day.Format(dayLayout), loc)
	if err != nil {
		return nil, err
	}
	return model.NewSchedule(d, events), nil
}

// PruneSchedules drops stored schedules for days before cutoff.
func (s *Store) PruneSchedules(cutoff time.Time) (int64, error) {
	res, err := s.db.Exec(`DELETE FROM schedules WHERE day < ?`, cutoff.Format(dayLayout))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// AppendHistory writes an entry to the history log.
func (s *Store) AppendHistory(entry *HistoryEntry) error {
	entry.CreatedAt = time.Now().UTC()
	metadata, err := json.Marshal(entry.Metadata)
	if err != nil {
		return err
	}
	res, err := s.db.Exec(`INSERT INTO history (event, metadata, created_at) VALUES (?, ?, ?)`,
		entry.Event, string(metadata), entry.CreatedAt,
	)
	if err != nil {
		return err
	}
	if id, err := res.LastInsertId(); err == nil {
		entry.ID = fmt.Sprintf("%d", id)
	}
	return nil
}

// ListHistory returns the newest history entries first.
func (s *Store) ListHistory(limit int) ([]HistoryEntry, error) {
	query := `SELECT id, event, metadata, created_at FROM history ORDER BY id DESC`
	if limit > 0 {
		query = fmt.Sprintf("%s LIMIT %d", query, limit)
	}
	rows, err := s.db.Query(query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []HistoryEntry
	for rows.Next() {
		var (
			e        HistoryEntry
			id       int64
			metadata sql.NullString
		)
		if err := rows.Scan(&id, &e.Event, &metadata, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.ID = fmt.Sprintf("%d", id)
		if metadata.Valid {
			_ = json.Unmarshal([]byte(metadata.String), &e.Metadata)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
