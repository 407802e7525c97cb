package database

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
)

// History persists playback events to an embedded sqlite database. It backs
// the recent-channels view and remembers which engine kind last worked for a
// channel.
type History struct {
	db *sql.DB
}

// Entry is one recorded playback event.
type Entry struct {
	Channel  string    `json:"channel"`
	URL      string    `json:"url"`
	Engine   string    `json:"engine"`
	PlayedAt time.Time `json:"playedAt"`
}

// Open opens (or creates) the history database at path.
func Open(path string) (*History, error) {
	db, err := sql.Open("sqlite3", "file:"+path)
	if err != nil {
		return nil, fmt.Errorf("opening history db: %w", err)
	}

	// Single writer; sqlite does not love concurrent write connections.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS playback_history (
			id        INTEGER PRIMARY KEY AUTOINCREMENT,
			channel   TEXT NOT NULL,
			url       TEXT NOT NULL,
			engine    TEXT NOT NULL,
			played_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		);
		CREATE INDEX IF NOT EXISTS idx_history_channel ON playback_history(channel);
		CREATE INDEX IF NOT EXISTS idx_history_played_at ON playback_history(played_at);
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating history schema: %w", err)
	}

	return &History{db: db}, nil
}

// Record stores one playback event. Satisfies the controller's Recorder.
func (h *History) Record(channel, url, engineKind string) error {
	_, err := h.db.Exec(
		`INSERT INTO playback_history (channel, url, engine, played_at) VALUES (?, ?, ?, ?)`,
		channel, url, engineKind, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("recording playback: %w", err)
	}
	return nil
}

// LastEngineFor returns the engine kind that most recently played the named
// channel. The second return is false when the channel was never played.
func (h *History) LastEngineFor(channel string) (string, bool, error) {
	var engine string
	err := h.db.QueryRow(
		`SELECT engine FROM playback_history WHERE channel = ? ORDER BY id DESC LIMIT 1`,
		channel,
	).Scan(&engine)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("querying last engine: %w", err)
	}
	return engine, true, nil
}

// Recent returns the latest playback events, newest first.
func (h *History) Recent(limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 20
	}

	rows, err := h.db.Query(
		`SELECT channel, url, engine, played_at FROM playback_history ORDER BY id DESC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("querying history: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.Channel, &e.URL, &e.Engine, &e.PlayedAt); err != nil {
			return nil, fmt.Errorf("scanning history row: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Close closes the underlying database.
func (h *History) Close() error {
	return h.db.Close()
}
