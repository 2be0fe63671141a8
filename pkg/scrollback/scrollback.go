// Package scrollback keeps a transcript of the session chat in SQLite.
package scrollback

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/crystal-mush/voxelshare/pkg/events"
	_ "modernc.org/sqlite"
)

const schema = `CREATE TABLE IF NOT EXISTS chat_log (
	id     INTEGER PRIMARY KEY AUTOINCREMENT,
	source TEXT NOT NULL,
	text   TEXT NOT NULL,
	at     INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS chat_log_at ON chat_log(at);`

// Line is one stored chat line.
type Line struct {
	ID     int64
	Source string
	Text   string
	At     time.Time
}

// Writer is a bus subscriber that stores chat events.
type Writer struct {
	db     *sql.DB
	path   string
	mu     sync.Mutex
	closed bool
}

// Open opens a SQLite transcript, sets WAL mode and busy timeout and
// creates the table.
func Open(path string) (*Writer, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("scrollback: open %s: %w", path, err)
	}
	// WAL lets history readers run while the session writes.
	for _, pragma := range []string{"PRAGMA journal_mode=WAL", "PRAGMA busy_timeout=5000"} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("scrollback: %s: %w", pragma, err)
		}
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("scrollback: create table: %w", err)
	}
	return &Writer{db: db, path: path}, nil
}

// Path returns the filesystem path of the transcript.
func (w *Writer) Path() string { return w.path }

// Receive implements events.Subscriber. Only EvChat events are stored.
func (w *Writer) Receive(ev events.Event) {
	if ev.Type != events.EvChat || ev.Text == "" {
		return
	}
	at := ev.Time
	if at.IsZero() {
		at = time.Now()
	}
	if err := w.Insert(context.Background(), ev.Source, ev.Text, at); err != nil {
		log.Printf("scrollback: insert error: %v", err)
	}
}

// Closed implements events.Subscriber.
func (w *Writer) Closed() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.closed
}

// Close stops accepting events and closes the database.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil
	}
	w.closed = true
	return w.db.Close()
}

// Insert stores one line.
func (w *Writer) Insert(ctx context.Context, source, text string, at time.Time) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return fmt.Errorf("scrollback: closed")
	}
	_, err := w.db.ExecContext(ctx,
		"INSERT INTO chat_log (source, text, at) VALUES (?, ?, ?)",
		source, text, at.UnixNano())
	return err
}

// Recent returns up to limit of the newest lines, oldest first.
func (w *Writer) Recent(ctx context.Context, limit int) ([]Line, error) {
	if limit <= 0 {
		return nil, nil
	}
	rows, err := w.db.QueryContext(ctx,
		"SELECT id, source, text, at FROM chat_log ORDER BY id DESC LIMIT ?", limit)
	if err != nil {
		return nil, fmt.Errorf("scrollback: query: %w", err)
	}
	defer rows.Close()

	var lines []Line
	for rows.Next() {
		var l Line
		var at int64
		if err := rows.Scan(&l.ID, &l.Source, &l.Text, &at); err != nil {
			return nil, fmt.Errorf("scrollback: scan: %w", err)
		}
		l.At = time.Unix(0, at)
		lines = append(lines, l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("scrollback: query: %w", err)
	}
	for i, j := 0, len(lines)-1; i < j; i, j = i+1, j-1 {
		lines[i], lines[j] = lines[j], lines[i]
	}
	return lines, nil
}

// Purge deletes lines older than retention and returns how many went.
func (w *Writer) Purge(ctx context.Context, retention time.Duration) (int64, error) {
	cutoff := time.Now().Add(-retention).UnixNano()
	res, err := w.db.ExecContext(ctx, "DELETE FROM chat_log WHERE at < ?", cutoff)
	if err != nil {
		return 0, fmt.Errorf("scrollback: purge: %w", err)
	}
	return res.RowsAffected()
}
