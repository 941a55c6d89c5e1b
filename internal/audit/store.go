// Package audit keeps a SQLite log of every command sent to the backend.
package audit

import (
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/trafficwatch/trafficwatch/internal/protocol"
)

const schema = `
CREATE TABLE IF NOT EXISTS command_log (
	id TEXT PRIMARY KEY,
	timestamp TEXT NOT NULL,
	command TEXT NOT NULL,
	payload TEXT,
	status TEXT NOT NULL,
	error TEXT
);

CREATE INDEX IF NOT EXISTS idx_command_status ON command_log(status);
CREATE INDEX IF NOT EXISTS idx_command_timestamp ON command_log(timestamp);
`

type write struct {
	entry   Entry
	flushed chan struct{} // set for flush markers
}

// Store manages the SQLite command log.
type Store struct {
	db     *sql.DB
	writes chan write
	done   chan struct{}
	logger *slog.Logger

	Hub *Hub
}

// NewStore opens (or creates) the SQLite command log database.
func NewStore(dbPath string, logger *slog.Logger) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening audit db: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		if cerr := db.Close(); cerr != nil {
			return nil, fmt.Errorf("setting WAL mode: %w (also: close: %v)", err, cerr)
		}
		return nil, fmt.Errorf("setting WAL mode: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		if cerr := db.Close(); cerr != nil {
			return nil, fmt.Errorf("creating schema: %w (also: close: %v)", err, cerr)
		}
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	s := &Store{
		db:     db,
		writes: make(chan write, 256),
		done:   make(chan struct{}),
		logger: logger,
		Hub:    newHub(),
	}

	go s.writeLoop()
	return s, nil
}

// Log enqueues an entry for async writing.
func (s *Store) Log(entry Entry) {
	select {
	case s.writes <- write{entry: entry}:
	default:
		s.logger.Warn("audit write buffer full, dropping entry", "id", entry.ID, "command", entry.Command)
	}
}

// RecordCommand logs cmd with the outcome of sending it.
func (s *Store) RecordCommand(cmd protocol.Command, sendErr error) {
	e := Entry{
		ID:        uuid.NewString(),
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
		Command:   cmd.Name,
		Payload:   cmd.PayloadJSON(),
		Status:    StatusSent,
	}
	if sendErr != nil {
		e.Status = StatusFailed
		e.Error = sendErr.Error()
	}
	s.Log(e)
}

// Flush blocks until every entry enqueued before the call is written.
func (s *Store) Flush() {
	ch := make(chan struct{})
	s.writes <- write{flushed: ch}
	<-ch
}

// Query returns command log entries matching the given filters, newest first.
func (s *Store) Query(opts QueryOpts) ([]Entry, error) {
	query := "SELECT id, timestamp, command, payload, status, error FROM command_log WHERE 1=1"
	var args []any

	if opts.Command != "" {
		query += " AND command = ?"
		args = append(args, opts.Command)
	}
	if opts.Status != "" {
		query += " AND status = ?"
		args = append(args, opts.Status)
	}
	if opts.Since != "" {
		query += " AND timestamp >= ?"
		args = append(args, opts.Since)
	}

	query += " ORDER BY timestamp DESC"

	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", opts.Limit)
	} else {
		query += " LIMIT 50"
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying command log: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var entries []Entry
	for rows.Next() {
		var e Entry
		var payload, errText sql.NullString
		if err := rows.Scan(&e.ID, &e.Timestamp, &e.Command, &payload, &e.Status, &errText); err != nil {
			return nil, fmt.Errorf("scanning row: %w", err)
		}
		e.Payload = payload.String
		e.Error = errText.String
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Close flushes pending writes and closes the database.
func (s *Store) Close() error {
	close(s.writes)
	<-s.done
	return s.db.Close()
}

func (s *Store) writeLoop() {
	defer close(s.done)
	for w := range s.writes {
		if w.flushed != nil {
			close(w.flushed)
			continue
		}
		entry := w.entry
		_, err := s.db.Exec(
			`INSERT INTO command_log (id, timestamp, command, payload, status, error) VALUES (?, ?, ?, ?, ?, ?)`,
			entry.ID, entry.Timestamp, entry.Command, nullable(entry.Payload), entry.Status, nullable(entry.Error),
		)
		if err != nil {
			s.logger.Error("audit write failed", "id", entry.ID, "error", err)
			continue
		}
		s.Hub.Broadcast(entry)
	}
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
