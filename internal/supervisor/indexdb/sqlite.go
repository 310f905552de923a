// Package indexdb is an optional sqlite read-model of runner lifecycle
// events (admissions, exits, restarts, queue promotions). It observes the
// supervisor and never feeds back into admission decisions.
package indexdb

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"
)

type SQLiteIndex struct {
	db *sql.DB

	ch     chan row
	stop   chan struct{}
	wg     sync.WaitGroup
	once   sync.Once
	closed atomic.Bool
}

type row struct {
	At     string
	HubSID string
	Event  string
}

func Open(path string) (*SQLiteIndex, error) {
	if path == "" {
		return nil, fmt.Errorf("empty db path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := initPragmas(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	s := &SQLiteIndex{
		db: db,
		// Lifecycle events are rare; a small buffer absorbs restart storms.
		ch:   make(chan row, 1024),
		stop: make(chan struct{}),
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.loop()
	}()
	return s, nil
}

func initPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA busy_timeout=5000;",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return err
		}
	}
	return nil
}

func initSchema(db *sql.DB) error {
	_, err := db.Exec(`CREATE TABLE IF NOT EXISTS runner_events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		at TEXT NOT NULL,
		hub_sid TEXT NOT NULL,
		event TEXT NOT NULL
	);`)
	return err
}

// RecordEvent enqueues without blocking; events beyond the buffer are
// dropped rather than stalling the supervisor.
func (s *SQLiteIndex) RecordEvent(hubSID, event string) {
	if s == nil || s.closed.Load() {
		return
	}
	select {
	case s.ch <- row{At: time.Now().UTC().Format(time.RFC3339Nano), HubSID: hubSID, Event: event}:
	default:
	}
}

func (s *SQLiteIndex) loop() {
	insert := func(r row) {
		_, _ = s.db.Exec(`INSERT INTO runner_events (at, hub_sid, event) VALUES (?, ?, ?)`,
			r.At, r.HubSID, r.Event)
	}
	for {
		select {
		case r := <-s.ch:
			insert(r)
		case <-s.stop:
			for {
				select {
				case r := <-s.ch:
					insert(r)
				default:
					return
				}
			}
		}
	}
}

// Events returns the most recent entries, newest first. Intended for
// diagnostics and tests.
func (s *SQLiteIndex) Events(limit int) ([]EventRow, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.Query(`SELECT at, hub_sid, event FROM runner_events ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []EventRow
	for rows.Next() {
		var e EventRow
		if err := rows.Scan(&e.At, &e.HubSID, &e.Event); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

type EventRow struct {
	At     string
	HubSID string
	Event  string
}

func (s *SQLiteIndex) Close() error {
	s.once.Do(func() {
		s.closed.Store(true)
		close(s.stop)
		s.wg.Wait()
	})
	return s.db.Close()
}
