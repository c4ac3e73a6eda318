// Package store persists mission results in a size-bounded local SQLite
// database keyed by task id.
package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/wangyiting19871016-commits/fudaiai-sub001/internal/model"
)

// ErrNotFound is returned when no result exists for a task id.
var ErrNotFound = errors.New("result not found")

const schemaSQL = `
CREATE TABLE IF NOT EXISTS results (
	task_id    TEXT PRIMARY KEY,
	mission_id TEXT NOT NULL,
	created_ms INTEGER NOT NULL,
	doc        TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_results_created ON results(created_ms);
`

// Store is the keyed result store. All access is single read-modify-write
// statements; missions are single-flow so no writer coordination is needed.
type Store struct {
	db       *sql.DB
	capacity int
	logger   *log.Logger
}

// Open opens (creating if necessary) the store at path. capacity bounds the
// number of retained results; zero or negative means a default of 200.
func Open(path string, capacity int, logger *log.Logger) (*Store, error) {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	if capacity <= 0 {
		capacity = 200
	}
	if dir := filepath.Dir(path); dir != "" && dir != "." && path != ":memory:" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create store directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open result store: %w", err)
	}
	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("create result schema: %w", err)
	}
	return &Store{db: db, capacity: capacity, logger: logger}, nil
}

func (s *Store) Close() error { return s.db.Close() }

// Put stores a result under its task id. At capacity the stored collection
// is halved, retaining the most recently created entries, and the write is
// retried once; a write that still fails is dropped and logged, never
// escalated. A failed persistence write must not void a finished mission.
func (s *Store) Put(res model.MissionResult) error {
	doc, err := json.Marshal(res)
	if err != nil {
		return fmt.Errorf("serialize result %s: %w", res.TaskID, err)
	}

	n, err := s.count()
	if err != nil {
		return fmt.Errorf("count results: %w", err)
	}
	if n >= s.capacity {
		if err := s.compact(); err != nil {
			s.logger.Printf("[store] compaction failed, dropping write %s: %v", res.TaskID, err)
			return nil
		}
	}

	if err := s.insert(res, doc); err != nil {
		// One retry after an emergency compaction, then drop.
		if cerr := s.compact(); cerr != nil {
			s.logger.Printf("[store] dropping write %s: %v (compaction: %v)", res.TaskID, err, cerr)
			return nil
		}
		if err := s.insert(res, doc); err != nil {
			s.logger.Printf("[store] dropping write %s after compaction: %v", res.TaskID, err)
			return nil
		}
	}
	return nil
}

func (s *Store) insert(res model.MissionResult, doc []byte) error {
	_, err := s.db.Exec(
		"INSERT OR REPLACE INTO results (task_id, mission_id, created_ms, doc) VALUES (?, ?, ?, ?)",
		res.TaskID, res.Metadata.MissionID, res.Metadata.TimestampMs, string(doc),
	)
	return err
}

func (s *Store) count() (int, error) {
	var n int
	err := s.db.QueryRow("SELECT COUNT(*) FROM results").Scan(&n)
	return n, err
}

// compact halves the stored collection so that, after the pending insert,
// the retained count is floor((capacity+1)/2). Newest entries survive.
func (s *Store) compact() error {
	keep := (s.capacity+1)/2 - 1
	if keep < 0 {
		keep = 0
	}
	_, err := s.db.Exec(
		"DELETE FROM results WHERE task_id NOT IN (SELECT task_id FROM results ORDER BY created_ms DESC LIMIT ?)",
		keep,
	)
	if err != nil {
		return fmt.Errorf("compact results: %w", err)
	}
	s.logger.Printf("[store] capacity reached, compacted to %d newest entries", keep)
	return nil
}

// Get loads the result stored under taskID.
func (s *Store) Get(taskID string) (model.MissionResult, error) {
	var doc string
	err := s.db.QueryRow("SELECT doc FROM results WHERE task_id = ?", taskID).Scan(&doc)
	if err == sql.ErrNoRows {
		return model.MissionResult{}, fmt.Errorf("%w: %s", ErrNotFound, taskID)
	}
	if err != nil {
		return model.MissionResult{}, fmt.Errorf("load result %s: %w", taskID, err)
	}

	var res model.MissionResult
	if err := json.Unmarshal([]byte(doc), &res); err != nil {
		return model.MissionResult{}, fmt.Errorf("corrupt result %s: %w", taskID, err)
	}
	return res, nil
}

// List returns all stored task ids, newest first.
func (s *Store) List() ([]string, error) {
	rows, err := s.db.Query("SELECT task_id FROM results ORDER BY created_ms DESC")
	if err != nil {
		return nil, fmt.Errorf("list results: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan result id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// Sweep removes entries older than the retention window and entries whose
// stored document no longer deserializes. It returns the number removed.
// The caller owns the schedule; the store never sweeps on its own.
func (s *Store) Sweep(retention time.Duration) (int, error) {
	cutoff := time.Now().Add(-retention).UnixMilli()

	rows, err := s.db.Query("SELECT task_id, created_ms, doc FROM results")
	if err != nil {
		return 0, fmt.Errorf("sweep query: %w", err)
	}

	var doomed []string
	for rows.Next() {
		var (
			id        string
			createdMs int64
			doc       string
		)
		if err := rows.Scan(&id, &createdMs, &doc); err != nil {
			rows.Close()
			return 0, fmt.Errorf("sweep scan: %w", err)
		}
		var res model.MissionResult
		if createdMs < cutoff || json.Unmarshal([]byte(doc), &res) != nil {
			doomed = append(doomed, id)
		}
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return 0, fmt.Errorf("sweep iterate: %w", err)
	}
	rows.Close()

	for _, id := range doomed {
		if _, err := s.db.Exec("DELETE FROM results WHERE task_id = ?", id); err != nil {
			return 0, fmt.Errorf("sweep delete %s: %w", id, err)
		}
	}
	if len(doomed) > 0 {
		s.logger.Printf("[store] sweep removed %d entr(ies)", len(doomed))
	}
	return len(doomed), nil
}
