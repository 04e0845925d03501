// Package store persists capability verdicts and tiering history in
// SQLite, keyed by the content hash of the bytecode.
package store

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/chazu/tierup/pkg/dfg"
	"github.com/tliron/commonlog"
	_ "modernc.org/sqlite"
)

var log = commonlog.GetLogger("tierup.store")

// ErrNotFound indicates the requested entry doesn't exist.
var ErrNotFound = errors.New("store: not found")

const schema = `
CREATE TABLE IF NOT EXISTS verdicts (
	key                  TEXT PRIMARY KEY,
	compile              INTEGER NOT NULL,
	inline_for_call      INTEGER NOT NULL,
	inline_for_construct INTEGER NOT NULL,
	updated_at           INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS tiering_history (
	id        INTEGER PRIMARY KEY AUTOINCREMENT,
	hash      TEXT NOT NULL,
	name      TEXT NOT NULL,
	event     TEXT NOT NULL,
	retries   INTEGER NOT NULL,
	detail    TEXT NOT NULL,
	at        INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS tiering_history_hash ON tiering_history (hash);
`

// Store is a SQLite-backed verdict cache.
type Store struct {
	db   *sql.DB
	path string
	mu   sync.Mutex
}

// Open opens or creates the database at path. The special path
// ":memory:" gives a private in-memory database.
func Open(path string) (*Store, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("store: creating directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("store: opening database: %w", err)
	}
	// One connection keeps ":memory:" databases shared.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: setting busy timeout: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: creating tables: %w", err)
	}
	log.Debugf("opened verdict cache %s", path)
	return &Store{db: db, path: path}, nil
}

// Path returns the database location.
func (s *Store) Path() string { return s.path }

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// VerdictKey combines a bytecode hash with the options that shaped the
// verdict; the same code may be judged differently under other limits.
func VerdictKey(hash string, opts dfg.Options) string {
	return fmt.Sprintf("%s/%t%t%t/%d/%d/%d", hash,
		opts.Enabled, opts.SupportsFloatingPoint, opts.DebugFail,
		opts.MaximumOptimizationCandidateInstructionCount,
		opts.MaximumFunctionForCallInlineCandidateInstructionCount,
		opts.MaximumFunctionForConstructInlineCandidateInstructionCount)
}

// PutVerdict stores v under key, replacing any previous entry.
func (s *Store) PutVerdict(key string, v dfg.Verdict) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(
		`INSERT OR REPLACE INTO verdicts (key, compile, inline_for_call, inline_for_construct, updated_at)
		 VALUES (?, ?, ?, ?, ?)`,
		key, int(v.Compile), v.InlineForCall, v.InlineForConstruct, time.Now().Unix(),
	)
	if err != nil {
		return fmt.Errorf("store: saving verdict: %w", err)
	}
	return nil
}

// Verdict returns the verdict stored under key, or ErrNotFound.
func (s *Store) Verdict(key string) (dfg.Verdict, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var (
		compile            int
		inlineForCall      bool
		inlineForConstruct bool
	)
	err := s.db.QueryRow(
		"SELECT compile, inline_for_call, inline_for_construct FROM verdicts WHERE key = ?", key,
	).Scan(&compile, &inlineForCall, &inlineForConstruct)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return dfg.Verdict{}, ErrNotFound
		}
		return dfg.Verdict{}, fmt.Errorf("store: querying verdict: %w", err)
	}
	return dfg.Verdict{
		Compile:            dfg.CapabilityLevel(compile),
		InlineForCall:      inlineForCall,
		InlineForConstruct: inlineForConstruct,
	}, nil
}

// HistoryEvent is one tiering transition of a code block.
type HistoryEvent struct {
	Hash    string
	Name    string
	Event   string
	Retries int
	Detail  string
	At      time.Time
}

// RecordTiering appends e to the history. A zero At means now.
func (s *Store) RecordTiering(e HistoryEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if e.At.IsZero() {
		e.At = time.Now()
	}
	_, err := s.db.Exec(
		"INSERT INTO tiering_history (hash, name, event, retries, detail, at) VALUES (?, ?, ?, ?, ?, ?)",
		e.Hash, e.Name, e.Event, e.Retries, e.Detail, e.At.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("store: recording tiering event: %w", err)
	}
	return nil
}

// History returns the events recorded for hash, oldest first.
func (s *Store) History(hash string) ([]HistoryEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.Query(
		"SELECT hash, name, event, retries, detail, at FROM tiering_history WHERE hash = ? ORDER BY id", hash,
	)
	if err != nil {
		return nil, fmt.Errorf("store: querying history: %w", err)
	}
	defer rows.Close()

	var events []HistoryEvent
	for rows.Next() {
		var (
			e  HistoryEvent
			at int64
		)
		if err := rows.Scan(&e.Hash, &e.Name, &e.Event, &e.Retries, &e.Detail, &at); err != nil {
			return nil, fmt.Errorf("store: scanning history: %w", err)
		}
		e.At = time.Unix(0, at)
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: reading history: %w", err)
	}
	return events, nil
}

// ReoptimizationRetries returns the largest retry count recorded for
// hash, so a fresh process can resume from earlier tiering experience.
func (s *Store) ReoptimizationRetries(hash string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var retries sql.NullInt64
	err := s.db.QueryRow("SELECT MAX(retries) FROM tiering_history WHERE hash = ?", hash).Scan(&retries)
	if err != nil {
		return 0, fmt.Errorf("store: querying retries: %w", err)
	}
	if !retries.Valid {
		return 0, ErrNotFound
	}
	return int(retries.Int64), nil
}
