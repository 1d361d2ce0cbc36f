package cache

import (
	"database/sql"
	"encoding/json"
	"time"

	turboerrors "github.com/Studio-Intrinsic/turbo-gepa/pkg/errors"
	_ "github.com/mattn/go-sqlite3"
)

// State is a resumable snapshot of one island's orchestrator progress
// (SPEC_FULL item 3). Candidates are recorded by fingerprint only, for
// audit: the Orchestrator's Resume restores only Round and Evaluations,
// and its checkpoint leaves QDFingerprints empty.
type State struct {
	Round               int
	Evaluations         int
	ParetoFingerprints  []string
	QDFingerprints      []string
}

// StateStore persists resumable orchestrator state. Grounded on
// dspy-go/pkg/cache/sqlite_cache.go's connection/pragma setup and on
// original_source/cache.py's save_state/load_state (round, evaluations,
// archive snapshots), moved from one-JSON-file-with-rename to a SQLite
// row so the write is atomic via a transaction rather than a second
// rename dance.
type StateStore struct {
	db *sql.DB
}

// NewStateStore opens (creating if needed) a SQLite database at path
// and ensures the state table exists.
func NewStateStore(path string) (*StateStore, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, turboerrors.Wrap(err, turboerrors.InvalidInput, "state store: open sqlite db")
	}
	db.SetMaxOpenConns(1) // one island process, one writer; avoids SQLITE_BUSY on WAL checkpoints
	db.SetConnMaxLifetime(time.Hour)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, turboerrors.Wrap(err, turboerrors.InvalidInput, "state store: enable WAL")
	}
	if _, err := db.Exec("PRAGMA synchronous=NORMAL"); err != nil {
		db.Close()
		return nil, turboerrors.Wrap(err, turboerrors.InvalidInput, "state store: set synchronous")
	}

	const schema = `
CREATE TABLE IF NOT EXISTS orchestrator_state (
	island_id    INTEGER PRIMARY KEY,
	round        INTEGER NOT NULL,
	evaluations  INTEGER NOT NULL,
	pareto_json  TEXT NOT NULL,
	qd_json      TEXT NOT NULL,
	updated_at   INTEGER NOT NULL
);`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, turboerrors.Wrap(err, turboerrors.InvalidInput, "state store: create schema")
	}

	return &StateStore{db: db}, nil
}

// Save atomically upserts island's state row.
func (s *StateStore) Save(islandID int, state State) error {
	pareto, err := json.Marshal(state.ParetoFingerprints)
	if err != nil {
		return turboerrors.Wrap(err, turboerrors.InvalidInput, "state store: marshal pareto")
	}
	qd, err := json.Marshal(state.QDFingerprints)
	if err != nil {
		return turboerrors.Wrap(err, turboerrors.InvalidInput, "state store: marshal qd")
	}

	tx, err := s.db.Begin()
	if err != nil {
		return turboerrors.Wrap(err, turboerrors.InvalidInput, "state store: begin tx")
	}
	_, err = tx.Exec(`
INSERT INTO orchestrator_state (island_id, round, evaluations, pareto_json, qd_json, updated_at)
VALUES (?, ?, ?, ?, ?, ?)
ON CONFLICT(island_id) DO UPDATE SET
	round = excluded.round,
	evaluations = excluded.evaluations,
	pareto_json = excluded.pareto_json,
	qd_json = excluded.qd_json,
	updated_at = excluded.updated_at`,
		islandID, state.Round, state.Evaluations, string(pareto), string(qd), time.Now().Unix())
	if err != nil {
		tx.Rollback() //nolint:errcheck
		return turboerrors.Wrap(err, turboerrors.InvalidInput, "state store: upsert")
	}
	if err := tx.Commit(); err != nil {
		return turboerrors.Wrap(err, turboerrors.InvalidInput, "state store: commit")
	}
	return nil
}

// Load returns island's saved state, or ok=false if none exists.
func (s *StateStore) Load(islandID int) (State, bool, error) {
	row := s.db.QueryRow(`SELECT round, evaluations, pareto_json, qd_json FROM orchestrator_state WHERE island_id = ?`, islandID)

	var state State
	var paretoJSON, qdJSON string
	if err := row.Scan(&state.Round, &state.Evaluations, &paretoJSON, &qdJSON); err != nil {
		if err == sql.ErrNoRows {
			return State{}, false, nil
		}
		return State{}, false, turboerrors.Wrap(err, turboerrors.InvalidInput, "state store: scan row")
	}
	if err := json.Unmarshal([]byte(paretoJSON), &state.ParetoFingerprints); err != nil {
		return State{}, false, turboerrors.Wrap(err, turboerrors.CacheCorruption, "state store: decode pareto")
	}
	if err := json.Unmarshal([]byte(qdJSON), &state.QDFingerprints); err != nil {
		return State{}, false, turboerrors.Wrap(err, turboerrors.CacheCorruption, "state store: decode qd")
	}
	return state, true, nil
}

func (s *StateStore) Close() error { return s.db.Close() }
