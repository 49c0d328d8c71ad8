package tracker

import (
	"database/sql"
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	run_id      TEXT PRIMARY KEY,
	name        TEXT NOT NULL,
	config_json TEXT,
	created_at  TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS records (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id      TEXT NOT NULL,
	step        INTEGER NOT NULL,
	key         TEXT NOT NULL,
	value       REAL NOT NULL,
	created_at  TEXT NOT NULL,
	FOREIGN KEY (run_id) REFERENCES runs(run_id)
);

CREATE INDEX IF NOT EXISTS records_run_key ON records(run_id, key);
`

// Point is one logged value.
type Point struct {
	Step  int
	Value float64
}

// SQLiteTracker stores every record of a run in a SQLite database. Each
// tracker opens a new run identified by a UUID.
type SQLiteTracker struct {
	db    *sql.DB
	runID string
}

// NewSQLiteTracker opens (or creates) the database at path, migrates it and
// registers a run. config, if not nil, is stored as JSON with the run.
func NewSQLiteTracker(path, name string, config any) (*SQLiteTracker, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errors.Wrap(err, "open db")
	}
	// One connection: ":memory:" databases are per connection.
	db.SetMaxOpenConns(1)
	if !strings.Contains(path, ":memory:") {
		if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
			db.Close()
			return nil, errors.Wrap(err, "pragma")
		}
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "pragma fk")
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "migrate")
	}

	var cfgJSON sql.NullString
	if config != nil {
		b, err := json.Marshal(config)
		if err != nil {
			db.Close()
			return nil, errors.Wrap(err, "marshal run config")
		}
		cfgJSON = sql.NullString{String: string(b), Valid: true}
	}
	id := uuid.New().String()
	if _, err := db.Exec(
		`INSERT INTO runs (run_id, name, config_json, created_at) VALUES (?, ?, ?, ?)`,
		id, name, cfgJSON, time.Now().UTC().Format(time.RFC3339Nano),
	); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "insert run")
	}
	return &SQLiteTracker{db: db, runID: id}, nil
}

func (s *SQLiteTracker) RunID() string { return s.runID }

// Log inserts all values of rec in one transaction.
func (s *SQLiteTracker) Log(step int, rec Record) error {
	tx, err := s.db.Begin()
	if err != nil {
		return errors.Wrap(err, "begin tx")
	}
	defer tx.Rollback()

	now := time.Now().UTC().Format(time.RFC3339Nano)
	for _, k := range rec.Keys() {
		if _, err := tx.Exec(
			`INSERT INTO records (run_id, step, key, value, created_at) VALUES (?, ?, ?, ?, ?)`,
			s.runID, step, k, rec[k], now,
		); err != nil {
			return errors.Wrapf(err, "insert %s", k)
		}
	}
	return errors.Wrap(tx.Commit(), "commit")
}

// History returns the values logged under key for this run, in log order.
func (s *SQLiteTracker) History(key string) ([]Point, error) {
	rows, err := s.db.Query(
		`SELECT step, value FROM records WHERE run_id = ? AND key = ? ORDER BY id`,
		s.runID, key,
	)
	if err != nil {
		return nil, errors.Wrap(err, "query history")
	}
	defer rows.Close()
	var out []Point
	for rows.Next() {
		var p Point
		if err := rows.Scan(&p.Step, &p.Value); err != nil {
			return nil, errors.Wrap(err, "scan history")
		}
		out = append(out, p)
	}
	return out, errors.Wrap(rows.Err(), "iterate history")
}

// Runs lists the names of all runs in the database, oldest first.
func (s *SQLiteTracker) Runs() ([]string, error) {
	rows, err := s.db.Query(`SELECT name FROM runs ORDER BY created_at`)
	if err != nil {
		return nil, errors.Wrap(err, "query runs")
	}
	defer rows.Close()
	var names []string
	for rows.Next() {
		var n string
		if err := rows.Scan(&n); err != nil {
			return nil, errors.Wrap(err, "scan run")
		}
		names = append(names, n)
	}
	return names, errors.Wrap(rows.Err(), "iterate runs")
}

func (s *SQLiteTracker) Close() error {
	return s.db.Close()
}
