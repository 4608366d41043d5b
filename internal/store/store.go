// Package store persists ranking runs (reduced vectors and scored pairs) in
// SQLite.
package store

import (
	"context"
	"database/sql"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"walnut-pair/internal/reduce"
	"walnut-pair/internal/similarity"
)

// ErrNotFound is returned when a run or walnut has no stored rows.
var ErrNotFound = errors.New("not found")

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	seq        INTEGER PRIMARY KEY AUTOINCREMENT,
	id         TEXT NOT NULL UNIQUE,
	created_at TIMESTAMP NOT NULL,
	walnuts    INTEGER NOT NULL,
	pairs      INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS tensors (
	run_id    TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
	walnut_id TEXT NOT NULL,
	dim       INTEGER NOT NULL,
	vec       BLOB NOT NULL,
	PRIMARY KEY (run_id, walnut_id)
);
CREATE TABLE IF NOT EXISTS pairs (
	run_id TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
	pos    INTEGER NOT NULL,
	a      TEXT NOT NULL,
	b      TEXT NOT NULL,
	score  REAL NOT NULL,
	metric TEXT NOT NULL,
	PRIMARY KEY (run_id, pos)
);
CREATE INDEX IF NOT EXISTS tensors_walnut ON tensors(walnut_id);
`

// Run summarizes one stored ranking run.
type Run struct {
	Seq       int64     `db:"seq"`
	ID        string    `db:"id"`
	CreatedAt time.Time `db:"created_at"`
	Walnuts   int       `db:"walnuts"`
	Pairs     int       `db:"pairs"`
}

type tensorRow struct {
	RunID    string `db:"run_id"`
	WalnutID string `db:"walnut_id"`
	Dim      int    `db:"dim"`
	Vec      []byte `db:"vec"`
}

type pairRow struct {
	RunID  string  `db:"run_id"`
	Pos    int     `db:"pos"`
	A      string  `db:"a"`
	B      string  `db:"b"`
	Score  float64 `db:"score"`
	Metric string  `db:"metric"`
}

// Store is a SQLite-backed run store.
type Store struct {
	db *sqlx.DB
}

// Open opens or creates the database at path. Use ":memory:" for a
// throwaway store.
func Open(ctx context.Context, path string) (*Store, error) {
	db, err := sqlx.ConnectContext(ctx, "sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}
	// A single connection keeps ":memory:" databases alive and serializes writers.
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// NewRunID returns a fresh run identifier.
func NewRunID() uuid.UUID {
	return uuid.New()
}

// Save stores one run's reduced vectors and ranked pairs in a single
// transaction. Records are stored in the given order.
func (s *Store) Save(ctx context.Context, runID uuid.UUID, reduced []reduce.Reduced, records []similarity.Record) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	id := runID.String()
	_, err = tx.ExecContext(ctx,
		`INSERT INTO runs (id, created_at, walnuts, pairs) VALUES (?, ?, ?, ?)`,
		id, time.Now().UTC(), len(reduced), len(records))
	if err != nil {
		return fmt.Errorf("failed to insert run: %w", err)
	}

	for _, r := range reduced {
		row := tensorRow{RunID: id, WalnutID: r.ID, Dim: len(r.Values), Vec: encodeVector(r.Values)}
		if _, err := tx.NamedExecContext(ctx,
			`INSERT INTO tensors (run_id, walnut_id, dim, vec) VALUES (:run_id, :walnut_id, :dim, :vec)`, row); err != nil {
			return fmt.Errorf("failed to insert tensor %s: %w", r.ID, err)
		}
	}

	for i, rec := range records {
		row := pairRow{RunID: id, Pos: i + 1, A: rec.A, B: rec.B, Score: rec.Score, Metric: rec.Metric.String()}
		if _, err := tx.NamedExecContext(ctx,
			`INSERT INTO pairs (run_id, pos, a, b, score, metric) VALUES (:run_id, :pos, :a, :b, :score, :metric)`, row); err != nil {
			return fmt.Errorf("failed to insert pair %s: %w", rec.Key(), err)
		}
	}

	return tx.Commit()
}

// LoadTensor returns the walnut's reduced vector from the most recent run
// that contains it.
func (s *Store) LoadTensor(ctx context.Context, walnutID string) (reduce.Reduced, error) {
	var row tensorRow
	err := s.db.GetContext(ctx, &row, `
		SELECT t.run_id, t.walnut_id, t.dim, t.vec
		FROM tensors t JOIN runs r ON r.id = t.run_id
		WHERE t.walnut_id = ?
		ORDER BY r.seq DESC
		LIMIT 1`, walnutID)
	if errors.Is(err, sql.ErrNoRows) {
		return reduce.Reduced{}, fmt.Errorf("walnut %s: %w", walnutID, ErrNotFound)
	}
	if err != nil {
		return reduce.Reduced{}, err
	}

	vals, err := decodeVector(row.Vec, row.Dim)
	if err != nil {
		return reduce.Reduced{}, fmt.Errorf("walnut %s: %w", walnutID, err)
	}
	return reduce.Reduced{ID: row.WalnutID, Values: vals}, nil
}

// LoadRecords returns a run's pairs in rank order.
func (s *Store) LoadRecords(ctx context.Context, runID uuid.UUID) ([]similarity.Record, error) {
	var n int
	if err := s.db.GetContext(ctx, &n, `SELECT COUNT(*) FROM runs WHERE id = ?`, runID.String()); err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, fmt.Errorf("run %s: %w", runID, ErrNotFound)
	}

	var rows []pairRow
	if err := s.db.SelectContext(ctx, &rows,
		`SELECT run_id, pos, a, b, score, metric FROM pairs WHERE run_id = ? ORDER BY pos`, runID.String()); err != nil {
		return nil, err
	}

	out := make([]similarity.Record, len(rows))
	for i, r := range rows {
		m, err := similarity.ParseMetric(r.Metric)
		if err != nil {
			return nil, err
		}
		out[i] = similarity.Record{A: r.A, B: r.B, Score: r.Score, Metric: m}
	}
	return out, nil
}

// Runs lists stored runs, newest first.
func (s *Store) Runs(ctx context.Context) ([]Run, error) {
	var runs []Run
	err := s.db.SelectContext(ctx, &runs,
		`SELECT seq, id, created_at, walnuts, pairs FROM runs ORDER BY seq DESC`)
	return runs, err
}

// DeleteRun removes a run and its rows.
func (s *Store) DeleteRun(ctx context.Context, runID uuid.UUID) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM runs WHERE id = ?`, runID.String())
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("run %s: %w", runID, ErrNotFound)
	}
	return nil
}

func encodeVector(v []float64) []byte {
	buf := make([]byte, 8*len(v))
	for i, x := range v {
		binary.LittleEndian.PutUint64(buf[8*i:], math.Float64bits(x))
	}
	return buf
}

func decodeVector(buf []byte, dim int) ([]float64, error) {
	if len(buf) != 8*dim {
		return nil, fmt.Errorf("vector has %d bytes, want %d", len(buf), 8*dim)
	}
	v := make([]float64, dim)
	for i := range v {
		v[i] = math.Float64frombits(binary.LittleEndian.Uint64(buf[8*i:]))
	}
	return v, nil
}
