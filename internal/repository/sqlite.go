package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/gsitechorg/open-belex-debug/internal/domain"
)

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db       *sql.DB
	encoding domain.PayloadEncoding
}

// Option configures a SQLiteStore.
type Option func(*SQLiteStore)

// WithCompression sets the encoding applied to unit payloads on write.
func WithCompression(enc domain.PayloadEncoding) Option {
	return func(s *SQLiteStore) {
		s.encoding = enc
	}
}

// NewSQLiteStore creates a new SQLite store.
func NewSQLiteStore(dsn string, options ...Option) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// For in-memory SQLite, multiple connections create separate databases.
	// Keep a single connection to avoid schema/data disappearing across goroutines.
	if dsn == ":memory:" || strings.Contains(dsn, "mode=memory") {
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
	}

	// Enable foreign keys
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	store := &SQLiteStore{db: db, encoding: domain.PayloadEncodingNone}
	for _, option := range options {
		option(store)
	}
	if _, err := ParseEncoding(string(store.encoding)); err != nil {
		db.Close()
		return nil, err
	}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// migrate runs database migrations.
func (s *SQLiteStore) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS runs (
			run_id TEXT PRIMARY KEY,
			status TEXT NOT NULL,
			started_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			ended_at DATETIME,
			error TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_runs_started ON runs(started_at)`,
		`CREATE TABLE IF NOT EXISTS units (
			run_id TEXT NOT NULL,
			seq INTEGER NOT NULL,
			ts INTEGER NOT NULL,
			tag TEXT NOT NULL,
			encoding TEXT NOT NULL DEFAULT 'none',
			payload BLOB,
			PRIMARY KEY (run_id, seq),
			FOREIGN KEY (run_id) REFERENCES runs(run_id)
		)`,
	}

	for _, m := range migrations {
		if _, err := s.db.Exec(m); err != nil {
			return err
		}
	}

	// Added after the first release; lz4 blocks need the raw size to decode.
	if err := s.ensureColumn("units", "raw_size", `ALTER TABLE units ADD COLUMN raw_size INTEGER NOT NULL DEFAULT 0`); err != nil {
		return err
	}

	return nil
}

func (s *SQLiteStore) ensureColumn(tableName, columnName, ddl string) error {
	rows, err := s.db.Query(fmt.Sprintf("PRAGMA table_info(%s)", tableName))
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var cid int
		var name, ctype string
		var notnull int
		var dfltValue sql.NullString
		var pk int
		if err := rows.Scan(&cid, &name, &ctype, &notnull, &dfltValue, &pk); err != nil {
			return err
		}
		if name == columnName {
			return nil
		}
	}
	if err := rows.Err(); err != nil {
		return err
	}

	_, err = s.db.Exec(ddl)
	return err
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// CreateRun creates a new run.
func (s *SQLiteStore) CreateRun(ctx context.Context, run *domain.Run) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (run_id, status, started_at) VALUES (?, ?, ?)`,
		run.RunID, run.Status, run.StartedAt)
	return err
}

// CompleteRun records the final status of a run.
func (s *SQLiteStore) CompleteRun(ctx context.Context, runID string, status domain.RunStatus, errData []byte) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET status = ?, ended_at = ?, error = ? WHERE run_id = ?`,
		status, time.Now(), nullStringBytes(errData), runID)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("run %s: %w", runID, ErrNotFound)
	}
	return nil
}

// GetRun retrieves a run by ID.
func (s *SQLiteStore) GetRun(ctx context.Context, runID string) (*domain.Run, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT run_id, status, started_at, ended_at, error FROM runs WHERE run_id = ?`,
		runID)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("run %s: %w", runID, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return run, nil
}

// ListRuns returns the most recent runs, newest first.
func (s *SQLiteStore) ListRuns(ctx context.Context, limit int) ([]domain.Run, error) {
	query := `SELECT run_id, status, started_at, ended_at, error FROM runs ORDER BY started_at DESC, rowid DESC`
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	runs := []domain.Run{}
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *run)
	}
	return runs, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (*domain.Run, error) {
	var run domain.Run
	var errData sql.NullString
	var endedAt sql.NullTime
	if err := row.Scan(&run.RunID, &run.Status, &run.StartedAt, &endedAt, &errData); err != nil {
		return nil, err
	}
	if endedAt.Valid {
		run.EndedAt = &endedAt.Time
	}
	if errData.Valid {
		run.Error = json.RawMessage(errData.String)
	}
	return &run, nil
}

// AppendUnit stores one delivered unit, compressing its payload with the
// configured encoding. unit.Encoding is set to the encoding applied.
func (s *SQLiteStore) AppendUnit(ctx context.Context, unit *domain.RecordedUnit) error {
	stored, enc, err := compressPayload(unit.Payload, s.encoding)
	if err != nil {
		return err
	}
	unit.Encoding = enc
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO units (run_id, seq, ts, tag, encoding, payload, raw_size) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		unit.RunID, unit.Seq, unit.Ts, unit.Tag, enc, stored, len(unit.Payload))
	return err
}

// GetUnits retrieves units of a run with seq greater than afterSeq, in
// delivery order. Payloads are returned decompressed.
func (s *SQLiteStore) GetUnits(ctx context.Context, runID string, afterSeq int64, limit int) ([]domain.RecordedUnit, error) {
	query := `SELECT run_id, seq, ts, tag, encoding, payload, raw_size FROM units WHERE run_id = ?`
	args := []interface{}{runID}

	if afterSeq > 0 {
		query += ` AND seq > ?`
		args = append(args, afterSeq)
	}

	query += ` ORDER BY seq ASC`
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	units := []domain.RecordedUnit{}
	for rows.Next() {
		var unit domain.RecordedUnit
		var stored []byte
		var rawSize int
		if err := rows.Scan(&unit.RunID, &unit.Seq, &unit.Ts, &unit.Tag, &unit.Encoding, &stored, &rawSize); err != nil {
			return nil, err
		}
		payload, err := decompressPayload(stored, unit.Encoding, rawSize)
		if err != nil {
			return nil, fmt.Errorf("unit %s/%d: %w", unit.RunID, unit.Seq, err)
		}
		if len(payload) > 0 {
			unit.Payload = json.RawMessage(payload)
		}
		units = append(units, unit)
	}
	return units, rows.Err()
}

func nullStringBytes(b []byte) sql.NullString {
	if len(b) == 0 {
		return sql.NullString{}
	}
	return sql.NullString{String: string(b), Valid: true}
}
