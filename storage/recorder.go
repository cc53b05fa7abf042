package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/sugawarayuuta/sonnet"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

const recorderSchema = `
CREATE TABLE IF NOT EXISTS samples (
	id        INTEGER PRIMARY KEY AUTOINCREMENT,
	name      TEXT    NOT NULL,
	source    TEXT    NOT NULL,
	handle    INTEGER NOT NULL,
	timestamp INTEGER NOT NULL,
	data      BLOB    NOT NULL,
	json      TEXT    NOT NULL
);
CREATE INDEX IF NOT EXISTS samples_name_timestamp ON samples (name, timestamp);
`

// Recorder appends notification samples to a sqlite database.
type Recorder struct {
	db     *sql.DB
	insert *sql.Stmt

	log *zap.Logger
}

// OpenRecorder opens, and creates if needed, the sample database at path.
func OpenRecorder(ctx context.Context, path string, log *zap.Logger) (*Recorder, error) {
	if log == nil {
		log = zap.NewNop()
	}

	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, err
	}

	// sqlite serialises writers anyway
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("Failed to open sample database %s: %w", path, err)
	}

	if _, err := db.ExecContext(ctx, recorderSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("Failed to create sample table: %w", err)
	}

	insert, err := db.PrepareContext(ctx,
		`INSERT INTO samples (name, source, handle, timestamp, data, json) VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		db.Close()
		return nil, err
	}

	log.Info("Recording samples", zap.String("path", path))

	return &Recorder{db: db, insert: insert, log: log}, nil
}

// Record stores s. The json column holds s encoded the way the HTTP
// endpoint serves it.
func (r *Recorder) Record(ctx context.Context, s *Sample) error {
	encoded, err := sonnet.Marshal(s)
	if err != nil {
		return err
	}

	_, err = r.insert.ExecContext(ctx,
		s.Name, s.Source, s.Handle, s.Timestamp.UnixNano(), s.Data, string(encoded))
	if err != nil {
		return fmt.Errorf("Failed to record sample of %s: %w", s.Name, err)
	}

	return nil
}

// Samples returns up to limit of the most recent samples of name, newest
// first.
func (r *Recorder) Samples(ctx context.Context, name string, limit int) ([]Sample, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT json FROM samples WHERE name = ? ORDER BY timestamp DESC, id DESC LIMIT ?`,
		name, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var samples []Sample
	for rows.Next() {
		var encoded string
		if err := rows.Scan(&encoded); err != nil {
			return nil, err
		}

		var s Sample
		if err := sonnet.Unmarshal([]byte(encoded), &s); err != nil {
			return nil, fmt.Errorf("Failed to decode sample of %s: %w", name, err)
		}

		samples = append(samples, s)
	}

	return samples, rows.Err()
}

// Count returns the number of samples recorded for name.
func (r *Recorder) Count(ctx context.Context, name string) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM samples WHERE name = ?`, name).Scan(&count)

	return count, err
}

// Prune deletes samples older than before.
func (r *Recorder) Prune(ctx context.Context, before time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx, `DELETE FROM samples WHERE timestamp < ?`, before.UnixNano())
	if err != nil {
		return 0, err
	}

	return result.RowsAffected()
}

func (r *Recorder) Close() error {
	return multierr.Combine(r.insert.Close(), r.db.Close())
}
