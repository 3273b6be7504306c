// Package sqlite stores utterances in an embedded SQLite database using the
// pure-Go modernc.org/sqlite driver.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/MrWong99/streamasr/internal/sink"
)

const ddlUtterances = `
CREATE TABLE IF NOT EXISTS utterances (
    id          TEXT     PRIMARY KEY,
    stream_id   TEXT     NOT NULL,
    segment     INTEGER  NOT NULL,
    text        TEXT     NOT NULL,
    tokens      TEXT     NOT NULL DEFAULT '[]',
    timestamps  TEXT     NOT NULL DEFAULT '[]',
    start_time  REAL     NOT NULL DEFAULT 0,
    duration    REAL     NOT NULL DEFAULT 0,
    source      TEXT     NOT NULL DEFAULT '',
    created_at  INTEGER  NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_utterances_stream_segment
    ON utterances (stream_id, segment);
`

var pragmas = []string{
	"PRAGMA journal_mode = WAL",
	"PRAGMA synchronous = NORMAL",
	"PRAGMA busy_timeout = 5000",
}

// Store is a SQLite-backed sink. All methods are safe for concurrent use.
type Store struct {
	db   *sql.DB
	path string
}

// Open opens or creates the database at path and migrates it. The parent
// directory is created when missing.
func Open(ctx context.Context, path string) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("sqlite sink: path must not be empty")
	}
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("sqlite sink: create directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("sqlite sink: open: %w", err)
	}
	// One writer at a time; SQLite serialises writes anyway.
	db.SetMaxOpenConns(1)

	for _, p := range pragmas {
		if _, err := db.ExecContext(ctx, p); err != nil {
			db.Close()
			return nil, fmt.Errorf("sqlite sink: %q: %w", p, err)
		}
	}
	if _, err := db.ExecContext(ctx, ddlUtterances); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite sink: migrate: %w", err)
	}
	return &Store{db: db, path: path}, nil
}

// Path returns the database file.
func (s *Store) Path() string { return s.path }

// Ping checks the database handle.
func (s *Store) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

// Close closes the database.
func (s *Store) Close() error { return s.db.Close() }

// Write implements [sink.Sink].
func (s *Store) Write(ctx context.Context, u sink.Utterance) error {
	tokens, err := json.Marshal(nonNil(u.Tokens))
	if err != nil {
		return fmt.Errorf("sqlite sink: encode tokens: %w", err)
	}
	stamps, err := json.Marshal(nonNil(u.Timestamps))
	if err != nil {
		return fmt.Errorf("sqlite sink: encode timestamps: %w", err)
	}
	created := u.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}

	const q = `
		INSERT OR IGNORE INTO utterances
		    (id, stream_id, segment, text, tokens, timestamps, start_time, duration, source, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err = s.db.ExecContext(ctx, q,
		u.ID.String(),
		u.StreamID,
		u.Segment,
		u.Text,
		string(tokens),
		string(stamps),
		u.StartTime,
		u.Duration,
		string(u.Source),
		created.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("sqlite sink: write: %w", err)
	}
	return nil
}

// List implements [sink.Reader].
func (s *Store) List(ctx context.Context, streamID string, limit int) ([]sink.Utterance, error) {
	q := `
		SELECT id, stream_id, segment, text, tokens, timestamps, start_time, duration, source, created_at
		FROM   utterances
		WHERE  stream_id = ?
		ORDER  BY segment, created_at`
	args := []any{streamID}
	if limit > 0 {
		q += " LIMIT ?"
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite sink: list: %w", err)
	}
	defer rows.Close()

	out := []sink.Utterance{}
	for rows.Next() {
		var (
			u                  sink.Utterance
			id, tokens, stamps string
			source             string
			created            int64
		)
		if err := rows.Scan(&id, &u.StreamID, &u.Segment, &u.Text, &tokens, &stamps,
			&u.StartTime, &u.Duration, &source, &created); err != nil {
			return nil, fmt.Errorf("sqlite sink: scan: %w", err)
		}
		if u.ID, err = uuid.Parse(id); err != nil {
			return nil, fmt.Errorf("sqlite sink: parse id %q: %w", id, err)
		}
		if err := json.Unmarshal([]byte(tokens), &u.Tokens); err != nil {
			return nil, fmt.Errorf("sqlite sink: decode tokens: %w", err)
		}
		if err := json.Unmarshal([]byte(stamps), &u.Timestamps); err != nil {
			return nil, fmt.Errorf("sqlite sink: decode timestamps: %w", err)
		}
		u.Source = sink.Source(source)
		u.CreatedAt = time.Unix(0, created).UTC()
		out = append(out, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite sink: rows: %w", err)
	}
	return out, nil
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}

var (
	_ sink.Sink   = (*Store)(nil)
	_ sink.Reader = (*Store)(nil)
)
