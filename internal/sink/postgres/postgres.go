// Package postgres stores utterances in a PostgreSQL utterances table.
//
// Usage:
//
//	s, err := postgres.New(ctx, dsn)
//	if err != nil { … }
//	defer s.Close()
//	_ = s.Write(ctx, u)
package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/MrWong99/streamasr/internal/sink"
)

var (
	_ sink.Sink   = (*Store)(nil)
	_ sink.Reader = (*Store)(nil)
)

// Store is a pgxpool-backed sink. All methods are safe for concurrent use.
type Store struct {
	pool *pgxpool.Pool
}

// New connects to dsn, pings the server and runs [Migrate].
func New(ctx context.Context, dsn string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres sink: parse dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("postgres sink: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres sink: ping: %w", err)
	}
	if err := Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}
	return &Store{pool: pool}, nil
}

// Pool exposes the connection pool, e.g. for readiness checks.
func (s *Store) Pool() *pgxpool.Pool { return s.pool }

// Ping checks the connection.
func (s *Store) Ping(ctx context.Context) error { return s.pool.Ping(ctx) }

// Close releases the pool.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

// Write implements [sink.Sink].
func (s *Store) Write(ctx context.Context, u sink.Utterance) error {
	const q = `
		INSERT INTO utterances
		    (id, stream_id, segment, text, tokens, timestamps, start_time, duration, source, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO NOTHING`

	tokens := u.Tokens
	if tokens == nil {
		tokens = []string{}
	}
	stamps := u.Timestamps
	if stamps == nil {
		stamps = []float32{}
	}
	_, err := s.pool.Exec(ctx, q,
		u.ID,
		u.StreamID,
		u.Segment,
		u.Text,
		tokens,
		stamps,
		u.StartTime,
		u.Duration,
		string(u.Source),
		u.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres sink: write: %w", err)
	}
	return nil
}

// List implements [sink.Reader].
func (s *Store) List(ctx context.Context, streamID string, limit int) ([]sink.Utterance, error) {
	q := `
		SELECT id, stream_id, segment, text, tokens, timestamps, start_time, duration, source, created_at
		FROM   utterances
		WHERE  stream_id = $1
		ORDER  BY segment, created_at`
	args := []any{streamID}
	if limit > 0 {
		args = append(args, limit)
		q += "\nLIMIT $2"
	}

	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres sink: list: %w", err)
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (sink.Utterance, error) {
		var (
			u      sink.Utterance
			source string
		)
		if err := row.Scan(
			&u.ID,
			&u.StreamID,
			&u.Segment,
			&u.Text,
			&u.Tokens,
			&u.Timestamps,
			&u.StartTime,
			&u.Duration,
			&source,
			&u.CreatedAt,
		); err != nil {
			return sink.Utterance{}, err
		}
		u.Source = sink.Source(source)
		return u, nil
	})
	if err != nil {
		return nil, fmt.Errorf("postgres sink: scan rows: %w", err)
	}
	if out == nil {
		out = []sink.Utterance{}
	}
	return out, nil
}
