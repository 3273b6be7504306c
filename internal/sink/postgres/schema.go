package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

const ddlUtterances = `
CREATE TABLE IF NOT EXISTS utterances (
    id          UUID         PRIMARY KEY,
    stream_id   TEXT         NOT NULL,
    segment     INTEGER      NOT NULL,
    text        TEXT         NOT NULL,
    tokens      TEXT[]       NOT NULL DEFAULT '{}',
    timestamps  REAL[]       NOT NULL DEFAULT '{}',
    start_time  REAL         NOT NULL DEFAULT 0,
    duration    REAL         NOT NULL DEFAULT 0,
    source      TEXT         NOT NULL DEFAULT '',
    created_at  TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_utterances_stream_segment
    ON utterances (stream_id, segment);

CREATE INDEX IF NOT EXISTS idx_utterances_created_at
    ON utterances (created_at);

CREATE INDEX IF NOT EXISTS idx_utterances_fts
    ON utterances USING GIN (to_tsvector('simple', text));
`

// Migrate creates the utterances table and its indexes. It is idempotent.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	for _, stmt := range []string{ddlUtterances} {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("postgres sink: migrate: %w", err)
		}
	}
	return nil
}
