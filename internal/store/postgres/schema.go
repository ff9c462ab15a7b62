// Package postgres provides a PostgreSQL-backed implementation of
// [store.Store].
//
// Sessions, their utterances and vocabulary live in three tables sharing a
// single [pgxpool.Pool]. [Migrate] creates them if they do not exist.
//
// Usage:
//
//	s, err := postgres.NewStore(ctx, dsn)
//	if err != nil { … }
//	defer s.Close()
//
//	_ = s.SaveSession(ctx, sess)
//	added, _ := s.SaveVocabulary(ctx, rec)
package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

const ddlSessions = `
CREATE TABLE IF NOT EXISTS coach_sessions (
    id          TEXT         PRIMARY KEY,
    title       TEXT         NOT NULL DEFAULT '',
    start_time  TIMESTAMPTZ  NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_coach_sessions_start_time
    ON coach_sessions (start_time DESC);

CREATE TABLE IF NOT EXISTS coach_utterances (
    session_id  TEXT         NOT NULL REFERENCES coach_sessions (id) ON DELETE CASCADE,
    seq         INTEGER      NOT NULL,
    id          TEXT         NOT NULL,
    role        TEXT         NOT NULL,
    text        TEXT         NOT NULL,
    timestamp   TIMESTAMPTZ  NOT NULL,
    terms       TEXT[]       NOT NULL DEFAULT '{}',
    PRIMARY KEY (session_id, seq)
);
`

const ddlVocabulary = `
CREATE TABLE IF NOT EXISTS coach_vocabulary (
    id               TEXT         PRIMARY KEY,
    term             TEXT         NOT NULL,
    definition       TEXT         NOT NULL DEFAULT '',
    translation      TEXT         NOT NULL DEFAULT '',
    example          TEXT         NOT NULL DEFAULT '',
    source_sentence  TEXT         NOT NULL DEFAULT '',
    created_at       TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_coach_vocabulary_term
    ON coach_vocabulary (lower(btrim(term)));
`

// Migrate creates every table and index the store needs. It is idempotent.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	for _, stmt := range []struct {
		name string
		ddl  string
	}{
		{"sessions", ddlSessions},
		{"vocabulary", ddlVocabulary},
	} {
		if _, err := pool.Exec(ctx, stmt.ddl); err != nil {
			return fmt.Errorf("migrate %s: %w", stmt.name, err)
		}
	}
	return nil
}
