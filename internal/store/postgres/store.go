package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/MrWong99/voxcoach/internal/store"
	"github.com/MrWong99/voxcoach/pkg/types"
)

// Compile-time interface check.
var _ store.Store = (*Store)(nil)

// Store is the PostgreSQL-backed coaching history.
// All operations are safe for concurrent use.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore connects to the database at dsn, verifies the connection and runs
// [Migrate].
func NewStore(ctx context.Context, dsn string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres store: parse dsn: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("postgres store: create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres store: ping: %w", err)
	}

	if err := Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres store: %w", err)
	}

	return &Store{pool: pool}, nil
}

// SaveSession implements [store.Store]. The session row is upserted and its
// utterances are replaced in one transaction.
func (s *Store) SaveSession(ctx context.Context, sess types.Session) error {
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		const upsert = `
			INSERT INTO coach_sessions (id, title, start_time)
			VALUES ($1, $2, $3)
			ON CONFLICT (id) DO UPDATE
			SET title = EXCLUDED.title, start_time = EXCLUDED.start_time`
		if _, err := tx.Exec(ctx, upsert, sess.ID, sess.Title, sess.StartTime); err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, `DELETE FROM coach_utterances WHERE session_id = $1`, sess.ID); err != nil {
			return err
		}
		if len(sess.Utterances) == 0 {
			return nil
		}

		rows := make([][]any, len(sess.Utterances))
		for i, u := range sess.Utterances {
			terms := u.Terms
			if terms == nil {
				terms = []string{}
			}
			rows[i] = []any{sess.ID, i, u.ID, u.Role.String(), u.Text, u.Timestamp, terms}
		}
		_, err := tx.CopyFrom(ctx,
			pgx.Identifier{"coach_utterances"},
			[]string{"session_id", "seq", "id", "role", "text", "timestamp", "terms"},
			pgx.CopyFromRows(rows),
		)
		return err
	})
	if err != nil {
		return fmt.Errorf("postgres store: save session: %w", err)
	}
	return nil
}

// GetSession implements [store.Store].
func (s *Store) GetSession(ctx context.Context, id string) (types.Session, error) {
	const q = `SELECT id, title, start_time FROM coach_sessions WHERE id = $1`

	var sess types.Session
	err := s.pool.QueryRow(ctx, q, id).Scan(&sess.ID, &sess.Title, &sess.StartTime)
	if errors.Is(err, pgx.ErrNoRows) {
		return types.Session{}, store.ErrNotFound
	}
	if err != nil {
		return types.Session{}, fmt.Errorf("postgres store: get session: %w", err)
	}

	utts, err := s.utterances(ctx, `WHERE session_id = $1`, id)
	if err != nil {
		return types.Session{}, err
	}
	sess.Utterances = utts[id]
	return sess, nil
}

// ListSessions implements [store.Store].
func (s *Store) ListSessions(ctx context.Context) ([]types.Session, error) {
	const q = `SELECT id, title, start_time FROM coach_sessions ORDER BY start_time DESC`

	rows, err := s.pool.Query(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("postgres store: list sessions: %w", err)
	}
	sessions, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (types.Session, error) {
		var sess types.Session
		err := row.Scan(&sess.ID, &sess.Title, &sess.StartTime)
		return sess, err
	})
	if err != nil {
		return nil, fmt.Errorf("postgres store: list sessions: %w", err)
	}

	utts, err := s.utterances(ctx, "")
	if err != nil {
		return nil, err
	}
	for i := range sessions {
		sessions[i].Utterances = utts[sessions[i].ID]
	}
	return sessions, nil
}

// utterances loads utterances grouped by session ID, in recorded order.
func (s *Store) utterances(ctx context.Context, where string, args ...any) (map[string][]types.Utterance, error) {
	q := "SELECT session_id, id, role, text, timestamp, terms\n" +
		"FROM   coach_utterances\n" +
		where + "\n" +
		"ORDER  BY session_id, seq"

	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres store: load utterances: %w", err)
	}
	defer rows.Close()

	out := make(map[string][]types.Utterance)
	for rows.Next() {
		var (
			sessionID string
			role      string
			u         types.Utterance
		)
		if err := rows.Scan(&sessionID, &u.ID, &role, &u.Text, &u.Timestamp, &u.Terms); err != nil {
			return nil, fmt.Errorf("postgres store: scan utterance: %w", err)
		}
		if u.Role, err = types.ParseRole(role); err != nil {
			return nil, fmt.Errorf("postgres store: scan utterance: %w", err)
		}
		if len(u.Terms) == 0 {
			u.Terms = nil
		}
		out[sessionID] = append(out[sessionID], u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres store: load utterances: %w", err)
	}
	return out, nil
}

// SaveVocabulary implements [store.Store]. Duplicate terms are rejected by the
// unique index on the normalised term.
func (s *Store) SaveVocabulary(ctx context.Context, r types.VocabularyRecord) (bool, error) {
	const q = `
		INSERT INTO coach_vocabulary
		    (id, term, definition, translation, example, source_sentence, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT ((lower(btrim(term)))) DO NOTHING`

	tag, err := s.pool.Exec(ctx, q,
		r.ID,
		r.Term,
		r.Definition,
		r.Translation,
		r.Example,
		r.SourceSentence,
		r.CreatedAt,
	)
	if err != nil {
		return false, fmt.Errorf("postgres store: save vocabulary: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// ListVocabulary implements [store.Store].
func (s *Store) ListVocabulary(ctx context.Context) ([]types.VocabularyRecord, error) {
	const q = `
		SELECT id, term, definition, translation, example, source_sentence, created_at
		FROM   coach_vocabulary
		ORDER  BY created_at DESC`

	rows, err := s.pool.Query(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("postgres store: list vocabulary: %w", err)
	}
	records, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (types.VocabularyRecord, error) {
		var r types.VocabularyRecord
		err := row.Scan(&r.ID, &r.Term, &r.Definition, &r.Translation, &r.Example, &r.SourceSentence, &r.CreatedAt)
		return r, err
	})
	if err != nil {
		return nil, fmt.Errorf("postgres store: list vocabulary: %w", err)
	}
	return records, nil
}

// Clear implements [store.Store].
func (s *Store) Clear(ctx context.Context) error {
	const q = `TRUNCATE coach_utterances, coach_sessions, coach_vocabulary`
	if _, err := s.pool.Exec(ctx, q); err != nil {
		return fmt.Errorf("postgres store: clear: %w", err)
	}
	return nil
}

// Ping implements [store.Store].
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close releases all connections held by the pool.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}
