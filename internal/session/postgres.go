package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore shares sessions between backend instances. Appends take a
// row lock so concurrent turns on one session serialize while other rows
// proceed in parallel.
type PostgresStore struct {
	pool *pgxpool.Pool
	opts Options
}

func NewPostgresStore(ctx context.Context, databaseURL string, opts Options) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}

	if err := initPostgresSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}

	return &PostgresStore{pool: pool, opts: opts.withDefaults()}, nil
}

func initPostgresSchema(ctx context.Context, pool *pgxpool.Pool) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS booth_sessions (
			session_id TEXT PRIMARY KEY,
			booth_id TEXT NOT NULL,
			personality TEXT NOT NULL,
			mode TEXT NOT NULL,
			history JSONB NOT NULL DEFAULT '[]'::jsonb,
			created_at TIMESTAMPTZ NOT NULL,
			last_active_at TIMESTAMPTZ NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_booth_sessions_last_active ON booth_sessions (last_active_at);`,
	}

	for _, stmt := range stmts {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("init schema failed on %q: %w", stmt, err)
		}
	}
	return nil
}

const pgSelectSession = `SELECT session_id, booth_id, personality, mode, history, created_at, last_active_at
	FROM booth_sessions WHERE session_id=$1`

func (s *PostgresStore) cutoff() time.Time {
	return s.opts.Now().UTC().Add(-s.opts.TTL)
}

func (s *PostgresStore) CreateOrGet(ctx context.Context, p StartParams) (*Session, bool, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx,
		`DELETE FROM booth_sessions WHERE session_id=$1 AND last_active_at <= $2`,
		p.ID, s.cutoff(),
	); err != nil {
		return nil, false, fmt.Errorf("evict expired session: %w", err)
	}

	now := s.opts.Now().UTC()
	tag, err := tx.Exec(ctx,
		`INSERT INTO booth_sessions (session_id, booth_id, personality, mode, history, created_at, last_active_at)
		 VALUES ($1, $2, $3, $4, '[]'::jsonb, $5, $5)
		 ON CONFLICT (session_id) DO NOTHING`,
		p.ID, p.BoothID, p.Personality, p.Mode, now,
	)
	if err != nil {
		return nil, false, fmt.Errorf("insert session: %w", err)
	}
	created := tag.RowsAffected() == 1

	sess, err := scanPostgresSession(tx.QueryRow(ctx, pgSelectSession, p.ID))
	if err != nil {
		return nil, false, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, false, fmt.Errorf("commit tx: %w", err)
	}
	return sess, created, nil
}

func (s *PostgresStore) Get(ctx context.Context, id string) (*Session, error) {
	sess, err := scanPostgresSession(s.pool.QueryRow(ctx, pgSelectSession, id))
	if err != nil {
		return nil, err
	}
	if s.opts.expired(sess.LastActiveAt, s.opts.Now()) {
		if _, err := s.pool.Exec(ctx,
			`DELETE FROM booth_sessions WHERE session_id=$1 AND last_active_at <= $2`,
			id, s.cutoff(),
		); err != nil {
			return nil, fmt.Errorf("evict expired session: %w", err)
		}
		return nil, ErrNotFound
	}
	return sess, nil
}

func (s *PostgresStore) AppendTurns(ctx context.Context, id, mode string, turns ...Turn) (*Session, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	sess, err := scanPostgresSession(tx.QueryRow(ctx, pgSelectSession+` FOR UPDATE`, id))
	if err != nil {
		return nil, err
	}
	now := s.opts.Now().UTC()
	if s.opts.expired(sess.LastActiveAt, now) {
		if _, err := tx.Exec(ctx, `DELETE FROM booth_sessions WHERE session_id=$1`, id); err != nil {
			return nil, fmt.Errorf("evict expired session: %w", err)
		}
		if err := tx.Commit(ctx); err != nil {
			return nil, fmt.Errorf("commit tx: %w", err)
		}
		return nil, ErrNotFound
	}

	for _, t := range turns {
		if t.At.IsZero() {
			t.At = now
		}
		sess.History = append(sess.History, t)
	}
	sess.History = trimHistory(sess.History, s.opts.HistoryMaxTurns)
	if mode != "" {
		sess.Mode = mode
	}
	sess.LastActiveAt = now

	raw, err := json.Marshal(sess.History)
	if err != nil {
		return nil, fmt.Errorf("marshal history: %w", err)
	}
	if _, err := tx.Exec(ctx,
		`UPDATE booth_sessions SET history=$2::jsonb, mode=$3, last_active_at=$4 WHERE session_id=$1`,
		id, string(raw), sess.Mode, now,
	); err != nil {
		return nil, fmt.Errorf("update session: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit tx: %w", err)
	}
	return sess, nil
}

func (s *PostgresStore) Release(ctx context.Context, id string) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM booth_sessions WHERE session_id=$1`, id); err != nil {
		return fmt.Errorf("release session: %w", err)
	}
	return nil
}

func (s *PostgresStore) Sweep(ctx context.Context) (int, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM booth_sessions WHERE last_active_at <= $1`, s.cutoff())
	if err != nil {
		return 0, fmt.Errorf("sweep sessions: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func scanPostgresSession(row pgx.Row) (*Session, error) {
	var (
		sess    Session
		history []byte
	)
	err := row.Scan(&sess.ID, &sess.BoothID, &sess.Personality, &sess.Mode, &history, &sess.CreatedAt, &sess.LastActiveAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan session: %w", err)
	}
	if len(history) > 0 {
		if err := json.Unmarshal(history, &sess.History); err != nil {
			return nil, fmt.Errorf("decode history: %w", err)
		}
	}
	sess.CreatedAt = sess.CreatedAt.UTC()
	sess.LastActiveAt = sess.LastActiveAt.UTC()
	return &sess, nil
}
