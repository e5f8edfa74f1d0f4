package session

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore persists sessions in a local SQLite file so several backend
// processes on one host can share them. Transactions start IMMEDIATE, which
// takes the write lock up front; an in-process keyed lock keeps goroutines
// from spinning on busy_timeout for the same session.
type SQLiteStore struct {
	db    *sql.DB
	opts  Options
	locks *keyedMutex
}

func NewSQLiteStore(dbPath string, opts Options) (*SQLiteStore, error) {
	if dir := filepath.Dir(dbPath); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	dsn := dbPath + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_txlock=immediate"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(8)
	db.SetMaxIdleConns(4)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	s := &SQLiteStore{db: db, opts: opts.withDefaults(), locks: newKeyedMutex()}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	CREATE TABLE IF NOT EXISTS booth_sessions (
		session_id TEXT PRIMARY KEY,
		booth_id TEXT NOT NULL,
		personality TEXT NOT NULL,
		mode TEXT NOT NULL,
		history TEXT NOT NULL DEFAULT '[]',
		created_at INTEGER NOT NULL,
		last_active_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_booth_sessions_last_active ON booth_sessions(last_active_at);
	`
	_, err := s.db.Exec(query)
	return err
}

const sqliteSelectSession = `SELECT session_id, booth_id, personality, mode, history, created_at, last_active_at
	FROM booth_sessions WHERE session_id = ?`

func (s *SQLiteStore) cutoff() int64 {
	return s.opts.Now().Add(-s.opts.TTL).UnixNano()
}

func (s *SQLiteStore) CreateOrGet(ctx context.Context, p StartParams) (*Session, bool, error) {
	unlock := s.locks.Lock(p.ID)
	defer unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, false, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM booth_sessions WHERE session_id = ? AND last_active_at <= ?`,
		p.ID, s.cutoff(),
	); err != nil {
		return nil, false, fmt.Errorf("evict expired session: %w", err)
	}

	now := s.opts.Now().UnixNano()
	res, err := tx.ExecContext(ctx,
		`INSERT INTO booth_sessions (session_id, booth_id, personality, mode, history, created_at, last_active_at)
		 VALUES (?, ?, ?, ?, '[]', ?, ?)
		 ON CONFLICT(session_id) DO NOTHING`,
		p.ID, p.BoothID, p.Personality, p.Mode, now, now,
	)
	if err != nil {
		return nil, false, fmt.Errorf("insert session: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, false, fmt.Errorf("insert session: %w", err)
	}

	sess, err := scanSQLiteSession(tx.QueryRowContext(ctx, sqliteSelectSession, p.ID))
	if err != nil {
		return nil, false, err
	}
	if err := tx.Commit(); err != nil {
		return nil, false, fmt.Errorf("commit tx: %w", err)
	}
	return sess, n == 1, nil
}

func (s *SQLiteStore) Get(ctx context.Context, id string) (*Session, error) {
	sess, err := scanSQLiteSession(s.db.QueryRowContext(ctx, sqliteSelectSession, id))
	if err != nil {
		return nil, err
	}
	if s.opts.expired(sess.LastActiveAt, s.opts.Now()) {
		if _, err := s.db.ExecContext(ctx,
			`DELETE FROM booth_sessions WHERE session_id = ? AND last_active_at <= ?`,
			id, s.cutoff(),
		); err != nil {
			return nil, fmt.Errorf("evict expired session: %w", err)
		}
		return nil, ErrNotFound
	}
	return sess, nil
}

func (s *SQLiteStore) AppendTurns(ctx context.Context, id, mode string, turns ...Turn) (*Session, error) {
	unlock := s.locks.Lock(id)
	defer unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	sess, err := scanSQLiteSession(tx.QueryRowContext(ctx, sqliteSelectSession, id))
	if err != nil {
		return nil, err
	}
	now := s.opts.Now()
	if s.opts.expired(sess.LastActiveAt, now) {
		if _, err := tx.ExecContext(ctx, `DELETE FROM booth_sessions WHERE session_id = ?`, id); err != nil {
			return nil, fmt.Errorf("evict expired session: %w", err)
		}
		if err := tx.Commit(); err != nil {
			return nil, fmt.Errorf("commit tx: %w", err)
		}
		return nil, ErrNotFound
	}

	for _, t := range turns {
		if t.At.IsZero() {
			t.At = now.UTC()
		}
		sess.History = append(sess.History, t)
	}
	sess.History = trimHistory(sess.History, s.opts.HistoryMaxTurns)
	if mode != "" {
		sess.Mode = mode
	}
	sess.LastActiveAt = time.Unix(0, now.UnixNano()).UTC()

	raw, err := json.Marshal(sess.History)
	if err != nil {
		return nil, fmt.Errorf("marshal history: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE booth_sessions SET history = ?, mode = ?, last_active_at = ? WHERE session_id = ?`,
		string(raw), sess.Mode, now.UnixNano(), id,
	); err != nil {
		return nil, fmt.Errorf("update session: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit tx: %w", err)
	}
	return sess, nil
}

func (s *SQLiteStore) Release(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM booth_sessions WHERE session_id = ?`, id); err != nil {
		return fmt.Errorf("release session: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Sweep(ctx context.Context) (int, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM booth_sessions WHERE last_active_at <= ?`, s.cutoff())
	if err != nil {
		return 0, fmt.Errorf("sweep sessions: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("sweep sessions: %w", err)
	}
	return int(n), nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func scanSQLiteSession(row *sql.Row) (*Session, error) {
	var (
		sess       Session
		history    string
		createdAt  int64
		lastActive int64
	)
	err := row.Scan(&sess.ID, &sess.BoothID, &sess.Personality, &sess.Mode, &history, &createdAt, &lastActive)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan session: %w", err)
	}
	if history != "" {
		if err := json.Unmarshal([]byte(history), &sess.History); err != nil {
			return nil, fmt.Errorf("decode history: %w", err)
		}
	}
	sess.CreatedAt = time.Unix(0, createdAt).UTC()
	sess.LastActiveAt = time.Unix(0, lastActive).UTC()
	return &sess, nil
}
