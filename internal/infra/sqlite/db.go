// Package sqlite is the default store backend. A single database file holds
// accounts, reward events, rate-limit records, content counters, notification
// facts, and admin grants.
//
// Transactions open with _txlock=immediate so writers serialize up front;
// a busy/locked error surfaces as store.ErrConflict and RunInTx re-runs the
// caller's function from the top.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	sqlite3 "modernc.org/sqlite"

	"github.com/eduquiz/rewards/internal/infra/observability"
	"github.com/eduquiz/rewards/internal/store"
)

// maxTxRetries bounds conflict retries per RunInTx call.
const maxTxRetries = 5

// DB wraps the sqlite handle.
type DB struct {
	db *sql.DB
}

// Open creates (if needed) and migrates the database under dir.
func Open(dir string) (*DB, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	dsn := fmt.Sprintf("file:%s?_txlock=immediate&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)",
		filepath.Join(dir, "rewards.db"))
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// A single writer at a time keeps immediate transactions from tripping
	// over the connection pool.
	db.SetMaxOpenConns(1)

	d := &DB{db: db}
	if err := d.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return d, nil
}

// Close closes the underlying handle.
func (d *DB) Close() error { return d.db.Close() }

// migrations returns the schema statements. Each string is a single SQL
// statement (sqlite executes one at a time).
func migrations() []string {
	return []string{
		`CREATE TABLE IF NOT EXISTS accounts (
			user_id       TEXT PRIMARY KEY,
			class_id      TEXT NOT NULL DEFAULT '',
			gold          INTEGER NOT NULL DEFAULT 0 CHECK(gold >= 0),
			exp           INTEGER NOT NULL DEFAULT 0 CHECK(exp >= 0),
			quiz_count    INTEGER NOT NULL DEFAULT 0,
			post_count    INTEGER NOT NULL DEFAULT 0,
			comment_count INTEGER NOT NULL DEFAULT 0,
			updated_at    TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE INDEX IF NOT EXISTS idx_accounts_class ON accounts(class_id)`,
		`CREATE INDEX IF NOT EXISTS idx_accounts_gold ON accounts(gold DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_accounts_exp ON accounts(exp DESC)`,

		`CREATE TABLE IF NOT EXISTS reward_events (
			source_id       TEXT PRIMARY KEY,
			kind            TEXT NOT NULL,
			subject_user_id TEXT NOT NULL,
			actor_user_id   TEXT NOT NULL DEFAULT '',
			score           INTEGER NOT NULL DEFAULT 0,
			target_ref      TEXT NOT NULL DEFAULT '',
			applied         INTEGER NOT NULL DEFAULT 0,
			applied_gold    INTEGER NOT NULL DEFAULT 0,
			applied_exp     INTEGER NOT NULL DEFAULT 0,
			applied_at      TEXT NOT NULL DEFAULT '',
			created_at      TEXT NOT NULL DEFAULT ''
		)`,

		`CREATE TABLE IF NOT EXISTS rate_limit_records (
			id            INTEGER PRIMARY KEY AUTOINCREMENT,
			user_id       TEXT NOT NULL,
			action        TEXT NOT NULL,
			reference_id  TEXT NOT NULL DEFAULT '',
			created_at_ns INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_rl_window ON rate_limit_records(user_id, action, created_at_ns)`,
		`CREATE INDEX IF NOT EXISTS idx_rl_sweep ON rate_limit_records(created_at_ns)`,

		`CREATE TABLE IF NOT EXISTS content_targets (
			ref           TEXT PRIMARY KEY,
			author_id     TEXT NOT NULL DEFAULT '',
			comment_count INTEGER NOT NULL DEFAULT 0,
			like_count    INTEGER NOT NULL DEFAULT 0
		)`,

		`CREATE TABLE IF NOT EXISTS notifications (
			id         INTEGER PRIMARY KEY AUTOINCREMENT,
			user_id    TEXT NOT NULL,
			kind       TEXT NOT NULL,
			message    TEXT NOT NULL DEFAULT '',
			source_id  TEXT NOT NULL DEFAULT '',
			created_at TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE INDEX IF NOT EXISTS idx_notifications_user ON notifications(user_id, id DESC)`,

		`CREATE TABLE IF NOT EXISTS admin_grants (
			id             TEXT PRIMARY KEY,
			target_user_id TEXT NOT NULL,
			gold           INTEGER NOT NULL,
			exp            INTEGER NOT NULL,
			reason         TEXT NOT NULL,
			actor_id       TEXT NOT NULL,
			created_at     TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_grants_target ON admin_grants(target_user_id)`,
	}
}

func (d *DB) migrate() error {
	for _, stmt := range migrations() {
		if _, err := d.db.Exec(stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

// RunInTx executes fn in one transaction, retrying the whole function on
// conflict. fn must be safe to re-run from the top.
func (d *DB) RunInTx(ctx context.Context, fn func(store.Tx) error) error {
	var lastErr error
	for attempt := 0; attempt < maxTxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Duration(attempt) * 10 * time.Millisecond):
			}
		}

		err := d.runOnce(ctx, fn)
		if err == nil {
			return nil
		}
		if !isConflict(err) {
			return err
		}
		observability.TxConflict()
		lastErr = store.ErrConflict
	}
	return fmt.Errorf("%w: gave up after %d attempts", lastErr, maxTxRetries)
}

func (d *DB) runOnce(ctx context.Context, fn func(store.Tx) error) error {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := fn(&sqlTx{tx: tx}); err != nil {
		return err
	}
	return tx.Commit()
}

// isConflict reports whether err is sqlite's busy/locked condition.
func isConflict(err error) bool {
	if errors.Is(err, store.ErrConflict) {
		return true
	}
	var se *sqlite3.Error
	if errors.As(err, &se) {
		code := se.Code() & 0xff
		return code == 5 || code == 6 // SQLITE_BUSY, SQLITE_LOCKED
	}
	msg := err.Error()
	return strings.Contains(msg, "database is locked") || strings.Contains(msg, "database table is locked")
}

// ─── Time encoding ──────────────────────────────────────────────────────────
// Wall-clock fields are RFC3339 text; rate-limit records use integer unix
// nanos so window comparisons stay numeric.

func encodeTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func decodeTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
