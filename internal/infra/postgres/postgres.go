// Package postgres is the shared-deployment store backend. Same schema shape
// as the sqlite backend, but transactions run serializable and conflicts
// surface as SQLSTATE 40001/40P01, which map to store.ErrConflict so RunInTx
// re-runs the caller's function.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/eduquiz/rewards/internal/domain"
	"github.com/eduquiz/rewards/internal/infra/observability"
	"github.com/eduquiz/rewards/internal/store"
)

// maxTxRetries bounds conflict retries per RunInTx call.
const maxTxRetries = 5

// DB wraps the pgx pool.
type DB struct {
	pool *pgxpool.Pool
}

// Open connects to the database at url and applies migrations.
func Open(ctx context.Context, url string) (*DB, error) {
	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	d := &DB{pool: pool}
	if err := d.migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return d, nil
}

// Close releases the pool.
func (d *DB) Close() error {
	d.pool.Close()
	return nil
}

func migrations() []string {
	return []string{
		`CREATE TABLE IF NOT EXISTS accounts (
			user_id       TEXT PRIMARY KEY,
			class_id      TEXT NOT NULL DEFAULT '',
			gold          BIGINT NOT NULL DEFAULT 0 CHECK(gold >= 0),
			exp           BIGINT NOT NULL DEFAULT 0 CHECK(exp >= 0),
			quiz_count    BIGINT NOT NULL DEFAULT 0,
			post_count    BIGINT NOT NULL DEFAULT 0,
			comment_count BIGINT NOT NULL DEFAULT 0,
			updated_at    TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_accounts_class ON accounts(class_id)`,
		`CREATE INDEX IF NOT EXISTS idx_accounts_gold ON accounts(gold DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_accounts_exp ON accounts(exp DESC)`,

		`CREATE TABLE IF NOT EXISTS reward_events (
			source_id       TEXT PRIMARY KEY,
			kind            TEXT NOT NULL,
			subject_user_id TEXT NOT NULL,
			actor_user_id   TEXT NOT NULL DEFAULT '',
			score           BIGINT NOT NULL DEFAULT 0,
			target_ref      TEXT NOT NULL DEFAULT '',
			applied         BOOLEAN NOT NULL DEFAULT FALSE,
			applied_gold    BIGINT NOT NULL DEFAULT 0,
			applied_exp     BIGINT NOT NULL DEFAULT 0,
			applied_at      TIMESTAMPTZ,
			created_at      TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,

		`CREATE TABLE IF NOT EXISTS rate_limit_records (
			id           BIGSERIAL PRIMARY KEY,
			user_id      TEXT NOT NULL,
			action       TEXT NOT NULL,
			reference_id TEXT NOT NULL DEFAULT '',
			created_at   TIMESTAMPTZ NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_rl_window ON rate_limit_records(user_id, action, created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_rl_sweep ON rate_limit_records(created_at)`,

		`CREATE TABLE IF NOT EXISTS content_targets (
			ref           TEXT PRIMARY KEY,
			author_id     TEXT NOT NULL DEFAULT '',
			comment_count BIGINT NOT NULL DEFAULT 0,
			like_count    BIGINT NOT NULL DEFAULT 0
		)`,

		`CREATE TABLE IF NOT EXISTS notifications (
			id         BIGSERIAL PRIMARY KEY,
			user_id    TEXT NOT NULL,
			kind       TEXT NOT NULL,
			message    TEXT NOT NULL DEFAULT '',
			source_id  TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_notifications_user ON notifications(user_id, id DESC)`,

		`CREATE TABLE IF NOT EXISTS admin_grants (
			id             TEXT PRIMARY KEY,
			target_user_id TEXT NOT NULL,
			gold           BIGINT NOT NULL,
			exp            BIGINT NOT NULL,
			reason         TEXT NOT NULL,
			actor_id       TEXT NOT NULL,
			created_at     TIMESTAMPTZ NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_grants_target ON admin_grants(target_user_id)`,
	}
}

func (d *DB) migrate(ctx context.Context) error {
	for _, stmt := range migrations() {
		if _, err := d.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

// RunInTx executes fn in one serializable transaction, retrying the whole
// function on serialization failure. fn must be safe to re-run from the top.
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
	tx, err := d.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if err := fn(&pgTx{ctx: ctx, tx: tx}); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// isConflict reports whether err is a serialization or deadlock failure.
func isConflict(err error) bool {
	if errors.Is(err, store.ErrConflict) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "40001" || pgErr.Code == "40P01"
	}
	return false
}

// ─── Transaction ────────────────────────────────────────────────────────────

// pgTx implements store.Tx. The context is captured at begin time because
// store.Tx methods are context-free; all statements in one transaction share
// the caller's deadline.
type pgTx struct {
	ctx context.Context
	tx  pgx.Tx
}

func (t *pgTx) UpsertEventPending(ev *domain.RewardEvent) (*domain.RewardEvent, error) {
	createdAt := ev.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	_, err := t.tx.Exec(t.ctx, `
		INSERT INTO reward_events (source_id, kind, subject_user_id, actor_user_id, score, target_ref, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (source_id) DO NOTHING
	`, ev.SourceID, string(ev.Kind), ev.SubjectUserID, ev.ActorUserID, ev.Score, ev.TargetRef, createdAt)
	if err != nil {
		return nil, fmt.Errorf("upsert event: %w", err)
	}
	return t.event(ev.SourceID)
}

func (t *pgTx) event(sourceID string) (*domain.RewardEvent, error) {
	var (
		ev        domain.RewardEvent
		kind      string
		appliedAt *time.Time
	)
	err := t.tx.QueryRow(t.ctx, `
		SELECT source_id, kind, subject_user_id, actor_user_id, score, target_ref,
		       applied, applied_gold, applied_exp, applied_at, created_at
		FROM reward_events WHERE source_id = $1
	`, sourceID).Scan(&ev.SourceID, &kind, &ev.SubjectUserID, &ev.ActorUserID, &ev.Score,
		&ev.TargetRef, &ev.Applied, &ev.AppliedGold, &ev.AppliedExp, &appliedAt, &ev.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	ev.Kind = domain.EventKind(kind)
	if appliedAt != nil {
		ev.AppliedAt = *appliedAt
	}
	return &ev, nil
}

func (t *pgTx) MarkApplied(sourceID string, amount domain.RewardAmount, at time.Time) error {
	tag, err := t.tx.Exec(t.ctx, `
		UPDATE reward_events
		SET applied = TRUE, applied_gold = $1, applied_exp = $2, applied_at = $3
		WHERE source_id = $4 AND applied = FALSE
	`, amount.Gold, amount.Exp, at, sourceID)
	if err != nil {
		return fmt.Errorf("mark applied: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrConflict
	}
	return nil
}

func (t *pgTx) Account(userID string) (*domain.Account, error) {
	if _, err := t.tx.Exec(t.ctx, `
		INSERT INTO accounts (user_id) VALUES ($1)
		ON CONFLICT (user_id) DO NOTHING
	`, userID); err != nil {
		return nil, fmt.Errorf("ensure account: %w", err)
	}

	var a domain.Account
	err := t.tx.QueryRow(t.ctx, `
		SELECT user_id, class_id, gold, exp, quiz_count, post_count, comment_count, updated_at
		FROM accounts WHERE user_id = $1
	`, userID).Scan(&a.UserID, &a.ClassID, &a.Gold, &a.Exp, &a.QuizCount, &a.PostCount, &a.CommentCount, &a.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func (t *pgTx) Credit(userID string, amount domain.RewardAmount) error {
	if amount.Gold < 0 || amount.Exp < 0 {
		return fmt.Errorf("credit amounts must be non-negative: gold=%d exp=%d", amount.Gold, amount.Exp)
	}
	_, err := t.tx.Exec(t.ctx, `
		UPDATE accounts
		SET gold = gold + $1, exp = exp + $2, updated_at = now()
		WHERE user_id = $3
	`, amount.Gold, amount.Exp, userID)
	if err != nil {
		return fmt.Errorf("credit account: %w", err)
	}
	return nil
}

func (t *pgTx) IncrementStat(userID string, stat store.AccountStat) error {
	col, ok := statColumn(stat)
	if !ok {
		return fmt.Errorf("unknown account stat %q", stat)
	}
	_, err := t.tx.Exec(t.ctx, `UPDATE accounts SET `+col+` = `+col+` + 1 WHERE user_id = $1`, userID)
	return err
}

func statColumn(stat store.AccountStat) (string, bool) {
	switch stat {
	case store.StatQuizCount:
		return "quiz_count", true
	case store.StatPostCount:
		return "post_count", true
	case store.StatCommentCount:
		return "comment_count", true
	}
	return "", false
}

func (t *pgTx) AdjustCounter(ref string, counter store.TargetCounter, delta int64) error {
	col, ok := counterColumn(counter)
	if !ok {
		return fmt.Errorf("unknown target counter %q", counter)
	}
	if _, err := t.tx.Exec(t.ctx, `
		INSERT INTO content_targets (ref) VALUES ($1)
		ON CONFLICT (ref) DO NOTHING
	`, ref); err != nil {
		return fmt.Errorf("ensure target: %w", err)
	}
	_, err := t.tx.Exec(t.ctx, `
		UPDATE content_targets SET `+col+` = GREATEST(0, `+col+` + $1) WHERE ref = $2
	`, delta, ref)
	return err
}

func counterColumn(c store.TargetCounter) (string, bool) {
	switch c {
	case store.CounterComments:
		return "comment_count", true
	case store.CounterLikes:
		return "like_count", true
	}
	return "", false
}

func (t *pgTx) TargetAuthor(ref string) (string, error) {
	var author string
	err := t.tx.QueryRow(t.ctx, `SELECT author_id FROM content_targets WHERE ref = $1`, ref).Scan(&author)
	if errors.Is(err, pgx.ErrNoRows) || (err == nil && author == "") {
		return "", store.ErrNotFound
	}
	return author, err
}

func (t *pgTx) InsertNotification(n domain.Notification) error {
	_, err := t.tx.Exec(t.ctx, `
		INSERT INTO notifications (user_id, kind, message, source_id, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`, n.UserID, string(n.Kind), n.Message, n.SourceID, n.CreatedAt)
	return err
}

func (t *pgTx) InsertGrant(g domain.AdminGrant) error {
	_, err := t.tx.Exec(t.ctx, `
		INSERT INTO admin_grants (id, target_user_id, gold, exp, reason, actor_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, g.ID, g.TargetUserID, g.Gold, g.Exp, g.Reason, g.ActorID, g.CreatedAt)
	return err
}

// ─── Store-Level Reads ──────────────────────────────────────────────────────

// Account retrieves an account outside any transaction.
func (d *DB) Account(ctx context.Context, userID string) (*domain.Account, error) {
	var a domain.Account
	err := d.pool.QueryRow(ctx, `
		SELECT user_id, class_id, gold, exp, quiz_count, post_count, comment_count, updated_at
		FROM accounts WHERE user_id = $1
	`, userID).Scan(&a.UserID, &a.ClassID, &a.Gold, &a.Exp, &a.QuizCount, &a.PostCount, &a.CommentCount, &a.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// EnsureAccount provisions a zero-balance account if none exists.
func (d *DB) EnsureAccount(ctx context.Context, userID, classID string) error {
	_, err := d.pool.Exec(ctx, `
		INSERT INTO accounts (user_id, class_id) VALUES ($1, $2)
		ON CONFLICT (user_id) DO UPDATE SET class_id = excluded.class_id WHERE accounts.class_id = ''
	`, userID, classID)
	return err
}

// RegisterTarget records a content target's author.
func (d *DB) RegisterTarget(ctx context.Context, ref, authorID string) error {
	_, err := d.pool.Exec(ctx, `
		INSERT INTO content_targets (ref, author_id) VALUES ($1, $2)
		ON CONFLICT (ref) DO UPDATE SET author_id = excluded.author_id
	`, ref, authorID)
	return err
}

// Leaderboard returns the top accounts for the query.
func (d *DB) Leaderboard(ctx context.Context, q domain.LeaderboardQuery) ([]domain.LeaderboardEntry, error) {
	col := "gold"
	switch q.SortBy {
	case domain.SortByExp:
		col = "exp"
	case domain.SortByQuizCount:
		col = "quiz_count"
	case domain.SortByGold, "":
		col = "gold"
	default:
		return nil, fmt.Errorf("unknown leaderboard sort %q", q.SortBy)
	}

	limit := q.Limit
	if limit <= 0 {
		limit = 10
	}
	if limit > 100 {
		limit = 100
	}

	query := `SELECT user_id, class_id, gold, exp, quiz_count FROM accounts`
	args := []any{}
	if q.ClassID != "" {
		query += ` WHERE class_id = $1`
		args = append(args, q.ClassID)
	}
	query += fmt.Sprintf(` ORDER BY %s DESC, exp DESC, user_id ASC LIMIT $%d`, col, len(args)+1)
	args = append(args, limit)

	rows, err := d.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []domain.LeaderboardEntry
	for rows.Next() {
		var e domain.LeaderboardEntry
		if err := rows.Scan(&e.UserID, &e.ClassID, &e.Gold, &e.Exp, &e.QuizCount); err != nil {
			return nil, err
		}
		e.Position = len(entries) + 1
		e.Rank = domain.RankOf(e.Exp)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Notifications returns a user's notification facts, newest first.
func (d *DB) Notifications(ctx context.Context, userID string, limit int) ([]domain.Notification, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := d.pool.Query(ctx, `
		SELECT id, user_id, kind, message, source_id, created_at
		FROM notifications WHERE user_id = $1 ORDER BY id DESC LIMIT $2
	`, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Notification
	for rows.Next() {
		var (
			n    domain.Notification
			kind string
		)
		if err := rows.Scan(&n.ID, &n.UserID, &kind, &n.Message, &n.SourceID, &n.CreatedAt); err != nil {
			return nil, err
		}
		n.Kind = domain.NotificationKind(kind)
		out = append(out, n)
	}
	return out, rows.Err()
}

// ─── Rate-Limit Record Operations ───────────────────────────────────────────

// CountInWindow counts records for (userID, action) newer than since and
// returns the oldest in-window timestamp.
func (d *DB) CountInWindow(ctx context.Context, userID, action string, since time.Time) (int, time.Time, error) {
	var (
		count  int
		oldest *time.Time
	)
	err := d.pool.QueryRow(ctx, `
		SELECT COUNT(*), MIN(created_at) FROM rate_limit_records
		WHERE user_id = $1 AND action = $2 AND created_at > $3
	`, userID, action, since).Scan(&count, &oldest)
	if err != nil {
		return 0, time.Time{}, err
	}
	if oldest == nil {
		return count, time.Time{}, nil
	}
	return count, *oldest, nil
}

// InsertRecord appends one rate-limit record.
func (d *DB) InsertRecord(ctx context.Context, userID, action, referenceID string, at time.Time) error {
	_, err := d.pool.Exec(ctx, `
		INSERT INTO rate_limit_records (user_id, action, reference_id, created_at)
		VALUES ($1, $2, $3, $4)
	`, userID, action, referenceID, at)
	return err
}

// DeleteBefore removes records older than cutoff.
func (d *DB) DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := d.pool.Exec(ctx, `
		DELETE FROM rate_limit_records WHERE created_at < $1
	`, cutoff)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
