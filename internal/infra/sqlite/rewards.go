package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/eduquiz/rewards/internal/domain"
	"github.com/eduquiz/rewards/internal/store"
)

// sqlTx implements store.Tx on one open transaction.
type sqlTx struct {
	tx *sql.Tx
}

// ─── Event Operations ───────────────────────────────────────────────────────

func (t *sqlTx) UpsertEventPending(ev *domain.RewardEvent) (*domain.RewardEvent, error) {
	createdAt := ev.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	_, err := t.tx.Exec(`
		INSERT INTO reward_events (source_id, kind, subject_user_id, actor_user_id, score, target_ref, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(source_id) DO NOTHING
	`, ev.SourceID, string(ev.Kind), ev.SubjectUserID, ev.ActorUserID, ev.Score, ev.TargetRef, encodeTime(createdAt))
	if err != nil {
		return nil, fmt.Errorf("upsert event: %w", err)
	}
	return t.event(ev.SourceID)
}

func (t *sqlTx) event(sourceID string) (*domain.RewardEvent, error) {
	var (
		ev                   domain.RewardEvent
		kind                 string
		applied              int
		appliedAt, createdAt string
	)
	err := t.tx.QueryRow(`
		SELECT source_id, kind, subject_user_id, actor_user_id, score, target_ref,
		       applied, applied_gold, applied_exp, applied_at, created_at
		FROM reward_events WHERE source_id = ?
	`, sourceID).Scan(&ev.SourceID, &kind, &ev.SubjectUserID, &ev.ActorUserID, &ev.Score,
		&ev.TargetRef, &applied, &ev.AppliedGold, &ev.AppliedExp, &appliedAt, &createdAt)
	if err == sql.ErrNoRows {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	ev.Kind = domain.EventKind(kind)
	ev.Applied = applied == 1
	ev.AppliedAt = decodeTime(appliedAt)
	ev.CreatedAt = decodeTime(createdAt)
	return &ev, nil
}

func (t *sqlTx) MarkApplied(sourceID string, amount domain.RewardAmount, at time.Time) error {
	res, err := t.tx.Exec(`
		UPDATE reward_events
		SET applied = 1, applied_gold = ?, applied_exp = ?, applied_at = ?
		WHERE source_id = ? AND applied = 0
	`, amount.Gold, amount.Exp, encodeTime(at), sourceID)
	if err != nil {
		return fmt.Errorf("mark applied: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		// The latch never flips back; an already-applied row means a lost
		// race that the ledger's re-read should have caught.
		return store.ErrConflict
	}
	return nil
}

// ─── Account Operations ─────────────────────────────────────────────────────

func (t *sqlTx) Account(userID string) (*domain.Account, error) {
	if _, err := t.tx.Exec(`
		INSERT INTO accounts (user_id, updated_at) VALUES (?, ?)
		ON CONFLICT(user_id) DO NOTHING
	`, userID, encodeTime(time.Now())); err != nil {
		return nil, fmt.Errorf("ensure account: %w", err)
	}

	var (
		a         domain.Account
		updatedAt string
	)
	err := t.tx.QueryRow(`
		SELECT user_id, class_id, gold, exp, quiz_count, post_count, comment_count, updated_at
		FROM accounts WHERE user_id = ?
	`, userID).Scan(&a.UserID, &a.ClassID, &a.Gold, &a.Exp, &a.QuizCount, &a.PostCount, &a.CommentCount, &updatedAt)
	if err != nil {
		return nil, err
	}
	a.UpdatedAt = decodeTime(updatedAt)
	return &a, nil
}

func (t *sqlTx) Credit(userID string, amount domain.RewardAmount) error {
	if amount.Gold < 0 || amount.Exp < 0 {
		return fmt.Errorf("credit amounts must be non-negative: gold=%d exp=%d", amount.Gold, amount.Exp)
	}
	_, err := t.tx.Exec(`
		UPDATE accounts
		SET gold = gold + ?, exp = exp + ?, updated_at = ?
		WHERE user_id = ?
	`, amount.Gold, amount.Exp, encodeTime(time.Now()), userID)
	if err != nil {
		return fmt.Errorf("credit account: %w", err)
	}
	return nil
}

func (t *sqlTx) IncrementStat(userID string, stat store.AccountStat) error {
	col, ok := statColumn(stat)
	if !ok {
		return fmt.Errorf("unknown account stat %q", stat)
	}
	_, err := t.tx.Exec(`UPDATE accounts SET `+col+` = `+col+` + 1 WHERE user_id = ?`, userID)
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

// ─── Content Counter Operations ─────────────────────────────────────────────

func (t *sqlTx) AdjustCounter(ref string, counter store.TargetCounter, delta int64) error {
	col, ok := counterColumn(counter)
	if !ok {
		return fmt.Errorf("unknown target counter %q", counter)
	}
	if _, err := t.tx.Exec(`
		INSERT INTO content_targets (ref) VALUES (?)
		ON CONFLICT(ref) DO NOTHING
	`, ref); err != nil {
		return fmt.Errorf("ensure target: %w", err)
	}
	// Counters never go below zero even if removals outnumber additions.
	_, err := t.tx.Exec(`
		UPDATE content_targets SET `+col+` = MAX(0, `+col+` + ?) WHERE ref = ?
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

func (t *sqlTx) TargetAuthor(ref string) (string, error) {
	var author string
	err := t.tx.QueryRow(`SELECT author_id FROM content_targets WHERE ref = ?`, ref).Scan(&author)
	if err == sql.ErrNoRows || (err == nil && author == "") {
		return "", store.ErrNotFound
	}
	return author, err
}

// ─── Notification and Grant Operations ──────────────────────────────────────

func (t *sqlTx) InsertNotification(n domain.Notification) error {
	_, err := t.tx.Exec(`
		INSERT INTO notifications (user_id, kind, message, source_id, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, n.UserID, string(n.Kind), n.Message, n.SourceID, encodeTime(n.CreatedAt))
	return err
}

func (t *sqlTx) InsertGrant(g domain.AdminGrant) error {
	_, err := t.tx.Exec(`
		INSERT INTO admin_grants (id, target_user_id, gold, exp, reason, actor_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, g.ID, g.TargetUserID, g.Gold, g.Exp, g.Reason, g.ActorID, encodeTime(g.CreatedAt))
	return err
}

// ─── Store-Level Reads ──────────────────────────────────────────────────────

// Account retrieves an account outside any transaction.
func (d *DB) Account(ctx context.Context, userID string) (*domain.Account, error) {
	var (
		a         domain.Account
		updatedAt string
	)
	err := d.db.QueryRowContext(ctx, `
		SELECT user_id, class_id, gold, exp, quiz_count, post_count, comment_count, updated_at
		FROM accounts WHERE user_id = ?
	`, userID).Scan(&a.UserID, &a.ClassID, &a.Gold, &a.Exp, &a.QuizCount, &a.PostCount, &a.CommentCount, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	a.UpdatedAt = decodeTime(updatedAt)
	return &a, nil
}

// EnsureAccount provisions a zero-balance account if none exists.
func (d *DB) EnsureAccount(ctx context.Context, userID, classID string) error {
	_, err := d.db.ExecContext(ctx, `
		INSERT INTO accounts (user_id, class_id, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET class_id = excluded.class_id WHERE accounts.class_id = ''
	`, userID, classID, encodeTime(time.Now()))
	return err
}

// RegisterTarget records a content target's author.
func (d *DB) RegisterTarget(ctx context.Context, ref, authorID string) error {
	_, err := d.db.ExecContext(ctx, `
		INSERT INTO content_targets (ref, author_id) VALUES (?, ?)
		ON CONFLICT(ref) DO UPDATE SET author_id = excluded.author_id
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
	var args []any
	if q.ClassID != "" {
		query += ` WHERE class_id = ?`
		args = append(args, q.ClassID)
	}
	query += ` ORDER BY ` + col + ` DESC, exp DESC, user_id ASC LIMIT ?`
	args = append(args, limit)

	rows, err := d.db.QueryContext(ctx, query, args...)
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
	rows, err := d.db.QueryContext(ctx, `
		SELECT id, user_id, kind, message, source_id, created_at
		FROM notifications WHERE user_id = ? ORDER BY id DESC LIMIT ?
	`, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Notification
	for rows.Next() {
		var (
			n         domain.Notification
			kind      string
			createdAt string
		)
		if err := rows.Scan(&n.ID, &n.UserID, &kind, &n.Message, &n.SourceID, &createdAt); err != nil {
			return nil, err
		}
		n.Kind = domain.NotificationKind(kind)
		n.CreatedAt = decodeTime(createdAt)
		out = append(out, n)
	}
	return out, rows.Err()
}

// ─── Rate-Limit Record Operations ───────────────────────────────────────────

// CountInWindow counts records for (userID, action) newer than since and
// returns the oldest in-window timestamp.
func (d *DB) CountInWindow(ctx context.Context, userID, action string, since time.Time) (int, time.Time, error) {
	var (
		count    int
		oldestNS sql.NullInt64
	)
	err := d.db.QueryRowContext(ctx, `
		SELECT COUNT(*), MIN(created_at_ns) FROM rate_limit_records
		WHERE user_id = ? AND action = ? AND created_at_ns > ?
	`, userID, action, since.UnixNano()).Scan(&count, &oldestNS)
	if err != nil {
		return 0, time.Time{}, err
	}
	var oldest time.Time
	if oldestNS.Valid {
		oldest = time.Unix(0, oldestNS.Int64)
	}
	return count, oldest, nil
}

// InsertRecord appends one rate-limit record.
func (d *DB) InsertRecord(ctx context.Context, userID, action, referenceID string, at time.Time) error {
	_, err := d.db.ExecContext(ctx, `
		INSERT INTO rate_limit_records (user_id, action, reference_id, created_at_ns)
		VALUES (?, ?, ?, ?)
	`, userID, action, referenceID, at.UnixNano())
	return err
}

// DeleteBefore removes records older than cutoff.
func (d *DB) DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := d.db.ExecContext(ctx, `
		DELETE FROM rate_limit_records WHERE created_at_ns < ?
	`, cutoff.UnixNano())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
