// Package store defines the transactional unit-of-work boundary between the
// reward engine and its backing database. Any store with per-key transactions
// and conflict detection can implement it; sqlite is the default, postgres
// and redis (rate-limit records only) ship as alternatives.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/eduquiz/rewards/internal/domain"
)

// ─── Errors ─────────────────────────────────────────────────────────────────

var (
	// ErrConflict is the transient signal that two writers raced on the same
	// rows. Callers must retry the whole read-modify-write, never just the
	// write — the re-read is what makes retry safe.
	ErrConflict = errors.New("transaction conflict")

	// ErrNotFound means the requested row does not exist.
	ErrNotFound = errors.New("not found")
)

// ─── Transactional Unit of Work ─────────────────────────────────────────────

// Tx exposes the reads and writes available inside one transaction. The scope
// of a single reward credit is the event row, the subject's account, at most
// one counter target, and any notification facts — all land or none do.
type Tx interface {
	// UpsertEventPending inserts the event with Applied=false if no row for
	// its SourceID exists yet, then returns the current row. On redelivery
	// the stored row (possibly already applied) wins over the payload.
	UpsertEventPending(ev *domain.RewardEvent) (*domain.RewardEvent, error)

	// MarkApplied flips the event's latch and records the credited amount.
	// The flag and amount change together, atomically with the credit.
	MarkApplied(sourceID string, amount domain.RewardAmount, at time.Time) error

	// Account returns the subject's account, creating a zero row on first
	// touch so new users can be credited without separate provisioning.
	Account(userID string) (*domain.Account, error)

	// Credit increments gold/exp. Amounts are non-negative; balances only
	// ever increase through this call.
	Credit(userID string, amount domain.RewardAmount) error

	// IncrementStat bumps one of the account's activity counters
	// (quiz_count, post_count, comment_count).
	IncrementStat(userID string, stat AccountStat) error

	// AdjustCounter changes a content target's comment or like counter by
	// delta, creating the row if needed.
	AdjustCounter(ref string, counter TargetCounter, delta int64) error

	// TargetAuthor returns the registered author of a content target, or
	// ErrNotFound when the target was never registered.
	TargetAuthor(ref string) (string, error)

	// InsertNotification records a notification fact.
	InsertNotification(n domain.Notification) error

	// InsertGrant records an audited admin grant.
	InsertGrant(g domain.AdminGrant) error
}

// AccountStat names an account activity counter.
type AccountStat string

const (
	StatQuizCount    AccountStat = "quiz_count"
	StatPostCount    AccountStat = "post_count"
	StatCommentCount AccountStat = "comment_count"
)

// TargetCounter names a content target counter.
type TargetCounter string

const (
	CounterComments TargetCounter = "comment_count"
	CounterLikes    TargetCounter = "like_count"
)

// Store is the full persistence surface. RunInTx executes fn inside one
// transaction and retries the entire fn on ErrConflict; fn must therefore be
// safe to re-run from the top, which the ledger guarantees by re-reading the
// idempotency latch first.
type Store interface {
	RunInTx(ctx context.Context, fn func(Tx) error) error

	// Account is a plain read outside any transaction.
	Account(ctx context.Context, userID string) (*domain.Account, error)

	// EnsureAccount provisions a zero-balance account (used at signup and by
	// tests); no-op if the account exists.
	EnsureAccount(ctx context.Context, userID, classID string) error

	// RegisterTarget records a content target's author so comment credits can
	// attribute notification facts.
	RegisterTarget(ctx context.Context, ref, authorID string) error

	// Leaderboard returns the top accounts for the query.
	Leaderboard(ctx context.Context, q domain.LeaderboardQuery) ([]domain.LeaderboardEntry, error)

	// Notifications returns pending notification facts for a user, newest
	// first.
	Notifications(ctx context.Context, userID string, limit int) ([]domain.Notification, error)

	Close() error
}

// ─── Rate-Limit Records ─────────────────────────────────────────────────────

// RateLimitStore persists the append-only (user, action, timestamp) facts the
// sliding-window limiter counts. Count and insert are deliberately separate
// calls — the limiter's soft-limit trade-off lives above this interface.
type RateLimitStore interface {
	// CountInWindow returns how many records exist for (userID, action) with
	// timestamp > since, and the oldest in-window timestamp (zero when none).
	CountInWindow(ctx context.Context, userID, action string, since time.Time) (count int, oldest time.Time, err error)

	// InsertRecord appends one record tagged with the gated action's
	// reference ID for audit correlation.
	InsertRecord(ctx context.Context, userID, action, referenceID string, at time.Time) error

	// DeleteBefore removes records older than cutoff and reports how many.
	DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error)
}
