// Package domain contains pure business types with ZERO infrastructure imports.
// This is the innermost ring of the service — it depends on nothing.
package domain

import "time"

// ─── Account Types ──────────────────────────────────────────────────────────

// Account is a user's gamification balance. Gold and Exp only ever increase
// through the ledger's credit operation; the rank is always derived from Exp
// via RankOf and never stored as an independent source of truth.
type Account struct {
	UserID       string    `json:"user_id"`
	ClassID      string    `json:"class_id,omitempty"`
	Gold         int64     `json:"gold"`
	Exp          int64     `json:"exp"`
	QuizCount    int64     `json:"quiz_count"`
	PostCount    int64     `json:"post_count"`
	CommentCount int64     `json:"comment_count"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Rank returns the account's current tier, computed from Exp.
func (a *Account) Rank() Rank {
	return RankOf(a.Exp)
}

// Balance is the read-only view served to clients.
type Balance struct {
	UserID string `json:"user_id"`
	Gold   int64  `json:"gold"`
	Exp    int64  `json:"exp"`
	Rank   Rank   `json:"rank"`
}

// ─── Admin Grant ────────────────────────────────────────────────────────────

// AdminGrant records a manual, explicitly-audited credit. It is a distinct
// path from event-driven rewards: never derived from a RewardEvent, always
// tagged with the granting actor.
type AdminGrant struct {
	ID           string    `json:"id"`
	TargetUserID string    `json:"target_user_id"`
	Gold         int64     `json:"gold"`
	Exp          int64     `json:"exp"`
	Reason       string    `json:"reason"`
	ActorID      string    `json:"actor_id"`
	CreatedAt    time.Time `json:"created_at"`
}

// ─── Notification Facts ─────────────────────────────────────────────────────

// NotificationKind classifies a notification fact recorded by the ledger.
type NotificationKind string

const (
	NotifyRankUp     NotificationKind = "rank_up"
	NotifyNewComment NotificationKind = "new_comment"
)

// Notification is a delivery-agnostic fact written in the same transaction as
// the credit that caused it. Actual delivery is an external concern.
type Notification struct {
	ID        int64            `json:"id"`
	UserID    string           `json:"user_id"`
	Kind      NotificationKind `json:"kind"`
	Message   string           `json:"message"`
	SourceID  string           `json:"source_id,omitempty"`
	CreatedAt time.Time        `json:"created_at"`
}
