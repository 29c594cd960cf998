package domain

import "time"

// ─── Reward Events ──────────────────────────────────────────────────────────
// A RewardEvent is an immutable fact produced by whatever observes the
// platform (quiz completions, posts, comments, likes, feedback). Delivery is
// at-least-once: the same event may arrive more than once or concurrently.
// SourceID doubles as the idempotency key — the Applied flag is a monotonic
// false→true latch flipped in the same transaction as the credit.

// EventKind identifies the action that earned a reward.
type EventKind string

const (
	KindQuizComplete  EventKind = "quiz-complete"
	KindPostCreate    EventKind = "post-create"
	KindCommentCreate EventKind = "comment-create"
	KindLikeReceived  EventKind = "like-received"
	KindLikeRemoved   EventKind = "like-removed"
	KindFeedback      EventKind = "feedback-submit"
)

// KnownKind reports whether k is one of the defined event kinds.
func KnownKind(k EventKind) bool {
	switch k {
	case KindQuizComplete, KindPostCreate, KindCommentCreate,
		KindLikeReceived, KindLikeRemoved, KindFeedback:
		return true
	}
	return false
}

// RewardEvent is the payload handed to the ledger, one per domain event.
type RewardEvent struct {
	// SourceID is the unique key of the triggering document/action and the
	// idempotency key for the credit.
	SourceID string `json:"source_id"`

	Kind EventKind `json:"kind"`

	// SubjectUserID is who gets credited.
	SubjectUserID string `json:"subject_user_id"`

	// ActorUserID is who performed the action, when that differs from the
	// subject (e.g. the liker on a like-received event).
	ActorUserID string `json:"actor_user_id,omitempty"`

	// Score is the quiz score in [0, 100]; only meaningful for quiz-complete.
	Score int `json:"score,omitempty"`

	// TargetRef points at the counter target (parent post for a comment, the
	// liked content for a like). Empty when the kind has no secondary write.
	TargetRef string `json:"target_ref,omitempty"`

	// Applied is the idempotency latch. False until the credit lands, then
	// true forever. Flipped only by the ledger, inside the credit transaction.
	Applied     bool      `json:"applied"`
	AppliedGold int64     `json:"applied_gold"`
	AppliedExp  int64     `json:"applied_exp"`
	AppliedAt   time.Time `json:"applied_at,omitzero"`

	CreatedAt time.Time `json:"created_at,omitzero"`
}

// Validate checks the payload for the fields its kind requires. A validation
// failure is terminal: the event is left unapplied and never retried by the
// ledger itself.
func (e *RewardEvent) Validate() error {
	if e.SourceID == "" {
		return fieldError("source_id")
	}
	if e.SubjectUserID == "" {
		return fieldError("subject_user_id")
	}
	if !KnownKind(e.Kind) {
		return ErrUnknownKind
	}

	switch e.Kind {
	case KindQuizComplete:
		if e.Score < 0 || e.Score > 100 {
			return fieldError("score")
		}
	case KindCommentCreate:
		if e.TargetRef == "" {
			return fieldError("target_ref")
		}
	case KindLikeReceived, KindLikeRemoved:
		if e.TargetRef == "" {
			return fieldError("target_ref")
		}
		if e.ActorUserID == "" {
			return fieldError("actor_user_id")
		}
		// Liking your own content earns nothing.
		if e.ActorUserID == e.SubjectUserID {
			return ErrSelfReward
		}
	}
	return nil
}

// CreditResult is the outcome of applying one event.
type CreditResult struct {
	// Credited is false when the event was already applied (idempotent no-op).
	Credited bool  `json:"credited"`
	Gold     int64 `json:"gold"`
	Exp      int64 `json:"exp"`

	RankUp       bool `json:"rank_up"`
	PreviousRank Rank `json:"previous_rank"`
	NewRank      Rank `json:"new_rank"`
}
