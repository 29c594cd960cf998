// Package ratelimit implements a sliding-window quota on abuse-prone actions.
//
// CheckAndReserve counts persisted records inside [now - window, now] and, if
// under the limit, reserves a slot by appending a record. Count and insert
// are two steps, not one atomic check-and-increment: under pathological
// concurrency a user can slip at most a handful of extra actions through.
// That soft limit is a deliberate trade-off against store-specific atomic
// counters; callers needing a hard gate must serialize upstream.
package ratelimit

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/eduquiz/rewards/internal/infra/observability"
	"github.com/eduquiz/rewards/internal/store"
)

// ─── Action Types and Rules ─────────────────────────────────────────────────

// Gated action types.
const (
	ActionPost    = "post"
	ActionComment = "comment"
)

// Rule is one action's quota: at most MaxCount occurrences per Window.
type Rule struct {
	Window   time.Duration
	MaxCount int
	Message  string
}

// Config maps action types to rules. Actions without a rule pass unchecked —
// only abuse-prone write paths are gated.
type Config struct {
	Rules map[string]Rule

	// Retention is how long records are kept for the sweep. Must be at least
	// the longest rule window.
	Retention time.Duration
}

// DefaultConfig returns the production quotas.
func DefaultConfig() Config {
	return Config{
		Rules: map[string]Rule{
			ActionPost:    {Window: 60 * time.Second, MaxCount: 3, Message: "too many posts, slow down"},
			ActionComment: {Window: 30 * time.Second, MaxCount: 1, Message: "too many comments, slow down"},
		},
		Retention: time.Hour,
	}
}

// Decision is the outcome of one quota check.
type Decision struct {
	Allowed bool `json:"allowed"`

	// Remaining is how many slots stay free after this reservation; -1 for
	// ungated actions.
	Remaining int `json:"remaining"`

	// ResetAt is when the next slot frees (oldest in-window record plus the
	// window). Zero when allowed with slots to spare.
	ResetAt time.Time `json:"reset_at,omitzero"`

	// Reason carries the user-visible rejection message when denied.
	Reason string `json:"reason,omitempty"`
}

// ─── Limiter ────────────────────────────────────────────────────────────────

// Limiter checks and records quota usage against a RateLimitStore.
type Limiter struct {
	records store.RateLimitStore
	cfg     Config

	// Injectable clock for testing.
	now func() time.Time
}

// New creates a limiter.
func New(records store.RateLimitStore, cfg Config) *Limiter {
	return &Limiter{records: records, cfg: cfg, now: time.Now}
}

// CheckAndReserve decides whether (userID, action) may proceed right now and,
// if so, reserves one slot. referenceID tags the record with the gated action
// for audit correlation. The caller must honor a denial — nothing stops a
// write path that skips this call.
func (l *Limiter) CheckAndReserve(ctx context.Context, userID, action, referenceID string) (Decision, error) {
	rule, ok := l.cfg.Rules[action]
	if !ok {
		return Decision{Allowed: true, Remaining: -1}, nil
	}

	now := l.now()
	since := now.Add(-rule.Window)

	count, oldest, err := l.records.CountInWindow(ctx, userID, action, since)
	if err != nil {
		return Decision{}, err
	}

	if count >= rule.MaxCount {
		d := Decision{
			Allowed: false,
			ResetAt: oldest.Add(rule.Window),
			Reason:  rule.Message,
		}
		observability.LimiterDecision(action, false)
		log.WithFields(log.Fields{
			"user":     userID,
			"action":   action,
			"count":    count,
			"reset_at": d.ResetAt,
		}).Info("action denied by quota")
		return d, nil
	}

	if err := l.records.InsertRecord(ctx, userID, action, referenceID, now); err != nil {
		return Decision{}, err
	}
	observability.LimiterDecision(action, true)

	d := Decision{
		Allowed:   true,
		Remaining: rule.MaxCount - count - 1,
	}
	if d.Remaining == 0 {
		if oldest.IsZero() {
			oldest = now
		}
		d.ResetAt = oldest.Add(rule.Window)
	}
	return d, nil
}

// Sweep deletes records older than the retention horizon. Scheduled outside
// the request path; the limiter is correct without it, storage growth is not.
func (l *Limiter) Sweep(ctx context.Context) (int64, error) {
	retention := l.cfg.Retention
	if retention <= 0 {
		retention = time.Hour
	}
	cutoff := l.now().Add(-retention)

	n, err := l.records.DeleteBefore(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	observability.LimiterSwept(n)
	if n > 0 {
		log.WithField("deleted", n).Info("rate-limit records swept")
	}
	return n, nil
}
