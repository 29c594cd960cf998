// Package observability holds the service's Prometheus metrics.
// Exposed on /metrics when enabled in config.
package observability

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/eduquiz/rewards/internal/domain"
)

// ─── Ledger Metrics ─────────────────────────────────────────────────────────

// rewardsApplied counts credits that landed, by event kind.
var rewardsApplied = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "rewards",
	Subsystem: "ledger",
	Name:      "applied_total",
	Help:      "Total reward events credited, by kind.",
}, []string{"kind"})

// rewardsDuplicate counts idempotent no-ops (redeliveries).
var rewardsDuplicate = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "rewards",
	Subsystem: "ledger",
	Name:      "duplicates_total",
	Help:      "Total redelivered events absorbed by the idempotency latch, by kind.",
}, []string{"kind"})

// rewardsRejected counts terminal rejections, by reason.
var rewardsRejected = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "rewards",
	Subsystem: "ledger",
	Name:      "rejected_total",
	Help:      "Total events rejected at validation, by kind and reason.",
}, []string{"kind", "reason"})

// rankUps counts detected rank-tier transitions.
var rankUps = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "rewards",
	Subsystem: "ledger",
	Name:      "rank_ups_total",
	Help:      "Total rank-tier transitions detected while crediting.",
})

// grants counts audited admin grants.
var grants = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "rewards",
	Subsystem: "ledger",
	Name:      "admin_grants_total",
	Help:      "Total admin grants recorded.",
})

// applyDuration tracks end-to-end ApplyReward latency, retries included.
var applyDuration = promauto.NewHistogram(prometheus.HistogramOpts{
	Namespace: "rewards",
	Subsystem: "ledger",
	Name:      "apply_seconds",
	Help:      "ApplyReward latency in seconds, conflict retries included.",
	Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
})

// RewardApplied records a landed credit.
func RewardApplied(kind domain.EventKind) {
	rewardsApplied.WithLabelValues(string(kind)).Inc()
}

// RewardDuplicate records an absorbed redelivery.
func RewardDuplicate(kind domain.EventKind) {
	rewardsDuplicate.WithLabelValues(string(kind)).Inc()
}

// RewardRejected records a terminal rejection.
func RewardRejected(kind domain.EventKind, err error) {
	rewardsRejected.WithLabelValues(string(kind), rejectionReason(err)).Inc()
}

// RankUp records a rank-tier transition.
func RankUp() { rankUps.Inc() }

// GrantRecorded records an admin grant.
func GrantRecorded() { grants.Inc() }

// ApplyTimer starts an ApplyReward latency observation.
func ApplyTimer() *prometheus.Timer {
	return prometheus.NewTimer(applyDuration)
}

func rejectionReason(err error) string {
	switch {
	case errors.Is(err, domain.ErrSelfReward):
		return "self_reward"
	case errors.Is(err, domain.ErrUnknownKind):
		return "unknown_kind"
	case errors.Is(err, domain.ErrValidation):
		return "validation"
	default:
		return "other"
	}
}

// ─── Rate Limiter Metrics ───────────────────────────────────────────────────

// limiterDecisions counts quota decisions, by action and outcome.
var limiterDecisions = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "rewards",
	Subsystem: "ratelimit",
	Name:      "decisions_total",
	Help:      "Total rate-limit decisions, by action and outcome.",
}, []string{"action", "allowed"})

// limiterSwept counts records removed by the sweep job.
var limiterSwept = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "rewards",
	Subsystem: "ratelimit",
	Name:      "swept_records_total",
	Help:      "Total expired rate-limit records deleted by the sweep job.",
})

// LimiterDecision records one quota decision.
func LimiterDecision(action string, allowed bool) {
	v := "false"
	if allowed {
		v = "true"
	}
	limiterDecisions.WithLabelValues(action, v).Inc()
}

// LimiterSwept records deleted records.
func LimiterSwept(n int64) {
	if n > 0 {
		limiterSwept.Add(float64(n))
	}
}

// ─── Store Metrics ──────────────────────────────────────────────────────────

// txConflicts counts optimistic-transaction conflicts that forced a retry.
var txConflicts = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "rewards",
	Subsystem: "store",
	Name:      "tx_conflicts_total",
	Help:      "Total transaction conflicts that forced a full re-read retry.",
})

// TxConflict records one conflict retry.
func TxConflict() { txConflicts.Inc() }
