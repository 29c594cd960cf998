// Package ledger implements idempotent reward crediting.
//
// Every event flows through one transactional read-modify-write: re-read the
// applied latch, validate, compute the amount, credit gold/exp, adjust the
// secondary counter, record notification facts, and flip the latch — all or
// nothing. Redelivered events hit the latch and no-op, which is what makes
// any at-least-once transport safe to sit in front of this package.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/eduquiz/rewards/internal/domain"
	"github.com/eduquiz/rewards/internal/infra/observability"
	"github.com/eduquiz/rewards/internal/store"
)

// ─── Configuration ──────────────────────────────────────────────────────────

// Config holds the injected reward and rank tables plus grant bounds.
type Config struct {
	Rewards domain.RewardTable
	Ranks   domain.RankTable

	// MaxGrantGold / MaxGrantExp bound a single admin grant. A grant must be
	// positive in at least one dimension and neither may exceed its bound.
	MaxGrantGold int64
	MaxGrantExp  int64
}

// DefaultConfig returns production tables and grant bounds.
func DefaultConfig() Config {
	return Config{
		Rewards:      domain.DefaultRewardTable(),
		Ranks:        domain.DefaultRankTable(),
		MaxGrantGold: 10_000,
		MaxGrantExp:  5_000,
	}
}

// Notifier receives reward facts after they are durably committed. Delivery
// mechanics are out of scope; implementations must not block.
type Notifier interface {
	RewardGranted(userID string, kind domain.EventKind, amount domain.RewardAmount)
	RankChanged(userID string, from, to domain.Rank)
}

// NopNotifier discards all facts.
type NopNotifier struct{}

func (NopNotifier) RewardGranted(string, domain.EventKind, domain.RewardAmount) {}
func (NopNotifier) RankChanged(string, domain.Rank, domain.Rank)                {}

// ─── Service ────────────────────────────────────────────────────────────────

// Service is the reward ledger.
type Service struct {
	store    store.Store
	cfg      Config
	notifier Notifier

	// Injectable clock for testing.
	now func() time.Time
}

// New creates a ledger over the given store.
func New(st store.Store, cfg Config, notifier Notifier) *Service {
	if notifier == nil {
		notifier = NopNotifier{}
	}
	return &Service{
		store:    st,
		cfg:      cfg,
		notifier: notifier,
		now:      time.Now,
	}
}

// ApplyReward credits one event exactly once. Safe to call any number of
// times with the same event: the first call credits, every later call
// returns Credited=false with a zero amount.
//
// Validation failures and self-rewards return the corresponding sentinel
// error with nothing written; both are terminal for the event.
func (s *Service) ApplyReward(ctx context.Context, ev domain.RewardEvent) (domain.CreditResult, error) {
	timer := observability.ApplyTimer()
	defer timer.ObserveDuration()

	if err := ev.Validate(); err != nil {
		observability.RewardRejected(ev.Kind, err)
		log.WithFields(log.Fields{
			"source_id": ev.SourceID,
			"kind":      ev.Kind,
		}).WithError(err).Warn("reward event rejected")
		return domain.CreditResult{}, err
	}

	var result domain.CreditResult
	err := s.store.RunInTx(ctx, func(tx store.Tx) error {
		result = domain.CreditResult{}

		// Step 1: re-read the latch. This runs again on every conflict
		// retry, which is exactly what makes retrying safe.
		current, err := tx.UpsertEventPending(&ev)
		if err != nil {
			return err
		}
		if current.Applied {
			result = domain.CreditResult{Credited: false}
			return nil
		}

		// Steps 2–3: amount from the event's own immutable payload.
		amount, err := s.cfg.Rewards.Amount(&ev)
		if err != nil {
			return err
		}

		// Step 4: rank before.
		account, err := tx.Account(ev.SubjectUserID)
		if err != nil {
			return err
		}
		rankBefore := s.cfg.Ranks.RankOf(account.Exp)

		// Step 5: credit, secondary writes, and the latch — one transaction.
		if err := tx.Credit(ev.SubjectUserID, amount); err != nil {
			return err
		}
		if err := s.applySecondary(tx, &ev); err != nil {
			return err
		}

		rankAfter := s.cfg.Ranks.RankOf(account.Exp + amount.Exp)
		if rankAfter != rankBefore {
			if err := tx.InsertNotification(domain.Notification{
				UserID:    ev.SubjectUserID,
				Kind:      domain.NotifyRankUp,
				Message:   fmt.Sprintf("rank up: %s → %s", rankBefore, rankAfter),
				SourceID:  ev.SourceID,
				CreatedAt: s.now(),
			}); err != nil {
				return err
			}
		}

		if err := tx.MarkApplied(ev.SourceID, amount, s.now()); err != nil {
			return err
		}

		result = domain.CreditResult{
			Credited:     true,
			Gold:         amount.Gold,
			Exp:          amount.Exp,
			RankUp:       rankAfter != rankBefore,
			PreviousRank: rankBefore,
			NewRank:      rankAfter,
		}
		return nil
	})
	if err != nil {
		return domain.CreditResult{}, err
	}

	if !result.Credited {
		observability.RewardDuplicate(ev.Kind)
		return result, nil
	}

	observability.RewardApplied(ev.Kind)
	log.WithFields(log.Fields{
		"source_id": ev.SourceID,
		"kind":      ev.Kind,
		"user":      ev.SubjectUserID,
		"gold":      result.Gold,
		"exp":       result.Exp,
		"rank_up":   result.RankUp,
	}).Info("reward credited")

	s.notifier.RewardGranted(ev.SubjectUserID, ev.Kind, domain.RewardAmount{Gold: result.Gold, Exp: result.Exp})
	if result.RankUp {
		observability.RankUp()
		s.notifier.RankChanged(ev.SubjectUserID, result.PreviousRank, result.NewRank)
	}
	return result, nil
}

// applySecondary performs the per-kind writes that ride in the credit
// transaction: activity stats, content counters, and comment notifications.
func (s *Service) applySecondary(tx store.Tx, ev *domain.RewardEvent) error {
	switch ev.Kind {
	case domain.KindQuizComplete:
		return tx.IncrementStat(ev.SubjectUserID, store.StatQuizCount)

	case domain.KindPostCreate:
		return tx.IncrementStat(ev.SubjectUserID, store.StatPostCount)

	case domain.KindCommentCreate:
		if err := tx.IncrementStat(ev.SubjectUserID, store.StatCommentCount); err != nil {
			return err
		}
		if err := tx.AdjustCounter(ev.TargetRef, store.CounterComments, 1); err != nil {
			return err
		}
		// Notify the parent's author, unless they commented themselves or
		// the target was never registered.
		author, err := tx.TargetAuthor(ev.TargetRef)
		if errors.Is(err, store.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		if author == ev.SubjectUserID {
			return nil
		}
		return tx.InsertNotification(domain.Notification{
			UserID:    author,
			Kind:      domain.NotifyNewComment,
			Message:   "new comment on your post",
			SourceID:  ev.SourceID,
			CreatedAt: s.now(),
		})

	case domain.KindLikeReceived:
		return tx.AdjustCounter(ev.TargetRef, store.CounterLikes, 1)

	case domain.KindLikeRemoved:
		return tx.AdjustCounter(ev.TargetRef, store.CounterLikes, -1)
	}
	return nil
}

// ─── Admin Grants ───────────────────────────────────────────────────────────

// GrantAdminReward credits a user outside the event flow. Always audited:
// the grant row records the acting administrator and lands in the same
// transaction as the credit.
func (s *Service) GrantAdminReward(ctx context.Context, targetUserID string, amount domain.RewardAmount, reason, actorID string) (domain.CreditResult, error) {
	if targetUserID == "" || actorID == "" || reason == "" {
		return domain.CreditResult{}, fmt.Errorf("%w: target, actor and reason are required", domain.ErrValidation)
	}
	if amount.Gold < 0 || amount.Exp < 0 || amount.IsZero() ||
		amount.Gold > s.cfg.MaxGrantGold || amount.Exp > s.cfg.MaxGrantExp {
		return domain.CreditResult{}, fmt.Errorf("%w: gold=%d exp=%d (max %d/%d)",
			domain.ErrGrantOutOfRange, amount.Gold, amount.Exp, s.cfg.MaxGrantGold, s.cfg.MaxGrantExp)
	}

	var result domain.CreditResult
	err := s.store.RunInTx(ctx, func(tx store.Tx) error {
		account, err := tx.Account(targetUserID)
		if err != nil {
			return err
		}
		rankBefore := s.cfg.Ranks.RankOf(account.Exp)

		if err := tx.Credit(targetUserID, amount); err != nil {
			return err
		}
		if err := tx.InsertGrant(domain.AdminGrant{
			ID:           uuid.NewString(),
			TargetUserID: targetUserID,
			Gold:         amount.Gold,
			Exp:          amount.Exp,
			Reason:       reason,
			ActorID:      actorID,
			CreatedAt:    s.now(),
		}); err != nil {
			return err
		}

		rankAfter := s.cfg.Ranks.RankOf(account.Exp + amount.Exp)
		result = domain.CreditResult{
			Credited:     true,
			Gold:         amount.Gold,
			Exp:          amount.Exp,
			RankUp:       rankAfter != rankBefore,
			PreviousRank: rankBefore,
			NewRank:      rankAfter,
		}
		return nil
	})
	if err != nil {
		return domain.CreditResult{}, err
	}

	observability.GrantRecorded()
	log.WithFields(log.Fields{
		"target": targetUserID,
		"actor":  actorID,
		"gold":   amount.Gold,
		"exp":    amount.Exp,
		"reason": reason,
	}).Info("admin grant recorded")

	if result.RankUp {
		s.notifier.RankChanged(targetUserID, result.PreviousRank, result.NewRank)
	}
	return result, nil
}

// ─── Queries ────────────────────────────────────────────────────────────────

// Balance returns a user's current gold, exp, and derived rank.
func (s *Service) Balance(ctx context.Context, userID string) (domain.Balance, error) {
	account, err := s.store.Account(ctx, userID)
	if errors.Is(err, store.ErrNotFound) {
		return domain.Balance{}, domain.ErrAccountNotFound
	}
	if err != nil {
		return domain.Balance{}, err
	}
	return domain.Balance{
		UserID: account.UserID,
		Gold:   account.Gold,
		Exp:    account.Exp,
		Rank:   s.cfg.Ranks.RankOf(account.Exp),
	}, nil
}

// Leaderboard returns the ranked listing for the query.
func (s *Service) Leaderboard(ctx context.Context, q domain.LeaderboardQuery) ([]domain.LeaderboardEntry, error) {
	if q.SortBy != "" && !domain.KnownSort(q.SortBy) {
		return nil, fmt.Errorf("%w: sort %q", domain.ErrValidation, q.SortBy)
	}
	return s.store.Leaderboard(ctx, q)
}
