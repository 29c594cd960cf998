// Package events is the dispatch boundary between at-least-once transports
// and the ledger. Any source that can redeliver — a message queue, a change
// feed, a webhook retrier — plugs in behind the Source interface; the
// ledger's idempotency latch is what makes the substitution safe.
package events

import (
	"context"
	"errors"

	log "github.com/sirupsen/logrus"

	"github.com/eduquiz/rewards/internal/domain"
)

// ─── Source ─────────────────────────────────────────────────────────────────

// Delivery is one received event plus its acknowledgement hook. Ack(nil)
// settles the delivery; Ack(err) asks the transport to redeliver later.
type Delivery struct {
	Event domain.RewardEvent
	Ack   func(error)
}

// Source yields deliveries until the context ends. Next blocks; it returns
// the context's error once cancelled.
type Source interface {
	Next(ctx context.Context) (Delivery, error)
}

// Ledger is the slice of the reward ledger the consumer needs.
type Ledger interface {
	ApplyReward(ctx context.Context, ev domain.RewardEvent) (domain.CreditResult, error)
}

// ─── Consumer ───────────────────────────────────────────────────────────────

// Consumer pulls deliveries from a source and feeds them to the ledger.
type Consumer struct {
	src    Source
	ledger Ledger
}

// NewConsumer creates a consumer.
func NewConsumer(src Source, ledger Ledger) *Consumer {
	return &Consumer{src: src, ledger: ledger}
}

// Run processes deliveries until the context is cancelled.
//
// Terminal outcomes (credited, duplicate, validation failure, self-reward)
// are acked — redelivering them can never change the result. Transient
// failures are nacked so the transport redelivers; thanks to the latch a
// redelivery after a partially-observed failure still credits at most once.
func (c *Consumer) Run(ctx context.Context) error {
	for {
		d, err := c.src.Next(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil
			}
			return err
		}
		c.handle(ctx, d)
	}
}

func (c *Consumer) handle(ctx context.Context, d Delivery) {
	_, err := c.ledger.ApplyReward(ctx, d.Event)
	if err == nil || terminal(err) {
		if err != nil {
			log.WithFields(log.Fields{
				"source_id": d.Event.SourceID,
				"kind":      d.Event.Kind,
			}).WithError(err).Debug("event settled without credit")
		}
		d.Ack(nil)
		return
	}

	log.WithFields(log.Fields{
		"source_id": d.Event.SourceID,
		"kind":      d.Event.Kind,
	}).WithError(err).Warn("event processing failed, requesting redelivery")
	d.Ack(err)
}

// terminal reports whether err can never succeed on retry.
func terminal(err error) bool {
	return errors.Is(err, domain.ErrValidation) ||
		errors.Is(err, domain.ErrUnknownKind) ||
		errors.Is(err, domain.ErrSelfReward) ||
		errors.Is(err, domain.ErrAlreadyApplied)
}

// ─── Channel Source ─────────────────────────────────────────────────────────

// ChannelSource is an in-process Source backed by a buffered channel. Nacked
// deliveries are requeued, giving tests and embedded deployments real
// at-least-once semantics.
type ChannelSource struct {
	ch chan domain.RewardEvent
}

// NewChannelSource creates a source with the given buffer size.
func NewChannelSource(buffer int) *ChannelSource {
	if buffer <= 0 {
		buffer = 64
	}
	return &ChannelSource{ch: make(chan domain.RewardEvent, buffer)}
}

// Publish enqueues an event. Blocks when the buffer is full.
func (s *ChannelSource) Publish(ctx context.Context, ev domain.RewardEvent) error {
	select {
	case s.ch <- ev:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Next yields the next event. The returned Ack requeues on failure.
func (s *ChannelSource) Next(ctx context.Context) (Delivery, error) {
	select {
	case ev := <-s.ch:
		return Delivery{
			Event: ev,
			Ack: func(err error) {
				if err == nil {
					return
				}
				// Best-effort requeue; drop if the buffer is full rather
				// than deadlock the consumer loop.
				select {
				case s.ch <- ev:
				default:
				}
			},
		}, nil
	case <-ctx.Done():
		return Delivery{}, ctx.Err()
	}
}
