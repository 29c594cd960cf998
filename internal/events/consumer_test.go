package events

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/eduquiz/rewards/internal/domain"
)

// fakeLedger fails each event a configurable number of times before
// crediting, and counts how often each source ID was credited.
type fakeLedger struct {
	mu        sync.Mutex
	failures  map[string]int
	credited  map[string]int
	attempts  map[string]int
	rejectErr error
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{
		failures: make(map[string]int),
		credited: make(map[string]int),
		attempts: make(map[string]int),
	}
}

func (l *fakeLedger) ApplyReward(_ context.Context, ev domain.RewardEvent) (domain.CreditResult, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.attempts[ev.SourceID]++
	if l.rejectErr != nil {
		return domain.CreditResult{}, l.rejectErr
	}
	if l.failures[ev.SourceID] > 0 {
		l.failures[ev.SourceID]--
		return domain.CreditResult{}, errors.New("store temporarily down")
	}
	if l.credited[ev.SourceID] > 0 {
		// Latch behavior: later deliveries are duplicates.
		return domain.CreditResult{Credited: false}, nil
	}
	l.credited[ev.SourceID]++
	return domain.CreditResult{Credited: true, Gold: 10, Exp: 5}, nil
}

func (l *fakeLedger) creditCount(sourceID string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.credited[sourceID]
}

func (l *fakeLedger) attemptCount(sourceID string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.attempts[sourceID]
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met within deadline")
}

func testEvent(id string) domain.RewardEvent {
	return domain.RewardEvent{
		SourceID:      id,
		Kind:          domain.KindPostCreate,
		SubjectUserID: "alice",
	}
}

func TestConsumer_DeliversToLedger(t *testing.T) {
	src := NewChannelSource(8)
	ledger := newFakeLedger()
	consumer := NewConsumer(src, ledger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		consumer.Run(ctx)
		close(done)
	}()

	if err := src.Publish(ctx, testEvent("e1")); err != nil {
		t.Fatal(err)
	}
	waitFor(t, func() bool { return ledger.creditCount("e1") == 1 })

	cancel()
	<-done
}

func TestConsumer_RedeliversTransientFailures(t *testing.T) {
	src := NewChannelSource(8)
	ledger := newFakeLedger()
	ledger.failures["e1"] = 2 // fail twice, then succeed
	consumer := NewConsumer(src, ledger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go consumer.Run(ctx)

	if err := src.Publish(ctx, testEvent("e1")); err != nil {
		t.Fatal(err)
	}

	// Despite two transient failures the event credits exactly once.
	waitFor(t, func() bool { return ledger.creditCount("e1") == 1 })
	if got := ledger.attemptCount("e1"); got != 3 {
		t.Errorf("attempts = %d, want 3 (two failures plus the success)", got)
	}
}

func TestConsumer_TerminalErrorsAreNotRedelivered(t *testing.T) {
	src := NewChannelSource(8)
	ledger := newFakeLedger()
	ledger.rejectErr = domain.ErrValidation
	consumer := NewConsumer(src, ledger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go consumer.Run(ctx)

	if err := src.Publish(ctx, testEvent("bad")); err != nil {
		t.Fatal(err)
	}
	waitFor(t, func() bool { return ledger.attemptCount("bad") == 1 })

	// Give the loop a moment; a redelivery would show as a second attempt.
	time.Sleep(50 * time.Millisecond)
	if got := ledger.attemptCount("bad"); got != 1 {
		t.Errorf("attempts = %d, want 1 (validation failures are terminal)", got)
	}
}

func TestConsumer_StopsOnCancel(t *testing.T) {
	src := NewChannelSource(1)
	consumer := NewConsumer(src, newFakeLedger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- consumer.Run(ctx) }()

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run() after cancel = %v, want nil", err)
		}
	case <-time.After(time.Second):
		t.Fatal("consumer did not stop on cancel")
	}
}

func TestChannelSource_NackRequeues(t *testing.T) {
	src := NewChannelSource(8)
	ctx := context.Background()

	if err := src.Publish(ctx, testEvent("e1")); err != nil {
		t.Fatal(err)
	}

	d, err := src.Next(ctx)
	if err != nil {
		t.Fatal(err)
	}
	d.Ack(errors.New("try again"))

	redelivered, err := src.Next(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if redelivered.Event.SourceID != "e1" {
		t.Errorf("redelivered %q, want e1", redelivered.Event.SourceID)
	}
	redelivered.Ack(nil)

	// Settled: nothing left to deliver.
	shortCtx, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
	defer cancel()
	if _, err := src.Next(shortCtx); err == nil {
		t.Error("acked delivery must not come back")
	}
}
