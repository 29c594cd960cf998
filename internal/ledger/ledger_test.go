package ledger

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/eduquiz/rewards/internal/domain"
	"github.com/eduquiz/rewards/internal/infra/sqlite"
	"github.com/eduquiz/rewards/internal/store"
)

func newTestStore(t *testing.T) *sqlite.DB {
	t.Helper()
	db, err := sqlite.Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func newTestService(t *testing.T) (*Service, *sqlite.DB) {
	t.Helper()
	db := newTestStore(t)
	return New(db, DefaultConfig(), nil), db
}

func quizEvent(sourceID, user string, score int) domain.RewardEvent {
	return domain.RewardEvent{
		SourceID:      sourceID,
		Kind:          domain.KindQuizComplete,
		SubjectUserID: user,
		Score:         score,
	}
}

// ─── Crediting ──────────────────────────────────────────────────────────────

func TestApplyReward_PerfectQuiz(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	result, err := svc.ApplyReward(ctx, quizEvent("attempt-1", "alice", 100))
	if err != nil {
		t.Fatalf("ApplyReward() error: %v", err)
	}
	if !result.Credited {
		t.Fatal("first apply must credit")
	}
	if result.Gold != 100 || result.Exp != 50 {
		t.Errorf("credited %d/%d, want 100/50", result.Gold, result.Exp)
	}

	balance, err := svc.Balance(ctx, "alice")
	if err != nil {
		t.Fatal(err)
	}
	if balance.Gold != 100 || balance.Exp != 50 {
		t.Errorf("balance = %d/%d, want 100/50", balance.Gold, balance.Exp)
	}
}

func TestApplyReward_Idempotent(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	first, err := svc.ApplyReward(ctx, quizEvent("attempt-1", "alice", 80))
	if err != nil {
		t.Fatal(err)
	}
	if !first.Credited {
		t.Fatal("first apply must credit")
	}

	// Redeliver the identical event three more times.
	for i := 0; i < 3; i++ {
		again, err := svc.ApplyReward(ctx, quizEvent("attempt-1", "alice", 80))
		if err != nil {
			t.Fatalf("redelivery %d error: %v", i, err)
		}
		if again.Credited {
			t.Fatalf("redelivery %d credited, idempotency latch failed", i)
		}
		if again.Gold != 0 || again.Exp != 0 {
			t.Errorf("redelivery amount = %d/%d, want 0/0", again.Gold, again.Exp)
		}
	}

	balance, err := svc.Balance(ctx, "alice")
	if err != nil {
		t.Fatal(err)
	}
	if balance.Gold != first.Gold || balance.Exp != first.Exp {
		t.Errorf("balance = %d/%d after redeliveries, want %d/%d",
			balance.Gold, balance.Exp, first.Gold, first.Exp)
	}
}

func TestApplyReward_QuizCountsOnce(t *testing.T) {
	svc, db := newTestService(t)
	ctx := context.Background()

	svc.ApplyReward(ctx, quizEvent("a1", "alice", 70))
	svc.ApplyReward(ctx, quizEvent("a1", "alice", 70))
	svc.ApplyReward(ctx, quizEvent("a2", "alice", 70))

	account, err := db.Account(ctx, "alice")
	if err != nil {
		t.Fatal(err)
	}
	if account.QuizCount != 2 {
		t.Errorf("QuizCount = %d, want 2 (two distinct attempts)", account.QuizCount)
	}
}

func TestApplyReward_Validation(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	tests := []struct {
		name    string
		ev      domain.RewardEvent
		wantErr error
	}{
		{"missing subject", domain.RewardEvent{SourceID: "e1", Kind: domain.KindPostCreate}, domain.ErrValidation},
		{"unknown kind", domain.RewardEvent{SourceID: "e2", Kind: "dance", SubjectUserID: "alice"}, domain.ErrUnknownKind},
		{"self like", domain.RewardEvent{
			SourceID: "e3", Kind: domain.KindLikeReceived,
			SubjectUserID: "alice", ActorUserID: "alice", TargetRef: "post-1",
		}, domain.ErrSelfReward},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := svc.ApplyReward(ctx, tt.ev); !errors.Is(err, tt.wantErr) {
				t.Errorf("ApplyReward() error = %v, want %v", err, tt.wantErr)
			}
		})
	}

	// Nothing was credited by any rejected event.
	if _, err := svc.Balance(ctx, "alice"); !errors.Is(err, domain.ErrAccountNotFound) {
		t.Errorf("Balance(alice) error = %v, want ErrAccountNotFound", err)
	}
}

// ─── Rank Transitions ───────────────────────────────────────────────────────

func TestApplyReward_RankUp(t *testing.T) {
	svc, db := newTestService(t)
	ctx := context.Background()

	// 80 exp from two 90-score quizzes (20 base + 20 bonus each).
	for _, id := range []string{"a1", "a2"} {
		if _, err := svc.ApplyReward(ctx, quizEvent(id, "alice", 90)); err != nil {
			t.Fatal(err)
		}
	}

	balance, _ := svc.Balance(ctx, "alice")
	if balance.Rank != domain.RankNovice {
		t.Fatalf("rank = %s at %d exp, want novice", balance.Rank, balance.Exp)
	}

	// The crossing event carries the transition.
	result, err := svc.ApplyReward(ctx, quizEvent("a3", "alice", 90))
	if err != nil {
		t.Fatal(err)
	}
	if !result.RankUp {
		t.Fatal("crossing 100 exp must report a rank up")
	}
	if result.PreviousRank != domain.RankNovice || result.NewRank != domain.RankApprentice {
		t.Errorf("transition = %s → %s, want novice → apprentice", result.PreviousRank, result.NewRank)
	}

	// A rank-up notification fact landed in the same transaction.
	notes, err := db.Notifications(ctx, "alice", 10)
	if err != nil {
		t.Fatal(err)
	}
	var found bool
	for _, n := range notes {
		if n.Kind == domain.NotifyRankUp {
			found = true
		}
	}
	if !found {
		t.Error("no rank-up notification recorded")
	}

	// The next event is not a rank up.
	next, err := svc.ApplyReward(ctx, quizEvent("a4", "alice", 90))
	if err != nil {
		t.Fatal(err)
	}
	if next.RankUp {
		t.Error("staying inside a tier must not report a rank up")
	}
}

// ─── Comment Flow ───────────────────────────────────────────────────────────

func TestApplyReward_CommentCreditsAndNotifies(t *testing.T) {
	svc, db := newTestService(t)
	ctx := context.Background()

	if err := db.RegisterTarget(ctx, "post-1", "bob"); err != nil {
		t.Fatal(err)
	}

	result, err := svc.ApplyReward(ctx, domain.RewardEvent{
		SourceID:      "c1",
		Kind:          domain.KindCommentCreate,
		SubjectUserID: "alice",
		TargetRef:     "post-1",
	})
	if err != nil {
		t.Fatal(err)
	}
	if result.Gold != 5 || result.Exp != 3 {
		t.Errorf("comment credited %d/%d, want 5/3", result.Gold, result.Exp)
	}

	account, _ := db.Account(ctx, "alice")
	if account.CommentCount != 1 {
		t.Errorf("CommentCount = %d, want 1", account.CommentCount)
	}

	notes, err := db.Notifications(ctx, "bob", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(notes) != 1 || notes[0].Kind != domain.NotifyNewComment {
		t.Fatalf("bob notifications = %+v, want one new-comment fact", notes)
	}
}

func TestApplyReward_CommentOnOwnPost_NoNotification(t *testing.T) {
	svc, db := newTestService(t)
	ctx := context.Background()

	if err := db.RegisterTarget(ctx, "post-1", "alice"); err != nil {
		t.Fatal(err)
	}

	// Commenting on your own post still earns the reward.
	result, err := svc.ApplyReward(ctx, domain.RewardEvent{
		SourceID:      "c1",
		Kind:          domain.KindCommentCreate,
		SubjectUserID: "alice",
		TargetRef:     "post-1",
	})
	if err != nil {
		t.Fatal(err)
	}
	if !result.Credited {
		t.Fatal("own-post comment must still credit")
	}

	notes, err := db.Notifications(ctx, "alice", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(notes) != 0 {
		t.Errorf("self-comment produced %d notifications, want 0", len(notes))
	}
}

func TestApplyReward_LikeCycle(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	like, err := svc.ApplyReward(ctx, domain.RewardEvent{
		SourceID: "l1", Kind: domain.KindLikeReceived,
		SubjectUserID: "alice", ActorUserID: "bob", TargetRef: "post-1",
	})
	if err != nil {
		t.Fatal(err)
	}
	if like.Gold != 2 || like.Exp != 1 {
		t.Errorf("like credited %d/%d, want 2/1", like.Gold, like.Exp)
	}

	// Unliking adjusts the counter but claws nothing back.
	unlike, err := svc.ApplyReward(ctx, domain.RewardEvent{
		SourceID: "l2", Kind: domain.KindLikeRemoved,
		SubjectUserID: "alice", ActorUserID: "bob", TargetRef: "post-1",
	})
	if err != nil {
		t.Fatal(err)
	}
	if unlike.Gold != 0 || unlike.Exp != 0 {
		t.Errorf("unlike credited %d/%d, want 0/0", unlike.Gold, unlike.Exp)
	}

	balance, _ := svc.Balance(ctx, "alice")
	if balance.Gold != 2 || balance.Exp != 1 {
		t.Errorf("balance = %d/%d after like+unlike, want 2/1", balance.Gold, balance.Exp)
	}
}

// ─── Atomicity ──────────────────────────────────────────────────────────────

// abortStore injects a failure into MarkApplied so the whole credit
// transaction must roll back.
type abortStore struct {
	store.Store
	failMark bool
}

type abortTx struct {
	store.Tx
	s *abortStore
}

func (s *abortStore) RunInTx(ctx context.Context, fn func(store.Tx) error) error {
	return s.Store.RunInTx(ctx, func(tx store.Tx) error {
		return fn(&abortTx{Tx: tx, s: s})
	})
}

func (t *abortTx) MarkApplied(sourceID string, amount domain.RewardAmount, at time.Time) error {
	if t.s.failMark {
		return errors.New("injected failure")
	}
	return t.Tx.MarkApplied(sourceID, amount, at)
}

func TestApplyReward_AbortRollsBackEverything(t *testing.T) {
	db := newTestStore(t)
	wrapped := &abortStore{Store: db, failMark: true}
	svc := New(wrapped, DefaultConfig(), nil)
	ctx := context.Background()

	if err := db.RegisterTarget(ctx, "post-1", "bob"); err != nil {
		t.Fatal(err)
	}

	ev := domain.RewardEvent{
		SourceID:      "c1",
		Kind:          domain.KindCommentCreate,
		SubjectUserID: "alice",
		TargetRef:     "post-1",
	}
	if _, err := svc.ApplyReward(ctx, ev); err == nil {
		t.Fatal("expected injected failure")
	}

	// Nothing from the aborted transaction is visible: no balance, no
	// counter bump, no notification, no event row latch.
	if _, err := db.Account(ctx, "alice"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("account exists after abort: %v", err)
	}
	notes, _ := db.Notifications(ctx, "bob", 10)
	if len(notes) != 0 {
		t.Errorf("notifications leaked from aborted transaction: %d", len(notes))
	}

	// Redelivery after the failure credits normally, exactly once.
	wrapped.failMark = false
	result, err := svc.ApplyReward(ctx, ev)
	if err != nil {
		t.Fatal(err)
	}
	if !result.Credited {
		t.Fatal("redelivery after abort must credit")
	}
	balance, err := svc.Balance(ctx, "alice")
	if err != nil {
		t.Fatal(err)
	}
	if balance.Gold != 5 || balance.Exp != 3 {
		t.Errorf("balance = %d/%d, want 5/3", balance.Gold, balance.Exp)
	}
}

// ─── Admin Grants ───────────────────────────────────────────────────────────

func TestGrantAdminReward(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	result, err := svc.GrantAdminReward(ctx, "alice", domain.RewardAmount{Gold: 500, Exp: 200}, "contest winner", "admin-1")
	if err != nil {
		t.Fatalf("GrantAdminReward() error: %v", err)
	}
	if result.Gold != 500 || result.Exp != 200 {
		t.Errorf("granted %d/%d, want 500/200", result.Gold, result.Exp)
	}
	if !result.RankUp || result.NewRank != domain.RankApprentice {
		t.Errorf("grant of 200 exp should rank up to apprentice, got %+v", result)
	}

	balance, err := svc.Balance(ctx, "alice")
	if err != nil {
		t.Fatal(err)
	}
	if balance.Gold != 500 || balance.Exp != 200 {
		t.Errorf("balance = %d/%d, want 500/200", balance.Gold, balance.Exp)
	}
}

func TestGrantAdminReward_Bounds(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	tests := []struct {
		name    string
		amount  domain.RewardAmount
		reason  string
		actor   string
		wantErr error
	}{
		{"zero amount", domain.RewardAmount{}, "r", "a", domain.ErrGrantOutOfRange},
		{"negative gold", domain.RewardAmount{Gold: -1, Exp: 1}, "r", "a", domain.ErrGrantOutOfRange},
		{"gold over cap", domain.RewardAmount{Gold: 10_001}, "r", "a", domain.ErrGrantOutOfRange},
		{"exp over cap", domain.RewardAmount{Exp: 5_001}, "r", "a", domain.ErrGrantOutOfRange},
		{"missing reason", domain.RewardAmount{Gold: 1}, "", "a", domain.ErrValidation},
		{"missing actor", domain.RewardAmount{Gold: 1}, "r", "", domain.ErrValidation},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.GrantAdminReward(ctx, "alice", tt.amount, tt.reason, tt.actor)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

// ─── Notifier ───────────────────────────────────────────────────────────────

type recordingNotifier struct {
	rewards []string
	ranks   []string
}

func (n *recordingNotifier) RewardGranted(userID string, kind domain.EventKind, amount domain.RewardAmount) {
	n.rewards = append(n.rewards, userID+":"+string(kind))
}

func (n *recordingNotifier) RankChanged(userID string, from, to domain.Rank) {
	n.ranks = append(n.ranks, userID+":"+from.String()+"→"+to.String())
}

func TestApplyReward_NotifierFiresOnlyOnCredit(t *testing.T) {
	db := newTestStore(t)
	notifier := &recordingNotifier{}
	svc := New(db, DefaultConfig(), notifier)
	ctx := context.Background()

	svc.ApplyReward(ctx, quizEvent("a1", "alice", 100))
	svc.ApplyReward(ctx, quizEvent("a1", "alice", 100)) // duplicate

	if len(notifier.rewards) != 1 {
		t.Errorf("reward notifications = %d, want 1 (duplicates stay silent)", len(notifier.rewards))
	}
	// 50 exp from the perfect quiz: no rank change yet.
	if len(notifier.ranks) != 0 {
		t.Errorf("rank notifications = %d, want 0", len(notifier.ranks))
	}

	svc.ApplyReward(ctx, quizEvent("a2", "alice", 100)) // 100 exp, rank up
	if len(notifier.ranks) != 1 {
		t.Errorf("rank notifications = %d, want 1", len(notifier.ranks))
	}
}
