package domain

import "testing"

func TestRewardTable_QuizAmounts(t *testing.T) {
	table := DefaultRewardTable()

	tests := []struct {
		score    int
		wantGold int64
		wantExp  int64
	}{
		{0, 50, 20},    // base only
		{49, 50, 20},   // just under the first band
		{50, 55, 25},   // base + 5/5
		{69, 55, 25},
		{70, 65, 30},   // base + 15/10
		{89, 65, 30},
		{90, 80, 40},   // base + 30/20
		{99, 80, 40},
		{100, 100, 50}, // base + 50/30, perfect score
	}

	for _, tt := range tests {
		ev := &RewardEvent{Kind: KindQuizComplete, Score: tt.score}
		got, err := table.Amount(ev)
		if err != nil {
			t.Fatalf("Amount(score=%d) error: %v", tt.score, err)
		}
		if got.Gold != tt.wantGold || got.Exp != tt.wantExp {
			t.Errorf("Amount(score=%d) = %d/%d, want %d/%d",
				tt.score, got.Gold, got.Exp, tt.wantGold, tt.wantExp)
		}
	}
}

func TestRewardTable_QuizBonusMonotonic(t *testing.T) {
	table := DefaultRewardTable()
	var prev RewardAmount
	for score := 0; score <= 100; score++ {
		got, err := table.Amount(&RewardEvent{Kind: KindQuizComplete, Score: score})
		if err != nil {
			t.Fatal(err)
		}
		if got.Gold < prev.Gold || got.Exp < prev.Exp {
			t.Fatalf("amount decreased at score %d: %v -> %v", score, prev, got)
		}
		prev = got
	}
}

func TestRewardTable_FlatAmounts(t *testing.T) {
	table := DefaultRewardTable()

	tests := []struct {
		kind EventKind
		want RewardAmount
	}{
		{KindPostCreate, RewardAmount{Gold: 10, Exp: 5}},
		{KindCommentCreate, RewardAmount{Gold: 5, Exp: 3}},
		{KindLikeReceived, RewardAmount{Gold: 2, Exp: 1}},
		{KindLikeRemoved, RewardAmount{}},
		{KindFeedback, RewardAmount{Gold: 20, Exp: 10}},
	}

	for _, tt := range tests {
		got, err := table.Amount(&RewardEvent{Kind: tt.kind})
		if err != nil {
			t.Fatalf("Amount(%s) error: %v", tt.kind, err)
		}
		if got != tt.want {
			t.Errorf("Amount(%s) = %v, want %v", tt.kind, got, tt.want)
		}
	}
}

func TestRewardTable_UnknownKind(t *testing.T) {
	table := DefaultRewardTable()
	if _, err := table.Amount(&RewardEvent{Kind: "mystery"}); err != ErrUnknownKind {
		t.Errorf("Amount(mystery) error = %v, want ErrUnknownKind", err)
	}
}
