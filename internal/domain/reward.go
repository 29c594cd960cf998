package domain

// ─── Reward Tables ──────────────────────────────────────────────────────────
// Reward amounts are table-driven and injected into the ledger at
// construction. Amount is a pure function of the event's own immutable
// payload, which is what lets the ledger recompute it safely when a
// transaction retries.

// RewardAmount is a gold/exp pair credited together.
type RewardAmount struct {
	Gold int64 `json:"gold" toml:"gold"`
	Exp  int64 `json:"exp" toml:"exp"`
}

// IsZero reports whether the amount credits nothing.
func (a RewardAmount) IsZero() bool { return a.Gold == 0 && a.Exp == 0 }

// Add returns the element-wise sum.
func (a RewardAmount) Add(b RewardAmount) RewardAmount {
	return RewardAmount{Gold: a.Gold + b.Gold, Exp: a.Exp + b.Exp}
}

// ScoreBonus is one step of the quiz score bonus function: scores at or above
// Min earn Bonus on top of the base amount.
type ScoreBonus struct {
	Min   int          `json:"min" toml:"min"`
	Bonus RewardAmount `json:"bonus" toml:"bonus"`
}

// RewardTable holds every amount the calculator can award. Descending order
// of Bonuses is required: the first step whose Min the score meets wins.
type RewardTable struct {
	QuizBase RewardAmount `toml:"quiz_base"`
	Bonuses  []ScoreBonus `toml:"bonuses"`

	Post         RewardAmount `toml:"post"`
	Comment      RewardAmount `toml:"comment"`
	LikeReceived RewardAmount `toml:"like_received"`
	Feedback     RewardAmount `toml:"feedback"`
}

// DefaultRewardTable returns the production amounts.
func DefaultRewardTable() RewardTable {
	return RewardTable{
		QuizBase: RewardAmount{Gold: 50, Exp: 20},
		Bonuses: []ScoreBonus{
			{Min: 100, Bonus: RewardAmount{Gold: 50, Exp: 30}},
			{Min: 90, Bonus: RewardAmount{Gold: 30, Exp: 20}},
			{Min: 70, Bonus: RewardAmount{Gold: 15, Exp: 10}},
			{Min: 50, Bonus: RewardAmount{Gold: 5, Exp: 5}},
		},
		Post:         RewardAmount{Gold: 10, Exp: 5},
		Comment:      RewardAmount{Gold: 5, Exp: 3},
		LikeReceived: RewardAmount{Gold: 2, Exp: 1},
		Feedback:     RewardAmount{Gold: 20, Exp: 10},
	}
}

// Amount computes the reward for an event. Pure and total over valid events;
// like-removed is a defined zero (it only adjusts the target's counter).
func (t RewardTable) Amount(e *RewardEvent) (RewardAmount, error) {
	switch e.Kind {
	case KindQuizComplete:
		return t.QuizBase.Add(t.quizBonus(e.Score)), nil
	case KindPostCreate:
		return t.Post, nil
	case KindCommentCreate:
		return t.Comment, nil
	case KindLikeReceived:
		return t.LikeReceived, nil
	case KindLikeRemoved:
		return RewardAmount{}, nil
	case KindFeedback:
		return t.Feedback, nil
	}
	return RewardAmount{}, ErrUnknownKind
}

// quizBonus returns the step-function bonus for a quiz score.
func (t RewardTable) quizBonus(score int) RewardAmount {
	for _, step := range t.Bonuses {
		if score >= step.Min {
			return step.Bonus
		}
	}
	return RewardAmount{}
}
