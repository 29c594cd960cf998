package domain

// ─── Leaderboard Types ──────────────────────────────────────────────────────

// LeaderboardSort selects the ranking dimension.
type LeaderboardSort string

const (
	SortByGold      LeaderboardSort = "gold"
	SortByExp       LeaderboardSort = "exp"
	SortByQuizCount LeaderboardSort = "quiz_count"
)

// KnownSort reports whether s is a defined sort key.
func KnownSort(s LeaderboardSort) bool {
	switch s {
	case SortByGold, SortByExp, SortByQuizCount:
		return true
	}
	return false
}

// LeaderboardQuery describes a top-N listing request, optionally scoped to a
// single class.
type LeaderboardQuery struct {
	SortBy  LeaderboardSort
	ClassID string
	Limit   int
}

// LeaderboardEntry is one row of a ranked listing.
type LeaderboardEntry struct {
	Position  int    `json:"position"`
	UserID    string `json:"user_id"`
	ClassID   string `json:"class_id,omitempty"`
	Gold      int64  `json:"gold"`
	Exp       int64  `json:"exp"`
	QuizCount int64  `json:"quiz_count"`
	Rank      Rank   `json:"rank"`
}
