package domain

import "fmt"

// ─── Rank Tiers ─────────────────────────────────────────────────────────────
// Rank is a discrete, ordered category derived purely from cumulative Exp.
// The ledger uses it only to detect transitions (rank before ≠ rank after);
// it is never persisted as authoritative state.

// Rank is a tier index. Higher value means higher tier.
type Rank int

const (
	RankNovice Rank = iota
	RankApprentice
	RankScholar
	RankMaster
	RankSage
)

// rankNames maps tiers to their display names.
var rankNames = [...]string{
	RankNovice:     "novice",
	RankApprentice: "apprentice",
	RankScholar:    "scholar",
	RankMaster:     "master",
	RankSage:       "sage",
}

// String returns the tier's display name.
func (r Rank) String() string {
	if r < 0 || int(r) >= len(rankNames) {
		return "unknown"
	}
	return rankNames[r]
}

// MarshalText lets Rank serialize as its name rather than an integer.
func (r Rank) MarshalText() ([]byte, error) {
	return []byte(r.String()), nil
}

// UnmarshalText parses a tier name back into its index.
func (r *Rank) UnmarshalText(text []byte) error {
	name := string(text)
	for i, n := range rankNames {
		if n == name {
			*r = Rank(i)
			return nil
		}
	}
	return fmt.Errorf("unknown rank %q", name)
}

// RankTable is an ascending, contiguous threshold table: Thresholds[i] is the
// minimum Exp for tier i+1 (tier 0 starts at zero). Must be strictly
// increasing so that RankOf is monotonic.
type RankTable struct {
	Thresholds []int64
}

// DefaultRankTable returns the production tier thresholds.
func DefaultRankTable() RankTable {
	return RankTable{
		Thresholds: []int64{
			100,  // → apprentice
			500,  // → scholar
			1500, // → master
			4000, // → sage
		},
	}
}

// RankOf maps cumulative Exp to a tier using the table. Monotonic:
// exp1 ≤ exp2 ⇒ RankOf(exp1) ≤ RankOf(exp2).
func (t RankTable) RankOf(exp int64) Rank {
	r := RankNovice
	for i, min := range t.Thresholds {
		if exp < min {
			break
		}
		r = Rank(i + 1)
	}
	return r
}

// RankOf maps Exp to a tier using the default table.
func RankOf(exp int64) Rank {
	return DefaultRankTable().RankOf(exp)
}
