package model

import (
	"time"

	"github.com/gofrs/uuid/v5"
)

// RankingCategory names a leaderboard.
type RankingCategory string

const (
	RankTotalXP    RankingCategory = "TOTAL_XP"
	RankCollector  RankingCategory = "COLLECTOR"
	RankTrader     RankingCategory = "TRADER"
	RankPackOpener RankingCategory = "PACK_OPENER"
	RankStreak     RankingCategory = "STREAK"
	RankGlobal     RankingCategory = "GLOBAL"
)

// BaseCategories are the categories ranked from a single raw value.
var BaseCategories = []RankingCategory{RankTotalXP, RankCollector, RankTrader, RankPackOpener, RankStreak}

// Valid reports whether c is a known category.
func (c RankingCategory) Valid() bool {
	if c == RankGlobal {
		return true
	}
	for _, b := range BaseCategories {
		if b == c {
			return true
		}
	}
	return false
}

// Ranking is one row of a materialized leaderboard.
type Ranking struct {
	UserID    uuid.UUID
	Category  RankingCategory
	SeasonID  *uuid.UUID
	Position  int
	Value     float64
	UpdatedAt time.Time
}

// RankingCandidate is a user eligible for ranking with its all-time aggregates.
type RankingCandidate struct {
	UserID    uuid.UUID
	Role      Role
	CreatedAt time.Time
	Stats     UserStats
}

// SeasonActivity is what a user accumulated inside a season window.
type SeasonActivity struct {
	XP            int64
	Counters      Counters
	LongestStreak int
}

// SeasonReward maps a position range to a reward.
type SeasonReward struct {
	FromPosition int    `json:"from_position"`
	ToPosition   int    `json:"to_position"`
	Credits      int64  `json:"credits"`
	Title        string `json:"title,omitempty"`
}

// Season is a time-boxed ranking window for one category.
type Season struct {
	ID        uuid.UUID
	Name      string
	Category  RankingCategory
	StartsAt  time.Time
	EndsAt    time.Time
	Rewards   []SeasonReward
	IsActive  bool
	CreatedAt time.Time
}

// Contains reports whether t falls in [StartsAt, EndsAt).
func (s Season) Contains(t time.Time) bool {
	return !t.Before(s.StartsAt) && t.Before(s.EndsAt)
}

// RewardFor returns the reward tier matching position, if any.
func (s Season) RewardFor(position int) *SeasonReward {
	for i := range s.Rewards {
		r := s.Rewards[i]
		if position >= r.FromPosition && position <= r.ToPosition {
			return &r
		}
	}
	return nil
}

// SeasonStanding is a final season position with its reward tier.
type SeasonStanding struct {
	Ranking
	Reward *SeasonReward
}
