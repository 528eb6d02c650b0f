package model

import (
	"encoding/json"
	"time"

	"github.com/gofrs/uuid/v5"
)

// AchievementCategory groups achievements and decides which events evaluate them.
type AchievementCategory string

const (
	CategoryCollector AchievementCategory = "COLLECTOR"
	CategoryExplorer  AchievementCategory = "EXPLORER"
	CategoryTrader    AchievementCategory = "TRADER"
	CategoryMilestone AchievementCategory = "MILESTONE"
	CategoryDaily     AchievementCategory = "DAILY"
	CategorySpecial   AchievementCategory = "SPECIAL"
)

// AchievementType describes how progress accumulates.
type AchievementType string

const (
	TypeMilestone AchievementType = "MILESTONE"
	TypeStreak    AchievementType = "STREAK"
	TypeProgress  AchievementType = "PROGRESS"
)

// Achievement is a static, admin-managed catalog entry. Condition holds the raw
// predicate spec (e.g. {"type":"daily_streak","target":7}).
type Achievement struct {
	ID          uuid.UUID
	Code        string
	Name        string
	Description string
	Category    AchievementCategory
	Type        AchievementType
	Condition   json.RawMessage
	Points      int64
	IsSecret    bool
	IsActive    bool
	CreatedAt   time.Time
}

// UserAchievement is unique per user and achievement. IsCompleted is terminal.
type UserAchievement struct {
	ID            uuid.UUID
	UserID        uuid.UUID
	AchievementID uuid.UUID
	Progress      int
	IsCompleted   bool
	UnlockedAt    *time.Time
	UpdatedAt     time.Time
}

// UserAchievementView is the read model returned to collaborators.
type UserAchievementView struct {
	Achievement Achievement
	Progress    int
	IsCompleted bool
	UnlockedAt  *time.Time
}
