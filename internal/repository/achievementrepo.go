package repository

import (
	"context"
	"time"

	"github.com/and161185/gamestats/internal/model"
	"github.com/gofrs/uuid/v5"
)

// AchievementRepository reads the catalog and mutates user progress.
type AchievementRepository interface {
	// ListActive returns active achievements in the given categories; all when empty.
	ListActive(ctx context.Context, categories []model.AchievementCategory) ([]model.Achievement, error)
	// GetByID loads one achievement regardless of active flag.
	GetByID(ctx context.Context, id uuid.UUID) (*model.Achievement, error)
	// ListUserAchievements returns every progress row of a user.
	ListUserAchievements(ctx context.Context, userID uuid.UUID) ([]model.UserAchievement, error)
	// SaveProgress raises progress of a not yet completed row, creating it if missing.
	SaveProgress(ctx context.Context, userID, achievementID uuid.UUID, progress int) error
	// CompleteAndCredit marks the row completed and credits points in one transaction
	// under the user's advisory lock. unlocked is false if it was already completed.
	CompleteAndCredit(ctx context.Context, userID, achievementID uuid.UUID, points int64, at time.Time) (unlocked bool, totalXP int64, err error)
	// SumCompletedPoints sums points of completed rows whose achievement still exists.
	SumCompletedPoints(ctx context.Context, userID uuid.UUID) (int64, error)
	// CountOrphaned counts rows whose achievement row is gone.
	CountOrphaned(ctx context.Context, userID uuid.UUID) (int64, error)
	// CountUnlockedSince counts completions at or after since.
	CountUnlockedSince(ctx context.Context, since time.Time) (int, error)
}
