package repository

import (
	"context"
	"time"

	"github.com/and161185/gamestats/internal/model"
	"github.com/gofrs/uuid/v5"
)

// StatsRepository stores the materialized UserStats cache.
type StatsRepository interface {
	// Get loads stats; ErrNotFound when the row was never created.
	Get(ctx context.Context, userID uuid.UUID) (*model.UserStats, error)
	// Ensure creates an empty stats row if missing.
	Ensure(ctx context.Context, userID uuid.UUID) error
	// ApplyEvent adds delta and records eventID as processed in one transaction.
	// It returns false when eventID was already processed.
	ApplyEvent(ctx context.Context, eventID, userID uuid.UUID, delta model.Counters, at time.Time) (bool, error)
	// UpdateStreak stores the current streak and raises longest to at least longest.
	UpdateStreak(ctx context.Context, userID uuid.UUID, current, longest int) error
	// ResetStreakIfPositive sets current_streak to 0 only if it is positive and
	// the user has no claim at or after claimedSince. It returns the previous
	// value; ok is false when nothing changed.
	ResetStreakIfPositive(ctx context.Context, userID uuid.UUID, claimedSince time.Time) (prev int, ok bool, err error)
	// ListWithStreak pages through stats rows with current_streak > 0.
	ListWithStreak(ctx context.Context, after uuid.UUID, limit int) ([]model.UserStats, error)
	// ApplyCorrection rewrites the fields named in c under the per-user lock.
	// XP, level and counters are recomputed inside the lock; streak values are
	// taken from c only while the claim count equals c.ClaimsSeen. It returns
	// the fields that changed with their before and after values.
	ApplyCorrection(ctx context.Context, userID uuid.UUID, c model.StatsCorrection) ([]model.Inconsistency, error)
	// CountActiveSince counts users with last activity at or after since.
	CountActiveSince(ctx context.Context, since time.Time) (int, error)
}
