package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap"

	"github.com/and161185/gamestats/internal/errs"
	"github.com/and161185/gamestats/internal/model"
	"github.com/and161185/gamestats/internal/repository"
)

// StatsAggregator maintains the per-user derived counters.
type StatsAggregator interface {
	// Apply adds the event's counter delta once per event id.
	Apply(ctx context.Context, ev model.Event) (bool, error)
	// Get returns stats, an empty row when none exists yet.
	Get(ctx context.Context, userID uuid.UUID) (*model.UserStats, error)
	// Level returns the level for xp.
	Level(xp int64) int
}

type StatsAggregatorImpl struct {
	stats   repository.StatsRepository
	streaks StreakService
	log     *zap.Logger
	now     func() time.Time
}

// NewStatsAggregator constructs a StatsAggregator.
func NewStatsAggregator(stats repository.StatsRepository, streaks StreakService, log *zap.Logger) *StatsAggregatorImpl {
	if log == nil {
		log = zap.NewNop()
	}
	return &StatsAggregatorImpl{stats: stats, streaks: streaks, log: log.Named("aggregator"), now: time.Now}
}

func (a *StatsAggregatorImpl) Apply(ctx context.Context, ev model.Event) (bool, error) {
	if err := ev.Validate(); err != nil {
		return false, err
	}
	if ev.ID == uuid.Nil {
		return false, fmt.Errorf("%w: empty event id", errs.ErrValidation)
	}
	at := ev.OccurredAt
	if at.IsZero() {
		at = a.now()
	}

	delta := ev.Delta()
	applied, err := a.stats.ApplyEvent(ctx, ev.ID, ev.UserID, delta, at)
	if errors.Is(err, errs.ErrConflict) {
		a.log.Debug("apply conflict, retrying", zap.String("event_id", ev.ID.String()))
		applied, err = a.stats.ApplyEvent(ctx, ev.ID, ev.UserID, delta, at)
	}
	if err != nil {
		return false, fmt.Errorf("apply %s: %w", ev.Type, err)
	}
	if !applied {
		a.log.Debug("duplicate event ignored",
			zap.String("event_id", ev.ID.String()), zap.String("event", string(ev.Type)))
		return false, nil
	}

	if ev.Type == model.EventDailyClaimed {
		if _, err := a.streaks.RefreshUserStreak(ctx, ev.UserID); err != nil {
			return true, fmt.Errorf("refresh streak: %w", err)
		}
	}
	return true, nil
}

func (a *StatsAggregatorImpl) Get(ctx context.Context, userID uuid.UUID) (*model.UserStats, error) {
	s, err := a.stats.Get(ctx, userID)
	if errors.Is(err, errs.ErrNotFound) {
		return &model.UserStats{UserID: userID, Level: 1}, nil
	}
	return s, err
}

func (a *StatsAggregatorImpl) Level(xp int64) int { return model.LevelForXP(xp) }
