package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/and161185/gamestats/internal/errs"
	"github.com/and161185/gamestats/internal/model"
	"github.com/and161185/gamestats/internal/repository"
	"github.com/and161185/gamestats/internal/streak"
)

// StreakService derives streaks from daily claims and repairs stale counters.
type StreakService interface {
	// CalculateCurrentStreaksForUsers recomputes current streaks; users without claims map to 0.
	CalculateCurrentStreaksForUsers(ctx context.Context, userIDs []uuid.UUID) (map[uuid.UUID]int, error)
	// CurrentStreak recomputes one user's current streak.
	CurrentStreak(ctx context.Context, userID uuid.UUID) (int, error)
	// RefreshUserStreak stores the recomputed streak after a claim.
	RefreshUserStreak(ctx context.Context, userID uuid.UUID) (int, error)
	// ResetBrokenStreaks zeroes stored streaks whose recomputation is 0.
	ResetBrokenStreaks(ctx context.Context) (int, error)
	// Calculator exposes the canonical day-boundary rule.
	Calculator() streak.Calculator
}

type StreakServiceImpl struct {
	stats   repository.StatsRepository
	sources repository.SourceRepository
	audit   AuditLogger
	calc    streak.Calculator
	batch   int
	log     *zap.Logger
	now     func() time.Time
	sf      singleflight.Group
}

// NewStreakService constructs a StreakService bucketing days in loc.
func NewStreakService(
	stats repository.StatsRepository, sources repository.SourceRepository, audit AuditLogger,
	loc *time.Location, batch int, log *zap.Logger,
) *StreakServiceImpl {
	if batch <= 0 {
		batch = 500
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &StreakServiceImpl{
		stats: stats, sources: sources, audit: audit,
		calc:  streak.New(loc),
		batch: batch,
		log:   log.Named("streaks"),
		now:   time.Now,
	}
}

func (s *StreakServiceImpl) Calculator() streak.Calculator { return s.calc }

var (
	epoch     = time.Unix(0, 0).UTC()
	farFuture = time.Date(9999, 1, 1, 0, 0, 0, 0, time.UTC)
)

// claimWindow covers every claim up to the end of today.
func (s *StreakServiceImpl) claimWindow() (time.Time, time.Time) {
	return epoch, s.now().Add(24 * time.Hour)
}

func (s *StreakServiceImpl) CalculateCurrentStreaksForUsers(ctx context.Context, userIDs []uuid.UUID) (map[uuid.UUID]int, error) {
	out := make(map[uuid.UUID]int, len(userIDs))
	if len(userIDs) == 0 {
		return out, nil
	}
	from, to := s.claimWindow()
	claims, err := s.sources.ClaimTimes(ctx, userIDs, from, to)
	if err != nil {
		return nil, fmt.Errorf("claim times: %w", err)
	}
	now := s.now()
	for _, id := range userIDs {
		out[id] = s.calc.Current(claims[id], now)
	}
	return out, nil
}

func (s *StreakServiceImpl) CurrentStreak(ctx context.Context, userID uuid.UUID) (int, error) {
	m, err := s.CalculateCurrentStreaksForUsers(ctx, []uuid.UUID{userID})
	if err != nil {
		return 0, err
	}
	return m[userID], nil
}

func (s *StreakServiceImpl) RefreshUserStreak(ctx context.Context, userID uuid.UUID) (int, error) {
	from, to := s.claimWindow()
	claims, err := s.sources.ClaimTimes(ctx, []uuid.UUID{userID}, from, to)
	if err != nil {
		return 0, fmt.Errorf("claim times: %w", err)
	}
	times := claims[userID]
	current := s.calc.Current(times, s.now())
	longest := s.calc.Longest(times)
	if current > longest {
		longest = current
	}
	if err := s.stats.UpdateStreak(ctx, userID, current, longest); err != nil {
		return 0, fmt.Errorf("update streak: %w", err)
	}
	return current, nil
}

// ResetBrokenStreaks pages through rows with a positive stored streak. It only
// ever corrects downward; concurrent triggers share one run.
func (s *StreakServiceImpl) ResetBrokenStreaks(ctx context.Context) (int, error) {
	v, err, _ := s.sf.Do("reset", func() (any, error) {
		return s.resetBroken(ctx)
	})
	if err != nil {
		return 0, err
	}
	return v.(int), nil
}

func (s *StreakServiceImpl) resetBroken(ctx context.Context) (int, error) {
	reset := 0
	after := uuid.Nil
	for {
		if err := ctx.Err(); err != nil {
			return reset, err
		}
		page, err := s.stats.ListWithStreak(ctx, after, s.batch)
		if err != nil {
			return reset, fmt.Errorf("list streaks: %w", err)
		}
		if len(page) == 0 {
			break
		}
		ids := make([]uuid.UUID, len(page))
		for i := range page {
			ids[i] = page[i].UserID
		}
		current, err := s.CalculateCurrentStreaksForUsers(ctx, ids)
		if err != nil {
			return reset, err
		}
		since := s.calc.AliveSince(s.now())
		for _, id := range ids {
			if current[id] != 0 {
				continue
			}
			// a claim made after current was computed blocks the reset
			prev, ok, err := s.stats.ResetStreakIfPositive(ctx, id, since)
			if err != nil {
				if errors.Is(err, errs.ErrConflict) {
					s.log.Warn("streak reset conflict, next run retries", zap.String("user_id", id.String()))
					continue
				}
				return reset, fmt.Errorf("reset streak: %w", err)
			}
			if !ok {
				continue
			}
			reset++
			s.audit.Record(ctx, model.AuditEntry{
				UserID: uuidp(id),
				Action: model.AuditStreakReset,
				Source: "streak_reset",
				Field:  model.FieldCurrentStreak,
				Before: int64p(int64(prev)),
				After:  int64p(0),
			})
		}
		after = ids[len(ids)-1]
		if len(page) < s.batch {
			break
		}
	}
	s.log.Info("broken streaks reset", zap.Int("count", reset))
	return reset, nil
}
