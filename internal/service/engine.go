package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap"

	"github.com/and161185/gamestats/internal/condition"
	"github.com/and161185/gamestats/internal/errs"
	"github.com/and161185/gamestats/internal/model"
	"github.com/and161185/gamestats/internal/repository"
)

// AchievementEngine evaluates achievement conditions against gameplay events.
type AchievementEngine interface {
	// CheckAchievements returns ids unlocked by ev. Replaying ev unlocks nothing new.
	CheckAchievements(ctx context.Context, ev model.Event) ([]uuid.UUID, error)
	// UnlockAchievement is the admin override; false when already completed.
	UnlockAchievement(ctx context.Context, userID, achievementID uuid.UUID) (bool, error)
	// GetUserAchievements lists progress; secret ones only once completed.
	GetUserAchievements(ctx context.Context, userID uuid.UUID) ([]model.UserAchievementView, error)
}

// relevantCategories maps an event to the achievement categories it can advance.
var relevantCategories = map[model.EventType][]model.AchievementCategory{
	model.EventPackOpened:       {model.CategoryCollector, model.CategoryExplorer, model.CategoryMilestone, model.CategorySpecial},
	model.EventItemSold:         {model.CategoryTrader, model.CategoryMilestone},
	model.EventItemBought:       {model.CategoryTrader, model.CategoryMilestone},
	model.EventDailyClaimed:     {model.CategoryDaily, model.CategoryMilestone},
	model.EventLogin:            {model.CategoryDaily, model.CategoryMilestone},
	model.EventCreditsPurchased: {model.CategoryMilestone, model.CategorySpecial},
}

type AchievementEngineImpl struct {
	achievements repository.AchievementRepository
	stats        repository.StatsRepository
	sources      repository.SourceRepository
	streaks      StreakService
	audit        AuditLogger
	locks        *UserLocks
	log          *zap.Logger
	now          func() time.Time
}

// NewAchievementEngine constructs an AchievementEngine. A nil locks gets a private set.
func NewAchievementEngine(
	achievements repository.AchievementRepository,
	stats repository.StatsRepository,
	sources repository.SourceRepository,
	streaks StreakService,
	audit AuditLogger,
	locks *UserLocks,
	log *zap.Logger,
) *AchievementEngineImpl {
	if log == nil {
		log = zap.NewNop()
	}
	if locks == nil {
		locks = NewUserLocks()
	}
	return &AchievementEngineImpl{
		achievements: achievements,
		stats:        stats,
		sources:      sources,
		streaks:      streaks,
		audit:        audit,
		locks:        locks,
		log:          log.Named("achievements"),
		now:          time.Now,
	}
}

// CheckAchievements serializes per user, then evaluates. A concurrency
// conflict is retried once with a fresh read.
func (e *AchievementEngineImpl) CheckAchievements(ctx context.Context, ev model.Event) ([]uuid.UUID, error) {
	if err := ev.Validate(); err != nil {
		return nil, err
	}
	cats, ok := relevantCategories[ev.Type]
	if !ok {
		return nil, nil
	}

	unlock := e.locks.Lock(ev.UserID)
	defer unlock()

	var unlocked []uuid.UUID
	err := e.evaluate(ctx, ev, cats, &unlocked)
	if errors.Is(err, errs.ErrConflict) {
		e.log.Info("achievement check conflict, retrying",
			zap.String("user_id", ev.UserID.String()), zap.String("event", string(ev.Type)))
		err = e.evaluate(ctx, ev, cats, &unlocked)
	}
	if err != nil {
		return unlocked, err
	}
	return unlocked, nil
}

func (e *AchievementEngineImpl) evaluate(
	ctx context.Context, ev model.Event, cats []model.AchievementCategory, unlocked *[]uuid.UUID,
) error {
	defs, err := e.achievements.ListActive(ctx, cats)
	if err != nil {
		return fmt.Errorf("list achievements: %w", err)
	}
	if len(defs) == 0 {
		return nil
	}
	rows, err := e.achievements.ListUserAchievements(ctx, ev.UserID)
	if err != nil {
		return fmt.Errorf("list user achievements: %w", err)
	}
	progress := make(map[uuid.UUID]model.UserAchievement, len(rows))
	for _, r := range rows {
		progress[r.AchievementID] = r
	}
	snap, err := e.snapshot(ctx, ev.UserID)
	if err != nil {
		return err
	}

	// An unlock raises XP, which can complete a level_reached def listed
	// earlier, so passes repeat until one unlocks nothing.
	for {
		n, err := e.evaluatePass(ctx, ev, defs, progress, &snap, unlocked)
		if err != nil || n == 0 {
			return err
		}
	}
}

// evaluatePass checks every incomplete def once and returns how many it unlocked.
func (e *AchievementEngineImpl) evaluatePass(
	ctx context.Context, ev model.Event, defs []model.Achievement,
	progress map[uuid.UUID]model.UserAchievement, snap *condition.Snapshot, unlocked *[]uuid.UUID,
) (int, error) {
	n := 0
	for _, def := range defs {
		cur := progress[def.ID]
		if cur.IsCompleted {
			continue
		}
		cond, err := condition.Parse(def.Condition)
		if err != nil {
			e.log.Warn("skipping achievement with invalid condition",
				zap.String("achievement", def.Code), zap.Error(err))
			cur.IsCompleted = true // not revisited by later passes
			progress[def.ID] = cur
			continue
		}
		p := cond.Progress(ev, *snap)
		if p < 100 {
			if p > cur.Progress {
				if err := e.achievements.SaveProgress(ctx, ev.UserID, def.ID, p); err != nil {
					return n, fmt.Errorf("save progress %s: %w", def.Code, err)
				}
				cur.Progress = p
				progress[def.ID] = cur
			}
			continue
		}

		ok, xp, err := e.achievements.CompleteAndCredit(ctx, ev.UserID, def.ID, def.Points, e.now())
		if err != nil {
			return n, fmt.Errorf("complete %s: %w", def.Code, err)
		}
		cur.IsCompleted, cur.Progress = true, 100
		progress[def.ID] = cur
		if !ok {
			continue
		}
		n++
		*unlocked = append(*unlocked, def.ID)
		snap.Stats.TotalXP = xp
		e.audit.Record(ctx, model.AuditEntry{
			UserID:  uuidp(ev.UserID),
			Action:  model.AuditAchievementGrant,
			Source:  string(ev.Type),
			Field:   model.FieldTotalXP,
			Before:  int64p(xp - def.Points),
			After:   int64p(xp),
			Details: map[string]any{"achievement": def.Code, "points": def.Points},
		})
	}
	return n, nil
}

// snapshot reads the user's progress. The streak is recomputed from claims.
func (e *AchievementEngineImpl) snapshot(ctx context.Context, userID uuid.UUID) (condition.Snapshot, error) {
	st, err := e.stats.Get(ctx, userID)
	switch {
	case errors.Is(err, errs.ErrNotFound):
		st = &model.UserStats{UserID: userID, Level: 1}
	case err != nil:
		return condition.Snapshot{}, fmt.Errorf("stats: %w", err)
	}
	streakDays, err := e.streaks.CurrentStreak(ctx, userID)
	if err != nil {
		return condition.Snapshot{}, fmt.Errorf("streak: %w", err)
	}
	claims, err := e.sources.CountClaims(ctx, userID)
	if err != nil {
		return condition.Snapshot{}, fmt.Errorf("claims: %w", err)
	}
	return condition.Snapshot{Stats: *st, CurrentStreak: streakDays, DailyClaims: claims}, nil
}

func (e *AchievementEngineImpl) UnlockAchievement(ctx context.Context, userID, achievementID uuid.UUID) (bool, error) {
	if userID == uuid.Nil || achievementID == uuid.Nil {
		return false, fmt.Errorf("%w: empty userID/achievementID", errs.ErrValidation)
	}
	def, err := e.achievements.GetByID(ctx, achievementID)
	if err != nil {
		return false, err
	}

	unlock := e.locks.Lock(userID)
	defer unlock()

	ok, xp, err := e.achievements.CompleteAndCredit(ctx, userID, def.ID, def.Points, e.now())
	if errors.Is(err, errs.ErrConflict) {
		ok, xp, err = e.achievements.CompleteAndCredit(ctx, userID, def.ID, def.Points, e.now())
	}
	if err != nil {
		return false, err
	}
	if ok {
		e.audit.Record(ctx, model.AuditEntry{
			UserID:  uuidp(userID),
			Action:  model.AuditAdminUnlock,
			Source:  "admin",
			Field:   model.FieldTotalXP,
			Before:  int64p(xp - def.Points),
			After:   int64p(xp),
			Details: map[string]any{"achievement": def.Code, "points": def.Points},
		})
	}
	return ok, nil
}

func (e *AchievementEngineImpl) GetUserAchievements(ctx context.Context, userID uuid.UUID) ([]model.UserAchievementView, error) {
	if userID == uuid.Nil {
		return nil, fmt.Errorf("%w: empty userID", errs.ErrValidation)
	}
	defs, err := e.achievements.ListActive(ctx, nil)
	if err != nil {
		return nil, err
	}
	rows, err := e.achievements.ListUserAchievements(ctx, userID)
	if err != nil {
		return nil, err
	}
	progress := make(map[uuid.UUID]model.UserAchievement, len(rows))
	for _, r := range rows {
		progress[r.AchievementID] = r
	}

	out := make([]model.UserAchievementView, 0, len(defs))
	seen := make(map[uuid.UUID]bool, len(defs))
	for _, def := range defs {
		seen[def.ID] = true
		ua := progress[def.ID]
		if def.IsSecret && !ua.IsCompleted {
			continue
		}
		out = append(out, model.UserAchievementView{
			Achievement: def, Progress: ua.Progress, IsCompleted: ua.IsCompleted, UnlockedAt: ua.UnlockedAt,
		})
	}
	// completed rows of since-deactivated achievements stay visible
	for _, ua := range rows {
		if seen[ua.AchievementID] || !ua.IsCompleted {
			continue
		}
		def, err := e.achievements.GetByID(ctx, ua.AchievementID)
		if errors.Is(err, errs.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, model.UserAchievementView{
			Achievement: *def, Progress: ua.Progress, IsCompleted: true, UnlockedAt: ua.UnlockedAt,
		})
	}
	return out, nil
}
