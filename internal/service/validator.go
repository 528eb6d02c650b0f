package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap"

	"github.com/and161185/gamestats/internal/errs"
	"github.com/and161185/gamestats/internal/model"
	"github.com/and161185/gamestats/internal/repository"
)

// StatsValidator compares stored aggregates with their recomputation from
// source tables and applies corrections.
type StatsValidator interface {
	// FindInconsistencies scans every user for counter and streak drift.
	FindInconsistencies(ctx context.Context) ([]model.Inconsistency, error)
	// FindXPInconsistencies scans every user for XP, level and orphan drift.
	FindXPInconsistencies(ctx context.Context) ([]model.Inconsistency, error)
	// CheckUser returns every drifted field of one user.
	CheckUser(ctx context.Context, userID uuid.UUID) ([]model.Inconsistency, error)
	// CheckCounters is the cheap post-operation check: counters only.
	CheckCounters(ctx context.Context, userID uuid.UUID) ([]model.Inconsistency, error)
	// FixUserStats corrects every drifted field of one user.
	FixUserStats(ctx context.Context, userID uuid.UUID, source string) ([]model.Inconsistency, error)
	// FixUserXP corrects XP and level of one user.
	FixUserXP(ctx context.Context, userID uuid.UUID, source string) ([]model.Inconsistency, error)
	// FixAllInconsistencies walks every user and fixes drift.
	FixAllInconsistencies(ctx context.Context) (model.FixSummary, error)
	// Correct writes the expected values of issues and audits each field.
	// It returns the number of fields written.
	Correct(ctx context.Context, userID uuid.UUID, issues []model.Inconsistency, source, contextID string) (int, error)
}

type StatsValidatorImpl struct {
	users        repository.UserRepository
	stats        repository.StatsRepository
	achievements repository.AchievementRepository
	sources      repository.SourceRepository
	streaks      StreakService
	audit        AuditLogger
	locks        *UserLocks
	batch        int
	log          *zap.Logger
}

// NewStatsValidator constructs a StatsValidator scanning batch users per page.
// Pass the engine's locks so corrections and unlocks of one user serialize.
func NewStatsValidator(
	users repository.UserRepository,
	stats repository.StatsRepository,
	achievements repository.AchievementRepository,
	sources repository.SourceRepository,
	streaks StreakService,
	audit AuditLogger,
	locks *UserLocks,
	batch int,
	log *zap.Logger,
) *StatsValidatorImpl {
	if batch <= 0 {
		batch = 500
	}
	if log == nil {
		log = zap.NewNop()
	}
	if locks == nil {
		locks = NewUserLocks()
	}
	return &StatsValidatorImpl{
		users: users, stats: stats, achievements: achievements, sources: sources,
		streaks: streaks, audit: audit, locks: locks, batch: batch, log: log.Named("validator"),
	}
}

func isXPField(f string) bool {
	return f == model.FieldTotalXP || f == model.FieldLevel || f == model.FieldOrphanAchievements
}

// storedStats returns the stats row or an empty one when it was never created.
func (v *StatsValidatorImpl) storedStats(ctx context.Context, userID uuid.UUID) (*model.UserStats, error) {
	st, err := v.stats.Get(ctx, userID)
	if errors.Is(err, errs.ErrNotFound) {
		return &model.UserStats{UserID: userID, Level: 1}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("stats: %w", err)
	}
	return st, nil
}

func diff(userID uuid.UUID, field string, stored, expected int64, out []model.Inconsistency) []model.Inconsistency {
	if stored == expected {
		return out
	}
	return append(out, model.Inconsistency{UserID: userID, Field: field, Stored: stored, Expected: expected})
}

func (v *StatsValidatorImpl) counterIssues(ctx context.Context, st *model.UserStats) ([]model.Inconsistency, error) {
	want, err := v.sources.DeriveCounters(ctx, st.UserID)
	if err != nil {
		return nil, fmt.Errorf("derive counters: %w", err)
	}
	var out []model.Inconsistency
	have := st.Counters.Fields()
	for i, w := range want.Fields() {
		out = diff(st.UserID, w.Field, have[i].Value, w.Value, out)
	}
	return out, nil
}

func (v *StatsValidatorImpl) xpIssues(ctx context.Context, st *model.UserStats) ([]model.Inconsistency, error) {
	xp, err := v.achievements.SumCompletedPoints(ctx, st.UserID)
	if err != nil {
		return nil, fmt.Errorf("sum points: %w", err)
	}
	orphans, err := v.achievements.CountOrphaned(ctx, st.UserID)
	if err != nil {
		return nil, fmt.Errorf("count orphans: %w", err)
	}
	var out []model.Inconsistency
	out = diff(st.UserID, model.FieldTotalXP, st.TotalXP, xp, out)
	out = diff(st.UserID, model.FieldLevel, int64(st.Level), int64(model.LevelForXP(xp)), out)
	out = diff(st.UserID, model.FieldOrphanAchievements, orphans, 0, out)
	return out, nil
}

func (v *StatsValidatorImpl) streakIssues(ctx context.Context, st *model.UserStats) ([]model.Inconsistency, error) {
	current, err := v.streaks.CurrentStreak(ctx, st.UserID)
	if err != nil {
		return nil, err
	}
	longest, err := v.longestStreak(ctx, st.UserID)
	if err != nil {
		return nil, err
	}
	if current > longest {
		longest = current
	}
	var out []model.Inconsistency
	out = diff(st.UserID, model.FieldCurrentStreak, int64(st.CurrentStreak), int64(current), out)
	out = diff(st.UserID, model.FieldLongestStreak, int64(st.LongestStreak), int64(longest), out)
	return out, nil
}

func (v *StatsValidatorImpl) longestStreak(ctx context.Context, userID uuid.UUID) (int, error) {
	claims, err := v.sources.ClaimTimes(ctx, []uuid.UUID{userID}, epoch, farFuture)
	if err != nil {
		return 0, fmt.Errorf("claim times: %w", err)
	}
	return v.streaks.Calculator().Longest(claims[userID]), nil
}

func (v *StatsValidatorImpl) CheckUser(ctx context.Context, userID uuid.UUID) ([]model.Inconsistency, error) {
	st, err := v.storedStats(ctx, userID)
	if err != nil {
		return nil, err
	}
	var out []model.Inconsistency
	for _, check := range []func(context.Context, *model.UserStats) ([]model.Inconsistency, error){
		v.counterIssues, v.streakIssues, v.xpIssues,
	} {
		issues, err := check(ctx, st)
		if err != nil {
			return nil, err
		}
		out = append(out, issues...)
	}
	return out, nil
}

func (v *StatsValidatorImpl) CheckCounters(ctx context.Context, userID uuid.UUID) ([]model.Inconsistency, error) {
	st, err := v.storedStats(ctx, userID)
	if err != nil {
		return nil, err
	}
	return v.counterIssues(ctx, st)
}

// scan pages through every user and collects issues accepted by keep.
func (v *StatsValidatorImpl) scan(ctx context.Context, keep func(model.Inconsistency) bool) ([]model.Inconsistency, error) {
	var out []model.Inconsistency
	err := v.eachUser(ctx, func(id uuid.UUID) error {
		issues, err := v.CheckUser(ctx, id)
		if err != nil {
			return err
		}
		for _, is := range issues {
			if keep(is) {
				out = append(out, is)
			}
		}
		return nil
	})
	return out, err
}

func (v *StatsValidatorImpl) eachUser(ctx context.Context, fn func(uuid.UUID) error) error {
	after := uuid.Nil
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		ids, err := v.users.ListIDs(ctx, after, v.batch)
		if err != nil {
			return fmt.Errorf("list users: %w", err)
		}
		for _, id := range ids {
			if err := fn(id); err != nil {
				return err
			}
		}
		if len(ids) < v.batch {
			return nil
		}
		after = ids[len(ids)-1]
	}
}

func (v *StatsValidatorImpl) FindInconsistencies(ctx context.Context) ([]model.Inconsistency, error) {
	return v.scan(ctx, func(is model.Inconsistency) bool { return !isXPField(is.Field) })
}

func (v *StatsValidatorImpl) FindXPInconsistencies(ctx context.Context) ([]model.Inconsistency, error) {
	return v.scan(ctx, func(is model.Inconsistency) bool { return isXPField(is.Field) })
}

func (v *StatsValidatorImpl) FixUserStats(ctx context.Context, userID uuid.UUID, source string) ([]model.Inconsistency, error) {
	if userID == uuid.Nil {
		return nil, fmt.Errorf("%w: empty userID", errs.ErrValidation)
	}
	issues, err := v.CheckUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if _, err := v.Correct(ctx, userID, issues, source, ""); err != nil {
		return issues, err
	}
	return issues, nil
}

func (v *StatsValidatorImpl) FixUserXP(ctx context.Context, userID uuid.UUID, source string) ([]model.Inconsistency, error) {
	if userID == uuid.Nil {
		return nil, fmt.Errorf("%w: empty userID", errs.ErrValidation)
	}
	st, err := v.storedStats(ctx, userID)
	if err != nil {
		return nil, err
	}
	issues, err := v.xpIssues(ctx, st)
	if err != nil {
		return nil, err
	}
	if _, err := v.Correct(ctx, userID, issues, source, ""); err != nil {
		return issues, err
	}
	return issues, nil
}

// FixAllInconsistencies keeps going past per-user failures and reports them.
func (v *StatsValidatorImpl) FixAllInconsistencies(ctx context.Context) (model.FixSummary, error) {
	var sum model.FixSummary
	err := v.eachUser(ctx, func(id uuid.UUID) error {
		sum.UsersChecked++
		issues, err := v.CheckUser(ctx, id)
		if err == nil {
			var n int
			n, err = v.Correct(ctx, id, issues, "fix_all", "")
			if n > 0 {
				sum.UsersFixed++
				sum.FieldsFixed += n
			}
		}
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			v.log.Warn("fix user failed", zap.String("user_id", id.String()), zap.Error(err))
			sum.Failed = append(sum.Failed, id)
		}
		return nil
	})
	return sum, err
}

// Correct is the single correction path shared by the guard, the validator
// and the monitor. Orphaned achievements are reported but never written.
// The store re-derives XP, level and counters inside its locked write, so the
// values audited are the ones actually written, not those in issues.
func (v *StatsValidatorImpl) Correct(
	ctx context.Context, userID uuid.UUID, issues []model.Inconsistency, source, contextID string,
) (int, error) {
	var c model.StatsCorrection
	for _, is := range issues {
		if is.Field == model.FieldOrphanAchievements || is.Field == model.FieldOwnedItems {
			continue
		}
		c.Set(is.Field, is.Expected)
	}
	if c.Empty() {
		return 0, nil
	}

	unlock := v.locks.Lock(userID)
	defer unlock()

	if c.TouchesStreak() {
		if err := v.refreshStreak(ctx, userID, &c); err != nil {
			return 0, err
		}
	}
	applied, err := v.stats.ApplyCorrection(ctx, userID, c)
	if err != nil {
		return 0, fmt.Errorf("apply correction: %w", err)
	}

	for _, is := range applied {
		action := model.AuditStatsFixed
		if isXPField(is.Field) {
			action = model.AuditXPFixed
		}
		v.audit.Record(ctx, model.AuditEntry{
			UserID:    uuidp(userID),
			Action:    action,
			Source:    source,
			ContextID: contextID,
			Field:     is.Field,
			Before:    int64p(is.Stored),
			After:     int64p(is.Expected),
		})
	}
	return len(applied), nil
}

// refreshStreak recomputes the requested streak fields after pinning the
// claim count; the store discards them if a claim lands before the write.
func (v *StatsValidatorImpl) refreshStreak(ctx context.Context, userID uuid.UUID, c *model.StatsCorrection) error {
	n, err := v.sources.CountClaims(ctx, userID)
	if err != nil {
		return fmt.Errorf("count claims: %w", err)
	}
	c.ClaimsSeen = n
	current, err := v.streaks.CurrentStreak(ctx, userID)
	if err != nil {
		return err
	}
	longest, err := v.longestStreak(ctx, userID)
	if err != nil {
		return err
	}
	if current > longest {
		longest = current
	}
	if c.Has(model.FieldCurrentStreak) {
		c.Set(model.FieldCurrentStreak, int64(current))
	}
	if c.Has(model.FieldLongestStreak) {
		c.Set(model.FieldLongestStreak, int64(longest))
	}
	return nil
}
