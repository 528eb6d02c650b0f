package service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/and161185/gamestats/internal/model"
	"github.com/and161185/gamestats/internal/repository"
)

// StatsMonitor runs periodic full scans and scores system health.
type StatsMonitor interface {
	// RunMonitoringCycle scans users until done or the cycle timeout, then scores.
	RunMonitoringCycle(ctx context.Context) (model.HealthReport, error)
	// LastReport returns the previous cycle's report, false before the first one.
	LastReport() (model.HealthReport, bool)
}

// MonitorOptions tunes a StatsMonitor.
type MonitorOptions struct {
	Timeout   time.Duration
	BatchSize int
	AutoFix   bool
	// OnReport is called after every finished cycle.
	OnReport func(model.HealthReport)
}

type StatsMonitorImpl struct {
	users        repository.UserRepository
	stats        repository.StatsRepository
	achievements repository.AchievementRepository
	validator    StatsValidator
	opts         MonitorOptions
	log          *zap.Logger
	now          func() time.Time
	sf           singleflight.Group

	mu     sync.Mutex
	cursor uuid.UUID
	last   *model.HealthReport
}

// NewStatsMonitor constructs a StatsMonitor.
func NewStatsMonitor(
	users repository.UserRepository,
	stats repository.StatsRepository,
	achievements repository.AchievementRepository,
	validator StatsValidator,
	opts MonitorOptions,
	log *zap.Logger,
) *StatsMonitorImpl {
	if opts.Timeout <= 0 {
		opts.Timeout = 5 * time.Minute
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 500
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &StatsMonitorImpl{
		users: users, stats: stats, achievements: achievements, validator: validator,
		opts: opts, log: log.Named("monitor"), now: time.Now,
	}
}

// Health score penalties and thresholds.
const (
	maxDriftPenalty      = 50
	driftPenaltyFactor   = 500
	lowEngagementPenalty = 20
	noUnlocksPenalty     = 15
	partialPenalty       = 10

	highDriftRate     = 0.05
	lowEngagementRate = 0.10
	lowHealthScore    = 50
)

func (m *StatsMonitorImpl) LastReport() (model.HealthReport, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.last == nil {
		return model.HealthReport{}, false
	}
	return *m.last, true
}

// RunMonitoringCycle collapses concurrent triggers into one run.
func (m *StatsMonitorImpl) RunMonitoringCycle(ctx context.Context) (model.HealthReport, error) {
	v, err, shared := m.sf.Do("cycle", func() (any, error) {
		return m.cycle(ctx)
	})
	if shared {
		m.log.Debug("monitoring cycle already running, sharing result")
	}
	if err != nil {
		return model.HealthReport{}, err
	}
	return v.(model.HealthReport), nil
}

func (m *StatsMonitorImpl) cycle(parent context.Context) (model.HealthReport, error) {
	rep := model.HealthReport{StartedAt: m.now()}

	total, err := m.users.Count(parent)
	if err != nil {
		return rep, fmt.Errorf("count users: %w", err)
	}
	rep.TotalUsers = total

	ctx, cancel := context.WithTimeout(parent, m.opts.Timeout)
	err = m.scan(ctx, &rep)
	cancel()
	switch {
	case errors.Is(err, context.DeadlineExceeded) && parent.Err() == nil:
		rep.Partial = true
		m.log.Warn("monitoring cycle timed out, next run resumes",
			zap.Int("scanned", rep.UsersScanned), zap.String("cursor", m.resumeCursor().String()))
	case err != nil:
		return rep, err
	}

	if err := m.engagement(parent, &rep); err != nil {
		return rep, err
	}
	score(&rep)
	rep.FinishedAt = m.now()

	m.mu.Lock()
	m.last = &rep
	m.mu.Unlock()
	if m.opts.OnReport != nil {
		m.opts.OnReport(rep)
	}
	m.log.Info("monitoring cycle finished",
		zap.Int("score", rep.Score),
		zap.Int("scanned", rep.UsersScanned),
		zap.Int("inconsistent_users", rep.InconsistentUsers),
		zap.Int("fixed", rep.Fixed),
		zap.Bool("partial", rep.Partial),
		zap.Duration("duration", rep.FinishedAt.Sub(rep.StartedAt)),
	)
	return rep, nil
}

func (m *StatsMonitorImpl) resumeCursor() uuid.UUID {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cursor
}

func (m *StatsMonitorImpl) setCursor(id uuid.UUID) {
	m.mu.Lock()
	m.cursor = id
	m.mu.Unlock()
}

// scan continues from the stored cursor. A completed pass resets it.
func (m *StatsMonitorImpl) scan(ctx context.Context, rep *model.HealthReport) error {
	after := m.resumeCursor()
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		ids, err := m.users.ListIDs(ctx, after, m.opts.BatchSize)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("list users: %w", err)
		}
		for _, id := range ids {
			if err := m.checkUser(ctx, id, rep); err != nil {
				return err
			}
			after = id
			m.setCursor(after)
		}
		if len(ids) < m.opts.BatchSize {
			m.setCursor(uuid.Nil)
			return nil
		}
	}
}

func (m *StatsMonitorImpl) checkUser(ctx context.Context, id uuid.UUID, rep *model.HealthReport) error {
	issues, err := m.validator.CheckUser(ctx, id)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		m.log.Warn("user check failed", zap.String("user_id", id.String()), zap.Error(err))
		rep.UsersScanned++
		return nil
	}
	rep.UsersScanned++
	if len(issues) == 0 {
		return nil
	}
	rep.InconsistentUsers++
	rep.Inconsistencies += len(issues)
	if !m.opts.AutoFix {
		return nil
	}
	n, err := m.validator.Correct(ctx, id, issues, "monitor", "")
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		m.log.Warn("auto-fix failed", zap.String("user_id", id.String()), zap.Error(err))
		return nil
	}
	rep.Fixed += n
	return nil
}

// engagement reads activity counts outside the scan deadline so a partial
// scan still gets a full score.
func (m *StatsMonitorImpl) engagement(ctx context.Context, rep *model.HealthReport) error {
	now := m.now()
	active, err := m.stats.CountActiveSince(ctx, now.Add(-7*24*time.Hour))
	if err != nil {
		return fmt.Errorf("count active: %w", err)
	}
	unlocks, err := m.achievements.CountUnlockedSince(ctx, now.Add(-24*time.Hour))
	if err != nil {
		return fmt.Errorf("count unlocks: %w", err)
	}
	rep.ActiveUsers7d = active
	rep.RecentUnlocks24h = unlocks
	if rep.TotalUsers > 0 {
		rep.EngagementRate = float64(active) / float64(rep.TotalUsers)
	}
	if rep.UsersScanned > 0 {
		rep.DriftRate = float64(rep.InconsistentUsers) / float64(rep.UsersScanned)
	}
	return nil
}

// score fills Score and Alerts from the collected metrics.
func score(rep *model.HealthReport) {
	s := 100
	if rep.InconsistentUsers > 0 {
		p := int(math.Ceil(rep.DriftRate * driftPenaltyFactor))
		s -= min(maxDriftPenalty, p)
		level := model.AlertWarning
		code := "drift_detected"
		if rep.DriftRate >= highDriftRate {
			level, code = model.AlertError, "high_drift"
		}
		rep.Alerts = append(rep.Alerts, model.Alert{
			Level: level, Code: code,
			Message: fmt.Sprintf("%d of %d scanned users drifted (%.2f%%)",
				rep.InconsistentUsers, rep.UsersScanned, rep.DriftRate*100),
		})
	}
	if rep.TotalUsers > 0 && rep.EngagementRate < lowEngagementRate {
		s -= lowEngagementPenalty
		rep.Alerts = append(rep.Alerts, model.Alert{
			Level: model.AlertWarning, Code: "low_engagement",
			Message: fmt.Sprintf("7-day engagement %.1f%%", rep.EngagementRate*100),
		})
	}
	if rep.TotalUsers > 0 && rep.RecentUnlocks24h == 0 {
		s -= noUnlocksPenalty
		rep.Alerts = append(rep.Alerts, model.Alert{
			Level: model.AlertWarning, Code: "no_recent_unlocks",
			Message: "no achievements unlocked in the last 24h",
		})
	}
	if rep.Partial {
		s -= partialPenalty
		rep.Alerts = append(rep.Alerts, model.Alert{
			Level: model.AlertWarning, Code: "partial_scan",
			Message: fmt.Sprintf("scan stopped after %d of %d users", rep.UsersScanned, rep.TotalUsers),
		})
	}
	s = max(s, 0)
	if s < lowHealthScore {
		rep.Alerts = append(rep.Alerts, model.Alert{
			Level: model.AlertError, Code: "low_health",
			Message: fmt.Sprintf("health score %d", s),
		})
	}
	rep.Score = s
}
