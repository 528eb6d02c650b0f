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

// Enqueuer accepts background tasks.
type Enqueuer interface {
	Enqueue(ctx context.Context, t Task) error
}

// IntegrityGuard runs the derived phase after a successful pack operation.
type IntegrityGuard struct {
	agg       StatsAggregator
	engine    AchievementEngine
	validator StatsValidator
	sources   repository.SourceRepository
	queue     Enqueuer
	audit     AuditLogger
	timeout   time.Duration
	log       *zap.Logger
	now       func() time.Time
}

// NewIntegrityGuard constructs an IntegrityGuard whose post-check is bounded by timeout.
func NewIntegrityGuard(
	agg StatsAggregator,
	engine AchievementEngine,
	validator StatsValidator,
	sources repository.SourceRepository,
	queue Enqueuer,
	audit AuditLogger,
	timeout time.Duration,
	log *zap.Logger,
) *IntegrityGuard {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &IntegrityGuard{
		agg: agg, engine: engine, validator: validator, sources: sources,
		queue: queue, audit: audit, timeout: timeout,
		log: log.Named("guard"), now: time.Now,
	}
}

// PackOperation is a primary operation returning its result and the events it produced.
type PackOperation[T any] func(ctx context.Context) (T, []model.Event, error)

// WrapPackOperation runs op and, only if it succeeded, the derived phase.
// The operation's result and error are returned untouched; derived-phase
// problems end up in the report.
func WrapPackOperation[T any](
	ctx context.Context, g *IntegrityGuard, userID uuid.UUID, op PackOperation[T], contextID, source string,
) (T, model.IntegrityReport, error) {
	res, events, err := op(ctx)
	if err != nil {
		return res, model.IntegrityReport{
			UserID: userID, ContextID: contextID, Source: source, Skipped: true, CheckedAt: g.now(),
		}, err
	}
	return res, g.Verify(ctx, userID, events, contextID, source), nil
}

// Verify applies events and checks the affected users. It never fails;
// the derived phase runs detached from ctx cancellation under its own timeout.
func (g *IntegrityGuard) Verify(
	ctx context.Context, userID uuid.UUID, events []model.Event, contextID, source string,
) (rep model.IntegrityReport) {
	start := g.now()
	rep = model.IntegrityReport{UserID: userID, ContextID: contextID, Source: source, IsValid: true, CheckedAt: start}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), g.timeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			g.log.Error("integrity check panic",
				zap.String("user_id", userID.String()), zap.String("context_id", contextID),
				zap.Any("panic", r), zap.Stack("stack"))
			rep.Error = fmt.Sprintf("panic: %v", r)
		}
		rep.Duration = g.now().Sub(start)
	}()

	users := g.applyEvents(ctx, userID, events, contextID, &rep)
	for _, id := range users {
		g.checkUser(ctx, id, contextID, source, &rep)
	}
	if err := ctx.Err(); err != nil && rep.Error == "" {
		rep.Error = err.Error()
	}
	return rep
}

// applyEvents returns the distinct users touched, userID first.
func (g *IntegrityGuard) applyEvents(
	ctx context.Context, userID uuid.UUID, events []model.Event, contextID string, rep *model.IntegrityReport,
) []uuid.UUID {
	users := []uuid.UUID{userID}
	seen := map[uuid.UUID]bool{userID: true}

	for i, ev := range events {
		if ev.ID == uuid.Nil {
			if contextID != "" {
				ev.ID = model.EventIDFor(fmt.Sprintf("%s#%d", contextID, i), ev.Type, ev.UserID)
			} else {
				ev.ID = uuid.Must(uuid.NewV4())
			}
		}
		if ev.OccurredAt.IsZero() {
			ev.OccurredAt = g.now()
		}
		if _, err := g.agg.Apply(ctx, ev); err != nil {
			rep.Warnings = append(rep.Warnings, fmt.Sprintf("apply %s: %v", ev.Type, err))
			g.log.Warn("derived update failed",
				zap.String("user_id", ev.UserID.String()), zap.String("event", string(ev.Type)),
				zap.String("context_id", contextID), zap.Error(err))
			if errors.Is(err, errs.ErrValidation) {
				continue
			}
		}
		g.enqueueCheck(ctx, ev, rep)
		if !seen[ev.UserID] {
			seen[ev.UserID] = true
			users = append(users, ev.UserID)
		}
	}
	return users
}

func (g *IntegrityGuard) enqueueCheck(ctx context.Context, ev model.Event, rep *model.IntegrityReport) {
	if g.queue == nil {
		return
	}
	err := g.queue.Enqueue(ctx, Task{
		Name:   "check_achievements",
		UserID: ev.UserID,
		Run: func(ctx context.Context) error {
			_, err := g.engine.CheckAchievements(ctx, ev)
			return err
		},
	})
	if err != nil {
		rep.Warnings = append(rep.Warnings, fmt.Sprintf("enqueue achievements: %v", err))
		g.log.Warn("achievement check not enqueued",
			zap.String("user_id", ev.UserID.String()), zap.String("event", string(ev.Type)), zap.Error(err))
	}
}

// checkUser fixes counter drift and reports ownership drift, which is never auto-fixed.
func (g *IntegrityGuard) checkUser(ctx context.Context, userID uuid.UUID, contextID, source string, rep *model.IntegrityReport) {
	issues, err := g.validator.CheckCounters(ctx, userID)
	if err != nil {
		rep.Warnings = append(rep.Warnings, fmt.Sprintf("check %s: %v", userID, err))
		return
	}
	if len(issues) > 0 {
		rep.Issues = append(rep.Issues, issues...)
		n, err := g.validator.Correct(ctx, userID, issues, source, contextID)
		if err != nil {
			rep.Warnings = append(rep.Warnings, fmt.Sprintf("fix %s: %v", userID, err))
			rep.Unresolved = append(rep.Unresolved, issues...)
			rep.IsValid = false
			g.log.Warn("counter drift not fixed",
				zap.String("user_id", userID.String()), zap.String("context_id", contextID), zap.Error(err))
			for _, is := range issues {
				g.recordUnresolved(ctx, is, source, contextID, err)
			}
		} else if n > 0 {
			rep.AutoFixed = true
			g.log.Info("counter drift auto-fixed",
				zap.String("user_id", userID.String()), zap.String("context_id", contextID), zap.Int("fields", n))
		}
	}

	st, err := g.agg.Get(ctx, userID)
	if err != nil {
		rep.Warnings = append(rep.Warnings, fmt.Sprintf("stats %s: %v", userID, err))
		return
	}
	owned, err := g.sources.CountOwnedItems(ctx, userID)
	if err != nil {
		rep.Warnings = append(rep.Warnings, fmt.Sprintf("owned items %s: %v", userID, err))
		return
	}
	expected := st.TotalItemsCollected - st.MarketplaceSales
	if owned == expected {
		return
	}
	is := model.Inconsistency{UserID: userID, Field: model.FieldOwnedItems, Stored: owned, Expected: expected}
	rep.Issues = append(rep.Issues, is)
	rep.Unresolved = append(rep.Unresolved, is)
	rep.IsValid = false
	g.recordUnresolved(ctx, is, source, contextID, errs.ErrIntegrityDrift)
}

func (g *IntegrityGuard) recordUnresolved(ctx context.Context, is model.Inconsistency, source, contextID string, cause error) {
	g.audit.Record(ctx, model.AuditEntry{
		UserID:    uuidp(is.UserID),
		Action:    model.AuditDriftUnresolved,
		Source:    source,
		ContextID: contextID,
		Field:     is.Field,
		Before:    int64p(is.Stored),
		After:     int64p(is.Expected),
		Details:   map[string]any{"error": cause.Error()},
	})
}
