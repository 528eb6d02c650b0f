package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap"

	"github.com/and161185/gamestats/internal/model"
)

// Pipeline feeds one event through the derived phase: counters first, then
// achievements, so conditions see the updated counters.
type Pipeline struct {
	agg    StatsAggregator
	engine AchievementEngine
	queue  Enqueuer
	log    *zap.Logger
}

// NewPipeline constructs a Pipeline. queue may be nil when Submit is unused.
func NewPipeline(agg StatsAggregator, engine AchievementEngine, queue Enqueuer, log *zap.Logger) *Pipeline {
	if log == nil {
		log = zap.NewNop()
	}
	return &Pipeline{agg: agg, engine: engine, queue: queue, log: log.Named("pipeline")}
}

// HandleEvent applies ev and evaluates achievements. It is safe to replay.
func (p *Pipeline) HandleEvent(ctx context.Context, ev model.Event) ([]uuid.UUID, error) {
	if _, err := p.agg.Apply(ctx, ev); err != nil {
		return nil, err
	}
	unlocked, err := p.engine.CheckAchievements(ctx, ev)
	if err != nil {
		return unlocked, fmt.Errorf("check achievements: %w", err)
	}
	if len(unlocked) > 0 {
		p.log.Info("achievements unlocked",
			zap.String("user_id", ev.UserID.String()),
			zap.String("event", string(ev.Type)),
			zap.Int("count", len(unlocked)))
	}
	return unlocked, nil
}

// Submit hands ev to the background queue without waiting for it.
func (p *Pipeline) Submit(ctx context.Context, ev model.Event) error {
	if err := ev.Validate(); err != nil {
		return err
	}
	if p.queue == nil {
		return errors.New("pipeline has no queue")
	}
	return p.queue.Enqueue(ctx, Task{
		Name:   "handle_event",
		UserID: ev.UserID,
		Run: func(ctx context.Context) error {
			_, err := p.HandleEvent(ctx, ev)
			return err
		},
	})
}
