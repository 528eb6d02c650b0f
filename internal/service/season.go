package service

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap"

	"github.com/and161185/gamestats/internal/errs"
	"github.com/and161185/gamestats/internal/model"
	"github.com/and161185/gamestats/internal/repository"
)

// SeasonService manages time-boxed ranking seasons.
type SeasonService interface {
	// CreateSeason validates and activates s; ErrAlreadyExists when its category has an active season.
	CreateSeason(ctx context.Context, s model.Season) (*model.Season, error)
	// ActiveSeason returns the active season of category.
	ActiveSeason(ctx context.Context, category model.RankingCategory) (*model.Season, error)
	// FinalizeSeason recomputes the season board once more, deactivates the
	// season and returns standings matched to its rewards. Repeat calls
	// return the same standings.
	FinalizeSeason(ctx context.Context, id uuid.UUID) ([]model.SeasonStanding, error)
}

type SeasonServiceImpl struct {
	seasons  repository.SeasonRepository
	rankings repository.RankingRepository
	agg      RankingAggregator
	audit    AuditLogger
	log      *zap.Logger
	now      func() time.Time
}

// NewSeasonService constructs a SeasonService.
func NewSeasonService(
	seasons repository.SeasonRepository,
	rankings repository.RankingRepository,
	agg RankingAggregator,
	audit AuditLogger,
	log *zap.Logger,
) *SeasonServiceImpl {
	if log == nil {
		log = zap.NewNop()
	}
	return &SeasonServiceImpl{
		seasons: seasons, rankings: rankings, agg: agg, audit: audit,
		log: log.Named("seasons"), now: time.Now,
	}
}

func validateSeason(s model.Season) error {
	if strings.TrimSpace(s.Name) == "" {
		return fmt.Errorf("%w: season name is empty", errs.ErrValidation)
	}
	if err := validCategory(s.Category); err != nil {
		return err
	}
	if s.StartsAt.IsZero() || !s.EndsAt.After(s.StartsAt) {
		return fmt.Errorf("%w: season must end after it starts", errs.ErrValidation)
	}
	tiers := make([]model.SeasonReward, len(s.Rewards))
	copy(tiers, s.Rewards)
	sort.Slice(tiers, func(i, j int) bool { return tiers[i].FromPosition < tiers[j].FromPosition })
	for i, t := range tiers {
		if t.FromPosition < 1 || t.ToPosition < t.FromPosition {
			return fmt.Errorf("%w: reward tier %d-%d", errs.ErrValidation, t.FromPosition, t.ToPosition)
		}
		if t.Credits < 0 {
			return fmt.Errorf("%w: negative reward credits", errs.ErrValidation)
		}
		if i > 0 && t.FromPosition <= tiers[i-1].ToPosition {
			return fmt.Errorf("%w: reward tiers overlap at position %d", errs.ErrValidation, t.FromPosition)
		}
	}
	return nil
}

func (s *SeasonServiceImpl) CreateSeason(ctx context.Context, in model.Season) (*model.Season, error) {
	if err := validateSeason(in); err != nil {
		return nil, err
	}
	id, err := uuid.NewV4()
	if err != nil {
		return nil, err
	}
	in.ID = id
	in.IsActive = true
	in.CreatedAt = s.now()
	if err := s.seasons.Create(ctx, &in); err != nil {
		return nil, err
	}
	s.log.Info("season created",
		zap.String("season_id", in.ID.String()), zap.String("category", string(in.Category)),
		zap.Time("starts_at", in.StartsAt), zap.Time("ends_at", in.EndsAt))
	return &in, nil
}

func (s *SeasonServiceImpl) ActiveSeason(ctx context.Context, category model.RankingCategory) (*model.Season, error) {
	if err := validCategory(category); err != nil {
		return nil, err
	}
	return s.seasons.Active(ctx, category)
}

func (s *SeasonServiceImpl) FinalizeSeason(ctx context.Context, id uuid.UUID) ([]model.SeasonStanding, error) {
	if id == uuid.Nil {
		return nil, fmt.Errorf("%w: empty season id", errs.ErrValidation)
	}
	season, err := s.seasons.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if season.IsActive {
		if err := s.agg.Recompute(ctx, &id); err != nil {
			return nil, err
		}
		deactivated, err := s.seasons.Deactivate(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("deactivate: %w", err)
		}
		if deactivated {
			s.audit.Record(ctx, model.AuditEntry{
				Action:  model.AuditSeasonFinalized,
				Source:  "seasons",
				Details: map[string]any{"season_id": id.String(), "category": string(season.Category)},
			})
		}
	}

	limit := defaultRankingLimit
	if n := lastRewardedPosition(season.Rewards); n > 0 {
		limit = n
	}
	top, err := s.rankings.Top(ctx, season.Category, &id, limit)
	if err != nil {
		return nil, err
	}
	out := make([]model.SeasonStanding, len(top))
	for i, r := range top {
		out[i] = model.SeasonStanding{Ranking: r, Reward: season.RewardFor(r.Position)}
	}
	return out, nil
}

func lastRewardedPosition(rewards []model.SeasonReward) int {
	n := 0
	for _, r := range rewards {
		n = max(n, r.ToPosition)
	}
	return n
}
