package service

import (
	"bytes"
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/and161185/gamestats/internal/errs"
	"github.com/and161185/gamestats/internal/model"
	"github.com/and161185/gamestats/internal/repository"
	"github.com/and161185/gamestats/internal/streak"
)

// RankingAggregator materializes leaderboards from reconciled aggregates.
type RankingAggregator interface {
	// Recompute fully replaces the all-time boards (seasonID nil) or one season's board.
	Recompute(ctx context.Context, seasonID *uuid.UUID) error
	// RecomputeAll refreshes the all-time boards and every active season.
	RecomputeAll(ctx context.Context) error
	GetRanking(ctx context.Context, category model.RankingCategory, limit int, seasonID *uuid.UUID) ([]model.Ranking, error)
	// GetRankingAroundUser returns positions within ±window of the user.
	GetRankingAroundUser(ctx context.Context, userID uuid.UUID, category model.RankingCategory, window int, seasonID *uuid.UUID) ([]model.Ranking, error)
	GetUserPosition(ctx context.Context, userID uuid.UUID, category model.RankingCategory, seasonID *uuid.UUID) (*model.Ranking, error)
}

// DefaultRankingWeights are the composite weights used when none are configured.
var DefaultRankingWeights = map[model.RankingCategory]float64{
	model.RankTotalXP:    0.35,
	model.RankCollector:  0.20,
	model.RankTrader:     0.15,
	model.RankPackOpener: 0.15,
	model.RankStreak:     0.15,
}

const (
	defaultRankingLimit = 100
	maxRankingLimit     = 1000
	maxRankingWindow    = 100
)

type RankingAggregatorImpl struct {
	rankings repository.RankingRepository
	seasons  repository.SeasonRepository
	sources  repository.SourceRepository
	audit    AuditLogger
	calc     streak.Calculator
	excluded []model.Role
	weights  map[model.RankingCategory]float64
	log      *zap.Logger
	now      func() time.Time
	sf       singleflight.Group
}

// NewRankingAggregator constructs a RankingAggregator. Nil weights fall back
// to DefaultRankingWeights.
func NewRankingAggregator(
	rankings repository.RankingRepository,
	seasons repository.SeasonRepository,
	sources repository.SourceRepository,
	audit AuditLogger,
	calc streak.Calculator,
	excluded []model.Role,
	weights map[model.RankingCategory]float64,
	log *zap.Logger,
) *RankingAggregatorImpl {
	if len(weights) == 0 {
		weights = DefaultRankingWeights
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &RankingAggregatorImpl{
		rankings: rankings, seasons: seasons, sources: sources, audit: audit,
		calc: calc, excluded: excluded, weights: weights,
		log: log.Named("rankings"), now: time.Now,
	}
}

// categoryValue extracts the raw ranking value of a base category.
func categoryValue(c model.RankingCategory, xp int64, counters model.Counters, longestStreak int) float64 {
	switch c {
	case model.RankTotalXP:
		return float64(xp)
	case model.RankCollector:
		return float64(counters.TotalItemsCollected)
	case model.RankTrader:
		return float64(counters.MarketplaceSales)
	case model.RankPackOpener:
		return float64(counters.TotalPacksOpened)
	case model.RankStreak:
		return float64(longestStreak)
	}
	return 0
}

// board holds raw values of every base category for one candidate set.
type board struct {
	cands  []model.RankingCandidate
	values map[model.RankingCategory]map[uuid.UUID]float64
}

func (r *RankingAggregatorImpl) Recompute(ctx context.Context, seasonID *uuid.UUID) error {
	key := "all-time"
	if seasonID != nil {
		key = seasonID.String()
	}
	_, err, _ := r.sf.Do(key, func() (any, error) {
		return nil, r.recompute(ctx, seasonID)
	})
	return err
}

func (r *RankingAggregatorImpl) recompute(ctx context.Context, seasonID *uuid.UUID) error {
	start := r.now()
	cands, err := r.candidates(ctx)
	if err != nil {
		return err
	}

	var (
		b          board
		categories []model.RankingCategory
	)
	if seasonID == nil {
		b = allTimeBoard(cands)
		categories = append(append(categories, model.BaseCategories...), model.RankGlobal)
	} else {
		season, err := r.seasons.GetByID(ctx, *seasonID)
		if err != nil {
			return fmt.Errorf("season: %w", err)
		}
		b, err = r.seasonBoard(ctx, cands, *season)
		if err != nil {
			return err
		}
		categories = []model.RankingCategory{season.Category}
	}

	at := r.now()
	g, gctx := errgroup.WithContext(ctx)
	for _, cat := range categories {
		values := b.values[cat]
		if cat == model.RankGlobal {
			values = composite(b, r.weights)
		}
		rows := rank(b.cands, values, cat, seasonID, at)
		g.Go(func() error {
			if err := r.rankings.Replace(gctx, cat, seasonID, rows); err != nil {
				return fmt.Errorf("replace %s: %w", cat, err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	names := make([]string, len(categories))
	for i, c := range categories {
		names[i] = string(c)
	}
	details := map[string]any{"categories": names, "users": len(b.cands)}
	if seasonID != nil {
		details["season_id"] = seasonID.String()
	}
	r.audit.Record(ctx, model.AuditEntry{Action: model.AuditRankingsReplaced, Source: "rankings", Details: details})
	r.log.Info("rankings recomputed",
		zap.Strings("categories", names), zap.Int("users", len(b.cands)),
		zap.Duration("duration", r.now().Sub(start)))
	return nil
}

// candidates are filtered again here so a stale SQL filter never leaks admins.
func (r *RankingAggregatorImpl) candidates(ctx context.Context) ([]model.RankingCandidate, error) {
	all, err := r.rankings.ListCandidates(ctx, r.excluded)
	if err != nil {
		return nil, fmt.Errorf("list candidates: %w", err)
	}
	excluded := make(map[model.Role]bool, len(r.excluded))
	for _, role := range r.excluded {
		excluded[role] = true
	}
	out := all[:0]
	for _, c := range all {
		if c.Role.IsAdmin() || excluded[c.Role] {
			continue
		}
		out = append(out, c)
	}
	return out, nil
}

func allTimeBoard(cands []model.RankingCandidate) board {
	b := board{cands: cands, values: make(map[model.RankingCategory]map[uuid.UUID]float64)}
	for _, cat := range model.BaseCategories {
		m := make(map[uuid.UUID]float64, len(cands))
		for _, c := range cands {
			m[c.UserID] = categoryValue(cat, c.Stats.TotalXP, c.Stats.Counters, c.Stats.LongestStreak)
		}
		b.values[cat] = m
	}
	return b
}

// seasonBoard derives values from source rows inside the season window.
// Candidates with no activity rank with zeros.
func (r *RankingAggregatorImpl) seasonBoard(ctx context.Context, cands []model.RankingCandidate, s model.Season) (board, error) {
	activity, err := r.sources.SeasonActivity(ctx, s.StartsAt, s.EndsAt)
	if err != nil {
		return board{}, fmt.Errorf("season activity: %w", err)
	}
	ids := make([]uuid.UUID, len(cands))
	for i, c := range cands {
		ids[i] = c.UserID
	}
	claims, err := r.sources.ClaimTimes(ctx, ids, s.StartsAt, s.EndsAt)
	if err != nil {
		return board{}, fmt.Errorf("season claims: %w", err)
	}

	b := board{cands: cands, values: make(map[model.RankingCategory]map[uuid.UUID]float64)}
	for _, cat := range model.BaseCategories {
		b.values[cat] = make(map[uuid.UUID]float64, len(cands))
	}
	for _, c := range cands {
		a := activity[c.UserID]
		a.LongestStreak = r.calc.Longest(claims[c.UserID])
		for _, cat := range model.BaseCategories {
			b.values[cat][c.UserID] = categoryValue(cat, a.XP, a.Counters, a.LongestStreak)
		}
	}
	return b, nil
}

// rank orders by value descending, then account age, then user id.
func rank(
	cands []model.RankingCandidate, values map[uuid.UUID]float64,
	cat model.RankingCategory, seasonID *uuid.UUID, at time.Time,
) []model.Ranking {
	sorted := make([]model.RankingCandidate, len(cands))
	copy(sorted, cands)
	sort.SliceStable(sorted, func(i, j int) bool {
		a, b := sorted[i], sorted[j]
		if va, vb := values[a.UserID], values[b.UserID]; va != vb {
			return va > vb
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return bytes.Compare(a.UserID.Bytes(), b.UserID.Bytes()) < 0
	})

	out := make([]model.Ranking, len(sorted))
	for i, c := range sorted {
		out[i] = model.Ranking{
			UserID:    c.UserID,
			Category:  cat,
			SeasonID:  seasonID,
			Position:  i + 1,
			Value:     values[c.UserID],
			UpdatedAt: at,
		}
	}
	return out
}

// percentiles maps each user to the share of users with a strictly lower value.
func percentiles(values map[uuid.UUID]float64) map[uuid.UUID]float64 {
	n := len(values)
	out := make(map[uuid.UUID]float64, n)
	if n == 1 {
		for id := range values {
			out[id] = 1
		}
		return out
	}
	sorted := make([]float64, 0, n)
	for _, v := range values {
		sorted = append(sorted, v)
	}
	sort.Float64s(sorted)
	for id, v := range values {
		lower := sort.SearchFloat64s(sorted, v)
		out[id] = float64(lower) / float64(n-1)
	}
	return out
}

// composite combines per-category percentiles with weights, normalized by their sum.
func composite(b board, weights map[model.RankingCategory]float64) map[uuid.UUID]float64 {
	out := make(map[uuid.UUID]float64, len(b.cands))
	var sum float64
	for _, cat := range model.BaseCategories {
		w := weights[cat]
		if w <= 0 {
			continue
		}
		sum += w
		for id, p := range percentiles(b.values[cat]) {
			out[id] += w * p
		}
	}
	if sum == 0 {
		return out
	}
	for id := range out {
		out[id] /= sum
	}
	return out
}

func (r *RankingAggregatorImpl) RecomputeAll(ctx context.Context) error {
	if err := r.Recompute(ctx, nil); err != nil {
		return err
	}
	seasons, err := r.seasons.ListActive(ctx)
	if err != nil {
		return fmt.Errorf("list seasons: %w", err)
	}
	for _, s := range seasons {
		if err := r.Recompute(ctx, &s.ID); err != nil {
			return err
		}
	}
	return nil
}

func validCategory(c model.RankingCategory) error {
	if !c.Valid() {
		return fmt.Errorf("%w: unknown ranking category %q", errs.ErrValidation, c)
	}
	return nil
}

func (r *RankingAggregatorImpl) GetRanking(
	ctx context.Context, category model.RankingCategory, limit int, seasonID *uuid.UUID,
) ([]model.Ranking, error) {
	if err := validCategory(category); err != nil {
		return nil, err
	}
	switch {
	case limit <= 0:
		limit = defaultRankingLimit
	case limit > maxRankingLimit:
		limit = maxRankingLimit
	}
	return r.rankings.Top(ctx, category, seasonID, limit)
}

func (r *RankingAggregatorImpl) GetRankingAroundUser(
	ctx context.Context, userID uuid.UUID, category model.RankingCategory, window int, seasonID *uuid.UUID,
) ([]model.Ranking, error) {
	if err := validCategory(category); err != nil {
		return nil, err
	}
	if window < 0 {
		return nil, fmt.Errorf("%w: negative window", errs.ErrValidation)
	}
	window = min(window, maxRankingWindow)
	pos, err := r.rankings.Position(ctx, userID, category, seasonID)
	if err != nil {
		return nil, err
	}
	from := max(1, pos.Position-window)
	return r.rankings.Range(ctx, category, seasonID, from, pos.Position+window)
}

func (r *RankingAggregatorImpl) GetUserPosition(
	ctx context.Context, userID uuid.UUID, category model.RankingCategory, seasonID *uuid.UUID,
) (*model.Ranking, error) {
	if err := validCategory(category); err != nil {
		return nil, err
	}
	return r.rankings.Position(ctx, userID, category, seasonID)
}
