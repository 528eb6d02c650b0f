package repository

import (
	"context"

	"github.com/and161185/gamestats/internal/model"
	"github.com/gofrs/uuid/v5"
)

// RankingRepository stores materialized leaderboards. seasonID nil is all-time.
type RankingRepository interface {
	// ListCandidates returns rankable users with stats, excluding the given roles.
	ListCandidates(ctx context.Context, excludedRoles []model.Role) ([]model.RankingCandidate, error)
	// Replace swaps all rows of (category, season) for rows in one transaction.
	Replace(ctx context.Context, category model.RankingCategory, seasonID *uuid.UUID, rows []model.Ranking) error
	// Top returns the first limit positions.
	Top(ctx context.Context, category model.RankingCategory, seasonID *uuid.UUID, limit int) ([]model.Ranking, error)
	// Position returns the user's row; ErrNotFound when unranked.
	Position(ctx context.Context, userID uuid.UUID, category model.RankingCategory, seasonID *uuid.UUID) (*model.Ranking, error)
	// Range returns positions in [from, to].
	Range(ctx context.Context, category model.RankingCategory, seasonID *uuid.UUID, from, to int) ([]model.Ranking, error)
}

// SeasonRepository stores seasons and their reward tables.
type SeasonRepository interface {
	GetByID(ctx context.Context, id uuid.UUID) (*model.Season, error)
	// Active returns the active season for category; ErrNotFound when none.
	Active(ctx context.Context, category model.RankingCategory) (*model.Season, error)
	// ListActive returns all active seasons.
	ListActive(ctx context.Context) ([]model.Season, error)
	// Create inserts s; ErrAlreadyExists when category already has an active season.
	Create(ctx context.Context, s *model.Season) error
	// Deactivate clears the active flag; false when it was not active.
	Deactivate(ctx context.Context, id uuid.UUID) (bool, error)
}
