package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/and161185/gamestats/internal/model"
	"github.com/gofrs/uuid/v5"
	"github.com/jackc/pgx/v5"
)

// SeasonRepo implements SeasonRepository using PostgreSQL.
type SeasonRepo struct{ db *DB }

// NewSeasonRepo constructs a season repository.
func NewSeasonRepo(db *DB) *SeasonRepo { return &SeasonRepo{db: db} }

const seasonSelect = `SELECT id, name, category, starts_at, ends_at, rewards, is_active, created_at FROM seasons`

func scanSeason(row pgx.Row) (*model.Season, error) {
	var (
		s       model.Season
		cat     string
		rewards []byte
	)
	if err := row.Scan(&s.ID, &s.Name, &cat, &s.StartsAt, &s.EndsAt, &rewards, &s.IsActive, &s.CreatedAt); err != nil {
		return nil, err
	}
	s.Category = model.RankingCategory(cat)
	if len(rewards) > 0 {
		if err := json.Unmarshal(rewards, &s.Rewards); err != nil {
			return nil, fmt.Errorf("season %s rewards: %w", s.ID, err)
		}
	}
	return &s, nil
}

// GetByID loads a season.
func (r *SeasonRepo) GetByID(ctx context.Context, id uuid.UUID) (*model.Season, error) {
	s, err := scanSeason(r.db.Pool.QueryRow(ctx, seasonSelect+` WHERE id = $1`, id))
	if err != nil {
		return nil, mapErr(err)
	}
	return s, nil
}

// Active returns the active season of a category.
func (r *SeasonRepo) Active(ctx context.Context, category model.RankingCategory) (*model.Season, error) {
	s, err := scanSeason(r.db.Pool.QueryRow(ctx, seasonSelect+` WHERE category = $1 AND is_active`, string(category)))
	if err != nil {
		return nil, mapErr(err)
	}
	return s, nil
}

// ListActive returns every active season.
func (r *SeasonRepo) ListActive(ctx context.Context) ([]model.Season, error) {
	rows, err := r.db.Pool.Query(ctx, seasonSelect+` WHERE is_active ORDER BY starts_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Season
	for rows.Next() {
		s, err := scanSeason(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *s)
	}
	return out, rows.Err()
}

// Create inserts a season; the partial unique index rejects a second active one.
func (r *SeasonRepo) Create(ctx context.Context, s *model.Season) error {
	const q = `
INSERT INTO seasons (id, name, category, starts_at, ends_at, rewards, is_active)
VALUES ($1, $2, $3, $4, $5, $6, $7)
RETURNING created_at`
	rewards, err := json.Marshal(s.Rewards)
	if err != nil {
		return err
	}
	if s.Rewards == nil {
		rewards = []byte("[]")
	}
	err = r.db.Pool.QueryRow(ctx, q, s.ID, s.Name, string(s.Category), s.StartsAt, s.EndsAt, rewards, s.IsActive).
		Scan(&s.CreatedAt)
	return mapErr(err)
}

// Deactivate ends a season.
func (r *SeasonRepo) Deactivate(ctx context.Context, id uuid.UUID) (bool, error) {
	const q = `UPDATE seasons SET is_active = false WHERE id = $1 AND is_active`
	tag, err := r.db.Pool.Exec(ctx, q, id)
	if err != nil {
		return false, mapErr(err)
	}
	return tag.RowsAffected() == 1, nil
}
