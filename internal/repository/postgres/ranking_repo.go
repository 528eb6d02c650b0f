package postgres

import (
	"context"
	"time"

	"github.com/and161185/gamestats/internal/model"
	"github.com/gofrs/uuid/v5"
	"github.com/jackc/pgx/v5"
)

// RankingRepo implements RankingRepository using PostgreSQL.
type RankingRepo struct{ db *DB }

// NewRankingRepo constructs a ranking repository.
func NewRankingRepo(db *DB) *RankingRepo { return &RankingRepo{db: db} }

// ListCandidates returns users joined with stats, minus excluded roles.
// Users without a stats row rank with zero values.
func (r *RankingRepo) ListCandidates(ctx context.Context, excludedRoles []model.Role) ([]model.RankingCandidate, error) {
	const q = `
SELECT u.id, u.role, u.created_at,
       COALESCE(s.total_xp, 0), COALESCE(s.level, 1), COALESCE(s.current_streak, 0), COALESCE(s.longest_streak, 0),
       COALESCE(s.total_packs_opened, 0), COALESCE(s.total_items_collected, 0),
       COALESCE(s.marketplace_sales, 0), COALESCE(s.marketplace_purchases, 0)
FROM users u
LEFT JOIN user_stats s ON s.user_id = u.id
WHERE NOT (u.role = ANY($1::text[]))
ORDER BY u.created_at, u.id`
	roles := make([]string, 0, len(excludedRoles))
	for _, role := range excludedRoles {
		roles = append(roles, string(role))
	}
	rows, err := r.db.Pool.Query(ctx, q, roles)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.RankingCandidate
	for rows.Next() {
		var (
			c    model.RankingCandidate
			role string
			s    = &c.Stats
		)
		if err = rows.Scan(&c.UserID, &role, &c.CreatedAt,
			&s.TotalXP, &s.Level, &s.CurrentStreak, &s.LongestStreak,
			&s.TotalPacksOpened, &s.TotalItemsCollected, &s.MarketplaceSales, &s.MarketplacePurchases); err != nil {
			return nil, err
		}
		c.Role = model.Role(role)
		s.UserID = c.UserID
		out = append(out, c)
	}
	return out, rows.Err()
}

// Replace deletes and re-inserts every row of (category, season) in one transaction.
func (r *RankingRepo) Replace(
	ctx context.Context, category model.RankingCategory, seasonID *uuid.UUID, rows []model.Ranking,
) error {
	const del = `DELETE FROM rankings WHERE category = $1 AND season_id IS NOT DISTINCT FROM $2`
	const ins = `
INSERT INTO rankings (user_id, category, season_id, position, value, updated_at)
SELECT t.user_id, $2, $3, t.position, t.value, $6
FROM unnest($1::uuid[], $4::int[], $5::float8[]) AS t(user_id, position, value)`

	ids := make([]string, len(rows))
	positions := make([]int32, len(rows))
	values := make([]float64, len(rows))
	for i, row := range rows {
		ids[i] = row.UserID.String()
		positions[i] = int32(row.Position)
		values[i] = row.Value
	}
	season := nullUUID(seasonID)

	return r.db.inTx(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, del, string(category), season); err != nil {
			return err
		}
		if len(rows) == 0 {
			return nil
		}
		_, err := tx.Exec(ctx, ins, ids, string(category), season, positions, values, time.Now().UTC())
		return err
	})
}

const rankingSelect = `SELECT user_id, category, season_id, position, value, updated_at FROM rankings`

func (r *RankingRepo) list(ctx context.Context, q string, args ...any) ([]model.Ranking, error) {
	rows, err := r.db.Pool.Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Ranking
	for rows.Next() {
		rk, err := scanRanking(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *rk)
	}
	return out, rows.Err()
}

func scanRanking(row pgx.Row) (*model.Ranking, error) {
	var (
		rk     model.Ranking
		cat    string
		season uuid.NullUUID
	)
	if err := row.Scan(&rk.UserID, &cat, &season, &rk.Position, &rk.Value, &rk.UpdatedAt); err != nil {
		return nil, err
	}
	rk.Category = model.RankingCategory(cat)
	if season.Valid {
		id := season.UUID
		rk.SeasonID = &id
	}
	return &rk, nil
}

// Top returns the leading rows in position order.
func (r *RankingRepo) Top(
	ctx context.Context, category model.RankingCategory, seasonID *uuid.UUID, limit int,
) ([]model.Ranking, error) {
	const q = rankingSelect + `
WHERE category = $1 AND season_id IS NOT DISTINCT FROM $2
ORDER BY position LIMIT $3`
	return r.list(ctx, q, string(category), nullUUID(seasonID), limit)
}

// Position returns one user's row.
func (r *RankingRepo) Position(
	ctx context.Context, userID uuid.UUID, category model.RankingCategory, seasonID *uuid.UUID,
) (*model.Ranking, error) {
	const q = rankingSelect + `
WHERE category = $1 AND season_id IS NOT DISTINCT FROM $2 AND user_id = $3`
	rk, err := scanRanking(r.db.Pool.QueryRow(ctx, q, string(category), nullUUID(seasonID), userID))
	if err != nil {
		return nil, mapErr(err)
	}
	return rk, nil
}

// Range returns rows with from <= position <= to.
func (r *RankingRepo) Range(
	ctx context.Context, category model.RankingCategory, seasonID *uuid.UUID, from, to int,
) ([]model.Ranking, error) {
	const q = rankingSelect + `
WHERE category = $1 AND season_id IS NOT DISTINCT FROM $2 AND position BETWEEN $3 AND $4
ORDER BY position`
	return r.list(ctx, q, string(category), nullUUID(seasonID), from, to)
}
