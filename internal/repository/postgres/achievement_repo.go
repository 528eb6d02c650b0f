package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/and161185/gamestats/internal/model"
	"github.com/gofrs/uuid/v5"
	"github.com/jackc/pgx/v5"
)

// AchievementRepo implements AchievementRepository using PostgreSQL.
type AchievementRepo struct{ db *DB }

// NewAchievementRepo constructs an achievement repository.
func NewAchievementRepo(db *DB) *AchievementRepo { return &AchievementRepo{db: db} }

const achievementColumns = `id, code, name, description, category, type, condition, points, is_secret, is_active, created_at`

func scanAchievement(row pgx.Row) (*model.Achievement, error) {
	var (
		a        model.Achievement
		cat, typ string
		cond     []byte
	)
	if err := row.Scan(&a.ID, &a.Code, &a.Name, &a.Description, &cat, &typ, &cond,
		&a.Points, &a.IsSecret, &a.IsActive, &a.CreatedAt); err != nil {
		return nil, err
	}
	a.Category = model.AchievementCategory(cat)
	a.Type = model.AchievementType(typ)
	a.Condition = cond
	return &a, nil
}

// ListActive returns active catalog rows, optionally restricted to categories.
func (r *AchievementRepo) ListActive(ctx context.Context, categories []model.AchievementCategory) ([]model.Achievement, error) {
	const q = `SELECT ` + achievementColumns + `
FROM achievements
WHERE is_active AND (cardinality($1::text[]) = 0 OR category = ANY($1::text[]))
ORDER BY created_at, id`
	cats := make([]string, 0, len(categories))
	for _, c := range categories {
		cats = append(cats, string(c))
	}
	rows, err := r.db.Pool.Query(ctx, q, cats)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Achievement
	for rows.Next() {
		a, err := scanAchievement(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *a)
	}
	return out, rows.Err()
}

// GetByID loads one catalog row.
func (r *AchievementRepo) GetByID(ctx context.Context, id uuid.UUID) (*model.Achievement, error) {
	const q = `SELECT ` + achievementColumns + ` FROM achievements WHERE id=$1`
	a, err := scanAchievement(r.db.Pool.QueryRow(ctx, q, id))
	if err != nil {
		return nil, mapErr(err)
	}
	return a, nil
}

// ListUserAchievements returns every progress row of a user.
func (r *AchievementRepo) ListUserAchievements(ctx context.Context, userID uuid.UUID) ([]model.UserAchievement, error) {
	const q = `
SELECT id, user_id, achievement_id, progress, is_completed, unlocked_at, updated_at
FROM user_achievements WHERE user_id=$1`
	rows, err := r.db.Pool.Query(ctx, q, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.UserAchievement
	for rows.Next() {
		var ua model.UserAchievement
		if err = rows.Scan(&ua.ID, &ua.UserID, &ua.AchievementID, &ua.Progress,
			&ua.IsCompleted, &ua.UnlockedAt, &ua.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, ua)
	}
	return out, rows.Err()
}

// SaveProgress raises progress of an open row; completed rows are untouched.
func (r *AchievementRepo) SaveProgress(ctx context.Context, userID, achievementID uuid.UUID, progress int) error {
	const q = `
INSERT INTO user_achievements (user_id, achievement_id, progress)
VALUES ($1, $2, $3)
ON CONFLICT (user_id, achievement_id) DO UPDATE
SET progress = GREATEST(user_achievements.progress, EXCLUDED.progress), updated_at = now()
WHERE user_achievements.is_completed = false`
	_, err := r.db.Pool.Exec(ctx, q, userID, achievementID, progress)
	return mapErr(err)
}

// CompleteAndCredit flips is_completed only while it is false and credits
// points in the same transaction, then recomputes level from the new XP.
func (r *AchievementRepo) CompleteAndCredit(
	ctx context.Context, userID, achievementID uuid.UUID, points int64, at time.Time,
) (unlocked bool, totalXP int64, err error) {
	const complete = `
INSERT INTO user_achievements (user_id, achievement_id, progress, is_completed, unlocked_at)
VALUES ($1, $2, 100, true, $3)
ON CONFLICT (user_id, achievement_id) DO UPDATE
SET progress = 100, is_completed = true, unlocked_at = EXCLUDED.unlocked_at, updated_at = now()
WHERE user_achievements.is_completed = false
RETURNING id`
	const credit = `UPDATE user_stats SET total_xp = total_xp + $2, updated_at = now() WHERE user_id = $1 RETURNING total_xp`
	const level = `UPDATE user_stats SET level = $2 WHERE user_id = $1`

	err = r.db.inTx(ctx, func(tx pgx.Tx) error {
		if err := lockUser(ctx, tx, userID); err != nil {
			return err
		}
		var id uuid.UUID
		if err := tx.QueryRow(ctx, complete, userID, achievementID, at).Scan(&id); err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return nil
			}
			return err
		}
		if _, err := tx.Exec(ctx, ensureStats, userID); err != nil {
			return err
		}
		if err := tx.QueryRow(ctx, credit, userID, points).Scan(&totalXP); err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, level, userID, model.LevelForXP(totalXP)); err != nil {
			return err
		}
		unlocked = true
		return nil
	})
	return unlocked, totalXP, err
}

// SumCompletedPoints returns the XP a user should have.
func (r *AchievementRepo) SumCompletedPoints(ctx context.Context, userID uuid.UUID) (int64, error) {
	var n int64
	if err := r.db.Pool.QueryRow(ctx, sumCompletedPointsSQL, userID).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

// CountOrphaned counts progress rows pointing at deleted achievements.
func (r *AchievementRepo) CountOrphaned(ctx context.Context, userID uuid.UUID) (int64, error) {
	const q = `
SELECT count(*)
FROM user_achievements ua
LEFT JOIN achievements a ON a.id = ua.achievement_id
WHERE ua.user_id = $1 AND a.id IS NULL`
	var n int64
	if err := r.db.Pool.QueryRow(ctx, q, userID).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

// CountUnlockedSince counts unlocks at or after since across all users.
func (r *AchievementRepo) CountUnlockedSince(ctx context.Context, since time.Time) (int, error) {
	const q = `SELECT count(*) FROM user_achievements WHERE is_completed AND unlocked_at >= $1`
	var n int
	if err := r.db.Pool.QueryRow(ctx, q, since).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}
