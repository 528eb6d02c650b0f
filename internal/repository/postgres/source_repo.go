package postgres

import (
	"context"
	"time"

	"github.com/and161185/gamestats/internal/model"
	"github.com/gofrs/uuid/v5"
)

// SourceRepo reads source-of-truth activity tables.
type SourceRepo struct{ db *DB }

// NewSourceRepo constructs a source repository.
func NewSourceRepo(db *DB) *SourceRepo { return &SourceRepo{db: db} }

// DeriveCounters recomputes every counter from pack openings and marketplace trades.
func (r *SourceRepo) DeriveCounters(ctx context.Context, userID uuid.UUID) (model.Counters, error) {
	return scanCounters(r.db.Pool.QueryRow(ctx, deriveCountersSQL, userID))
}

// CountOwnedItems counts items the user currently owns.
func (r *SourceRepo) CountOwnedItems(ctx context.Context, userID uuid.UUID) (int64, error) {
	const q = `SELECT count(*) FROM user_items WHERE user_id = $1 AND removed_at IS NULL`
	var n int64
	if err := r.db.Pool.QueryRow(ctx, q, userID).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

// ClaimTimes returns daily claim timestamps in [from, to) grouped by user.
func (r *SourceRepo) ClaimTimes(
	ctx context.Context, userIDs []uuid.UUID, from, to time.Time,
) (map[uuid.UUID][]time.Time, error) {
	out := make(map[uuid.UUID][]time.Time, len(userIDs))
	if len(userIDs) == 0 {
		return out, nil
	}
	const q = `
SELECT user_id, claimed_at
FROM daily_reward_claims
WHERE user_id = ANY($1::uuid[]) AND claimed_at >= $2 AND claimed_at < $3
ORDER BY user_id, claimed_at`
	rows, err := r.db.Pool.Query(ctx, q, uuidStrings(userIDs), from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var (
			id uuid.UUID
			ts time.Time
		)
		if err = rows.Scan(&id, &ts); err != nil {
			return nil, err
		}
		out[id] = append(out[id], ts)
	}
	return out, rows.Err()
}

// CountClaims counts every daily claim of a user.
func (r *SourceRepo) CountClaims(ctx context.Context, userID uuid.UUID) (int64, error) {
	var n int64
	if err := r.db.Pool.QueryRow(ctx, countClaimsSQL, userID).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

// LastActivityAt returns the newest activity across source tables.
func (r *SourceRepo) LastActivityAt(ctx context.Context, userID uuid.UUID) (*time.Time, error) {
	var ts *time.Time
	if err := r.db.Pool.QueryRow(ctx, lastActivitySQL, userID).Scan(&ts); err != nil {
		return nil, err
	}
	return ts, nil
}

// SeasonActivity aggregates per-user XP and counters within [from, to).
// Longest streak is left to the caller, which owns the day-boundary rule.
func (r *SourceRepo) SeasonActivity(ctx context.Context, from, to time.Time) (map[uuid.UUID]model.SeasonActivity, error) {
	const q = `
WITH p AS (
  SELECT user_id, count(*) AS packs, SUM(credits_spent) AS spent
  FROM pack_openings WHERE opened_at >= $1 AND opened_at < $2 GROUP BY user_id
), it AS (
  SELECT o.user_id, count(*) AS items,
         count(*) FILTER (WHERE i.rarity = 'rare') AS rare,
         count(*) FILTER (WHERE i.rarity = 'epic') AS epic,
         count(*) FILTER (WHERE i.rarity = 'legendary') AS legendary
  FROM pack_opening_items i JOIN pack_openings o ON o.id = i.opening_id
  WHERE o.opened_at >= $1 AND o.opened_at < $2 GROUP BY o.user_id
), sold AS (
  SELECT seller_id AS user_id, count(*) AS n
  FROM marketplace_transactions WHERE created_at >= $1 AND created_at < $2 GROUP BY seller_id
), bought AS (
  SELECT buyer_id AS user_id, count(*) AS n, SUM(price) AS paid
  FROM marketplace_transactions WHERE created_at >= $1 AND created_at < $2 GROUP BY buyer_id
), xp AS (
  SELECT ua.user_id, SUM(a.points) AS xp
  FROM user_achievements ua JOIN achievements a ON a.id = ua.achievement_id
  WHERE ua.is_completed AND ua.unlocked_at >= $1 AND ua.unlocked_at < $2 GROUP BY ua.user_id
), u AS (
  SELECT user_id FROM p UNION SELECT user_id FROM it UNION SELECT user_id FROM sold
  UNION SELECT user_id FROM bought UNION SELECT user_id FROM xp
)
SELECT u.user_id,
       COALESCE(xp.xp, 0)::bigint,
       COALESCE(p.packs, 0),
       COALESCE(it.items, 0) + COALESCE(bought.n, 0),
       COALESCE(sold.n, 0),
       COALESCE(bought.n, 0),
       COALESCE(it.rare, 0), COALESCE(it.epic, 0), COALESCE(it.legendary, 0),
       (COALESCE(p.spent, 0) + COALESCE(bought.paid, 0))::bigint
FROM u
LEFT JOIN p ON p.user_id = u.user_id
LEFT JOIN it ON it.user_id = u.user_id
LEFT JOIN sold ON sold.user_id = u.user_id
LEFT JOIN bought ON bought.user_id = u.user_id
LEFT JOIN xp ON xp.user_id = u.user_id`
	rows, err := r.db.Pool.Query(ctx, q, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[uuid.UUID]model.SeasonActivity)
	for rows.Next() {
		var (
			id uuid.UUID
			a  model.SeasonActivity
			c  = &a.Counters
		)
		if err = rows.Scan(&id, &a.XP, &c.TotalPacksOpened, &c.TotalItemsCollected, &c.MarketplaceSales,
			&c.MarketplacePurchases, &c.RareItemsFound, &c.EpicItemsFound, &c.LegendaryItemsFound,
			&c.TotalCreditsSpent); err != nil {
			return nil, err
		}
		out[id] = a
	}
	return out, rows.Err()
}

func uuidStrings(ids []uuid.UUID) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = id.String()
	}
	return out
}
