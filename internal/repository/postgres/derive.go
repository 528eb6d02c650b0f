package postgres

import (
	"github.com/and161185/gamestats/internal/model"
	"github.com/jackc/pgx/v5"
)

// Recomputation queries shared by the read-only source repository and the
// locked correction path in StatsRepo. All take the user id as $1.
const (
	deriveCountersSQL = `
WITH p AS (
  SELECT count(*) AS packs, COALESCE(SUM(credits_spent), 0) AS spent
  FROM pack_openings WHERE user_id = $1
), it AS (
  SELECT count(*) AS items,
         count(*) FILTER (WHERE i.rarity = 'rare') AS rare,
         count(*) FILTER (WHERE i.rarity = 'epic') AS epic,
         count(*) FILTER (WHERE i.rarity = 'legendary') AS legendary
  FROM pack_opening_items i JOIN pack_openings o ON o.id = i.opening_id
  WHERE o.user_id = $1
), sold AS (
  SELECT count(*) AS n FROM marketplace_transactions WHERE seller_id = $1
), bought AS (
  SELECT count(*) AS n, COALESCE(SUM(price), 0) AS paid FROM marketplace_transactions WHERE buyer_id = $1
)
SELECT p.packs, it.items + bought.n, sold.n, bought.n, it.rare, it.epic, it.legendary,
       (p.spent + bought.paid)::bigint
FROM p, it, sold, bought`

	lastActivitySQL = `
SELECT GREATEST(
  (SELECT max(opened_at) FROM pack_openings WHERE user_id = $1),
  (SELECT max(claimed_at) FROM daily_reward_claims WHERE user_id = $1),
  (SELECT max(created_at) FROM marketplace_transactions WHERE seller_id = $1 OR buyer_id = $1)
)`

	sumCompletedPointsSQL = `
SELECT COALESCE(SUM(a.points), 0)::bigint
FROM user_achievements ua
JOIN achievements a ON a.id = ua.achievement_id
WHERE ua.user_id = $1 AND ua.is_completed`

	countClaimsSQL = `SELECT count(*) FROM daily_reward_claims WHERE user_id = $1`
)

func scanCounters(row pgx.Row) (model.Counters, error) {
	var c model.Counters
	err := row.Scan(
		&c.TotalPacksOpened, &c.TotalItemsCollected, &c.MarketplaceSales, &c.MarketplacePurchases,
		&c.RareItemsFound, &c.EpicItemsFound, &c.LegendaryItemsFound, &c.TotalCreditsSpent)
	if err != nil {
		return model.Counters{}, err
	}
	return c, nil
}
