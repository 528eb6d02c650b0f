package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/and161185/gamestats/internal/model"
	"github.com/gofrs/uuid/v5"
	"github.com/jackc/pgx/v5"
)

// StatsRepo implements StatsRepository using PostgreSQL.
type StatsRepo struct{ db *DB }

// NewStatsRepo constructs a stats repository.
func NewStatsRepo(db *DB) *StatsRepo { return &StatsRepo{db: db} }

const statsColumns = `user_id, total_xp, level, current_streak, longest_streak, last_activity_at,
total_packs_opened, total_items_collected, marketplace_sales, marketplace_purchases,
rare_items_found, epic_items_found, legendary_items_found, total_credits_spent, updated_at`

const ensureStats = `INSERT INTO user_stats (user_id) VALUES ($1) ON CONFLICT (user_id) DO NOTHING`

func scanStats(row pgx.Row) (*model.UserStats, error) {
	var s model.UserStats
	err := row.Scan(&s.UserID, &s.TotalXP, &s.Level, &s.CurrentStreak, &s.LongestStreak, &s.LastActivityAt,
		&s.TotalPacksOpened, &s.TotalItemsCollected, &s.MarketplaceSales, &s.MarketplacePurchases,
		&s.RareItemsFound, &s.EpicItemsFound, &s.LegendaryItemsFound, &s.TotalCreditsSpent, &s.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// Get loads the stats row of a user.
func (r *StatsRepo) Get(ctx context.Context, userID uuid.UUID) (*model.UserStats, error) {
	const q = `SELECT ` + statsColumns + ` FROM user_stats WHERE user_id=$1`
	s, err := scanStats(r.db.Pool.QueryRow(ctx, q, userID))
	if err != nil {
		return nil, mapErr(err)
	}
	return s, nil
}

// Ensure lazily creates the stats row.
func (r *StatsRepo) Ensure(ctx context.Context, userID uuid.UUID) error {
	_, err := r.db.Pool.Exec(ctx, ensureStats, userID)
	return mapErr(err)
}

// ApplyEvent records the event and adds delta atomically under the user's
// advisory lock; replays are no-ops.
func (r *StatsRepo) ApplyEvent(
	ctx context.Context, eventID, userID uuid.UUID, delta model.Counters, at time.Time,
) (applied bool, err error) {
	const mark = `
INSERT INTO processed_events (event_id, user_id) VALUES ($1, $2)
ON CONFLICT (event_id) DO NOTHING`
	const upd = `
UPDATE user_stats SET
  total_packs_opened    = total_packs_opened + $2,
  total_items_collected = total_items_collected + $3,
  marketplace_sales     = marketplace_sales + $4,
  marketplace_purchases = marketplace_purchases + $5,
  rare_items_found      = rare_items_found + $6,
  epic_items_found      = epic_items_found + $7,
  legendary_items_found = legendary_items_found + $8,
  total_credits_spent   = total_credits_spent + $9,
  last_activity_at      = GREATEST(COALESCE(last_activity_at, $10), $10),
  updated_at            = now()
WHERE user_id = $1`

	err = r.db.inTx(ctx, func(tx pgx.Tx) error {
		if err := lockUser(ctx, tx, userID); err != nil {
			return err
		}
		tag, err := tx.Exec(ctx, mark, eventID, userID)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return nil
		}
		if _, err = tx.Exec(ctx, ensureStats, userID); err != nil {
			return err
		}
		if _, err = tx.Exec(ctx, upd, userID,
			delta.TotalPacksOpened, delta.TotalItemsCollected, delta.MarketplaceSales, delta.MarketplacePurchases,
			delta.RareItemsFound, delta.EpicItemsFound, delta.LegendaryItemsFound, delta.TotalCreditsSpent, at,
		); err != nil {
			return err
		}
		applied = true
		return nil
	})
	return applied, err
}

// UpdateStreak stores the streak pair; longest never decreases here.
func (r *StatsRepo) UpdateStreak(ctx context.Context, userID uuid.UUID, current, longest int) error {
	const q = `
UPDATE user_stats
SET current_streak=$2, longest_streak=GREATEST(longest_streak, $3), updated_at=now()
WHERE user_id=$1`
	return r.db.inTx(ctx, func(tx pgx.Tx) error {
		if err := lockUser(ctx, tx, userID); err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, ensureStats, userID); err != nil {
			return err
		}
		_, err := tx.Exec(ctx, q, userID, current, longest)
		return err
	})
}

// ResetStreakIfPositive zeroes current_streak unless a claim exists at or
// after claimedSince; a second call finds nothing to reset.
func (r *StatsRepo) ResetStreakIfPositive(
	ctx context.Context, userID uuid.UUID, claimedSince time.Time,
) (prev int, ok bool, err error) {
	const q = `
UPDATE user_stats s SET current_streak=0, updated_at=now()
FROM (SELECT user_id, current_streak FROM user_stats WHERE user_id=$1 FOR UPDATE) old
WHERE s.user_id=old.user_id AND s.current_streak > 0
  AND NOT EXISTS (SELECT 1 FROM daily_reward_claims c WHERE c.user_id=$1 AND c.claimed_at >= $2)
RETURNING old.current_streak`
	err = r.db.inTx(ctx, func(tx pgx.Tx) error {
		if err := lockUser(ctx, tx, userID); err != nil {
			return err
		}
		if err := tx.QueryRow(ctx, q, userID, claimedSince).Scan(&prev); err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return nil
			}
			return err
		}
		ok = true
		return nil
	})
	if err != nil {
		return 0, false, err
	}
	return prev, ok, nil
}

// ListWithStreak returns a keyset page of rows with a positive current streak.
func (r *StatsRepo) ListWithStreak(ctx context.Context, after uuid.UUID, limit int) ([]model.UserStats, error) {
	const q = `SELECT ` + statsColumns + `
FROM user_stats WHERE current_streak > 0 AND user_id > $1
ORDER BY user_id LIMIT $2`
	rows, err := r.db.Pool.Query(ctx, q, after, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.UserStats
	for rows.Next() {
		s, err := scanStats(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *s)
	}
	return out, rows.Err()
}

// ApplyCorrection rewrites the fields named by c in one transaction under the
// user's advisory lock. XP, level, counters and last activity are recomputed
// inside that transaction, so an unlock or event committed after the caller's
// check is never overwritten. Streak values from c are written only while the
// claim count still equals c.ClaimsSeen. It returns what actually changed.
func (r *StatsRepo) ApplyCorrection(
	ctx context.Context, userID uuid.UUID, c model.StatsCorrection,
) (applied []model.Inconsistency, err error) {
	if c.Empty() {
		return nil, nil
	}
	const q = `
UPDATE user_stats SET
  total_xp              = COALESCE($2, total_xp),
  level                 = COALESCE($3, level),
  current_streak        = COALESCE($4, current_streak),
  longest_streak        = COALESCE($5, longest_streak),
  total_packs_opened    = COALESCE($6, total_packs_opened),
  total_items_collected = COALESCE($7, total_items_collected),
  marketplace_sales     = COALESCE($8, marketplace_sales),
  marketplace_purchases = COALESCE($9, marketplace_purchases),
  rare_items_found      = COALESCE($10, rare_items_found),
  epic_items_found      = COALESCE($11, epic_items_found),
  legendary_items_found = COALESCE($12, legendary_items_found),
  total_credits_spent   = COALESCE($13, total_credits_spent),
  last_activity_at      = COALESCE($14, last_activity_at),
  updated_at            = now()
WHERE user_id = $1`
	const load = `SELECT ` + statsColumns + ` FROM user_stats WHERE user_id=$1`

	err = r.db.inTx(ctx, func(tx pgx.Tx) error {
		applied = nil
		if err := lockUser(ctx, tx, userID); err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, ensureStats, userID); err != nil {
			return err
		}
		stored, err := scanStats(tx.QueryRow(ctx, load, userID))
		if err != nil {
			return err
		}
		want, last, err := deriveLocked(ctx, tx, userID, c)
		if err != nil {
			return err
		}

		args := make([]any, 0, len(model.CorrectableFields)+2)
		args = append(args, userID)
		for _, f := range model.CorrectableFields {
			w, ok := want[f]
			have, _ := stored.Value(f)
			if !ok || w == have {
				args = append(args, (*int64)(nil))
				continue
			}
			args = append(args, &w)
			applied = append(applied, model.Inconsistency{UserID: userID, Field: f, Stored: have, Expected: w})
		}
		if len(applied) == 0 {
			return nil
		}
		args = append(args, last)
		_, err = tx.Exec(ctx, q, args...)
		return err
	})
	if err != nil {
		return nil, err
	}
	return applied, nil
}

// deriveLocked computes the target value of every field in c from inside tx.
func deriveLocked(
	ctx context.Context, tx pgx.Tx, userID uuid.UUID, c model.StatsCorrection,
) (map[string]int64, *time.Time, error) {
	want := make(map[string]int64, len(c.Values))
	var last *time.Time

	if c.TouchesXP() {
		var xp int64
		if err := tx.QueryRow(ctx, sumCompletedPointsSQL, userID).Scan(&xp); err != nil {
			return nil, nil, err
		}
		if c.Has(model.FieldTotalXP) {
			want[model.FieldTotalXP] = xp
		}
		if c.Has(model.FieldLevel) {
			want[model.FieldLevel] = int64(model.LevelForXP(xp))
		}
	}
	if c.TouchesCounters() {
		counters, err := scanCounters(tx.QueryRow(ctx, deriveCountersSQL, userID))
		if err != nil {
			return nil, nil, err
		}
		for _, nv := range counters.Fields() {
			if c.Has(nv.Field) {
				want[nv.Field] = nv.Value
			}
		}
		if err := tx.QueryRow(ctx, lastActivitySQL, userID).Scan(&last); err != nil {
			return nil, nil, err
		}
	}
	if c.TouchesStreak() {
		var claims int64
		if err := tx.QueryRow(ctx, countClaimsSQL, userID).Scan(&claims); err != nil {
			return nil, nil, err
		}
		if claims == c.ClaimsSeen {
			for _, f := range []string{model.FieldCurrentStreak, model.FieldLongestStreak} {
				if v, ok := c.Values[f]; ok {
					want[f] = v
				}
			}
		}
	}
	return want, last, nil
}

// CountActiveSince counts users with any activity at or after since.
func (r *StatsRepo) CountActiveSince(ctx context.Context, since time.Time) (int, error) {
	const q = `SELECT count(*) FROM user_stats WHERE last_activity_at >= $1`
	var n int
	if err := r.db.Pool.QueryRow(ctx, q, since).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}
