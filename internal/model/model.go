// Package model defines domain entities used by services and repositories.
package model

import (
	"time"

	"github.com/gofrs/uuid/v5"
)

// Role is the account role; administrative roles are excluded from rankings.
type Role string

const (
	RolePlayer     Role = "player"
	RoleAdmin      Role = "admin"
	RoleSuperAdmin Role = "super_admin"
)

// IsAdmin reports whether the role is administrative.
func (r Role) IsAdmin() bool { return r == RoleAdmin || r == RoleSuperAdmin }

// User is owned by the authoritative store; the core only reads it.
type User struct {
	ID        uuid.UUID
	Username  string
	Role      Role
	Credits   int64
	CreatedAt time.Time
}

// Rarity of a collectible item.
type Rarity string

const (
	RarityCommon    Rarity = "common"
	RarityRare      Rarity = "rare"
	RarityEpic      Rarity = "epic"
	RarityLegendary Rarity = "legendary"
)

// Valid reports whether r is a known rarity.
func (r Rarity) Valid() bool {
	switch r {
	case RarityCommon, RarityRare, RarityEpic, RarityLegendary:
		return true
	}
	return false
}

// Counters are the per-domain derived counters of UserStats. Also used as a delta.
type Counters struct {
	TotalPacksOpened     int64
	TotalItemsCollected  int64
	MarketplaceSales     int64
	MarketplacePurchases int64
	RareItemsFound       int64
	EpicItemsFound       int64
	LegendaryItemsFound  int64
	TotalCreditsSpent    int64
}

// Add returns c + d field by field.
func (c Counters) Add(d Counters) Counters {
	return Counters{
		TotalPacksOpened:     c.TotalPacksOpened + d.TotalPacksOpened,
		TotalItemsCollected:  c.TotalItemsCollected + d.TotalItemsCollected,
		MarketplaceSales:     c.MarketplaceSales + d.MarketplaceSales,
		MarketplacePurchases: c.MarketplacePurchases + d.MarketplacePurchases,
		RareItemsFound:       c.RareItemsFound + d.RareItemsFound,
		EpicItemsFound:       c.EpicItemsFound + d.EpicItemsFound,
		LegendaryItemsFound:  c.LegendaryItemsFound + d.LegendaryItemsFound,
		TotalCreditsSpent:    c.TotalCreditsSpent + d.TotalCreditsSpent,
	}
}

// IsZero reports whether every counter is zero.
func (c Counters) IsZero() bool { return c == Counters{} }

// Fields returns counters keyed by their column name, in a stable order.
func (c Counters) Fields() []NamedValue {
	return []NamedValue{
		{FieldPacksOpened, c.TotalPacksOpened},
		{FieldItemsCollected, c.TotalItemsCollected},
		{FieldMarketplaceSales, c.MarketplaceSales},
		{FieldMarketplacePurchases, c.MarketplacePurchases},
		{FieldRareItems, c.RareItemsFound},
		{FieldEpicItems, c.EpicItemsFound},
		{FieldLegendaryItems, c.LegendaryItemsFound},
		{FieldCreditsSpent, c.TotalCreditsSpent},
	}
}

// NamedValue pairs a UserStats field name with a value.
type NamedValue struct {
	Field string
	Value int64
}

// UserStats field names as reported in inconsistencies and audit entries.
const (
	FieldTotalXP              = "total_xp"
	FieldLevel                = "level"
	FieldCurrentStreak        = "current_streak"
	FieldLongestStreak        = "longest_streak"
	FieldPacksOpened          = "total_packs_opened"
	FieldItemsCollected       = "total_items_collected"
	FieldMarketplaceSales     = "marketplace_sales"
	FieldMarketplacePurchases = "marketplace_purchases"
	FieldRareItems            = "rare_items_found"
	FieldEpicItems            = "epic_items_found"
	FieldLegendaryItems       = "legendary_items_found"
	FieldCreditsSpent         = "total_credits_spent"
	FieldOwnedItems           = "owned_items"
	FieldOrphanAchievements   = "orphan_achievements"
)

// UserStats is a materialized, rebuildable cache of derived values (one per user).
type UserStats struct {
	UserID         uuid.UUID
	TotalXP        int64
	Level          int
	CurrentStreak  int
	LongestStreak  int
	LastActivityAt *time.Time
	Counters
	UpdatedAt time.Time
}

// StatsCorrection names the fields to rewrite. XP, level and counters are
// re-derived by the store inside the locked write, so for those Values only
// carries what the caller expected. Streak values are computed by the caller
// in the canonical timezone from ClaimsSeen claims; the store drops them if
// the claim count moved in between.
type StatsCorrection struct {
	Values     map[string]int64
	ClaimsSeen int64
}

// Set requests a correction of field; v is the computed value.
func (c *StatsCorrection) Set(field string, v int64) {
	if c.Values == nil {
		c.Values = make(map[string]int64)
	}
	c.Values[field] = v
}

// Has reports whether field is part of the correction.
func (c StatsCorrection) Has(field string) bool {
	_, ok := c.Values[field]
	return ok
}

// Empty reports whether the correction changes nothing.
func (c StatsCorrection) Empty() bool { return len(c.Values) == 0 }

// TouchesXP reports whether total_xp or level is requested.
func (c StatsCorrection) TouchesXP() bool { return c.Has(FieldTotalXP) || c.Has(FieldLevel) }

// TouchesStreak reports whether a streak column is requested.
func (c StatsCorrection) TouchesStreak() bool {
	return c.Has(FieldCurrentStreak) || c.Has(FieldLongestStreak)
}

// TouchesCounters reports whether any activity counter is requested.
func (c StatsCorrection) TouchesCounters() bool {
	for _, nv := range (Counters{}).Fields() {
		if c.Has(nv.Field) {
			return true
		}
	}
	return false
}

// Value returns the stored value of a correctable field.
func (s UserStats) Value(field string) (int64, bool) {
	switch field {
	case FieldTotalXP:
		return s.TotalXP, true
	case FieldLevel:
		return int64(s.Level), true
	case FieldCurrentStreak:
		return int64(s.CurrentStreak), true
	case FieldLongestStreak:
		return int64(s.LongestStreak), true
	}
	for _, nv := range s.Counters.Fields() {
		if nv.Field == field {
			return nv.Value, true
		}
	}
	return 0, false
}

// CorrectableFields are the UserStats columns a correction may write, in column order.
var CorrectableFields = []string{
	FieldTotalXP, FieldLevel, FieldCurrentStreak, FieldLongestStreak,
	FieldPacksOpened, FieldItemsCollected, FieldMarketplaceSales, FieldMarketplacePurchases,
	FieldRareItems, FieldEpicItems, FieldLegendaryItems, FieldCreditsSpent,
}

// OpenedItem is a single item granted by a pack opening.
type OpenedItem struct {
	ItemID uuid.UUID
	Rarity Rarity
}

// PackOpening is a source-of-truth record of a pack being opened.
type PackOpening struct {
	ID           uuid.UUID
	UserID       uuid.UUID
	PackID       uuid.UUID
	CreditsSpent int64
	Items        []OpenedItem
	OpenedAt     time.Time
}

// DailyClaim is a source-of-truth record of a daily reward claim.
type DailyClaim struct {
	ID        uuid.UUID
	UserID    uuid.UUID
	Credits   int64
	ClaimedAt time.Time
}

// MarketTransaction is a source-of-truth record of a marketplace trade.
type MarketTransaction struct {
	ID        uuid.UUID
	SellerID  uuid.UUID
	BuyerID   uuid.UUID
	ItemID    uuid.UUID
	Price     int64
	CreatedAt time.Time
}

// AuditEntry is an append-only record of an automatic or corrective write.
type AuditEntry struct {
	ID        int64
	UserID    *uuid.UUID
	Action    string
	Source    string
	ContextID string
	Field     string
	Before    *int64
	After     *int64
	Details   map[string]any
	CreatedAt time.Time
}

// Audit actions.
const (
	AuditStatsFixed       = "stats_fixed"
	AuditXPFixed          = "xp_fixed"
	AuditStreakReset      = "streak_reset"
	AuditAchievementGrant = "achievement_unlocked"
	AuditAdminUnlock      = "admin_unlock"
	AuditDriftUnresolved  = "drift_unresolved"
	AuditRankingsReplaced = "rankings_replaced"
	AuditSeasonFinalized  = "season_finalized"
)
