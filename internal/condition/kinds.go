package condition

import "github.com/and161185/gamestats/internal/model"

// DailyLogin completes on the first login or first daily claim.
type DailyLogin struct{}

func (DailyLogin) Kind() Kind { return KindDailyLogin }
func (DailyLogin) Progress(ev model.Event, s Snapshot) int {
	if ev.Type == model.EventLogin || s.DailyClaims > 0 {
		return 100
	}
	return 0
}
func (DailyLogin) spec() rawSpec { return rawSpec{Type: KindDailyLogin} }

// DailyRewardsClaimed compares the cumulative claim count with Target.
type DailyRewardsClaimed struct{ Target int64 }

func (DailyRewardsClaimed) Kind() Kind { return KindDailyRewardsClaimed }
func (c DailyRewardsClaimed) Progress(_ model.Event, s Snapshot) int {
	return percent(s.DailyClaims, c.Target)
}
func (c DailyRewardsClaimed) spec() rawSpec {
	return rawSpec{Type: KindDailyRewardsClaimed, Target: c.Target}
}

// TotalDailyRewards is the legacy count-keyed form of DailyRewardsClaimed.
type TotalDailyRewards struct{ Count int64 }

func (TotalDailyRewards) Kind() Kind { return KindTotalDailyRewards }
func (c TotalDailyRewards) Progress(_ model.Event, s Snapshot) int {
	return percent(s.DailyClaims, c.Count)
}
func (c TotalDailyRewards) spec() rawSpec { return rawSpec{Type: KindTotalDailyRewards, Count: c.Count} }

// DailyStreak compares the computed current streak with Target.
type DailyStreak struct{ Target int64 }

func (DailyStreak) Kind() Kind { return KindDailyStreak }
func (c DailyStreak) Progress(_ model.Event, s Snapshot) int {
	return percent(int64(s.CurrentStreak), c.Target)
}
func (c DailyStreak) spec() rawSpec { return rawSpec{Type: KindDailyStreak, Target: c.Target} }

// PacksOpened counts packs opened.
type PacksOpened struct{ Target int64 }

func (PacksOpened) Kind() Kind { return KindPacksOpened }
func (c PacksOpened) Progress(_ model.Event, s Snapshot) int {
	return percent(s.Stats.TotalPacksOpened, c.Target)
}
func (c PacksOpened) spec() rawSpec { return rawSpec{Type: KindPacksOpened, Target: c.Target} }

// ItemsCollected counts items received from packs and purchases.
type ItemsCollected struct{ Target int64 }

func (ItemsCollected) Kind() Kind { return KindItemsCollected }
func (c ItemsCollected) Progress(_ model.Event, s Snapshot) int {
	return percent(s.Stats.TotalItemsCollected, c.Target)
}
func (c ItemsCollected) spec() rawSpec { return rawSpec{Type: KindItemsCollected, Target: c.Target} }

// RarityFound counts items of one rarity (rare, epic or legendary).
type RarityFound struct {
	Rarity model.Rarity
	Target int64
}

func (RarityFound) Kind() Kind { return KindRarityFound }
func (c RarityFound) Progress(_ model.Event, s Snapshot) int {
	var n int64
	switch c.Rarity {
	case model.RarityRare:
		n = s.Stats.RareItemsFound
	case model.RarityEpic:
		n = s.Stats.EpicItemsFound
	case model.RarityLegendary:
		n = s.Stats.LegendaryItemsFound
	}
	return percent(n, c.Target)
}
func (c RarityFound) spec() rawSpec {
	return rawSpec{Type: KindRarityFound, Target: c.Target, Rarity: c.Rarity}
}

// MarketplaceSales counts completed sales.
type MarketplaceSales struct{ Target int64 }

func (MarketplaceSales) Kind() Kind { return KindMarketplaceSales }
func (c MarketplaceSales) Progress(_ model.Event, s Snapshot) int {
	return percent(s.Stats.MarketplaceSales, c.Target)
}
func (c MarketplaceSales) spec() rawSpec { return rawSpec{Type: KindMarketplaceSales, Target: c.Target} }

// MarketplacePurchases counts completed purchases.
type MarketplacePurchases struct{ Target int64 }

func (MarketplacePurchases) Kind() Kind { return KindMarketplacePurchases }
func (c MarketplacePurchases) Progress(_ model.Event, s Snapshot) int {
	return percent(s.Stats.MarketplacePurchases, c.Target)
}
func (c MarketplacePurchases) spec() rawSpec {
	return rawSpec{Type: KindMarketplacePurchases, Target: c.Target}
}

// CreditsSpent sums credits spent on packs and purchases.
type CreditsSpent struct{ Target int64 }

func (CreditsSpent) Kind() Kind { return KindCreditsSpent }
func (c CreditsSpent) Progress(_ model.Event, s Snapshot) int {
	return percent(s.Stats.TotalCreditsSpent, c.Target)
}
func (c CreditsSpent) spec() rawSpec { return rawSpec{Type: KindCreditsSpent, Target: c.Target} }

// LevelReached uses the level derived from XP, never a stored override.
type LevelReached struct{ Target int64 }

func (LevelReached) Kind() Kind { return KindLevelReached }
func (c LevelReached) Progress(_ model.Event, s Snapshot) int {
	return percent(int64(model.LevelForXP(s.Stats.TotalXP)), c.Target)
}
func (c LevelReached) spec() rawSpec { return rawSpec{Type: KindLevelReached, Target: c.Target} }
