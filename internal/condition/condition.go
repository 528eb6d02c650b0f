// Package condition implements the closed set of achievement condition kinds.
// Each kind is a concrete type; evaluation is pure and returns progress in 0..100.
package condition

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/and161185/gamestats/internal/errs"
	"github.com/and161185/gamestats/internal/model"
)

// Kind is the wire tag of a condition.
type Kind string

const (
	KindDailyLogin           Kind = "daily_login"
	KindDailyRewardsClaimed  Kind = "daily_rewards_claimed"
	KindTotalDailyRewards    Kind = "total_daily_rewards"
	KindDailyStreak          Kind = "daily_streak"
	KindPacksOpened          Kind = "packs_opened"
	KindItemsCollected       Kind = "items_collected"
	KindRarityFound          Kind = "rarity_found"
	KindMarketplaceSales     Kind = "marketplace_sales"
	KindMarketplacePurchases Kind = "marketplace_purchases"
	KindCreditsSpent         Kind = "credits_spent"
	KindLevelReached         Kind = "level_reached"
)

// Kinds lists every supported kind.
func Kinds() []Kind {
	return []Kind{
		KindDailyLogin, KindDailyRewardsClaimed, KindTotalDailyRewards, KindDailyStreak,
		KindPacksOpened, KindItemsCollected, KindRarityFound, KindMarketplaceSales,
		KindMarketplacePurchases, KindCreditsSpent, KindLevelReached,
	}
}

// Snapshot is the user progress a condition is evaluated against.
// CurrentStreak comes from the streak calculator, not from the cached counter.
type Snapshot struct {
	Stats         model.UserStats
	CurrentStreak int
	DailyClaims   int64
}

// Condition is a parsed achievement predicate.
type Condition interface {
	Kind() Kind
	// Progress returns completion percent in 0..100.
	Progress(ev model.Event, s Snapshot) int
	spec() rawSpec
}

type rawSpec struct {
	Type   Kind         `json:"type"`
	Target int64        `json:"target,omitempty"`
	Count  int64        `json:"count,omitempty"`
	Rarity model.Rarity `json:"rarity,omitempty"`
}

// Parse decodes a condition spec such as {"type":"daily_streak","target":7}.
func Parse(raw []byte) (Condition, error) {
	var r rawSpec
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&r); err != nil {
		return nil, fmt.Errorf("%w: condition: %v", errs.ErrValidation, err)
	}

	needTarget := func() error {
		if r.Target <= 0 {
			return fmt.Errorf("%w: condition %s: target must be positive", errs.ErrValidation, r.Type)
		}
		return nil
	}

	switch r.Type {
	case KindDailyLogin:
		return DailyLogin{}, nil
	case KindDailyRewardsClaimed:
		if err := needTarget(); err != nil {
			return nil, err
		}
		return DailyRewardsClaimed{Target: r.Target}, nil
	case KindTotalDailyRewards:
		if r.Count <= 0 {
			return nil, fmt.Errorf("%w: condition %s: count must be positive", errs.ErrValidation, r.Type)
		}
		return TotalDailyRewards{Count: r.Count}, nil
	case KindDailyStreak:
		if err := needTarget(); err != nil {
			return nil, err
		}
		return DailyStreak{Target: r.Target}, nil
	case KindPacksOpened:
		if err := needTarget(); err != nil {
			return nil, err
		}
		return PacksOpened{Target: r.Target}, nil
	case KindItemsCollected:
		if err := needTarget(); err != nil {
			return nil, err
		}
		return ItemsCollected{Target: r.Target}, nil
	case KindRarityFound:
		if err := needTarget(); err != nil {
			return nil, err
		}
		if r.Rarity != model.RarityRare && r.Rarity != model.RarityEpic && r.Rarity != model.RarityLegendary {
			return nil, fmt.Errorf("%w: condition %s: unsupported rarity %q", errs.ErrValidation, r.Type, r.Rarity)
		}
		return RarityFound{Rarity: r.Rarity, Target: r.Target}, nil
	case KindMarketplaceSales:
		if err := needTarget(); err != nil {
			return nil, err
		}
		return MarketplaceSales{Target: r.Target}, nil
	case KindMarketplacePurchases:
		if err := needTarget(); err != nil {
			return nil, err
		}
		return MarketplacePurchases{Target: r.Target}, nil
	case KindCreditsSpent:
		if err := needTarget(); err != nil {
			return nil, err
		}
		return CreditsSpent{Target: r.Target}, nil
	case KindLevelReached:
		if err := needTarget(); err != nil {
			return nil, err
		}
		return LevelReached{Target: r.Target}, nil
	default:
		return nil, fmt.Errorf("%w: unknown condition kind %q", errs.ErrValidation, r.Type)
	}
}

// Encode renders c back to its JSON spec.
func Encode(c Condition) (json.RawMessage, error) {
	return json.Marshal(c.spec())
}

// percent returns value/target as a clamped percentage.
func percent(value, target int64) int {
	if target <= 0 || value >= target {
		return 100
	}
	if value <= 0 {
		return 0
	}
	return int(value * 100 / target)
}
