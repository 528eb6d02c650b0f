package model

import (
	"fmt"
	"time"

	"github.com/and161185/gamestats/internal/errs"
	"github.com/gofrs/uuid/v5"
)

// EventType is the kind of gameplay action that completed.
type EventType string

const (
	EventPackOpened       EventType = "PACK_OPENED"
	EventItemSold         EventType = "ITEM_SOLD"
	EventItemBought       EventType = "ITEM_BOUGHT"
	EventDailyClaimed     EventType = "DAILY_REWARD_CLAIMED"
	EventCreditsPurchased EventType = "CREDITS_PURCHASED"
	EventLogin            EventType = "LOGIN"
)

// Valid reports whether t is a known event type.
func (t EventType) Valid() bool {
	switch t {
	case EventPackOpened, EventItemSold, EventItemBought, EventDailyClaimed, EventCreditsPurchased, EventLogin:
		return true
	}
	return false
}

// eventNamespace seeds deterministic event ids derived from context ids.
var eventNamespace = uuid.Must(uuid.FromString("7d0f3c8e-4b59-5a51-9c61-1f1c2c7e9a40"))

// EventIDFor derives a stable event id so redelivery of the same action dedupes.
func EventIDFor(contextID string, t EventType, userID uuid.UUID) uuid.UUID {
	return uuid.NewV5(eventNamespace, contextID+"|"+string(t)+"|"+userID.String())
}

// EventData is the typed payload of an Event. Only fields relevant to Type are set.
type EventData struct {
	PackID        uuid.UUID
	Items         []OpenedItem
	Credits       int64
	TransactionID uuid.UUID
}

// Event is a completed gameplay action delivered to the derived phase.
type Event struct {
	ID         uuid.UUID
	Type       EventType
	UserID     uuid.UUID
	OccurredAt time.Time
	Data       EventData
}

// Validate rejects malformed events before evaluation.
func (e Event) Validate() error {
	if e.UserID == uuid.Nil {
		return fmt.Errorf("%w: empty user id", errs.ErrValidation)
	}
	if !e.Type.Valid() {
		return fmt.Errorf("%w: unknown event type %q", errs.ErrValidation, e.Type)
	}
	if e.Data.Credits < 0 {
		return fmt.Errorf("%w: negative credits", errs.ErrValidation)
	}
	for i, it := range e.Data.Items {
		if !it.Rarity.Valid() {
			return fmt.Errorf("%w: item[%d] unknown rarity %q", errs.ErrValidation, i, it.Rarity)
		}
	}
	if e.Type == EventPackOpened && len(e.Data.Items) == 0 {
		return fmt.Errorf("%w: pack opening without items", errs.ErrValidation)
	}
	return nil
}

// Delta returns the counter increments the event contributes to UserStats.
func (e Event) Delta() Counters {
	var d Counters
	switch e.Type {
	case EventPackOpened:
		d.TotalPacksOpened = 1
		d.TotalItemsCollected = int64(len(e.Data.Items))
		d.TotalCreditsSpent = e.Data.Credits
		for _, it := range e.Data.Items {
			switch it.Rarity {
			case RarityRare:
				d.RareItemsFound++
			case RarityEpic:
				d.EpicItemsFound++
			case RarityLegendary:
				d.LegendaryItemsFound++
			}
		}
	case EventItemSold:
		d.MarketplaceSales = 1
	case EventItemBought:
		d.MarketplacePurchases = 1
		d.TotalItemsCollected = 1
		d.TotalCreditsSpent = e.Data.Credits
	}
	return d
}
