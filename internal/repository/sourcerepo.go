package repository

import (
	"context"
	"time"

	"github.com/and161185/gamestats/internal/model"
	"github.com/gofrs/uuid/v5"
)

// SourceRepository reads the append-only activity tables owned by other subsystems.
type SourceRepository interface {
	// DeriveCounters recomputes every counter of a user from source tables.
	DeriveCounters(ctx context.Context, userID uuid.UUID) (model.Counters, error)
	// CountOwnedItems counts live ownership rows.
	CountOwnedItems(ctx context.Context, userID uuid.UUID) (int64, error)
	// ClaimTimes returns daily claim timestamps in [from, to) per user.
	ClaimTimes(ctx context.Context, userIDs []uuid.UUID, from, to time.Time) (map[uuid.UUID][]time.Time, error)
	// CountClaims counts all daily claims of a user.
	CountClaims(ctx context.Context, userID uuid.UUID) (int64, error)
	// LastActivityAt returns the latest activity timestamp, nil when none.
	LastActivityAt(ctx context.Context, userID uuid.UUID) (*time.Time, error)
	// SeasonActivity aggregates XP and counters per user inside [from, to).
	SeasonActivity(ctx context.Context, from, to time.Time) (map[uuid.UUID]model.SeasonActivity, error)
}
