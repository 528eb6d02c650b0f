// Package repository defines storage interfaces implemented by concrete backends.
package repository

import (
	"context"

	"github.com/and161185/gamestats/internal/model"
	"github.com/gofrs/uuid/v5"
)

// UserRepository gives read access to users owned by the authoritative store.
type UserRepository interface {
	// GetByID loads a user by ID.
	GetByID(ctx context.Context, id uuid.UUID) (*model.User, error)
	// ListIDs returns up to limit user ids greater than after, ascending.
	ListIDs(ctx context.Context, after uuid.UUID, limit int) ([]uuid.UUID, error)
	// Count returns the number of users.
	Count(ctx context.Context) (int, error)
}
