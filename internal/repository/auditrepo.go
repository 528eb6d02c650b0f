package repository

import (
	"context"

	"github.com/and161185/gamestats/internal/model"
	"github.com/gofrs/uuid/v5"
)

// AuditRepository is an append-only log of automatic and corrective writes.
type AuditRepository interface {
	Append(ctx context.Context, e *model.AuditEntry) error
	// ListRecent returns newest entries first; userID nil lists all users.
	ListRecent(ctx context.Context, userID *uuid.UUID, limit int) ([]model.AuditEntry, error)
}
