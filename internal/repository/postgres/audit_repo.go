package postgres

import (
	"context"
	"encoding/json"

	"github.com/and161185/gamestats/internal/model"
	"github.com/gofrs/uuid/v5"
)

// AuditRepo implements AuditRepository using PostgreSQL.
type AuditRepo struct{ db *DB }

// NewAuditRepo constructs an audit repository.
func NewAuditRepo(db *DB) *AuditRepo { return &AuditRepo{db: db} }

// Append writes one entry and fills its id and timestamp.
func (r *AuditRepo) Append(ctx context.Context, e *model.AuditEntry) error {
	const q = `
INSERT INTO audit_log (user_id, action, source, context_id, field, before, after, details)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
RETURNING id, created_at`
	details := []byte("{}")
	if len(e.Details) > 0 {
		b, err := json.Marshal(e.Details)
		if err != nil {
			return err
		}
		details = b
	}
	var user uuid.NullUUID
	if e.UserID != nil {
		user = uuid.NullUUID{UUID: *e.UserID, Valid: true}
	}
	return r.db.Pool.QueryRow(ctx, q, user, e.Action, e.Source, e.ContextID, e.Field, e.Before, e.After, details).
		Scan(&e.ID, &e.CreatedAt)
}

// ListRecent returns the newest entries, optionally for one user.
func (r *AuditRepo) ListRecent(ctx context.Context, userID *uuid.UUID, limit int) ([]model.AuditEntry, error) {
	const q = `
SELECT id, user_id, action, source, context_id, field, before, after, details, created_at
FROM audit_log
WHERE $1::uuid IS NULL OR user_id = $1
ORDER BY id DESC LIMIT $2`
	rows, err := r.db.Pool.Query(ctx, q, nullUUID(userID), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.AuditEntry
	for rows.Next() {
		var (
			e       model.AuditEntry
			user    uuid.NullUUID
			details []byte
		)
		if err = rows.Scan(&e.ID, &user, &e.Action, &e.Source, &e.ContextID, &e.Field,
			&e.Before, &e.After, &details, &e.CreatedAt); err != nil {
			return nil, err
		}
		if user.Valid {
			id := user.UUID
			e.UserID = &id
		}
		if len(details) > 0 {
			if err = json.Unmarshal(details, &e.Details); err != nil {
				return nil, err
			}
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
