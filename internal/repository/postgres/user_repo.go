package postgres

import (
	"context"

	"github.com/and161185/gamestats/internal/model"
	"github.com/gofrs/uuid/v5"
)

// UserRepo implements UserRepository using PostgreSQL.
type UserRepo struct{ db *DB }

// NewUserRepo constructs a user repository.
func NewUserRepo(db *DB) *UserRepo { return &UserRepo{db: db} }

// GetByID selects a user by ID.
func (r *UserRepo) GetByID(ctx context.Context, id uuid.UUID) (*model.User, error) {
	const q = `
SELECT id, username, role, credits, created_at
FROM users WHERE id=$1`
	var (
		u    model.User
		role string
	)
	if err := r.db.Pool.QueryRow(ctx, q, id).Scan(&u.ID, &u.Username, &role, &u.Credits, &u.CreatedAt); err != nil {
		return nil, mapErr(err)
	}
	u.Role = model.Role(role)
	return &u, nil
}

// ListIDs returns a keyset page of user ids.
func (r *UserRepo) ListIDs(ctx context.Context, after uuid.UUID, limit int) ([]uuid.UUID, error) {
	const q = `SELECT id FROM users WHERE id > $1 ORDER BY id LIMIT $2`
	rows, err := r.db.Pool.Query(ctx, q, after, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]uuid.UUID, 0, limit)
	for rows.Next() {
		var id uuid.UUID
		if err = rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// Count returns the total number of users.
func (r *UserRepo) Count(ctx context.Context) (int, error) {
	const q = `SELECT count(*) FROM users`
	var n int
	if err := r.db.Pool.QueryRow(ctx, q).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}
