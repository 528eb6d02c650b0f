package postgres

import (
	"context"
	"testing"

	"github.com/and161185/gamestats/internal/errs"
	"github.com/and161185/gamestats/internal/model"
	"github.com/gofrs/uuid/v5"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	pgxmock "github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/require"
)

func TestRankingRepo_Replace_AllTime(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewRankingRepo(db)
	a, b := uuid.Must(uuid.NewV4()), uuid.Must(uuid.NewV4())
	rows := []model.Ranking{
		{UserID: a, Category: model.RankTotalXP, Position: 1, Value: 900},
		{UserID: b, Category: model.RankTotalXP, Position: 2, Value: 100},
	}

	mock.ExpectBegin()
	mock.ExpectExec(sql("DELETE FROM rankings WHERE category = $1 AND season_id IS NOT DISTINCT FROM $2")).
		WithArgs("TOTAL_XP", uuid.NullUUID{}).
		WillReturnResult(pgxmock.NewResult("DELETE", 5))
	mock.ExpectExec(sql("INSERT INTO rankings")).
		WithArgs([]string{a.String(), b.String()}, "TOTAL_XP", uuid.NullUUID{},
			[]int32{1, 2}, []float64{900, 100}, pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 2))
	mock.ExpectCommit()

	require.NoError(t, r.Replace(context.Background(), model.RankTotalXP, nil, rows))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRankingRepo_Replace_Season_Empty(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewRankingRepo(db)
	season := uuid.Must(uuid.NewV4())

	mock.ExpectBegin()
	mock.ExpectExec(sql("DELETE FROM rankings")).
		WithArgs("TRADER", uuid.NullUUID{UUID: season, Valid: true}).
		WillReturnResult(pgxmock.NewResult("DELETE", 0))
	mock.ExpectCommit()

	require.NoError(t, r.Replace(context.Background(), model.RankTrader, &season, nil))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRankingRepo_Replace_RollsBackOnError(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewRankingRepo(db)
	a := uuid.Must(uuid.NewV4())

	mock.ExpectBegin()
	mock.ExpectExec(sql("DELETE FROM rankings")).
		WithArgs("STREAK", uuid.NullUUID{}).
		WillReturnResult(pgxmock.NewResult("DELETE", 1))
	mock.ExpectExec(sql("INSERT INTO rankings")).
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnError(&pgconn.PgError{Code: "40P01"})
	mock.ExpectRollback()

	err := r.Replace(context.Background(), model.RankStreak, nil, []model.Ranking{{UserID: a, Position: 1, Value: 3}})
	require.ErrorIs(t, err, errs.ErrConflict)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRankingRepo_Position_NotFound(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewRankingRepo(db)
	userID := uuid.Must(uuid.NewV4())

	mock.ExpectQuery(sql("AND user_id = $3")).
		WithArgs("GLOBAL", uuid.NullUUID{}, userID).
		WillReturnError(pgx.ErrNoRows)
	_, err := r.Position(context.Background(), userID, model.RankGlobal, nil)
	require.ErrorIs(t, err, errs.ErrNotFound)
}

func TestRankingRepo_ListCandidates_ExcludesRoles(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewRankingRepo(db)
	id := uuid.Must(uuid.NewV4())
	cols := []string{"id", "role", "created_at", "total_xp", "level", "current_streak", "longest_streak",
		"total_packs_opened", "total_items_collected", "marketplace_sales", "marketplace_purchases"}

	mock.ExpectQuery(sql("WHERE NOT (u.role = ANY($1::text[]))")).
		WithArgs([]string{"admin", "super_admin"}).
		WillReturnRows(pgxmock.NewRows(cols).AddRow(id, "player", testTime, int64(500), 3, 2, 9, int64(4), int64(12), int64(1), int64(2)))

	out, err := r.ListCandidates(context.Background(), []model.Role{model.RoleAdmin, model.RoleSuperAdmin})
	require.NoError(t, err)
	require.Len(t, out, 1)
	require.Equal(t, int64(500), out[0].Stats.TotalXP)
	require.Equal(t, 9, out[0].Stats.LongestStreak)
	require.Equal(t, id, out[0].Stats.UserID)
}
