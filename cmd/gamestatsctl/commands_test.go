package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	u "github.com/gofrs/uuid/v5"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"

	grpcserver "github.com/and161185/gamestats/internal/server/grpc"
)

func Test_buildRequest(t *testing.T) {
	t.Parallel()

	user := u.Must(u.NewV4()).String()
	season := u.Must(u.NewV4()).String()
	cases := []struct {
		cmd    string
		args   []string
		method string
		fields map[string]any
	}{
		{"monitor", nil, "RunMonitoringCycle", map[string]any{}},
		{"check", []string{"-scope", "xp"}, "FindInconsistencies", map[string]any{"scope": "xp"}},
		{"fix", nil, "FixAllInconsistencies", map[string]any{}},
		{"fix", []string{"-user", user, "-scope", "xp"}, "FixUser", map[string]any{"user_id": user, "scope": "xp"}},
		{"recompute", []string{"-season", season}, "RecomputeRankings", map[string]any{"season_id": season}},
		{"ranking", []string{"-cat", "trader", "-limit", "10"}, "GetRanking", map[string]any{"category": "TRADER", "limit": 10.0}},
		{"ranking", []string{"-cat", "STREAK", "-user", user, "-window", "3"}, "GetRankingAroundUser",
			map[string]any{"category": "STREAK", "user_id": user, "window": 3.0}},
		{"finalize", []string{"-season", season}, "FinalizeSeason", map[string]any{"season_id": season}},
		{"audit", []string{"-limit", "5"}, "RecentAudit", map[string]any{"limit": 5.0}},
		{"call", []string{"GetUserPosition", "-data", `{"user_id":"` + user + `","category":"TRADER"}`}, "GetUserPosition",
			map[string]any{"user_id": user, "category": "TRADER"}},
	}
	for _, tc := range cases {
		t.Run(tc.cmd+"/"+tc.method, func(t *testing.T) {
			method, req, err := buildRequest(tc.cmd, tc.args)
			require.NoError(t, err)
			require.Equal(t, tc.method, method)
			require.Equal(t, tc.fields, req.AsMap())
		})
	}
}

func Test_buildRequest_Errors(t *testing.T) {
	t.Parallel()

	for name, args := range map[string][]string{
		"achievements": {"-user", "nope"},
		"unlock":       {"-user", u.Must(u.NewV4()).String()},
		"finalize":     nil,
		"ranking":      nil,
		"season":       nil,
		"call":         {"NoSuchMethod"},
	} {
		_, _, err := buildRequest(name, args)
		require.Error(t, err, name)
	}
	_, _, err := buildRequest("bogus", nil)
	require.ErrorIs(t, err, errUnknownCommand)

	_, _, err = buildRequest("call", []string{"GetRanking", "-data", `[1,2]`})
	require.Error(t, err, "request must be an object")
}

func Test_buildRequest_SeasonFile(t *testing.T) {
	t.Parallel()

	p := filepath.Join(t.TempDir(), "season.json")
	require.NoError(t, os.WriteFile(p, []byte(`{"name":"March","category":"TRADER",
		"starts_at":"2026-03-01T00:00:00Z","ends_at":"2026-04-01T00:00:00Z",
		"rewards":[{"from_position":1,"to_position":3,"credits":500}]}`), 0o600))

	method, req, err := buildRequest("season", []string{"-file", p})
	require.NoError(t, err)
	require.Equal(t, "CreateSeason", method)
	season := req.Fields["season"].GetStructValue().AsMap()
	require.Equal(t, "March", season["name"])
	require.Len(t, season["rewards"], 1)
}

func Test_mintToken(t *testing.T) {
	t.Parallel()

	key := []byte("k")
	sub := u.Must(u.NewV4()).String()
	now := time.Now()
	tok, exp, err := mintToken(key, sub, "super_admin", time.Hour, now)
	require.NoError(t, err)
	require.WithinDuration(t, now.Add(time.Hour), exp, time.Second)

	var claims grpcserver.Claims
	_, err = jwt.ParseWithClaims(tok, &claims, func(*jwt.Token) (any, error) { return key, nil })
	require.NoError(t, err)
	require.Equal(t, sub, claims.Subject)
	require.Equal(t, "super_admin", claims.Role)

	_, _, err = mintToken(nil, sub, "admin", time.Hour, now)
	require.Error(t, err)
	_, _, err = mintToken(key, "x", "admin", time.Hour, now)
	require.Error(t, err)
	_, _, err = mintToken(key, sub, "admin", 0, now)
	require.Error(t, err)
}

func Test_tokenCommand_UsesEnvKey(t *testing.T) {
	t.Setenv("JWT_KEY", "env-key")
	sub := u.Must(u.NewV4()).String()
	tok, _, err := tokenCommand([]string{"-sub", sub}, time.Now())
	require.NoError(t, err)

	var claims grpcserver.Claims
	_, err = jwt.ParseWithClaims(tok, &claims, func(*jwt.Token) (any, error) { return []byte("env-key"), nil })
	require.NoError(t, err)
	require.Equal(t, "admin", claims.Role)
}
