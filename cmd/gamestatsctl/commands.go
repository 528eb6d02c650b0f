package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	u "github.com/gofrs/uuid/v5"
	"github.com/golang-jwt/jwt/v5"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"

	grpcserver "github.com/and161185/gamestats/internal/server/grpc"
)

var errUnknownCommand = errors.New("unknown command")

// ------- request builders -------

func newFlagSet(name string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	return fs
}

// parseRequest decodes a JSON object into a Struct request. Empty input is {}.
func parseRequest(b []byte) (*structpb.Struct, error) {
	out := &structpb.Struct{Fields: map[string]*structpb.Value{}}
	if strings.TrimSpace(string(b)) == "" {
		return out, nil
	}
	if err := protojson.Unmarshal(b, out); err != nil {
		return nil, fmt.Errorf("request must be a JSON object: %w", err)
	}
	return out, nil
}

func requireID(name, v string) error {
	if v == "" {
		return fmt.Errorf("need -%s", name)
	}
	if _, err := u.FromString(v); err != nil {
		return fmt.Errorf("-%s: %w", name, err)
	}
	return nil
}

// put sets non-empty string and positive int values only.
func put(m map[string]any, key string, v any) {
	switch x := v.(type) {
	case string:
		if x != "" {
			m[key] = x
		}
	case int:
		if x > 0 {
			m[key] = x
		}
	}
}

// buildRequest maps a subcommand to an admin method and its request.
func buildRequest(cmd string, args []string) (string, *structpb.Struct, error) {
	m := map[string]any{}
	var method string

	switch cmd {
	case "call":
		if len(args) < 1 {
			return "", nil, errors.New("need method name")
		}
		method = args[0]
		known := false
		for _, n := range grpcserver.MethodNames() {
			known = known || n == method
		}
		if !known {
			return "", nil, fmt.Errorf("unknown method %q", method)
		}
		fs := newFlagSet("call")
		data := fs.String("data", "", "request JSON")
		file := fs.String("file", "", "request JSON file ('-'=stdin)")
		if err := fs.Parse(args[1:]); err != nil {
			return "", nil, err
		}
		raw := []byte(*data)
		if *file != "" {
			b, err := readAll(*file)
			if err != nil {
				return "", nil, err
			}
			raw = b
		}
		req, err := parseRequest(raw)
		return method, req, err

	case "monitor":
		method = "RunMonitoringCycle"

	case "check":
		fs := newFlagSet(cmd)
		scope := fs.String("scope", "", "stats|xp|all")
		if err := fs.Parse(args); err != nil {
			return "", nil, err
		}
		method = "FindInconsistencies"
		put(m, "scope", *scope)

	case "fix":
		fs := newFlagSet(cmd)
		user := fs.String("user", "", "user id; empty fixes everyone")
		scope := fs.String("scope", "", "all|xp")
		if err := fs.Parse(args); err != nil {
			return "", nil, err
		}
		method = "FixAllInconsistencies"
		if *user != "" {
			if err := requireID("user", *user); err != nil {
				return "", nil, err
			}
			method = "FixUser"
			put(m, "user_id", *user)
			put(m, "scope", *scope)
		}

	case "streaks":
		method = "ResetBrokenStreaks"

	case "recompute":
		fs := newFlagSet(cmd)
		season := fs.String("season", "", "season id; empty recomputes all")
		if err := fs.Parse(args); err != nil {
			return "", nil, err
		}
		method = "RecomputeRankings"
		put(m, "season_id", *season)

	case "ranking":
		fs := newFlagSet(cmd)
		cat := fs.String("cat", "", "category")
		limit := fs.Int("limit", 0, "rows")
		season := fs.String("season", "", "season id")
		user := fs.String("user", "", "show around this user")
		window := fs.Int("window", 0, "positions around -user")
		if err := fs.Parse(args); err != nil {
			return "", nil, err
		}
		if *cat == "" {
			return "", nil, errors.New("need -cat")
		}
		method = "GetRanking"
		put(m, "category", strings.ToUpper(*cat))
		put(m, "season_id", *season)
		if *user != "" {
			if err := requireID("user", *user); err != nil {
				return "", nil, err
			}
			method = "GetRankingAroundUser"
			put(m, "user_id", *user)
			put(m, "window", *window)
		} else {
			put(m, "limit", *limit)
		}

	case "achievements":
		fs := newFlagSet(cmd)
		user := fs.String("user", "", "user id")
		if err := fs.Parse(args); err != nil {
			return "", nil, err
		}
		if err := requireID("user", *user); err != nil {
			return "", nil, err
		}
		method = "GetUserAchievements"
		put(m, "user_id", *user)

	case "unlock":
		fs := newFlagSet(cmd)
		user := fs.String("user", "", "user id")
		ach := fs.String("achievement", "", "achievement id")
		if err := fs.Parse(args); err != nil {
			return "", nil, err
		}
		if err := requireID("user", *user); err != nil {
			return "", nil, err
		}
		if err := requireID("achievement", *ach); err != nil {
			return "", nil, err
		}
		method = "UnlockAchievement"
		put(m, "user_id", *user)
		put(m, "achievement_id", *ach)

	case "season":
		fs := newFlagSet(cmd)
		file := fs.String("file", "", "season JSON ('-'=stdin)")
		if err := fs.Parse(args); err != nil {
			return "", nil, err
		}
		if *file == "" {
			return "", nil, errors.New("need -file")
		}
		b, err := readAll(*file)
		if err != nil {
			return "", nil, err
		}
		season, err := parseRequest(b)
		if err != nil {
			return "", nil, err
		}
		return "CreateSeason", &structpb.Struct{Fields: map[string]*structpb.Value{
			"season": structpb.NewStructValue(season),
		}}, nil

	case "finalize":
		fs := newFlagSet(cmd)
		season := fs.String("season", "", "season id")
		if err := fs.Parse(args); err != nil {
			return "", nil, err
		}
		if err := requireID("season", *season); err != nil {
			return "", nil, err
		}
		method = "FinalizeSeason"
		put(m, "season_id", *season)

	case "audit":
		fs := newFlagSet(cmd)
		user := fs.String("user", "", "user id; empty lists everyone")
		limit := fs.Int("limit", 0, "entries")
		if err := fs.Parse(args); err != nil {
			return "", nil, err
		}
		method = "RecentAudit"
		put(m, "user_id", *user)
		put(m, "limit", *limit)

	default:
		return "", nil, fmt.Errorf("%w: %s", errUnknownCommand, cmd)
	}

	req, err := structpb.NewStruct(m)
	return method, req, err
}

// ------- operator tokens -------

// mintToken signs an HS256 operator token the admin API accepts.
func mintToken(key []byte, sub, role string, ttl time.Duration, now time.Time) (string, time.Time, error) {
	if len(key) == 0 {
		return "", time.Time{}, errors.New("empty signing key")
	}
	if err := requireID("sub", sub); err != nil {
		return "", time.Time{}, err
	}
	if ttl <= 0 {
		return "", time.Time{}, errors.New("ttl must be > 0")
	}
	exp := now.Add(ttl)
	claims := grpcserver.Claims{
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   sub,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	}
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(key)
	if err != nil {
		return "", time.Time{}, err
	}
	return tok, exp, nil
}

func tokenCommand(args []string, now time.Time) (string, time.Time, error) {
	fs := newFlagSet("token")
	key := fs.String("key", "", "HS256 signing key (default $JWT_KEY)")
	sub := fs.String("sub", "", "operator id (uuid)")
	role := fs.String("role", "admin", "role claim")
	ttl := fs.Duration("ttl", time.Hour, "token lifetime")
	if err := fs.Parse(args); err != nil {
		return "", time.Time{}, err
	}
	k := choose(*key, os.Getenv("JWT_KEY"))
	return mintToken([]byte(k), *sub, *role, *ttl, now)
}

func choose(a, b string) string {
	if a != "" {
		return a
	}
	return b
}
