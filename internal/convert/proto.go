// Package convert maps domain types to and from the structpb messages of the admin API.
package convert

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/and161185/gamestats/internal/errs"
	"github.com/and161185/gamestats/internal/model"
	u "github.com/gofrs/uuid/v5"
	"google.golang.org/protobuf/types/known/structpb"
)

// --- helpers ---

func str(s string) *structpb.Value { return structpb.NewStringValue(s) }

func num[T int | int64 | float64](n T) *structpb.Value { return structpb.NewNumberValue(float64(n)) }

func obj(fields map[string]*structpb.Value) *structpb.Value {
	return structpb.NewStructValue(&structpb.Struct{Fields: fields})
}

func list(vs []*structpb.Value) *structpb.Value {
	return structpb.NewListValue(&structpb.ListValue{Values: vs})
}

func ts(t time.Time) *structpb.Value {
	if t.IsZero() {
		return structpb.NewNullValue()
	}
	return str(t.UTC().Format(time.RFC3339Nano))
}

func tsPtr(t *time.Time) *structpb.Value {
	if t == nil {
		return structpb.NewNullValue()
	}
	return ts(*t)
}

func idPtr(id *u.UUID) *structpb.Value {
	if id == nil {
		return structpb.NewNullValue()
	}
	return str(id.String())
}

func intPtr(n *int64) *structpb.Value {
	if n == nil {
		return structpb.NewNullValue()
	}
	return num(*n)
}

// Wrap builds a response message with a single top-level field.
func Wrap(key string, v *structpb.Value) *structpb.Struct {
	return &structpb.Struct{Fields: map[string]*structpb.Value{key: v}}
}

// --- Integrity (server -> client) ---

// ToProtoInconsistencies converts drift findings to a list value.
func ToProtoInconsistencies(in []model.Inconsistency) *structpb.Value {
	out := make([]*structpb.Value, 0, len(in))
	for _, i := range in {
		out = append(out, obj(map[string]*structpb.Value{
			"user_id":  str(i.UserID.String()),
			"field":    str(i.Field),
			"stored":   num(i.Stored),
			"expected": num(i.Expected),
		}))
	}
	return list(out)
}

// ToProtoFixSummary converts a batch correction summary.
func ToProtoFixSummary(s model.FixSummary) *structpb.Value {
	failed := make([]*structpb.Value, 0, len(s.Failed))
	for _, id := range s.Failed {
		failed = append(failed, str(id.String()))
	}
	return obj(map[string]*structpb.Value{
		"users_checked": num(s.UsersChecked),
		"users_fixed":   num(s.UsersFixed),
		"fields_fixed":  num(s.FieldsFixed),
		"failed":        list(failed),
	})
}

// ToProtoHealthReport converts a monitoring cycle report.
func ToProtoHealthReport(r model.HealthReport) *structpb.Value {
	alerts := make([]*structpb.Value, 0, len(r.Alerts))
	for _, a := range r.Alerts {
		alerts = append(alerts, obj(map[string]*structpb.Value{
			"level":   str(string(a.Level)),
			"code":    str(a.Code),
			"message": str(a.Message),
		}))
	}
	return obj(map[string]*structpb.Value{
		"started_at":         ts(r.StartedAt),
		"finished_at":        ts(r.FinishedAt),
		"total_users":        num(r.TotalUsers),
		"users_scanned":      num(r.UsersScanned),
		"inconsistent_users": num(r.InconsistentUsers),
		"inconsistencies":    num(r.Inconsistencies),
		"fixed":              num(r.Fixed),
		"drift_rate":         num(r.DriftRate),
		"active_users_7d":    num(r.ActiveUsers7d),
		"engagement_rate":    num(r.EngagementRate),
		"recent_unlocks_24h": num(r.RecentUnlocks24h),
		"score":              num(r.Score),
		"partial":            structpb.NewBoolValue(r.Partial),
		"alerts":             list(alerts),
	})
}

// ToProtoIntegrityReport converts a post-operation check report.
func ToProtoIntegrityReport(r model.IntegrityReport) *structpb.Value {
	warnings := make([]*structpb.Value, 0, len(r.Warnings))
	for _, w := range r.Warnings {
		warnings = append(warnings, str(w))
	}
	return obj(map[string]*structpb.Value{
		"user_id":     str(r.UserID.String()),
		"context_id":  str(r.ContextID),
		"source":      str(r.Source),
		"is_valid":    structpb.NewBoolValue(r.IsValid),
		"auto_fixed":  structpb.NewBoolValue(r.AutoFixed),
		"skipped":     structpb.NewBoolValue(r.Skipped),
		"issues":      ToProtoInconsistencies(r.Issues),
		"unresolved":  ToProtoInconsistencies(r.Unresolved),
		"warnings":    list(warnings),
		"error":       str(r.Error),
		"checked_at":  ts(r.CheckedAt),
		"duration_ms": num(r.Duration.Milliseconds()),
	})
}

// --- Rankings / seasons (server -> client) ---

// ToProtoRanking converts one leaderboard row.
func ToProtoRanking(r model.Ranking) *structpb.Value {
	return obj(map[string]*structpb.Value{
		"user_id":    str(r.UserID.String()),
		"category":   str(string(r.Category)),
		"season_id":  idPtr(r.SeasonID),
		"position":   num(r.Position),
		"value":      num(r.Value),
		"updated_at": ts(r.UpdatedAt),
	})
}

// ToProtoRankings converts leaderboard rows in order.
func ToProtoRankings(in []model.Ranking) *structpb.Value {
	out := make([]*structpb.Value, 0, len(in))
	for _, r := range in {
		out = append(out, ToProtoRanking(r))
	}
	return list(out)
}

func toProtoReward(r model.SeasonReward) *structpb.Value {
	return obj(map[string]*structpb.Value{
		"from_position": num(r.FromPosition),
		"to_position":   num(r.ToPosition),
		"credits":       num(r.Credits),
		"title":         str(r.Title),
	})
}

// ToProtoSeason converts a season with its reward tiers.
func ToProtoSeason(s model.Season) *structpb.Value {
	rewards := make([]*structpb.Value, 0, len(s.Rewards))
	for _, r := range s.Rewards {
		rewards = append(rewards, toProtoReward(r))
	}
	return obj(map[string]*structpb.Value{
		"id":         str(s.ID.String()),
		"name":       str(s.Name),
		"category":   str(string(s.Category)),
		"starts_at":  ts(s.StartsAt),
		"ends_at":    ts(s.EndsAt),
		"is_active":  structpb.NewBoolValue(s.IsActive),
		"created_at": ts(s.CreatedAt),
		"rewards":    list(rewards),
	})
}

// ToProtoStandings converts final season standings.
func ToProtoStandings(in []model.SeasonStanding) *structpb.Value {
	out := make([]*structpb.Value, 0, len(in))
	for _, s := range in {
		v := ToProtoRanking(s.Ranking)
		if s.Reward != nil {
			v.GetStructValue().Fields["reward"] = toProtoReward(*s.Reward)
		} else {
			v.GetStructValue().Fields["reward"] = structpb.NewNullValue()
		}
		out = append(out, v)
	}
	return list(out)
}

// --- Achievements / audit (server -> client) ---

// ToProtoUserAchievements converts a user's visible achievements.
func ToProtoUserAchievements(in []model.UserAchievementView) *structpb.Value {
	out := make([]*structpb.Value, 0, len(in))
	for _, v := range in {
		a := v.Achievement
		out = append(out, obj(map[string]*structpb.Value{
			"id":           str(a.ID.String()),
			"code":         str(a.Code),
			"name":         str(a.Name),
			"description":  str(a.Description),
			"category":     str(string(a.Category)),
			"type":         str(string(a.Type)),
			"points":       num(a.Points),
			"is_secret":    structpb.NewBoolValue(a.IsSecret),
			"progress":     num(v.Progress),
			"is_completed": structpb.NewBoolValue(v.IsCompleted),
			"unlocked_at":  tsPtr(v.UnlockedAt),
		}))
	}
	return list(out)
}

// ToProtoIDs converts ids to a list of strings.
func ToProtoIDs(ids []u.UUID) *structpb.Value {
	out := make([]*structpb.Value, 0, len(ids))
	for _, id := range ids {
		out = append(out, str(id.String()))
	}
	return list(out)
}

// details round-trips through JSON so typed slices and numbers become structpb-compatible.
func details(d map[string]any) *structpb.Value {
	if len(d) == 0 {
		return structpb.NewNullValue()
	}
	raw, err := json.Marshal(d)
	if err != nil {
		return str(fmt.Sprint(d))
	}
	var generic map[string]any
	if err := json.Unmarshal(raw, &generic); err != nil {
		return str(string(raw))
	}
	s, err := structpb.NewStruct(generic)
	if err != nil {
		return str(string(raw))
	}
	return structpb.NewStructValue(s)
}

// ToProtoAuditEntries converts audit entries, newest first as given.
func ToProtoAuditEntries(in []model.AuditEntry) *structpb.Value {
	out := make([]*structpb.Value, 0, len(in))
	for _, e := range in {
		out = append(out, obj(map[string]*structpb.Value{
			"id":         num(e.ID),
			"user_id":    idPtr(e.UserID),
			"action":     str(e.Action),
			"source":     str(e.Source),
			"context_id": str(e.ContextID),
			"field":      str(e.Field),
			"before":     intPtr(e.Before),
			"after":      intPtr(e.After),
			"details":    details(e.Details),
			"created_at": ts(e.CreatedAt),
		}))
	}
	return list(out)
}

// --- Requests (client -> server) ---

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", errs.ErrValidation, fmt.Sprintf(format, args...))
}

func field(in *structpb.Struct, key string) (*structpb.Value, bool) {
	v, ok := in.GetFields()[key]
	if !ok || v == nil {
		return nil, false
	}
	if _, null := v.GetKind().(*structpb.Value_NullValue); null {
		return nil, false
	}
	return v, true
}

func parseID(key, s string) (u.UUID, error) {
	id, err := u.FromString(strings.TrimSpace(s))
	if err != nil {
		return u.Nil, invalid("%s: %v", key, err)
	}
	return id, nil
}

// String returns a string field or "" when absent.
func String(in *structpb.Struct, key string) string {
	v, ok := field(in, key)
	if !ok {
		return ""
	}
	return v.GetStringValue()
}

// UUID returns a required uuid field.
func UUID(in *structpb.Struct, key string) (u.UUID, error) {
	s := String(in, key)
	if s == "" {
		return u.Nil, invalid("%s is required", key)
	}
	return parseID(key, s)
}

// OptionalUUID returns nil when key is absent or empty.
func OptionalUUID(in *structpb.Struct, key string) (*u.UUID, error) {
	s := String(in, key)
	if s == "" {
		return nil, nil
	}
	id, err := parseID(key, s)
	if err != nil {
		return nil, err
	}
	return &id, nil
}

// Int returns an integral number field or def when absent.
func Int(in *structpb.Struct, key string, def int) (int, error) {
	v, ok := field(in, key)
	if !ok {
		return def, nil
	}
	nv, isNum := v.GetKind().(*structpb.Value_NumberValue)
	if !isNum {
		return 0, invalid("%s must be a number", key)
	}
	f := nv.NumberValue
	if f != math.Trunc(f) || math.IsInf(f, 0) || math.Abs(f) > math.MaxInt32 {
		return 0, invalid("%s must be an integer", key)
	}
	return int(f), nil
}

func int64Field(in *structpb.Struct, key string) (int64, error) {
	n, err := Int(in, key, 0)
	return int64(n), err
}

// Time returns a required RFC 3339 time field.
func Time(in *structpb.Struct, key string) (time.Time, error) {
	s := String(in, key)
	if s == "" {
		return time.Time{}, invalid("%s is required", key)
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, invalid("%s: %v", key, err)
	}
	return t.UTC(), nil
}

func structs(in *structpb.Struct, key string) ([]*structpb.Struct, error) {
	v, ok := field(in, key)
	if !ok {
		return nil, nil
	}
	lv := v.GetListValue()
	if lv == nil {
		return nil, invalid("%s must be a list", key)
	}
	out := make([]*structpb.Struct, 0, len(lv.GetValues()))
	for i, e := range lv.GetValues() {
		s := e.GetStructValue()
		if s == nil {
			return nil, invalid("%s[%d] must be an object", key, i)
		}
		out = append(out, s)
	}
	return out, nil
}

// FromProtoSeason parses a season definition. ID and activity are assigned by the service.
func FromProtoSeason(in *structpb.Struct) (model.Season, error) {
	if in == nil {
		return model.Season{}, invalid("season is required")
	}
	starts, err := Time(in, "starts_at")
	if err != nil {
		return model.Season{}, err
	}
	ends, err := Time(in, "ends_at")
	if err != nil {
		return model.Season{}, err
	}
	tiers, err := structs(in, "rewards")
	if err != nil {
		return model.Season{}, err
	}
	s := model.Season{
		Name:     String(in, "name"),
		Category: model.RankingCategory(String(in, "category")),
		StartsAt: starts,
		EndsAt:   ends,
		Rewards:  make([]model.SeasonReward, 0, len(tiers)),
	}
	for i, t := range tiers {
		var r model.SeasonReward
		if r.FromPosition, err = Int(t, "from_position", 0); err != nil {
			return model.Season{}, fmt.Errorf("rewards[%d]: %w", i, err)
		}
		if r.ToPosition, err = Int(t, "to_position", 0); err != nil {
			return model.Season{}, fmt.Errorf("rewards[%d]: %w", i, err)
		}
		if r.Credits, err = int64Field(t, "credits"); err != nil {
			return model.Season{}, fmt.Errorf("rewards[%d]: %w", i, err)
		}
		r.Title = String(t, "title")
		s.Rewards = append(s.Rewards, r)
	}
	return s, nil
}

// FromProtoEvent parses a completed gameplay event. A missing id stays nil and
// is assigned by the receiving service; a missing occurred_at stays zero.
func FromProtoEvent(in *structpb.Struct) (model.Event, error) {
	if in == nil {
		return model.Event{}, invalid("event is required")
	}
	var (
		ev  model.Event
		err error
	)
	if id, err := OptionalUUID(in, "id"); err != nil {
		return model.Event{}, err
	} else if id != nil {
		ev.ID = *id
	}
	ev.Type = model.EventType(String(in, "type"))
	if ev.UserID, err = UUID(in, "user_id"); err != nil {
		return model.Event{}, err
	}
	if String(in, "occurred_at") != "" {
		if ev.OccurredAt, err = Time(in, "occurred_at"); err != nil {
			return model.Event{}, err
		}
	}

	data, _ := field(in, "data")
	d := data.GetStructValue()
	if d == nil {
		return ev, nil
	}
	if ev.Data.Credits, err = int64Field(d, "credits"); err != nil {
		return model.Event{}, err
	}
	if id, err := OptionalUUID(d, "pack_id"); err != nil {
		return model.Event{}, err
	} else if id != nil {
		ev.Data.PackID = *id
	}
	if id, err := OptionalUUID(d, "transaction_id"); err != nil {
		return model.Event{}, err
	} else if id != nil {
		ev.Data.TransactionID = *id
	}
	items, err := structs(d, "items")
	if err != nil {
		return model.Event{}, err
	}
	for i, it := range items {
		var item model.OpenedItem
		if id, err := OptionalUUID(it, "item_id"); err != nil {
			return model.Event{}, fmt.Errorf("items[%d]: %w", i, err)
		} else if id != nil {
			item.ItemID = *id
		}
		item.Rarity = model.Rarity(String(it, "rarity"))
		ev.Data.Items = append(ev.Data.Items, item)
	}
	return ev, nil
}

// FromProtoEvents parses the list of events under key. A missing key is an empty list.
func FromProtoEvents(in *structpb.Struct, key string) ([]model.Event, error) {
	raw, err := structs(in, key)
	if err != nil {
		return nil, err
	}
	out := make([]model.Event, 0, len(raw))
	for i, r := range raw {
		ev, err := FromProtoEvent(r)
		if err != nil {
			return nil, fmt.Errorf("%s[%d]: %w", key, i, err)
		}
		out = append(out, ev)
	}
	return out, nil
}
