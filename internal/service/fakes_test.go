package service

import (
	"bytes"
	"context"
	"encoding/json"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap/zaptest"

	"github.com/and161185/gamestats/internal/errs"
	"github.com/and161185/gamestats/internal/model"
	"github.com/and161185/gamestats/internal/repository"
)

// memStore is an in-memory backing for every repository fake.
type memStore struct {
	mu sync.Mutex

	users     map[uuid.UUID]model.User
	stats     map[uuid.UUID]*model.UserStats
	processed map[uuid.UUID]bool

	achievements map[uuid.UUID]model.Achievement
	progress     map[uuid.UUID]map[uuid.UUID]*model.UserAchievement

	packs  []model.PackOpening
	claims []model.DailyClaim
	trades []model.MarketTransaction
	owned  map[uuid.UUID]int64

	rankings map[string][]model.Ranking
	seasons  map[uuid.UUID]*model.Season
	audit    []model.AuditEntry

	// completeCalls counts CompleteAndCredit calls that credited XP.
	completeCalls int
}

func newMemStore() *memStore {
	return &memStore{
		users:        make(map[uuid.UUID]model.User),
		stats:        make(map[uuid.UUID]*model.UserStats),
		processed:    make(map[uuid.UUID]bool),
		achievements: make(map[uuid.UUID]model.Achievement),
		progress:     make(map[uuid.UUID]map[uuid.UUID]*model.UserAchievement),
		owned:        make(map[uuid.UUID]int64),
		rankings:     make(map[string][]model.Ranking),
		seasons:      make(map[uuid.UUID]*model.Season),
	}
}

func newID() uuid.UUID { return uuid.Must(uuid.NewV4()) }

func (m *memStore) addUser(role model.Role, createdAt time.Time) uuid.UUID {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := newID()
	m.users[id] = model.User{ID: id, Username: id.String()[:8], Role: role, CreatedAt: createdAt}
	return id
}

func (m *memStore) addAchievement(code string, cat model.AchievementCategory, cond string, points int64) uuid.UUID {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := newID()
	m.achievements[id] = model.Achievement{
		ID: id, Code: code, Name: code, Category: cat, Type: model.TypeMilestone,
		Condition: json.RawMessage(cond), Points: points, IsActive: true,
	}
	return id
}

// recordPack writes the source-of-truth rows a pack opening produces.
func (m *memStore) recordPack(userID uuid.UUID, credits int64, at time.Time, rarities ...model.Rarity) model.Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	op := model.PackOpening{ID: newID(), UserID: userID, PackID: newID(), CreditsSpent: credits, OpenedAt: at}
	for _, r := range rarities {
		op.Items = append(op.Items, model.OpenedItem{ItemID: newID(), Rarity: r})
	}
	m.packs = append(m.packs, op)
	m.owned[userID] += int64(len(rarities))
	return model.Event{
		ID: op.ID, Type: model.EventPackOpened, UserID: userID, OccurredAt: at,
		Data: model.EventData{PackID: op.PackID, Items: op.Items, Credits: credits},
	}
}

func (m *memStore) recordClaim(userID uuid.UUID, at time.Time) model.Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := model.DailyClaim{ID: newID(), UserID: userID, Credits: 10, ClaimedAt: at}
	m.claims = append(m.claims, c)
	return model.Event{ID: c.ID, Type: model.EventDailyClaimed, UserID: userID, OccurredAt: at,
		Data: model.EventData{Credits: c.Credits}}
}

func (m *memStore) statsOf(userID uuid.UUID) model.UserStats {
	m.mu.Lock()
	defer m.mu.Unlock()
	if st, ok := m.stats[userID]; ok {
		return *st
	}
	return model.UserStats{UserID: userID, Level: 1}
}

func (m *memStore) setStats(st model.UserStats) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stats[st.UserID] = &st
}

func (m *memStore) auditActions(action string) []model.AuditEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.AuditEntry
	for _, e := range m.audit {
		if e.Action == action {
			out = append(out, e)
		}
	}
	return out
}

// ensure must be called with mu held.
func (m *memStore) ensure(userID uuid.UUID) *model.UserStats {
	st, ok := m.stats[userID]
	if !ok {
		st = &model.UserStats{UserID: userID, Level: 1}
		m.stats[userID] = st
	}
	return st
}

func setField(st *model.UserStats, field string, v int64) {
	switch field {
	case model.FieldTotalXP:
		st.TotalXP = v
	case model.FieldLevel:
		st.Level = int(v)
	case model.FieldCurrentStreak:
		st.CurrentStreak = int(v)
	case model.FieldLongestStreak:
		st.LongestStreak = int(v)
	case model.FieldPacksOpened:
		st.TotalPacksOpened = v
	case model.FieldItemsCollected:
		st.TotalItemsCollected = v
	case model.FieldMarketplaceSales:
		st.MarketplaceSales = v
	case model.FieldMarketplacePurchases:
		st.MarketplacePurchases = v
	case model.FieldRareItems:
		st.RareItemsFound = v
	case model.FieldEpicItems:
		st.EpicItemsFound = v
	case model.FieldLegendaryItems:
		st.LegendaryItemsFound = v
	case model.FieldCreditsSpent:
		st.TotalCreditsSpent = v
	}
}

func sortedIDs[V any](m map[uuid.UUID]V) []uuid.UUID {
	ids := make([]uuid.UUID, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return bytes.Compare(ids[i].Bytes(), ids[j].Bytes()) < 0 })
	return ids
}

func inWindow(t, from, to time.Time) bool { return !t.Before(from) && t.Before(to) }

// --- users ---

type fakeUsers struct{ *memStore }

var _ repository.UserRepository = fakeUsers{}

func (f fakeUsers) GetByID(_ context.Context, id uuid.UUID) (*model.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[id]
	if !ok {
		return nil, errs.ErrNotFound
	}
	return &u, nil
}

func (f fakeUsers) ListIDs(_ context.Context, after uuid.UUID, limit int) ([]uuid.UUID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []uuid.UUID
	for _, id := range sortedIDs(f.users) {
		if bytes.Compare(id.Bytes(), after.Bytes()) <= 0 {
			continue
		}
		out = append(out, id)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (f fakeUsers) Count(context.Context) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.users), nil
}

// --- stats ---

type fakeStats struct{ *memStore }

var _ repository.StatsRepository = fakeStats{}

func (f fakeStats) Get(_ context.Context, userID uuid.UUID) (*model.UserStats, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	st, ok := f.stats[userID]
	if !ok {
		return nil, errs.ErrNotFound
	}
	cp := *st
	return &cp, nil
}

func (f fakeStats) Ensure(_ context.Context, userID uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ensure(userID)
	return nil
}

func (f fakeStats) ApplyEvent(_ context.Context, eventID, userID uuid.UUID, d model.Counters, at time.Time) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.processed[eventID] {
		return false, nil
	}
	f.processed[eventID] = true
	st := f.ensure(userID)
	st.Counters = st.Counters.Add(d)
	if st.LastActivityAt == nil || at.After(*st.LastActivityAt) {
		st.LastActivityAt = &at
	}
	return true, nil
}

func (f fakeStats) UpdateStreak(_ context.Context, userID uuid.UUID, current, longest int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	st := f.ensure(userID)
	st.CurrentStreak = current
	st.LongestStreak = max(st.LongestStreak, longest)
	return nil
}

func (f fakeStats) ResetStreakIfPositive(_ context.Context, userID uuid.UUID, claimedSince time.Time) (int, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	st, ok := f.stats[userID]
	if !ok || st.CurrentStreak <= 0 {
		return 0, false, nil
	}
	for _, c := range f.claims {
		if c.UserID == userID && !c.ClaimedAt.Before(claimedSince) {
			return 0, false, nil
		}
	}
	prev := st.CurrentStreak
	st.CurrentStreak = 0
	return prev, true, nil
}

func (f fakeStats) ListWithStreak(_ context.Context, after uuid.UUID, limit int) ([]model.UserStats, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.UserStats
	for _, id := range sortedIDs(f.stats) {
		st := f.stats[id]
		if st.CurrentStreak <= 0 || bytes.Compare(id.Bytes(), after.Bytes()) <= 0 {
			continue
		}
		out = append(out, *st)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

// ApplyCorrection re-derives under mu like the store does under its advisory lock.
func (f fakeStats) ApplyCorrection(_ context.Context, userID uuid.UUID, c model.StatsCorrection) ([]model.Inconsistency, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	st := f.ensure(userID)

	want := make(map[string]int64, len(c.Values))
	xp := f.sumPoints(userID)
	for _, nv := range (fakeSources{f.memStore}).counters(userID, epoch, farFuture).Fields() {
		want[nv.Field] = nv.Value
	}
	want[model.FieldTotalXP] = xp
	want[model.FieldLevel] = int64(model.LevelForXP(xp))
	streakOK := f.claimCount(userID) == c.ClaimsSeen
	want[model.FieldCurrentStreak] = c.Values[model.FieldCurrentStreak]
	want[model.FieldLongestStreak] = c.Values[model.FieldLongestStreak]

	var applied []model.Inconsistency
	for _, field := range model.CorrectableFields {
		isStreak := field == model.FieldCurrentStreak || field == model.FieldLongestStreak
		if !c.Has(field) || (isStreak && !streakOK) {
			continue
		}
		have, _ := st.Value(field)
		if have == want[field] {
			continue
		}
		setField(st, field, want[field])
		applied = append(applied, model.Inconsistency{UserID: userID, Field: field, Stored: have, Expected: want[field]})
	}
	if len(applied) > 0 && c.TouchesCounters() {
		if last := f.lastActivity(userID); last != nil {
			st.LastActivityAt = last
		}
	}
	return applied, nil
}

func (f fakeStats) CountActiveSince(_ context.Context, since time.Time) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, st := range f.stats {
		if st.LastActivityAt != nil && !st.LastActivityAt.Before(since) {
			n++
		}
	}
	return n, nil
}

// --- achievements ---

type fakeAchievements struct{ *memStore }

var _ repository.AchievementRepository = fakeAchievements{}

func (f fakeAchievements) ListActive(_ context.Context, cats []model.AchievementCategory) ([]model.Achievement, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	want := make(map[model.AchievementCategory]bool, len(cats))
	for _, c := range cats {
		want[c] = true
	}
	var out []model.Achievement
	for _, a := range f.achievements {
		if a.IsActive && (len(cats) == 0 || want[a.Category]) {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out, nil
}

func (f fakeAchievements) GetByID(_ context.Context, id uuid.UUID) (*model.Achievement, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.achievements[id]
	if !ok {
		return nil, errs.ErrNotFound
	}
	return &a, nil
}

func (f fakeAchievements) ListUserAchievements(_ context.Context, userID uuid.UUID) ([]model.UserAchievement, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.UserAchievement
	for _, ua := range f.progress[userID] {
		out = append(out, *ua)
	}
	return out, nil
}

func (f fakeAchievements) row(userID, achID uuid.UUID) *model.UserAchievement {
	rows, ok := f.progress[userID]
	if !ok {
		rows = make(map[uuid.UUID]*model.UserAchievement)
		f.progress[userID] = rows
	}
	ua, ok := rows[achID]
	if !ok {
		ua = &model.UserAchievement{ID: newID(), UserID: userID, AchievementID: achID}
		rows[achID] = ua
	}
	return ua
}

func (f fakeAchievements) SaveProgress(_ context.Context, userID, achID uuid.UUID, p int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	ua := f.row(userID, achID)
	if !ua.IsCompleted && p > ua.Progress {
		ua.Progress = p
	}
	return nil
}

func (f fakeAchievements) CompleteAndCredit(
	_ context.Context, userID, achID uuid.UUID, points int64, at time.Time,
) (bool, int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ua := f.row(userID, achID)
	st := f.ensure(userID)
	if ua.IsCompleted {
		return false, st.TotalXP, nil
	}
	ua.IsCompleted, ua.Progress, ua.UnlockedAt = true, 100, &at
	st.TotalXP += points
	st.Level = model.LevelForXP(st.TotalXP)
	f.completeCalls++
	return true, st.TotalXP, nil
}

func (f fakeAchievements) SumCompletedPoints(_ context.Context, userID uuid.UUID) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sumPoints(userID), nil
}

func (f fakeAchievements) CountOrphaned(_ context.Context, userID uuid.UUID) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for achID := range f.progress[userID] {
		if _, ok := f.achievements[achID]; !ok {
			n++
		}
	}
	return n, nil
}

func (f fakeAchievements) CountUnlockedSince(_ context.Context, since time.Time) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, rows := range f.progress {
		for _, ua := range rows {
			if ua.IsCompleted && ua.UnlockedAt != nil && !ua.UnlockedAt.Before(since) {
				n++
			}
		}
	}
	return n, nil
}

// --- sources ---

type fakeSources struct{ *memStore }

var _ repository.SourceRepository = fakeSources{}

func (f fakeSources) counters(userID uuid.UUID, from, to time.Time) model.Counters {
	var c model.Counters
	for _, p := range f.packs {
		if p.UserID != userID || !inWindow(p.OpenedAt, from, to) {
			continue
		}
		c.TotalPacksOpened++
		c.TotalCreditsSpent += p.CreditsSpent
		c.TotalItemsCollected += int64(len(p.Items))
		for _, it := range p.Items {
			switch it.Rarity {
			case model.RarityRare:
				c.RareItemsFound++
			case model.RarityEpic:
				c.EpicItemsFound++
			case model.RarityLegendary:
				c.LegendaryItemsFound++
			}
		}
	}
	for _, t := range f.trades {
		if !inWindow(t.CreatedAt, from, to) {
			continue
		}
		if t.SellerID == userID {
			c.MarketplaceSales++
		}
		if t.BuyerID == userID {
			c.MarketplacePurchases++
			c.TotalItemsCollected++
			c.TotalCreditsSpent += t.Price
		}
	}
	return c
}

func (f fakeSources) DeriveCounters(_ context.Context, userID uuid.UUID) (model.Counters, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.counters(userID, epoch, farFuture), nil
}

func (f fakeSources) CountOwnedItems(_ context.Context, userID uuid.UUID) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.owned[userID], nil
}

func (f fakeSources) ClaimTimes(_ context.Context, ids []uuid.UUID, from, to time.Time) (map[uuid.UUID][]time.Time, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	want := make(map[uuid.UUID]bool, len(ids))
	for _, id := range ids {
		want[id] = true
	}
	out := make(map[uuid.UUID][]time.Time)
	for _, c := range f.claims {
		if want[c.UserID] && inWindow(c.ClaimedAt, from, to) {
			out[c.UserID] = append(out[c.UserID], c.ClaimedAt)
		}
	}
	return out, nil
}

func (f fakeSources) CountClaims(_ context.Context, userID uuid.UUID) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.claimCount(userID), nil
}

func (f fakeSources) LastActivityAt(_ context.Context, userID uuid.UUID) (*time.Time, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastActivity(userID), nil
}

// sumPoints, claimCount and lastActivity must be called with mu held.
func (m *memStore) sumPoints(userID uuid.UUID) int64 {
	var sum int64
	for achID, ua := range m.progress[userID] {
		if a, ok := m.achievements[achID]; ok && ua.IsCompleted {
			sum += a.Points
		}
	}
	return sum
}

func (m *memStore) claimCount(userID uuid.UUID) int64 {
	var n int64
	for _, c := range m.claims {
		if c.UserID == userID {
			n++
		}
	}
	return n
}

func (m *memStore) lastActivity(userID uuid.UUID) *time.Time {
	var last *time.Time
	see := func(t time.Time) {
		if last == nil || t.After(*last) {
			last = &t
		}
	}
	for _, p := range m.packs {
		if p.UserID == userID {
			see(p.OpenedAt)
		}
	}
	for _, c := range m.claims {
		if c.UserID == userID {
			see(c.ClaimedAt)
		}
	}
	for _, t := range m.trades {
		if t.SellerID == userID || t.BuyerID == userID {
			see(t.CreatedAt)
		}
	}
	return last
}

func (f fakeSources) SeasonActivity(_ context.Context, from, to time.Time) (map[uuid.UUID]model.SeasonActivity, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[uuid.UUID]model.SeasonActivity)
	for id := range f.users {
		a := model.SeasonActivity{Counters: f.counters(id, from, to)}
		for achID, ua := range f.progress[id] {
			ach, ok := f.achievements[achID]
			if ok && ua.IsCompleted && ua.UnlockedAt != nil && inWindow(*ua.UnlockedAt, from, to) {
				a.XP += ach.Points
			}
		}
		if a.XP != 0 || !a.Counters.IsZero() {
			out[id] = a
		}
	}
	return out, nil
}

// --- rankings & seasons ---

type fakeRankings struct{ *memStore }

var _ repository.RankingRepository = fakeRankings{}

func rankKey(c model.RankingCategory, seasonID *uuid.UUID) string {
	if seasonID == nil {
		return string(c)
	}
	return string(c) + "/" + seasonID.String()
}

func (f fakeRankings) ListCandidates(_ context.Context, excluded []model.Role) ([]model.RankingCandidate, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	skip := make(map[model.Role]bool, len(excluded))
	for _, r := range excluded {
		skip[r] = true
	}
	var out []model.RankingCandidate
	for _, id := range sortedIDs(f.users) {
		u := f.users[id]
		if skip[u.Role] {
			continue
		}
		c := model.RankingCandidate{UserID: id, Role: u.Role, CreatedAt: u.CreatedAt,
			Stats: model.UserStats{UserID: id, Level: 1}}
		if st, ok := f.stats[id]; ok {
			c.Stats = *st
		}
		out = append(out, c)
	}
	return out, nil
}

func (f fakeRankings) Replace(_ context.Context, c model.RankingCategory, seasonID *uuid.UUID, rows []model.Ranking) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rankings[rankKey(c, seasonID)] = append([]model.Ranking(nil), rows...)
	return nil
}

func (f fakeRankings) Top(_ context.Context, c model.RankingCategory, seasonID *uuid.UUID, limit int) ([]model.Ranking, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	rows := f.rankings[rankKey(c, seasonID)]
	if len(rows) > limit {
		rows = rows[:limit]
	}
	return append([]model.Ranking(nil), rows...), nil
}

func (f fakeRankings) Position(_ context.Context, userID uuid.UUID, c model.RankingCategory, seasonID *uuid.UUID) (*model.Ranking, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, r := range f.rankings[rankKey(c, seasonID)] {
		if r.UserID == userID {
			return &r, nil
		}
	}
	return nil, errs.ErrNotFound
}

func (f fakeRankings) Range(_ context.Context, c model.RankingCategory, seasonID *uuid.UUID, from, to int) ([]model.Ranking, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.Ranking
	for _, r := range f.rankings[rankKey(c, seasonID)] {
		if r.Position >= from && r.Position <= to {
			out = append(out, r)
		}
	}
	return out, nil
}

type fakeSeasons struct{ *memStore }

var _ repository.SeasonRepository = fakeSeasons{}

func (f fakeSeasons) GetByID(_ context.Context, id uuid.UUID) (*model.Season, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.seasons[id]
	if !ok {
		return nil, errs.ErrNotFound
	}
	cp := *s
	return &cp, nil
}

func (f fakeSeasons) Active(_ context.Context, c model.RankingCategory) (*model.Season, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, s := range f.seasons {
		if s.IsActive && s.Category == c {
			cp := *s
			return &cp, nil
		}
	}
	return nil, errs.ErrNotFound
}

func (f fakeSeasons) ListActive(context.Context) ([]model.Season, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.Season
	for _, id := range sortedIDs(f.seasons) {
		if s := f.seasons[id]; s.IsActive {
			out = append(out, *s)
		}
	}
	return out, nil
}

func (f fakeSeasons) Create(_ context.Context, s *model.Season) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, other := range f.seasons {
		if other.IsActive && other.Category == s.Category {
			return errs.ErrAlreadyExists
		}
	}
	cp := *s
	f.seasons[s.ID] = &cp
	return nil
}

func (f fakeSeasons) Deactivate(_ context.Context, id uuid.UUID) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.seasons[id]
	if !ok {
		return false, errs.ErrNotFound
	}
	was := s.IsActive
	s.IsActive = false
	return was, nil
}

// --- audit ---

type fakeAudit struct{ *memStore }

var _ repository.AuditRepository = fakeAudit{}

func (f fakeAudit) Append(_ context.Context, e *model.AuditEntry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	e.ID = int64(len(f.audit) + 1)
	f.audit = append(f.audit, *e)
	return nil
}

func (f fakeAudit) ListRecent(_ context.Context, userID *uuid.UUID, limit int) ([]model.AuditEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.AuditEntry
	for i := len(f.audit) - 1; i >= 0 && len(out) < limit; i-- {
		e := f.audit[i]
		if userID == nil || (e.UserID != nil && *e.UserID == *userID) {
			out = append(out, e)
		}
	}
	return out, nil
}

// syncQueue runs tasks inline so tests observe their effects immediately.
type syncQueue struct {
	mu    sync.Mutex
	tasks []Task
	err   error
}

func (q *syncQueue) Enqueue(_ context.Context, t Task) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.err != nil {
		return q.err
	}
	q.tasks = append(q.tasks, t)
	return nil
}

func (q *syncQueue) drain(t *testing.T) {
	t.Helper()
	q.mu.Lock()
	tasks := q.tasks
	q.tasks = nil
	q.mu.Unlock()
	for _, task := range tasks {
		if err := task.Run(context.Background()); err != nil {
			t.Fatalf("task %s: %v", task.Name, err)
		}
	}
}

// harness wires every service over one memStore with a fixed clock.
type harness struct {
	store     *memStore
	now       time.Time
	audit     *AuditLoggerImpl
	streaks   *StreakServiceImpl
	agg       *StatsAggregatorImpl
	engine    *AchievementEngineImpl
	validator *StatsValidatorImpl
	queue     *syncQueue
	guard     *IntegrityGuard
	monitor   *StatsMonitorImpl
	rankings  *RankingAggregatorImpl
	seasons   *SeasonServiceImpl
	pipeline  *Pipeline
	locks     *UserLocks
}

var testNow = time.Date(2026, 3, 10, 15, 0, 0, 0, time.UTC)

func newHarness(t *testing.T) *harness {
	t.Helper()
	log := zaptest.NewLogger(t)
	st := newMemStore()
	clock := func() time.Time { return testNow }

	h := &harness{store: st, now: testNow, queue: &syncQueue{}}
	h.audit = NewAuditLogger(fakeAudit{st}, log)
	h.streaks = NewStreakService(fakeStats{st}, fakeSources{st}, h.audit, time.UTC, 2, log)
	h.streaks.now = clock
	h.agg = NewStatsAggregator(fakeStats{st}, h.streaks, log)
	h.agg.now = clock
	h.locks = NewUserLocks()
	h.engine = NewAchievementEngine(fakeAchievements{st}, fakeStats{st}, fakeSources{st}, h.streaks, h.audit, h.locks, log)
	h.engine.now = clock
	h.validator = NewStatsValidator(fakeUsers{st}, fakeStats{st}, fakeAchievements{st}, fakeSources{st}, h.streaks, h.audit,
		h.locks, 2, log)
	h.guard = NewIntegrityGuard(h.agg, h.engine, h.validator, fakeSources{st}, h.queue, h.audit, time.Second, log)
	h.guard.now = clock
	h.monitor = NewStatsMonitor(fakeUsers{st}, fakeStats{st}, fakeAchievements{st}, h.validator,
		MonitorOptions{Timeout: time.Second, BatchSize: 2, AutoFix: true}, log)
	h.monitor.now = clock
	h.rankings = NewRankingAggregator(fakeRankings{st}, fakeSeasons{st}, fakeSources{st}, h.audit,
		h.streaks.Calculator(), []model.Role{model.RoleAdmin, model.RoleSuperAdmin}, nil, log)
	h.rankings.now = clock
	h.seasons = NewSeasonService(fakeSeasons{st}, fakeRankings{st}, h.rankings, h.audit, log)
	h.seasons.now = clock
	h.pipeline = NewPipeline(h.agg, h.engine, h.queue, log)
	return h
}
