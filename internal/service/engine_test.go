package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/and161185/gamestats/internal/errs"
	"github.com/and161185/gamestats/internal/model"
)

func TestPipeline_ReplayUnlocksOnce(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	user := h.store.addUser(model.RolePlayer, testNow.Add(-time.Hour))
	ach := h.store.addAchievement("first_pack", model.CategoryCollector, `{"type":"packs_opened","target":1}`, 50)
	ev := h.store.recordPack(user, 100, testNow, model.RarityCommon, model.RarityRare)

	unlocked, err := h.pipeline.HandleEvent(ctx, ev)
	require.NoError(t, err)
	require.Equal(t, []uuid.UUID{ach}, unlocked)

	unlocked, err = h.pipeline.HandleEvent(ctx, ev)
	require.NoError(t, err)
	require.Empty(t, unlocked)

	st := h.store.statsOf(user)
	require.EqualValues(t, 50, st.TotalXP)
	require.EqualValues(t, 1, st.TotalPacksOpened)
	require.EqualValues(t, 2, st.TotalItemsCollected)
	require.EqualValues(t, 1, st.RareItemsFound)
	require.EqualValues(t, 100, st.TotalCreditsSpent)
	require.Len(t, h.store.auditActions(model.AuditAchievementGrant), 1)
}

func TestAchievementEngine_ConcurrentChecksCreditOnce(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	user := h.store.addUser(model.RolePlayer, testNow)
	h.store.addAchievement("first_pack", model.CategoryCollector, `{"type":"packs_opened","target":1}`, 50)
	ev := h.store.recordPack(user, 10, testNow, model.RarityCommon)
	_, err := h.agg.Apply(ctx, ev)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := h.engine.CheckAchievements(ctx, ev)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	require.Equal(t, 1, h.store.completeCalls)
	require.EqualValues(t, 50, h.store.statsOf(user).TotalXP)
	require.Zero(t, h.engine.locks.size())
}

func TestAchievementEngine_PartialProgress(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	user := h.store.addUser(model.RolePlayer, testNow)
	ach := h.store.addAchievement("four_packs", model.CategoryExplorer, `{"type":"packs_opened","target":4}`, 100)

	ev := h.store.recordPack(user, 10, testNow, model.RarityCommon)
	unlocked, err := h.pipeline.HandleEvent(ctx, ev)
	require.NoError(t, err)
	require.Empty(t, unlocked)

	views, err := h.engine.GetUserAchievements(ctx, user)
	require.NoError(t, err)
	require.Len(t, views, 1)
	require.Equal(t, ach, views[0].Achievement.ID)
	require.Equal(t, 25, views[0].Progress)
	require.False(t, views[0].IsCompleted)
}

func TestAchievementEngine_StreakUsesClaims(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	user := h.store.addUser(model.RolePlayer, testNow)
	ach := h.store.addAchievement("streak_3", model.CategoryDaily, `{"type":"daily_streak","target":3}`, 30)

	var unlocked []uuid.UUID
	for d := 2; d >= 0; d-- {
		ev := h.store.recordClaim(user, testNow.AddDate(0, 0, -d))
		got, err := h.pipeline.HandleEvent(ctx, ev)
		require.NoError(t, err)
		unlocked = append(unlocked, got...)
	}
	require.Equal(t, []uuid.UUID{ach}, unlocked)
	st := h.store.statsOf(user)
	require.Equal(t, 3, st.CurrentStreak)
	require.Equal(t, 3, st.LongestStreak)
}

func TestAchievementEngine_SkipsInvalidAndHidesSecret(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	user := h.store.addUser(model.RolePlayer, testNow)
	h.store.addAchievement("broken", model.CategoryCollector, `{"type":"no_such_kind"}`, 10)
	secret := h.store.addAchievement("secret_ten", model.CategorySpecial, `{"type":"packs_opened","target":10}`, 10)
	h.store.mu.Lock()
	a := h.store.achievements[secret]
	a.IsSecret = true
	h.store.achievements[secret] = a
	h.store.mu.Unlock()

	ev := h.store.recordPack(user, 10, testNow, model.RarityCommon)
	_, err := h.pipeline.HandleEvent(ctx, ev)
	require.NoError(t, err)

	views, err := h.engine.GetUserAchievements(ctx, user)
	require.NoError(t, err)
	for _, v := range views {
		require.NotEqual(t, secret, v.Achievement.ID)
	}
}

func TestAchievementEngine_CompletedInactiveStaysVisible(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	user := h.store.addUser(model.RolePlayer, testNow)
	ach := h.store.addAchievement("first_pack", model.CategoryCollector, `{"type":"packs_opened","target":1}`, 50)
	_, err := h.pipeline.HandleEvent(ctx, h.store.recordPack(user, 10, testNow, model.RarityCommon))
	require.NoError(t, err)

	h.store.mu.Lock()
	a := h.store.achievements[ach]
	a.IsActive = false
	h.store.achievements[ach] = a
	h.store.mu.Unlock()

	views, err := h.engine.GetUserAchievements(ctx, user)
	require.NoError(t, err)
	require.Len(t, views, 1)
	require.True(t, views[0].IsCompleted)
}

func TestAchievementEngine_UnlockAchievement(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	user := h.store.addUser(model.RolePlayer, testNow)
	ach := h.store.addAchievement("gift", model.CategorySpecial, `{"type":"level_reached","target":50}`, 400)

	ok, err := h.engine.UnlockAchievement(ctx, user, ach)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = h.engine.UnlockAchievement(ctx, user, ach)
	require.NoError(t, err)
	require.False(t, ok)

	st := h.store.statsOf(user)
	require.EqualValues(t, 400, st.TotalXP)
	require.Equal(t, 3, st.Level)
	require.Len(t, h.store.auditActions(model.AuditAdminUnlock), 1)

	_, err = h.engine.UnlockAchievement(ctx, user, newID())
	require.ErrorIs(t, err, errs.ErrNotFound)
}

func TestAchievementEngine_RejectsMalformedEvent(t *testing.T) {
	h := newHarness(t)
	_, err := h.engine.CheckAchievements(context.Background(), model.Event{Type: model.EventLogin})
	require.ErrorIs(t, err, errs.ErrValidation)

	_, err = h.engine.CheckAchievements(context.Background(), model.Event{Type: "BOGUS", UserID: newID()})
	require.ErrorIs(t, err, errs.ErrValidation)
}

// conflictOnce fails the first CompleteAndCredit the way a serialization
// failure from the store would.
type conflictOnce struct {
	fakeAchievements
	mu    sync.Mutex
	calls int
}

func (c *conflictOnce) CompleteAndCredit(
	ctx context.Context, userID, achID uuid.UUID, points int64, at time.Time,
) (bool, int64, error) {
	c.mu.Lock()
	c.calls++
	first := c.calls == 1
	c.mu.Unlock()
	if first {
		return false, 0, errs.ErrConflict
	}
	return c.fakeAchievements.CompleteAndCredit(ctx, userID, achID, points, at)
}

func newConflictEngine(t *testing.T, h *harness) (*AchievementEngineImpl, *conflictOnce) {
	t.Helper()
	achs := &conflictOnce{fakeAchievements: fakeAchievements{h.store}}
	e := NewAchievementEngine(achs, fakeStats{h.store}, fakeSources{h.store}, h.streaks, h.audit, h.locks,
		zaptest.NewLogger(t))
	e.now = func() time.Time { return testNow }
	return e, achs
}

func TestAchievementEngine_CheckRetriesConflictOnce(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	user := h.store.addUser(model.RolePlayer, testNow)
	ach := h.store.addAchievement("first_pack", model.CategoryCollector, `{"type":"packs_opened","target":1}`, 50)
	ev := h.store.recordPack(user, 10, testNow, model.RarityCommon)
	_, err := h.agg.Apply(ctx, ev)
	require.NoError(t, err)

	engine, achs := newConflictEngine(t, h)
	unlocked, err := engine.CheckAchievements(ctx, ev)
	require.NoError(t, err)
	require.Equal(t, []uuid.UUID{ach}, unlocked)
	require.Equal(t, 2, achs.calls)
	require.Equal(t, 1, h.store.completeCalls)
	require.EqualValues(t, 50, h.store.statsOf(user).TotalXP)
	require.Len(t, h.store.auditActions(model.AuditAchievementGrant), 1)
}

func TestAchievementEngine_UnlockRetriesConflictOnce(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	user := h.store.addUser(model.RolePlayer, testNow)
	ach := h.store.addAchievement("gift", model.CategorySpecial, `{"type":"level_reached","target":50}`, 400)

	engine, achs := newConflictEngine(t, h)
	ok, err := engine.UnlockAchievement(ctx, user, ach)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, 2, achs.calls)
	require.Equal(t, 1, h.store.completeCalls)
	require.EqualValues(t, 400, h.store.statsOf(user).TotalXP)
	require.Len(t, h.store.auditActions(model.AuditAdminUnlock), 1)
}

func TestAchievementEngine_LevelUnlockedBySamePassXP(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	user := h.store.addUser(model.RolePlayer, testNow)
	// sorted first, so it is evaluated before the XP arrives
	level := h.store.addAchievement("a_level_two", model.CategoryCollector, `{"type":"level_reached","target":2}`, 10)
	pack := h.store.addAchievement("first_pack", model.CategoryCollector, `{"type":"packs_opened","target":1}`, 150)

	unlocked, err := h.pipeline.HandleEvent(ctx, h.store.recordPack(user, 10, testNow, model.RarityCommon))
	require.NoError(t, err)
	require.Equal(t, []uuid.UUID{pack, level}, unlocked)

	st := h.store.statsOf(user)
	require.EqualValues(t, 160, st.TotalXP)
	require.Equal(t, 2, st.Level)
	require.Equal(t, 2, h.store.completeCalls)
}
