package leaderboard

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/progate-hackathon-strawberry-flavor/STRIDE-backend/internal/apperr"
	"github.com/progate-hackathon-strawberry-flavor/STRIDE-backend/internal/database"
	"github.com/progate-hackathon-strawberry-flavor/STRIDE-backend/internal/database/memory"
	"github.com/progate-hackathon-strawberry-flavor/STRIDE-backend/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	cst   = time.FixedZone("CST", 8*3600)
	day0  = time.Date(2026, 3, 2, 0, 0, 0, 0, cst)
	start = day0.Add(6 * time.Hour)
	end   = day0.Add(23 * time.Hour)
)

func entry(user string, steps int64, enrolled time.Time) models.Entry {
	return models.Entry{UserID: user, Steps: steps, EnrolledAt: enrolled}
}

func TestPolicyThreshold(t *testing.T) {
	tests := []struct {
		name  string
		steps []int64
		want  int64
	}{
		{name: "空", steps: nil, want: 100000},
		{name: "全員0歩", steps: []int64{0, 0}, want: 100000},
		{name: "下限が勝つ", steps: []int64{20000, 10000, 5000}, want: 100000},
		{name: "中央値の3倍", steps: []int64{90000, 60000, 40000}, want: 180000},
		{name: "偶数件は上側", steps: []int64{80000, 70000, 50000, 10000}, want: 210000},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var entries []models.Entry
			for i, s := range tt.steps {
				entries = append(entries, entry(fmt.Sprintf("u%d", i), s, day0))
			}
			assert.Equal(t, tt.want, DefaultPolicy.Threshold(entries))
		})
	}

	// 上位N件だけを見る
	p := Policy{Floor: 10, MedianFactor: 2, TopN: 1}
	assert.Equal(t, int64(1000), p.Threshold([]models.Entry{entry("a", 500, day0), entry("b", 1, day0)}))
}

func TestRank_TotalOrder(t *testing.T) {
	rows, threshold := Rank([]models.Entry{
		entry("late", 5000, day0.Add(2*time.Hour)),
		entry("early", 5000, day0.Add(time.Hour)),
		entry("cheat", 900000, day0.Add(3*time.Hour)),
		entry("b", 100, day0),
		entry("a", 100, day0),
	}, DefaultPolicy)

	require.Len(t, rows, 5)
	order := make([]string, len(rows))
	for i, r := range rows {
		order[i] = r.UserID
		assert.Equal(t, i+1, r.Rank)
	}
	assert.Equal(t, []string{"cheat", "early", "late", "a", "b"}, order)
	assert.Equal(t, int64(100000), threshold)
	assert.True(t, rows[0].Abnormal)
	assert.False(t, rows[1].Abnormal)
}

type countingCache struct {
	mu          sync.Mutex
	pages       map[string]*models.LeaderboardPage
	hits        int
	invalidated []string
}

func newCountingCache() *countingCache {
	return &countingCache{pages: map[string]*models.LeaderboardPage{}}
}

func (c *countingCache) GetPage(_ context.Context, id string, page, size int) (*models.LeaderboardPage, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.pages[fmt.Sprintf("%s/%d/%d", id, page, size)]
	if ok {
		c.hits++
	}
	return p, ok, nil
}

func (c *countingCache) SetPage(_ context.Context, p *models.LeaderboardPage) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pages[fmt.Sprintf("%s/%d/%d", p.ContestID, p.Page, p.Size)] = p
	return nil
}

func (c *countingCache) Invalidate(_ context.Context, ids ...string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.invalidated = append(c.invalidated, ids...)
	for _, id := range ids {
		for k, p := range c.pages {
			if p.ContestID == id && !p.Frozen {
				delete(c.pages, k)
			}
		}
	}
	return nil
}

type fixture struct {
	svc   *Service
	repos database.Repositories
	cache *countingCache
	now   time.Time
}

func newFixture(t *testing.T, now time.Time) *fixture {
	t.Helper()
	f := &fixture{repos: memory.New().Repositories(), cache: newCountingCache(), now: now}
	f.svc = NewService(f.repos, f.cache, 24*time.Hour, WithClock(func() time.Time { return f.now }))
	require.NoError(t, f.repos.Contests.Create(context.Background(), &models.Contest{
		ID: "c1", Title: "朝活チャレンジ", StartAt: start, EndAt: end, Status: models.ContestFinalizing,
	}))
	return f
}

func (f *fixture) enroll(t *testing.T, user string, steps int64, enrolled time.Time) {
	t.Helper()
	ctx := context.Background()
	e, _, err := f.repos.Entries.CreateIfAbsent(ctx, &models.Entry{ID: "e-" + user, UserID: user, ContestID: "c1", EnrolledAt: enrolled})
	require.NoError(t, err)
	require.NoError(t, f.repos.Entries.UpdateSteps(ctx, e.ID, steps, enrolled))
}

func TestGetLeaderboard_LivePaging(t *testing.T) {
	f := newFixture(t, end.Add(time.Hour))
	for i := 0; i < 5; i++ {
		f.enroll(t, fmt.Sprintf("u%d", i), int64(1000*(i+1)), day0.Add(time.Duration(i)*time.Minute))
	}
	ctx := context.Background()

	p1, err := f.svc.GetLeaderboard(ctx, "c1", 1, 2)
	require.NoError(t, err)
	assert.False(t, p1.Frozen)
	assert.Equal(t, 5, p1.Total)
	assert.True(t, p1.HasMore)
	require.Len(t, p1.Rows, 2)
	assert.Equal(t, "u4", p1.Rows[0].UserID)
	assert.Equal(t, 1, p1.Rows[0].Rank)

	p3, err := f.svc.GetLeaderboard(ctx, "c1", 3, 2)
	require.NoError(t, err)
	assert.False(t, p3.HasMore)
	require.Len(t, p3.Rows, 1)
	assert.Equal(t, "u0", p3.Rows[0].UserID)
	assert.Equal(t, 5, p3.Rows[0].Rank)

	empty, err := f.svc.GetLeaderboard(ctx, "c1", 9, 2)
	require.NoError(t, err)
	assert.Empty(t, empty.Rows)
	assert.NotNil(t, empty.Rows)

	// 2回目はキャッシュから
	_, err = f.svc.GetLeaderboard(ctx, "c1", 1, 2)
	require.NoError(t, err)
	assert.Equal(t, 1, f.cache.hits)

	_, err = f.svc.GetLeaderboard(ctx, "nope", 1, 2)
	assert.ErrorIs(t, err, apperr.ErrContestNotFound)
}

func TestGetMyRank(t *testing.T) {
	f := newFixture(t, end.Add(25*time.Hour))
	f.enroll(t, "a", 3000, day0)
	f.enroll(t, "b", 3000, day0.Add(time.Minute))
	ctx := context.Background()

	me, err := f.svc.GetMyRank(ctx, "c1", "b")
	require.NoError(t, err)
	assert.Equal(t, &models.MyRank{Rank: 2, Steps: 3000}, me)

	none, err := f.svc.GetMyRank(ctx, "c1", "ghost")
	require.NoError(t, err)
	assert.Nil(t, none)

	_, err = f.svc.Finalize(ctx, "c1")
	require.NoError(t, err)
	me, err = f.svc.GetMyRank(ctx, "c1", "b")
	require.NoError(t, err)
	assert.Equal(t, &models.MyRank{Rank: 2, Steps: 3000, Frozen: true}, me)
}

func TestFinalize_Guards(t *testing.T) {
	f := newFixture(t, end.Add(-time.Minute))
	ctx := context.Background()

	_, err := f.svc.Finalize(ctx, "c1")
	assert.ErrorIs(t, err, apperr.ErrContestNotEnded)

	f.now = end.Add(23 * time.Hour)
	_, err = f.svc.Finalize(ctx, "c1")
	assert.ErrorIs(t, err, apperr.ErrGracePeriod)

	_, err = f.svc.Finalize(ctx, "missing")
	assert.ErrorIs(t, err, apperr.ErrContestNotFound)
}

func TestFinalize_Twice(t *testing.T) {
	f := newFixture(t, end.Add(24*time.Hour+time.Minute))
	f.enroll(t, "a", 24000, day0.Add(5*time.Hour))
	f.enroll(t, "b", 12000, day0.Add(4*time.Hour))
	ctx := context.Background()

	first, err := f.svc.Finalize(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, &models.FinalizeResult{OK: true, RankedCount: 2}, first)
	assert.Equal(t, []string{"c1"}, f.cache.invalidated)

	c, err := f.repos.Contests.Get(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, models.ContestFinalized, c.Status)

	before, err := f.repos.Leaderboards.Rows(ctx, "c1", 0, 0)
	require.NoError(t, err)

	// 確定後に歩数が変わっても順位は動かない
	require.NoError(t, f.repos.Entries.UpdateSteps(ctx, "e-b", 99999, f.now))

	second, err := f.svc.Finalize(ctx, "c1")
	require.NoError(t, err)
	assert.True(t, second.AlreadyFrozen)
	assert.Equal(t, 2, second.RankedCount)

	after, err := f.repos.Leaderboards.Rows(ctx, "c1", 0, 0)
	require.NoError(t, err)
	assert.Equal(t, before, after)

	page, err := f.svc.GetLeaderboard(ctx, "c1", 1, 10)
	require.NoError(t, err)
	assert.True(t, page.Frozen)
	assert.Equal(t, "a", page.Rows[0].UserID)
	assert.Equal(t, int64(12000), page.Rows[1].Steps)
}

func TestFinalize_ConcurrentWritesOnce(t *testing.T) {
	f := newFixture(t, end.Add(48*time.Hour))
	for i := 0; i < 20; i++ {
		f.enroll(t, fmt.Sprintf("u%02d", i), int64(i*100), day0)
	}
	ctx := context.Background()

	var wg sync.WaitGroup
	results := make([]*models.FinalizeResult, 8)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := f.svc.Finalize(ctx, "c1")
			assert.NoError(t, err)
			results[i] = res
		}(i)
	}
	wg.Wait()

	fresh := 0
	for _, r := range results {
		require.NotNil(t, r)
		assert.Equal(t, 20, r.RankedCount)
		if !r.AlreadyFrozen {
			fresh++
		}
	}
	assert.Equal(t, 1, fresh)
}

func TestAdminRanking(t *testing.T) {
	f := newFixture(t, end.Add(time.Hour))
	for i := 0; i < 6; i++ {
		f.enroll(t, fmt.Sprintf("u%d", i), int64(100*(6-i)), day0)
	}
	ctx := context.Background()

	got, err := f.svc.AdminRanking(ctx, "c1", 2, 3)
	require.NoError(t, err)
	assert.Equal(t, "朝活チャレンジ", got.ContestTitle)
	assert.Equal(t, 6, got.TotalEntries)
	require.Len(t, got.Top, 2)
	require.Len(t, got.Tail, 3)
	assert.Equal(t, "u0", got.Top[0].UserID)
	assert.Equal(t, 4, got.Tail[0].Rank)

	// 末尾は上位と重ならない
	got, err = f.svc.AdminRanking(ctx, "c1", 5, 5)
	require.NoError(t, err)
	assert.Len(t, got.Top, 5)
	assert.Len(t, got.Tail, 1)
}
