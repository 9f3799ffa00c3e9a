package reward

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
	"github.com/progate-hackathon-strawberry-flavor/STRIDE-backend/internal/services/contest"
	"github.com/progate-hackathon-strawberry-flavor/STRIDE-backend/internal/services/leaderboard"
	"github.com/progate-hackathon-strawberry-flavor/STRIDE-backend/internal/services/quota"
	"github.com/progate-hackathon-strawberry-flavor/STRIDE-backend/internal/services/steps"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	cst  = time.FixedZone("CST", 8*3600)
	day0 = time.Date(2026, 3, 2, 0, 0, 0, 0, cst)
)

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = t
}

type engine struct {
	repos   database.Repositories
	clock   *clock
	quota   *quota.Ledger
	steps   *steps.Ledger
	board   *leaderboard.Service
	contest *contest.Service
	reward  *Service
}

func newEngine(t *testing.T) *engine {
	t.Helper()
	e := &engine{repos: memory.New().Repositories(), clock: &clock{t: day0.Add(4 * time.Hour)}}
	grace := 24 * time.Hour
	e.quota = quota.NewLedger(e.repos, quota.Config{Location: cst, SignupQuota: 3}, quota.WithClock(e.clock.Now))
	e.steps = steps.NewLedger(e.repos, nil, steps.Config{Location: cst, RetentionDays: 35, LookBack: 24 * time.Hour}, steps.WithClock(e.clock.Now))
	e.board = leaderboard.NewService(e.repos, nil, grace, leaderboard.WithClock(e.clock.Now))
	e.contest = contest.NewService(e.repos, e.quota, e.board, grace, contest.WithClock(e.clock.Now))
	e.reward = NewService(e.repos, WithClock(e.clock.Now))
	return e
}

func tiers() []models.PrizeTier {
	return []models.PrizeTier{
		{RankStart: 1, RankEnd: 1, Value: decimal.NewFromInt(100)},
		{RankStart: 2, RankEnd: 3, Value: decimal.RequireFromString("49.5")},
	}
}

// finalized runs a contest [Day0 06:00, Day0 23:00) to completion with the given step totals.
func (e *engine) finalized(t *testing.T, totals map[string]int64, order []string) *models.Contest {
	t.Helper()
	ctx := context.Background()
	c, err := e.contest.CreateContest(ctx, models.ContestCreateRequest{
		Title:   "朝活チャレンジ",
		StartAt: day0.Add(6 * time.Hour),
		EndAt:   day0.Add(23 * time.Hour),
		Tiers:   tiers(),
	})
	require.NoError(t, err)

	e.clock.Set(day0.Add(5 * time.Hour))
	for _, user := range order {
		_, err := e.quota.GrantSignup(ctx, user)
		require.NoError(t, err)
		_, err = e.contest.Enroll(ctx, user, c.ID)
		require.NoError(t, err)
	}

	e.clock.Set(day0.Add(12 * time.Hour))
	_, err = e.contest.AdvanceLifecycle(ctx, e.clock.Now())
	require.NoError(t, err)
	for _, user := range order {
		if totals[user] == 0 {
			continue
		}
		_, err := e.steps.Ingest(ctx, user, []models.StepSample{
			{Timestamp: day0.Add(8 * time.Hour).Unix(), Step: totals[user] / 2},
			{Timestamp: day0.Add(11 * time.Hour).Unix(), Step: totals[user] - totals[user]/2},
		})
		require.NoError(t, err)
	}

	e.clock.Set(day0.Add(47*time.Hour + time.Minute)) // Day1 23:01
	res, err := e.contest.AdvanceLifecycle(ctx, e.clock.Now())
	require.NoError(t, err)
	require.Equal(t, 1, res.Finalized)

	got, err := e.repos.Contests.Get(ctx, c.ID)
	require.NoError(t, err)
	require.Equal(t, models.ContestFinalized, got.Status)
	return got
}

func TestEndToEnd_EnrollIngestFinalizeClaim(t *testing.T) {
	e := newEngine(t)
	ctx := context.Background()
	c := e.finalized(t, map[string]int64{"A": 24000, "B": 9000}, []string{"A", "B"})

	entry, err := e.repos.Entries.Get(ctx, "A", c.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(24000), entry.Steps)

	res, err := e.reward.StartClaim(ctx, c.ID, "A")
	require.NoError(t, err)
	assert.True(t, res.Created)
	assert.Equal(t, models.ClaimPending, res.Claim.Status)
	assert.Equal(t, 1, res.Claim.Rank)
	assert.Equal(t, int64(24000), res.Claim.Steps)
	assert.True(t, res.Claim.PrizeValue.Equal(decimal.NewFromInt(100)))
	assert.Equal(t, "已提交", res.StateHint)

	again, err := e.reward.StartClaim(ctx, c.ID, "A")
	require.NoError(t, err)
	assert.False(t, again.Created)
	assert.Equal(t, res.Claim.ID, again.Claim.ID)

	b, err := e.reward.StartClaim(ctx, c.ID, "B")
	require.NoError(t, err)
	assert.True(t, b.Claim.PrizeValue.Equal(decimal.RequireFromString("49.5")))

	// 参加登録でクレジットが1つだけ減っている
	bal, err := e.quota.Available(ctx, "A")
	require.NoError(t, err)
	assert.Equal(t, 2, bal.Available)

	page, err := e.contest.ListEndedContests(ctx, "A", 1, 10)
	require.NoError(t, err)
	require.Len(t, page.Items, 1)
	assert.True(t, page.Items[0].Claimed)
	assert.False(t, page.Items[0].CanClaim)
	require.NotNil(t, page.Items[0].MyRank)
	assert.Equal(t, 1, *page.Items[0].MyRank)
}

func TestStartClaim_Failures(t *testing.T) {
	e := newEngine(t)
	ctx := context.Background()

	_, err := e.reward.StartClaim(ctx, "missing", "A")
	assert.ErrorIs(t, err, apperr.ErrContestNotFound)

	open, err := e.contest.CreateContest(ctx, models.ContestCreateRequest{
		Title: "未確定", StartAt: day0.Add(6 * time.Hour), EndAt: day0.Add(23 * time.Hour), Tiers: tiers(),
	})
	require.NoError(t, err)
	_, err = e.reward.StartClaim(ctx, open.ID, "A")
	assert.ErrorIs(t, err, apperr.ErrContestNotFinalized)

	e2 := newEngine(t)
	c := e2.finalized(t, map[string]int64{"u1": 500, "u2": 400, "u3": 300, "u4": 200}, []string{"u1", "u2", "u3", "u4"})

	_, err = e2.reward.StartClaim(ctx, c.ID, "stranger")
	assert.ErrorIs(t, err, apperr.ErrNotRanked)

	_, err = e2.reward.StartClaim(ctx, c.ID, "u4")
	assert.ErrorIs(t, err, apperr.ErrNotEligible)

	_, err = e2.reward.StartClaim(ctx, c.ID, "u3")
	assert.NoError(t, err)
}

func TestStartClaim_ConcurrentCreatesOne(t *testing.T) {
	e := newEngine(t)
	ctx := context.Background()
	c := e.finalized(t, map[string]int64{"A": 1000}, []string{"A"})

	var wg sync.WaitGroup
	ids := make([]string, 10)
	created := make([]bool, 10)
	for i := range ids {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := e.reward.StartClaim(ctx, c.ID, "A")
			if assert.NoError(t, err) {
				ids[i], created[i] = res.Claim.ID, res.Created
			}
		}(i)
	}
	wg.Wait()

	n := 0
	for i := range ids {
		assert.Equal(t, ids[0], ids[i])
		if created[i] {
			n++
		}
	}
	assert.Equal(t, 1, n)
}

func TestVerifierRoundRobin(t *testing.T) {
	e := newEngine(t)
	ctx := context.Background()

	var verifiers []*models.Verifier
	for i := 0; i < 2; i++ {
		e.clock.Set(day0.Add(time.Duration(i) * time.Minute))
		v, err := e.reward.CreateVerifier(ctx, fmt.Sprintf("担当%d", i), fmt.Sprintf("wx-%d", i))
		require.NoError(t, err)
		verifiers = append(verifiers, v)
	}
	_, err := e.reward.CreateVerifier(ctx, " ", "x")
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))

	e.clock.Set(day0.Add(4 * time.Hour))
	c := e.finalized(t, map[string]int64{"u1": 300, "u2": 200, "u3": 100}, []string{"u1", "u2", "u3"})

	var got []string
	for _, u := range []string{"u1", "u2", "u3"} {
		res, err := e.reward.StartClaim(ctx, c.ID, u)
		require.NoError(t, err)
		require.NotNil(t, res.Claim.VerifierID)
		got = append(got, *res.Claim.VerifierID)
		assert.NotEmpty(t, res.VerifierContact)
	}
	assert.Equal(t, []string{verifiers[0].ID, verifiers[1].ID, verifiers[0].ID}, got)
}

func TestGetClaim_AssignsLateVerifier(t *testing.T) {
	e := newEngine(t)
	ctx := context.Background()
	c := e.finalized(t, map[string]int64{"A": 1000}, []string{"A"})

	res, err := e.reward.StartClaim(ctx, c.ID, "A")
	require.NoError(t, err)
	assert.Nil(t, res.Claim.VerifierID)

	_, err = e.reward.GetClaim(ctx, res.Claim.ID, "someone-else")
	assert.ErrorIs(t, err, apperr.ErrClaimNotFound)

	v, err := e.reward.CreateVerifier(ctx, "担当", "wx-1")
	require.NoError(t, err)

	got, err := e.reward.GetClaim(ctx, res.Claim.ID, "A")
	require.NoError(t, err)
	require.NotNil(t, got.Claim.VerifierID)
	assert.Equal(t, v.ID, *got.Claim.VerifierID)
	assert.Equal(t, "wx-1", got.VerifierContact)

	list, err := e.reward.ListClaims(ctx, "A")
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestTransition(t *testing.T) {
	e := newEngine(t)
	ctx := context.Background()
	c := e.finalized(t, map[string]int64{"A": 1000}, []string{"A"})
	res, err := e.reward.StartClaim(ctx, c.ID, "A")
	require.NoError(t, err)
	id := res.Claim.ID

	_, err = e.reward.Transition(ctx, id, models.ClaimTransitionRequest{To: "LOST"})
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))

	_, err = e.reward.Transition(ctx, id, models.ClaimTransitionRequest{To: models.ClaimShipped})
	assert.ErrorIs(t, err, apperr.ErrInvalidTransition)

	_, err = e.reward.Transition(ctx, id, models.ClaimTransitionRequest{To: models.ClaimVerified, VerifierID: "ghost"})
	assert.ErrorIs(t, err, apperr.ErrVerifierNotFound)

	v, err := e.reward.CreateVerifier(ctx, "担当", "wx-1")
	require.NoError(t, err)

	got, err := e.reward.Transition(ctx, id, models.ClaimTransitionRequest{To: models.ClaimVerified, VerifierID: v.ID, Note: "本人確認済み"})
	require.NoError(t, err)
	assert.Equal(t, models.ClaimVerified, got.Claim.Status)
	assert.Equal(t, "本人確認済み", got.Claim.Note)
	assert.Equal(t, v.ID, *got.Claim.VerifierID)

	got, err = e.reward.Transition(ctx, id, models.ClaimTransitionRequest{To: models.ClaimCompleted})
	require.NoError(t, err)
	assert.Equal(t, "已完成", got.StateHint)

	_, err = e.reward.Transition(ctx, id, models.ClaimTransitionRequest{To: models.ClaimRejected})
	assert.ErrorIs(t, err, apperr.ErrClaimTerminal)

	_, err = e.reward.AssignVerifier(ctx, id, v.ID)
	assert.ErrorIs(t, err, apperr.ErrClaimTerminal)

	_, err = e.reward.Transition(ctx, "nope", models.ClaimTransitionRequest{To: models.ClaimCompleted})
	assert.ErrorIs(t, err, apperr.ErrClaimNotFound)
}

func TestTransition_AbnormalNeedsAck(t *testing.T) {
	e := newEngine(t)
	ctx := context.Background()
	c := e.finalized(t, map[string]int64{"cheat": 500000, "A": 1000, "B": 900}, []string{"cheat", "A", "B"})

	res, err := e.reward.StartClaim(ctx, c.ID, "cheat")
	require.NoError(t, err)
	require.True(t, res.Claim.Abnormal)

	_, err = e.reward.Transition(ctx, res.Claim.ID, models.ClaimTransitionRequest{To: models.ClaimCompleted})
	assert.ErrorIs(t, err, apperr.ErrAbnormalReview)

	got, err := e.reward.Transition(ctx, res.Claim.ID, models.ClaimTransitionRequest{To: models.ClaimVerified, AckAbnormal: true})
	require.NoError(t, err)
	assert.Equal(t, models.ClaimVerified, got.Claim.Status)

	// 却下は確認なしでもできる
	got, err = e.reward.Transition(ctx, res.Claim.ID, models.ClaimTransitionRequest{To: models.ClaimRejected})
	require.NoError(t, err)
	assert.Equal(t, models.ClaimRejected, got.Claim.Status)
}

func TestTransition_ConcurrentOnlyOneWins(t *testing.T) {
	e := newEngine(t)
	ctx := context.Background()
	c := e.finalized(t, map[string]int64{"A": 1000}, []string{"A"})
	res, err := e.reward.StartClaim(ctx, c.ID, "A")
	require.NoError(t, err)

	var wg sync.WaitGroup
	var mu sync.Mutex
	wins := 0
	for _, to := range []models.ClaimStatus{models.ClaimCompleted, models.ClaimRejected, models.ClaimCompleted, models.ClaimRejected} {
		wg.Add(1)
		go func(to models.ClaimStatus) {
			defer wg.Done()
			if _, err := e.reward.Transition(ctx, res.Claim.ID, models.ClaimTransitionRequest{To: to}); err == nil {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}(to)
	}
	wg.Wait()
	assert.Equal(t, 1, wins)
}
