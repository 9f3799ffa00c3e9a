package quota

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

var shanghai = time.FixedZone("CST", 8*3600)

func newLedger(t *testing.T, now time.Time) (*Ledger, database.Repositories) {
	t.Helper()
	repos := memory.New().Repositories()
	l := NewLedger(repos, Config{ReferralsPerPack: 3, ReferralPackQuota: 1, SignupQuota: 3, Location: shanghai},
		WithClock(func() time.Time { return now }))
	return l, repos
}

func TestConsumeOne_NoQuota(t *testing.T) {
	l, _ := newLedger(t, time.Date(2026, 5, 1, 10, 0, 0, 0, shanghai))
	err := l.ConsumeOne(context.Background(), "u1")
	assert.ErrorIs(t, err, apperr.ErrNoQuota)
	assert.Equal(t, apperr.KindConflict, apperr.KindOf(err))
}

func TestConsumeOne_ConcurrentNeverNegative(t *testing.T) {
	l, _ := newLedger(t, time.Date(2026, 5, 1, 10, 0, 0, 0, shanghai))
	ctx := context.Background()
	_, err := l.Grant(ctx, "u1", models.SourceMembership, 5, nil)
	require.NoError(t, err)

	var wg sync.WaitGroup
	var mu sync.Mutex
	ok, noQuota := 0, 0
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := l.ConsumeOne(ctx, "u1")
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				ok++
			} else if assert.ErrorIs(t, err, apperr.ErrNoQuota) {
				noQuota++
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 5, ok)
	assert.Equal(t, 15, noQuota)

	balance, err := l.Available(ctx, "u1")
	require.NoError(t, err)
	assert.Zero(t, balance.Available)
}

func TestGrant_Validation(t *testing.T) {
	now := time.Date(2026, 5, 1, 10, 0, 0, 0, shanghai)
	l, _ := newLedger(t, now)
	ctx := context.Background()
	past := now.Add(-time.Minute)

	tests := []struct {
		name    string
		user    string
		source  models.CreditSource
		qty     int
		expires *time.Time
	}{
		{"empty user", "", models.SourceSignup, 1, nil},
		{"unknown source", "u1", "lottery", 1, nil},
		{"zero quantity", "u1", models.SourceSignup, 0, nil},
		{"expired", "u1", models.SourceAdReward, 1, &past},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := l.Grant(ctx, tt.user, tt.source, tt.qty, tt.expires)
			assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))
		})
	}
}

func TestAvailable_IgnoresExpired(t *testing.T) {
	now := time.Date(2026, 5, 1, 10, 0, 0, 0, shanghai)
	l, repos := newLedger(t, now)
	ctx := context.Background()
	past := now.Add(-time.Hour)
	require.NoError(t, repos.Quota.Grant(ctx, &models.QuotaCredit{ID: "old", UserID: "u1", Source: models.SourceAdReward, Granted: 4, ExpiresAt: &past}))
	_, err := l.GrantMembership(ctx, "u1", models.TierVIP, 2)
	require.NoError(t, err)
	_, err = l.GrantAdReward(ctx, "u1")
	require.NoError(t, err)

	balance, err := l.Available(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 25, balance.Available)
	assert.Equal(t, 24, balance.BySource["membership"])
	assert.Equal(t, 1, balance.BySource["ad_reward"])
	assert.Equal(t, 1, balance.Multiplier)
}

func TestGrantMembership(t *testing.T) {
	now := time.Date(2026, 5, 1, 10, 0, 0, 0, shanghai)
	l, _ := newLedger(t, now)
	ctx := context.Background()

	c, err := l.GrantMembership(ctx, "u1", models.TierVIPPlus, 3)
	require.NoError(t, err)
	assert.Equal(t, 60, c.Granted)
	require.NotNil(t, c.ExpiresAt)
	assert.True(t, c.ExpiresAt.Equal(now.AddDate(0, 3, 0)))

	_, err = l.GrantMembership(ctx, "u1", "GOLD", 1)
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))
	_, err = l.GrantMembership(ctx, "u1", models.TierVIP, 0)
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))
}

func TestGrantAdReward_ExpiresAtLocalMidnight(t *testing.T) {
	now := time.Date(2026, 5, 1, 23, 30, 0, 0, shanghai)
	l, _ := newLedger(t, now)
	c, err := l.GrantAdReward(context.Background(), "u1")
	require.NoError(t, err)
	assert.True(t, c.ExpiresAt.Equal(time.Date(2026, 5, 2, 0, 0, 0, 0, shanghai)))
}

func TestGrantSignup_Once(t *testing.T) {
	l, _ := newLedger(t, time.Date(2026, 5, 1, 10, 0, 0, 0, shanghai))
	ctx := context.Background()

	granted, err := l.GrantSignup(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, granted)
	granted, err = l.GrantSignup(ctx, "u1")
	require.NoError(t, err)
	assert.False(t, granted)

	balance, err := l.Available(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 3, balance.Available)
}

func TestSyncReferralPacks_GrantsOnlyTheDifference(t *testing.T) {
	l, repos := newLedger(t, time.Date(2026, 5, 1, 10, 0, 0, 0, shanghai))
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_, err := l.Grant(ctx, "referrer", models.SourceReferral, 1, nil)
		require.NoError(t, err)
	}
	for i := 0; i < 9; i++ {
		_, _, err := repos.Referrals.CreateIfAbsent(ctx, &models.Referral{
			ID: fmt.Sprintf("r%d", i), ReferrerID: "referrer", RefereeID: fmt.Sprintf("friend-%d", i),
		})
		require.NoError(t, err)
	}

	granted, err := l.SyncReferralPacks(ctx, "referrer")
	require.NoError(t, err)
	assert.Equal(t, 1, granted)

	granted, err = l.SyncReferralPacks(ctx, "referrer")
	require.NoError(t, err)
	assert.Zero(t, granted)

	n, err := repos.Quota.CountBySource(ctx, "referrer", models.SourceReferral)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

func TestAcceptReferral(t *testing.T) {
	l, _ := newLedger(t, time.Date(2026, 5, 1, 10, 0, 0, 0, shanghai))
	ctx := context.Background()

	_, err := l.AcceptReferral(ctx, "u1", "u1")
	assert.ErrorIs(t, err, apperr.ErrSelfReferral)

	var packs int
	for i := 0; i < 3; i++ {
		res, err := l.AcceptReferral(ctx, "referrer", fmt.Sprintf("friend-%d", i))
		require.NoError(t, err)
		assert.True(t, res.Created)
		packs += res.PacksGranted
	}
	assert.Equal(t, 1, packs)

	// 2人目の紹介者は無視され、既存の関係が返る
	res, err := l.AcceptReferral(ctx, "someone-else", "friend-0")
	require.NoError(t, err)
	assert.False(t, res.Created)
	assert.Equal(t, "referrer", res.Referral.ReferrerID)

	mult, err := l.Multiplier(ctx, "referrer")
	require.NoError(t, err)
	assert.Equal(t, 2, mult)
}

func TestReferralMultiplier(t *testing.T) {
	for referrals, want := range map[int]int{0: 1, 2: 1, 3: 2, 5: 2, 6: 3, 40: 3} {
		assert.Equal(t, want, ReferralMultiplier(referrals), "referrals=%d", referrals)
	}
	assert.Equal(t, 3, PacksEarned(9, 3))
	assert.Zero(t, PacksEarned(2, 3))
	assert.Zero(t, PacksEarned(9, 0))
}
