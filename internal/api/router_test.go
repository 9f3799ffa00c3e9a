package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/progate-hackathon-strawberry-flavor/STRIDE-backend/internal/api/handlers"
	"github.com/progate-hackathon-strawberry-flavor/STRIDE-backend/internal/api/middleware"
	"github.com/progate-hackathon-strawberry-flavor/STRIDE-backend/internal/database/memory"
	"github.com/progate-hackathon-strawberry-flavor/STRIDE-backend/internal/models"
	"github.com/progate-hackathon-strawberry-flavor/STRIDE-backend/internal/services/contest"
	"github.com/progate-hackathon-strawberry-flavor/STRIDE-backend/internal/services/leaderboard"
	"github.com/progate-hackathon-strawberry-flavor/STRIDE-backend/internal/services/quota"
	"github.com/progate-hackathon-strawberry-flavor/STRIDE-backend/internal/services/reward"
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

type failingPinger struct{}

func (failingPinger) Ping(context.Context) error { return errors.New("connection refused") }

type server struct {
	h     http.Handler
	clock *clock
}

func newServer(t *testing.T, auth *middleware.Auth, deps map[string]handlers.Pinger) *server {
	t.Helper()
	repos := memory.New().Repositories()
	clk := &clock{t: day0.Add(4 * time.Hour)}
	grace := 24 * time.Hour

	ql := quota.NewLedger(repos, quota.Config{Location: cst, SignupQuota: 3, ReferralsPerPack: 3, ReferralPackQuota: 5}, quota.WithClock(clk.Now))
	sl := steps.NewLedger(repos, nil, steps.Config{Location: cst, RetentionDays: 35, LookBack: 24 * time.Hour}, steps.WithClock(clk.Now))
	board := leaderboard.NewService(repos, nil, grace, leaderboard.WithClock(clk.Now))
	cs := contest.NewService(repos, ql, board, grace, contest.WithClock(clk.Now))
	rs := reward.NewService(repos, reward.WithClock(clk.Now))

	if auth == nil {
		auth = middleware.NewAuth("", true, nil)
	}
	h := NewRouter(Handlers{
		Public:      handlers.NewPublicHandler(deps, nil),
		Contests:    handlers.NewContestHandler(cs, clk.Now, nil),
		Steps:       handlers.NewStepsHandler(sl, nil),
		Leaderboard: handlers.NewLeaderboardHandler(board, nil),
		Claims:      handlers.NewClaimHandler(rs, nil),
		Quota:       handlers.NewQuotaHandler(ql, nil),
	}, auth, []string{"http://localhost:3000"}, nil)
	return &server{h: h, clock: clk}
}

// do sends a request as user (X-User-ID) and decodes the JSON response into out when given.
func (s *server) do(t *testing.T, method, path, user string, admin bool, body any, out any) int {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if user != "" {
		req.Header.Set("X-User-ID", user)
	}
	if admin {
		req.Header.Set("X-User-Role", middleware.RoleAdmin)
	}
	rec := httptest.NewRecorder()
	s.h.ServeHTTP(rec, req)
	if out != nil {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), out), rec.Body.String())
	}
	return rec.Code
}

func TestHealth(t *testing.T) {
	s := newServer(t, nil, nil)
	var body struct {
		OK bool `json:"ok"`
	}
	assert.Equal(t, http.StatusOK, s.do(t, http.MethodGet, "/health", "", false, nil, &body))
	assert.True(t, body.OK)

	s = newServer(t, nil, map[string]handlers.Pinger{"database": failingPinger{}, "redis": nil})
	var down struct {
		OK     bool              `json:"ok"`
		Checks map[string]string `json:"checks"`
	}
	assert.Equal(t, http.StatusServiceUnavailable, s.do(t, http.MethodGet, "/health", "", false, nil, &down))
	assert.False(t, down.OK)
	assert.Equal(t, "connection refused", down.Checks["database"])
	assert.NotContains(t, down.Checks, "redis")
}

func TestContestFlowOverHTTP(t *testing.T) {
	s := newServer(t, nil, nil)

	create := models.ContestCreateRequest{
		Title:   "朝活チャレンジ",
		StartAt: day0.Add(6 * time.Hour),
		EndAt:   day0.Add(23 * time.Hour),
		Tiers: []models.PrizeTier{
			{RankStart: 1, RankEnd: 1, Value: decimal.NewFromInt(100)},
			{RankStart: 2, RankEnd: 3, Value: decimal.NewFromInt(20)},
		},
	}
	assert.Equal(t, http.StatusForbidden, s.do(t, http.MethodPost, "/api/admin/contests", "A", false, create, nil))

	var c models.Contest
	require.Equal(t, http.StatusCreated, s.do(t, http.MethodPost, "/api/admin/contests", "admin", true, create, &c))
	require.NotEmpty(t, c.ID)
	assert.Equal(t, models.ContestScheduled, c.Status)

	// 参加枠が無ければ参加できない
	s.clock.Set(day0.Add(5 * time.Hour))
	var failure struct {
		Code string `json:"code"`
	}
	assert.Equal(t, http.StatusConflict, s.do(t, http.MethodPost, "/api/contests/"+c.ID+"/enroll", "A", false, nil, &failure))
	assert.Equal(t, "no_quota", failure.Code)

	for _, user := range []string{"A", "B"} {
		var signup struct {
			Granted bool `json:"granted"`
		}
		require.Equal(t, http.StatusOK, s.do(t, http.MethodPost, "/api/me/signup", user, false, nil, &signup))
		assert.True(t, signup.Granted)
		require.Equal(t, http.StatusCreated, s.do(t, http.MethodPost, "/api/contests/"+c.ID+"/enroll", user, false, nil, nil))
	}
	var again models.EnrollResult
	assert.Equal(t, http.StatusOK, s.do(t, http.MethodPost, "/api/contests/"+c.ID+"/enroll", "A", false, nil, &again))
	assert.False(t, again.Created)

	var bal models.QuotaBalance
	require.Equal(t, http.StatusOK, s.do(t, http.MethodGet, "/api/me/quota", "A", false, nil, &bal))
	assert.Equal(t, 2, bal.Available)

	s.clock.Set(day0.Add(12 * time.Hour))
	require.Equal(t, http.StatusOK, s.do(t, http.MethodPost, "/api/admin/lifecycle/advance", "admin", true, nil, nil))

	upload := func(user string, total int64) {
		var res models.IngestResult
		require.Equal(t, http.StatusOK, s.do(t, http.MethodPost, "/api/steps", user, false, models.StepUploadRequest{
			Samples: []models.StepSample{
				{Timestamp: day0.Add(8 * time.Hour).Unix(), Step: total},
			},
		}, &res))
		assert.Equal(t, total, res.RecomputedEntries[c.ID])
	}
	upload("A", 9000)
	upload("B", 12000)

	var page models.LeaderboardPage
	require.Equal(t, http.StatusOK, s.do(t, http.MethodGet, "/api/contests/"+c.ID+"/leaderboard?page=1&size=10", "A", false, nil, &page))
	require.Len(t, page.Rows, 2)
	assert.Equal(t, "B", page.Rows[0].UserID)
	assert.False(t, page.Frozen)

	var mine struct {
		Rank *models.MyRank `json:"rank"`
	}
	require.Equal(t, http.StatusOK, s.do(t, http.MethodGet, "/api/contests/"+c.ID+"/leaderboard/me", "C", false, nil, &mine))
	assert.Nil(t, mine.Rank)

	assert.Equal(t, http.StatusBadRequest, s.do(t, http.MethodGet, "/api/contests/"+c.ID+"/leaderboard?page=x", "A", false, nil, nil))

	// 終了直後は猶予期間中
	s.clock.Set(day0.Add(23*time.Hour + time.Minute))
	assert.Equal(t, http.StatusConflict, s.do(t, http.MethodPost, "/api/admin/contests/"+c.ID+"/finalize", "admin", true, nil, nil))

	s.clock.Set(day0.Add(47*time.Hour + time.Minute))
	var fin models.FinalizeResult
	require.Equal(t, http.StatusOK, s.do(t, http.MethodPost, "/api/admin/contests/"+c.ID+"/finalize", "admin", true, nil, &fin))
	assert.True(t, fin.OK)

	var claim models.ClaimResult
	require.Equal(t, http.StatusCreated, s.do(t, http.MethodPost, "/api/contests/"+c.ID+"/claim", "A", false, nil, &claim))
	assert.Equal(t, 2, claim.Claim.Rank)
	assert.True(t, claim.Claim.PrizeValue.Equal(decimal.NewFromInt(20)))

	// 他人のクレームは見えない。管理者は見える
	assert.Equal(t, http.StatusNotFound, s.do(t, http.MethodGet, "/api/claims/"+claim.Claim.ID, "B", false, nil, nil))
	assert.Equal(t, http.StatusOK, s.do(t, http.MethodGet, "/api/claims/"+claim.Claim.ID, "admin", true, nil, nil))

	var done models.ClaimResult
	require.Equal(t, http.StatusOK, s.do(t, http.MethodPost, "/api/admin/claims/"+claim.Claim.ID+"/transition", "admin", true,
		models.ClaimTransitionRequest{To: models.ClaimCompleted}, &done))
	assert.Equal(t, models.ClaimCompleted, done.Claim.Status)
	assert.Equal(t, http.StatusConflict, s.do(t, http.MethodPost, "/api/admin/claims/"+claim.Claim.ID+"/transition", "admin", true,
		models.ClaimTransitionRequest{To: models.ClaimRejected}, nil))

	var list struct {
		Claims []models.PrizeClaim `json:"claims"`
	}
	require.Equal(t, http.StatusOK, s.do(t, http.MethodGet, "/api/me/claims", "A", false, nil, &list))
	require.Len(t, list.Claims, 1)
	assert.Equal(t, models.ClaimCompleted, list.Claims[0].Status)
}

func TestQuotaEndpoints(t *testing.T) {
	s := newServer(t, nil, nil)

	var failure struct {
		Code string `json:"code"`
	}
	assert.Equal(t, http.StatusBadRequest, s.do(t, http.MethodPost, "/api/me/referral", "A", false,
		models.ReferralAcceptRequest{ReferrerID: "A"}, &failure))
	assert.Equal(t, "self_referral", failure.Code)

	var ref models.ReferralResult
	assert.Equal(t, http.StatusCreated, s.do(t, http.MethodPost, "/api/me/referral", "B", false,
		models.ReferralAcceptRequest{ReferrerID: "A"}, &ref))
	assert.True(t, ref.Created)

	require.Equal(t, http.StatusCreated, s.do(t, http.MethodPost, "/api/me/ad-reward", "B", false, nil, nil))
	var bal models.QuotaBalance
	require.Equal(t, http.StatusOK, s.do(t, http.MethodGet, "/api/me/quota", "B", false, nil, &bal))
	assert.Equal(t, 1, bal.Available)

	assert.Equal(t, http.StatusForbidden, s.do(t, http.MethodPost, "/api/admin/membership", "B", false,
		models.MembershipGrantRequest{UserID: "B", Tier: models.TierVIP, Months: 1}, nil))

	assert.Equal(t, http.StatusBadRequest, s.do(t, http.MethodPost, "/api/admin/verifiers", "admin", true,
		map[string]string{"name": ""}, nil))
	var v models.Verifier
	require.Equal(t, http.StatusCreated, s.do(t, http.MethodPost, "/api/admin/verifiers", "admin", true,
		map[string]string{"name": "佐藤", "contactId": "cs-01"}, &v))
	assert.True(t, v.Active)
}

func TestAuthWithJWT(t *testing.T) {
	const secret = "test-secret"
	s := newServer(t, middleware.NewAuth(secret, false, nil), nil)

	sign := func(claims jwt.MapClaims) string {
		tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
		require.NoError(t, err)
		return tok
	}
	call := func(path, token string) int {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
		rec := httptest.NewRecorder()
		s.h.ServeHTTP(rec, req)
		return rec.Code
	}

	exp := time.Now().Add(time.Hour).Unix()
	assert.Equal(t, http.StatusUnauthorized, call("/api/me/quota", ""))
	assert.Equal(t, http.StatusUnauthorized, call("/api/me/quota", "garbage"))
	assert.Equal(t, http.StatusUnauthorized, call("/api/me/quota", sign(jwt.MapClaims{"exp": exp})))
	assert.Equal(t, http.StatusOK, call("/api/me/quota", sign(jwt.MapClaims{"sub": "A", "exp": exp})))
	assert.Equal(t, http.StatusForbidden, call("/api/admin/contests/x/ranking", sign(jwt.MapClaims{"sub": "A", "exp": exp})))
	assert.Equal(t, http.StatusNotFound, call("/api/admin/contests/x/ranking", sign(jwt.MapClaims{"sub": "A", "role": "admin", "exp": exp})))

	// health は認証不要
	assert.Equal(t, http.StatusOK, call("/health", ""))
}

func TestCORSPreflight(t *testing.T) {
	s := newServer(t, nil, nil)
	req := httptest.NewRequest(http.MethodOptions, "/api/me/quota", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	req.Header.Set("Access-Control-Request-Method", http.MethodGet)
	rec := httptest.NewRecorder()
	s.h.ServeHTTP(rec, req)
	assert.Equal(t, "http://localhost:3000", rec.Header().Get("Access-Control-Allow-Origin"))
}
