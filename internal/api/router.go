// Package api はHTTPルーティングを組み立てます。
package api

import (
	"net/http"

	"github.com/decred/slog"
	"github.com/gorilla/mux"
	"github.com/progate-hackathon-strawberry-flavor/STRIDE-backend/internal/api/handlers"
	"github.com/progate-hackathon-strawberry-flavor/STRIDE-backend/internal/api/middleware"
)

// Handlers bundles every handler the router mounts.
type Handlers struct {
	Public      *handlers.PublicHandler
	Contests    *handlers.ContestHandler
	Steps       *handlers.StepsHandler
	Leaderboard *handlers.LeaderboardHandler
	Claims      *handlers.ClaimHandler
	Quota       *handlers.QuotaHandler
}

// NewRouter はミドルウェアとルートを設定したルーターを返します。
func NewRouter(h Handlers, auth *middleware.Auth, origins []string, log slog.Logger) http.Handler {
	r := mux.NewRouter()
	r.Use(middleware.RequestLogger(log))

	// 認証不要
	r.HandleFunc("/health", h.Public.Health).Methods(http.MethodGet)

	// 認証が必要なルートグループ
	protected := r.PathPrefix("/api").Subrouter()
	protected.Use(auth.Middleware)

	protected.HandleFunc("/contests", h.Contests.List).Methods(http.MethodGet)
	protected.HandleFunc("/contests/ended", h.Contests.ListEnded).Methods(http.MethodGet)
	protected.HandleFunc("/contests/{id}/enroll", h.Contests.Enroll).Methods(http.MethodPost)
	protected.HandleFunc("/contests/{id}/leaderboard", h.Leaderboard.Get).Methods(http.MethodGet)
	protected.HandleFunc("/contests/{id}/leaderboard/me", h.Leaderboard.Me).Methods(http.MethodGet)
	protected.HandleFunc("/contests/{id}/claim", h.Claims.Start).Methods(http.MethodPost)
	protected.HandleFunc("/claims/{claimID}", h.Claims.Get).Methods(http.MethodGet)

	protected.HandleFunc("/steps", h.Steps.Upload).Methods(http.MethodPost)
	protected.HandleFunc("/steps/provider", h.Steps.UploadFromProvider).Methods(http.MethodPost)

	protected.HandleFunc("/me/steps/week", h.Steps.Week).Methods(http.MethodGet)
	protected.HandleFunc("/me/quota", h.Quota.Balance).Methods(http.MethodGet)
	protected.HandleFunc("/me/signup", h.Quota.Signup).Methods(http.MethodPost)
	protected.HandleFunc("/me/referral", h.Quota.Referral).Methods(http.MethodPost)
	protected.HandleFunc("/me/ad-reward", h.Quota.AdReward).Methods(http.MethodPost)
	protected.HandleFunc("/me/claims", h.Claims.ListMine).Methods(http.MethodGet)

	admin := protected.PathPrefix("/admin").Subrouter()
	admin.Use(middleware.RequireAdmin)

	admin.HandleFunc("/contests", h.Contests.Create).Methods(http.MethodPost)
	admin.HandleFunc("/contests/{id}/tiers", h.Contests.SetTiers).Methods(http.MethodPut)
	admin.HandleFunc("/contests/{id}/finalize", h.Leaderboard.Finalize).Methods(http.MethodPost)
	admin.HandleFunc("/contests/{id}/ranking", h.Leaderboard.Admin).Methods(http.MethodGet)
	admin.HandleFunc("/lifecycle/advance", h.Contests.Advance).Methods(http.MethodPost)
	admin.HandleFunc("/claims/{claimID}/transition", h.Claims.Transition).Methods(http.MethodPost)
	admin.HandleFunc("/claims/{claimID}/verifier", h.Claims.AssignVerifier).Methods(http.MethodPut)
	admin.HandleFunc("/verifiers", h.Claims.CreateVerifier).Methods(http.MethodPost)
	admin.HandleFunc("/membership", h.Quota.Membership).Methods(http.MethodPost)

	return middleware.CORSHandler(origins)(r)
}
