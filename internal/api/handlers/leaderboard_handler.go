package handlers

import (
	"net/http"

	"github.com/decred/slog"
	"github.com/gorilla/mux"
	"github.com/progate-hackathon-strawberry-flavor/STRIDE-backend/internal/logger"
	"github.com/progate-hackathon-strawberry-flavor/STRIDE-backend/internal/services/leaderboard"
)

// LeaderboardHandler はランキング関連のハンドラーを管理する構造体です。
type LeaderboardHandler struct {
	svc *leaderboard.Service
	log slog.Logger
}

// NewLeaderboardHandler は新しいLeaderboardHandlerインスタンスを作成します。
func NewLeaderboardHandler(svc *leaderboard.Service, log slog.Logger) *LeaderboardHandler {
	return &LeaderboardHandler{svc: svc, log: logger.OrDisabled(log)}
}

// Get はランキングの1ページを返します。
// GET /api/contests/{id}/leaderboard?page=1&size=20
func (h *LeaderboardHandler) Get(w http.ResponseWriter, r *http.Request) {
	page, err := queryInt(r, "page", 1)
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	size, err := queryInt(r, "size", 0)
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	result, err := h.svc.GetLeaderboard(r.Context(), mux.Vars(r)["id"], page, size)
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// Me は自分の順位を返します。参加していなければ rank は null です。
// GET /api/contests/{id}/leaderboard/me
func (h *LeaderboardHandler) Me(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	mine, err := h.svc.GetMyRank(r.Context(), mux.Vars(r)["id"], userID)
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"rank": mine})
}

// Finalize は猶予期間後のコンテストを確定します。
// POST /api/admin/contests/{id}/finalize
func (h *LeaderboardHandler) Finalize(w http.ResponseWriter, r *http.Request) {
	result, err := h.svc.Finalize(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// Admin は上位と下位の一覧を返します。
// GET /api/admin/contests/{id}/ranking?top=10&tail=10
func (h *LeaderboardHandler) Admin(w http.ResponseWriter, r *http.Request) {
	top, err := queryInt(r, "top", 10)
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	tail, err := queryInt(r, "tail", 10)
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	result, err := h.svc.AdminRanking(r.Context(), mux.Vars(r)["id"], top, tail)
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}
