package handlers

import (
	"net/http"
	"time"

	"github.com/decred/slog"
	"github.com/gorilla/mux"
	"github.com/progate-hackathon-strawberry-flavor/STRIDE-backend/internal/logger"
	"github.com/progate-hackathon-strawberry-flavor/STRIDE-backend/internal/models"
	"github.com/progate-hackathon-strawberry-flavor/STRIDE-backend/internal/services/contest"
)

// ContestHandler はコンテスト関連のハンドラーを管理する構造体です。
type ContestHandler struct {
	svc *contest.Service
	now func() time.Time
	log slog.Logger
}

// NewContestHandler は新しいContestHandlerインスタンスを作成します。now が nil なら time.Now を使います。
func NewContestHandler(svc *contest.Service, now func() time.Time, log slog.Logger) *ContestHandler {
	if now == nil {
		now = time.Now
	}
	return &ContestHandler{svc: svc, now: now, log: logger.OrDisabled(log)}
}

// List は参加受付中と参加済みのコンテストを返します。
// GET /api/contests
func (h *ContestHandler) List(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	items, err := h.svc.ListContests(r.Context(), userID)
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "contests": items})
}

// ListEnded は終了済みのコンテストを返します。
// GET /api/contests/ended?page=1&size=20
func (h *ContestHandler) ListEnded(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
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
	result, err := h.svc.ListEndedContests(r.Context(), userID, page, size)
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// Enroll は参加登録を行います。
// POST /api/contests/{id}/enroll
func (h *ContestHandler) Enroll(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	result, err := h.svc.Enroll(r.Context(), userID, mux.Vars(r)["id"])
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	status := http.StatusOK
	if result.Created {
		status = http.StatusCreated
	}
	writeJSON(w, status, result)
}

// Create はコンテストを作成します。
// POST /api/admin/contests
func (h *ContestHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req models.ContestCreateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, h.log, err)
		return
	}
	c, err := h.svc.CreateContest(r.Context(), req)
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusCreated, c)
}

// SetTiers は開始前のコンテストの賞品ティアを置き換えます。
// PUT /api/admin/contests/{id}/tiers
func (h *ContestHandler) SetTiers(w http.ResponseWriter, r *http.Request) {
	var tiers []models.PrizeTier
	if err := decodeJSON(r, &tiers); err != nil {
		writeError(w, h.log, err)
		return
	}
	if err := h.svc.SetPrizeTiers(r.Context(), mux.Vars(r)["id"], tiers); err != nil {
		writeError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "tiers": len(tiers)})
}

// Advance はライフサイクル更新を手動で1回実行します。
// POST /api/admin/lifecycle/advance
func (h *ContestHandler) Advance(w http.ResponseWriter, r *http.Request) {
	res, err := h.svc.AdvanceLifecycle(r.Context(), h.now())
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}
