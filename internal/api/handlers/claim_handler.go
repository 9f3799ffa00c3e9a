package handlers

import (
	"net/http"

	"github.com/decred/slog"
	"github.com/gorilla/mux"
	"github.com/progate-hackathon-strawberry-flavor/STRIDE-backend/internal/api/middleware"
	"github.com/progate-hackathon-strawberry-flavor/STRIDE-backend/internal/apperr"
	"github.com/progate-hackathon-strawberry-flavor/STRIDE-backend/internal/logger"
	"github.com/progate-hackathon-strawberry-flavor/STRIDE-backend/internal/models"
	"github.com/progate-hackathon-strawberry-flavor/STRIDE-backend/internal/services/reward"
)

// ClaimHandler は賞品受け取り関連のハンドラーを管理する構造体です。
type ClaimHandler struct {
	svc *reward.Service
	log slog.Logger
}

// NewClaimHandler は新しいClaimHandlerインスタンスを作成します。
func NewClaimHandler(svc *reward.Service, log slog.Logger) *ClaimHandler {
	return &ClaimHandler{svc: svc, log: logger.OrDisabled(log)}
}

// Start は受け取りを開始します。既にあれば既存のクレームを200で返します。
// POST /api/contests/{id}/claim
func (h *ClaimHandler) Start(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	result, err := h.svc.StartClaim(r.Context(), mux.Vars(r)["id"], userID)
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

// Get はクレームの詳細を返します。管理者は他人のクレームも参照できます。
// GET /api/claims/{claimID}
func (h *ClaimHandler) Get(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	if middleware.IsAdmin(r.Context()) {
		userID = ""
	}
	result, err := h.svc.GetClaim(r.Context(), mux.Vars(r)["claimID"], userID)
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// ListMine は自分のクレーム一覧を返します。
// GET /api/me/claims
func (h *ClaimHandler) ListMine(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	claims, err := h.svc.ListClaims(r.Context(), userID)
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"claims": claims})
}

// Transition は状態を遷移させます。
// POST /api/admin/claims/{claimID}/transition
func (h *ClaimHandler) Transition(w http.ResponseWriter, r *http.Request) {
	var req models.ClaimTransitionRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, h.log, err)
		return
	}
	result, err := h.svc.Transition(r.Context(), mux.Vars(r)["claimID"], req)
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// AssignVerifier は担当者を割り当て直します。
// PUT /api/admin/claims/{claimID}/verifier
func (h *ClaimHandler) AssignVerifier(w http.ResponseWriter, r *http.Request) {
	var req struct {
		VerifierID string `json:"verifierId"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, h.log, err)
		return
	}
	if req.VerifierID == "" {
		writeError(w, h.log, apperr.Validationf("verifierId is required"))
		return
	}
	result, err := h.svc.AssignVerifier(r.Context(), mux.Vars(r)["claimID"], req.VerifierID)
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// CreateVerifier は担当者を登録します。
// POST /api/admin/verifiers
func (h *ClaimHandler) CreateVerifier(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name      string `json:"name"`
		ContactID string `json:"contactId"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, h.log, err)
		return
	}
	v, err := h.svc.CreateVerifier(r.Context(), req.Name, req.ContactID)
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusCreated, v)
}
