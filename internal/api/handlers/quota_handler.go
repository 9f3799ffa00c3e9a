package handlers

import (
	"net/http"

	"github.com/decred/slog"
	"github.com/progate-hackathon-strawberry-flavor/STRIDE-backend/internal/logger"
	"github.com/progate-hackathon-strawberry-flavor/STRIDE-backend/internal/models"
	"github.com/progate-hackathon-strawberry-flavor/STRIDE-backend/internal/services/quota"
)

// QuotaHandler は参加枠関連のハンドラーを管理する構造体です。
type QuotaHandler struct {
	ledger *quota.Ledger
	log    slog.Logger
}

func NewQuotaHandler(ledger *quota.Ledger, log slog.Logger) *QuotaHandler {
	return &QuotaHandler{ledger: ledger, log: logger.OrDisabled(log)}
}

// Balance は利用可能な参加枠を返します。
// GET /api/me/quota
func (h *QuotaHandler) Balance(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	bal, err := h.ledger.Available(r.Context(), userID)
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, bal)
}

// Signup は初回登録の参加枠を付与します。2回目以降は granted=false です。
// POST /api/me/signup
func (h *QuotaHandler) Signup(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	granted, err := h.ledger.GrantSignup(r.Context(), userID)
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"granted": granted})
}

// Referral は紹介を受け入れます。
// POST /api/me/referral
func (h *QuotaHandler) Referral(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	var req models.ReferralAcceptRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, h.log, err)
		return
	}
	result, err := h.ledger.AcceptReferral(r.Context(), req.ReferrerID, userID)
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

// AdReward は広告視聴の参加枠を付与します。当日限り有効です。
// POST /api/me/ad-reward
func (h *QuotaHandler) AdReward(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	credit, err := h.ledger.GrantAdReward(r.Context(), userID)
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusCreated, credit)
}

// Membership は会員特典の参加枠を付与します。
// POST /api/admin/membership
func (h *QuotaHandler) Membership(w http.ResponseWriter, r *http.Request) {
	var req models.MembershipGrantRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, h.log, err)
		return
	}
	credit, err := h.ledger.GrantMembership(r.Context(), req.UserID, req.Tier, req.Months)
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusCreated, credit)
}
