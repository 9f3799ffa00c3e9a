package handlers

import (
	"net/http"

	"github.com/decred/slog"
	"github.com/progate-hackathon-strawberry-flavor/STRIDE-backend/internal/logger"
	"github.com/progate-hackathon-strawberry-flavor/STRIDE-backend/internal/models"
	"github.com/progate-hackathon-strawberry-flavor/STRIDE-backend/internal/services/steps"
)

// StepsHandler handles HTTP requests related to step uploads.
type StepsHandler struct {
	ledger *steps.Ledger
	log    slog.Logger
}

// NewStepsHandler creates a new instance of StepsHandler.
func NewStepsHandler(ledger *steps.Ledger, log slog.Logger) *StepsHandler {
	return &StepsHandler{ledger: ledger, log: logger.OrDisabled(log)}
}

// Upload は復号済みのサンプルを統合し、参加中コンテストの歩数を再計算します。
// POST /api/steps
func (h *StepsHandler) Upload(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	var req models.StepUploadRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, h.log, err)
		return
	}
	result, err := h.ledger.Ingest(r.Context(), userID, req.Samples)
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// UploadFromProvider はプロバイダーのトークンでサンプルを取得してから統合します。
// POST /api/steps/provider
func (h *StepsHandler) UploadFromProvider(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	var req models.ProviderUploadRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, h.log, err)
		return
	}
	result, err := h.ledger.IngestFromProvider(r.Context(), userID, req.Token)
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// Week は今週の歩数合計を返します。
// GET /api/me/steps/week
func (h *StepsHandler) Week(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	total, err := h.ledger.WeekSteps(r.Context(), userID)
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"weekSteps": total})
}
