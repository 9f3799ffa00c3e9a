package handlers

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"

	"github.com/decred/slog"
	"github.com/progate-hackathon-strawberry-flavor/STRIDE-backend/internal/api/middleware"
	"github.com/progate-hackathon-strawberry-flavor/STRIDE-backend/internal/apperr"
)

// errorBody はエラーレスポンスのJSONです。
type errorBody struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// StatusFor maps an error kind to its HTTP status.
func StatusFor(err error) int {
	switch apperr.KindOf(err) {
	case apperr.KindValidation:
		return http.StatusBadRequest
	case apperr.KindConflict:
		return http.StatusConflict
	case apperr.KindNotFound:
		return http.StatusNotFound
	case apperr.KindTransient:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError は分類済みのエラーをそのまま返します。分類されていないエラーは内容を隠してログに残します。
func writeError(w http.ResponseWriter, log slog.Logger, err error) {
	status := StatusFor(err)
	body := errorBody{Error: err.Error(), Code: apperr.CodeOf(err)}
	if status >= http.StatusInternalServerError {
		log.Errorf("リクエストの処理に失敗しました: %v", err)
		if status == http.StatusInternalServerError {
			body.Error = "内部エラーが発生しました"
		}
	}
	writeJSON(w, status, body)
}

func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, 4<<20))
	if err := dec.Decode(v); err != nil {
		return apperr.Validationf("無効なリクエストボディです: %v", err)
	}
	return nil
}

// requireUser は認証済みのユーザーIDを返します。無ければ401を書いて false を返します。
func requireUser(w http.ResponseWriter, r *http.Request) (string, bool) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		writeJSON(w, http.StatusUnauthorized, errorBody{Error: "authentication required", Code: "unauthorized"})
		return "", false
	}
	return userID, true
}

// queryInt parses an optional integer query parameter.
func queryInt(r *http.Request, key string, def int) (int, error) {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, apperr.Validationf("%s must be an integer, got %q", key, v)
	}
	return n, nil
}
