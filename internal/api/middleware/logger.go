package middleware

import (
	"net/http"
	"time"

	"github.com/decred/slog"
	"github.com/fatih/color"
	"github.com/google/uuid"
	"github.com/progate-hackathon-strawberry-flavor/STRIDE-backend/internal/logger"
)

var (
	statusOK     = color.New(color.FgGreen).SprintFunc()
	statusWarn   = color.New(color.FgYellow).SprintFunc()
	statusError  = color.New(color.FgRed).SprintFunc()
	statusOther  = color.New(color.FgCyan).SprintFunc()
	methodFormat = color.New(color.Bold).SprintFunc()
)

// RequestLogger は全てのHTTPリクエストを、ステータスの区分ごとに色を付けて記録します。
// リクエストIDを X-Request-ID ヘッダーで返します。
func RequestLogger(log slog.Logger) func(http.Handler) http.Handler {
	log = logger.OrDisabled(log)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			reqID := r.Header.Get("X-Request-ID")
			if reqID == "" {
				reqID = uuid.NewString()
			}
			w.Header().Set("X-Request-ID", reqID)

			// ステータスコードを取得するためのラッパー
			wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
			next.ServeHTTP(wrapped, r)

			line := "%s %s - %s - %v [%s]"
			args := []any{methodFormat(r.Method), r.URL.Path, colorStatus(wrapped.statusCode), time.Since(start), reqID}
			if wrapped.statusCode >= 500 {
				log.Errorf(line, args...)
			} else {
				log.Infof(line, args...)
			}
		})
	}
}

func colorStatus(code int) string {
	switch {
	case code >= 500:
		return statusError(code)
	case code >= 400:
		return statusWarn(code)
	case code >= 200 && code < 300:
		return statusOK(code)
	default:
		return statusOther(code)
	}
}

// responseWriter はステータスコードを記録します。
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}
