package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/decred/slog"
	"github.com/progate-hackathon-strawberry-flavor/STRIDE-backend/internal/logger"
)

// Pinger is a dependency the health check probes.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PublicHandler handles public API endpoints
type PublicHandler struct {
	deps map[string]Pinger
	log  slog.Logger
}

// NewPublicHandler creates a new instance of PublicHandler. A nil Pinger is skipped.
func NewPublicHandler(deps map[string]Pinger, log slog.Logger) *PublicHandler {
	h := &PublicHandler{deps: map[string]Pinger{}, log: logger.OrDisabled(log)}
	for name, p := range deps {
		if p != nil {
			h.deps[name] = p
		}
	}
	return h
}

// Health は依存先の疎通を確認します。
// GET /health
func (h *PublicHandler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	status := http.StatusOK
	checks := make(map[string]string, len(h.deps))
	for name, p := range h.deps {
		if err := p.Ping(ctx); err != nil {
			h.log.Warnf("ヘルスチェック %s に失敗しました: %v", name, err)
			checks[name] = err.Error()
			status = http.StatusServiceUnavailable
			continue
		}
		checks[name] = "ok"
	}
	writeJSON(w, status, map[string]any{"ok": status == http.StatusOK, "checks": checks})
}
