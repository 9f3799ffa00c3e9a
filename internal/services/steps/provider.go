package steps

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/decred/slog"
	"github.com/progate-hackathon-strawberry-flavor/STRIDE-backend/internal/apperr"
	"github.com/progate-hackathon-strawberry-flavor/STRIDE-backend/internal/logger"
	"github.com/progate-hackathon-strawberry-flavor/STRIDE-backend/internal/models"
)

// HTTPSource は歩数プロバイダーのゲートウェイを呼び出します。
// ゲートウェイは暗号化されたペイロードを復号し、{"samples":[{"timestamp":..,"step":..}]} を返します。
type HTTPSource struct {
	endpoint   string
	httpClient *http.Client
	log        slog.Logger
}

// NewHTTPSource creates a source that POSTs tokens to baseURL + "/samples".
func NewHTTPSource(baseURL string, log slog.Logger) *HTTPSource {
	return &HTTPSource{
		endpoint:   strings.TrimRight(baseURL, "/") + "/samples",
		httpClient: &http.Client{Timeout: 30 * time.Second},
		log:        logger.OrDisabled(log),
	}
}

type providerRequest struct {
	Token string `json:"token"`
}

type providerResponse struct {
	Samples []models.StepSample `json:"samples"`
	Error   string              `json:"error,omitempty"`
}

// FetchDecryptedSamples はトークンに対応する復号済みサンプルを取得します。
func (s *HTTPSource) FetchDecryptedSamples(ctx context.Context, token string) ([]models.StepSample, error) {
	requestBody, err := json.Marshal(providerRequest{Token: token})
	if err != nil {
		return nil, fmt.Errorf("リクエストボディのJSONエンコードに失敗しました: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader(requestBody))
	if err != nil {
		return nil, fmt.Errorf("HTTPリクエストの作成に失敗しました: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		s.log.Warnf("プロバイダーへのリクエスト送信に失敗しました: %v", err)
		return nil, apperr.Wrap(apperr.KindTransient, "provider_unavailable", err, "HTTPリクエストの送信に失敗しました")
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return nil, apperr.Wrap(apperr.KindTransient, "provider_unavailable", err, "レスポンスボディの読み込みに失敗しました")
	}

	var parsed providerResponse
	_ = json.Unmarshal(body, &parsed)

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
		return nil, apperr.New(apperr.KindTransient, "provider_unavailable",
			fmt.Sprintf("プロバイダーからエラーレスポンスが返されました (ステータス: %d)", resp.StatusCode))
	default:
		msg := parsed.Error
		if msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		return nil, apperr.Validationf("provider rejected token (status %d): %s", resp.StatusCode, msg)
	}

	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("JSONレスポンスのパースに失敗しました: %w", err)
	}
	s.log.Debugf("プロバイダーから %d 件のサンプルを取得しました", len(parsed.Samples))
	return parsed.Samples, nil
}
