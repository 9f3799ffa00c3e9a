// Package steps は歩数系列の統合と、参加中コンテストのエントリー歩数の再計算を行います。
package steps

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/decred/slog"
	"github.com/progate-hackathon-strawberry-flavor/STRIDE-backend/internal/apperr"
	"github.com/progate-hackathon-strawberry-flavor/STRIDE-backend/internal/cache"
	"github.com/progate-hackathon-strawberry-flavor/STRIDE-backend/internal/database"
	"github.com/progate-hackathon-strawberry-flavor/STRIDE-backend/internal/logger"
	"github.com/progate-hackathon-strawberry-flavor/STRIDE-backend/internal/models"
	"github.com/progate-hackathon-strawberry-flavor/STRIDE-backend/internal/services/contest"
)

// SampleSource は外部プロバイダーのトークンから復号済みのサンプルを取得します。
type SampleSource interface {
	FetchDecryptedSamples(ctx context.Context, token string) ([]models.StepSample, error)
}

// Config holds the window settings.
type Config struct {
	Location      *time.Location
	RetentionDays int
	LookBack      time.Duration
}

// Ledger は歩数系列の唯一の書き込み口です。
type Ledger struct {
	repos  database.Repositories
	cache  cache.LeaderboardCache
	source SampleSource
	cfg    Config
	now    func() time.Time
	log    slog.Logger
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) { l.now = now }
}

// WithLogger sets the subsystem logger.
func WithLogger(lg slog.Logger) Option {
	return func(l *Ledger) { l.log = logger.OrDisabled(lg) }
}

// WithSource sets the provider adapter used by IngestFromProvider.
func WithSource(src SampleSource) Option {
	return func(l *Ledger) { l.source = src }
}

// NewLedger はLedgerの新しいインスタンスを作成します。
func NewLedger(repos database.Repositories, c cache.LeaderboardCache, cfg Config, opts ...Option) *Ledger {
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.RetentionDays <= 0 {
		cfg.RetentionDays = 35
	}
	if c == nil {
		c = cache.Noop{}
	}
	l := &Ledger{repos: repos, cache: c, cfg: cfg, now: time.Now, log: slog.Disabled}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Ingest はサンプルを統合し、参加中コンテストのエントリー歩数を再計算します。
// 系列の読み込みから保存、再計算までを1トランザクションで行い、同じユーザーの同時アップロードは行ロックで直列化されます。
func (l *Ledger) Ingest(ctx context.Context, userID string, samples []models.StepSample) (*models.IngestResult, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, apperr.Validationf("userID is required")
	}
	for _, s := range samples {
		if s.Timestamp <= 0 || s.Step < 0 {
			return nil, apperr.Validationf("invalid sample (timestamp=%d, step=%d)", s.Timestamp, s.Step)
		}
	}

	now := l.now()
	cutoff := RetentionCutoff(now, l.cfg.Location, l.cfg.RetentionDays).Unix()
	result := &models.IngestResult{RecomputedEntries: map[string]int64{}}

	err := l.repos.Tx.WithinTx(ctx, func(ctx context.Context) error {
		existing, err := l.repos.Steps.LoadForUpdate(ctx, userID)
		if err != nil {
			return fmt.Errorf("歩数系列の取得に失敗しました: %w", err)
		}
		merged := Merge(existing, samples, cutoff)
		if err := l.repos.Steps.Save(ctx, userID, merged, now); err != nil {
			return fmt.Errorf("歩数系列の保存に失敗しました: %w", err)
		}
		result.Retained = len(merged)

		return l.recompute(ctx, userID, merged, now, result.RecomputedEntries)
	})
	if err != nil {
		return nil, err
	}

	if len(result.RecomputedEntries) > 0 {
		ids := make([]string, 0, len(result.RecomputedEntries))
		for id := range result.RecomputedEntries {
			ids = append(ids, id)
		}
		if err := l.cache.Invalidate(ctx, ids...); err != nil {
			l.log.Warnf("ランキングキャッシュの破棄に失敗しました: %v", err)
		}
	}
	l.log.Debugf("ユーザー %s: %d 件受信, %d 件保持, 再計算 %d 件", userID, len(samples), result.Retained, len(result.RecomputedEntries))
	return result, nil
}

// recompute は開始済みかつ未確定のコンテストだけを対象にします。猶予期間中(FINALIZING)の遅延同期もここで反映されます。
func (l *Ledger) recompute(ctx context.Context, userID string, series []models.StepSample, now time.Time, out map[string]int64) error {
	entries, err := l.repos.Entries.ListByUser(ctx, userID)
	if err != nil {
		return fmt.Errorf("参加中エントリーの取得に失敗しました: %w", err)
	}
	for _, e := range entries {
		c, err := l.repos.Contests.Get(ctx, e.ContestID)
		if err != nil {
			return fmt.Errorf("コンテスト %s の取得に失敗しました: %w", e.ContestID, err)
		}
		if c == nil {
			continue
		}
		phase := contest.Phase(now, *c)
		if phase != models.ContestOngoing && phase != models.ContestFinalizing {
			continue
		}
		frozen, err := l.repos.Leaderboards.Frozen(ctx, c.ID)
		if err != nil {
			return fmt.Errorf("ランキング確定状態の取得に失敗しました: %w", err)
		}
		if frozen != nil {
			continue
		}

		from, to := ContestWindow(*c, l.cfg.LookBack)
		total := SumWindow(series, from, to)
		if total == e.Steps {
			continue
		}
		if err := l.repos.Entries.UpdateSteps(ctx, e.ID, total, now); err != nil {
			return fmt.Errorf("エントリー %s の歩数更新に失敗しました: %w", e.ID, err)
		}
		out[c.ID] = total
	}
	return nil
}

// IngestFromProvider はプロバイダーのトークンでサンプルを取得してから Ingest します。
func (l *Ledger) IngestFromProvider(ctx context.Context, userID, token string) (*models.IngestResult, error) {
	if strings.TrimSpace(token) == "" {
		return nil, apperr.Validationf("provider token is required")
	}
	if l.source == nil {
		return nil, apperr.New(apperr.KindInvariant, "provider_not_configured", "step provider is not configured")
	}
	samples, err := l.source.FetchDecryptedSamples(ctx, token)
	if err != nil {
		return nil, fmt.Errorf("プロバイダーからの歩数取得に失敗しました: %w", err)
	}
	return l.Ingest(ctx, userID, samples)
}

// WeekSteps は今週(ローカル時刻の月曜0時から)の歩数合計です。
func (l *Ledger) WeekSteps(ctx context.Context, userID string) (int64, error) {
	samples, err := l.repos.Steps.Load(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("歩数系列の取得に失敗しました: %w", err)
	}
	now := l.now()
	return SumWindow(samples, StartOfWeek(now, l.cfg.Location), now.Add(time.Second)), nil
}
