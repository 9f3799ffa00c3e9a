// Package quota は参加クレジットの台帳です。
// 付与元は membership / referral / ad_reward / signup で、消費は常に1単位ずつ原子的に行います。
package quota

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/decred/slog"
	"github.com/google/uuid"
	"github.com/progate-hackathon-strawberry-flavor/STRIDE-backend/internal/apperr"
	"github.com/progate-hackathon-strawberry-flavor/STRIDE-backend/internal/database"
	"github.com/progate-hackathon-strawberry-flavor/STRIDE-backend/internal/logger"
	"github.com/progate-hackathon-strawberry-flavor/STRIDE-backend/internal/models"
)

// Config holds the bookkeeping knobs.
type Config struct {
	ReferralsPerPack  int
	ReferralPackQuota int
	SignupQuota       int
	Location          *time.Location
}

// Ledger はクレジットの付与と消費を行います。
type Ledger struct {
	repos database.Repositories
	cfg   Config
	now   func() time.Time
	log   slog.Logger
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

// NewLedger はLedgerの新しいインスタンスを作成します。
func NewLedger(repos database.Repositories, cfg Config, opts ...Option) *Ledger {
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.ReferralsPerPack <= 0 {
		cfg.ReferralsPerPack = 3
	}
	if cfg.ReferralPackQuota <= 0 {
		cfg.ReferralPackQuota = 1
	}
	l := &Ledger{repos: repos, cfg: cfg, now: time.Now, log: slog.Disabled}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// ConsumeOne は期限の近いクレジットから1つ消費します。無ければ apperr.ErrNoQuota を返します。
// 呼び出し側のトランザクションがあればそれに参加します。
func (l *Ledger) ConsumeOne(ctx context.Context, userID string) error {
	return l.repos.Tx.WithinTx(ctx, func(ctx context.Context) error {
		if err := l.repos.Quota.LockUser(ctx, userID); err != nil {
			return err
		}
		ok, err := l.repos.Quota.ConsumeOne(ctx, userID, l.now())
		if err != nil {
			return fmt.Errorf("クレジットの消費に失敗しました: %w", err)
		}
		if !ok {
			return apperr.ErrNoQuota
		}
		l.log.Debugf("ユーザー %s のクレジットを1つ消費しました", userID)
		return nil
	})
}

// Grant はクレジットを追加します。同じ付与元からの付与も統合せず、新しい行として追加します。
func (l *Ledger) Grant(ctx context.Context, userID string, source models.CreditSource, qty int, expiresAt *time.Time) (*models.QuotaCredit, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, apperr.Validationf("userID is required")
	}
	if !source.Valid() {
		return nil, apperr.Validationf("unknown credit source %q", source)
	}
	if qty <= 0 {
		return nil, apperr.Validationf("quantity must be positive, got %d", qty)
	}
	now := l.now()
	if expiresAt != nil && !expiresAt.After(now) {
		return nil, apperr.Validationf("expiry %s is in the past", expiresAt.Format(time.RFC3339))
	}

	c := &models.QuotaCredit{
		ID:        uuid.NewString(),
		UserID:    userID,
		Source:    source,
		Granted:   qty,
		ExpiresAt: expiresAt,
		CreatedAt: now,
	}
	if err := l.repos.Quota.Grant(ctx, c); err != nil {
		return nil, fmt.Errorf("クレジットの付与に失敗しました: %w", err)
	}
	l.log.Infof("ユーザー %s に %s のクレジットを %d 付与しました", userID, source, qty)
	return c, nil
}

// Available は有効期限内のクレジット残量を返します。
func (l *Ledger) Available(ctx context.Context, userID string) (*models.QuotaBalance, error) {
	credits, err := l.repos.Quota.ListActive(ctx, userID, l.now())
	if err != nil {
		return nil, fmt.Errorf("クレジット一覧の取得に失敗しました: %w", err)
	}
	now := l.now()
	balance := &models.QuotaBalance{UserID: userID, BySource: map[string]int{}}
	for _, c := range credits {
		if c.Consumed > c.Granted {
			l.log.Errorf("クレジット %s の消費数が付与数を超えています (%d > %d)", c.ID, c.Consumed, c.Granted)
			return nil, fmt.Errorf("%w: credit %s", apperr.ErrNegativeBalance, c.ID)
		}
		n := c.Available(now)
		balance.Available += n
		balance.BySource[string(c.Source)] += n
	}

	balance.Multiplier, err = l.Multiplier(ctx, userID)
	if err != nil {
		return nil, err
	}
	return balance, nil
}

// GrantMembership はメンバーシップ購入分のクレジットを付与します。期限は購入期間の終わりです。
func (l *Ledger) GrantMembership(ctx context.Context, userID string, tier models.MembershipTier, months int) (*models.QuotaCredit, error) {
	perMonth := tier.MonthlyQuota()
	if perMonth == 0 {
		return nil, apperr.Validationf("unknown membership tier %q", tier)
	}
	if months <= 0 {
		return nil, apperr.Validationf("months must be positive, got %d", months)
	}
	expiresAt := l.now().AddDate(0, months, 0)
	return l.Grant(ctx, userID, models.SourceMembership, perMonth*months, &expiresAt)
}

// GrantAdReward は広告視聴の報酬として、当日中(ローカル時刻)有効なクレジットを1つ付与します。
func (l *Ledger) GrantAdReward(ctx context.Context, userID string) (*models.QuotaCredit, error) {
	expiresAt := EndOfDay(l.now(), l.cfg.Location)
	return l.Grant(ctx, userID, models.SourceAdReward, 1, &expiresAt)
}

// GrantSignup は新規登録時のクレジットを1回だけ付与します。付与済みなら false を返します。
func (l *Ledger) GrantSignup(ctx context.Context, userID string) (bool, error) {
	if l.cfg.SignupQuota <= 0 {
		return false, nil
	}
	granted := false
	err := l.repos.Tx.WithinTx(ctx, func(ctx context.Context) error {
		if err := l.repos.Quota.LockUser(ctx, userID); err != nil {
			return err
		}
		n, err := l.repos.Quota.CountBySource(ctx, userID, models.SourceSignup)
		if err != nil {
			return fmt.Errorf("登録クレジットの確認に失敗しました: %w", err)
		}
		if n > 0 {
			return nil
		}
		if _, err := l.Grant(ctx, userID, models.SourceSignup, l.cfg.SignupQuota, nil); err != nil {
			return err
		}
		granted = true
		return nil
	})
	return granted, err
}

// EndOfDay returns the first instant of the next local day.
func EndOfDay(now time.Time, loc *time.Location) time.Time {
	local := now.In(loc)
	return time.Date(local.Year(), local.Month(), local.Day()+1, 0, 0, 0, 0, loc)
}
