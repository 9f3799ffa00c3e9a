// Package leaderboard は順位表の表示とコンテスト終了後の順位確定を行います。
package leaderboard

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

const defaultAdminRows = 10

// Service は順位表のビジネスロジックです。
type Service struct {
	repos  database.Repositories
	cache  cache.LeaderboardCache
	policy Policy
	grace  time.Duration
	now    func() time.Time
	log    slog.Logger
}

// Option configures a Service.
type Option func(*Service)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithLogger sets the subsystem logger.
func WithLogger(l slog.Logger) Option {
	return func(s *Service) { s.log = logger.OrDisabled(l) }
}

// WithPolicy overrides DefaultPolicy.
func WithPolicy(p Policy) Option {
	return func(s *Service) { s.policy = p }
}

// NewService はServiceの新しいインスタンスを作成します。cがnilの場合はキャッシュしません。
func NewService(repos database.Repositories, c cache.LeaderboardCache, grace time.Duration, opts ...Option) *Service {
	if c == nil {
		c = cache.Noop{}
	}
	s := &Service{
		repos:  repos,
		cache:  c,
		policy: DefaultPolicy,
		grace:  grace,
		now:    time.Now,
		log:    slog.Disabled,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) getContest(ctx context.Context, id string) (*models.Contest, error) {
	if strings.TrimSpace(id) == "" {
		return nil, apperr.Validationf("contestID is required")
	}
	c, err := s.repos.Contests.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("コンテスト %s の取得に失敗しました: %w", id, err)
	}
	if c == nil {
		return nil, apperr.ErrContestNotFound
	}
	return c, nil
}

// GetLeaderboard は順位表の1ページを返します。確定済みなら保存された順位、未確定なら現在の歩数から計算した順位です。
// page は1始まりです。
func (s *Service) GetLeaderboard(ctx context.Context, contestID string, page, size int) (*models.LeaderboardPage, error) {
	page, size = contest.NormalizePage(page, size)
	if _, err := s.getContest(ctx, contestID); err != nil {
		return nil, err
	}

	if cached, ok, err := s.cache.GetPage(ctx, contestID, page, size); err != nil {
		s.log.Warnf("ランキングキャッシュの取得に失敗しました: %v", err)
	} else if ok {
		return cached, nil
	}

	frozen, err := s.repos.Leaderboards.Frozen(ctx, contestID)
	if err != nil {
		return nil, fmt.Errorf("ランキング確定状態の取得に失敗しました: %w", err)
	}

	offset := (page - 1) * size
	result := &models.LeaderboardPage{ContestID: contestID, Page: page, Size: size, Frozen: frozen != nil}
	var rows []models.LeaderboardRow
	if frozen != nil {
		// 1件多く取って次ページの有無を判定する
		rows, err = s.repos.Leaderboards.Rows(ctx, contestID, offset, size+1)
		if err != nil {
			return nil, fmt.Errorf("確定ランキングの取得に失敗しました: %w", err)
		}
		result.Total = frozen.RankedCount
	} else {
		rows, result.Total, err = s.livePage(ctx, contestID, offset, size+1)
		if err != nil {
			return nil, err
		}
	}

	if len(rows) > size {
		rows = rows[:size]
		result.HasMore = true
	}
	if rows == nil {
		rows = []models.LeaderboardRow{}
	}
	result.Rows = rows

	if err := s.cache.SetPage(ctx, result); err != nil {
		s.log.Warnf("ランキングキャッシュの保存に失敗しました: %v", err)
	}
	return result, nil
}

// livePage ranks one window of the current entries. The abnormal threshold always comes from the top of the board.
func (s *Service) livePage(ctx context.Context, contestID string, offset, limit int) ([]models.LeaderboardRow, int, error) {
	top, err := s.repos.Entries.Page(ctx, contestID, 0, max(s.policy.TopN, 1))
	if err != nil {
		return nil, 0, fmt.Errorf("上位エントリーの取得に失敗しました: %w", err)
	}
	threshold := s.policy.Threshold(top)

	entries, err := s.repos.Entries.Page(ctx, contestID, offset, limit)
	if err != nil {
		return nil, 0, fmt.Errorf("エントリーの取得に失敗しました: %w", err)
	}
	total, err := s.repos.Entries.Count(ctx, contestID)
	if err != nil {
		return nil, 0, fmt.Errorf("エントリー数の取得に失敗しました: %w", err)
	}

	rows := make([]models.LeaderboardRow, len(entries))
	for i, e := range entries {
		rows[i] = models.LeaderboardRow{
			Rank:       offset + i + 1,
			UserID:     e.UserID,
			Steps:      e.Steps,
			Abnormal:   e.Steps > threshold,
			EnrolledAt: e.EnrolledAt,
		}
	}
	return rows, total, nil
}

// GetMyRank はユーザーの順位を返します。エントリーが無ければ nil です。
func (s *Service) GetMyRank(ctx context.Context, contestID, userID string) (*models.MyRank, error) {
	if _, err := s.getContest(ctx, contestID); err != nil {
		return nil, err
	}
	frozen, err := s.repos.Leaderboards.Frozen(ctx, contestID)
	if err != nil {
		return nil, fmt.Errorf("ランキング確定状態の取得に失敗しました: %w", err)
	}
	if frozen != nil {
		row, err := s.repos.Leaderboards.Row(ctx, contestID, userID)
		if err != nil {
			return nil, fmt.Errorf("確定順位の取得に失敗しました: %w", err)
		}
		if row == nil {
			return nil, nil
		}
		return &models.MyRank{Rank: row.Rank, Steps: row.Steps, Frozen: true}, nil
	}

	rank, entry, err := s.repos.Entries.RankOf(ctx, contestID, userID)
	if err != nil {
		return nil, fmt.Errorf("順位の計算に失敗しました: %w", err)
	}
	if entry == nil {
		return nil, nil
	}
	return &models.MyRank{Rank: rank, Steps: entry.Steps}, nil
}

// Finalize はコンテストの順位を確定し、コンテストを FINALIZED にします。
// 確定済みのコンテストに対しては何も書かずに既存の結果を返します。
// 定期実行と管理者の手動実行が競合しても、保存されるのは先に書いた方の順位だけです。
func (s *Service) Finalize(ctx context.Context, contestID string) (*models.FinalizeResult, error) {
	c, err := s.getContest(ctx, contestID)
	if err != nil {
		return nil, err
	}
	frozen, err := s.repos.Leaderboards.Frozen(ctx, contestID)
	if err != nil {
		return nil, fmt.Errorf("ランキング確定状態の取得に失敗しました: %w", err)
	}
	if frozen != nil {
		return &models.FinalizeResult{OK: true, RankedCount: frozen.RankedCount, AlreadyFrozen: true}, nil
	}

	now := s.now()
	if now.Before(c.EndAt) {
		return nil, apperr.ErrContestNotEnded
	}
	if now.Before(contest.FinalizableAt(*c, s.grace)) {
		return nil, apperr.ErrGracePeriod
	}

	result := &models.FinalizeResult{OK: true}
	err = s.repos.Tx.WithinTx(ctx, func(ctx context.Context) error {
		entries, err := s.repos.Entries.ListByContest(ctx, contestID)
		if err != nil {
			return fmt.Errorf("エントリーの取得に失敗しました: %w", err)
		}
		rows, threshold := Rank(entries, s.policy)

		wrote, err := s.repos.Leaderboards.Freeze(ctx, models.FreezeInfo{
			ContestID:   contestID,
			Threshold:   threshold,
			RankedCount: len(rows),
			FrozenAt:    now,
		}, rows)
		if err != nil {
			return fmt.Errorf("ランキングの確定に失敗しました: %w", err)
		}
		if !wrote {
			// 他の実行が先に確定した。自分の計算は捨てる。
			existing, err := s.repos.Leaderboards.Frozen(ctx, contestID)
			if err != nil {
				return fmt.Errorf("ランキング確定状態の取得に失敗しました: %w", err)
			}
			result.AlreadyFrozen = true
			if existing != nil {
				result.RankedCount = existing.RankedCount
			}
			return nil
		}
		result.RankedCount = len(rows)

		if _, err := s.repos.Contests.MarkFinalized(ctx, contestID, now); err != nil {
			return fmt.Errorf("コンテスト状態の更新に失敗しました: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if !result.AlreadyFrozen {
		if err := s.cache.Invalidate(ctx, contestID); err != nil {
			s.log.Warnf("ランキングキャッシュの破棄に失敗しました: %v", err)
		}
		s.log.Infof("コンテスト %s の順位を確定しました (%d 件)", contestID, result.RankedCount)
	}
	return result, nil
}

// AdminRanking は管理画面向けに上位 topN 件と末尾 tail 件を返します。末尾は上位と重複しません。
func (s *Service) AdminRanking(ctx context.Context, contestID string, topN, tail int) (*models.AdminRanking, error) {
	c, err := s.getContest(ctx, contestID)
	if err != nil {
		return nil, err
	}
	if topN <= 0 {
		topN = defaultAdminRows
	}
	if tail < 0 {
		tail = 0
	}

	frozen, err := s.repos.Leaderboards.Frozen(ctx, contestID)
	if err != nil {
		return nil, fmt.Errorf("ランキング確定状態の取得に失敗しました: %w", err)
	}

	var rows []models.LeaderboardRow
	var threshold int64
	if frozen != nil {
		if rows, err = s.repos.Leaderboards.Rows(ctx, contestID, 0, 0); err != nil {
			return nil, fmt.Errorf("確定ランキングの取得に失敗しました: %w", err)
		}
		threshold = frozen.Threshold
	} else {
		entries, err := s.repos.Entries.ListByContest(ctx, contestID)
		if err != nil {
			return nil, fmt.Errorf("エントリーの取得に失敗しました: %w", err)
		}
		rows, threshold = Rank(entries, s.policy)
	}

	out := &models.AdminRanking{
		ContestID:    c.ID,
		ContestTitle: c.Title,
		TotalEntries: len(rows),
		Threshold:    threshold,
		Top:          []models.LeaderboardRow{},
		Tail:         []models.LeaderboardRow{},
	}
	n := min(topN, len(rows))
	out.Top = append(out.Top, rows[:n]...)
	from := max(n, len(rows)-tail)
	out.Tail = append(out.Tail, rows[from:]...)
	return out, nil
}
