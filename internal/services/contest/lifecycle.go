package contest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/progate-hackathon-strawberry-flavor/STRIDE-backend/internal/apperr"
)

// SweepResult summarizes one lifecycle pass.
type SweepResult struct {
	Started   int64 `json:"started"`
	Ended     int64 `json:"ended"`
	Finalized int   `json:"finalized"`
	Failed    int   `json:"failed"`
}

// AdvanceLifecycle は時刻だけで決まる遷移を一括適用し、猶予期間を過ぎたコンテストの確定を試みます。
// 何度呼んでも結果は同じです。確定に失敗したコンテストは FINALIZING のまま残り、次回の実行で再試行されます。
func (s *Service) AdvanceLifecycle(ctx context.Context, now time.Time) (*SweepResult, error) {
	started, ended, err := s.repos.Contests.AdvanceStatuses(ctx, now)
	if err != nil {
		return nil, fmt.Errorf("コンテスト状態の一括更新に失敗しました: %w", err)
	}
	if started > 0 || ended > 0 {
		s.log.Infof("ライフサイクル更新: 開始 %d 件, 終了 %d 件", started, ended)
	}

	res, err := s.FinalizeDue(ctx, now)
	if err != nil {
		return nil, err
	}
	res.Started, res.Ended = started, ended
	return res, nil
}

// FinalizeDue は猶予期間を過ぎた FINALIZING のコンテストを全て確定します。
// 1件の失敗で残りを止めません。
func (s *Service) FinalizeDue(ctx context.Context, now time.Time) (*SweepResult, error) {
	due, err := s.repos.Contests.ListFinalizable(ctx, now.Add(-s.grace))
	if err != nil {
		return nil, fmt.Errorf("確定対象コンテストの取得に失敗しました: %w", err)
	}

	res := &SweepResult{}
	for _, c := range due {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		out, err := s.finalizer.Finalize(ctx, c.ID)
		switch {
		case err == nil:
			if !out.AlreadyFrozen {
				res.Finalized++
			}
		case errors.Is(err, apperr.ErrGracePeriod), errors.Is(err, apperr.ErrContestNotEnded):
			s.log.Debugf("コンテスト %s はまだ確定できません: %v", c.ID, err)
		default:
			res.Failed++
			if apperr.IsTransient(err) {
				s.log.Warnf("コンテスト %s の確定に失敗しました。次回再試行します: %v", c.ID, err)
			} else {
				s.log.Errorf("コンテスト %s の確定に失敗しました: %v", c.ID, err)
			}
		}
	}
	if res.Finalized > 0 || res.Failed > 0 {
		s.log.Infof("確定処理: 成功 %d 件, 失敗 %d 件", res.Finalized, res.Failed)
	}
	return res, nil
}
