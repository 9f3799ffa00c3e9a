// Package scheduler は定期的なライフサイクル更新と日次の順位確定を駆動します。
// 実際の処理は contest.Service の冪等なエントリーポイントに任せ、ここでは時刻の管理だけを行います。
package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/decred/slog"
	"github.com/progate-hackathon-strawberry-flavor/STRIDE-backend/internal/logger"
	"github.com/progate-hackathon-strawberry-flavor/STRIDE-backend/internal/services/contest"
	"golang.org/x/sync/errgroup"
)

// Lifecycle is the part of contest.Service the scheduler drives.
type Lifecycle interface {
	AdvanceLifecycle(ctx context.Context, now time.Time) (*contest.SweepResult, error)
	FinalizeDue(ctx context.Context, now time.Time) (*contest.SweepResult, error)
}

// Config は実行間隔と日次確定の時刻です。
type Config struct {
	SweepInterval time.Duration
	FinalizeHour  int
	FinalizeMin   int
	Location      *time.Location
}

// Scheduler runs the hourly sweep and the daily finalization pass until its context ends.
type Scheduler struct {
	lifecycle Lifecycle
	cfg       Config
	now       func() time.Time
	after     func(time.Duration) <-chan time.Time
	log       slog.Logger
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithClock replaces time.Now and time.After.
func WithClock(now func() time.Time, after func(time.Duration) <-chan time.Time) Option {
	return func(s *Scheduler) {
		s.now = now
		s.after = after
	}
}

// WithLogger sets the subsystem logger.
func WithLogger(l slog.Logger) Option {
	return func(s *Scheduler) { s.log = logger.OrDisabled(l) }
}

// New はSchedulerの新しいインスタンスを作成します。
func New(lc Lifecycle, cfg Config, opts ...Option) *Scheduler {
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = time.Hour
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	s := &Scheduler{lifecycle: lc, cfg: cfg, now: time.Now, after: time.After, log: slog.Disabled}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run は ctx がキャンセルされるまで2つのループを動かします。キャンセル時は nil を返します。
func (s *Scheduler) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return s.sweepLoop(gctx) })
	g.Go(func() error { return s.dailyLoop(gctx) })
	err := g.Wait()
	if ctx.Err() != nil {
		return nil
	}
	return err
}

// sweepLoop は起動直後に1回、その後は SweepInterval ごとに実行します。
// 1回の失敗ではループを止めず、次回の実行で再試行します。
func (s *Scheduler) sweepLoop(ctx context.Context) error {
	for {
		if _, err := s.RunOnce(ctx); err != nil && ctx.Err() == nil {
			s.log.Warnf("ライフサイクル更新に失敗しました。次回再試行します: %v", err)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.after(s.cfg.SweepInterval):
		}
	}
}

func (s *Scheduler) dailyLoop(ctx context.Context) error {
	for {
		now := s.now()
		next := NextDaily(now, s.cfg.Location, s.cfg.FinalizeHour, s.cfg.FinalizeMin)
		s.log.Debugf("次の日次確定: %s", next.Format(time.RFC3339))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.after(next.Sub(now)):
		}

		res, err := s.lifecycle.FinalizeDue(ctx, s.now())
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			s.log.Warnf("日次確定に失敗しました: %v", err)
			continue
		}
		s.log.Infof("日次確定: 成功 %d 件, 失敗 %d 件", res.Finalized, res.Failed)
	}
}

// RunOnce はライフサイクル更新を1回だけ実行します。管理者の手動実行にも使います。
func (s *Scheduler) RunOnce(ctx context.Context) (*contest.SweepResult, error) {
	res, err := s.lifecycle.AdvanceLifecycle(ctx, s.now())
	if err != nil {
		return nil, fmt.Errorf("ライフサイクル更新: %w", err)
	}
	return res, nil
}

// NextDaily returns the first local hour:min strictly after now.
func NextDaily(now time.Time, loc *time.Location, hour, minute int) time.Time {
	local := now.In(loc)
	next := time.Date(local.Year(), local.Month(), local.Day(), hour, minute, 0, 0, loc)
	if !next.After(local) {
		next = next.AddDate(0, 0, 1)
	}
	return next
}
