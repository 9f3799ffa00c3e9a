package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/progate-hackathon-strawberry-flavor/STRIDE-backend/internal/api"
	"github.com/progate-hackathon-strawberry-flavor/STRIDE-backend/internal/api/handlers"
	"github.com/progate-hackathon-strawberry-flavor/STRIDE-backend/internal/api/middleware"
	"github.com/progate-hackathon-strawberry-flavor/STRIDE-backend/internal/cache"
	"github.com/progate-hackathon-strawberry-flavor/STRIDE-backend/internal/config"
	"github.com/progate-hackathon-strawberry-flavor/STRIDE-backend/internal/database"
	"github.com/progate-hackathon-strawberry-flavor/STRIDE-backend/internal/database/memory"
	"github.com/progate-hackathon-strawberry-flavor/STRIDE-backend/internal/logger"
	"github.com/progate-hackathon-strawberry-flavor/STRIDE-backend/internal/scheduler"
	"github.com/progate-hackathon-strawberry-flavor/STRIDE-backend/internal/services/contest"
	"github.com/progate-hackathon-strawberry-flavor/STRIDE-backend/internal/services/leaderboard"
	"github.com/progate-hackathon-strawberry-flavor/STRIDE-backend/internal/services/quota"
	"github.com/progate-hackathon-strawberry-flavor/STRIDE-backend/internal/services/reward"
	"github.com/progate-hackathon-strawberry-flavor/STRIDE-backend/internal/services/steps"
	"golang.org/x/sync/errgroup"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("設定の読み込みに失敗しました: %v", err)
	}

	backend := logger.New(os.Stdout, cfg.LogLevel)
	mainLog := backend.Logger(logger.Main)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, backend); err != nil {
		mainLog.Criticalf("サーバーが異常終了しました: %v", err)
		os.Exit(1)
	}
	mainLog.Infof("サーバーを停止しました")
}

func run(ctx context.Context, cfg *config.Config, backend *logger.Backend) error {
	mainLog := backend.Logger(logger.Main)
	pingers := map[string]handlers.Pinger{}

	// ストレージ。DATABASE_URL=memory ならプロセス内ストアを使う
	var repos database.Repositories
	if cfg.UseMemoryStore() {
		mainLog.Warnf("DATABASE_URL=%s: インメモリストアで起動します。再起動でデータは消えます", config.MemoryDatabase)
		repos = memory.New().Repositories()
	} else {
		db, err := database.NewDatabaseService(ctx, cfg.DatabaseURL, backend.Logger(logger.Database))
		if err != nil {
			return err
		}
		defer db.Close()
		if err := db.Migrate(ctx); err != nil {
			return err
		}
		repos = db.Repositories()
		pingers["database"] = db
	}

	// キャッシュは任意。繋がらなければ無効化して続行する
	var boardCache cache.LeaderboardCache = cache.Noop{}
	if cfg.RedisURL != "" {
		rc, err := cache.NewRedisCache(cfg.RedisURL, cfg.RedisPassword, cfg.LeaderboardCacheTTL)
		if err != nil {
			return err
		}
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err = rc.Ping(pingCtx)
		cancel()
		if err != nil {
			mainLog.Warnf("Redisに接続できません。キャッシュなしで起動します: %v", err)
			rc.Close()
		} else {
			defer rc.Close()
			boardCache = rc
			pingers["redis"] = rc
		}
	}

	quotaLedger := quota.NewLedger(repos, quota.Config{
		ReferralsPerPack:  cfg.ReferralsPerPack,
		ReferralPackQuota: cfg.ReferralPackQuota,
		SignupQuota:       cfg.SignupQuota,
		Location:          cfg.Location,
	}, quota.WithLogger(backend.Logger(logger.Quota)))

	stepOpts := []steps.Option{steps.WithLogger(backend.Logger(logger.Steps))}
	if cfg.StepProviderURL != "" {
		stepOpts = append(stepOpts, steps.WithSource(steps.NewHTTPSource(cfg.StepProviderURL, backend.Logger(logger.Steps))))
	}
	stepLedger := steps.NewLedger(repos, boardCache, steps.Config{
		Location:      cfg.Location,
		RetentionDays: cfg.StepRetentionDays,
		LookBack:      cfg.StepLookBack,
	}, stepOpts...)

	board := leaderboard.NewService(repos, boardCache, cfg.GracePeriod,
		leaderboard.WithLogger(backend.Logger(logger.Leaderboard)),
		leaderboard.WithPolicy(leaderboard.Policy{
			Floor:        cfg.AbnormalFloor,
			MedianFactor: cfg.AbnormalMedianFactor,
			TopN:         cfg.AbnormalTopN,
		}))
	contests := contest.NewService(repos, quotaLedger, board, cfg.GracePeriod,
		contest.WithLogger(backend.Logger(logger.Contest)))
	rewards := reward.NewService(repos, reward.WithLogger(backend.Logger(logger.Reward)))

	httpLog := backend.Logger(logger.HTTP)
	if cfg.BypassAuth {
		httpLog.Warnf("BYPASS_AUTH が有効です。X-User-ID ヘッダーをそのまま信用します")
	}
	router := api.NewRouter(api.Handlers{
		Public:      handlers.NewPublicHandler(pingers, httpLog),
		Contests:    handlers.NewContestHandler(contests, nil, httpLog),
		Steps:       handlers.NewStepsHandler(stepLedger, httpLog),
		Leaderboard: handlers.NewLeaderboardHandler(board, httpLog),
		Claims:      handlers.NewClaimHandler(rewards, httpLog),
		Quota:       handlers.NewQuotaHandler(quotaLedger, httpLog),
	}, middleware.NewAuth(cfg.JWTSecret, cfg.BypassAuth, httpLog), cfg.AllowedOrigins, httpLog)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	sched := scheduler.New(contests, scheduler.Config{
		SweepInterval: cfg.SweepInterval,
		FinalizeHour:  cfg.FinalizeHour,
		FinalizeMin:   cfg.FinalizeMin,
		Location:      cfg.Location,
	}, scheduler.WithLogger(backend.Logger(logger.Scheduler)))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		mainLog.Infof("Server starting on :%s", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		return sched.Run(gctx)
	})
	g.Go(func() error {
		<-gctx.Done()
		mainLog.Infof("シャットダウンしています...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
