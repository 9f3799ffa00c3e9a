// migrate はスキーマを適用して接続を確認するだけのコマンドです。
package main

import (
	"context"
	"log"
	"os"
	"time"

	"github.com/progate-hackathon-strawberry-flavor/STRIDE-backend/internal/config"
	"github.com/progate-hackathon-strawberry-flavor/STRIDE-backend/internal/database"
	"github.com/progate-hackathon-strawberry-flavor/STRIDE-backend/internal/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("設定の読み込みに失敗しました: %v", err)
	}
	dbLog := logger.New(os.Stdout, cfg.LogLevel).Logger(logger.Database)

	if cfg.DatabaseURL == "" || cfg.UseMemoryStore() {
		dbLog.Criticalf("エラー: DATABASE_URL にPostgreSQLの接続先を設定してください")
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	db, err := database.NewDatabaseService(ctx, cfg.DatabaseURL, dbLog)
	if err != nil {
		dbLog.Criticalf("接続に失敗しました: %v", err)
		os.Exit(1)
	}
	defer db.Close()

	if err := db.Migrate(ctx); err != nil {
		dbLog.Criticalf("マイグレーションに失敗しました: %v", err)
		os.Exit(1)
	}
	if err := db.Ping(ctx); err != nil {
		dbLog.Criticalf("マイグレーション後のPingに失敗しました: %v", err)
		os.Exit(1)
	}
	dbLog.Infof("テスト成功: スキーマを適用しました")
}
