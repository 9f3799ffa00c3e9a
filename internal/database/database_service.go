package database

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"net/url"
	"time"

	"github.com/decred/slog"
	_ "github.com/lib/pq" // PostgreSQLドライバー
	"github.com/progate-hackathon-strawberry-flavor/STRIDE-backend/internal/logger"
)

//go:embed schema.sql
var schemaSQL string

// DatabaseService provides methods for interacting with the database.
type DatabaseService struct {
	DB  *sql.DB
	log slog.Logger
}

// NewDatabaseService creates a new instance of DatabaseService and establishes a database connection.
func NewDatabaseService(ctx context.Context, databaseURL string, log slog.Logger) (*DatabaseService, error) {
	log = logger.OrDisabled(log)
	log.Infof("データベース接続を試行中: %s", redact(databaseURL))

	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		log.Errorf("sql.Openに失敗しました: %v", err)
		return nil, fmt.Errorf("データベースへの接続オブジェクト作成に失敗しました: %w", err)
	}
	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)

	// データベース接続の確認 (Ping)
	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		log.Errorf("db.Pingに失敗しました: %v", err)
		db.Close()
		return nil, classify(err, "データベースのPingに失敗しました。接続情報やネットワークを確認してください")
	}

	log.Infof("データベースに正常に接続しました。")
	return &DatabaseService{DB: db, log: log}, nil
}

// Migrate applies schema.sql. Every statement is idempotent.
func (s *DatabaseService) Migrate(ctx context.Context) error {
	if _, err := s.DB.ExecContext(ctx, schemaSQL); err != nil {
		return classify(err, "スキーマの適用に失敗しました")
	}
	s.log.Infof("スキーマを適用しました")
	return nil
}

// Repositories returns the Postgres implementation of every repository.
func (s *DatabaseService) Repositories() Repositories {
	return Repositories{
		Tx:           NewTxManager(s.DB),
		Contests:     NewContestRepository(s.DB),
		Entries:      NewEntryRepository(s.DB),
		Steps:        NewStepRepository(s.DB),
		Leaderboards: NewLeaderboardRepository(s.DB),
		Claims:       NewClaimRepository(s.DB),
		Verifiers:    NewVerifierRepository(s.DB),
		Quota:        NewQuotaRepository(s.DB),
		Referrals:    NewReferralRepository(s.DB),
	}
}

// Ping checks connectivity; used by the health endpoint.
func (s *DatabaseService) Ping(ctx context.Context) error {
	return classify(s.DB.PingContext(ctx), "データベースのPingに失敗しました")
}

func (s *DatabaseService) Close() error {
	return s.DB.Close()
}

// redact はログ出力用にパスワードを伏せたURLを返します。
func redact(databaseURL string) string {
	u, err := url.Parse(databaseURL)
	if err != nil || u.Host == "" {
		return "(unparsable url)"
	}
	return u.Redacted()
}
