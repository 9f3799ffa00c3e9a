// Package config loads process configuration from the environment.
package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata" // コンテナにzoneinfoが無い場合のため

	"github.com/joho/godotenv"
)

// MemoryDatabase is the DATABASE_URL value that selects the in-process store.
const MemoryDatabase = "memory"

// Config はサーバー全体の設定値です。
type Config struct {
	AppEnv string
	Port   string

	DatabaseURL   string
	RedisURL      string
	RedisPassword string

	JWTSecret  string
	BypassAuth bool

	// Location は全ての日付計算(ローカル日の開始、週の開始)に使うタイムゾーンです。
	Location *time.Location

	GracePeriod   time.Duration
	SweepInterval time.Duration
	FinalizeHour  int
	FinalizeMin   int

	StepRetentionDays int
	StepLookBack      time.Duration

	AbnormalFloor        int64
	AbnormalMedianFactor int64
	AbnormalTopN         int

	ReferralsPerPack  int
	ReferralPackQuota int
	SignupQuota       int

	LeaderboardCacheTTL time.Duration
	StepProviderURL     string
	LogLevel            string

	// AllowedOrigins はCORSで許可するフロントエンドのオリジンです。
	AllowedOrigins []string
}

// Load reads .env (outside production) and then the process environment.
func Load() (*Config, error) {
	appEnv := os.Getenv("APP_ENV")
	if appEnv != "production" {
		if err := godotenv.Load(); err != nil {
			log.Printf("warning: Error loading .env file (this is fine in production): %v", err)
		}
	}

	cfg := &Config{
		AppEnv:        appEnv,
		Port:          getString("PORT", "8080"),
		DatabaseURL:   os.Getenv("DATABASE_URL"),
		RedisURL:      os.Getenv("REDIS_URL"),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),
		JWTSecret:     os.Getenv("JWT_SECRET"),

		StepProviderURL: os.Getenv("STEP_PROVIDER_URL"),
		LogLevel:        getString("LOG_LEVEL", "info"),
		AllowedOrigins:  getList("CORS_ORIGINS", "http://localhost:3000"),
	}

	var err error
	if cfg.BypassAuth, err = getBool("BYPASS_AUTH", false); err != nil {
		return nil, err
	}

	tzName := getString("TZ_NAME", "Asia/Shanghai")
	if cfg.Location, err = time.LoadLocation(tzName); err != nil {
		return nil, fmt.Errorf("TZ_NAME %q の読み込みに失敗しました: %w", tzName, err)
	}

	durations := []struct {
		key  string
		def  time.Duration
		dest *time.Duration
	}{
		{"GRACE_PERIOD", 24 * time.Hour, &cfg.GracePeriod},
		{"SWEEP_INTERVAL", time.Hour, &cfg.SweepInterval},
		{"STEP_LOOKBACK", 24 * time.Hour, &cfg.StepLookBack},
		{"LEADERBOARD_CACHE_TTL", time.Minute, &cfg.LeaderboardCacheTTL},
	}
	for _, d := range durations {
		if *d.dest, err = getDuration(d.key, d.def); err != nil {
			return nil, err
		}
	}

	ints := []struct {
		key  string
		def  int
		dest *int
	}{
		{"STEP_RETENTION_DAYS", 35, &cfg.StepRetentionDays},
		{"ABNORMAL_TOP_N", 10, &cfg.AbnormalTopN},
		{"REFERRALS_PER_PACK", 3, &cfg.ReferralsPerPack},
		{"REFERRAL_PACK_QUOTA", 1, &cfg.ReferralPackQuota},
		{"SIGNUP_QUOTA", 3, &cfg.SignupQuota},
	}
	for _, i := range ints {
		if *i.dest, err = getInt(i.key, i.def); err != nil {
			return nil, err
		}
	}

	floor, err := getInt("ABNORMAL_FLOOR", 100000)
	if err != nil {
		return nil, err
	}
	factor, err := getInt("ABNORMAL_MEDIAN_FACTOR", 3)
	if err != nil {
		return nil, err
	}
	cfg.AbnormalFloor, cfg.AbnormalMedianFactor = int64(floor), int64(factor)

	if cfg.FinalizeHour, cfg.FinalizeMin, err = parseClock(getString("FINALIZE_AT", "21:55")); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks values that would make the engine misbehave.
func (c *Config) Validate() error {
	if c.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL 環境変数が設定されていません")
	}
	if c.JWTSecret == "" && !c.BypassAuth {
		return fmt.Errorf("JWT_SECRET 環境変数が設定されていません")
	}
	if c.GracePeriod < 0 {
		return fmt.Errorf("GRACE_PERIOD must not be negative")
	}
	if c.SweepInterval <= 0 {
		return fmt.Errorf("SWEEP_INTERVAL must be positive")
	}
	if c.StepRetentionDays <= 0 {
		return fmt.Errorf("STEP_RETENTION_DAYS must be positive")
	}
	if c.ReferralsPerPack <= 0 || c.ReferralPackQuota <= 0 {
		return fmt.Errorf("REFERRALS_PER_PACK and REFERRAL_PACK_QUOTA must be positive")
	}
	if c.AbnormalTopN <= 0 || c.AbnormalMedianFactor <= 0 {
		return fmt.Errorf("ABNORMAL_TOP_N and ABNORMAL_MEDIAN_FACTOR must be positive")
	}
	return nil
}

// UseMemoryStore reports whether the in-process store was requested.
func (c *Config) UseMemoryStore() bool {
	return c.DatabaseURL == MemoryDatabase
}

func getString(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

// getList splits a comma separated value, dropping empty items.
func getList(key, def string) []string {
	var out []string
	for _, v := range strings.Split(getString(key, def), ",") {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}

func getInt(key string, def int) (int, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s の値が不正です (%q): %w", key, v, err)
	}
	return n, nil
}

func getBool(key string, def bool) (bool, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("%s の値が不正です (%q): %w", key, v, err)
	}
	return b, nil
}

func getDuration(key string, def time.Duration) (time.Duration, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s の値が不正です (%q): %w", key, v, err)
	}
	return d, nil
}

// parseClock parses "HH:MM".
func parseClock(v string) (int, int, error) {
	t, err := time.Parse("15:04", v)
	if err != nil {
		return 0, 0, fmt.Errorf("FINALIZE_AT の値が不正です (%q): %w", v, err)
	}
	return t.Hour(), t.Minute(), nil
}
