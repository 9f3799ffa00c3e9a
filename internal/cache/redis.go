// Package cache はランキングページのキャッシュです。
// 確定前のページはTTL付きで保存し、歩数の再計算で破棄します。確定後のページは不変なのでTTLを付けません。
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/progate-hackathon-strawberry-flavor/STRIDE-backend/internal/models"
)

const (
	liveKeyPrefix   = "leaderboard:live:"
	frozenKeyPrefix = "leaderboard:frozen:"
)

// LeaderboardCache stores rendered leaderboard pages per contest.
type LeaderboardCache interface {
	// GetPage reports false on a miss.
	GetPage(ctx context.Context, contestID string, page, size int) (*models.LeaderboardPage, bool, error)
	SetPage(ctx context.Context, p *models.LeaderboardPage) error
	// Invalidate drops the live pages of a contest. Frozen pages are kept.
	Invalidate(ctx context.Context, contestIDs ...string) error
}

// RedisCache keeps one hash per contest, one field per (page, size).
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisCache accepts either a redis:// URL or a bare host:port address.
func NewRedisCache(addr, password string, ttl time.Duration) (*RedisCache, error) {
	opts := &redis.Options{Addr: addr, Password: password}
	if strings.Contains(addr, "://") {
		parsed, err := redis.ParseURL(addr)
		if err != nil {
			return nil, fmt.Errorf("REDIS_URL のパースに失敗しました: %w", err)
		}
		if password != "" {
			parsed.Password = password
		}
		opts = parsed
	}
	return &RedisCache{client: redis.NewClient(opts), ttl: ttl}, nil
}

func (c *RedisCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *RedisCache) Close() error {
	return c.client.Close()
}

func (c *RedisCache) GetPage(ctx context.Context, contestID string, page, size int) (*models.LeaderboardPage, bool, error) {
	field := pageField(page, size)
	// 確定済みを先に見る。確定後はliveキーが書かれないため。
	for _, key := range []string{frozenKeyPrefix + contestID, liveKeyPrefix + contestID} {
		raw, err := c.client.HGet(ctx, key, field).Bytes()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			return nil, false, fmt.Errorf("ランキングキャッシュの取得に失敗しました: %w", err)
		}
		var p models.LeaderboardPage
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, false, fmt.Errorf("ランキングキャッシュのデコードに失敗しました: %w", err)
		}
		return &p, true, nil
	}
	return nil, false, nil
}

func (c *RedisCache) SetPage(ctx context.Context, p *models.LeaderboardPage) error {
	raw, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("ランキングキャッシュのマーシャルに失敗しました: %w", err)
	}

	if p.Frozen {
		return c.client.HSet(ctx, frozenKeyPrefix+p.ContestID, pageField(p.Page, p.Size), raw).Err()
	}

	key := liveKeyPrefix + p.ContestID
	_, err = c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key, pageField(p.Page, p.Size), raw)
		pipe.Expire(ctx, key, c.ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("ランキングキャッシュの保存に失敗しました: %w", err)
	}
	return nil
}

func (c *RedisCache) Invalidate(ctx context.Context, contestIDs ...string) error {
	if len(contestIDs) == 0 {
		return nil
	}
	keys := make([]string, len(contestIDs))
	for i, id := range contestIDs {
		keys[i] = liveKeyPrefix + id
	}
	if err := c.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("ランキングキャッシュの破棄に失敗しました: %w", err)
	}
	return nil
}

func pageField(page, size int) string {
	return fmt.Sprintf("%d:%d", page, size)
}

// Noop is used when Redis is not configured.
type Noop struct{}

func (Noop) GetPage(context.Context, string, int, int) (*models.LeaderboardPage, bool, error) {
	return nil, false, nil
}

func (Noop) SetPage(context.Context, *models.LeaderboardPage) error { return nil }

func (Noop) Invalidate(context.Context, ...string) error { return nil }
