package database

import (
	"context"
	"database/sql"
	"time"

	"github.com/progate-hackathon-strawberry-flavor/STRIDE-backend/internal/models"
)

// quotaRepositoryImpl はQuotaRepositoryインターフェースの実装です。
type quotaRepositoryImpl struct {
	db *sql.DB
}

// NewQuotaRepository はQuotaRepositoryの新しいインスタンスを作成します。
func NewQuotaRepository(db *sql.DB) QuotaRepository {
	return &quotaRepositoryImpl{db: db}
}

func (r *quotaRepositoryImpl) Grant(ctx context.Context, c *models.QuotaCredit) error {
	_, err := conn(ctx, r.db).ExecContext(ctx,
		`INSERT INTO quota_credits (id, user_id, source, granted, consumed, expires_at, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		c.ID, c.UserID, c.Source, c.Granted, c.Consumed, c.ExpiresAt, c.CreatedAt,
	)
	return classify(err, "クレジットの付与に失敗しました")
}

// ConsumeOne は読み取りと更新を1つの条件付きUPDATEで行います。
// consumed < granted の条件があるため、同時に実行されても残量が負になることはありません。
func (r *quotaRepositoryImpl) ConsumeOne(ctx context.Context, userID string, now time.Time) (bool, error) {
	res, err := conn(ctx, r.db).ExecContext(ctx,
		`UPDATE quota_credits SET consumed = consumed + 1
		 WHERE id = (
		     SELECT id FROM quota_credits
		     WHERE user_id = $1 AND consumed < granted AND (expires_at IS NULL OR expires_at > $2)
		     ORDER BY expires_at ASC NULLS LAST, created_at ASC, id ASC
		     LIMIT 1
		     FOR UPDATE
		 ) AND consumed < granted`,
		userID, now,
	)
	if err != nil {
		return false, classify(err, "クレジットの消費に失敗しました")
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

func (r *quotaRepositoryImpl) ListActive(ctx context.Context, userID string, now time.Time) ([]models.QuotaCredit, error) {
	rows, err := conn(ctx, r.db).QueryContext(ctx,
		`SELECT id, user_id, source, granted, consumed, expires_at, created_at FROM quota_credits
		 WHERE user_id = $1 AND (expires_at IS NULL OR expires_at > $2)
		 ORDER BY expires_at ASC NULLS LAST, created_at ASC, id ASC`,
		userID, now,
	)
	if err != nil {
		return nil, classify(err, "クレジット一覧の取得に失敗しました")
	}
	defer rows.Close()

	var credits []models.QuotaCredit
	for rows.Next() {
		var c models.QuotaCredit
		var expiresAt sql.NullTime
		if err := rows.Scan(&c.ID, &c.UserID, &c.Source, &c.Granted, &c.Consumed, &expiresAt, &c.CreatedAt); err != nil {
			return nil, classify(err, "クレジットのスキャンに失敗しました")
		}
		if expiresAt.Valid {
			t := expiresAt.Time
			c.ExpiresAt = &t
		}
		credits = append(credits, c)
	}
	if err := rows.Err(); err != nil {
		return nil, classify(err, "クレジット一覧のイテレーション中にエラーが発生しました")
	}
	return credits, nil
}

func (r *quotaRepositoryImpl) CountBySource(ctx context.Context, userID string, source models.CreditSource) (int, error) {
	var n int
	err := conn(ctx, r.db).QueryRowContext(ctx,
		`SELECT COUNT(*) FROM quota_credits WHERE user_id = $1 AND source = $2`, userID, source).Scan(&n)
	if err != nil {
		return 0, classify(err, "クレジット件数の取得に失敗しました")
	}
	return n, nil
}

// LockUser はトランザクション終了まで有効なアドバイザリロックを取ります。
// トランザクション外で呼ぶと即座に解放されるため、呼び出し側は WithinTx の中で使います。
func (r *quotaRepositoryImpl) LockUser(ctx context.Context, userID string) error {
	_, err := conn(ctx, r.db).ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext('quota:' || $1))`, userID)
	return classify(err, "クレジットのロック取得に失敗しました")
}
