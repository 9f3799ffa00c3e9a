package database

import (
	"context"
	"database/sql"

	"github.com/progate-hackathon-strawberry-flavor/STRIDE-backend/internal/models"
)

type referralRepositoryImpl struct {
	db *sql.DB
}

// NewReferralRepository はReferralRepositoryの新しいインスタンスを作成します。
func NewReferralRepository(db *sql.DB) ReferralRepository {
	return &referralRepositoryImpl{db: db}
}

func (r *referralRepositoryImpl) CreateIfAbsent(ctx context.Context, ref *models.Referral) (*models.Referral, bool, error) {
	q := conn(ctx, r.db)
	res, err := q.ExecContext(ctx,
		`INSERT INTO referrals (id, referrer_id, referee_id, created_at) VALUES ($1, $2, $3, $4)
		 ON CONFLICT (referee_id) DO NOTHING`,
		ref.ID, ref.ReferrerID, ref.RefereeID, ref.CreatedAt,
	)
	if err != nil {
		return nil, false, classify(err, "紹介関係の作成に失敗しました")
	}
	if n, _ := res.RowsAffected(); n > 0 {
		created := *ref
		return &created, true, nil
	}

	var existing models.Referral
	err = q.QueryRowContext(ctx,
		`SELECT id, referrer_id, referee_id, created_at FROM referrals WHERE referee_id = $1`, ref.RefereeID,
	).Scan(&existing.ID, &existing.ReferrerID, &existing.RefereeID, &existing.CreatedAt)
	if err != nil {
		return nil, false, classify(err, "既存の紹介関係の取得に失敗しました")
	}
	return &existing, false, nil
}

func (r *referralRepositoryImpl) CountByReferrer(ctx context.Context, referrerID string) (int, error) {
	var n int
	err := conn(ctx, r.db).QueryRowContext(ctx,
		`SELECT COUNT(*) FROM referrals WHERE referrer_id = $1`, referrerID).Scan(&n)
	if err != nil {
		return 0, classify(err, "紹介数の取得に失敗しました")
	}
	return n, nil
}
