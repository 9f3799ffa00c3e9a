package database

import (
	"context"
	"database/sql"
	"time"

	"github.com/progate-hackathon-strawberry-flavor/STRIDE-backend/internal/models"
)

// claimRepositoryImpl はClaimRepositoryインターフェースの実装です。
type claimRepositoryImpl struct {
	db *sql.DB
}

// NewClaimRepository はClaimRepositoryの新しいインスタンスを作成します。
func NewClaimRepository(db *sql.DB) ClaimRepository {
	return &claimRepositoryImpl{db: db}
}

const claimColumns = `id, contest_id, user_id, rank, steps, abnormal, prize_value, status, verifier_id, note, created_at, updated_at`

func scanClaim(row rowScanner) (*models.PrizeClaim, error) {
	var c models.PrizeClaim
	var verifierID sql.NullString
	err := row.Scan(&c.ID, &c.ContestID, &c.UserID, &c.Rank, &c.Steps, &c.Abnormal, &c.PrizeValue,
		&c.Status, &verifierID, &c.Note, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if verifierID.Valid {
		v := verifierID.String
		c.VerifierID = &v
	}
	return &c, nil
}

// CreateIfAbsent は (contest_id, user_id) のユニーク制約で二重クレームを防ぎます。
func (r *claimRepositoryImpl) CreateIfAbsent(ctx context.Context, c *models.PrizeClaim) (*models.PrizeClaim, bool, error) {
	res, err := conn(ctx, r.db).ExecContext(ctx,
		`INSERT INTO prize_claims (`+claimColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		 ON CONFLICT (contest_id, user_id) DO NOTHING`,
		c.ID, c.ContestID, c.UserID, c.Rank, c.Steps, c.Abnormal, c.PrizeValue,
		c.Status, c.VerifierID, c.Note, c.CreatedAt, c.UpdatedAt,
	)
	if err != nil {
		return nil, false, classify(err, "賞品クレームの作成に失敗しました")
	}
	if n, _ := res.RowsAffected(); n > 0 {
		created := *c
		return &created, true, nil
	}

	existing, err := r.GetByUser(ctx, c.ContestID, c.UserID)
	if err != nil {
		return nil, false, err
	}
	return existing, false, nil
}

func (r *claimRepositoryImpl) Get(ctx context.Context, id string) (*models.PrizeClaim, error) {
	return r.one(ctx, `SELECT `+claimColumns+` FROM prize_claims WHERE id = $1`, id)
}

func (r *claimRepositoryImpl) GetByUser(ctx context.Context, contestID, userID string) (*models.PrizeClaim, error) {
	return r.one(ctx, `SELECT `+claimColumns+` FROM prize_claims WHERE contest_id = $1 AND user_id = $2`, contestID, userID)
}

func (r *claimRepositoryImpl) one(ctx context.Context, query string, args ...any) (*models.PrizeClaim, error) {
	c, err := scanClaim(conn(ctx, r.db).QueryRowContext(ctx, query, args...))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, classify(err, "賞品クレームの取得に失敗しました")
	}
	return c, nil
}

func (r *claimRepositoryImpl) ListByUser(ctx context.Context, userID string) ([]models.PrizeClaim, error) {
	rows, err := conn(ctx, r.db).QueryContext(ctx,
		`SELECT `+claimColumns+` FROM prize_claims WHERE user_id = $1 ORDER BY created_at DESC`, userID)
	if err != nil {
		return nil, classify(err, "賞品クレーム一覧の取得に失敗しました")
	}
	defer rows.Close()

	var claims []models.PrizeClaim
	for rows.Next() {
		c, err := scanClaim(rows)
		if err != nil {
			return nil, classify(err, "賞品クレームのスキャンに失敗しました")
		}
		claims = append(claims, *c)
	}
	if err := rows.Err(); err != nil {
		return nil, classify(err, "賞品クレーム一覧のイテレーション中にエラーが発生しました")
	}
	return claims, nil
}

func (r *claimRepositoryImpl) UpdateStatus(ctx context.Context, id string, from, to models.ClaimStatus, note string, at time.Time) (bool, error) {
	res, err := conn(ctx, r.db).ExecContext(ctx,
		`UPDATE prize_claims SET status = $1, note = CASE WHEN $2 = '' THEN note ELSE $2 END, updated_at = $3
		 WHERE id = $4 AND status = $5`,
		to, note, at, id, from,
	)
	if err != nil {
		return false, classify(err, "賞品クレームの状態更新に失敗しました")
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

func (r *claimRepositoryImpl) SetVerifier(ctx context.Context, id, verifierID string, at time.Time) (bool, error) {
	res, err := conn(ctx, r.db).ExecContext(ctx,
		`UPDATE prize_claims SET verifier_id = $1, updated_at = $2
		 WHERE id = $3 AND status NOT IN ($4, $5)`,
		verifierID, at, id, models.ClaimCompleted, models.ClaimRejected,
	)
	if err != nil {
		return false, classify(err, "検証担当者の割り当てに失敗しました")
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}
