package database

import (
	"context"
	"database/sql"

	"github.com/progate-hackathon-strawberry-flavor/STRIDE-backend/internal/models"
)

type verifierRepositoryImpl struct {
	db *sql.DB
}

// NewVerifierRepository はVerifierRepositoryの新しいインスタンスを作成します。
func NewVerifierRepository(db *sql.DB) VerifierRepository {
	return &verifierRepositoryImpl{db: db}
}

func (r *verifierRepositoryImpl) Create(ctx context.Context, v *models.Verifier) error {
	_, err := conn(ctx, r.db).ExecContext(ctx,
		`INSERT INTO verifiers (id, name, contact_id, active, created_at) VALUES ($1, $2, $3, $4, $5)`,
		v.ID, v.Name, v.ContactID, v.Active, v.CreatedAt,
	)
	return classify(err, "検証担当者の登録に失敗しました")
}

func (r *verifierRepositoryImpl) Get(ctx context.Context, id string) (*models.Verifier, error) {
	var v models.Verifier
	err := conn(ctx, r.db).QueryRowContext(ctx,
		`SELECT id, name, contact_id, active, created_at FROM verifiers WHERE id = $1`, id,
	).Scan(&v.ID, &v.Name, &v.ContactID, &v.Active, &v.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, classify(err, "検証担当者の取得に失敗しました")
	}
	return &v, nil
}

func (r *verifierRepositoryImpl) ListActive(ctx context.Context) ([]models.Verifier, error) {
	rows, err := conn(ctx, r.db).QueryContext(ctx,
		`SELECT id, name, contact_id, active, created_at FROM verifiers WHERE active ORDER BY created_at ASC, id ASC`)
	if err != nil {
		return nil, classify(err, "検証担当者一覧の取得に失敗しました")
	}
	defer rows.Close()

	var verifiers []models.Verifier
	for rows.Next() {
		var v models.Verifier
		if err := rows.Scan(&v.ID, &v.Name, &v.ContactID, &v.Active, &v.CreatedAt); err != nil {
			return nil, classify(err, "検証担当者のスキャンに失敗しました")
		}
		verifiers = append(verifiers, v)
	}
	if err := rows.Err(); err != nil {
		return nil, classify(err, "検証担当者一覧のイテレーション中にエラーが発生しました")
	}
	return verifiers, nil
}
