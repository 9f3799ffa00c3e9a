package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/progate-hackathon-strawberry-flavor/STRIDE-backend/internal/models"
)

// stepRepositoryImpl はユーザーごとの歩数系列を1行のJSONBとして保存します。
type stepRepositoryImpl struct {
	db *sql.DB
}

// NewStepRepository はStepRepositoryの新しいインスタンスを作成します。
func NewStepRepository(db *sql.DB) StepRepository {
	return &stepRepositoryImpl{db: db}
}

// LoadForUpdate は行が無ければ空の系列を作り、SELECT ... FOR UPDATE で行ロックを取ります。
func (r *stepRepositoryImpl) LoadForUpdate(ctx context.Context, userID string) ([]models.StepSample, error) {
	q := conn(ctx, r.db)
	_, err := q.ExecContext(ctx,
		`INSERT INTO step_series (user_id, samples, updated_at) VALUES ($1, '[]', NOW())
		 ON CONFLICT (user_id) DO NOTHING`, userID)
	if err != nil {
		return nil, classify(err, "歩数系列の初期化に失敗しました")
	}
	return r.load(ctx, `SELECT samples FROM step_series WHERE user_id = $1 FOR UPDATE`, userID)
}

func (r *stepRepositoryImpl) Load(ctx context.Context, userID string) ([]models.StepSample, error) {
	return r.load(ctx, `SELECT samples FROM step_series WHERE user_id = $1`, userID)
}

func (r *stepRepositoryImpl) load(ctx context.Context, query, userID string) ([]models.StepSample, error) {
	var raw []byte
	err := conn(ctx, r.db).QueryRowContext(ctx, query, userID).Scan(&raw)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, classify(err, "歩数系列の取得に失敗しました")
	}

	var samples []models.StepSample
	if err := json.Unmarshal(raw, &samples); err != nil {
		return nil, fmt.Errorf("ユーザー %s の歩数系列のデコードに失敗しました: %w", userID, err)
	}
	return samples, nil
}

func (r *stepRepositoryImpl) Save(ctx context.Context, userID string, samples []models.StepSample, at time.Time) error {
	if samples == nil {
		samples = []models.StepSample{}
	}
	raw, err := json.Marshal(samples)
	if err != nil {
		return fmt.Errorf("歩数系列のマーシャルに失敗しました: %w", err)
	}
	_, err = conn(ctx, r.db).ExecContext(ctx,
		`INSERT INTO step_series (user_id, samples, updated_at) VALUES ($1, $2, $3)
		 ON CONFLICT (user_id) DO UPDATE SET samples = EXCLUDED.samples, updated_at = EXCLUDED.updated_at`,
		userID, string(raw), at,
	)
	return classify(err, "歩数系列の保存に失敗しました")
}
