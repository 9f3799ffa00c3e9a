package database

import (
	"context"
	"database/sql"

	"github.com/progate-hackathon-strawberry-flavor/STRIDE-backend/internal/models"
)

// leaderboardRepositoryImpl はLeaderboardRepositoryインターフェースの実装です。
type leaderboardRepositoryImpl struct {
	db *sql.DB
}

// NewLeaderboardRepository はLeaderboardRepositoryの新しいインスタンスを作成します。
func NewLeaderboardRepository(db *sql.DB) LeaderboardRepository {
	return &leaderboardRepositoryImpl{db: db}
}

// Freeze は leaderboard_freezes の主キーで確定を1回に限定します。
// 先に確定した側がいれば、この呼び出しは何も書かずに false を返します。
func (r *leaderboardRepositoryImpl) Freeze(ctx context.Context, info models.FreezeInfo, rows []models.LeaderboardRow) (bool, error) {
	var frozen bool
	err := NewTxManager(r.db).WithinTx(ctx, func(ctx context.Context) error {
		q := conn(ctx, r.db)
		res, err := q.ExecContext(ctx,
			`INSERT INTO leaderboard_freezes (contest_id, threshold, ranked_count, frozen_at)
			 VALUES ($1, $2, $3, $4) ON CONFLICT (contest_id) DO NOTHING`,
			info.ContestID, info.Threshold, info.RankedCount, info.FrozenAt,
		)
		if err != nil {
			return classify(err, "ランキング確定マーカーの挿入に失敗しました")
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return nil
		}
		frozen = true
		if len(rows) == 0 {
			return nil
		}

		stmt, err := q.PrepareContext(ctx,
			`INSERT INTO leaderboard_rows (contest_id, rank, user_id, steps, abnormal, enrolled_at)
			 VALUES ($1, $2, $3, $4, $5, $6)`)
		if err != nil {
			return classify(err, "一括挿入のためのプリペアードステートメントの準備に失敗しました")
		}
		defer stmt.Close()

		for _, row := range rows {
			if _, err := stmt.ExecContext(ctx, info.ContestID, row.Rank, row.UserID, row.Steps, row.Abnormal, row.EnrolledAt); err != nil {
				return classify(err, "確定ランキング行の挿入に失敗しました")
			}
		}
		return nil
	})
	if err != nil {
		return false, err
	}
	return frozen, nil
}

func (r *leaderboardRepositoryImpl) Frozen(ctx context.Context, contestID string) (*models.FreezeInfo, error) {
	var info models.FreezeInfo
	err := conn(ctx, r.db).QueryRowContext(ctx,
		`SELECT contest_id, threshold, ranked_count, frozen_at FROM leaderboard_freezes WHERE contest_id = $1`,
		contestID,
	).Scan(&info.ContestID, &info.Threshold, &info.RankedCount, &info.FrozenAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, classify(err, "ランキング確定状態の取得に失敗しました")
	}
	return &info, nil
}

func (r *leaderboardRepositoryImpl) Rows(ctx context.Context, contestID string, offset, limit int) ([]models.LeaderboardRow, error) {
	query := `SELECT rank, user_id, steps, abnormal, enrolled_at FROM leaderboard_rows
		WHERE contest_id = $1 ORDER BY rank ASC OFFSET $2`
	args := []any{contestID, offset}
	if limit > 0 {
		query += ` LIMIT $3`
		args = append(args, limit)
	}

	rows, err := conn(ctx, r.db).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, classify(err, "確定ランキングの取得に失敗しました")
	}
	defer rows.Close()

	var result []models.LeaderboardRow
	for rows.Next() {
		var row models.LeaderboardRow
		if err := rows.Scan(&row.Rank, &row.UserID, &row.Steps, &row.Abnormal, &row.EnrolledAt); err != nil {
			return nil, classify(err, "確定ランキングのスキャンに失敗しました")
		}
		result = append(result, row)
	}
	if err := rows.Err(); err != nil {
		return nil, classify(err, "確定ランキング取得中にエラーが発生しました")
	}
	return result, nil
}

func (r *leaderboardRepositoryImpl) Row(ctx context.Context, contestID, userID string) (*models.LeaderboardRow, error) {
	var row models.LeaderboardRow
	err := conn(ctx, r.db).QueryRowContext(ctx,
		`SELECT rank, user_id, steps, abnormal, enrolled_at FROM leaderboard_rows WHERE contest_id = $1 AND user_id = $2`,
		contestID, userID,
	).Scan(&row.Rank, &row.UserID, &row.Steps, &row.Abnormal, &row.EnrolledAt)
	if err == sql.ErrNoRows {
		return nil, nil // ランキングに存在しない場合はnilを返す
	}
	if err != nil {
		return nil, classify(err, "確定順位の取得に失敗しました")
	}
	return &row, nil
}
