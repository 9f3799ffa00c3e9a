package database

import (
	"context"
	"database/sql"
	"time"

	"github.com/lib/pq"
	"github.com/progate-hackathon-strawberry-flavor/STRIDE-backend/internal/models"
)

// contestRepositoryImpl はContestRepositoryインターフェースの実装です。
type contestRepositoryImpl struct {
	db *sql.DB
}

// NewContestRepository はContestRepositoryの新しいインスタンスを作成します。
func NewContestRepository(db *sql.DB) ContestRepository {
	return &contestRepositoryImpl{db: db}
}

const contestColumns = `id, title, region, audience, frequency, start_at, end_at, status, finalized_at, created_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanContest(row rowScanner) (*models.Contest, error) {
	var c models.Contest
	var finalizedAt sql.NullTime
	err := row.Scan(&c.ID, &c.Title, &c.Region, &c.Audience, &c.Frequency,
		&c.StartAt, &c.EndAt, &c.Status, &finalizedAt, &c.CreatedAt)
	if err != nil {
		return nil, err
	}
	if finalizedAt.Valid {
		t := finalizedAt.Time
		c.FinalizedAt = &t
	}
	return &c, nil
}

func (r *contestRepositoryImpl) Create(ctx context.Context, c *models.Contest) error {
	_, err := conn(ctx, r.db).ExecContext(ctx,
		`INSERT INTO contests (`+contestColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		c.ID, c.Title, c.Region, c.Audience, c.Frequency, c.StartAt, c.EndAt, c.Status, c.FinalizedAt, c.CreatedAt,
	)
	return classify(err, "コンテストの作成に失敗しました")
}

func (r *contestRepositoryImpl) Get(ctx context.Context, id string) (*models.Contest, error) {
	row := conn(ctx, r.db).QueryRowContext(ctx, `SELECT `+contestColumns+` FROM contests WHERE id = $1`, id)
	c, err := scanContest(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, classify(err, "コンテストの取得に失敗しました")
	}
	return c, nil
}

func (r *contestRepositoryImpl) List(ctx context.Context, statuses ...models.ContestStatus) ([]models.Contest, error) {
	query := `SELECT ` + contestColumns + ` FROM contests`
	var args []any
	if len(statuses) > 0 {
		names := make([]string, len(statuses))
		for i, s := range statuses {
			names[i] = string(s)
		}
		query += ` WHERE status = ANY($1)`
		args = append(args, pq.Array(names))
	}
	query += ` ORDER BY start_at ASC, id ASC`

	return r.query(ctx, query, args...)
}

func (r *contestRepositoryImpl) ListFinalizable(ctx context.Context, cutoff time.Time) ([]models.Contest, error) {
	return r.query(ctx,
		`SELECT `+contestColumns+` FROM contests WHERE status = $1 AND end_at <= $2 ORDER BY end_at ASC, id ASC`,
		models.ContestFinalizing, cutoff,
	)
}

func (r *contestRepositoryImpl) query(ctx context.Context, query string, args ...any) ([]models.Contest, error) {
	rows, err := conn(ctx, r.db).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, classify(err, "コンテスト一覧の取得に失敗しました")
	}
	defer rows.Close()

	var contests []models.Contest
	for rows.Next() {
		c, err := scanContest(rows)
		if err != nil {
			return nil, classify(err, "コンテストのスキャンに失敗しました")
		}
		contests = append(contests, *c)
	}
	if err := rows.Err(); err != nil {
		return nil, classify(err, "コンテスト一覧のイテレーション中にエラーが発生しました")
	}
	return contests, nil
}

// AdvanceStatuses は2つのUPDATEを1つのトランザクションで実行します。FINALIZEDの行には触れません。
func (r *contestRepositoryImpl) AdvanceStatuses(ctx context.Context, now time.Time) (int64, int64, error) {
	var started, ended int64
	err := NewTxManager(r.db).WithinTx(ctx, func(ctx context.Context) error {
		q := conn(ctx, r.db)
		res, err := q.ExecContext(ctx,
			`UPDATE contests SET status = $1 WHERE status = $2 AND start_at <= $3 AND end_at > $3`,
			models.ContestOngoing, models.ContestScheduled, now,
		)
		if err != nil {
			return classify(err, "コンテスト開始の一括更新に失敗しました")
		}
		started, _ = res.RowsAffected()

		res, err = q.ExecContext(ctx,
			`UPDATE contests SET status = $1 WHERE status IN ($2, $3) AND end_at <= $4`,
			models.ContestFinalizing, models.ContestScheduled, models.ContestOngoing, now,
		)
		if err != nil {
			return classify(err, "コンテスト終了の一括更新に失敗しました")
		}
		ended, _ = res.RowsAffected()
		return nil
	})
	return started, ended, err
}

func (r *contestRepositoryImpl) MarkFinalized(ctx context.Context, id string, at time.Time) (bool, error) {
	res, err := conn(ctx, r.db).ExecContext(ctx,
		`UPDATE contests SET status = $1, finalized_at = $2 WHERE id = $3 AND status <> $1`,
		models.ContestFinalized, at, id,
	)
	if err != nil {
		return false, classify(err, "コンテストの確定に失敗しました")
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// ReplaceTiers は既存のティアを削除してから新しいティアを挿入します。
func (r *contestRepositoryImpl) ReplaceTiers(ctx context.Context, contestID string, tiers []models.PrizeTier) error {
	return NewTxManager(r.db).WithinTx(ctx, func(ctx context.Context) error {
		q := conn(ctx, r.db)
		if _, err := q.ExecContext(ctx, `DELETE FROM prize_tiers WHERE contest_id = $1`, contestID); err != nil {
			return classify(err, "既存の賞品ティアの削除に失敗しました")
		}
		if len(tiers) == 0 {
			return nil
		}

		stmt, err := q.PrepareContext(ctx,
			`INSERT INTO prize_tiers (contest_id, rank_start, rank_end, value) VALUES ($1, $2, $3, $4)`)
		if err != nil {
			return classify(err, "INSERT文の準備に失敗しました")
		}
		defer stmt.Close()

		for _, t := range tiers {
			if _, err := stmt.ExecContext(ctx, contestID, t.RankStart, t.RankEnd, t.Value); err != nil {
				return classify(err, "賞品ティアの挿入に失敗しました")
			}
		}
		return nil
	})
}

func (r *contestRepositoryImpl) Tiers(ctx context.Context, contestID string) ([]models.PrizeTier, error) {
	rows, err := conn(ctx, r.db).QueryContext(ctx,
		`SELECT contest_id, rank_start, rank_end, value FROM prize_tiers WHERE contest_id = $1 ORDER BY rank_start ASC`,
		contestID,
	)
	if err != nil {
		return nil, classify(err, "賞品ティアの取得に失敗しました")
	}
	defer rows.Close()

	var tiers []models.PrizeTier
	for rows.Next() {
		var t models.PrizeTier
		if err := rows.Scan(&t.ContestID, &t.RankStart, &t.RankEnd, &t.Value); err != nil {
			return nil, classify(err, "賞品ティアのスキャンに失敗しました")
		}
		tiers = append(tiers, t)
	}
	if err := rows.Err(); err != nil {
		return nil, classify(err, "賞品ティアのイテレーション中にエラーが発生しました")
	}
	return tiers, nil
}
