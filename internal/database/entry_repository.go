package database

import (
	"context"
	"database/sql"
	"time"

	"github.com/progate-hackathon-strawberry-flavor/STRIDE-backend/internal/models"
)

// entryRepositoryImpl はEntryRepositoryインターフェースの実装です。
type entryRepositoryImpl struct {
	db *sql.DB
}

// NewEntryRepository はEntryRepositoryの新しいインスタンスを作成します。
func NewEntryRepository(db *sql.DB) EntryRepository {
	return &entryRepositoryImpl{db: db}
}

const (
	entryColumns = `id, user_id, contest_id, steps, enrolled_at, updated_at`
	// 順位の全順序。steps が同じなら先に参加した方が上位。
	entryRankOrder = `steps DESC, enrolled_at ASC, user_id ASC`
)

func scanEntry(row rowScanner) (*models.Entry, error) {
	var e models.Entry
	if err := row.Scan(&e.ID, &e.UserID, &e.ContestID, &e.Steps, &e.EnrolledAt, &e.UpdatedAt); err != nil {
		return nil, err
	}
	return &e, nil
}

// CreateIfAbsent は (user_id, contest_id) のユニーク制約で重複作成を防ぎます。
func (r *entryRepositoryImpl) CreateIfAbsent(ctx context.Context, e *models.Entry) (*models.Entry, bool, error) {
	q := conn(ctx, r.db)
	res, err := q.ExecContext(ctx,
		`INSERT INTO contest_entries (`+entryColumns+`) VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (user_id, contest_id) DO NOTHING`,
		e.ID, e.UserID, e.ContestID, e.Steps, e.EnrolledAt, e.UpdatedAt,
	)
	if err != nil {
		return nil, false, classify(err, "エントリーの作成に失敗しました")
	}
	if n, _ := res.RowsAffected(); n > 0 {
		created := *e
		return &created, true, nil
	}

	existing, err := r.Get(ctx, e.UserID, e.ContestID)
	if err != nil {
		return nil, false, err
	}
	return existing, false, nil
}

func (r *entryRepositoryImpl) Get(ctx context.Context, userID, contestID string) (*models.Entry, error) {
	row := conn(ctx, r.db).QueryRowContext(ctx,
		`SELECT `+entryColumns+` FROM contest_entries WHERE user_id = $1 AND contest_id = $2`,
		userID, contestID,
	)
	e, err := scanEntry(row)
	if err == sql.ErrNoRows {
		return nil, nil // エントリーが存在しない場合はnilを返す
	}
	if err != nil {
		return nil, classify(err, "エントリーの取得に失敗しました")
	}
	return e, nil
}

func (r *entryRepositoryImpl) ListByUser(ctx context.Context, userID string) ([]models.Entry, error) {
	return r.query(ctx,
		`SELECT `+entryColumns+` FROM contest_entries WHERE user_id = $1 ORDER BY enrolled_at ASC`, userID)
}

func (r *entryRepositoryImpl) ListByContest(ctx context.Context, contestID string) ([]models.Entry, error) {
	return r.query(ctx,
		`SELECT `+entryColumns+` FROM contest_entries WHERE contest_id = $1 ORDER BY `+entryRankOrder, contestID)
}

func (r *entryRepositoryImpl) Page(ctx context.Context, contestID string, offset, limit int) ([]models.Entry, error) {
	return r.query(ctx,
		`SELECT `+entryColumns+` FROM contest_entries WHERE contest_id = $1
		 ORDER BY `+entryRankOrder+` OFFSET $2 LIMIT $3`,
		contestID, offset, limit,
	)
}

func (r *entryRepositoryImpl) query(ctx context.Context, query string, args ...any) ([]models.Entry, error) {
	rows, err := conn(ctx, r.db).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, classify(err, "エントリー一覧の取得に失敗しました")
	}
	defer rows.Close()

	var entries []models.Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, classify(err, "エントリーのスキャンに失敗しました")
		}
		entries = append(entries, *e)
	}
	if err := rows.Err(); err != nil {
		return nil, classify(err, "エントリー一覧のイテレーション中にエラーが発生しました")
	}
	return entries, nil
}

func (r *entryRepositoryImpl) Count(ctx context.Context, contestID string) (int, error) {
	var n int
	err := conn(ctx, r.db).QueryRowContext(ctx,
		`SELECT COUNT(*) FROM contest_entries WHERE contest_id = $1`, contestID).Scan(&n)
	if err != nil {
		return 0, classify(err, "エントリー数の取得に失敗しました")
	}
	return n, nil
}

// RankOf は自分より上位のエントリー数 + 1 を順位とします。
func (r *entryRepositoryImpl) RankOf(ctx context.Context, contestID, userID string) (int, *models.Entry, error) {
	e, err := r.Get(ctx, userID, contestID)
	if err != nil || e == nil {
		return 0, nil, err
	}

	var rank int
	err = conn(ctx, r.db).QueryRowContext(ctx,
		`SELECT COUNT(*) + 1 FROM contest_entries
		 WHERE contest_id = $1
		   AND (steps > $2
		     OR (steps = $2 AND enrolled_at < $3)
		     OR (steps = $2 AND enrolled_at = $3 AND user_id < $4))`,
		contestID, e.Steps, e.EnrolledAt, e.UserID,
	).Scan(&rank)
	if err != nil {
		return 0, nil, classify(err, "エントリー順位の計算に失敗しました")
	}
	return rank, e, nil
}

func (r *entryRepositoryImpl) UpdateSteps(ctx context.Context, entryID string, steps int64, at time.Time) error {
	_, err := conn(ctx, r.db).ExecContext(ctx,
		`UPDATE contest_entries SET steps = $1, updated_at = $2 WHERE id = $3`, steps, at, entryID)
	return classify(err, "エントリーの歩数更新に失敗しました")
}
