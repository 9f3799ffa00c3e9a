package database

import (
	"context"
	"time"

	"github.com/progate-hackathon-strawberry-flavor/STRIDE-backend/internal/models"
)

// 取得系のメソッドは、対象が存在しない場合 nil, nil を返します。

// TxManager runs fn inside one transaction. Repository calls made with the ctx passed to fn
// join that transaction; a nested WithinTx joins the outer one.
type TxManager interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// ContestRepository はコンテストと賞品ティアのデータベース操作を定義するインターフェースです。
type ContestRepository interface {
	Create(ctx context.Context, c *models.Contest) error
	Get(ctx context.Context, id string) (*models.Contest, error)
	// List returns contests in the given statuses ordered by start_at. No statuses means all.
	List(ctx context.Context, statuses ...models.ContestStatus) ([]models.Contest, error)
	// AdvanceStatuses は時刻だけで決まる遷移(SCHEDULED→ONGOING、→FINALIZING)を一括で適用します。
	AdvanceStatuses(ctx context.Context, now time.Time) (started, ended int64, err error)
	// MarkFinalized sets FINALIZED unless it already is. It reports whether the row changed.
	MarkFinalized(ctx context.Context, id string, at time.Time) (bool, error)
	// ListFinalizable returns FINALIZING contests whose end is at or before cutoff.
	ListFinalizable(ctx context.Context, cutoff time.Time) ([]models.Contest, error)

	ReplaceTiers(ctx context.Context, contestID string, tiers []models.PrizeTier) error
	// Tiers は rank_start の昇順で返します。
	Tiers(ctx context.Context, contestID string) ([]models.PrizeTier, error)
}

// EntryRepository はcontest_entriesテーブルの操作です。
type EntryRepository interface {
	// CreateIfAbsent inserts e unless (user, contest) exists and returns the stored entry.
	CreateIfAbsent(ctx context.Context, e *models.Entry) (*models.Entry, bool, error)
	Get(ctx context.Context, userID, contestID string) (*models.Entry, error)
	ListByUser(ctx context.Context, userID string) ([]models.Entry, error)
	// ListByContest は steps DESC, enrolled_at ASC, user_id ASC の順で返します。
	ListByContest(ctx context.Context, contestID string) ([]models.Entry, error)
	// Page is ListByContest restricted to [offset, offset+limit).
	Page(ctx context.Context, contestID string, offset, limit int) ([]models.Entry, error)
	Count(ctx context.Context, contestID string) (int, error)
	// RankOf は (steps, enrolled_at, user_id) の全順序での順位を返します。エントリーが無ければ0です。
	RankOf(ctx context.Context, contestID, userID string) (int, *models.Entry, error)
	UpdateSteps(ctx context.Context, entryID string, steps int64, at time.Time) error
}

// StepRepository はユーザーごとの歩数系列を保存します。
type StepRepository interface {
	// LoadForUpdate returns the user's series and, inside a transaction, holds the user's row lock until commit.
	LoadForUpdate(ctx context.Context, userID string) ([]models.StepSample, error)
	Load(ctx context.Context, userID string) ([]models.StepSample, error)
	Save(ctx context.Context, userID string, samples []models.StepSample, at time.Time) error
}

// LeaderboardRepository は確定済みランキングを扱います。
type LeaderboardRepository interface {
	// Freeze persists rows once per contest. It returns false without writing when the contest is already frozen.
	Freeze(ctx context.Context, info models.FreezeInfo, rows []models.LeaderboardRow) (bool, error)
	Frozen(ctx context.Context, contestID string) (*models.FreezeInfo, error)
	// Rows returns frozen rows by rank. A limit <= 0 returns every row from offset.
	Rows(ctx context.Context, contestID string, offset, limit int) ([]models.LeaderboardRow, error)
	Row(ctx context.Context, contestID, userID string) (*models.LeaderboardRow, error)
}

// ClaimRepository はprize_claimsテーブルの操作です。
type ClaimRepository interface {
	CreateIfAbsent(ctx context.Context, c *models.PrizeClaim) (*models.PrizeClaim, bool, error)
	Get(ctx context.Context, id string) (*models.PrizeClaim, error)
	GetByUser(ctx context.Context, contestID, userID string) (*models.PrizeClaim, error)
	ListByUser(ctx context.Context, userID string) ([]models.PrizeClaim, error)
	// UpdateStatus は現在の状態が from の場合のみ to に変更します(compare-and-swap)。
	UpdateStatus(ctx context.Context, id string, from, to models.ClaimStatus, note string, at time.Time) (bool, error)
	// SetVerifier assigns a verifier to a non-terminal claim.
	SetVerifier(ctx context.Context, id, verifierID string, at time.Time) (bool, error)
}

// VerifierRepository は検証担当者の登録簿です。
type VerifierRepository interface {
	Create(ctx context.Context, v *models.Verifier) error
	Get(ctx context.Context, id string) (*models.Verifier, error)
	// ListActive は created_at, id の順で返します。
	ListActive(ctx context.Context) ([]models.Verifier, error)
}

// QuotaRepository は参加クレジットの台帳です。
type QuotaRepository interface {
	Grant(ctx context.Context, c *models.QuotaCredit) error
	// ConsumeOne decrements the first usable credit ordered by (expires_at ASC NULLS LAST, created_at ASC).
	// It reports false when no credit has quantity left.
	ConsumeOne(ctx context.Context, userID string, now time.Time) (bool, error)
	ListActive(ctx context.Context, userID string, now time.Time) ([]models.QuotaCredit, error)
	// CountBySource counts credit rows (not quantity) from source, expired ones included.
	CountBySource(ctx context.Context, userID string, source models.CreditSource) (int, error)
	// LockUser serializes quota bookkeeping for one user until the surrounding transaction ends.
	LockUser(ctx context.Context, userID string) error
}

// ReferralRepository は紹介関係の操作です。
type ReferralRepository interface {
	// CreateIfAbsent は被紹介者ごとに1件だけ作成し、既存ならそれを返します。
	CreateIfAbsent(ctx context.Context, r *models.Referral) (*models.Referral, bool, error)
	CountByReferrer(ctx context.Context, referrerID string) (int, error)
}

// Repositories bundles every store the services need.
type Repositories struct {
	Tx           TxManager
	Contests     ContestRepository
	Entries      EntryRepository
	Steps        StepRepository
	Leaderboards LeaderboardRepository
	Claims       ClaimRepository
	Verifiers    VerifierRepository
	Quota        QuotaRepository
	Referrals    ReferralRepository
}
