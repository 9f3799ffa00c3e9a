// Package contest はコンテストのライフサイクル、参加登録、賞品ティアの管理を行います。
package contest

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/decred/slog"
	"github.com/google/uuid"
	"github.com/progate-hackathon-strawberry-flavor/STRIDE-backend/internal/apperr"
	"github.com/progate-hackathon-strawberry-flavor/STRIDE-backend/internal/database"
	"github.com/progate-hackathon-strawberry-flavor/STRIDE-backend/internal/logger"
	"github.com/progate-hackathon-strawberry-flavor/STRIDE-backend/internal/models"
)

// QuotaConsumer は参加1回分のクレジットを消費します。残量が無ければ apperr.ErrNoQuota を返します。
type QuotaConsumer interface {
	ConsumeOne(ctx context.Context, userID string) error
}

// EligibilityPolicy is the external age/region check. The engine trusts its answer.
type EligibilityPolicy interface {
	CanEnroll(ctx context.Context, userID string) (bool, error)
}

// AllowAll admits every user.
type AllowAll struct{}

func (AllowAll) CanEnroll(context.Context, string) (bool, error) { return true, nil }

// Finalizer freezes a contest's leaderboard. Implementations must be idempotent.
type Finalizer interface {
	Finalize(ctx context.Context, contestID string) (*models.FinalizeResult, error)
}

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

// Service はコンテスト関連のビジネスロジックです。
type Service struct {
	repos     database.Repositories
	quota     QuotaConsumer
	policy    EligibilityPolicy
	finalizer Finalizer
	grace     time.Duration
	now       func() time.Time
	log       slog.Logger
}

// Option configures a Service.
type Option func(*Service)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithPolicy sets the eligibility check. The default admits everyone.
func WithPolicy(p EligibilityPolicy) Option {
	return func(s *Service) { s.policy = p }
}

// WithLogger sets the subsystem logger.
func WithLogger(l slog.Logger) Option {
	return func(s *Service) { s.log = logger.OrDisabled(l) }
}

// NewService はServiceの新しいインスタンスを作成します。
func NewService(repos database.Repositories, quota QuotaConsumer, finalizer Finalizer, grace time.Duration, opts ...Option) *Service {
	s := &Service{
		repos:     repos,
		quota:     quota,
		policy:    AllowAll{},
		finalizer: finalizer,
		grace:     grace,
		now:       time.Now,
		log:       slog.Disabled,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) getContest(ctx context.Context, id string) (*models.Contest, error) {
	c, err := s.repos.Contests.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("コンテスト %s の取得に失敗しました: %w", id, err)
	}
	if c == nil {
		return nil, apperr.ErrContestNotFound
	}
	return c, nil
}

// Enroll は参加登録を行います。同じ (user, contest) の再登録は既存のエントリーをそのまま返し、
// クレジットを再度消費しません。新規作成時のみ同じトランザクション内でクレジットを1つ消費します。
func (s *Service) Enroll(ctx context.Context, userID, contestID string) (*models.EnrollResult, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, apperr.Validationf("userID is required")
	}

	var result *models.EnrollResult
	err := s.repos.Tx.WithinTx(ctx, func(ctx context.Context) error {
		c, err := s.getContest(ctx, contestID)
		if err != nil {
			return err
		}

		existing, err := s.repos.Entries.Get(ctx, userID, contestID)
		if err != nil {
			return fmt.Errorf("エントリーの確認に失敗しました: %w", err)
		}
		if existing != nil {
			result = &models.EnrollResult{EntryID: existing.ID, ContestID: contestID}
			return nil
		}

		now := s.now()
		switch Phase(now, *c) {
		case models.ContestScheduled:
		case models.ContestOngoing:
			return apperr.ErrContestStarted
		default:
			return apperr.ErrContestEnded
		}

		ok, err := s.policy.CanEnroll(ctx, userID)
		if err != nil {
			return fmt.Errorf("参加資格の確認に失敗しました: %w", err)
		}
		if !ok {
			return apperr.ErrEnrollmentDenied
		}

		entry, created, err := s.repos.Entries.CreateIfAbsent(ctx, &models.Entry{
			ID:         uuid.NewString(),
			UserID:     userID,
			ContestID:  contestID,
			EnrolledAt: now,
			UpdatedAt:  now,
		})
		if err != nil {
			return fmt.Errorf("エントリーの作成に失敗しました: %w", err)
		}
		if created {
			if err := s.quota.ConsumeOne(ctx, userID); err != nil {
				return err
			}
		}
		result = &models.EnrollResult{EntryID: entry.ID, ContestID: contestID, Created: created}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if result.Created {
		s.log.Infof("ユーザー %s がコンテスト %s に参加しました (entry %s)", userID, contestID, result.EntryID)
	}
	return result, nil
}

// CreateContest は管理者がコンテストと賞品ティアを作成します。
func (s *Service) CreateContest(ctx context.Context, req models.ContestCreateRequest) (*models.Contest, error) {
	title := strings.TrimSpace(req.Title)
	if title == "" {
		return nil, apperr.Validationf("title is required")
	}
	if !req.StartAt.Before(req.EndAt) {
		return nil, apperr.ErrInvalidWindow
	}
	now := s.now()
	if !req.EndAt.After(now) {
		return nil, apperr.Validationf("contest end %s is in the past", req.EndAt.Format(time.RFC3339))
	}
	audience := req.Audience
	if audience == "" {
		audience = models.AudienceAll
	}
	frequency := req.Frequency
	if frequency == "" {
		frequency = models.FrequencyDaily
	}
	if !validAudience(audience) || !validFrequency(frequency) {
		return nil, apperr.Validationf("unknown audience %q or frequency %q", audience, frequency)
	}
	if err := ValidateTiers(req.Tiers); err != nil {
		return nil, err
	}

	c := &models.Contest{
		ID:        uuid.NewString(),
		Title:     title,
		Region:    strings.TrimSpace(req.Region),
		Audience:  audience,
		Frequency: frequency,
		StartAt:   req.StartAt,
		EndAt:     req.EndAt,
		CreatedAt: now,
	}
	c.Status = Phase(now, *c)

	err := s.repos.Tx.WithinTx(ctx, func(ctx context.Context) error {
		if err := s.repos.Contests.Create(ctx, c); err != nil {
			return err
		}
		return s.repos.Contests.ReplaceTiers(ctx, c.ID, req.Tiers)
	})
	if err != nil {
		return nil, fmt.Errorf("コンテストの作成に失敗しました: %w", err)
	}

	s.log.Infof("コンテスト %s (%s) を作成しました: %s - %s, ティア %d 件",
		c.ID, c.Title, c.StartAt.Format(time.RFC3339), c.EndAt.Format(time.RFC3339), len(req.Tiers))
	return c, nil
}

// SetPrizeTiers は開始前のコンテストの賞品ティアを置き換えます。
func (s *Service) SetPrizeTiers(ctx context.Context, contestID string, tiers []models.PrizeTier) error {
	if err := ValidateTiers(tiers); err != nil {
		return err
	}
	return s.repos.Tx.WithinTx(ctx, func(ctx context.Context) error {
		c, err := s.getContest(ctx, contestID)
		if err != nil {
			return err
		}
		if Phase(s.now(), *c) != models.ContestScheduled {
			return apperr.ErrTiersFrozen
		}
		if err := s.repos.Contests.ReplaceTiers(ctx, contestID, tiers); err != nil {
			return fmt.Errorf("賞品ティアの更新に失敗しました: %w", err)
		}
		s.log.Infof("コンテスト %s の賞品ティアを %d 件に更新しました", contestID, len(tiers))
		return nil
	})
}

// ValidateTiers checks that tiers start at rank 1, are contiguous, do not overlap and carry a positive value.
func ValidateTiers(tiers []models.PrizeTier) error {
	if len(tiers) == 0 {
		return nil
	}
	sorted := append([]models.PrizeTier(nil), tiers...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].RankStart < sorted[j].RankStart })

	next := 1
	for _, t := range sorted {
		switch {
		case t.RankStart < 1:
			return fmt.Errorf("%w: rank %d is below 1", apperr.ErrInvalidTiers, t.RankStart)
		case t.RankStart > t.RankEnd:
			return fmt.Errorf("%w: rank %d-%d is reversed", apperr.ErrInvalidTiers, t.RankStart, t.RankEnd)
		case t.RankStart < next:
			return fmt.Errorf("%w: rank %d overlaps the previous tier", apperr.ErrInvalidTiers, t.RankStart)
		case t.RankStart > next:
			return fmt.Errorf("%w: ranks %d-%d are not covered", apperr.ErrInvalidTiers, next, t.RankStart-1)
		case !t.Value.IsPositive():
			return fmt.Errorf("%w: tier %d-%d has non-positive value %s", apperr.ErrInvalidTiers, t.RankStart, t.RankEnd, t.Value)
		}
		next = t.RankEnd + 1
	}
	return nil
}

// RewardCutoff is the highest rank covered by any tier, 0 when there are none.
func RewardCutoff(tiers []models.PrizeTier) int {
	cutoff := 0
	for _, t := range tiers {
		if t.RankEnd > cutoff {
			cutoff = t.RankEnd
		}
	}
	return cutoff
}

func validAudience(a models.Audience) bool {
	return a == models.AudienceAdult || a == models.AudienceChild || a == models.AudienceAll
}

func validFrequency(f models.Frequency) bool {
	return f == models.FrequencyDaily || f == models.FrequencyWeekly || f == models.FrequencyMonthly
}

// ListContests はユーザー向けの一覧です。参加受付中のコンテストと、参加済みで未確定のコンテストを返します。
func (s *Service) ListContests(ctx context.Context, userID string) ([]models.ContestListItem, error) {
	contests, err := s.repos.Contests.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("コンテスト一覧の取得に失敗しました: %w", err)
	}
	joined, err := s.joinedContests(ctx, userID)
	if err != nil {
		return nil, err
	}

	now := s.now()
	items := []models.ContestListItem{}
	for _, c := range contests {
		c.Status = Phase(now, c)
		_, isJoined := joined[c.ID]
		switch {
		case c.Status == models.ContestScheduled:
		case isJoined && c.Status != models.ContestFinalized:
		default:
			continue
		}
		items = append(items, models.ContestListItem{Contest: c, Joined: isJoined})
	}
	return items, nil
}

func (s *Service) joinedContests(ctx context.Context, userID string) (map[string]models.Entry, error) {
	joined := make(map[string]models.Entry)
	if userID == "" {
		return joined, nil
	}
	entries, err := s.repos.Entries.ListByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("参加済みコンテストの取得に失敗しました: %w", err)
	}
	for _, e := range entries {
		joined[e.ContestID] = e
	}
	return joined, nil
}

// ListEndedContests は終了済みコンテストを、参加したものを先に、終了が新しい順で返します。
// page は1始まりです。
func (s *Service) ListEndedContests(ctx context.Context, userID string, page, size int) (*models.EndedContestPage, error) {
	page, size = NormalizePage(page, size)

	contests, err := s.repos.Contests.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("コンテスト一覧の取得に失敗しました: %w", err)
	}
	joined, err := s.joinedContests(ctx, userID)
	if err != nil {
		return nil, err
	}

	now := s.now()
	var ended []models.Contest
	for _, c := range contests {
		c.Status = Phase(now, c)
		if c.Status == models.ContestFinalizing || c.Status == models.ContestFinalized {
			ended = append(ended, c)
		}
	}
	sort.SliceStable(ended, func(i, j int) bool {
		_, pi := joined[ended[i].ID]
		_, pj := joined[ended[j].ID]
		if pi != pj {
			return pi
		}
		return ended[i].EndAt.After(ended[j].EndAt)
	})

	offset := (page - 1) * size
	result := &models.EndedContestPage{Items: []models.EndedContestItem{}}
	if offset >= len(ended) {
		return result, nil
	}
	end := min(offset+size, len(ended))
	result.HasMore = end < len(ended)

	for _, c := range ended[offset:end] {
		item, err := s.endedItem(ctx, c, userID, joined)
		if err != nil {
			return nil, err
		}
		result.Items = append(result.Items, *item)
	}
	return result, nil
}

func (s *Service) endedItem(ctx context.Context, c models.Contest, userID string, joined map[string]models.Entry) (*models.EndedContestItem, error) {
	tiers, err := s.repos.Contests.Tiers(ctx, c.ID)
	if err != nil {
		return nil, fmt.Errorf("コンテスト %s の賞品ティア取得に失敗しました: %w", c.ID, err)
	}
	item := &models.EndedContestItem{
		ContestID:  c.ID,
		Title:      c.Title,
		StartAt:    c.StartAt,
		EndAt:      c.EndAt,
		RewardTopN: RewardCutoff(tiers),
		Status:     c.Status,
	}
	if _, ok := joined[c.ID]; !ok {
		return item, nil
	}
	item.Participated = true

	// 順位は確定後のものだけを表示する
	if c.Status != models.ContestFinalized {
		return item, nil
	}
	row, err := s.repos.Leaderboards.Row(ctx, c.ID, userID)
	if err != nil {
		return nil, fmt.Errorf("確定順位の取得に失敗しました: %w", err)
	}
	if row == nil {
		return item, nil
	}
	rank := row.Rank
	item.MyRank = &rank

	claim, err := s.repos.Claims.GetByUser(ctx, c.ID, userID)
	if err != nil {
		return nil, fmt.Errorf("賞品クレームの取得に失敗しました: %w", err)
	}
	if claim != nil {
		item.Claimed = true
		id := claim.ID
		item.ClaimID = &id
	}
	item.CanClaim = claim == nil && rank <= item.RewardTopN
	return item, nil
}

// NormalizePage clamps page to >= 1 and size to [1, 100], defaulting size to 20.
func NormalizePage(page, size int) (int, int) {
	if page < 1 {
		page = 1
	}
	if size <= 0 {
		size = defaultPageSize
	}
	if size > maxPageSize {
		size = maxPageSize
	}
	return page, size
}
