// Package reward は確定順位に基づく賞品クレームの作成と、検証担当者による状態遷移を扱います。
package reward

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/decred/slog"
	"github.com/google/uuid"
	"github.com/progate-hackathon-strawberry-flavor/STRIDE-backend/internal/apperr"
	"github.com/progate-hackathon-strawberry-flavor/STRIDE-backend/internal/database"
	"github.com/progate-hackathon-strawberry-flavor/STRIDE-backend/internal/logger"
	"github.com/progate-hackathon-strawberry-flavor/STRIDE-backend/internal/models"
	"github.com/progate-hackathon-strawberry-flavor/STRIDE-backend/internal/services/contest"
)

// Service はRewardSettlementのビジネスロジックです。
type Service struct {
	repos database.Repositories
	next  atomic.Uint64 // ラウンドロビンの位置
	now   func() time.Time
	log   slog.Logger
}

// Option configures a Service.
type Option func(*Service)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithLogger sets the subsystem logger.
func WithLogger(l slog.Logger) Option {
	return func(s *Service) { s.log = logger.OrDisabled(l) }
}

// NewService はServiceの新しいインスタンスを作成します。
func NewService(repos database.Repositories, opts ...Option) *Service {
	s := &Service{repos: repos, now: time.Now, log: slog.Disabled}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// StartClaim は確定順位が賞品ティア内のユーザーに対してクレームを作成します。
// 同じ (contest, user) に対しては既存のクレームを返し、2件目は作りません。
// 順位と歩数は確定済みの行から写すため、確定前の値を見ることはありません。
func (s *Service) StartClaim(ctx context.Context, contestID, userID string) (*models.ClaimResult, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, apperr.Validationf("userID is required")
	}
	c, err := s.repos.Contests.Get(ctx, contestID)
	if err != nil {
		return nil, fmt.Errorf("コンテスト %s の取得に失敗しました: %w", contestID, err)
	}
	if c == nil {
		return nil, apperr.ErrContestNotFound
	}

	frozen, err := s.repos.Leaderboards.Frozen(ctx, contestID)
	if err != nil {
		return nil, fmt.Errorf("ランキング確定状態の取得に失敗しました: %w", err)
	}
	if frozen == nil {
		return nil, apperr.ErrContestNotFinalized
	}

	row, err := s.repos.Leaderboards.Row(ctx, contestID, userID)
	if err != nil {
		return nil, fmt.Errorf("確定順位の取得に失敗しました: %w", err)
	}
	if row == nil {
		return nil, apperr.ErrNotRanked
	}

	existing, err := s.repos.Claims.GetByUser(ctx, contestID, userID)
	if err != nil {
		return nil, fmt.Errorf("賞品クレームの取得に失敗しました: %w", err)
	}
	if existing != nil {
		return s.result(ctx, existing, false)
	}

	tiers, err := s.repos.Contests.Tiers(ctx, contestID)
	if err != nil {
		return nil, fmt.Errorf("賞品ティアの取得に失敗しました: %w", err)
	}
	if row.Rank > contest.RewardCutoff(tiers) {
		return nil, apperr.ErrNotEligible
	}
	tier, ok := tierFor(tiers, row.Rank)
	if !ok {
		// 書き込み時に検証しているので、ここに来るのはデータ不整合
		return nil, fmt.Errorf("順位 %d を含むティアがありません: %w", row.Rank, apperr.ErrInvalidTiers)
	}

	verifier, err := s.pickVerifier(ctx)
	if err != nil {
		return nil, err
	}

	now := s.now()
	claim := &models.PrizeClaim{
		ID:         uuid.NewString(),
		ContestID:  contestID,
		UserID:     userID,
		Rank:       row.Rank,
		Steps:      row.Steps,
		Abnormal:   row.Abnormal,
		PrizeValue: tier.Value,
		Status:     models.ClaimPending,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if verifier != nil {
		claim.VerifierID = &verifier.ID
	}

	stored, created, err := s.repos.Claims.CreateIfAbsent(ctx, claim)
	if err != nil {
		return nil, fmt.Errorf("賞品クレームの作成に失敗しました: %w", err)
	}
	if created {
		s.log.Infof("クレーム %s を作成しました (contest %s, user %s, rank %d, abnormal=%v)",
			stored.ID, contestID, userID, stored.Rank, stored.Abnormal)
	}
	return s.result(ctx, stored, created)
}

func tierFor(tiers []models.PrizeTier, rank int) (models.PrizeTier, bool) {
	for _, t := range tiers {
		if t.Covers(rank) {
			return t, true
		}
	}
	return models.PrizeTier{}, false
}

// pickVerifier は有効な担当者からラウンドロビンで1人選びます。担当者がいなければ nil です。
func (s *Service) pickVerifier(ctx context.Context) (*models.Verifier, error) {
	active, err := s.repos.Verifiers.ListActive(ctx)
	if err != nil {
		return nil, fmt.Errorf("検証担当者の取得に失敗しました: %w", err)
	}
	if len(active) == 0 {
		s.log.Warnf("有効な検証担当者がいません。クレームは未割り当てで作成されます")
		return nil, nil
	}
	i := s.next.Add(1) - 1
	return &active[i%uint64(len(active))], nil
}

func (s *Service) result(ctx context.Context, c *models.PrizeClaim, created bool) (*models.ClaimResult, error) {
	res := &models.ClaimResult{Claim: c, StateHint: c.Status.StateHint(), Created: created}
	if c.VerifierID == nil {
		return res, nil
	}
	v, err := s.repos.Verifiers.Get(ctx, *c.VerifierID)
	if err != nil {
		return nil, fmt.Errorf("検証担当者の取得に失敗しました: %w", err)
	}
	if v != nil {
		res.VerifierContact = v.ContactID
	}
	return res, nil
}

// GetClaim はクレームの詳細を返します。userID が空でなければ本人のクレームに限ります。
// 担当者が未割り当てで、有効な担当者がいればここで割り当てます。
func (s *Service) GetClaim(ctx context.Context, claimID, userID string) (*models.ClaimResult, error) {
	c, err := s.repos.Claims.Get(ctx, claimID)
	if err != nil {
		return nil, fmt.Errorf("賞品クレームの取得に失敗しました: %w", err)
	}
	if c == nil || (userID != "" && c.UserID != userID) {
		return nil, apperr.ErrClaimNotFound
	}

	if c.VerifierID == nil && !c.Status.IsTerminal() {
		v, err := s.pickVerifier(ctx)
		if err != nil {
			return nil, err
		}
		if v != nil {
			if _, err := s.repos.Claims.SetVerifier(ctx, c.ID, v.ID, s.now()); err != nil {
				return nil, fmt.Errorf("検証担当者の割り当てに失敗しました: %w", err)
			}
			if c, err = s.repos.Claims.Get(ctx, claimID); err != nil {
				return nil, fmt.Errorf("賞品クレームの取得に失敗しました: %w", err)
			}
		}
	}
	return s.result(ctx, c, false)
}

// ListClaims はユーザーのクレームを新しい順に返します。
func (s *Service) ListClaims(ctx context.Context, userID string) ([]models.PrizeClaim, error) {
	claims, err := s.repos.Claims.ListByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("賞品クレーム一覧の取得に失敗しました: %w", err)
	}
	if claims == nil {
		claims = []models.PrizeClaim{}
	}
	return claims, nil
}

// Transition は検証担当者による状態遷移です。現在の状態を条件に更新するため、
// 同じクレームへの同時操作はどちらか一方だけが成功します。
func (s *Service) Transition(ctx context.Context, claimID string, req models.ClaimTransitionRequest) (*models.ClaimResult, error) {
	if !req.To.Valid() {
		return nil, apperr.Validationf("unknown claim status %q", req.To)
	}
	c, err := s.repos.Claims.Get(ctx, claimID)
	if err != nil {
		return nil, fmt.Errorf("賞品クレームの取得に失敗しました: %w", err)
	}
	if c == nil {
		return nil, apperr.ErrClaimNotFound
	}
	if c.Status.IsTerminal() {
		return nil, apperr.ErrClaimTerminal
	}
	if !c.Status.CanTransition(req.To) {
		return nil, fmt.Errorf("%s -> %s: %w", c.Status, req.To, apperr.ErrInvalidTransition)
	}
	if c.Abnormal && !req.AckAbnormal && req.To != models.ClaimRejected {
		return nil, apperr.ErrAbnormalReview
	}
	if req.VerifierID != "" {
		v, err := s.repos.Verifiers.Get(ctx, req.VerifierID)
		if err != nil {
			return nil, fmt.Errorf("検証担当者の取得に失敗しました: %w", err)
		}
		if v == nil {
			return nil, apperr.ErrVerifierNotFound
		}
	}

	now := s.now()
	err = s.repos.Tx.WithinTx(ctx, func(ctx context.Context) error {
		ok, err := s.repos.Claims.UpdateStatus(ctx, c.ID, c.Status, req.To, req.Note, now)
		if err != nil {
			return fmt.Errorf("クレーム状態の更新に失敗しました: %w", err)
		}
		if !ok {
			// 他の担当者が先に更新した
			return apperr.Wrap(apperr.KindConflict, "claim_changed", apperr.ErrInvalidTransition,
				fmt.Sprintf("claim %s is no longer %s", c.ID, c.Status))
		}
		if req.VerifierID != "" && (c.VerifierID == nil || *c.VerifierID != req.VerifierID) && !req.To.IsTerminal() {
			if _, err := s.repos.Claims.SetVerifier(ctx, c.ID, req.VerifierID, now); err != nil {
				return fmt.Errorf("検証担当者の割り当てに失敗しました: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Infof("クレーム %s: %s -> %s", c.ID, c.Status, req.To)
	updated, err := s.repos.Claims.Get(ctx, claimID)
	if err != nil {
		return nil, fmt.Errorf("賞品クレームの取得に失敗しました: %w", err)
	}
	return s.result(ctx, updated, false)
}

// AssignVerifier は未完了のクレームの担当者を変更します。
func (s *Service) AssignVerifier(ctx context.Context, claimID, verifierID string) (*models.ClaimResult, error) {
	v, err := s.repos.Verifiers.Get(ctx, verifierID)
	if err != nil {
		return nil, fmt.Errorf("検証担当者の取得に失敗しました: %w", err)
	}
	if v == nil || !v.Active {
		return nil, apperr.ErrVerifierNotFound
	}
	c, err := s.repos.Claims.Get(ctx, claimID)
	if err != nil {
		return nil, fmt.Errorf("賞品クレームの取得に失敗しました: %w", err)
	}
	if c == nil {
		return nil, apperr.ErrClaimNotFound
	}

	ok, err := s.repos.Claims.SetVerifier(ctx, claimID, verifierID, s.now())
	if err != nil {
		return nil, fmt.Errorf("検証担当者の割り当てに失敗しました: %w", err)
	}
	if !ok {
		return nil, apperr.ErrClaimTerminal
	}
	updated, err := s.repos.Claims.Get(ctx, claimID)
	if err != nil {
		return nil, fmt.Errorf("賞品クレームの取得に失敗しました: %w", err)
	}
	return s.result(ctx, updated, false)
}

// CreateVerifier は検証担当者を登録します。
func (s *Service) CreateVerifier(ctx context.Context, name, contactID string) (*models.Verifier, error) {
	if strings.TrimSpace(name) == "" || strings.TrimSpace(contactID) == "" {
		return nil, apperr.Validationf("verifier name and contactId are required")
	}
	v := &models.Verifier{
		ID:        uuid.NewString(),
		Name:      strings.TrimSpace(name),
		ContactID: strings.TrimSpace(contactID),
		Active:    true,
		CreatedAt: s.now(),
	}
	if err := s.repos.Verifiers.Create(ctx, v); err != nil {
		return nil, fmt.Errorf("検証担当者の登録に失敗しました: %w", err)
	}
	return v, nil
}
