package quota

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/progate-hackathon-strawberry-flavor/STRIDE-backend/internal/apperr"
	"github.com/progate-hackathon-strawberry-flavor/STRIDE-backend/internal/models"
)

// AcceptReferral は紹介関係を登録し、紹介者の紹介パックを同期します。
// 被紹介者に既に紹介者がいれば、その関係をそのまま返します。
func (l *Ledger) AcceptReferral(ctx context.Context, referrerID, refereeID string) (*models.ReferralResult, error) {
	referrerID, refereeID = strings.TrimSpace(referrerID), strings.TrimSpace(refereeID)
	if referrerID == "" || refereeID == "" {
		return nil, apperr.Validationf("referrerID and refereeID are required")
	}
	if referrerID == refereeID {
		return nil, apperr.ErrSelfReferral
	}

	result := &models.ReferralResult{}
	err := l.repos.Tx.WithinTx(ctx, func(ctx context.Context) error {
		ref, created, err := l.repos.Referrals.CreateIfAbsent(ctx, &models.Referral{
			ID:         uuid.NewString(),
			ReferrerID: referrerID,
			RefereeID:  refereeID,
			CreatedAt:  l.now(),
		})
		if err != nil {
			return fmt.Errorf("紹介関係の登録に失敗しました: %w", err)
		}
		result.Referral, result.Created = ref, created
		if !created {
			return nil
		}

		result.PacksGranted, err = l.SyncReferralPacks(ctx, ref.ReferrerID)
		return err
	})
	if err != nil {
		return nil, err
	}
	if result.Created {
		l.log.Infof("ユーザー %s の紹介を受理しました (紹介者 %s, 新規パック %d)", refereeID, referrerID, result.PacksGranted)
	}
	return result, nil
}

// SyncReferralPacks は floor(紹介数 / ReferralsPerPack) のうち未付与の分だけパックを付与します。
// 付与済みのパック数は referral 由来のクレジット行数で数えるため、再実行しても二重に付与しません。
func (l *Ledger) SyncReferralPacks(ctx context.Context, referrerID string) (int, error) {
	granted := 0
	err := l.repos.Tx.WithinTx(ctx, func(ctx context.Context) error {
		if err := l.repos.Quota.LockUser(ctx, referrerID); err != nil {
			return err
		}
		referrals, err := l.repos.Referrals.CountByReferrer(ctx, referrerID)
		if err != nil {
			return fmt.Errorf("紹介数の取得に失敗しました: %w", err)
		}
		already, err := l.repos.Quota.CountBySource(ctx, referrerID, models.SourceReferral)
		if err != nil {
			return fmt.Errorf("付与済みパック数の取得に失敗しました: %w", err)
		}

		missing := PacksEarned(referrals, l.cfg.ReferralsPerPack) - already
		for i := 0; i < missing; i++ {
			if _, err := l.Grant(ctx, referrerID, models.SourceReferral, l.cfg.ReferralPackQuota, nil); err != nil {
				return err
			}
		}
		granted = max(missing, 0)
		return nil
	})
	if err != nil {
		return 0, err
	}
	return granted, nil
}

// PacksEarned is floor(referrals / perPack).
func PacksEarned(referrals, perPack int) int {
	if perPack <= 0 || referrals <= 0 {
		return 0
	}
	return referrals / perPack
}

// ReferralMultiplier は紹介数に応じた賞品倍率です。
func ReferralMultiplier(referrals int) int {
	switch {
	case referrals >= 6:
		return 3
	case referrals >= 3:
		return 2
	default:
		return 1
	}
}

// Multiplier returns the user's current prize multiplier.
func (l *Ledger) Multiplier(ctx context.Context, userID string) (int, error) {
	n, err := l.repos.Referrals.CountByReferrer(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("紹介数の取得に失敗しました: %w", err)
	}
	return ReferralMultiplier(n), nil
}
