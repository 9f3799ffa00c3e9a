package models

import "time"

// CreditSource は参加クレジットの付与元です。
type CreditSource string

const (
	SourceMembership CreditSource = "membership"
	SourceReferral   CreditSource = "referral"
	SourceAdReward   CreditSource = "ad_reward"
	SourceSignup     CreditSource = "signup"
)

// Valid reports whether s is a known source.
func (s CreditSource) Valid() bool {
	switch s {
	case SourceMembership, SourceReferral, SourceAdReward, SourceSignup:
		return true
	}
	return false
}

// QuotaCredit はquota_creditsテーブルのレコードに対応する構造体です。
// 利用可能数は max(0, Granted-Consumed) で、期限切れのものは数えません。
type QuotaCredit struct {
	ID        string       `json:"id"`
	UserID    string       `json:"userId"`
	Source    CreditSource `json:"source"`
	Granted   int          `json:"granted"`
	Consumed  int          `json:"consumed"`
	ExpiresAt *time.Time   `json:"expiresAt,omitempty"`
	CreatedAt time.Time    `json:"createdAt"`
}

// Available returns the unconsumed quantity at now.
func (c QuotaCredit) Available(now time.Time) int {
	if c.Expired(now) || c.Consumed >= c.Granted {
		return 0
	}
	return c.Granted - c.Consumed
}

// Expired reports whether the credit is past its expiry.
func (c QuotaCredit) Expired(now time.Time) bool {
	return c.ExpiresAt != nil && !now.Before(*c.ExpiresAt)
}

// QuotaBalance is a user's enrollment credit summary.
type QuotaBalance struct {
	UserID     string         `json:"userId"`
	Available  int            `json:"available"`
	BySource   map[string]int `json:"bySource"`
	Multiplier int            `json:"prizeMultiplier"`
}

// MembershipTier はメンバーシップの種類です。
type MembershipTier string

const (
	TierVIP     MembershipTier = "VIP"
	TierVIPPlus MembershipTier = "VIP_PLUS"
)

// MonthlyQuota returns the enrollment credits granted per month for the tier.
func (t MembershipTier) MonthlyQuota() int {
	switch t {
	case TierVIP:
		return 12
	case TierVIPPlus:
		return 20
	}
	return 0
}

// Referral は紹介関係です。1人の被紹介者に紹介者は1人だけです。
type Referral struct {
	ID         string    `json:"id"`
	ReferrerID string    `json:"referrerId"`
	RefereeID  string    `json:"refereeId"`
	CreatedAt  time.Time `json:"createdAt"`
}

// ReferralAcceptRequest はPOST /api/me/referral のリクエストボディです。
type ReferralAcceptRequest struct {
	ReferrerID string `json:"referrerId"`
}

// MembershipGrantRequest は管理者によるメンバーシップ付与のリクエストです。
type MembershipGrantRequest struct {
	UserID string         `json:"userId"`
	Tier   MembershipTier `json:"tier"`
	Months int            `json:"months"`
}

// ReferralResult は紹介の受理結果です。PacksGranted は今回新たに付与した紹介パックの数です。
type ReferralResult struct {
	Referral     *Referral `json:"referral"`
	Created      bool      `json:"created"`
	PacksGranted int       `json:"packsGranted"`
}
