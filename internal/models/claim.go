package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// ClaimStatus は賞品クレームの状態です。
type ClaimStatus string

const (
	ClaimPending   ClaimStatus = "PENDING"
	ClaimVerified  ClaimStatus = "VERIFIED"
	ClaimShipped   ClaimStatus = "SHIPPED"
	ClaimCompleted ClaimStatus = "COMPLETED"
	ClaimRejected  ClaimStatus = "REJECTED"
)

// claimTransitions is the complete transition table. Terminal states have no entry.
var claimTransitions = map[ClaimStatus][]ClaimStatus{
	ClaimPending:  {ClaimVerified, ClaimCompleted, ClaimRejected},
	ClaimVerified: {ClaimShipped, ClaimCompleted, ClaimRejected},
	ClaimShipped:  {ClaimCompleted, ClaimRejected},
}

// Valid reports whether s is one of the known states.
func (s ClaimStatus) Valid() bool {
	switch s {
	case ClaimPending, ClaimVerified, ClaimShipped, ClaimCompleted, ClaimRejected:
		return true
	}
	return false
}

// IsTerminal reports whether the claim can no longer change.
func (s ClaimStatus) IsTerminal() bool {
	return s == ClaimCompleted || s == ClaimRejected
}

// CanTransition reports whether from -> to is in the transition table.
func (s ClaimStatus) CanTransition(to ClaimStatus) bool {
	for _, next := range claimTransitions[s] {
		if next == to {
			return true
		}
	}
	return false
}

// StateHint はユーザー向けの状態表示です。
func (s ClaimStatus) StateHint() string {
	switch s {
	case ClaimPending:
		return "已提交"
	case ClaimVerified:
		return "已审核"
	case ClaimShipped:
		return "已发货"
	case ClaimCompleted:
		return "已完成"
	case ClaimRejected:
		return "已驳回"
	}
	return ""
}

// PrizeClaim はcontest_prize_claimsテーブルのレコードに対応する構造体です。
// Rank と Steps はクレーム開始時点の確定順位から写したもので、再計算されません。
type PrizeClaim struct {
	ID         string          `json:"claimId"`
	ContestID  string          `json:"contestId"`
	UserID     string          `json:"userId"`
	Rank       int             `json:"rank"`
	Steps      int64           `json:"steps"`
	Abnormal   bool            `json:"abnormal"`
	PrizeValue decimal.Decimal `json:"prizeValue"`
	Status     ClaimStatus     `json:"status"`
	VerifierID *string         `json:"verifierId,omitempty"`
	Note       string          `json:"note,omitempty"`
	CreatedAt  time.Time       `json:"createdAt"`
	UpdatedAt  time.Time       `json:"updatedAt"`
}

// ClaimResult is returned by startClaim. Created is false when an existing claim was returned.
type ClaimResult struct {
	Claim           *PrizeClaim `json:"claim"`
	StateHint       string      `json:"stateHint"`
	Created         bool        `json:"created"`
	VerifierContact string      `json:"verifierContact"` // 担当者の連絡先。未割り当てなら空
}

// ClaimTransitionRequest は検証担当者による状態遷移のリクエストです。
type ClaimTransitionRequest struct {
	To          ClaimStatus `json:"to"`
	VerifierID  string      `json:"verifierId"`
	Note        string      `json:"note"`
	AckAbnormal bool        `json:"ackAbnormal"`
}

// Verifier はクレームを確認する担当者(カスタマーサービス)です。
type Verifier struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	ContactID string    `json:"contactId"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"createdAt"`
}
