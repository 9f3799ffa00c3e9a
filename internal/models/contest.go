package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// ContestStatus はコンテストのライフサイクル状態です。
type ContestStatus string

const (
	ContestScheduled  ContestStatus = "SCHEDULED"
	ContestOngoing    ContestStatus = "ONGOING"
	ContestFinalizing ContestStatus = "FINALIZING"
	ContestFinalized  ContestStatus = "FINALIZED"
)

// Audience はコンテストの対象ユーザー層です。
type Audience string

const (
	AudienceAdult Audience = "ADULT"
	AudienceChild Audience = "CHILD"
	AudienceAll   Audience = "ALL"
)

// Frequency はコンテストの開催頻度です。
type Frequency string

const (
	FrequencyDaily   Frequency = "DAILY"
	FrequencyWeekly  Frequency = "WEEKLY"
	FrequencyMonthly Frequency = "MONTHLY"
)

// Contest はcontestsテーブルのレコードに対応する構造体です。
// 期間は [StartAt, EndAt) の半開区間です。
type Contest struct {
	ID          string        `json:"id"`
	Title       string        `json:"title"`
	Region      string        `json:"region"`
	Audience    Audience      `json:"audience"`
	Frequency   Frequency     `json:"frequency"`
	StartAt     time.Time     `json:"startAt"`
	EndAt       time.Time     `json:"endAt"`
	Status      ContestStatus `json:"status"`
	FinalizedAt *time.Time    `json:"finalizedAt,omitempty"`
	CreatedAt   time.Time     `json:"createdAt"`
}

// PrizeTier は順位範囲 [RankStart, RankEnd] と賞品額の対応です。
type PrizeTier struct {
	ContestID string          `json:"contestId"`
	RankStart int             `json:"rankStart"`
	RankEnd   int             `json:"rankEnd"`
	Value     decimal.Decimal `json:"value"`
}

// Covers reports whether rank falls inside the tier.
func (t PrizeTier) Covers(rank int) bool {
	return rank >= t.RankStart && rank <= t.RankEnd
}

// ContestCreateRequest is the admin payload for a new contest.
type ContestCreateRequest struct {
	Title     string      `json:"title"`
	Region    string      `json:"region"`
	Audience  Audience    `json:"audience"`
	Frequency Frequency   `json:"frequency"`
	StartAt   time.Time   `json:"startAt"`
	EndAt     time.Time   `json:"endAt"`
	Tiers     []PrizeTier `json:"tiers"`
}

// ContestListItem はユーザー向けのコンテスト一覧の要素です。
type ContestListItem struct {
	Contest
	Joined bool `json:"joined"`
}

// EndedContestItem は終了済みコンテスト一覧の要素です。
type EndedContestItem struct {
	ContestID    string        `json:"contestId"`
	Title        string        `json:"title"`
	StartAt      time.Time     `json:"startAt"`
	EndAt        time.Time     `json:"endAt"`
	RewardTopN   int           `json:"rewardTopN"`
	MyRank       *int          `json:"myRank"`
	CanClaim     bool          `json:"canClaim"`
	Claimed      bool          `json:"claimed"`
	ClaimID      *string       `json:"claimId"`
	Participated bool          `json:"participated"`
	Status       ContestStatus `json:"status"`
}

// EndedContestPage is one page of ended contests.
type EndedContestPage struct {
	Items   []EndedContestItem `json:"items"`
	HasMore bool               `json:"hasMore"`
}
