package models

import "time"

// LeaderboardRow は順位表の1行です。確定前は都度計算、確定後はleaderboard_rowsに保存されます。
type LeaderboardRow struct {
	Rank       int       `json:"rank"`
	UserID     string    `json:"userId"`
	Steps      int64     `json:"steps"`
	Abnormal   bool      `json:"abnormal"`
	EnrolledAt time.Time `json:"enrolledAt"`
}

// LeaderboardPage is one page of a contest ranking.
type LeaderboardPage struct {
	ContestID string           `json:"contestId"`
	Frozen    bool             `json:"frozen"`
	Total     int              `json:"total"`
	Page      int              `json:"page"`
	Size      int              `json:"size"`
	Rows      []LeaderboardRow `json:"rows"`
	HasMore   bool             `json:"hasMore"`
}

// MyRank is a user's position in a contest.
type MyRank struct {
	Rank   int   `json:"rank"`
	Steps  int64 `json:"steps"`
	Frozen bool  `json:"frozen"`
}

// FinalizeResult is returned by the finalizer. AlreadyFrozen marks a no-op repeat call.
type FinalizeResult struct {
	OK            bool `json:"ok"`
	RankedCount   int  `json:"rankedCount"`
	AlreadyFrozen bool `json:"alreadyFrozen"`
}

// AdminRanking は管理画面向けの上位と末尾の順位です。
type AdminRanking struct {
	ContestID    string           `json:"contestId"`
	ContestTitle string           `json:"contestTitle"`
	TotalEntries int              `json:"totalEntries"`
	Threshold    int64            `json:"abnormalThreshold"`
	Top          []LeaderboardRow `json:"top"`
	Tail         []LeaderboardRow `json:"tail"`
}

// FreezeInfo はleaderboard_freezesテーブルのレコードです。存在すれば順位は確定済みです。
type FreezeInfo struct {
	ContestID   string    `json:"contestId"`
	Threshold   int64     `json:"abnormalThreshold"`
	RankedCount int       `json:"rankedCount"`
	FrozenAt    time.Time `json:"frozenAt"`
}
