package models

import "time"

// Entry はcontest_entriesテーブルのレコードに対応する構造体です。
// (UserID, ContestID) の組はユニークです。
type Entry struct {
	ID         string    `json:"id"`
	UserID     string    `json:"userId"`
	ContestID  string    `json:"contestId"`
	Steps      int64     `json:"steps"`      // コンテスト期間内の累計歩数
	EnrolledAt time.Time `json:"enrolledAt"` // 同点時の順位決定に使う
	UpdatedAt  time.Time `json:"updatedAt"`
}

// EnrollResult is returned by enrollment. Created is false when the entry already existed.
type EnrollResult struct {
	EntryID   string `json:"entryId"`
	ContestID string `json:"contestId"`
	Created   bool   `json:"created"`
}
