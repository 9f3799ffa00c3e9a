package leaderboard

import (
	"sort"

	"github.com/progate-hackathon-strawberry-flavor/STRIDE-backend/internal/models"
)

// Policy は異常な歩数の判定基準です。
// 閾値は max(Floor, MedianFactor × 上位TopN件の中央値) で、これを超えた歩数を異常とします。
type Policy struct {
	Floor        int64
	MedianFactor int64
	TopN         int
}

// DefaultPolicy is 100,000 or 3x the median of the top 10.
var DefaultPolicy = Policy{Floor: 100000, MedianFactor: 3, TopN: 10}

// Threshold computes the abnormal threshold from entries already sorted by rank.
// Zero-step entries do not count towards the median.
func (p Policy) Threshold(ranked []models.Entry) int64 {
	n := p.TopN
	if n <= 0 {
		n = DefaultPolicy.TopN
	}
	var top []int64
	for _, e := range ranked {
		if len(top) == n {
			break
		}
		if e.Steps > 0 {
			top = append(top, e.Steps)
		}
	}
	if len(top) == 0 {
		return p.Floor
	}
	sort.Slice(top, func(i, j int) bool { return top[i] < top[j] })
	// 偶数件のときは上側の中央値
	median := top[len(top)/2]
	return max(p.Floor, p.MedianFactor*median)
}

// sortEntries は steps DESC, enrolled_at ASC, user_id ASC の全順序に並べます。
func sortEntries(entries []models.Entry) {
	sort.SliceStable(entries, func(i, j int) bool {
		a, b := entries[i], entries[j]
		if a.Steps != b.Steps {
			return a.Steps > b.Steps
		}
		if !a.EnrolledAt.Equal(b.EnrolledAt) {
			return a.EnrolledAt.Before(b.EnrolledAt)
		}
		return a.UserID < b.UserID
	})
}

// Rank は順位 1..N を欠番なしで振ります。同じ歩数でも参加が早い方が上位です。
// 異常なエントリーも順位には残し、Abnormal を立てるだけです。
func Rank(entries []models.Entry, p Policy) ([]models.LeaderboardRow, int64) {
	sorted := append([]models.Entry(nil), entries...)
	sortEntries(sorted)
	threshold := p.Threshold(sorted)

	rows := make([]models.LeaderboardRow, len(sorted))
	for i, e := range sorted {
		rows[i] = models.LeaderboardRow{
			Rank:       i + 1,
			UserID:     e.UserID,
			Steps:      e.Steps,
			Abnormal:   e.Steps > threshold,
			EnrolledAt: e.EnrolledAt,
		}
	}
	return rows, threshold
}
