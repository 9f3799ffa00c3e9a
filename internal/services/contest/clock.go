package contest

import (
	"time"

	"github.com/progate-hackathon-strawberry-flavor/STRIDE-backend/internal/models"
)

// Phase は (now, 期間) からライフサイクル状態を求めます。
// FINALIZED だけは時間経過では到達せず、確定処理が保存した状態をそのまま返します。
func Phase(now time.Time, c models.Contest) models.ContestStatus {
	if c.Status == models.ContestFinalized {
		return models.ContestFinalized
	}
	switch {
	case now.Before(c.StartAt):
		return models.ContestScheduled
	case now.Before(c.EndAt):
		return models.ContestOngoing
	default:
		return models.ContestFinalizing
	}
}

// FinalizableAt is the earliest instant the leaderboard may be frozen.
func FinalizableAt(c models.Contest, grace time.Duration) time.Time {
	return c.EndAt.Add(grace)
}
