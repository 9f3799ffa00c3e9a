package steps

import (
	"sort"
	"time"

	"github.com/progate-hackathon-strawberry-flavor/STRIDE-backend/internal/models"
)

// Merge は保存済みの系列と新しいバッチを統合します。
//   - バッチ先頭の歩数0のサンプルは捨てる(プロバイダーが不正な0を先頭に付けることがある)
//   - 同じタイムスタンプはバッチ側(後から届いた方)を採用する
//   - cutoff より古いサンプルは捨てる
//   - タイムスタンプの昇順に並べる
//
// 同じバッチを何度統合しても結果は変わりません。
func Merge(existing, batch []models.StepSample, cutoff int64) []models.StepSample {
	byTS := make(map[int64]int64, len(existing)+len(batch))
	for _, s := range existing {
		byTS[s.Timestamp] = s.Step
	}
	for _, s := range TrimLeadingZeros(batch) {
		byTS[s.Timestamp] = s.Step
	}

	merged := make([]models.StepSample, 0, len(byTS))
	for ts, step := range byTS {
		if ts < cutoff {
			continue
		}
		merged = append(merged, models.StepSample{Timestamp: ts, Step: step})
	}
	sort.Slice(merged, func(i, j int) bool { return merged[i].Timestamp < merged[j].Timestamp })
	return merged
}

// TrimLeadingZeros drops zero-step samples at the front of batch, in the order received.
func TrimLeadingZeros(batch []models.StepSample) []models.StepSample {
	i := 0
	for i < len(batch) && batch[i].Step == 0 {
		i++
	}
	return batch[i:]
}

// SumWindow sums samples with from <= timestamp < to.
func SumWindow(samples []models.StepSample, from, to time.Time) int64 {
	lo, hi := from.Unix(), to.Unix()
	var total int64
	for _, s := range samples {
		if s.Timestamp >= lo && s.Timestamp < hi {
			total += s.Step
		}
	}
	return total
}

// ContestWindow はコンテストの集計区間 [start - lookBack + 1s, end) を返します。
// 歩数計はローカル日単位、サンプルはUTC秒で遅れて届くため、開始側を lookBack だけ広げます。
func ContestWindow(c models.Contest, lookBack time.Duration) (time.Time, time.Time) {
	if lookBack <= 0 {
		return c.StartAt, c.EndAt
	}
	return c.StartAt.Add(-lookBack + time.Second), c.EndAt
}

// StartOfDay returns local midnight of the day containing t.
func StartOfDay(t time.Time, loc *time.Location) time.Time {
	local := t.In(loc)
	return time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)
}

// RetentionCutoff is local midnight today minus days.
func RetentionCutoff(now time.Time, loc *time.Location, days int) time.Time {
	return StartOfDay(now, loc).AddDate(0, 0, -days)
}

// StartOfWeek returns local Monday 00:00 of the week containing t.
func StartOfWeek(t time.Time, loc *time.Location) time.Time {
	day := StartOfDay(t, loc)
	offset := (int(day.Weekday()) + 6) % 7
	return day.AddDate(0, 0, -offset)
}
