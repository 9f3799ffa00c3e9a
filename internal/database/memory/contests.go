package memory

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/progate-hackathon-strawberry-flavor/STRIDE-backend/internal/models"
)

type contestRepo struct {
	s *Store
}

func (r *contestRepo) Create(ctx context.Context, c *models.Contest) error {
	defer r.s.lock(ctx)()
	if _, ok := r.s.st.contests[c.ID]; ok {
		return fmt.Errorf("コンテストの作成に失敗しました: id %s は既に存在します", c.ID)
	}
	r.s.st.contests[c.ID] = *c
	return nil
}

func (r *contestRepo) Get(ctx context.Context, id string) (*models.Contest, error) {
	defer r.s.lock(ctx)()
	c, ok := r.s.st.contests[id]
	if !ok {
		return nil, nil
	}
	return &c, nil
}

func (r *contestRepo) List(ctx context.Context, statuses ...models.ContestStatus) ([]models.Contest, error) {
	defer r.s.lock(ctx)()
	return r.filter(func(c models.Contest) bool {
		if len(statuses) == 0 {
			return true
		}
		for _, s := range statuses {
			if c.Status == s {
				return true
			}
		}
		return false
	}, func(a, b models.Contest) bool {
		if !a.StartAt.Equal(b.StartAt) {
			return a.StartAt.Before(b.StartAt)
		}
		return a.ID < b.ID
	}), nil
}

func (r *contestRepo) ListFinalizable(ctx context.Context, cutoff time.Time) ([]models.Contest, error) {
	defer r.s.lock(ctx)()
	return r.filter(func(c models.Contest) bool {
		return c.Status == models.ContestFinalizing && !c.EndAt.After(cutoff)
	}, func(a, b models.Contest) bool {
		if !a.EndAt.Equal(b.EndAt) {
			return a.EndAt.Before(b.EndAt)
		}
		return a.ID < b.ID
	}), nil
}

func (r *contestRepo) filter(keep func(models.Contest) bool, less func(a, b models.Contest) bool) []models.Contest {
	var out []models.Contest
	for _, c := range r.s.st.contests {
		if keep(c) {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return less(out[i], out[j]) })
	return out
}

func (r *contestRepo) AdvanceStatuses(ctx context.Context, now time.Time) (int64, int64, error) {
	defer r.s.lock(ctx)()
	var started, ended int64
	for id, c := range r.s.st.contests {
		switch {
		case c.Status == models.ContestScheduled && !now.Before(c.StartAt) && now.Before(c.EndAt):
			c.Status = models.ContestOngoing
			started++
		case (c.Status == models.ContestScheduled || c.Status == models.ContestOngoing) && !now.Before(c.EndAt):
			c.Status = models.ContestFinalizing
			ended++
		default:
			continue
		}
		r.s.st.contests[id] = c
	}
	return started, ended, nil
}

func (r *contestRepo) MarkFinalized(ctx context.Context, id string, at time.Time) (bool, error) {
	defer r.s.lock(ctx)()
	c, ok := r.s.st.contests[id]
	if !ok || c.Status == models.ContestFinalized {
		return false, nil
	}
	c.Status = models.ContestFinalized
	c.FinalizedAt = &at
	r.s.st.contests[id] = c
	return true, nil
}

func (r *contestRepo) ReplaceTiers(ctx context.Context, contestID string, tiers []models.PrizeTier) error {
	defer r.s.lock(ctx)()
	if _, ok := r.s.st.contests[contestID]; !ok {
		return fmt.Errorf("賞品ティアの挿入に失敗しました: コンテスト %s が存在しません", contestID)
	}
	cp := make([]models.PrizeTier, len(tiers))
	for i, t := range tiers {
		t.ContestID = contestID
		cp[i] = t
	}
	sort.Slice(cp, func(i, j int) bool { return cp[i].RankStart < cp[j].RankStart })
	r.s.st.tiers[contestID] = cp
	return nil
}

func (r *contestRepo) Tiers(ctx context.Context, contestID string) ([]models.PrizeTier, error) {
	defer r.s.lock(ctx)()
	tiers := r.s.st.tiers[contestID]
	if len(tiers) == 0 {
		return nil, nil
	}
	return append([]models.PrizeTier(nil), tiers...), nil
}
