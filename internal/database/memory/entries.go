package memory

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/progate-hackathon-strawberry-flavor/STRIDE-backend/internal/models"
)

type entryRepo struct {
	s *Store
}

// rankLess is the total ranking order: steps desc, then earlier enrollment, then user id.
func rankLess(a, b models.Entry) bool {
	if a.Steps != b.Steps {
		return a.Steps > b.Steps
	}
	if !a.EnrolledAt.Equal(b.EnrolledAt) {
		return a.EnrolledAt.Before(b.EnrolledAt)
	}
	return a.UserID < b.UserID
}

func (r *entryRepo) CreateIfAbsent(ctx context.Context, e *models.Entry) (*models.Entry, bool, error) {
	defer r.s.lock(ctx)()
	key := pairKey{userID: e.UserID, contestID: e.ContestID}
	if id, ok := r.s.st.entryKeys[key]; ok {
		existing := r.s.st.entries[id]
		return &existing, false, nil
	}
	if _, ok := r.s.st.contests[e.ContestID]; !ok {
		return nil, false, fmt.Errorf("エントリーの作成に失敗しました: コンテスト %s が存在しません", e.ContestID)
	}
	r.s.st.entries[e.ID] = *e
	r.s.st.entryKeys[key] = e.ID
	created := *e
	return &created, true, nil
}

func (r *entryRepo) Get(ctx context.Context, userID, contestID string) (*models.Entry, error) {
	defer r.s.lock(ctx)()
	return r.get(userID, contestID), nil
}

func (r *entryRepo) get(userID, contestID string) *models.Entry {
	id, ok := r.s.st.entryKeys[pairKey{userID: userID, contestID: contestID}]
	if !ok {
		return nil
	}
	e := r.s.st.entries[id]
	return &e
}

func (r *entryRepo) ListByUser(ctx context.Context, userID string) ([]models.Entry, error) {
	defer r.s.lock(ctx)()
	var out []models.Entry
	for _, e := range r.s.st.entries {
		if e.UserID == userID {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].EnrolledAt.Equal(out[j].EnrolledAt) {
			return out[i].EnrolledAt.Before(out[j].EnrolledAt)
		}
		return out[i].ContestID < out[j].ContestID
	})
	return out, nil
}

func (r *entryRepo) ListByContest(ctx context.Context, contestID string) ([]models.Entry, error) {
	defer r.s.lock(ctx)()
	return r.ranked(contestID), nil
}

func (r *entryRepo) ranked(contestID string) []models.Entry {
	var out []models.Entry
	for _, e := range r.s.st.entries {
		if e.ContestID == contestID {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return rankLess(out[i], out[j]) })
	return out
}

func (r *entryRepo) Page(ctx context.Context, contestID string, offset, limit int) ([]models.Entry, error) {
	defer r.s.lock(ctx)()
	return window(r.ranked(contestID), offset, limit), nil
}

func (r *entryRepo) Count(ctx context.Context, contestID string) (int, error) {
	defer r.s.lock(ctx)()
	n := 0
	for _, e := range r.s.st.entries {
		if e.ContestID == contestID {
			n++
		}
	}
	return n, nil
}

func (r *entryRepo) RankOf(ctx context.Context, contestID, userID string) (int, *models.Entry, error) {
	defer r.s.lock(ctx)()
	me := r.get(userID, contestID)
	if me == nil {
		return 0, nil, nil
	}
	rank := 1
	for _, e := range r.s.st.entries {
		if e.ContestID == contestID && rankLess(e, *me) {
			rank++
		}
	}
	return rank, me, nil
}

func (r *entryRepo) UpdateSteps(ctx context.Context, entryID string, steps int64, at time.Time) error {
	defer r.s.lock(ctx)()
	e, ok := r.s.st.entries[entryID]
	if !ok {
		return nil
	}
	e.Steps = steps
	e.UpdatedAt = at
	r.s.st.entries[entryID] = e
	return nil
}

// window returns items[offset:offset+limit]; a limit <= 0 means no upper bound.
func window[T any](items []T, offset, limit int) []T {
	if offset < 0 {
		offset = 0
	}
	if offset >= len(items) {
		return nil
	}
	end := len(items)
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}
	return append([]T(nil), items[offset:end]...)
}
