package memory

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/progate-hackathon-strawberry-flavor/STRIDE-backend/internal/models"
)

type stepRepo struct {
	s *Store
}

// LoadForUpdate is Load: the store lock already serializes the surrounding transaction.
func (r *stepRepo) LoadForUpdate(ctx context.Context, userID string) ([]models.StepSample, error) {
	return r.Load(ctx, userID)
}

func (r *stepRepo) Load(ctx context.Context, userID string) ([]models.StepSample, error) {
	defer r.s.lock(ctx)()
	samples, ok := r.s.st.series[userID]
	if !ok {
		return nil, nil
	}
	return append([]models.StepSample(nil), samples...), nil
}

func (r *stepRepo) Save(ctx context.Context, userID string, samples []models.StepSample, _ time.Time) error {
	defer r.s.lock(ctx)()
	r.s.st.series[userID] = append([]models.StepSample(nil), samples...)
	return nil
}

type leaderboardRepo struct {
	s *Store
}

func (r *leaderboardRepo) Freeze(ctx context.Context, info models.FreezeInfo, rows []models.LeaderboardRow) (bool, error) {
	defer r.s.lock(ctx)()
	if _, ok := r.s.st.freezes[info.ContestID]; ok {
		return false, nil
	}
	r.s.st.freezes[info.ContestID] = info
	cp := append([]models.LeaderboardRow(nil), rows...)
	sort.Slice(cp, func(i, j int) bool { return cp[i].Rank < cp[j].Rank })
	r.s.st.frozen[info.ContestID] = cp
	return true, nil
}

func (r *leaderboardRepo) Frozen(ctx context.Context, contestID string) (*models.FreezeInfo, error) {
	defer r.s.lock(ctx)()
	info, ok := r.s.st.freezes[contestID]
	if !ok {
		return nil, nil
	}
	return &info, nil
}

func (r *leaderboardRepo) Rows(ctx context.Context, contestID string, offset, limit int) ([]models.LeaderboardRow, error) {
	defer r.s.lock(ctx)()
	return window(r.s.st.frozen[contestID], offset, limit), nil
}

func (r *leaderboardRepo) Row(ctx context.Context, contestID, userID string) (*models.LeaderboardRow, error) {
	defer r.s.lock(ctx)()
	for _, row := range r.s.st.frozen[contestID] {
		if row.UserID == userID {
			found := row
			return &found, nil
		}
	}
	return nil, nil
}

type claimRepo struct {
	s *Store
}

func (r *claimRepo) CreateIfAbsent(ctx context.Context, c *models.PrizeClaim) (*models.PrizeClaim, bool, error) {
	defer r.s.lock(ctx)()
	key := pairKey{userID: c.UserID, contestID: c.ContestID}
	if id, ok := r.s.st.claimKeys[key]; ok {
		existing := r.s.st.claims[id]
		return &existing, false, nil
	}
	r.s.st.claims[c.ID] = *c
	r.s.st.claimKeys[key] = c.ID
	created := *c
	return &created, true, nil
}

func (r *claimRepo) Get(ctx context.Context, id string) (*models.PrizeClaim, error) {
	defer r.s.lock(ctx)()
	c, ok := r.s.st.claims[id]
	if !ok {
		return nil, nil
	}
	return &c, nil
}

func (r *claimRepo) GetByUser(ctx context.Context, contestID, userID string) (*models.PrizeClaim, error) {
	defer r.s.lock(ctx)()
	id, ok := r.s.st.claimKeys[pairKey{userID: userID, contestID: contestID}]
	if !ok {
		return nil, nil
	}
	c := r.s.st.claims[id]
	return &c, nil
}

func (r *claimRepo) ListByUser(ctx context.Context, userID string) ([]models.PrizeClaim, error) {
	defer r.s.lock(ctx)()
	var out []models.PrizeClaim
	for _, c := range r.s.st.claims {
		if c.UserID == userID {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (r *claimRepo) UpdateStatus(ctx context.Context, id string, from, to models.ClaimStatus, note string, at time.Time) (bool, error) {
	defer r.s.lock(ctx)()
	c, ok := r.s.st.claims[id]
	if !ok || c.Status != from {
		return false, nil
	}
	c.Status = to
	if note != "" {
		c.Note = note
	}
	c.UpdatedAt = at
	r.s.st.claims[id] = c
	return true, nil
}

func (r *claimRepo) SetVerifier(ctx context.Context, id, verifierID string, at time.Time) (bool, error) {
	defer r.s.lock(ctx)()
	c, ok := r.s.st.claims[id]
	if !ok || c.Status.IsTerminal() {
		return false, nil
	}
	if _, ok := r.s.st.verifiers[verifierID]; !ok {
		return false, fmt.Errorf("検証担当者の割り当てに失敗しました: %s が存在しません", verifierID)
	}
	c.VerifierID = &verifierID
	c.UpdatedAt = at
	r.s.st.claims[id] = c
	return true, nil
}

type verifierRepo struct {
	s *Store
}

func (r *verifierRepo) Create(ctx context.Context, v *models.Verifier) error {
	defer r.s.lock(ctx)()
	if _, ok := r.s.st.verifiers[v.ID]; ok {
		return fmt.Errorf("検証担当者の登録に失敗しました: id %s は既に存在します", v.ID)
	}
	r.s.st.verifiers[v.ID] = *v
	return nil
}

func (r *verifierRepo) Get(ctx context.Context, id string) (*models.Verifier, error) {
	defer r.s.lock(ctx)()
	v, ok := r.s.st.verifiers[id]
	if !ok {
		return nil, nil
	}
	return &v, nil
}

func (r *verifierRepo) ListActive(ctx context.Context) ([]models.Verifier, error) {
	defer r.s.lock(ctx)()
	var out []models.Verifier
	for _, v := range r.s.st.verifiers {
		if v.Active {
			out = append(out, v)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

type quotaRepo struct {
	s *Store
}

func (r *quotaRepo) Grant(ctx context.Context, c *models.QuotaCredit) error {
	defer r.s.lock(ctx)()
	r.s.st.credits = append(r.s.st.credits, *c)
	return nil
}

// ConsumeOne picks the usable credit that expires first, undated credits last.
func (r *quotaRepo) ConsumeOne(ctx context.Context, userID string, now time.Time) (bool, error) {
	defer r.s.lock(ctx)()
	best := -1
	for i, c := range r.s.st.credits {
		if c.UserID != userID || c.Available(now) == 0 {
			continue
		}
		if best < 0 || creditLess(c, r.s.st.credits[best]) {
			best = i
		}
	}
	if best < 0 {
		return false, nil
	}
	r.s.st.credits[best].Consumed++
	return true, nil
}

func (r *quotaRepo) ListActive(ctx context.Context, userID string, now time.Time) ([]models.QuotaCredit, error) {
	defer r.s.lock(ctx)()
	var out []models.QuotaCredit
	for _, c := range r.s.st.credits {
		if c.UserID == userID && !c.Expired(now) {
			out = append(out, c)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return creditLess(out[i], out[j]) })
	return out, nil
}

func (r *quotaRepo) CountBySource(ctx context.Context, userID string, source models.CreditSource) (int, error) {
	defer r.s.lock(ctx)()
	n := 0
	for _, c := range r.s.st.credits {
		if c.UserID == userID && c.Source == source {
			n++
		}
	}
	return n, nil
}

func (r *quotaRepo) LockUser(context.Context, string) error {
	return nil
}

// creditLess orders by expiry ascending with nil expiry last, then creation time, then id.
func creditLess(a, b models.QuotaCredit) bool {
	switch {
	case a.ExpiresAt != nil && b.ExpiresAt == nil:
		return true
	case a.ExpiresAt == nil && b.ExpiresAt != nil:
		return false
	case a.ExpiresAt != nil && !a.ExpiresAt.Equal(*b.ExpiresAt):
		return a.ExpiresAt.Before(*b.ExpiresAt)
	}
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return a.ID < b.ID
}

type referralRepo struct {
	s *Store
}

func (r *referralRepo) CreateIfAbsent(ctx context.Context, ref *models.Referral) (*models.Referral, bool, error) {
	defer r.s.lock(ctx)()
	if existing, ok := r.s.st.referrals[ref.RefereeID]; ok {
		return &existing, false, nil
	}
	r.s.st.referrals[ref.RefereeID] = *ref
	created := *ref
	return &created, true, nil
}

func (r *referralRepo) CountByReferrer(ctx context.Context, referrerID string) (int, error) {
	defer r.s.lock(ctx)()
	n := 0
	for _, ref := range r.s.st.referrals {
		if ref.ReferrerID == referrerID {
			n++
		}
	}
	return n, nil
}
