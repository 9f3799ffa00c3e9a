// Package memory はdatabaseパッケージの全リポジトリをプロセス内で実装します。
// テストと DATABASE_URL=memory でのローカル起動に使います。
package memory

import (
	"context"
	"sync"

	"github.com/progate-hackathon-strawberry-flavor/STRIDE-backend/internal/database"
	"github.com/progate-hackathon-strawberry-flavor/STRIDE-backend/internal/models"
)

type txKey struct{}

// state is everything the store holds. clone must copy every map and slice so a rollback can restore it.
type state struct {
	contests  map[string]models.Contest
	tiers     map[string][]models.PrizeTier
	entries   map[string]models.Entry // id -> entry
	entryKeys map[pairKey]string      // (user, contest) -> entry id
	series    map[string][]models.StepSample
	freezes   map[string]models.FreezeInfo
	frozen    map[string][]models.LeaderboardRow // rank順
	claims    map[string]models.PrizeClaim
	claimKeys map[pairKey]string // (user, contest) -> claim id
	verifiers map[string]models.Verifier
	credits   []models.QuotaCredit
	referrals map[string]models.Referral // referee -> referral
}

type pairKey struct {
	userID    string
	contestID string
}

func newState() *state {
	return &state{
		contests:  make(map[string]models.Contest),
		tiers:     make(map[string][]models.PrizeTier),
		entries:   make(map[string]models.Entry),
		entryKeys: make(map[pairKey]string),
		series:    make(map[string][]models.StepSample),
		freezes:   make(map[string]models.FreezeInfo),
		frozen:    make(map[string][]models.LeaderboardRow),
		claims:    make(map[string]models.PrizeClaim),
		claimKeys: make(map[pairKey]string),
		verifiers: make(map[string]models.Verifier),
		referrals: make(map[string]models.Referral),
	}
}

func (s *state) clone() *state {
	c := newState()
	for k, v := range s.contests {
		c.contests[k] = v
	}
	for k, v := range s.tiers {
		c.tiers[k] = append([]models.PrizeTier(nil), v...)
	}
	for k, v := range s.entries {
		c.entries[k] = v
	}
	for k, v := range s.entryKeys {
		c.entryKeys[k] = v
	}
	for k, v := range s.series {
		c.series[k] = append([]models.StepSample(nil), v...)
	}
	for k, v := range s.freezes {
		c.freezes[k] = v
	}
	for k, v := range s.frozen {
		c.frozen[k] = append([]models.LeaderboardRow(nil), v...)
	}
	for k, v := range s.claims {
		c.claims[k] = v
	}
	for k, v := range s.claimKeys {
		c.claimKeys[k] = v
	}
	for k, v := range s.verifiers {
		c.verifiers[k] = v
	}
	c.credits = append([]models.QuotaCredit(nil), s.credits...)
	for k, v := range s.referrals {
		c.referrals[k] = v
	}
	return c
}

// Store serializes every operation. A transaction holds the lock for its whole duration,
// so it behaves like SERIALIZABLE isolation.
type Store struct {
	mu sync.Mutex
	st *state
}

// New returns an empty store.
func New() *Store {
	return &Store{st: newState()}
}

// Repositories returns every repository backed by this store.
func (s *Store) Repositories() database.Repositories {
	return database.Repositories{
		Tx:           s,
		Contests:     &contestRepo{s: s},
		Entries:      &entryRepo{s: s},
		Steps:        &stepRepo{s: s},
		Leaderboards: &leaderboardRepo{s: s},
		Claims:       &claimRepo{s: s},
		Verifiers:    &verifierRepo{s: s},
		Quota:        &quotaRepo{s: s},
		Referrals:    &referralRepo{s: s},
	}
}

func (s *Store) inTx(ctx context.Context) bool {
	owner, _ := ctx.Value(txKey{}).(*Store)
	return owner == s
}

// lock acquires the store lock unless ctx already runs inside this store's transaction.
func (s *Store) lock(ctx context.Context) func() {
	if s.inTx(ctx) {
		return func() {}
	}
	s.mu.Lock()
	return s.mu.Unlock
}

// WithinTx runs fn with the store locked. Any error from fn restores the state seen at the start.
func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if s.inTx(ctx) {
		return fn(ctx)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot := s.st.clone()
	if err := fn(context.WithValue(ctx, txKey{}, s)); err != nil {
		s.st = snapshot
		return err
	}
	return nil
}
