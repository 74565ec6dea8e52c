// Package memstore keeps the ledger in process memory. It backs tests and the `memory`
// database driver used for local development.
package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"sai/internal/keylock"
	"sai/internal/store"
)

type Store struct {
	locks *keylock.Map

	mu         sync.RWMutex
	identities map[string]*store.Identity
	daily      map[string]map[string]int64
	bonuses    map[string]map[string]int64
	referrals  map[string]store.ReferralEvent
}

var _ store.Store = (*Store)(nil)

func New() *Store {
	return &Store{
		locks:      keylock.New(),
		identities: make(map[string]*store.Identity),
		daily:      make(map[string]map[string]int64),
		bonuses:    make(map[string]map[string]int64),
		referrals:  make(map[string]store.ReferralEvent),
	}
}

func (s *Store) Migrate(context.Context) error { return nil }

func (s *Store) CreateIdentity(ctx context.Context, ident *store.Identity) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	s.locks.Lock(ident.Id)
	defer s.locks.Unlock(ident.Id)

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.identities[ident.Id]; ok {
		return false, nil
	}
	if s.conflicts(ident) {
		return false, store.ErrDuplicate
	}
	now := time.Now()
	c := ident.Clone()
	c.CreatedAt, c.UpdatedAt = now, now
	s.identities[c.Id] = c
	ident.CreatedAt, ident.UpdatedAt = now, now
	return true, nil
}

// conflicts reports whether ident would break a unique column held by another identity.
// Callers hold s.mu.
func (s *Store) conflicts(ident *store.Identity) bool {
	for id, other := range s.identities {
		if id == ident.Id {
			continue
		}
		if other.ReferralCode == ident.ReferralCode {
			return true
		}
		if ident.ExternalAccountId != nil && other.ExternalAccountId != nil &&
			*ident.ExternalAccountId == *other.ExternalAccountId {
			return true
		}
	}
	return false
}

func (s *Store) View(ctx context.Context, fn func(tx store.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return fn(s.newTx(true))
}

func (s *Store) Atomic(ctx context.Context, ids []string, fn func(tx store.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	order := store.LockOrder(ids)
	s.locks.LockAll(order)
	defer s.locks.UnlockAll(order)

	t := s.newTx(false)
	if err := fn(t); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return t.commit()
}

func (s *Store) ListIdentityIDs(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.identities))
	for id := range s.identities {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

func (s *Store) ListLinkedIdentities(ctx context.Context) ([]store.Identity, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []store.Identity
	for _, ident := range s.identities {
		if ident.ExternalAccountId != nil {
			out = append(out, *ident.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Id < out[j].Id })
	return out, nil
}

func (s *Store) IdentityByExternalAccount(ctx context.Context, accountId string) (*store.Identity, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, ident := range s.identities {
		if ident.ExternalAccountId != nil && *ident.ExternalAccountId == accountId {
			return ident.Clone(), nil
		}
	}
	return nil, store.ErrNotFound
}

func (s *Store) Leaderboard(ctx context.Context, limit int) ([]store.LeaderboardEntry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	out := make([]store.LeaderboardEntry, 0, len(s.identities))
	for _, ident := range s.identities {
		if ident.TotalPoints > 0 {
			out = append(out, store.LeaderboardEntry{IdentityId: ident.Id, TotalPoints: ident.TotalPoints})
		}
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].TotalPoints != out[j].TotalPoints {
			return out[i].TotalPoints > out[j].TotalPoints
		}
		return out[i].IdentityId < out[j].IdentityId
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) ReferralRanking(ctx context.Context, limit int) ([]store.ReferralRankingEntry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	out := make([]store.ReferralRankingEntry, 0)
	for _, ident := range s.identities {
		if ident.ReferralsCount > 0 {
			out = append(out, store.ReferralRankingEntry{IdentityId: ident.Id, ReferralsCount: ident.ReferralsCount})
		}
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].ReferralsCount != out[j].ReferralsCount {
			return out[i].ReferralsCount > out[j].ReferralsCount
		}
		return out[i].IdentityId < out[j].IdentityId
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) ClearNodeConnections(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ident := range s.identities {
		ident.IsNodeConnected = false
	}
	return nil
}
