package memstore

import (
	"time"

	"sai/internal/store"
)

// tx stages writes on top of the committed maps. Nothing is visible to other callers
// until commit.
type tx struct {
	s        *Store
	readOnly bool

	identities map[string]*store.Identity
	daily      map[string]map[string]int64
	bonuses    map[string]map[string]int64
	referrals  []store.ReferralEvent
}

func (s *Store) newTx(readOnly bool) *tx {
	return &tx{
		s:          s,
		readOnly:   readOnly,
		identities: make(map[string]*store.Identity),
		daily:      make(map[string]map[string]int64),
		bonuses:    make(map[string]map[string]int64),
	}
}

func (t *tx) Identity(id string) (*store.Identity, error) {
	if staged, ok := t.identities[id]; ok {
		return staged.Clone(), nil
	}
	t.s.mu.RLock()
	defer t.s.mu.RUnlock()
	ident, ok := t.s.identities[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return ident.Clone(), nil
}

func (t *tx) IdentityByReferralCode(code string) (*store.Identity, error) {
	for _, staged := range t.identities {
		if staged.ReferralCode == code {
			return staged.Clone(), nil
		}
	}
	t.s.mu.RLock()
	defer t.s.mu.RUnlock()
	for _, ident := range t.s.identities {
		if ident.ReferralCode == code {
			return ident.Clone(), nil
		}
	}
	return nil, store.ErrNotFound
}

func (t *tx) SaveIdentity(ident *store.Identity) error {
	if t.readOnly {
		return store.ErrReadOnly
	}
	ident.UpdatedAt = time.Now()
	t.identities[ident.Id] = ident.Clone()
	return nil
}

func (t *tx) PutDailyPoints(id, date string, points int64) error {
	if t.readOnly {
		return store.ErrReadOnly
	}
	if t.daily[id] == nil {
		t.daily[id] = make(map[string]int64)
	}
	t.daily[id][date] = points
	return nil
}

// merged overlays staged rows on a copy of the committed rows for one identity.
func (t *tx) merged(committed map[string]map[string]int64, staged map[string]map[string]int64, id string) map[string]int64 {
	t.s.mu.RLock()
	out := make(map[string]int64, len(committed[id])+len(staged[id]))
	for k, v := range committed[id] {
		out[k] = v
	}
	t.s.mu.RUnlock()
	for k, v := range staged[id] {
		out[k] = v
	}
	return out
}

func (t *tx) SumDailyPoints(id string) (int64, error) {
	var sum int64
	for _, v := range t.merged(t.s.daily, t.daily, id) {
		sum += v
	}
	return sum, nil
}

func (t *tx) CountActiveDays(id string) (int64, error) {
	return int64(len(t.merged(t.s.daily, t.daily, id))), nil
}

func (t *tx) DailyPointsIn(id string, dates []string) (map[string]int64, error) {
	all := t.merged(t.s.daily, t.daily, id)
	out := make(map[string]int64, len(dates))
	for _, d := range dates {
		if v, ok := all[d]; ok {
			out[d] = v
		}
	}
	return out, nil
}

func (t *tx) GrantTierBonus(id, tier string, points int64) (bool, error) {
	if t.readOnly {
		return false, store.ErrReadOnly
	}
	if _, ok := t.merged(t.s.bonuses, t.bonuses, id)[tier]; ok {
		return false, nil
	}
	if t.bonuses[id] == nil {
		t.bonuses[id] = make(map[string]int64)
	}
	t.bonuses[id][tier] = points
	return true, nil
}

func (t *tx) SumTierBonuses(id string) (int64, error) {
	var sum int64
	for _, v := range t.merged(t.s.bonuses, t.bonuses, id) {
		sum += v
	}
	return sum, nil
}

func (t *tx) RecordReferral(ev *store.ReferralEvent) error {
	if t.readOnly {
		return store.ErrReadOnly
	}
	for _, staged := range t.referrals {
		if staged.RefereeId == ev.RefereeId {
			return store.ErrDuplicate
		}
	}
	t.s.mu.RLock()
	_, exists := t.s.referrals[ev.RefereeId]
	t.s.mu.RUnlock()
	if exists {
		return store.ErrDuplicate
	}
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = time.Now()
	}
	t.referrals = append(t.referrals, *ev)
	return nil
}

func (t *tx) commit() error {
	s := t.s
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, ident := range t.identities {
		if s.conflicts(ident) {
			return store.ErrDuplicate
		}
	}
	for _, ev := range t.referrals {
		if _, ok := s.referrals[ev.RefereeId]; ok {
			return store.ErrDuplicate
		}
	}

	for id, ident := range t.identities {
		s.identities[id] = ident
	}
	for id, rows := range t.daily {
		if s.daily[id] == nil {
			s.daily[id] = make(map[string]int64)
		}
		for date, v := range rows {
			s.daily[id][date] = v
		}
	}
	for id, rows := range t.bonuses {
		if s.bonuses[id] == nil {
			s.bonuses[id] = make(map[string]int64)
		}
		for tier, v := range rows {
			s.bonuses[id][tier] = v
		}
	}
	for _, ev := range t.referrals {
		s.referrals[ev.RefereeId] = ev
	}
	return nil
}
