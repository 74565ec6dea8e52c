package store

import (
	"context"
	"errors"
	"sort"
)

var (
	ErrNotFound  = errors.New("store: record not found")
	ErrDuplicate = errors.New("store: duplicate key")
	ErrReadOnly  = errors.New("store: write in read-only transaction")
)

// Store is the durable home of identities, daily entries, tier bonuses and referral events.
type Store interface {
	Migrate(ctx context.Context) error
	// CreateIdentity inserts the identity unless one with the same id exists.
	CreateIdentity(ctx context.Context, ident *Identity) (bool, error)
	// View runs fn against a read-only view.
	View(ctx context.Context, fn func(tx Tx) error) error
	// Atomic locks the given identities, runs fn and commits every write fn made, or none
	// of them when fn returns an error.
	Atomic(ctx context.Context, ids []string, fn func(tx Tx) error) error

	ListIdentityIDs(ctx context.Context) ([]string, error)
	ListLinkedIdentities(ctx context.Context) ([]Identity, error)
	IdentityByExternalAccount(ctx context.Context, accountId string) (*Identity, error)
	Leaderboard(ctx context.Context, limit int) ([]LeaderboardEntry, error)
	ReferralRanking(ctx context.Context, limit int) ([]ReferralRankingEntry, error)
	// ClearNodeConnections resets every is_node_connected flag.
	ClearNodeConnections(ctx context.Context) error
}

// Tx is the view a single Atomic or View callback works through.
type Tx interface {
	Identity(id string) (*Identity, error)
	IdentityByReferralCode(code string) (*Identity, error)
	SaveIdentity(ident *Identity) error

	// PutDailyPoints replaces the entry for (id, date).
	PutDailyPoints(id, date string, points int64) error
	SumDailyPoints(id string) (int64, error)
	CountActiveDays(id string) (int64, error)
	DailyPointsIn(id string, dates []string) (map[string]int64, error)

	// GrantTierBonus records the bonus unless the tier was granted before.
	GrantTierBonus(id, tier string, points int64) (bool, error)
	SumTierBonuses(id string) (int64, error)

	RecordReferral(ev *ReferralEvent) error
}

// LockOrder returns the ids deduplicated and sorted, the order every Atomic acquires locks in.
func LockOrder(ids []string) []string {
	out := make([]string, 0, len(ids))
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
