// Package testutil holds recording fakes shared by package tests.
package testutil

import (
	"context"
	"sync"
	"time"

	"sai/internal/ledger"
	"sai/internal/store/memstore"
)

// Clock is a settable time source.
type Clock struct {
	mu sync.Mutex
	t  time.Time
}

func NewClock(t time.Time) *Clock { return &Clock{t: t} }

func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *Clock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = t
}

func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

// Notifier implements ledger.Notifier and records every push.
type Notifier struct {
	mu        sync.Mutex
	Snapshots map[string][]ledger.Snapshot
	Deltas    []ledger.LeaderboardDelta
}

func NewNotifier() *Notifier {
	return &Notifier{Snapshots: make(map[string][]ledger.Snapshot)}
}

func (n *Notifier) SendSnapshot(id string, snap ledger.Snapshot) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.Snapshots[id] = append(n.Snapshots[id], snap)
}

func (n *Notifier) BroadcastLeaderboard(delta ledger.LeaderboardDelta) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.Deltas = append(n.Deltas, delta)
}

func (n *Notifier) Last(id string) (ledger.Snapshot, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	s := n.Snapshots[id]
	if len(s) == 0 {
		return ledger.Snapshot{}, false
	}
	return s[len(s)-1], true
}

func (n *Notifier) Count(id string) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.Snapshots[id])
}

func (n *Notifier) DeltaCount() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.Deltas)
}

type RoleCall struct {
	Action    string
	AccountId string
	Tier      string
}

// Roles implements ledger.RoleSyncer and roles.Assigner, recording calls in order.
type Roles struct {
	mu    sync.Mutex
	calls []RoleCall
	Err   error
}

func (r *Roles) record(c RoleCall) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, c)
}

func (r *Roles) SyncTier(accountId, tier string) {
	r.record(RoleCall{Action: "sync", AccountId: accountId, Tier: tier})
}

func (r *Roles) ClearTiers(accountId string) {
	r.record(RoleCall{Action: "clear", AccountId: accountId})
}

func (r *Roles) Calls() []RoleCall {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]RoleCall, len(r.calls))
	copy(out, r.calls)
	return out
}

// Assigner records role assignments made by a dispatcher.
type Assigner struct {
	Roles
	Delay time.Duration
}

func (a *Assigner) SyncTier(ctx context.Context, accountId, tier string) error {
	a.wait(ctx)
	a.record(RoleCall{Action: "sync", AccountId: accountId, Tier: tier})
	return a.Err
}

func (a *Assigner) ClearTiers(ctx context.Context, accountId string) error {
	a.wait(ctx)
	a.record(RoleCall{Action: "clear", AccountId: accountId})
	return a.Err
}

func (a *Assigner) wait(ctx context.Context) {
	if a.Delay <= 0 {
		return
	}
	select {
	case <-time.After(a.Delay):
	case <-ctx.Done():
	}
}

// Alerts implements ledger.Alerter.
type Alerts struct {
	mu        sync.Mutex
	SignUps   []string
	Referrals []string
}

func (a *Alerts) SignedUp(id string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.SignUps = append(a.SignUps, id)
}

func (a *Alerts) ReferralCredited(referrerId, refereeId string, _ int64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.Referrals = append(a.Referrals, referrerId+"<-"+refereeId)
}

// Fixture is a ledger over a memstore with recording collaborators.
type Fixture struct {
	Store    *memstore.Store
	Clock    *Clock
	Notifier *Notifier
	Roles    *Roles
	Alerts   *Alerts
	Ledger   *ledger.Ledger
}

func NewFixture(cfg ledger.Config) *Fixture {
	f := &Fixture{
		Store:    memstore.New(),
		Clock:    NewClock(time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)),
		Notifier: NewNotifier(),
		Roles:    &Roles{},
		Alerts:   &Alerts{},
	}
	f.Ledger = ledger.New(cfg, ledger.Deps{
		Store:    f.Store,
		Notifier: f.Notifier,
		Roles:    f.Roles,
		Alerts:   f.Alerts,
		Clock:    f.Clock.Now,
	})
	return f
}
