package ledger

import "time"

// Snapshot is the per-identity view pushed to clients and returned by the stats endpoint.
type Snapshot struct {
	IdentityId          string  `json:"identityId"`
	TotalPoints         int64   `json:"totalPoints"`
	TodayPoints         int64   `json:"todayPoints"`
	HoursConnectedToday float64 `json:"hoursConnectedToday"`
	ActiveDaysCount     int64   `json:"activeDaysCount"`
	CurrentTier         string  `json:"currentTier"`
	ReferralsCount      int64   `json:"referralsCount"`
	DailyPoints         []int64 `json:"dailyPoints"`
	NetworkStrength     int     `json:"networkStrength"`
}

type LeaderboardDelta struct {
	IdentityId  string `json:"identityId"`
	TotalPoints int64  `json:"totalPoints"`
}

// Notifier pushes updates to connected clients. Implementations must not block.
type Notifier interface {
	SendSnapshot(identityId string, snapshot Snapshot)
	BroadcastLeaderboard(delta LeaderboardDelta)
}

// RoleSyncer hands role changes for an external account to a background executor.
// Calls return immediately.
type RoleSyncer interface {
	SyncTier(accountId, tier string)
	ClearTiers(accountId string)
}

// WaitingRoleSyncer is a RoleSyncer that can wait for queue space instead of dropping.
// Bulk resyncs use it when available.
type WaitingRoleSyncer interface {
	SyncTierWait(accountId, tier string)
}

// Alerter reports notable events to operators.
type Alerter interface {
	SignedUp(identityId string)
	ReferralCredited(referrerId, refereeId string, bonus int64)
}

// Invalidator drops cached projections after a write.
type Invalidator interface {
	InvalidateLeaderboard()
	InvalidateReferralRanking()
}

// Recorder receives ledger metrics.
type Recorder interface {
	ObserveTick(result string, d time.Duration)
	SetConnectedNodes(n int)
	IncReferral(result string)
	ObserveReset(processed, failed int)
}

type noopNotifier struct{}

func (noopNotifier) SendSnapshot(string, Snapshot)         {}
func (noopNotifier) BroadcastLeaderboard(LeaderboardDelta) {}

type noopRoles struct{}

func (noopRoles) SyncTier(string, string) {}
func (noopRoles) ClearTiers(string)       {}

type noopAlerter struct{}

func (noopAlerter) SignedUp(string)                        {}
func (noopAlerter) ReferralCredited(string, string, int64) {}

type noopInvalidator struct{}

func (noopInvalidator) InvalidateLeaderboard()     {}
func (noopInvalidator) InvalidateReferralRanking() {}

type noopRecorder struct{}

func (noopRecorder) ObserveTick(string, time.Duration) {}
func (noopRecorder) SetConnectedNodes(int)             {}
func (noopRecorder) IncReferral(string)                {}
func (noopRecorder) ObserveReset(int, int)             {}
