// Package ledger owns point accrual, tier bonuses, referrals and the daily reset.
// Every mutation runs inside store.Atomic for the identities it touches and publishes
// its effects only after the commit.
package ledger

import (
	"time"

	"github.com/rs/zerolog"

	"sai/internal/store"
)

const (
	DateLayout = "2006-01-02"
	msPerHour  = int64(time.Hour / time.Millisecond)
)

type Config struct {
	TickInterval     time.Duration
	PointsPerHour    int64
	ReferralBonus    int64
	SeriesDays       int
	ReferralLinkBase string
}

func DefaultConfig() Config {
	return Config{
		TickInterval:     5 * time.Second,
		PointsPerHour:    10,
		ReferralBonus:    50,
		SeriesDays:       14,
		ReferralLinkBase: "https://sailabs.xyz/ref",
	}
}

// Deps are the collaborators of a Ledger. Only Store is required.
type Deps struct {
	Store    store.Store
	Notifier Notifier
	Roles    RoleSyncer
	Alerts   Alerter
	Cache    Invalidator
	Metrics  Recorder
	Logger   zerolog.Logger
	Clock    func() time.Time
}

type Ledger struct {
	cfg      Config
	store    store.Store
	notifier Notifier
	roles    RoleSyncer
	alerts   Alerter
	cache    Invalidator
	metrics  Recorder
	log      zerolog.Logger
	now      func() time.Time
}

func New(cfg Config, deps Deps) *Ledger {
	def := DefaultConfig()
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = def.TickInterval
	}
	if cfg.SeriesDays <= 0 {
		cfg.SeriesDays = def.SeriesDays
	}
	l := &Ledger{
		cfg:      cfg,
		store:    deps.Store,
		notifier: deps.Notifier,
		roles:    deps.Roles,
		alerts:   deps.Alerts,
		cache:    deps.Cache,
		metrics:  deps.Metrics,
		log:      deps.Logger.With().Str("component", "ledger").Logger(),
		now:      deps.Clock,
	}
	if l.notifier == nil {
		l.notifier = noopNotifier{}
	}
	if l.roles == nil {
		l.roles = noopRoles{}
	}
	if l.alerts == nil {
		l.alerts = noopAlerter{}
	}
	if l.cache == nil {
		l.cache = noopInvalidator{}
	}
	if l.metrics == nil {
		l.metrics = noopRecorder{}
	}
	if l.now == nil {
		l.now = time.Now
	}
	return l
}

func (l *Ledger) Config() Config { return l.cfg }

func (l *Ledger) Store() store.Store { return l.store }

func DateKey(t time.Time) string {
	return t.UTC().Format(DateLayout)
}

func (l *Ledger) today() string {
	return DateKey(l.now())
}

// rollover moves the today counters to date when they belong to an earlier day.
func rollover(ident *store.Identity, date string) {
	if ident.AccrualDate == date {
		return
	}
	ident.AccrualDate = date
	ident.ConnectedMsToday = 0
	ident.TodayBonusPoints = 0
	ident.TodayPoints = 0
}

// todayPoints derives today's total from connected time, so repeated recomputation with
// no elapsed time yields the same value.
func (l *Ledger) todayPoints(ident *store.Identity) int64 {
	return ident.ConnectedMsToday*l.cfg.PointsPerHour/msPerHour + ident.TodayBonusPoints
}

// reconcile recomputes the aggregates of ident from durable rows. Tier bonuses are granted
// once per tier, in rank order, until the tier reached by the new total is stable.
func (l *Ledger) reconcile(tx store.Tx, ident *store.Identity) error {
	daily, err := tx.SumDailyPoints(ident.Id)
	if err != nil {
		return err
	}
	bonuses, err := tx.SumTierBonuses(ident.Id)
	if err != nil {
		return err
	}
	total := daily + bonuses

	for {
		reached := TierFor(total)
		if reached.Rank <= ident.BonusTierRank {
			break
		}
		for _, t := range tiers[ident.BonusTierRank+1 : reached.Rank+1] {
			granted, err := tx.GrantTierBonus(ident.Id, t.Label, t.Bonus)
			if err != nil {
				return err
			}
			if granted {
				total += t.Bonus
				l.log.Info().Str("identity", ident.Id).Str("tier", t.Label).Int64("bonus", t.Bonus).Msg("tier bonus granted")
			}
		}
		ident.BonusTierRank = reached.Rank
	}

	days, err := tx.CountActiveDays(ident.Id)
	if err != nil {
		return err
	}
	ident.TotalPoints = total
	ident.CurrentTier = TierFor(total).Label
	ident.ActiveDays = days
	return nil
}

// seriesDates lists the last SeriesDays dates ending today, oldest first.
func (l *Ledger) seriesDates(now time.Time) []string {
	n := l.cfg.SeriesDays
	dates := make([]string, n)
	for i := 0; i < n; i++ {
		dates[i] = DateKey(now.AddDate(0, 0, i-n+1))
	}
	return dates
}

func (l *Ledger) snapshotTx(tx store.Tx, ident *store.Identity, now time.Time) (Snapshot, error) {
	dates := l.seriesDates(now)
	rows, err := tx.DailyPointsIn(ident.Id, dates)
	if err != nil {
		return Snapshot{}, err
	}
	series := make([]int64, len(dates))
	for i, d := range dates {
		series[i] = rows[d]
	}

	view := ident
	if ident.AccrualDate != DateKey(now) {
		view = ident.Clone()
		rollover(view, DateKey(now))
	}
	strength := 0
	if view.IsNodeConnected {
		strength = 4
	}
	return Snapshot{
		IdentityId:          view.Id,
		TotalPoints:         view.TotalPoints,
		TodayPoints:         view.TodayPoints,
		HoursConnectedToday: view.HoursConnectedToday(),
		ActiveDaysCount:     view.ActiveDays,
		CurrentTier:         view.CurrentTier,
		ReferralsCount:      view.ReferralsCount,
		DailyPoints:         series,
		NetworkStrength:     strength,
	}, nil
}

// change is what a committed mutation publishes.
type change struct {
	snapshot  Snapshot
	accountId string
	syncRoles bool
}

func newChange(ident *store.Identity, prevTier string, snap Snapshot) *change {
	c := &change{snapshot: snap, syncRoles: prevTier != ident.CurrentTier}
	if ident.ExternalAccountId != nil {
		c.accountId = *ident.ExternalAccountId
	}
	return c
}

func (l *Ledger) publish(c *change) {
	if c == nil {
		return
	}
	l.notifier.SendSnapshot(c.snapshot.IdentityId, c.snapshot)
	l.notifier.BroadcastLeaderboard(LeaderboardDelta{IdentityId: c.snapshot.IdentityId, TotalPoints: c.snapshot.TotalPoints})
	l.cache.InvalidateLeaderboard()
	if c.syncRoles && c.accountId != "" {
		l.log.Info().Str("identity", c.snapshot.IdentityId).Str("tier", c.snapshot.CurrentTier).Msg("tier changed, syncing roles")
		l.roles.SyncTier(c.accountId, c.snapshot.CurrentTier)
	}
}
