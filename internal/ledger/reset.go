package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"sai/internal/store"
)

// ResetSchedule fires at 00:00 UTC.
const ResetSchedule = "0 0 * * *"

// ResetDay moves the today counters of id to the current date and fully reconciles its
// aggregates. Counters already belonging to today are kept, so a sweep run twice, or a
// tick that rolled the identity over first, never shrinks today's daily entry.
func (l *Ledger) ResetDay(ctx context.Context, id string) error {
	var c *change
	err := l.store.Atomic(ctx, []string{id}, func(tx store.Tx) error {
		ident, err := tx.Identity(id)
		if err != nil {
			return err
		}
		prevTier := ident.CurrentTier
		now := l.now()
		rollover(ident, DateKey(now))
		if err := l.reconcile(tx, ident); err != nil {
			return err
		}
		if err := tx.SaveIdentity(ident); err != nil {
			return err
		}
		snap, err := l.snapshotTx(tx, ident, now)
		if err != nil {
			return err
		}
		c = newChange(ident, prevTier, snap)
		return nil
	})
	if errors.Is(err, store.ErrNotFound) {
		return ErrIdentityNotFound
	}
	if err != nil {
		return storageError("reset day", err)
	}
	l.publish(c)
	return nil
}

type ResetReport struct {
	Processed int
	Failed    int
}

// DailyReset sweeps every identity once a day.
type DailyReset struct {
	ledger *Ledger
	cron   *cron.Cron
	log    zerolog.Logger
}

func NewDailyReset(l *Ledger) *DailyReset {
	return &DailyReset{
		ledger: l,
		cron:   cron.New(cron.WithLocation(time.UTC)),
		log:    l.log.With().Str("component", "reset").Logger(),
	}
}

func (r *DailyReset) Start() error {
	_, err := r.cron.AddFunc(ResetSchedule, func() {
		r.RunOnce(context.Background())
	})
	if err != nil {
		return err
	}
	r.cron.Start()
	r.log.Info().Str("schedule", ResetSchedule).Msg("daily reset scheduler started")
	return nil
}

// Stop waits for a running sweep to finish.
func (r *DailyReset) Stop() {
	ctx := r.cron.Stop()
	<-ctx.Done()
	r.log.Info().Msg("daily reset scheduler stopped")
}

// RunOnce resets every identity. A failing identity is logged and skipped.
func (r *DailyReset) RunOnce(ctx context.Context) ResetReport {
	var report ResetReport
	ids, err := r.ledger.store.ListIdentityIDs(ctx)
	if err != nil {
		r.log.Error().Err(err).Msg("list identities for reset")
		return report
	}
	r.log.Info().Int("identities", len(ids)).Msg("daily reset started")

	for _, id := range ids {
		if err := r.ledger.ResetDay(ctx, id); err != nil {
			r.log.Error().Err(err).Str("identity", id).Msg("reset identity")
			report.Failed++
			continue
		}
		report.Processed++
	}
	r.ledger.metrics.ObserveReset(report.Processed, report.Failed)
	r.log.Info().Int("processed", report.Processed).Int("failed", report.Failed).Msg("daily reset completed")
	return report
}
