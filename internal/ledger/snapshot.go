package ledger

import (
	"context"
	"errors"

	"sai/internal/store"
)

// Snapshot returns the same view a push for id would carry.
func (l *Ledger) Snapshot(ctx context.Context, id string) (Snapshot, error) {
	var snap Snapshot
	err := l.store.View(ctx, func(tx store.Tx) error {
		ident, err := tx.Identity(id)
		if err != nil {
			return err
		}
		snap, err = l.snapshotTx(tx, ident, l.now())
		return err
	})
	if errors.Is(err, store.ErrNotFound) {
		return Snapshot{}, ErrIdentityNotFound
	}
	if err != nil {
		return Snapshot{}, storageError("snapshot", err)
	}
	return snap, nil
}

type DailyEntry struct {
	Date   string `json:"date"`
	Points int64  `json:"points"`
}

// DailySeries returns the recent per-day totals of id with their dates, oldest first.
func (l *Ledger) DailySeries(ctx context.Context, id string) ([]DailyEntry, error) {
	dates := l.seriesDates(l.now())
	var rows map[string]int64
	err := l.store.View(ctx, func(tx store.Tx) error {
		if _, err := tx.Identity(id); err != nil {
			return err
		}
		var err error
		rows, err = tx.DailyPointsIn(id, dates)
		return err
	})
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrIdentityNotFound
	}
	if err != nil {
		return nil, storageError("daily series", err)
	}
	out := make([]DailyEntry, len(dates))
	for i, d := range dates {
		out[i] = DailyEntry{Date: d, Points: rows[d]}
	}
	return out, nil
}
