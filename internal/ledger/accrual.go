package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"sai/internal/keylock"
	"sai/internal/store"
)

// Advance credits elapsed connected time to id and recomputes its aggregates. It is a no-op
// for identities whose node is not connected.
func (l *Ledger) Advance(ctx context.Context, id string, elapsed time.Duration) error {
	start := time.Now()
	var c *change
	err := l.store.Atomic(ctx, []string{id}, func(tx store.Tx) error {
		ident, err := tx.Identity(id)
		if err != nil {
			return err
		}
		if !ident.IsNodeConnected {
			return nil
		}
		prevTier := ident.CurrentTier
		now := l.now()
		rollover(ident, DateKey(now))
		ident.ConnectedMsToday += elapsed.Milliseconds()
		ident.TodayPoints = l.todayPoints(ident)
		if err := tx.PutDailyPoints(ident.Id, ident.AccrualDate, ident.TodayPoints); err != nil {
			return err
		}
		if err := l.reconcile(tx, ident); err != nil {
			return err
		}
		ident.LastActiveAt = &now
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

	switch {
	case err != nil:
		l.metrics.ObserveTick("error", time.Since(start))
	case c == nil:
		l.metrics.ObserveTick("skipped", time.Since(start))
	default:
		l.metrics.ObserveTick("ok", time.Since(start))
	}
	if errors.Is(err, store.ErrNotFound) {
		return ErrIdentityNotFound
	}
	if err != nil {
		return storageError("advance", err)
	}
	l.publish(c)
	return nil
}

// setConnected flips the node flag and publishes the resulting snapshot.
func (l *Ledger) setConnected(ctx context.Context, id string, connected bool) error {
	var c *change
	err := l.store.Atomic(ctx, []string{id}, func(tx store.Tx) error {
		ident, err := tx.Identity(id)
		if err != nil {
			return err
		}
		now := l.now()
		rollover(ident, DateKey(now))
		ident.IsNodeConnected = connected
		ident.LastActiveAt = &now
		if err := tx.SaveIdentity(ident); err != nil {
			return err
		}
		snap, err := l.snapshotTx(tx, ident, now)
		if err != nil {
			return err
		}
		c = newChange(ident, ident.CurrentTier, snap)
		return nil
	})
	if errors.Is(err, store.ErrNotFound) {
		return ErrIdentityNotFound
	}
	if err != nil {
		return storageError("set node state", err)
	}
	l.notifier.SendSnapshot(id, c.snapshot)
	return nil
}

// ApiHolder is the session id used for nodes connected through the REST endpoints.
const ApiHolder = "api"

// Engine runs one tick loop per connected identity.
type Engine struct {
	ledger    *Ledger
	sessions  *SessionTable
	lifecycle *keylock.Map
	log       zerolog.Logger
}

func NewEngine(l *Ledger, sessions *SessionTable) *Engine {
	if sessions == nil {
		sessions = NewSessionTable()
	}
	return &Engine{
		ledger:    l,
		sessions:  sessions,
		lifecycle: keylock.New(),
		log:       l.log.With().Str("component", "accrual").Logger(),
	}
}

func (e *Engine) Sessions() *SessionTable { return e.sessions }

// Connect starts accrual for id. Connecting an identity that already runs adds sessionId
// as another holder and pushes the current snapshot.
func (e *Engine) Connect(ctx context.Context, id, sessionId string) error {
	e.lifecycle.Lock(id)
	defer e.lifecycle.Unlock(id)

	if e.sessions.Hold(id, sessionId) {
		snap, err := e.ledger.Snapshot(ctx, id)
		if err != nil {
			return err
		}
		e.ledger.notifier.SendSnapshot(id, snap)
		return nil
	}
	if err := e.ledger.setConnected(ctx, id, true); err != nil {
		return err
	}
	e.sessions.Start(id, sessionId, func(ctx context.Context) { e.run(ctx, id) })
	e.ledger.metrics.SetConnectedNodes(e.sessions.Len())
	e.log.Info().Str("identity", id).Str("session", sessionId).Msg("node connected")
	return nil
}

// Disconnect stops accrual for id regardless of how many sessions hold it. When it returns
// no further tick of id will write.
func (e *Engine) Disconnect(ctx context.Context, id string) error {
	e.lifecycle.Lock(id)
	defer e.lifecycle.Unlock(id)
	return e.stop(ctx, id)
}

// DropSession releases sessionId. The last holder leaving stops the node.
func (e *Engine) DropSession(ctx context.Context, id, sessionId string) error {
	e.lifecycle.Lock(id)
	defer e.lifecycle.Unlock(id)
	if !e.sessions.Release(id, sessionId) {
		return nil
	}
	return e.stop(ctx, id)
}

func (e *Engine) stop(ctx context.Context, id string) error {
	if e.sessions.Stop(id) {
		e.ledger.metrics.SetConnectedNodes(e.sessions.Len())
		e.log.Info().Str("identity", id).Msg("node disconnected")
	}
	return e.ledger.setConnected(ctx, id, false)
}

// Tick credits one tick interval to a running node.
func (e *Engine) Tick(ctx context.Context, id string) error {
	if !e.sessions.Running(id) {
		return nil
	}
	return e.ledger.Advance(ctx, id, e.ledger.cfg.TickInterval)
}

func (e *Engine) run(ctx context.Context, id string) {
	ticker := time.NewTicker(e.ledger.cfg.TickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			err := e.ledger.Advance(ctx, id, e.ledger.cfg.TickInterval)
			if err != nil && ctx.Err() == nil {
				e.log.Error().Err(err).Str("identity", id).Msg("tick failed")
			}
		}
	}
}

// Shutdown stops every loop and clears the node flag of the identities it stopped.
func (e *Engine) Shutdown(ctx context.Context) {
	ids := e.sessions.StopAll()
	e.ledger.metrics.SetConnectedNodes(0)
	for _, id := range ids {
		if err := e.ledger.setConnected(ctx, id, false); err != nil {
			e.log.Warn().Err(err).Str("identity", id).Msg("clear node flag on shutdown")
		}
	}
	e.log.Info().Int("nodes", len(ids)).Msg("accrual engine stopped")
}
