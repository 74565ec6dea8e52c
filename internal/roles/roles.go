// Package roles keeps tier roles of linked external accounts in step with ledger tiers.
package roles

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"sai/internal/ledger"
	"sai/internal/worker"
)

// Assigner applies tier roles on the external service. SyncTier leaves exactly the role
// of tier among the tier roles; ClearTiers removes all of them. Both are idempotent.
type Assigner interface {
	SyncTier(ctx context.Context, accountId, tier string) error
	ClearTiers(ctx context.Context, accountId string) error
}

var ErrMemberNotFound = errors.New("roles: member not found")

// Noop drops every request. Used when no role dispatcher is configured.
type Noop struct{}

var _ ledger.RoleSyncer = Noop{}

func (Noop) SyncTier(string, string) {}
func (Noop) ClearTiers(string)       {}

// PoolDispatcher runs assignments on a worker pool.
type PoolDispatcher struct {
	pool     *worker.Pool
	assigner Assigner
	timeout  time.Duration
	results  ResultRecorder
	log      zerolog.Logger
}

// ResultRecorder counts role sync outcomes.
type ResultRecorder interface {
	IncRoleSync(action, result string)
}

var (
	_ ledger.RoleSyncer        = (*PoolDispatcher)(nil)
	_ ledger.WaitingRoleSyncer = (*PoolDispatcher)(nil)
)

func NewPoolDispatcher(pool *worker.Pool, assigner Assigner, timeout time.Duration, results ResultRecorder, log zerolog.Logger) *PoolDispatcher {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &PoolDispatcher{
		pool:     pool,
		assigner: assigner,
		timeout:  timeout,
		results:  results,
		log:      log.With().Str("component", "roles").Logger(),
	}
}

func (d *PoolDispatcher) SyncTier(accountId, tier string) {
	d.submit(ActionSync, accountId, false, d.syncFn(accountId, tier))
}

// SyncTierWait is SyncTier that blocks while the pool queue is full.
func (d *PoolDispatcher) SyncTierWait(accountId, tier string) {
	d.submit(ActionSync, accountId, true, d.syncFn(accountId, tier))
}

func (d *PoolDispatcher) ClearTiers(accountId string) {
	d.submit(ActionClear, accountId, false, func(ctx context.Context) error {
		return d.assigner.ClearTiers(ctx, accountId)
	})
}

func (d *PoolDispatcher) syncFn(accountId, tier string) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		return d.assigner.SyncTier(ctx, accountId, tier)
	}
}

func (d *PoolDispatcher) submit(action, accountId string, wait bool, fn func(ctx context.Context) error) {
	ok := submitTo(d.pool, wait, worker.TaskFunc(func() {
		ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
		defer cancel()
		err := fn(ctx)
		record(d.results, action, err)
		if err != nil {
			d.log.Error().Err(err).Str("action", action).Str("account", accountId).Msg("role sync failed")
		}
	}))
	if !ok {
		record(d.results, action, errQueueFull)
		d.log.Warn().Str("action", action).Str("account", accountId).Msg("role sync queue full, dropping")
	}
}

// submitTo reports false when the task was not queued.
func submitTo(pool *worker.Pool, wait bool, task worker.Task) bool {
	if wait {
		return pool.Exec(task)
	}
	return pool.TrySubmit(task)
}

var errQueueFull = errors.New("roles: queue full")

func record(r ResultRecorder, action string, err error) {
	if r == nil {
		return
	}
	switch {
	case err == nil:
		r.IncRoleSync(action, "ok")
	case errors.Is(err, errQueueFull):
		r.IncRoleSync(action, "dropped")
	default:
		r.IncRoleSync(action, "error")
	}
}
