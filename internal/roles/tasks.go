package roles

import (
	"context"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"

	"sai/internal/ledger"
	"sai/internal/worker"
)

const (
	TypeRoleSync = "roles:sync"
	QueueRoles   = "roles"

	ActionSync  = "sync"
	ActionClear = "clear"
)

type RoleSyncPayload struct {
	Action    string `json:"action"`
	AccountId string `json:"account_id"`
	Tier      string `json:"tier,omitempty"`
}

func NewRoleSyncTask(p RoleSyncPayload) (*asynq.Task, error) {
	payload, err := json.Marshal(p)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TypeRoleSync, payload, asynq.MaxRetry(5), asynq.Timeout(30*time.Second)), nil
}

// Enqueuer is the part of *asynq.Client the dispatcher uses.
type Enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// AsynqDispatcher queues assignments for `sai worker`. Enqueues run on pool, so
// closing the pool flushes them before the client goes away.
type AsynqDispatcher struct {
	pool    *worker.Pool
	client  Enqueuer
	queue   string
	timeout time.Duration
	results ResultRecorder
	log     zerolog.Logger
}

var (
	_ ledger.RoleSyncer        = (*AsynqDispatcher)(nil)
	_ ledger.WaitingRoleSyncer = (*AsynqDispatcher)(nil)
)

func NewAsynqDispatcher(pool *worker.Pool, client Enqueuer, results ResultRecorder, log zerolog.Logger) *AsynqDispatcher {
	return &AsynqDispatcher{
		pool:    pool,
		client:  client,
		queue:   QueueRoles,
		timeout: 2 * time.Second,
		results: results,
		log:     log.With().Str("component", "roles").Logger(),
	}
}

func (d *AsynqDispatcher) SyncTier(accountId, tier string) {
	d.submit(RoleSyncPayload{Action: ActionSync, AccountId: accountId, Tier: tier}, false)
}

// SyncTierWait is SyncTier that blocks while the pool queue is full.
func (d *AsynqDispatcher) SyncTierWait(accountId, tier string) {
	d.submit(RoleSyncPayload{Action: ActionSync, AccountId: accountId, Tier: tier}, true)
}

func (d *AsynqDispatcher) ClearTiers(accountId string) {
	d.submit(RoleSyncPayload{Action: ActionClear, AccountId: accountId}, false)
}

func (d *AsynqDispatcher) submit(p RoleSyncPayload, wait bool) {
	if !submitTo(d.pool, wait, worker.TaskFunc(func() { d.enqueue(p) })) {
		record(d.results, p.Action, errQueueFull)
		d.log.Warn().Str("action", p.Action).Str("account", p.AccountId).Msg("role sync queue full, dropping")
	}
}

func (d *AsynqDispatcher) enqueue(p RoleSyncPayload) {
	task, err := NewRoleSyncTask(p)
	if err == nil {
		ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
		_, err = d.client.EnqueueContext(ctx, task, asynq.Queue(d.queue))
		cancel()
	}
	if err != nil {
		record(d.results, p.Action, err)
		d.log.Error().Err(err).Str("action", p.Action).Str("account", p.AccountId).Msg("enqueue role sync")
	}
}

// TaskHandler executes queued role sync tasks.
type TaskHandler struct {
	assigner Assigner
	results  ResultRecorder
	log      zerolog.Logger
}

func NewTaskHandler(assigner Assigner, results ResultRecorder, log zerolog.Logger) *TaskHandler {
	return &TaskHandler{assigner: assigner, results: results, log: log.With().Str("component", "roles_worker").Logger()}
}

func (h *TaskHandler) Register(mux *asynq.ServeMux) {
	mux.HandleFunc(TypeRoleSync, h.ProcessTask)
}

func (h *TaskHandler) ProcessTask(ctx context.Context, t *asynq.Task) error {
	var p RoleSyncPayload
	if err := json.Unmarshal(t.Payload(), &p); err != nil {
		return fmt.Errorf("decode role sync payload: %v: %w", err, asynq.SkipRetry)
	}
	var err error
	switch p.Action {
	case ActionSync:
		err = h.assigner.SyncTier(ctx, p.AccountId, p.Tier)
	case ActionClear:
		err = h.assigner.ClearTiers(ctx, p.AccountId)
	default:
		return fmt.Errorf("unknown role sync action %q: %w", p.Action, asynq.SkipRetry)
	}
	record(h.results, p.Action, err)
	if err != nil {
		h.log.Warn().Err(err).Str("action", p.Action).Str("account", p.AccountId).Msg("role sync attempt failed")
		return err
	}
	return nil
}
