package roles

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sai/internal/ledger"
	"sai/internal/store"
	"sai/internal/store/memstore"
	"sai/internal/testutil"
	"sai/internal/worker"
)

type fakeGuild struct {
	mu      sync.Mutex
	members map[string][]string
	calls   []string
}

func (g *fakeGuild) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls = append(g.calls, r.Method+" "+r.URL.Path)

	var guild, user, role string
	n, _ := parsePath(r.URL.Path, &guild, &user, &role)
	roles, ok := g.members[user]
	if !ok {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	switch {
	case r.Method == http.MethodGet && n == 2:
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]interface{}{"roles": roles})
	case r.Method == http.MethodPut && n == 3:
		g.members[user] = append(roles, role)
		w.WriteHeader(http.StatusNoContent)
	case r.Method == http.MethodDelete && n == 3:
		out := roles[:0:0]
		for _, x := range roles {
			if x != role {
				out = append(out, x)
			}
		}
		g.members[user] = out
		w.WriteHeader(http.StatusNoContent)
	default:
		w.WriteHeader(http.StatusBadRequest)
	}
}

// parsePath reads /guilds/{g}/members/{u}[/roles/{r}].
func parsePath(path string, guild, user, role *string) (int, error) {
	var parts []string
	cur := ""
	for _, c := range path + "/" {
		if c == '/' {
			if cur != "" {
				parts = append(parts, cur)
			}
			cur = ""
			continue
		}
		cur += string(c)
	}
	if len(parts) < 4 || parts[0] != "guilds" || parts[2] != "members" {
		return 0, errors.New("bad path")
	}
	*guild, *user = parts[1], parts[3]
	if len(parts) == 6 && parts[4] == "roles" {
		*role = parts[5]
		return 3, nil
	}
	return 2, nil
}

func (g *fakeGuild) rolesOf(user string) []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]string(nil), g.members[user]...)
}

func (g *fakeGuild) callCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.calls)
}

func newDiscord(t *testing.T, g *fakeGuild) *Discord {
	t.Helper()
	srv := httptest.NewServer(g)
	t.Cleanup(srv.Close)
	return NewDiscord(DiscordConfig{
		ApiBase: srv.URL,
		Token:   "token",
		GuildId: "G",
		TierRoles: map[string]string{
			"Tier 1": "r1",
			"tier 2": "r2",
		},
		Timeout: time.Second,
	}, zerolog.Nop())
}

func TestDiscordSyncTierSwapsRoles(t *testing.T) {
	g := &fakeGuild{members: map[string][]string{"u": {"r1", "other"}}}
	d := newDiscord(t, g)
	ctx := context.Background()

	require.NoError(t, d.SyncTier(ctx, "u", "Tier 2"))
	assert.ElementsMatch(t, []string{"other", "r2"}, g.rolesOf("u"))

	// Already in place: only the member lookup is made.
	before := g.callCount()
	require.NoError(t, d.SyncTier(ctx, "u", "Tier 2"))
	assert.Equal(t, before+1, g.callCount())
}

func TestDiscordClearTiers(t *testing.T) {
	g := &fakeGuild{members: map[string][]string{"u": {"r1", "r2", "other"}}}
	d := newDiscord(t, g)

	require.NoError(t, d.ClearTiers(context.Background(), "u"))
	assert.Equal(t, []string{"other"}, g.rolesOf("u"))

	require.NoError(t, d.SyncTier(context.Background(), "u", "None"))
	assert.Equal(t, []string{"other"}, g.rolesOf("u"))
}

func TestDiscordUnknownMemberAndUnmappedTier(t *testing.T) {
	g := &fakeGuild{members: map[string][]string{"u": {}}}
	d := newDiscord(t, g)
	ctx := context.Background()

	assert.NoError(t, d.SyncTier(ctx, "ghost", "Tier 1"))
	assert.NoError(t, d.SyncTier(ctx, "u", "Tier 5"))
	assert.Empty(t, g.rolesOf("u"))
}

func TestPoolDispatcherRunsAssignments(t *testing.T) {
	pool := worker.NewPool(1, 4, zerolog.Nop())
	a := &testutil.Assigner{}
	d := NewPoolDispatcher(pool, a, time.Second, nil, zerolog.Nop())

	d.SyncTier("u", "Tier 1")
	d.ClearTiers("v")
	pool.Close()
	pool.Wait()

	assert.Equal(t, []testutil.RoleCall{
		{Action: "sync", AccountId: "u", Tier: "Tier 1"},
		{Action: "clear", AccountId: "v"},
	}, a.Calls())
}

type countRecorder struct {
	mu sync.Mutex
	m  map[string]int
}

func (c *countRecorder) IncRoleSync(action, result string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.m == nil {
		c.m = make(map[string]int)
	}
	c.m[action+":"+result]++
}

func TestPoolDispatcherDoesNotBlockWhenFull(t *testing.T) {
	pool := worker.NewPool(0, 1, zerolog.Nop())
	rec := &countRecorder{}
	d := NewPoolDispatcher(pool, &testutil.Assigner{}, time.Second, rec, zerolog.Nop())

	done := make(chan struct{})
	go func() {
		d.SyncTier("u", "Tier 1")
		d.SyncTier("u", "Tier 2")
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("dispatcher blocked")
	}
	assert.Equal(t, 1, rec.m["sync:dropped"])
}

type fakeEnqueuer struct {
	mu    sync.Mutex
	tasks []*asynq.Task
	queue string
}

func (f *fakeEnqueuer) EnqueueContext(_ context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tasks = append(f.tasks, task)
	for _, o := range opts {
		if o.Type() == asynq.QueueOpt {
			f.queue = o.Value().(string)
		}
	}
	return &asynq.TaskInfo{}, nil
}

func (f *fakeEnqueuer) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.tasks)
}

func TestAsynqDispatcherEnqueues(t *testing.T) {
	enq := &fakeEnqueuer{}
	pool := worker.NewPool(1, 4, zerolog.Nop())
	defer pool.Wait()
	defer pool.Close()
	d := NewAsynqDispatcher(pool, enq, nil, zerolog.Nop())

	d.SyncTier("u", "Tier 3")
	require.Eventually(t, func() bool { return enq.count() == 1 }, time.Second, 5*time.Millisecond)

	enq.mu.Lock()
	task := enq.tasks[0]
	queue := enq.queue
	enq.mu.Unlock()
	assert.Equal(t, TypeRoleSync, task.Type())
	assert.Equal(t, QueueRoles, queue)

	var p RoleSyncPayload
	require.NoError(t, json.Unmarshal(task.Payload(), &p))
	assert.Equal(t, RoleSyncPayload{Action: ActionSync, AccountId: "u", Tier: "Tier 3"}, p)
}

func TestResyncEnqueuesEverythingBeforeClose(t *testing.T) {
	st := memstore.New()
	ctx := context.Background()
	const linked = 20
	for i := 0; i < linked; i++ {
		account := fmt.Sprintf("acc-%d", i)
		_, err := st.CreateIdentity(ctx, &store.Identity{
			Id:                fmt.Sprintf("wallet-%d", i),
			ReferralCode:      fmt.Sprintf("CODE%d", i),
			CurrentTier:       "None",
			ExternalAccountId: &account,
		})
		require.NoError(t, err)
	}

	// The queue is far smaller than the number of linked accounts.
	enq := &fakeEnqueuer{}
	pool := worker.NewPool(1, 2, zerolog.Nop())
	rec := &countRecorder{m: map[string]int{}}
	l := ledger.New(ledger.DefaultConfig(), ledger.Deps{
		Store:  st,
		Roles:  NewAsynqDispatcher(pool, enq, rec, zerolog.Nop()),
		Logger: zerolog.Nop(),
	})

	n, err := l.ResyncAllRoles(ctx)
	require.NoError(t, err)
	assert.Equal(t, linked, n)

	pool.Close()
	pool.Wait()
	assert.Equal(t, linked, enq.count())
	assert.Zero(t, rec.m["sync:dropped"])
}

func TestAsynqDispatcherDropsWhenPoolClosed(t *testing.T) {
	enq := &fakeEnqueuer{}
	pool := worker.NewPool(1, 1, zerolog.Nop())
	pool.Close()
	pool.Wait()
	rec := &countRecorder{m: map[string]int{}}
	d := NewAsynqDispatcher(pool, enq, rec, zerolog.Nop())

	d.SyncTier("u", "Tier 1")
	d.SyncTierWait("u", "Tier 1")
	d.ClearTiers("u")
	assert.Zero(t, enq.count())
	assert.Equal(t, 2, rec.m["sync:dropped"])
	assert.Equal(t, 1, rec.m["clear:dropped"])
}

func TestTaskHandler(t *testing.T) {
	a := &testutil.Assigner{}
	h := NewTaskHandler(a, nil, zerolog.Nop())
	ctx := context.Background()

	task, err := NewRoleSyncTask(RoleSyncPayload{Action: ActionClear, AccountId: "u"})
	require.NoError(t, err)
	require.NoError(t, h.ProcessTask(ctx, task))
	assert.Equal(t, []testutil.RoleCall{{Action: "clear", AccountId: "u"}}, a.Calls())

	bad := asynq.NewTask(TypeRoleSync, []byte("{"))
	assert.ErrorIs(t, h.ProcessTask(ctx, bad), asynq.SkipRetry)

	unknown, err := NewRoleSyncTask(RoleSyncPayload{Action: "nope"})
	require.NoError(t, err)
	assert.ErrorIs(t, h.ProcessTask(ctx, unknown), asynq.SkipRetry)

	a.Err = errors.New("discord down")
	task, err = NewRoleSyncTask(RoleSyncPayload{Action: ActionSync, AccountId: "u", Tier: "Tier 1"})
	require.NoError(t, err)
	assert.Error(t, h.ProcessTask(ctx, task))
}
