package notify

import (
	"sync/atomic"
	"testing"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sai/internal/ledger"
)

type dropCounter struct{ n atomic.Int64 }

func (d *dropCounter) IncPushDropped() { d.n.Add(1) }

func decode(t *testing.T, raw []byte) (string, map[string]interface{}) {
	t.Helper()
	var frame struct {
		Target string                 `json:"target"`
		Data   map[string]interface{} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(raw, &frame))
	return frame.Target, frame.Data
}

func TestHubSendSnapshotReachesOnlyOwnSessions(t *testing.T) {
	h := NewHub(4, nil, zerolog.Nop())
	a1 := h.Register("a")
	a2 := h.Register("a")
	b := h.Register("b")
	assert.Equal(t, 3, h.Count())

	h.SendSnapshot("a", ledger.Snapshot{IdentityId: "a", TotalPoints: 7, DailyPoints: []int64{1}})

	for _, s := range []*Session{a1, a2} {
		require.Len(t, s.Outbox(), 1)
		target, data := decode(t, <-s.Outbox())
		assert.Equal(t, MessageTargetPoints, target)
		assert.Equal(t, float64(7), data["totalPoints"])
	}
	assert.Len(t, b.Outbox(), 0)
}

func TestHubBroadcastLeaderboard(t *testing.T) {
	h := NewHub(4, nil, zerolog.Nop())
	a := h.Register("a")
	b := h.Register("b")

	h.BroadcastLeaderboard(ledger.LeaderboardDelta{IdentityId: "a", TotalPoints: 3})

	for _, s := range []*Session{a, b} {
		target, data := decode(t, <-s.Outbox())
		assert.Equal(t, MessageTargetLeaderboard, target)
		assert.Equal(t, "a", data["identityId"])
	}
}

func TestHubDropsWhenOutboxFull(t *testing.T) {
	drops := &dropCounter{}
	h := NewHub(1, drops, zerolog.Nop())
	s := h.Register("a")

	h.Deliver("a", []byte("one"))
	h.Deliver("a", []byte("two"))

	assert.Equal(t, []byte("one"), <-s.Outbox())
	assert.Equal(t, int64(1), drops.n.Load())
}

func TestHubUnregister(t *testing.T) {
	h := NewHub(1, nil, zerolog.Nop())
	s := h.Register("a")
	h.Unregister(s)
	h.Unregister(s)

	<-s.Done()
	assert.Equal(t, 0, h.Count())
	h.Deliver("a", []byte("late"))
	assert.Len(t, s.Outbox(), 0)
}

func TestRedisBridgeRoute(t *testing.T) {
	h := NewHub(4, nil, zerolog.Nop())
	a := h.Register("a")
	b := h.Register("b")
	bridge := NewRedisBridge(nil, h, 1, nil, zerolog.Nop())

	bridge.route(PointsChannel("a"), []byte("pts"))
	bridge.route(leaderboardChannel, []byte("lb"))
	bridge.route("other", []byte("ignored"))

	assert.Equal(t, []byte("pts"), <-a.Outbox())
	assert.Equal(t, []byte("lb"), <-a.Outbox())
	assert.Equal(t, []byte("lb"), <-b.Outbox())
	assert.Len(t, a.Outbox(), 0)
}

func TestRedisBridgeQueueIsBounded(t *testing.T) {
	drops := &dropCounter{}
	bridge := NewRedisBridge(nil, NewHub(1, nil, zerolog.Nop()), 1, drops, zerolog.Nop())

	bridge.SendSnapshot("a", ledger.Snapshot{IdentityId: "a"})
	bridge.BroadcastLeaderboard(ledger.LeaderboardDelta{IdentityId: "a"})

	assert.Len(t, bridge.queue, 1)
	assert.Equal(t, int64(1), drops.n.Load())
	m := <-bridge.queue
	assert.Equal(t, "points_ch@a", m.channel)
}

func TestHubCloseAll(t *testing.T) {
	h := NewHub(1, nil, zerolog.Nop())
	a := h.Register("a")
	b := h.Register("b")

	assert.Equal(t, 2, h.CloseAll())
	<-a.Done()
	<-b.Done()
	assert.Equal(t, 0, h.Count())

	// Unregistering after CloseAll must not close done twice.
	h.Unregister(a)
}
