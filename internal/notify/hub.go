// Package notify fans ledger updates out to websocket sessions, locally through Hub and
// across API replicas through RedisBridge.
package notify

import (
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"sai/internal/ledger"
)

// Session is one websocket connection of an identity. Frames queue in a bounded outbox
// that the connection writer drains.
type Session struct {
	Id         string
	IdentityId string
	out        chan []byte
	done       chan struct{}
}

func (s *Session) Outbox() <-chan []byte { return s.out }

// Done is closed when the session is unregistered.
func (s *Session) Done() <-chan struct{} { return s.done }

// DropCounter is told about frames dropped because a session was full.
type DropCounter interface {
	IncPushDropped()
}

type Hub struct {
	mu         sync.RWMutex
	sessions   map[string]map[string]*Session
	outboxSize int
	drops      DropCounter
	log        zerolog.Logger
}

var _ ledger.Notifier = (*Hub)(nil)

func NewHub(outboxSize int, drops DropCounter, log zerolog.Logger) *Hub {
	if outboxSize <= 0 {
		outboxSize = 16
	}
	return &Hub{
		sessions:   make(map[string]map[string]*Session),
		outboxSize: outboxSize,
		drops:      drops,
		log:        log.With().Str("component", "hub").Logger(),
	}
}

func (h *Hub) Register(identityId string) *Session {
	s := &Session{
		Id:         uuid.NewString(),
		IdentityId: identityId,
		out:        make(chan []byte, h.outboxSize),
		done:       make(chan struct{}),
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.sessions[identityId] == nil {
		h.sessions[identityId] = make(map[string]*Session)
	}
	h.sessions[identityId][s.Id] = s
	return s
}

func (h *Hub) Unregister(s *Session) {
	h.mu.Lock()
	defer h.mu.Unlock()
	byId, ok := h.sessions[s.IdentityId]
	if !ok {
		return
	}
	if _, ok := byId[s.Id]; !ok {
		return
	}
	delete(byId, s.Id)
	if len(byId) == 0 {
		delete(h.sessions, s.IdentityId)
	}
	close(s.done)
}

// Deliver queues payload on every session of identityId.
func (h *Hub) Deliver(identityId string, payload []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, s := range h.sessions[identityId] {
		h.offer(s, payload)
	}
}

// DeliverAll queues payload on every session.
func (h *Hub) DeliverAll(payload []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, byId := range h.sessions {
		for _, s := range byId {
			h.offer(s, payload)
		}
	}
}

func (h *Hub) offer(s *Session, payload []byte) {
	select {
	case s.out <- payload:
	default:
		if h.drops != nil {
			h.drops.IncPushDropped()
		}
		h.log.Warn().Str("identity", s.IdentityId).Str("session", s.Id).Msg("outbox full, dropping frame")
	}
}

func (h *Hub) SendSnapshot(identityId string, snap ledger.Snapshot) {
	payload, err := EncodeSnapshot(snap)
	if err != nil {
		h.log.Error().Err(err).Msg("encode snapshot")
		return
	}
	h.Deliver(identityId, payload)
}

func (h *Hub) BroadcastLeaderboard(delta ledger.LeaderboardDelta) {
	payload, err := EncodeLeaderboard(delta)
	if err != nil {
		h.log.Error().Err(err).Msg("encode leaderboard delta")
		return
	}
	h.DeliverAll(payload)
}

// Count returns the number of registered sessions.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	n := 0
	for _, byId := range h.sessions {
		n += len(byId)
	}
	return n
}

// CloseAll unregisters every session, which makes their connection writers hang up.
func (h *Hub) CloseAll() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	n := 0
	for identityId, byId := range h.sessions {
		for _, s := range byId {
			close(s.done)
			n++
		}
		delete(h.sessions, identityId)
	}
	return n
}
