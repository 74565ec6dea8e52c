package ledger

import (
	"context"
	"sync"
)

type node struct {
	holders map[string]struct{}
	cancel  context.CancelFunc
	done    chan struct{}
}

// SessionTable tracks the running tick loop of every connected identity and the
// sessions holding it open.
type SessionTable struct {
	mu    sync.Mutex
	nodes map[string]*node
}

func NewSessionTable() *SessionTable {
	return &SessionTable{nodes: make(map[string]*node)}
}

func (t *SessionTable) Running(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.nodes[id]
	return ok
}

// Hold adds sessionId as a holder of an already running node. It reports false when no
// node is running for id.
func (t *SessionTable) Hold(id, sessionId string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	n, ok := t.nodes[id]
	if !ok {
		return false
	}
	n.holders[sessionId] = struct{}{}
	return true
}

// Start runs loop for id in its own goroutine with sessionId as the first holder.
// Starting an id that is already running only adds the holder.
func (t *SessionTable) Start(id, sessionId string, loop func(ctx context.Context)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if n, ok := t.nodes[id]; ok {
		n.holders[sessionId] = struct{}{}
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	n := &node{
		holders: map[string]struct{}{sessionId: {}},
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	t.nodes[id] = n
	go func() {
		defer close(n.done)
		loop(ctx)
	}()
}

// Release removes a holder and reports whether it was the last one.
func (t *SessionTable) Release(id, sessionId string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	n, ok := t.nodes[id]
	if !ok {
		return false
	}
	if _, held := n.holders[sessionId]; !held {
		return false
	}
	delete(n.holders, sessionId)
	return len(n.holders) == 0
}

// Stop cancels the loop of id and waits for it to return.
func (t *SessionTable) Stop(id string) bool {
	t.mu.Lock()
	n, ok := t.nodes[id]
	delete(t.nodes, id)
	t.mu.Unlock()
	if !ok {
		return false
	}
	n.cancel()
	<-n.done
	return true
}

// StopAll stops every loop and returns the ids that were running.
func (t *SessionTable) StopAll() []string {
	t.mu.Lock()
	nodes := t.nodes
	t.nodes = make(map[string]*node)
	t.mu.Unlock()

	ids := make([]string, 0, len(nodes))
	for id, n := range nodes {
		n.cancel()
		ids = append(ids, id)
	}
	for _, n := range nodes {
		<-n.done
	}
	return ids
}

func (t *SessionTable) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.nodes)
}

func (t *SessionTable) Holders(id string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	if n, ok := t.nodes[id]; ok {
		return len(n.holders)
	}
	return 0
}
