package worker

import (
	"sync"

	"github.com/rs/zerolog"
)

type Task interface {
	Execute()
}

// TaskFunc adapts a plain function to Task.
type TaskFunc func()

func (f TaskFunc) Execute() { f() }

// Pool runs queued tasks on a resizable set of workers. A panicking task is logged and
// does not take its worker down.
type Pool struct {
	mu     sync.Mutex
	size   int
	tasks  chan Task
	kill   chan struct{}
	wg     sync.WaitGroup
	closeM sync.RWMutex
	closed bool
	log    zerolog.Logger
}

func NewPool(speed int, queue int, log zerolog.Logger) *Pool {
	pool := &Pool{
		tasks: make(chan Task, queue),
		kill:  make(chan struct{}),
		log:   log.With().Str("component", "worker_pool").Logger(),
	}
	pool.Resize(speed)
	return pool
}

func (p *Pool) worker() {
	defer p.wg.Done()
	for {
		select {
		case task, ok := <-p.tasks:
			if !ok {
				return
			}
			p.run(task)
		case <-p.kill:
			return
		}
	}
}

func (p *Pool) run(task Task) {
	defer func() {
		if r := recover(); r != nil {
			p.log.Error().Interface("panic", r).Msg("task panicked")
		}
	}()
	task.Execute()
}

func (p *Pool) Resize(n int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for p.size < n {
		p.size++
		p.wg.Add(1)
		go p.worker()
	}
	for p.size > n {
		p.size--
		p.kill <- struct{}{}
	}
}

func (p *Pool) Size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.size
}

// Close stops accepting tasks. Workers drain what is queued and exit.
func (p *Pool) Close() {
	p.closeM.Lock()
	defer p.closeM.Unlock()
	if p.closed {
		return
	}
	p.closed = true
	close(p.tasks)
}

func (p *Pool) Wait() {
	p.wg.Wait()
}

// Exec queues task, blocking while the queue is full. It reports false after Close.
func (p *Pool) Exec(task Task) bool {
	p.closeM.RLock()
	defer p.closeM.RUnlock()
	if p.closed {
		return false
	}
	p.tasks <- task
	return true
}

// TrySubmit queues task without blocking. It reports false when the queue is full or the
// pool is closed.
func (p *Pool) TrySubmit(task Task) bool {
	p.closeM.RLock()
	defer p.closeM.RUnlock()
	if p.closed {
		return false
	}
	select {
	case p.tasks <- task:
		return true
	default:
		return false
	}
}
