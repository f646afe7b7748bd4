// Package scheduler provides a single-flight, bounded-queue, FIFO-per-key
// task executor. It is the serialization primitive for per-conversation
// processing: at most one task per key runs at any instant, tasks run in
// arrival order, and a full queue rejects new work instead of growing.
package scheduler

import (
	"errors"
	"sync"

	"github.com/pingpal-io/pingpal/pkg/logger"
)

// ErrBusy is returned when a key's pending count has reached the bound.
// Deliberate backpressure, not a failure.
var ErrBusy = errors.New("scheduler: key queue is full")

type keyQueue struct {
	pending int // queued + running
	waiting []func()
	running bool
}

// Scheduler runs tasks FIFO per key with a per-key pending bound.
// Keys are fully independent; there is no cross-key ordering.
type Scheduler struct {
	maxPending int
	mu         sync.Mutex
	queues     map[string]*keyQueue
	wg         sync.WaitGroup
}

// New creates a Scheduler allowing at most maxPending queued-or-running
// tasks per key.
func New(maxPending int) *Scheduler {
	if maxPending < 1 {
		maxPending = 1
	}
	return &Scheduler{
		maxPending: maxPending,
		queues:     make(map[string]*keyQueue),
	}
}

// Do enqueues task for key. It returns ErrBusy without enqueueing when the
// key already has maxPending tasks queued or running. The task runs after
// every previously enqueued task for the same key has finished, regardless
// of how those tasks ended: a panicking task is recovered and logged, and
// the queue keeps flowing. That liveness rule is the scheduler's single most
// important property.
func (s *Scheduler) Do(key string, task func()) error {
	s.mu.Lock()
	q, ok := s.queues[key]
	if !ok {
		q = &keyQueue{}
		s.queues[key] = q
	}
	if q.pending >= s.maxPending {
		s.mu.Unlock()
		return ErrBusy
	}
	q.pending++
	q.waiting = append(q.waiting, task)
	if !q.running {
		q.running = true
		s.wg.Add(1)
		go s.drain(key, q)
	}
	s.mu.Unlock()
	return nil
}

// drain runs the key's queue to exhaustion, then parks.
func (s *Scheduler) drain(key string, q *keyQueue) {
	defer s.wg.Done()
	for {
		s.mu.Lock()
		if len(q.waiting) == 0 {
			q.running = false
			if q.pending == 0 {
				delete(s.queues, key)
			}
			s.mu.Unlock()
			return
		}
		task := q.waiting[0]
		q.waiting = q.waiting[1:]
		s.mu.Unlock()

		runRecovered(key, task)

		s.mu.Lock()
		q.pending--
		s.mu.Unlock()
	}
}

func runRecovered(key string, task func()) {
	defer func() {
		if r := recover(); r != nil {
			logger.ErrorCF("scheduler", "Task panicked; queue continues",
				map[string]interface{}{"key": key, "panic": r})
		}
	}()
	task()
}

// Pending returns the queued-or-running count for key.
func (s *Scheduler) Pending(key string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if q, ok := s.queues[key]; ok {
		return q.pending
	}
	return 0
}

// TotalPending sums the pending count across all keys.
func (s *Scheduler) TotalPending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	total := 0
	for _, q := range s.queues {
		total += q.pending
	}
	return total
}

// Wait blocks until all currently running key queues have drained.
// Used by graceful shutdown and tests.
func (s *Scheduler) Wait() {
	s.wg.Wait()
}
