// Package sema provides the FIFO-fair concurrency gate bounding how
// many automation runs execute at once.
package sema

import (
	"context"
	"fmt"
	"sync"
)

// Semaphore is a bounded-concurrency gate. Release with queued waiters
// hands the slot directly to the head of the queue: the held count is
// never decremented and re-incremented across a handoff, so it always
// reports true capacity usage under contention.
type Semaphore struct {
	mu      sync.Mutex
	max     int
	held    int
	waiters []*waiter
}

type waiter struct {
	ch chan error
}

// New constructs a Semaphore with the given capacity. max < 1 is a
// configuration bug, not a runtime condition.
func New(max int) *Semaphore {
	if max < 1 {
		panic(fmt.Sprintf("sema: max must be >= 1, got %d", max))
	}
	return &Semaphore{max: max}
}

// TryAcquire takes a slot without blocking. It reports false when the
// gate is at capacity.
func (s *Semaphore) TryAcquire() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.held < s.max {
		s.held++
		return true
	}
	return false
}

// Acquire takes a slot, queueing FIFO behind earlier callers when the
// gate is full. It returns ctx.Err() on cancellation or the reason
// passed to RejectAll if the queue is drained at shutdown.
func (s *Semaphore) Acquire(ctx context.Context) error {
	s.mu.Lock()
	if s.held < s.max {
		s.held++
		s.mu.Unlock()
		return nil
	}
	w := &waiter{ch: make(chan error, 1)}
	s.waiters = append(s.waiters, w)
	s.mu.Unlock()

	select {
	case err := <-w.ch:
		return err
	case <-ctx.Done():
		s.mu.Lock()
		for i, queued := range s.waiters {
			if queued == w {
				s.waiters = append(s.waiters[:i], s.waiters[i+1:]...)
				s.mu.Unlock()
				return ctx.Err()
			}
		}
		s.mu.Unlock()
		// Already signalled: if a slot was handed over, give it back.
		if err := <-w.ch; err == nil {
			s.Release()
		}
		return ctx.Err()
	}
}

// Release frees a slot. With queued waiters it wakes exactly the queue
// head, transferring ownership without touching the held count. With no
// waiters it decrements, bottoming out at zero.
func (s *Semaphore) Release() {
	s.mu.Lock()
	if len(s.waiters) > 0 {
		head := s.waiters[0]
		s.waiters = s.waiters[1:]
		s.mu.Unlock()
		head.ch <- nil
		return
	}
	if s.held > 0 {
		s.held--
	}
	s.mu.Unlock()
}

// RejectAll fails every queued waiter with reason. Held slots are
// untouched; only not-yet-started acquisitions are drained.
func (s *Semaphore) RejectAll(reason error) {
	s.mu.Lock()
	drained := s.waiters
	s.waiters = nil
	s.mu.Unlock()
	for _, w := range drained {
		w.ch <- reason
	}
}

// Held reports the number of slots currently in use.
func (s *Semaphore) Held() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.held
}

// Waiting reports the number of queued acquisitions.
func (s *Semaphore) Waiting() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.waiters)
}
