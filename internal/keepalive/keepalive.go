// Package keepalive tracks reasons the host process must stay alive,
// such as armed automations waiting on their triggers.
package keepalive

import "sync"

type Tracker struct {
	mu      sync.Mutex
	reasons map[string]int
}

func NewTracker() *Tracker {
	return &Tracker{reasons: map[string]int{}}
}

// Register records a keep-alive reason and returns an idempotent
// disposer that releases it.
func (t *Tracker) Register(reason string) func() {
	t.mu.Lock()
	t.reasons[reason]++
	t.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			t.mu.Lock()
			defer t.mu.Unlock()
			if t.reasons[reason] <= 1 {
				delete(t.reasons, reason)
				return
			}
			t.reasons[reason]--
		})
	}
}

// Active reports whether any keep-alive reason is held.
func (t *Tracker) Active() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.reasons) > 0
}

// Reasons returns the currently held reason ids.
func (t *Tracker) Reasons() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]string, 0, len(t.reasons))
	for reason := range t.reasons {
		out = append(out, reason)
	}
	return out
}
