package event

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// Bus routes normalized events from source adapters to filtered
// subscribers. Dispatch is sequential over subscription order and
// error-isolated per handler. The bus owns its sources: registering a
// source while running starts it immediately, and Stop stops every
// source, then clears subscriptions and the dedup cache.
type Bus struct {
	mu      sync.Mutex
	running bool
	nextSub int
	subs    []*subscription
	sources map[string]*sourceState
	dedup   *DedupCache
	nowFn   func() time.Time
}

type subscription struct {
	id      int
	filter  Filter
	handler Handler
}

type sourceState struct {
	source  Source
	started bool
}

type Option func(*Bus)

func WithClock(nowFn func() time.Time) Option {
	return func(b *Bus) {
		if nowFn != nil {
			b.nowFn = nowFn
		}
	}
}

func NewBus(dedup *DedupCache, opts ...Option) *Bus {
	b := &Bus{
		sources: map[string]*sourceState{},
		dedup:   dedup,
		nowFn:   func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		if opt != nil {
			opt(b)
		}
	}
	return b
}

// Start starts every registered source that is not yet running.
func (b *Bus) Start() error {
	b.mu.Lock()
	if b.running {
		b.mu.Unlock()
		return nil
	}
	b.running = true
	pending := make([]*sourceState, 0, len(b.sources))
	for _, st := range b.sources {
		if !st.started {
			pending = append(pending, st)
		}
	}
	b.mu.Unlock()

	for _, st := range pending {
		if err := b.startSource(st); err != nil {
			return err
		}
	}
	return nil
}

// Stop stops every running source, then drops all subscriptions and the
// dedup window. A fresh Start after Stop has zero subscribers.
func (b *Bus) Stop() {
	b.mu.Lock()
	if !b.running {
		b.mu.Unlock()
		return
	}
	b.running = false
	var started []*sourceState
	for _, st := range b.sources {
		if st.started {
			st.started = false
			started = append(started, st)
		}
	}
	b.subs = nil
	b.mu.Unlock()

	for _, st := range started {
		stopSource(st.source)
	}
	if b.dedup != nil {
		b.dedup.Clear()
	}
}

// On subscribes handler for events matching filter and returns an
// idempotent unsubscribe closure.
func (b *Bus) On(filter Filter, handler Handler) func() {
	b.mu.Lock()
	b.nextSub++
	sub := &subscription{id: b.nextSub, filter: filter, handler: handler}
	b.subs = append(b.subs, sub)
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			for i, s := range b.subs {
				if s.id == sub.id {
					b.subs = append(b.subs[:i], b.subs[i+1:]...)
					break
				}
			}
		})
	}
}

// Emit assigns an id and timestamp to input and dispatches it to every
// matching subscriber in registration order, awaiting each handler in
// turn. Duplicate events (by DedupKey within the TTL window) are
// dropped silently, as is any emit while the bus is stopped.
func (b *Bus) Emit(ctx context.Context, input Input) {
	b.mu.Lock()
	if !b.running {
		b.mu.Unlock()
		return
	}
	now := b.nowFn()
	if b.dedup != nil && b.dedup.IsDuplicate(input.DedupKey, now) {
		b.mu.Unlock()
		return
	}
	evt := Event{
		ID:        ulid.Make().String(),
		Type:      input.Type,
		Source:    input.Source,
		Timestamp: now,
		Payload:   input.Payload,
		DedupKey:  input.DedupKey,
	}
	subs := make([]*subscription, len(b.subs))
	copy(subs, b.subs)
	b.mu.Unlock()

	for _, sub := range subs {
		if !MatchesFilter(evt, sub.filter) {
			continue
		}
		if err := safeDispatch(ctx, sub.handler, evt); err != nil {
			log.Printf("event %s (%s): handler error: %v", evt.ID, evt.Type, err)
		}
	}
}

func safeDispatch(ctx context.Context, handler Handler, evt Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return handler(ctx, evt)
}

// RegisterSource registers src under its ID. Replacing an existing id
// stops the old adapter first. While the bus is running the new source
// is started immediately.
func (b *Bus) RegisterSource(src Source) error {
	b.mu.Lock()
	if old, ok := b.sources[src.ID()]; ok {
		delete(b.sources, src.ID())
		b.mu.Unlock()
		if old.started {
			stopSource(old.source)
		}
		b.mu.Lock()
	}
	st := &sourceState{source: src}
	b.sources[src.ID()] = st
	running := b.running
	b.mu.Unlock()

	if running {
		return b.startSource(st)
	}
	return nil
}

// RemoveSource stops and forgets the adapter with the given id. Unknown
// ids are a no-op.
func (b *Bus) RemoveSource(id string) {
	b.mu.Lock()
	st, ok := b.sources[id]
	if ok {
		delete(b.sources, id)
	}
	b.mu.Unlock()
	if ok && st.started {
		stopSource(st.source)
	}
}

func (b *Bus) SubscriberCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

func (b *Bus) startSource(st *sourceState) error {
	emit := func(input Input) {
		if input.Source == "" {
			input.Source = st.source.ID()
		}
		b.Emit(context.Background(), input)
	}
	if err := st.source.Start(emit); err != nil {
		return fmt.Errorf("start source %s: %w", st.source.ID(), err)
	}
	b.mu.Lock()
	st.started = true
	b.mu.Unlock()
	return nil
}

// stopSource never propagates adapter failures; a broken adapter must
// not block bus shutdown.
func stopSource(src Source) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("source %s: stop panicked: %v", src.ID(), r)
		}
	}()
	if err := src.Stop(); err != nil {
		log.Printf("source %s: stop failed: %v", src.ID(), err)
	}
}
