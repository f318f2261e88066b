package event

import (
	"context"
	"time"
)

// Event is a normalized event as delivered to subscribers. The bus assigns
// ID and Timestamp at emit time; events are immutable once emitted.
type Event struct {
	ID        string         `json:"id"`
	Type      string         `json:"type"`
	Source    string         `json:"source"`
	Timestamp time.Time      `json:"timestamp"`
	Payload   map[string]any `json:"payload,omitempty"`
	DedupKey  string         `json:"dedup_key,omitempty"`
}

// Input is the producer-side shape of an event, before the bus assigns
// an id and timestamp.
type Input struct {
	Type     string
	Source   string
	Payload  map[string]any
	DedupKey string
}

// Handler receives matched events during dispatch. Handlers run
// sequentially in subscription order; a failing handler never blocks
// delivery to later subscribers.
type Handler func(ctx context.Context, evt Event) error

// Source is an adapter that produces events while the bus is running.
// Stop must be idempotent and must not panic.
type Source interface {
	ID() string
	Type() string
	Start(emit func(Input)) error
	Stop() error
}

// Filter selects which events a subscription receives. All specified
// dimensions must pass; within Types and Sources any element matching
// suffices. A zero filter matches every event.
type Filter struct {
	Types   []string `json:"types,omitempty"`
	Sources []string `json:"sources,omitempty"`
	Rules   []Rule   `json:"rules,omitempty"`
}

// Rule is a single field predicate. Field is a dotted path into the
// event (e.g. "payload.items[0].name").
type Rule struct {
	Field string `json:"field"`
	Op    Op     `json:"op"`
	Value any    `json:"value"`
}

type Op string

const (
	OpEq       Op = "eq"
	OpNeq      Op = "neq"
	OpContains Op = "contains"
	OpMatches  Op = "matches"
	OpGt       Op = "gt"
	OpLt       Op = "lt"
	OpIn       Op = "in"
	OpNin      Op = "nin"
)
