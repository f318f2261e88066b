package runtime

import (
	"errors"
	"fmt"
)

// Expected domain failure conditions. Each has a typed error carrying
// context and a sentinel for errors.Is checks at the API boundary.
var (
	ErrAppNotFound        = errors.New("app not found")
	ErrAppNotRunnable     = errors.New("app status forbids execution")
	ErrNoSubscriptions    = errors.New("app spec declares no subscriptions")
	ErrConcurrencyLimit   = errors.New("concurrency limit reached")
	ErrEscalationNotFound = errors.New("escalation not found or already answered")
	ErrRunExecution       = errors.New("run execution failed")
	ErrShuttingDown       = errors.New("runtime is shutting down")
)

type AppNotFoundError struct {
	AppID string
}

func (e *AppNotFoundError) Error() string {
	return fmt.Sprintf("app %s not found", e.AppID)
}

func (e *AppNotFoundError) Unwrap() error {
	return ErrAppNotFound
}

type AppNotRunnableError struct {
	AppID  string
	Status string
}

func (e *AppNotRunnableError) Error() string {
	return fmt.Sprintf("app %s cannot run in status %s", e.AppID, e.Status)
}

func (e *AppNotRunnableError) Unwrap() error {
	return ErrAppNotRunnable
}

type NoSubscriptionsError struct {
	AppID string
}

func (e *NoSubscriptionsError) Error() string {
	return fmt.Sprintf("app %s has no subscriptions to activate", e.AppID)
}

func (e *NoSubscriptionsError) Unwrap() error {
	return ErrNoSubscriptions
}

type ConcurrencyLimitError struct {
	AppID string
}

func (e *ConcurrencyLimitError) Error() string {
	return fmt.Sprintf("app %s: no execution slot available", e.AppID)
}

func (e *ConcurrencyLimitError) Unwrap() error {
	return ErrConcurrencyLimit
}

type EscalationNotFoundError struct {
	AppID   string
	EntryID string
}

func (e *EscalationNotFoundError) Error() string {
	return fmt.Sprintf("app %s: no pending escalation %s", e.AppID, e.EntryID)
}

func (e *EscalationNotFoundError) Unwrap() error {
	return ErrEscalationNotFound
}

// RunExecutionError wraps an executor failure with run context for
// logging. The underlying cause is reachable through errors.Is/As.
type RunExecutionError struct {
	AppID string
	RunID string
	Err   error
}

func (e *RunExecutionError) Error() string {
	return fmt.Sprintf("app %s run %s: execution failed: %v", e.AppID, e.RunID, e.Err)
}

func (e *RunExecutionError) Unwrap() []error {
	return []error{ErrRunExecution, e.Err}
}
