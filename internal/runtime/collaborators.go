package runtime

import (
	"context"

	"github.com/flitsinc/go-automations/internal/apps"
	"github.com/flitsinc/go-automations/internal/sched"
	"github.com/flitsinc/go-automations/internal/state"
)

// Scheduler is the job engine the orchestrator registers schedule
// subscriptions with. The orchestrator never computes fire times.
type Scheduler interface {
	AddJob(job sched.Job) (string, error)
	RemoveJob(jobID string)
	GetJob(jobID string) *sched.Job
	ResumeJob(jobID string) error
	OnJobDue(handler sched.DueHandler) func()
}

// KeepAlive registers reasons the host process must stay alive while
// automations are armed.
type KeepAlive interface {
	Register(reason string) func()
}

type Outcome string

const (
	OutcomeUseful  Outcome = "useful"
	OutcomeNoop    Outcome = "noop"
	OutcomeError   Outcome = "error"
	OutcomeSkipped Outcome = "skipped"
)

// Escalation is a request for human input raised by the executor; it
// pauses the run until a user response arrives.
type Escalation struct {
	Question string   `json:"question"`
	Choices  []string `json:"choices,omitempty"`
}

type ExecRequest struct {
	App apps.App
	Run state.Run
}

type ExecResult struct {
	Outcome    Outcome
	Summary    string
	TokensUsed int64
	Escalation *Escalation
}

// Executor performs the actual AI turn for a run. Streaming and tool
// calls are entirely its concern; the orchestrator only consumes the
// terminal result.
type Executor interface {
	Execute(ctx context.Context, req ExecRequest) (ExecResult, error)
}

// ExecutorFunc adapts a function to the Executor interface.
type ExecutorFunc func(ctx context.Context, req ExecRequest) (ExecResult, error)

func (f ExecutorFunc) Execute(ctx context.Context, req ExecRequest) (ExecResult, error) {
	return f(ctx, req)
}
