package state

import "time"

type RunStatus string

const (
	RunRunning     RunStatus = "running"
	RunOK          RunStatus = "ok"
	RunError       RunStatus = "error"
	RunSkipped     RunStatus = "skipped"
	RunWaitingUser RunStatus = "waiting_user"
)

type TriggerType string

const (
	TriggerSchedule           TriggerType = "schedule"
	TriggerEvent              TriggerType = "event"
	TriggerManual             TriggerType = "manual"
	TriggerEscalationFollowup TriggerType = "escalation_followup"
)

type EntryType string

const (
	EntryRunComplete EntryType = "run_complete"
	EntryRunSkipped  EntryType = "run_skipped"
	EntryRunError    EntryType = "run_error"
	EntryMilestone   EntryType = "milestone"
	EntryEscalation  EntryType = "escalation"
	EntryOutput      EntryType = "output"
)

// Run is one execution attempt of an automation app. A run is created
// with status running and receives exactly one terminal update; it is
// never mutated again except by retention pruning.
type Run struct {
	ID           string         `json:"id"`
	AppID        string         `json:"app_id"`
	SessionKey   string         `json:"session_key"`
	Status       RunStatus      `json:"status"`
	TriggerType  TriggerType    `json:"trigger_type"`
	TriggerData  map[string]any `json:"trigger_data,omitempty"`
	StartedAt    time.Time      `json:"started_at"`
	FinishedAt   *time.Time     `json:"finished_at,omitempty"`
	DurationMs   int64          `json:"duration_ms,omitempty"`
	TokensUsed   int64          `json:"tokens_used,omitempty"`
	ErrorMessage string         `json:"error_message,omitempty"`
}

// Entry is one user-visible record in an app's activity thread. An
// escalation entry is pending while UserResponse is unset; attaching
// the response is the only mutation an entry ever receives.
type Entry struct {
	ID           string         `json:"id"`
	AppID        string         `json:"app_id"`
	RunID        string         `json:"run_id"`
	Type         EntryType      `json:"type"`
	CreatedAt    time.Time      `json:"created_at"`
	SessionKey   string         `json:"session_key,omitempty"`
	Content      map[string]any `json:"content,omitempty"`
	UserResponse *UserResponse  `json:"user_response,omitempty"`
}

type UserResponse struct {
	TS     time.Time `json:"ts"`
	Choice string    `json:"choice,omitempty"`
	Text   string    `json:"text,omitempty"`
}

func (s RunStatus) Terminal() bool {
	switch s {
	case RunOK, RunError, RunSkipped:
		return true
	default:
		return false
	}
}
