package apps

import (
	"time"

	"github.com/flitsinc/go-automations/internal/event"
)

type Status string

const (
	StatusActive      Status = "active"
	StatusPaused      Status = "paused"
	StatusError       Status = "error"
	StatusNeedsLogin  Status = "needs_login"
	StatusWaitingUser Status = "waiting_user"
	StatusUninstalled Status = "uninstalled"
)

// SourceType classifies a subscription's trigger origin.
type SourceType string

const (
	SourceSchedule SourceType = "schedule"
	SourceFile     SourceType = "file"
	SourceWebhook  SourceType = "webhook"
	SourceCustom   SourceType = "custom"
)

// Subscription is one trigger declaration in an app's spec. Every is
// the spec-default interval for schedule sources ("30m", "1h"); Filter
// optionally narrows event sources beyond the type-derived pattern.
type Subscription struct {
	ID     string       `json:"id"`
	Source SourceType   `json:"source"`
	Every  string       `json:"every,omitempty"`
	Cron   string       `json:"cron,omitempty"`
	Filter event.Filter `json:"filter,omitempty"`
}

// Spec is the declarative description of what an app does and when.
type Spec struct {
	Type          string         `json:"type"`
	Instructions  string         `json:"instructions,omitempty"`
	Memory        string         `json:"memory,omitempty"`
	Subscriptions []Subscription `json:"subscriptions,omitempty"`
}

type App struct {
	ID                  string            `json:"id"`
	Name                string            `json:"name"`
	Status              Status            `json:"status"`
	Spec                Spec              `json:"spec"`
	FrequencyOverrides  map[string]string `json:"frequency_overrides,omitempty"`
	PendingEscalationID string            `json:"pending_escalation_id,omitempty"`
	LastRunAt           *time.Time        `json:"last_run_at,omitempty"`
	LastRunOutcome      string            `json:"last_run_outcome,omitempty"`
	LastRunError        string            `json:"last_run_error,omitempty"`
	CreatedAt           time.Time         `json:"created_at"`
	UpdatedAt           time.Time         `json:"updated_at"`
}

// EffectiveEvery resolves the interval for a schedule subscription:
// a user override for that subscription id wins over the spec default.
func (a App) EffectiveEvery(subID string) string {
	if override, ok := a.FrequencyOverrides[subID]; ok && override != "" {
		return override
	}
	for _, sub := range a.Spec.Subscriptions {
		if sub.ID == subID {
			return sub.Every
		}
	}
	return ""
}

// Runnable reports whether the app's status permits starting a run.
func (a App) Runnable() bool {
	return a.Status == StatusActive
}
