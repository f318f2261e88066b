package runtime

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/flitsinc/go-automations/internal/apps"
	"github.com/flitsinc/go-automations/internal/event"
	"github.com/flitsinc/go-automations/internal/idgen"
	"github.com/flitsinc/go-automations/internal/sched"
	"github.com/flitsinc/go-automations/internal/sema"
	"github.com/flitsinc/go-automations/internal/state"
)

// AppState is the derived execution state of an app. It is computed on
// demand from the activation table, the semaphore, and the stores;
// nothing here is persisted redundantly.
type AppState string

const (
	StateRunning     AppState = "running"
	StateQueued      AppState = "queued"
	StateIdle        AppState = "idle"
	StatePaused      AppState = "paused"
	StateWaitingUser AppState = "waiting_user"
	StateError       AppState = "error"
)

// SpecTypeAutomation is the only app spec type with triggers to wire.
const SpecTypeAutomation = "automation"

// Orchestrator wires app subscriptions into the event bus and the
// scheduler, gates executions through a shared semaphore, and records
// every run and activity entry.
type Orchestrator struct {
	appMgr *apps.Manager
	store  *state.Store
	bus    *event.Bus
	sched  Scheduler
	keep   KeepAlive
	exec   Executor
	sem    *sema.Semaphore

	mu          sync.Mutex
	activations map[string]*activation
	activating  map[string]bool // in-flight Activate calls, keyed by app id
	queued      map[string]int
	unsubJobDue func()
	closed      bool
}

// activation holds everything Deactivate must tear down for one app.
type activation struct {
	appID    string
	jobIDs   []string
	jobEvery map[string]string // job id -> effective interval, for schedule diffing
	unsubs   []func()
	dispose  func()
}

type Config struct {
	Apps      *apps.Manager
	Store     *state.Store
	Bus       *event.Bus
	Scheduler Scheduler
	KeepAlive KeepAlive
	Executor  Executor
	// MaxConcurrent bounds simultaneous executions across all apps.
	MaxConcurrent int
}

func NewOrchestrator(cfg Config) *Orchestrator {
	maxConcurrent := cfg.MaxConcurrent
	if maxConcurrent == 0 {
		maxConcurrent = 3
	}
	o := &Orchestrator{
		appMgr:      cfg.Apps,
		store:       cfg.Store,
		bus:         cfg.Bus,
		sched:       cfg.Scheduler,
		keep:        cfg.KeepAlive,
		exec:        cfg.Executor,
		sem:         sema.New(maxConcurrent),
		activations: map[string]*activation{},
		activating:  map[string]bool{},
		queued:      map[string]int{},
	}
	o.unsubJobDue = o.sched.OnJobDue(o.handleJobDue)
	return o
}

// Activate wires an app's subscriptions into the scheduler and the
// event bus. Re-activating an already-active app is a no-op, as is
// activating a non-automation spec.
func (o *Orchestrator) Activate(ctx context.Context, appID string) error {
	app, err := o.appMgr.Get(ctx, appID)
	if err != nil {
		return err
	}
	if app == nil {
		return &AppNotFoundError{AppID: appID}
	}

	// Claim the app before wiring anything so a concurrent Activate for
	// the same app cannot double-wire subscriptions. Only one activation
	// may ever exist per app.
	o.mu.Lock()
	_, already := o.activations[appID]
	if already || o.activating[appID] {
		o.mu.Unlock()
		return nil
	}
	o.activating[appID] = true
	o.mu.Unlock()
	defer func() {
		o.mu.Lock()
		delete(o.activating, appID)
		o.mu.Unlock()
	}()

	if app.Spec.Type != SpecTypeAutomation {
		return nil
	}
	if len(app.Spec.Subscriptions) == 0 {
		return &NoSubscriptionsError{AppID: appID}
	}

	act := &activation{appID: appID, jobEvery: map[string]string{}}
	for _, sub := range app.Spec.Subscriptions {
		if sub.Source == apps.SourceSchedule {
			jobID, every, err := o.registerScheduleJob(*app, sub)
			if err != nil {
				o.teardown(act)
				return err
			}
			act.jobIDs = append(act.jobIDs, jobID)
			act.jobEvery[jobID] = every
			continue
		}
		filter := sub.Filter
		if len(filter.Types) == 0 {
			filter.Types = []string{string(sub.Source) + ".*"}
		}
		subID := sub.ID
		unsub := o.bus.On(filter, func(ctx context.Context, evt event.Event) error {
			o.handleEventTrigger(appID, subID, evt)
			return nil
		})
		act.unsubs = append(act.unsubs, unsub)
	}

	act.dispose = o.keep.Register("automation-apps-active:" + appID)

	o.mu.Lock()
	o.activations[appID] = act
	o.mu.Unlock()
	return nil
}

// registerScheduleJob resumes an existing paused job with the
// deterministic id "{appID}:{subID}" or creates a fresh one. The user's
// frequency override for the subscription wins over the spec default.
func (o *Orchestrator) registerScheduleJob(app apps.App, sub apps.Subscription) (string, string, error) {
	jobID := app.ID + ":" + sub.ID

	if sub.Cron != "" {
		_, err := o.sched.AddJob(sched.Job{
			ID:       jobID,
			Schedule: sched.Schedule{Kind: sched.KindCron, Cron: sub.Cron},
			Metadata: map[string]string{"app_id": app.ID, "subscription_id": sub.ID},
		})
		if err != nil {
			return "", "", fmt.Errorf("register cron job %s: %w", jobID, err)
		}
		return jobID, sub.Cron, nil
	}

	every := app.EffectiveEvery(sub.ID)
	interval, err := time.ParseDuration(every)
	if err != nil {
		return "", "", fmt.Errorf("subscription %s: bad interval %q: %w", sub.ID, every, err)
	}

	if existing := o.sched.GetJob(jobID); existing != nil && existing.Paused {
		if err := o.sched.ResumeJob(jobID); err != nil {
			return "", "", fmt.Errorf("resume job %s: %w", jobID, err)
		}
		return jobID, every, nil
	}

	_, err = o.sched.AddJob(sched.Job{
		ID:       jobID,
		Schedule: sched.Schedule{Kind: sched.KindEvery, Every: interval},
		Metadata: map[string]string{"app_id": app.ID, "subscription_id": sub.ID},
	})
	if err != nil {
		return "", "", fmt.Errorf("register job %s: %w", jobID, err)
	}
	return jobID, every, nil
}

// Deactivate tears down an app's triggers. It never fails: individual
// teardown errors are logged so partial cleanup cannot block the rest.
// An in-flight run is left to finish; only new runs are prevented.
func (o *Orchestrator) Deactivate(appID string) {
	o.mu.Lock()
	act, ok := o.activations[appID]
	if ok {
		delete(o.activations, appID)
	}
	o.mu.Unlock()
	if !ok {
		return
	}
	o.teardown(act)
}

func (o *Orchestrator) teardown(act *activation) {
	for _, jobID := range act.jobIDs {
		func() {
			defer func() {
				if r := recover(); r != nil {
					log.Printf("app %s: remove job %s panicked: %v", act.appID, jobID, r)
				}
			}()
			o.sched.RemoveJob(jobID)
		}()
	}
	for _, unsub := range act.unsubs {
		func() {
			defer func() {
				if r := recover(); r != nil {
					log.Printf("app %s: unsubscribe panicked: %v", act.appID, r)
				}
			}()
			unsub()
		}()
	}
	if act.dispose != nil {
		act.dispose()
	}
}

// SyncAppSchedule re-reads the effective frequency of every schedule
// subscription and re-registers only the jobs whose interval actually
// changed. Running executions are untouched.
func (o *Orchestrator) SyncAppSchedule(ctx context.Context, appID string) error {
	o.mu.Lock()
	act, ok := o.activations[appID]
	o.mu.Unlock()
	if !ok {
		return nil
	}

	app, err := o.appMgr.Get(ctx, appID)
	if err != nil {
		return err
	}
	if app == nil {
		return &AppNotFoundError{AppID: appID}
	}

	for _, sub := range app.Spec.Subscriptions {
		if sub.Source != apps.SourceSchedule || sub.Cron != "" {
			continue
		}
		jobID := appID + ":" + sub.ID
		desired := app.EffectiveEvery(sub.ID)

		o.mu.Lock()
		current := act.jobEvery[jobID]
		o.mu.Unlock()
		if desired == current {
			continue
		}

		o.sched.RemoveJob(jobID)
		newJobID, every, err := o.registerScheduleJob(*app, sub)
		if err != nil {
			return err
		}
		o.mu.Lock()
		act.jobEvery[newJobID] = every
		o.mu.Unlock()
	}
	return nil
}

// TriggerManually starts a run right now, failing fast with a
// ConcurrencyLimitError when no slot is free. It returns the completed
// run record.
func (o *Orchestrator) TriggerManually(ctx context.Context, appID string) (state.Run, error) {
	app, err := o.runnableApp(ctx, appID)
	if err != nil {
		return state.Run{}, err
	}
	return o.execute(ctx, *app, state.TriggerManual, nil, false)
}

// ActivateAll activates every app with manager-status active. Called at
// process start; failures are logged per app and do not stop the loop.
func (o *Orchestrator) ActivateAll(ctx context.Context) {
	items, err := o.appMgr.List(ctx, apps.ListFilter{Status: apps.StatusActive})
	if err != nil {
		log.Printf("activate all: list apps: %v", err)
		return
	}
	for _, app := range items {
		if err := o.Activate(ctx, app.ID); err != nil {
			log.Printf("activate %s: %v", app.ID, err)
		}
	}
}

// DeactivateAll tears down every activation and drains the semaphore
// queue so no trigger is left waiting across a shutdown.
func (o *Orchestrator) DeactivateAll() {
	o.mu.Lock()
	o.closed = true
	ids := make([]string, 0, len(o.activations))
	for appID := range o.activations {
		ids = append(ids, appID)
	}
	o.mu.Unlock()

	for _, appID := range ids {
		o.Deactivate(appID)
	}
	if o.unsubJobDue != nil {
		o.unsubJobDue()
	}
	o.sem.RejectAll(ErrShuttingDown)
}

// RecoverPendingEscalations re-points apps at their unanswered
// escalations after a restart, oldest first, so a crash between the
// entry write and the status flip cannot strand a question.
func (o *Orchestrator) RecoverPendingEscalations(ctx context.Context) {
	entries, err := o.store.AllPendingEscalations(ctx)
	if err != nil {
		log.Printf("recover escalations: %v", err)
		return
	}
	for _, entry := range entries {
		app, err := o.appMgr.Get(ctx, entry.AppID)
		if err != nil || app == nil {
			continue
		}
		if app.Status == apps.StatusWaitingUser && app.PendingEscalationID == entry.ID {
			continue
		}
		if err := o.appMgr.UpdateStatus(ctx, entry.AppID, apps.StatusWaitingUser, &apps.StatusExtra{PendingEscalationID: entry.ID}); err != nil {
			log.Printf("recover escalation %s: %v", entry.ID, err)
		}
	}
}

// RespondToEscalation attaches the single user response to a pending
// escalation, returns the app to active, and runs the follow-up turn
// through the normal concurrency-gated path.
func (o *Orchestrator) RespondToEscalation(ctx context.Context, appID, entryID string, response state.UserResponse) (state.Run, error) {
	entry, err := o.store.PendingEscalation(ctx, appID, entryID)
	if err != nil {
		return state.Run{}, err
	}
	if entry == nil {
		return state.Run{}, &EscalationNotFoundError{AppID: appID, EntryID: entryID}
	}

	attached, err := o.store.AttachResponse(ctx, entryID, response)
	if err != nil {
		return state.Run{}, err
	}
	if !attached {
		// Lost a race with another responder; the entry is answered.
		return state.Run{}, &EscalationNotFoundError{AppID: appID, EntryID: entryID}
	}

	if err := o.appMgr.UpdateStatus(ctx, appID, apps.StatusActive, nil); err != nil {
		return state.Run{}, err
	}

	app, err := o.runnableApp(ctx, appID)
	if err != nil {
		return state.Run{}, err
	}
	triggerData := map[string]any{
		"escalation_entry_id": entryID,
		"question":            entry.Content["question"],
	}
	if response.Text != "" {
		triggerData["response_text"] = response.Text
	}
	if response.Choice != "" {
		triggerData["response_choice"] = response.Choice
	}
	return o.execute(ctx, *app, state.TriggerEscalationFollowup, triggerData, true)
}

// State derives the app's execution state on demand.
func (o *Orchestrator) State(ctx context.Context, appID string) (AppState, error) {
	app, err := o.appMgr.Get(ctx, appID)
	if err != nil {
		return "", err
	}
	if app == nil {
		return "", &AppNotFoundError{AppID: appID}
	}

	switch app.Status {
	case apps.StatusPaused:
		return StatePaused, nil
	case apps.StatusWaitingUser:
		return StateWaitingUser, nil
	case apps.StatusError, apps.StatusNeedsLogin:
		return StateError, nil
	}

	running, err := o.store.RunningRun(ctx, appID)
	if err != nil {
		return "", err
	}
	if running != nil {
		return StateRunning, nil
	}

	o.mu.Lock()
	queued := o.queued[appID]
	o.mu.Unlock()
	if queued > 0 {
		return StateQueued, nil
	}
	return StateIdle, nil
}

// Activated reports whether the app currently has an activation.
func (o *Orchestrator) Activated(appID string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	_, ok := o.activations[appID]
	return ok
}

func (o *Orchestrator) handleJobDue(job sched.Job) {
	appID := job.Metadata["app_id"]
	subID := job.Metadata["subscription_id"]
	if appID == "" {
		return
	}
	go func() {
		ctx := context.Background()
		app, err := o.runnableApp(ctx, appID)
		if err != nil {
			log.Printf("scheduled trigger %s: %v", job.ID, err)
			return
		}
		data := map[string]any{"job_id": job.ID, "subscription_id": subID}
		if _, err := o.execute(ctx, *app, state.TriggerSchedule, data, true); err != nil {
			log.Printf("scheduled run %s: %v", job.ID, err)
		}
	}()
}

// handleEventTrigger runs in its own goroutine so one app's pending
// execution never blocks bus dispatch to other subscribers.
func (o *Orchestrator) handleEventTrigger(appID, subID string, evt event.Event) {
	go func() {
		ctx := context.Background()
		app, err := o.runnableApp(ctx, appID)
		if err != nil {
			log.Printf("event trigger %s (%s): %v", appID, evt.Type, err)
			return
		}
		data := map[string]any{
			"subscription_id": subID,
			"event_id":        evt.ID,
			"event_type":      evt.Type,
			"event_source":    evt.Source,
			"event_payload":   evt.Payload,
		}
		if _, err := o.execute(ctx, *app, state.TriggerEvent, data, true); err != nil {
			log.Printf("event run %s (%s): %v", appID, evt.Type, err)
		}
	}()
}

func (o *Orchestrator) runnableApp(ctx context.Context, appID string) (*apps.App, error) {
	app, err := o.appMgr.Get(ctx, appID)
	if err != nil {
		return nil, err
	}
	if app == nil {
		return nil, &AppNotFoundError{AppID: appID}
	}
	if !app.Runnable() {
		return nil, &AppNotRunnableError{AppID: appID, Status: string(app.Status)}
	}
	return app, nil
}

// execute is the single gate every trigger path funnels through. wait
// selects queueing (scheduled/event/followup) versus fail-fast
// (manual). The slot is released on every exit path.
func (o *Orchestrator) execute(ctx context.Context, app apps.App, trigger state.TriggerType, triggerData map[string]any, wait bool) (state.Run, error) {
	o.mu.Lock()
	closed := o.closed
	o.mu.Unlock()
	if closed {
		return state.Run{}, ErrShuttingDown
	}

	if wait {
		o.mu.Lock()
		o.queued[app.ID]++
		o.mu.Unlock()
		err := o.sem.Acquire(ctx)
		o.mu.Lock()
		o.queued[app.ID]--
		if o.queued[app.ID] <= 0 {
			delete(o.queued, app.ID)
		}
		o.mu.Unlock()
		if err != nil {
			return state.Run{}, err
		}
	} else if !o.sem.TryAcquire() {
		return state.Run{}, &ConcurrencyLimitError{AppID: app.ID}
	}
	defer o.sem.Release()

	run, err := o.store.CreateRun(ctx, state.RunInput{
		AppID:       app.ID,
		SessionKey:  idgen.SessionKey(),
		TriggerType: trigger,
		TriggerData: triggerData,
	})
	if err != nil {
		return state.Run{}, fmt.Errorf("create run: %w", err)
	}

	started := time.Now()
	result, execErr := o.safeExecute(ctx, ExecRequest{App: app, Run: run})
	durationMs := time.Since(started).Milliseconds()

	if execErr != nil {
		runErr := &RunExecutionError{AppID: app.ID, RunID: run.ID, Err: execErr}
		if err := o.store.CompleteRun(ctx, run.ID, state.RunError, state.RunResult{
			DurationMs:   durationMs,
			ErrorMessage: execErr.Error(),
		}); err != nil {
			log.Printf("run %s: record failure: %v", run.ID, err)
		}
		if _, err := o.appendEntry(ctx, state.EntryInput{
			AppID:      app.ID,
			RunID:      run.ID,
			Type:       state.EntryRunError,
			SessionKey: run.SessionKey,
			Content:    map[string]any{"summary": "Run failed", "error": execErr.Error(), "duration_ms": durationMs},
		}); err != nil {
			log.Printf("run %s: record error entry: %v", run.ID, err)
		}
		if err := o.appMgr.UpdateLastRun(ctx, app.ID, string(OutcomeError), execErr.Error()); err != nil {
			log.Printf("run %s: update last run: %v", run.ID, err)
		}
		run.Status = state.RunError
		return run, runErr
	}

	if result.Escalation != nil {
		return o.pauseForEscalation(ctx, app, run, result)
	}

	status, entryType := outcomeToStatus(result.Outcome)
	if err := o.store.CompleteRun(ctx, run.ID, status, state.RunResult{
		DurationMs: durationMs,
		TokensUsed: result.TokensUsed,
	}); err != nil {
		log.Printf("run %s: record completion: %v", run.ID, err)
	}
	if _, err := o.appendEntry(ctx, state.EntryInput{
		AppID:      app.ID,
		RunID:      run.ID,
		Type:       entryType,
		SessionKey: run.SessionKey,
		Content: map[string]any{
			"summary":     result.Summary,
			"status":      string(status),
			"duration_ms": durationMs,
		},
	}); err != nil {
		log.Printf("run %s: record entry: %v", run.ID, err)
	}
	if err := o.appMgr.UpdateLastRun(ctx, app.ID, string(result.Outcome), ""); err != nil {
		log.Printf("run %s: update last run: %v", run.ID, err)
	}
	run.Status = status
	return run, nil
}

// pauseForEscalation parks the run in waiting_user with a pending
// escalation entry and flips the app's status so the UI can surface the
// question.
func (o *Orchestrator) pauseForEscalation(ctx context.Context, app apps.App, run state.Run, result ExecResult) (state.Run, error) {
	content := map[string]any{
		"summary":  result.Summary,
		"question": result.Escalation.Question,
	}
	if len(result.Escalation.Choices) > 0 {
		choices := make([]any, len(result.Escalation.Choices))
		for i, c := range result.Escalation.Choices {
			choices[i] = c
		}
		content["choices"] = choices
	}
	entry, err := o.appendEntry(ctx, state.EntryInput{
		AppID:      app.ID,
		RunID:      run.ID,
		Type:       state.EntryEscalation,
		SessionKey: run.SessionKey,
		Content:    content,
	})
	if err != nil {
		return run, fmt.Errorf("record escalation: %w", err)
	}
	if err := o.store.UpdateRunStatus(ctx, run.ID, state.RunWaitingUser); err != nil {
		return run, fmt.Errorf("park run: %w", err)
	}
	if err := o.appMgr.UpdateStatus(ctx, app.ID, apps.StatusWaitingUser, &apps.StatusExtra{PendingEscalationID: entry.ID}); err != nil {
		return run, fmt.Errorf("mark app waiting: %w", err)
	}
	run.Status = state.RunWaitingUser
	return run, nil
}

// appendEntry records an activity entry and mirrors it onto the bus as
// an activity.* event so live streams see it without polling the store.
func (o *Orchestrator) appendEntry(ctx context.Context, input state.EntryInput) (state.Entry, error) {
	entry, err := o.store.AppendEntry(ctx, input)
	if err != nil {
		return entry, err
	}
	o.bus.Emit(ctx, event.Input{
		Type:   "activity." + string(entry.Type),
		Source: "runtime",
		Payload: map[string]any{
			"entry_id":   entry.ID,
			"app_id":     entry.AppID,
			"run_id":     entry.RunID,
			"created_at": entry.CreatedAt.Format(time.RFC3339Nano),
			"content":    entry.Content,
		},
		DedupKey: entry.ID,
	})
	return entry, nil
}

func (o *Orchestrator) safeExecute(ctx context.Context, req ExecRequest) (result ExecResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("executor panic: %v", r)
		}
	}()
	return o.exec.Execute(ctx, req)
}

func outcomeToStatus(outcome Outcome) (state.RunStatus, state.EntryType) {
	switch outcome {
	case OutcomeSkipped:
		return state.RunSkipped, state.EntryRunSkipped
	case OutcomeError:
		return state.RunError, state.EntryRunError
	default:
		return state.RunOK, state.EntryRunComplete
	}
}
