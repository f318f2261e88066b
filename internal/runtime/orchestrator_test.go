package runtime

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/flitsinc/go-automations/internal/apps"
	"github.com/flitsinc/go-automations/internal/event"
	"github.com/flitsinc/go-automations/internal/keepalive"
	"github.com/flitsinc/go-automations/internal/sched"
	"github.com/flitsinc/go-automations/internal/state"
	"github.com/flitsinc/go-automations/internal/testutil"
)

type fakeScheduler struct {
	mu       sync.Mutex
	addCalls int
	jobs     map[string]sched.Job
	resumed  []string
	removed  []string
	handlers []sched.DueHandler
}

func newFakeScheduler() *fakeScheduler {
	return &fakeScheduler{jobs: map[string]sched.Job{}}
}

func (f *fakeScheduler) AddJob(job sched.Job) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.addCalls++
	f.jobs[job.ID] = job
	return job.ID, nil
}

func (f *fakeScheduler) RemoveJob(jobID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.removed = append(f.removed, jobID)
	delete(f.jobs, jobID)
}

func (f *fakeScheduler) GetJob(jobID string) *sched.Job {
	f.mu.Lock()
	defer f.mu.Unlock()
	job, ok := f.jobs[jobID]
	if !ok {
		return nil
	}
	return &job
}

func (f *fakeScheduler) ResumeJob(jobID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	job, ok := f.jobs[jobID]
	if !ok {
		return errors.New("job not found")
	}
	job.Paused = false
	f.jobs[jobID] = job
	f.resumed = append(f.resumed, jobID)
	return nil
}

func (f *fakeScheduler) OnJobDue(handler sched.DueHandler) func() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handlers = append(f.handlers, handler)
	return func() {}
}

func (f *fakeScheduler) fire(jobID string) {
	f.mu.Lock()
	job, ok := f.jobs[jobID]
	handlers := append([]sched.DueHandler{}, f.handlers...)
	f.mu.Unlock()
	if !ok {
		return
	}
	for _, h := range handlers {
		h(job)
	}
}

func (f *fakeScheduler) addCallCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.addCalls
}

type scriptedExecutor struct {
	mu      sync.Mutex
	calls   []ExecRequest
	results []ExecResult
	errs    []error
	block   chan struct{}
}

func (s *scriptedExecutor) Execute(ctx context.Context, req ExecRequest) (ExecResult, error) {
	s.mu.Lock()
	s.calls = append(s.calls, req)
	var result ExecResult
	var err error
	if len(s.results) > 0 {
		result = s.results[0]
		if len(s.results) > 1 {
			s.results = s.results[1:]
		}
	} else {
		result = ExecResult{Outcome: OutcomeUseful, Summary: "done"}
	}
	if len(s.errs) > 0 {
		err = s.errs[0]
		if len(s.errs) > 1 {
			s.errs = s.errs[1:]
		}
	}
	block := s.block
	s.mu.Unlock()

	if block != nil {
		<-block
	}
	return result, err
}

func (s *scriptedExecutor) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.calls)
}

type fixture struct {
	orch      *Orchestrator
	appMgr    *apps.Manager
	store     *state.Store
	bus       *event.Bus
	scheduler *fakeScheduler
	keep      *keepalive.Tracker
	exec      *scriptedExecutor
}

func newFixture(t *testing.T, maxConcurrent int) (*fixture, func()) {
	t.Helper()
	db, closeFn := testutil.OpenTestDB(t)

	f := &fixture{
		appMgr:    apps.NewManager(db),
		store:     state.NewStore(db),
		bus:       event.NewBus(event.NewDedupCache(time.Minute, 100)),
		scheduler: newFakeScheduler(),
		keep:      keepalive.NewTracker(),
		exec:      &scriptedExecutor{},
	}
	if err := f.bus.Start(); err != nil {
		t.Fatalf("start bus: %v", err)
	}
	f.orch = NewOrchestrator(Config{
		Apps:          f.appMgr,
		Store:         f.store,
		Bus:           f.bus,
		Scheduler:     f.scheduler,
		KeepAlive:     f.keep,
		Executor:      f.exec,
		MaxConcurrent: maxConcurrent,
	})
	return f, func() {
		f.bus.Stop()
		closeFn()
	}
}

func installApp(t *testing.T, f *fixture, subs ...apps.Subscription) apps.App {
	t.Helper()
	app, err := f.appMgr.Install(context.Background(), apps.InstallInput{
		Name: "Inbox Digest",
		Spec: apps.Spec{
			Type:          SpecTypeAutomation,
			Instructions:  "summarize the inbox",
			Subscriptions: subs,
		},
	})
	if err != nil {
		t.Fatalf("install app: %v", err)
	}
	return app
}

func scheduleSub(id, every string) apps.Subscription {
	return apps.Subscription{ID: id, Source: apps.SourceSchedule, Every: every}
}

func TestActivateRegistersScheduleJob(t *testing.T) {
	f, done := newFixture(t, 2)
	defer done()
	ctx := context.Background()

	app := installApp(t, f, scheduleSub("sub-1", "30m"))
	if err := f.orch.Activate(ctx, app.ID); err != nil {
		t.Fatalf("activate: %v", err)
	}

	jobID := app.ID + ":sub-1"
	job := f.scheduler.GetJob(jobID)
	if job == nil {
		t.Fatalf("expected job %s registered", jobID)
	}
	if job.Schedule.Kind != sched.KindEvery || job.Schedule.Every != 30*time.Minute {
		t.Fatalf("unexpected schedule: %+v", job.Schedule)
	}
	if job.Metadata["app_id"] != app.ID || job.Metadata["subscription_id"] != "sub-1" {
		t.Fatalf("job metadata missing: %+v", job.Metadata)
	}
	if !f.keep.Active() {
		t.Fatalf("keep-alive reason should be held while armed")
	}
}

func TestActivateUsesFrequencyOverride(t *testing.T) {
	f, done := newFixture(t, 2)
	defer done()
	ctx := context.Background()

	app := installApp(t, f, scheduleSub("sub-1", "30m"))
	if err := f.appMgr.SetFrequencyOverride(ctx, app.ID, "sub-1", "1h"); err != nil {
		t.Fatalf("set override: %v", err)
	}
	if err := f.orch.Activate(ctx, app.ID); err != nil {
		t.Fatalf("activate: %v", err)
	}

	job := f.scheduler.GetJob(app.ID + ":sub-1")
	if job == nil || job.Schedule.Every != time.Hour {
		t.Fatalf("override not applied: %+v", job)
	}
}

func TestActivateNoSubscriptions(t *testing.T) {
	f, done := newFixture(t, 2)
	defer done()
	ctx := context.Background()

	app := installApp(t, f)
	err := f.orch.Activate(ctx, app.ID)
	if !errors.Is(err, ErrNoSubscriptions) {
		t.Fatalf("expected ErrNoSubscriptions, got %v", err)
	}
	if f.scheduler.addCallCount() != 0 {
		t.Fatalf("no jobs may leak from a rejected activation")
	}
	if f.bus.SubscriberCount() != 0 {
		t.Fatalf("no subscriptions may leak from a rejected activation")
	}
	if f.keep.Active() {
		t.Fatalf("no keep-alive may leak from a rejected activation")
	}
}

func TestActivateIdempotent(t *testing.T) {
	f, done := newFixture(t, 2)
	defer done()
	ctx := context.Background()

	app := installApp(t, f, scheduleSub("sub-1", "30m"))
	if err := f.orch.Activate(ctx, app.ID); err != nil {
		t.Fatalf("first activate: %v", err)
	}
	if err := f.orch.Activate(ctx, app.ID); err != nil {
		t.Fatalf("second activate: %v", err)
	}
	if got := f.scheduler.addCallCount(); got != 1 {
		t.Fatalf("job registered %d times, want 1", got)
	}
}

func TestActivateConcurrentSingleWiring(t *testing.T) {
	f, done := newFixture(t, 2)
	defer done()
	ctx := context.Background()

	app := installApp(t, f, scheduleSub("sub-1", "30m"))

	var wg sync.WaitGroup
	errs := make([]error, 8)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = f.orch.Activate(ctx, app.ID)
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Fatalf("activate %d: %v", i, err)
		}
	}
	if got := f.scheduler.addCallCount(); got != 1 {
		t.Fatalf("job registered %d times across concurrent activates, want 1", got)
	}
	// A lost activation would leak its keep-alive disposer past teardown.
	f.orch.Deactivate(app.ID)
	if f.keep.Active() {
		t.Fatalf("keep-alive still held after deactivate")
	}
}

func TestActivateUnknownApp(t *testing.T) {
	f, done := newFixture(t, 2)
	defer done()

	err := f.orch.Activate(context.Background(), "nope")
	if !errors.Is(err, ErrAppNotFound) {
		t.Fatalf("expected ErrAppNotFound, got %v", err)
	}
}

func TestActivateSkipsNonAutomationSpecs(t *testing.T) {
	f, done := newFixture(t, 2)
	defer done()
	ctx := context.Background()

	app, err := f.appMgr.Install(ctx, apps.InstallInput{
		Name: "Just A Tool",
		Spec: apps.Spec{Type: "toolbox"},
	})
	if err != nil {
		t.Fatalf("install: %v", err)
	}
	if err := f.orch.Activate(ctx, app.ID); err != nil {
		t.Fatalf("non-automation specs are skipped silently, got %v", err)
	}
	if f.orch.Activated(app.ID) {
		t.Fatalf("non-automation app must not be activated")
	}
}

func TestDeactivateTearsDown(t *testing.T) {
	f, done := newFixture(t, 2)
	defer done()
	ctx := context.Background()

	app := installApp(t, f,
		scheduleSub("sub-1", "30m"),
		apps.Subscription{ID: "sub-2", Source: apps.SourceFile},
	)
	if err := f.orch.Activate(ctx, app.ID); err != nil {
		t.Fatalf("activate: %v", err)
	}
	if f.bus.SubscriberCount() != 1 {
		t.Fatalf("expected one event subscription, got %d", f.bus.SubscriberCount())
	}

	f.orch.Deactivate(app.ID)
	if f.scheduler.GetJob(app.ID+":sub-1") != nil {
		t.Fatalf("scheduler job should be removed")
	}
	if f.bus.SubscriberCount() != 0 {
		t.Fatalf("event subscription should be removed")
	}
	if f.keep.Active() {
		t.Fatalf("keep-alive should be disposed")
	}

	f.orch.Deactivate(app.ID) // idempotent
}

func TestSyncAppScheduleHotReload(t *testing.T) {
	f, done := newFixture(t, 2)
	defer done()
	ctx := context.Background()

	app := installApp(t, f, scheduleSub("sub-1", "30m"), scheduleSub("sub-2", "2h"))
	if err := f.orch.Activate(ctx, app.ID); err != nil {
		t.Fatalf("activate: %v", err)
	}
	callsAfterActivate := f.scheduler.addCallCount()

	// No change: nothing re-registered.
	if err := f.orch.SyncAppSchedule(ctx, app.ID); err != nil {
		t.Fatalf("sync: %v", err)
	}
	if got := f.scheduler.addCallCount(); got != callsAfterActivate {
		t.Fatalf("unchanged schedules must not be touched, add calls %d -> %d", callsAfterActivate, got)
	}

	if err := f.appMgr.SetFrequencyOverride(ctx, app.ID, "sub-1", "1h"); err != nil {
		t.Fatalf("set override: %v", err)
	}
	if err := f.orch.SyncAppSchedule(ctx, app.ID); err != nil {
		t.Fatalf("sync after override: %v", err)
	}
	if got := f.scheduler.addCallCount(); got != callsAfterActivate+1 {
		t.Fatalf("exactly the changed job re-registers, add calls %d -> %d", callsAfterActivate, got)
	}
	job := f.scheduler.GetJob(app.ID + ":sub-1")
	if job == nil || job.Schedule.Every != time.Hour {
		t.Fatalf("re-registered job has wrong interval: %+v", job)
	}
	if untouched := f.scheduler.GetJob(app.ID + ":sub-2"); untouched == nil || untouched.Schedule.Every != 2*time.Hour {
		t.Fatalf("other job must be untouched: %+v", untouched)
	}
}

func TestTriggerManuallyRecordsRun(t *testing.T) {
	f, done := newFixture(t, 2)
	defer done()
	ctx := context.Background()

	app := installApp(t, f, scheduleSub("sub-1", "30m"))
	f.exec.results = []ExecResult{{Outcome: OutcomeUseful, Summary: "sorted 3 mails", TokensUsed: 420}}

	run, err := f.orch.TriggerManually(ctx, app.ID)
	if err != nil {
		t.Fatalf("trigger: %v", err)
	}
	if run.Status != state.RunOK || run.TriggerType != state.TriggerManual {
		t.Fatalf("unexpected run: %+v", run)
	}

	stored, err := f.store.GetRun(ctx, run.ID)
	if err != nil {
		t.Fatalf("get run: %v", err)
	}
	if stored.Status != state.RunOK || stored.TokensUsed != 420 || stored.FinishedAt == nil {
		t.Fatalf("terminal run not persisted: %+v", stored)
	}
	if stored.SessionKey == "" {
		t.Fatalf("run needs a session key")
	}

	entries, err := f.store.ListRunEntries(ctx, run.ID)
	if err != nil {
		t.Fatalf("list entries: %v", err)
	}
	if len(entries) != 1 || entries[0].Type != state.EntryRunComplete {
		t.Fatalf("expected one run_complete entry, got %+v", entries)
	}

	updated, err := f.appMgr.Get(ctx, app.ID)
	if err != nil {
		t.Fatalf("get app: %v", err)
	}
	if updated.LastRunOutcome != string(OutcomeUseful) {
		t.Fatalf("last run outcome not recorded: %+v", updated)
	}
}

func TestTriggerManuallyFailsFastAtCapacity(t *testing.T) {
	f, done := newFixture(t, 1)
	defer done()
	ctx := context.Background()

	app := installApp(t, f, scheduleSub("sub-1", "30m"))
	f.exec.block = make(chan struct{})

	started := make(chan struct{})
	finished := make(chan error, 1)
	go func() {
		close(started)
		_, err := f.orch.TriggerManually(ctx, app.ID)
		finished <- err
	}()
	<-started
	waitForExecCalls(t, f.exec, 1)

	_, err := f.orch.TriggerManually(ctx, app.ID)
	if !errors.Is(err, ErrConcurrencyLimit) {
		t.Fatalf("expected ErrConcurrencyLimit, got %v", err)
	}

	close(f.exec.block)
	if err := <-finished; err != nil {
		t.Fatalf("blocked trigger: %v", err)
	}
}

func TestTriggerManuallyNotRunnable(t *testing.T) {
	f, done := newFixture(t, 2)
	defer done()
	ctx := context.Background()

	app := installApp(t, f, scheduleSub("sub-1", "30m"))
	if err := f.appMgr.UpdateStatus(ctx, app.ID, apps.StatusPaused, nil); err != nil {
		t.Fatalf("pause app: %v", err)
	}

	_, err := f.orch.TriggerManually(ctx, app.ID)
	if !errors.Is(err, ErrAppNotRunnable) {
		t.Fatalf("expected ErrAppNotRunnable, got %v", err)
	}
}

func TestExecutorFailureRecordsError(t *testing.T) {
	f, done := newFixture(t, 2)
	defer done()
	ctx := context.Background()

	app := installApp(t, f, scheduleSub("sub-1", "30m"))
	f.exec.errs = []error{errors.New("model unavailable")}

	run, err := f.orch.TriggerManually(ctx, app.ID)
	if !errors.Is(err, ErrRunExecution) {
		t.Fatalf("expected ErrRunExecution, got %v", err)
	}

	stored, err := f.store.GetRun(ctx, run.ID)
	if err != nil {
		t.Fatalf("get run: %v", err)
	}
	if stored.Status != state.RunError || stored.ErrorMessage == "" {
		t.Fatalf("failed run not recorded: %+v", stored)
	}

	entries, err := f.store.ListRunEntries(ctx, run.ID)
	if err != nil {
		t.Fatalf("list entries: %v", err)
	}
	if len(entries) != 1 || entries[0].Type != state.EntryRunError {
		t.Fatalf("expected run_error entry, got %+v", entries)
	}
}

func TestScheduledTriggerRunsThroughGate(t *testing.T) {
	f, done := newFixture(t, 1)
	defer done()
	ctx := context.Background()

	app := installApp(t, f, scheduleSub("sub-1", "30m"))
	if err := f.orch.Activate(ctx, app.ID); err != nil {
		t.Fatalf("activate: %v", err)
	}

	f.scheduler.fire(app.ID + ":sub-1")
	waitForExecCalls(t, f.exec, 1)

	waitFor(t, func() bool {
		latest, err := f.store.LatestRun(ctx, app.ID)
		return err == nil && latest != nil && latest.TriggerType == state.TriggerSchedule && latest.Status == state.RunOK
	}, "scheduled run never completed")
}

func TestEventTriggerMatchesSourceType(t *testing.T) {
	f, done := newFixture(t, 1)
	defer done()
	ctx := context.Background()

	app := installApp(t, f, apps.Subscription{ID: "sub-1", Source: apps.SourceFile})
	if err := f.orch.Activate(ctx, app.ID); err != nil {
		t.Fatalf("activate: %v", err)
	}

	// An unrelated event type must not trigger.
	f.bus.Emit(ctx, event.Input{Type: "webhook.received", Source: "hooks"})
	time.Sleep(50 * time.Millisecond)
	if f.exec.callCount() != 0 {
		t.Fatalf("webhook event must not match a file subscription")
	}

	f.bus.Emit(ctx, event.Input{Type: "file.changed", Source: "watcher", Payload: map[string]any{"path": "/tmp/x"}})
	waitForExecCalls(t, f.exec, 1)

	waitFor(t, func() bool {
		latest, err := f.store.LatestRun(ctx, app.ID)
		return err == nil && latest != nil && latest.TriggerType == state.TriggerEvent && latest.Status == state.RunOK
	}, "event run never completed")
}

func TestEscalationRoundTrip(t *testing.T) {
	f, done := newFixture(t, 2)
	defer done()
	ctx := context.Background()

	app := installApp(t, f, scheduleSub("sub-1", "30m"))
	f.exec.results = []ExecResult{
		{
			Outcome:    OutcomeUseful,
			Summary:    "need a decision",
			Escalation: &Escalation{Question: "Archive 14 threads?", Choices: []string{"yes", "no"}},
		},
		{Outcome: OutcomeUseful, Summary: "archived"},
	}

	run, err := f.orch.TriggerManually(ctx, app.ID)
	if err != nil {
		t.Fatalf("trigger: %v", err)
	}
	if run.Status != state.RunWaitingUser {
		t.Fatalf("run should pause for the user, got %s", run.Status)
	}

	paused, err := f.appMgr.Get(ctx, app.ID)
	if err != nil {
		t.Fatalf("get app: %v", err)
	}
	if paused.Status != apps.StatusWaitingUser || paused.PendingEscalationID == "" {
		t.Fatalf("app should be waiting_user with a pending pointer: %+v", paused)
	}
	entryID := paused.PendingEscalationID

	if st, err := f.orch.State(ctx, app.ID); err != nil || st != StateWaitingUser {
		t.Fatalf("derived state = %v (%v), want waiting_user", st, err)
	}

	followup, err := f.orch.RespondToEscalation(ctx, app.ID, entryID, state.UserResponse{Text: "go ahead"})
	if err != nil {
		t.Fatalf("respond: %v", err)
	}
	if followup.TriggerType != state.TriggerEscalationFollowup {
		t.Fatalf("follow-up trigger type = %s", followup.TriggerType)
	}
	if followup.TriggerData["response_text"] != "go ahead" {
		t.Fatalf("follow-up must carry the response: %+v", followup.TriggerData)
	}

	entry, err := f.store.GetEntry(ctx, entryID)
	if err != nil {
		t.Fatalf("get entry: %v", err)
	}
	if entry.UserResponse == nil || entry.UserResponse.Text != "go ahead" {
		t.Fatalf("response not attached: %+v", entry)
	}

	active, err := f.appMgr.Get(ctx, app.ID)
	if err != nil {
		t.Fatalf("get app: %v", err)
	}
	if active.Status != apps.StatusActive || active.PendingEscalationID != "" {
		t.Fatalf("app should be active with no pending pointer: %+v", active)
	}

	// Second response to the same entry fails: no longer pending.
	_, err = f.orch.RespondToEscalation(ctx, app.ID, entryID, state.UserResponse{Text: "again"})
	if !errors.Is(err, ErrEscalationNotFound) {
		t.Fatalf("expected ErrEscalationNotFound, got %v", err)
	}
}

func TestRecoverPendingEscalations(t *testing.T) {
	f, done := newFixture(t, 2)
	defer done()
	ctx := context.Background()

	app := installApp(t, f, scheduleSub("sub-1", "30m"))
	f.exec.results = []ExecResult{{
		Outcome:    OutcomeUseful,
		Escalation: &Escalation{Question: "Proceed?"},
	}}
	if _, err := f.orch.TriggerManually(ctx, app.ID); err != nil {
		t.Fatalf("trigger: %v", err)
	}

	// Simulate a crash that lost the status flip.
	if err := f.appMgr.UpdateStatus(ctx, app.ID, apps.StatusActive, nil); err != nil {
		t.Fatalf("reset status: %v", err)
	}

	f.orch.RecoverPendingEscalations(ctx)
	recovered, err := f.appMgr.Get(ctx, app.ID)
	if err != nil {
		t.Fatalf("get app: %v", err)
	}
	if recovered.Status != apps.StatusWaitingUser || recovered.PendingEscalationID == "" {
		t.Fatalf("recovery should restore waiting_user: %+v", recovered)
	}
}

func TestActivateAllAndDeactivateAll(t *testing.T) {
	f, done := newFixture(t, 2)
	defer done()
	ctx := context.Background()

	first := installApp(t, f, scheduleSub("sub-1", "30m"))
	second := installApp(t, f, scheduleSub("sub-1", "1h"))
	paused := installApp(t, f, scheduleSub("sub-1", "1h"))
	if err := f.appMgr.UpdateStatus(ctx, paused.ID, apps.StatusPaused, nil); err != nil {
		t.Fatalf("pause: %v", err)
	}

	f.orch.ActivateAll(ctx)
	if !f.orch.Activated(first.ID) || !f.orch.Activated(second.ID) {
		t.Fatalf("active apps should be activated")
	}
	if f.orch.Activated(paused.ID) {
		t.Fatalf("paused apps are not activated at boot")
	}

	f.orch.DeactivateAll()
	if f.orch.Activated(first.ID) || f.orch.Activated(second.ID) {
		t.Fatalf("deactivate all should tear down every activation")
	}
	if _, err := f.orch.TriggerManually(ctx, first.ID); !errors.Is(err, ErrShuttingDown) {
		t.Fatalf("triggers after shutdown are refused, got %v", err)
	}
}

func TestDerivedStateIdleAndRunning(t *testing.T) {
	f, done := newFixture(t, 1)
	defer done()
	ctx := context.Background()

	app := installApp(t, f, scheduleSub("sub-1", "30m"))
	if st, err := f.orch.State(ctx, app.ID); err != nil || st != StateIdle {
		t.Fatalf("fresh app state = %v (%v), want idle", st, err)
	}

	f.exec.block = make(chan struct{})
	doneCh := make(chan struct{})
	go func() {
		defer close(doneCh)
		_, _ = f.orch.TriggerManually(ctx, app.ID)
	}()
	waitForExecCalls(t, f.exec, 1)

	if st, err := f.orch.State(ctx, app.ID); err != nil || st != StateRunning {
		t.Fatalf("state during execution = %v (%v), want running", st, err)
	}

	close(f.exec.block)
	<-doneCh
	if st, err := f.orch.State(ctx, app.ID); err != nil || st != StateIdle {
		t.Fatalf("state after completion = %v (%v), want idle", st, err)
	}
}

func waitForExecCalls(t *testing.T, exec *scriptedExecutor, n int) {
	t.Helper()
	waitFor(t, func() bool { return exec.callCount() >= n }, "executor never reached expected call count")
}

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("%s", msg)
}
