package sched

import (
	"sync"
	"testing"
	"time"
)

func TestAddJobValidation(t *testing.T) {
	s := New()
	defer s.Stop()

	if _, err := s.AddJob(Job{Schedule: Schedule{Kind: KindEvery, Every: time.Minute}}); err == nil {
		t.Fatalf("expected error for missing id")
	}
	if _, err := s.AddJob(Job{ID: "j", Schedule: Schedule{Kind: KindEvery}}); err == nil {
		t.Fatalf("expected error for non-positive interval")
	}
	if _, err := s.AddJob(Job{ID: "j", Schedule: Schedule{Kind: KindCron, Cron: "not a cron"}}); err == nil {
		t.Fatalf("expected error for bad cron expression")
	}
	if _, err := s.AddJob(Job{ID: "j", Schedule: Schedule{Kind: KindCron, Cron: "*/5 * * * *"}}); err != nil {
		t.Fatalf("valid cron rejected: %v", err)
	}
}

func TestEveryJobFires(t *testing.T) {
	s := New()
	defer s.Stop()

	fired := make(chan Job, 4)
	s.OnJobDue(func(job Job) {
		fired <- job
	})

	_, err := s.AddJob(Job{
		ID:       "app-1:sub-1",
		Schedule: Schedule{Kind: KindEvery, Every: 20 * time.Millisecond},
		Metadata: map[string]string{"app_id": "app-1", "subscription_id": "sub-1"},
	})
	if err != nil {
		t.Fatalf("add job: %v", err)
	}

	select {
	case job := <-fired:
		if job.Metadata["app_id"] != "app-1" {
			t.Fatalf("metadata lost on fire: %+v", job.Metadata)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("job never fired")
	}
}

func TestOnceJobFiresAndForgets(t *testing.T) {
	s := New()
	defer s.Stop()

	fired := make(chan Job, 1)
	s.OnJobDue(func(job Job) {
		fired <- job
	})

	_, err := s.AddJob(Job{ID: "one", Schedule: Schedule{Kind: KindOnce, At: time.Now().Add(10 * time.Millisecond)}})
	if err != nil {
		t.Fatalf("add job: %v", err)
	}

	select {
	case <-fired:
	case <-time.After(2 * time.Second):
		t.Fatalf("once job never fired")
	}

	deadline := time.Now().Add(time.Second)
	for s.GetJob("one") != nil {
		if time.Now().After(deadline) {
			t.Fatalf("once job should be removed after firing")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestPauseResume(t *testing.T) {
	s := New()
	defer s.Stop()

	var mu sync.Mutex
	count := 0
	s.OnJobDue(func(job Job) {
		mu.Lock()
		count++
		mu.Unlock()
	})

	_, err := s.AddJob(Job{ID: "j", Schedule: Schedule{Kind: KindEvery, Every: 20 * time.Millisecond}})
	if err != nil {
		t.Fatalf("add job: %v", err)
	}
	if err := s.PauseJob("j"); err != nil {
		t.Fatalf("pause: %v", err)
	}
	if job := s.GetJob("j"); job == nil || !job.Paused {
		t.Fatalf("paused job should be retrievable and marked paused")
	}

	mu.Lock()
	count = 0
	mu.Unlock()
	time.Sleep(80 * time.Millisecond)
	mu.Lock()
	paused := count
	mu.Unlock()
	if paused != 0 {
		t.Fatalf("paused job fired %d times", paused)
	}

	if err := s.ResumeJob("j"); err != nil {
		t.Fatalf("resume: %v", err)
	}
	deadline := time.Now().Add(2 * time.Second)
	for {
		mu.Lock()
		resumed := count
		mu.Unlock()
		if resumed > 0 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("resumed job never fired")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestRemoveJobStopsFiring(t *testing.T) {
	s := New()
	defer s.Stop()

	s.OnJobDue(func(job Job) {})
	if _, err := s.AddJob(Job{ID: "gone", Schedule: Schedule{Kind: KindEvery, Every: 10 * time.Millisecond}}); err != nil {
		t.Fatalf("add job: %v", err)
	}
	s.RemoveJob("gone")
	if s.GetJob("gone") != nil {
		t.Fatalf("removed job must be forgotten")
	}
	s.RemoveJob("gone") // unknown id is a no-op
}
