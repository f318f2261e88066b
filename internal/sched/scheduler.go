// Package sched is the in-process job engine behind schedule
// subscriptions. The orchestrator is a pure consumer: it registers and
// removes jobs and reacts to due callbacks, never computing fire times
// itself.
package sched

import (
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

type Kind string

const (
	KindEvery Kind = "every"
	KindCron  Kind = "cron"
	KindOnce  Kind = "once"
)

type Schedule struct {
	Kind  Kind          `json:"kind"`
	Every time.Duration `json:"every,omitempty"`
	Cron  string        `json:"cron,omitempty"`
	At    time.Time     `json:"at,omitempty"`
}

type Job struct {
	ID       string            `json:"id"`
	Schedule Schedule          `json:"schedule"`
	Metadata map[string]string `json:"metadata,omitempty"`
	Paused   bool              `json:"paused"`
}

type DueHandler func(job Job)

type jobState struct {
	def  Job
	stop chan struct{}
}

type Scheduler struct {
	mu          sync.Mutex
	jobs        map[string]*jobState
	nextHandler int
	handlers    map[int]DueHandler
	stopped     bool
}

func New() *Scheduler {
	return &Scheduler{
		jobs:     map[string]*jobState{},
		handlers: map[int]DueHandler{},
	}
}

// AddJob registers and arms a job. Re-adding an existing id replaces
// and re-arms it.
func (s *Scheduler) AddJob(job Job) (string, error) {
	if job.ID == "" {
		return "", fmt.Errorf("job id is required")
	}
	if err := validateSchedule(job.Schedule); err != nil {
		return "", err
	}

	s.mu.Lock()
	if old, ok := s.jobs[job.ID]; ok && old.stop != nil {
		close(old.stop)
	}
	st := &jobState{def: job}
	s.jobs[job.ID] = st
	if !job.Paused && !s.stopped {
		st.stop = make(chan struct{})
		go s.runJob(st.def, st.stop)
	}
	s.mu.Unlock()
	return job.ID, nil
}

func (s *Scheduler) RemoveJob(jobID string) {
	s.mu.Lock()
	st, ok := s.jobs[jobID]
	if ok {
		delete(s.jobs, jobID)
	}
	s.mu.Unlock()
	if ok && st.stop != nil {
		close(st.stop)
	}
}

// GetJob returns the job definition or nil for an unknown id.
func (s *Scheduler) GetJob(jobID string) *Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.jobs[jobID]
	if !ok {
		return nil
	}
	def := st.def
	return &def
}

// PauseJob disarms a job without forgetting it.
func (s *Scheduler) PauseJob(jobID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.jobs[jobID]
	if !ok {
		return fmt.Errorf("job %s not found", jobID)
	}
	if st.stop != nil {
		close(st.stop)
		st.stop = nil
	}
	st.def.Paused = true
	return nil
}

// ResumeJob re-arms a paused job.
func (s *Scheduler) ResumeJob(jobID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.jobs[jobID]
	if !ok {
		return fmt.Errorf("job %s not found", jobID)
	}
	if !st.def.Paused {
		return nil
	}
	st.def.Paused = false
	if !s.stopped {
		st.stop = make(chan struct{})
		go s.runJob(st.def, st.stop)
	}
	return nil
}

// OnJobDue registers a handler for every job firing; returns an
// unsubscribe closure.
func (s *Scheduler) OnJobDue(handler DueHandler) func() {
	s.mu.Lock()
	s.nextHandler++
	id := s.nextHandler
	s.handlers[id] = handler
	s.mu.Unlock()
	return func() {
		s.mu.Lock()
		delete(s.handlers, id)
		s.mu.Unlock()
	}
}

// Stop disarms every job. Definitions are kept so a restarted process
// can re-add them.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	s.stopped = true
	for _, st := range s.jobs {
		if st.stop != nil {
			close(st.stop)
			st.stop = nil
		}
	}
	s.mu.Unlock()
}

func (s *Scheduler) runJob(job Job, stop chan struct{}) {
	var cronSched cron.Schedule
	if job.Schedule.Kind == KindCron {
		parsed, err := cron.ParseStandard(job.Schedule.Cron)
		if err != nil {
			log.Printf("job %s: bad cron expression %q: %v", job.ID, job.Schedule.Cron, err)
			return
		}
		cronSched = parsed
	}

	for {
		var wait time.Duration
		now := time.Now()
		switch job.Schedule.Kind {
		case KindEvery:
			wait = job.Schedule.Every
		case KindCron:
			wait = cronSched.Next(now).Sub(now)
		case KindOnce:
			wait = time.Until(job.Schedule.At)
			if wait < 0 {
				wait = 0
			}
		}

		timer := time.NewTimer(wait)
		select {
		case <-stop:
			timer.Stop()
			return
		case <-timer.C:
		}

		s.fire(job)
		if job.Schedule.Kind == KindOnce {
			s.RemoveJob(job.ID)
			return
		}
	}
}

func (s *Scheduler) fire(job Job) {
	s.mu.Lock()
	handlers := make([]DueHandler, 0, len(s.handlers))
	for _, h := range s.handlers {
		handlers = append(handlers, h)
	}
	s.mu.Unlock()
	for _, h := range handlers {
		h(job)
	}
}

func validateSchedule(schedule Schedule) error {
	switch schedule.Kind {
	case KindEvery:
		if schedule.Every <= 0 {
			return fmt.Errorf("every must be positive")
		}
	case KindCron:
		if _, err := cron.ParseStandard(schedule.Cron); err != nil {
			return fmt.Errorf("parse cron %q: %w", schedule.Cron, err)
		}
	case KindOnce:
		if schedule.At.IsZero() {
			return fmt.Errorf("once schedule needs a time")
		}
	default:
		return fmt.Errorf("unknown schedule kind %q", schedule.Kind)
	}
	return nil
}
