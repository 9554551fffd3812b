// Package scheduler is a small cooperative timer service: a ticker-driven
// run loop plus an in-memory due-task index, built the same way the
// teacher's task runner is, re-expressed against (id, schedule, handler)
// triples instead of database-polled rows.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/obsidianmc/controlplane/internal/ctlerrors"
	"github.com/obsidianmc/controlplane/pkg/logger"
)

// cronParser understands the 5-field form plus the "@every <duration>"
// descriptor, which is all built-in tasks need.
var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// Task is one recurring unit of work.
type Task struct {
	ID      string
	Handler func(ctx context.Context) error

	schedule cron.Schedule
	nextDue  time.Time
}

// EveryTask builds a Task that fires every period, computed through
// robfig/cron's "@every" schedule rather than a hand-rolled ticker so the
// same DST/leap-second-aware Next() logic a calendar cron expression gets
// applies here too.
func EveryTask(id string, period time.Duration, handler func(ctx context.Context) error) (*Task, error) {
	sched, err := cronParser.Parse(fmt.Sprintf("@every %s", period))
	if err != nil {
		return nil, ctlerrors.Wrap(ctlerrors.ErrIO, "parsing task schedule", err)
	}
	return &Task{ID: id, Handler: handler, schedule: sched, nextDue: sched.Next(time.Now())}, nil
}

// Scheduler drives a fixed set of Tasks. Tick runs at tickInterval; any task
// whose nextDue has passed runs in its own goroutine (tracked so Stop can
// bound how long it waits for them).
type Scheduler struct {
	log          *logger.Logger
	tickInterval time.Duration
	stopTimeout  time.Duration

	mu      sync.Mutex
	tasks   map[string]*Task
	running bool
	stopCh  chan struct{}
	wg      sync.WaitGroup

	executionMu       sync.Mutex
	runningExecutions map[string]context.CancelFunc
}

// New builds a Scheduler. tickInterval is how often the run loop checks for
// due tasks; stopTimeout bounds how long Stop waits for in-flight handlers
// before cancelling their contexts and returning anyway.
func New(log *logger.Logger, tickInterval, stopTimeout time.Duration) *Scheduler {
	return &Scheduler{
		log:               log,
		tickInterval:      tickInterval,
		stopTimeout:       stopTimeout,
		tasks:             make(map[string]*Task),
		runningExecutions: make(map[string]context.CancelFunc),
	}
}

// AddTask registers t. Adding a task with an id already in use replaces it.
func (s *Scheduler) AddTask(t *Task) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tasks[t.ID] = t
}

// RemoveTask unregisters a task by id; a no-op if unknown.
func (s *Scheduler) RemoveTask(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.tasks, id)
}

// Start launches the run loop. Calling Start twice is a no-op.
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return nil
	}
	s.running = true
	s.stopCh = make(chan struct{})

	s.wg.Add(1)
	go s.runLoop()

	s.log.Info("scheduler started (tick interval: %v)", s.tickInterval)
	return nil
}

// Stop ends the run loop and waits up to stopTimeout for in-flight handlers
// to finish, then cancels their contexts and returns regardless.
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	close(s.stopCh)
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(s.stopTimeout):
		s.executionMu.Lock()
		for _, cancel := range s.runningExecutions {
			cancel()
		}
		s.executionMu.Unlock()
	}

	s.log.Info("scheduler stopped")
	return nil
}

// IsRunning reports whether the run loop is active.
func (s *Scheduler) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

func (s *Scheduler) runLoop() {
	defer s.wg.Done()
	ticker := time.NewTicker(s.tickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.tick()
		}
	}
}

func (s *Scheduler) tick() {
	now := time.Now()
	s.mu.Lock()
	var due []*Task
	for _, t := range s.tasks {
		if !t.nextDue.After(now) {
			due = append(due, t)
			t.nextDue = t.schedule.Next(now)
		}
	}
	s.mu.Unlock()

	for _, t := range due {
		s.runTask(t)
	}
}

func (s *Scheduler) runTask(t *Task) {
	ctx, cancel := context.WithCancel(context.Background())

	s.executionMu.Lock()
	s.runningExecutions[t.ID] = cancel
	s.executionMu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer func() {
			s.executionMu.Lock()
			delete(s.runningExecutions, t.ID)
			s.executionMu.Unlock()
			cancel()
		}()
		if err := t.Handler(ctx); err != nil {
			s.log.Error("scheduler: task %s failed: %v", t.ID, err)
		}
	}()
}
