// Package scheduler runs the periodic automation: trip auto-start,
// preventive maintenance creation and salaried payout generation.
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/ukydev/fleet-haulage/internal/audit"
	"github.com/ukydev/fleet-haulage/internal/clock"
)

// Task is a unit of periodic work.
type Task struct {
	Name     string
	Interval time.Duration
	Run      func(ctx context.Context) error
}

// Scheduler fires each task on its own ticker. Every firing runs in its
// own goroutine, so a slow run does not delay the next one; tasks must
// tolerate overlapping runs.
type Scheduler struct {
	clock clock.Clock
	tasks []Task
	log   logrus.FieldLogger
	wg    sync.WaitGroup
}

// New creates a Scheduler for tasks.
func New(clk clock.Clock, logger logrus.FieldLogger, tasks ...Task) *Scheduler {
	return &Scheduler{clock: clk, tasks: tasks, log: logger}
}

// Run blocks until ctx is cancelled, then waits for in-flight runs.
func (s *Scheduler) Run(ctx context.Context) {
	ctx = audit.WithActor(ctx, audit.SystemActor)

	var loops sync.WaitGroup
	for _, task := range s.tasks {
		loops.Add(1)
		go func(task Task) {
			defer loops.Done()
			s.loop(ctx, task)
		}(task)
	}
	s.log.WithField("tasks", len(s.tasks)).Info("Scheduler started")

	loops.Wait()
	s.wg.Wait()
	s.log.Info("Scheduler stopped")
}

func (s *Scheduler) loop(ctx context.Context, task Task) {
	ticker := s.clock.NewTicker(task.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.wg.Add(1)
			go func() {
				defer s.wg.Done()
				s.fire(ctx, task)
			}()
		}
	}
}

func (s *Scheduler) fire(ctx context.Context, task Task) {
	entry := s.log.WithField("task", task.Name)
	defer func() {
		if r := recover(); r != nil {
			entry.WithField("panic", r).Error("Scheduled task panicked")
		}
	}()
	start := s.clock.Now()
	if err := task.Run(ctx); err != nil {
		entry.WithError(err).Error("Scheduled task failed")
		return
	}
	entry.WithField("elapsed", s.clock.Now().Sub(start)).Debug("Scheduled task finished")
}
