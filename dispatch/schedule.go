package dispatch

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/mergegate/mergegate/models"
)

// Scheduler fires schedule trigger events for workflows that declare
// on.schedule entries. It is rebuilt whenever the workflow set changes.
type Scheduler struct {
	dispatcher *Dispatcher

	mu   sync.Mutex
	cron *cron.Cron
}

// NewScheduler creates a scheduler bound to a dispatcher
func NewScheduler(d *Dispatcher) *Scheduler {
	return &Scheduler{dispatcher: d}
}

// Start registers every schedule trigger of the loaded workflows and starts
// the cron loop. Call Rebuild after a workflow reload.
func (s *Scheduler) Start(ctx context.Context) error {
	if err := s.Rebuild(); err != nil {
		return err
	}

	go func() {
		<-ctx.Done()
		s.stop()
	}()
	return nil
}

// Rebuild replaces the cron entries with the current workflow set's schedules
func (s *Scheduler) Rebuild() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopLocked()

	c := cron.New()
	count := 0

	for _, wf := range s.dispatcher.Workflows() {
		for _, sched := range wf.On.Schedule {
			spec := sched.Cron
			if spec == "" {
				if _, err := time.ParseDuration(sched.Every); err != nil {
					return fmt.Errorf("workflow %s: invalid schedule interval %q: %w", wf.Name, sched.Every, err)
				}
				spec = "@every " + sched.Every
			}

			wf := wf
			_, err := c.AddFunc(spec, func() {
				ev := &models.Event{
					Kind:       models.EventSchedule,
					ReceivedAt: time.Now(),
				}
				if _, err := s.dispatcher.Trigger(wf, ev); err != nil {
					s.dispatcher.log.WithError(err).WithField("workflow", wf.Name).Error("scheduled run failed to start")
				}
			})
			if err != nil {
				return fmt.Errorf("workflow %s: invalid schedule %q: %w", wf.Name, spec, err)
			}
			count++
		}
	}

	if count > 0 {
		c.Start()
		s.cron = c
	}
	return nil
}

func (s *Scheduler) stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopLocked()
}

func (s *Scheduler) stopLocked() {
	if s.cron != nil {
		s.cron.Stop()
		s.cron = nil
	}
}
