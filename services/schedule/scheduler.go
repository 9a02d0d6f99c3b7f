package schedule

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// RunFunc triggers one run of a workflow at its scheduled time.
type RunFunc func(ctx context.Context, workflowID string) error

// StopFunc is notified when a workflow's schedule is removed.
type StopFunc func(workflowID, reason string)

// scheduledRunTimeout bounds a triggered run so a wedged workflow cannot
// block the schedule forever.
const scheduledRunTimeout = time.Hour

// Scheduler triggers workflow runs at cron expressions. One registration
// per workflow id; registering again replaces the previous expression.
// Registrations are process-local and rebuilt from the repository at
// startup.
type Scheduler struct {
	cron *cron.Cron
	run  RunFunc
	stop StopFunc

	mu      sync.Mutex
	entries map[string]registration
}

type registration struct {
	id   cron.EntryID
	expr string
}

// New builds a scheduler over standard 5-field cron expressions.
func New(run RunFunc, stop StopFunc) *Scheduler {
	return &Scheduler{
		cron:    cron.New(),
		run:     run,
		stop:    stop,
		entries: make(map[string]registration),
	}
}

// Start begins firing registered entries.
func (s *Scheduler) Start() {
	s.cron.Start()
}

// Shutdown stops firing and waits for an in-flight trigger to return.
func (s *Scheduler) Shutdown() {
	<-s.cron.Stop().Done()
}

// Add registers or replaces the schedule for a workflow.
func (s *Scheduler) Add(workflowID, expr string) error {
	if _, err := cron.ParseStandard(expr); err != nil {
		return fmt.Errorf("invalid cron expression %q: %w", expr, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.entries[workflowID]; ok {
		s.cron.Remove(existing.id)
	}
	id, err := s.cron.AddFunc(expr, func() { s.fire(workflowID) })
	if err != nil {
		return fmt.Errorf("schedule workflow %s: %w", workflowID, err)
	}
	s.entries[workflowID] = registration{id: id, expr: expr}
	slog.Info("workflow scheduled", "workflow_id", workflowID, "cron", expr)
	return nil
}

// Remove drops a workflow's schedule and notifies the stop callback.
// It reports whether a registration existed.
func (s *Scheduler) Remove(workflowID, reason string) bool {
	s.mu.Lock()
	existing, ok := s.entries[workflowID]
	if ok {
		s.cron.Remove(existing.id)
		delete(s.entries, workflowID)
	}
	s.mu.Unlock()

	if ok && s.stop != nil {
		s.stop(workflowID, reason)
	}
	return ok
}

// Scheduled returns the cron expression registered for a workflow.
func (s *Scheduler) Scheduled(workflowID string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	reg, ok := s.entries[workflowID]
	return reg.expr, ok
}

// Entries returns a snapshot of workflow id → cron expression.
func (s *Scheduler) Entries() map[string]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]string, len(s.entries))
	for id, reg := range s.entries {
		out[id] = reg.expr
	}
	return out
}

// fire runs one trigger. Failures are logged, never propagated: a failed
// or skipped run must not unregister the schedule.
func (s *Scheduler) fire(workflowID string) {
	ctx, cancel := context.WithTimeout(context.Background(), scheduledRunTimeout)
	defer cancel()

	if err := s.run(ctx, workflowID); err != nil {
		slog.Warn("scheduled run failed", "workflow_id", workflowID, "error", err)
		return
	}
	slog.Info("scheduled run completed", "workflow_id", workflowID)
}
