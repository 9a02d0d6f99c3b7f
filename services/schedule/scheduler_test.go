package schedule

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type callRecorder struct {
	mu      sync.Mutex
	runs    []string
	stops   []string
	reasons []string
	runErr  error
}

func (c *callRecorder) run(ctx context.Context, workflowID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.runs = append(c.runs, workflowID)
	return c.runErr
}

func (c *callRecorder) stop(workflowID, reason string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stops = append(c.stops, workflowID)
	c.reasons = append(c.reasons, reason)
}

func newTestScheduler(rec *callRecorder) *Scheduler {
	return New(rec.run, rec.stop)
}

func TestScheduler_AddValidatesExpression(t *testing.T) {
	rec := &callRecorder{}
	s := newTestScheduler(rec)

	err := s.Add("wf-1", "not a cron line")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid cron expression")

	_, ok := s.Scheduled("wf-1")
	assert.False(t, ok)
}

func TestScheduler_AddReplacesExisting(t *testing.T) {
	rec := &callRecorder{}
	s := newTestScheduler(rec)

	require.NoError(t, s.Add("wf-1", "* * * * *"))
	require.NoError(t, s.Add("wf-1", "0 9 * * 1"))

	expr, ok := s.Scheduled("wf-1")
	require.True(t, ok)
	assert.Equal(t, "0 9 * * 1", expr)

	entries := s.Entries()
	assert.Len(t, entries, 1)
	assert.Equal(t, "0 9 * * 1", entries["wf-1"])
}

func TestScheduler_RemoveNotifiesStopCallback(t *testing.T) {
	rec := &callRecorder{}
	s := newTestScheduler(rec)

	require.NoError(t, s.Add("wf-1", "* * * * *"))
	removed := s.Remove("wf-1", "unscheduled by user")
	assert.True(t, removed)

	require.Len(t, rec.stops, 1)
	assert.Equal(t, "wf-1", rec.stops[0])
	assert.Equal(t, "unscheduled by user", rec.reasons[0])

	_, ok := s.Scheduled("wf-1")
	assert.False(t, ok)
}

func TestScheduler_RemoveUnknownWorkflow(t *testing.T) {
	rec := &callRecorder{}
	s := newTestScheduler(rec)

	removed := s.Remove("missing", "cleanup")
	assert.False(t, removed)
	assert.Empty(t, rec.stops)
}

func TestScheduler_FireInvokesRunFunc(t *testing.T) {
	rec := &callRecorder{}
	s := newTestScheduler(rec)

	s.fire("wf-1")

	require.Len(t, rec.runs, 1)
	assert.Equal(t, "wf-1", rec.runs[0])
}

func TestScheduler_FailedRunKeepsSchedule(t *testing.T) {
	rec := &callRecorder{runErr: errors.New("a workflow is already running")}
	s := newTestScheduler(rec)

	require.NoError(t, s.Add("wf-1", "* * * * *"))
	s.fire("wf-1")

	_, ok := s.Scheduled("wf-1")
	assert.True(t, ok)
	assert.Empty(t, rec.stops)
}

func TestScheduler_EntriesSnapshotIsolated(t *testing.T) {
	rec := &callRecorder{}
	s := newTestScheduler(rec)

	require.NoError(t, s.Add("wf-1", "* * * * *"))
	entries := s.Entries()
	entries["wf-2"] = "tampered"

	assert.Len(t, s.Entries(), 1)
}
