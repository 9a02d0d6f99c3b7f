package engine

import (
	"sync"
	"time"
)

// ExecutionLog is an ordered, append-only, clearable buffer of log entries.
// It is owned by the Service and shared by every run (including nested
// sub-workflow runs), so it can be queried and cleared at any time,
// independently of whether a run is active.
type ExecutionLog struct {
	mu      sync.Mutex
	entries []LogEntry
	debug   bool
}

// NewExecutionLog returns an empty log with debug entries disabled.
func NewExecutionLog() *ExecutionLog {
	return &ExecutionLog{}
}

// SetDebug toggles recording of debug-level entries. Non-debug levels are
// always recorded.
func (l *ExecutionLog) SetDebug(enabled bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.debug = enabled
}

// Append records one entry. Debug entries are dropped unless debug mode is
// enabled. The entry timestamp is filled in when zero.
func (l *ExecutionLog) Append(entry LogEntry) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if entry.Level == LevelDebug && !l.debug {
		return
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now()
	}
	l.entries = append(l.entries, entry)
}

// Entries returns a copy of the recorded entries in append order.
func (l *ExecutionLog) Entries() []LogEntry {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]LogEntry, len(l.entries))
	copy(out, l.entries)
	return out
}

// Clear discards all recorded entries.
func (l *ExecutionLog) Clear() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = nil
}

// Len returns the number of recorded entries.
func (l *ExecutionLog) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

// ExecutionContext carries the mutable state shared by the nodes of one run:
// a key→value variable store whose keys are chosen by workflow authors, and
// the execution log. Variables live for exactly one run and are never shared
// across a sub-workflow boundary; the log is shared so nested runs remain
// diagnosable in one place.
type ExecutionContext struct {
	mu        sync.RWMutex
	variables map[string]any
	log       *ExecutionLog
}

// NewExecutionContext returns a context with an empty variable store
// appending to the given log.
func NewExecutionContext(log *ExecutionLog) *ExecutionContext {
	if log == nil {
		log = NewExecutionLog()
	}
	return &ExecutionContext{
		variables: make(map[string]any),
		log:       log,
	}
}

// GetVariable reads a variable by name.
func (c *ExecutionContext) GetVariable(name string) (any, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.variables[name]
	return v, ok
}

// SetVariable writes a variable by name.
func (c *ExecutionContext) SetVariable(name string, value any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.variables[name] = value
}

// Variables returns a snapshot copy of the variable store.
func (c *ExecutionContext) Variables() map[string]any {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]any, len(c.variables))
	for k, v := range c.variables {
		out[k] = v
	}
	return out
}

// AddLog appends a structured entry to the execution log.
func (c *ExecutionContext) AddLog(level LogLevel, message, nodeID string, data map[string]any) {
	c.log.Append(LogEntry{
		Level:   level,
		Message: message,
		NodeID:  nodeID,
		Data:    data,
	})
}

// Log returns the log buffer this context appends to.
func (c *ExecutionContext) Log() *ExecutionLog { return c.log }
