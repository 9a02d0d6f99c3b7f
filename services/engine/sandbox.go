package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dop251/goja"
	"github.com/google/uuid"
)

const (
	// DefaultScriptTimeout bounds a script that does not configure its own
	// timeout.
	DefaultScriptTimeout = 30 * time.Second

	// defaultGracePeriod is how long an interrupted script gets to
	// acknowledge the interrupt before its lane is abandoned.
	defaultGracePeriod = 2 * time.Second

	maxResultBytes  = 1 << 20
	maxConsoleLines = 100
	laneQueueDepth  = 16
)

// Sandbox evaluates user scripts on a single serialized lane: one goroutine
// owns script evaluation, requests queue behind each other, and each request
// runs on a fresh interpreter so no state leaks between scripts.
//
// Each request carries a unique id used in logs. A result that surfaces
// after its request timed out is discarded, never returned to a caller. A
// script that ignores the interpreter interrupt past the grace period gets
// its lane abandoned and a fresh lane takes over the queue, so one stuck
// script cannot wedge the engine.
type Sandbox struct {
	timeout time.Duration
	grace   time.Duration

	mu     sync.Mutex
	reqs   chan *sandboxRequest
	gen    int
	closed bool
	quit   chan struct{}
}

type sandboxRequest struct {
	id     string
	code   string
	inputs map[string]any
	vars   map[string]any
	resp   chan sandboxResult
	vm     atomic.Pointer[goja.Runtime]
}

type sandboxResult struct {
	value   any
	console []string
	err     error
}

// NewSandbox starts the evaluation lane.
func NewSandbox() *Sandbox {
	s := &Sandbox{
		timeout: DefaultScriptTimeout,
		grace:   defaultGracePeriod,
		reqs:    make(chan *sandboxRequest, laneQueueDepth),
		quit:    make(chan struct{}),
	}
	go s.serve(s.reqs)
	return s
}

// Close shuts every lane down. An in-flight request still completes; later
// Execute calls fail with ErrSandboxClosed.
func (s *Sandbox) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.quit)
}

// Execute queues code on the lane and waits for its result, the captured
// console lines, or a timeout. Inputs and variables are deep-copied through
// JSON before the script sees them, so scripts cannot mutate engine state.
// A timeout <= 0 selects DefaultScriptTimeout.
func (s *Sandbox) Execute(ctx context.Context, code string, inputs, variables map[string]any, timeout time.Duration) (any, []string, error) {
	if timeout <= 0 {
		timeout = s.timeout
	}
	req := &sandboxRequest{
		id:     uuid.NewString(),
		code:   code,
		inputs: jsonClone(inputs),
		vars:   jsonClone(variables),
		resp:   make(chan sandboxResult, 1),
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, nil, ErrSandboxClosed
	}
	reqs, gen := s.reqs, s.gen
	s.mu.Unlock()

	select {
	case reqs <- req:
	case <-ctx.Done():
		return nil, nil, ctx.Err()
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case res := <-req.resp:
		return res.value, res.console, res.err
	case <-ctx.Done():
		req.interrupt()
		return nil, nil, ctx.Err()
	case <-timer.C:
	}

	// Timed out. Interrupt the interpreter and give it a grace period to
	// surface the interruption; a lane that stays stuck is replaced.
	req.interrupt()
	grace := time.NewTimer(s.grace)
	defer grace.Stop()
	select {
	case res := <-req.resp:
		return nil, res.console, ErrSandboxTimeout
	case <-grace.C:
		s.replaceLane(gen)
		// A second interrupt in case the interpreter had not started when
		// the first one was issued; it lets the abandoned lane unwind.
		req.interrupt()
		slog.Warn("sandbox lane replaced after unresponsive script", "request_id", req.id)
		return nil, nil, ErrSandboxTimeout
	}
}

func (r *sandboxRequest) interrupt() {
	if vm := r.vm.Load(); vm != nil {
		vm.Interrupt("execution interrupted")
	}
}

func (s *Sandbox) serve(reqs chan *sandboxRequest) {
	for {
		select {
		case req := <-reqs:
			req.resp <- s.run(req)
		case <-s.quit:
			return
		}
	}
}

func (s *Sandbox) run(req *sandboxRequest) sandboxResult {
	vm := goja.New()
	req.vm.Store(vm)
	defer req.vm.Store(nil)

	console := &consoleBuffer{limit: maxConsoleLines}
	consoleObj := vm.NewObject()
	consoleObj.Set("log", console.fn(""))
	consoleObj.Set("warn", console.fn("WARN: "))
	consoleObj.Set("error", console.fn("ERROR: "))

	vm.Set("inputs", req.inputs)
	vm.Set("variables", req.vars)
	vm.Set("console", consoleObj)

	val, err := vm.RunString(req.code)
	if err != nil {
		var ie *goja.InterruptedError
		if errors.As(err, &ie) {
			return sandboxResult{console: console.snapshot(), err: ErrSandboxTimeout}
		}
		return sandboxResult{console: console.snapshot(), err: err}
	}

	out, err := normalizeScriptResult(val.Export())
	return sandboxResult{value: out, console: console.snapshot(), err: err}
}

func (s *Sandbox) replaceLane(gen int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || gen != s.gen {
		return
	}
	s.gen++
	s.reqs = make(chan *sandboxRequest, laneQueueDepth)
	go s.serve(s.reqs)
}

// normalizeScriptResult pushes the exported value through JSON so numbers,
// arrays and objects land in the same shapes the rest of the engine uses,
// and enforces the result size bound.
func normalizeScriptResult(v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("code result is not serializable: %w", err)
	}
	if len(raw) > maxResultBytes {
		return nil, fmt.Errorf("%w: %d bytes", ErrSandboxOutputTooLarge, len(raw))
	}
	var out any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// jsonClone deep-copies a map through JSON, dropping values that do not
// serialize.
func jsonClone(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		raw, err := json.Marshal(v)
		if err != nil {
			continue
		}
		var c any
		if err := json.Unmarshal(raw, &c); err != nil {
			continue
		}
		out[k] = c
	}
	return out
}

type consoleBuffer struct {
	lines     []string
	truncated bool
	limit     int
}

func (b *consoleBuffer) fn(prefix string) func(goja.FunctionCall) goja.Value {
	return func(call goja.FunctionCall) goja.Value {
		parts := make([]string, 0, len(call.Arguments))
		for _, a := range call.Arguments {
			parts = append(parts, formatConsoleValue(a))
		}
		b.append(prefix + strings.Join(parts, " "))
		return goja.Undefined()
	}
}

func (b *consoleBuffer) append(line string) {
	if len(b.lines) >= b.limit {
		b.truncated = true
		return
	}
	b.lines = append(b.lines, line)
}

func (b *consoleBuffer) snapshot() []string {
	out := make([]string, len(b.lines), len(b.lines)+1)
	copy(out, b.lines)
	if b.truncated {
		out = append(out, "(console output truncated)")
	}
	return out
}

func formatConsoleValue(v goja.Value) string {
	if goja.IsUndefined(v) {
		return "undefined"
	}
	if goja.IsNull(v) {
		return "null"
	}
	ex := v.Export()
	if s, ok := ex.(string); ok {
		return s
	}
	if raw, err := json.Marshal(ex); err == nil {
		return string(raw)
	}
	return fmt.Sprint(ex)
}
