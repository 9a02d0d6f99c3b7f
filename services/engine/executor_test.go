package engine

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestService() *Service {
	return NewService(Deps{})
}

func TestExecution_InputToOutput(t *testing.T) {
	svc := newTestService()
	nodes := []Node{
		inputNode("in", "x"),
		outputNode("out", "result"),
	}
	connections := []Connection{conn("in", "out")}

	exec, err := svc.Start(context.Background(), nodes, connections, nil)
	require.NoError(t, err)

	// Exactly two step events, in dependency order.
	assert.True(t, exec.Advance())
	assert.Equal(t, "in", exec.CurrentNodeID())
	assert.True(t, exec.Advance())
	assert.Equal(t, "out", exec.CurrentNodeID())
	assert.False(t, exec.Advance())

	res := exec.Result()
	assert.Equal(t, StatusCompleted, res.Status)
	assert.Equal(t, "x", res.Variables["result"])
	assert.Equal(t, []string{"in", "out"}, exec.Executed())
	assert.Equal(t, "x", exec.Outputs()["out"])
}

func TestService_StartValidationErrors(t *testing.T) {
	svc := newTestService()

	tests := []struct {
		name        string
		nodes       []Node
		connections []Connection
		wantErr     error
	}{
		{
			name:    "empty graph",
			wantErr: ErrNoExecutableNodes,
		},
		{
			name:    "only unknown types",
			nodes:   []Node{{ID: "a", Type: "alien"}},
			wantErr: ErrNoExecutableNodes,
		},
		{
			name: "cycle",
			nodes: []Node{
				{ID: "a", Type: "text_combiner"},
				{ID: "b", Type: "text_combiner"},
			},
			connections: []Connection{
				{Source: "a", Target: "b", TargetPort: "input1"},
				{Source: "b", Target: "a", TargetPort: "input1"},
			},
			wantErr: ErrCircularReference,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Start(context.Background(), tt.nodes, tt.connections, nil)
			require.ErrorIs(t, err, tt.wantErr)
			assert.False(t, svc.IsRunning(), "a failed start must leave the engine idle")
		})
	}
}

func TestService_AlreadyRunning(t *testing.T) {
	svc := newTestService()
	nodes := []Node{
		inputNode("in", "x"),
		outputNode("out", "result"),
	}
	connections := []Connection{conn("in", "out")}

	first, err := svc.Start(context.Background(), nodes, connections, nil)
	require.NoError(t, err)
	assert.True(t, svc.IsRunning())

	_, err = svc.Start(context.Background(), nodes, connections, nil)
	require.ErrorIs(t, err, ErrAlreadyRunning)

	// The active run is unaffected by the rejected start.
	for first.Advance() {
	}
	assert.Equal(t, StatusCompleted, first.Result().Status)
	assert.False(t, svc.IsRunning())

	second, err := svc.Start(context.Background(), nodes, connections, nil)
	require.NoError(t, err)
	for second.Advance() {
	}
	assert.Equal(t, StatusCompleted, second.Result().Status)
}

func TestExecution_StopPreventsFurtherNodes(t *testing.T) {
	svc := newTestService()
	nodes := []Node{
		inputNode("in", "x"),
		{ID: "mid", Type: "variable", Config: map[string]any{"name": "v", "useInput": true}},
		outputNode("out", "result"),
	}
	connections := []Connection{conn("in", "mid"), conn("mid", "out")}

	exec, err := svc.Start(context.Background(), nodes, connections, nil)
	require.NoError(t, err)

	require.True(t, exec.Advance())
	exec.Stop()

	assert.False(t, exec.Advance())
	assert.Equal(t, StatusStopped, exec.Result().Status)
	assert.Equal(t, []string{"in"}, exec.Executed())
	assert.False(t, svc.IsRunning())

	// Still terminal on later calls.
	assert.False(t, exec.Advance())
	assert.Equal(t, []string{"in"}, exec.Executed())
}

func TestExecution_AdvanceAfterTerminal(t *testing.T) {
	svc := newTestService()
	exec, err := svc.Start(context.Background(), []Node{inputNode("in", "x")}, nil, nil)
	require.NoError(t, err)

	for exec.Advance() {
	}
	require.Equal(t, StatusCompleted, exec.Result().Status)

	assert.False(t, exec.Advance())
	assert.False(t, exec.Advance())
	assert.Equal(t, []string{"in"}, exec.Executed())
}

func TestExecution_NodeErrorTerminatesRun(t *testing.T) {
	svc := newTestService()
	nodes := []Node{
		inputNode("in", "x"),
		{ID: "broken", Type: "variable", Config: map[string]any{"useInput": true}}, // no name
		outputNode("out", "result"),
	}
	connections := []Connection{conn("in", "broken"), conn("broken", "out")}

	exec, err := svc.Start(context.Background(), nodes, connections, nil)
	require.NoError(t, err)

	assert.True(t, exec.Advance())
	assert.False(t, exec.Advance())

	res := exec.Result()
	require.Equal(t, StatusError, res.Status)
	require.NotNil(t, res.Err)
	assert.Equal(t, "broken", res.Err.NodeID)
	assert.Contains(t, res.Err.Error(), "requires a name")

	// No further nodes execute after the failure.
	assert.False(t, exec.Advance())
	assert.Equal(t, []string{"in"}, exec.Executed())
}

func TestExecution_DeterministicOrder(t *testing.T) {
	nodes := []Node{
		inputNode("in1", "a"),
		inputNode("in2", "b"),
		{ID: "combine", Type: "text_combiner", Config: map[string]any{"separator": " "}},
		outputNode("out", "result"),
	}
	connections := []Connection{
		{Source: "in1", Target: "combine", TargetPort: "input1"},
		{Source: "in2", Target: "combine", TargetPort: "input2"},
		conn("combine", "out"),
	}

	for i := 0; i < 3; i++ {
		svc := newTestService()
		exec, err := svc.Start(context.Background(), nodes, connections, nil)
		require.NoError(t, err)
		for exec.Advance() {
		}
		assert.Equal(t, []string{"in1", "in2", "combine", "out"}, exec.Executed())
		assert.Equal(t, "a b", exec.Result().Variables["result"])
	}
}

func TestExecution_InitialInputs(t *testing.T) {
	svc := newTestService()
	nodes := []Node{
		inputNode("in", "fallback"),
		outputNode("out", "result"),
	}
	connections := []Connection{conn("in", "out")}

	res, err := svc.Run(context.Background(), nodes, connections, map[string]any{"in": "live"})
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, res.Status)
	assert.Equal(t, "live", res.Variables["result"])
}

func TestExecution_ConditionRoutesToSinglePort(t *testing.T) {
	svc := newTestService()
	nodes := []Node{
		inputNode("in", "yes"),
		{ID: "cond", Type: "if_condition", Config: map[string]any{"operator": "==", "value": "yes"}},
		outputNode("taken", "taken"),
		outputNode("skipped", "skipped"),
	}
	connections := []Connection{
		conn("in", "cond"),
		{Source: "cond", SourcePort: "true", Target: "taken"},
		{Source: "cond", SourcePort: "false", Target: "skipped"},
	}

	res, err := svc.Run(context.Background(), nodes, connections, nil)
	require.NoError(t, err)

	require.Equal(t, StatusCompleted, res.Status)
	assert.Equal(t, "yes", res.Variables["taken"])
	// The untaken port produced nothing, so the downstream node saw no input.
	assert.Nil(t, res.Variables["skipped"])
}

func TestExecution_ResultWhileRunning(t *testing.T) {
	svc := newTestService()
	nodes := []Node{
		inputNode("in", "x"),
		outputNode("out", "result"),
	}
	exec, err := svc.Start(context.Background(), nodes, []Connection{conn("in", "out")}, nil)
	require.NoError(t, err)

	require.True(t, exec.Advance())
	assert.Equal(t, StatusRunning, exec.Result().Status)
	assert.True(t, svc.IsRunning())
}

func TestService_LogLifecycle(t *testing.T) {
	svc := newTestService()
	nodes := []Node{inputNode("in", "x"), outputNode("out", "result")}
	connections := []Connection{conn("in", "out")}

	_, err := svc.Run(context.Background(), nodes, connections, nil)
	require.NoError(t, err)

	entries := svc.LogEntries()
	require.NotEmpty(t, entries)
	assert.Contains(t, entries[0].Message, "started")
	assert.Contains(t, entries[len(entries)-1].Message, "completed")
	for _, e := range entries {
		assert.False(t, e.Timestamp.IsZero())
	}

	// The log accumulates across runs until cleared.
	_, err = svc.Run(context.Background(), nodes, connections, nil)
	require.NoError(t, err)
	assert.Greater(t, len(svc.LogEntries()), len(entries))

	svc.ClearLog()
	assert.Empty(t, svc.LogEntries())
}

func TestService_DebugMode(t *testing.T) {
	svc := newTestService()
	nodes := []Node{inputNode("in", "x")}

	_, err := svc.Run(context.Background(), nodes, nil, nil)
	require.NoError(t, err)
	for _, e := range svc.LogEntries() {
		assert.NotEqual(t, LevelDebug, e.Level)
	}

	svc.ClearLog()
	svc.SetDebugMode(true)
	_, err = svc.Run(context.Background(), nodes, nil, nil)
	require.NoError(t, err)

	found := false
	for _, e := range svc.LogEntries() {
		if e.Level == LevelDebug {
			found = true
		}
	}
	assert.True(t, found, "debug entries are recorded once debug mode is on")
}

func TestExecution_ContextCancelStopsRun(t *testing.T) {
	svc := newTestService()
	ctx, cancel := context.WithCancel(context.Background())
	nodes := []Node{
		inputNode("in", "x"),
		outputNode("out", "result"),
	}

	exec, err := svc.Start(ctx, nodes, []Connection{conn("in", "out")}, nil)
	require.NoError(t, err)

	require.True(t, exec.Advance())
	cancel()

	assert.False(t, exec.Advance())
	assert.Equal(t, StatusStopped, exec.Result().Status)
}
