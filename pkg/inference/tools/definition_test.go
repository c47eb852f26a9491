package tools

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/go-go-golems/unittestgen/pkg/events"
)

type addInput struct {
	Value int `json:"value" jsonschema:"description=number to increment"`
}

type fileInput struct {
	Path     string `json:"path"`
	FileName string `json:"fileName"`
}

func TestToolFuncExecuteWithContextAndInput(t *testing.T) {
	def, err := NewToolFromFunc("add_one", "adds one", func(ctx context.Context, in addInput) (int, error) {
		require.NotNil(t, ctx)
		return in.Value + 1, nil
	})
	require.NoError(t, err)

	out, err := def.Function.Execute(context.Background(), []byte(`{"value":41}`))
	require.NoError(t, err)
	assert.Equal(t, 42, out)
}

func TestToolFuncExecuteWithoutContext(t *testing.T) {
	def, err := NewToolFromFunc("echo_path", "echo", func(in fileInput) string {
		return in.Path + "/" + in.FileName
	})
	require.NoError(t, err)

	out, err := def.Function.Execute(context.Background(), []byte(`{"path":"/src","fileName":"Foo.cs"}`))
	require.NoError(t, err)
	assert.Equal(t, "/src/Foo.cs", out)

	require.NotNil(t, def.Parameters)
	assert.Equal(t, "object", def.Parameters.Type)
	_, ok := def.Parameters.Properties.Get("fileName")
	assert.True(t, ok)
}

func TestNewToolFromFuncRejectsBadSignatures(t *testing.T) {
	_, err := NewToolFromFunc("x", "x", 42)
	assert.Error(t, err)

	_, err = NewToolFromFunc("x", "x", func(a, b int) int { return a + b })
	assert.Error(t, err)

	_, err = NewToolFromFunc("x", "x", func(in addInput) (int, int) { return 0, 0 })
	assert.Error(t, err)
}

func TestValidateArguments(t *testing.T) {
	def, err := NewToolFromFunc("add_one", "adds one", func(in addInput) int { return in.Value + 1 })
	require.NoError(t, err)

	assert.NoError(t, def.ValidateArguments([]byte(`{"value":1}`)))

	err = def.ValidateArguments([]byte(`{"value":"one"}`))
	require.Error(t, err)
	var toolErr *ToolError
	require.True(t, errors.As(err, &toolErr))
	assert.Equal(t, "validation", toolErr.Type)
}

func TestToolName(t *testing.T) {
	assert.Equal(t, "save_code_file", ToolName("SaveCodeFile"))
	assert.Equal(t, "get_all_csharp_files", ToolName("GetAllCsharpFiles"))
}

type recordingSink struct {
	mu     sync.Mutex
	events []events.Event
}

func (s *recordingSink) PublishEvent(ev events.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
	return nil
}

func TestExecutorPublishesEventsAndReportsFailures(t *testing.T) {
	registry := NewInMemoryToolRegistry()
	ok, err := NewToolFromFunc("add_one", "adds one", func(in addInput) int { return in.Value + 1 })
	require.NoError(t, err)
	failing, err := NewToolFromFunc("explode", "fails", func(in addInput) (int, error) {
		return 0, errors.New("boom")
	})
	require.NoError(t, err)
	require.NoError(t, registry.Register(ok, failing))

	sink := &recordingSink{}
	ctx := events.WithEventSinks(context.Background(), sink)
	exec := NewDefaultToolExecutor(DefaultToolConfig())

	results, err := exec.ExecuteToolCalls(ctx, []ToolCall{
		{ID: "1", Name: "add_one", Arguments: json.RawMessage(`{"value":1}`)},
		{ID: "2", Name: "explode", Arguments: json.RawMessage(`{"value":1}`)},
		{ID: "3", Name: "missing", Arguments: json.RawMessage(`{}`)},
		{ID: "4", Name: "add_one", Arguments: json.RawMessage(`{"value":"x"}`)},
	}, registry)
	require.NoError(t, err)
	require.Len(t, results, 4)

	assert.Equal(t, "2", results[0].String())
	assert.Equal(t, "Error: boom", results[1].String())
	assert.Contains(t, results[2].Error, "tool not found")
	assert.NotEmpty(t, results[3].Error)

	// missing tools publish nothing, the others publish execute + result
	require.Len(t, sink.events, 6)
	first, isExec := sink.events[0].(*events.EventToolCallExecute)
	require.True(t, isExec)
	assert.Equal(t, "add_one", first.ToolCall.Name)
	assert.Equal(t, `{"value":1}`, first.ToolCall.Input)
}

func TestExecutorParallelKeepsOrder(t *testing.T) {
	registry := NewInMemoryToolRegistry()
	def, err := NewToolFromFunc("add_one", "adds one", func(in addInput) int { return in.Value + 1 })
	require.NoError(t, err)
	require.NoError(t, registry.Register(def))

	exec := NewDefaultToolExecutor(DefaultToolConfig().WithMaxParallelTools(3))
	var calls []ToolCall
	for i := 0; i < 5; i++ {
		calls = append(calls, ToolCall{ID: string(rune('a' + i)), Name: "add_one", Arguments: json.RawMessage(`{"value":` + string(rune('0'+i)) + `}`)})
	}
	results, err := exec.ExecuteToolCalls(context.Background(), calls, registry)
	require.NoError(t, err)
	for i, r := range results {
		assert.Equal(t, calls[i].ID, r.ID)
		assert.Equal(t, i+1, r.Result)
	}
}

func TestExecutorRetries(t *testing.T) {
	registry := NewInMemoryToolRegistry()
	attempts := 0
	def, err := NewToolFromFunc("flaky", "fails once", func(in addInput) (int, error) {
		attempts++
		if attempts == 1 {
			return 0, errors.New("transient")
		}
		return in.Value, nil
	})
	require.NoError(t, err)
	require.NoError(t, registry.Register(def))

	cfg := DefaultToolConfig().WithToolErrorHandling(ToolErrorRetry)
	cfg.RetryConfig.BackoffBase = 0
	result, err := NewDefaultToolExecutor(cfg).ExecuteToolCall(context.Background(),
		ToolCall{ID: "1", Name: "flaky", Arguments: json.RawMessage(`{"value":7}`)}, registry)
	require.NoError(t, err)
	assert.Equal(t, 7, result.Result)
	assert.Equal(t, 1, result.Retries)
}
