package openai

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	go_openai "github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/go-go-golems/unittestgen/pkg/conversation"
	"github.com/go-go-golems/unittestgen/pkg/events"
	"github.com/go-go-golems/unittestgen/pkg/inference"
	"github.com/go-go-golems/unittestgen/pkg/inference/toolcontext"
	"github.com/go-go-golems/unittestgen/pkg/inference/tools"
	"github.com/go-go-golems/unittestgen/pkg/steps/ai/settings"
)

type recordingSink struct {
	mu     sync.Mutex
	events []events.Event
}

func (s *recordingSink) PublishEvent(e events.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, e)
	return nil
}

func (s *recordingSink) types() []events.EventType {
	s.mu.Lock()
	defer s.mu.Unlock()
	var ret []events.EventType
	for _, e := range s.events {
		ret = append(ret, e.Type())
	}
	return ret
}

func contentChunk(text string) string {
	b, _ := json.Marshal(map[string]interface{}{
		"id":     "chatcmpl-1",
		"object": "chat.completion.chunk",
		"model":  "gpt-4o-mini",
		"choices": []map[string]interface{}{
			{"index": 0, "delta": map[string]interface{}{"content": text}},
		},
	})
	return string(b)
}

func toolChunk(index int, id, name, args string) string {
	b, _ := json.Marshal(map[string]interface{}{
		"id":     "chatcmpl-1",
		"object": "chat.completion.chunk",
		"model":  "gpt-4o-mini",
		"choices": []map[string]interface{}{
			{"index": 0, "delta": map[string]interface{}{
				"tool_calls": []map[string]interface{}{
					{"index": index, "id": id, "type": "function", "function": map[string]interface{}{"name": name, "arguments": args}},
				},
			}},
		},
	})
	return string(b)
}

func writeStream(w http.ResponseWriter, chunks ...string) {
	w.Header().Set("Content-Type", "text/event-stream")
	flusher, _ := w.(http.Flusher)
	for _, c := range chunks {
		_, _ = fmt.Fprintf(w, "data: %s\n\n", c)
		if flusher != nil {
			flusher.Flush()
		}
	}
	_, _ = fmt.Fprint(w, "data: [DONE]\n\n")
}

func writeRateLimited(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusTooManyRequests)
	_, _ = fmt.Fprint(w, `{"error":{"message":"slow down","type":"rate_limit_exceeded"}}`)
}

func testSettings(baseURL string) *settings.StepSettings {
	ss := settings.NewStepSettings()
	model := "gpt-4o-mini"
	key := "sk-test"
	ss.Chat.Engine = &model
	ss.OpenAI.APIKey = &key
	ss.OpenAI.BaseURL = &baseURL
	ss.Retry.BackoffBase = time.Millisecond
	return ss
}

func userConversation(text string) conversation.Conversation {
	return conversation.Conversation{conversation.NewChatMessage(conversation.RoleUser, text)}
}

func TestRunInferenceStreamsText(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeStream(w, contentChunk("Hello"), contentChunk(", "), contentChunk("world"))
	}))
	defer srv.Close()

	sink := &recordingSink{}
	eng, err := NewOpenAIEngine(testSettings(srv.URL+"/v1"), inference.WithSink(sink))
	require.NoError(t, err)

	out, err := eng.RunInference(context.Background(), userConversation("hi"))
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "Hello, world", out[0].Content.(*conversation.ChatMessageContent).Text)

	assert.Equal(t, []events.EventType{
		events.EventTypeStart,
		events.EventTypePartialCompletion,
		events.EventTypePartialCompletion,
		events.EventTypePartialCompletion,
		events.EventTypeFinal,
	}, sink.types())
}

type readIn struct {
	Path     string `json:"path"`
	FileName string `json:"fileName"`
}

func TestRunInferenceMergesToolCallDeltas(t *testing.T) {
	var body map[string]interface{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&body)
		writeStream(w,
			toolChunk(0, "call_1", "read_code_file", `{"path":`),
			toolChunk(0, "", "", `"/tmp","fileName":"A.cs"}`),
		)
	}))
	defer srv.Close()

	reg := tools.NewInMemoryToolRegistry()
	def, err := tools.NewToolFromFunc("read_code_file", "Read a file", func(in readIn) string {
		return ""
	})
	require.NoError(t, err)
	require.NoError(t, reg.Register(def))

	eng, err := NewOpenAIEngine(testSettings(srv.URL + "/v1"))
	require.NoError(t, err)

	ctx := toolcontext.WithRegistry(context.Background(), reg)
	out, err := eng.RunInference(ctx, userConversation("read it"))
	require.NoError(t, err)
	require.Len(t, out, 1)

	use, ok := out[0].Content.(*conversation.ToolUseContent)
	require.True(t, ok)
	assert.Equal(t, "call_1", use.ToolID)
	assert.Equal(t, "read_code_file", use.Name)
	assert.JSONEq(t, `{"path":"/tmp","fileName":"A.cs"}`, string(use.Input))

	require.NotNil(t, body)
	assert.Equal(t, "auto", body["tool_choice"])
	assert.Len(t, body["tools"], 1)
	assert.EqualValues(t, settings.DefaultMaxResponseTokens, body["max_tokens"])
}

func TestRunInferenceRetriesRateLimit(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			writeRateLimited(w)
			return
		}
		writeStream(w, contentChunk("ok"))
	}))
	defer srv.Close()

	eng, err := NewOpenAIEngine(testSettings(srv.URL + "/v1"))
	require.NoError(t, err)

	out, err := eng.RunInference(context.Background(), userConversation("hi"))
	require.NoError(t, err)
	assert.Equal(t, int32(3), calls.Load())
	require.Len(t, out, 1)
	assert.Equal(t, "ok", out[0].Content.(*conversation.ChatMessageContent).Text)
}

func TestRunInferenceGivesUpAfterMaxRetries(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		writeRateLimited(w)
	}))
	defer srv.Close()

	ss := testSettings(srv.URL + "/v1")
	ss.Retry.MaxRetries = 2
	sink := &recordingSink{}
	eng, err := NewOpenAIEngine(ss, inference.WithSink(sink))
	require.NoError(t, err)

	_, err = eng.RunInference(context.Background(), userConversation("hi"))
	require.Error(t, err)
	assert.True(t, IsRateLimited(err))
	assert.Equal(t, int32(3), calls.Load())
	assert.Contains(t, sink.types(), events.EventTypeError)
}

func TestRunInferenceDoesNotRetryOtherErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = fmt.Fprint(w, `{"error":{"message":"boom","type":"server_error"}}`)
	}))
	defer srv.Close()

	eng, err := NewOpenAIEngine(testSettings(srv.URL + "/v1"))
	require.NoError(t, err)

	_, err = eng.RunInference(context.Background(), userConversation("hi"))
	require.Error(t, err)
	assert.False(t, IsRateLimited(err))
	assert.Equal(t, int32(1), calls.Load())
}

func TestRunInferenceCancelKeepsPartialText(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		_, _ = fmt.Fprintf(w, "data: %s\n\n", contentChunk("partial"))
		w.(http.Flusher).Flush()
		select {
		case <-r.Context().Done():
		case <-release:
		}
	}))
	defer srv.Close()
	defer close(release)

	ctx, cancel := context.WithCancel(context.Background())
	sink := events.SinkFunc(func(e events.Event) error {
		if e.Type() == events.EventTypePartialCompletion {
			cancel()
		}
		return nil
	})
	rec := &recordingSink{}
	eng, err := NewOpenAIEngine(testSettings(srv.URL+"/v1"), inference.WithSink(sink), inference.WithSink(rec))
	require.NoError(t, err)

	out, err := eng.RunInference(ctx, userConversation("hi"))
	require.ErrorIs(t, err, context.Canceled)
	require.Len(t, out, 1)
	assert.Equal(t, "partial", out[0].Content.(*conversation.ChatMessageContent).Text)
	assert.Contains(t, rec.types(), events.EventTypeInterrupt)
}

func TestRunInferenceLongStreamOutlivesAttemptTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		flusher := w.(http.Flusher)
		flusher.Flush()
		for i := 0; i < 6; i++ {
			select {
			case <-r.Context().Done():
				return
			case <-time.After(100 * time.Millisecond):
			}
			_, _ = fmt.Fprintf(w, "data: %s\n\n", contentChunk("tok "))
			flusher.Flush()
		}
		_, _ = fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	defer srv.Close()

	ss := testSettings(srv.URL + "/v1")
	attempt := 250 * time.Millisecond
	total := 300 * time.Millisecond
	ss.Client.Timeout = &attempt
	ss.Client.TotalTimeout = &total
	eng, err := NewOpenAIEngine(ss)
	require.NoError(t, err)

	out, err := eng.RunInference(context.Background(), userConversation("hi"))
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "tok tok tok tok tok tok ", out[0].Content.(*conversation.ChatMessageContent).Text)
}

func TestRunInferenceAttemptTimeoutBeforeAnswer(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(5 * time.Second):
		}
	}))
	defer srv.Close()

	ss := testSettings(srv.URL + "/v1")
	attempt := 100 * time.Millisecond
	ss.Client.Timeout = &attempt
	eng, err := NewOpenAIEngine(ss)
	require.NoError(t, err)

	start := time.Now()
	_, err = eng.RunInference(context.Background(), userConversation("hi"))
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Contains(t, err.Error(), "attempt exceeded timeout")
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestRetryPolicyTotalTimeoutBoundsRequestPhase(t *testing.T) {
	p := RetryPolicy{
		MaxRetries:     5,
		BackoffBase:    time.Millisecond,
		AttemptTimeout: time.Second,
		TotalTimeout:   50 * time.Millisecond,
	}
	calls := 0
	err := p.Do(context.Background(), func(ctx context.Context, attempt int, connected func()) (bool, error) {
		calls++
		<-ctx.Done()
		return false, ctx.Err()
	})
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Contains(t, err.Error(), "total timeout")
	assert.Equal(t, 1, calls)
}

func TestRetryPolicyConnectedStopsDeadline(t *testing.T) {
	p := RetryPolicy{AttemptTimeout: 20 * time.Millisecond, TotalTimeout: 20 * time.Millisecond}
	err := p.Do(context.Background(), func(ctx context.Context, attempt int, connected func()) (bool, error) {
		connected()
		select {
		case <-ctx.Done():
			return true, ctx.Err()
		case <-time.After(100 * time.Millisecond):
			return true, nil
		}
	})
	require.NoError(t, err)
}

func TestConversationToMessagesGroupsToolCalls(t *testing.T) {
	msgs := conversation.Conversation{
		conversation.NewChatMessage(conversation.RoleSystem, "sys"),
		conversation.NewChatMessage(conversation.RoleUser, "list files"),
		conversation.NewChatMessage(conversation.RoleAssistant, "Let me look."),
		conversation.NewMessage(&conversation.ToolUseContent{ToolID: "a", Name: "get_all_csharp_files", Input: json.RawMessage(`{}`)}),
		conversation.NewMessage(&conversation.ToolUseContent{ToolID: "b", Name: "read_code_file", Input: json.RawMessage(`{}`)}),
		conversation.NewMessage(&conversation.ToolResultContent{ToolID: "a", Result: "[]"}),
		conversation.NewMessage(&conversation.ToolResultContent{ToolID: "b", Result: "Error: nope"}),
		conversation.NewChatMessage(conversation.RoleAssistant, "   "),
	}

	out := ConversationToMessages(msgs)
	require.Len(t, out, 5)
	assert.Equal(t, "system", out[0].Role)
	assert.Equal(t, "assistant", out[2].Role)
	assert.Equal(t, "Let me look.", out[2].Content)
	require.Len(t, out[2].ToolCalls, 2)
	assert.Equal(t, "a", out[2].ToolCalls[0].ID)
	assert.Equal(t, "tool", out[3].Role)
	assert.Equal(t, "a", out[3].ToolCallID)
	assert.Equal(t, "b", out[4].ToolCallID)
}

func TestToolCallMergerOrdersByIndex(t *testing.T) {
	one, zero := 1, 0
	m := NewToolCallMerger()
	m.AddToolCalls(nil)
	m.AddToolCalls([]go_openai.ToolCall{
		{Index: &one, ID: "second"},
		{Index: &zero, ID: "first"},
	})
	calls := m.GetToolCalls()
	require.Len(t, calls, 2)
	assert.Equal(t, "first", calls[0].ID)
	assert.Equal(t, "second", calls[1].ID)
}
