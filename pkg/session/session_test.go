package session

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/go-go-golems/unittestgen/pkg/advisor"
	"github.com/go-go-golems/unittestgen/pkg/conversation"
	"github.com/go-go-golems/unittestgen/pkg/helpers"
)

type step struct {
	fragment string
	status   string
	err      error
	// block makes the streamer wait for cancellation
	block bool
}

type fakeStreamer struct {
	mu      sync.Mutex
	scripts [][]step
	inputs  []string
	resets  int
	// failures are returned by ChatStream before any script is used
	failures []error
}

func (f *fakeStreamer) ChatStream(ctx context.Context, input string) (<-chan helpers.Result[string], error) {
	f.mu.Lock()
	f.inputs = append(f.inputs, input)
	if len(f.failures) > 0 {
		err := f.failures[0]
		f.failures = f.failures[1:]
		f.mu.Unlock()
		return nil, err
	}
	var script []step
	if len(f.scripts) > 0 {
		script = f.scripts[0]
		f.scripts = f.scripts[1:]
	}
	f.mu.Unlock()

	status, _ := advisor.StatusHandlerFromContext(ctx)
	c := make(chan helpers.Result[string])
	go func() {
		defer close(c)
		for _, s := range script {
			switch {
			case s.block:
				<-ctx.Done()
				return
			case s.status != "":
				status(s.status)
			case s.err != nil:
				helpers.SendResult(ctx, c, helpers.NewErrorResult[string](s.err))
				return
			default:
				if !helpers.SendResult(ctx, c, helpers.NewValueResult(s.fragment)) {
					return
				}
			}
		}
	}()
	return c, nil
}

func (f *fakeStreamer) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resets++
}

func newTestSession(scripts ...[]step) (*Session, *fakeStreamer) {
	st := &fakeStreamer{scripts: scripts}
	return NewSession(conversation.NewReconciler(), st), st
}

func texts(t conversation.Transcript) []string {
	ret := []string{}
	for _, turn := range t {
		ret = append(ret, string(turn.Role)+":"+turn.Text)
	}
	return ret
}

func TestSubmitStreamsSingleAssistantTurn(t *testing.T) {
	s, st := newTestSession([]step{{fragment: "Hel"}, {fragment: "lo"}, {fragment: ""}, {fragment: "!"}})

	h, err := s.Submit(context.Background(), "hi")
	require.NoError(t, err)
	require.NoError(t, h.Wait())

	tr := s.Reconciler().Snapshot()
	assert.Equal(t, []string{"user:hi", "assistant:Hello!"}, texts(tr))
	assert.False(t, tr.IsStreaming())
	assert.False(t, s.IsRunning())
	assert.Equal(t, []string{"hi"}, st.inputs)
}

func TestStatusIsMergedInOrder(t *testing.T) {
	s, _ := newTestSession([]step{
		{fragment: "Let me look."},
		{status: "[exec]"},
		{status: "[done]"},
		{fragment: "Found it."},
	})

	h, err := s.Submit(context.Background(), "list files")
	require.NoError(t, err)
	require.NoError(t, h.Wait())

	assert.Equal(t,
		[]string{"user:list files", "assistant:Let me look.[exec][done]Found it."},
		texts(s.Reconciler().Snapshot()))
}

func TestStatusBeforeFirstFragmentOpensOneTurn(t *testing.T) {
	s, _ := newTestSession([]step{{status: "[exec]"}, {fragment: "result"}})

	h, err := s.Submit(context.Background(), "go")
	require.NoError(t, err)
	require.NoError(t, h.Wait())

	assert.Equal(t, []string{"user:go", "assistant:[exec]result"}, texts(s.Reconciler().Snapshot()))
}

func TestGreetWithoutInputAndContinuation(t *testing.T) {
	s, st := newTestSession(
		[]step{{fragment: "Welcome."}},
		[]step{{fragment: " More."}},
	)

	h, err := s.Greet(context.Background())
	require.NoError(t, err)
	require.NoError(t, h.Wait())
	assert.Equal(t, []string{"assistant:Welcome."}, texts(s.Reconciler().Snapshot()))

	// the last turn is an assistant turn, so the next exchange continues it
	h, err = s.Submit(context.Background(), "  ")
	require.NoError(t, err)
	require.NoError(t, h.Wait())
	assert.Equal(t, []string{"assistant:Welcome. More."}, texts(s.Reconciler().Snapshot()))
	assert.Equal(t, []string{"", "  "}, st.inputs)
}

func TestSubmitWhileBusy(t *testing.T) {
	s, _ := newTestSession([]step{{fragment: "a"}, {block: true}})

	h, err := s.Submit(context.Background(), "first")
	require.NoError(t, err)
	assert.True(t, s.IsRunning())

	_, err = s.Submit(context.Background(), "second")
	assert.True(t, errors.Is(err, ErrExchangeInProgress))

	require.Eventually(t, func() bool {
		last, ok := s.Reconciler().Snapshot().Last()
		return ok && last.Text == "a"
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, s.Cancel())
	require.NoError(t, h.Wait())
	assert.True(t, h.Canceled())
	assert.Equal(t, []string{"user:first", "assistant:a"}, texts(s.Reconciler().Snapshot()))
}

func TestCancelEndsStreaming(t *testing.T) {
	s, _ := newTestSession([]step{{fragment: "partial"}, {block: true}})

	h, err := s.Submit(context.Background(), "q")
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		last, ok := s.Reconciler().Snapshot().Last()
		return ok && last.Text == "partial"
	}, time.Second, 5*time.Millisecond)

	h.Cancel()
	require.NoError(t, h.Wait())

	tr := s.Reconciler().Snapshot()
	assert.False(t, tr.IsStreaming())
	assert.False(t, s.Reconciler().ExchangeActive())
	assert.Equal(t, ErrSessionNoActive, s.Cancel())
}

func TestFaultIsReturnedAndPartialKept(t *testing.T) {
	boom := errors.New("provider fault")
	s, _ := newTestSession([]step{{fragment: "half"}, {err: boom}})

	h, err := s.Submit(context.Background(), "q")
	require.NoError(t, err)
	err = h.Wait()
	require.Error(t, err)
	assert.True(t, errors.Is(err, boom))

	tr := s.Reconciler().Snapshot()
	assert.Equal(t, []string{"user:q", "assistant:half"}, texts(tr))
	assert.False(t, tr.IsStreaming())

	// the session accepts a new exchange after a fault
	_, err = s.Submit(context.Background(), "again")
	require.NoError(t, err)
	require.NoError(t, s.Wait())
}

func TestResetCancelsAndNotifiesOnce(t *testing.T) {
	resets := 0
	st := &fakeStreamer{scripts: [][]step{
		{{fragment: "x"}, {block: true}},
	}}
	r := conversation.NewReconciler(conversation.WithResetListener(func() { resets++ }))
	s := NewSession(r, st)

	_, err := s.Submit(context.Background(), "q")
	require.NoError(t, err)

	require.NoError(t, s.Reset())
	assert.Equal(t, 1, resets)
	assert.Equal(t, 1, st.resets)
	assert.Empty(t, r.Snapshot())
	assert.False(t, s.IsRunning())
}

func TestDoneHook(t *testing.T) {
	st := &fakeStreamer{scripts: [][]step{{{fragment: "ok"}}}}
	ended := make(chan string, 1)
	s := NewSession(conversation.NewReconciler(), st, WithDoneHook(func(h *ExecutionHandle) {
		ended <- h.Input
	}))

	h, err := s.Submit(context.Background(), "ping")
	require.NoError(t, err)
	require.NoError(t, h.Wait())

	select {
	case in := <-ended:
		assert.Equal(t, "ping", in)
	case <-time.After(time.Second):
		t.Fatal("done hook not called")
	}
}

func TestFailedStartLeavesTranscriptUntouched(t *testing.T) {
	busy := errors.New("stream busy")
	st := &fakeStreamer{
		scripts:  [][]step{{{fragment: "ok"}}},
		failures: []error{busy},
	}
	s := NewSession(conversation.NewReconciler(), st)

	_, err := s.Submit(context.Background(), "first")
	require.ErrorIs(t, err, busy)
	assert.Empty(t, s.Reconciler().Snapshot())
	assert.False(t, s.Reconciler().ExchangeActive())
	assert.False(t, s.IsRunning())

	h, err := s.Submit(context.Background(), "second")
	require.NoError(t, err)
	require.NoError(t, h.Wait())
	assert.Equal(t, []string{"user:second", "assistant:ok"}, texts(s.Reconciler().Snapshot()))
}

func TestSubmitRejectedWhileReconcilerExchangeActive(t *testing.T) {
	r := conversation.NewReconciler()
	ex, err := r.BeginExchange()
	require.NoError(t, err)

	st := &fakeStreamer{scripts: [][]step{{{fragment: "ok"}}}}
	s := NewSession(r, st)

	_, err = s.Submit(context.Background(), "q")
	require.ErrorIs(t, err, ErrExchangeInProgress)
	assert.Empty(t, st.inputs)
	assert.Empty(t, r.Snapshot())

	ex.End()
	h, err := s.Submit(context.Background(), "q")
	require.NoError(t, err)
	require.NoError(t, h.Wait())
}
