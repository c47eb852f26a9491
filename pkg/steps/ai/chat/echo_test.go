package chat

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/go-go-golems/unittestgen/pkg/conversation"
	"github.com/go-go-golems/unittestgen/pkg/events"
	"github.com/go-go-golems/unittestgen/pkg/inference"
	"github.com/go-go-golems/unittestgen/pkg/inference/toolcontext"
	"github.com/go-go-golems/unittestgen/pkg/inference/tools"
)

func newTestEcho(t *testing.T, options ...inference.Option) *EchoEngine {
	e, err := NewEchoEngine(options...)
	require.NoError(t, err)
	e.TimePerCharacter = time.Microsecond
	return e
}

func TestEchoStreamsUserText(t *testing.T) {
	var mu sync.Mutex
	var deltas []string
	sink := events.SinkFunc(func(ev events.Event) error {
		if p, ok := ev.(*events.EventPartialCompletion); ok {
			mu.Lock()
			deltas = append(deltas, p.Delta)
			mu.Unlock()
		}
		return nil
	})
	e := newTestEcho(t, inference.WithSink(sink))

	out, err := e.RunInference(context.Background(), conversation.Conversation{
		conversation.NewChatMessage(conversation.RoleUser, "héllo"),
	})
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "héllo", out[0].Content.(*conversation.ChatMessageContent).Text)
	assert.Equal(t, []string{"h", "é", "l", "l", "o"}, deltas)
}

func TestEchoGreetsOnEmptyHistory(t *testing.T) {
	e := newTestEcho(t)
	out, err := e.RunInference(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, EchoGreeting, out[0].Content.(*conversation.ChatMessageContent).Text)
}

func TestEchoCancelReturnsPartial(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	n := 0
	sink := events.SinkFunc(func(ev events.Event) error {
		if ev.Type() == events.EventTypePartialCompletion {
			n++
			if n == 3 {
				cancel()
			}
		}
		return nil
	})
	e := newTestEcho(t, inference.WithSink(sink))
	e.TimePerCharacter = time.Millisecond

	out, err := e.RunInference(ctx, conversation.Conversation{
		conversation.NewChatMessage(conversation.RoleUser, "abcdefgh"),
	})
	require.ErrorIs(t, err, context.Canceled)
	require.Len(t, out, 1)
	assert.Equal(t, "abc", out[0].Content.(*conversation.ChatMessageContent).Text)
}

type dirIn struct {
	Dir string `json:"dir"`
}

func TestEchoRequestsOfferedTool(t *testing.T) {
	reg := tools.NewInMemoryToolRegistry()
	def, err := tools.NewToolFromFunc("list_dir", "List", func(in dirIn) string { return in.Dir })
	require.NoError(t, err)
	require.NoError(t, reg.Register(def))

	e := newTestEcho(t)
	ctx := toolcontext.WithRegistry(context.Background(), reg)

	out, err := e.RunInference(ctx, conversation.Conversation{
		conversation.NewChatMessage(conversation.RoleUser, `!list_dir {"dir":"/tmp"}`),
	})
	require.NoError(t, err)
	require.Len(t, out, 1)
	use, ok := out[0].Content.(*conversation.ToolUseContent)
	require.True(t, ok)
	assert.Equal(t, "list_dir", use.Name)
	assert.JSONEq(t, `{"dir":"/tmp"}`, string(use.Input))

	// unknown tools are echoed as text
	out, err = e.RunInference(ctx, conversation.Conversation{
		conversation.NewChatMessage(conversation.RoleUser, `!nope {}`),
	})
	require.NoError(t, err)
	_, ok = out[0].Content.(*conversation.ChatMessageContent)
	assert.True(t, ok)
}
