package inference

import (
	"context"

	"github.com/go-go-golems/unittestgen/pkg/conversation"
)

// Engine runs one model inference over a conversation.
//
// Text is streamed as events.EventPartialCompletion to the engine's sinks
// and to the sinks attached to ctx. The returned messages are the ones the
// model produced: at most one assistant text message followed by one
// ToolUseContent message per requested tool call. When the inference fails
// or is cancelled, the messages produced so far are returned together with
// the error.
type Engine interface {
	RunInference(ctx context.Context, messages conversation.Conversation) (conversation.Conversation, error)
}

// PendingToolUses returns the tool calls in msgs that have no matching result
// in msgs.
func PendingToolUses(msgs conversation.Conversation) []*conversation.ToolUseContent {
	answered := map[string]bool{}
	for _, m := range msgs {
		if r, ok := m.Content.(*conversation.ToolResultContent); ok {
			answered[r.ToolID] = true
		}
	}
	var ret []*conversation.ToolUseContent
	for _, m := range msgs {
		if u, ok := m.Content.(*conversation.ToolUseContent); ok && !answered[u.ToolID] {
			ret = append(ret, u)
		}
	}
	return ret
}
