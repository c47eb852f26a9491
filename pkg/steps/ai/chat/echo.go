package chat

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/unittestgen/pkg/conversation"
	"github.com/go-go-golems/unittestgen/pkg/events"
	"github.com/go-go-golems/unittestgen/pkg/helpers"
	"github.com/go-go-golems/unittestgen/pkg/inference"
	"github.com/go-go-golems/unittestgen/pkg/inference/toolcontext"
)

const EchoGreeting = "Hello! Paste some code or ask me about your test files."

// EchoEngine streams the last user message back one character at a time.
//
// A user message of the form "!tool_name {json}" is answered with a call to
// that tool when it is offered, and a tool result is echoed back as text.
// This makes the tool loop usable without a provider.
type EchoEngine struct {
	TimePerCharacter time.Duration
	config           *inference.Config
}

func NewEchoEngine(options ...inference.Option) (*EchoEngine, error) {
	config := inference.NewConfig()
	if err := inference.ApplyOptions(config, options...); err != nil {
		return nil, err
	}
	return &EchoEngine{
		TimePerCharacter: 10 * time.Millisecond,
		config:           config,
	}, nil
}

func (e *EchoEngine) RunInference(ctx context.Context, msgs conversation.Conversation) (conversation.Conversation, error) {
	metadata := events.NewEventMetadata(helpers.CorrelationIDFromContext(ctx))
	metadata.Model = "echo"

	text := EchoGreeting
	if len(msgs) > 0 {
		switch c := msgs[len(msgs)-1].Content.(type) {
		case *conversation.ToolResultContent:
			text = c.Result
		case *conversation.ChatMessageContent:
			if c.Role == conversation.RoleUser {
				if use := e.toolRequest(ctx, c.Text); use != nil {
					e.config.PublishEvent(ctx, events.NewStartEvent(metadata))
					e.config.PublishEvent(ctx, events.NewToolCallEvent(metadata, events.ToolCall{
						ID: use.ToolID, Name: use.Name, Input: string(use.Input),
					}))
					e.config.PublishEvent(ctx, events.NewFinalEvent(metadata, ""))
					return conversation.Conversation{conversation.NewMessage(use)}, nil
				}
				text = c.Text
			}
		}
	}

	e.config.PublishEvent(ctx, events.NewStartEvent(metadata))

	var sb strings.Builder
	for _, r := range text {
		select {
		case <-ctx.Done():
			e.config.PublishEvent(ctx, events.NewInterruptEvent(metadata, sb.String()))
			return partialReply(sb.String()), ctx.Err()
		case <-time.After(e.TimePerCharacter):
		}
		sb.WriteRune(r)
		e.config.PublishEvent(ctx, events.NewPartialCompletionEvent(metadata, string(r), sb.String()))
	}

	log.Debug().Int("length", sb.Len()).Msg("Echo engine finished")
	e.config.PublishEvent(ctx, events.NewFinalEvent(metadata, sb.String()))
	return partialReply(sb.String()), nil
}

func (e *EchoEngine) toolRequest(ctx context.Context, text string) *conversation.ToolUseContent {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "!") {
		return nil
	}
	name, args, _ := strings.Cut(text[1:], " ")
	args = strings.TrimSpace(args)
	if args == "" {
		args = "{}"
	}
	if !json.Valid([]byte(args)) {
		return nil
	}
	for _, td := range toolcontext.OfferedTools(ctx) {
		if td.Name == name {
			return &conversation.ToolUseContent{
				ToolID: "echo_" + uuid.NewString(),
				Name:   name,
				Input:  json.RawMessage(args),
				Type:   "function",
			}
		}
	}
	return nil
}

func partialReply(text string) conversation.Conversation {
	if text == "" {
		return nil
	}
	return conversation.Conversation{conversation.NewChatMessage(conversation.RoleAssistant, text)}
}

var _ inference.Engine = (*EchoEngine)(nil)
