package openai

import (
	"context"
	"sort"
	"strings"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	go_openai "github.com/sashabaranov/go-openai"

	"github.com/go-go-golems/unittestgen/pkg/conversation"
	"github.com/go-go-golems/unittestgen/pkg/inference/toolcontext"
	"github.com/go-go-golems/unittestgen/pkg/inference/tools"
	"github.com/go-go-golems/unittestgen/pkg/steps/ai/settings"
)

// ToolCallMerger assembles streamed tool call deltas, keyed by their index.
type ToolCallMerger struct {
	toolCalls map[int]go_openai.ToolCall
}

func NewToolCallMerger() *ToolCallMerger {
	return &ToolCallMerger{
		toolCalls: make(map[int]go_openai.ToolCall),
	}
}

func (tcm *ToolCallMerger) AddToolCalls(toolCalls []go_openai.ToolCall) {
	for _, call := range toolCalls {
		index := 0
		if call.Index != nil {
			index = *call.Index
		}
		if existing, found := tcm.toolCalls[index]; found {
			if existing.ID == "" {
				existing.ID = call.ID
			}
			existing.Function.Name += call.Function.Name
			existing.Function.Arguments += call.Function.Arguments
			tcm.toolCalls[index] = existing
		} else {
			tcm.toolCalls[index] = call
		}
	}
}

// GetToolCalls returns the merged calls in index order.
func (tcm *ToolCallMerger) GetToolCalls() []go_openai.ToolCall {
	indices := make([]int, 0, len(tcm.toolCalls))
	for i := range tcm.toolCalls {
		indices = append(indices, i)
	}
	sort.Ints(indices)

	result := make([]go_openai.ToolCall, 0, len(indices))
	for _, i := range indices {
		result = append(result, tcm.toolCalls[i])
	}
	return result
}

func MakeClient(ss *settings.StepSettings) (*go_openai.Client, error) {
	if ss.OpenAI == nil || ss.OpenAI.APIKey == nil || *ss.OpenAI.APIKey == "" {
		return nil, settings.ErrMissingAPIKey
	}
	config := go_openai.DefaultConfig(*ss.OpenAI.APIKey)
	if ss.OpenAI.BaseURL != nil && *ss.OpenAI.BaseURL != "" {
		config.BaseURL = *ss.OpenAI.BaseURL
	}
	if ss.Client != nil {
		if ss.Client.Organization != nil {
			config.OrgID = *ss.Client.Organization
		}
		if ss.Client.HTTPClient != nil {
			config.HTTPClient = ss.Client.HTTPClient
		}
	}
	return go_openai.NewClientWithConfig(config), nil
}

func roleToOpenAI(role conversation.Role) string {
	switch role {
	case conversation.RoleSystem:
		return go_openai.ChatMessageRoleSystem
	case conversation.RoleAssistant:
		return go_openai.ChatMessageRoleAssistant
	case conversation.RoleTool:
		return go_openai.ChatMessageRoleTool
	default:
		return go_openai.ChatMessageRoleUser
	}
}

// ConversationToMessages converts the chat history to request messages.
// Consecutive tool uses become the tool_calls of a single assistant message,
// merged into the assistant text message directly preceding them.
func ConversationToMessages(msgs conversation.Conversation) []go_openai.ChatCompletionMessage {
	var ret []go_openai.ChatCompletionMessage

	for _, m := range msgs {
		switch c := m.Content.(type) {
		case *conversation.ChatMessageContent:
			if strings.TrimSpace(c.Text) == "" {
				continue
			}
			ret = append(ret, go_openai.ChatCompletionMessage{
				Role:    roleToOpenAI(c.Role),
				Content: c.Text,
			})

		case *conversation.ToolUseContent:
			call := go_openai.ToolCall{
				ID:   c.ToolID,
				Type: go_openai.ToolTypeFunction,
				Function: go_openai.FunctionCall{
					Name:      c.Name,
					Arguments: string(c.Input),
				},
			}
			if n := len(ret); n > 0 && ret[n-1].Role == go_openai.ChatMessageRoleAssistant {
				ret[n-1].ToolCalls = append(ret[n-1].ToolCalls, call)
				continue
			}
			ret = append(ret, go_openai.ChatCompletionMessage{
				Role:      go_openai.ChatMessageRoleAssistant,
				ToolCalls: []go_openai.ToolCall{call},
			})

		case *conversation.ToolResultContent:
			ret = append(ret, go_openai.ChatCompletionMessage{
				Role:       go_openai.ChatMessageRoleTool,
				Content:    c.Result,
				ToolCallID: c.ToolID,
			})

		default:
			log.Warn().Str("content_type", string(m.Content.ContentType())).Msg("OpenAI request: skipping unsupported message content")
		}
	}

	return ret
}

// ToolsToOpenAI converts tool definitions to function tools.
func ToolsToOpenAI(defs []tools.ToolDefinition) []go_openai.Tool {
	ret := make([]go_openai.Tool, 0, len(defs))
	for _, td := range defs {
		ret = append(ret, go_openai.Tool{
			Type: go_openai.ToolTypeFunction,
			Function: &go_openai.FunctionDefinition{
				Name:        td.Name,
				Description: td.Description,
				Parameters:  td.Parameters,
			},
		})
	}
	return ret
}

// MakeCompletionRequest builds a streaming request from the settings, the
// history and the tools attached to ctx.
func MakeCompletionRequest(
	ctx context.Context,
	ss *settings.StepSettings,
	msgs conversation.Conversation,
) (*go_openai.ChatCompletionRequest, error) {
	if ss.Chat == nil {
		return nil, errors.New("no chat settings")
	}
	if ss.Chat.Engine == nil || *ss.Chat.Engine == "" {
		return nil, errors.New("no engine specified")
	}

	messages := ConversationToMessages(msgs)
	if len(messages) == 0 {
		return nil, errors.New("no messages to send")
	}

	req := &go_openai.ChatCompletionRequest{
		Model:     *ss.Chat.Engine,
		Messages:  messages,
		MaxTokens: ss.Chat.MaxTokensOr(settings.DefaultMaxResponseTokens),
		Stream:    true,
		StreamOptions: &go_openai.StreamOptions{
			IncludeUsage: true,
		},
	}
	if ss.Chat.Temperature != nil {
		req.Temperature = float32(*ss.Chat.Temperature)
	}
	if ss.Chat.TopP != nil {
		req.TopP = float32(*ss.Chat.TopP)
	}
	if len(ss.Chat.Stop) > 0 {
		req.Stop = ss.Chat.Stop
	}
	if ss.OpenAI != nil {
		if ss.OpenAI.N != nil {
			req.N = *ss.OpenAI.N
		}
		if ss.OpenAI.PresencePenalty != nil {
			req.PresencePenalty = float32(*ss.OpenAI.PresencePenalty)
		}
		if ss.OpenAI.FrequencyPenalty != nil {
			req.FrequencyPenalty = float32(*ss.OpenAI.FrequencyPenalty)
		}
	}

	offered := toolcontext.OfferedTools(ctx)
	if len(offered) > 0 {
		toolCfg := toolcontext.ToolConfigFrom(ctx)
		req.Tools = ToolsToOpenAI(offered)
		switch toolCfg.ToolChoice {
		case tools.ToolChoiceNone:
			req.ToolChoice = "none"
		case tools.ToolChoiceRequired:
			req.ToolChoice = "required"
		default:
			req.ToolChoice = "auto"
		}
		if ss.OpenAI != nil && ss.OpenAI.ParallelToolCalls != nil {
			req.ParallelToolCalls = *ss.OpenAI.ParallelToolCalls
		}
		log.Debug().
			Int("tool_count", len(req.Tools)).
			Interface("tool_choice", req.ToolChoice).
			Msg("Tools added to OpenAI request")
	}

	return req, nil
}
