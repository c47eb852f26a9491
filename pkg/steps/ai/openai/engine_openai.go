package openai

import (
	"context"
	"encoding/json"
	"io"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	go_openai "github.com/sashabaranov/go-openai"

	"github.com/go-go-golems/unittestgen/pkg/conversation"
	"github.com/go-go-golems/unittestgen/pkg/events"
	"github.com/go-go-golems/unittestgen/pkg/helpers"
	"github.com/go-go-golems/unittestgen/pkg/inference"
	"github.com/go-go-golems/unittestgen/pkg/steps/ai/settings"
)

const MetadataSettingsSlug = "settings"

// OpenAIEngine streams chat completions from the OpenAI API.
type OpenAIEngine struct {
	settings *settings.StepSettings
	config   *inference.Config
	retry    RetryPolicy
}

func NewOpenAIEngine(settings *settings.StepSettings, options ...inference.Option) (*OpenAIEngine, error) {
	config := inference.NewConfig()
	if err := inference.ApplyOptions(config, options...); err != nil {
		return nil, err
	}

	return &OpenAIEngine{
		settings: settings,
		config:   config,
		retry:    NewRetryPolicy(settings),
	}, nil
}

// streamResult is what one attempt accumulated.
type streamResult struct {
	message    string
	merger     *ToolCallMerger
	usage      *events.Usage
	stopReason string
}

func (e *OpenAIEngine) RunInference(
	ctx context.Context,
	msgs conversation.Conversation,
) (conversation.Conversation, error) {
	log.Debug().Int("num_messages", len(msgs)).Msg("OpenAI RunInference started")

	client, err := MakeClient(e.settings)
	if err != nil {
		return nil, err
	}

	req, err := MakeCompletionRequest(ctx, e.settings, msgs)
	if err != nil {
		return nil, err
	}

	metadata := events.NewEventMetadata(helpers.CorrelationIDFromContext(ctx))
	metadata.Model = req.Model
	maxTokens := req.MaxTokens
	metadata.MaxTokens = &maxTokens
	metadata.Extra = map[string]interface{}{
		MetadataSettingsSlug: e.settings.GetMetadata(),
	}

	e.config.PublishEvent(ctx, events.NewStartEvent(metadata))

	var res streamResult
	err = e.retry.Do(ctx, func(attemptCtx context.Context, attempt int, connected func()) (bool, error) {
		res = streamResult{merger: NewToolCallMerger()}
		return e.streamOnce(attemptCtx, client, req, metadata, attempt, connected, &res)
	})

	if res.usage != nil {
		metadata.Usage = res.usage
	}

	if err != nil {
		partial := e.buildMessages(res.message, nil)
		if errors.Is(err, context.Canceled) {
			log.Debug().Int("partial_length", len(res.message)).Msg("OpenAI streaming cancelled by context")
			e.config.PublishEvent(ctx, events.NewInterruptEvent(metadata, res.message))
			return partial, err
		}
		log.Error().Err(err).Msg("OpenAI streaming request failed")
		e.config.PublishEvent(ctx, events.NewErrorEvent(metadata, err))
		return partial, err
	}

	toolCalls := res.merger.GetToolCalls()
	for _, tc := range toolCalls {
		e.config.PublishEvent(ctx, events.NewToolCallEvent(
			metadata,
			events.ToolCall{ID: tc.ID, Name: tc.Function.Name, Input: tc.Function.Arguments},
		))
	}

	log.Debug().
		Int("final_length", len(res.message)).
		Int("tool_call_count", len(toolCalls)).
		Str("stop_reason", res.stopReason).
		Msg("OpenAI publishing final event")
	e.config.PublishEvent(ctx, events.NewFinalEvent(metadata, res.message))

	return e.buildMessages(res.message, toolCalls), nil
}

func (e *OpenAIEngine) streamOnce(
	ctx context.Context,
	client *go_openai.Client,
	req *go_openai.ChatCompletionRequest,
	metadata events.EventMetadata,
	attempt int,
	connected func(),
	res *streamResult,
) (bool, error) {
	emitted := false

	stream, err := client.CreateChatCompletionStream(ctx, *req)
	if err != nil {
		log.Debug().Err(err).Int("attempt", attempt).Msg("OpenAI stream creation failed")
		return false, err
	}
	connected()
	defer func() {
		if err := stream.Close(); err != nil {
			log.Warn().Err(err).Msg("Failed to close stream")
		}
	}()

	chunkCount := 0
	for {
		response, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			log.Debug().Int("chunks_received", chunkCount).Msg("OpenAI stream completed")
			return emitted, nil
		}
		if err != nil {
			if ctx.Err() != nil {
				return emitted, ctx.Err()
			}
			log.Error().Err(err).Int("chunks_received", chunkCount).Msg("OpenAI stream receive failed")
			return emitted, err
		}
		chunkCount++

		if response.Usage != nil {
			res.usage = &events.Usage{
				InputTokens:  response.Usage.PromptTokens,
				OutputTokens: response.Usage.CompletionTokens,
			}
		}
		if len(response.Choices) == 0 {
			continue
		}

		choice := response.Choices[0]
		if choice.FinishReason != "" {
			res.stopReason = string(choice.FinishReason)
		}
		if len(choice.Delta.ToolCalls) > 0 {
			res.merger.AddToolCalls(choice.Delta.ToolCalls)
		}

		delta := choice.Delta.Content
		if delta == "" {
			continue
		}
		res.message += delta
		emitted = true
		log.Trace().Int("chunk", chunkCount).Str("delta", delta).Msg("OpenAI received chunk")
		e.config.PublishEvent(ctx, events.NewPartialCompletionEvent(metadata, delta, res.message))
	}
}

// buildMessages returns the assistant text message (when non-empty)
// followed by one tool use message per call.
func (e *OpenAIEngine) buildMessages(text string, toolCalls []go_openai.ToolCall) conversation.Conversation {
	var ret conversation.Conversation
	if text != "" {
		ret = append(ret, conversation.NewChatMessage(conversation.RoleAssistant, text))
	}
	for _, tc := range toolCalls {
		id := tc.ID
		if id == "" {
			id = "call_" + uuid.NewString()
		}
		ret = append(ret, conversation.NewMessage(&conversation.ToolUseContent{
			ToolID: id,
			Name:   tc.Function.Name,
			Input:  toolInput(tc.Function.Arguments),
			Type:   "function",
		}))
	}
	return ret
}

// toolInput keeps arguments as raw JSON, quoting them when the model
// produced something that is not valid JSON.
func toolInput(arguments string) json.RawMessage {
	if arguments == "" {
		return json.RawMessage("{}")
	}
	if json.Valid([]byte(arguments)) {
		return json.RawMessage(arguments)
	}
	b, _ := json.Marshal(arguments)
	return b
}

var _ inference.Engine = (*OpenAIEngine)(nil)
