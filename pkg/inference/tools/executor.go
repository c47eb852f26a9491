package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/go-go-golems/unittestgen/pkg/events"
)

// ToolExecutor handles the execution of tool calls
type ToolExecutor interface {
	ExecuteToolCall(ctx context.Context, toolCall ToolCall, registry ToolRegistry) (*ToolResult, error)
	ExecuteToolCalls(ctx context.Context, toolCalls []ToolCall, registry ToolRegistry) ([]*ToolResult, error)
}

// DefaultToolExecutor validates arguments, runs the tool with a timeout and
// optional retries, and publishes execute/result events to the sinks found
// in the context.
type DefaultToolExecutor struct {
	config   ToolConfig
	metadata func(ctx context.Context) events.EventMetadata
}

type ExecutorOption func(*DefaultToolExecutor)

// WithEventMetadata sets the function used to stamp published events.
func WithEventMetadata(f func(ctx context.Context) events.EventMetadata) ExecutorOption {
	return func(e *DefaultToolExecutor) {
		e.metadata = f
	}
}

func NewDefaultToolExecutor(config ToolConfig, options ...ExecutorOption) *DefaultToolExecutor {
	ret := &DefaultToolExecutor{
		config: config,
		metadata: func(ctx context.Context) events.EventMetadata {
			return events.NewEventMetadata("")
		},
	}
	for _, o := range options {
		o(ret)
	}
	return ret
}

func (e *DefaultToolExecutor) ExecuteToolCall(ctx context.Context, toolCall ToolCall, registry ToolRegistry) (*ToolResult, error) {
	start := time.Now()

	toolDef, err := registry.GetTool(toolCall.Name)
	if err != nil {
		return &ToolResult{
			ID:       toolCall.ID,
			Name:     toolCall.Name,
			Error:    fmt.Sprintf("tool not found: %s", toolCall.Name),
			Duration: time.Since(start),
		}, nil
	}

	if !e.config.IsToolAllowed(toolCall.Name) {
		return &ToolResult{
			ID:       toolCall.ID,
			Name:     toolCall.Name,
			Error:    fmt.Sprintf("tool not allowed: %s", toolCall.Name),
			Duration: time.Since(start),
		}, nil
	}

	events.PublishEventToContext(ctx, events.NewToolCallExecuteEvent(
		e.metadata(ctx),
		events.ToolCall{ID: toolCall.ID, Name: toolCall.Name, Input: compactJSON(toolCall.Arguments)},
	))

	var result *ToolResult
	if err := toolDef.ValidateArguments(toolCall.Arguments); err != nil {
		log.Debug().Err(err).Str("tool", toolCall.Name).Msg("tool arguments rejected")
		result = &ToolResult{Error: err.Error()}
	} else {
		result, err = e.executeWithRetry(ctx, toolCall, toolDef)
		if err != nil {
			return nil, err
		}
	}

	result.ID = toolCall.ID
	result.Name = toolCall.Name
	result.Duration = time.Since(start)

	log.Debug().
		Str("tool", toolCall.Name).
		Str("id", toolCall.ID).
		Dur("duration", result.Duration).
		Bool("failed", result.Error != "").
		Msg("tool executed")

	events.PublishEventToContext(ctx, events.NewToolCallExecutionResultEvent(
		e.metadata(ctx),
		events.ToolResult{ID: toolCall.ID, Name: toolCall.Name, Result: result.String(), Error: result.Error},
	))

	return result, nil
}

// ExecuteToolCalls runs the calls, in parallel when MaxParallelTools > 1.
// Results keep the order of toolCalls.
func (e *DefaultToolExecutor) ExecuteToolCalls(ctx context.Context, toolCalls []ToolCall, registry ToolRegistry) ([]*ToolResult, error) {
	if len(toolCalls) == 0 {
		return nil, nil
	}

	results := make([]*ToolResult, len(toolCalls))

	if e.config.MaxParallelTools <= 1 || len(toolCalls) == 1 {
		for i, toolCall := range toolCalls {
			result, err := e.ExecuteToolCall(ctx, toolCall, registry)
			if err != nil {
				return results, err
			}
			results[i] = result
			if result.Error != "" && e.config.ToolErrorHandling == ToolErrorAbort {
				return results, errors.Errorf("tool execution aborted due to error in %s: %s", toolCall.Name, result.Error)
			}
		}
		return results, nil
	}

	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(e.config.MaxParallelTools)
	for i, toolCall := range toolCalls {
		i, toolCall := i, toolCall
		eg.Go(func() error {
			result, err := e.ExecuteToolCall(egCtx, toolCall, registry)
			if err != nil {
				return err
			}
			results[i] = result
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return results, err
	}

	for i, result := range results {
		if result.Error != "" && e.config.ToolErrorHandling == ToolErrorAbort {
			return results, errors.Errorf("tool execution aborted due to error in %s: %s", toolCalls[i].Name, result.Error)
		}
	}

	return results, nil
}

// executeWithRetry returns a Go error only when the context is done; tool
// failures are reported in ToolResult.Error.
func (e *DefaultToolExecutor) executeWithRetry(ctx context.Context, toolCall ToolCall, toolDef *ToolDefinition) (*ToolResult, error) {
	maxRetries := 0
	if e.config.ToolErrorHandling == ToolErrorRetry {
		maxRetries = e.config.RetryConfig.MaxRetries
	}

	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(e.config.RetryConfig.Backoff(attempt)):
			}
		}

		result, err := e.executeOnce(ctx, toolCall, toolDef)
		if err == nil {
			return &ToolResult{Result: result, Retries: attempt}, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		lastErr = err
		log.Debug().Err(err).Str("tool", toolCall.Name).Int("attempt", attempt).Msg("tool execution failed")
	}

	return &ToolResult{Error: lastErr.Error(), Retries: maxRetries}, nil
}

func (e *DefaultToolExecutor) executeOnce(ctx context.Context, toolCall ToolCall, toolDef *ToolDefinition) (interface{}, error) {
	if e.config.ExecutionTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.config.ExecutionTimeout)
		defer cancel()
	}
	return toolDef.Function.Execute(ctx, toolCall.Arguments)
}

func compactJSON(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var tmp interface{}
	if err := json.Unmarshal(raw, &tmp); err != nil {
		return string(raw)
	}
	b, err := json.Marshal(tmp)
	if err != nil {
		return string(raw)
	}
	return string(b)
}

var _ ToolExecutor = (*DefaultToolExecutor)(nil)
