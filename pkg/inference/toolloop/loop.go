package toolloop

import (
	"context"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/unittestgen/pkg/conversation"
	"github.com/go-go-golems/unittestgen/pkg/inference"
	"github.com/go-go-golems/unittestgen/pkg/inference/toolcontext"
	"github.com/go-go-golems/unittestgen/pkg/inference/tools"
)

var ErrMaxIterations = errors.New("tool loop reached max iterations")

// Loop alternates engine inference and local tool execution until the model
// answers without requesting a tool.
type Loop struct {
	eng      inference.Engine
	registry tools.ToolRegistry
	loopCfg  LoopConfig
	toolCfg  tools.ToolConfig
	executor tools.ToolExecutor
}

type Option func(*Loop)

func New(opts ...Option) *Loop {
	l := &Loop{
		loopCfg: DefaultLoopConfig(),
		toolCfg: tools.DefaultToolConfig(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(l)
		}
	}
	if l.executor == nil {
		l.executor = tools.NewDefaultToolExecutor(l.toolCfg)
	}
	return l
}

func WithEngine(eng inference.Engine) Option {
	return func(l *Loop) { l.eng = eng }
}

func WithRegistry(reg tools.ToolRegistry) Option {
	return func(l *Loop) { l.registry = reg }
}

func WithLoopConfig(cfg LoopConfig) Option {
	return func(l *Loop) { l.loopCfg = cfg }
}

func WithToolConfig(cfg tools.ToolConfig) Option {
	return func(l *Loop) { l.toolCfg = cfg }
}

func WithExecutor(exec tools.ToolExecutor) Option {
	return func(l *Loop) { l.executor = exec }
}

// Run appends every message produced by the engine and every tool result to
// manager. Messages produced before a failure are kept in manager.
func (l *Loop) Run(ctx context.Context, manager conversation.Manager) error {
	if l.eng == nil {
		return errors.New("tool loop engine is nil")
	}

	if l.registry != nil {
		ctx = toolcontext.WithRegistry(ctx, l.registry)
	}
	ctx = toolcontext.WithToolConfig(ctx, l.toolCfg)

	maxIterations := l.loopCfg.MaxIterations
	if maxIterations <= 0 {
		maxIterations = DefaultLoopConfig().MaxIterations
	}

	for i := 0; i < maxIterations; i++ {
		log.Debug().Int("iteration", i+1).Msg("toolloop: engine inference step")

		produced, err := l.eng.RunInference(ctx, manager.GetConversation())
		manager.AppendMessages(produced...)
		if err != nil {
			return err
		}

		pending := inference.PendingToolUses(produced)
		if len(pending) == 0 {
			return nil
		}
		if l.registry == nil {
			return errors.Errorf("model requested %d tool call(s) but no tools are registered", len(pending))
		}

		calls := make([]tools.ToolCall, 0, len(pending))
		for _, p := range pending {
			calls = append(calls, tools.ToolCall{ID: p.ToolID, Name: p.Name, Arguments: p.Input})
		}

		results, err := l.executor.ExecuteToolCalls(ctx, calls, l.registry)
		// every call gets a result so the conversation stays valid for the next request
		for idx, c := range calls {
			text := "Error: tool call was not executed"
			if idx < len(results) && results[idx] != nil {
				text = results[idx].String()
			}
			manager.AppendMessages(conversation.NewMessage(&conversation.ToolResultContent{
				ToolID: c.ID,
				Result: text,
			}))
		}
		if err != nil {
			return errors.Wrap(err, "execute tools")
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}

	return errors.Wrapf(ErrMaxIterations, "limit %d", maxIterations)
}

// RunToolCallingLoop is a shorthand for New(...).Run.
func RunToolCallingLoop(
	ctx context.Context,
	eng inference.Engine,
	manager conversation.Manager,
	registry tools.ToolRegistry,
	cfg tools.ToolConfig,
) error {
	return New(
		WithEngine(eng),
		WithRegistry(registry),
		WithToolConfig(cfg),
		WithLoopConfig(LoopConfig{MaxIterations: cfg.MaxIterations}),
	).Run(ctx, manager)
}
