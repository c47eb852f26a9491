package advisor

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/unittestgen/pkg/conversation"
	"github.com/go-go-golems/unittestgen/pkg/events"
	"github.com/go-go-golems/unittestgen/pkg/helpers"
	"github.com/go-go-golems/unittestgen/pkg/inference"
	"github.com/go-go-golems/unittestgen/pkg/inference/toolcontext"
	"github.com/go-go-golems/unittestgen/pkg/inference/toolloop"
	"github.com/go-go-golems/unittestgen/pkg/inference/tools"
	"github.com/go-go-golems/unittestgen/pkg/prompts"
	"github.com/go-go-golems/unittestgen/pkg/testio"
)

var ErrStreamInProgress = errors.New("a chat stream is already running")

// Service is the unit test advisor: a tool using chat over a persistent
// history, plus one-shot unit test generation.
type Service struct {
	engine         inference.Engine
	generateEngine inference.Engine
	manager        conversation.Manager
	registry       *tools.InMemoryToolRegistry
	toolCfg        tools.ToolConfig
	loopCfg        toolloop.LoopConfig

	systemPrompt string
	unitTestGen  *prompts.PromptDescription

	formatter       StatusFormatter
	statusFn        StatusHandler
	showToolResults bool
	sinks           []events.EventSink

	streamMu sync.Mutex

	listenersMu    sync.Mutex
	resetListeners []func()
}

type Option func(*Service) error

func WithManager(m conversation.Manager) Option {
	return func(s *Service) error {
		s.manager = m
		return nil
	}
}

// WithGenerateEngine sets the engine used by GenerateUnitTestStream and the
// unit_test_gen tool. It defaults to the chat engine.
func WithGenerateEngine(e inference.Engine) Option {
	return func(s *Service) error {
		s.generateEngine = e
		return nil
	}
}

func WithStatusCallback(f StatusHandler) Option {
	return func(s *Service) error {
		s.statusFn = f
		return nil
	}
}

func WithStatusFormatter(f StatusFormatter) Option {
	return func(s *Service) error {
		s.formatter = f
		return nil
	}
}

func WithShowToolResults(show bool) Option {
	return func(s *Service) error {
		s.showToolResults = show
		return nil
	}
}

// WithEventSink adds a sink for the service level events (transcript reset).
func WithEventSink(sink events.EventSink) Option {
	return func(s *Service) error {
		s.sinks = append(s.sinks, sink)
		return nil
	}
}

func WithToolConfig(cfg tools.ToolConfig) Option {
	return func(s *Service) error {
		s.toolCfg = cfg
		s.loopCfg.MaxIterations = cfg.MaxIterations
		return nil
	}
}

func WithSystemPrompt(prompt string) Option {
	return func(s *Service) error {
		s.systemPrompt = prompt
		return nil
	}
}

// WithTools registers additional tools next to the file tools.
func WithTools(defs ...*tools.ToolDefinition) Option {
	return func(s *Service) error {
		return s.registry.Register(defs...)
	}
}

func NewService(engine inference.Engine, options ...Option) (*Service, error) {
	if engine == nil {
		return nil, errors.New("advisor needs an engine")
	}

	advisorPrompt, err := prompts.Get(prompts.AdvisorPrompt)
	if err != nil {
		return nil, err
	}
	systemPrompt, err := advisorPrompt.RenderSystemPrompt(nil)
	if err != nil {
		return nil, err
	}
	unitTestGen, err := prompts.Get(prompts.UnitTestGenPrompt)
	if err != nil {
		return nil, err
	}

	s := &Service{
		engine:   engine,
		manager:  conversation.NewManager(),
		registry: tools.NewInMemoryToolRegistry(),
		// unit_test_gen runs a nested inference
		toolCfg:      tools.DefaultToolConfig().WithExecutionTimeout(5 * time.Minute),
		loopCfg:      toolloop.DefaultLoopConfig(),
		systemPrompt: systemPrompt,
		unitTestGen:  unitTestGen,
		formatter:    HTMLStatusFormatter{},
	}

	if err := testio.Register(s.registry); err != nil {
		return nil, err
	}
	genTool, err := tools.NewToolFromFunc(
		tools.ToolName(prompts.UnitTestGenPrompt),
		unitTestGen.Short+". Returns the generated tests",
		s.unitTestGenTool,
	)
	if err != nil {
		return nil, err
	}
	if err := s.registry.Register(genTool); err != nil {
		return nil, err
	}

	for _, o := range options {
		if err := o(s); err != nil {
			return nil, err
		}
	}
	if s.generateEngine == nil {
		s.generateEngine = s.engine
	}

	return s, nil
}

func (s *Service) Manager() conversation.Manager {
	return s.manager
}

func (s *Service) Registry() tools.ToolRegistry {
	return s.registry
}

// OnReset registers a listener called after every Reset.
func (s *Service) OnReset(f func()) {
	s.listenersMu.Lock()
	defer s.listenersMu.Unlock()
	s.resetListeners = append(s.resetListeners, f)
}

// Reset clears the chat history and notifies the reset listeners once.
func (s *Service) Reset() {
	s.manager.Clear()

	s.listenersMu.Lock()
	listeners := append([]func(){}, s.resetListeners...)
	s.listenersMu.Unlock()
	for _, l := range listeners {
		l()
	}

	ev := events.NewTranscriptResetEvent(events.NewEventMetadata(""))
	for _, sink := range s.sinks {
		if err := sink.PublishEvent(ev); err != nil {
			log.Warn().Err(err).Msg("could not publish transcript reset")
		}
	}
	log.Debug().Msg("advisor history reset")
}

// ChatStream runs one advisor exchange and streams the model text.
//
// The system prompt is added to a history that has none, and input is
// appended as a user message unless blank. Tools requested by the model are
// executed and the model is called again until it answers with text. Tool
// status notices go to the status handler of ctx, or the service callback.
//
// The returned channel is unbuffered: a status notice is only emitted after
// every fragment before it has been received. The channel is closed when the
// exchange ends; a fault is delivered as an error result, a cancellation
// simply closes the channel. The history keeps everything the model
// produced, including partial text.
func (s *Service) ChatStream(ctx context.Context, input string) (<-chan helpers.Result[string], error) {
	if !s.streamMu.TryLock() {
		return nil, ErrStreamInProgress
	}

	if !s.manager.GetConversation().HasSystemPrompt() {
		s.manager.AppendMessages(conversation.NewChatMessage(conversation.RoleSystem, s.systemPrompt))
	}
	if strings.TrimSpace(input) != "" {
		s.manager.AppendMessages(conversation.NewChatMessage(conversation.RoleUser, input))
	}

	status := s.statusFn
	if h, ok := StatusHandlerFromContext(ctx); ok {
		status = h
	}
	if status == nil {
		status = func(string) {}
	}

	if !helpers.HasCorrelationID(ctx) {
		ctx = helpers.ContextWithCorrelationID(ctx, helpers.NewCorrelationID())
	}

	c := make(chan helpers.Result[string])

	sink := events.SinkFunc(func(ev events.Event) error {
		switch e := ev.(type) {
		case *events.EventPartialCompletion:
			helpers.SendResult(ctx, c, helpers.NewValueResult(e.Delta))
		case *events.EventToolCallExecute:
			status(s.formatter.ToolExecuting(e.ToolCall.Name))
		case *events.EventToolCallExecutionResult:
			if s.showToolResults {
				status(s.formatter.ToolResult(e.ToolResult.Name, e.ToolResult.Result))
			}
		}
		return nil
	})
	streamCtx := events.WithEventSinks(ctx, sink)

	loop := toolloop.New(
		toolloop.WithEngine(s.engine),
		toolloop.WithRegistry(s.registry),
		toolloop.WithToolConfig(s.toolCfg),
		toolloop.WithLoopConfig(s.loopCfg),
	)

	go func() {
		// the lock is released before the channel closes, so a caller that
		// saw the end of the stream can start the next one
		defer close(c)
		defer s.streamMu.Unlock()

		err := loop.Run(streamCtx, s.manager)
		if err == nil {
			return
		}
		if ctx.Err() != nil {
			log.Debug().Err(err).Msg("advisor chat stream cancelled")
			return
		}
		log.Error().Err(err).Msg("advisor chat stream failed")
		helpers.SendResult(ctx, c, helpers.NewErrorResult[string](err))
	}()

	return c, nil
}

// GenerateUnitTestStream streams unit tests for code. It uses neither the
// chat history nor the tools.
func (s *Service) GenerateUnitTestStream(ctx context.Context, code string) (<-chan helpers.Result[string], error) {
	msgs, err := s.unitTestGen.Conversation(map[string]interface{}{"code": code})
	if err != nil {
		return nil, err
	}

	c := make(chan helpers.Result[string])
	sink := events.SinkFunc(func(ev events.Event) error {
		if e, ok := ev.(*events.EventPartialCompletion); ok {
			helpers.SendResult(ctx, c, helpers.NewValueResult(e.Delta))
		}
		return nil
	})
	genCtx := events.WithEventSinks(withoutTools(ctx), sink)

	go func() {
		defer close(c)
		if _, err := s.generateEngine.RunInference(genCtx, msgs); err != nil && ctx.Err() == nil {
			log.Error().Err(err).Msg("unit test generation failed")
			helpers.SendResult(ctx, c, helpers.NewErrorResult[string](err))
		}
	}()

	return c, nil
}

type unitTestGenInput struct {
	Code string `json:"code" jsonschema:"required,description=The c# code to write unit tests for"`
}

// unitTestGenTool runs the generation prompt as a nested inference whose
// text is returned to the model instead of being streamed to the user.
func (s *Service) unitTestGenTool(ctx context.Context, in unitTestGenInput) (string, error) {
	msgs, err := s.unitTestGen.Conversation(map[string]interface{}{"code": in.Code})
	if err != nil {
		return "", err
	}
	out, err := s.generateEngine.RunInference(withoutTools(events.WithoutEventSinks(ctx)), msgs)
	if err != nil {
		return "", err
	}
	var sb strings.Builder
	for _, m := range out {
		if c, ok := m.Content.(*conversation.ChatMessageContent); ok {
			sb.WriteString(c.Text)
		}
	}
	return sb.String(), nil
}

func withoutTools(ctx context.Context) context.Context {
	return toolcontext.WithToolConfig(ctx, toolcontext.ToolConfigFrom(ctx).WithEnabled(false))
}
