package events

import (
	"encoding/json"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

type EventType string

const (
	EventTypeStart             EventType = "start"
	EventTypeFinal             EventType = "final"
	EventTypePartialCompletion EventType = "partial"

	// EventTypeStatus carries out-of-band status text (tool execution notices)
	// that is merged into the transcript like a model fragment.
	EventTypeStatus EventType = "status"

	// Model requested a tool call (received from provider stream)
	EventTypeToolCall EventType = "tool-call"

	// Execution-phase events (we are actually executing tools locally)
	EventTypeToolCallExecute         EventType = "tool-call-execute"
	EventTypeToolCallExecutionResult EventType = "tool-call-execution-result"

	EventTypeError     EventType = "error"
	EventTypeInterrupt EventType = "interrupt"

	// EventTypeTranscriptReset is emitted once every time the conversation is reset.
	EventTypeTranscriptReset EventType = "transcript-reset"
)

type Event interface {
	Type() EventType
	Metadata() EventMetadata
	Payload() []byte
}

type Usage struct {
	InputTokens  int `json:"input_tokens" yaml:"input_tokens"`
	OutputTokens int `json:"output_tokens" yaml:"output_tokens"`
}

type EventMetadata struct {
	ID uuid.UUID `json:"message_id" yaml:"message_id"`
	// ExchangeID correlates every event of one chat exchange.
	ExchangeID string                 `json:"exchange_id,omitempty" yaml:"exchange_id,omitempty"`
	Model      string                 `json:"model,omitempty" yaml:"model,omitempty"`
	MaxTokens  *int                   `json:"max_tokens,omitempty" yaml:"max_tokens,omitempty"`
	Usage      *Usage                 `json:"usage,omitempty" yaml:"usage,omitempty"`
	Extra      map[string]interface{} `json:"extra,omitempty" yaml:"extra,omitempty"`
}

func NewEventMetadata(exchangeID string) EventMetadata {
	return EventMetadata{
		ID:         uuid.New(),
		ExchangeID: exchangeID,
	}
}

func (em EventMetadata) MarshalZerologObject(e *zerolog.Event) {
	e.Str("message_id", em.ID.String())
	if em.ExchangeID != "" {
		e.Str("exchange_id", em.ExchangeID)
	}
	if em.Model != "" {
		e.Str("model", em.Model)
	}
	if em.MaxTokens != nil {
		e.Int("max_tokens", *em.MaxTokens)
	}
	if em.Usage != nil {
		e.Int("input_tokens", em.Usage.InputTokens)
		e.Int("output_tokens", em.Usage.OutputTokens)
	}
	if len(em.Extra) > 0 {
		e.Dict("extra", zerolog.Dict().Fields(em.Extra))
	}
}

type EventImpl struct {
	Type_     EventType     `json:"type"`
	Metadata_ EventMetadata `json:"meta,omitempty"`

	// store payload if the event was deserialized from JSON (see NewEventFromJson), not further used
	payload []byte
}

func (e *EventImpl) MarshalZerologObject(ev *zerolog.Event) {
	ev.Str("type", string(e.Type_))
	ev.Object("meta", e.Metadata_)
}

func (e *EventImpl) Type() EventType {
	return e.Type_
}

func (e *EventImpl) Metadata() EventMetadata {
	return e.Metadata_
}

func (e *EventImpl) Payload() []byte {
	return e.payload
}

var _ Event = &EventImpl{}

type EventPartialCompletionStart struct {
	EventImpl
}

func NewStartEvent(metadata EventMetadata) *EventPartialCompletionStart {
	return &EventPartialCompletionStart{
		EventImpl: EventImpl{Type_: EventTypeStart, Metadata_: metadata},
	}
}

var _ Event = &EventPartialCompletionStart{}

// EventPartialCompletion is one streamed text fragment.
type EventPartialCompletion struct {
	EventImpl
	Delta string `json:"delta"`
	// Completion is the text accumulated so far within the current inference.
	Completion string `json:"completion"`
}

func NewPartialCompletionEvent(metadata EventMetadata, delta string, completion string) *EventPartialCompletion {
	return &EventPartialCompletion{
		EventImpl:  EventImpl{Type_: EventTypePartialCompletion, Metadata_: metadata},
		Delta:      delta,
		Completion: completion,
	}
}

var _ Event = &EventPartialCompletion{}

type EventFinal struct {
	EventImpl
	Text string `json:"text"`
}

func NewFinalEvent(metadata EventMetadata, text string) *EventFinal {
	return &EventFinal{
		EventImpl: EventImpl{Type_: EventTypeFinal, Metadata_: metadata},
		Text:      text,
	}
}

var _ Event = &EventFinal{}

type EventInterrupt struct {
	EventImpl
	Text string `json:"text"`
}

func NewInterruptEvent(metadata EventMetadata, text string) *EventInterrupt {
	return &EventInterrupt{
		EventImpl: EventImpl{Type_: EventTypeInterrupt, Metadata_: metadata},
		Text:      text,
	}
}

var _ Event = &EventInterrupt{}

type EventError struct {
	EventImpl
	ErrorString string `json:"error_string"`
}

func NewErrorEvent(metadata EventMetadata, err error) *EventError {
	return &EventError{
		EventImpl:   EventImpl{Type_: EventTypeError, Metadata_: metadata},
		ErrorString: err.Error(),
	}
}

var _ Event = &EventError{}

// EventStatus is a side-channel notice rendered into the assistant turn.
type EventStatus struct {
	EventImpl
	Text string `json:"text"`
}

func NewStatusEvent(metadata EventMetadata, text string) *EventStatus {
	return &EventStatus{
		EventImpl: EventImpl{Type_: EventTypeStatus, Metadata_: metadata},
		Text:      text,
	}
}

var _ Event = &EventStatus{}

type ToolCall struct {
	ID    string `json:"id" yaml:"id"`
	Name  string `json:"name" yaml:"name"`
	Input string `json:"input" yaml:"input"`
}

type ToolResult struct {
	ID     string `json:"id" yaml:"id"`
	Name   string `json:"name,omitempty" yaml:"name,omitempty"`
	Result string `json:"result" yaml:"result"`
	Error  string `json:"error,omitempty" yaml:"error,omitempty"`
}

type EventToolCall struct {
	EventImpl
	ToolCall ToolCall `json:"tool_call"`
}

func NewToolCallEvent(metadata EventMetadata, toolCall ToolCall) *EventToolCall {
	return &EventToolCall{
		EventImpl: EventImpl{Type_: EventTypeToolCall, Metadata_: metadata},
		ToolCall:  toolCall,
	}
}

var _ Event = &EventToolCall{}

// EventToolCallExecute captures the intent to execute a tool locally
type EventToolCallExecute struct {
	EventImpl
	ToolCall ToolCall `json:"tool_call"`
}

func NewToolCallExecuteEvent(metadata EventMetadata, toolCall ToolCall) *EventToolCallExecute {
	return &EventToolCallExecute{
		EventImpl: EventImpl{Type_: EventTypeToolCallExecute, Metadata_: metadata},
		ToolCall:  toolCall,
	}
}

var _ Event = &EventToolCallExecute{}

// EventToolCallExecutionResult captures the result of executing a tool locally
type EventToolCallExecutionResult struct {
	EventImpl
	ToolResult ToolResult `json:"tool_result"`
}

func NewToolCallExecutionResultEvent(metadata EventMetadata, toolResult ToolResult) *EventToolCallExecutionResult {
	return &EventToolCallExecutionResult{
		EventImpl:  EventImpl{Type_: EventTypeToolCallExecutionResult, Metadata_: metadata},
		ToolResult: toolResult,
	}
}

var _ Event = &EventToolCallExecutionResult{}

type EventTranscriptReset struct {
	EventImpl
}

func NewTranscriptResetEvent(metadata EventMetadata) *EventTranscriptReset {
	return &EventTranscriptReset{
		EventImpl: EventImpl{Type_: EventTypeTranscriptReset, Metadata_: metadata},
	}
}

var _ Event = &EventTranscriptReset{}

func NewEventFromJson(b []byte) (Event, error) {
	var e *EventImpl
	err := json.Unmarshal(b, &e)
	if err != nil {
		return nil, errors.Wrap(err, "could not unmarshal event")
	}
	if e == nil {
		return nil, errors.New("empty event payload")
	}

	e.payload = b

	switch e.Type_ {
	case EventTypeStart:
		return decodeTyped[EventPartialCompletionStart](b)
	case EventTypePartialCompletion:
		return decodeTyped[EventPartialCompletion](b)
	case EventTypeFinal:
		return decodeTyped[EventFinal](b)
	case EventTypeInterrupt:
		return decodeTyped[EventInterrupt](b)
	case EventTypeError:
		return decodeTyped[EventError](b)
	case EventTypeStatus:
		return decodeTyped[EventStatus](b)
	case EventTypeToolCall:
		return decodeTyped[EventToolCall](b)
	case EventTypeToolCallExecute:
		return decodeTyped[EventToolCallExecute](b)
	case EventTypeToolCallExecutionResult:
		return decodeTyped[EventToolCallExecutionResult](b)
	case EventTypeTranscriptReset:
		return decodeTyped[EventTranscriptReset](b)
	}

	return nil, errors.Errorf("unknown event type: %s", e.Type_)
}

// eventPtr is satisfied by pointers to the typed events, which all embed EventImpl.
type eventPtr[T any] interface {
	*T
	Event
	setPayload([]byte)
}

func (e *EventImpl) setPayload(b []byte) {
	e.payload = b
}

func decodeTyped[T any, PT eventPtr[T]](b []byte) (Event, error) {
	var ret T
	if err := json.Unmarshal(b, &ret); err != nil {
		return nil, errors.Wrapf(err, "could not decode %T", ret)
	}
	p := PT(&ret)
	p.setPayload(b)
	return p, nil
}
