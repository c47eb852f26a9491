package events

// EventSink represents a destination for chat events.
type EventSink interface {
	PublishEvent(event Event) error
}

// SinkFunc adapts a plain function to an EventSink.
type SinkFunc func(event Event) error

func (f SinkFunc) PublishEvent(event Event) error {
	return f(event)
}

var _ EventSink = SinkFunc(nil)
