package inference

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/unittestgen/pkg/events"
)

// Config holds the engine options shared by all providers.
type Config struct {
	EventSinks []events.EventSink
}

type Option func(*Config) error

func NewConfig() *Config {
	return &Config{}
}

// WithSink adds a sink that receives every event the engine publishes.
func WithSink(sink events.EventSink) Option {
	return func(c *Config) error {
		c.EventSinks = append(c.EventSinks, sink)
		return nil
	}
}

func ApplyOptions(c *Config, options ...Option) error {
	for _, o := range options {
		if err := o(c); err != nil {
			return err
		}
	}
	return nil
}

// PublishEvent sends event to the configured sinks and to the sinks carried by ctx.
func (c *Config) PublishEvent(ctx context.Context, event events.Event) {
	for _, sink := range c.EventSinks {
		if err := sink.PublishEvent(event); err != nil {
			log.Warn().Err(err).Str("event_type", string(event.Type())).Msg("Failed to publish event to sink")
		}
	}
	events.PublishEventToContext(ctx, event)
}
