package settings

import (
	"github.com/huandu/go-clone"
)

type ChatSettings struct {
	Engine            *string  `yaml:"engine,omitempty"`
	MaxResponseTokens *int     `yaml:"max_response_tokens,omitempty"`
	TopP              *float64 `yaml:"top_p,omitempty"`
	Temperature       *float64 `yaml:"temperature,omitempty"`
	Stop              []string `yaml:"stop,omitempty"`
	Stream            bool     `yaml:"stream,omitempty"`
	// Echo replaces the provider with the offline echo engine.
	Echo bool `yaml:"echo,omitempty"`
}

func NewChatSettings() *ChatSettings {
	return &ChatSettings{
		Stop:   []string{},
		Stream: true,
	}
}

func (s *ChatSettings) Clone() *ChatSettings {
	return clone.Clone(s).(*ChatSettings)
}

// EngineOr returns the configured model name or def.
func (s *ChatSettings) EngineOr(def string) string {
	if s == nil || s.Engine == nil || *s.Engine == "" {
		return def
	}
	return *s.Engine
}

// MaxTokensOr returns the configured response token limit or def.
func (s *ChatSettings) MaxTokensOr(def int) int {
	if s == nil || s.MaxResponseTokens == nil || *s.MaxResponseTokens <= 0 {
		return def
	}
	return *s.MaxResponseTokens
}
