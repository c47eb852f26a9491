package openai

import (
	"github.com/huandu/go-clone"
)

type Settings struct {
	APIKey  *string `yaml:"api_key,omitempty"`
	BaseURL *string `yaml:"base_url,omitempty"`
	// How many choice to create for each prompt
	N *int `yaml:"n,omitempty"`
	// PresencePenalty to use
	PresencePenalty *float64 `yaml:"presence_penalty,omitempty"`
	// FrequencyPenalty to use
	FrequencyPenalty *float64 `yaml:"frequency_penalty,omitempty"`
	// ParallelToolCalls is a hint for tool parallelization
	ParallelToolCalls *bool `yaml:"parallel_tool_calls,omitempty"`
}

func NewSettings() *Settings {
	return &Settings{}
}

func (s *Settings) Clone() *Settings {
	return clone.Clone(s).(*Settings)
}
