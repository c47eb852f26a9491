package settings

import (
	"io"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/go-go-golems/unittestgen/pkg/security"
	"github.com/go-go-golems/unittestgen/pkg/steps/ai/settings/openai"
)

const (
	DefaultModel             = "gpt-4o-mini"
	DefaultMaxResponseTokens = 3000
)

var ErrMissingAPIKey = errors.New("missing openai api key")

type factoryConfigFileWrapper struct {
	Factories *StepSettings
}

type StepSettings struct {
	Chat   *ChatSettings    `yaml:"chat,omitempty"`
	OpenAI *openai.Settings `yaml:"openai,omitempty"`
	Client *ClientSettings  `yaml:"client,omitempty"`
	Retry  *RetrySettings   `yaml:"retry,omitempty"`
}

func NewStepSettings() *StepSettings {
	return &StepSettings{
		Chat:   NewChatSettings(),
		OpenAI: openai.NewSettings(),
		Client: NewClientSettings(),
		Retry:  NewRetrySettings(),
	}
}

func NewStepSettingsFromYAML(s io.Reader) (*StepSettings, error) {
	settings_ := factoryConfigFileWrapper{
		Factories: NewStepSettings(),
	}
	if err := yaml.NewDecoder(s).Decode(&settings_); err != nil {
		return nil, err
	}

	return settings_.Factories, nil
}

// NewStepSettingsFromViper reads the flat configuration keys
// (openai-api-key, model, timeout, ...) from v.
func NewStepSettingsFromViper(v *viper.Viper) (*StepSettings, error) {
	ret := NewStepSettings()

	model := v.GetString("model")
	if model == "" {
		model = DefaultModel
	}
	ret.Chat.Engine = &model

	maxTokens := DefaultMaxResponseTokens
	if v.IsSet("max-response-tokens") {
		maxTokens = v.GetInt("max-response-tokens")
		if maxTokens <= 0 {
			return nil, errors.Errorf("max-response-tokens must be positive, got %d", maxTokens)
		}
	}
	ret.Chat.MaxResponseTokens = &maxTokens

	if v.IsSet("temperature") {
		t := v.GetFloat64("temperature")
		ret.Chat.Temperature = &t
	}
	ret.Chat.Echo = v.GetBool("echo")

	if key := v.GetString("openai-api-key"); key != "" {
		ret.OpenAI.APIKey = &key
	}
	if baseURL := v.GetString("openai-base-url"); baseURL != "" {
		if err := security.ValidateBaseURL(baseURL); err != nil {
			return nil, err
		}
		ret.OpenAI.BaseURL = &baseURL
	}

	if v.IsSet("timeout") {
		t := v.GetDuration("timeout")
		if t <= 0 {
			return nil, errors.Errorf("timeout must be positive, got %s", t)
		}
		secs := int(t / time.Second)
		ret.Client.Timeout = &t
		ret.Client.TimeoutSeconds = &secs
	}
	if v.IsSet("total-timeout") {
		t := v.GetDuration("total-timeout")
		ret.Client.TotalTimeout = &t
	}
	if v.IsSet("max-retries") {
		ret.Retry.MaxRetries = v.GetInt("max-retries")
	}
	if v.IsSet("retry-backoff-base") {
		ret.Retry.BackoffBase = v.GetDuration("retry-backoff-base")
	}

	return ret, nil
}

// Validate checks that a provider request can be made with these settings.
func (ss *StepSettings) Validate() error {
	if ss.Chat != nil && ss.Chat.Echo {
		return nil
	}
	if ss.OpenAI == nil || ss.OpenAI.APIKey == nil || *ss.OpenAI.APIKey == "" {
		return ErrMissingAPIKey
	}
	return nil
}

func (ss *StepSettings) GetMetadata() map[string]interface{} {
	metadata := make(map[string]interface{})

	if ss.Chat != nil {
		if ss.Chat.Engine != nil {
			metadata["ai-engine"] = *ss.Chat.Engine
		}
		if ss.Chat.MaxResponseTokens != nil {
			metadata["ai-max-response-tokens"] = *ss.Chat.MaxResponseTokens
		}
		if ss.Chat.TopP != nil && *ss.Chat.TopP != 1 {
			metadata["ai-top-p"] = *ss.Chat.TopP
		}
		if ss.Chat.Temperature != nil {
			metadata["ai-temperature"] = *ss.Chat.Temperature
		}
		if len(ss.Chat.Stop) > 0 {
			metadata["ai-stop"] = ss.Chat.Stop
		}
		metadata["ai-stream"] = ss.Chat.Stream
	}

	if ss.OpenAI != nil {
		if ss.OpenAI.N != nil && *ss.OpenAI.N != 1 {
			metadata["openai-n"] = *ss.OpenAI.N
		}
		if ss.OpenAI.PresencePenalty != nil && *ss.OpenAI.PresencePenalty != 0 {
			metadata["openai-presence-penalty"] = *ss.OpenAI.PresencePenalty
		}
		if ss.OpenAI.FrequencyPenalty != nil && *ss.OpenAI.FrequencyPenalty != 0 {
			metadata["openai-frequency-penalty"] = *ss.OpenAI.FrequencyPenalty
		}
		if ss.OpenAI.BaseURL != nil {
			metadata["openai-base-url"] = *ss.OpenAI.BaseURL
		}
		// the api key is never part of the metadata
	}

	if ss.Client != nil {
		if ss.Client.Timeout != nil {
			metadata["timeout"] = ss.Client.Timeout.String()
		}
		if ss.Client.TotalTimeout != nil {
			metadata["total-timeout"] = ss.Client.TotalTimeout.String()
		}
		if ss.Client.Organization != nil && *ss.Client.Organization != "" {
			metadata["organization"] = *ss.Client.Organization
		}
		if ss.Client.UserAgent != nil {
			metadata["user-agent"] = *ss.Client.UserAgent
		}
	}

	if ss.Retry != nil {
		metadata["max-retries"] = ss.Retry.MaxRetries
	}

	return metadata
}

func (ss *StepSettings) Clone() *StepSettings {
	return &StepSettings{
		Chat:   ss.Chat.Clone(),
		OpenAI: ss.OpenAI.Clone(),
		Client: ss.Client.Clone(),
		Retry:  ss.Retry.Clone(),
	}
}
