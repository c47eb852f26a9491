package main

import (
	"github.com/pkg/errors"
	"github.com/spf13/viper"

	"github.com/go-go-golems/unittestgen/pkg/inference"
	"github.com/go-go-golems/unittestgen/pkg/prompts"
	"github.com/go-go-golems/unittestgen/pkg/steps/ai/chat"
	"github.com/go-go-golems/unittestgen/pkg/steps/ai/openai"
	"github.com/go-go-golems/unittestgen/pkg/steps/ai/settings"
)

// stepSettingsForPrompt reads the settings from viper and fills in the
// values the prompt's factories set and the user did not override.
func stepSettingsForPrompt(v *viper.Viper, promptName string) (*settings.StepSettings, error) {
	ss, err := settings.NewStepSettingsFromViper(v)
	if err != nil {
		return nil, err
	}

	pd, err := prompts.Get(promptName)
	if err != nil {
		return nil, err
	}
	applyPromptDefaults(v, ss, pd.Settings)

	return ss, nil
}

func applyPromptDefaults(v *viper.Viper, ss *settings.StepSettings, defaults *settings.StepSettings) {
	if defaults == nil || defaults.Chat == nil {
		return
	}
	if !v.IsSet("temperature") && defaults.Chat.Temperature != nil {
		t := *defaults.Chat.Temperature
		ss.Chat.Temperature = &t
	}
	if !v.IsSet("max-response-tokens") && defaults.Chat.MaxResponseTokens != nil {
		n := *defaults.Chat.MaxResponseTokens
		ss.Chat.MaxResponseTokens = &n
	}
}

func newEngine(ss *settings.StepSettings, options ...inference.Option) (inference.Engine, error) {
	if ss.Chat != nil && ss.Chat.Echo {
		e, err := chat.NewEchoEngine(options...)
		if err != nil {
			return nil, err
		}
		return e, nil
	}

	if err := ss.Validate(); err != nil {
		return nil, errors.Wrap(err, "set --openai-api-key or UNITTESTGEN_OPENAI_API_KEY, or use --echo")
	}
	e, err := openai.NewOpenAIEngine(ss, options...)
	if err != nil {
		return nil, err
	}
	return e, nil
}
