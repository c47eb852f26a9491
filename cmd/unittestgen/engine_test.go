package main

import (
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/go-go-golems/unittestgen/pkg/prompts"
	"github.com/go-go-golems/unittestgen/pkg/steps/ai/chat"
	"github.com/go-go-golems/unittestgen/pkg/steps/ai/settings"
)

func TestPromptDefaultsApplyUnlessOverridden(t *testing.T) {
	v := viper.New()
	ss, err := stepSettingsForPrompt(v, prompts.UnitTestGenPrompt)
	require.NoError(t, err)
	require.NotNil(t, ss.Chat.Temperature)
	assert.InDelta(t, 0.2, *ss.Chat.Temperature, 1e-9)
	assert.Equal(t, 3000, *ss.Chat.MaxResponseTokens)

	v = viper.New()
	v.Set("temperature", 0.9)
	ss, err = stepSettingsForPrompt(v, prompts.UnitTestGenPrompt)
	require.NoError(t, err)
	assert.InDelta(t, 0.9, *ss.Chat.Temperature, 1e-9)
}

func TestNewEngine(t *testing.T) {
	ss := settings.NewStepSettings()
	_, err := newEngine(ss)
	assert.ErrorIs(t, err, settings.ErrMissingAPIKey)

	ss.Chat.Echo = true
	e, err := newEngine(ss)
	require.NoError(t, err)
	assert.IsType(t, &chat.EchoEngine{}, e)
}

func TestExtractCode(t *testing.T) {
	answer := "Here are the tests:\n\n```csharp\npublic class CalculatorTests {}\n```\n\nand a helper:\n\n```cs\nclass Helper {}\n```\n"
	code, err := extractCode(answer)
	require.NoError(t, err)
	assert.Equal(t, "public class CalculatorTests {}\n\nclass Helper {}\n", code)

	code, err = extractCode("class Plain {}")
	require.NoError(t, err)
	assert.Equal(t, "class Plain {}", code)
}
