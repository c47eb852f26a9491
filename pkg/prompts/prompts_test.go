package prompts

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/go-go-golems/unittestgen/pkg/conversation"
)

func TestEmbeddedPrompts(t *testing.T) {
	names, err := List()
	require.NoError(t, err)
	assert.Equal(t, []string{AdvisorPrompt, UnitTestGenPrompt}, names)
}

func TestAdvisorPromptText(t *testing.T) {
	pd, err := Get(AdvisorPrompt)
	require.NoError(t, err)

	sys, err := pd.RenderSystemPrompt(nil)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(sys, "Help users generate unit tests for their c# code."))
	assert.Contains(t, sys, "\n    - Paste code into the chat window\n")
	assert.True(t, strings.HasSuffix(sys, "Read and write files using available tools."))

	require.NotNil(t, pd.Settings)
	assert.Equal(t, 3000, *pd.Settings.Chat.MaxResponseTokens)
}

func TestUnitTestGenRender(t *testing.T) {
	pd, err := Get("unittestgen")
	require.NoError(t, err)

	out, err := pd.Render(map[string]interface{}{"Code": "\n\npublic class A {}\n"})
	require.NoError(t, err)
	assert.Contains(t, out, "Write xUnit unit tests")
	assert.Contains(t, out, "```csharp\npublic class A {}\n```")

	out, err = pd.Render(map[string]interface{}{"code": "x", "framework": "NUnit"})
	require.NoError(t, err)
	assert.Contains(t, out, "Write NUnit unit tests")

	_, err = pd.Render(nil)
	assert.Error(t, err)
}

func TestUnitTestGenConversation(t *testing.T) {
	pd, err := Get(UnitTestGenPrompt)
	require.NoError(t, err)

	msgs, err := pd.Conversation(map[string]interface{}{"code": "class B {}"})
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, conversation.RoleSystem, msgs[0].Content.(*conversation.ChatMessageContent).Role)
	assert.Equal(t, conversation.RoleUser, msgs[1].Content.(*conversation.ChatMessageContent).Role)
	assert.InDelta(t, 0.2, *pd.Settings.Chat.Temperature, 1e-9)
}

func TestGetUnknown(t *testing.T) {
	_, err := Get("nope")
	assert.ErrorIs(t, err, ErrPromptNotFound)
}

func TestLoadRequiresName(t *testing.T) {
	_, err := Load(strings.NewReader("prompt: hi\n"))
	assert.Error(t, err)
}
