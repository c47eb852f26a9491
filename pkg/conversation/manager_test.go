package conversation

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestManagerChainsParentIDs(t *testing.T) {
	m := NewManager()
	sys := NewChatMessage(RoleSystem, "be helpful")
	user := NewChatMessage(RoleUser, "hello")
	m.AppendMessages(sys, user)
	m.AppendMessages(user) // duplicates are skipped

	conv := m.GetConversation()
	require.Len(t, conv, 2)
	assert.Equal(t, NullNode, conv[0].ParentID)
	assert.Equal(t, sys.ID, conv[1].ParentID)
	assert.True(t, conv.HasSystemPrompt())

	got, ok := m.GetMessage(user.ID)
	require.True(t, ok)
	assert.Equal(t, "hello", got.Content.String())
}

func TestManagerClearStartsNewConversation(t *testing.T) {
	m := NewManager()
	id := m.ConversationID
	m.AppendMessages(NewChatMessage(RoleUser, "hello"))

	m.Clear()
	assert.Empty(t, m.GetConversation())
	assert.NotEqual(t, id, m.ConversationID)
	assert.False(t, m.GetConversation().HasSystemPrompt())
}

func TestManagerSaveAndLoad(t *testing.T) {
	dir := t.TempDir()
	m := NewManager()
	m.AppendMessages(
		NewChatMessage(RoleUser, "write tests"),
		NewMessage(&ToolUseContent{ToolID: "call_1", Name: "read_code_file", Input: []byte(`{"path":"/src"}`), Type: "function"}),
		NewMessage(&ToolResultContent{ToolID: "call_1", Result: "class Foo {}"}),
	)

	path := filepath.Join(dir, "conv.json")
	require.NoError(t, m.SaveToFile(path))

	conv, err := LoadFromFile(path)
	require.NoError(t, err)
	require.Len(t, conv, 3)
	toolUse, ok := conv[1].Content.(*ToolUseContent)
	require.True(t, ok)
	assert.Equal(t, "read_code_file", toolUse.Name)
	assert.JSONEq(t, `{"path":"/src"}`, string(toolUse.Input))
	assert.Equal(t, conv[0].ID, conv[1].ParentID)
}

func TestManagerAutosave(t *testing.T) {
	dir := t.TempDir()
	m := NewManager(WithAutosave("yes", "{{.ConversationID}}.json", dir))
	m.AppendMessages(NewChatMessage(RoleUser, "hello"))

	path := filepath.Join(dir, m.ConversationID.String()+".json")
	_, err := os.Stat(path)
	require.NoError(t, err)

	conv, err := LoadFromFile(path)
	require.NoError(t, err)
	require.Len(t, conv, 1)
}

func TestManagerAutosaveDisabled(t *testing.T) {
	dir := t.TempDir()
	m := NewManager(WithAutosave("no", "", dir))
	m.AppendMessages(NewChatMessage(RoleUser, "hello"))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}
