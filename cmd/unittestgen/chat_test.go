package main

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/go-go-golems/unittestgen/pkg/advisor"
	"github.com/go-go-golems/unittestgen/pkg/conversation"
	"github.com/go-go-golems/unittestgen/pkg/session"
	"github.com/go-go-golems/unittestgen/pkg/steps/ai/chat"
)

func newEchoSession(t *testing.T, out *bytes.Buffer) *session.Session {
	engine, err := chat.NewEchoEngine()
	require.NoError(t, err)
	engine.TimePerCharacter = 0

	svc, err := advisor.NewService(engine, advisor.WithStatusFormatter(advisor.MarkdownStatusFormatter{}))
	require.NoError(t, err)

	printer := newTranscriptPrinter(out)
	r := conversation.NewReconciler(
		conversation.WithChangeListener(printer.Update),
		conversation.WithResetListener(printer.Reset),
	)
	return session.NewSession(r, svc)
}

func TestChatLinesGreetsAndEchoes(t *testing.T) {
	out := &bytes.Buffer{}
	sess := newEchoSession(t, out)

	err := chatLines(context.Background(), sess, strings.NewReader("hello there\n\n/quit\nignored\n"), out)
	require.NoError(t, err)

	assert.Equal(t,
		"[assistant]: "+chat.EchoGreeting+"\n"+
			"[assistant]: hello there\n",
		out.String())
}

func TestChatLinesToolStatusAndReset(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "Calculator.cs"), []byte("class Calculator {}"), 0644))

	out := &bytes.Buffer{}
	sess := newEchoSession(t, out)

	in := fmt.Sprintf("!get_all_csharp_files {\"directoryPath\": %q}\n/reset\n", dir)
	err := chatLines(context.Background(), sess, strings.NewReader(in), out)
	require.NoError(t, err)

	s := out.String()
	assert.Contains(t, s, "Executing *get_all_csharp_files*")
	assert.Contains(t, s, "Calculator.cs")
	assert.Contains(t, s, "--- conversation reset ---\n[assistant]: "+chat.EchoGreeting)
	assert.Equal(t, 2, strings.Count(s, chat.EchoGreeting))
}

func TestTranscriptPrinterSkipsUserTurnsAndContinues(t *testing.T) {
	out := &bytes.Buffer{}
	p := newTranscriptPrinter(out)

	user := conversation.Turn{ID: conversation.NewNodeID(), Role: conversation.RoleUser, Text: "q"}
	assistant := conversation.Turn{ID: conversation.NewNodeID(), Role: conversation.RoleAssistant, IsStreaming: true}

	p.Update(conversation.Transcript{user})
	assistant.Text = "Do"
	p.Update(conversation.Transcript{user, assistant})
	assistant.Text = "Done."
	p.Update(conversation.Transcript{user, assistant})
	assistant.IsStreaming = false
	p.Update(conversation.Transcript{user, assistant})

	// a following exchange continues the same turn
	assistant.Text = "Done. More"
	assistant.IsStreaming = true
	p.Update(conversation.Transcript{user, assistant})
	assistant.IsStreaming = false
	p.Update(conversation.Transcript{user, assistant})

	assert.Equal(t, "[assistant]: Done.\n More\n", out.String())
}
