package advisor

import (
	"context"
	"fmt"
	"strings"
)

// StatusFormatter turns tool execution notices into transcript text.
type StatusFormatter interface {
	ToolExecuting(name string) string
	ToolResult(name string, result string) string
}

// HTMLStatusFormatter produces the markup used by HTML renderers.
type HTMLStatusFormatter struct{}

func (HTMLStatusFormatter) ToolExecuting(name string) string {
	return fmt.Sprintf("<div style=\"font-size:110%%\">Executing <em>%s</em></div>", name)
}

func (HTMLStatusFormatter) ToolResult(name string, result string) string {
	return fmt.Sprintf(`

<details>
  <summary>See Results</summary>

  <h5>Results</h5>
  <p>
  <p>%s</p>
  </p>
  <br/>
</details>
`, result)
}

// MarkdownStatusFormatter produces markdown for terminal renderers.
type MarkdownStatusFormatter struct {
	// MaxResultLines truncates tool results, 0 keeps them whole.
	MaxResultLines int
}

func (MarkdownStatusFormatter) ToolExecuting(name string) string {
	return fmt.Sprintf("\n\nExecuting *%s*\n\n", name)
}

func (m MarkdownStatusFormatter) ToolResult(name string, result string) string {
	lines := strings.Split(strings.TrimRight(result, "\n"), "\n")
	if m.MaxResultLines > 0 && len(lines) > m.MaxResultLines {
		lines = append(lines[:m.MaxResultLines], fmt.Sprintf("... (%d more lines)", len(lines)-m.MaxResultLines))
	}
	return fmt.Sprintf("\n> **%s results**\n>\n> %s\n\n", name, strings.Join(lines, "\n> "))
}

// StatusHandler receives status text produced during a chat stream.
type StatusHandler func(text string)

type statusKey struct{}

// WithStatusHandler routes the status notices of chat streams started with
// ctx to h instead of the service wide callback.
func WithStatusHandler(ctx context.Context, h StatusHandler) context.Context {
	return context.WithValue(ctx, statusKey{}, h)
}

// StatusHandlerFromContext returns the handler installed by WithStatusHandler.
func StatusHandlerFromContext(ctx context.Context) (StatusHandler, bool) {
	h, ok := ctx.Value(statusKey{}).(StatusHandler)
	return h, ok && h != nil
}
