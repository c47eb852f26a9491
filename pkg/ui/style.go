package ui

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/go-go-golems/unittestgen/pkg/conversation"
)

type Style struct {
	Header        lipgloss.Style
	Notice        lipgloss.Style
	RoleLabel     lipgloss.Style
	UserTurn      lipgloss.Style
	AssistantTurn lipgloss.Style
	SystemTurn    lipgloss.Style
	StreamingTurn lipgloss.Style
	FocusedInput  lipgloss.Style
	DisabledInput lipgloss.Style
	Error         lipgloss.Style
}

type BorderColors struct {
	User      string
	Assistant string
	Streaming string
	Focused   string
	Disabled  string
	Error     string
}

func DefaultStyles() *Style {
	lightModeColors := BorderColors{
		User:      "#CCCCCC",
		Assistant: "#87AFD7",
		Streaming: "#FFB6C1", // light pink
		Focused:   "#FFFF99", // light yellow
		Disabled:  "#DDDDDD",
		Error:     "#D70000",
	}

	darkModeColors := BorderColors{
		User:      "#444444",
		Assistant: "#5F87AF",
		Streaming: "#DD7090",
		Focused:   "#DDDD77",
		Disabled:  "#333333",
		Error:     "#FF5F5F",
	}

	border := func(b lipgloss.Border, light, dark string) lipgloss.Style {
		return lipgloss.NewStyle().Border(b).
			Padding(0, 1).
			BorderForeground(lipgloss.AdaptiveColor{Light: light, Dark: dark})
	}

	return &Style{
		Header:    lipgloss.NewStyle().Bold(true).Padding(0, 1),
		Notice:    lipgloss.NewStyle().Faint(true).Italic(true),
		RoleLabel: lipgloss.NewStyle().Bold(true),
		UserTurn:  border(lipgloss.NormalBorder(), lightModeColors.User, darkModeColors.User),
		AssistantTurn: border(lipgloss.RoundedBorder(),
			lightModeColors.Assistant, darkModeColors.Assistant),
		SystemTurn: border(lipgloss.HiddenBorder(), lightModeColors.User, darkModeColors.User).
			Faint(true),
		StreamingTurn: border(lipgloss.ThickBorder(),
			lightModeColors.Streaming, darkModeColors.Streaming),
		FocusedInput: border(lipgloss.NormalBorder(), lightModeColors.Focused, darkModeColors.Focused),
		DisabledInput: border(lipgloss.NormalBorder(),
			lightModeColors.Disabled, darkModeColors.Disabled),
		Error: border(lipgloss.ThickBorder(), lightModeColors.Error, darkModeColors.Error),
	}
}

func (s *Style) turnStyle(t conversation.Turn) lipgloss.Style {
	if t.IsStreaming {
		return s.StreamingTurn
	}
	switch t.Role {
	case conversation.RoleUser:
		return s.UserTurn
	case conversation.RoleAssistant:
		return s.AssistantTurn
	default:
		return s.SystemTurn
	}
}
