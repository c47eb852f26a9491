package ui

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textarea"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/reflow/wordwrap"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/tiktoken-go/tokenizer"
	"golang.org/x/time/rate"

	"github.com/go-go-golems/unittestgen/pkg/conversation"
	"github.com/go-go-golems/unittestgen/pkg/helpers"
	"github.com/go-go-golems/unittestgen/pkg/session"
)

// Backend runs exchanges against the transcript the model renders.
// *session.Session implements it.
type Backend interface {
	Submit(ctx context.Context, input string) (*session.ExecutionHandle, error)
	Greet(ctx context.Context) (*session.ExecutionHandle, error)
	Cancel() error
	Reset() error
	IsRunning() bool
}

var _ Backend = (*session.Session)(nil)

// TranscriptMsg carries a new transcript snapshot.
type TranscriptMsg struct {
	Transcript conversation.Transcript
}

// ExchangeDoneMsg is sent once an exchange has ended.
type ExchangeDoneMsg struct {
	ExchangeID string
	Err        error
}

// ResetMsg is sent when the conversation was reset.
type ResetMsg struct{}

type errMsg error

type greetMsg struct{}

type refreshMsg struct{}

type savedMsg struct {
	Path string
}

type SaveFunc func() (string, error)

type Model struct {
	ctx     context.Context
	backend Backend

	viewport viewport.Model
	textArea textarea.Model
	help     help.Model
	spinner  spinner.Model
	keyMap   KeyMap
	style    *Style

	width  int
	height int

	transcript conversation.Transcript
	busy       bool
	resetting  bool
	exchangeID string
	err        error
	notice     string
	greet      bool
	title      string

	save SaveFunc

	glamourStyle string
	renderer     *glamour.TermRenderer
	renderCache  map[conversation.NodeID]cachedTurn

	limiter         *rate.Limiter
	refreshInterval time.Duration
	refreshPending  bool

	codec  tokenizer.Codec
	tokens int
}

type cachedTurn struct {
	text  string
	width int
	out   string
}

type ModelOption func(*Model)

func WithSaveFunc(f SaveFunc) ModelOption {
	return func(m *Model) {
		m.save = f
	}
}

// WithGreeting controls whether the model starts an exchange with empty
// input when the program starts.
func WithGreeting(greet bool) ModelOption {
	return func(m *Model) {
		m.greet = greet
	}
}

// WithGlamourStyle sets the glamour standard style used for assistant turns,
// "auto" detects it from the terminal.
func WithGlamourStyle(style string) ModelOption {
	return func(m *Model) {
		m.glamourStyle = style
	}
}

// WithRefreshInterval limits how often streamed fragments re-render the
// transcript.
func WithRefreshInterval(d time.Duration) ModelOption {
	return func(m *Model) {
		m.refreshInterval = d
	}
}

func WithTokenCodec(codec tokenizer.Codec) ModelOption {
	return func(m *Model) {
		m.codec = codec
	}
}

func WithTitle(title string) ModelOption {
	return func(m *Model) {
		m.title = title
	}
}

func WithStyle(style *Style) ModelOption {
	return func(m *Model) {
		m.style = style
	}
}

func NewModel(ctx context.Context, backend Backend, options ...ModelOption) Model {
	ret := Model{
		ctx:             ctx,
		backend:         backend,
		viewport:        viewport.New(0, 0),
		help:            help.New(),
		spinner:         spinner.New(spinner.WithSpinner(spinner.Dot)),
		keyMap:          DefaultKeyMap,
		style:           DefaultStyles(),
		greet:           true,
		title:           "UNIT TEST ADVISOR",
		glamourStyle:    "auto",
		renderCache:     map[conversation.NodeID]cachedTurn{},
		refreshInterval: 50 * time.Millisecond,
	}
	for _, o := range options {
		o(&ret)
	}
	ret.limiter = rate.NewLimiter(rate.Every(ret.refreshInterval), 1)

	ret.textArea = textarea.New()
	ret.textArea.Placeholder = "Paste C# code or ask for unit tests..."
	ret.textArea.ShowLineNumbers = false
	ret.textArea.Focus()

	ret.updateKeyBindings()

	return ret
}

func (m Model) Init() tea.Cmd {
	cmds := []tea.Cmd{textarea.Blink, m.spinner.Tick}
	if m.greet {
		cmds = append(cmds, func() tea.Msg { return greetMsg{} })
	}
	return tea.Batch(cmds...)
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd
	var cmd tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch {
		case key.Matches(msg, m.keyMap.Quit):
			if m.backend.IsRunning() {
				_ = m.backend.Cancel()
			}
			return m, tea.Quit

		case key.Matches(msg, m.keyMap.CancelCompletion):
			if err := m.backend.Cancel(); err != nil && !errors.Is(err, session.ErrSessionNoActive) {
				m.setError(err)
			}
			return m, nil

		case key.Matches(msg, m.keyMap.ResetChat):
			if m.resetting {
				return m, nil
			}
			m.resetting = true
			m.notice = ""
			m.setBusy(true)
			return m, m.resetCmd()

		case key.Matches(msg, m.keyMap.SaveToFile):
			return m, m.saveCmd()

		case key.Matches(msg, m.keyMap.DismissError):
			m.err = nil
			m.recomputeSize()
			return m, nil

		case key.Matches(msg, m.keyMap.SubmitMessage):
			return m, m.submit()

		case key.Matches(msg, m.keyMap.Help):
			m.help.ShowAll = !m.help.ShowAll
			m.recomputeSize()
			return m, nil

		case key.Matches(msg, m.keyMap.ScrollUp, m.keyMap.ScrollDown):
			m.viewport, cmd = m.viewport.Update(msg)
			return m, cmd

		default:
			if !m.busy {
				m.textArea, cmd = m.textArea.Update(msg)
				cmds = append(cmds, cmd)
			}
			return m, tea.Batch(cmds...)
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.renderer = nil
		m.renderCache = map[conversation.NodeID]cachedTurn{}
		m.recomputeSize()

	case greetMsg:
		m.resetting = false
		h, err := m.backend.Greet(m.ctx)
		if err != nil {
			m.setBusy(false)
			m.setError(err)
			return m, nil
		}
		m.exchangeID = h.ExchangeID
		m.setBusy(true)
		return m, waitCmd(h)

	case TranscriptMsg:
		m.transcript = msg.Transcript
		if !m.transcript.IsStreaming() || m.limiter.Allow() {
			m.refresh()
		} else if !m.refreshPending {
			m.refreshPending = true
			cmds = append(cmds, tea.Tick(m.refreshInterval, func(time.Time) tea.Msg {
				return refreshMsg{}
			}))
		}

	case refreshMsg:
		m.refreshPending = false
		m.refresh()

	case ExchangeDoneMsg:
		// a cancelled exchange can end after its replacement started
		if !m.resetting && msg.ExchangeID == m.exchangeID {
			m.setBusy(false)
			cmds = append(cmds, m.textArea.Focus())
		}
		if msg.Err != nil {
			m.setError(msg.Err)
		}
		m.refresh()

	case ResetMsg:
		m.notice = "conversation reset"
		m.renderCache = map[conversation.NodeID]cachedTurn{}
		m.recomputeSize()

	case savedMsg:
		m.notice = fmt.Sprintf("history saved to %s", msg.Path)
		m.recomputeSize()

	case errMsg:
		if m.resetting {
			m.resetting = false
			m.setBusy(false)
		}
		m.setError(msg)

	case spinner.TickMsg:
		m.spinner, cmd = m.spinner.Update(msg)
		cmds = append(cmds, cmd)
		if m.busy {
			m.refresh()
		}
		return m, tea.Batch(cmds...)
	}

	m.viewport, cmd = m.viewport.Update(msg)
	cmds = append(cmds, cmd)

	return m, tea.Batch(cmds...)
}

func waitCmd(h *session.ExecutionHandle) tea.Cmd {
	return func() tea.Msg {
		err := h.Wait()
		return ExchangeDoneMsg{ExchangeID: h.ExchangeID, Err: err}
	}
}

func (m *Model) submit() tea.Cmd {
	if m.busy {
		return nil
	}
	input := m.textArea.Value()
	if strings.TrimSpace(input) == "" {
		return nil
	}

	h, err := m.backend.Submit(m.ctx, input)
	if err != nil {
		m.setError(err)
		return nil
	}

	m.textArea.Reset()
	m.notice = ""
	m.exchangeID = h.ExchangeID
	m.setBusy(true)
	return waitCmd(h)
}

func (m Model) resetCmd() tea.Cmd {
	backend := m.backend
	return func() tea.Msg {
		if err := backend.Reset(); err != nil {
			return errMsg(err)
		}
		return greetMsg{}
	}
}

func (m Model) saveCmd() tea.Cmd {
	save := m.save
	if save == nil {
		return nil
	}
	return func() tea.Msg {
		path, err := save()
		if err != nil {
			return errMsg(errors.Wrap(err, "could not save history"))
		}
		return savedMsg{Path: path}
	}
}

func (m *Model) setBusy(busy bool) {
	m.busy = busy
	if busy {
		m.textArea.Blur()
	}
	m.updateKeyBindings()
	m.recomputeSize()
}

func (m *Model) setError(err error) {
	log.Warn().Err(err).Msg("chat error")
	m.err = err
	m.updateKeyBindings()
	m.recomputeSize()
}

func (m *Model) updateKeyBindings() {
	m.keyMap.SubmitMessage.SetEnabled(!m.busy)
	m.keyMap.CancelCompletion.SetEnabled(m.busy && !m.resetting)
	m.keyMap.ResetChat.SetEnabled(!m.resetting)
	m.keyMap.SaveToFile.SetEnabled(m.save != nil)
	m.keyMap.DismissError.SetEnabled(m.err != nil)
}

// refresh re-renders the transcript into the viewport and recounts tokens
// once nothing is streaming.
func (m *Model) refresh() {
	if m.codec != nil && !m.transcript.IsStreaming() {
		text := strings.Builder{}
		for _, t := range m.transcript {
			text.WriteString(t.Text)
			text.WriteString("\n")
		}
		n, err := helpers.CountTokens(m.codec, text.String())
		if err == nil {
			m.tokens = n
		}
	}
	atBottom := m.viewport.AtBottom()
	m.viewport.SetContent(m.messageView())
	if atBottom || m.transcript.IsStreaming() {
		m.viewport.GotoBottom()
	}
}

func (m *Model) recomputeSize() {
	headerHeight := lipgloss.Height(m.headerView())
	textAreaHeight := lipgloss.Height(m.textAreaView())
	helpViewHeight := lipgloss.Height(m.help.View(m.keyMap))

	newHeight := m.height - textAreaHeight - headerHeight - helpViewHeight - 2
	if newHeight < 0 {
		newHeight = 0
	}
	m.viewport.Width = m.width
	m.viewport.Height = newHeight
	m.viewport.YPosition = headerHeight + 1

	w, _ := m.style.FocusedInput.GetFrameSize()
	m.textArea.SetWidth(m.width - w)
	m.help.Width = m.width

	m.refresh()
}

func (m Model) contentWidth() int {
	w, _ := m.style.AssistantTurn.GetFrameSize()
	ret := m.width - w
	if ret < 10 {
		ret = 10
	}
	return ret
}

func (m *Model) markdown(text string, width int) string {
	if m.renderer == nil {
		var styleOption glamour.TermRendererOption
		if m.glamourStyle == "auto" {
			styleOption = glamour.WithAutoStyle()
		} else {
			styleOption = glamour.WithStandardStyle(m.glamourStyle)
		}
		r, err := glamour.NewTermRenderer(styleOption, glamour.WithWordWrap(width))
		if err != nil {
			log.Debug().Err(err).Msg("could not create markdown renderer")
			return wordwrap.String(text, width)
		}
		m.renderer = r
	}
	out, err := m.renderer.Render(text)
	if err != nil {
		return wordwrap.String(text, width)
	}
	return strings.Trim(out, "\n")
}

func (m *Model) renderTurn(t conversation.Turn) string {
	width := m.contentWidth()

	if !t.IsStreaming {
		if c, ok := m.renderCache[t.ID]; ok && c.text == t.Text && c.width == width {
			return c.out
		}
	}

	var body string
	if t.Role == conversation.RoleAssistant {
		body = m.markdown(t.Text, width)
	} else {
		body = wordwrap.String(t.Text, width)
	}

	label := m.style.RoleLabel.Render(string(t.Role))
	if t.IsStreaming {
		label += " " + m.spinner.View()
	}
	out := m.style.turnStyle(t).Width(width).Render(label + "\n" + body)

	if !t.IsStreaming {
		m.renderCache[t.ID] = cachedTurn{text: t.Text, width: width, out: out}
	}
	return out
}

func (m *Model) messageView() string {
	ret := strings.Builder{}
	for _, t := range m.transcript {
		ret.WriteString(m.renderTurn(t))
		ret.WriteString("\n")
	}
	return ret.String()
}

func (m Model) headerView() string {
	ret := m.title
	if m.codec != nil {
		ret += fmt.Sprintf(" · %d tokens", m.tokens)
	}
	if m.busy {
		ret += " " + m.spinner.View()
	}
	header := m.style.Header.Render(ret)
	if m.notice != "" {
		header += m.style.Notice.Render(m.notice)
	}
	return header
}

func (m Model) textAreaView() string {
	if m.err != nil {
		w, _ := m.style.Error.GetFrameSize()
		width := m.width - w
		if width < 10 {
			width = 10
		}
		return m.style.Error.Render(wordwrap.String(m.err.Error(), width))
	}

	v := m.textArea.View()
	if m.busy {
		return m.style.DisabledInput.Render(v)
	}
	return m.style.FocusedInput.Render(v)
}

func (m Model) View() string {
	return m.headerView() + "\n" +
		m.viewport.View() + "\n" +
		m.textAreaView() + "\n" +
		m.help.View(m.keyMap)
}

// Busy reports whether the model currently refuses input.
func (m Model) Busy() bool {
	return m.busy
}

func (m Model) Err() error {
	return m.err
}
