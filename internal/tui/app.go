package tui

import (
	"context"
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/lotas/kurzfassung/internal/bus"
	"github.com/lotas/kurzfassung/internal/popup"
)

const (
	flashLifetime = 4 * time.Second
	savedDelay    = 800 * time.Millisecond
)

// --- Messages ---

type summaryMsg struct {
	reply bus.Reply
	err   error
}

type captureMsg struct {
	text string
	err  error
}

type flashExpiredMsg struct{ seq int }

type enterMainMsg struct{}

type statusTickMsg struct{}

// --- Commands ---

func waitSummary(ctx context.Context, pending *bus.Pending) tea.Cmd {
	return func() tea.Msg {
		reply, err := pending.Wait(ctx)
		return summaryMsg{reply: reply, err: err}
	}
}

func fetchSelection(ctx context.Context, p *popup.Popup) tea.Cmd {
	return func() tea.Msg {
		text, err := p.FetchSelection(ctx)
		return captureMsg{text: text, err: err}
	}
}

func expireFlash(seq int) tea.Cmd {
	return tea.Tick(flashLifetime, func(time.Time) tea.Msg { return flashExpiredMsg{seq: seq} })
}

func statusTick() tea.Cmd {
	return tea.Tick(time.Second, func(time.Time) tea.Msg { return statusTickMsg{} })
}

// --- Model ---

// Model renders a popup.Popup in the terminal.
type Model struct {
	ctx       context.Context
	popup     *popup.Popup
	port      int
	connected func() bool

	keyInput  []rune
	textInput []rune

	width  int
	height int
}

// NewModel loads the popup state and returns the model. connected reports
// whether the browser extension is attached; it may be nil.
func NewModel(ctx context.Context, p *popup.Popup, port int, connected func() bool) Model {
	p.Init(ctx)
	return Model{ctx: ctx, popup: p, port: port, connected: connected}
}

func (m Model) Init() tea.Cmd {
	return statusTick()
}

// withFlash schedules the clear of a flash message raised while handling a
// message.
func (m Model) withFlash(before int, cmds ...tea.Cmd) tea.Cmd {
	if f := m.popup.Flash; f.Seq != before && f.Visible() {
		cmds = append(cmds, expireFlash(f.Seq))
	}
	return tea.Batch(cmds...)
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	before := m.popup.Flash.Seq

	switch msg := msg.(type) {

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case statusTickMsg:
		return m, statusTick()

	case flashExpiredMsg:
		m.popup.ClearFlash(msg.seq)
		return m, nil

	case enterMainMsg:
		m.popup.EnterMain()
		m.keyInput = nil
		return m, nil

	case summaryMsg:
		m.popup.Finish(msg.reply, msg.err)
		return m, m.withFlash(before)

	case captureMsg:
		m.popup.FinishCapture(msg.text, msg.err)
		return m, m.withFlash(before)

	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "esc":
			return m, tea.Quit
		}
		switch m.popup.Screen {
		case popup.ScreenAPISetup:
			return m.updateSetup(msg, before)
		case popup.ScreenMain:
			return m.updateMain(msg, before)
		}
	}

	return m, nil
}

func (m Model) updateSetup(msg tea.KeyMsg, before int) (tea.Model, tea.Cmd) {
	switch msg.Type {
	case tea.KeyEnter:
		if err := m.popup.SaveKey(m.ctx, string(m.keyInput)); err != nil {
			return m, m.withFlash(before)
		}
		return m, m.withFlash(before, tea.Tick(savedDelay, func(time.Time) tea.Msg { return enterMainMsg{} }))
	case tea.KeyBackspace:
		if n := len(m.keyInput); n > 0 {
			m.keyInput = m.keyInput[:n-1]
		}
	case tea.KeyRunes, tea.KeySpace:
		m.keyInput = append(m.keyInput, msg.Runes...)
	}
	return m, nil
}

func (m Model) updateMain(msg tea.KeyMsg, before int) (tea.Model, tea.Cmd) {
	p := m.popup

	switch msg.String() {
	case "tab":
		if p.ActiveTab == popup.TabText {
			p.SwitchTab(popup.TabSelected)
		} else {
			p.SwitchTab(popup.TabText)
		}
		return m, nil
	case "ctrl+r":
		p.CycleCompression(p.ActiveTab)
		return m, nil
	case "ctrl+k":
		p.ShowSetup()
		m.keyInput = nil
		return m, nil
	case "ctrl+g":
		return m, fetchSelection(m.ctx, p)
	case "enter":
		if p.Loading {
			return m, nil
		}
		text := string(m.textInput)
		if p.ActiveTab == popup.TabSelected {
			text = p.Selected
		}
		pending := p.BeginSubmit(m.ctx, text)
		if pending == nil {
			return m, m.withFlash(before)
		}
		return m, waitSummary(m.ctx, pending)
	}

	if p.ActiveTab != popup.TabText {
		return m, nil
	}
	switch msg.Type {
	case tea.KeyBackspace:
		if n := len(m.textInput); n > 0 {
			m.textInput = m.textInput[:n-1]
		}
	case tea.KeyCtrlU:
		m.textInput = nil
	case tea.KeyCtrlJ:
		m.textInput = append(m.textInput, '\n')
	case tea.KeyRunes, tea.KeySpace:
		m.textInput = append(m.textInput, msg.Runes...)
	}
	return m, nil
}

// --- View ---

var (
	titleStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("62")).Padding(0, 1)
	dimStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
	successStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("34"))
	errorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("160"))
)

func (m Model) contentWidth() int {
	w := m.width - 4
	if w < 40 {
		w = 76
	}
	return w
}

func (m Model) status() string {
	if m.connected == nil {
		return "offline"
	}
	if m.connected() {
		return "Live ● connected"
	}
	return fmt.Sprintf("Live ○ waiting on :%d", m.port)
}

func (m Model) View() string {
	p := m.popup
	title := titleStyle.Render("🤖 AI Summarizer")

	var body string
	var help string
	switch p.Screen {
	case popup.ScreenInit:
		return "\n  Loading settings...\n"
	case popup.ScreenAPISetup:
		body = m.viewSetup()
		help = "enter save · esc quit"
	case popup.ScreenMain:
		body = renderNavbar(p.ActiveTab, p.Compression(p.ActiveTab), m.status(), m.contentWidth()) + "\n\n" + m.viewMain()
		help = "tab switch · ctrl+r level · enter summarize · ctrl+k change key · esc quit"
		if p.ActiveTab == popup.TabSelected {
			help = "ctrl+g get selection · " + help
		} else {
			help = "ctrl+j newline · ctrl+u clear · " + help
		}
	}

	parts := []string{title, "", body}
	if f := p.Flash; f.Visible() {
		style := errorStyle
		if f.Kind == popup.FlashSuccess {
			style = successStyle
		}
		parts = append(parts, "", " "+style.Render(f.Text))
	}
	parts = append(parts, "", dimStyle.Padding(0, 1).Render(help))

	return lipgloss.JoinVertical(lipgloss.Left, parts...)
}

func (m Model) viewSetup() string {
	masked := strings.Repeat("•", len(m.keyInput))
	box := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("62")).
		Width(m.contentWidth()).
		Render(masked + "█")
	return " Enter your Gemini API key:\n" + box
}

func (m Model) viewMain() string {
	p := m.popup
	w := m.contentWidth()

	var input string
	if p.ActiveTab == popup.TabText {
		input = string(m.textInput) + "█"
	} else if p.Selected != "" {
		input = p.Selected
	} else {
		input = dimStyle.Render("Select text on the page, then press ctrl+g.")
	}
	inputBox := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("240")).
		Width(w).
		MaxHeight(12).
		Render(input)

	out := inputBox
	switch {
	case p.Loading:
		out += "\n\n " + dimStyle.Render("⏳ Generating summary...")
	case p.HasResult:
		result := lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("62")).
			Width(w).
			Render(p.Result)
		out += "\n\n " + titleStyle.UnsetPadding().Render("Summary") + "\n" + result
	}
	return out
}
