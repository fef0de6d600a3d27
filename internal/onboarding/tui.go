package onboarding

import (
	"errors"
	"fmt"
	"strings"

	"conclave/internal/config"

	"github.com/charmbracelet/bubbles/list"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// ErrAborted is returned when the user quits the form before finishing.
var ErrAborted = errors.New("setup aborted")

// --- Styles ---

var (
	focusedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("205"))
	helpStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	titleStyle   = lipgloss.NewStyle().
			Background(lipgloss.Color("62")).
			Foreground(lipgloss.Color("230")).
			Padding(0, 1).
			Bold(true)

	docStyle = lipgloss.NewStyle().Padding(1, 2)

	activeTabStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("205")).
			Border(lipgloss.NormalBorder(), false, false, true, false).
			BorderForeground(lipgloss.Color("205")).
			Padding(0, 1)

	inactiveTabStyle = lipgloss.NewStyle().
				Padding(0, 1)

	windowStyle = lipgloss.NewStyle().
			Border(lipgloss.NormalBorder()).
			BorderForeground(lipgloss.Color("62")).
			Padding(1)
)

// --- Types ---

type state int

const (
	stateModel state = iota
	stateKeys
	stateMiddlewares
	stateDone
)

type item struct {
	title, desc string
}

func (i item) Title() string       { return i.title }
func (i item) Description() string { return i.desc }
func (i item) FilterValue() string { return i.title }

// TUIModel is the full-screen form behind `conclave init`.
type TUIModel struct {
	state        state
	defaultModel string
	keyNames     []string
	keys         map[string]string
	keyIndex     int
	middlewares  []MiddlewareSetting

	list     list.Model
	input    textinput.Model
	quitting bool
	width    int
	height   int

	cursor int // for middleware list
}

// --- Initial Model ---

func NewTUIModel(cfg *config.Config) TUIModel {
	items := make([]list.Item, 0, len(cfg.Models))
	selected := 0
	for i, m := range cfg.Models {
		desc := fmt.Sprintf("%s via %s", m.ID, m.Vendor)
		if m.ID == cfg.DefaultModel {
			desc += " (current default)"
			selected = i
		}
		items = append(items, item{title: m.ID, desc: desc})
	}

	l := list.New(items, list.NewDefaultDelegate(), 0, 0)
	l.Title = "Select Default Model"
	l.SetShowHelp(false)
	l.Select(selected)

	ti := textinput.New()
	ti.EchoMode = textinput.EchoPassword
	ti.Placeholder = "leave empty to skip"
	ti.Focus()

	m := TUIModel{
		state:        stateModel,
		defaultModel: cfg.DefaultModel,
		keyNames:     CredentialKeys(cfg),
		keys:         map[string]string{},
		middlewares:  middlewareSettings(cfg),
		list:         l,
		input:        ti,
	}
	m.promptKey()
	return m
}

func (m *TUIModel) promptKey() {
	if m.keyIndex < len(m.keyNames) {
		m.input.Prompt = m.keyNames[m.keyIndex] + ": "
	}
	m.input.SetValue("")
}

// Setup returns what the form gathered so far.
func (m TUIModel) Setup() Setup {
	return Setup{DefaultModel: m.defaultModel, Keys: m.keys, Middlewares: m.middlewares}
}

func (m TUIModel) Init() tea.Cmd {
	return textinput.Blink
}

func (m TUIModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "esc":
			m.quitting = true
			return m, tea.Quit
		case "q":
			if m.state != stateKeys {
				m.quitting = true
				return m, tea.Quit
			}
		}

	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		m.list.SetSize(msg.Width-10, msg.Height-15)
	}

	var cmd tea.Cmd

	switch m.state {
	case stateModel:
		m.list, cmd = m.list.Update(msg)
		if keyMsg, ok := msg.(tea.KeyMsg); ok && keyMsg.String() == "enter" {
			if i, ok := m.list.SelectedItem().(item); ok {
				m.defaultModel = i.title
				m.state = stateKeys
				if len(m.keyNames) == 0 {
					m.state = stateMiddlewares
				}
			}
		}

	case stateKeys:
		m.input, cmd = m.input.Update(msg)
		if keyMsg, ok := msg.(tea.KeyMsg); ok && keyMsg.String() == "enter" {
			m.keys[m.keyNames[m.keyIndex]] = strings.TrimSpace(m.input.Value())
			m.keyIndex++
			m.promptKey()
			if m.keyIndex >= len(m.keyNames) {
				m.state = stateMiddlewares
			}
		}

	case stateMiddlewares:
		if keyMsg, ok := msg.(tea.KeyMsg); ok {
			switch keyMsg.String() {
			case "up", "k":
				if m.cursor > 0 {
					m.cursor--
				}
			case "down", "j":
				if m.cursor < len(m.middlewares)-1 {
					m.cursor++
				}
			case " ":
				if len(m.middlewares) > 0 {
					m.middlewares[m.cursor].Enabled = !m.middlewares[m.cursor].Enabled
				}
			case "enter":
				m.state = stateDone
				return m, tea.Quit
			}
		}
	}

	return m, cmd
}

func (m TUIModel) View() string {
	if m.quitting {
		return ""
	}

	var s strings.Builder
	s.WriteString(titleStyle.Render(" conclave setup "))
	s.WriteString("\n\n")

	tabs := []string{"Model", "API Keys", "Middlewares", "Finish"}
	var renderedTabs []string
	for i, t := range tabs {
		if i == int(m.state) {
			renderedTabs = append(renderedTabs, activeTabStyle.Render(t))
		} else {
			renderedTabs = append(renderedTabs, inactiveTabStyle.Render(t))
		}
	}
	s.WriteString(lipgloss.JoinHorizontal(lipgloss.Top, renderedTabs...))
	s.WriteString("\n\n")

	var content string
	switch m.state {
	case stateModel:
		content = m.list.View()
	case stateKeys:
		content = fmt.Sprintf("Key %d of %d\n\n%s\n\n%s",
			m.keyIndex+1, len(m.keyNames), m.input.View(),
			helpStyle.Render("Press enter to continue; keys are written to .env"))
	case stateMiddlewares:
		var mwView strings.Builder
		mwView.WriteString("Toggle middlewares with [SPACE], Press [ENTER] to finish.\n\n")
		for i, mw := range m.middlewares {
			cursor := " "
			if m.cursor == i {
				cursor = ">"
			}
			checked := " "
			if mw.Enabled {
				checked = "x"
			}
			line := fmt.Sprintf("%s [%s] %s", cursor, checked, mw.ID)
			if m.cursor == i {
				mwView.WriteString(focusedStyle.Render(line) + "\n")
			} else {
				mwView.WriteString(line + "\n")
			}
		}
		content = mwView.String()
	case stateDone:
		content = "\nSaving configuration..."
	}

	s.WriteString(windowStyle.Width(max(m.width-10, 20)).Height(max(m.height-15, 5)).Render(content))

	if m.state != stateDone {
		s.WriteString("\n\n" + helpStyle.Render("esc/ctrl+c: quit • ↑/↓: navigate • enter: select"))
	}

	return docStyle.Render(s.String())
}

// --- Runner ---

// RunTUI shows the form and returns the gathered setup. Quitting early
// returns ErrAborted.
func RunTUI(cfg *config.Config, opts ...tea.ProgramOption) (Setup, error) {
	opts = append([]tea.ProgramOption{tea.WithAltScreen()}, opts...)
	final, err := tea.NewProgram(NewTUIModel(cfg), opts...).Run()
	if err != nil {
		return Setup{}, err
	}
	m, ok := final.(TUIModel)
	if !ok || m.state != stateDone {
		return Setup{}, ErrAborted
	}
	return m.Setup(), nil
}
