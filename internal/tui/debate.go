// Package tui renders a live debate in the terminal: one status line per
// seat, a scrolling transcript and the synthesis as it streams.
package tui

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"conclave/internal/chat"
	"conclave/internal/debate"
	"conclave/internal/gateway"
	"conclave/internal/stream"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

var (
	titleStyle = lipgloss.NewStyle().
			Background(lipgloss.Color("62")).
			Foreground(lipgloss.Color("230")).
			Padding(0, 1).
			Bold(true)
	topicStyle   = lipgloss.NewStyle().Italic(true)
	helpStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	noticeStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	errorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Bold(true)
	turnStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("205"))
	synthStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("42"))
	windowStyle  = lipgloss.NewStyle().Border(lipgloss.NormalBorder()).BorderForeground(lipgloss.Color("62"))
	statusStyles = map[SeatStatus]lipgloss.Style{
		StatusIdle:        lipgloss.NewStyle().Foreground(lipgloss.Color("241")),
		StatusResponding:  lipgloss.NewStyle().Foreground(lipgloss.Color("205")),
		StatusDone:        lipgloss.NewStyle().Foreground(lipgloss.Color("42")),
		StatusUnavailable: lipgloss.NewStyle().Foreground(lipgloss.Color("9")),
	}
)

// SeatStatus is where one debater currently stands.
type SeatStatus int

const (
	StatusIdle SeatStatus = iota
	StatusResponding
	StatusDone
	StatusUnavailable
)

func (s SeatStatus) String() string {
	switch s {
	case StatusIdle:
		return "waiting"
	case StatusResponding:
		return "responding"
	case StatusDone:
		return "done"
	case StatusUnavailable:
		return "unavailable"
	default:
		return "unknown"
	}
}

type seat struct {
	model  string
	status SeatStatus
}

type eventMsg struct{ ev stream.Event }

type finishedMsg struct{ err error }

// DebateModel is the bubbletea model of a running debate. It only renders
// the events it is given; it never calls providers itself.
type DebateModel struct {
	topic       string
	seats       []seat
	synthesizer string
	phase       string
	current     string
	transcript  *strings.Builder
	notices     []string

	events <-chan stream.Event
	wait   func() error

	spinner  spinner.Model
	viewport viewport.Model
	ready    bool
	done     bool
	err      error
	quitting bool
	width    int
	height   int
}

// NewDebateModel shows events read from events. Once events is closed, wait
// (if set) reports the debate's outcome.
func NewDebateModel(events <-chan stream.Event, wait func() error) DebateModel {
	return DebateModel{
		events:     events,
		wait:       wait,
		transcript: &strings.Builder{},
		spinner:    spinner.New(spinner.WithSpinner(spinner.Dot), spinner.WithStyle(turnStyle)),
	}
}

func (m DebateModel) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, m.listen())
}

// listen waits for the next event, or the outcome once the stream ends.
func (m DebateModel) listen() tea.Cmd {
	return func() tea.Msg {
		ev, ok := <-m.events
		if ok {
			return eventMsg{ev}
		}
		if m.wait == nil {
			return finishedMsg{}
		}
		return finishedMsg{m.wait()}
	}
}

func (m DebateModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q", "esc":
			m.quitting = true
			return m, tea.Quit
		}

	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		h := max(msg.Height-len(m.seats)-8, 3)
		if !m.ready {
			m.viewport = viewport.New(msg.Width-2, h)
			m.ready = true
		} else {
			m.viewport.Width, m.viewport.Height = msg.Width-2, h
		}
		m.refresh()

	case eventMsg:
		m.apply(msg.ev)
		m.refresh()
		cmds = append(cmds, m.listen())

	case finishedMsg:
		m.done = true
		m.err = msg.err

	case spinner.TickMsg:
		if m.done {
			break
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		cmds = append(cmds, cmd)
	}

	if m.ready {
		var cmd tea.Cmd
		m.viewport, cmd = m.viewport.Update(msg)
		cmds = append(cmds, cmd)
	}
	return m, tea.Batch(cmds...)
}

// apply folds one debate event into the model.
func (m *DebateModel) apply(ev stream.Event) {
	switch ev := ev.(type) {
	case stream.DebateStart:
		m.topic = ev.Topic
		m.synthesizer = ev.Synthesizer
		m.seats = m.seats[:0]
		for _, model := range ev.Models {
			m.seats = append(m.seats, seat{model: model})
		}
	case stream.DebateTurnStart:
		m.phase, m.current = ev.Phase, ev.Model
		m.setStatus(ev.Model, StatusResponding)
		fmt.Fprintf(m.transcript, "\n%s\n", turnStyle.Render(ev.Model+" · "+ev.Phase))
	case stream.DebateTurnDelta:
		if ev.Content == debate.Unavailable {
			m.setStatus(ev.Model, StatusUnavailable)
			m.transcript.WriteString(errorStyle.Render(ev.Content))
			return
		}
		m.transcript.WriteString(ev.Content)
	case stream.DebateTurnEnd:
		if m.status(ev.Model) == StatusResponding {
			m.setStatus(ev.Model, StatusDone)
		}
		m.current = ""
		m.transcript.WriteString("\n")
	case stream.DebateSynthesisStart:
		m.phase, m.current = debate.PhaseSynthesis, ev.Model
		fmt.Fprintf(m.transcript, "\n%s\n", synthStyle.Render("synthesis · "+ev.Model))
	case stream.Delta:
		m.transcript.WriteString(ev.Content)
	case stream.Rerouting:
		m.notices = append(m.notices, fmt.Sprintf("↪ %s unavailable, answering with %s", ev.From, ev.To))
	case stream.Error:
		m.notices = append(m.notices, "error: "+ev.Code)
	case stream.Done:
		m.current = ""
		m.phase = ""
	}
}

func (m *DebateModel) setStatus(model string, s SeatStatus) {
	for i := range m.seats {
		if m.seats[i].model == model {
			m.seats[i].status = s
		}
	}
}

func (m DebateModel) status(model string) SeatStatus {
	for _, s := range m.seats {
		if s.model == model {
			return s.status
		}
	}
	return StatusIdle
}

func (m *DebateModel) refresh() {
	if !m.ready {
		return
	}
	follow := m.viewport.AtBottom()
	m.viewport.SetContent(lipgloss.NewStyle().Width(m.viewport.Width).Render(m.transcript.String()))
	if follow {
		m.viewport.GotoBottom()
	}
}

func (m DebateModel) View() string {
	if m.quitting {
		return ""
	}
	if !m.ready {
		return m.spinner.View() + " convening the debate..."
	}

	var b strings.Builder
	b.WriteString(titleStyle.Render("conclave debate"))
	if m.topic != "" {
		b.WriteString(" " + topicStyle.Render(m.topic))
	}
	b.WriteString("\n\n")

	for _, s := range m.seats {
		marker := " "
		if s.model == m.current {
			marker = m.spinner.View()
		}
		fmt.Fprintf(&b, "%s %-32s %s\n", marker, s.model, statusStyles[s.status].Render(s.status.String()))
	}
	if m.synthesizer != "" {
		marker := " "
		if m.current == m.synthesizer {
			marker = m.spinner.View()
		}
		fmt.Fprintf(&b, "%s %-32s %s\n", marker, m.synthesizer, helpStyle.Render("synthesizer"))
	}

	b.WriteString(windowStyle.Render(m.viewport.View()))
	b.WriteString("\n")

	if n := len(m.notices); n > 0 {
		b.WriteString(noticeStyle.Render(m.notices[n-1]) + "\n")
	}
	switch {
	case m.err != nil:
		b.WriteString(errorStyle.Render("debate failed: "+m.err.Error()) + "\n")
	case m.done:
		b.WriteString(helpStyle.Render("debate complete • q: quit • ↑/↓: scroll") + "\n")
	default:
		b.WriteString(helpStyle.Render(fmt.Sprintf("%s • q: quit • ↑/↓: scroll", m.phase)) + "\n")
	}
	return b.String()
}

// channelSink hands events to the UI goroutine, giving up when ctx ends.
type channelSink struct {
	ctx context.Context
	ch  chan<- stream.Event
}

func (s channelSink) Emit(ev stream.Event) error {
	select {
	case s.ch <- ev:
		return nil
	case <-s.ctx.Done():
		return context.Cause(s.ctx)
	}
}

// RunDebate runs a debate on topic under a full-screen viewer. Quitting the
// viewer cancels the debate.
func RunDebate(ctx context.Context, debater gateway.Debater, topic string, opts ...tea.ProgramOption) (debate.Summary, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	events := make(chan stream.Event, 64)
	finished := make(chan struct{})
	var (
		sum    debate.Summary
		runErr error
	)
	go func() {
		defer close(finished)
		defer close(events)
		sum, runErr = debater.Run(ctx, []chat.Message{chat.User(topic)}, channelSink{ctx: ctx, ch: events})
	}()
	wait := func() error {
		<-finished
		return runErr
	}

	opts = append([]tea.ProgramOption{tea.WithAltScreen(), tea.WithContext(ctx)}, opts...)
	_, err := tea.NewProgram(NewDebateModel(events, wait), opts...).Run()
	// Quitting early leaves the debate running; stop it before reporting.
	cancel()
	if werr := wait(); werr != nil {
		return sum, werr
	}
	if err != nil && !errors.Is(err, tea.ErrProgramKilled) {
		return sum, err
	}
	return sum, nil
}
