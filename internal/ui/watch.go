package ui

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/wdatlassian/twisted-gears/internal/protocol"
)

// DefaultWatchHistory is how many notifications the watch view keeps
const DefaultWatchHistory = 20

// NotificationMsg delivers one unsolicited frame to a WatchModel
type NotificationMsg Notification

// ConnectionLostMsg tells a WatchModel the connection is gone
type ConnectionLostMsg struct {
	Err error
}

// watchKeyMap defines key bindings for the watch screen
type watchKeyMap struct {
	Clear key.Binding
	Quit  key.Binding
}

// ShortHelp returns keybindings to be shown in the mini help view
func (k watchKeyMap) ShortHelp() []key.Binding {
	return []key.Binding{k.Clear, k.Quit}
}

// FullHelp returns keybindings for the expanded help view
func (k watchKeyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{{k.Clear, k.Quit}}
}

var defaultWatchKeys = watchKeyMap{
	Clear: key.NewBinding(
		key.WithKeys("c"),
		key.WithHelp("c", "clear"),
	),
	Quit: key.NewBinding(
		key.WithKeys("q", "ctrl+c", "esc"),
		key.WithHelp("q", "quit"),
	),
}

// WatchModel is the bubbletea model behind "gearctl watch". It shows the
// most recent notifications and a count per command.
type WatchModel struct {
	server  string
	spinner spinner.Model
	help    help.Model
	keys    watchKeyMap

	history int
	recent  []Notification
	counts  map[protocol.Command]int
	total   int

	lost     bool
	err      error
	quitting bool
	width    int
}

// NewWatchModel creates a watch view for the given server address
func NewWatchModel(server string) WatchModel {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = SpinnerStyle

	return WatchModel{
		server:  server,
		spinner: s,
		help:    help.New(),
		keys:    defaultWatchKeys,
		history: DefaultWatchHistory,
		counts:  make(map[protocol.Command]int),
		width:   MinTerminalWidth,
	}
}

// Init starts the spinner
func (m WatchModel) Init() tea.Cmd {
	return m.spinner.Tick
}

// Update handles notifications, key presses and resizes
func (m WatchModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch {
		case key.Matches(msg, m.keys.Quit):
			m.quitting = true
			return m, tea.Quit
		case key.Matches(msg, m.keys.Clear):
			m.recent = nil
			m.counts = make(map[protocol.Command]int)
			m.total = 0
		}
		return m, nil

	case tea.WindowSizeMsg:
		m.width = clampWidth(msg.Width)
		m.help.Width = m.width
		return m, nil

	case NotificationMsg:
		m.add(Notification(msg))
		return m, nil

	case ConnectionLostMsg:
		m.lost = true
		m.err = msg.Err
		return m, tea.Quit

	case spinner.TickMsg:
		if m.lost {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m *WatchModel) add(n Notification) {
	m.total++
	m.counts[n.Command]++
	m.recent = append(m.recent, n)
	if len(m.recent) > m.history {
		m.recent = m.recent[len(m.recent)-m.history:]
	}
}

// Total returns the number of notifications seen since the last clear
func (m WatchModel) Total() int {
	return m.total
}

// Count returns how many notifications of cmd were seen
func (m WatchModel) Count(cmd protocol.Command) int {
	return m.counts[cmd]
}

// Recent returns the retained notifications, oldest first
func (m WatchModel) Recent() []Notification {
	return m.recent
}

// Err returns the error that ended the watch, if any
func (m WatchModel) Err() error {
	return m.err
}

// View renders the watch screen
func (m WatchModel) View() string {
	var b strings.Builder

	status := m.spinner.View() + " Watching " + m.server
	if m.lost {
		status = ErrorTitleStyle.Render(FailureMarker + " Connection lost")
		if m.err != nil {
			status += " " + ErrorMessageStyle.Render(m.err.Error())
		}
	}
	b.WriteString("  " + status + "\n\n")

	if len(m.recent) == 0 {
		b.WriteString(HelpStyle.Render("No notifications yet") + "\n")
	}
	for _, n := range m.recent {
		line := TimestampStyle.Render(n.Time.Format("15:04:05.000")) + " " +
			CommandStyle(n.Command).Render(n.Command.String())
		if p := FormatPayload(n.Payload); p != "" {
			line += " " + PayloadStyle.Render(p)
		}
		b.WriteString("  " + line + "\n")
	}

	if m.total > 0 {
		b.WriteString("\n" + RenderHorizontalDivider(m.width-4, "─") + "\n")
		b.WriteString("  " + m.summary() + "\n")
	}

	if !m.quitting && !m.lost {
		b.WriteString("\n" + m.help.View(m.keys) + "\n")
	}
	return b.String()
}

func (m WatchModel) summary() string {
	cmds := make([]protocol.Command, 0, len(m.counts))
	for c := range m.counts {
		cmds = append(cmds, c)
	}
	sort.Slice(cmds, func(i, j int) bool { return cmds[i] < cmds[j] })

	parts := make([]string, 0, len(cmds)+1)
	parts = append(parts, lipgloss.NewStyle().Bold(true).Render(fmt.Sprintf("%d total", m.total)))
	for _, c := range cmds {
		parts = append(parts, fmt.Sprintf("%s %d", c, m.counts[c]))
	}
	return strings.Join(parts, "  ")
}

// WatchNotifications returns a command that waits for the next notification
// on ch. Once ch is closed it reports ConnectionLostMsg with the result of
// errFn.
func WatchNotifications(ch <-chan Notification, errFn func() error) tea.Cmd {
	return func() tea.Msg {
		n, ok := <-ch
		if !ok {
			var err error
			if errFn != nil {
				err = errFn()
			}
			return ConnectionLostMsg{Err: err}
		}
		return NotificationMsg(n)
	}
}

// RunWatch runs the watch view until the user quits or ch closes
func RunWatch(server string, ch <-chan Notification, errFn func() error) error {
	p := tea.NewProgram(NewWatchModel(server))

	go func() {
		next := WatchNotifications(ch, errFn)
		for {
			msg := next()
			p.Send(msg)
			if _, lost := msg.(ConnectionLostMsg); lost {
				return
			}
		}
	}()

	final, err := p.Run()
	if err != nil {
		return fmt.Errorf("watch view failed: %w", err)
	}
	if m, ok := final.(WatchModel); ok {
		return m.Err()
	}
	return nil
}

// Elapsed formats a duration for result boxes
func Elapsed(d time.Duration) string {
	switch {
	case d < time.Millisecond:
		return fmt.Sprintf("%dµs", d.Microseconds())
	case d < time.Second:
		return fmt.Sprintf("%.1fms", float64(d.Microseconds())/1000)
	default:
		return d.Round(time.Millisecond).String()
	}
}
