package ui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/progress"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/wdatlassian/twisted-gears/internal/gearman"
	"github.com/wdatlassian/twisted-gears/internal/protocol"
)

// JobUpdateMsg carries one job notification to a JobModel
type JobUpdateMsg gearman.Update

// jobDoneMsg reports that the updates channel closed
type jobDoneMsg struct{}

// JobModel follows a foreground job with a progress bar
type JobModel struct {
	handle   string
	function string
	bar      progress.Model

	percent   float64
	last      *gearman.Update
	data      [][]byte
	warnings  [][]byte
	finished  bool
	completed bool
}

// NewJobModel creates a progress view for a submitted job
func NewJobModel(handle, function string) JobModel {
	bar := progress.New(progress.WithDefaultGradient())
	bar.Width = MinTerminalWidth - 10
	return JobModel{
		handle:   handle,
		function: function,
		bar:      bar,
	}
}

func (m JobModel) Init() tea.Cmd {
	return nil
}

func (m JobModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if msg.String() == "ctrl+c" || msg.String() == "q" {
			return m, tea.Quit
		}

	case tea.WindowSizeMsg:
		m.bar.Width = clampWidth(msg.Width) - 10

	case JobUpdateMsg:
		u := gearman.Update(msg)
		m.last = &u
		switch u.Command {
		case protocol.WorkStatus:
			if u.Denominator > 0 {
				m.percent = float64(u.Numerator) / float64(u.Denominator)
				if m.percent > 1 {
					m.percent = 1
				}
			}
		case protocol.WorkData:
			m.data = append(m.data, u.Data)
		case protocol.WorkWarning:
			m.warnings = append(m.warnings, u.Data)
		case protocol.WorkComplete:
			m.percent = 1
			m.completed = true
			m.finished = true
			return m, tea.Quit
		case protocol.WorkFail, protocol.WorkException:
			m.finished = true
			return m, tea.Quit
		}

	case jobDoneMsg:
		m.finished = true
		return m, tea.Quit
	}
	return m, nil
}

// Percent returns the last reported progress in [0, 1]
func (m JobModel) Percent() float64 {
	return m.percent
}

// Finished reports whether the job reached a final notification
func (m JobModel) Finished() bool {
	return m.finished
}

// Completed reports whether the job sent WORK_COMPLETE
func (m JobModel) Completed() bool {
	return m.completed
}

func (m JobModel) View() string {
	var b strings.Builder
	b.WriteString(fmt.Sprintf("  %s %s\n\n", HeaderTitleStyle.Render(m.function), TimestampStyle.Render(m.handle)))
	b.WriteString("  " + m.bar.ViewAs(m.percent) + "\n")
	if m.last != nil && m.last.Command == protocol.WorkStatus {
		b.WriteString(TimestampStyle.Render(fmt.Sprintf("  %d / %d", m.last.Numerator, m.last.Denominator)) + "\n")
	}
	for _, w := range m.warnings {
		b.WriteString("  " + WarningStyle.Render("warning: "+FormatPayload(w)) + "\n")
	}
	if n := len(m.data); n > 0 {
		b.WriteString(TimestampStyle.Render(fmt.Sprintf("  %d data chunks received", n)) + "\n")
	}
	return b.String()
}

// WaitJobUpdate returns a command that reads the next job notification
func WaitJobUpdate(updates <-chan gearman.Update) tea.Cmd {
	return func() tea.Msg {
		u, ok := <-updates
		if !ok {
			return jobDoneMsg{}
		}
		return JobUpdateMsg(u)
	}
}

// RunJobProgress shows a progress bar until the job's update stream ends.
// It reports false when the user quit before the job finished.
func RunJobProgress(job *gearman.Job, function string) (bool, error) {
	p := tea.NewProgram(NewJobModel(job.Handle, function))

	go func() {
		next := WaitJobUpdate(job.Updates())
		for {
			msg := next()
			p.Send(msg)
			if _, done := msg.(jobDoneMsg); done {
				return
			}
		}
	}()

	final, err := p.Run()
	if err != nil {
		return false, fmt.Errorf("progress view failed: %w", err)
	}
	m, ok := final.(JobModel)
	return ok && m.Finished(), nil
}
