package cli

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/progress"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"canary-convert/internal/model"
	"canary-convert/internal/monitor"
	"canary-convert/internal/scheduler"
)

var (
	tuiTitleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("212"))
	tuiMutedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	tuiErrorStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("203")).Bold(true)
	tuiOKStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("42")).Bold(true)
	tuiWarnStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	tuiPanelStyle = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
)

type tuiKeys struct {
	Pause  key.Binding
	Resume key.Binding
	Cancel key.Binding
}

var defaultTUIKeys = tuiKeys{
	Pause:  key.NewBinding(key.WithKeys("p"), key.WithHelp("p", "pause all")),
	Resume: key.NewBinding(key.WithKeys("r"), key.WithHelp("r", "resume all")),
	Cancel: key.NewBinding(key.WithKeys("c", "ctrl+c"), key.WithHelp("c", "cancel")),
}

type tuiTickMsg time.Time

type tuiDoneMsg struct{}

type tuiModel struct {
	tracker *monitor.Tracker
	sched   *scheduler.Scheduler
	refresh time.Duration
	keys    tuiKeys

	view    monitor.View
	overall progress.Model
	perJob  progress.Model
	width   int

	paused     bool
	cancelling bool
	status     string
}

func newTUIModel(tr *monitor.Tracker, sched *scheduler.Scheduler, refresh time.Duration) tuiModel {
	return tuiModel{
		tracker: tr,
		sched:   sched,
		refresh: refresh,
		keys:    defaultTUIKeys,
		view:    tr.View(),
		overall: progress.New(progress.WithDefaultGradient(), progress.WithWidth(60)),
		perJob:  progress.New(progress.WithSolidFill("62"), progress.WithWidth(24), progress.WithoutPercentage()),
	}
}

func runTUI(tr *monitor.Tracker, sched *scheduler.Scheduler, refresh time.Duration) error {
	p := tea.NewProgram(newTUIModel(tr, sched, refresh))
	if _, err := p.Run(); err != nil {
		return fmt.Errorf("live view: %w", err)
	}
	return nil
}

func (m tuiModel) tick() tea.Cmd {
	return tea.Tick(m.refresh, func(t time.Time) tea.Msg { return tuiTickMsg(t) })
}

func waitDoneCmd(tr *monitor.Tracker) tea.Cmd {
	return func() tea.Msg {
		<-tr.Done()
		return tuiDoneMsg{}
	}
}

func (m tuiModel) Init() tea.Cmd {
	return tea.Batch(m.tick(), waitDoneCmd(m.tracker))
}

func (m tuiModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.overall.Width = max(min(msg.Width-4, 80), 10)
		return m, nil
	case tuiTickMsg:
		m.view = m.tracker.View()
		return m, m.tick()
	case tuiDoneMsg:
		m.view = m.tracker.View()
		return m, tea.Quit
	case tea.KeyMsg:
		return m.handleKey(msg)
	}
	return m, nil
}

func (m tuiModel) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if m.cancelling {
		return m, nil
	}
	switch {
	case key.Matches(msg, m.keys.Cancel):
		m.cancelling = true
		m.status = "cancelling, waiting for workers to stop..."
		m.sched.Cancel()
	case key.Matches(msg, m.keys.Pause) && !m.paused:
		if err := m.tracker.PauseAll(); err != nil {
			m.status = "pause: " + err.Error()
			return m, nil
		}
		m.paused = true
		m.status = "paused"
	case key.Matches(msg, m.keys.Resume) && m.paused:
		if err := m.tracker.ResumeAll(); err != nil {
			m.status = "resume: " + err.Error()
			return m, nil
		}
		m.paused = false
		m.status = "resumed"
	}
	return m, nil
}

func (m tuiModel) View() string {
	v := m.view
	var b strings.Builder

	b.WriteString(tuiTitleStyle.Render("canary-convert"))
	b.WriteString("\n\n")
	b.WriteString(m.overall.ViewAs(v.Percent() / 100))
	b.WriteString("\n")
	b.WriteString(tuiMutedStyle.Render(statusLine(v)))
	b.WriteString("\n\n")

	active := v.Active()
	if len(active) == 0 {
		b.WriteString(tuiMutedStyle.Render("(no active workers)"))
	} else {
		lines := make([]string, 0, len(active))
		for _, j := range active {
			lines = append(lines, m.jobLine(j))
		}
		b.WriteString(tuiPanelStyle.Render(strings.Join(lines, "\n")))
	}
	b.WriteString("\n")

	for _, e := range v.Recent {
		style := tuiWarnStyle
		if strings.HasPrefix(e, "error") {
			style = tuiErrorStyle
		}
		b.WriteString(style.Render(e))
		b.WriteString("\n")
	}

	if v.Result != nil {
		b.WriteString(tuiOKStyle.Render(fmt.Sprintf("done: %d finished, %d errors, %d cancelled",
			v.Counts[model.StateFinished], v.Counts[model.StateError], v.Counts[model.StateCancelled])))
		b.WriteString("\n")
	} else if m.status != "" {
		b.WriteString(m.status)
		b.WriteString("\n")
	}
	help := []string{}
	for _, k := range []key.Binding{m.keys.Pause, m.keys.Resume, m.keys.Cancel} {
		h := k.Help()
		help = append(help, h.Key+" "+h.Desc)
	}
	b.WriteString(tuiMutedStyle.Render(strings.Join(help, " • ")))
	b.WriteString("\n")
	return b.String()
}

func (m tuiModel) jobLine(j monitor.JobView) string {
	s := j.Snapshot
	name := j.Job.Filename()
	if len(name) > 28 {
		name = name[:25] + "..."
	}
	line := fmt.Sprintf("%-28s %-9s %s %5.1f%% %s", name, s.State, m.perJob.ViewAs(s.Percent()/100), s.Percent(), monitor.FormatBytes(s.BytesDone))
	if j.Warnings > 0 {
		line += tuiWarnStyle.Render(fmt.Sprintf("  %d warnings", j.Warnings))
	}
	return line
}
