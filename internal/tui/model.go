package tui

import (
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/aristath/jobqueue/internal/config"
	"github.com/aristath/jobqueue/internal/events"
	"github.com/aristath/jobqueue/internal/scheduler"
)

// PaneID identifies which pane is focused.
type PaneID int

const (
	PaneQueues PaneID = iota
	PaneTasks
	paneCount
)

// statsInterval is how often queue snapshots are refreshed.
const statsInterval = 250 * time.Millisecond

// StatsFunc returns a snapshot of the scheduler's queues.
type StatsFunc func() []scheduler.QueueStats

// busClosedMsg is delivered once the event bus has been closed.
type busClosedMsg struct{}

// Model is the root Bubble Tea model for the TUI.
type Model struct {
	queuePane         QueuePaneModel
	taskPane          TaskPaneModel
	settingsPane      SettingsPaneModel
	focusedPane       PaneID
	eventSub          <-chan events.Event
	stats             StatsFunc
	width             int
	height            int
	quitting          bool
	busClosed         bool
	showSettings      bool
	config            *config.Config
	globalConfigPath  string
	projectConfigPath string
}

// New creates a new TUI model.
// It subscribes to all events from the event bus using SubscribeAll and
// polls stats for queue snapshots when stats is non-nil.
func New(eventBus *events.EventBus, stats StatsFunc, cfg *config.Config, globalPath, projectPath string) Model {
	return Model{
		queuePane:         NewQueuePaneModel(),
		taskPane:          NewTaskPaneModel(),
		settingsPane:      NewSettingsPaneModel(cfg, globalPath, projectPath),
		focusedPane:       PaneQueues,
		eventSub:          eventBus.SubscribeAll(1024),
		stats:             stats,
		config:            cfg,
		globalConfigPath:  globalPath,
		projectConfigPath: projectPath,
	}
}

// Init initializes the model and returns the initial command.
func (m Model) Init() tea.Cmd {
	return tea.Batch(waitForEvent(m.eventSub), pollStats(m.stats, 0))
}

// waitForEvent returns a command that waits for the next event from the event bus.
func waitForEvent(sub <-chan events.Event) tea.Cmd {
	return func() tea.Msg {
		event, ok := <-sub
		if !ok {
			return busClosedMsg{}
		}
		return event
	}
}

// pollStats returns a command that takes a snapshot after delay.
func pollStats(stats StatsFunc, delay time.Duration) tea.Cmd {
	if stats == nil {
		return nil
	}
	if delay <= 0 {
		return func() tea.Msg { return statsMsg(stats()) }
	}
	return tea.Tick(delay, func(time.Time) tea.Msg {
		return statsMsg(stats())
	})
}

// Update handles messages and updates the model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		// If settings panel is open, route all keys to it (modal behavior)
		if m.showSettings {
			if msg.String() == KeyEsc {
				m.showSettings = false
				m.settingsPane.SetVisible(false)
				return m, nil
			}

			var cmd tea.Cmd
			m.settingsPane, cmd = m.settingsPane.Update(msg)
			cmds = append(cmds, cmd)

			// The pane hides itself after a successful save.
			if !m.settingsPane.IsVisible() {
				m.showSettings = false
			}
			return m, tea.Batch(cmds...)
		}

		switch msg.String() {
		case KeyQuit, KeyCtrlC:
			m.quitting = true
			return m, tea.Quit

		case KeySettings:
			m.showSettings = true
			m.settingsPane.SetVisible(true)
			cmds = append(cmds, m.settingsPane.Init())

		case KeyTab:
			m.focusedPane = (m.focusedPane + 1) % paneCount
			m.updateFocusStates()

		case KeyShiftTab:
			m.focusedPane = (m.focusedPane + paneCount - 1) % paneCount
			m.updateFocusStates()

		case KeyPane1:
			m.focusedPane = PaneQueues
			m.updateFocusStates()

		case KeyPane2:
			m.focusedPane = PaneTasks
			m.updateFocusStates()

		default:
			if m.focusedPane == PaneTasks {
				var cmd tea.Cmd
				m.taskPane, cmd = m.taskPane.Update(msg)
				cmds = append(cmds, cmd)
			}
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.computeLayout()
		m.settingsPane.SetSize(msg.Width, msg.Height)

	case statsMsg:
		m.queuePane, _ = m.queuePane.Update(msg)
		cmds = append(cmds, pollStats(m.stats, statsInterval))

	case tickMsg:
		var cmd tea.Cmd
		m.taskPane, cmd = m.taskPane.Update(msg)
		cmds = append(cmds, cmd)

	case events.TaskStartedEvent, events.TaskRequeuedEvent:
		var cmd tea.Cmd
		m.taskPane, cmd = m.taskPane.Update(msg)
		cmds = append(cmds, cmd, waitForEvent(m.eventSub))

	case events.TaskCompletedEvent, events.TaskFailedEvent:
		// Both panes track outcomes.
		var cmd tea.Cmd
		m.taskPane, cmd = m.taskPane.Update(msg)
		m.queuePane, _ = m.queuePane.Update(msg)
		cmds = append(cmds, cmd, waitForEvent(m.eventSub))

	case events.FrameProgressEvent, events.SchedulerStoppedEvent:
		m.queuePane, _ = m.queuePane.Update(msg)
		cmds = append(cmds, waitForEvent(m.eventSub))

	case busClosedMsg:
		m.busClosed = true
	}

	return m, tea.Batch(cmds...)
}

// View renders the TUI.
func (m Model) View() string {
	if m.quitting {
		return "Goodbye!\n"
	}

	if m.width == 0 || m.height == 0 {
		return "Initializing..."
	}

	if m.showSettings {
		return m.settingsPane.View()
	}

	// Queues on the left, tasks on the right.
	mainContent := lipgloss.JoinHorizontal(lipgloss.Top, m.queuePane.View(), m.taskPane.View())

	help := HelpView()
	if m.busClosed {
		help = StyleStatusFailed.Render("scheduler stopped") + "  " + help
	}

	return lipgloss.JoinVertical(lipgloss.Left, mainContent, help)
}

// computeLayout calculates pane dimensions and updates all child models.
func (m *Model) computeLayout() {
	leftWidth := (m.width * 45) / 100
	rightWidth := m.width - leftWidth
	availableHeight := m.height - 1 // reserve 1 line for help bar

	m.queuePane.SetSize(leftWidth, availableHeight)
	m.taskPane.SetSize(rightWidth, availableHeight)

	m.updateFocusStates()
}

// updateFocusStates updates the focus state of all panes.
func (m *Model) updateFocusStates() {
	m.queuePane.SetFocused(m.focusedPane == PaneQueues)
	m.taskPane.SetFocused(m.focusedPane == PaneTasks)
}
