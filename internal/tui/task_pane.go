package tui

import (
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/bubbles/viewport"
	"github.com/charmbracelet/lipgloss"

	"github.com/aristath/jobqueue/internal/events"
)

const (
	// maxTrackedTasks bounds the task list; the oldest entries are evicted.
	maxTrackedTasks = 200
	// maxHistory bounds the lines kept per task. Reused tasks run every frame.
	maxHistory = 100
)

// Task statuses shown in the list.
const (
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
	StatusWaiting   = "waiting"
)

// TaskState is everything the pane knows about one task.
type TaskState struct {
	TaskID   string
	Name     string
	Queue    string
	Status   string
	Runs     int
	Requeues int
	History  []string
	Duration time.Duration
}

// TaskPaneModel lists recent tasks and shows the selected task's history in
// a scrollable viewport.
type TaskPaneModel struct {
	tasks       map[string]*TaskState // taskID -> state
	taskOrder   []string              // insertion order for display
	selectedIdx int
	viewport    viewport.Model
	width       int
	height      int
	focused     bool
	updateTag   int // for debouncing
}

// NewTaskPaneModel creates a new task pane model.
func NewTaskPaneModel() TaskPaneModel {
	return TaskPaneModel{
		tasks:    make(map[string]*TaskState),
		viewport: viewport.New(0, 0),
	}
}

// tickMsg is used for debouncing viewport updates.
type tickMsg struct {
	tag int
}

// Update handles messages for the task pane.
func (m TaskPaneModel) Update(msg tea.Msg) (TaskPaneModel, tea.Cmd) {
	var cmd tea.Cmd

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.resizeViewport()

	case tea.KeyMsg:
		if !m.focused {
			break
		}

		switch msg.String() {
		case KeyJ, KeyDown:
			if m.selectedIdx < len(m.taskOrder)-1 {
				m.selectedIdx++
				m.updateViewportContent()
			}
		case KeyK, KeyUp:
			if m.selectedIdx > 0 {
				m.selectedIdx--
				m.updateViewportContent()
			}
		default:
			m.viewport, cmd = m.viewport.Update(msg)
		}

	case events.TaskStartedEvent:
		task := m.track(msg.ID, msg.Name, msg.Queue)
		task.Status = StatusRunning
		task.Runs++
		task.addHistory(fmt.Sprintf("%s started on %s (run %d)", stamp(msg.Timestamp), msg.Queue, task.Runs))
		cmd = m.touch(msg.ID)

	case events.TaskRequeuedEvent:
		task := m.track(msg.ID, msg.Name, msg.Queue)
		task.Status = StatusWaiting
		task.Requeues++
		// Requeues repeat until a dependency starts; keep one line per streak.
		line := fmt.Sprintf("waiting on dependencies in %s", msg.Queue)
		if n := len(task.History); n == 0 || !strings.HasSuffix(task.History[n-1], line) {
			task.addHistory(stamp(msg.Timestamp) + " " + line)
		}
		cmd = m.touch(msg.ID)

	case events.TaskCompletedEvent:
		if task, ok := m.tasks[msg.ID]; ok {
			task.Status = StatusCompleted
			task.Duration = msg.Duration
			task.addHistory(fmt.Sprintf("%s completed in %v", stamp(msg.Timestamp), msg.Duration))
			cmd = m.touch(msg.ID)
		}

	case events.TaskFailedEvent:
		if task, ok := m.tasks[msg.ID]; ok {
			task.Status = StatusFailed
			task.Duration = msg.Duration
			verb := "failed"
			if msg.Panicked {
				verb = "panicked"
			}
			task.addHistory(fmt.Sprintf("%s %s after %v: %v", stamp(msg.Timestamp), verb, msg.Duration, msg.Err))
			cmd = m.touch(msg.ID)
		}

	case tickMsg:
		if msg.tag == m.updateTag {
			m.updateViewportContent()
		}
	}

	return m, cmd
}

func (t *TaskState) addHistory(line string) {
	t.History = append(t.History, line)
	if n := len(t.History); n > maxHistory {
		t.History = append(t.History[:0:0], t.History[n-maxHistory:]...)
	}
}

func stamp(t time.Time) string {
	return t.Format("15:04:05.000")
}

// track returns the state for id, creating it and evicting the oldest entry
// when the list is full.
func (m *TaskPaneModel) track(id, name, queue string) *TaskState {
	if task, ok := m.tasks[id]; ok {
		task.Queue = queue
		return task
	}

	if len(m.taskOrder) >= maxTrackedTasks {
		oldest := m.taskOrder[0]
		m.taskOrder = m.taskOrder[1:]
		delete(m.tasks, oldest)
		if m.selectedIdx > 0 {
			m.selectedIdx--
		}
	}

	task := &TaskState{TaskID: id, Name: name, Queue: queue}
	m.tasks[id] = task
	m.taskOrder = append(m.taskOrder, id)
	if len(m.taskOrder) == 1 {
		m.selectedIdx = 0
		m.updateViewportContent()
	}
	return task
}

// touch schedules a debounced viewport refresh when id is selected.
func (m *TaskPaneModel) touch(id string) tea.Cmd {
	if m.SelectedTaskID() != id {
		return nil
	}
	m.updateTag++
	tag := m.updateTag
	return tea.Tick(50*time.Millisecond, func(time.Time) tea.Msg {
		return tickMsg{tag: tag}
	})
}

// View renders the task pane.
func (m TaskPaneModel) View() string {
	if m.width == 0 || m.height == 0 {
		return ""
	}

	listWidth := 28
	viewportWidth := m.width - listWidth - 4

	content := lipgloss.JoinHorizontal(
		lipgloss.Top,
		m.renderTaskList(listWidth),
		lipgloss.NewStyle().
			Width(viewportWidth).
			Height(m.height-2).
			Render(m.viewport.View()),
	)

	style := StyleUnfocusedBorder
	if m.focused {
		style = StyleFocusedBorder
	}

	return style.
		Width(m.width - 2).
		Height(m.height - 2).
		Render(content)
}

func (m TaskPaneModel) renderTaskList(width int) string {
	var b strings.Builder

	title := StyleTitle.Render("Tasks")
	b.WriteString(title)
	b.WriteString("\n")
	b.WriteString(strings.Repeat("=", min(width, lipgloss.Width(title))))
	b.WriteString("\n\n")

	if len(m.taskOrder) == 0 {
		b.WriteString(StyleStatusPending.Render("Waiting..."))
	} else {
		// Keep the selection visible when the list outgrows the pane.
		rows := max(1, m.height-6)
		first := 0
		if m.selectedIdx >= rows {
			first = m.selectedIdx - rows + 1
		}
		last := min(len(m.taskOrder), first+rows)

		for i := first; i < last; i++ {
			task := m.tasks[m.taskOrder[i]]
			name := task.Name
			if len(name) > width-6 {
				name = name[:width-9] + "..."
			}

			line := fmt.Sprintf("%s %s", StatusIcon(task.Status), name)
			if i == m.selectedIdx {
				line = StyleSelected.Render(line)
			}
			b.WriteString(line)
			b.WriteString("\n")
		}
	}

	return lipgloss.NewStyle().
		Width(width).
		Height(m.height - 2).
		Render(b.String())
}

// StatusIcon returns a styled status indicator.
func StatusIcon(status string) string {
	switch status {
	case StatusRunning:
		return StyleStatusRunning.Render("●")
	case StatusCompleted:
		return StyleStatusComplete.Render("✓")
	case StatusFailed:
		return StyleStatusFailed.Render("✗")
	case StatusWaiting:
		return StyleStatusWaiting.Render("◌")
	default:
		return StyleStatusPending.Render("○")
	}
}

// SelectedTaskID returns the ID of the highlighted task, or "".
func (m TaskPaneModel) SelectedTaskID() string {
	if m.selectedIdx >= 0 && m.selectedIdx < len(m.taskOrder) {
		return m.taskOrder[m.selectedIdx]
	}
	return ""
}

// Task returns the tracked state for id.
func (m TaskPaneModel) Task(id string) (TaskState, bool) {
	task, ok := m.tasks[id]
	if !ok {
		return TaskState{}, false
	}
	return *task, true
}

func (m *TaskPaneModel) updateViewportContent() {
	task, ok := m.tasks[m.SelectedTaskID()]
	if !ok {
		m.viewport.SetContent("Waiting for tasks...")
		return
	}

	header := fmt.Sprintf("%s [%s]  queue=%s runs=%d requeues=%d", task.Name, task.TaskID, task.Queue, task.Runs, task.Requeues)
	m.viewport.SetContent(header + "\n\n" + strings.Join(task.History, "\n"))
	m.viewport.GotoBottom()
}

func (m *TaskPaneModel) resizeViewport() {
	listWidth := 28
	viewportWidth := m.width - listWidth - 4
	viewportHeight := m.height - 4

	if viewportWidth < 10 {
		viewportWidth = 10
	}
	if viewportHeight < 5 {
		viewportHeight = 5
	}

	m.viewport.Width = viewportWidth
	m.viewport.Height = viewportHeight
}

// SetSize updates the pane dimensions.
func (m *TaskPaneModel) SetSize(w, h int) {
	m.width = w
	m.height = h
	m.resizeViewport()
}

// SetFocused updates the focus state.
func (m *TaskPaneModel) SetFocused(focused bool) {
	m.focused = focused
}
