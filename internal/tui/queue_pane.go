package tui

import (
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/aristath/jobqueue/internal/events"
	"github.com/aristath/jobqueue/internal/scheduler"
)

// statsMsg carries a scheduler snapshot into the update loop.
type statsMsg []scheduler.QueueStats

// queueCounts are the per-queue outcomes seen on the event bus.
type queueCounts struct {
	completed int
	failed    int
}

// QueuePaneModel shows one row per queue plus the frame progress bar.
type QueuePaneModel struct {
	stats   []scheduler.QueueStats
	counts  map[string]*queueCounts
	frame   events.FrameProgressEvent
	stopped *events.SchedulerStoppedEvent
	width   int
	height  int
	focused bool
}

// NewQueuePaneModel creates an empty queue pane.
func NewQueuePaneModel() QueuePaneModel {
	return QueuePaneModel{
		counts: make(map[string]*queueCounts),
	}
}

func (m *QueuePaneModel) countsFor(queue string) *queueCounts {
	c, ok := m.counts[queue]
	if !ok {
		c = &queueCounts{}
		m.counts[queue] = c
	}
	return c
}

// Update handles messages for the queue pane.
func (m QueuePaneModel) Update(msg tea.Msg) (QueuePaneModel, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

	case statsMsg:
		m.stats = msg

	case events.TaskCompletedEvent:
		m.countsFor(msg.Queue).completed++

	case events.TaskFailedEvent:
		m.countsFor(msg.Queue).failed++

	case events.FrameProgressEvent:
		m.frame = msg

	case events.SchedulerStoppedEvent:
		m.stopped = &msg
	}

	return m, nil
}

// View renders the queue pane.
func (m QueuePaneModel) View() string {
	if m.width == 0 || m.height == 0 {
		return ""
	}

	var b strings.Builder

	title := StyleTitle.Render("Queues")
	b.WriteString(title)
	b.WriteString("\n")
	b.WriteString(strings.Repeat("=", lipgloss.Width(title)))
	b.WriteString("\n\n")

	if len(m.stats) == 0 {
		b.WriteString(StyleStatusPending.Render("Waiting for scheduler..."))
		b.WriteString("\n")
	} else {
		b.WriteString(fmt.Sprintf("%-12s %4s %6s %8s %7s %5s\n", "QUEUE", "THR", "PEND", "DONE", "REQ", "FAIL"))
		for _, s := range m.stats {
			name := s.Name
			if s.Main {
				name += "*"
			}
			if len(name) > 12 {
				name = name[:11] + "~"
			}
			failed := 0
			if c, ok := m.counts[s.Name]; ok {
				failed = c.failed
			}
			row := fmt.Sprintf("%-12s %4d %6d %8d %7d %5d", name, s.Threads, s.Pending, s.Executed, s.Requeued, failed)
			if !s.Running {
				row = StyleStatusPending.Render(row)
			}
			b.WriteString(row)
			b.WriteString("\n")
		}
	}

	b.WriteString("\n")
	b.WriteString(m.renderFrame())

	if m.stopped != nil {
		b.WriteString("\n")
		b.WriteString(StyleStatusFailed.Render(fmt.Sprintf("Stopped: %d workers joined, %d tasks discarded", m.stopped.Workers, m.stopped.Discarded)))
		b.WriteString("\n")
	}

	style := StyleUnfocusedBorder
	if m.focused {
		style = StyleFocusedBorder
	}

	return style.
		Width(m.width - 2).
		Height(m.height - 2).
		Render(b.String())
}

func (m QueuePaneModel) renderFrame() string {
	if m.frame.Total == 0 && m.frame.Frame == 0 {
		return StyleStatusPending.Render("No frames yet") + "\n"
	}

	var b strings.Builder
	b.WriteString(fmt.Sprintf("Frame:   %d", m.frame.Frame))
	if m.frame.Total > 0 {
		b.WriteString(fmt.Sprintf("/%d", m.frame.Total))
	}
	b.WriteString("\n")
	b.WriteString(fmt.Sprintf("Jobs:    %d  Failed: %s\n", m.frame.Jobs, StyleStatusFailed.Render(fmt.Sprintf("%d", m.frame.Failed))))
	b.WriteString(fmt.Sprintf("Elapsed: %v\n", m.frame.Duration.Round(time.Microsecond)))

	if m.frame.Total > 0 {
		barWidth := min(m.width-4, 40)
		done := (m.frame.Frame * barWidth) / m.frame.Total
		bar := StyleStatusComplete.Render(strings.Repeat("=", max(0, done)))
		bar += StyleStatusPending.Render(strings.Repeat(".", max(0, barWidth-done)))
		b.WriteString(fmt.Sprintf("[%s]  %d/%d\n", bar, m.frame.Frame, m.frame.Total))
	}
	return b.String()
}

// SetSize updates the pane dimensions.
func (m *QueuePaneModel) SetSize(w, h int) {
	m.width = w
	m.height = h
}

// SetFocused updates the focus state.
func (m *QueuePaneModel) SetFocused(focused bool) {
	m.focused = focused
}
