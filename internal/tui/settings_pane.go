package tui

import (
	"fmt"
	"strconv"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/lipgloss"

	"github.com/aristath/jobqueue/internal/config"
)

// SettingsPaneModel manages the settings form overlay. Saved values take
// effect the next time a scheduler is started.
type SettingsPaneModel struct {
	form        *huh.Form
	config      *config.Config
	globalPath  string
	projectPath string
	width       int
	height      int
	visible     bool
	saved       bool
	err         error

	// Huh binds to pointers, so the fields live outside the copied model.
	fields *settingsFields
}

// settingsFields are the form bindings (strings for Huh).
type settingsFields struct {
	saveTarget     string
	mainQueue      string
	queues         string
	logLevel       string
	logFormat      string
	journalEnabled bool
	journalPath    string
	backoffInitial string
	backoffMax     string
	frameJobs      string
	frameInterval  string
}

// NewSettingsPaneModel creates a new settings pane.
func NewSettingsPaneModel(cfg *config.Config, globalPath, projectPath string) SettingsPaneModel {
	m := SettingsPaneModel{
		config:      cfg,
		globalPath:  globalPath,
		projectPath: projectPath,
		fields:      &settingsFields{saveTarget: "project"},
	}
	m.loadFromConfig()
	m.buildForm()
	return m
}

// loadFromConfig copies config values into the form bindings.
func (m *SettingsPaneModel) loadFromConfig() {
	cfg, f := m.config, m.fields
	f.mainQueue = cfg.MainQueue
	f.queues = config.FormatQueues(cfg.Queues)
	f.logLevel = cfg.Logging.Level
	f.logFormat = cfg.Logging.Format
	f.journalEnabled = cfg.Journal.Enabled
	f.journalPath = cfg.Journal.Path
	f.backoffInitial = cfg.IdleBackoff.Initial.Std().String()
	f.backoffMax = cfg.IdleBackoff.Max.Std().String()
	f.frameJobs = strconv.Itoa(cfg.Frame.Jobs)
	f.frameInterval = cfg.Frame.Interval.Std().String()
}

func validateDuration(s string) error {
	d, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("use a duration like 5ms")
	}
	if d < 0 {
		return fmt.Errorf("must not be negative")
	}
	return nil
}

func validateCount(s string) error {
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return fmt.Errorf("must be a non-negative integer")
	}
	return nil
}

func validateQueues(s string) error {
	_, err := config.ParseQueues(s)
	return err
}

// buildForm constructs the Huh form with all settings fields.
func (m *SettingsPaneModel) buildForm() {
	m.form = huh.NewForm(
		huh.NewGroup(
			huh.NewSelect[string]().
				Key("saveTarget").
				Title("Save To").
				Options(
					huh.NewOption("Global (~/.jobqueue/config.json)", "global"),
					huh.NewOption("Project (.jobqueue/config.json)", "project"),
				).
				Value(&m.fields.saveTarget),
		).Title("Save Target"),

		huh.NewGroup(
			huh.NewInput().
				Key("mainQueue").
				Title("Main Queue").
				Value(&m.fields.mainQueue).
				Placeholder("main"),

			huh.NewInput().
				Key("queues").
				Title("Worker Queues").
				Description("name:threads, comma separated").
				Value(&m.fields.queues).
				Validate(validateQueues),

			huh.NewInput().
				Key("backoffInitial").
				Title("Idle Backoff Initial").
				Value(&m.fields.backoffInitial).
				Validate(validateDuration),

			huh.NewInput().
				Key("backoffMax").
				Title("Idle Backoff Max").
				Value(&m.fields.backoffMax).
				Validate(validateDuration),
		).Title("Scheduler"),

		huh.NewGroup(
			huh.NewInput().
				Key("frameJobs").
				Title("Update Jobs per Frame").
				Value(&m.fields.frameJobs).
				Validate(validateCount),

			huh.NewInput().
				Key("frameInterval").
				Title("Frame Interval").
				Value(&m.fields.frameInterval).
				Validate(validateDuration),
		).Title("Frame Loop"),

		huh.NewGroup(
			huh.NewSelect[string]().
				Key("logLevel").
				Title("Log Level").
				Options(huh.NewOptions("debug", "info", "warn", "error")...).
				Value(&m.fields.logLevel),

			huh.NewSelect[string]().
				Key("logFormat").
				Title("Log Format").
				Options(huh.NewOptions("text", "json")...).
				Value(&m.fields.logFormat),

			huh.NewConfirm().
				Key("journalEnabled").
				Title("Record Runs in Journal").
				Value(&m.fields.journalEnabled),

			huh.NewInput().
				Key("journalPath").
				Title("Journal Path").
				Value(&m.fields.journalPath).
				Placeholder(".jobqueue/journal.db"),
		).Title("Logging and Journal"),
	)
}

// Init initializes the settings pane.
func (m SettingsPaneModel) Init() tea.Cmd {
	return m.form.Init()
}

// Update handles messages for the settings pane.
func (m SettingsPaneModel) Update(msg tea.Msg) (SettingsPaneModel, tea.Cmd) {
	if !m.visible {
		return m, nil
	}

	if msg, ok := msg.(tea.KeyMsg); ok && msg.String() == KeyEsc {
		m.visible = false
		m.saved = false
		return m, nil
	}

	form, cmd := m.form.Update(msg)
	if f, ok := form.(*huh.Form); ok {
		m.form = f
	}

	if m.form.State == huh.StateCompleted {
		m.err = m.save()
		m.saved = m.err == nil
		if m.saved {
			m.visible = false
		}
	}

	return m, cmd
}

// save applies the form to a copy of the config and writes it. The live
// config is only replaced once the file is written.
func (m *SettingsPaneModel) save() error {
	next, err := m.applyForm(*m.config)
	if err != nil {
		return err
	}

	target := m.globalPath
	if m.fields.saveTarget == "project" {
		target = m.projectPath
	}
	if err := config.Save(&next, target); err != nil {
		return err
	}
	*m.config = next
	return nil
}

// applyForm copies form field values onto cfg.
func (m *SettingsPaneModel) applyForm(cfg config.Config) (config.Config, error) {
	f := m.fields
	queues, err := config.ParseQueues(f.queues)
	if err != nil {
		return cfg, err
	}
	jobs, err := strconv.Atoi(f.frameJobs)
	if err != nil {
		return cfg, fmt.Errorf("frame jobs: %w", err)
	}
	durations := []struct {
		field string
		value string
		dst   *config.Duration
	}{
		{"idle backoff initial", f.backoffInitial, &cfg.IdleBackoff.Initial},
		{"idle backoff max", f.backoffMax, &cfg.IdleBackoff.Max},
		{"frame interval", f.frameInterval, &cfg.Frame.Interval},
	}
	for _, d := range durations {
		parsed, err := time.ParseDuration(d.value)
		if err != nil {
			return cfg, fmt.Errorf("%s: %w", d.field, err)
		}
		*d.dst = config.Duration(parsed)
	}

	cfg.MainQueue = f.mainQueue
	cfg.Queues = queues
	cfg.Frame.Jobs = jobs
	cfg.Logging.Level = f.logLevel
	cfg.Logging.Format = f.logFormat
	cfg.Journal.Enabled = f.journalEnabled
	cfg.Journal.Path = f.journalPath
	return cfg, nil
}

// View renders the settings pane.
func (m SettingsPaneModel) View() string {
	if !m.visible {
		return ""
	}

	var content string
	if m.err != nil {
		content = lipgloss.JoinVertical(lipgloss.Left,
			lipgloss.NewStyle().
				Foreground(lipgloss.Color("9")).
				Bold(true).
				Render(fmt.Sprintf("✗ Error saving: %v", m.err)),
			"",
			StyleHelp.Render("esc: close"),
		)
	} else {
		content = m.form.View()
	}

	style := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("62")).
		Padding(1, 2).
		Width(m.width - 4).
		Height(m.height - 4)

	title := lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("62")).
		Render("⚙ Settings")

	return lipgloss.JoinVertical(lipgloss.Left, title, style.Render(content))
}

// SetSize updates the dimensions of the settings pane.
func (m *SettingsPaneModel) SetSize(w, h int) {
	m.width = w
	m.height = h
	if m.form != nil {
		m.form.WithWidth(w - 8).WithHeight(h - 8)
	}
}

// SetVisible shows or hides the settings pane. Showing it rebuilds the form
// from the current config.
func (m *SettingsPaneModel) SetVisible(v bool) {
	m.visible = v
	m.saved = false
	m.err = nil

	if v {
		m.loadFromConfig()
		m.buildForm()
		if m.width > 0 {
			m.form.WithWidth(m.width - 8).WithHeight(m.height - 8)
		}
	}
}

// IsVisible returns whether the settings pane is currently visible.
func (m SettingsPaneModel) IsVisible() bool {
	return m.visible
}

// Saved reports whether the last submission was written.
func (m SettingsPaneModel) Saved() bool {
	return m.saved
}
