// Package usage provides the per-credential usage series tab.
package usage

import (
	"fmt"
	"time"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/j-veylop/antigravity-gateway/internal/app"
	"github.com/j-veylop/antigravity-gateway/internal/models"
)

// Source reads usage reports.
type Source interface {
	Usage(id string, q models.UsageQuery) models.UsageReport
}

// windows are the selectable report windows; zero means everything retained.
var windows = []time.Duration{time.Hour, 6 * time.Hour, 24 * time.Hour, 0}

type keyMap struct {
	ToggleMode  key.Binding
	CycleWindow key.Binding
	Refresh     key.Binding
	Up          key.Binding
	Down        key.Binding
}

func defaultKeyMap() keyMap {
	return keyMap{
		ToggleMode: key.NewBinding(
			key.WithKeys("m"),
			key.WithHelp("m", "default/precise"),
		),
		CycleWindow: key.NewBinding(
			key.WithKeys("w"),
			key.WithHelp("w", "cycle window"),
		),
		Refresh: key.NewBinding(
			key.WithKeys("r"),
			key.WithHelp("r", "refresh"),
		),
		Up: key.NewBinding(
			key.WithKeys("up", "k"),
			key.WithHelp("↑/k", "scroll up"),
		),
		Down: key.NewBinding(
			key.WithKeys("down", "j"),
			key.WithHelp("↓/j", "scroll down"),
		),
	}
}

// reportLoadedMsg carries a loaded report for one credential.
type reportLoadedMsg struct {
	credentialID string
	report       models.UsageReport
}

// Model is the usage tab.
type Model struct {
	state    *app.State
	source   Source
	keys     keyMap
	viewport viewport.Model
	width    int
	height   int

	mode         models.SamplingMode
	windowIndex  int
	credentialID string
	label        string
	report       *models.UsageReport
	loading      bool
}

// New creates the usage tab. A nil source renders an empty tab.
func New(state *app.State, src Source) *Model {
	return &Model{
		state:       state,
		source:      src,
		keys:        defaultKeyMap(),
		viewport:    viewport.New(0, 0),
		mode:        models.ModeDefault,
		windowIndex: 2,
	}
}

// Init loads the report of the selected credential.
func (m *Model) Init() tea.Cmd {
	return m.reload()
}

// Window returns the report window in use.
func (m *Model) Window() time.Duration {
	return windows[m.windowIndex]
}

// reload starts loading the selected credential's report.
func (m *Model) reload() tea.Cmd {
	if m.source == nil {
		return nil
	}
	row, ok := m.state.SelectedCredential()
	if !ok {
		m.credentialID, m.label, m.report = "", "", nil
		return nil
	}

	if row.View.ID != m.credentialID {
		m.report = nil
	}
	m.credentialID, m.label = row.View.ID, row.Label()
	m.loading = true

	src, id := m.source, row.View.ID
	q := models.UsageQuery{Mode: m.mode, Window: m.Window()}
	return func() tea.Msg {
		return reportLoadedMsg{credentialID: id, report: src.Usage(id, q)}
	}
}

// Update handles messages and updates the model.
func (m *Model) Update(msg tea.Msg) (app.Tab, tea.Cmd) {
	switch msg := msg.(type) {
	case reportLoadedMsg:
		if msg.credentialID == m.credentialID {
			m.report = &msg.report
			m.loading = false
		}
		return m, nil

	case app.SelectedCredentialChangedMsg, app.TabSwitchMsg, app.QuotaRefreshedMsg:
		return m, m.reload()

	case app.CredentialsLoadedMsg:
		if row, ok := m.state.SelectedCredential(); !ok || row.View.ID != m.credentialID {
			return m, m.reload()
		}
		return m, nil

	case tea.KeyMsg:
		return m, m.handleKeyMsg(msg)
	}
	return m, nil
}

func (m *Model) handleKeyMsg(msg tea.KeyMsg) tea.Cmd {
	switch {
	case key.Matches(msg, m.keys.ToggleMode):
		if m.mode == models.ModePrecise {
			m.mode = models.ModeDefault
		} else {
			m.mode = models.ModePrecise
		}
		return m.reload()

	case key.Matches(msg, m.keys.CycleWindow):
		m.windowIndex = (m.windowIndex + 1) % len(windows)
		return m.reload()

	case key.Matches(msg, m.keys.Refresh):
		return m.reload()

	default:
		var cmd tea.Cmd
		m.viewport, cmd = m.viewport.Update(msg)
		return cmd
	}
}

// windowLabel names a report window.
func windowLabel(d time.Duration) string {
	if d == 0 {
		return "all"
	}
	return fmt.Sprintf("%dh", int(d.Hours()))
}

// SetSize sets the available size for the usage tab.
func (m *Model) SetSize(width, height int) {
	m.width = width
	m.height = height
	m.viewport.Width = width
	m.viewport.Height = height
}

// ShortHelp returns the key bindings for the short help view.
func (m *Model) ShortHelp() []key.Binding {
	return []key.Binding{m.keys.ToggleMode, m.keys.CycleWindow, m.keys.Refresh}
}

// FullHelp returns the key bindings for the full help view.
func (m *Model) FullHelp() [][]key.Binding {
	return [][]key.Binding{
		{m.keys.ToggleMode, m.keys.CycleWindow},
		{m.keys.Refresh},
		{m.keys.Up, m.keys.Down},
	}
}
