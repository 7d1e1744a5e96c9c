// Package accounts provides the credential management tab.
package accounts

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/table"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/j-veylop/antigravity-gateway/internal/app"
	"github.com/j-veylop/antigravity-gateway/internal/models"
	"github.com/j-veylop/antigravity-gateway/internal/services/quota"
	"github.com/j-veylop/antigravity-gateway/internal/ui/components"
	"github.com/j-veylop/antigravity-gateway/internal/ui/styles"
)

// formField is the focused element of the add form.
type formField int

const (
	fieldAccessToken formField = iota
	fieldRefreshToken
	fieldProjectID
	fieldSubmit
	fieldCancel
	fieldCount
)

type keyMap struct {
	Toggle   key.Binding
	Delete   key.Binding
	Add      key.Binding
	Token    key.Binding
	Quota    key.Binding
	Rotation key.Binding
	Escape   key.Binding
}

func defaultKeyMap() keyMap {
	return keyMap{
		Toggle: key.NewBinding(
			key.WithKeys("e", "enter"),
			key.WithHelp("e", "enable/disable"),
		),
		Delete: key.NewBinding(
			key.WithKeys("d", "delete"),
			key.WithHelp("d", "delete"),
		),
		Add: key.NewBinding(
			key.WithKeys("n", "a"),
			key.WithHelp("n", "add credential"),
		),
		Token: key.NewBinding(
			key.WithKeys("t"),
			key.WithHelp("t", "refresh token"),
		),
		Quota: key.NewBinding(
			key.WithKeys("f"),
			key.WithHelp("f", "fetch quota"),
		),
		Rotation: key.NewBinding(
			key.WithKeys("s"),
			key.WithHelp("s", "cycle rotation"),
		),
		Escape: key.NewBinding(
			key.WithKeys("esc"),
			key.WithHelp("esc", "cancel"),
		),
	}
}

// Model is the accounts tab.
type Model struct {
	state         *app.State
	table         table.Model
	inputs        []textinput.Model
	spinner       components.LoadingSpinner
	keys          keyMap
	width         int
	height        int
	adding        bool
	focusedField  formField
	confirmDelete bool
	pendingDelete app.CredentialRow
}

// New creates the accounts tab over the shared state.
func New(state *app.State) *Model {
	t := table.New(
		table.WithColumns(columns(30)),
		table.WithFocused(true),
		table.WithHeight(10),
	)

	s := table.DefaultStyles()
	s.Header = s.Header.
		BorderStyle(lipgloss.NormalBorder()).
		BorderForeground(styles.Subtle).
		BorderBottom(true).
		Bold(true).
		Foreground(styles.Primary)
	s.Selected = s.Selected.
		Foreground(styles.TextPrimary).
		Background(styles.BgAccent).
		Bold(true)
	t.SetStyles(s)

	return &Model{
		state:   state,
		table:   t,
		inputs:  newInputs(),
		spinner: components.NewSpinner("Loading credentials..."),
		keys:    defaultKeyMap(),
	}
}

func newInputs() []textinput.Model {
	access := textinput.New()
	access.Placeholder = "ya29..."
	access.CharLimit = 4096
	access.EchoMode = textinput.EchoPassword

	refresh := textinput.New()
	refresh.Placeholder = "1//..."
	refresh.CharLimit = 1024
	refresh.EchoMode = textinput.EchoPassword

	project := textinput.New()
	project.Placeholder = "optional, discovered when empty"
	project.CharLimit = 128

	return []textinput.Model{access, refresh, project}
}

func columns(labelWidth int) []table.Column {
	return []table.Column{
		{Title: "Credential", Width: labelWidth},
		{Title: "Status", Width: 16},
		{Title: "Project", Width: 20},
		{Title: "Claude", Width: 7},
		{Title: "Gemini", Width: 7},
		{Title: "Expires", Width: 9},
	}
}

// Init starts the spinner.
func (m *Model) Init() tea.Cmd {
	return m.spinner.Tick()
}

// Update handles messages and updates the model.
func (m *Model) Update(msg tea.Msg) (app.Tab, tea.Cmd) {
	if m.adding {
		return m, m.updateAddForm(msg)
	}
	if m.confirmDelete {
		return m, m.updateDeleteConfirm(msg)
	}

	switch msg := msg.(type) {
	case app.CredentialsLoadedMsg, app.QuotaRefreshedMsg, app.ServiceEventMsg:
		m.updateTableData()
		return m, nil

	case tea.KeyMsg:
		return m, m.handleKeyMsg(msg)

	default:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}
}

func (m *Model) handleKeyMsg(msg tea.KeyMsg) tea.Cmd {
	if key.Matches(msg, m.keys.Add) {
		m.openAddForm()
		return textinput.Blink
	}
	if key.Matches(msg, m.keys.Rotation) {
		return func() tea.Msg { return app.CycleRotationMsg{} }
	}

	row, ok := m.state.SelectedCredential()
	if ok {
		switch {
		case key.Matches(msg, m.keys.Toggle):
			id, enable := row.View.ID, !row.View.Enable
			return func() tea.Msg { return app.ToggleCredentialMsg{ID: id, Enable: enable} }
		case key.Matches(msg, m.keys.Delete):
			m.confirmDelete = true
			m.pendingDelete = row
			return nil
		case key.Matches(msg, m.keys.Token):
			id, label := row.View.ID, row.Label()
			return func() tea.Msg { return app.RefreshTokenMsg{ID: id, Label: label} }
		case key.Matches(msg, m.keys.Quota):
			id := row.View.ID
			return func() tea.Msg { return app.ForceQuotaMsg{ID: id} }
		}
	}

	m.updateTableData()
	var cmd tea.Cmd
	m.table, cmd = m.table.Update(msg)
	return tea.Batch(cmd, m.syncSelection())
}

// syncSelection publishes a table cursor move as the shared selection.
func (m *Model) syncSelection() tea.Cmd {
	cursor := m.table.Cursor()
	if cursor == m.state.GetSelectedIndex() || cursor >= m.state.CredentialCount() {
		return nil
	}
	m.state.SetSelectedIndex(cursor)
	rows := m.state.GetCredentials()
	id := rows[cursor].View.ID
	return func() tea.Msg {
		return app.SelectedCredentialChangedMsg{Index: cursor, ID: id}
	}
}

func (m *Model) openAddForm() {
	m.adding = true
	m.inputs = newInputs()
	m.resizeInputs()
	m.focusedField = fieldAccessToken
	m.updateFormFocus()
}

func (m *Model) closeAddForm() {
	m.adding = false
	for i := range m.inputs {
		m.inputs[i].Blur()
	}
}

func (m *Model) updateAddForm(msg tea.Msg) tea.Cmd {
	if msg, ok := msg.(tea.KeyMsg); ok {
		switch msg.String() {
		case "esc":
			m.closeAddForm()
			return nil

		case "tab", "down":
			m.focusedField = (m.focusedField + 1) % fieldCount
			m.updateFormFocus()
			return textinput.Blink

		case "shift+tab", "up":
			m.focusedField = (m.focusedField - 1 + fieldCount) % fieldCount
			m.updateFormFocus()
			return textinput.Blink

		case "enter":
			switch m.focusedField {
			case fieldSubmit:
				return m.submitAddForm()
			case fieldCancel:
				m.closeAddForm()
				return nil
			default:
				m.focusedField++
				m.updateFormFocus()
				return textinput.Blink
			}
		}
	}

	if int(m.focusedField) >= len(m.inputs) {
		return nil
	}
	var cmd tea.Cmd
	m.inputs[m.focusedField], cmd = m.inputs[m.focusedField].Update(msg)
	return cmd
}

func (m *Model) submitAddForm() tea.Cmd {
	req := app.AddCredentialMsg{
		AccessToken:  strings.TrimSpace(m.inputs[fieldAccessToken].Value()),
		RefreshToken: strings.TrimSpace(m.inputs[fieldRefreshToken].Value()),
		ProjectID:    strings.TrimSpace(m.inputs[fieldProjectID].Value()),
	}
	if req.AccessToken == "" || req.RefreshToken == "" {
		return func() tea.Msg {
			return app.AddNotificationMsg{
				Type:     app.NotificationWarning,
				Message:  "Access and refresh tokens are required",
				Duration: app.QuickNotificationDuration,
			}
		}
	}
	m.closeAddForm()
	return func() tea.Msg { return req }
}

func (m *Model) updateDeleteConfirm(msg tea.Msg) tea.Cmd {
	km, ok := msg.(tea.KeyMsg)
	if !ok {
		return nil
	}
	switch km.String() {
	case "y", "Y":
		row := m.pendingDelete
		m.confirmDelete = false
		m.pendingDelete = app.CredentialRow{}
		return func() tea.Msg {
			return app.DeleteCredentialMsg{ID: row.View.ID, Label: row.Label()}
		}
	case "n", "N", "esc":
		m.confirmDelete = false
		m.pendingDelete = app.CredentialRow{}
	}
	return nil
}

func (m *Model) updateFormFocus() {
	for i := range m.inputs {
		if formField(i) == m.focusedField {
			m.inputs[i].Focus()
		} else {
			m.inputs[i].Blur()
		}
	}
}

// updateTableData rebuilds the table rows from the shared state.
func (m *Model) updateTableData() {
	creds := m.state.GetCredentials()
	now := m.state.Now()
	rows := make([]table.Row, 0, len(creds))

	for _, c := range creds {
		rows = append(rows, table.Row{
			c.Label(),
			statusText(c),
			valueOr(c.View.ProjectID, "-"),
			groupPercent(c.Groups, models.GroupClaude),
			groupPercent(c.Groups, models.GroupGemini),
			expiresText(c.View, now),
		})
	}

	m.table.SetRows(rows)
	if n := len(rows); n > 0 {
		m.table.SetCursor(min(m.state.GetSelectedIndex(), n-1))
	}
}

func statusText(c app.CredentialRow) string {
	switch {
	case !c.View.Enable:
		return "disabled"
	case c.Exhausted():
		return c.View.Availability
	default:
		return "available"
	}
}

func groupPercent(groups []models.GroupSummary, group string) string {
	for _, g := range groups {
		if g.Group == group {
			return formatPercent(components.RemainingPercent(g.MinRemaining))
		}
	}
	return "-"
}

func expiresText(v models.CredentialView, now time.Time) string {
	if v.ExpiresAt.IsZero() {
		return "-"
	}
	if !v.ExpiresAt.After(now) {
		return "expired"
	}
	return quota.FormatResetTime(v.ExpiresAt, now)
}

func valueOr(v, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}

// formatPercent formats a percentage for display.
func formatPercent(p float64) string {
	switch {
	case p >= 100:
		return "100%"
	case p <= 0:
		return "0%"
	case p < 1:
		return "<1%"
	}
	return fmt.Sprintf("%.0f%%", p)
}

// SetSize sets the available size for the accounts tab.
func (m *Model) SetSize(width, height int) {
	m.width = width
	m.height = height
	m.table.SetHeight(max(height-10, 3))

	labelWidth := min(max(width-80, 20), 40)
	m.table.SetColumns(columns(labelWidth))

	m.resizeInputs()
}

func (m *Model) resizeInputs() {
	for i := range m.inputs {
		m.inputs[i].Width = min(max(m.width-30, 20), 60)
	}
}

// ShortHelp returns the key bindings for the short help view.
func (m *Model) ShortHelp() []key.Binding {
	if m.adding {
		return []key.Binding{
			key.NewBinding(key.WithKeys("tab"), key.WithHelp("tab", "next field")),
			key.NewBinding(key.WithKeys("enter"), key.WithHelp("enter", "submit")),
			m.keys.Escape,
		}
	}
	return []key.Binding{m.keys.Toggle, m.keys.Delete, m.keys.Add}
}

// FullHelp returns the key bindings for the full help view.
func (m *Model) FullHelp() [][]key.Binding {
	return [][]key.Binding{
		{m.keys.Toggle, m.keys.Delete},
		{m.keys.Add, m.keys.Token},
		{m.keys.Quota, m.keys.Rotation},
	}
}

// CapturingInput reports whether the add form has the keyboard.
func (m *Model) CapturingInput() bool {
	return m.adding
}
