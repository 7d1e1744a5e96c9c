// Package dashboard provides the pool overview tab.
package dashboard

import (
	"time"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/j-veylop/antigravity-gateway/internal/app"
	"github.com/j-veylop/antigravity-gateway/internal/ui/components"
)

const (
	animationInterval = 40 * time.Millisecond
	animationDuration = 1500 * time.Millisecond
)

type animationTickMsg time.Time

func animationTickCmd() tea.Cmd {
	return tea.Tick(animationInterval, func(t time.Time) tea.Msg {
		return animationTickMsg(t)
	})
}

type keyMap struct {
	Next       key.Binding
	Prev       key.Binding
	First      key.Binding
	Last       key.Binding
	ForceQuota key.Binding
}

func defaultKeyMap() keyMap {
	return keyMap{
		Next: key.NewBinding(
			key.WithKeys("n", "j", "down"),
			key.WithHelp("j/n", "next credential"),
		),
		Prev: key.NewBinding(
			key.WithKeys("p", "k", "up"),
			key.WithHelp("k/p", "prev credential"),
		),
		First: key.NewBinding(
			key.WithKeys("g", "home"),
			key.WithHelp("g", "first credential"),
		),
		Last: key.NewBinding(
			key.WithKeys("G", "end"),
			key.WithHelp("G", "last credential"),
		),
		ForceQuota: key.NewBinding(
			key.WithKeys("f"),
			key.WithHelp("f", "fetch quota"),
		),
	}
}

// AnimationState eases a displayed percentage towards its target.
type AnimationState struct {
	StartTime      time.Time
	CurrentPercent float64
	TargetPercent  float64
	StartPercent   float64
}

// step moves the state along an ease-out curve and reports whether it is still moving.
func (a *AnimationState) step(now time.Time) bool {
	if a.CurrentPercent == a.TargetPercent {
		return false
	}
	elapsed := now.Sub(a.StartTime)
	if elapsed >= animationDuration {
		a.CurrentPercent = a.TargetPercent
		return false
	}
	progress := float64(elapsed) / float64(animationDuration)
	ease := 1.0 - (1.0-progress)*(1.0-progress)
	a.CurrentPercent = a.StartPercent + (a.TargetPercent-a.StartPercent)*ease
	return true
}

// Model is the dashboard tab.
type Model struct {
	state          *app.State
	animations     map[string]*AnimationState
	spinner        components.LoadingSpinner
	keys           keyMap
	viewport       viewport.Model
	width          int
	height         int
	animationFrame int
	ticking        bool
}

// New creates the dashboard tab over the shared state.
func New(state *app.State) *Model {
	return &Model{
		state:      state,
		spinner:    components.NewSpinner("Loading credentials..."),
		keys:       defaultKeyMap(),
		viewport:   viewport.New(0, 0),
		animations: make(map[string]*AnimationState),
	}
}

// Init starts the spinner and the animation loop.
func (m *Model) Init() tea.Cmd {
	m.ticking = true
	return tea.Batch(m.spinner.Tick(), animationTickCmd())
}

// Update handles messages and updates the model.
func (m *Model) Update(msg tea.Msg) (app.Tab, tea.Cmd) {
	switch msg := msg.(type) {
	case animationTickMsg:
		return m, m.handleAnimationTick(time.Time(msg))

	case app.StartLoadingMsg, app.CredentialsLoadedMsg, app.QuotaRefreshedMsg, app.ServiceEventMsg:
		m.syncTargets(m.state.Now())
		return m, m.ensureTicking()

	case tea.KeyMsg:
		return m, m.handleKeyMsg(msg)

	default:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}
}

func (m *Model) ensureTicking() tea.Cmd {
	if m.ticking {
		return nil
	}
	m.ticking = true
	return animationTickCmd()
}

func (m *Model) handleAnimationTick(now time.Time) tea.Cmd {
	m.animationFrame++
	m.syncTargets(now)

	animating := false
	for _, a := range m.animations {
		if a.step(now) {
			animating = true
		}
	}

	if animating || m.state.AnyLoading() {
		return animationTickCmd()
	}
	m.ticking = false
	return nil
}

// syncTargets points every group animation at the latest remaining percentage.
func (m *Model) syncTargets(now time.Time) {
	for _, row := range m.state.GetCredentials() {
		for _, g := range row.Groups {
			target := components.RemainingPercent(g.MinRemaining)
			a, ok := m.animations[row.View.ID+":"+g.Group]
			if !ok {
				a = &AnimationState{StartTime: now}
				m.animations[row.View.ID+":"+g.Group] = a
			}
			if target != a.TargetPercent {
				a.StartPercent = a.CurrentPercent
				a.TargetPercent = target
				a.StartTime = now
			}
		}
	}
}

// displayPercent returns the animated percentage of a group, or target when not animated yet.
func (m *Model) displayPercent(id, group string, target float64) float64 {
	if a, ok := m.animations[id+":"+group]; ok {
		return a.CurrentPercent
	}
	return target
}

func (m *Model) handleKeyMsg(msg tea.KeyMsg) tea.Cmd {
	count := m.state.CredentialCount()
	selected := m.state.GetSelectedIndex()
	next := selected

	switch {
	case key.Matches(msg, m.keys.Next):
		if count > 0 {
			next = (selected + 1) % count
		}
	case key.Matches(msg, m.keys.Prev):
		if count > 0 {
			next = (selected - 1 + count) % count
		}
	case key.Matches(msg, m.keys.First):
		next = 0
	case key.Matches(msg, m.keys.Last):
		next = max(count-1, 0)
	case key.Matches(msg, m.keys.ForceQuota):
		if row, ok := m.state.SelectedCredential(); ok && row.View.Enable {
			return func() tea.Msg { return app.ForceQuotaMsg{ID: row.View.ID} }
		}
		return nil
	default:
		var cmd tea.Cmd
		m.viewport, cmd = m.viewport.Update(msg)
		return cmd
	}

	if next == selected || count == 0 {
		return nil
	}
	rows := m.state.GetCredentials()
	m.state.SetSelectedIndex(next)
	return func() tea.Msg {
		return app.SelectedCredentialChangedMsg{Index: next, ID: rows[next].View.ID}
	}
}

// SetSize sets the available size for the dashboard.
func (m *Model) SetSize(width, height int) {
	m.width = width
	m.height = height
	m.viewport.Width = width
	m.viewport.Height = height
}

// ShortHelp returns the key bindings for the short help view.
func (m *Model) ShortHelp() []key.Binding {
	return []key.Binding{m.keys.Next, m.keys.Prev, m.keys.ForceQuota}
}

// FullHelp returns the key bindings for the full help view.
func (m *Model) FullHelp() [][]key.Binding {
	return [][]key.Binding{
		{m.keys.Next, m.keys.Prev},
		{m.keys.First, m.keys.Last},
		{m.keys.ForceQuota},
	}
}
