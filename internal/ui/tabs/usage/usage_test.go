package usage

import (
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/x/ansi"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/j-veylop/antigravity-gateway/internal/app"
	"github.com/j-veylop/antigravity-gateway/internal/clock"
	"github.com/j-veylop/antigravity-gateway/internal/models"
)

var baseTime = time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

type fakeSource struct {
	queries []models.UsageQuery
	ids     []string
	report  models.UsageReport
}

func (f *fakeSource) Usage(id string, q models.UsageQuery) models.UsageReport {
	f.ids = append(f.ids, id)
	f.queries = append(f.queries, q)
	return f.report
}

func newState(ids ...string) *app.State {
	state := app.NewState(clock.NewFake(baseTime))
	state.SetLoading("initial", false)
	rows := make([]app.CredentialRow, 0, len(ids))
	for _, id := range ids {
		rows = append(rows, app.CredentialRow{View: models.CredentialView{ID: id, Email: id + "@example.com", Enable: true}})
	}
	state.SetCredentials(rows)
	return state
}

func sampleReport() models.UsageReport {
	left := int64(40)
	return models.UsageReport{
		Now:            baseTime,
		Mode:           models.ModeDefault,
		AvailableModes: map[models.SamplingMode]bool{models.ModeDefault: true},
		Models: map[string]models.ModelUsage{
			"claude-sonnet-4-5": {
				RemainingPercent: "80",
				Points: []models.UsageSample{
					{Timestamp: baseTime.Add(-2 * time.Minute), ConsumedPercent: "1.5"},
					{Timestamp: baseTime.Add(-time.Minute), ConsumedPercent: "2.5"},
					{Timestamp: baseTime, ConsumedPercent: "2"},
				},
				Stats: models.SeriesStats{Count: 3, Median: "2", Min: "1.5", Max: "2.5", Last: "2", CallsLeft: &left},
			},
		},
	}
}

// load runs the pending command and feeds its result back.
func load(t *testing.T, m *Model, cmd tea.Cmd) {
	t.Helper()
	require.NotNil(t, cmd)
	m.Update(cmd())
}

func TestModel_NoSelection(t *testing.T) {
	m := New(newState(), &fakeSource{})
	m.SetSize(120, 40)

	assert.Nil(t, m.Init())
	assert.Contains(t, ansi.Strip(m.View()), "No credential selected.")
}

func TestModel_RendersReport(t *testing.T) {
	src := &fakeSource{report: sampleReport()}
	m := New(newState("c1"), src)
	m.SetSize(140, 60)

	load(t, m, m.Init())

	require.Equal(t, []string{"c1"}, src.ids)
	assert.Equal(t, models.UsageQuery{Mode: models.ModeDefault, Window: 24 * time.Hour}, src.queries[0])

	view := ansi.Strip(m.View())
	assert.Contains(t, view, "Usage: c1@example.com")
	assert.Contains(t, view, "claude-sonnet-4-5")
	assert.Contains(t, view, "2.00%")
	assert.Contains(t, view, "80.00%")
	assert.Contains(t, view, "~40")
	assert.Contains(t, view, "[w] 24h")
}

func TestModel_EmptyReport(t *testing.T) {
	m := New(newState("c1"), &fakeSource{report: models.UsageReport{Models: map[string]models.ModelUsage{}}})
	m.SetSize(120, 40)

	load(t, m, m.Init())
	assert.Contains(t, ansi.Strip(m.View()), "No usage samples recorded")
}

func TestModel_ModeAndWindowKeys(t *testing.T) {
	src := &fakeSource{report: sampleReport()}
	m := New(newState("c1"), src)
	m.SetSize(120, 40)
	load(t, m, m.Init())

	_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("m")})
	load(t, m, cmd)
	assert.Equal(t, models.ModePrecise, src.queries[1].Mode)
	assert.Contains(t, ansi.Strip(m.View()), "precise (off)")

	_, cmd = m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("w")})
	load(t, m, cmd)
	assert.Equal(t, time.Duration(0), src.queries[2].Window)
	assert.Contains(t, ansi.Strip(m.View()), "[w] all")

	_, cmd = m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("w")})
	load(t, m, cmd)
	assert.Equal(t, time.Hour, src.queries[3].Window)
}

func TestModel_SelectionChangeReloads(t *testing.T) {
	src := &fakeSource{report: sampleReport()}
	state := newState("c1", "c2")
	m := New(state, src)
	m.SetSize(120, 40)
	load(t, m, m.Init())

	state.SetSelectedIndex(1)
	_, cmd := m.Update(app.SelectedCredentialChangedMsg{ID: "c2", Index: 1})
	assert.Contains(t, ansi.Strip(m.View()), "Loading usage for c2@example.com")

	load(t, m, cmd)
	assert.Equal(t, []string{"c1", "c2"}, src.ids)
	assert.Contains(t, ansi.Strip(m.View()), "Usage: c2@example.com")
}

func TestModel_StaleReportIgnored(t *testing.T) {
	m := New(newState("c1"), &fakeSource{})
	m.SetSize(120, 40)
	m.Init()

	m.Update(reportLoadedMsg{credentialID: "other", report: sampleReport()})
	assert.Nil(t, m.report)
}

func TestPct(t *testing.T) {
	assert.Equal(t, "-", pct(""))
	assert.Equal(t, "-", pct("bogus"))
	assert.Equal(t, "1.25%", pct("1.25"))
}
