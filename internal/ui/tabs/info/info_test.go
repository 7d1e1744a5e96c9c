package info

import (
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/x/ansi"
	"github.com/stretchr/testify/assert"

	"github.com/j-veylop/antigravity-gateway/internal/app"
	"github.com/j-veylop/antigravity-gateway/internal/clock"
	"github.com/j-veylop/antigravity-gateway/internal/config"
	"github.com/j-veylop/antigravity-gateway/internal/models"
	"github.com/j-veylop/antigravity-gateway/internal/services"
	"github.com/j-veylop/antigravity-gateway/internal/services/scheduler"
)

var baseTime = time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

func testConfig() *config.Config {
	return &config.Config{
		CredentialsPath: "/tmp/oauth_creds.json",
		LogLevel:        "info",
		APIHost:         config.DefaultAPIHost,
		Rotation:        config.RotationConfig{Strategy: models.RequestCount, RequestCount: 25},
		Quota:           config.QuotaConfig{CacheTTL: 5 * time.Minute, Retention: 24 * time.Hour, MaxPoints: 2000},
		Stream:          config.StreamConfig{HeartbeatInterval: 15 * time.Second, MaxRetries: 3},
	}
}

func newModel(cfg *config.Config) (*Model, *app.State) {
	state := app.NewState(clock.NewFake(baseTime))
	m := New(state, cfg)
	m.SetSize(120, 120)
	return m, state
}

func TestModel_Init(t *testing.T) {
	m, _ := newModel(nil)
	assert.Nil(t, m.Init())
}

func TestModel_ViewConfig(t *testing.T) {
	m, state := newModel(testConfig())
	state.SetStats(services.StatsEvent{Strategy: models.RoundRobin})

	view := ansi.Strip(m.View())
	assert.Contains(t, view, "/tmp/oauth_creds.json")
	assert.Contains(t, view, "in memory")
	assert.Contains(t, view, "request_count (25 per credential), now round_robin")
	assert.Contains(t, view, config.DefaultAPIHost)
	assert.Contains(t, view, "About Antigravity Gateway")
}

func TestModel_ViewNilConfig(t *testing.T) {
	m, _ := newModel(nil)
	assert.Contains(t, ansi.Strip(m.View()), "Configuration not loaded")
}

func TestModel_ViewJobsAndEvents(t *testing.T) {
	m, state := newModel(testConfig())
	state.SetJobs([]scheduler.JobInfo{
		{Name: "quota-refresh", Every: 5 * time.Minute, LastRun: baseTime.Add(-90 * time.Second)},
		{Name: "memory-cleanup", Every: 30 * time.Minute},
	})
	state.SetEvents([]models.PoolEvent{
		{Type: models.PoolEventExhausted, CredentialID: "abcdef0123456789", Detail: "claude", Timestamp: baseTime},
	})

	view := ansi.Strip(m.View())
	assert.Contains(t, view, "quota-refresh")
	assert.Contains(t, view, "last run 1m ago")
	assert.Contains(t, view, "last run never")
	assert.Contains(t, view, "exhausted")
	assert.Contains(t, view, "abcdef012345")
	assert.NotContains(t, view, "abcdef0123456789")
	assert.Contains(t, view, "claude")
}

func TestModel_ViewEmptyLists(t *testing.T) {
	m, _ := newModel(testConfig())

	view := ansi.Strip(m.View())
	assert.Contains(t, view, "No jobs registered")
	assert.Contains(t, view, "No credential events recorded")
}

func TestModel_IgnoresNonKeyMessages(t *testing.T) {
	m, _ := newModel(nil)
	updated, cmd := m.Update(app.TickMsg{})
	assert.Same(t, m, updated)
	assert.Nil(t, cmd)

	_, cmd = m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("g")})
	assert.Nil(t, cmd)
}

func TestModel_Help(t *testing.T) {
	m, _ := newModel(nil)
	assert.Len(t, m.ShortHelp(), 2)
	assert.Len(t, m.FullHelp(), 2)
}

func TestFormatAgo(t *testing.T) {
	assert.Equal(t, "5s ago", formatAgo(5*time.Second))
	assert.Equal(t, "3m ago", formatAgo(3*time.Minute))
	assert.Equal(t, "2h ago", formatAgo(2*time.Hour))
}
