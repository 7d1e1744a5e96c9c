package info

import (
	"fmt"
	"runtime"
	"strconv"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/j-veylop/antigravity-gateway/internal/models"
	"github.com/j-veylop/antigravity-gateway/internal/ui/styles"
	"github.com/j-veylop/antigravity-gateway/internal/version"
)

// maxEventRows bounds the event list.
const maxEventRows = 15

// View renders the info tab.
func (m *Model) View() string {
	content := lipgloss.JoinVertical(lipgloss.Left,
		m.renderTitle(),
		m.renderConfigCard(),
		m.renderJobsCard(),
		m.renderEventsCard(),
		m.renderAboutCard(),
	)

	m.viewport.SetContent(content)

	return styles.DocStyle.
		Width(m.width).
		Height(m.height).
		Render(m.viewport.View())
}

func (m *Model) renderTitle() string {
	title := styles.TitleStyle.Render("Info")
	subtitle := styles.HelpStyle.Render("Configuration, background jobs and credential events")

	return lipgloss.JoinVertical(lipgloss.Left, title, subtitle, "")
}

func (m *Model) cardWidth() int {
	return min(max(m.width-6, 50), 100)
}

func (m *Model) card(title string, rows ...string) string {
	lines := append([]string{styles.CardTitleStyle.Render(title), ""}, rows...)
	return styles.CardStyle.Width(m.cardWidth()).Render(lipgloss.JoinVertical(lipgloss.Left, lines...))
}

func row(label, value string) string {
	return styles.LabelStyle.Render(label+":") + " " + styles.ValueStyle.Render(value)
}

func onOff(b bool) string {
	if b {
		return "on"
	}
	return "off"
}

func valueOr(v, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}

func (m *Model) renderConfigCard() string {
	cfg := m.config
	if cfg == nil {
		return m.card("Configuration", styles.HelpStyle.Render("Configuration not loaded"))
	}

	rotation := string(cfg.Rotation.Strategy)
	if cfg.Rotation.Strategy == models.RequestCount {
		rotation += fmt.Sprintf(" (%d per credential)", cfg.Rotation.RequestCount)
	}
	if stats := m.state.GetStats(); stats != nil && stats.Strategy != cfg.Rotation.Strategy {
		rotation += fmt.Sprintf(", now %s", stats.Strategy)
	}

	return m.card("Configuration",
		row("Credentials", cfg.CredentialsPath),
		row("Database", valueOr(cfg.DatabasePath, "in memory")),
		row("Log file", valueOr(cfg.LogPath, "stderr")),
		row("Log level", cfg.LogLevel),
		row("API host", cfg.APIHost),
		row("Rotation", rotation),
		row("Quota cache", cfg.Quota.CacheTTL.String()),
		row("Usage retention", cfg.Quota.Retention.String()),
		row("Max samples", strconv.Itoa(cfg.Quota.MaxPoints)),
		row("Sampling", fmt.Sprintf("%s, precise %s", onOff(cfg.Sampler.Enabled), onOff(cfg.Sampler.PreciseEnabled))),
		row("Heartbeat", cfg.Stream.HeartbeatInterval.String()),
		row("Max retries", strconv.Itoa(cfg.Stream.MaxRetries)),
		row("Token refresh", cfg.TokenRefreshBuffer.String()+" before expiry"),
		row("Notifications", onOff(cfg.NotificationsEnabled)),
	)
}

func (m *Model) renderJobsCard() string {
	jobs := m.state.GetJobs()
	if len(jobs) == 0 {
		return m.card("Background Jobs", styles.HelpStyle.Render("No jobs registered"))
	}

	now := m.state.Now()
	rows := make([]string, 0, len(jobs))
	for _, j := range jobs {
		last := "never"
		if !j.LastRun.IsZero() {
			last = formatAgo(now.Sub(j.LastRun))
		}
		rows = append(rows, row(j.Name, fmt.Sprintf("every %s, last run %s", j.Every, last)))
	}
	return m.card("Background Jobs", rows...)
}

func (m *Model) renderEventsCard() string {
	events := m.state.GetEvents()
	if len(events) == 0 {
		return m.card("Recent Events", styles.HelpStyle.Render("No credential events recorded"))
	}

	rows := make([]string, 0, min(len(events), maxEventRows))
	for _, ev := range events[:min(len(events), maxEventRows)] {
		id := ev.CredentialID
		if len(id) > 12 {
			id = id[:12]
		}
		line := fmt.Sprintf("%s  %-14s %s", ev.Timestamp.Local().Format("01-02 15:04:05"), ev.Type, id)
		if ev.Detail != "" {
			line += "  " + styles.HelpStyle.Render(ev.Detail)
		}
		rows = append(rows, eventStyle(ev.Type).Render(line))
	}
	return m.card("Recent Events", rows...)
}

func eventStyle(t models.PoolEventType) lipgloss.Style {
	switch t {
	case models.PoolEventDisabled, models.PoolEventRefreshFailed:
		return styles.ErrorTextStyle
	case models.PoolEventExhausted:
		return styles.WarningTextStyle
	case models.PoolEventRestored, models.PoolEventRefreshed:
		return styles.SuccessTextStyle
	default:
		return styles.ValueStyle
	}
}

func formatAgo(d time.Duration) string {
	switch {
	case d < time.Minute:
		return fmt.Sprintf("%ds ago", int(d.Seconds()))
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	default:
		return fmt.Sprintf("%dh ago", int(d.Hours()))
	}
}

func (m *Model) renderAboutCard() string {
	return m.card("About Antigravity Gateway",
		row("Version", version.GetVersion()),
		row("Build Date", version.GetDate()),
		row("Git Commit", version.GetCommit()),
		row("Go Version", runtime.Version()),
		row("Platform", fmt.Sprintf("%s/%s", runtime.GOOS, runtime.GOARCH)),
		"",
		fmt.Sprintf("Credentials: %s", styles.InfoTextStyle.Render(strconv.Itoa(m.state.CredentialCount()))),
	)
}
