package dashboard

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/j-veylop/antigravity-gateway/internal/app"
	"github.com/j-veylop/antigravity-gateway/internal/models"
	"github.com/j-veylop/antigravity-gateway/internal/services/quota"
	"github.com/j-veylop/antigravity-gateway/internal/ui/components"
	"github.com/j-veylop/antigravity-gateway/internal/ui/styles"
)

const (
	proWindow  = 5 * time.Hour
	freeWindow = 24 * time.Hour
)

// View renders the dashboard.
func (m *Model) View() string {
	if m.state.IsInitialLoading() {
		return m.spinner.RenderCentered(m.width, m.height)
	}

	content := lipgloss.JoinVertical(lipgloss.Left,
		m.renderSummary(),
		m.renderCredentials(),
	)
	m.viewport.SetContent(content)

	return styles.DocStyle.
		Width(m.width).
		Height(m.height).
		Render(m.viewport.View())
}

func (m *Model) cardWidth() int {
	return max(m.width-6, 40)
}

func (m *Model) renderSummary() string {
	title := styles.TitleStyle.Render("Antigravity Gateway")

	stats := m.state.GetStats()
	if stats == nil {
		return lipgloss.JoinVertical(lipgloss.Left, title, styles.HelpStyle.Render("Waiting for pool stats..."), "")
	}

	cell := func(label string, value int, style lipgloss.Style) string {
		return lipgloss.JoinVertical(lipgloss.Center,
			style.Bold(true).Render(fmt.Sprintf("%d", value)),
			styles.HelpStyle.Render(label),
		)
	}
	gap := "    "
	cells := lipgloss.JoinHorizontal(lipgloss.Top,
		cell("stored", stats.Stored, styles.InfoTextStyle), gap,
		cell("active", stats.Active, styles.SuccessTextStyle), gap,
		cell("exhausted", stats.Exhausted, styles.WarningTextStyle), gap,
		cell("disabled", stats.Disabled, styles.ErrorTextStyle), gap,
		cell("pending samples", stats.PendingSamples, styles.HelpStyle),
	)

	footer := styles.HelpStyle.Render(fmt.Sprintf("rotation: %s", stats.Strategy))
	if since := m.state.TimeSinceUpdate(); since > 0 {
		footer += styles.HelpStyle.Render(fmt.Sprintf("  ·  updated %s ago", since.Truncate(time.Second)))
	}

	return lipgloss.JoinVertical(lipgloss.Left,
		title,
		styles.CardStyle.Width(m.cardWidth()).Render(lipgloss.JoinVertical(lipgloss.Left, cells, "", footer)),
	)
}

func (m *Model) renderCredentials() string {
	rows := m.state.GetCredentials()
	width := m.cardWidth()

	if len(rows) == 0 {
		return styles.CardStyle.Width(width).Render(lipgloss.JoinVertical(lipgloss.Left,
			styles.CardTitleStyle.Render("Credentials"),
			"",
			styles.HelpStyle.Render("No credentials configured"),
			styles.InfoTextStyle.Render("╰─▶ Add credentials to the credentials file or with the admin API"),
		))
	}

	selected := m.state.GetSelectedIndex()
	cards := make([]string, 0, len(rows))
	for i, row := range rows {
		style := styles.CardStyle
		if i == selected {
			style = styles.SelectedCardStyle
		}
		cards = append(cards, style.Width(width).Render(m.renderCredential(row, i == selected, width-6)))
	}
	return lipgloss.JoinVertical(lipgloss.Left, cards...)
}

func (m *Model) renderCredential(row app.CredentialRow, selected bool, width int) string {
	lines := []string{m.renderHeader(row, selected), ""}

	switch {
	case !row.View.Enable:
		lines = append(lines, styles.HelpStyle.Render("disabled, not in rotation"))
	case len(row.Groups) == 0 && m.state.AnyLoading():
		for _, g := range []string{models.GroupClaude, models.GroupGemini} {
			lines = append(lines, components.LoadingLine(g, width, m.animationFrame))
		}
	case len(row.Groups) == 0:
		lines = append(lines, styles.HelpStyle.Render("no quota data yet, press f to fetch"))
	default:
		now := m.state.Now()
		for _, g := range row.Groups {
			lines = append(lines, m.renderGroup(row.View.ID, g, now, width)...)
		}
	}

	return lipgloss.JoinVertical(lipgloss.Left, lines...)
}

func (m *Model) renderHeader(row app.CredentialRow, selected bool) string {
	prefix := "  "
	if selected {
		prefix = lipgloss.NewStyle().Foreground(styles.Primary).Bold(true).Render("▸ ")
	}

	label := row.Label()
	if len(label) > 35 {
		label = label[:32] + "..."
	}

	status := row.View.Availability
	if !row.View.Enable {
		status = "disabled"
	}
	statusStr := styles.GetAvailabilityStyle(row.View.Enable, row.View.Availability).Render(status)

	tier := string(quota.TierUnknown)
	for _, g := range row.Groups {
		if g.Tier != "" && g.Tier != string(quota.TierUnknown) {
			tier = g.Tier
			break
		}
	}

	parts := []string{
		prefix + styles.CardTitleStyle.Render(label),
		statusStr,
		styles.GetTierStyle(tier).Render(tier),
	}
	if row.View.ProjectID != "" {
		parts = append(parts, styles.HelpStyle.Render(row.View.ProjectID))
	}
	return strings.Join(parts, "  ")
}

func (m *Model) renderGroup(id string, g models.GroupSummary, now time.Time, width int) []string {
	percent := m.displayPercent(id, g.Group, components.RemainingPercent(g.MinRemaining))
	line := components.QuotaLine(g.Group, percent, width)
	if g.EstimatedRequests > 0 {
		line += styles.HelpStyle.Render(fmt.Sprintf("  ~%d req", g.EstimatedRequests))
	}

	lines := []string{line}
	if !g.EarliestReset.IsZero() {
		lines = append(lines, components.ResetLine(g.EarliestReset, now, resetWindow(g.Tier), width))
	}
	return lines
}

func resetWindow(tier string) time.Duration {
	if tier == string(quota.TierPro) {
		return proWindow
	}
	return freeWindow
}
