package usage

import (
	"fmt"
	"slices"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/j-veylop/antigravity-gateway/internal/decimal"
	"github.com/j-veylop/antigravity-gateway/internal/models"
	"github.com/j-veylop/antigravity-gateway/internal/ui/components"
	"github.com/j-veylop/antigravity-gateway/internal/ui/styles"
)

// maxChartSeries bounds the lines drawn on the shared chart.
const maxChartSeries = 4

// View renders the usage tab.
func (m *Model) View() string {
	var content string
	switch {
	case m.credentialID == "":
		content = m.renderMessage("No credential selected.", "Select one on the dashboard or accounts tab.")
	case m.report == nil && m.loading:
		content = m.renderMessage("Loading usage for "+m.label+"...", "")
	case m.report == nil || len(m.report.Models) == 0:
		content = lipgloss.JoinVertical(lipgloss.Left,
			m.renderHeader(),
			styles.HelpStyle.Render("No usage samples recorded in this window."),
			styles.HelpStyle.Render("Samples appear after requests complete through the gateway."),
		)
	default:
		content = lipgloss.JoinVertical(lipgloss.Left,
			m.renderHeader(),
			m.renderChart(),
			m.renderStats(),
		)
	}

	m.viewport.SetContent(content)
	return styles.DocStyle.
		Width(m.width).
		Height(m.height).
		Render(m.viewport.View())
}

func (m *Model) renderMessage(title, hint string) string {
	rows := []string{styles.TitleStyle.Render("Usage"), styles.HelpStyle.Render(title)}
	if hint != "" {
		rows = append(rows, styles.HelpStyle.Render(hint))
	}
	return lipgloss.JoinVertical(lipgloss.Left, rows...)
}

func (m *Model) renderHeader() string {
	label := m.label
	if len(label) > 40 {
		label = label[:37] + "..."
	}
	title := styles.TitleStyle.Render("Usage: " + label)

	badge := lipgloss.NewStyle().
		Foreground(styles.Primary).
		Bold(true).
		Padding(0, 1).
		Border(lipgloss.RoundedBorder()).
		BorderForeground(styles.Primary)

	mode := string(m.mode)
	if m.report != nil && m.mode == models.ModePrecise && !m.report.AvailableModes[models.ModePrecise] {
		mode += " (off)"
	}

	header := lipgloss.JoinHorizontal(lipgloss.Center,
		title, "  ",
		badge.Render("[m] "+mode), " ",
		badge.Render("[w] "+windowLabel(m.Window())),
	)
	return lipgloss.JoinVertical(lipgloss.Left, header, "")
}

// modelNames returns the report's models in display order.
func (m *Model) modelNames() []string {
	names := make([]string, 0, len(m.report.Models))
	for name := range m.report.Models {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

func (m *Model) renderChart() string {
	cardWidth := max(m.width-6, 40)

	var series []components.Series
	for _, name := range m.modelNames() {
		points := m.report.Models[name].Points
		if len(points) == 0 {
			continue
		}
		series = append(series, components.Series{
			Label:  name,
			Group:  models.QuotaGroupOf(name),
			Values: consumedValues(points),
		})
		if len(series) == maxChartSeries {
			break
		}
	}

	title := styles.CardTitleStyle.Render("Consumed % per request")
	chart := components.RenderSeriesChart(series, max(cardWidth-12, 30), 8, "")

	lines := []string{title, ""}
	for line := range strings.SplitSeq(chart, "\n") {
		lines = append(lines, "  "+line)
	}
	return styles.CardStyle.Width(cardWidth).Render(lipgloss.JoinVertical(lipgloss.Left, lines...))
}

func consumedValues(points []models.UsageSample) []float64 {
	values := make([]float64, 0, len(points))
	for _, p := range points {
		v, err := decimal.Parse(p.ConsumedPercent)
		if err != nil {
			continue
		}
		values = append(values, v.Float64())
	}
	return values
}

func (m *Model) renderStats() string {
	cardWidth := max(m.width-6, 40)

	header := fmt.Sprintf("%-28s %7s %8s %8s %8s %8s %10s %10s",
		"Model", "Samples", "Median", "Min", "Max", "Last", "Remaining", "Calls left")
	rows := []string{styles.CardTitleStyle.Render("Statistics"), "", styles.LabelStyle.UnsetWidth().Render(header)}

	for _, name := range m.modelNames() {
		u := m.report.Models[name]
		callsLeft := "-"
		if u.Stats.CallsLeft != nil {
			callsLeft = fmt.Sprintf("~%d", *u.Stats.CallsLeft)
		}

		label := name
		if len(label) > 28 {
			label = label[:25] + "..."
		}
		line := fmt.Sprintf("%-28s %7d %8s %8s %8s %8s %10s %10s",
			label, u.Stats.Count,
			pct(u.Stats.Median), pct(u.Stats.Min), pct(u.Stats.Max), pct(u.Stats.Last),
			pct(u.RemainingPercent), callsLeft,
		)
		rows = append(rows, lipgloss.NewStyle().Foreground(styles.GroupColor(models.QuotaGroupOf(name))).Render(line))
	}

	return styles.CardStyle.Width(cardWidth).Render(lipgloss.JoinVertical(lipgloss.Left, rows...))
}

// pct renders a percent decimal string with two decimals, or "-" when missing.
func pct(s string) string {
	if s == "" {
		return "-"
	}
	v, err := decimal.Parse(s)
	if err != nil {
		return "-"
	}
	return fmt.Sprintf("%.2f%%", v.Float64())
}
