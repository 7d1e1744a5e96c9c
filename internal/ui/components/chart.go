package components

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/guptarohit/asciigraph"

	"github.com/j-veylop/antigravity-gateway/internal/models"
	"github.com/j-veylop/antigravity-gateway/internal/ui/styles"
)

const noData = "No data available"

// Series is one line of a chart.
type Series struct {
	Label  string
	Group  string
	Values []float64
}

// chartColor maps a quota group to the closest asciigraph color.
func chartColor(group string) asciigraph.AnsiColor {
	switch group {
	case models.GroupClaude:
		return asciigraph.Orange
	case models.GroupGemini:
		return asciigraph.DodgerBlue
	case models.GroupBanana:
		return asciigraph.Gold
	default:
		return asciigraph.MediumPurple
	}
}

// RenderLineChart creates a single-series ASCII line chart.
func RenderLineChart(data []float64, width, height int, caption string) string {
	if len(data) == 0 {
		return styles.HelpStyle.Render(noData)
	}

	return asciigraph.Plot(data,
		asciigraph.Height(max(height, 3)),
		asciigraph.Width(max(width, 20)),
		asciigraph.Caption(caption),
	)
}

// RenderSeriesChart plots several series on one axis, padding shorter ones
// with zeros, followed by a legend.
func RenderSeriesChart(series []Series, width, height int, caption string) string {
	maxLen := 0
	for _, s := range series {
		maxLen = max(maxLen, len(s.Values))
	}
	if maxLen == 0 {
		return styles.HelpStyle.Render(noData)
	}

	data := make([][]float64, 0, len(series))
	colors := make([]asciigraph.AnsiColor, 0, len(series))
	legend := make([]LegendItem, 0, len(series))
	for _, s := range series {
		padded := make([]float64, maxLen)
		copy(padded, s.Values)
		data = append(data, padded)
		colors = append(colors, chartColor(s.Group))
		legend = append(legend, LegendItem{Label: s.Label, Color: styles.GroupColor(s.Group)})
	}

	graph := asciigraph.PlotMany(data,
		asciigraph.Height(max(height, 3)),
		asciigraph.Width(max(width, 20)),
		asciigraph.Caption(caption),
		asciigraph.SeriesColors(colors...),
	)
	return graph + "\n\n" + RenderLegend(legend)
}

var sparkChars = []rune{'▁', '▂', '▃', '▄', '▅', '▆', '▇', '█'}

// RenderSparkline creates a compact inline sparkline, sampling values down to width.
func RenderSparkline(values []float64, width int) string {
	if len(values) == 0 || width < 1 {
		return ""
	}

	maxVal := 0.0
	for _, v := range values {
		maxVal = max(maxVal, v)
	}
	if maxVal == 0 {
		maxVal = 1
	}

	step := max(float64(len(values))/float64(width), 1)

	var b strings.Builder
	for i := 0; i < width && int(float64(i)*step) < len(values); i++ {
		v := values[int(float64(i)*step)]
		idx := min(max(int(v/maxVal*float64(len(sparkChars)-1)), 0), len(sparkChars)-1)
		b.WriteRune(sparkChars[idx])
	}
	return b.String()
}

// LegendItem represents a single legend entry.
type LegendItem struct {
	Label string
	Color lipgloss.Color
}

// RenderLegend creates a chart legend.
func RenderLegend(items []LegendItem) string {
	parts := make([]string, 0, len(items))
	for _, item := range items {
		box := lipgloss.NewStyle().Foreground(item.Color).Render("■")
		parts = append(parts, fmt.Sprintf("%s %s", box, item.Label))
	}
	return strings.Join(parts, "  ")
}
