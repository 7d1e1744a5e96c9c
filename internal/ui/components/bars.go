// Package components provides reusable UI components.
package components

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/j-veylop/antigravity-gateway/internal/decimal"
	"github.com/j-veylop/antigravity-gateway/internal/logger"
	"github.com/j-veylop/antigravity-gateway/internal/ui/styles"
)

const (
	gradientLow  = "#ff6b6b"
	gradientHigh = "#51cf66"
	timeFrom     = "#ffd93d"
	timeTo       = "#6c5ce7"
)

var loadingDots = []string{"⠋", "⠙", "⠹", "⠸", "⠼", "⠴", "⠦", "⠧", "⠇", "⠏"}

// RemainingPercent converts a decimal remaining fraction ("0.75") to a
// percentage. Unparseable values read as zero.
func RemainingPercent(fraction string) float64 {
	if fraction == "" {
		return 0
	}
	v, err := decimal.Parse(fraction)
	if err != nil {
		return 0
	}
	return v.Clamp01().Float64() * 100
}

// RenderGradientBar renders width cells, filled to percent with a red to green gradient.
func RenderGradientBar(percent float64, width int) string {
	return renderBar(percent/100, width, gradientLow, gradientHigh)
}

// RenderTimeBar renders elapsed as a fraction of a reset window.
func RenderTimeBar(elapsed float64, width int) string {
	return renderBar(elapsed, width, timeFrom, timeTo)
}

func renderBar(fraction float64, width int, from, to string) string {
	if width < 1 {
		return ""
	}
	filled := min(max(int(float64(width)*fraction), 0), width)

	var b strings.Builder
	empty := lipgloss.NewStyle().Foreground(styles.Subtle)
	for i := range width {
		if i >= filled {
			b.WriteString(empty.Render("░"))
			continue
		}
		t := float64(i) / float64(max(1, width-1))
		b.WriteString(lipgloss.NewStyle().Foreground(lipgloss.Color(interpolateColor(from, to, t))).Render("█"))
	}
	return b.String()
}

// QuotaLine renders "label [bar] pct" for one quota group.
func QuotaLine(label string, percent float64, width int) string {
	const percentWidth = 6
	labelStr := lipgloss.NewStyle().
		Foreground(styles.TextSecondary).
		Width(8).
		Render(label)
	barWidth := max(width-lipgloss.Width(labelStr)-percentWidth-4, 5)

	percentStr := styles.GetQuotaStyle(percent).
		Width(percentWidth).
		Align(lipgloss.Right).
		Render(fmt.Sprintf("%.0f%%", percent))

	return fmt.Sprintf("%s [%s] %s", labelStr, RenderGradientBar(percent, barWidth), percentStr)
}

// ResetLine renders the time left until a group's quota resets within its window.
func ResetLine(reset, now time.Time, window time.Duration, width int) string {
	const timeWidth = 8
	barWidth := max(width-8-timeWidth-4, 5)

	left := max(reset.Sub(now), 0)
	elapsed := 1.0
	if window > 0 {
		elapsed = min(max(1-float64(left)/float64(window), 0), 1)
	}

	timeStr := lipgloss.NewStyle().
		Foreground(styles.TextSecondary).
		Width(timeWidth).
		Align(lipgloss.Right).
		Render(fmt.Sprintf("%dh %02dm", int(left.Hours()), int(left.Minutes())%60))

	return fmt.Sprintf("%s [%s] %s", strings.Repeat(" ", 8), RenderTimeBar(elapsed, barWidth), timeStr)
}

// LoadingLine renders a shimmering placeholder bar while quota is fetched.
// frame advances the shimmer; callers drive it from an animation tick.
func LoadingLine(group string, width, frame int) string {
	const cycle = 120
	barWidth := max(width-8-6-4, 10)
	accent := styles.GroupColor(group)

	t := float64(frame%cycle) / float64(cycle)
	p := t * 2
	if t >= 0.5 {
		p = (1 - t) * 2
	}
	eased := p * p * (3 - 2*p)
	pos := int(eased * float64(barWidth))

	var b strings.Builder
	for i := range barWidth {
		dist := pos - i
		if dist < 0 {
			dist = -dist
		}
		switch {
		case dist < 3:
			b.WriteString(lipgloss.NewStyle().Foreground(accent).Render("▓"))
		case dist < 5:
			b.WriteString(lipgloss.NewStyle().Foreground(styles.TextSecondary).Render("▒"))
		default:
			b.WriteString(lipgloss.NewStyle().Foreground(styles.BgLight).Render("░"))
		}
	}

	label := lipgloss.NewStyle().Foreground(styles.TextSecondary).Width(8).Render(group)
	dot := lipgloss.NewStyle().Foreground(accent).Width(6).Align(lipgloss.Right).
		Render(loadingDots[(frame/2)%len(loadingDots)])
	return fmt.Sprintf("%s [%s] %s", label, b.String(), dot)
}

func interpolateColor(fromHex, toHex string, t float64) string {
	from := hexToRGB(fromHex)
	to := hexToRGB(toHex)

	r := int(float64(from[0]) + t*(float64(to[0])-float64(from[0])))
	g := int(float64(from[1]) + t*(float64(to[1])-float64(from[1])))
	b := int(float64(from[2]) + t*(float64(to[2])-float64(from[2])))

	return fmt.Sprintf("#%02x%02x%02x", r, g, b)
}

func hexToRGB(hex string) [3]int {
	hex = strings.TrimPrefix(hex, "#")
	var r, g, b int
	if _, err := fmt.Sscanf(hex, "%02x%02x%02x", &r, &g, &b); err != nil {
		logger.Error("failed to parse hex color", "hex", hex, "error", err)
		return [3]int{0, 0, 0}
	}
	return [3]int{r, g, b}
}
