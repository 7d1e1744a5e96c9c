package components

import (
	"strings"
	"testing"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/x/ansi"
	"github.com/stretchr/testify/assert"

	"github.com/j-veylop/antigravity-gateway/internal/models"
)

func TestRemainingPercent(t *testing.T) {
	tests := []struct {
		in   string
		want float64
	}{
		{"0.75", 75},
		{"1", 100},
		{"0", 0},
		{"", 0},
		{"garbage", 0},
		{"1.5", 100},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.InDelta(t, tt.want, RemainingPercent(tt.in), 1e-9)
		})
	}
}

func TestRenderGradientBar(t *testing.T) {
	bar := ansi.Strip(RenderGradientBar(50, 10))
	assert.Equal(t, strings.Repeat("█", 5)+strings.Repeat("░", 5), bar)

	assert.Equal(t, strings.Repeat("░", 4), ansi.Strip(RenderGradientBar(-10, 4)))
	assert.Equal(t, strings.Repeat("█", 4), ansi.Strip(RenderGradientBar(250, 4)))
	assert.Empty(t, RenderGradientBar(50, 0))
}

func TestQuotaLine(t *testing.T) {
	line := ansi.Strip(QuotaLine(models.GroupClaude, 80, 40))
	assert.True(t, strings.HasPrefix(line, "claude"))
	assert.Contains(t, line, "80%")
	assert.LessOrEqual(t, lipgloss.Width(line), 40)
}

func TestResetLine(t *testing.T) {
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	line := ansi.Strip(ResetLine(now.Add(90*time.Minute), now, 5*time.Hour, 40))
	assert.Contains(t, line, "1h 30m")

	line = ansi.Strip(ResetLine(now.Add(-time.Minute), now, 5*time.Hour, 40))
	assert.Contains(t, line, "0h 00m")
}

func TestLoadingLine(t *testing.T) {
	a := LoadingLine(models.GroupGemini, 40, 0)
	b := LoadingLine(models.GroupGemini, 40, 30)
	assert.NotEqual(t, a, b, "the shimmer moves between frames")
	assert.Contains(t, ansi.Strip(a), "gemini")
}

func TestHexToRGB(t *testing.T) {
	assert.Equal(t, [3]int{255, 107, 107}, hexToRGB("#ff6b6b"))
	assert.Equal(t, [3]int{0, 0, 0}, hexToRGB("zz"))
	assert.Equal(t, "#ff6b6b", interpolateColor("#ff6b6b", "#51cf66", 0))
}

func TestRenderLineChart(t *testing.T) {
	assert.NotEmpty(t, RenderLineChart([]float64{1, 2, 3, 4}, 20, 5, "Test"))
	assert.Contains(t, RenderLineChart(nil, 20, 5, ""), noData)
}

func TestRenderSeriesChart(t *testing.T) {
	chart := RenderSeriesChart([]Series{
		{Label: "claude-sonnet-4-5", Group: models.GroupClaude, Values: []float64{1, 2, 3}},
		{Label: "gemini-2.5-pro", Group: models.GroupGemini, Values: []float64{3}},
	}, 30, 5, "consumed %")

	plain := ansi.Strip(chart)
	assert.Contains(t, plain, "consumed %")
	assert.Contains(t, plain, "claude-sonnet-4-5")
	assert.Contains(t, plain, "gemini-2.5-pro")

	assert.Contains(t, RenderSeriesChart([]Series{{Label: "empty"}}, 30, 5, ""), noData)
}

func TestRenderSparkline(t *testing.T) {
	assert.Equal(t, "▁▄█", RenderSparkline([]float64{0, 1.5, 3}, 10))
	assert.Len(t, []rune(RenderSparkline([]float64{1, 2, 3, 4, 5, 6}, 3)), 3)
	assert.Empty(t, RenderSparkline(nil, 10))
}

func TestRenderLegend(t *testing.T) {
	legend := ansi.Strip(RenderLegend([]LegendItem{
		{Label: "A", Color: lipgloss.Color("#ffffff")},
		{Label: "B", Color: lipgloss.Color("#000000")},
	}))
	assert.Equal(t, "■ A  ■ B", legend)
}

func TestSpinner(t *testing.T) {
	s := NewSpinner("Init")
	s.SetLabel("Loading")
	assert.Equal(t, "Loading", s.Label())
	assert.Contains(t, ansi.Strip(s.View()), "Loading")
	assert.NotNil(t, s.Tick())

	_, cmd := s.Update(s.Tick()().(spinner.TickMsg))
	assert.NotNil(t, cmd)

	assert.Contains(t, ansi.Strip(s.RenderCentered(30, 3)), "Loading")
}
