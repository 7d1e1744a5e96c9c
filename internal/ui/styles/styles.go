// Package styles defines the visual styling for the monitor.
package styles

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/j-veylop/antigravity-gateway/internal/models"
)

// Color definitions.
var (
	Primary   = lipgloss.Color("205")
	Secondary = lipgloss.Color("63")
	Subtle    = lipgloss.Color("240")

	// Quota group colors.
	Claude = lipgloss.Color("208")
	Gemini = lipgloss.Color("39")
	Banana = lipgloss.Color("226")
	Other  = lipgloss.Color("141")

	Success = lipgloss.Color("42")
	Error   = lipgloss.Color("196")
	Warning = lipgloss.Color("220")
	Info    = lipgloss.Color("39")

	BgDark   = lipgloss.Color("235")
	BgLight  = lipgloss.Color("237")
	BgAccent = lipgloss.Color("236")

	TextPrimary   = lipgloss.Color("252")
	TextSecondary = lipgloss.Color("245")
	TextMuted     = lipgloss.Color("240")
)

// ToastStyle frames floating notifications.
var ToastStyle = lipgloss.NewStyle().
	Border(lipgloss.RoundedBorder()).
	BorderForeground(Primary).
	Padding(0, 1).
	MarginBottom(1)

// TitleStyle is used for main headings.
var TitleStyle = lipgloss.NewStyle().
	Bold(true).
	Foreground(Primary).
	MarginBottom(1)

// SubTitleStyle is used for section headings.
var SubTitleStyle = lipgloss.NewStyle().
	Bold(true).
	Foreground(Secondary)

// DocStyle provides consistent document margins.
var DocStyle = lipgloss.NewStyle().
	Margin(1, 2).
	Padding(0, 1)

// CardStyle creates a bordered card container.
var CardStyle = lipgloss.NewStyle().
	Border(lipgloss.RoundedBorder()).
	BorderForeground(Subtle).
	Padding(0, 2).
	MarginBottom(1)

// SelectedCardStyle highlights the selected card.
var SelectedCardStyle = CardStyle.
	BorderForeground(Primary)

// CardTitleStyle styles card headers.
var CardTitleStyle = lipgloss.NewStyle().
	Bold(true).
	Foreground(TextPrimary)

// LabelStyle styles field labels in key/value listings.
var LabelStyle = lipgloss.NewStyle().
	Foreground(TextSecondary).
	Width(18)

// ValueStyle styles field values in key/value listings.
var ValueStyle = lipgloss.NewStyle().
	Foreground(TextPrimary)

// HelpStyle is the base style for help text.
var HelpStyle = lipgloss.NewStyle().
	Foreground(TextMuted)

// HelpPanelStyle creates the help overlay panel.
var HelpPanelStyle = lipgloss.NewStyle().
	Border(lipgloss.DoubleBorder()).
	BorderForeground(Primary).
	Padding(1, 3).
	Background(BgDark)

// ModalContentStyle styles confirmation dialogs.
var ModalContentStyle = lipgloss.NewStyle().
	Border(lipgloss.DoubleBorder()).
	BorderForeground(Warning).
	Padding(1, 2)

// Form input styles.
var (
	FocusedStyle = lipgloss.NewStyle().Foreground(Primary).Bold(true)
	BlurredStyle = lipgloss.NewStyle().Foreground(TextMuted)

	FocusedInputStyle = lipgloss.NewStyle().
				Border(lipgloss.RoundedBorder()).
				BorderForeground(Primary).
				Padding(0, 1)
	BlurredInputStyle = FocusedInputStyle.BorderForeground(Subtle)

	ButtonActiveStyle = lipgloss.NewStyle().
				Padding(0, 2).
				Background(Primary).
				Foreground(lipgloss.Color("229")).
				Bold(true)
	ButtonInactiveStyle = lipgloss.NewStyle().
				Padding(0, 2).
				Background(BgLight).
				Foreground(TextSecondary)
)

// HelpKeyStyle styles keyboard shortcut keys in footers.
var HelpKeyStyle = lipgloss.NewStyle().
	Foreground(Primary).
	Bold(true)

// HelpSeparatorStyle separates footer shortcuts.
var HelpSeparatorStyle = lipgloss.NewStyle().Foreground(Subtle)

var (
	// AvailableStyle marks credentials that can serve every group.
	AvailableStyle = lipgloss.NewStyle().Foreground(Success)
	// ExhaustedStyle marks credentials that are out of quota.
	ExhaustedStyle = lipgloss.NewStyle().Foreground(Warning).Bold(true)
	// DisabledStyle marks credentials removed from rotation.
	DisabledStyle = lipgloss.NewStyle().Foreground(Subtle).Strikethrough(true)
)

var (
	// QuotaHighStyle for high quota percentages (>50%).
	QuotaHighStyle = lipgloss.NewStyle().Foreground(Success)
	// QuotaMediumStyle for medium quota percentages (20-50%).
	QuotaMediumStyle = lipgloss.NewStyle().Foreground(Warning)
	// QuotaLowStyle for low quota percentages (<20%).
	QuotaLowStyle = lipgloss.NewStyle().Foreground(Error)
)

var (
	TierProStyle     = lipgloss.NewStyle().Foreground(Success).Bold(true)
	TierFreeStyle    = lipgloss.NewStyle().Foreground(Warning)
	TierUnknownStyle = lipgloss.NewStyle().Foreground(Subtle)
)

var (
	ErrorTextStyle   = lipgloss.NewStyle().Foreground(Error)
	SuccessTextStyle = lipgloss.NewStyle().Foreground(Success)
	WarningTextStyle = lipgloss.NewStyle().Foreground(Warning)
	InfoTextStyle    = lipgloss.NewStyle().Foreground(Info)
)

// GetQuotaStyle returns the style for a remaining-quota percentage.
func GetQuotaStyle(percent float64) lipgloss.Style {
	switch {
	case percent > 50:
		return QuotaHighStyle
	case percent > 20:
		return QuotaMediumStyle
	default:
		return QuotaLowStyle
	}
}

// GetTierStyle returns the style for a quota tier label.
func GetTierStyle(tier string) lipgloss.Style {
	switch tier {
	case "PRO", "ULTRA":
		return TierProStyle
	case "FREE":
		return TierFreeStyle
	default:
		return TierUnknownStyle
	}
}

// GetAvailabilityStyle returns the style for a credential's status.
func GetAvailabilityStyle(enabled bool, availability string) lipgloss.Style {
	switch {
	case !enabled:
		return DisabledStyle
	case availability == models.Available().String():
		return AvailableStyle
	default:
		return ExhaustedStyle
	}
}

// GroupColor returns the accent color of a quota group.
func GroupColor(group string) lipgloss.Color {
	switch group {
	case models.GroupClaude:
		return Claude
	case models.GroupGemini:
		return Gemini
	case models.GroupBanana:
		return Banana
	default:
		return Other
	}
}

// CenterHorizontal centers content horizontally within a given width.
func CenterHorizontal(content string, width int) string {
	return lipgloss.NewStyle().Width(width).Align(lipgloss.Center).Render(content)
}

// CenterBoth centers content both horizontally and vertically.
func CenterBoth(content string, width, height int) string {
	return lipgloss.NewStyle().
		Width(width).
		Height(height).
		Align(lipgloss.Center).
		AlignVertical(lipgloss.Center).
		Render(content)
}
