package accounts

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/j-veylop/antigravity-gateway/internal/ui/styles"
)

var fieldLabels = []string{"Access Token:", "Refresh Token:", "Project ID:"}

// View renders the accounts tab.
func (m *Model) View() string {
	if m.state.IsInitialLoading() {
		return m.spinner.RenderCentered(m.width, m.height)
	}

	sections := []string{m.renderTitle()}

	switch {
	case m.adding:
		sections = append(sections, m.renderAddForm())
	case m.confirmDelete:
		sections = append(sections, m.renderDeleteConfirm(), m.renderTable())
	default:
		sections = append(sections, m.renderTable())
	}

	sections = append(sections, m.renderFooter())

	return styles.DocStyle.
		Width(m.width).
		Height(m.height).
		Render(lipgloss.JoinVertical(lipgloss.Left, sections...))
}

func (m *Model) renderTitle() string {
	title := styles.TitleStyle.Render("Credentials")

	subtitle := fmt.Sprintf("%d stored", m.state.CredentialCount())
	if stats := m.state.GetStats(); stats != nil {
		subtitle = fmt.Sprintf("%d stored, %d in rotation, strategy %s", stats.Stored, stats.Active, stats.Strategy)
	}

	return lipgloss.JoinVertical(lipgloss.Left, title, styles.HelpStyle.Render(subtitle), "")
}

func (m *Model) renderTable() string {
	if m.state.CredentialCount() == 0 {
		return m.renderEmptyState()
	}

	m.updateTableData()
	return styles.CardStyle.Width(max(m.width-6, 60)).Render(m.table.View())
}

func (m *Model) renderEmptyState() string {
	content := lipgloss.JoinVertical(lipgloss.Center,
		"",
		styles.SubTitleStyle.Render("No Credentials Configured"),
		"",
		styles.HelpStyle.Render("The gateway needs at least one credential to relay requests."),
		"",
		styles.InfoTextStyle.Render("Press 'n' to add a credential"),
		"",
	)

	return styles.CardStyle.Width(max(m.width-6, 40)).Render(content)
}

func (m *Model) renderAddForm() string {
	cardWidth := min(max(m.width-10, 50), 80)

	rows := []string{styles.CardTitleStyle.Render("Add Credential"), ""}

	for i, label := range fieldLabels {
		focused := formField(i) == m.focusedField
		labelStyle, inputStyle := styles.BlurredStyle, styles.BlurredInputStyle
		prefix := "  "
		if focused {
			labelStyle, inputStyle = styles.FocusedStyle, styles.FocusedInputStyle
			prefix = "> "
		}
		rows = append(rows,
			labelStyle.Render(prefix+label),
			inputStyle.Width(cardWidth-10).Render(m.inputs[i].View()),
			"",
		)
	}

	submitStyle, cancelStyle := styles.ButtonInactiveStyle, styles.ButtonInactiveStyle
	switch m.focusedField {
	case fieldSubmit:
		submitStyle = styles.ButtonActiveStyle
	case fieldCancel:
		cancelStyle = styles.ButtonActiveStyle
	}

	rows = append(rows,
		lipgloss.JoinHorizontal(lipgloss.Center,
			submitStyle.Render("Add"),
			"  ",
			cancelStyle.Render("Cancel"),
		),
		"",
		styles.HelpStyle.Render("Tab: next field | Enter: submit | Esc: cancel"),
	)

	return styles.ModalContentStyle.Width(cardWidth).Render(lipgloss.JoinVertical(lipgloss.Left, rows...))
}

func (m *Model) renderDeleteConfirm() string {
	content := lipgloss.JoinVertical(lipgloss.Center,
		"",
		styles.WarningTextStyle.Bold(true).Render("Delete Credential?"),
		"",
		"The credential will be removed from the store:",
		styles.ErrorTextStyle.Render(m.pendingDelete.Label()),
		"",
		lipgloss.JoinHorizontal(lipgloss.Center,
			styles.ButtonActiveStyle.Render("(Y)es"),
			"  ",
			styles.ButtonInactiveStyle.Render("(N)o"),
		),
		"",
	)

	return styles.CenterHorizontal(styles.ModalContentStyle.Width(50).Render(content), m.width)
}

func (m *Model) renderFooter() string {
	var shortcuts [][2]string
	switch {
	case m.adding:
		shortcuts = [][2]string{{"Tab", "next"}, {"Enter", "submit"}, {"Esc", "cancel"}}
	case m.confirmDelete:
		shortcuts = [][2]string{{"Y", "confirm"}, {"N", "cancel"}}
	default:
		shortcuts = [][2]string{
			{"e", "enable/disable"}, {"d", "delete"}, {"n", "add"},
			{"t", "token"}, {"f", "quota"}, {"s", "rotation"},
		}
	}

	parts := make([]string, 0, len(shortcuts))
	for _, s := range shortcuts {
		parts = append(parts, styles.HelpKeyStyle.Render(s[0])+" "+s[1])
	}

	return lipgloss.NewStyle().
		MarginTop(1).
		Foreground(styles.TextMuted).
		Render(strings.Join(parts, styles.HelpSeparatorStyle.Render(" | ")))
}
