package tui

import (
	"github.com/charmbracelet/lipgloss"
	"github.com/lotas/kurzfassung/internal/popup"
	"github.com/lotas/kurzfassung/internal/types"
)

var tabNames = []string{"Text", "Selected"}

func renderNavbar(active popup.Tab, level types.Compression, status string, width int) string {
	activeStyle := lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("62")).Underline(true)
	inactiveStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
	levelStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	statusStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("245"))

	var tabs string
	for i, name := range tabNames {
		if i > 0 {
			tabs += inactiveStyle.Render(" │ ")
		}
		if popup.Tab(i) == active {
			tabs += activeStyle.Render(name)
		} else {
			tabs += inactiveStyle.Render(name)
		}
	}

	left := " " + tabs + "   " + levelStyle.Render("["+string(level)+"]")

	right := statusStyle.Render(status)
	gap := width - lipgloss.Width(left) - lipgloss.Width(right) - 2
	if gap < 1 {
		gap = 1
	}
	padding := lipgloss.NewStyle().Width(gap)

	return left + padding.Render("") + right + " "
}
