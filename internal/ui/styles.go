package ui

import "github.com/charmbracelet/lipgloss"

func fg(color string) lipgloss.Style {
	return lipgloss.NewStyle().Foreground(lipgloss.Color(color))
}

var (
	faint     = lipgloss.NewStyle().Faint(true)
	titleText = fg("12").Bold(true)
	barDone   = fg("10")
	barLeft   = fg("238")
	colHeader = lipgloss.NewStyle().Bold(true).Faint(true)
	selected  = lipgloss.NewStyle().Background(lipgloss.Color("236")).Bold(true)
	service   = fg("13")
	tabOn     = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("0")).Background(lipgloss.Color("10"))

	// stateStyle colours the STATE column.
	stateStyle = map[rowState]lipgloss.Style{
		stateUp:     fg("14"),
		stateOpen:   fg("10"),
		stateClosed: fg("8"),
		stateHop:    fg("11"),
	}
)
