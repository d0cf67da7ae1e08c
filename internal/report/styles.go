package report

import (
	"strings"

	"github.com/charmbracelet/lipgloss"
)

var (
	accent  = lipgloss.Color("#2563EB")
	fg      = lipgloss.Color("#E5E7EB")
	dim     = lipgloss.Color("#6B7280")
	faint   = lipgloss.Color("#3F3F46")
	success = lipgloss.Color("#22C55E")
	danger  = lipgloss.Color("#EF4444")
	warning = lipgloss.Color("#F59E0B")
	info    = lipgloss.Color("#8B949E")
)

var (
	boxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(accent).
			Padding(0, 2)

	titleStyle    = lipgloss.NewStyle().Bold(true).Foreground(fg)
	sectionStyle  = lipgloss.NewStyle().Bold(true).Foreground(accent)
	dimStyle      = lipgloss.NewStyle().Foreground(dim)
	faintStyle    = lipgloss.NewStyle().Foreground(faint)
	passStyle     = lipgloss.NewStyle().Foreground(success).Bold(true)
	failStyle     = lipgloss.NewStyle().Foreground(danger).Bold(true)
	errorTagStyle = lipgloss.NewStyle().Foreground(danger).Bold(true)
	warnTagStyle  = lipgloss.NewStyle().Foreground(warning).Bold(true)
	infoTagStyle  = lipgloss.NewStyle().Foreground(info)
	pathStyle     = lipgloss.NewStyle().Foreground(fg)
	separatorLine = faintStyle.Render(strings.Repeat("─", 64))

	levelColors = map[string]lipgloss.Color{
		"High":   success,
		"Medium": warning,
		"Low":    dim,
	}
)
