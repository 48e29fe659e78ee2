package dashboard

import "github.com/charmbracelet/lipgloss"

// Theme is the palette derived from the --color setting.
type Theme struct {
	Accent lipgloss.Color
	Muted  lipgloss.Color
	Alert  lipgloss.Color
}

const maxColor = 8

// NewTheme maps a terminal colour index (0-8) to a Theme. Index 0 keeps
// the terminal's own foreground.
func NewTheme(color int) Theme {
	color = min(max(color, 0), maxColor)

	accent := lipgloss.Color("")
	if color > 0 {
		accent = lipgloss.Color(ansiColors[color])
	}

	return Theme{
		Accent: accent,
		Muted:  lipgloss.Color("8"),
		Alert:  lipgloss.Color("1"),
	}
}

// 1 red, 2 green, 3 yellow, 4 blue, 5 magenta, 6 cyan, 7 white, 8 bright black
var ansiColors = [maxColor + 1]string{"", "1", "2", "3", "4", "5", "6", "7", "8"}

func (t Theme) accent() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(t.Accent)
}

func (t Theme) title() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(t.Accent).Bold(true)
}

func (t Theme) muted() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(t.Muted)
}

func (t Theme) alert() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(t.Alert).Bold(true)
}
