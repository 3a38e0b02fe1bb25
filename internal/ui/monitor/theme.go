package monitor

import (
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/x/ansi"
)

var (
	panelStyle = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("69"))
	dimStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	errorStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Bold(true)

	statusStyles = map[statusKind]lipgloss.Style{
		statusIdle:       lipgloss.NewStyle().Foreground(lipgloss.Color("245")),
		statusConnecting: lipgloss.NewStyle().Foreground(lipgloss.Color("11")),
		statusConnected:  lipgloss.NewStyle().Foreground(lipgloss.Color("10")).Bold(true),
		statusError:      errorStyle,
	}

	kindStyles = map[Kind]lipgloss.Style{
		Empty:        lipgloss.NewStyle().Foreground(lipgloss.Color("240")),
		Fresh:        lipgloss.NewStyle().Foreground(lipgloss.Color("10")),
		Quiet:        lipgloss.NewStyle().Foreground(lipgloss.Color("11")),
		Stale:        lipgloss.NewStyle().Foreground(lipgloss.Color("208")),
		Reconnecting: lipgloss.NewStyle().Foreground(lipgloss.Color("9")),
	}
)

func kindBadge(kind Kind) string {
	switch kind {
	case Fresh:
		return "●"
	case Quiet:
		return "◐"
	case Stale:
		return "○"
	case Reconnecting:
		return "↻"
	default:
		return "·"
	}
}

func framePanel(content string, width int) string {
	inner := max(width-panelStyle.GetHorizontalFrameSize(), 1)
	return panelStyle.Width(inner).Render(content)
}

// truncateDisplayWidth shortens value to width terminal cells, ending with an
// ellipsis when cut.
func truncateDisplayWidth(value string, width int) string {
	if width <= 0 {
		return ""
	}
	if ansi.StringWidth(value) <= width {
		return value
	}
	if width == 1 {
		return "…"
	}
	limit := max(width-ansi.StringWidth("…"), 0)
	var b strings.Builder
	current := 0
	for _, r := range value {
		w := ansi.StringWidth(string(r))
		if current+w > limit {
			break
		}
		b.WriteRune(r)
		current += w
	}
	return b.String() + "…"
}

func padRight(value string, width int) string {
	value = truncateDisplayWidth(value, width)
	if gap := width - ansi.StringWidth(value); gap > 0 {
		return value + strings.Repeat(" ", gap)
	}
	return value
}
