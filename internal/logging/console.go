package logging

import (
	"log/slog"
	"os"
	"strings"
	"sync"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
)

var forceColorOnce sync.Once

func shouldPrettyPrint() bool {
	term := strings.TrimSpace(os.Getenv("TERM"))
	if term == "" || term == "dumb" {
		return false
	}
	return os.Getenv("NO_COLOR") == ""
}

func ensureColorOutput() {
	forceColorOnce.Do(func() {
		lipgloss.SetColorProfile(termenv.ANSI256)
	})
}

// FormatEventANSI renders one event with terminal colors. JSON fields are
// drawn as indented boxes below the header line.
func FormatEventANSI(event Event) string {
	ensureColorOutput()
	ts := lipgloss.NewStyle().Foreground(lipgloss.Color("240")).Render(event.Time.Format("15:04:05.000"))
	label, style := levelBadge(event.Level)
	msg := lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("252")).Render(event.Message)
	line := lipgloss.JoinHorizontal(lipgloss.Center, ts, " ", style.Render(label), " ", msg)

	keyStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("117"))
	valStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("255"))
	sepStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("238"))

	inline := make([]string, 0, len(event.Fields))
	blocks := make([]string, 0)
	for _, key := range orderedFieldKeys(event.Level, event.Fields) {
		value := event.Fields[key]
		if pretty, ok := prettyJSONValue(value); ok {
			box := lipgloss.NewStyle().
				Border(lipgloss.RoundedBorder()).
				BorderForeground(lipgloss.Color("245")).
				Padding(0, 1).
				Render(pretty)
			blocks = append(blocks, keyStyle.Render(key)+sepStyle.Render("=")+"\n"+box)
			continue
		}
		inline = append(inline, keyStyle.Render(key)+sepStyle.Render("=")+valStyle.Render(formatFieldValue(value)))
	}
	if len(inline) > 0 {
		line += "  " + strings.Join(inline, " ")
	}
	for _, block := range blocks {
		line += "\n" + lipgloss.NewStyle().MarginLeft(2).Render(block)
	}
	return line + "\n"
}

func levelBadge(level slog.Level) (string, lipgloss.Style) {
	base := lipgloss.NewStyle().Bold(true).Padding(0, 1)
	switch {
	case level <= slog.LevelDebug:
		return "DEBUG", base.Foreground(lipgloss.Color("255")).Background(lipgloss.Color("240"))
	case level <= slog.LevelInfo:
		return "INFO", base.Foreground(lipgloss.Color("230")).Background(lipgloss.Color("31"))
	case level <= slog.LevelWarn:
		return "WARN", base.Foreground(lipgloss.Color("234")).Background(lipgloss.Color("214"))
	default:
		return "ERROR", base.Foreground(lipgloss.Color("231")).Background(lipgloss.Color("160"))
	}
}
