package monitor

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

const (
	slotIndexWidth = 4
	slotTopicWidth = 32
	slotCountWidth = 9
)

func (m *model) View() string {
	width := m.width
	if width <= 0 {
		width = 100
	}
	sections := []string{
		m.renderHeader(width),
		framePanel(m.renderSlots(width), width),
		framePanel(titleStyle.Render(fmt.Sprintf("Events (%d)", m.events))+"\n"+m.eventView.View(), width),
		framePanel(titleStyle.Render("Log")+"\n"+m.logView.View(), width),
		m.help.View(m.keys),
	}
	return lipgloss.JoinVertical(lipgloss.Left, sections...)
}

func (m *model) renderHeader(width int) string {
	title := titleStyle.Render("pbembed") + " " + dimStyle.Render(m.buildVersion)
	style, ok := statusStyles[m.kind]
	if !ok {
		style = dimStyle
	}
	status := "Status: " + style.Render(m.status)
	target := dimStyle.Render(truncateDisplayWidth(m.opts.BaseURL, max(width-lipgloss.Width(status)-4, 0)))
	detail := ""
	if m.lastErr != "" {
		detail = errorStyle.Render(truncateDisplayWidth(m.lastErr, width))
	}
	return strings.Join([]string{title, status + "  " + target, detail}, "\n")
}

func (m *model) renderSlots(width int) string {
	inner := max(width-panelStyle.GetHorizontalFrameSize(), 1)
	reasonWidth := max(inner-slotIndexWidth-slotTopicWidth-2*slotCountWidth-6, 0)

	var b strings.Builder
	b.WriteString(titleStyle.Render(fmt.Sprintf("Subscriptions (%d/%d)", activeRows(m.rows), len(m.rows))))
	if len(m.rows) == 0 {
		b.WriteString("\n" + dimStyle.Render("No subscriptions yet."))
		return b.String()
	}
	for _, row := range m.rows {
		style := kindStyles[row.Kind]
		line := strings.Join([]string{
			padRight(style.Render(kindBadge(row.Kind))+" "+strconv.Itoa(row.Index), slotIndexWidth),
			padRight(row.Topic, slotTopicWidth),
			padRight(fmt.Sprintf("rx %d", row.Delivered), slotCountWidth),
			padRight(fmt.Sprintf("drop %d", row.Dropped), slotCountWidth),
			style.Render(truncateDisplayWidth(row.Reason, reasonWidth)),
		}, " ")
		b.WriteString("\n" + line)
	}
	return b.String()
}

func activeRows(rows []SlotRow) int {
	n := 0
	for _, row := range rows {
		if row.Kind != Empty {
			n++
		}
	}
	return n
}
