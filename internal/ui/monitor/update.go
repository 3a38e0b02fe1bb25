package monitor

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"

	"pbembed/internal/app"
	"pbembed/internal/runstatus"
	"pbembed/internal/subscription"
)

const (
	headerHeight   = 3
	minPanelHeight = 3
)

func (m *model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.resize()
		return m, nil
	case logMsg:
		m.appendLog(string(msg))
		return m, waitFor(m.logCh, func(line string) tea.Msg { return logMsg(line) })
	case statusMsg:
		m.applyRuntimeStatus(string(msg))
		return m, waitFor(m.statusCh, func(status string) tea.Msg { return statusMsg(status) })
	case eventMsg:
		m.appendEvent(app.EventRecord(msg))
		return m, waitFor(m.eventCh, func(event app.EventRecord) tea.Msg { return eventMsg(event) })
	case slotsMsg:
		m.slots = msg
		m.rows = ComputeRows(m.slots, time.Now())
		m.resize()
		return m, waitFor(m.slotsCh, func(slots []subscription.SlotInfo) tea.Msg { return slotsMsg(slots) })
	case tickMsg:
		m.rows = ComputeRows(m.slots, time.Now())
		return m, tickCmd()
	case startResultMsg:
		if msg.err != nil {
			m.status = "Disconnected (error)"
			m.kind = statusError
			m.lastErr = msg.err.Error()
			return m, nil
		}
		m.running = true
		return m, nil
	case runDoneMsg:
		m.running = false
		if msg.err != nil {
			m.status = "Disconnected (error)"
			m.kind = statusError
			m.lastErr = msg.err.Error()
		} else if m.kind != statusError {
			m.status = runstatus.Disconnected
			m.kind = statusIdle
		}
		return m, nil
	case tea.KeyMsg:
		return m.handleKey(msg)
	}
	return m, nil
}

func (m *model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.Quit):
		m.cleanup()
		return m, tea.Quit
	case key.Matches(msg, m.keys.ScrollUp):
		m.logView.ScrollUp(1)
		m.followLogs = false
	case key.Matches(msg, m.keys.ScrollDown):
		m.logView.ScrollDown(1)
		m.followLogs = m.logView.AtBottom()
	case key.Matches(msg, m.keys.Follow):
		m.followLogs = true
		m.logView.GotoBottom()
	case key.Matches(msg, m.keys.Clear):
		m.logText = ""
		m.eventLog = ""
		m.logView.SetContent("")
		m.eventView.SetContent("")
	}
	return m, nil
}

func (m *model) applyRuntimeStatus(status string) {
	switch runstatus.Key(status) {
	case runstatus.KeyAuthenticated, runstatus.KeyReconnecting:
		m.kind = statusConnecting
	case runstatus.KeySubscribed, runstatus.KeyPolling:
		m.kind = statusConnected
		m.lastErr = ""
	case runstatus.KeyDisconnected:
		m.kind = statusIdle
	case runstatus.KeyDisconnectedAuth:
		m.kind = statusError
	}
	m.status = status
}

func (m *model) appendLog(line string) {
	wasAtBottom := m.logView.AtBottom()
	m.logText = appendLinesWithLimit(m.logText, line, logLineLimit)
	m.logView.SetContent(m.logText)
	if m.followLogs || wasAtBottom {
		m.logView.GotoBottom()
		m.followLogs = true
	}
}

func (m *model) appendEvent(event app.EventRecord) {
	m.events++
	m.eventLog = appendLinesWithLimit(m.eventLog, formatEventRecord(event), eventLineLimit)
	m.eventView.SetContent(m.eventLog)
	m.eventView.GotoBottom()
}

func formatEventRecord(event app.EventRecord) string {
	data := strings.Join(strings.Fields(event.Data), " ")
	if !event.Valid {
		data = "(unreadable payload)"
	}
	return fmt.Sprintf("%s %-24s %-8s %s",
		event.Time.Format("15:04:05"),
		truncateDisplayWidth(event.Topic, 24),
		event.Event,
		data,
	)
}

// resize splits the height left over by the header, slot table and help line
// between the event and log panels.
func (m *model) resize() {
	if m.width <= 0 || m.height <= 0 {
		return
	}
	innerWidth := max(m.width-panelStyle.GetHorizontalFrameSize(), 1)
	frame := panelStyle.GetVerticalFrameSize()
	slotPanel := len(m.slots) + 1 + frame
	remaining := m.height - headerHeight - slotPanel - 1 - 2*frame - 2
	eventHeight := max(remaining/3, minPanelHeight)
	logHeight := max(remaining-eventHeight, minPanelHeight)

	m.eventView.Width = innerWidth
	m.eventView.Height = eventHeight
	m.logView.Width = innerWidth
	m.logView.Height = logHeight
	m.help.Width = m.width
	if m.followLogs {
		m.logView.GotoBottom()
	}
}

func appendLinesWithLimit(current string, next string, limit int) string {
	if limit <= 0 {
		return ""
	}
	lines := splitLines(current)
	lines = append(lines, splitLines(next)...)
	if len(lines) > limit {
		lines = append([]string(nil), lines[len(lines)-limit:]...)
	}
	return strings.Join(lines, "\n")
}

func splitLines(input string) []string {
	if input == "" {
		return nil
	}
	normalized := strings.ReplaceAll(input, "\r\n", "\n")
	normalized = strings.ReplaceAll(normalized, "\r", "\n")
	lines := strings.Split(normalized, "\n")
	if len(lines) > 1 && lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	return lines
}
