// Package monitor is the terminal dashboard shown with --monitor: connection
// status, the subscription slots, delivered events and the live log.
package monitor

import (
	"context"
	"time"

	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"

	"pbembed/internal/app"
	"pbembed/internal/config"
	"pbembed/internal/logging"
	"pbembed/internal/runctx"
	"pbembed/internal/runtime"
	"pbembed/internal/subscription"
)

const (
	logChannelBufferSize    = 512
	eventChannelBufferSize  = 128
	statusChannelBufferSize = 16
	slotsChannelBufferSize  = 1
	tickInterval            = time.Second
	stopTimeout             = 5 * time.Second
)

// Run shows the dashboard until the user quits or ctx ends. Terminal log
// output is disabled while the dashboard owns the screen.
func Run(rootCtx context.Context, buildVersion string, opts config.Options, logger *logging.Logger) error {
	logger.SetTerminalOutputEnabled(false)
	defer logger.SetTerminalOutputEnabled(true)
	logger.Info("starting monitor", logging.Field("version", buildVersion))

	m := newModel(rootCtx, buildVersion, opts, logger)
	program := tea.NewProgram(m, tea.WithAltScreen(), tea.WithContext(rootCtx))
	m.program = program
	_, runErr := program.Run()
	m.cleanup()
	if !m.runner.Wait(stopTimeout) {
		logger.Warn("service did not stop in time", logging.Field("timeout", stopTimeout.String()))
	}
	if runErr != nil && rootCtx.Err() != nil {
		return nil
	}
	return runErr
}

func newModel(rootCtx context.Context, buildVersion string, opts config.Options, logger *logging.Logger) *model {
	if rootCtx == nil {
		rootCtx = context.Background()
	}
	runCtx, runCancel := context.WithCancel(rootCtx)

	m := &model{
		buildVersion: buildVersion,
		modelDeps: modelDeps{
			runner:     runtime.NewController(runCtx),
			logger:     logger,
			opts:       opts,
			rootCancel: runCancel,
		},
		modelChannels: modelChannels{
			logCh:    make(chan string, logChannelBufferSize),
			statusCh: make(chan string, statusChannelBufferSize),
			eventCh:  make(chan app.EventRecord, eventChannelBufferSize),
			slotsCh:  make(chan []subscription.SlotInfo, slotsChannelBufferSize),
		},
		modelRuntime: modelRuntime{
			status: "Idle",
			kind:   statusIdle,
		},
		keys:       newKeyMap(),
		help:       newHelp(),
		eventView:  viewport.New(80, 8),
		logView:    viewport.New(80, 10),
		followLogs: true,
	}

	m.unsubscribe = logger.Subscribe(func(event logging.Event) {
		runctx.SendLatest(m.logCh, logging.FormatEventANSI(event))
	})
	return m
}

func (m *model) Init() tea.Cmd {
	return tea.Batch(
		waitFor(m.logCh, func(line string) tea.Msg { return logMsg(line) }),
		waitFor(m.statusCh, func(status string) tea.Msg { return statusMsg(status) }),
		waitFor(m.eventCh, func(event app.EventRecord) tea.Msg { return eventMsg(event) }),
		waitFor(m.slotsCh, func(slots []subscription.SlotInfo) tea.Msg { return slotsMsg(slots) }),
		tickCmd(),
		m.startCmd(),
	)
}

func (m *model) startCmd() tea.Cmd {
	m.status = "Connecting..."
	m.kind = statusConnecting
	return func() tea.Msg {
		err := m.runner.Start(m.opts, m.logger, runtime.StartHooks{
			OnStatus: func(status string) { runctx.SendLatest(m.statusCh, status) },
			OnEvent:  func(event app.EventRecord) { runctx.SendLatest(m.eventCh, event) },
			OnSlots:  func(slots []subscription.SlotInfo) { runctx.SendLatest(m.slotsCh, slots) },
			OnExit:   m.onRuntimeExit,
		})
		return startResultMsg{err: err}
	}
}

func (m *model) onRuntimeExit(runErr error) {
	if m.program == nil {
		return
	}
	m.program.Send(runDoneMsg{err: runErr})
}

func waitFor[T any](ch <-chan T, wrap func(T) tea.Msg) tea.Cmd {
	return func() tea.Msg {
		value, ok := <-ch
		if !ok {
			return nil
		}
		return wrap(value)
	}
}

func tickCmd() tea.Cmd {
	return tea.Tick(tickInterval, func(time.Time) tea.Msg {
		return tickMsg{}
	})
}

func (m *model) cleanup() {
	m.cleanupOnce.Do(func() {
		m.logger.Debug("monitor cleanup started")
		if m.rootCancel != nil {
			m.rootCancel()
		}
		if m.unsubscribe != nil {
			m.unsubscribe()
		}
		m.runner.Stop()
		m.logger.Debug("monitor cleanup complete")
	})
}
