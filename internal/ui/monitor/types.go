package monitor

import (
	"context"
	"sync"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"

	"pbembed/internal/app"
	"pbembed/internal/config"
	"pbembed/internal/logging"
	"pbembed/internal/runtime"
	"pbembed/internal/subscription"
)

const (
	logLineLimit   = 2_000
	eventLineLimit = 500
)

type logMsg string
type statusMsg string
type eventMsg app.EventRecord
type slotsMsg []subscription.SlotInfo
type tickMsg struct{}

type runDoneMsg struct {
	err error
}

type startResultMsg struct {
	err error
}

type statusKind int

const (
	statusIdle statusKind = iota
	statusConnecting
	statusConnected
	statusError
)

type modelDeps struct {
	runner      *runtime.Controller
	logger      *logging.Logger
	opts        config.Options
	unsubscribe func()
	rootCancel  context.CancelFunc
	program     *tea.Program
}

type modelChannels struct {
	logCh    chan string
	statusCh chan string
	eventCh  chan app.EventRecord
	slotsCh  chan []subscription.SlotInfo
}

type modelRuntime struct {
	running  bool
	status   string
	kind     statusKind
	lastErr  string
	slots    []subscription.SlotInfo
	rows     []SlotRow
	events   int
	eventLog string
	logText  string
}

type model struct {
	buildVersion string
	modelDeps
	modelChannels
	modelRuntime

	width      int
	height     int
	keys       keyMap
	help       help.Model
	eventView  viewport.Model
	logView    viewport.Model
	followLogs bool

	cleanupOnce sync.Once
}
