package tui

import (
	"fmt"
	"sort"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/randomizedcoder/go-specinvoke/internal/timer"
)

// =============================================================================
// Messages
// =============================================================================

// TickMsg is sent periodically to update the display.
type TickMsg time.Time

// LaunchedMsg reports a child that was started.
type LaunchedMsg struct {
	Num     uint
	Pid     int
	Command string
	Start   time.Time
}

// ReapedMsg reports a child whose exit status was collected.
type ReapedMsg struct {
	Num      uint
	Pid      int
	ExitCode int
	Elapsed  time.Duration
}

// CalibrationMsg carries the startup timer calibration.
type CalibrationMsg struct {
	Calibration timer.Calibration
}

// DoneMsg signals that every child has been reaped.
type DoneMsg struct{}

// QuitMsg signals the TUI should exit.
type QuitMsg struct{}

// =============================================================================
// Model
// =============================================================================

// maxFinished is how many finished copies the dashboard remembers.
const maxFinished = 50

// copyRow is one child as shown on the dashboard.
type copyRow struct {
	Num      uint
	Pid      int
	Command  string
	Start    time.Time
	ExitCode int
	Elapsed  time.Duration
}

// LogSource provides recent launch-log lines.
type LogSource interface {
	RecentLines(n int) []string
}

// Config holds TUI configuration.
type Config struct {
	TargetCopies int
	Shell        string
	MetricsAddr  string
	LogSource    LogSource
}

// Model represents the TUI state.
type Model struct {
	// Configuration
	targetCopies int
	shell        string
	metricsAddr  string
	logSource    LogSource

	// Current state
	launched    int
	reaped      int
	failed      int
	signalled   int
	peak        int
	outstanding map[int]copyRow
	finished    []copyRow
	calibration *timer.Calibration
	startTime   time.Time
	lastUpdate  time.Time
	done        bool

	// Display options
	width        int
	height       int
	detailedView bool

	quitting bool
}

// New creates a new TUI model.
func New(cfg Config) Model {
	return Model{
		targetCopies: cfg.TargetCopies,
		shell:        cfg.Shell,
		metricsAddr:  cfg.MetricsAddr,
		logSource:    cfg.LogSource,
		outstanding:  make(map[int]copyRow),
		startTime:    time.Now(),
		lastUpdate:   time.Now(),
		width:        80,
		height:       24,
	}
}

// =============================================================================
// Bubble Tea Interface
// =============================================================================

// Init initializes the model.
func (m Model) Init() tea.Cmd {
	return tickCmd()
}

// Update handles messages.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			m.quitting = true
			return m, tea.Quit
		case "d":
			m.detailedView = !m.detailedView
			return m, nil
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case TickMsg:
		m.lastUpdate = time.Time(msg)
		return m, tickCmd()

	case LaunchedMsg:
		m.launched++
		m.outstanding[msg.Pid] = copyRow{
			Num:     msg.Num,
			Pid:     msg.Pid,
			Command: msg.Command,
			Start:   msg.Start,
		}
		if len(m.outstanding) > m.peak {
			m.peak = len(m.outstanding)
		}
		return m, nil

	case ReapedMsg:
		row, ok := m.outstanding[msg.Pid]
		if !ok {
			row = copyRow{Num: msg.Num, Pid: msg.Pid}
		}
		delete(m.outstanding, msg.Pid)
		row.ExitCode = msg.ExitCode
		row.Elapsed = msg.Elapsed

		m.reaped++
		switch {
		case msg.ExitCode > 128:
			m.signalled++
		case msg.ExitCode != 0:
			m.failed++
		}

		m.finished = append(m.finished, row)
		if len(m.finished) > maxFinished {
			m.finished = m.finished[len(m.finished)-maxFinished:]
		}
		return m, nil

	case CalibrationMsg:
		cal := msg.Calibration
		m.calibration = &cal
		return m, nil

	case DoneMsg:
		m.done = true
		return m, nil

	case QuitMsg:
		m.quitting = true
		return m, tea.Quit
	}

	return m, nil
}

// View renders the TUI.
func (m Model) View() string {
	if m.quitting {
		return ""
	}

	if m.detailedView {
		return m.renderDetailedView()
	}
	return m.renderSummaryView()
}

// =============================================================================
// Commands
// =============================================================================

// tickCmd returns a command that sends a tick after 500ms.
func tickCmd() tea.Cmd {
	return tea.Tick(500*time.Millisecond, func(t time.Time) tea.Msg {
		return TickMsg(t)
	})
}

// =============================================================================
// Accessors
// =============================================================================

// Elapsed returns the time since the run started.
func (m Model) Elapsed() time.Duration {
	return time.Since(m.startTime)
}

// Launched returns the number of children started.
func (m Model) Launched() int {
	return m.launched
}

// Reaped returns the number of children collected.
func (m Model) Reaped() int {
	return m.reaped
}

// Outstanding returns the number of children not yet reaped.
func (m Model) Outstanding() int {
	return len(m.outstanding)
}

// Failed returns the number of children with a non-zero, non-signal exit.
func (m Model) Failed() int {
	return m.failed
}

// Signalled returns the number of children killed by a signal.
func (m Model) Signalled() int {
	return m.signalled
}

// Done reports whether every child has been reaped.
func (m Model) Done() bool {
	return m.done
}

// LaunchProgress returns launched/target (0.0 to 1.0).
func (m Model) LaunchProgress() float64 {
	if m.targetCopies == 0 {
		return 0
	}
	return float64(m.launched) / float64(m.targetCopies)
}

// ReapProgress returns reaped/target (0.0 to 1.0).
func (m Model) ReapProgress() float64 {
	if m.targetCopies == 0 {
		return 0
	}
	return float64(m.reaped) / float64(m.targetCopies)
}

// outstandingRows returns outstanding children ordered by copy number.
func (m Model) outstandingRows() []copyRow {
	rows := make([]copyRow, 0, len(m.outstanding))
	for _, row := range m.outstanding {
		rows = append(rows, row)
	}
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].Num != rows[j].Num {
			return rows[i].Num < rows[j].Num
		}
		return rows[i].Pid < rows[j].Pid
	})
	return rows
}

// =============================================================================
// Helpers for external use
// =============================================================================

// Sender is the part of *tea.Program used to feed the dashboard.
type Sender interface {
	Send(msg tea.Msg)
}

// SendQuit sends a quit message to the TUI.
func SendQuit(p Sender) {
	if p != nil {
		p.Send(QuitMsg{})
	}
}

// =============================================================================
// Formatting Helpers (used by view.go)
// =============================================================================

// formatDuration formats a duration as HH:MM:SS.
func formatDuration(d time.Duration) string {
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	s := int(d.Seconds()) % 60
	return fmt.Sprintf("%02d:%02d:%02d", h, m, s)
}

// formatRuntime formats a child runtime with a unit suited to its size.
func formatRuntime(d time.Duration) string {
	switch {
	case d >= time.Minute:
		return formatDuration(d)
	case d >= time.Second:
		return fmt.Sprintf("%.2fs", d.Seconds())
	case d >= time.Millisecond:
		return fmt.Sprintf("%d ms", d.Milliseconds())
	default:
		return fmt.Sprintf("%d µs", d.Microseconds())
	}
}

// formatNumberWithCommas formats a number with thousand separators.
func formatNumberWithCommas(n int64) string {
	if n < 0 {
		return "0"
	}
	if n < 1000 {
		return fmt.Sprintf("%d", n)
	}

	str := fmt.Sprintf("%d", n)
	result := ""
	for i, c := range str {
		if i > 0 && (len(str)-i)%3 == 0 {
			result += ","
		}
		result += string(c)
	}
	return result
}

// truncate shortens s to max display columns with an ellipsis.
func truncate(s string, max int) string {
	if max <= 3 || len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}
