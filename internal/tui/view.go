package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// recentExits is how many finished copies the detailed view lists.
const recentExits = 5

// =============================================================================
// Views
// =============================================================================

func (m Model) renderSummaryView() string {
	parts := []string{
		m.renderBanner(),
		m.renderProgress(),
		m.renderResults(),
	}
	if m.calibration != nil {
		parts = append(parts, m.renderTimer())
	}
	parts = append(parts, m.renderFooter())

	return lipgloss.JoinVertical(lipgloss.Left, parts...)
}

func (m Model) renderDetailedView() string {
	parts := []string{
		m.renderBanner(),
		m.renderCopyTable(),
	}
	if len(m.finished) > 0 {
		parts = append(parts, m.renderRecentExits())
	}
	if m.logSource != nil {
		parts = append(parts, m.renderLaunchLog())
	}
	parts = append(parts, m.renderFooter())

	return lipgloss.JoinVertical(lipgloss.Left, parts...)
}

// panel frames a titled block at the terminal width.
func (m Model) panel(title string, lines ...string) string {
	body := append([]string{panelTitleStyle.Render(title)}, lines...)
	return panelStyle.Width(m.width - 2).Render(lipgloss.JoinVertical(lipgloss.Left, body...))
}

// =============================================================================
// Banner
// =============================================================================

func (m Model) renderBanner() string {
	state := runningStyle.Render("● Running")
	if m.done {
		state = cleanStyle.Render("● Done")
	}

	line := fmt.Sprintf(" specinvoke │ %s │ Copies: %d/%d │ Outstanding: %d │ Elapsed: %s ",
		state, m.launched, m.targetCopies, m.Outstanding(), formatDuration(m.Elapsed()))

	return bannerStyle.Width(m.width).Render(line)
}

// =============================================================================
// Summary Panels
// =============================================================================

func (m Model) renderProgress() string {
	barWidth := max(m.width-30, 20)

	var status string
	switch {
	case m.done:
		status = cleanStyle.Render("✓ All copies reaped")
	case m.launched >= m.targetCopies:
		status = runningStyle.Render(fmt.Sprintf("Waiting for %d copies...", m.Outstanding()))
	default:
		status = runningStyle.Render(fmt.Sprintf("Launching... %d/%d", m.launched, m.targetCopies))
	}

	return m.panel("Progress",
		captionStyle.Render("Launched"),
		RenderBar(m.LaunchProgress(), barWidth),
		captionStyle.Render("Reaped"),
		RenderBar(m.ReapProgress(), barWidth),
		status,
	)
}

func (m Model) renderResults() string {
	clean := m.reaped - m.failed - m.signalled

	lines := []string{
		RenderField("Clean exits", cleanStyle.Render(formatNumberWithCommas(int64(clean)))),
		RenderField("Failed", CountStyle(m.failed).Render(formatNumberWithCommas(int64(m.failed)))),
		RenderField("Signalled", CountStyle(m.signalled).Render(formatNumberWithCommas(int64(m.signalled)))),
		RenderField("Peak outstanding", formatNumberWithCommas(int64(m.peak))),
	}

	if n := len(m.finished); n > 0 {
		last := m.finished[n-1]
		lines = append(lines, RenderField("Last finished",
			fmt.Sprintf("copy %d rc=%d in %s", last.Num, last.ExitCode, formatRuntime(last.Elapsed))))
	}

	return m.panel("Results", lines...)
}

func (m Model) renderTimer() string {
	cal := m.calibration
	return m.panel("Timer",
		RenderField("Resolution (mean)", formatRuntime(cal.MeanResolution)),
		RenderField("Resolution (p99)", formatRuntime(cal.P99Resolution)),
		RenderField("Reads per tick", fmt.Sprintf("%d", cal.MeanIterations)),
	)
}

// =============================================================================
// Detailed Panels
// =============================================================================

func (m Model) renderCopyTable() string {
	rows := m.outstandingRows()
	if len(rows) == 0 {
		return panelStyle.Width(m.width - 2).Render(
			hintStyle.Render("No outstanding copies. Press 'd' to toggle."),
		)
	}

	maxRows := max(m.height-16, 5)
	cmdWidth := m.width - 32

	lines := []string{
		captionStyle.Render(fmt.Sprintf("%-6s %-8s %-10s %s", "Copy", "PID", "Running", "Command")),
	}
	for i, row := range rows {
		if i == maxRows {
			lines = append(lines, hintStyle.Render(fmt.Sprintf("... and %d more copies", len(rows)-maxRows)))
			break
		}
		lines = append(lines, fmt.Sprintf("%-6d %s %-10s %s",
			row.Num,
			runningStyle.Render(fmt.Sprintf("%-8d", row.Pid)),
			formatRuntime(m.lastUpdate.Sub(row.Start)),
			truncate(row.Command, cmdWidth),
		))
	}

	return m.panel("Outstanding Copies", lines...)
}

func (m Model) renderRecentExits() string {
	recent := m.finished[max(len(m.finished)-recentExits, 0):]

	lines := make([]string, 0, len(recent))
	for i := len(recent) - 1; i >= 0; i-- {
		row := recent[i]
		lines = append(lines, fmt.Sprintf("copy %-4d pid %-8d %s  %s",
			row.Num,
			row.Pid,
			RcStyle(row.ExitCode).Render(fmt.Sprintf("rc=%-3d", row.ExitCode)),
			formatRuntime(row.Elapsed),
		))
	}

	return m.panel("Recent Exits", lines...)
}

func (m Model) renderLaunchLog() string {
	lines := m.logSource.RecentLines(5)
	if len(lines) == 0 {
		lines = []string{hintStyle.Render("(empty)")}
	}
	for i := range lines {
		lines[i] = truncate(lines[i], m.width-6)
	}

	return m.panel("Launch Log", lines...)
}

// =============================================================================
// Footer
// =============================================================================

func (m Model) renderFooter() string {
	keys := hintStyle.Render(strings.Join([]string{"q: quit", "d: toggle details"}, " │ "))

	info := "Shell: " + m.shell
	if m.metricsAddr != "" {
		info += " │ Metrics: " + m.metricsAddr
	}
	right := hintStyle.Render(info)

	gap := max(m.width-lipgloss.Width(keys)-lipgloss.Width(right)-2, 1)
	return footerStyle.Render(keys + strings.Repeat(" ", gap) + right)
}
