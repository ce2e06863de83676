// Package tui provides a live terminal dashboard for a launch run.
//
// The dashboard is a Bubble Tea program styled with Lipgloss. The summary
// view shows launch and reap progress, exit results and the startup timer
// calibration; the detailed view lists every outstanding copy, the most
// recent exits and the tail of the launch log.
package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// =============================================================================
// Palette
// =============================================================================

// Copy states each get their own color so the tables read at a glance.
var (
	colorBrand  = lipgloss.Color("#2563EB")
	colorAccent = lipgloss.Color("#14B8A6")

	colorRunning = lipgloss.Color("#60A5FA")
	colorClean   = lipgloss.Color("#22C55E")
	colorFailed  = lipgloss.Color("#EAB308")
	colorKilled  = lipgloss.Color("#DC2626")

	colorInk   = lipgloss.Color("#F3F4F6")
	colorFaint = lipgloss.Color("#A1A1AA")
	colorGhost = lipgloss.Color("#71717A")
	colorRule  = lipgloss.Color("#3F3F46")
)

// =============================================================================
// Frame
// =============================================================================

var (
	bannerStyle = lipgloss.NewStyle().
			Foreground(colorInk).
			Background(colorBrand).
			Bold(true).
			Padding(0, 1).
			MarginBottom(1)

	panelStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(colorRule).
			Padding(0, 1)

	panelTitleStyle = lipgloss.NewStyle().
			Foreground(colorAccent).
			Bold(true).
			BorderStyle(lipgloss.NormalBorder()).
			BorderBottom(true).
			BorderForeground(colorRule)

	hintStyle = lipgloss.NewStyle().
			Foreground(colorGhost)

	captionStyle = lipgloss.NewStyle().
			Foreground(colorFaint)

	footerStyle = lipgloss.NewStyle().
			MarginTop(1)
)

// =============================================================================
// Copy States
// =============================================================================

var (
	runningStyle = lipgloss.NewStyle().Foreground(colorRunning).Bold(true)
	cleanStyle   = lipgloss.NewStyle().Foreground(colorClean).Bold(true)
	failedStyle  = lipgloss.NewStyle().Foreground(colorFailed).Bold(true)
	killedStyle  = lipgloss.NewStyle().Foreground(colorKilled).Bold(true)
)

// RcStyle picks the style for a reaped copy's exit code: clean for 0,
// killed for a signal (rc > 128), failed otherwise.
func RcStyle(rc int) lipgloss.Style {
	switch {
	case rc == 0:
		return cleanStyle
	case rc > 128:
		return killedStyle
	default:
		return failedStyle
	}
}

// CountStyle picks the style for a count of bad exits.
func CountStyle(n int) lipgloss.Style {
	switch {
	case n == 0:
		return cleanStyle
	case n < 10:
		return failedStyle
	default:
		return killedStyle
	}
}

// =============================================================================
// Fields and Bars
// =============================================================================

var (
	fieldLabelStyle = lipgloss.NewStyle().
			Foreground(colorFaint).
			Width(20)

	fieldValueStyle = lipgloss.NewStyle().
			Foreground(colorInk).
			Bold(true)

	barFullStyle  = lipgloss.NewStyle().Foreground(colorBrand)
	barEmptyStyle = lipgloss.NewStyle().Foreground(colorRule)
	barPctStyle   = lipgloss.NewStyle().Foreground(colorInk).Bold(true)
)

// RenderField renders "label: value" with a fixed-width label column.
func RenderField(label, value string) string {
	return fieldLabelStyle.Render(label+":") + fieldValueStyle.Render(value)
}

// RenderBar renders frac (clamped to [0,1]) as a bar of width cells, at
// least 10, followed by a percentage.
func RenderBar(frac float64, width int) string {
	width = max(width, 10)
	frac = min(max(frac, 0), 1)
	full := int(frac * float64(width))

	return barFullStyle.Render(strings.Repeat("█", full)) +
		barEmptyStyle.Render(strings.Repeat("░", width-full)) +
		barPctStyle.Render(fmt.Sprintf(" %3.0f%%", frac*100))
}
