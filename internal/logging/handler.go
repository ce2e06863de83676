package logging

import (
	"bytes"
	"io"
	"log/slog"
	"sync"
)

const (
	// MaxLineLength is the longest launch-log line kept in the recent buffer.
	MaxLineLength = 4096

	// MaxBufferedLines is how many recent launch-log lines are kept.
	MaxBufferedLines = 100
)

// LaunchLog passes launch-log lines through to an underlying writer unchanged
// and keeps the most recent ones for the dashboard and the exit summary.
// Each complete line is also logged at debug level.
type LaunchLog struct {
	out    io.Writer
	logger *slog.Logger

	mu      sync.Mutex
	partial []byte
	buffer  []string
	bufIdx  int
	lines   int
}

// NewLaunchLog wraps out. A nil logger disables the debug mirror.
func NewLaunchLog(out io.Writer, logger *slog.Logger) *LaunchLog {
	return &LaunchLog{
		out:    out,
		logger: logger,
		buffer: make([]string, MaxBufferedLines),
	}
}

// Write forwards p to the underlying writer, then records any complete lines.
func (l *LaunchLog) Write(p []byte) (int, error) {
	n, err := l.out.Write(p)

	l.mu.Lock()
	l.partial = append(l.partial, p[:n]...)
	var complete []string
	for {
		i := bytes.IndexByte(l.partial, '\n')
		if i < 0 {
			break
		}
		line := string(l.partial[:i])
		l.partial = l.partial[i+1:]
		if len(line) > MaxLineLength {
			line = line[:MaxLineLength] + "...(truncated)"
		}
		l.buffer[l.bufIdx] = line
		l.bufIdx = (l.bufIdx + 1) % MaxBufferedLines
		l.lines++
		complete = append(complete, line)
	}
	if len(l.partial) == 0 {
		l.partial = nil
	}
	l.mu.Unlock()

	if l.logger != nil {
		for _, line := range complete {
			l.logger.Debug("launch_log", "line", line)
		}
	}

	return n, err
}

// Lines returns how many complete lines have been written.
func (l *LaunchLog) Lines() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.lines
}

// RecentLines returns up to n of the most recent lines, oldest first.
func (l *LaunchLog) RecentLines(n int) []string {
	l.mu.Lock()
	defer l.mu.Unlock()

	if n > MaxBufferedLines {
		n = MaxBufferedLines
	}
	if n > l.lines {
		n = l.lines
	}

	lines := make([]string, 0, n)
	for i := 0; i < n; i++ {
		idx := (l.bufIdx - n + i + MaxBufferedLines) % MaxBufferedLines
		lines = append(lines, l.buffer[idx])
	}
	return lines
}
