package invoke

import (
	"fmt"
	"strings"
	"time"

	sys "golang.org/x/sys/unix"

	"github.com/randomizedcoder/go-specinvoke/internal/timer"
)

// CommandInfo describes one benchmark command. The core only reads it.
// Empty strings mean "not set".
type CommandInfo struct {
	Template string
	Dir      string
	Input    string
	Output   string
	Error    string
}

// CopyInfo is one concrete instance of a command being launched.
type CopyInfo struct {
	Num  uint
	Bind string // empty = no bind target
	Dir  string // overrides CommandInfo.Dir

	// Set by Invoke.
	Pid     int
	Start   timer.Timestamp
	Phase   Phase
	Command string

	// Set by whoever reaps the copy.
	End    timer.Timestamp
	Status sys.WaitStatus
}

// Elapsed returns End-Start, or zero if the copy has not been reaped.
func (c *CopyInfo) Elapsed() timer.Timestamp {
	if c.End.IsZero() {
		return timer.Timestamp{}
	}
	d := c.End.Sub(c.Start)
	return timer.Timestamp{Sec: int64(d / time.Second), Nsec: int64(d % time.Second)}
}

// StdinPolicy selects what a redirected child reads when no input file is given.
type StdinPolicy int

const (
	// StdinNull attaches /dev/null.
	StdinNull StdinPolicy = iota

	// StdinZeroFile attaches a zero-length file that is unlinked before exec.
	StdinZeroFile

	// StdinErrorStream duplicates the child's error stream onto stdin.
	StdinErrorStream
)

// String returns the flag spelling of the policy.
func (p StdinPolicy) String() string {
	switch p {
	case StdinNull:
		return "null"
	case StdinZeroFile:
		return "zerofile"
	case StdinErrorStream:
		return "close"
	default:
		return "unknown"
	}
}

// ParseStdinPolicy accepts "null", "zerofile" or "close" ("stderr" is an alias).
func ParseStdinPolicy(s string) (StdinPolicy, error) {
	switch strings.ToLower(s) {
	case "null", "nul", "devnull":
		return StdinNull, nil
	case "zerofile", "zero":
		return StdinZeroFile, nil
	case "close", "stderr":
		return StdinErrorStream, nil
	default:
		return StdinNull, fmt.Errorf("unknown stdin policy %q (want null, zerofile or close)", s)
	}
}
