package invoke

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"time"

	sys "golang.org/x/sys/unix"

	"github.com/randomizedcoder/go-specinvoke/internal/timer"
)

// Completion is one reaped child.
type Completion struct {
	Pid    int
	Status sys.WaitStatus
	End    timer.Timestamp
}

// ExitCode decodes the raw status: the exit code for a normal exit,
// 128+signal for a signalled child, -1 otherwise.
func (c Completion) ExitCode() int {
	return ExitCode(c.Status)
}

// ExitCode decodes a raw wait status.
func ExitCode(ws sys.WaitStatus) int {
	switch {
	case ws.Exited():
		return ws.ExitStatus()
	case ws.Signaled():
		return 128 + int(ws.Signal())
	default:
		return -1
	}
}

// WaitForNext collects the next terminated child of this process, whichever
// copy it belongs to. Callers correlate Completion.Pid themselves.
//
// Non-blocking: ok is false when no child has terminated yet, including when
// there are no children at all. Blocking: waits for some child to exit and
// returns ErrNoChildren if there is none.
func WaitForNext(blocking bool) (c Completion, ok bool, err error) {
	opts := sys.WNOHANG
	if blocking {
		opts = 0
	}

	c, err = wait4(opts)
	switch {
	case err == sys.ECHILD && !blocking:
		return Completion{}, false, nil
	case err == sys.ECHILD:
		return Completion{}, false, ErrNoChildren
	case err != nil:
		return Completion{}, false, fmt.Errorf("invoke: wait4: %w", err)
	case c.Pid == 0:
		return Completion{}, false, nil
	}
	return c, true, nil
}

// WaitContext waits for the next terminated child until one is reaped or ctx
// is done. It sleeps on SIGCHLD, so Completion.End is stamped as soon as the
// child has exited; poll only bounds how long a lost wakeup can delay a reap.
// It returns ErrNoChildren when nothing is left.
func WaitContext(ctx context.Context, poll time.Duration) (Completion, error) {
	if poll <= 0 {
		poll = time.Millisecond
	}

	// Registered before the first wait4 so an exit in between still wakes us.
	wake := make(chan os.Signal, 1)
	signal.Notify(wake, sys.SIGCHLD)
	defer signal.Stop(wake)

	backstop := time.NewTimer(poll)
	defer backstop.Stop()

	for {
		c, err := wait4(sys.WNOHANG)
		switch {
		case err == sys.ECHILD:
			return Completion{}, ErrNoChildren
		case err != nil:
			return Completion{}, fmt.Errorf("invoke: wait4: %w", err)
		case c.Pid != 0:
			return c, nil
		}

		select {
		case <-ctx.Done():
			return Completion{}, ctx.Err()
		case <-wake:
		case <-backstop.C:
			backstop.Reset(poll)
		}
	}
}

// wait4 reaps any child, retrying on EINTR.
func wait4(opts int) (Completion, error) {
	for {
		var ws sys.WaitStatus
		pid, err := sys.Wait4(-1, &ws, opts, nil)
		if err == sys.EINTR {
			continue
		}
		if err != nil {
			return Completion{}, err
		}
		if pid == 0 {
			return Completion{}, nil
		}
		return Completion{Pid: pid, Status: ws, End: timer.Now()}, nil
	}
}

// Finish records a completion against the copy it belongs to.
func (c *CopyInfo) Finish(done Completion) {
	c.End = done.End
	c.Status = done.Status
	c.Phase = PhaseReaped
}
