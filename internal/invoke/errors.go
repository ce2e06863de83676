package invoke

import (
	"errors"
	"fmt"
	"syscall"
)

// ErrNoChildren is returned by a blocking wait when nothing is left to reap.
var ErrNoChildren = errors.New("invoke: no child processes")

// describe renders err the way fatal diagnostics print it: "message(errno)".
func describe(err error) string {
	var errno syscall.Errno
	if errors.As(err, &errno) {
		return fmt.Sprintf("%s(%d)", errno.Error(), int(errno))
	}
	return fmt.Sprintf("%s(0)", err.Error())
}
