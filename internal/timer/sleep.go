package timer

import (
	"errors"
	"time"

	sys "golang.org/x/sys/unix"
)

// ErrNoSleep is returned when every sleep mechanism is unavailable.
var ErrNoSleep = errors.New("timer: no sleep mechanism available")

// sleeper is one way of blocking the calling thread for a number of milliseconds.
// It returns sys.ENOSYS when the mechanism is not supported here.
type sleeper struct {
	name string
	fn   func(ms int64) error
}

// sleepers in priority order.
var sleepers = []sleeper{
	{name: "nanosleep", fn: nanoSleep},
	{name: "select", fn: selectSleep},
	{name: "runtime", fn: runtimeSleep},
}

// MilliSleep blocks for ms milliseconds using the first available mechanism.
func MilliSleep(ms int64) error {
	return milliSleep(sleepers, ms)
}

func milliSleep(chain []sleeper, ms int64) error {
	if ms < 0 {
		ms = 0
	}
	for _, s := range chain {
		err := s.fn(ms)
		if errors.Is(err, sys.ENOSYS) {
			continue
		}
		return err
	}
	return ErrNoSleep
}

func nanoSleep(ms int64) error {
	ts := sys.NsecToTimespec(ms * int64(time.Millisecond))
	for {
		var rem sys.Timespec
		err := sys.Nanosleep(&ts, &rem)
		if err == sys.EINTR {
			ts = rem
			continue
		}
		return err
	}
}

func selectSleep(ms int64) error {
	tv := sys.NsecToTimeval(ms * int64(time.Millisecond))
	_, err := sys.Select(0, nil, nil, nil, &tv)
	if err == sys.EINTR {
		// early wake-up; callers poll again anyway
		return nil
	}
	return err
}

func runtimeSleep(ms int64) error {
	time.Sleep(time.Duration(ms) * time.Millisecond)
	return nil
}
