// Package timer captures child start times and measures the real update
// granularity of the wall clock they are read from.
package timer

import (
	"fmt"
	"time"

	sys "golang.org/x/sys/unix"
)

// Timestamp is a wall-clock reading split into seconds and nanoseconds.
// Readings are not guaranteed to be monotonic.
type Timestamp struct {
	Sec  int64
	Nsec int64
}

// Clock returns the current wall-clock time.
type Clock func() Timestamp

// Now reads the wall clock at the best resolution the runtime offers.
func Now() Timestamp {
	return FromTime(time.Now())
}

// MicroNow reads gettimeofday(2), a microsecond source, scaled to nanoseconds.
// Falls back to Now if the syscall fails.
func MicroNow() Timestamp {
	var tv sys.Timeval
	if err := sys.Gettimeofday(&tv); err != nil {
		return Now()
	}
	return FromMicros(int64(tv.Sec), int64(tv.Usec))
}

// FromTime converts a time.Time into a Timestamp.
func FromTime(t time.Time) Timestamp {
	return Timestamp{Sec: t.Unix(), Nsec: int64(t.Nanosecond())}
}

// FromMicros normalises a seconds+microseconds reading.
func FromMicros(sec, usec int64) Timestamp {
	return Timestamp{Sec: sec, Nsec: usec * 1000}
}

// Sub returns t-u.
func (t Timestamp) Sub(u Timestamp) time.Duration {
	return time.Duration(t.Sec-u.Sec)*time.Second + time.Duration(t.Nsec-u.Nsec)
}

// Before reports whether t is strictly earlier than u.
func (t Timestamp) Before(u Timestamp) bool {
	if t.Sec != u.Sec {
		return t.Sec < u.Sec
	}
	return t.Nsec < u.Nsec
}

// IsZero reports whether the timestamp was never set.
func (t Timestamp) IsZero() bool {
	return t.Sec == 0 && t.Nsec == 0
}

// Time converts back to a time.Time in the local zone.
func (t Timestamp) Time() time.Time {
	return time.Unix(t.Sec, t.Nsec)
}

// String formats as seconds.nanoseconds.
func (t Timestamp) String() string {
	return fmt.Sprintf("%d.%09d", t.Sec, t.Nsec)
}
