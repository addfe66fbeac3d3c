package leaf

import (
	"time"

	"golang.org/x/sys/unix"
)

// Utimens nanosecond sentinels, matching utimensat(2).
const (
	UTIMENow  = unix.UTIME_NOW
	UTIMEOmit = unix.UTIME_OMIT
)

// TimeSpec is a second/nanosecond timestamp, the shape timestamps have on
// the FUSE boundary. The nanosecond field doubles as the carrier for the
// UTIMENow and UTIMEOmit sentinels in Utimens calls.
type TimeSpec struct {
	Sec  int64
	Nsec int64
}

// Now returns the current time as a TimeSpec.
func Now() TimeSpec {
	t := time.Now()
	return TimeSpec{Sec: t.Unix(), Nsec: int64(t.Nanosecond())}
}

// Time converts the TimeSpec to a time.Time.
func (ts TimeSpec) Time() time.Time {
	return time.Unix(ts.Sec, ts.Nsec)
}

// IsNow reports whether the entry carries the "use current time" sentinel.
func (ts TimeSpec) IsNow() bool { return ts.Nsec == UTIMENow }

// IsOmit reports whether the entry carries the "leave unchanged" sentinel.
func (ts TimeSpec) IsOmit() bool { return ts.Nsec == UTIMEOmit }

// FromUnix converts a unix.Timespec.
func FromUnix(ts unix.Timespec) TimeSpec {
	return TimeSpec{Sec: ts.Sec, Nsec: ts.Nsec}
}

// Unix converts to a unix.Timespec for syscall use.
func (ts TimeSpec) Unix() unix.Timespec {
	return unix.Timespec{Sec: ts.Sec, Nsec: ts.Nsec}
}
