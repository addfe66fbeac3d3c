package federation

import (
	"golang.org/x/sys/unix"

	"github.com/marmos91/spanfs/pkg/leaf"
)

// Symlink is the link variant of a federation inode. The target is opaque
// text; it is never resolved by the federation and has no on-leaf
// representation.
type Symlink struct {
	target string

	mode  uint32
	uid   uint32
	gid   uint32
	atime leaf.TimeSpec
	mtime leaf.TimeSpec
	ctime leaf.TimeSpec
}

func newSymlink(target string, uid, gid uint32) *Symlink {
	now := leaf.Now()
	return &Symlink{
		target: target,
		mode:   unix.S_IFLNK | 0o777,
		uid:    uid,
		gid:    gid,
		atime:  now,
		mtime:  now,
		ctime:  now,
	}
}

// Target returns the link target.
func (l *Symlink) Target() string { return l.target }

func (l *Symlink) fillStat(st *leaf.Stat) {
	st.Mode = l.mode
	st.UID = l.uid
	st.GID = l.gid
	st.Size = int64(len(l.target))
	st.Atime = l.atime
	st.Mtime = l.mtime
	st.Ctime = l.ctime
}

func (l *Symlink) chown(uid, gid uint32) {
	l.uid = uid
	l.gid = gid
	l.ctime = leaf.Now()
}

// utimens applies the utimensat(2) per-entry rules: UTIMENow adopts the
// current time, UTIMEOmit leaves the field untouched, anything else is taken
// literally. ctime advances whenever at least one entry is not omitted.
func (l *Symlink) utimens(times *[2]leaf.TimeSpec) {
	now := leaf.Now()
	if times == nil {
		l.atime = now
		l.mtime = now
		l.ctime = now
		return
	}
	if times[0].IsNow() {
		l.atime = now
	} else if !times[0].IsOmit() {
		l.atime = times[0]
	}
	if times[1].IsNow() {
		l.mtime = now
	} else if !times[1].IsOmit() {
		l.mtime = times[1]
	}
	if !times[0].IsOmit() || !times[1].IsOmit() {
		l.ctime = now
	}
}
