// Package reflector implements the canonical leaf backend: a FileSystem that
// proxies every operation onto an existing host directory.
//
// For a logical path /x/y and a configured root /srv/leaf0, the reflector
// operates on /srv/leaf0/x/y through direct system calls. It keeps no state
// of its own beyond the root path; handles are host file descriptors and all
// consistency is the host filesystem's.
package reflector

import (
	"fmt"
	"os"
	"path/filepath"
	"syscall"

	"golang.org/x/sys/unix"

	"github.com/marmos91/spanfs/pkg/leaf"
)

// Reflector is a directory-backed leaf filesystem.
type Reflector struct {
	root string
}

var _ leaf.FileSystem = (*Reflector)(nil)

// New creates a reflector over the given root directory.
//
// The root must be an absolute path to an existing directory; anything else
// is a construction error, mirroring the mount-time validation the federation
// relies on.
func New(root string) (*Reflector, error) {
	if !filepath.IsAbs(root) {
		return nil, fmt.Errorf("reflector root %q must be an absolute path", root)
	}
	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("reflector root %q: %w", root, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("reflector root %q must be a directory", root)
	}
	return &Reflector{root: root}, nil
}

// Root returns the configured root directory.
func (r *Reflector) Root() string { return r.root }

// hostPath translates a logical path into the backing path under the root.
func (r *Reflector) hostPath(path string) string {
	return filepath.Join(r.root, path)
}

func (r *Reflector) Getattr(path string, st *leaf.Stat, _ leaf.Handle) error {
	var stat unix.Stat_t
	if err := unix.Lstat(r.hostPath(path), &stat); err != nil {
		return err
	}
	st.Ino = stat.Ino
	st.Mode = stat.Mode
	st.Nlink = uint32(stat.Nlink)
	st.UID = stat.Uid
	st.GID = stat.Gid
	st.Size = stat.Size
	st.Atime = leaf.FromUnix(stat.Atim)
	st.Mtime = leaf.FromUnix(stat.Mtim)
	st.Ctime = leaf.FromUnix(stat.Ctim)
	return nil
}

func (r *Reflector) Readlink(path string, buf []byte) (int, error) {
	if len(buf) == 0 {
		return 0, syscall.EINVAL
	}
	n, err := unix.Readlink(r.hostPath(path), buf[:len(buf)-1])
	if err != nil {
		return 0, err
	}
	buf[n] = 0
	return n, nil
}

func (r *Reflector) Mknod(path string, mode uint32, dev uint64) error {
	return unix.Mknod(r.hostPath(path), mode, int(dev))
}

func (r *Reflector) Mkdir(path string, mode uint32) error {
	return unix.Mkdir(r.hostPath(path), mode)
}

func (r *Reflector) Rmdir(path string) error {
	return unix.Rmdir(r.hostPath(path))
}

func (r *Reflector) Symlink(from, to string) error {
	return unix.Symlink(r.hostPath(from), r.hostPath(to))
}

// Rename maps onto plain rename(2); the flagged variants are not supported
// at the leaf level.
func (r *Reflector) Rename(from, to string, flags uint32) error {
	if flags != 0 {
		return syscall.EINVAL
	}
	return unix.Rename(r.hostPath(from), r.hostPath(to))
}

func (r *Reflector) Link(from, to string) error {
	return unix.Link(r.hostPath(from), r.hostPath(to))
}

func (r *Reflector) Access(path string, mask uint32) error {
	return unix.Access(r.hostPath(path), mask)
}

// Readdir lists the backing directory. The entry type comes from the
// directory entry itself (d_type); the inode number comes from an lstat of
// each entry (os.DirEntry.Info), not from d_ino, and is left zero when that
// lstat fails.
func (r *Reflector) Readdir(path string) ([]leaf.DirEntry, error) {
	entries, err := os.ReadDir(r.hostPath(path))
	if err != nil {
		return nil, err
	}
	out := make([]leaf.DirEntry, 0, len(entries))
	for _, entry := range entries {
		de := leaf.DirEntry{
			Name: entry.Name(),
			Mode: fileTypeBits(entry),
		}
		if info, err := entry.Info(); err == nil {
			if stat, ok := info.Sys().(*syscall.Stat_t); ok {
				de.Ino = stat.Ino
			}
		}
		out = append(out, de)
	}
	return out, nil
}

// fileTypeBits converts an fs.DirEntry type to S_IFMT bits.
func fileTypeBits(entry os.DirEntry) uint32 {
	switch mode := entry.Type(); {
	case mode.IsRegular():
		return unix.S_IFREG
	case mode.IsDir():
		return unix.S_IFDIR
	case mode&os.ModeSymlink != 0:
		return unix.S_IFLNK
	case mode&os.ModeNamedPipe != 0:
		return unix.S_IFIFO
	case mode&os.ModeSocket != 0:
		return unix.S_IFSOCK
	case mode&os.ModeCharDevice != 0:
		return unix.S_IFCHR
	case mode&os.ModeDevice != 0:
		return unix.S_IFBLK
	default:
		return 0
	}
}

func (r *Reflector) Unlink(path string) error {
	return unix.Unlink(r.hostPath(path))
}

func (r *Reflector) Chmod(path string, mode uint32, _ leaf.Handle) error {
	return unix.Chmod(r.hostPath(path), mode)
}

// Chown uses lchown so that symlinks on the leaf are not followed.
func (r *Reflector) Chown(path string, uid, gid uint32, _ leaf.Handle) error {
	return unix.Lchown(r.hostPath(path), int(uid), int(gid))
}

func (r *Reflector) Truncate(path string, size int64, fh leaf.Handle) error {
	if fh != 0 {
		return unix.Ftruncate(int(fh), size)
	}
	return unix.Truncate(r.hostPath(path), size)
}

func (r *Reflector) Statfs(path string, st *leaf.Statvfs) error {
	var stat unix.Statfs_t
	if err := unix.Statfs(r.hostPath(path), &stat); err != nil {
		return err
	}
	st.Bsize = uint64(stat.Bsize)
	st.Frsize = uint64(stat.Frsize)
	st.Blocks = stat.Blocks
	st.Bfree = stat.Bfree
	st.Bavail = stat.Bavail
	st.Files = stat.Files
	st.Ffree = stat.Ffree
	st.Favail = stat.Ffree
	st.Fsid = uint64(uint32(stat.Fsid.Val[0])) | uint64(uint32(stat.Fsid.Val[1]))<<32
	st.Namemax = uint64(stat.Namelen)
	return nil
}

// Utimens updates timestamps without following symlinks, matching the
// utimensat(AT_SYMLINK_NOFOLLOW) discipline.
func (r *Reflector) Utimens(path string, times *[2]leaf.TimeSpec, _ leaf.Handle) error {
	var ts []unix.Timespec
	if times != nil {
		ts = []unix.Timespec{times[0].Unix(), times[1].Unix()}
	}
	return unix.UtimesNanoAt(unix.AT_FDCWD, r.hostPath(path), ts, unix.AT_SYMLINK_NOFOLLOW)
}
