// Package leaf defines the uniform operation surface shared by every
// filesystem participant in spanfs: the backing leaves, the federation
// engine that composes them, and the decorators stacked on top.
//
// The interface is deliberately path-keyed and POSIX-shaped. Every operation
// takes an absolute path (interpreted relative to the implementation's root),
// an optional per-open handle, and its natural positional arguments. Errors
// travel as POSIX errno values (syscall.Errno); byte-count operations return
// (n, error) pairs so that partial progress and a terminal condition can be
// reported together, the way pwrite(2) reports a short write followed by
// ENOSPC on the next call.
//
// Because the federation engine itself implements FileSystem, decorators
// (locking, call logging, error translation) nest freely: each wraps a
// FileSystem and is one.
package leaf

// Handle identifies one open file on a FileSystem implementation. Zero means
// "no handle": operations that accept a Handle must fall back to a purely
// path-based implementation when given zero.
//
// The directory reflector uses the host file descriptor as the handle; the
// federation engine allocates ids from a process-local counter and maps them
// to per-chunk handle sequences internally.
type Handle uint64

// Stat carries the attributes reported by Getattr. It is the subset of
// struct stat the federation actually maintains.
type Stat struct {
	// Ino is the inode number on the backing store, when one exists.
	Ino uint64

	// Mode holds the file type bits together with the permission bits
	// (S_IFREG|0644, S_IFLNK|0777, ...).
	Mode uint32

	// Nlink is the number of namespace references to the inode.
	Nlink uint32

	// UID and GID identify the owner.
	UID uint32
	GID uint32

	// Size is the logical file size in bytes. For symlinks it is the
	// length of the target path.
	Size int64

	// Atime, Mtime and Ctime are the access, modification and status
	// change timestamps.
	Atime TimeSpec
	Mtime TimeSpec
	Ctime TimeSpec
}

// Statvfs mirrors struct statvfs: filesystem-wide block and inode counters.
// All block counts are expressed in Bsize units.
type Statvfs struct {
	Bsize   uint64
	Frsize  uint64
	Blocks  uint64
	Bfree   uint64
	Bavail  uint64
	Files   uint64
	Ffree   uint64
	Favail  uint64
	Fsid    uint64
	Namemax uint64
}

// DirEntry is one entry produced by Readdir. Mode carries only the file type
// bits (synthesized from d_type on the reflector), which is enough for the
// kernel's readdir-plus optimization.
type DirEntry struct {
	Name string
	Ino  uint64
	Mode uint32
}

// Rename flag values, matching renameat2(2).
const (
	RenameNoReplace = 1 << 0 // RENAME_NOREPLACE
	RenameExchange  = 1 << 1 // RENAME_EXCHANGE
)

// FileSystem is the capability contract every leaf backend must satisfy, and
// the surface the federation exposes upward.
//
// Error discipline: operations return nil on success and a syscall.Errno on
// failure. Implementations never panic across this boundary by contract; the
// guard decorator exists to enforce that for the federation stack as a whole.
//
// Thread safety: leaf implementations must tolerate concurrent calls (the
// reflector inherits this from the host kernel; the in-memory stores carry
// their own locks). The federation's in-memory state is NOT internally
// synchronized; it relies on the locked decorator for serialization.
type FileSystem interface {
	// Getattr fills st with the attributes of path. The handle, when
	// non-zero, refers to an open instance of the same path.
	Getattr(path string, st *Stat, fh Handle) error

	// Readlink copies the symlink target into buf, NUL-terminating it when
	// space permits, and returns the number of target bytes copied.
	Readlink(path string, buf []byte) (int, error)

	// Mknod creates a device or special node. Leaves may support it; the
	// federation does not.
	Mknod(path string, mode uint32, dev uint64) error

	Mkdir(path string, mode uint32) error
	Rmdir(path string) error

	// Symlink creates a symbolic link at to whose target is from.
	Symlink(from, to string) error

	// Rename moves from to to, honoring RenameNoReplace and RenameExchange.
	// The reflector, badger and s3 leaves accept only zero flags and reject
	// any other value with EINVAL.
	Rename(from, to string, flags uint32) error

	// Link creates a hard link at to referring to from.
	Link(from, to string) error

	// Access reports whether path is reachable. The mask is advisory.
	Access(path string, mask uint32) error

	// Readdir lists the entries of the directory at path.
	Readdir(path string) ([]DirEntry, error)

	Unlink(path string) error

	Chmod(path string, mode uint32, fh Handle) error
	Chown(path string, uid, gid uint32, fh Handle) error
	Truncate(path string, size int64, fh Handle) error

	// Open opens an existing file with the given open flags (O_RDONLY and
	// friends) and returns a handle for subsequent positioned operations.
	Open(path string, flags int) (Handle, error)

	// Create creates and opens a new file with the given permission bits.
	Create(path string, mode uint32, flags int) (Handle, error)

	// Read reads len(p) bytes starting at off. It returns the number of
	// bytes read; a short count with a nil error means end of data.
	Read(path string, p []byte, off int64, fh Handle) (int, error)

	// Write writes p starting at off. It returns the number of bytes
	// written; a partial count may be accompanied by ENOSPC when the
	// store ran out of room mid-write.
	Write(path string, p []byte, off int64, fh Handle) (int, error)

	// Statfs fills st with filesystem-wide usage counters.
	Statfs(path string, st *Statvfs) error

	// Release closes the handle obtained from Open or Create. Every
	// successful Open/Create must be paired with exactly one Release.
	Release(path string, fh Handle) error

	// Fsync flushes dirty state for path. When datasync is true only the
	// data (not the metadata) needs to reach stable storage.
	Fsync(path string, datasync bool, fh Handle) error

	// Utimens updates access and modification times following the
	// utimensat(2) conventions: a nil times sets both to the current
	// time; UTIMENow and UTIMEOmit nanosecond sentinels select the
	// current time or leave the field untouched.
	Utimens(path string, times *[2]TimeSpec, fh Handle) error

	// Fallocate manipulates the allocated space of path. Mode zero is
	// plain allocation; implementations may reject other modes with
	// EOPNOTSUPP.
	Fallocate(path string, mode uint32, off, length int64, fh Handle) error

	// Lseek repositions within path. Only SEEK_DATA and SEEK_HOLE are
	// meaningful through the federation.
	Lseek(path string, off int64, whence int, fh Handle) (int64, error)
}
