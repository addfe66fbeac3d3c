// Package guard implements the outermost decorator of the federation stack:
// the error-translation boundary the FUSE adapter consumes.
//
// Every operation is run under a recover barrier. A panic escaping the
// wrapped stack - an unhandled inode variant, an indexing mistake, an
// allocation failure - is converted into an errno instead of taking the
// mount down. Returned errors are normalized so that callers above the
// guard only ever observe syscall.Errno values.
//
// The guard must sit outside the lock decorator so that a panic raised with
// the lock held still unwinds through the lock's deferred unlock before
// being translated here.
package guard

import (
	"runtime"
	"strings"
	"syscall"

	"github.com/marmos91/spanfs/internal/logger"
	"github.com/marmos91/spanfs/pkg/leaf"
)

// FileSystem wraps a FileSystem with panic recovery and errno
// normalization.
type FileSystem struct {
	next leaf.FileSystem
}

var _ leaf.FileSystem = (*FileSystem)(nil)

// New wraps next in the guard decorator.
func New(next leaf.FileSystem) *FileSystem {
	return &FileSystem{next: next}
}

// errnoFromPanic maps a recovered panic value to an errno. Allocation
// failures become ENOMEM; every other failure is an invalid-argument class
// defect in the request or the stack below.
func errnoFromPanic(v any) syscall.Errno {
	if err, ok := v.(runtime.Error); ok {
		if strings.Contains(err.Error(), "out of memory") {
			return syscall.ENOMEM
		}
	}
	return syscall.EINVAL
}

// translate converts an operation error to the errno plane. nil stays nil.
func translate(err error) error {
	if err == nil {
		return nil
	}
	if e := leaf.Errno(err); e != 0 {
		return e
	}
	return nil
}

// capture installs the recover barrier. Use with defer; on panic it logs
// the failure and stores the translated errno in *err.
func capture(op string, err *error) {
	if v := recover(); v != nil {
		logger.Error("panic in %s: %v", op, v)
		*err = errnoFromPanic(v)
	}
}

func (g *FileSystem) Getattr(path string, st *leaf.Stat, fh leaf.Handle) (err error) {
	defer capture("getattr", &err)
	return translate(g.next.Getattr(path, st, fh))
}

func (g *FileSystem) Readlink(path string, buf []byte) (n int, err error) {
	defer capture("readlink", &err)
	n, err = g.next.Readlink(path, buf)
	return n, translate(err)
}

func (g *FileSystem) Mknod(path string, mode uint32, dev uint64) (err error) {
	defer capture("mknod", &err)
	return translate(g.next.Mknod(path, mode, dev))
}

func (g *FileSystem) Mkdir(path string, mode uint32) (err error) {
	defer capture("mkdir", &err)
	return translate(g.next.Mkdir(path, mode))
}

func (g *FileSystem) Rmdir(path string) (err error) {
	defer capture("rmdir", &err)
	return translate(g.next.Rmdir(path))
}

func (g *FileSystem) Symlink(from, to string) (err error) {
	defer capture("symlink", &err)
	return translate(g.next.Symlink(from, to))
}

func (g *FileSystem) Rename(from, to string, flags uint32) (err error) {
	defer capture("rename", &err)
	return translate(g.next.Rename(from, to, flags))
}

func (g *FileSystem) Link(from, to string) (err error) {
	defer capture("link", &err)
	return translate(g.next.Link(from, to))
}

func (g *FileSystem) Access(path string, mask uint32) (err error) {
	defer capture("access", &err)
	return translate(g.next.Access(path, mask))
}

func (g *FileSystem) Readdir(path string) (entries []leaf.DirEntry, err error) {
	defer capture("readdir", &err)
	entries, err = g.next.Readdir(path)
	return entries, translate(err)
}

func (g *FileSystem) Unlink(path string) (err error) {
	defer capture("unlink", &err)
	return translate(g.next.Unlink(path))
}

func (g *FileSystem) Chmod(path string, mode uint32, fh leaf.Handle) (err error) {
	defer capture("chmod", &err)
	return translate(g.next.Chmod(path, mode, fh))
}

func (g *FileSystem) Chown(path string, uid, gid uint32, fh leaf.Handle) (err error) {
	defer capture("chown", &err)
	return translate(g.next.Chown(path, uid, gid, fh))
}

func (g *FileSystem) Truncate(path string, size int64, fh leaf.Handle) (err error) {
	defer capture("truncate", &err)
	return translate(g.next.Truncate(path, size, fh))
}

func (g *FileSystem) Open(path string, flags int) (fh leaf.Handle, err error) {
	defer capture("open", &err)
	fh, err = g.next.Open(path, flags)
	return fh, translate(err)
}

func (g *FileSystem) Create(path string, mode uint32, flags int) (fh leaf.Handle, err error) {
	defer capture("create", &err)
	fh, err = g.next.Create(path, mode, flags)
	return fh, translate(err)
}

func (g *FileSystem) Read(path string, p []byte, off int64, fh leaf.Handle) (n int, err error) {
	defer capture("read", &err)
	n, err = g.next.Read(path, p, off, fh)
	return n, translate(err)
}

func (g *FileSystem) Write(path string, p []byte, off int64, fh leaf.Handle) (n int, err error) {
	defer capture("write", &err)
	n, err = g.next.Write(path, p, off, fh)
	return n, translate(err)
}

func (g *FileSystem) Statfs(path string, st *leaf.Statvfs) (err error) {
	defer capture("statfs", &err)
	return translate(g.next.Statfs(path, st))
}

func (g *FileSystem) Release(path string, fh leaf.Handle) (err error) {
	defer capture("release", &err)
	return translate(g.next.Release(path, fh))
}

func (g *FileSystem) Fsync(path string, datasync bool, fh leaf.Handle) (err error) {
	defer capture("fsync", &err)
	return translate(g.next.Fsync(path, datasync, fh))
}

func (g *FileSystem) Utimens(path string, times *[2]leaf.TimeSpec, fh leaf.Handle) (err error) {
	defer capture("utimens", &err)
	return translate(g.next.Utimens(path, times, fh))
}

func (g *FileSystem) Fallocate(path string, mode uint32, off, length int64, fh leaf.Handle) (err error) {
	defer capture("fallocate", &err)
	return translate(g.next.Fallocate(path, mode, off, length, fh))
}

func (g *FileSystem) Lseek(path string, off int64, whence int, fh leaf.Handle) (res int64, err error) {
	defer capture("lseek", &err)
	res, err = g.next.Lseek(path, off, whence, fh)
	return res, translate(err)
}
