// Package logging implements the call-logging decorator: a FileSystem that
// delegates to the wrapped filesystem and then records one line per
// operation - name, salient arguments, result.
//
// When the federation is mounted with call logging enabled, this decorator
// sits between the federation engine and the lock decorator, so the log
// reflects the operation stream in the exact order the lock admits it.
package logging

import (
	"fmt"
	"io"
	stdlog "log"
	"os"

	"github.com/marmos91/spanfs/pkg/leaf"
)

// FileSystem records every call on its way through to the wrapped
// filesystem.
type FileSystem struct {
	next leaf.FileSystem
	log  *stdlog.Logger

	closer io.Closer
}

var _ leaf.FileSystem = (*FileSystem)(nil)

// New wraps next with a call log emitted to w.
func New(next leaf.FileSystem, w io.Writer) *FileSystem {
	return &FileSystem{
		next: next,
		log:  stdlog.New(w, "", stdlog.LstdFlags|stdlog.Lmicroseconds),
	}
}

// NewFile wraps next with a call log appended to the file at path, creating
// it when absent.
func NewFile(next leaf.FileSystem, path string) (*FileSystem, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("opening call log %q: %w", path, err)
	}
	lfs := New(next, f)
	lfs.closer = f
	return lfs, nil
}

// Close releases the underlying log file, when one was opened by NewFile.
func (l *FileSystem) Close() error {
	if l.closer == nil {
		return nil
	}
	return l.closer.Close()
}

// result renders an error the way the log reads best: "OK" or the errno.
func result(err error) string {
	if err == nil {
		return "OK"
	}
	return fmt.Sprintf("err=%v", err)
}

func (l *FileSystem) Getattr(path string, st *leaf.Stat, fh leaf.Handle) error {
	err := l.next.Getattr(path, st, fh)
	l.log.Printf("getattr path=%s fh=%d %s", path, fh, result(err))
	return err
}

func (l *FileSystem) Readlink(path string, buf []byte) (int, error) {
	n, err := l.next.Readlink(path, buf)
	l.log.Printf("readlink path=%s size=%d n=%d %s", path, len(buf), n, result(err))
	return n, err
}

func (l *FileSystem) Mknod(path string, mode uint32, dev uint64) error {
	err := l.next.Mknod(path, mode, dev)
	l.log.Printf("mknod path=%s mode=%o dev=%d %s", path, mode, dev, result(err))
	return err
}

func (l *FileSystem) Mkdir(path string, mode uint32) error {
	err := l.next.Mkdir(path, mode)
	l.log.Printf("mkdir path=%s mode=%o %s", path, mode, result(err))
	return err
}

func (l *FileSystem) Rmdir(path string) error {
	err := l.next.Rmdir(path)
	l.log.Printf("rmdir path=%s %s", path, result(err))
	return err
}

func (l *FileSystem) Symlink(from, to string) error {
	err := l.next.Symlink(from, to)
	l.log.Printf("symlink from=%s to=%s %s", from, to, result(err))
	return err
}

func (l *FileSystem) Rename(from, to string, flags uint32) error {
	err := l.next.Rename(from, to, flags)
	l.log.Printf("rename from=%s to=%s flags=%#x %s", from, to, flags, result(err))
	return err
}

func (l *FileSystem) Link(from, to string) error {
	err := l.next.Link(from, to)
	l.log.Printf("link from=%s to=%s %s", from, to, result(err))
	return err
}

func (l *FileSystem) Access(path string, mask uint32) error {
	err := l.next.Access(path, mask)
	l.log.Printf("access path=%s mask=%#x %s", path, mask, result(err))
	return err
}

func (l *FileSystem) Readdir(path string) ([]leaf.DirEntry, error) {
	entries, err := l.next.Readdir(path)
	l.log.Printf("readdir path=%s entries=%d %s", path, len(entries), result(err))
	return entries, err
}

func (l *FileSystem) Unlink(path string) error {
	err := l.next.Unlink(path)
	l.log.Printf("unlink path=%s %s", path, result(err))
	return err
}

func (l *FileSystem) Chmod(path string, mode uint32, fh leaf.Handle) error {
	err := l.next.Chmod(path, mode, fh)
	l.log.Printf("chmod path=%s mode=%o fh=%d %s", path, mode, fh, result(err))
	return err
}

func (l *FileSystem) Chown(path string, uid, gid uint32, fh leaf.Handle) error {
	err := l.next.Chown(path, uid, gid, fh)
	l.log.Printf("chown path=%s uid=%d gid=%d fh=%d %s", path, uid, gid, fh, result(err))
	return err
}

func (l *FileSystem) Truncate(path string, size int64, fh leaf.Handle) error {
	err := l.next.Truncate(path, size, fh)
	l.log.Printf("truncate path=%s size=%d fh=%d %s", path, size, fh, result(err))
	return err
}

func (l *FileSystem) Open(path string, flags int) (leaf.Handle, error) {
	fh, err := l.next.Open(path, flags)
	l.log.Printf("open path=%s flags=%#x fh=%d %s", path, flags, fh, result(err))
	return fh, err
}

func (l *FileSystem) Create(path string, mode uint32, flags int) (leaf.Handle, error) {
	fh, err := l.next.Create(path, mode, flags)
	l.log.Printf("create path=%s mode=%o flags=%#x fh=%d %s", path, mode, flags, fh, result(err))
	return fh, err
}

func (l *FileSystem) Read(path string, p []byte, off int64, fh leaf.Handle) (int, error) {
	n, err := l.next.Read(path, p, off, fh)
	l.log.Printf("read path=%s size=%d off=%d fh=%d n=%d %s", path, len(p), off, fh, n, result(err))
	return n, err
}

func (l *FileSystem) Write(path string, p []byte, off int64, fh leaf.Handle) (int, error) {
	n, err := l.next.Write(path, p, off, fh)
	l.log.Printf("write path=%s size=%d off=%d fh=%d n=%d %s", path, len(p), off, fh, n, result(err))
	return n, err
}

func (l *FileSystem) Statfs(path string, st *leaf.Statvfs) error {
	err := l.next.Statfs(path, st)
	l.log.Printf("statfs path=%s %s", path, result(err))
	return err
}

func (l *FileSystem) Release(path string, fh leaf.Handle) error {
	err := l.next.Release(path, fh)
	l.log.Printf("release path=%s fh=%d %s", path, fh, result(err))
	return err
}

func (l *FileSystem) Fsync(path string, datasync bool, fh leaf.Handle) error {
	err := l.next.Fsync(path, datasync, fh)
	l.log.Printf("fsync path=%s datasync=%t fh=%d %s", path, datasync, fh, result(err))
	return err
}

func (l *FileSystem) Utimens(path string, times *[2]leaf.TimeSpec, fh leaf.Handle) error {
	err := l.next.Utimens(path, times, fh)
	l.log.Printf("utimens path=%s fh=%d %s", path, fh, result(err))
	return err
}

func (l *FileSystem) Fallocate(path string, mode uint32, off, length int64, fh leaf.Handle) error {
	err := l.next.Fallocate(path, mode, off, length, fh)
	l.log.Printf("fallocate path=%s mode=%#x off=%d len=%d fh=%d %s", path, mode, off, length, fh, result(err))
	return err
}

func (l *FileSystem) Lseek(path string, off int64, whence int, fh leaf.Handle) (int64, error) {
	res, err := l.next.Lseek(path, off, whence, fh)
	l.log.Printf("lseek path=%s off=%d whence=%d fh=%d res=%d %s", path, off, whence, fh, res, result(err))
	return res, err
}
