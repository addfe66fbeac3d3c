package metrics

import (
	"time"

	"github.com/marmos91/spanfs/pkg/leaf"
)

// FileSystem is the instrumentation decorator. It wraps a FileSystem and
// counts every call, error and transferred byte.
type FileSystem struct {
	next leaf.FileSystem
}

var _ leaf.FileSystem = (*FileSystem)(nil)

// New wraps next with operation metrics.
func New(next leaf.FileSystem) *FileSystem {
	return &FileSystem{next: next}
}

func (m *FileSystem) Getattr(path string, st *leaf.Stat, fh leaf.Handle) error {
	start := time.Now()
	err := m.next.Getattr(path, st, fh)
	observe("getattr", start, err)
	return err
}

func (m *FileSystem) Readlink(path string, buf []byte) (int, error) {
	start := time.Now()
	n, err := m.next.Readlink(path, buf)
	observe("readlink", start, err)
	return n, err
}

func (m *FileSystem) Mknod(path string, mode uint32, dev uint64) error {
	start := time.Now()
	err := m.next.Mknod(path, mode, dev)
	observe("mknod", start, err)
	return err
}

func (m *FileSystem) Mkdir(path string, mode uint32) error {
	start := time.Now()
	err := m.next.Mkdir(path, mode)
	observe("mkdir", start, err)
	return err
}

func (m *FileSystem) Rmdir(path string) error {
	start := time.Now()
	err := m.next.Rmdir(path)
	observe("rmdir", start, err)
	return err
}

func (m *FileSystem) Symlink(from, to string) error {
	start := time.Now()
	err := m.next.Symlink(from, to)
	observe("symlink", start, err)
	return err
}

func (m *FileSystem) Rename(from, to string, flags uint32) error {
	start := time.Now()
	err := m.next.Rename(from, to, flags)
	observe("rename", start, err)
	return err
}

func (m *FileSystem) Link(from, to string) error {
	start := time.Now()
	err := m.next.Link(from, to)
	observe("link", start, err)
	return err
}

func (m *FileSystem) Access(path string, mask uint32) error {
	start := time.Now()
	err := m.next.Access(path, mask)
	observe("access", start, err)
	return err
}

func (m *FileSystem) Readdir(path string) ([]leaf.DirEntry, error) {
	start := time.Now()
	entries, err := m.next.Readdir(path)
	observe("readdir", start, err)
	return entries, err
}

func (m *FileSystem) Unlink(path string) error {
	start := time.Now()
	err := m.next.Unlink(path)
	observe("unlink", start, err)
	return err
}

func (m *FileSystem) Chmod(path string, mode uint32, fh leaf.Handle) error {
	start := time.Now()
	err := m.next.Chmod(path, mode, fh)
	observe("chmod", start, err)
	return err
}

func (m *FileSystem) Chown(path string, uid, gid uint32, fh leaf.Handle) error {
	start := time.Now()
	err := m.next.Chown(path, uid, gid, fh)
	observe("chown", start, err)
	return err
}

func (m *FileSystem) Truncate(path string, size int64, fh leaf.Handle) error {
	start := time.Now()
	err := m.next.Truncate(path, size, fh)
	observe("truncate", start, err)
	return err
}

func (m *FileSystem) Open(path string, flags int) (leaf.Handle, error) {
	start := time.Now()
	fh, err := m.next.Open(path, flags)
	observe("open", start, err)
	return fh, err
}

func (m *FileSystem) Create(path string, mode uint32, flags int) (leaf.Handle, error) {
	start := time.Now()
	fh, err := m.next.Create(path, mode, flags)
	observe("create", start, err)
	return fh, err
}

func (m *FileSystem) Read(path string, p []byte, off int64, fh leaf.Handle) (int, error) {
	start := time.Now()
	n, err := m.next.Read(path, p, off, fh)
	observe("read", start, err)
	bytesRead.Add(float64(n))
	return n, err
}

func (m *FileSystem) Write(path string, p []byte, off int64, fh leaf.Handle) (int, error) {
	start := time.Now()
	n, err := m.next.Write(path, p, off, fh)
	observe("write", start, err)
	bytesWritten.Add(float64(n))
	return n, err
}

func (m *FileSystem) Statfs(path string, st *leaf.Statvfs) error {
	start := time.Now()
	err := m.next.Statfs(path, st)
	observe("statfs", start, err)
	return err
}

func (m *FileSystem) Release(path string, fh leaf.Handle) error {
	start := time.Now()
	err := m.next.Release(path, fh)
	observe("release", start, err)
	return err
}

func (m *FileSystem) Fsync(path string, datasync bool, fh leaf.Handle) error {
	start := time.Now()
	err := m.next.Fsync(path, datasync, fh)
	observe("fsync", start, err)
	return err
}

func (m *FileSystem) Utimens(path string, times *[2]leaf.TimeSpec, fh leaf.Handle) error {
	start := time.Now()
	err := m.next.Utimens(path, times, fh)
	observe("utimens", start, err)
	return err
}

func (m *FileSystem) Fallocate(path string, mode uint32, off, length int64, fh leaf.Handle) error {
	start := time.Now()
	err := m.next.Fallocate(path, mode, off, length, fh)
	observe("fallocate", start, err)
	return err
}

func (m *FileSystem) Lseek(path string, off int64, whence int, fh leaf.Handle) (int64, error) {
	start := time.Now()
	res, err := m.next.Lseek(path, off, whence, fh)
	observe("lseek", start, err)
	return res, err
}
