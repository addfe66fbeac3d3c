// Package locked provides the reader/writer serialization decorator for the
// federation stack.
//
// One RWMutex guards the entire federation: the namespace map, every striped
// file's chunk list and descriptor, and the per-open handle table. Pure
// readers (getattr, access, readdir, readlink, read, statfs, lseek) take the
// lock shared; everything else - namespace mutations, metadata changes,
// writes, open/release - takes it exclusively. Leaf I/O issued inside a
// critical section blocks with the lock held; that is the intended
// trade-off for the two-or-three local leaves the federation is built for.
//
// Holding the exclusive lock across an entire multi-chunk write means
// chunk-list growth and the per-chunk writes it interleaves with are
// observed atomically by every other operation.
package locked

import (
	"sync"

	"github.com/marmos91/spanfs/pkg/leaf"
)

// FileSystem serializes access to a wrapped FileSystem with a single
// reader/writer lock.
type FileSystem struct {
	mu   sync.RWMutex
	next leaf.FileSystem
}

var _ leaf.FileSystem = (*FileSystem)(nil)

// New wraps next in the lock decorator.
func New(next leaf.FileSystem) *FileSystem {
	return &FileSystem{next: next}
}

func (s *FileSystem) Getattr(path string, st *leaf.Stat, fh leaf.Handle) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.next.Getattr(path, st, fh)
}

func (s *FileSystem) Readlink(path string, buf []byte) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.next.Readlink(path, buf)
}

func (s *FileSystem) Mknod(path string, mode uint32, dev uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.next.Mknod(path, mode, dev)
}

func (s *FileSystem) Mkdir(path string, mode uint32) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.next.Mkdir(path, mode)
}

func (s *FileSystem) Rmdir(path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.next.Rmdir(path)
}

func (s *FileSystem) Symlink(from, to string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.next.Symlink(from, to)
}

func (s *FileSystem) Rename(from, to string, flags uint32) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.next.Rename(from, to, flags)
}

func (s *FileSystem) Link(from, to string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.next.Link(from, to)
}

func (s *FileSystem) Access(path string, mask uint32) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.next.Access(path, mask)
}

func (s *FileSystem) Readdir(path string) ([]leaf.DirEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.next.Readdir(path)
}

func (s *FileSystem) Unlink(path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.next.Unlink(path)
}

func (s *FileSystem) Chmod(path string, mode uint32, fh leaf.Handle) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.next.Chmod(path, mode, fh)
}

func (s *FileSystem) Chown(path string, uid, gid uint32, fh leaf.Handle) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.next.Chown(path, uid, gid, fh)
}

func (s *FileSystem) Truncate(path string, size int64, fh leaf.Handle) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.next.Truncate(path, size, fh)
}

func (s *FileSystem) Open(path string, flags int) (leaf.Handle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.next.Open(path, flags)
}

func (s *FileSystem) Create(path string, mode uint32, flags int) (leaf.Handle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.next.Create(path, mode, flags)
}

func (s *FileSystem) Read(path string, p []byte, off int64, fh leaf.Handle) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.next.Read(path, p, off, fh)
}

func (s *FileSystem) Write(path string, p []byte, off int64, fh leaf.Handle) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.next.Write(path, p, off, fh)
}

func (s *FileSystem) Statfs(path string, st *leaf.Statvfs) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.next.Statfs(path, st)
}

func (s *FileSystem) Release(path string, fh leaf.Handle) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.next.Release(path, fh)
}

func (s *FileSystem) Fsync(path string, datasync bool, fh leaf.Handle) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.next.Fsync(path, datasync, fh)
}

func (s *FileSystem) Utimens(path string, times *[2]leaf.TimeSpec, fh leaf.Handle) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.next.Utimens(path, times, fh)
}

func (s *FileSystem) Fallocate(path string, mode uint32, off, length int64, fh leaf.Handle) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.next.Fallocate(path, mode, off, length, fh)
}

func (s *FileSystem) Lseek(path string, off int64, whence int, fh leaf.Handle) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.next.Lseek(path, off, whence, fh)
}
