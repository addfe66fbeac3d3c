// Package memory implements an in-memory leaf backend with a configurable
// byte quota.
//
// The store keeps whole file images in a map keyed by path, guarded by a
// single RWMutex. It exists for two reasons: as a lightweight configurable
// backend for scratch federations, and as the deterministic capacity model
// the striped-file engine is tested against (a leaf that presents exactly N
// free bytes, reports short writes, and surfaces ENOSPC when full).
//
// Space accounting is byte-exact: a write that grows a file consumes quota
// for the growth only, and a write that cannot fully fit stores the prefix
// that fits and reports ENOSPC alongside the partial count.
package memory

import (
	"path"
	"strings"
	"sync"
	"syscall"

	"golang.org/x/sys/unix"

	"github.com/marmos91/spanfs/pkg/leaf"
)

// blockSize is the block granularity reported by Statfs.
const blockSize = 4096

// Store is a quota-bounded in-memory leaf filesystem.
type Store struct {
	mu       sync.RWMutex
	capacity int64
	used     int64
	files    map[string]*file
	links    map[string]string // symlink target by path

	nextHandle leaf.Handle
	handles    map[leaf.Handle]*openState
}

type file struct {
	data  []byte
	mode  uint32
	uid   uint32
	gid   uint32
	atime leaf.TimeSpec
	mtime leaf.TimeSpec
	ctime leaf.TimeSpec
	nlink uint32
}

type openState struct {
	path  string
	flags int
}

var _ leaf.FileSystem = (*Store)(nil)

// New creates a memory leaf with the given capacity in bytes. A capacity of
// zero or less means unbounded.
func New(capacity int64) *Store {
	return &Store{
		capacity: capacity,
		files:    make(map[string]*file),
		links:    make(map[string]string),
		handles:  make(map[leaf.Handle]*openState),
	}
}

// Capacity returns the configured quota (0 = unbounded).
func (s *Store) Capacity() int64 { return s.capacity }

// Used returns the number of quota bytes currently consumed.
func (s *Store) Used() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.used
}

func (s *Store) Getattr(p string, st *leaf.Stat, _ leaf.Handle) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if target, ok := s.links[p]; ok {
		st.Mode = unix.S_IFLNK | 0o777
		st.Size = int64(len(target))
		st.Nlink = 1
		return nil
	}
	f, ok := s.files[p]
	if !ok {
		return syscall.ENOENT
	}
	st.Mode = unix.S_IFREG | f.mode
	st.Nlink = f.nlink
	st.UID = f.uid
	st.GID = f.gid
	st.Size = int64(len(f.data))
	st.Atime = f.atime
	st.Mtime = f.mtime
	st.Ctime = f.ctime
	return nil
}

func (s *Store) Readlink(p string, buf []byte) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	target, ok := s.links[p]
	if !ok {
		if _, exists := s.files[p]; exists {
			return 0, syscall.EINVAL
		}
		return 0, syscall.ENOENT
	}
	n := copy(buf, target)
	if n < len(buf) {
		buf[n] = 0
	}
	return n, nil
}

func (s *Store) Mknod(string, uint32, uint64) error { return syscall.EOPNOTSUPP }
func (s *Store) Mkdir(string, uint32) error         { return syscall.EOPNOTSUPP }
func (s *Store) Rmdir(string) error                 { return syscall.EOPNOTSUPP }

func (s *Store) Symlink(from, to string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.exists(to) {
		return syscall.EEXIST
	}
	s.links[to] = from
	return nil
}

func (s *Store) Rename(from, to string, flags uint32) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.exists(from) {
		return syscall.ENOENT
	}
	switch {
	case flags&leaf.RenameExchange != 0:
		if !s.exists(to) {
			return syscall.ENOENT
		}
		s.files[from], s.files[to] = s.files[to], s.files[from]
		s.links[from], s.links[to] = s.links[to], s.links[from]
		s.normalize(from)
		s.normalize(to)
		return nil
	case flags&leaf.RenameNoReplace != 0 && s.exists(to):
		return syscall.EEXIST
	case flags&^uint32(leaf.RenameNoReplace|leaf.RenameExchange) != 0:
		return syscall.EINVAL
	}

	if f, ok := s.files[to]; ok {
		s.used -= int64(len(f.data))
	}
	delete(s.files, to)
	delete(s.links, to)
	if f, ok := s.files[from]; ok {
		s.files[to] = f
		delete(s.files, from)
	}
	if target, ok := s.links[from]; ok {
		s.links[to] = target
		delete(s.links, from)
	}
	return nil
}

func (s *Store) Link(from, to string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, ok := s.files[from]
	if !ok {
		return syscall.ENOENT
	}
	if s.exists(to) {
		return syscall.EEXIST
	}
	f.nlink++
	s.files[to] = f
	return nil
}

func (s *Store) Access(p string, _ uint32) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.exists(p) {
		return syscall.ENOENT
	}
	return nil
}

// Readdir lists the direct children of the given directory in the flat key
// space.
func (s *Store) Readdir(dir string) ([]leaf.DirEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	prefix := dir
	if !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	var out []leaf.DirEntry
	appendChild := func(p string, mode uint32) {
		if path.Dir(p) != path.Clean(dir) {
			return
		}
		out = append(out, leaf.DirEntry{Name: strings.TrimPrefix(p, prefix), Mode: mode})
	}
	for p := range s.files {
		appendChild(p, unix.S_IFREG)
	}
	for p := range s.links {
		appendChild(p, unix.S_IFLNK)
	}
	return out, nil
}

func (s *Store) Unlink(p string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if f, ok := s.files[p]; ok {
		f.nlink--
		if f.nlink == 0 {
			s.used -= int64(len(f.data))
		}
		delete(s.files, p)
		return nil
	}
	if _, ok := s.links[p]; ok {
		delete(s.links, p)
		return nil
	}
	return syscall.ENOENT
}

func (s *Store) Chmod(p string, mode uint32, _ leaf.Handle) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, ok := s.files[p]
	if !ok {
		return syscall.ENOENT
	}
	f.mode = mode & 0o7777
	f.ctime = leaf.Now()
	return nil
}

func (s *Store) Chown(p string, uid, gid uint32, _ leaf.Handle) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, ok := s.files[p]
	if !ok {
		return syscall.ENOENT
	}
	f.uid = uid
	f.gid = gid
	f.ctime = leaf.Now()
	return nil
}

func (s *Store) Truncate(p string, size int64, _ leaf.Handle) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, ok := s.files[p]
	if !ok {
		return syscall.ENOENT
	}
	return s.resize(f, size)
}

// resize grows or shrinks a file image, charging or refunding quota.
// Callers hold the write lock.
func (s *Store) resize(f *file, size int64) error {
	current := int64(len(f.data))
	switch {
	case size < current:
		s.used -= current - size
		f.data = f.data[:size]
	case size > current:
		growth := size - current
		if s.capacity > 0 && s.used+growth > s.capacity {
			return syscall.ENOSPC
		}
		s.used += growth
		f.data = append(f.data, make([]byte, growth)...)
	}
	f.mtime = leaf.Now()
	f.ctime = f.mtime
	return nil
}

func (s *Store) Open(p string, flags int) (leaf.Handle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, ok := s.files[p]
	if !ok {
		return 0, syscall.ENOENT
	}
	if flags&unix.O_TRUNC != 0 && flags&(unix.O_WRONLY|unix.O_RDWR) != 0 {
		if err := s.resize(f, 0); err != nil {
			return 0, err
		}
	}
	return s.allocHandle(p, flags), nil
}

func (s *Store) Create(p string, mode uint32, flags int) (leaf.Handle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.files[p]; !ok {
		now := leaf.Now()
		s.files[p] = &file{
			mode:  mode & 0o7777,
			nlink: 1,
			atime: now,
			mtime: now,
			ctime: now,
		}
	}
	return s.allocHandle(p, flags), nil
}

// allocHandle hands out the next handle id. Callers hold the write lock.
func (s *Store) allocHandle(p string, flags int) leaf.Handle {
	s.nextHandle++
	h := s.nextHandle
	s.handles[h] = &openState{path: p, flags: flags}
	return h
}

func (s *Store) Read(p string, buf []byte, off int64, _ leaf.Handle) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	f, ok := s.files[p]
	if !ok {
		return 0, syscall.ENOENT
	}
	if off >= int64(len(f.data)) {
		return 0, nil
	}
	return copy(buf, f.data[off:]), nil
}

// Write stores as much of buf as the quota allows at the given offset. A
// partial write is reported together with ENOSPC so callers can distinguish
// "short but retryable elsewhere" from success.
func (s *Store) Write(p string, buf []byte, off int64, _ leaf.Handle) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, ok := s.files[p]
	if !ok {
		return 0, syscall.ENOENT
	}
	if len(buf) == 0 {
		return 0, nil
	}

	end := off + int64(len(buf))
	current := int64(len(f.data))
	if growth := end - current; growth > 0 && s.capacity > 0 {
		available := s.capacity - s.used
		if growth > available {
			end = current + available
		}
	}
	n := int(end - off)
	if n <= 0 {
		return 0, syscall.ENOSPC
	}

	if end > current {
		if err := s.resize(f, end); err != nil {
			return 0, err
		}
	}
	copy(f.data[off:end], buf[:n])
	f.mtime = leaf.Now()
	f.ctime = f.mtime

	if n < len(buf) {
		return n, syscall.ENOSPC
	}
	return n, nil
}

func (s *Store) Statfs(_ string, st *leaf.Statvfs) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	capacity := s.capacity
	if capacity <= 0 {
		capacity = 1 << 40
	}
	free := capacity - s.used
	if free < 0 {
		free = 0
	}
	st.Bsize = blockSize
	st.Frsize = blockSize
	st.Blocks = uint64(capacity) / blockSize
	st.Bfree = uint64(free) / blockSize
	st.Bavail = st.Bfree
	st.Files = uint64(len(s.files) + len(s.links))
	st.Ffree = 1 << 20
	st.Favail = st.Ffree
	st.Namemax = 255
	return nil
}

func (s *Store) Release(_ string, fh leaf.Handle) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.handles[fh]; !ok {
		return syscall.EBADF
	}
	delete(s.handles, fh)
	return nil
}

func (s *Store) Fsync(p string, _ bool, _ leaf.Handle) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.exists(p) {
		return syscall.ENOENT
	}
	return nil
}

func (s *Store) Utimens(p string, times *[2]leaf.TimeSpec, _ leaf.Handle) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, ok := s.files[p]
	if !ok {
		return syscall.ENOENT
	}

	now := leaf.Now()
	if times == nil {
		f.atime = now
		f.mtime = now
		f.ctime = now
		return nil
	}
	if times[0].IsNow() {
		f.atime = now
	} else if !times[0].IsOmit() {
		f.atime = times[0]
	}
	if times[1].IsNow() {
		f.mtime = now
	} else if !times[1].IsOmit() {
		f.mtime = times[1]
	}
	if !times[0].IsOmit() || !times[1].IsOmit() {
		f.ctime = now
	}
	return nil
}

func (s *Store) Fallocate(p string, mode uint32, off, length int64, _ leaf.Handle) error {
	if mode != 0 {
		return syscall.EOPNOTSUPP
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	f, ok := s.files[p]
	if !ok {
		return syscall.ENOENT
	}
	if end := off + length; end > int64(len(f.data)) {
		return s.resize(f, end)
	}
	return nil
}

func (s *Store) Lseek(p string, off int64, whence int, _ leaf.Handle) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	f, ok := s.files[p]
	if !ok {
		return 0, syscall.ENOENT
	}
	switch whence {
	case unix.SEEK_DATA:
		if off >= int64(len(f.data)) {
			return 0, syscall.ENXIO
		}
		return off, nil
	case unix.SEEK_HOLE:
		return int64(len(f.data)), nil
	default:
		return 0, syscall.EINVAL
	}
}

// exists reports whether p names a file or symlink. Callers hold a lock.
func (s *Store) exists(p string) bool {
	if _, ok := s.files[p]; ok {
		return true
	}
	_, ok := s.links[p]
	return ok
}

// normalize removes zero-value entries left behind by the exchange swap.
// Callers hold the write lock.
func (s *Store) normalize(p string) {
	if f, ok := s.files[p]; ok && f == nil {
		delete(s.files, p)
	}
	if target, ok := s.links[p]; ok && target == "" {
		delete(s.links, p)
	}
}
