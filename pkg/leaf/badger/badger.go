// Package badger implements a leaf backend persisted in a BadgerDB
// key-value store.
//
// Per-chunk files live as whole values under a data key derived from their
// path, with a small binary attribute record under a parallel attr key. The
// store enforces an optional byte quota the same way the memory leaf does:
// a write that cannot fully fit keeps the prefix that fits and reports
// ENOSPC together with the partial count, which is the signal the striping
// engine grows on.
//
// Storage schema:
//
//	a<path> -> attribute record (mode, uid, gid, nlink, timestamps)
//	d<path> -> file content bytes
//
// Suitable when a federation wants a leaf that survives restarts without
// reflecting a host directory - for instance a fast local scratch DB used
// as overflow next to one or more reflectors.
package badger

import (
	"fmt"
	"sync"
	"syscall"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/options"
	"golang.org/x/sys/unix"

	"github.com/marmos91/spanfs/pkg/leaf"
)

const blockSize = 4096

// Store is a BadgerDB-backed leaf filesystem.
type Store struct {
	mu       sync.Mutex
	db       *badger.DB
	capacity int64
	used     int64

	nextHandle leaf.Handle
	handles    map[leaf.Handle]string
}

var _ leaf.FileSystem = (*Store)(nil)

// Config configures a badger leaf.
type Config struct {
	// Path is the database directory.
	Path string

	// Capacity is the byte quota for file content; zero or less means
	// unbounded.
	Capacity int64
}

// New opens (or creates) the database and tallies the quota already in use
// by existing content.
func New(cfg Config) (*Store, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("badger leaf: path is required")
	}

	opts := badger.DefaultOptions(cfg.Path)
	opts = opts.WithLoggingLevel(badger.WARNING)
	opts = opts.WithCompression(options.None)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("opening badger leaf at %s: %w", cfg.Path, err)
	}

	s := &Store{
		db:       db,
		capacity: cfg.Capacity,
		handles:  make(map[leaf.Handle]string),
	}
	if err := s.recountUsed(); err != nil {
		db.Close()
		return nil, fmt.Errorf("scanning badger leaf at %s: %w", cfg.Path, err)
	}
	return s, nil
}

// Close releases the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// recountUsed rebuilds the quota counter from the data keys present in the
// database. Called once at open.
func (s *Store) recountUsed() error {
	return s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.IteratorOptions{Prefix: []byte(dataPrefix)})
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			s.used += it.Item().ValueSize()
		}
		return nil
	})
}

const (
	attrPrefix = "a"
	dataPrefix = "d"
)

func attrKey(path string) []byte { return []byte(attrPrefix + path) }
func dataKey(path string) []byte { return []byte(dataPrefix + path) }

// loadAttr fetches the attribute record inside a transaction.
func loadAttr(txn *badger.Txn, path string) (*attrRecord, error) {
	item, err := txn.Get(attrKey(path))
	if err == badger.ErrKeyNotFound {
		return nil, syscall.ENOENT
	}
	if err != nil {
		return nil, err
	}
	var rec attrRecord
	if err := item.Value(func(v []byte) error { return rec.decode(v) }); err != nil {
		return nil, err
	}
	return &rec, nil
}

// loadData fetches a copy of the content bytes inside a transaction; a
// missing data key means an empty file.
func loadData(txn *badger.Txn, path string) ([]byte, error) {
	item, err := txn.Get(dataKey(path))
	if err == badger.ErrKeyNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return item.ValueCopy(nil)
}

func (s *Store) Getattr(path string, st *leaf.Stat, _ leaf.Handle) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.db.View(func(txn *badger.Txn) error {
		rec, err := loadAttr(txn, path)
		if err != nil {
			return err
		}
		data, err := loadData(txn, path)
		if err != nil {
			return err
		}
		rec.fillStat(st, int64(len(data)))
		return nil
	})
}

func (s *Store) Readlink(string, []byte) (int, error) { return 0, syscall.EINVAL }
func (s *Store) Mknod(string, uint32, uint64) error   { return syscall.EOPNOTSUPP }
func (s *Store) Mkdir(string, uint32) error           { return syscall.EOPNOTSUPP }
func (s *Store) Rmdir(string) error                   { return syscall.EOPNOTSUPP }
func (s *Store) Symlink(string, string) error         { return syscall.EOPNOTSUPP }
func (s *Store) Link(string, string) error            { return syscall.EOPNOTSUPP }

func (s *Store) Rename(from, to string, flags uint32) error {
	if flags != 0 {
		return syscall.EINVAL
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.db.Update(func(txn *badger.Txn) error {
		rec, err := loadAttr(txn, from)
		if err != nil {
			return err
		}
		data, err := loadData(txn, from)
		if err != nil {
			return err
		}
		if overwritten, err := loadData(txn, to); err == nil {
			s.used -= int64(len(overwritten))
		}
		if err := txn.Set(attrKey(to), rec.encode()); err != nil {
			return err
		}
		if err := txn.Set(dataKey(to), data); err != nil {
			return err
		}
		if err := txn.Delete(attrKey(from)); err != nil {
			return err
		}
		return txn.Delete(dataKey(from))
	})
}

func (s *Store) Access(path string, _ uint32) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.db.View(func(txn *badger.Txn) error {
		_, err := loadAttr(txn, path)
		return err
	})
}

func (s *Store) Readdir(dir string) ([]leaf.DirEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	prefix := dir
	if prefix != "/" {
		prefix += "/"
	}
	var out []leaf.DirEntry
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.IteratorOptions{Prefix: []byte(attrPrefix + prefix)})
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			path := string(it.Item().Key()[len(attrPrefix):])
			out = append(out, leaf.DirEntry{
				Name: path[len(prefix):],
				Mode: unix.S_IFREG,
			})
		}
		return nil
	})
	return out, err
}

func (s *Store) Unlink(path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.db.Update(func(txn *badger.Txn) error {
		if _, err := loadAttr(txn, path); err != nil {
			return err
		}
		data, err := loadData(txn, path)
		if err != nil {
			return err
		}
		s.used -= int64(len(data))
		if err := txn.Delete(attrKey(path)); err != nil {
			return err
		}
		return txn.Delete(dataKey(path))
	})
}

// updateAttr loads, mutates and stores the attribute record in one
// transaction.
func (s *Store) updateAttr(path string, mutate func(*attrRecord)) error {
	return s.db.Update(func(txn *badger.Txn) error {
		rec, err := loadAttr(txn, path)
		if err != nil {
			return err
		}
		mutate(rec)
		return txn.Set(attrKey(path), rec.encode())
	})
}

func (s *Store) Chmod(path string, mode uint32, _ leaf.Handle) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.updateAttr(path, func(rec *attrRecord) {
		rec.Mode = mode & 0o7777
		rec.Ctime = leaf.Now()
	})
}

func (s *Store) Chown(path string, uid, gid uint32, _ leaf.Handle) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.updateAttr(path, func(rec *attrRecord) {
		rec.UID = uid
		rec.GID = gid
		rec.Ctime = leaf.Now()
	})
}

func (s *Store) Truncate(path string, size int64, _ leaf.Handle) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.db.Update(func(txn *badger.Txn) error {
		if _, err := loadAttr(txn, path); err != nil {
			return err
		}
		data, err := loadData(txn, path)
		if err != nil {
			return err
		}
		current := int64(len(data))
		switch {
		case size < current:
			s.used -= current - size
			data = data[:size]
		case size > current:
			growth := size - current
			if s.capacity > 0 && s.used+growth > s.capacity {
				return syscall.ENOSPC
			}
			s.used += growth
			data = append(data, make([]byte, growth)...)
		default:
			return nil
		}
		return txn.Set(dataKey(path), data)
	})
}

func (s *Store) Open(path string, flags int) (leaf.Handle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	err := s.db.Update(func(txn *badger.Txn) error {
		if _, err := loadAttr(txn, path); err != nil {
			return err
		}
		if flags&unix.O_TRUNC != 0 && flags&(unix.O_WRONLY|unix.O_RDWR) != 0 {
			data, err := loadData(txn, path)
			if err != nil {
				return err
			}
			s.used -= int64(len(data))
			return txn.Delete(dataKey(path))
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return s.allocHandle(path), nil
}

func (s *Store) Create(path string, mode uint32, _ int) (leaf.Handle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	err := s.db.Update(func(txn *badger.Txn) error {
		if _, err := loadAttr(txn, path); err == nil {
			return nil // already present; open it
		}
		now := leaf.Now()
		rec := attrRecord{
			Mode:  mode & 0o7777,
			Nlink: 1,
			Atime: now,
			Mtime: now,
			Ctime: now,
		}
		return txn.Set(attrKey(path), rec.encode())
	})
	if err != nil {
		return 0, err
	}
	return s.allocHandle(path), nil
}

func (s *Store) allocHandle(path string) leaf.Handle {
	s.nextHandle++
	s.handles[s.nextHandle] = path
	return s.nextHandle
}

func (s *Store) Read(path string, p []byte, off int64, _ leaf.Handle) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	err := s.db.View(func(txn *badger.Txn) error {
		if _, err := loadAttr(txn, path); err != nil {
			return err
		}
		data, err := loadData(txn, path)
		if err != nil {
			return err
		}
		if off >= int64(len(data)) {
			return nil
		}
		n = copy(p, data[off:])
		return nil
	})
	return n, err
}

func (s *Store) Write(path string, p []byte, off int64, _ leaf.Handle) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(p) == 0 {
		return 0, nil
	}

	n := 0
	short := false
	err := s.db.Update(func(txn *badger.Txn) error {
		rec, err := loadAttr(txn, path)
		if err != nil {
			return err
		}
		data, err := loadData(txn, path)
		if err != nil {
			return err
		}

		current := int64(len(data))
		end := off + int64(len(p))
		if growth := end - current; growth > 0 && s.capacity > 0 {
			if available := s.capacity - s.used; growth > available {
				end = current + available
			}
		}
		n = int(end - off)
		if n <= 0 {
			n = 0
			return syscall.ENOSPC
		}
		short = n < len(p)

		if end > current {
			s.used += end - current
			data = append(data, make([]byte, end-current)...)
		}
		copy(data[off:end], p[:n])

		rec.Mtime = leaf.Now()
		rec.Ctime = rec.Mtime
		if err := txn.Set(attrKey(path), rec.encode()); err != nil {
			return err
		}
		return txn.Set(dataKey(path), data)
	})
	if err != nil {
		return 0, err
	}
	if short {
		return n, syscall.ENOSPC
	}
	return n, nil
}

func (s *Store) Statfs(_ string, st *leaf.Statvfs) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	capacity := s.capacity
	if capacity <= 0 {
		capacity = 1 << 40
	}
	free := capacity - s.used
	if free < 0 {
		free = 0
	}
	var files uint64
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.IteratorOptions{Prefix: []byte(attrPrefix)})
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			files++
		}
		return nil
	})
	if err != nil {
		return err
	}

	st.Bsize = blockSize
	st.Frsize = blockSize
	st.Blocks = uint64(capacity) / blockSize
	st.Bfree = uint64(free) / blockSize
	st.Bavail = st.Bfree
	st.Files = files
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

// Fsync syncs the write-ahead log to disk; badger makes no distinction
// between data and metadata durability.
func (s *Store) Fsync(string, bool, leaf.Handle) error {
	return s.db.Sync()
}

func (s *Store) Utimens(path string, times *[2]leaf.TimeSpec, _ leaf.Handle) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.updateAttr(path, func(rec *attrRecord) {
		now := leaf.Now()
		if times == nil {
			rec.Atime = now
			rec.Mtime = now
			rec.Ctime = now
			return
		}
		if times[0].IsNow() {
			rec.Atime = now
		} else if !times[0].IsOmit() {
			rec.Atime = times[0]
		}
		if times[1].IsNow() {
			rec.Mtime = now
		} else if !times[1].IsOmit() {
			rec.Mtime = times[1]
		}
		if !times[0].IsOmit() || !times[1].IsOmit() {
			rec.Ctime = now
		}
	})
}

func (s *Store) Fallocate(path string, mode uint32, off, length int64, _ leaf.Handle) error {
	if mode != 0 {
		return syscall.EOPNOTSUPP
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.db.Update(func(txn *badger.Txn) error {
		if _, err := loadAttr(txn, path); err != nil {
			return err
		}
		data, err := loadData(txn, path)
		if err != nil {
			return err
		}
		end := off + length
		current := int64(len(data))
		if end <= current {
			return nil
		}
		growth := end - current
		if s.capacity > 0 && s.used+growth > s.capacity {
			return syscall.ENOSPC
		}
		s.used += growth
		data = append(data, make([]byte, growth)...)
		return txn.Set(dataKey(path), data)
	})
}

func (s *Store) Lseek(path string, off int64, whence int, _ leaf.Handle) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var size int64
	err := s.db.View(func(txn *badger.Txn) error {
		if _, err := loadAttr(txn, path); err != nil {
			return err
		}
		data, err := loadData(txn, path)
		if err != nil {
			return err
		}
		size = int64(len(data))
		return nil
	})
	if err != nil {
		return 0, err
	}
	switch whence {
	case unix.SEEK_DATA:
		if off >= size {
			return 0, syscall.ENXIO
		}
		return off, nil
	case unix.SEEK_HOLE:
		return size, nil
	default:
		return 0, syscall.EINVAL
	}
}
