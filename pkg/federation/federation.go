// Package federation implements the spanfs core: a flat namespace of inodes
// federated over an ordered set of leaf filesystems, with regular files
// transparently striped across the leaves by append-only extension.
//
// The federation itself implements leaf.FileSystem, so the concurrency,
// logging and error-translation decorators stack on top of it and the FUSE
// adapter drives the whole tower through one interface.
//
// The engine performs no internal locking. Callers (in practice the locked
// decorator) must serialize mutating operations against each other and
// against readers, following the classification documented there.
package federation

import (
	"fmt"
	"strings"
	"syscall"

	"golang.org/x/sys/unix"

	"github.com/marmos91/spanfs/pkg/leaf"
)

// Fixed statvfs template values. Leaf capacities are aggregated into these
// units; the identity fields are constant for the federation's lifetime.
const (
	blockSize    = 4 * 1024
	maxNameLen   = 255
	filesystemID = 0x0123456789098765
)

// Federation is the namespace engine. It owns the ordered leaf list, the
// path-to-inode map, and the per-open handle table.
type Federation struct {
	ownerUID uint32
	ownerGID uint32
	leaves   []leaf.FileSystem
	inodes   map[string]*inodeRef
	template leaf.Statvfs
	handles  handleTable
}

var _ leaf.FileSystem = (*Federation)(nil)

// New creates a federation over the given leaves. The leaf order is the
// declaration order used for chunk placement; at least one leaf is required.
// The owner identifies the mounting user and is reported for the root
// directory and stamped on new inodes.
func New(ownerUID, ownerGID uint32, leaves []leaf.FileSystem) (*Federation, error) {
	if len(leaves) == 0 {
		return nil, fmt.Errorf("federation requires at least one leaf filesystem")
	}
	return &Federation{
		ownerUID: ownerUID,
		ownerGID: ownerGID,
		leaves:   leaves,
		inodes:   make(map[string]*inodeRef),
		template: leaf.Statvfs{
			Bsize:   blockSize,
			Frsize:  blockSize,
			Fsid:    filesystemID,
			Namemax: maxNameLen,
		},
		handles: newHandleTable(),
	}, nil
}

// isRootAlias reports whether path names the root directory in one of its
// three spellings.
func isRootAlias(path string) bool {
	return path == "/" || path == "/." || path == "/.."
}

func (m *Federation) Getattr(path string, st *leaf.Stat, _ leaf.Handle) error {
	*st = leaf.Stat{}

	if path == "/" {
		now := leaf.Now()
		st.Mode = unix.S_IFDIR | 0o755
		st.Nlink = 2
		st.UID = m.ownerUID
		st.GID = m.ownerGID
		st.Atime = now
		st.Mtime = now
		st.Ctime = now
		return nil
	}

	ref, ok := m.inodes[path]
	if !ok {
		return syscall.ENOENT
	}
	st.Nlink = ref.nlink
	switch node := ref.node.(type) {
	case *File:
		node.fillStat(st)
	case *Symlink:
		node.fillStat(st)
	default:
		panic("federation: unhandled inode variant")
	}
	return nil
}

// Access succeeds for the root aliases and any existing path; the mask is
// not interpreted beyond existence.
func (m *Federation) Access(path string, _ uint32) error {
	if isRootAlias(path) {
		return nil
	}
	if _, ok := m.inodes[path]; ok {
		return nil
	}
	return syscall.ENOENT
}

// Readdir lists the namespace. The namespace is flat, so only the root
// directory can be listed.
func (m *Federation) Readdir(path string) ([]leaf.DirEntry, error) {
	if path != "/" {
		return nil, syscall.ENOENT
	}

	entries := make([]leaf.DirEntry, 0, len(m.inodes)+2)
	entries = append(entries,
		leaf.DirEntry{Name: ".", Mode: unix.S_IFDIR},
		leaf.DirEntry{Name: "..", Mode: unix.S_IFDIR},
	)
	for p, ref := range m.inodes {
		mode := uint32(unix.S_IFREG)
		if _, ok := ref.node.(*Symlink); ok {
			mode = unix.S_IFLNK
		}
		entries = append(entries, leaf.DirEntry{
			Name: strings.TrimPrefix(p, "/"),
			Mode: mode,
		})
	}
	return entries, nil
}

func (m *Federation) Readlink(path string, buf []byte) (int, error) {
	ref, ok := m.inodes[path]
	if !ok {
		return 0, syscall.ENOENT
	}
	switch node := ref.node.(type) {
	case *Symlink:
		n := copy(buf, node.target)
		if n < len(buf) {
			buf[n] = 0
		}
		return n, nil
	case *File:
		return 0, syscall.EINVAL
	default:
		panic("federation: unhandled inode variant")
	}
}

// Symlink inserts a new link inode at to targeting from. The target is not
// validated; dangling links are legal.
func (m *Federation) Symlink(from, to string) error {
	if _, ok := m.inodes[to]; ok {
		return syscall.EEXIST
	}
	m.inodes[to] = &inodeRef{
		node:  newSymlink(from, m.ownerUID, m.ownerGID),
		nlink: 1,
	}
	return nil
}

// Link aliases to onto the inode at from. Both keys share the counted cell,
// which is all the hard-link semantics the federation provides.
func (m *Federation) Link(from, to string) error {
	ref, ok := m.inodes[from]
	if !ok {
		return syscall.ENOENT
	}
	if _, ok := m.inodes[to]; ok {
		return syscall.EEXIST
	}
	ref.retain()
	m.inodes[to] = ref
	return nil
}

// Rename re-keys namespace entries in one of three modes.
//
//   - RenameNoReplace fails with EEXIST when to is present.
//   - RenameExchange requires both entries and swaps their inodes.
//   - The default moves from over to; an overwritten inode loses one
//     reference and is cleaned up when it was the last.
func (m *Federation) Rename(from, to string, flags uint32) error {
	fromRef, ok := m.inodes[from]
	if !ok {
		return syscall.ENOENT
	}

	switch {
	case flags&leaf.RenameNoReplace != 0:
		if _, ok := m.inodes[to]; ok {
			return syscall.EEXIST
		}
		m.inodes[to] = fromRef
		delete(m.inodes, from)

	case flags&leaf.RenameExchange != 0:
		toRef, ok := m.inodes[to]
		if !ok {
			return syscall.ENOENT
		}
		m.inodes[from], m.inodes[to] = toRef, fromRef

	default:
		if toRef, ok := m.inodes[to]; ok {
			m.dropRef(toRef)
		}
		m.inodes[to] = fromRef
		delete(m.inodes, from)
	}
	return nil
}

// Unlink removes one namespace reference. The backing chunk files are
// removed from their leaves only when the last reference disappears.
func (m *Federation) Unlink(path string) error {
	if isRootAlias(path) {
		return syscall.EBUSY
	}
	ref, ok := m.inodes[path]
	if !ok {
		return syscall.ENOENT
	}
	delete(m.inodes, path)
	m.dropRef(ref)
	return nil
}

// dropRef releases one reference and runs the variant's unlink behavior
// when the inode became unreachable.
func (m *Federation) dropRef(ref *inodeRef) {
	if !ref.release() {
		return
	}
	switch node := ref.node.(type) {
	case *File:
		node.unlink()
	case *Symlink:
		// Links have no on-leaf representation; nothing to clean up.
	default:
		panic("federation: unhandled inode variant")
	}
}

func (m *Federation) Chmod(path string, mode uint32, fh leaf.Handle) error {
	ref, ok := m.inodes[path]
	if !ok {
		return syscall.ENOENT
	}
	switch node := ref.node.(type) {
	case *File:
		return node.chmod(mode, m.handles.get(fh))
	case *Symlink:
		// Link mode is fixed at S_IFLNK|0777; accept and ignore.
		return nil
	default:
		panic("federation: unhandled inode variant")
	}
}

func (m *Federation) Chown(path string, uid, gid uint32, fh leaf.Handle) error {
	ref, ok := m.inodes[path]
	if !ok {
		return syscall.ENOENT
	}
	switch node := ref.node.(type) {
	case *File:
		return node.chown(uid, gid, m.handles.get(fh))
	case *Symlink:
		node.chown(uid, gid)
		return nil
	default:
		panic("federation: unhandled inode variant")
	}
}

func (m *Federation) Truncate(path string, size int64, fh leaf.Handle) error {
	ref, ok := m.inodes[path]
	if !ok {
		return syscall.ENOENT
	}
	switch node := ref.node.(type) {
	case *File:
		return node.truncate(size, m.handles.get(fh))
	case *Symlink:
		return syscall.EINVAL
	default:
		panic("federation: unhandled inode variant")
	}
}

func (m *Federation) Utimens(path string, times *[2]leaf.TimeSpec, fh leaf.Handle) error {
	ref, ok := m.inodes[path]
	if !ok {
		return syscall.ENOENT
	}
	switch node := ref.node.(type) {
	case *File:
		return node.utimens(times, m.handles.get(fh))
	case *Symlink:
		node.utimens(times)
		return nil
	default:
		panic("federation: unhandled inode variant")
	}
}

// Open opens every chunk of a striped file and returns the id of the
// per-open handle sequence carrying the leaf handles.
func (m *Federation) Open(path string, flags int) (leaf.Handle, error) {
	ref, ok := m.inodes[path]
	if !ok {
		return 0, syscall.ENOENT
	}
	switch node := ref.node.(type) {
	case *File:
		h := &openFile{flags: flags}
		if err := node.open(h); err != nil {
			return 0, err
		}
		return m.handles.add(h), nil
	case *Symlink:
		return 0, syscall.EINVAL
	default:
		panic("federation: unhandled inode variant")
	}
}

// Create inserts a new striped file. No chunk is materialized yet; the
// first write mints one. The returned handle transports the (initially
// empty) per-chunk sequence.
func (m *Federation) Create(path string, mode uint32, flags int) (leaf.Handle, error) {
	if _, ok := m.inodes[path]; ok {
		return 0, syscall.EEXIST
	}
	file := newFile(path, mode, flags, m.ownerUID, m.ownerGID, m.leaves)
	m.inodes[path] = &inodeRef{node: file, nlink: 1}
	return m.handles.add(&openFile{flags: flags}), nil
}

func (m *Federation) Read(path string, p []byte, off int64, fh leaf.Handle) (int, error) {
	ref, ok := m.inodes[path]
	if !ok {
		return 0, syscall.ENOENT
	}
	switch node := ref.node.(type) {
	case *File:
		return node.read(p, off, m.handles.get(fh))
	case *Symlink:
		return 0, syscall.EINVAL
	default:
		panic("federation: unhandled inode variant")
	}
}

func (m *Federation) Write(path string, p []byte, off int64, fh leaf.Handle) (int, error) {
	ref, ok := m.inodes[path]
	if !ok {
		return 0, syscall.ENOENT
	}
	switch node := ref.node.(type) {
	case *File:
		return node.write(p, off, m.handles.get(fh))
	case *Symlink:
		return 0, syscall.EINVAL
	default:
		panic("federation: unhandled inode variant")
	}
}

// Statfs aggregates capacity across the leaves into the fixed template.
// Block counts are rescaled from each leaf's block size into the template's;
// inode counts are summed directly.
func (m *Federation) Statfs(path string, st *leaf.Statvfs) error {
	*st = m.template
	for _, backing := range m.leaves {
		var ls leaf.Statvfs
		if err := backing.Statfs(path, &ls); err != nil {
			return err
		}
		st.Blocks += ls.Blocks * ls.Bsize / st.Bsize
		st.Bfree += ls.Bfree * ls.Bsize / st.Bsize
		st.Bavail += ls.Bavail * ls.Bsize / st.Bsize
		st.Files += ls.Files
		st.Ffree += ls.Ffree
		st.Favail += ls.Favail
	}
	return nil
}

func (m *Federation) Release(path string, fh leaf.Handle) error {
	ref, ok := m.inodes[path]
	if !ok {
		// The entry was unlinked while open; the per-open state still has
		// to go.
		m.handles.remove(fh)
		return syscall.ENOENT
	}
	switch node := ref.node.(type) {
	case *File:
		h := m.handles.get(fh)
		err := node.release(h)
		m.handles.remove(fh)
		return err
	case *Symlink:
		return syscall.EINVAL
	default:
		panic("federation: unhandled inode variant")
	}
}

func (m *Federation) Fsync(path string, datasync bool, fh leaf.Handle) error {
	ref, ok := m.inodes[path]
	if !ok {
		return syscall.ENOENT
	}
	switch node := ref.node.(type) {
	case *File:
		return node.fsync(datasync, m.handles.get(fh))
	case *Symlink:
		return syscall.EINVAL
	default:
		panic("federation: unhandled inode variant")
	}
}

func (m *Federation) Lseek(path string, off int64, whence int, _ leaf.Handle) (int64, error) {
	ref, ok := m.inodes[path]
	if !ok {
		return 0, syscall.ENOENT
	}
	switch node := ref.node.(type) {
	case *File:
		return node.lseek(off, whence)
	case *Symlink:
		return 0, syscall.EINVAL
	default:
		panic("federation: unhandled inode variant")
	}
}

// The flat namespace has no directory tree, device nodes, or preallocation.

func (m *Federation) Mknod(string, uint32, uint64) error { return syscall.EINVAL }
func (m *Federation) Mkdir(string, uint32) error         { return syscall.EINVAL }
func (m *Federation) Rmdir(string) error                 { return syscall.EINVAL }

func (m *Federation) Fallocate(string, uint32, int64, int64, leaf.Handle) error {
	return syscall.EINVAL
}
