package federation

import (
	"errors"
	"math"
	"sort"
	"syscall"

	"golang.org/x/sys/unix"

	"github.com/marmos91/spanfs/pkg/leaf"
)

// chunkSuffix is appended to the logical path to form the per-chunk file
// name on each leaf. Every chunk of a file shares the same name; uniqueness
// comes from each chunk living under a different leaf root.
const chunkSuffix = ".chunk"

// unboundedEnd marks the open end of the tail chunk.
const unboundedEnd = int64(math.MaxInt64)

// chunk is one contiguous logical-offset range of a striped file, backed by
// a single per-chunk file on one leaf. Chunk files hold chunk-relative
// bytes: logical offset o inside a chunk maps to o - start on the leaf.
type chunk struct {
	start int64
	end   int64 // start of the next chunk, or unboundedEnd for the tail
	leaf  leaf.FileSystem
}

// File is the striped regular file variant of a federation inode. Its
// logical byte space is split into ordered chunks placed across the
// federation's leaves in declaration order; the leaf cursor (next) records
// which leaf a future tail chunk will be minted from.
//
// File state is guarded by the federation's lock; methods here assume the
// caller holds it in the appropriate mode.
type File struct {
	path   string
	leaves []leaf.FileSystem
	next   int // leaf cursor: index of the next leaf to enlist
	chunks []chunk

	size  int64
	mode  uint32 // S_IFREG | permission bits
	uid   uint32
	gid   uint32
	flags int // open flags recorded at create
	atime leaf.TimeSpec
	mtime leaf.TimeSpec
	ctime leaf.TimeSpec
}

func newFile(path string, mode uint32, flags int, uid, gid uint32, leaves []leaf.FileSystem) *File {
	now := leaf.Now()
	return &File{
		path:   path,
		leaves: leaves,
		mode:   unix.S_IFREG | mode&0o7777,
		uid:    uid,
		gid:    gid,
		flags:  flags,
		atime:  now,
		mtime:  now,
		ctime:  now,
	}
}

// Size returns the logical file size.
func (f *File) Size() int64 { return f.size }

// chunkPath is the name the file's chunks carry on every leaf.
func (f *File) chunkPath() string { return f.path + chunkSuffix }

// findChunk returns the index of the first chunk whose end exceeds off,
// which is the chunk covering off when one exists. The chunk list is
// ordered by start, so the search is logarithmic.
func (f *File) findChunk(off int64) int {
	return sort.Search(len(f.chunks), func(i int) bool {
		return f.chunks[i].end > off
	})
}

func (f *File) fillStat(st *leaf.Stat) {
	st.Mode = f.mode
	st.UID = f.uid
	st.GID = f.gid
	st.Size = f.size
	st.Atime = f.atime
	st.Mtime = f.mtime
	st.Ctime = f.ctime
}

// open delegates to every chunk's leaf and records the per-chunk handles in
// h, index-aligned with the chunk list. The first leaf failure releases the
// handles opened so far and aborts. When the open asks for truncation on a
// writable descriptor the logical size resets; per-chunk truncation already
// happened on the leaves as part of their own O_TRUNC handling.
func (f *File) open(h *openFile) error {
	h.fhs = make([]leaf.Handle, len(f.chunks))
	for i := range f.chunks {
		fh, err := f.chunks[i].leaf.Open(f.chunkPath(), h.flags)
		if err != nil {
			for j := 0; j < i; j++ {
				f.chunks[j].leaf.Release(f.chunkPath(), h.fhs[j])
			}
			return err
		}
		h.fhs[i] = fh
	}
	if h.flags&unix.O_TRUNC != 0 && h.flags&(unix.O_WRONLY|unix.O_RDWR) != 0 {
		f.size = 0
		now := leaf.Now()
		f.mtime = now
		f.ctime = now
	}
	return nil
}

// release delegates release to every chunk's leaf, skipping chunks this
// open never obtained a handle for. The first failure is returned; the
// caller discards the handle sequence either way.
func (f *File) release(h *openFile) error {
	for i := range f.chunks {
		fh := h.handleAt(i)
		if fh == 0 {
			continue
		}
		if err := f.chunks[i].leaf.Release(f.chunkPath(), fh); err != nil {
			return err
		}
	}
	return nil
}

// truncate propagates the new size to every chunk (each leaf clamps its own
// per-chunk file) and then updates the descriptor. Chunk geometry is not
// altered: a chunk whose range now lies past size simply holds no live
// bytes until the file regrows.
func (f *File) truncate(size int64, h *openFile) error {
	for i := range f.chunks {
		if err := f.chunks[i].leaf.Truncate(f.chunkPath(), size, h.handleAt(i)); err != nil {
			return err
		}
	}
	f.size = size
	now := leaf.Now()
	f.mtime = now
	f.ctime = now
	return nil
}

func (f *File) chmod(mode uint32, h *openFile) error {
	for i := range f.chunks {
		if err := f.chunks[i].leaf.Chmod(f.chunkPath(), mode, h.handleAt(i)); err != nil {
			return err
		}
	}
	f.mode = unix.S_IFREG | mode&0o7777
	f.ctime = leaf.Now()
	return nil
}

func (f *File) chown(uid, gid uint32, h *openFile) error {
	for i := range f.chunks {
		if err := f.chunks[i].leaf.Chown(f.chunkPath(), uid, gid, h.handleAt(i)); err != nil {
			return err
		}
	}
	f.uid = uid
	f.gid = gid
	f.ctime = leaf.Now()
	return nil
}

// utimens forwards to every chunk best-effort (leaf timestamps are cosmetic
// for chunk files) and then applies the per-entry sentinel rules to the
// descriptor.
func (f *File) utimens(times *[2]leaf.TimeSpec, h *openFile) error {
	for i := range f.chunks {
		f.chunks[i].leaf.Utimens(f.chunkPath(), times, h.handleAt(i))
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

func (f *File) fsync(datasync bool, h *openFile) error {
	for i := range f.chunks {
		if err := f.chunks[i].leaf.Fsync(f.chunkPath(), datasync, h.handleAt(i)); err != nil {
			return err
		}
	}
	return nil
}

// unlink removes the per-chunk file from every chunk's leaf. Failures are
// ignored: the namespace entry is already gone, and per-leaf cleanup is the
// best the federation can offer.
func (f *File) unlink() {
	for i := range f.chunks {
		f.chunks[i].leaf.Unlink(f.chunkPath())
	}
}

// lseek recognizes only the data/hole probes: the striped file is logically
// dense, so data starts wherever the caller is and the single hole starts
// at the end of the file.
func (f *File) lseek(off int64, whence int) (int64, error) {
	switch whence {
	case unix.SEEK_DATA:
		return off, nil
	case unix.SEEK_HOLE:
		return f.size, nil
	default:
		return 0, syscall.EINVAL
	}
}

// read scatters the request across the chunks covering [off, off+len(p)),
// clamped to the logical size. A short read from a leaf ends the scatter:
// it means the chunk's on-leaf store holds no further bytes.
func (f *File) read(p []byte, off int64, h *openFile) (int, error) {
	if off > f.size {
		off = f.size
	}
	if remaining := f.size - off; int64(len(p)) > remaining {
		p = p[:remaining]
	}
	if len(p) == 0 {
		return 0, nil
	}

	total := 0
	ci := f.findChunk(off)
	for total < len(p) && ci < len(f.chunks) {
		c := &f.chunks[ci]
		slice := int64(len(p) - total)
		if room := c.end - off; room < slice {
			slice = room
		}

		n, err := c.leaf.Read(f.chunkPath(), p[total:total+int(slice)], off-c.start, h.handleAt(ci))
		if n > 0 {
			total += n
			off += int64(n)
		}
		if err != nil {
			return total, err
		}
		if int64(n) < slice {
			return total, nil
		}
		if off >= c.end {
			ci++
		}
	}
	return total, nil
}

// write scatters p across the chunks covering the target range, growing the
// file by enlisting new tail chunks as leaves fill up.
//
// Growth discipline: when no chunk covers the current position, the leaf
// cursor mints a tail chunk with an unbounded end on the next leaf in
// declaration order, sealing the previous tail at the current offset. ENOSPC
// from the tail chunk's leaf triggers the same growth path; ENOSPC mid-file
// surfaces to the caller. Partial progress is never rolled back - the
// returned count reflects every byte that reached a leaf, and the logical
// size tracks the highest offset written.
func (f *File) write(p []byte, off int64, h *openFile) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}

	written := 0
	ci := f.findChunk(off)
	for written < len(p) {
		if ci == len(f.chunks) {
			if err := f.enlist(off, h); err != nil {
				return f.finishWrite(written, err)
			}
			ci = len(f.chunks) - 1
		}

		c := &f.chunks[ci]
		slice := int64(len(p) - written)
		if room := c.end - off; room < slice {
			slice = room
		}

		n, err := c.leaf.Write(f.chunkPath(), p[written:written+int(slice)], off-c.start, h.handleAt(ci))
		if n > 0 {
			written += n
			off += int64(n)
			if off > f.size {
				f.size = off
			}
		}
		if err != nil {
			if errors.Is(err, syscall.ENOSPC) {
				if ci == len(f.chunks)-1 {
					// Tail exhausted: seal it and grow on the next pass.
					ci = len(f.chunks)
					continue
				}
				// A sealed chunk ran out of room mid-file; keep what
				// landed and stop.
				if written > 0 {
					return f.finishWrite(written, nil)
				}
				return 0, err
			}
			return f.finishWrite(written, err)
		}
		if n == 0 {
			// No progress and no error: nothing more will fit here.
			return f.finishWrite(written, nil)
		}
		if off >= c.end {
			ci++
		}
	}
	return f.finishWrite(written, nil)
}

// enlist mints a new tail chunk at the given offset from the leaf cursor,
// sealing the previous tail, and asks the new leaf to create the per-chunk
// file. On creation failure the chunk is popped and the previous tail is
// unsealed so the range invariants keep holding; the cursor stays advanced.
func (f *File) enlist(off int64, h *openFile) error {
	if f.next == len(f.leaves) {
		return syscall.ENOSPC
	}
	backing := f.leaves[f.next]
	f.next++

	start := off
	if len(f.chunks) == 0 {
		start = 0
	} else {
		f.chunks[len(f.chunks)-1].end = off
	}
	f.chunks = append(f.chunks, chunk{start: start, end: unboundedEnd, leaf: backing})

	fh, err := backing.Create(f.chunkPath(), f.mode&0o7777, f.openFlags(h))
	if err != nil {
		f.chunks = f.chunks[:len(f.chunks)-1]
		if n := len(f.chunks); n > 0 {
			f.chunks[n-1].end = unboundedEnd
		}
		return err
	}

	if h != nil {
		h.setHandle(len(f.chunks)-1, fh)
	} else {
		backing.Release(f.chunkPath(), fh)
	}
	return nil
}

// openFlags picks the flags a freshly minted chunk file is created with.
func (f *File) openFlags(h *openFile) int {
	if h != nil {
		return h.flags
	}
	return f.flags
}

// finishWrite stamps the modification times when any byte landed and pairs
// the count with the terminal condition.
func (f *File) finishWrite(written int, err error) (int, error) {
	if written > 0 {
		now := leaf.Now()
		f.mtime = now
		f.ctime = now
	}
	return written, err
}
