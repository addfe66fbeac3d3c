package federation

import (
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"github.com/marmos91/spanfs/pkg/leaf"
	"github.com/marmos91/spanfs/pkg/leaf/memory"
)

// faultLeaf wraps a memory store and forces chosen operations to fail.
type faultLeaf struct {
	*memory.Store
	createErr error
	writeErr  error
	fsyncErr  error
}

func (f *faultLeaf) Create(path string, mode uint32, flags int) (leaf.Handle, error) {
	if f.createErr != nil {
		return 0, f.createErr
	}
	return f.Store.Create(path, mode, flags)
}

func (f *faultLeaf) Write(path string, p []byte, off int64, fh leaf.Handle) (int, error) {
	if f.writeErr != nil {
		return 0, f.writeErr
	}
	return f.Store.Write(path, p, off, fh)
}

func (f *faultLeaf) Fsync(path string, datasync bool, fh leaf.Handle) error {
	if f.fsyncErr != nil {
		return f.fsyncErr
	}
	return f.Store.Fsync(path, datasync, fh)
}

func TestFindChunk(t *testing.T) {
	f := &File{chunks: []chunk{
		{start: 0, end: 10},
		{start: 10, end: 25},
		{start: 25, end: unboundedEnd},
	}}

	assert.Equal(t, 0, f.findChunk(0))
	assert.Equal(t, 0, f.findChunk(9))
	assert.Equal(t, 1, f.findChunk(10))
	assert.Equal(t, 1, f.findChunk(24))
	assert.Equal(t, 2, f.findChunk(25))
	assert.Equal(t, 2, f.findChunk(1<<40))
}

func TestFindChunkEmpty(t *testing.T) {
	f := &File{}
	assert.Equal(t, 0, f.findChunk(0))
}

// Overwriting inside sealed chunks must not grow the file or move the
// cursor.
func TestOverwriteInPlace(t *testing.T) {
	fed, _ := newTestFederation(t, 6, 6)

	fh, err := fed.Create("/f", 0o644, unix.O_RDWR)
	require.NoError(t, err)
	_, err = fed.Write("/f", []byte("0123456789"), 0, fh)
	require.NoError(t, err)

	f := fileAt(t, fed, "/f")
	require.Len(t, f.chunks, 2)
	cursorBefore := f.next

	// Straddles the seam between the two chunks.
	n, err := fed.Write("/f", []byte("ABCD"), 4, fh)
	require.NoError(t, err)
	require.Equal(t, 4, n)

	assert.Len(t, f.chunks, 2)
	assert.Equal(t, cursorBefore, f.next)
	assert.EqualValues(t, 10, f.size)

	buf := make([]byte, 10)
	_, err = fed.Read("/f", buf, 0, fh)
	require.NoError(t, err)
	assert.Equal(t, "0123ABCD89", string(buf))
}

// A failed per-chunk create pops the chunk and restores the tail, keeping
// the geometry invariants; the cursor stays advanced past the broken leaf.
func TestEnlistCreateFailure(t *testing.T) {
	good := memory.New(4)
	bad := &faultLeaf{Store: memory.New(4), createErr: syscall.EIO}

	fed, err := New(testUID, testGID, []leaf.FileSystem{good, bad})
	require.NoError(t, err)

	fh, err := fed.Create("/f", 0o644, unix.O_RDWR)
	require.NoError(t, err)

	n, err := fed.Write("/f", []byte("01234567"), 0, fh)
	assert.Equal(t, 4, n)
	assert.Equal(t, syscall.EIO, leaf.Errno(err))

	f := fileAt(t, fed, "/f")
	checkChunkInvariants(t, f)
	require.Len(t, f.chunks, 1)
	assert.Equal(t, unboundedEnd, f.chunks[0].end, "tail must be unsealed after the pop")
	assert.Equal(t, 2, f.next, "cursor does not back up past a broken leaf")
}

// ENOSPC from a sealed (non-tail) chunk surfaces partial progress without
// attempting growth.
func TestMidFileNoSpace(t *testing.T) {
	first := &faultLeaf{Store: memory.New(8)}
	second := memory.New(8)

	fed, err := New(testUID, testGID, []leaf.FileSystem{first, second})
	require.NoError(t, err)

	fh, err := fed.Create("/f", 0o644, unix.O_RDWR)
	require.NoError(t, err)

	// Fill both chunks: 8 bytes on each leaf.
	_, err = fed.Write("/f", []byte("0123456789ABCDEF"), 0, fh)
	require.NoError(t, err)

	f := fileAt(t, fed, "/f")
	require.Len(t, f.chunks, 2)

	// Rewrites into the sealed first chunk now fail with ENOSPC.
	first.writeErr = syscall.ENOSPC

	n, err := fed.Write("/f", []byte("xy"), 2, fh)
	assert.Zero(t, n)
	assert.Equal(t, syscall.ENOSPC, leaf.Errno(err))
	assert.Len(t, f.chunks, 2, "mid-file exhaustion must not enlist")
}

// Leaf errors other than ENOSPC propagate unchanged.
func TestWriteErrorPropagates(t *testing.T) {
	flaky := &faultLeaf{Store: memory.New(64), writeErr: syscall.EIO}

	fed, err := New(testUID, testGID, []leaf.FileSystem{flaky})
	require.NoError(t, err)

	fh, err := fed.Create("/f", 0o644, unix.O_RDWR)
	require.NoError(t, err)

	n, err := fed.Write("/f", []byte("data"), 0, fh)
	assert.Zero(t, n)
	assert.Equal(t, syscall.EIO, leaf.Errno(err))
}

// Fsync short-circuits on the first failing chunk.
func TestFsyncShortCircuit(t *testing.T) {
	first := &faultLeaf{Store: memory.New(4), fsyncErr: syscall.EIO}
	second := memory.New(64)

	fed, err := New(testUID, testGID, []leaf.FileSystem{first, second})
	require.NoError(t, err)

	fh, err := fed.Create("/f", 0o644, unix.O_RDWR)
	require.NoError(t, err)
	_, err = fed.Write("/f", []byte("01234567"), 0, fh)
	require.NoError(t, err)

	assert.Equal(t, syscall.EIO, leaf.Errno(fed.Fsync("/f", false, fh)))
}

// The per-open handle sequence stays index-aligned with the chunk list as
// the file grows.
func TestHandleSequenceGrowth(t *testing.T) {
	fed, _ := newTestFederation(t, 4, 4, 4)

	fh, err := fed.Create("/f", 0o644, unix.O_RDWR)
	require.NoError(t, err)

	h := fed.handles.get(fh)
	require.NotNil(t, h)
	assert.Empty(t, h.fhs, "no chunk, no handle entry")

	_, err = fed.Write("/f", []byte("0123456789"), 0, fh)
	require.NoError(t, err)

	f := fileAt(t, fed, "/f")
	require.Len(t, f.chunks, 3)
	require.Len(t, h.fhs, 3, "one handle per chunk")
	for i, entry := range h.fhs {
		assert.NotZero(t, entry, "chunk %d handle", i)
	}

	require.NoError(t, fed.Release("/f", fh))
	assert.Nil(t, fed.handles.get(fh), "release discards the sequence")
}

// A second open of a grown file sees a handle per existing chunk.
func TestReopenGrownFile(t *testing.T) {
	fed, _ := newTestFederation(t, 4, 4)

	fh, err := fed.Create("/f", 0o644, unix.O_RDWR)
	require.NoError(t, err)
	_, err = fed.Write("/f", []byte("01234567"), 0, fh)
	require.NoError(t, err)
	require.NoError(t, fed.Release("/f", fh))

	fh, err = fed.Open("/f", unix.O_RDONLY)
	require.NoError(t, err)
	h := fed.handles.get(fh)
	require.NotNil(t, h)
	assert.Len(t, h.fhs, 2)

	buf := make([]byte, 8)
	n, err := fed.Read("/f", buf, 0, fh)
	require.NoError(t, err)
	assert.Equal(t, "01234567", string(buf[:n]))

	require.NoError(t, fed.Release("/f", fh))
}

// lseek semantics are purely logical.
func TestFileLseek(t *testing.T) {
	f := &File{size: 42}

	pos, err := f.lseek(7, unix.SEEK_DATA)
	require.NoError(t, err)
	assert.EqualValues(t, 7, pos)

	pos, err = f.lseek(7, unix.SEEK_HOLE)
	require.NoError(t, err)
	assert.EqualValues(t, 42, pos)

	_, err = f.lseek(0, unix.SEEK_CUR)
	assert.Equal(t, syscall.EINVAL, leaf.Errno(err))
}
