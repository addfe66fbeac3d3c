package badger

import (
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"github.com/marmos91/spanfs/pkg/leaf"
	leaftesting "github.com/marmos91/spanfs/pkg/leaf/testing"
)

func newStore(t *testing.T, capacity int64) *Store {
	t.Helper()
	s, err := New(Config{Path: t.TempDir(), Capacity: capacity})
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestConformance(t *testing.T) {
	suite := leaftesting.Suite{
		NewFS:             func(t *testing.T) leaf.FileSystem { return newStore(t, 0) },
		SupportsSymlinks:  false,
		SupportsOwnership: true,
	}
	suite.Run(t)
}

func TestNewRequiresPath(t *testing.T) {
	_, err := New(Config{})
	assert.Error(t, err)
}

func TestQuotaShortWrite(t *testing.T) {
	s := newStore(t, 6)

	fh, err := s.Create("/q.chunk", 0o644, unix.O_RDWR)
	require.NoError(t, err)
	defer s.Release("/q.chunk", fh)

	n, err := s.Write("/q.chunk", []byte("0123456789"), 0, fh)
	assert.Equal(t, 6, n)
	assert.Equal(t, syscall.ENOSPC, leaf.Errno(err))

	n, err = s.Write("/q.chunk", []byte("x"), 6, fh)
	assert.Zero(t, n)
	assert.Equal(t, syscall.ENOSPC, leaf.Errno(err))
}

// Content and the quota tally survive a close/reopen cycle.
func TestPersistence(t *testing.T) {
	dir := t.TempDir()

	s, err := New(Config{Path: dir, Capacity: 2 * blockSize})
	require.NoError(t, err)

	fh, err := s.Create("/keep.chunk", 0o600, unix.O_RDWR)
	require.NoError(t, err)
	_, err = s.Write("/keep.chunk", []byte("durable"), 0, fh)
	require.NoError(t, err)
	require.NoError(t, s.Release("/keep.chunk", fh))
	require.NoError(t, s.Close())

	s, err = New(Config{Path: dir, Capacity: 2 * blockSize})
	require.NoError(t, err)
	defer s.Close()

	var st leaf.Stat
	require.NoError(t, s.Getattr("/keep.chunk", &st, 0))
	assert.EqualValues(t, 7, st.Size)
	assert.EqualValues(t, 0o600, st.Mode&0o7777)

	buf := make([]byte, 7)
	n, err := s.Read("/keep.chunk", buf, 0, 0)
	require.NoError(t, err)
	assert.Equal(t, "durable", string(buf[:n]))

	// The reopened store recounted the quota from the data keys: the 7
	// stored bytes leave one whole free block of two.
	var vfs leaf.Statvfs
	require.NoError(t, s.Statfs("/", &vfs))
	assert.EqualValues(t, 1, vfs.Bfree)
}

func TestAttrRecordRoundTrip(t *testing.T) {
	rec := attrRecord{
		Mode:  0o640,
		UID:   12,
		GID:   34,
		Nlink: 1,
		Atime: leaf.TimeSpec{Sec: 1, Nsec: 2},
		Mtime: leaf.TimeSpec{Sec: 3, Nsec: 4},
		Ctime: leaf.TimeSpec{Sec: 5, Nsec: 6},
	}

	var decoded attrRecord
	require.NoError(t, decoded.decode(rec.encode()))
	assert.Equal(t, rec, decoded)

	assert.Error(t, decoded.decode([]byte("short")))
}
