// Package testing provides a reusable conformance suite for leaf.FileSystem
// implementations.
//
// Each backend package runs the suite against a fresh store per test, which
// keeps the contract - errno discipline, handle pairing, truncate
// semantics, rename - uniform across the reflector, memory,
// badger and s3 leaves.
package testing

import (
	"strings"
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"github.com/marmos91/spanfs/pkg/leaf"
)

// Suite drives the shared leaf contract tests.
type Suite struct {
	// NewFS returns a fresh, empty filesystem for one test.
	NewFS func(t *testing.T) leaf.FileSystem

	// SupportsSymlinks enables the symlink round-trip tests.
	SupportsSymlinks bool

	// SupportsOwnership enables the assertions that read back the mode after
	// chmod and the mtime after utimens (stores that drop attribute changes,
	// like the s3 leaf, skip them).
	SupportsOwnership bool
}

// Run executes every conformance test.
func (s *Suite) Run(t *testing.T) {
	t.Run("CreateWriteRead", s.testCreateWriteRead)
	t.Run("WriteAtOffset", s.testWriteAtOffset)
	t.Run("ReadPastEnd", s.testReadPastEnd)
	t.Run("TruncateShrink", s.testTruncateShrink)
	t.Run("TruncateGrow", s.testTruncateGrow)
	t.Run("OpenTrunc", s.testOpenTrunc)
	t.Run("OpenMissing", s.testOpenMissing)
	t.Run("Unlink", s.testUnlink)
	t.Run("Chmod", s.testChmod)
	t.Run("UtimensOmit", s.testUtimensOmit)
	t.Run("Statfs", s.testStatfs)
	t.Run("Rename", s.testRename)
	if s.SupportsSymlinks {
		t.Run("SymlinkRoundTrip", s.testSymlinkRoundTrip)
	}
}

// create makes an empty file and returns its handle.
func create(t *testing.T, fs leaf.FileSystem, path string) leaf.Handle {
	t.Helper()
	fh, err := fs.Create(path, 0o644, unix.O_RDWR)
	require.NoError(t, err, "create %s", path)
	return fh
}

func (s *Suite) testCreateWriteRead(t *testing.T) {
	fs := s.NewFS(t)

	fh := create(t, fs, "/file.chunk")
	defer fs.Release("/file.chunk", fh)

	payload := []byte("federated bytes")
	n, err := fs.Write("/file.chunk", payload, 0, fh)
	require.NoError(t, err)
	require.Equal(t, len(payload), n)

	buf := make([]byte, len(payload))
	n, err = fs.Read("/file.chunk", buf, 0, fh)
	require.NoError(t, err)
	assert.Equal(t, len(payload), n)
	assert.Equal(t, payload, buf)

	var st leaf.Stat
	require.NoError(t, fs.Getattr("/file.chunk", &st, fh))
	assert.EqualValues(t, len(payload), st.Size)
	assert.EqualValues(t, unix.S_IFREG, st.Mode&unix.S_IFMT)
}

func (s *Suite) testWriteAtOffset(t *testing.T) {
	fs := s.NewFS(t)

	fh := create(t, fs, "/offset.chunk")
	defer fs.Release("/offset.chunk", fh)

	_, err := fs.Write("/offset.chunk", []byte("0123456789"), 0, fh)
	require.NoError(t, err)
	_, err = fs.Write("/offset.chunk", []byte("AB"), 4, fh)
	require.NoError(t, err)

	buf := make([]byte, 10)
	n, err := fs.Read("/offset.chunk", buf, 0, fh)
	require.NoError(t, err)
	require.Equal(t, 10, n)
	assert.Equal(t, []byte("0123AB6789"), buf)
}

func (s *Suite) testReadPastEnd(t *testing.T) {
	fs := s.NewFS(t)

	fh := create(t, fs, "/short.chunk")
	defer fs.Release("/short.chunk", fh)

	_, err := fs.Write("/short.chunk", []byte("abc"), 0, fh)
	require.NoError(t, err)

	buf := make([]byte, 16)
	n, err := fs.Read("/short.chunk", buf, 10, fh)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func (s *Suite) testTruncateShrink(t *testing.T) {
	fs := s.NewFS(t)

	fh := create(t, fs, "/shrink.chunk")
	defer fs.Release("/shrink.chunk", fh)

	_, err := fs.Write("/shrink.chunk", []byte("0123456789"), 0, fh)
	require.NoError(t, err)
	require.NoError(t, fs.Truncate("/shrink.chunk", 4, fh))

	var st leaf.Stat
	require.NoError(t, fs.Getattr("/shrink.chunk", &st, fh))
	assert.EqualValues(t, 4, st.Size)

	buf := make([]byte, 10)
	n, err := fs.Read("/shrink.chunk", buf, 0, fh)
	require.NoError(t, err)
	assert.Equal(t, 4, n)
	assert.Equal(t, []byte("0123"), buf[:n])
}

func (s *Suite) testTruncateGrow(t *testing.T) {
	fs := s.NewFS(t)

	fh := create(t, fs, "/grow.chunk")
	defer fs.Release("/grow.chunk", fh)

	_, err := fs.Write("/grow.chunk", []byte("xy"), 0, fh)
	require.NoError(t, err)
	require.NoError(t, fs.Truncate("/grow.chunk", 6, fh))

	buf := make([]byte, 6)
	n, err := fs.Read("/grow.chunk", buf, 0, fh)
	require.NoError(t, err)
	require.Equal(t, 6, n)
	assert.Equal(t, []byte{'x', 'y', 0, 0, 0, 0}, buf)
}

func (s *Suite) testOpenTrunc(t *testing.T) {
	fs := s.NewFS(t)

	fh := create(t, fs, "/trunc.chunk")
	_, err := fs.Write("/trunc.chunk", []byte("to be dropped"), 0, fh)
	require.NoError(t, err)
	require.NoError(t, fs.Release("/trunc.chunk", fh))

	fh, err = fs.Open("/trunc.chunk", unix.O_RDWR|unix.O_TRUNC)
	require.NoError(t, err)
	defer fs.Release("/trunc.chunk", fh)

	var st leaf.Stat
	require.NoError(t, fs.Getattr("/trunc.chunk", &st, fh))
	assert.Zero(t, st.Size)
}

func (s *Suite) testOpenMissing(t *testing.T) {
	fs := s.NewFS(t)

	_, err := fs.Open("/absent.chunk", unix.O_RDONLY)
	assert.Equal(t, syscall.ENOENT, leaf.Errno(err))
}

func (s *Suite) testUnlink(t *testing.T) {
	fs := s.NewFS(t)

	fh := create(t, fs, "/gone.chunk")
	require.NoError(t, fs.Release("/gone.chunk", fh))
	require.NoError(t, fs.Unlink("/gone.chunk"))

	var st leaf.Stat
	err := fs.Getattr("/gone.chunk", &st, 0)
	assert.Equal(t, syscall.ENOENT, leaf.Errno(err))
}

func (s *Suite) testChmod(t *testing.T) {
	fs := s.NewFS(t)

	fh := create(t, fs, "/mode.chunk")
	defer fs.Release("/mode.chunk", fh)

	require.NoError(t, fs.Chmod("/mode.chunk", 0o600, fh))

	if !s.SupportsOwnership {
		return
	}
	var st leaf.Stat
	require.NoError(t, fs.Getattr("/mode.chunk", &st, fh))
	assert.EqualValues(t, 0o600, st.Mode&0o7777)
}

func (s *Suite) testUtimensOmit(t *testing.T) {
	fs := s.NewFS(t)

	fh := create(t, fs, "/times.chunk")
	defer fs.Release("/times.chunk", fh)

	var before leaf.Stat
	require.NoError(t, fs.Getattr("/times.chunk", &before, fh))

	times := [2]leaf.TimeSpec{
		{Nsec: leaf.UTIMEOmit},
		{Nsec: leaf.UTIMEOmit},
	}
	require.NoError(t, fs.Utimens("/times.chunk", &times, fh))

	if !s.SupportsOwnership {
		return
	}
	var after leaf.Stat
	require.NoError(t, fs.Getattr("/times.chunk", &after, fh))
	assert.Equal(t, before.Mtime, after.Mtime)
}

func (s *Suite) testStatfs(t *testing.T) {
	fs := s.NewFS(t)

	var st leaf.Statvfs
	require.NoError(t, fs.Statfs("/", &st))
	assert.NotZero(t, st.Bsize)
	assert.NotZero(t, st.Blocks)
}

func (s *Suite) testRename(t *testing.T) {
	fs := s.NewFS(t)

	fh := create(t, fs, "/old.chunk")
	_, err := fs.Write("/old.chunk", []byte("moved"), 0, fh)
	require.NoError(t, err)
	require.NoError(t, fs.Release("/old.chunk", fh))

	require.NoError(t, fs.Rename("/old.chunk", "/new.chunk", 0))

	buf := make([]byte, 5)
	n, err := fs.Read("/new.chunk", buf, 0, 0)
	require.NoError(t, err)
	require.Equal(t, 5, n)
	assert.Equal(t, []byte("moved"), buf)

	var st leaf.Stat
	err = fs.Getattr("/old.chunk", &st, 0)
	assert.Equal(t, syscall.ENOENT, leaf.Errno(err))
}

func (s *Suite) testSymlinkRoundTrip(t *testing.T) {
	fs := s.NewFS(t)

	require.NoError(t, fs.Symlink("/target", "/link"))

	// The reflector translates the target below its root, so compare by
	// suffix rather than exact match.
	buf := make([]byte, 256)
	n, err := fs.Readlink("/link", buf)
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(string(buf[:n]), "/target"),
		"readlink returned %q", string(buf[:n]))
}
