package reflector

import (
	"os"
	"path/filepath"
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"github.com/marmos91/spanfs/pkg/leaf"
	leaftesting "github.com/marmos91/spanfs/pkg/leaf/testing"
)

func newReflector(t *testing.T) *Reflector {
	t.Helper()
	r, err := New(t.TempDir())
	require.NoError(t, err)
	return r
}

func TestConformance(t *testing.T) {
	suite := leaftesting.Suite{
		NewFS:             func(t *testing.T) leaf.FileSystem { return newReflector(t) },
		SupportsSymlinks:  true,
		SupportsOwnership: true,
	}
	suite.Run(t)
}

func TestNewRequiresAbsolutePath(t *testing.T) {
	_, err := New("relative/path")
	assert.Error(t, err)
}

func TestNewRequiresExistingDirectory(t *testing.T) {
	_, err := New(filepath.Join(t.TempDir(), "missing"))
	assert.Error(t, err)
}

func TestNewRejectsFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "plain")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))

	_, err := New(path)
	assert.Error(t, err)
}

func TestPathTranslation(t *testing.T) {
	dir := t.TempDir()
	r, err := New(dir)
	require.NoError(t, err)

	fh, err := r.Create("/sub.chunk", 0o644, unix.O_RDWR)
	require.NoError(t, err)
	_, err = r.Write("/sub.chunk", []byte("host"), 0, fh)
	require.NoError(t, err)
	require.NoError(t, r.Release("/sub.chunk", fh))

	// The file landed under the root with the logical name.
	data, err := os.ReadFile(filepath.Join(dir, "sub.chunk"))
	require.NoError(t, err)
	assert.Equal(t, []byte("host"), data)
}

// Readdir synthesizes the entry type from the directory entry without a
// full stat.
func TestReaddirTypes(t *testing.T) {
	dir := t.TempDir()
	r, err := New(dir)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "file"), nil, 0o644))
	require.NoError(t, os.Mkdir(filepath.Join(dir, "subdir"), 0o755))
	require.NoError(t, os.Symlink("file", filepath.Join(dir, "link")))

	entries, err := r.Readdir("/")
	require.NoError(t, err)

	types := make(map[string]uint32, len(entries))
	for _, entry := range entries {
		types[entry.Name] = entry.Mode
		assert.NotZero(t, entry.Ino, "entry %s must carry its inode", entry.Name)
	}
	assert.EqualValues(t, unix.S_IFREG, types["file"])
	assert.EqualValues(t, unix.S_IFDIR, types["subdir"])
	assert.EqualValues(t, unix.S_IFLNK, types["link"])
}

func TestReadWithoutHandle(t *testing.T) {
	r := newReflector(t)

	fh, err := r.Create("/noh.chunk", 0o644, unix.O_RDWR)
	require.NoError(t, err)
	_, err = r.Write("/noh.chunk", []byte("fallback"), 0, fh)
	require.NoError(t, err)
	require.NoError(t, r.Release("/noh.chunk", fh))

	// A zero handle falls back to a transient descriptor.
	buf := make([]byte, 8)
	n, err := r.Read("/noh.chunk", buf, 0, 0)
	require.NoError(t, err)
	assert.Equal(t, "fallback", string(buf[:n]))
}

func TestFallocateModes(t *testing.T) {
	r := newReflector(t)

	fh, err := r.Create("/alloc.chunk", 0o644, unix.O_RDWR)
	require.NoError(t, err)
	defer r.Release("/alloc.chunk", fh)

	require.NoError(t, r.Fallocate("/alloc.chunk", 0, 0, 4096, fh))

	var st leaf.Stat
	require.NoError(t, r.Getattr("/alloc.chunk", &st, fh))
	assert.EqualValues(t, 4096, st.Size)

	// Any flagged mode is refused.
	err = r.Fallocate("/alloc.chunk", unix.FALLOC_FL_KEEP_SIZE, 0, 8192, fh)
	assert.Equal(t, syscall.EOPNOTSUPP, leaf.Errno(err))
}

func TestRenameFlagsRejected(t *testing.T) {
	r := newReflector(t)

	fh, err := r.Create("/a.chunk", 0o644, unix.O_RDWR)
	require.NoError(t, err)
	require.NoError(t, r.Release("/a.chunk", fh))

	assert.Equal(t, syscall.EINVAL, leaf.Errno(r.Rename("/a.chunk", "/b.chunk", leaf.RenameExchange)))
	assert.NoError(t, r.Rename("/a.chunk", "/b.chunk", 0))
}

func TestStatfsCounters(t *testing.T) {
	r := newReflector(t)

	var st leaf.Statvfs
	require.NoError(t, r.Statfs("/", &st))
	assert.NotZero(t, st.Bsize)
	assert.NotZero(t, st.Blocks)
	assert.NotZero(t, st.Namemax)
}

func TestLseekDataHole(t *testing.T) {
	r := newReflector(t)

	fh, err := r.Create("/seek.chunk", 0o644, unix.O_RDWR)
	require.NoError(t, err)
	defer r.Release("/seek.chunk", fh)

	_, err = r.Write("/seek.chunk", []byte("0123456789"), 0, fh)
	require.NoError(t, err)

	pos, err := r.Lseek("/seek.chunk", 0, unix.SEEK_DATA, fh)
	require.NoError(t, err)
	assert.EqualValues(t, 0, pos)

	pos, err = r.Lseek("/seek.chunk", 0, unix.SEEK_HOLE, fh)
	require.NoError(t, err)
	assert.EqualValues(t, 10, pos)
}
