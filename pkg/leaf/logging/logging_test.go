package logging

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"github.com/marmos91/spanfs/pkg/leaf/memory"
)

// Every call produces exactly one line naming the operation and its salient
// arguments.
func TestOneLinePerCall(t *testing.T) {
	var buf bytes.Buffer
	fsys := New(memory.New(0), &buf)

	fh, err := fsys.Create("/f.chunk", 0o644, unix.O_RDWR)
	require.NoError(t, err)
	_, err = fsys.Write("/f.chunk", []byte("abc"), 0, fh)
	require.NoError(t, err)
	out := make([]byte, 3)
	_, err = fsys.Read("/f.chunk", out, 0, fh)
	require.NoError(t, err)
	require.NoError(t, fsys.Release("/f.chunk", fh))
	require.NoError(t, fsys.Unlink("/f.chunk"))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 5)
	assert.Contains(t, lines[0], "create path=/f.chunk")
	assert.Contains(t, lines[1], "write path=/f.chunk size=3 off=0")
	assert.Contains(t, lines[1], "n=3 OK")
	assert.Contains(t, lines[2], "read path=/f.chunk")
	assert.Contains(t, lines[3], "release path=/f.chunk")
	assert.Contains(t, lines[4], "unlink path=/f.chunk OK")
}

// Failures are recorded with the errno, and still propagate.
func TestErrorsAreLogged(t *testing.T) {
	var buf bytes.Buffer
	fsys := New(memory.New(0), &buf)

	err := fsys.Unlink("/absent")
	require.Error(t, err)
	assert.Contains(t, buf.String(), "unlink path=/absent err=")
}

func TestNewFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "calls.log")

	fsys, err := NewFile(memory.New(0), path)
	require.NoError(t, err)

	require.NoError(t, fsys.Symlink("/target", "/link"))
	require.NoError(t, fsys.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "symlink from=/target to=/link OK")
}
