package server

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"github.com/marmos91/spanfs/pkg/config"
	"github.com/marmos91/spanfs/pkg/leaf"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := &config.Config{
		Mount: config.MountConfig{Mountpoint: filepath.Join(t.TempDir(), "mnt")},
		Leaves: []config.LeafConfig{
			{Type: "memory", Memory: map[string]any{"capacity": 64}},
			{Type: "memory", Memory: map[string]any{"capacity": 64}},
		},
	}
	require.NoError(t, config.Finalize(cfg))
	return cfg
}

// The composed stack behaves as a federation without being mounted: New
// wires leaves, engine and decorators together.
func TestStackComposition(t *testing.T) {
	srv, err := New(context.Background(), testConfig(t))
	require.NoError(t, err)

	fsys := srv.FileSystem()

	fh, err := fsys.Create("/hello", 0o644, unix.O_RDWR)
	require.NoError(t, err)

	payload := []byte("through the whole stack")
	n, err := fsys.Write("/hello", payload, 0, fh)
	require.NoError(t, err)
	require.Equal(t, len(payload), n)

	buf := make([]byte, len(payload))
	n, err = fsys.Read("/hello", buf, 0, fh)
	require.NoError(t, err)
	assert.Equal(t, payload, buf[:n])

	require.NoError(t, fsys.Release("/hello", fh))

	var st leaf.Statvfs
	require.NoError(t, fsys.Statfs("/", &st))
	assert.EqualValues(t, 4096, st.Bsize)
}

// A call log configured through the stack records operations to the file.
func TestStackWithCallLog(t *testing.T) {
	cfg := testConfig(t)
	cfg.Logging.CallLog = filepath.Join(t.TempDir(), "calls.log")

	srv, err := New(context.Background(), cfg)
	require.NoError(t, err)

	_, err = srv.FileSystem().Create("/logged", 0o644, unix.O_RDWR)
	require.NoError(t, err)

	assert.FileExists(t, cfg.Logging.CallLog)
}

func TestNewFailsOnBadLeaf(t *testing.T) {
	cfg := testConfig(t)
	cfg.Leaves = []config.LeafConfig{
		{Type: "reflector", Reflector: map[string]any{"path": "relative"}},
	}

	_, err := New(context.Background(), cfg)
	assert.Error(t, err)
}

func TestString(t *testing.T) {
	srv, err := New(context.Background(), testConfig(t))
	require.NoError(t, err)
	assert.Contains(t, srv.String(), "2 leaves")
	assert.Equal(t, srv.Mountpoint(), srv.cfg.Mount.Mountpoint)
}
