package config

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"github.com/marmos91/spanfs/pkg/leaf"
)

func TestCreateReflectorLeaf(t *testing.T) {
	root := t.TempDir()
	backing, err := CreateLeaf(context.Background(), &LeafConfig{
		Type:      "reflector",
		Reflector: map[string]any{"path": root},
	})
	require.NoError(t, err)

	var st leaf.Statvfs
	assert.NoError(t, backing.Statfs("/", &st))
}

func TestCreateReflectorLeafRequiresPath(t *testing.T) {
	_, err := CreateLeaf(context.Background(), &LeafConfig{Type: "reflector"})
	assert.Error(t, err)
}

func TestCreateMemoryLeaf(t *testing.T) {
	backing, err := CreateLeaf(context.Background(), &LeafConfig{
		Type:   "memory",
		Memory: map[string]any{"capacity": 8},
	})
	require.NoError(t, err)

	fh, err := backing.Create("/x.chunk", 0o644, unix.O_RDWR)
	require.NoError(t, err)
	defer backing.Release("/x.chunk", fh)

	// The decoded capacity is enforced.
	n, err := backing.Write("/x.chunk", []byte("0123456789"), 0, fh)
	assert.Equal(t, 8, n)
	assert.Error(t, err)
}

func TestCreateBadgerLeaf(t *testing.T) {
	backing, err := CreateLeaf(context.Background(), &LeafConfig{
		Type:   "badger",
		Badger: map[string]any{"path": t.TempDir(), "capacity": 1024},
	})
	require.NoError(t, err)

	fh, err := backing.Create("/b.chunk", 0o644, unix.O_RDWR)
	require.NoError(t, err)
	assert.NoError(t, backing.Release("/b.chunk", fh))
}

func TestCreateBadgerLeafRequiresPath(t *testing.T) {
	_, err := CreateLeaf(context.Background(), &LeafConfig{Type: "badger"})
	assert.Error(t, err)
}

func TestCreateS3LeafRequiresBucketAndRegion(t *testing.T) {
	_, err := CreateLeaf(context.Background(), &LeafConfig{Type: "s3"})
	assert.Error(t, err)

	_, err = CreateLeaf(context.Background(), &LeafConfig{
		Type: "s3",
		S3:   map[string]any{"bucket": "b"},
	})
	assert.Error(t, err)
}

func TestCreateUnknownLeaf(t *testing.T) {
	_, err := CreateLeaf(context.Background(), &LeafConfig{Type: "tape"})
	assert.Error(t, err)
}

func TestCreateLeavesPreservesOrder(t *testing.T) {
	leaves, err := CreateLeaves(context.Background(), []LeafConfig{
		{Type: "memory", Memory: map[string]any{"capacity": 4}},
		{Type: "memory", Memory: map[string]any{"capacity": 8}},
	})
	require.NoError(t, err)
	require.Len(t, leaves, 2)

	// Declaration order is striping order: the first leaf is the smaller
	// one we configured first.
	fh, err := leaves[0].Create("/probe.chunk", 0o644, unix.O_RDWR)
	require.NoError(t, err)
	n, _ := leaves[0].Write("/probe.chunk", []byte("123456"), 0, fh)
	assert.Equal(t, 4, n)
}

func TestCreateLeavesStopsOnError(t *testing.T) {
	_, err := CreateLeaves(context.Background(), []LeafConfig{
		{Type: "memory"},
		{Type: "reflector"}, // missing path
	})
	assert.Error(t, err)
}
