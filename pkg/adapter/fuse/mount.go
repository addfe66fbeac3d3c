// Package fuse adapts the decorated federation stack to the kernel FUSE
// protocol via github.com/hanwen/go-fuse.
//
// The adapter is a thin boundary: every node method resolves to exactly one
// call on the leaf.FileSystem it was mounted with, converting arguments and
// errno results. Locking and error translation already happened below it in
// the decorator stack, so nothing here inspects or retries.
//
// The namespace is flat: the root node lists and creates entries, and every
// entry node addresses the federation by its absolute logical path.
package fuse

import (
	"fmt"
	"os"
	"time"

	gofusefs "github.com/hanwen/go-fuse/v2/fs"
	gofuse "github.com/hanwen/go-fuse/v2/fuse"

	"github.com/marmos91/spanfs/internal/logger"
	"github.com/marmos91/spanfs/pkg/leaf"
)

// Options configures the FUSE mount.
type Options struct {
	// Mountpoint is the directory the federation is presented at.
	Mountpoint string

	// FileSystem is the fully decorated federation stack.
	FileSystem leaf.FileSystem

	// FSName is the filesystem name shown in mount tables.
	FSName string

	// AllowOther permits access by users other than the mounting one.
	// Requires user_allow_other in /etc/fuse.conf.
	AllowOther bool

	// Debug enables go-fuse protocol tracing.
	Debug bool
}

// Mount mounts the federation and returns the serving FUSE server. The
// caller is responsible for calling Unmount (or letting the kernel do it)
// and Wait.
func Mount(options Options) (*gofuse.Server, error) {
	if options.Mountpoint == "" {
		return nil, fmt.Errorf("mountpoint is required")
	}
	if options.FileSystem == nil {
		return nil, fmt.Errorf("filesystem is required")
	}
	if options.FSName == "" {
		options.FSName = "spanfs"
	}

	if err := os.MkdirAll(options.Mountpoint, 0o755); err != nil {
		return nil, fmt.Errorf("creating mountpoint %s: %w", options.Mountpoint, err)
	}

	root := &rootNode{fsys: options.FileSystem}

	// Attributes are served from the federation's in-memory state, which
	// the kernel may cache briefly; content caching is enabled the same
	// way the engine historically ran (kernel_cache on).
	attrTimeout := 1 * time.Second
	entryTimeout := 1 * time.Second

	server, err := gofusefs.Mount(options.Mountpoint, root, &gofusefs.Options{
		AttrTimeout:  &attrTimeout,
		EntryTimeout: &entryTimeout,
		MountOptions: gofuse.MountOptions{
			FsName:     options.FSName,
			Name:       "spanfs",
			AllowOther: options.AllowOther,
			Debug:      options.Debug,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("mounting federation at %s: %w", options.Mountpoint, err)
	}

	logger.Info("federation mounted at %s", options.Mountpoint)
	return server, nil
}
