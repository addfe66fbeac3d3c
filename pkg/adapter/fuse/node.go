package fuse

import (
	"context"
	"hash/fnv"
	"syscall"

	gofusefs "github.com/hanwen/go-fuse/v2/fs"
	gofuse "github.com/hanwen/go-fuse/v2/fuse"
	"golang.org/x/sys/unix"

	"github.com/marmos91/spanfs/pkg/leaf"
)

// errno converts a stack error to the kernel's errno plane.
func errno(err error) syscall.Errno {
	return leaf.Errno(err)
}

// fillAttr copies a leaf.Stat into the kernel attribute structure.
func fillAttr(st *leaf.Stat, out *gofuse.Attr) {
	out.Ino = st.Ino
	out.Mode = st.Mode
	out.Nlink = st.Nlink
	out.Uid = st.UID
	out.Gid = st.GID
	out.Size = uint64(st.Size)
	out.Blocks = (uint64(st.Size) + 511) / 512
	out.Atime = uint64(st.Atime.Sec)
	out.Atimensec = uint32(st.Atime.Nsec)
	out.Mtime = uint64(st.Mtime.Sec)
	out.Mtimensec = uint32(st.Mtime.Nsec)
	out.Ctime = uint64(st.Ctime.Sec)
	out.Ctimensec = uint32(st.Ctime.Nsec)
}

// rootNode is the single directory of the flat federation namespace.
type rootNode struct {
	gofusefs.Inode
	fsys leaf.FileSystem
}

var _ gofusefs.InodeEmbedder = (*rootNode)(nil)
var _ gofusefs.NodeGetattrer = (*rootNode)(nil)
var _ gofusefs.NodeLookuper = (*rootNode)(nil)
var _ gofusefs.NodeReaddirer = (*rootNode)(nil)
var _ gofusefs.NodeCreater = (*rootNode)(nil)
var _ gofusefs.NodeUnlinker = (*rootNode)(nil)
var _ gofusefs.NodeSymlinker = (*rootNode)(nil)
var _ gofusefs.NodeLinker = (*rootNode)(nil)
var _ gofusefs.NodeRenamer = (*rootNode)(nil)
var _ gofusefs.NodeMkdirer = (*rootNode)(nil)
var _ gofusefs.NodeRmdirer = (*rootNode)(nil)
var _ gofusefs.NodeMknoder = (*rootNode)(nil)
var _ gofusefs.NodeStatfser = (*rootNode)(nil)
var _ gofusefs.NodeAccesser = (*rootNode)(nil)

func (r *rootNode) Getattr(_ context.Context, _ gofusefs.FileHandle, out *gofuse.AttrOut) syscall.Errno {
	var st leaf.Stat
	if err := r.fsys.Getattr("/", &st, 0); err != nil {
		return errno(err)
	}
	fillAttr(&st, &out.Attr)
	return 0
}

func (r *rootNode) Access(_ context.Context, mask uint32) syscall.Errno {
	return errno(r.fsys.Access("/", mask))
}

// pathIno derives a stable inode number from the logical path so repeated
// lookups of one name resolve to one kernel inode.
func pathIno(path string) uint64 {
	h := fnv.New64a()
	h.Write([]byte(path))
	ino := h.Sum64()
	if ino == 0 {
		ino = 1
	}
	return ino
}

// child builds (or reuses) the entry node for a direct child of the root.
func (r *rootNode) child(ctx context.Context, name string, st *leaf.Stat) *gofusefs.Inode {
	path := "/" + name
	node := &entryNode{fsys: r.fsys, path: path}
	return r.NewInode(ctx, node, gofusefs.StableAttr{
		Mode: st.Mode & unix.S_IFMT,
		Ino:  pathIno(path),
	})
}

func (r *rootNode) Lookup(ctx context.Context, name string, out *gofuse.EntryOut) (*gofusefs.Inode, syscall.Errno) {
	var st leaf.Stat
	if err := r.fsys.Getattr("/"+name, &st, 0); err != nil {
		return nil, errno(err)
	}
	fillAttr(&st, &out.Attr)
	return r.child(ctx, name, &st), 0
}

func (r *rootNode) Readdir(_ context.Context) (gofusefs.DirStream, syscall.Errno) {
	entries, err := r.fsys.Readdir("/")
	if err != nil {
		return nil, errno(err)
	}
	out := make([]gofuse.DirEntry, 0, len(entries))
	for _, entry := range entries {
		out = append(out, gofuse.DirEntry{
			Name: entry.Name,
			Ino:  entry.Ino,
			Mode: entry.Mode,
		})
	}
	return gofusefs.NewListDirStream(out), 0
}

func (r *rootNode) Create(ctx context.Context, name string, flags uint32, mode uint32, out *gofuse.EntryOut) (*gofusefs.Inode, gofusefs.FileHandle, uint32, syscall.Errno) {
	path := "/" + name
	fh, err := r.fsys.Create(path, mode, int(flags))
	if err != nil {
		return nil, nil, 0, errno(err)
	}

	var st leaf.Stat
	if err := r.fsys.Getattr(path, &st, fh); err != nil {
		return nil, nil, 0, errno(err)
	}
	fillAttr(&st, &out.Attr)

	node := r.child(ctx, name, &st)
	handle := &fileHandle{fsys: r.fsys, path: path, fh: fh}
	return node, handle, gofuse.FOPEN_KEEP_CACHE, 0
}

func (r *rootNode) Unlink(_ context.Context, name string) syscall.Errno {
	return errno(r.fsys.Unlink("/" + name))
}

func (r *rootNode) Symlink(ctx context.Context, target, name string, out *gofuse.EntryOut) (*gofusefs.Inode, syscall.Errno) {
	path := "/" + name
	if err := r.fsys.Symlink(target, path); err != nil {
		return nil, errno(err)
	}
	var st leaf.Stat
	if err := r.fsys.Getattr(path, &st, 0); err != nil {
		return nil, errno(err)
	}
	fillAttr(&st, &out.Attr)
	return r.child(ctx, name, &st), 0
}

func (r *rootNode) Link(ctx context.Context, target gofusefs.InodeEmbedder, name string, out *gofuse.EntryOut) (*gofusefs.Inode, syscall.Errno) {
	existing, ok := target.(*entryNode)
	if !ok {
		return nil, syscall.EINVAL
	}
	path := "/" + name
	if err := r.fsys.Link(existing.path, path); err != nil {
		return nil, errno(err)
	}
	var st leaf.Stat
	if err := r.fsys.Getattr(path, &st, 0); err != nil {
		return nil, errno(err)
	}
	fillAttr(&st, &out.Attr)
	return r.child(ctx, name, &st), 0
}

func (r *rootNode) Rename(_ context.Context, name string, newParent gofusefs.InodeEmbedder, newName string, flags uint32) syscall.Errno {
	if _, ok := newParent.(*rootNode); !ok {
		// The namespace is flat; the destination parent is always the root.
		return syscall.EINVAL
	}
	return errno(r.fsys.Rename("/"+name, "/"+newName, flags))
}

func (r *rootNode) Mkdir(context.Context, string, uint32, *gofuse.EntryOut) (*gofusefs.Inode, syscall.Errno) {
	return nil, syscall.EINVAL
}

func (r *rootNode) Rmdir(context.Context, string) syscall.Errno {
	return syscall.EINVAL
}

func (r *rootNode) Mknod(context.Context, string, uint32, uint32, *gofuse.EntryOut) (*gofusefs.Inode, syscall.Errno) {
	return nil, syscall.EINVAL
}

func fillStatfs(st *leaf.Statvfs, out *gofuse.StatfsOut) {
	out.Bsize = uint32(st.Bsize)
	out.Frsize = uint32(st.Frsize)
	out.Blocks = st.Blocks
	out.Bfree = st.Bfree
	out.Bavail = st.Bavail
	out.Files = st.Files
	out.Ffree = st.Ffree
	out.NameLen = uint32(st.Namemax)
}

func (r *rootNode) Statfs(_ context.Context, out *gofuse.StatfsOut) syscall.Errno {
	var st leaf.Statvfs
	if err := r.fsys.Statfs("/", &st); err != nil {
		return errno(err)
	}
	fillStatfs(&st, out)
	return 0
}

// entryNode is one namespace entry: a striped file or a symlink, addressed
// by its absolute logical path.
type entryNode struct {
	gofusefs.Inode
	fsys leaf.FileSystem
	path string
}

var _ gofusefs.InodeEmbedder = (*entryNode)(nil)
var _ gofusefs.NodeGetattrer = (*entryNode)(nil)
var _ gofusefs.NodeSetattrer = (*entryNode)(nil)
var _ gofusefs.NodeOpener = (*entryNode)(nil)
var _ gofusefs.NodeReadlinker = (*entryNode)(nil)
var _ gofusefs.NodeFsyncer = (*entryNode)(nil)
var _ gofusefs.NodeAccesser = (*entryNode)(nil)

func (n *entryNode) Getattr(_ context.Context, fh gofusefs.FileHandle, out *gofuse.AttrOut) syscall.Errno {
	var st leaf.Stat
	if err := n.fsys.Getattr(n.path, &st, handleOf(fh)); err != nil {
		return errno(err)
	}
	fillAttr(&st, &out.Attr)
	return 0
}

func (n *entryNode) Access(_ context.Context, mask uint32) syscall.Errno {
	return errno(n.fsys.Access(n.path, mask))
}

// Setattr decomposes the kernel's combined attribute update into the
// federation's chmod/chown/truncate/utimens operations, in that order,
// stopping at the first failure.
func (n *entryNode) Setattr(ctx context.Context, fh gofusefs.FileHandle, in *gofuse.SetAttrIn, out *gofuse.AttrOut) syscall.Errno {
	h := handleOf(fh)

	if in.Valid&gofuse.FATTR_MODE != 0 {
		if err := n.fsys.Chmod(n.path, in.Mode, h); err != nil {
			return errno(err)
		}
	}

	if in.Valid&(gofuse.FATTR_UID|gofuse.FATTR_GID) != 0 {
		var cur leaf.Stat
		if err := n.fsys.Getattr(n.path, &cur, h); err != nil {
			return errno(err)
		}
		uid, gid := cur.UID, cur.GID
		if in.Valid&gofuse.FATTR_UID != 0 {
			uid = in.Owner.Uid
		}
		if in.Valid&gofuse.FATTR_GID != 0 {
			gid = in.Owner.Gid
		}
		if err := n.fsys.Chown(n.path, uid, gid, h); err != nil {
			return errno(err)
		}
	}

	if in.Valid&gofuse.FATTR_SIZE != 0 {
		if err := n.fsys.Truncate(n.path, int64(in.Size), h); err != nil {
			return errno(err)
		}
	}

	if in.Valid&(gofuse.FATTR_ATIME|gofuse.FATTR_MTIME) != 0 {
		times := [2]leaf.TimeSpec{
			{Nsec: leaf.UTIMEOmit},
			{Nsec: leaf.UTIMEOmit},
		}
		if in.Valid&gofuse.FATTR_ATIME != 0 {
			if in.Valid&gofuse.FATTR_ATIME_NOW != 0 {
				times[0] = leaf.TimeSpec{Nsec: leaf.UTIMENow}
			} else {
				times[0] = leaf.TimeSpec{Sec: int64(in.Atime), Nsec: int64(in.Atimensec)}
			}
		}
		if in.Valid&gofuse.FATTR_MTIME != 0 {
			if in.Valid&gofuse.FATTR_MTIME_NOW != 0 {
				times[1] = leaf.TimeSpec{Nsec: leaf.UTIMENow}
			} else {
				times[1] = leaf.TimeSpec{Sec: int64(in.Mtime), Nsec: int64(in.Mtimensec)}
			}
		}
		if err := n.fsys.Utimens(n.path, &times, h); err != nil {
			return errno(err)
		}
	}

	return n.Getattr(ctx, fh, out)
}

func (n *entryNode) Open(_ context.Context, flags uint32) (gofusefs.FileHandle, uint32, syscall.Errno) {
	fh, err := n.fsys.Open(n.path, int(flags))
	if err != nil {
		return nil, 0, errno(err)
	}
	return &fileHandle{fsys: n.fsys, path: n.path, fh: fh}, gofuse.FOPEN_KEEP_CACHE, 0
}

// maxTargetLen bounds the symlink target buffer handed to the federation.
const maxTargetLen = 4096

func (n *entryNode) Readlink(context.Context) ([]byte, syscall.Errno) {
	buf := make([]byte, maxTargetLen)
	count, err := n.fsys.Readlink(n.path, buf)
	if err != nil {
		return nil, errno(err)
	}
	return buf[:count], 0
}

func (n *entryNode) Fsync(_ context.Context, fh gofusefs.FileHandle, flags uint32) syscall.Errno {
	datasync := flags&1 != 0
	return errno(n.fsys.Fsync(n.path, datasync, handleOf(fh)))
}

// fileHandle transports the federation's per-open handle id through the
// kernel's file handle slot.
type fileHandle struct {
	fsys leaf.FileSystem
	path string
	fh   leaf.Handle
}

var _ gofusefs.FileReader = (*fileHandle)(nil)
var _ gofusefs.FileWriter = (*fileHandle)(nil)
var _ gofusefs.FileReleaser = (*fileHandle)(nil)
var _ gofusefs.FileFsyncer = (*fileHandle)(nil)
var _ gofusefs.FileLseeker = (*fileHandle)(nil)

// handleOf extracts the federation handle id from a kernel file handle.
func handleOf(fh gofusefs.FileHandle) leaf.Handle {
	if h, ok := fh.(*fileHandle); ok {
		return h.fh
	}
	return 0
}

func (h *fileHandle) Read(_ context.Context, dest []byte, off int64) (gofuse.ReadResult, syscall.Errno) {
	n, err := h.fsys.Read(h.path, dest, off, h.fh)
	if err != nil && n == 0 {
		return nil, errno(err)
	}
	return gofuse.ReadResultData(dest[:n]), 0
}

// Write reports partial progress as a short write; the kernel retries the
// remainder and collects the terminal errno, if any, on the retry.
func (h *fileHandle) Write(_ context.Context, data []byte, off int64) (uint32, syscall.Errno) {
	n, err := h.fsys.Write(h.path, data, off, h.fh)
	if n > 0 {
		return uint32(n), 0
	}
	if err != nil {
		return 0, errno(err)
	}
	return 0, 0
}

func (h *fileHandle) Release(context.Context) syscall.Errno {
	return errno(h.fsys.Release(h.path, h.fh))
}

func (h *fileHandle) Fsync(_ context.Context, flags uint32) syscall.Errno {
	datasync := flags&1 != 0
	return errno(h.fsys.Fsync(h.path, datasync, h.fh))
}

func (h *fileHandle) Lseek(_ context.Context, off uint64, whence uint32) (uint64, syscall.Errno) {
	res, err := h.fsys.Lseek(h.path, int64(off), int(whence), h.fh)
	if err != nil {
		return 0, errno(err)
	}
	return uint64(res), 0
}
