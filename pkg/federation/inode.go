package federation

// inode is the sealed variant over the two entry kinds the federation
// understands: striped regular files and symbolic links. The marker method
// keeps the set closed; dispatch sites type-switch over *File and *Symlink
// and panic on anything else, which the guard decorator surfaces as EINVAL.
// Adding a directory variant later means implementing isInode and visiting
// every switch.
type inode interface {
	isInode()
}

func (*File) isInode()    {}
func (*Symlink) isInode() {}

// inodeRef is the shared, counted cell the namespace stores. Hard links are
// several namespace keys holding the same *inodeRef; nlink is the number of
// such keys and is what Getattr reports.
type inodeRef struct {
	node  inode
	nlink uint32
}

// retain adds one namespace reference.
func (r *inodeRef) retain() { r.nlink++ }

// release drops one namespace reference and reports whether the inode just
// became unreachable.
func (r *inodeRef) release() bool {
	r.nlink--
	return r.nlink == 0
}
