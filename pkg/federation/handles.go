package federation

import "github.com/marmos91/spanfs/pkg/leaf"

// openFile is the per-open bookkeeping for a striped file: the open flags
// the caller used and one leaf handle per chunk, index-aligned with the
// chunk list. The sequence is sized at open time and grows when this open
// enlists new tail chunks during writes.
//
// A nil *openFile is a valid "no handle" value; lookups on it yield the
// zero handle, which every leaf treats as "operate by path".
type openFile struct {
	flags int
	fhs   []leaf.Handle
}

// handleAt returns the leaf handle for chunk i, or zero when the sequence
// does not cover it (no handle at all, or a chunk enlisted by a different
// open of the same file).
func (h *openFile) handleAt(i int) leaf.Handle {
	if h == nil || i < 0 || i >= len(h.fhs) {
		return 0
	}
	return h.fhs[i]
}

// setHandle records the handle for chunk i, growing the sequence to keep it
// dense and index-aligned.
func (h *openFile) setHandle(i int, fh leaf.Handle) {
	if h == nil {
		return
	}
	for len(h.fhs) <= i {
		h.fhs = append(h.fhs, 0)
	}
	h.fhs[i] = fh
}

// handleTable is the federation's process-local transport for per-open
// state: an id handed to the caller as an opaque leaf.Handle, mapped back on
// every subsequent operation. Ids come from a monotonically increasing
// counter and are never reused.
//
// Mutation happens only inside exclusively locked operations (open, create,
// release), so the table needs no lock of its own.
type handleTable struct {
	next uint64
	open map[leaf.Handle]*openFile
}

func newHandleTable() handleTable {
	return handleTable{open: make(map[leaf.Handle]*openFile)}
}

func (t *handleTable) add(h *openFile) leaf.Handle {
	t.next++
	id := leaf.Handle(t.next)
	t.open[id] = h
	return id
}

// get resolves an id to its open state; the zero id resolves to nil.
func (t *handleTable) get(id leaf.Handle) *openFile {
	if id == 0 {
		return nil
	}
	return t.open[id]
}

func (t *handleTable) remove(id leaf.Handle) {
	delete(t.open, id)
}
