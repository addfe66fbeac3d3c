package badger

import (
	"encoding/binary"
	"fmt"

	"golang.org/x/sys/unix"

	"github.com/marmos91/spanfs/pkg/leaf"
)

// attrRecord is the per-file attribute record stored under the attr key.
// Size is not stored here; it is always derived from the data value so the
// two can never disagree.
type attrRecord struct {
	Mode  uint32
	UID   uint32
	GID   uint32
	Nlink uint32
	Atime leaf.TimeSpec
	Mtime leaf.TimeSpec
	Ctime leaf.TimeSpec
}

// attrRecordSize is the fixed encoded length: four uint32 fields plus three
// sec/nsec pairs.
const attrRecordSize = 4*4 + 3*16

// encode serializes the record in little-endian fixed layout.
func (r *attrRecord) encode() []byte {
	buf := make([]byte, attrRecordSize)
	binary.LittleEndian.PutUint32(buf[0:], r.Mode)
	binary.LittleEndian.PutUint32(buf[4:], r.UID)
	binary.LittleEndian.PutUint32(buf[8:], r.GID)
	binary.LittleEndian.PutUint32(buf[12:], r.Nlink)
	putTime(buf[16:], r.Atime)
	putTime(buf[32:], r.Mtime)
	putTime(buf[48:], r.Ctime)
	return buf
}

func (r *attrRecord) decode(buf []byte) error {
	if len(buf) != attrRecordSize {
		return fmt.Errorf("attr record: expected %d bytes, got %d", attrRecordSize, len(buf))
	}
	r.Mode = binary.LittleEndian.Uint32(buf[0:])
	r.UID = binary.LittleEndian.Uint32(buf[4:])
	r.GID = binary.LittleEndian.Uint32(buf[8:])
	r.Nlink = binary.LittleEndian.Uint32(buf[12:])
	r.Atime = getTime(buf[16:])
	r.Mtime = getTime(buf[32:])
	r.Ctime = getTime(buf[48:])
	return nil
}

func putTime(buf []byte, ts leaf.TimeSpec) {
	binary.LittleEndian.PutUint64(buf[0:], uint64(ts.Sec))
	binary.LittleEndian.PutUint64(buf[8:], uint64(ts.Nsec))
}

func getTime(buf []byte) leaf.TimeSpec {
	return leaf.TimeSpec{
		Sec:  int64(binary.LittleEndian.Uint64(buf[0:])),
		Nsec: int64(binary.LittleEndian.Uint64(buf[8:])),
	}
}

func (r *attrRecord) fillStat(st *leaf.Stat, size int64) {
	st.Mode = unix.S_IFREG | r.Mode
	st.UID = r.UID
	st.GID = r.GID
	st.Nlink = r.Nlink
	st.Size = size
	st.Atime = r.Atime
	st.Mtime = r.Mtime
	st.Ctime = r.Ctime
}
