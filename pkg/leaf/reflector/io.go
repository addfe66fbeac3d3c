package reflector

import (
	"syscall"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/marmos91/spanfs/pkg/leaf"
)

// directIOAlign is the buffer alignment required for O_DIRECT transfers.
const directIOAlign = 512

func (r *Reflector) Open(path string, flags int) (leaf.Handle, error) {
	fd, err := unix.Open(r.hostPath(path), flags, 0)
	if err != nil {
		return 0, err
	}
	return leaf.Handle(fd), nil
}

func (r *Reflector) Create(path string, mode uint32, flags int) (leaf.Handle, error) {
	fd, err := unix.Open(r.hostPath(path), flags|unix.O_CREAT, mode)
	if err != nil {
		return 0, err
	}
	return leaf.Handle(fd), nil
}

// Read reads from the open handle, or from a transient read-only descriptor
// when no handle was supplied. When the handle was opened with O_DIRECT the
// transfer goes through a 512-aligned bounce buffer and is copied out.
func (r *Reflector) Read(path string, p []byte, off int64, fh leaf.Handle) (int, error) {
	fd := int(fh)
	if fh == 0 {
		var err error
		fd, err = unix.Open(r.hostPath(path), unix.O_RDONLY, 0)
		if err != nil {
			return 0, err
		}
		defer unix.Close(fd)
	}

	target := p
	bounced := false
	if fh != 0 && len(p) > 0 && isDirectIO(fd) {
		target = alignedBuffer(len(p))
		bounced = true
	}

	n, err := unix.Pread(fd, target, off)
	if n < 0 {
		n = 0
	}
	if bounced {
		copy(p, target[:n])
	}
	return n, err
}

// Write writes through the open handle, or through a transient write-only
// descriptor when no handle was supplied. O_DIRECT handles write through a
// 512-aligned bounce copy of p.
func (r *Reflector) Write(path string, p []byte, off int64, fh leaf.Handle) (int, error) {
	fd := int(fh)
	if fh == 0 {
		var err error
		fd, err = unix.Open(r.hostPath(path), unix.O_WRONLY, 0)
		if err != nil {
			return 0, err
		}
		defer unix.Close(fd)
	}

	source := p
	if fh != 0 && len(p) > 0 && isDirectIO(fd) {
		source = alignedBuffer(len(p))
		copy(source, p)
	}

	n, err := unix.Pwrite(fd, source, off)
	if n < 0 {
		n = 0
	}
	return n, err
}

func (r *Reflector) Release(_ string, fh leaf.Handle) error {
	if fh == 0 {
		return nil
	}
	return unix.Close(int(fh))
}

func (r *Reflector) Fsync(path string, datasync bool, fh leaf.Handle) error {
	fd := int(fh)
	if fh == 0 {
		var err error
		fd, err = unix.Open(r.hostPath(path), unix.O_WRONLY, 0)
		if err != nil {
			return err
		}
		defer unix.Close(fd)
	}
	if datasync {
		return unix.Fdatasync(fd)
	}
	return unix.Fsync(fd)
}

// Fallocate accepts only the plain allocation mode (zero); any flagged mode
// is reported as unsupported.
func (r *Reflector) Fallocate(path string, mode uint32, off, length int64, fh leaf.Handle) error {
	if mode != 0 {
		return syscall.EOPNOTSUPP
	}
	fd := int(fh)
	if fh == 0 {
		var err error
		fd, err = unix.Open(r.hostPath(path), unix.O_WRONLY, 0)
		if err != nil {
			return err
		}
		defer unix.Close(fd)
	}
	return unix.Fallocate(fd, mode, off, length)
}

func (r *Reflector) Lseek(path string, off int64, whence int, fh leaf.Handle) (int64, error) {
	fd := int(fh)
	if fh == 0 {
		var err error
		fd, err = unix.Open(r.hostPath(path), unix.O_RDONLY, 0)
		if err != nil {
			return 0, err
		}
		defer unix.Close(fd)
	}
	return unix.Seek(fd, off, whence)
}

// isDirectIO reports whether the descriptor was opened with O_DIRECT.
func isDirectIO(fd int) bool {
	flags, err := unix.FcntlInt(uintptr(fd), unix.F_GETFL, 0)
	return err == nil && flags&unix.O_DIRECT != 0
}

// alignedBuffer returns a buffer of the given size whose base address is
// aligned to directIOAlign, as required for O_DIRECT transfers.
func alignedBuffer(size int) []byte {
	if size == 0 {
		return nil
	}
	raw := make([]byte, size+directIOAlign)
	shift := int(uintptr(unsafe.Pointer(&raw[0])) & (directIOAlign - 1))
	if shift != 0 {
		shift = directIOAlign - shift
	}
	return raw[shift : shift+size]
}
