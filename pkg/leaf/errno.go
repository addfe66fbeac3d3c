package leaf

import (
	"errors"
	"io"
	"os"
	"syscall"
)

// Errno normalizes err into the POSIX errno space.
//
// The mapping implements the federation's error-translation contract:
//   - nil stays nil-equivalent (zero Errno)
//   - an errno-carrying error (syscall.Errno, *os.PathError, *os.LinkError,
//     *os.SyscallError) surfaces its code verbatim
//   - the os sentinel errors map to their conventional codes
//   - anything else collapses to EINVAL
//
// io.EOF is treated as "no error": the read contract reports end of data
// through a short count, never through an error.
func Errno(err error) syscall.Errno {
	if err == nil || errors.Is(err, io.EOF) {
		return 0
	}

	var errno syscall.Errno
	if errors.As(err, &errno) {
		return errno
	}

	switch {
	case errors.Is(err, os.ErrNotExist):
		return syscall.ENOENT
	case errors.Is(err, os.ErrExist):
		return syscall.EEXIST
	case errors.Is(err, os.ErrPermission):
		return syscall.EACCES
	case errors.Is(err, os.ErrClosed):
		return syscall.EBADF
	case errors.Is(err, os.ErrInvalid):
		return syscall.EINVAL
	}

	return syscall.EINVAL
}
