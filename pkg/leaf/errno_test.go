package leaf

import (
	"errors"
	"fmt"
	"io"
	"os"
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrno(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want syscall.Errno
	}{
		{"nil", nil, 0},
		{"eof is not an error", io.EOF, 0},
		{"raw errno", syscall.ENOENT, syscall.ENOENT},
		{"wrapped errno", fmt.Errorf("leaf: %w", syscall.ENOSPC), syscall.ENOSPC},
		{"path error", &os.PathError{Op: "open", Path: "/x", Err: syscall.EACCES}, syscall.EACCES},
		{"not exist sentinel", os.ErrNotExist, syscall.ENOENT},
		{"exist sentinel", os.ErrExist, syscall.EEXIST},
		{"permission sentinel", os.ErrPermission, syscall.EACCES},
		{"closed sentinel", os.ErrClosed, syscall.EBADF},
		{"opaque error", errors.New("mystery"), syscall.EINVAL},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Errno(tt.err))
		})
	}
}

func TestTimeSpecSentinels(t *testing.T) {
	assert.True(t, TimeSpec{Nsec: UTIMENow}.IsNow())
	assert.True(t, TimeSpec{Nsec: UTIMEOmit}.IsOmit())
	assert.False(t, TimeSpec{Nsec: 7}.IsNow())
	assert.False(t, TimeSpec{Nsec: 7}.IsOmit())

	now := Now()
	assert.NotZero(t, now.Sec)
	assert.False(t, now.Time().IsZero())
}
