// Package s3 implements a leaf backend over an S3 (or S3-compatible)
// bucket.
//
// Per-chunk files map to objects keyed by their path below an optional key
// prefix. Reads use byte-range requests so only the requested window is
// transferred; writes are read-modify-write of the whole object, which is
// the only way to express positioned writes over an object store. That
// makes this leaf a fit for overflow or archival positions in the leaf
// order (written once, read many), not for write-hot front positions.
//
// Attribute fidelity is limited by the medium: mode, uid and gid changes
// are accepted and dropped, and timestamps come from the object's
// LastModified. The federation keeps the authoritative descriptor; what
// matters here is byte storage.
package s3

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"syscall"

	"github.com/aws/aws-sdk-go-v2/aws"
	awss3 "github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"golang.org/x/sys/unix"

	"github.com/marmos91/spanfs/pkg/leaf"
)

const blockSize = 4096

// Store is an S3-backed leaf filesystem.
type Store struct {
	client    *awss3.Client
	bucket    string
	keyPrefix string

	nextHandle leaf.Handle
}

var _ leaf.FileSystem = (*Store)(nil)

// Config configures an S3 leaf. The client is built by the configuration
// layer (region, endpoint, credentials) and injected here.
type Config struct {
	Client    *awss3.Client
	Bucket    string
	KeyPrefix string
}

// New creates an S3 leaf and verifies bucket access with a HeadBucket
// probe. The bucket must already exist.
func New(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.Client == nil {
		return nil, fmt.Errorf("s3 leaf: client is required")
	}
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("s3 leaf: bucket is required")
	}

	s := &Store{
		client:    cfg.Client,
		bucket:    cfg.Bucket,
		keyPrefix: cfg.KeyPrefix,
	}
	if _, err := s.client.HeadBucket(ctx, &awss3.HeadBucketInput{
		Bucket: aws.String(s.bucket),
	}); err != nil {
		return nil, fmt.Errorf("s3 leaf: verifying access to bucket %s: %w", cfg.Bucket, err)
	}
	return s, nil
}

// objectKey maps a leaf path to its object key.
func (s *Store) objectKey(path string) string {
	return s.keyPrefix + strings.TrimPrefix(path, "/")
}

// notFound reports whether an S3 error means the object does not exist.
func notFound(err error) bool {
	var noKey *types.NoSuchKey
	var noObject *types.NotFound
	return errors.As(err, &noKey) || errors.As(err, &noObject)
}

// getObject downloads the full object; a missing object returns ENOENT.
func (s *Store) getObject(ctx context.Context, path string) ([]byte, error) {
	out, err := s.client.GetObject(ctx, &awss3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.objectKey(path)),
	})
	if err != nil {
		if notFound(err) {
			return nil, syscall.ENOENT
		}
		return nil, err
	}
	defer out.Body.Close()
	return io.ReadAll(out.Body)
}

func (s *Store) putObject(ctx context.Context, path string, data []byte) error {
	_, err := s.client.PutObject(ctx, &awss3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.objectKey(path)),
		Body:   bytes.NewReader(data),
	})
	return err
}

func (s *Store) Getattr(path string, st *leaf.Stat, _ leaf.Handle) error {
	head, err := s.client.HeadObject(context.Background(), &awss3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.objectKey(path)),
	})
	if err != nil {
		if notFound(err) {
			return syscall.ENOENT
		}
		return err
	}
	st.Mode = unix.S_IFREG | 0o644
	st.Nlink = 1
	st.Size = aws.ToInt64(head.ContentLength)
	if head.LastModified != nil {
		ts := leaf.TimeSpec{Sec: head.LastModified.Unix()}
		st.Atime = ts
		st.Mtime = ts
		st.Ctime = ts
	}
	return nil
}

func (s *Store) Readlink(string, []byte) (int, error) { return 0, syscall.EINVAL }
func (s *Store) Mknod(string, uint32, uint64) error   { return syscall.EOPNOTSUPP }
func (s *Store) Mkdir(string, uint32) error           { return syscall.EOPNOTSUPP }
func (s *Store) Rmdir(string) error                   { return syscall.EOPNOTSUPP }
func (s *Store) Symlink(string, string) error         { return syscall.EOPNOTSUPP }
func (s *Store) Link(string, string) error            { return syscall.EOPNOTSUPP }

func (s *Store) Rename(from, to string, flags uint32) error {
	if flags != 0 {
		return syscall.EINVAL
	}
	ctx := context.Background()
	if _, err := s.client.CopyObject(ctx, &awss3.CopyObjectInput{
		Bucket:     aws.String(s.bucket),
		Key:        aws.String(s.objectKey(to)),
		CopySource: aws.String(s.bucket + "/" + s.objectKey(from)),
	}); err != nil {
		if notFound(err) {
			return syscall.ENOENT
		}
		return err
	}
	return s.Unlink(from)
}

func (s *Store) Access(path string, _ uint32) error {
	var st leaf.Stat
	return s.Getattr(path, &st, 0)
}

// Readdir lists the immediate children of dir using a delimited prefix
// listing.
func (s *Store) Readdir(dir string) ([]leaf.DirEntry, error) {
	prefix := s.objectKey(dir)
	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	out, err := s.client.ListObjectsV2(context.Background(), &awss3.ListObjectsV2Input{
		Bucket:    aws.String(s.bucket),
		Prefix:    aws.String(prefix),
		Delimiter: aws.String("/"),
	})
	if err != nil {
		return nil, err
	}
	entries := make([]leaf.DirEntry, 0, len(out.Contents))
	for _, obj := range out.Contents {
		entries = append(entries, leaf.DirEntry{
			Name: strings.TrimPrefix(aws.ToString(obj.Key), prefix),
			Mode: unix.S_IFREG,
		})
	}
	return entries, nil
}

func (s *Store) Unlink(path string) error {
	_, err := s.client.DeleteObject(context.Background(), &awss3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.objectKey(path)),
	})
	if err != nil && notFound(err) {
		return syscall.ENOENT
	}
	return err
}

// Chmod and Chown are accepted and dropped: objects carry no POSIX owner
// or permission bits.
func (s *Store) Chmod(string, uint32, leaf.Handle) error         { return nil }
func (s *Store) Chown(string, uint32, uint32, leaf.Handle) error { return nil }

func (s *Store) Truncate(path string, size int64, _ leaf.Handle) error {
	ctx := context.Background()
	data, err := s.getObject(ctx, path)
	if err != nil {
		return err
	}
	current := int64(len(data))
	switch {
	case size < current:
		data = data[:size]
	case size > current:
		data = append(data, make([]byte, size-current)...)
	default:
		return nil
	}
	return s.putObject(ctx, path, data)
}

func (s *Store) Open(path string, flags int) (leaf.Handle, error) {
	var st leaf.Stat
	if err := s.Getattr(path, &st, 0); err != nil {
		return 0, err
	}
	if flags&unix.O_TRUNC != 0 && flags&(unix.O_WRONLY|unix.O_RDWR) != 0 {
		if err := s.putObject(context.Background(), path, nil); err != nil {
			return 0, err
		}
	}
	s.nextHandle++
	return s.nextHandle, nil
}

func (s *Store) Create(path string, _ uint32, _ int) (leaf.Handle, error) {
	var st leaf.Stat
	if err := s.Getattr(path, &st, 0); err != nil {
		if err := s.putObject(context.Background(), path, nil); err != nil {
			return 0, err
		}
	}
	s.nextHandle++
	return s.nextHandle, nil
}

// Read fetches only the requested byte range.
func (s *Store) Read(path string, p []byte, off int64, _ leaf.Handle) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	rangeSpec := fmt.Sprintf("bytes=%d-%d", off, off+int64(len(p))-1)
	out, err := s.client.GetObject(context.Background(), &awss3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.objectKey(path)),
		Range:  aws.String(rangeSpec),
	})
	if err != nil {
		if notFound(err) {
			return 0, syscall.ENOENT
		}
		// Reading entirely past the end of an object yields an invalid
		// range error; the leaf contract calls that a zero-byte read.
		if strings.Contains(err.Error(), "InvalidRange") {
			return 0, nil
		}
		return 0, err
	}
	defer out.Body.Close()
	n, err := io.ReadFull(out.Body, p)
	if err == io.ErrUnexpectedEOF || err == io.EOF {
		err = nil
	}
	return n, err
}

// Write is read-modify-write: fetch the object, splice the new bytes in,
// upload the result.
func (s *Store) Write(path string, p []byte, off int64, _ leaf.Handle) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	ctx := context.Background()
	data, err := s.getObject(ctx, path)
	if err != nil {
		return 0, err
	}
	if end := off + int64(len(p)); end > int64(len(data)) {
		data = append(data, make([]byte, end-int64(len(data)))...)
	}
	copy(data[off:], p)
	if err := s.putObject(ctx, path, data); err != nil {
		return 0, err
	}
	return len(p), nil
}

// Statfs reports a nominal large capacity: an object store does not expose
// usable free-space counters.
func (s *Store) Statfs(_ string, st *leaf.Statvfs) error {
	st.Bsize = blockSize
	st.Frsize = blockSize
	st.Blocks = 1 << 30
	st.Bfree = 1 << 30
	st.Bavail = 1 << 30
	st.Files = 1 << 20
	st.Ffree = 1 << 20
	st.Favail = 1 << 20
	st.Namemax = 1024
	return nil
}

func (s *Store) Release(string, leaf.Handle) error { return nil }

// Fsync is a no-op: PutObject is durable on return.
func (s *Store) Fsync(string, bool, leaf.Handle) error { return nil }

func (s *Store) Utimens(string, *[2]leaf.TimeSpec, leaf.Handle) error { return nil }

func (s *Store) Fallocate(path string, mode uint32, off, length int64, _ leaf.Handle) error {
	if mode != 0 {
		return syscall.EOPNOTSUPP
	}
	ctx := context.Background()
	data, err := s.getObject(ctx, path)
	if err != nil {
		return err
	}
	if end := off + length; end > int64(len(data)) {
		data = append(data, make([]byte, end-int64(len(data)))...)
		return s.putObject(ctx, path, data)
	}
	return nil
}

func (s *Store) Lseek(path string, off int64, whence int, _ leaf.Handle) (int64, error) {
	var st leaf.Stat
	if err := s.Getattr(path, &st, 0); err != nil {
		return 0, err
	}
	switch whence {
	case unix.SEEK_DATA:
		if off >= st.Size {
			return 0, syscall.ENXIO
		}
		return off, nil
	case unix.SEEK_HOLE:
		return st.Size, nil
	default:
		return 0, syscall.EINVAL
	}
}
