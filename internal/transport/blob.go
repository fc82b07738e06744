package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"gocloud.dev/blob"
	"gocloud.dev/gcerrors"
)

var _ Mover = (*BlobMover)(nil)

// BlobMover stores parts in a gocloud bucket.
type BlobMover struct {
	bucket *blob.Bucket
}

// NewBlobMover roots a mover at prefix within bucket. The mover owns the
// bucket and closes it on Close.
func NewBlobMover(bucket *blob.Bucket, prefix string) *BlobMover {
	if prefix = strings.Trim(prefix, "/"); prefix != "" {
		bucket = blob.PrefixedBucket(bucket, prefix+"/")
	}
	return &BlobMover{bucket: bucket}
}

func blobErr(op, key string, err error) error {
	if gcerrors.Code(err) == gcerrors.NotFound {
		return fmt.Errorf("%s %s: %w", op, key, ErrNotFound)
	}
	return fmt.Errorf("%s %s: %w", op, key, err)
}

func (m *BlobMover) Size(ctx context.Context, key string) (int64, error) {
	attrs, err := m.bucket.Attributes(ctx, key)
	if err != nil {
		return 0, blobErr("stat", key, err)
	}
	return attrs.Size, nil
}

func (m *BlobMover) Stream(ctx context.Context, r io.Reader, key string) error {
	wctx, cancel := context.WithCancel(ctx)
	defer cancel()

	w, err := m.bucket.NewWriter(wctx, key, nil)
	if err != nil {
		return blobErr("create", key, err)
	}
	if _, err := io.Copy(w, r); err != nil {
		// Cancelling before Close discards the partial object.
		cancel()
		_ = w.Close()
		return fmt.Errorf("write %s: %w", key, err)
	}
	if err := w.Close(); err != nil {
		return blobErr("commit", key, err)
	}
	return nil
}

func (m *BlobMover) Fetch(ctx context.Context, key string, w io.Writer) error {
	r, err := m.bucket.NewReader(ctx, key, nil)
	if err != nil {
		return blobErr("open", key, err)
	}
	defer r.Close()

	if _, err := io.Copy(w, r); err != nil {
		return fmt.Errorf("read %s: %w", key, err)
	}
	return nil
}

func (m *BlobMover) Delete(ctx context.Context, key string) error {
	if err := m.bucket.Delete(ctx, key); err != nil {
		return blobErr("delete", key, err)
	}
	return nil
}

func (m *BlobMover) List(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	iter := m.bucket.List(&blob.ListOptions{Prefix: prefix})
	for {
		obj, err := iter.Next(ctx)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("list %q: %w", prefix, err)
		}
		if !obj.IsDir {
			keys = append(keys, obj.Key)
		}
	}
	return keys, nil
}

func (m *BlobMover) Close() error {
	return m.bucket.Close()
}
