// Package transport moves part artifacts between the local cache and remote
// storage. Every backend implements Mover with keys relative to the root it
// was opened on.
package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"

	"gocloud.dev/blob"
	_ "gocloud.dev/blob/gcsblob" // gs:// URLs
	"gocloud.dev/blob/fileblob"
	"gocloud.dev/blob/memblob"
)

// ErrNotFound is returned by Size, Fetch and Delete when the key is absent.
var ErrNotFound = errors.New("object not found")

// Mover is the narrow interface every transfer direction needs.
type Mover interface {
	// Size returns the stored length of key, or ErrNotFound.
	Size(ctx context.Context, key string) (int64, error)
	// Stream stores everything read from r under key.
	Stream(ctx context.Context, r io.Reader, key string) error
	// Fetch writes the contents of key to w.
	Fetch(ctx context.Context, key string, w io.Writer) error
	// Delete removes key.
	Delete(ctx context.Context, key string) error
	// List returns every key that starts with prefix.
	List(ctx context.Context, prefix string) ([]string, error)
	Close() error
}

// Options configures backends opened by Open.
type Options struct {
	// Endpoint overrides the S3 endpoint (MinIO, R2).
	Endpoint  string
	Region    string
	PathStyle bool

	SSH SSHOpts

	// RcloneBin is the rclone executable; empty means "rclone" on PATH.
	RcloneBin string
}

// Open connects to the remote root named by location.
//
//nolint:ireturn // backend chosen at runtime
func Open(ctx context.Context, location string, opts Options) (Mover, error) {
	loc, err := ParseLocation(location)
	if err != nil {
		return nil, err
	}

	switch loc.Scheme {
	case SchemeS3:
		return NewS3Mover(ctx, loc.Host, loc.Path, opts)
	case SchemeGCS:
		bkt, err := blob.OpenBucket(ctx, "gs://"+loc.Host)
		if err != nil {
			return nil, fmt.Errorf("open bucket %s: %w", loc.Host, err)
		}
		return NewBlobMover(bkt, loc.Path), nil
	case SchemeMem:
		return NewBlobMover(memblob.OpenBucket(nil), loc.Path), nil
	case SchemeFile:
		bkt, err := fileblob.OpenBucket(loc.Path, &fileblob.Options{
			CreateDir: true,
			Metadata:  fileblob.MetadataDontWrite,
		})
		if err != nil {
			return nil, fmt.Errorf("open directory %s: %w", loc.Path, err)
		}
		return NewBlobMover(bkt, ""), nil
	case SchemeSFTP:
		client, err := DialSSH(ctx, loc.Host, loc.User, sshOptsFor(loc, opts.SSH))
		if err != nil {
			return nil, err
		}
		return NewSFTPMover(client, loc.Path)
	case SchemeRclone:
		return NewRclone(opts.RcloneBin, loc.Host+":"+loc.Path), nil
	default:
		return nil, fmt.Errorf("unsupported location %s", location)
	}
}

func sshOptsFor(loc Location, opts SSHOpts) SSHOpts {
	if loc.Port != 0 {
		opts.Port = loc.Port
	}
	return opts
}

// Join builds a key below dir.
func Join(dir, name string) string {
	if dir == "" {
		return name
	}
	return path.Join(dir, name)
}

func trimPrefix(root, key string) string {
	if root == "" {
		return key
	}
	return strings.TrimPrefix(strings.TrimPrefix(key, root), "/")
}
