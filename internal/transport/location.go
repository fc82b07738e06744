package transport

import (
	"fmt"
	"net/url"
	"path/filepath"
	"strconv"
	"strings"
)

// Schemes understood by Open.
const (
	SchemeS3     = "s3"
	SchemeGCS    = "gs"
	SchemeMem    = "mem"
	SchemeFile   = "file"
	SchemeSFTP   = "sftp"
	SchemeRclone = "rclone"
)

// Location is a parsed remote root.
type Location struct {
	Scheme string
	// Host is the bucket, the SSH host or the rclone remote name.
	Host string
	User string
	Path string
	Port int
}

// String returns the location in the form it was given.
func (l Location) String() string {
	switch l.Scheme {
	case SchemeRclone:
		return l.Host + ":" + l.Path
	case SchemeFile:
		return "file://" + l.Path
	case SchemeSFTP:
		host := l.Host
		if l.Port != 0 {
			host += ":" + strconv.Itoa(l.Port)
		}
		if l.User != "" {
			host = l.User + "@" + host
		}
		return "sftp://" + host + "/" + strings.TrimPrefix(l.Path, "/")
	default:
		return l.Scheme + "://" + l.Host + "/" + l.Path
	}
}

// ParseLocation parses a remote root argument.
//
// Supported formats:
//   - s3://bucket/prefix
//   - gs://bucket/prefix
//   - mem://
//   - file:///abs/path, /abs/path, ./rel/path
//   - sftp://[user@]host[:port]/path
//   - remote:path (rclone remote)
//
// A colon only selects rclone when the part before it has no path
// separator, so "dir/a:b" stays a local path.
func ParseLocation(arg string) (Location, error) {
	if arg == "" {
		return Location{}, fmt.Errorf("empty location")
	}

	if scheme, _, ok := strings.Cut(arg, "://"); ok {
		switch scheme {
		case SchemeS3, SchemeGCS, SchemeMem:
			return parseBucketURL(arg)
		case SchemeFile:
			return localLocation(strings.TrimPrefix(arg, "file://"))
		case SchemeSFTP:
			return parseSFTPURL(arg)
		default:
			return Location{}, fmt.Errorf("unsupported location scheme %q", scheme)
		}
	}

	if filepath.IsAbs(arg) || strings.HasPrefix(arg, "./") || strings.HasPrefix(arg, "../") {
		return localLocation(arg)
	}

	remote, rest, ok := strings.Cut(arg, ":")
	if !ok || remote == "" || strings.ContainsRune(remote, '/') {
		return localLocation(arg)
	}
	return Location{Scheme: SchemeRclone, Host: remote, Path: rest}, nil
}

func localLocation(p string) (Location, error) {
	abs, err := filepath.Abs(p)
	if err != nil {
		return Location{}, fmt.Errorf("resolve %s: %w", p, err)
	}
	return Location{Scheme: SchemeFile, Path: abs}, nil
}

func parseBucketURL(raw string) (Location, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return Location{}, fmt.Errorf("parse %s: %w", raw, err)
	}
	if u.Host == "" && u.Scheme != SchemeMem {
		return Location{}, fmt.Errorf("%s: missing bucket name", raw)
	}
	return Location{
		Scheme: u.Scheme,
		Host:   u.Host,
		Path:   strings.Trim(u.Path, "/"),
	}, nil
}

func parseSFTPURL(raw string) (Location, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return Location{}, fmt.Errorf("parse %s: %w", raw, err)
	}
	if u.Hostname() == "" {
		return Location{}, fmt.Errorf("%s: missing host", raw)
	}

	loc := Location{Scheme: SchemeSFTP, Host: u.Hostname(), Path: u.Path}
	if p := u.Port(); p != "" {
		loc.Port, err = strconv.Atoi(p)
		if err != nil {
			return Location{}, fmt.Errorf("%s: bad port %q", raw, p)
		}
	}
	if u.User != nil {
		loc.User = u.User.Username()
	}
	if loc.Path == "" {
		loc.Path = "/"
	}
	return loc, nil
}
