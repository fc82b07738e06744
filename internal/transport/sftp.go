package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"path"
	"strings"

	"github.com/google/uuid"
	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"
)

var _ Mover = (*SFTPMover)(nil)

// SFTPMover stores parts below a directory on an SFTP server. Uploads land
// in a temp file and are renamed into place, so a reader never sees a
// half-written part.
type SFTPMover struct {
	client *sftp.Client
	ssh    *ssh.Client
	root   string
}

// NewSFTPMover takes ownership of sshClient.
func NewSFTPMover(sshClient *ssh.Client, root string) (*SFTPMover, error) {
	client, err := sftp.NewClient(sshClient)
	if err != nil {
		sshClient.Close()
		return nil, fmt.Errorf("sftp client: %w", err)
	}
	return &SFTPMover{client: client, ssh: sshClient, root: root}, nil
}

func (m *SFTPMover) abs(key string) string { return path.Join(m.root, key) }

func sftpErr(op, key string, err error) error {
	if errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("%s %s: %w", op, key, ErrNotFound)
	}
	return fmt.Errorf("%s %s: %w", op, key, err)
}

func (m *SFTPMover) Size(_ context.Context, key string) (int64, error) {
	info, err := m.client.Stat(m.abs(key))
	if err != nil {
		return 0, sftpErr("stat", key, err)
	}
	return info.Size(), nil
}

func (m *SFTPMover) Stream(_ context.Context, r io.Reader, key string) error {
	final := m.abs(key)
	dir := path.Dir(final)
	if err := m.client.MkdirAll(dir); err != nil {
		return fmt.Errorf("mkdir %s: %w", dir, err)
	}

	tmp := path.Join(dir, fmt.Sprintf(".%s.%s.partsync-tmp", path.Base(final), uuid.New().String()[:8]))
	f, err := m.client.Create(tmp)
	if err != nil {
		return fmt.Errorf("create %s: %w", tmp, err)
	}
	if _, err := f.ReadFrom(r); err != nil {
		f.Close()
		_ = m.client.Remove(tmp)
		return fmt.Errorf("write %s: %w", key, err)
	}
	if err := f.Close(); err != nil {
		_ = m.client.Remove(tmp)
		return fmt.Errorf("close %s: %w", key, err)
	}
	if err := m.client.PosixRename(tmp, final); err != nil {
		_ = m.client.Remove(tmp)
		return fmt.Errorf("rename %s: %w", key, err)
	}
	return nil
}

func (m *SFTPMover) Fetch(_ context.Context, key string, w io.Writer) error {
	f, err := m.client.Open(m.abs(key))
	if err != nil {
		return sftpErr("open", key, err)
	}
	defer f.Close()

	if _, err := f.WriteTo(w); err != nil {
		return fmt.Errorf("read %s: %w", key, err)
	}
	return nil
}

func (m *SFTPMover) Delete(_ context.Context, key string) error {
	if err := m.client.Remove(m.abs(key)); err != nil {
		return sftpErr("delete", key, err)
	}
	return nil
}

func (m *SFTPMover) List(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	walker := m.client.Walk(m.root)
	for walker.Step() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if err := walker.Err(); err != nil {
			if walker.Path() == m.root && errors.Is(err, fs.ErrNotExist) {
				return nil, nil
			}
			continue
		}
		if walker.Stat().IsDir() {
			continue
		}
		key := trimPrefix(m.root, walker.Path())
		if strings.HasPrefix(path.Base(key), ".") && strings.HasSuffix(key, ".partsync-tmp") {
			continue
		}
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
	}
	return keys, nil
}

func (m *SFTPMover) Close() error {
	err := m.client.Close()
	if sshErr := m.ssh.Close(); err == nil {
		err = sshErr
	}
	return err
}
