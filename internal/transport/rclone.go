package transport

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os/exec"
	"strings"
)

var _ Mover = (*Rclone)(nil)

// Rclone drives the rclone binary, which reaches every backend rclone is
// configured for. Each operation is one subprocess.
type Rclone struct {
	bin  string
	root string
}

// NewRclone roots a mover at an rclone path such as "r2:bucket/parts".
func NewRclone(bin, root string) *Rclone {
	if bin == "" {
		bin = "rclone"
	}
	return &Rclone{bin: bin, root: strings.TrimSuffix(root, "/")}
}

func (r *Rclone) target(key string) string {
	if key == "" {
		return r.root
	}
	if strings.HasSuffix(r.root, ":") {
		return r.root + key
	}
	return r.root + "/" + key
}

func (r *Rclone) run(ctx context.Context, stdin io.Reader, stdout io.Writer, args ...string) error {
	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, r.bin, args...)
	cmd.Stdin = stdin
	cmd.Stdout = stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg != "" {
			return fmt.Errorf("rclone %s: %w: %s", args[0], err, msg)
		}
		return fmt.Errorf("rclone %s: %w", args[0], err)
	}
	return nil
}

type rcloneSize struct {
	Count int64 `json:"count"`
	Bytes int64 `json:"bytes"`
}

// Size reports ErrNotFound when rclone counts zero objects. Any other
// failure leaves the size unknown.
func (r *Rclone) Size(ctx context.Context, key string) (int64, error) {
	var out bytes.Buffer
	if err := r.run(ctx, nil, &out, "size", "--json", r.target(key)); err != nil {
		return 0, fmt.Errorf("size %s: %w", key, err)
	}

	var s rcloneSize
	if err := json.Unmarshal(out.Bytes(), &s); err != nil {
		return 0, fmt.Errorf("size %s: parse rclone output: %w", key, err)
	}
	if s.Count == 0 {
		return 0, fmt.Errorf("size %s: %w", key, ErrNotFound)
	}
	return s.Bytes, nil
}

func (r *Rclone) Stream(ctx context.Context, in io.Reader, key string) error {
	if err := r.run(ctx, in, io.Discard, "rcat", "--s3-no-check-bucket", r.target(key)); err != nil {
		return fmt.Errorf("upload %s: %w", key, err)
	}
	return nil
}

func (r *Rclone) Fetch(ctx context.Context, key string, w io.Writer) error {
	if err := r.run(ctx, nil, w, "cat", r.target(key)); err != nil {
		return rcloneErr("download", key, err)
	}
	return nil
}

func (r *Rclone) Delete(ctx context.Context, key string) error {
	if err := r.run(ctx, nil, io.Discard, "deletefile", r.target(key)); err != nil {
		return rcloneErr("delete", key, err)
	}
	return nil
}

// rclone has no structured errors; "not found" on stderr is the only signal.
func rcloneErr(op, key string, err error) error {
	if strings.Contains(strings.ToLower(err.Error()), "not found") {
		return fmt.Errorf("%s %s: %w", op, key, ErrNotFound)
	}
	return fmt.Errorf("%s %s: %w", op, key, err)
}

func (r *Rclone) List(ctx context.Context, prefix string) ([]string, error) {
	var out bytes.Buffer
	if err := r.run(ctx, nil, &out, "lsf", "-R", "--files-only", r.root); err != nil {
		return nil, fmt.Errorf("list %q: %w", prefix, err)
	}

	var keys []string
	sc := bufio.NewScanner(&out)
	for sc.Scan() {
		key := strings.TrimSpace(sc.Text())
		if key != "" && strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
	}
	return keys, sc.Err()
}

func (*Rclone) Close() error { return nil }
