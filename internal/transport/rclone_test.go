package transport_test

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bamsammich/partsync/internal/transport"
)

// fakeRclone answers the handful of rclone subcommands the mover uses
// against a local directory. "remote:path" maps to $FAKE_RCLONE_ROOT/path.
const fakeRclone = `#!/bin/sh
cmd=$1
shift
case "$cmd" in
size)
	p="$FAKE_RCLONE_ROOT/${2#*:}"
	if [ -f "$p" ]; then
		printf '{"count":1,"bytes":%d}\n' $(wc -c < "$p")
	else
		echo '{"count":0,"bytes":0}'
	fi
	;;
rcat)
	p="$FAKE_RCLONE_ROOT/${2#*:}"
	mkdir -p "$(dirname "$p")"
	cat > "$p"
	;;
cat)
	p="$FAKE_RCLONE_ROOT/${1#*:}"
	[ -f "$p" ] || { echo "object not found" >&2; exit 3; }
	cat "$p"
	;;
deletefile)
	p="$FAKE_RCLONE_ROOT/${1#*:}"
	[ -f "$p" ] || { echo "object not found" >&2; exit 4; }
	rm "$p"
	;;
lsf)
	d="$FAKE_RCLONE_ROOT/${3#*:}"
	[ -d "$d" ] || exit 0
	cd "$d" && find . -type f | sed 's|^\./||'
	;;
*)
	echo "unknown command $cmd" >&2
	exit 1
	;;
esac
`

func installFakeRclone(t *testing.T) string {
	t.Helper()
	if _, err := os.Stat("/bin/sh"); err != nil {
		t.Skip("no /bin/sh")
	}
	bin := filepath.Join(t.TempDir(), "rclone")
	require.NoError(t, os.WriteFile(bin, []byte(fakeRclone), 0o755))
	t.Setenv("FAKE_RCLONE_ROOT", t.TempDir())
	return bin
}

func TestRcloneMover(t *testing.T) {
	bin := installFakeRclone(t)
	exerciseMover(t, transport.NewRclone(bin, "remote:bucket/parts"))
}

func TestRcloneSizeUnknown(t *testing.T) {
	bin := filepath.Join(t.TempDir(), "rclone")
	require.NoError(t, os.WriteFile(bin, []byte("#!/bin/sh\necho garbage\n"), 0o755))

	_, err := transport.NewRclone(bin, "remote:x").Size(context.Background(), "a")
	require.Error(t, err)
	assert.NotErrorIs(t, err, transport.ErrNotFound)
}

func TestRcloneErrorIncludesStderr(t *testing.T) {
	bin := filepath.Join(t.TempDir(), "rclone")
	require.NoError(t, os.WriteFile(bin, []byte("#!/bin/sh\necho 'permission denied' >&2\nexit 1\n"), 0o755))

	err := transport.NewRclone(bin, "remote:x").Stream(context.Background(), strings.NewReader("d"), "a")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "permission denied")
}

func TestOpenRcloneLocation(t *testing.T) {
	bin := installFakeRclone(t)
	m, err := transport.Open(context.Background(), "remote:bucket", transport.Options{RcloneBin: bin})
	require.NoError(t, err)

	require.NoError(t, m.Stream(context.Background(), bytes.NewReader([]byte("abc")), "k"))
	data, err := os.ReadFile(filepath.Join(os.Getenv("FAKE_RCLONE_ROOT"), "bucket", "k"))
	require.NoError(t, err)
	assert.Equal(t, "abc", string(data))
}
