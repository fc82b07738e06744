//go:build integration

package transport_test

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/bamsammich/partsync/internal/transport"
)

func startContainer(t *testing.T, req testcontainers.ContainerRequest, port string) (string, int) {
	t.Helper()
	ctx := context.Background()

	ctr, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = ctr.Terminate(context.Background()) })

	host, err := ctr.Host(ctx)
	require.NoError(t, err)
	mapped, err := ctr.MappedPort(ctx, port)
	require.NoError(t, err)
	p, err := strconv.Atoi(mapped.Port())
	require.NoError(t, err)
	return host, p
}

func TestIntegration_S3Mover(t *testing.T) {
	const bucket = "parts"
	host, port := startContainer(t, testcontainers.ContainerRequest{
		Image:        "minio/minio:latest",
		ExposedPorts: []string{"9000/tcp"},
		Env: map[string]string{
			"MINIO_ROOT_USER":     "minioadmin",
			"MINIO_ROOT_PASSWORD": "minioadmin",
		},
		Entrypoint: []string{"sh", "-c"},
		Cmd:        []string{"mkdir -p /data/" + bucket + " && minio server /data"},
		WaitingFor: wait.ForHTTP("/minio/health/ready").WithPort("9000"),
	}, "9000/tcp")

	t.Setenv("AWS_ACCESS_KEY_ID", "minioadmin")
	t.Setenv("AWS_SECRET_ACCESS_KEY", "minioadmin")

	m, err := transport.NewS3Mover(context.Background(), bucket, "swh/parts", transport.Options{
		Endpoint:  fmt.Sprintf("http://%s:%d", host, port),
		Region:    "us-east-1",
		PathStyle: true,
	})
	require.NoError(t, err)
	exerciseMover(t, m)
}

func TestIntegration_SFTPMover(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.Chmod(dir, 0o777))

	host, port := startContainer(t, testcontainers.ContainerRequest{
		Image:        "atmoz/sftp:latest",
		ExposedPorts: []string{"22/tcp"},
		Cmd:          []string{fmt.Sprintf("testuser:testpass:%d:%d:data", os.Getuid(), os.Getgid())},
		Mounts: testcontainers.Mounts(
			testcontainers.BindMount(dir, "/home/testuser/data"),
		),
		WaitingFor: wait.ForListeningPort("22/tcp").WithStartupTimeout(30 * time.Second),
	}, "22/tcp")

	t.Setenv("SSH_AUTH_SOCK", "")
	opts := transport.SSHOpts{Port: port, Password: "testpass", Insecure: true, KeyFile: os.DevNull}

	var m transport.Mover
	var err error
	for range 10 {
		m, err = transport.Open(context.Background(),
			fmt.Sprintf("sftp://testuser@%s:%d/data", host, port),
			transport.Options{SSH: opts})
		if err == nil {
			break
		}
		time.Sleep(500 * time.Millisecond)
	}
	require.NoError(t, err)
	t.Cleanup(func() { m.Close() })

	exerciseMover(t, m)
}
