package redis

import (
	"context"
	"testing"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/JakeFAU/kb-crawler/internal/crawler"
)

func TestKey(t *testing.T) {
	t.Parallel()

	locker := NewWithClient(goredis.NewClient(&goredis.Options{Addr: "localhost:0"}), "")
	require.Equal(t, "kblock:job:job-1", locker.key("job-1"))
}

func TestLockerRedis(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	ctx := context.Background()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7-alpine",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForLog("Ready to accept connections").WithStartupTimeout(30 * time.Second),
		},
		Started: true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, container.Terminate(ctx)) })

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "6379")
	require.NoError(t, err)

	locker, err := New(Config{URL: "redis://" + host + ":" + port.Port()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = locker.Close() })

	release, err := locker.Acquire(ctx, "job-1", time.Minute)
	require.NoError(t, err)

	_, err = locker.Acquire(ctx, "job-1", time.Minute)
	require.ErrorIs(t, err, crawler.ErrLocked)

	require.NoError(t, release(ctx))
	releaseAgain, err := locker.Acquire(ctx, "job-1", time.Minute)
	require.NoError(t, err)

	// A stale release must not remove the current holder's key.
	require.NoError(t, release(ctx))
	_, err = locker.Acquire(ctx, "job-1", time.Minute)
	require.ErrorIs(t, err, crawler.ErrLocked)
	require.NoError(t, releaseAgain(ctx))
}
