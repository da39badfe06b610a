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

func TestEncodeDecode(t *testing.T) {
	t.Parallel()

	values := []float32{0, 1.5, -2.25, 3.4028235e38}
	require.Equal(t, values, decode(encode(values)))
	require.Empty(t, decode(nil))
}

func TestKeys(t *testing.T) {
	t.Parallel()

	idx := NewWithClient(goredis.NewClient(&goredis.Options{Addr: "localhost:0"}), "")
	require.Equal(t, "kbvec:kb-1:v:abc", idx.vectorKey("kb-1", "abc"))
	require.Equal(t, "kbvec:kb-1:ids", idx.idsKey("kb-1"))
}

func setupRedis(t *testing.T) *Index {
	t.Helper()
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

	idx, err := New(Config{URL: "redis://" + host + ":" + port.Port()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = idx.Close() })
	return idx
}

func TestIndexRoundTripRedis(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	ctx := context.Background()
	idx := setupRedis(t)
	require.NoError(t, idx.Ping(ctx))

	vectors := []crawler.Vector{
		{ID: "a", Values: []float32{0.1, 0.2}, Metadata: map[string]string{"url": "https://example.com/"}},
		{ID: "b", Values: []float32{0.3, 0.4}},
	}
	require.NoError(t, idx.Upsert(ctx, "kb-1", vectors))
	require.NoError(t, idx.Upsert(ctx, "kb-1", vectors[:1]))
	require.NoError(t, idx.Upsert(ctx, "kb-2", vectors[1:]))

	count, err := idx.Count(ctx, "kb-1")
	require.NoError(t, err)
	require.Equal(t, int64(2), count)

	got, err := idx.Get(ctx, "kb-1", "a")
	require.NoError(t, err)
	require.Equal(t, vectors[0], got)

	require.NoError(t, idx.DeleteNamespace(ctx, "kb-1"))
	_, err = idx.Get(ctx, "kb-1", "a")
	require.ErrorIs(t, err, crawler.ErrNotFound)

	count, err = idx.Count(ctx, "kb-2")
	require.NoError(t, err)
	require.Equal(t, int64(1), count)
}
