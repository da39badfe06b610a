package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/JakeFAU/kb-crawler/internal/crawler"
)

func setupStore(t *testing.T) *KVStore {
	t.Helper()
	ctx := context.Background()

	container, err := tcpostgres.Run(ctx,
		"postgres:16-alpine",
		tcpostgres.WithDatabase("kbcrawler_test"),
		tcpostgres.WithUsername("test"),
		tcpostgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second)),
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, container.Terminate(ctx))
	})

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	store, err := NewKVStore(ctx, Config{DSN: dsn, Migrate: true})
	require.NoError(t, err)
	t.Cleanup(store.Close)

	// A second run must be a no-op.
	require.NoError(t, RunMigrations(dsn))
	return store
}

func TestKVStoreRoundTripPostgres(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	ctx := context.Background()
	store := setupStore(t)

	require.NoError(t, store.BatchPut(ctx, []crawler.Item{
		{PartitionKey: "KB#1", SortKey: "META", Data: []byte(`{"name":"docs"}`)},
		{PartitionKey: "KB#1", SortKey: "PAGE#b", Data: []byte(`{"url":"b"}`)},
		{PartitionKey: "KB#1", SortKey: "PAGE#a", Data: []byte(`{"url":"a"}`)},
		{PartitionKey: "KB#1", SortKey: "PAGE_x", Data: []byte(`{}`)},
	}))
	require.NoError(t, store.Put(ctx, crawler.Item{PartitionKey: "KB#1", SortKey: "PAGE#a", Data: []byte(`{"url":"a2"}`)}))

	pages, err := store.Query(ctx, "KB#1", "PAGE#")
	require.NoError(t, err)
	require.Len(t, pages, 2)
	require.Equal(t, "PAGE#a", pages[0].SortKey)
	require.JSONEq(t, `{"url":"a2"}`, string(pages[0].Data))

	meta, err := store.Get(ctx, "KB#1", "META")
	require.NoError(t, err)
	require.JSONEq(t, `{"name":"docs"}`, string(meta.Data))

	require.NoError(t, store.DeleteAll(ctx, "KB#1"))
	_, err = store.Get(ctx, "KB#1", "META")
	require.ErrorIs(t, err, crawler.ErrNotFound)
}
