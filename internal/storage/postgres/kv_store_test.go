package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/kb-crawler/internal/crawler"
)

func newMockStore(t *testing.T) (*KVStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)

	store, err := NewKVStoreWithPool(mock, "")
	require.NoError(t, err)
	return store, mock
}

func TestNewKVStoreWithPoolValidatesTable(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	_, err = NewKVStoreWithPool(mock, "kv; DROP TABLE x")
	require.Error(t, err)
	_, err = NewKVStoreWithPool(nil, "kv_items")
	require.Error(t, err)
}

func TestPutUpserts(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	now := time.Unix(1700000000, 0).UTC()
	store.now = func() time.Time { return now }

	mock.ExpectExec("INSERT INTO kv_items").
		WithArgs("JOB#1", "META", []byte(`{"status":"pending"}`), now).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	err := store.Put(context.Background(), crawler.Item{
		PartitionKey: "JOB#1",
		SortKey:      "META",
		Data:         []byte(`{"status":"pending"}`),
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPutRejectsMissingKeys(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	require.Error(t, store.Put(context.Background(), crawler.Item{PartitionKey: "JOB#1"}))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestBatchPutCommits(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	now := time.Unix(1700000000, 0).UTC()
	store.now = func() time.Time { return now }

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO kv_items").
		WithArgs("KB#1", "CHUNK#a#1", []byte(`{}`), now).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("INSERT INTO kv_items").
		WithArgs("KB#1", "CHUNK#a#2", []byte(`{}`), now).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	err := store.BatchPut(context.Background(), []crawler.Item{
		{PartitionKey: "KB#1", SortKey: "CHUNK#a#1"},
		{PartitionKey: "KB#1", SortKey: "CHUNK#a#2"},
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestBatchPutRollsBackOnError(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	now := time.Unix(1700000000, 0).UTC()
	store.now = func() time.Time { return now }

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO kv_items").
		WithArgs("KB#1", "CHUNK#a#1", []byte(`{}`), now).
		WillReturnError(errors.New("disk full"))
	mock.ExpectRollback()

	err := store.BatchPut(context.Background(), []crawler.Item{{PartitionKey: "KB#1", SortKey: "CHUNK#a#1"}})
	require.ErrorContains(t, err, "disk full")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetMapsNoRowsToNotFound(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectQuery("SELECT data, updated_at FROM kv_items").
		WithArgs("JOB#missing", "META").
		WillReturnError(pgx.ErrNoRows)

	_, err := store.Get(context.Background(), "JOB#missing", "META")
	require.ErrorIs(t, err, crawler.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetReturnsItem(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	now := time.Unix(1700000000, 0).UTC()
	mock.ExpectQuery("SELECT data, updated_at FROM kv_items").
		WithArgs("KB#1", "META").
		WillReturnRows(pgxmock.NewRows([]string{"data", "updated_at"}).AddRow([]byte(`{"name":"docs"}`), now))

	item, err := store.Get(context.Background(), "KB#1", "META")
	require.NoError(t, err)
	require.Equal(t, `{"name":"docs"}`, string(item.Data))
	require.Equal(t, now, item.UpdatedAt)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestQueryByPrefix(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	now := time.Unix(1700000000, 0).UTC()
	mock.ExpectQuery("SELECT sort_key, data, updated_at FROM kv_items").
		WithArgs("JOB#1", "STEP#").
		WillReturnRows(pgxmock.NewRows([]string{"sort_key", "data", "updated_at"}).
			AddRow("STEP#1", []byte(`{}`), now).
			AddRow("STEP#2", []byte(`{}`), now))

	items, err := store.Query(context.Background(), "JOB#1", "STEP#")
	require.NoError(t, err)
	require.Len(t, items, 2)
	require.Equal(t, "STEP#1", items[0].SortKey)
	require.Equal(t, "JOB#1", items[1].PartitionKey)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDeleteAll(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectExec("DELETE FROM kv_items").
		WithArgs("KB#1").
		WillReturnResult(pgxmock.NewResult("DELETE", 7))

	require.NoError(t, store.DeleteAll(context.Background(), "KB#1"))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMigrateURL(t *testing.T) {
	t.Parallel()

	require.Equal(t, "pgx5://u:p@db:5432/kb", migrateURL("postgres://u:p@db:5432/kb"))
	require.Equal(t, "pgx5://db/kb", migrateURL("postgresql://db/kb"))
	require.Equal(t, "pgx5://db/kb", migrateURL("pgx5://db/kb"))
}

func TestPingReportsPoolError(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()
	store, err := NewKVStoreWithPool(mock, "kv_items")
	require.NoError(t, err)

	mock.ExpectPing().WillReturnError(errors.New("connection refused"))
	err = store.Ping(context.Background())
	require.ErrorContains(t, err, "connection refused")
	require.NoError(t, mock.ExpectationsWereMet())
}
