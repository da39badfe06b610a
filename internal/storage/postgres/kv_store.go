// Package postgres provides the Postgres-backed key-value store.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/kb-crawler/internal/crawler"
	"github.com/JakeFAU/kb-crawler/internal/metrics"
)

const backendName = "postgres"

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// Config controls the Postgres connection pool used for KV items.
type Config struct {
	DSN             string        `mapstructure:"dsn"`
	Table           string        `mapstructure:"table"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
	Migrate         bool          `mapstructure:"migrate"`
}

// Pool is the subset of pgxpool.Pool used by KVStore. pgxmock pools satisfy it.
type Pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
	Ping(ctx context.Context) error
	Close()
}

// KVStore implements crawler.KVStore on a single Postgres table keyed by
// (partition_key, sort_key).
type KVStore struct {
	pool  Pool
	table string
	now   func() time.Time
}

// NewKVStore connects to Postgres using cfg and optionally applies migrations.
func NewKVStore(ctx context.Context, cfg Config) (*KVStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("kv.postgres.dsn is required")
	}
	if cfg.Migrate {
		if err := RunMigrations(cfg.DSN); err != nil {
			return nil, err
		}
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return NewKVStoreWithPool(pool, cfg.Table)
}

// NewKVStoreWithPool constructs a store from an existing pool (primarily for testing).
func NewKVStoreWithPool(pool Pool, table string) (*KVStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if table == "" {
		table = "kv_items"
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	return &KVStore{pool: pool, table: table, now: time.Now}, nil
}

// Ping checks connectivity.
func (s *KVStore) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return fmt.Errorf("ping postgres: %w", err)
	}
	return nil
}

// Close releases the underlying pool resources.
func (s *KVStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

func (s *KVStore) upsertSQL() string {
	return fmt.Sprintf(`INSERT INTO %s (partition_key, sort_key, data, updated_at)
VALUES ($1, $2, $3, $4)
ON CONFLICT (partition_key, sort_key) DO UPDATE
SET data = EXCLUDED.data, updated_at = EXCLUDED.updated_at`, s.table)
}

// Put inserts or replaces one item.
func (s *KVStore) Put(ctx context.Context, item crawler.Item) error {
	start := time.Now()
	defer func() { metrics.ObserveStoreWrite(backendName, "put", time.Since(start)) }()

	if err := validateItem(item); err != nil {
		return err
	}
	if _, err := s.pool.Exec(ctx, s.upsertSQL(), s.args(item)...); err != nil {
		return fmt.Errorf("put %s/%s: %w", item.PartitionKey, item.SortKey, err)
	}
	return nil
}

// BatchPut writes all items in one transaction.
func (s *KVStore) BatchPut(ctx context.Context, items []crawler.Item) (err error) {
	if len(items) == 0 {
		return nil
	}
	start := time.Now()
	defer func() { metrics.ObserveStoreWrite(backendName, "batch_put", time.Since(start)) }()

	for _, item := range items {
		if err := validateItem(item); err != nil {
			return err
		}
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin batch: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()
	query := s.upsertSQL()
	for _, item := range items {
		if _, err = tx.Exec(ctx, query, s.args(item)...); err != nil {
			return fmt.Errorf("batch put %s/%s: %w", item.PartitionKey, item.SortKey, err)
		}
	}
	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit batch: %w", err)
	}
	return nil
}

// Get returns one item or crawler.ErrNotFound.
func (s *KVStore) Get(ctx context.Context, partitionKey, sortKey string) (crawler.Item, error) {
	query := fmt.Sprintf(`SELECT data, updated_at FROM %s WHERE partition_key = $1 AND sort_key = $2`, s.table)
	item := crawler.Item{PartitionKey: partitionKey, SortKey: sortKey}
	err := s.pool.QueryRow(ctx, query, partitionKey, sortKey).Scan(&item.Data, &item.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return crawler.Item{}, fmt.Errorf("get %s/%s: %w", partitionKey, sortKey, crawler.ErrNotFound)
		}
		return crawler.Item{}, fmt.Errorf("get %s/%s: %w", partitionKey, sortKey, err)
	}
	return item, nil
}

// Query returns the partition's items whose sort key starts with the prefix,
// ordered by sort key.
func (s *KVStore) Query(ctx context.Context, partitionKey, sortKeyPrefix string) ([]crawler.Item, error) {
	query := fmt.Sprintf(`SELECT sort_key, data, updated_at FROM %s
WHERE partition_key = $1 AND starts_with(sort_key, $2)
ORDER BY sort_key`, s.table)
	rows, err := s.pool.Query(ctx, query, partitionKey, sortKeyPrefix)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", partitionKey, err)
	}
	defer rows.Close()

	var items []crawler.Item
	for rows.Next() {
		item := crawler.Item{PartitionKey: partitionKey}
		if err := rows.Scan(&item.SortKey, &item.Data, &item.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan %s: %w", partitionKey, err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate %s: %w", partitionKey, err)
	}
	return items, nil
}

// DeleteAll removes every item in the partition.
func (s *KVStore) DeleteAll(ctx context.Context, partitionKey string) error {
	start := time.Now()
	defer func() { metrics.ObserveStoreWrite(backendName, "delete_all", time.Since(start)) }()

	query := fmt.Sprintf(`DELETE FROM %s WHERE partition_key = $1`, s.table)
	if _, err := s.pool.Exec(ctx, query, partitionKey); err != nil {
		return fmt.Errorf("delete partition %s: %w", partitionKey, err)
	}
	return nil
}

func (s *KVStore) args(item crawler.Item) []any {
	data := item.Data
	if len(data) == 0 {
		data = []byte("{}")
	}
	updated := item.UpdatedAt
	if updated.IsZero() {
		updated = s.now().UTC()
	}
	return []any{item.PartitionKey, item.SortKey, data, updated}
}

func validateItem(item crawler.Item) error {
	if item.PartitionKey == "" || item.SortKey == "" {
		return fmt.Errorf("item requires partition and sort keys")
	}
	return nil
}
