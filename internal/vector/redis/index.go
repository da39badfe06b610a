// Package redis stores embeddings in Redis hashes grouped by namespace.
//
// Each vector lives at "<prefix>:<namespace>:v:<id>" with the packed float32
// values in the "values" field and metadata in "meta:<key>" fields. A set at
// "<prefix>:<namespace>:ids" tracks members so a namespace can be dropped
// without SCAN.
package redis

import (
	"context"
	"encoding/binary"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/JakeFAU/kb-crawler/internal/crawler"
	"github.com/JakeFAU/kb-crawler/internal/metrics"
)

const deleteBatch = 500

// Config selects the Redis instance and key prefix.
type Config struct {
	URL       string `mapstructure:"url"`
	KeyPrefix string `mapstructure:"key_prefix"`
}

// Index implements crawler.VectorIndex on Redis.
type Index struct {
	client redis.UniversalClient
	prefix string
}

// New connects to the Redis instance named by cfg.URL.
func New(cfg Config) (*Index, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	return NewWithClient(redis.NewClient(opts), cfg.KeyPrefix), nil
}

// NewWithClient wraps an existing client.
func NewWithClient(client redis.UniversalClient, prefix string) *Index {
	if prefix == "" {
		prefix = "kbvec"
	}
	return &Index{client: client, prefix: prefix}
}

// Ping checks connectivity.
func (i *Index) Ping(ctx context.Context) error {
	if err := i.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("ping redis: %w", err)
	}
	return nil
}

// Close releases the client.
func (i *Index) Close() error {
	return i.client.Close()
}

// Upsert writes vectors in one transaction pipeline.
func (i *Index) Upsert(ctx context.Context, namespace string, vectors []crawler.Vector) error {
	if len(vectors) == 0 {
		return nil
	}
	start := time.Now()
	defer func() { metrics.ObserveStoreWrite("redis", "vector_upsert", time.Since(start)) }()

	pipe := i.client.TxPipeline()
	ids := make([]any, 0, len(vectors))
	for _, v := range vectors {
		key := i.vectorKey(namespace, v.ID)
		pipe.Del(ctx, key)
		pipe.HSet(ctx, key, fields(v)...)
		ids = append(ids, v.ID)
	}
	pipe.SAdd(ctx, i.idsKey(namespace), ids...)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("upsert %d vectors into %s: %w", len(vectors), namespace, err)
	}
	return nil
}

// DeleteNamespace removes every vector of namespace and its member set.
func (i *Index) DeleteNamespace(ctx context.Context, namespace string) error {
	ids, err := i.client.SMembers(ctx, i.idsKey(namespace)).Result()
	if err != nil {
		return fmt.Errorf("list namespace %s: %w", namespace, err)
	}
	for start := 0; start < len(ids); start += deleteBatch {
		end := min(start+deleteBatch, len(ids))
		keys := make([]string, 0, end-start)
		for _, id := range ids[start:end] {
			keys = append(keys, i.vectorKey(namespace, id))
		}
		if err := i.client.Del(ctx, keys...).Err(); err != nil {
			return fmt.Errorf("delete vectors in %s: %w", namespace, err)
		}
	}
	if err := i.client.Del(ctx, i.idsKey(namespace)).Err(); err != nil {
		return fmt.Errorf("delete namespace %s: %w", namespace, err)
	}
	return nil
}

// Get loads one vector.
func (i *Index) Get(ctx context.Context, namespace, id string) (crawler.Vector, error) {
	values, err := i.client.HGetAll(ctx, i.vectorKey(namespace, id)).Result()
	if err != nil {
		return crawler.Vector{}, fmt.Errorf("get vector %s: %w", id, err)
	}
	if len(values) == 0 {
		return crawler.Vector{}, fmt.Errorf("get vector %s: %w", id, crawler.ErrNotFound)
	}
	v := crawler.Vector{ID: id, Values: decode([]byte(values["values"]))}
	for field, value := range values {
		if key, ok := strings.CutPrefix(field, "meta:"); ok {
			if v.Metadata == nil {
				v.Metadata = make(map[string]string)
			}
			v.Metadata[key] = value
		}
	}
	return v, nil
}

// Count returns the number of vectors in namespace.
func (i *Index) Count(ctx context.Context, namespace string) (int64, error) {
	n, err := i.client.SCard(ctx, i.idsKey(namespace)).Result()
	if err != nil {
		return 0, fmt.Errorf("count %s: %w", namespace, err)
	}
	return n, nil
}

func (i *Index) vectorKey(namespace, id string) string {
	return i.prefix + ":" + namespace + ":v:" + id
}

func (i *Index) idsKey(namespace string) string {
	return i.prefix + ":" + namespace + ":ids"
}

func fields(v crawler.Vector) []any {
	out := make([]any, 0, 2+2*len(v.Metadata))
	out = append(out, "values", encode(v.Values))
	for k, val := range v.Metadata {
		out = append(out, "meta:"+k, val)
	}
	return out
}

func encode(values []float32) []byte {
	buf := make([]byte, 4*len(values))
	for i, f := range values {
		binary.LittleEndian.PutUint32(buf[4*i:], math.Float32bits(f))
	}
	return buf
}

func decode(buf []byte) []float32 {
	out := make([]float32, len(buf)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[4*i:]))
	}
	return out
}
