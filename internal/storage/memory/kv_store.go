package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/JakeFAU/kb-crawler/internal/crawler"
)

// KVStore is an in-memory crawler.KVStore. Items are copied on the way in and
// on the way out so callers never share buffers with the store.
type KVStore struct {
	mu         sync.RWMutex
	partitions map[string]map[string]crawler.Item
}

// NewKVStore constructs an empty KVStore.
func NewKVStore() *KVStore {
	return &KVStore{partitions: make(map[string]map[string]crawler.Item)}
}

// Put inserts or replaces one item.
func (s *KVStore) Put(_ context.Context, item crawler.Item) error {
	if err := validate(item); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.put(item)
	return nil
}

// BatchPut writes all items or none of them.
func (s *KVStore) BatchPut(_ context.Context, items []crawler.Item) error {
	for _, item := range items {
		if err := validate(item); err != nil {
			return err
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, item := range items {
		s.put(item)
	}
	return nil
}

// Get returns the item stored under the key pair or crawler.ErrNotFound.
func (s *KVStore) Get(_ context.Context, partitionKey, sortKey string) (crawler.Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	item, ok := s.partitions[partitionKey][sortKey]
	if !ok {
		return crawler.Item{}, fmt.Errorf("get %s/%s: %w", partitionKey, sortKey, crawler.ErrNotFound)
	}
	return clone(item), nil
}

// Query returns the items of a partition whose sort key starts with the
// prefix, ordered by sort key.
func (s *KVStore) Query(_ context.Context, partitionKey, sortKeyPrefix string) ([]crawler.Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	partition := s.partitions[partitionKey]
	out := make([]crawler.Item, 0, len(partition))
	for sk, item := range partition {
		if strings.HasPrefix(sk, sortKeyPrefix) {
			out = append(out, clone(item))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SortKey < out[j].SortKey })
	return out, nil
}

// DeleteAll drops every item in the partition.
func (s *KVStore) DeleteAll(_ context.Context, partitionKey string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.partitions, partitionKey)
	return nil
}

func (s *KVStore) put(item crawler.Item) {
	partition, ok := s.partitions[item.PartitionKey]
	if !ok {
		partition = make(map[string]crawler.Item)
		s.partitions[item.PartitionKey] = partition
	}
	partition[item.SortKey] = clone(item)
}

func validate(item crawler.Item) error {
	if item.PartitionKey == "" || item.SortKey == "" {
		return fmt.Errorf("item requires partition and sort keys")
	}
	return nil
}

func clone(item crawler.Item) crawler.Item {
	item.Data = append([]byte(nil), item.Data...)
	return item
}
