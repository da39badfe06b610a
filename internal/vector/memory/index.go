// Package memory provides an in-process vector index for development and tests.
package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/JakeFAU/kb-crawler/internal/crawler"
)

// Index stores vectors per namespace in memory.
type Index struct {
	mu         sync.RWMutex
	namespaces map[string]map[string]crawler.Vector
}

// New constructs an empty Index.
func New() *Index {
	return &Index{namespaces: make(map[string]map[string]crawler.Vector)}
}

// Upsert writes vectors, replacing any with the same id.
func (i *Index) Upsert(_ context.Context, namespace string, vectors []crawler.Vector) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	ns, ok := i.namespaces[namespace]
	if !ok {
		ns = make(map[string]crawler.Vector)
		i.namespaces[namespace] = ns
	}
	for _, v := range vectors {
		v.Values = append([]float32(nil), v.Values...)
		ns[v.ID] = v
	}
	return nil
}

// DeleteNamespace drops every vector in namespace.
func (i *Index) DeleteNamespace(_ context.Context, namespace string) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	delete(i.namespaces, namespace)
	return nil
}

// Vectors returns the namespace's vectors ordered by id.
func (i *Index) Vectors(namespace string) []crawler.Vector {
	i.mu.RLock()
	defer i.mu.RUnlock()
	out := make([]crawler.Vector, 0, len(i.namespaces[namespace]))
	for _, v := range i.namespaces[namespace] {
		out = append(out, v)
	}
	sort.Slice(out, func(a, b int) bool { return out[a].ID < out[b].ID })
	return out
}
