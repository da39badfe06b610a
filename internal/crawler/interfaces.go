package crawler

import (
	"context"
	"time"
)

// Fetcher fetches a URL and returns the body plus metadata.
type Fetcher interface {
	Fetch(ctx context.Context, request FetchRequest) (FetchResponse, error)
}

// KVStore is the storage collaborator. Items sharing a partition key are
// returned in sort-key order.
type KVStore interface {
	Put(ctx context.Context, item Item) error
	BatchPut(ctx context.Context, items []Item) error
	Get(ctx context.Context, partitionKey, sortKey string) (Item, error)
	Query(ctx context.Context, partitionKey, sortKeyPrefix string) ([]Item, error)
	DeleteAll(ctx context.Context, partitionKey string) error
}

// VectorIndex stores embeddings per namespace.
type VectorIndex interface {
	Upsert(ctx context.Context, namespace string, vectors []Vector) error
	DeleteNamespace(ctx context.Context, namespace string) error
}

// Embedder turns texts into vectors. Implementations return one vector per
// input in input order and substitute a zero vector for any text that fails.
type Embedder interface {
	EmbedTexts(ctx context.Context, texts []string) ([][]float32, error)
	Dimensions() int
}

// ContinuationScheduler asks the host environment to re-invoke a job.
type ContinuationScheduler interface {
	ScheduleContinuation(ctx context.Context, req ContinuationRequest) error
}

// BlobStore writes raw artifacts and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data []byte) (string, error)
}

// JobLocker provides mutual exclusion for job executions.
type JobLocker interface {
	Acquire(ctx context.Context, jobID string, ttl time.Duration) (release func(context.Context) error, err error)
}

// Publisher pushes messages to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Queue provides enqueue/dequeue semantics for job executions.
type Queue interface {
	Enqueue(ctx context.Context, item QueueItem) error
	Dequeue(ctx context.Context) (QueueItem, error)
}

// Hasher computes digests for page content.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// Pauser sleeps for a delay unless the context ends first.
type Pauser interface {
	Pause(ctx context.Context, delay time.Duration) error
}

// IDGenerator produces job and knowledge-base IDs.
type IDGenerator interface {
	NewID() (string, error)
}

// QueueItem wraps a job execution request.
type QueueItem struct {
	JobID     string `json:"job_id"`
	KBID      string `json:"kb_id"`
	Owner     string `json:"owner"`
	Attempt   int    `json:"attempt"`
	Submitted int64  `json:"submitted"`
}
