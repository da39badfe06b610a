package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/JakeFAU/kb-crawler/internal/crawler"
)

// batchSize bounds the number of items handed to one BatchPut call.
const batchSize = 100

// Repository reads and writes typed crawler records.
type Repository struct {
	kv    crawler.KVStore
	clock crawler.Clock
	seq   atomic.Int64
}

// New constructs a Repository over kv.
func New(kv crawler.KVStore, clock crawler.Clock) *Repository {
	return &Repository{kv: kv, clock: clock}
}

// SaveKnowledgeBase writes the knowledge base metadata record.
func (r *Repository) SaveKnowledgeBase(ctx context.Context, kb crawler.KnowledgeBase) error {
	return r.put(ctx, KBPartition(kb.KBID), SortKeyMeta, kb)
}

// GetKnowledgeBase loads a knowledge base or returns crawler.ErrNotFound.
func (r *Repository) GetKnowledgeBase(ctx context.Context, kbID string) (crawler.KnowledgeBase, error) {
	var kb crawler.KnowledgeBase
	if err := r.get(ctx, KBPartition(kbID), SortKeyMeta, &kb); err != nil {
		return crawler.KnowledgeBase{}, fmt.Errorf("load knowledge base %s: %w", kbID, err)
	}
	return kb, nil
}

// SaveJob writes the job record, replacing any previous version.
func (r *Repository) SaveJob(ctx context.Context, job crawler.CrawlJob) error {
	return r.put(ctx, JobPartition(job.JobID), SortKeyMeta, job)
}

// GetJob loads a job or returns crawler.ErrNotFound.
func (r *Repository) GetJob(ctx context.Context, jobID string) (crawler.CrawlJob, error) {
	var job crawler.CrawlJob
	if err := r.get(ctx, JobPartition(jobID), SortKeyMeta, &job); err != nil {
		return crawler.CrawlJob{}, fmt.Errorf("load job %s: %w", jobID, err)
	}
	return job, nil
}

// SavePage records a processed page under its job. Pages that were ingested
// without error are also indexed under their knowledge base; a failed fetch
// leaves any earlier index entry, and the chunks it describes, untouched.
func (r *Repository) SavePage(ctx context.Context, page crawler.CrawledPage) error {
	jobItem, err := r.item(JobPartition(page.JobID), PageSortKey(page.URL), page)
	if err != nil {
		return err
	}
	items := []crawler.Item{jobItem}
	if page.Error == "" {
		kbItem, err := r.item(KBPartition(page.KBID), PageSortKey(page.URL), page)
		if err != nil {
			return err
		}
		items = append(items, kbItem)
	}
	if err := r.kv.BatchPut(ctx, items); err != nil {
		return fmt.Errorf("save page %s: %w", page.URL, err)
	}
	return nil
}

// ListPages returns the pages recorded for a job.
func (r *Repository) ListPages(ctx context.Context, jobID string) ([]crawler.CrawledPage, error) {
	return list[crawler.CrawledPage](ctx, r.kv, JobPartition(jobID), PrefixPage)
}

// SaveChunks writes chunk records under their knowledge base. Records keyed
// by the same stable id are overwritten.
func (r *Repository) SaveChunks(ctx context.Context, chunks []crawler.ContentChunk) error {
	items := make([]crawler.Item, 0, len(chunks))
	for _, chunk := range chunks {
		item, err := r.item(KBPartition(chunk.KBID), ChunkSortKey(chunk.SourceURL, chunk.ID), chunk)
		if err != nil {
			return err
		}
		items = append(items, item)
	}
	for start := 0; start < len(items); start += batchSize {
		end := min(start+batchSize, len(items))
		if err := r.kv.BatchPut(ctx, items[start:end]); err != nil {
			return fmt.Errorf("save chunks: %w", err)
		}
	}
	return nil
}

// ListChunks returns a knowledge base's chunks, optionally limited to one page.
func (r *Repository) ListChunks(ctx context.Context, kbID, sourceURL string) ([]crawler.ContentChunk, error) {
	prefix := PrefixChunk
	if sourceURL != "" {
		prefix = ChunkPrefix(sourceURL)
	}
	return list[crawler.ContentChunk](ctx, r.kv, KBPartition(kbID), prefix)
}

// AppendStep writes an audit step. Steps are never rewritten.
func (r *Repository) AppendStep(ctx context.Context, step crawler.CrawlStep) error {
	if step.CreatedAt.IsZero() {
		step.CreatedAt = r.clock.Now()
	}
	return r.put(ctx, JobPartition(step.JobID), StepSortKey(step.CreatedAt, r.seq.Add(1)), step)
}

// ListSteps returns a job's audit steps in creation order.
func (r *Repository) ListSteps(ctx context.Context, jobID string) ([]crawler.CrawlStep, error) {
	return list[crawler.CrawlStep](ctx, r.kv, JobPartition(jobID), PrefixStep)
}

// RecomputeKnowledgeBaseStats counts the pages and chunks stored under a
// knowledge base and saves the totals. Counting instead of incrementing keeps
// repeated crawls of the same pages from inflating the numbers.
func (r *Repository) RecomputeKnowledgeBaseStats(ctx context.Context, kbID string, crawledAt time.Time) (crawler.KnowledgeBase, error) {
	kb, err := r.GetKnowledgeBase(ctx, kbID)
	if err != nil {
		return crawler.KnowledgeBase{}, err
	}
	pages, err := r.kv.Query(ctx, KBPartition(kbID), PrefixPage)
	if err != nil {
		return crawler.KnowledgeBase{}, fmt.Errorf("count pages: %w", err)
	}
	chunks, err := r.kv.Query(ctx, KBPartition(kbID), PrefixChunk)
	if err != nil {
		return crawler.KnowledgeBase{}, fmt.Errorf("count chunks: %w", err)
	}
	kb.PageCount = len(pages)
	kb.ChunkCount = len(chunks)
	kb.VectorCount = len(chunks)
	kb.LastCrawledAt = &crawledAt
	kb.UpdatedAt = crawledAt
	if err := r.SaveKnowledgeBase(ctx, kb); err != nil {
		return crawler.KnowledgeBase{}, err
	}
	return kb, nil
}

// DeleteKnowledgeBase removes every record in the knowledge base partition
// and, when index is set, its vector namespace.
func (r *Repository) DeleteKnowledgeBase(ctx context.Context, kbID string, index crawler.VectorIndex) error {
	if err := r.kv.DeleteAll(ctx, KBPartition(kbID)); err != nil {
		return fmt.Errorf("delete knowledge base %s: %w", kbID, err)
	}
	if index != nil {
		if err := index.DeleteNamespace(ctx, kbID); err != nil {
			return fmt.Errorf("delete vector namespace %s: %w", kbID, err)
		}
	}
	return nil
}

func (r *Repository) put(ctx context.Context, pk, sk string, v any) error {
	item, err := r.item(pk, sk, v)
	if err != nil {
		return err
	}
	if err := r.kv.Put(ctx, item); err != nil {
		return fmt.Errorf("put %s/%s: %w", pk, sk, err)
	}
	return nil
}

func (r *Repository) item(pk, sk string, v any) (crawler.Item, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return crawler.Item{}, fmt.Errorf("encode %s/%s: %w", pk, sk, err)
	}
	return crawler.Item{PartitionKey: pk, SortKey: sk, Data: data, UpdatedAt: r.clock.Now()}, nil
}

func (r *Repository) get(ctx context.Context, pk, sk string, v any) error {
	item, err := r.kv.Get(ctx, pk, sk)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(item.Data, v); err != nil {
		return fmt.Errorf("decode %s/%s: %w", pk, sk, err)
	}
	return nil
}

func list[T any](ctx context.Context, kv crawler.KVStore, pk, prefix string) ([]T, error) {
	items, err := kv.Query(ctx, pk, prefix)
	if err != nil {
		return nil, fmt.Errorf("query %s/%s: %w", pk, prefix, err)
	}
	out := make([]T, 0, len(items))
	for _, item := range items {
		var v T
		if err := json.Unmarshal(item.Data, &v); err != nil {
			return nil, fmt.Errorf("decode %s/%s: %w", pk, item.SortKey, err)
		}
		out = append(out, v)
	}
	return out, nil
}
