package worker

import (
	"context"
	"fmt"
	"path"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/JakeFAU/kb-crawler/internal/crawler"
	"github.com/JakeFAU/kb-crawler/internal/hash/sha256"
	"github.com/JakeFAU/kb-crawler/internal/progress"
)

// pageResult collects what one page produced.
type pageResult struct {
	page       crawler.CrawledPage
	chunks     int
	embeddings int
	skipped    bool
}

// processURL runs the pipeline for urls[index]. Page failures, panics
// included, are recorded and swallowed; only context errors are returned.
func (r *run) processURL(ctx context.Context, index int) error {
	u := r.urls[index]
	ctx, span := r.w.tracer.Start(ctx, "worker.page", trace.WithAttributes(
		attribute.String("page.url", u.URL),
		attribute.Int("page.index", index),
	))
	defer span.End()

	begin := r.w.deps.Clock.Now()
	res, err := r.safeIngest(ctx, u)
	elapsed := r.w.deps.Clock.Now().Sub(begin).Milliseconds()
	r.job.Timing.ProcessingMs += elapsed

	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		r.pageFailed(ctx, u, elapsed, err)
	} else {
		if res.skipped {
			r.job.Progress.SkippedURLs++
		}
		r.job.Progress.RecordSuccess(res.chunks, res.embeddings)
	}
	r.emit(progress.Event{
		Type:      progress.JobProgressed,
		URL:       u.URL,
		URLIndex:  index + 1,
		TotalURLs: len(r.urls),
		Progress:  r.snapshot(),
	})
	return nil
}

func (r *run) safeIngest(ctx context.Context, u crawler.DiscoveredURL) (res pageResult, err error) {
	defer func() {
		if p := recover(); p != nil {
			r.logger.Error("page pipeline panicked", zap.String("url", u.URL), zap.Any("panic", p))
			err = fmt.Errorf("panic processing %s: %v", u.URL, p)
		}
	}()
	return r.ingest(ctx, u)
}

func (r *run) pageFailed(ctx context.Context, u crawler.DiscoveredURL, elapsed int64, err error) {
	r.job.Progress.RecordFailure()
	r.logger.Warn("page failed", zap.String("url", u.URL), zap.Error(err))
	page := crawler.CrawledPage{
		JobID:      r.job.JobID,
		KBID:       r.job.KBID,
		URL:        u.URL,
		DurationMs: elapsed,
		Error:      err.Error(),
		FetchedAt:  r.w.deps.Clock.Now(),
	}
	if saveErr := r.w.deps.Repo.SavePage(ctx, page); saveErr != nil {
		r.logger.Warn("record failed page", zap.String("url", u.URL), zap.Error(saveErr))
	}
	r.step(ctx, crawler.CrawlStep{StepType: crawler.StepPageError, URL: u.URL, DurationMs: &elapsed, Details: map[string]any{
		"error": err.Error(),
	}})
	r.emit(progress.Event{Type: progress.PageError, URL: u.URL, DurationMs: elapsed, Error: err.Error()})
}

// ingest runs fetch, parse, chunk, embed, and ingest for one URL.
func (r *run) ingest(ctx context.Context, u crawler.DiscoveredURL) (pageResult, error) {
	clock := r.w.deps.Clock
	page := crawler.CrawledPage{JobID: r.job.JobID, KBID: r.job.KBID, URL: u.URL}
	pageStart := clock.Now()

	r.emit(progress.Event{Type: progress.PageFetchStart, URL: u.URL, Depth: u.Depth})
	t := clock.Now()
	resp, err := r.w.deps.Fetcher.Fetch(ctx, crawler.FetchRequest{URL: u.URL})
	if err != nil {
		return pageResult{}, fmt.Errorf("fetch: %w", err)
	}
	if resp.StatusCode >= 400 {
		return pageResult{}, fmt.Errorf("fetch: http status %d", resp.StatusCode)
	}
	ms := since(clock, t)
	page.StatusCode = resp.StatusCode
	page.FetchedAt = clock.Now()
	r.stage(ctx, crawler.StepFetch, progress.PageFetchComplete, u.URL, ms,
		map[string]any{"status_code": resp.StatusCode, "bytes": len(resp.Body)},
		progress.Event{StatusCode: resp.StatusCode, Bytes: len(resp.Body)})

	t = clock.Now()
	content, err := r.w.extractor.Extract(resp)
	if err != nil {
		return pageResult{}, fmt.Errorf("extract: %w", err)
	}
	if content.URL == "" {
		content.URL = u.URL
	}
	words := 0
	for _, s := range content.Sections {
		words += s.WordCount
	}
	page.Title = content.Title
	page.Description = content.Description
	page.WordCount = words
	ms = since(clock, t)
	r.stage(ctx, crawler.StepParse, progress.PageParseComplete, u.URL, ms,
		map[string]any{"sections": len(content.Sections), "words": words},
		progress.Event{Sections: len(content.Sections), Words: words})

	if content.Empty() {
		page.DurationMs = since(clock, pageStart)
		if err := r.w.deps.Repo.SavePage(ctx, page); err != nil {
			return pageResult{}, fmt.Errorf("save page: %w", err)
		}
		r.logger.Debug("page has no content", zap.String("url", u.URL), zap.String("content_type", resp.ContentType))
		r.emit(progress.Event{Type: progress.URLSkipped, URL: u.URL, Reason: progress.SkipNoContent})
		r.step(ctx, crawler.CrawlStep{StepType: crawler.StepURLSkipped, URL: u.URL, Details: map[string]any{
			"reason": progress.SkipNoContent,
		}})
		return pageResult{page: page, skipped: true}, nil
	}

	if r.w.deps.Hasher != nil {
		if digest, err := r.w.deps.Hasher.Hash([]byte(content.Text)); err == nil {
			page.ContentHash = digest
		}
	}

	t = clock.Now()
	chunks := r.strategy.Chunk(content)
	ms = since(clock, t)
	r.stage(ctx, crawler.StepChunk, progress.PageChunkComplete, u.URL, ms,
		map[string]any{"chunks": len(chunks), "strategy": r.strategy.Name()},
		progress.Event{Chunks: len(chunks)})

	t = clock.Now()
	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Content
	}
	var vectors [][]float32
	if len(texts) > 0 {
		vectors, err = r.w.deps.Embedder.EmbedTexts(ctx, texts)
		if err != nil {
			return pageResult{}, fmt.Errorf("embed: %w", err)
		}
		if len(vectors) != len(texts) {
			return pageResult{}, fmt.Errorf("embed: got %d vectors for %d chunks", len(vectors), len(texts))
		}
	}
	ms = since(clock, t)
	r.stage(ctx, crawler.StepEmbed, progress.PageEmbedComplete, u.URL, ms,
		map[string]any{"embeddings": len(vectors)},
		progress.Event{Embeddings: len(vectors)})

	t = clock.Now()
	records, points := r.buildRecords(chunks, vectors, clock.Now())
	if err := r.w.deps.Repo.SaveChunks(ctx, records); err != nil {
		return pageResult{}, fmt.Errorf("save chunks: %w", err)
	}
	if len(points) > 0 {
		if err := r.w.deps.Index.Upsert(ctx, r.job.KBID, points); err != nil {
			return pageResult{}, fmt.Errorf("upsert vectors: %w", err)
		}
	}
	if r.w.cfg.ArchiveHTML && r.w.deps.Blobs != nil {
		page.BlobURI = r.archive(ctx, u.URL, resp)
	}
	page.ChunkCount = len(records)
	page.DurationMs = since(clock, pageStart)
	if err := r.w.deps.Repo.SavePage(ctx, page); err != nil {
		return pageResult{}, fmt.Errorf("save page: %w", err)
	}
	ms = since(clock, t)
	r.stage(ctx, crawler.StepIngest, progress.PageIngestComplete, u.URL, ms,
		map[string]any{"chunks": len(records), "vectors": len(points)},
		progress.Event{Chunks: len(records), Embeddings: len(points)})

	return pageResult{page: page, chunks: len(records), embeddings: len(points)}, nil
}

// buildRecords assigns stable ids and links each chunk to its parent's
// stable id.
func (r *run) buildRecords(chunks []crawler.ChunkData, vectors [][]float32, now time.Time) ([]crawler.ContentChunk, []crawler.Vector) {
	kbID := r.job.KBID
	stable := make(map[string]string, len(chunks))
	for _, c := range chunks {
		stable[c.ChunkID] = sha256.ChunkID(kbID, c.SourceURL, c.ChunkIndex, c.Level)
	}

	records := make([]crawler.ContentChunk, 0, len(chunks))
	points := make([]crawler.Vector, 0, len(vectors))
	for i, c := range chunks {
		rec := crawler.ContentChunk{
			ID:         stable[c.ChunkID],
			ParentID:   stable[c.ParentID],
			KBID:       kbID,
			JobID:      r.job.JobID,
			SourceURL:  c.SourceURL,
			PageTitle:  c.PageTitle,
			Heading:    c.Heading,
			Level:      c.Level,
			ChunkIndex: c.ChunkIndex,
			Content:    c.Content,
			WordCount:  c.WordCount,
			TopicShift: c.TopicShift,
			CreatedAt:  now,
		}
		records = append(records, rec)
		if i >= len(vectors) {
			continue
		}
		meta := map[string]string{
			"kb_id":       kbID,
			"job_id":      r.job.JobID,
			"source_url":  rec.SourceURL,
			"page_title":  rec.PageTitle,
			"chunk_index": strconv.Itoa(rec.ChunkIndex),
			"level":       strconv.Itoa(rec.Level),
		}
		if rec.ParentID != "" {
			meta["parent_id"] = rec.ParentID
		}
		if rec.Heading != "" {
			meta["heading"] = rec.Heading
		}
		points = append(points, crawler.Vector{ID: rec.ID, Values: vectors[i], Metadata: meta})
	}
	return records, points
}

// archive stores the raw body; failures are logged and leave BlobURI empty.
func (r *run) archive(ctx context.Context, rawURL string, resp crawler.FetchResponse) string {
	objectPath := path.Join(strings.Trim(r.w.cfg.BlobPrefix, "/"), r.job.KBID, sha256.URLHash(rawURL)+".html")
	contentType := resp.ContentType
	if contentType == "" {
		contentType = "text/html; charset=utf-8"
	}
	uri, err := r.w.deps.Blobs.PutObject(ctx, objectPath, contentType, resp.Body)
	if err != nil {
		r.logger.Warn("archive page failed", zap.String("url", rawURL), zap.Error(err))
		return ""
	}
	return uri
}

// stage records the audit step and event for one completed pipeline stage.
func (r *run) stage(
	ctx context.Context,
	stepType crawler.StepType,
	eventType progress.Type,
	rawURL string,
	ms int64,
	details map[string]any,
	evt progress.Event,
) {
	r.step(ctx, crawler.CrawlStep{StepType: stepType, URL: rawURL, DurationMs: &ms, Details: details})
	evt.Type = eventType
	evt.URL = rawURL
	evt.DurationMs = ms
	r.emit(evt)
}

func since(clock crawler.Clock, t time.Time) int64 {
	d := clock.Now().Sub(t).Milliseconds()
	if d < 0 {
		return 0
	}
	return d
}
