// Package crawler defines core types shared across subsystems.
package crawler

import (
	"time"
)

// JobStatus represents the lifecycle state of a crawl job.
type JobStatus string

// Job status values persisted in the job store.
const (
	JobStatusPending    JobStatus = "pending"
	JobStatusInProgress JobStatus = "in_progress"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
)

// Terminal reports whether no further execution may change the job.
func (s JobStatus) Terminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// SourceType selects the discovery strategy for a job.
type SourceType string

// Supported discovery sources.
const (
	SourceSitemap SourceType = "sitemap"
	SourceURL     SourceType = "url"
)

// DiscoverySource tags where a URL came from.
type DiscoverySource string

// Discovery sources recorded on DiscoveredURL.
const (
	DiscoveredBySitemap DiscoverySource = "sitemap"
	DiscoveredByCrawl   DiscoverySource = "crawl"
)

// JobConfig captures the per-job knobs requested by the client.
type JobConfig struct {
	SourceType       SourceType `json:"source_type" mapstructure:"source_type"`
	SourceURL        string     `json:"source_url" mapstructure:"source_url"`
	MaxPages         int        `json:"max_pages" mapstructure:"max_pages"`
	MaxDepth         int        `json:"max_depth" mapstructure:"max_depth"`
	RateLimitMs      int        `json:"rate_limit_ms" mapstructure:"rate_limit_ms"`
	ChunkingStrategy string     `json:"chunking_strategy" mapstructure:"chunking_strategy"`
	SameDomainOnly   bool       `json:"same_domain_only" mapstructure:"same_domain_only"`
}

// JobProgress tracks URL and chunk counters for a job.
// ProcessedURLs always equals SuccessfulURLs + FailedURLs.
type JobProgress struct {
	DiscoveredURLs  int `json:"discovered_urls"`
	ProcessedURLs   int `json:"processed_urls"`
	SuccessfulURLs  int `json:"successful_urls"`
	FailedURLs      int `json:"failed_urls"`
	SkippedURLs     int `json:"skipped_urls"`
	TotalChunks     int `json:"total_chunks"`
	TotalEmbeddings int `json:"total_embeddings"`
}

// RecordSuccess counts one processed page that was ingested.
func (p *JobProgress) RecordSuccess(chunks, embeddings int) {
	p.ProcessedURLs++
	p.SuccessfulURLs++
	p.TotalChunks += chunks
	p.TotalEmbeddings += embeddings
}

// RecordFailure counts one processed page that failed.
func (p *JobProgress) RecordFailure() {
	p.ProcessedURLs++
	p.FailedURLs++
}

// Checkpoint is the durable snapshot that lets a job resume after its
// execution budget runs out.
type Checkpoint struct {
	CurrentURLIndex int             `json:"current_url_index"`
	PendingURLs     []DiscoveredURL `json:"pending_urls"`
	Progress        JobProgress     `json:"progress"`
	ProcessingMs    int64           `json:"processing_ms"`
	SavedAt         time.Time       `json:"saved_at"`
}

// JobTiming records wall-clock data for a job.
type JobTiming struct {
	StartedAt         *time.Time `json:"started_at,omitempty"`
	CompletedAt       *time.Time `json:"completed_at,omitempty"`
	TotalDurationMs   int64      `json:"total_duration_ms"`
	AvgPageDurationMs int64      `json:"avg_page_duration_ms"`
	ProcessingMs      int64      `json:"processing_ms"`
}

// CrawlJob is the persisted state of one crawl. It is mutated only by the
// worker that currently owns it.
type CrawlJob struct {
	JobID        string      `json:"job_id"`
	KBID         string      `json:"kb_id"`
	Owner        string      `json:"owner"`
	Status       JobStatus   `json:"status"`
	Config       JobConfig   `json:"config"`
	Progress     JobProgress `json:"progress"`
	Checkpoint   *Checkpoint `json:"checkpoint,omitempty"`
	Timing       JobTiming   `json:"timing"`
	ErrorMessage string      `json:"error_message,omitempty"`
	Invocations  int         `json:"invocations"`
	CreatedAt    time.Time   `json:"created_at"`
	UpdatedAt    time.Time   `json:"updated_at"`
}

// KnowledgeBase is a collection of ingested content with its own vector namespace.
type KnowledgeBase struct {
	KBID          string     `json:"kb_id"`
	Owner         string     `json:"owner"`
	Name          string     `json:"name"`
	PageCount     int        `json:"page_count"`
	ChunkCount    int        `json:"chunk_count"`
	VectorCount   int        `json:"vector_count"`
	LastCrawledAt *time.Time `json:"last_crawled_at,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// DiscoveredURL is one URL produced by discovery.
type DiscoveredURL struct {
	URL    string          `json:"url"`
	Depth  int             `json:"depth"`
	Source DiscoverySource `json:"source"`
}

// ExtractedSection is a heading-delimited slice of page text.
type ExtractedSection struct {
	Heading   string `json:"heading"`
	Level     int    `json:"level"`
	Content   string `json:"content"`
	WordCount int    `json:"word_count"`
}

// ExtractedContent is the structured text of one page.
type ExtractedContent struct {
	URL         string             `json:"url"`
	Title       string             `json:"title"`
	Description string             `json:"description"`
	Text        string             `json:"text"`
	Sections    []ExtractedSection `json:"sections"`
}

// Empty reports whether extraction produced no usable text.
func (c ExtractedContent) Empty() bool {
	return c.Text == "" && len(c.Sections) == 0
}

// Chunk levels.
const (
	LevelDocument  = 0
	LevelSection   = 1
	LevelParagraph = 2
)

// ChunkData is a chunk as produced by a chunking strategy. ChunkID and
// ParentID are transient and only link chunks within one page.
type ChunkData struct {
	ChunkID      string `json:"chunk_id"`
	Content      string `json:"content"`
	ChunkIndex   int    `json:"chunk_index"`
	Level        int    `json:"level"`
	ParentID     string `json:"parent_id,omitempty"`
	SourceURL    string `json:"source_url"`
	PageTitle    string `json:"page_title"`
	Heading      string `json:"heading,omitempty"`
	WordCount    int    `json:"word_count"`
	OverlapWords int    `json:"overlap_words,omitempty"`
	TopicShift   bool   `json:"topic_shift,omitempty"`
}

// ContentChunk is the persisted form of a chunk keyed by its stable id.
type ContentChunk struct {
	ID         string    `json:"id"`
	ParentID   string    `json:"parent_id,omitempty"`
	KBID       string    `json:"kb_id"`
	JobID      string    `json:"job_id"`
	SourceURL  string    `json:"source_url"`
	PageTitle  string    `json:"page_title"`
	Heading    string    `json:"heading,omitempty"`
	Level      int       `json:"level"`
	ChunkIndex int       `json:"chunk_index"`
	Content    string    `json:"content"`
	WordCount  int       `json:"word_count"`
	TopicShift bool      `json:"topic_shift,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// CrawledPage is persisted once per processed URL.
type CrawledPage struct {
	JobID       string    `json:"job_id"`
	KBID        string    `json:"kb_id"`
	URL         string    `json:"url"`
	Title       string    `json:"title,omitempty"`
	Description string    `json:"description,omitempty"`
	StatusCode  int       `json:"status_code,omitempty"`
	ContentHash string    `json:"content_hash,omitempty"`
	BlobURI     string    `json:"blob_uri,omitempty"`
	ChunkCount  int       `json:"chunk_count"`
	WordCount   int       `json:"word_count"`
	DurationMs  int64     `json:"duration_ms"`
	Error       string    `json:"error,omitempty"`
	FetchedAt   time.Time `json:"fetched_at"`
}

// StepType labels a CrawlStep audit record.
type StepType string

// Audit step types.
const (
	StepStarted         StepType = "started"
	StepResumed         StepType = "resumed"
	StepDiscovery       StepType = "url_discovered"
	StepURLSkipped      StepType = "url_skipped"
	StepFetch           StepType = "fetch"
	StepParse           StepType = "parse"
	StepChunk           StepType = "chunk"
	StepEmbed           StepType = "embed"
	StepIngest          StepType = "ingest"
	StepPageError       StepType = "page_error"
	StepCheckpoint      StepType = "checkpoint"
	StepContinuation    StepType = "continuation"
	StepCompleted       StepType = "completed"
	StepFailed          StepType = "failed"
	StepContinuationErr StepType = "continuation_failed"
)

// CrawlStep is an append-only audit record.
type CrawlStep struct {
	JobID      string         `json:"job_id"`
	StepType   StepType       `json:"step_type"`
	URL        string         `json:"url,omitempty"`
	DurationMs *int64         `json:"duration_ms,omitempty"`
	Details    map[string]any `json:"details,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
}

// FetchRequest captures everything needed to fetch a URL.
type FetchRequest struct {
	URL     string
	Headers map[string]string
}

// FetchResponse is the result returned by a Fetcher implementation.
type FetchResponse struct {
	URL         string
	StatusCode  int
	ContentType string
	Body        []byte
	Duration    time.Duration
}

// Vector is one embedding destined for the vector index.
type Vector struct {
	ID       string            `json:"id"`
	Values   []float32         `json:"values"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// Item is one record in the key-value store.
type Item struct {
	PartitionKey string    `json:"pk"`
	SortKey      string    `json:"sk"`
	Data         []byte    `json:"data"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// ContinuationRequest asks the host environment to run a job again.
type ContinuationRequest struct {
	JobID string `json:"job_id"`
	KBID  string `json:"kb_id"`
	Owner string `json:"owner"`
}
