package progress

import (
	"errors"
	"fmt"
	"time"

	"github.com/JakeFAU/kb-crawler/internal/crawler"
)

// Type names a lifecycle event.
type Type string

// Lifecycle event types.
const (
	JobStarted         Type = "job_started"
	URLDiscovered      Type = "url_discovered"
	URLSkipped         Type = "url_skipped"
	JobProgressed      Type = "job_progress"
	JobCheckpoint      Type = "job_checkpoint"
	JobCompleted       Type = "job_completed"
	JobFailed          Type = "job_failed"
	PageFetchStart     Type = "page_fetch_start"
	PageFetchComplete  Type = "page_fetch_complete"
	PageParseComplete  Type = "page_parse_complete"
	PageChunkComplete  Type = "page_chunk_complete"
	PageEmbedComplete  Type = "page_embed_complete"
	PageIngestComplete Type = "page_ingest_complete"
	PageError          Type = "page_error"

	// Done terminates an event stream. It is never sent to sinks.
	Done Type = "done"
)

// Skip reasons carried by URLSkipped events.
const (
	SkipRobots    = "robots"
	SkipDomain    = "domain"
	SkipNoContent = "no_content"
)

// StatusClass is a coarse HTTP response grouping.
type StatusClass string

// Supported HTTP status classes tracked for fetch completions.
const (
	Status2xx   StatusClass = "2xx"
	Status3xx   StatusClass = "3xx"
	Status4xx   StatusClass = "4xx"
	Status5xx   StatusClass = "5xx"
	StatusOther StatusClass = "other"
)

// Event is one lifecycle notification. Stage-specific fields are left zero
// when they do not apply.
type Event struct {
	Type       Type                 `json:"type"`
	JobID      string               `json:"job_id"`
	KBID       string               `json:"kb_id"`
	TS         time.Time            `json:"ts"`
	URL        string               `json:"url,omitempty"`
	Depth      int                  `json:"depth,omitempty"`
	Source     string               `json:"source,omitempty"`
	Reason     string               `json:"reason,omitempty"`
	StatusCode int                  `json:"status_code,omitempty"`
	Bytes      int                  `json:"bytes,omitempty"`
	Sections   int                  `json:"sections,omitempty"`
	Words      int                  `json:"words,omitempty"`
	Chunks     int                  `json:"chunks,omitempty"`
	Embeddings int                  `json:"embeddings,omitempty"`
	URLIndex   int                  `json:"url_index,omitempty"`
	TotalURLs  int                  `json:"total_urls,omitempty"`
	DurationMs int64                `json:"duration_ms,omitempty"`
	Progress   *crawler.JobProgress `json:"progress,omitempty"`
	Error      string               `json:"error,omitempty"`
}

// Validate performs coarse validation on Event payloads.
func (e Event) Validate() error {
	if e.JobID == "" {
		return errors.New("job id is required")
	}
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	switch e.Type {
	case JobStarted, JobProgressed, JobCheckpoint, JobCompleted, JobFailed, Done:
	case URLDiscovered, URLSkipped, PageFetchStart, PageFetchComplete, PageParseComplete,
		PageChunkComplete, PageEmbedComplete, PageIngestComplete, PageError:
		if e.URL == "" {
			return fmt.Errorf("%s requires url", e.Type)
		}
	default:
		return fmt.Errorf("unknown event type %q", e.Type)
	}
	if e.DurationMs < 0 {
		return errors.New("duration must be >= 0")
	}
	return nil
}

// PageStage reports whether the event describes one step of a page pipeline.
func (e Event) PageStage() bool {
	switch e.Type {
	case PageFetchComplete, PageParseComplete, PageChunkComplete, PageEmbedComplete, PageIngestComplete:
		return true
	}
	return false
}

// ClassifyStatus groups HTTP status codes for fetch events.
func ClassifyStatus(code int) StatusClass {
	switch {
	case code >= 200 && code < 300:
		return Status2xx
	case code >= 300 && code < 400:
		return Status3xx
	case code >= 400 && code < 500:
		return Status4xx
	case code >= 500 && code < 600:
		return Status5xx
	default:
		return StatusOther
	}
}
