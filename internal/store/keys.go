package store

import (
	"fmt"
	"time"

	"github.com/JakeFAU/kb-crawler/internal/hash/sha256"
)

// Sort keys and sort-key prefixes.
const (
	SortKeyMeta = "META"
	PrefixPage  = "PAGE#"
	PrefixChunk = "CHUNK#"
	PrefixStep  = "STEP#"
)

// KBPartition is the partition holding a knowledge base and its chunks.
func KBPartition(kbID string) string { return "KB#" + kbID }

// JobPartition is the partition holding a job, its pages and audit steps.
func JobPartition(jobID string) string { return "JOB#" + jobID }

// PageSortKey keys a page record by the hash of its URL.
func PageSortKey(rawURL string) string { return PrefixPage + sha256.URLHash(rawURL) }

// ChunkPrefix selects every chunk of one page.
func ChunkPrefix(rawURL string) string { return PrefixChunk + sha256.URLHash(rawURL) + "#" }

// ChunkSortKey keys a chunk below its page.
func ChunkSortKey(rawURL, chunkID string) string { return ChunkPrefix(rawURL) + chunkID }

// StepSortKey orders audit steps by creation time; seq breaks ties within
// the same nanosecond.
func StepSortKey(at time.Time, seq int64) string {
	return fmt.Sprintf("%s%020d#%06d", PrefixStep, at.UnixNano(), seq%1_000_000)
}
