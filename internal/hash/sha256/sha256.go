// Package sha256 derives content digests and the stable identifiers used
// for chunks and URL-keyed records.
package sha256

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"

	"github.com/google/uuid"
)

// chunkNamespace scopes chunk ids so they never collide with other
// name-based UUIDs.
var chunkNamespace = uuid.MustParse("5c1d8a52-7e0b-4f5e-9d3c-2b6f0a1e4c77")

// Hasher implements crawler.Hasher using SHA-256.
type Hasher struct{}

// New returns a SHA-256 hasher.
func New() *Hasher {
	return &Hasher{}
}

// Hash hashes the input and returns a hex digest.
func (h *Hasher) Hash(data []byte) (string, error) {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

// ChunkID returns the stable id of a chunk: a version 8 UUID built from the
// SHA-256 of kbID, sourceURL, chunkIndex and level. Identical inputs give
// identical ids across runs and processes.
func ChunkID(kbID, sourceURL string, chunkIndex, level int) string {
	data := kbID + "\x00" + sourceURL + "\x00" + strconv.Itoa(chunkIndex) + "\x00" + strconv.Itoa(level)
	return uuid.NewHash(sha256.New(), chunkNamespace, []byte(data), 8).String()
}

// URLHash returns the first 16 hex characters of SHA-256(rawURL).
func URLHash(rawURL string) string {
	sum := sha256.Sum256([]byte(rawURL))
	return hex.EncodeToString(sum[:8])
}
