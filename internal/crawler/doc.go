// Package crawler defines the domain model of the knowledge-base crawler:
// jobs and their checkpoints, discovered URLs, extracted content, chunks,
// audit steps, and the ports implemented by storage, embedding, vector,
// fetch, and continuation adapters.
package crawler
