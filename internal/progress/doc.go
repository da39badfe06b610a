// Package progress defines the typed lifecycle events emitted while a crawl
// job executes, the Emitter interface the orchestrator writes them to, and a
// non-blocking Hub that batches events for pluggable sinks such as
// structured logs or Prometheus collectors.
package progress
