// Package api hosts the HTTP server, middleware, and REST handlers for operator
// access. Notable routes:
//   - GET /healthz and /readyz for Kubernetes probes.
//   - GET /metrics for Prometheus scraping.
//   - POST/GET/DELETE /v1/knowledge-bases for knowledge base management.
//   - POST /v1/knowledge-bases/{kb_id}/jobs to submit a crawl.
//   - GET /v1/jobs/{job_id}, its pages and steps, and POST .../resume to
//     re-enqueue a checkpointed job.
package api
