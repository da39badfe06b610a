package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/kb-crawler/internal/config"
	"github.com/JakeFAU/kb-crawler/internal/crawler"
	"github.com/JakeFAU/kb-crawler/internal/metrics"
	"github.com/JakeFAU/kb-crawler/internal/store"
)

const enqueueTimeout = 5 * time.Second

// Enqueuer accepts job executions. The dispatcher satisfies it.
type Enqueuer interface {
	Enqueue(ctx context.Context, item crawler.QueueItem) error
}

// Deps are the collaborators the HTTP handlers use.
type Deps struct {
	Repo  *store.Repository
	Index crawler.VectorIndex
	Queue Enqueuer
	IDGen crawler.IDGenerator
	Clock crawler.Clock
	// Ready reports whether downstream dependencies are reachable. Nil means
	// always ready.
	Ready func(ctx context.Context) error
}

// Server wires HTTP handlers to the repository and the job queue.
type Server struct {
	router chi.Router
	deps   Deps
	cfg    config.Config
	logger *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(deps Deps, cfg config.Config, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{deps: deps, cfg: cfg, logger: logger}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(logger))
	r.Use(recoverMiddleware(logger))
	r.Use(metrics.Middleware)

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Handle("/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		if cfg.Auth.Enabled {
			r.Use(apiKeyMiddleware(cfg.Auth.APIKey))
		}
		r.Use(timeoutMiddleware(60 * time.Second))
		r.Route("/knowledge-bases", func(r chi.Router) {
			r.Post("/", s.createKnowledgeBase)
			r.Route("/{kb_id}", func(r chi.Router) {
				r.Get("/", s.getKnowledgeBase)
				r.Delete("/", s.deleteKnowledgeBase)
				r.Get("/chunks", s.listChunks)
				r.Post("/jobs", s.submitJob)
			})
		})
		r.Route("/jobs/{job_id}", func(r chi.Router) {
			r.Get("/", s.getJob)
			r.Get("/pages", s.listPages)
			r.Get("/steps", s.listSteps)
			r.Post("/resume", s.resumeJob)
		})
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	if s.deps.Ready != nil {
		if err := s.deps.Ready(r.Context()); err != nil {
			s.logger.Warn("readiness check failed", zap.Error(err))
			writeError(w, http.StatusServiceUnavailable, "not ready")
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

type createKnowledgeBaseRequest struct {
	KBID  string `json:"kb_id"`
	Name  string `json:"name"`
	Owner string `json:"owner"`
}

func (s *Server) createKnowledgeBase(w http.ResponseWriter, r *http.Request) {
	var req createKnowledgeBaseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if strings.TrimSpace(req.Name) == "" {
		writeError(w, http.StatusBadRequest, "name required")
		return
	}
	ctx := r.Context()
	if req.KBID == "" {
		id, err := s.deps.IDGen.NewID()
		if err != nil {
			writeError(w, http.StatusInternalServerError, "generate knowledge base id")
			return
		}
		req.KBID = id
	} else if _, err := s.deps.Repo.GetKnowledgeBase(ctx, req.KBID); err == nil {
		writeError(w, http.StatusConflict, "knowledge base already exists")
		return
	} else if !errors.Is(err, crawler.ErrNotFound) {
		s.internalError(w, "load knowledge base", err)
		return
	}

	now := s.deps.Clock.Now()
	kb := crawler.KnowledgeBase{
		KBID:      req.KBID,
		Owner:     req.Owner,
		Name:      req.Name,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.deps.Repo.SaveKnowledgeBase(ctx, kb); err != nil {
		s.internalError(w, "save knowledge base", err)
		return
	}
	writeJSON(w, http.StatusCreated, kb)
}

func (s *Server) getKnowledgeBase(w http.ResponseWriter, r *http.Request) {
	kb, ok := s.loadKnowledgeBase(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, kb)
}

func (s *Server) deleteKnowledgeBase(w http.ResponseWriter, r *http.Request) {
	kb, ok := s.loadKnowledgeBase(w, r)
	if !ok {
		return
	}
	if err := s.deps.Repo.DeleteKnowledgeBase(r.Context(), kb.KBID, s.deps.Index); err != nil {
		s.internalError(w, "delete knowledge base", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) listChunks(w http.ResponseWriter, r *http.Request) {
	kb, ok := s.loadKnowledgeBase(w, r)
	if !ok {
		return
	}
	chunks, err := s.deps.Repo.ListChunks(r.Context(), kb.KBID, r.URL.Query().Get("url"))
	if err != nil {
		s.internalError(w, "list chunks", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"chunks": chunks})
}

type submitJobRequest struct {
	SourceType       string `json:"source_type"`
	SourceURL        string `json:"source_url"`
	MaxPages         int    `json:"max_pages"`
	MaxDepth         int    `json:"max_depth"`
	RateLimitMs      int    `json:"rate_limit_ms"`
	ChunkingStrategy string `json:"chunking_strategy"`
	SameDomainOnly   *bool  `json:"same_domain_only"`
	Owner            string `json:"owner"`
}

func (req submitJobRequest) jobConfig(defaults config.JobDefaults) (crawler.JobConfig, error) {
	jc := crawler.JobConfig{
		SourceType:       crawler.SourceType(req.SourceType),
		SourceURL:        strings.TrimSpace(req.SourceURL),
		MaxPages:         req.MaxPages,
		MaxDepth:         req.MaxDepth,
		RateLimitMs:      req.RateLimitMs,
		ChunkingStrategy: req.ChunkingStrategy,
	}
	if req.SameDomainOnly != nil {
		jc.SameDomainOnly = *req.SameDomainOnly
	}
	jc = defaults.Apply(jc, req.SameDomainOnly == nil)

	if jc.SourceURL == "" {
		return jc, errors.New("source_url required")
	}
	if _, err := crawler.Origin(jc.SourceURL); err != nil {
		return jc, fmt.Errorf("invalid source_url: %w", err)
	}
	switch jc.SourceType {
	case crawler.SourceSitemap, crawler.SourceURL:
	default:
		return jc, fmt.Errorf("unsupported source_type %q", jc.SourceType)
	}
	return jc, nil
}

func (s *Server) submitJob(w http.ResponseWriter, r *http.Request) {
	kb, ok := s.loadKnowledgeBase(w, r)
	if !ok {
		return
	}
	var req submitJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	jc, err := req.jobConfig(s.cfg.Defaults)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	jobID, err := s.deps.IDGen.NewID()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "generate job id")
		return
	}
	owner := req.Owner
	if owner == "" {
		owner = kb.Owner
	}
	now := s.deps.Clock.Now()
	job := crawler.CrawlJob{
		JobID:     jobID,
		KBID:      kb.KBID,
		Owner:     owner,
		Status:    crawler.JobStatusPending,
		Config:    jc,
		CreatedAt: now,
		UpdatedAt: now,
	}
	ctx := r.Context()
	if err := s.deps.Repo.SaveJob(ctx, job); err != nil {
		s.internalError(w, "save job", err)
		return
	}
	if err := s.enqueue(ctx, job, 1); err != nil {
		s.internalError(w, "enqueue job", err)
		return
	}
	s.logger.Info("job submitted",
		zap.String("job_id", job.JobID),
		zap.String("kb_id", job.KBID),
		zap.String("source_url", jc.SourceURL),
	)
	writeJSON(w, http.StatusAccepted, job)
}

func (s *Server) getJob(w http.ResponseWriter, r *http.Request) {
	job, ok := s.loadJob(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (s *Server) listPages(w http.ResponseWriter, r *http.Request) {
	job, ok := s.loadJob(w, r)
	if !ok {
		return
	}
	pages, err := s.deps.Repo.ListPages(r.Context(), job.JobID)
	if err != nil {
		s.internalError(w, "list pages", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"pages": pages})
}

func (s *Server) listSteps(w http.ResponseWriter, r *http.Request) {
	job, ok := s.loadJob(w, r)
	if !ok {
		return
	}
	steps, err := s.deps.Repo.ListSteps(r.Context(), job.JobID)
	if err != nil {
		s.internalError(w, "list steps", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"steps": steps})
}

// resumeJob re-enqueues a job that has not finished, typically one whose
// continuation could not be scheduled.
func (s *Server) resumeJob(w http.ResponseWriter, r *http.Request) {
	job, ok := s.loadJob(w, r)
	if !ok {
		return
	}
	if job.Status.Terminal() {
		writeError(w, http.StatusConflict, fmt.Sprintf("job is %s", job.Status))
		return
	}
	if err := s.enqueue(r.Context(), job, job.Invocations+1); err != nil {
		s.internalError(w, "enqueue job", err)
		return
	}
	s.logger.Info("job resume requested", zap.String("job_id", job.JobID), zap.Bool("checkpointed", job.Checkpoint != nil))
	writeJSON(w, http.StatusAccepted, map[string]string{"job_id": job.JobID, "status": string(job.Status)})
}

func (s *Server) enqueue(ctx context.Context, job crawler.CrawlJob, attempt int) error {
	queueCtx, cancel := context.WithTimeout(ctx, enqueueTimeout)
	defer cancel()
	item := crawler.QueueItem{
		JobID:     job.JobID,
		KBID:      job.KBID,
		Owner:     job.Owner,
		Attempt:   attempt,
		Submitted: s.deps.Clock.Now().Unix(),
	}
	if err := s.deps.Queue.Enqueue(queueCtx, item); err != nil {
		return fmt.Errorf("enqueue job %s: %w", job.JobID, err)
	}
	return nil
}

func (s *Server) loadKnowledgeBase(w http.ResponseWriter, r *http.Request) (crawler.KnowledgeBase, bool) {
	kb, err := s.deps.Repo.GetKnowledgeBase(r.Context(), chi.URLParam(r, "kb_id"))
	if err != nil {
		if errors.Is(err, crawler.ErrNotFound) {
			writeError(w, http.StatusNotFound, "knowledge base not found")
		} else {
			s.internalError(w, "load knowledge base", err)
		}
		return crawler.KnowledgeBase{}, false
	}
	return kb, true
}

func (s *Server) loadJob(w http.ResponseWriter, r *http.Request) (crawler.CrawlJob, bool) {
	job, err := s.deps.Repo.GetJob(r.Context(), chi.URLParam(r, "job_id"))
	if err != nil {
		if errors.Is(err, crawler.ErrNotFound) {
			writeError(w, http.StatusNotFound, "job not found")
		} else {
			s.internalError(w, "load job", err)
		}
		return crawler.CrawlJob{}, false
	}
	return job, true
}

func (s *Server) internalError(w http.ResponseWriter, msg string, err error) {
	s.logger.Error(msg, zap.Error(err))
	writeError(w, http.StatusInternalServerError, msg+" failed")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		zap.L().Error("write JSON failed", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
