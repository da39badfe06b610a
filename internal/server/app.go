// Package server builds the application's dependencies from configuration
// and runs the HTTP server and dispatcher.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	pubsub "cloud.google.com/go/pubsub/v2"
	"cloud.google.com/go/storage"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/JakeFAU/kb-crawler/internal/api"
	"github.com/JakeFAU/kb-crawler/internal/clock/system"
	"github.com/JakeFAU/kb-crawler/internal/config"
	"github.com/JakeFAU/kb-crawler/internal/continuation"
	"github.com/JakeFAU/kb-crawler/internal/crawler"
	"github.com/JakeFAU/kb-crawler/internal/discovery"
	"github.com/JakeFAU/kb-crawler/internal/dispatcher"
	"github.com/JakeFAU/kb-crawler/internal/embed/gemini"
	"github.com/JakeFAU/kb-crawler/internal/embed/hash"
	"github.com/JakeFAU/kb-crawler/internal/embed/openai"
	collyfetcher "github.com/JakeFAU/kb-crawler/internal/fetcher/colly"
	"github.com/JakeFAU/kb-crawler/internal/hash/sha256"
	"github.com/JakeFAU/kb-crawler/internal/id/uuid"
	lockmemory "github.com/JakeFAU/kb-crawler/internal/lock/memory"
	lockredis "github.com/JakeFAU/kb-crawler/internal/lock/redis"
	"github.com/JakeFAU/kb-crawler/internal/metrics"
	"github.com/JakeFAU/kb-crawler/internal/policy/ratelimit"
	"github.com/JakeFAU/kb-crawler/internal/progress"
	progresssinks "github.com/JakeFAU/kb-crawler/internal/progress/sinks"
	gcppublisher "github.com/JakeFAU/kb-crawler/internal/publisher/pubsub"
	queueMemory "github.com/JakeFAU/kb-crawler/internal/queue/memory"
	pubsubqueue "github.com/JakeFAU/kb-crawler/internal/queue/pubsub"
	"github.com/JakeFAU/kb-crawler/internal/robots"
	gcsstorage "github.com/JakeFAU/kb-crawler/internal/storage/gcs"
	localstorage "github.com/JakeFAU/kb-crawler/internal/storage/local"
	memoryStorage "github.com/JakeFAU/kb-crawler/internal/storage/memory"
	pgstore "github.com/JakeFAU/kb-crawler/internal/storage/postgres"
	"github.com/JakeFAU/kb-crawler/internal/store"
	"github.com/JakeFAU/kb-crawler/internal/telemetry"
	vectormemory "github.com/JakeFAU/kb-crawler/internal/vector/memory"
	vectorredis "github.com/JakeFAU/kb-crawler/internal/vector/redis"
	"github.com/JakeFAU/kb-crawler/internal/worker"
)

// Options adjust Build for non-server entry points.
type Options struct {
	// Registerer receives the event collectors; nil uses the default registry.
	Registerer prometheus.Registerer
	// SkipPubSubConsumer leaves the continuation subscription unread.
	SkipPubSubConsumer bool
}

type closer struct {
	name string
	fn   func(context.Context) error
}

// App contains the application's dependencies.
type App struct {
	cfg    config.Config
	logger *zap.Logger

	repo      *store.Repository
	index     crawler.VectorIndex
	worker    *worker.Worker
	queue     *queueMemory.Queue
	dispatch  *dispatcher.Dispatcher
	hub       *progress.Hub
	consumer  *pubsubqueue.Consumer
	apiServer *api.Server

	publisher *gcppublisher.Publisher

	checks  []func(context.Context) error
	closers []closer
}

// Repo returns the typed record repository.
func (a *App) Repo() *store.Repository { return a.repo }

// Worker returns the crawl orchestrator.
func (a *App) Worker() *worker.Worker { return a.worker }

// Handler returns the HTTP handler.
func (a *App) Handler() http.Handler { return a.apiServer.Handler() }

// Build creates the application's dependencies. On error, anything already
// opened is closed.
func Build(ctx context.Context, cfg config.Config, logger *zap.Logger, opts Options) (_ *App, err error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	app := &App{cfg: cfg, logger: logger}
	defer func() {
		if err != nil {
			app.closeAll(context.WithoutCancel(ctx))
		}
	}()

	shutdownTracing, err := telemetry.Init(ctx, cfg.Telemetry)
	if err != nil {
		return nil, fmt.Errorf("tracer init failed: %w", err)
	}
	app.onClose("tracer", shutdownTracing)
	metrics.Init()

	clock := system.New()
	kv, err := app.setupKV(ctx)
	if err != nil {
		return nil, err
	}
	app.repo = store.New(kv, clock)

	if app.index, err = app.setupVectorIndex(); err != nil {
		return nil, err
	}
	embedder, err := app.setupEmbedder(ctx)
	if err != nil {
		return nil, err
	}
	blobs, err := app.setupStorage(ctx)
	if err != nil {
		return nil, err
	}
	locker, err := app.setupLocker()
	if err != nil {
		return nil, err
	}

	app.queue = queueMemory.NewQueue(cfg.Worker.QueueDepth)
	app.onClose("queue", func(context.Context) error {
		app.queue.Close()
		return nil
	})
	scheduler, err := app.setupContinuation(ctx, opts)
	if err != nil {
		return nil, err
	}
	emitter, err := app.setupProgress(opts)
	if err != nil {
		return nil, err
	}

	fetcher := collyfetcher.New(collyfetcher.Config{
		UserAgent:    cfg.Crawler.UserAgent,
		Timeout:      cfg.Crawler.FetchTimeout,
		MaxBodyBytes: cfg.Crawler.MaxBodyBytes,
	})
	robotsCfg := robots.Config{UserAgent: cfg.Crawler.UserAgent, Timeout: cfg.Crawler.RobotsTimeout}
	robotsLogger := logger.Named("robots")
	app.worker, err = worker.New(worker.Deps{
		Repo:         app.repo,
		Fetcher:      fetcher,
		Embedder:     embedder,
		Index:        app.index,
		Continuation: scheduler,
		Blobs:        blobs,
		Locker:       locker,
		Clock:        clock,
		Hasher:       sha256.New(),
		NewRobots: func() discovery.RobotsChecker {
			return robots.NewEngine(robotsCfg, robotsLogger)
		},
		NewLimiter: func() discovery.HostLimiter {
			return ratelimit.New(ratelimit.Config{DefaultRPS: cfg.Crawler.DiscoveryRPS, DefaultBurst: 1})
		},
	}, worker.Config{
		ExecutionBudget: cfg.Worker.ExecutionBudget,
		SafetyBuffer:    cfg.Worker.SafetyBuffer,
		LockTTL:         cfg.Worker.LockTTL,
		ArchiveHTML:     cfg.Worker.ArchiveHTML,
		BlobPrefix:      cfg.Storage.Prefix,
		StreamBuffer:    cfg.Worker.StreamBuffer,
		UserAgent:       cfg.Crawler.UserAgent,
		BlockedDomains:  cfg.Crawler.BlockedDomains,
		DiscoveryRPS:    cfg.Crawler.DiscoveryRPS,
		Chunking:        cfg.Chunking,
	}, logger.Named("worker"))
	if err != nil {
		return nil, fmt.Errorf("worker init failed: %w", err)
	}
	logger.Info("worker config",
		zap.Duration("execution_budget", cfg.Worker.ExecutionBudget),
		zap.Duration("safety_buffer", cfg.Worker.SafetyBuffer),
		zap.Bool("archive_html", cfg.Worker.ArchiveHTML),
		zap.String("embedding_provider", cfg.Embedding.Provider),
	)

	app.dispatch = dispatcher.New(app.queue, app.worker, emitter,
		dispatcher.Config{Concurrency: cfg.Worker.Concurrency}, logger.Named("dispatcher"))

	app.apiServer = api.NewServer(api.Deps{
		Repo:  app.repo,
		Index: app.index,
		Queue: app.dispatch,
		IDGen: uuid.New(),
		Clock: clock,
		Ready: app.ready,
	}, cfg, logger.Named("api"))

	return app, nil
}

func (a *App) setupKV(ctx context.Context) (crawler.KVStore, error) {
	switch a.cfg.KV.Backend {
	case "postgres":
		kv, err := pgstore.NewKVStore(ctx, a.cfg.KV.Postgres)
		if err != nil {
			return nil, fmt.Errorf("postgres kv store init failed: %w", err)
		}
		a.checks = append(a.checks, kv.Ping)
		a.onClose("postgres", func(context.Context) error {
			kv.Close()
			return nil
		})
		a.logger.Info("using postgres kv store", zap.String("table", a.cfg.KV.Postgres.Table))
		return kv, nil
	default:
		a.logger.Info("using in-memory kv store")
		return memoryStorage.NewKVStore(), nil
	}
}

func (a *App) setupVectorIndex() (crawler.VectorIndex, error) {
	switch a.cfg.Vector.Backend {
	case "redis":
		index, err := vectorredis.New(a.cfg.Vector.Redis)
		if err != nil {
			return nil, fmt.Errorf("redis vector index init failed: %w", err)
		}
		a.checks = append(a.checks, index.Ping)
		a.onClose("redis vector index", func(context.Context) error { return index.Close() })
		a.logger.Info("using redis vector index", zap.String("key_prefix", a.cfg.Vector.Redis.KeyPrefix))
		return index, nil
	default:
		a.logger.Info("using in-memory vector index")
		return vectormemory.New(), nil
	}
}

func (a *App) setupEmbedder(ctx context.Context) (crawler.Embedder, error) {
	logger := a.logger.Named("embed")
	switch a.cfg.Embedding.Provider {
	case "openai":
		e, err := openai.New(a.cfg.Embedding.OpenAI, logger)
		if err != nil {
			return nil, fmt.Errorf("openai embedder init failed: %w", err)
		}
		a.logger.Info("using openai embeddings", zap.String("model", a.cfg.Embedding.OpenAI.Model))
		return e, nil
	case "gemini":
		e, err := gemini.New(ctx, a.cfg.Embedding.Gemini, logger)
		if err != nil {
			return nil, fmt.Errorf("gemini embedder init failed: %w", err)
		}
		a.logger.Info("using gemini embeddings", zap.String("model", a.cfg.Embedding.Gemini.Model))
		return e, nil
	default:
		e, err := hash.New(a.cfg.Embedding.HashDimensions, logger)
		if err != nil {
			return nil, fmt.Errorf("hash embedder init failed: %w", err)
		}
		a.logger.Warn("using hash embeddings; vectors carry no semantic meaning",
			zap.Int("dimensions", a.cfg.Embedding.HashDimensions))
		return e, nil
	}
}

func (a *App) setupStorage(ctx context.Context) (crawler.BlobStore, error) {
	switch a.cfg.Storage.Backend {
	case "gcs":
		client, err := storage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("gcs client init failed: %w", err)
		}
		a.onClose("gcs", func(context.Context) error { return client.Close() })
		blobs, err := gcsstorage.New(client, a.cfg.Storage.GCS)
		if err != nil {
			return nil, fmt.Errorf("gcs blob store init failed: %w", err)
		}
		a.logger.Info("using GCS storage backend", zap.String("bucket", a.cfg.Storage.GCS.Bucket))
		return blobs, nil
	case "local":
		blobs, err := localstorage.New(a.cfg.Storage.Local)
		if err != nil {
			return nil, fmt.Errorf("local blob store init failed: %w", err)
		}
		a.logger.Info("using local storage backend", zap.String("path", a.cfg.Storage.Local.BaseDir))
		return blobs, nil
	case "memory":
		a.logger.Info("using in-memory storage backend")
		return memoryStorage.NewBlobStore(), nil
	default:
		if a.cfg.Worker.ArchiveHTML {
			a.logger.Warn("worker.archive_html is set but no storage backend is configured")
		}
		return nil, nil
	}
}

func (a *App) setupLocker() (crawler.JobLocker, error) {
	switch a.cfg.Lock.Backend {
	case "redis":
		locker, err := lockredis.New(a.cfg.Lock.Redis)
		if err != nil {
			return nil, fmt.Errorf("redis job lock init failed: %w", err)
		}
		a.onClose("redis job lock", func(context.Context) error { return locker.Close() })
		a.logger.Info("using redis job lock")
		return locker, nil
	case "memory":
		return lockmemory.New(), nil
	default:
		a.logger.Info("job locking disabled")
		return nil, nil
	}
}

func (a *App) setupContinuation(ctx context.Context, opts Options) (crawler.ContinuationScheduler, error) {
	mode := a.cfg.Continuation.Mode
	deps := continuation.Deps{Queue: a.queue, Logger: a.logger.Named("continuation")}
	if mode == continuation.ModePubSub {
		ps := a.cfg.Continuation.PubSub
		client, err := pubsub.NewClient(ctx, ps.ProjectID)
		if err != nil {
			return nil, fmt.Errorf("pubsub client init failed: %w", err)
		}
		a.onClose("pubsub client", func(context.Context) error { return client.Close() })
		a.publisher, err = gcppublisher.NewFromClient(client, ps.Topic)
		if err != nil {
			return nil, fmt.Errorf("pubsub publisher init failed: %w", err)
		}
		a.onClose("pubsub publisher", func(context.Context) error {
			a.publisher.Stop()
			return nil
		})
		deps.Publisher = a.publisher
		if ps.Subscription != "" && !opts.SkipPubSubConsumer {
			a.consumer = pubsubqueue.NewConsumer(client.Subscriber(ps.Subscription), a.queue, a.logger.Named("continuation_consumer"))
		}
		a.logger.Info("Pub/Sub continuation initialized",
			zap.String("project", ps.ProjectID),
			zap.String("topic", ps.Topic),
			zap.String("subscription", ps.Subscription),
		)
	}
	scheduler, err := continuation.New(mode, deps)
	if err != nil {
		return nil, fmt.Errorf("continuation init failed: %w", err)
	}
	return scheduler, nil
}

func (a *App) setupProgress(opts Options) (progress.Emitter, error) {
	promSink, err := progresssinks.NewPrometheusSink(opts.Registerer)
	if err != nil {
		return nil, fmt.Errorf("prometheus sink init failed: %w", err)
	}
	hubCfg := a.cfg.Progress
	hubCfg.Logger = a.logger.Named("progress_hub")
	a.hub = progress.NewHub(hubCfg,
		progresssinks.NewLogSink(a.logger.Named("progress_log")),
		promSink,
	)
	a.onClose("progress hub", a.hub.Close)
	a.logger.Info("progress hub initialized",
		zap.Int("buffer_size", hubCfg.BufferSize),
		zap.Int("max_batch_events", hubCfg.MaxBatchEvents),
		zap.Duration("max_batch_wait", hubCfg.MaxBatchWait),
	)
	return a.hub, nil
}

// Emitter returns the shared progress hub.
func (a *App) Emitter() progress.Emitter { return a.hub }

func (a *App) ready(ctx context.Context) error {
	for _, check := range a.checks {
		if err := check(ctx); err != nil {
			return err
		}
	}
	return nil
}

func (a *App) onClose(name string, fn func(context.Context) error) {
	a.closers = append(a.closers, closer{name: name, fn: fn})
}

// Run starts the dispatcher, the continuation consumer, and the HTTP server,
// and blocks until ctx is canceled or a termination signal arrives.
func (a *App) Run(ctx context.Context) error {
	a.logger.Info("application started")
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	dispatchDone := make(chan struct{})
	go func() {
		defer close(dispatchDone)
		a.logger.Info("dispatcher started", zap.Int("concurrency", a.cfg.Worker.Concurrency))
		a.dispatch.Run(ctx)
	}()

	if a.consumer != nil {
		go func() {
			a.logger.Info("continuation consumer started")
			if err := a.consumer.Run(ctx); err != nil {
				a.logger.Error("continuation consumer stopped", zap.Error(err))
			}
		}()
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:           a.apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       a.cfg.Server.ReadTimeout,
		WriteTimeout:      a.cfg.Server.WriteTimeout,
	}
	go func() {
		a.logger.Info("http server started", zap.Int("port", a.cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("http server error", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	a.logger.Info("shutdown initiated")

	timeout := a.cfg.Server.ShutdownTimeout
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("server shutdown error", zap.Error(err))
	}
	select {
	case <-dispatchDone:
	case <-shutdownCtx.Done():
		a.logger.Warn("in-flight executions did not finish before shutdown timeout")
	}
	return a.Close(shutdownCtx)
}

// Close releases every resource in reverse order of creation.
func (a *App) Close(ctx context.Context) error {
	a.closeAll(ctx)
	if err := a.logger.Sync(); err != nil {
		a.logger.Debug("logger sync failed", zap.Error(err))
	}
	a.logger.Info("shutdown complete")
	return nil
}

func (a *App) closeAll(ctx context.Context) {
	for i := len(a.closers) - 1; i >= 0; i-- {
		c := a.closers[i]
		if err := c.fn(ctx); err != nil {
			a.logger.Warn("close failed", zap.String("component", c.name), zap.Error(err))
		}
	}
	a.closers = nil
}
