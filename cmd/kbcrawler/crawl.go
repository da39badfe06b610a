package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/kb-crawler/internal/clock/system"
	"github.com/JakeFAU/kb-crawler/internal/continuation"
	"github.com/JakeFAU/kb-crawler/internal/crawler"
	"github.com/JakeFAU/kb-crawler/internal/id/uuid"
	"github.com/JakeFAU/kb-crawler/internal/progress"
	"github.com/JakeFAU/kb-crawler/internal/server"
	"github.com/JakeFAU/kb-crawler/internal/store"
	"github.com/JakeFAU/kb-crawler/internal/worker"
)

// maxInvocations bounds how often one crawl command re-runs a checkpointed job.
const maxInvocations = 1000

type crawlOptions struct {
	kbID           string
	kbName         string
	owner          string
	job            crawler.JobConfig
	sameDomainSet  bool
	sameDomainOnly bool
}

// streamer runs one execution and streams its events.
type streamer interface {
	Stream(ctx context.Context, jobID string) <-chan progress.Event
}

func newCrawlCmd(rt *runtime) *cobra.Command {
	opts := crawlOptions{}
	var sourceType string
	cmd := &cobra.Command{
		Use:   "crawl",
		Short: "Crawl one site into a knowledge base, streaming events as JSON lines",
		Long: `crawl runs a single job in the foreground. Lifecycle events are written to
stdout as JSON lines; logs go to stderr. A job that reaches its execution
budget is resumed from its checkpoint until it finishes.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			opts.job.SourceType = crawler.SourceType(sourceType)
			opts.sameDomainSet = cmd.Flags().Changed("same-domain")

			cfg := rt.cfg
			// Checkpoints are resumed in-process.
			cfg.Continuation.Mode = continuation.ModeNoop
			app, err := server.Build(cmd.Context(), cfg, rt.logger, server.Options{SkipPubSubConsumer: true})
			if err != nil {
				return fmt.Errorf("build application: %w", err)
			}
			defer func() { _ = app.Close(context.WithoutCancel(cmd.Context())) }()

			opts.job = cfg.Defaults.Apply(opts.job, !opts.sameDomainSet)
			if opts.sameDomainSet {
				opts.job.SameDomainOnly = opts.sameDomainOnly
			}
			job, err := runCrawl(cmd.Context(), app.Repo(), app.Worker(), uuid.New(), system.New(), opts, cmd.OutOrStdout())
			if err != nil {
				return err
			}
			rt.logger.Info("crawl finished",
				zap.String("job_id", job.JobID),
				zap.String("status", string(job.Status)),
				zap.Int("successful_urls", job.Progress.SuccessfulURLs),
				zap.Int("failed_urls", job.Progress.FailedURLs),
				zap.Int("total_chunks", job.Progress.TotalChunks),
			)
			return nil
		},
	}
	f := cmd.Flags()
	f.StringVar(&opts.job.SourceURL, "url", "", "seed URL or sitemap URL (required)")
	f.StringVar(&sourceType, "type", "", "discovery source: url or sitemap (default from config)")
	f.IntVar(&opts.job.MaxPages, "max-pages", 0, "maximum pages to process")
	f.IntVar(&opts.job.MaxDepth, "max-depth", 0, "maximum link depth for url crawls")
	f.IntVar(&opts.job.RateLimitMs, "rate-limit-ms", 0, "delay between page fetches in milliseconds")
	f.StringVar(&opts.job.ChunkingStrategy, "strategy", "", "chunking strategy: hierarchical or fixed")
	f.BoolVar(&opts.sameDomainOnly, "same-domain", true, "only follow links on the seed's registrable domain")
	f.StringVar(&opts.kbID, "kb", "default", "knowledge base id; created when missing")
	f.StringVar(&opts.kbName, "kb-name", "", "name for a newly created knowledge base")
	f.StringVar(&opts.owner, "owner", "", "owner recorded on the knowledge base and job")
	_ = cmd.MarkFlagRequired("url")
	return cmd
}

// runCrawl creates the knowledge base if needed, saves a pending job, and
// executes it until it is no longer checkpointed. Every event is written to
// out as one JSON line.
func runCrawl(
	ctx context.Context,
	repo *store.Repository,
	w streamer,
	ids crawler.IDGenerator,
	clock crawler.Clock,
	opts crawlOptions,
	out io.Writer,
) (crawler.CrawlJob, error) {
	if opts.job.SourceURL == "" {
		return crawler.CrawlJob{}, errors.New("--url is required")
	}
	if _, err := crawler.Origin(opts.job.SourceURL); err != nil {
		return crawler.CrawlJob{}, fmt.Errorf("invalid --url: %w", err)
	}
	if err := ensureKnowledgeBase(ctx, repo, clock, opts); err != nil {
		return crawler.CrawlJob{}, err
	}

	jobID, err := ids.NewID()
	if err != nil {
		return crawler.CrawlJob{}, fmt.Errorf("generate job id: %w", err)
	}
	now := clock.Now()
	job := crawler.CrawlJob{
		JobID:     jobID,
		KBID:      opts.kbID,
		Owner:     opts.owner,
		Status:    crawler.JobStatusPending,
		Config:    opts.job,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := repo.SaveJob(ctx, job); err != nil {
		return crawler.CrawlJob{}, fmt.Errorf("save job: %w", err)
	}

	enc := json.NewEncoder(out)
	for range maxInvocations {
		var done progress.Event
		for evt := range w.Stream(ctx, jobID) {
			if err := enc.Encode(evt); err != nil {
				return crawler.CrawlJob{}, fmt.Errorf("write event: %w", err)
			}
			if evt.Type == progress.Done {
				done = evt
			}
		}
		if done.Error != "" {
			return crawler.CrawlJob{}, fmt.Errorf("crawl %s: %s", jobID, done.Error)
		}
		if err := ctx.Err(); err != nil {
			return crawler.CrawlJob{}, err
		}
		if done.Reason != string(worker.OutcomeCheckpointed) {
			break
		}
	}
	job, err = repo.GetJob(ctx, jobID)
	if err != nil {
		return crawler.CrawlJob{}, err
	}
	return job, nil
}

func ensureKnowledgeBase(ctx context.Context, repo *store.Repository, clock crawler.Clock, opts crawlOptions) error {
	_, err := repo.GetKnowledgeBase(ctx, opts.kbID)
	if err == nil {
		return nil
	}
	if !errors.Is(err, crawler.ErrNotFound) {
		return err
	}
	name := opts.kbName
	if name == "" {
		name = opts.kbID
	}
	now := clock.Now()
	kb := crawler.KnowledgeBase{KBID: opts.kbID, Owner: opts.owner, Name: name, CreatedAt: now, UpdatedAt: now}
	if err := repo.SaveKnowledgeBase(ctx, kb); err != nil {
		return fmt.Errorf("create knowledge base: %w", err)
	}
	return nil
}
