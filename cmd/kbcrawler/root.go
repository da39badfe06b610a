package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/kb-crawler/internal/config"
	"github.com/JakeFAU/kb-crawler/internal/logging"
)

// runtime holds what every subcommand needs after flags are parsed.
type runtime struct {
	cfgFile string
	cfg     config.Config
	logger  *zap.Logger
}

func newRootCmd() *cobra.Command {
	rt := &runtime{}
	cmd := &cobra.Command{
		Use:   "kbcrawler",
		Short: "Crawl websites into searchable knowledge bases.",
		Long: `kbcrawler discovers pages from a sitemap or by following links, extracts
their content, splits it into hierarchical chunks, embeds the chunks, and
stores them in a knowledge base.`,
		SilenceUsage: true,
		PersistentPreRunE: func(*cobra.Command, []string) error {
			cfg, err := config.Load(rt.cfgFile)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			logger, err := logging.New(cfg.Logging.Development, cfg.Logging.Level)
			if err != nil {
				return fmt.Errorf("logger init failed: %w", err)
			}
			zap.ReplaceGlobals(logger)
			rt.cfg = cfg
			rt.logger = logger
			return nil
		},
		PersistentPostRun: func(*cobra.Command, []string) {
			if rt.logger != nil {
				_ = rt.logger.Sync()
			}
		},
	}
	cmd.PersistentFlags().StringVar(&rt.cfgFile, "config", "", "path to a config file (YAML, JSON, or TOML)")
	cmd.AddCommand(newServeCmd(rt), newCrawlCmd(rt))
	return cmd
}
