package main

import (
	"fmt"
	"os"

	"github.com/romangod6/docs-crawler/config"
	"github.com/romangod6/docs-crawler/internal/crawler"
	"github.com/romangod6/docs-crawler/internal/fetch"
	"github.com/romangod6/docs-crawler/internal/sitemap"
	"github.com/romangod6/docs-crawler/internal/storage"
	"github.com/romangod6/docs-crawler/internal/utils"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// app carries what every subcommand needs once flags are parsed.
type app struct {
	configFile string
	logLevel   string

	cfg    *config.Config
	logger *logrus.Logger
}

func newRootCmd() *cobra.Command {
	a := &app{}

	rootCmd := &cobra.Command{
		Use:           "docs-crawler",
		Short:         "Discover, rank and crawl documentation sites",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.init()
		},
	}

	rootCmd.PersistentFlags().StringVar(&a.configFile, "config", "", "config file (default is ./config.yaml or ./config/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&a.logLevel, "log-level", "", "log level, overrides log.level from the config")

	rootCmd.AddCommand(newServeCmd(a))
	rootCmd.AddCommand(newDiscoverCmd(a))
	rootCmd.AddCommand(newExtractCmd(a))

	return rootCmd
}

func (a *app) init() error {
	var err error
	if a.configFile != "" {
		a.cfg, err = config.LoadFile(a.configFile)
	} else {
		a.cfg, err = config.LoadConfig()
	}
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	level := a.cfg.Log.Level
	if a.logLevel != "" {
		level = a.logLevel
	}
	a.logger = utils.NewLogger(level)
	return nil
}

// newCrawler wires a crawler from the loaded config. store may be nil for
// commands that never persist documents.
func (a *app) newCrawler(store storage.Store) *crawler.Crawler {
	cfg := a.cfg
	return crawler.NewCrawler(store, fetch.NewHTTPFetcher(nil), crawler.CrawlerConfig{
		UserAgent:      cfg.Crawler.UserAgent,
		MaxPages:       cfg.Crawler.MaxPages,
		RequestTimeout: cfg.Crawler.RequestTimeout,
		CrawlInterval:  cfg.GetCrawlDuration(),
		LogDir:         cfg.Log.Dir,
		LogLevel:       a.logger.GetLevel(),
		Sitemap: sitemap.ProcessorConfig{
			MaxRetries:  cfg.Sitemap.MaxRetries,
			RetryDelay:  cfg.Sitemap.RetryDelay,
			BatchSize:   cfg.Sitemap.BatchSize,
			MaxDepth:    cfg.Sitemap.MaxDepth,
			MaxSitemaps: cfg.Sitemap.MaxSitemaps,
			UserAgent:   cfg.Crawler.UserAgent,
		},
		Extractor: crawler.ExtractorConfig{
			MinContentLength: cfg.Extractor.MinContentLength,
			DisableMetadata:  !cfg.Extractor.ExtractMetadata,
		},
	}, a.logger)
}
