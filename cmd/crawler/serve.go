package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/romangod6/docs-crawler/internal/api"
	"github.com/romangod6/docs-crawler/internal/crawler"
	"github.com/romangod6/docs-crawler/internal/models"
	"github.com/romangod6/docs-crawler/internal/storage"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// scheduleTick is how often sources are checked for a due crawl.
const scheduleTick = time.Minute

type sourceRunner interface {
	RunSource(ctx context.Context, source *models.Source) (*crawler.CrawlResult, error)
}

func newServeCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the API server and the crawl scheduler",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.serve()
		},
	}
}

func (a *app) serve() error {
	store, err := storage.Open(a.cfg.Database.Driver, a.cfg.Database.URL)
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}
	defer store.Close()

	if err := store.Initialize(); err != nil {
		return fmt.Errorf("failed to initialize database tables: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	resetStaleRuns(ctx, store, a.logger)

	c := a.newCrawler(store)
	server := api.NewServer(a.cfg.Server.Port, store, c, a.logger)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(scheduleTick)
		defer ticker.Stop()

		runAllCrawls(ctx, store, c, a.cfg.Crawler.MaxConcurrentCrawls, a.logger)
		for {
			select {
			case <-ticker.C:
				runAllCrawls(ctx, store, c, a.cfg.Crawler.MaxConcurrentCrawls, a.logger)
			case <-ctx.Done():
				return
			}
		}
	}()

	serverErr := make(chan error, 1)
	go func() {
		a.logger.Infof("Starting API server on port %d", a.cfg.Server.Port)
		if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	err = waitForShutdown(serverErr, a.logger)
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if serr := server.Shutdown(shutdownCtx); serr != nil {
		a.logger.WithError(serr).Error("Error shutting down server")
	}

	wg.Wait()
	a.logger.Info("Server shut down gracefully")
	return err
}

// resetStaleRuns returns sources left Running by an interrupted process to
// Idle so the scheduler picks them up again.
func resetStaleRuns(ctx context.Context, store storage.Store, logger logrus.FieldLogger) {
	sources, err := store.ListSources(ctx)
	if err != nil {
		logger.WithError(err).Error("Failed to fetch sources")
		return
	}
	for _, source := range sources {
		if source.Status != models.SourceStatusRunning {
			continue
		}
		source.Status = models.SourceStatusIdle
		source.UpdatedAt = time.Now()
		if err := store.RecordRun(ctx, source); err != nil {
			logger.WithError(err).WithField("source", source.Name).Error("Failed to reset stale crawl")
		}
	}
}

// runAllCrawls crawls every due source, at most maxConcurrent at a time,
// and returns once they have all finished.
func runAllCrawls(ctx context.Context, store storage.Store, runner sourceRunner, maxConcurrent int, logger logrus.FieldLogger) {
	sources, err := store.ListSources(ctx)
	if err != nil {
		logger.WithError(err).Error("Failed to fetch sources")
		return
	}

	if maxConcurrent < 1 {
		maxConcurrent = 1
	}

	now := time.Now()
	semaphore := make(chan struct{}, maxConcurrent)
	wg := sync.WaitGroup{}
	started := 0

	for _, source := range sources {
		if !source.IsDue(now) {
			logger.WithField("source", source.Name).Debug("Skipping source that is running or not scheduled yet")
			continue
		}

		select {
		case semaphore <- struct{}{}:
		case <-ctx.Done():
			wg.Wait()
			return
		}

		started++
		wg.Add(1)
		go func(s *models.Source) {
			defer wg.Done()
			defer func() { <-semaphore }()

			_, err := runner.RunSource(ctx, s)
			switch {
			case errors.Is(err, crawler.ErrAlreadyRunning):
				logger.WithField("source", s.Name).Debug("Source was claimed by another crawl")
			case err != nil:
				logger.WithError(err).WithField("source", s.Name).Warn("Crawl failed")
			}
		}(source)
	}

	wg.Wait()
	if started > 0 {
		logger.Infof("Finished %d scheduled crawls", started)
	}
}

func waitForShutdown(serverErr <-chan error, logger logrus.FieldLogger) error {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	select {
	case <-sigChan:
		logger.Info("Shutting down...")
		return nil
	case err := <-serverErr:
		logger.WithError(err).Error("API server stopped")
		return err
	}
}
