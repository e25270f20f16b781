package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/mkwatanabe/sitewatch/internal/cache"
	"github.com/mkwatanabe/sitewatch/internal/clock/system"
	"github.com/mkwatanabe/sitewatch/internal/config"
	"github.com/mkwatanabe/sitewatch/internal/crawler"
	"github.com/mkwatanabe/sitewatch/internal/export"
	"github.com/mkwatanabe/sitewatch/internal/fetcher"
	"github.com/mkwatanabe/sitewatch/internal/id/uuid"
	"github.com/mkwatanabe/sitewatch/internal/logging"
	"github.com/mkwatanabe/sitewatch/internal/markdown"
	"github.com/mkwatanabe/sitewatch/internal/metrics"
	"github.com/mkwatanabe/sitewatch/internal/notify"
	"github.com/mkwatanabe/sitewatch/internal/notify/webhook"
	"github.com/mkwatanabe/sitewatch/internal/parser"
	"github.com/mkwatanabe/sitewatch/internal/storage/local"
)

// newCrawlCmd creates and configures the 'crawl' subcommand.
func newCrawlCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "crawl [seed-url]",
		Short: "Crawl the configured site and write the run artifacts",
		Long: `Runs one crawl of the configured seed URL: fetches every same-domain
page within the depth and page budgets, converts each to Markdown,
diffs against the previous run's cache, and writes site.md,
diff_report.md and summary.md to the output directory.`,
		Args: cobra.MaximumNArgs(1),
		RunE: runCrawlCommand,
	}
	return cmd
}

func runCrawlCommand(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return err
	}
	if len(args) == 1 {
		cfg.Crawl.SeedURL = args[0]
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer func() {
		_ = logger.Sync()
	}()

	metrics.Init()

	result, runErr := runCrawl(cmd.Context(), cfg, logger)
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		return runErr
	}
	if result == nil {
		return runErr
	}

	printSummary(result)
	if result.Summary.CommitFailed {
		return fmt.Errorf("crawl cache was not committed; next run will diff against a stale snapshot")
	}
	return nil
}

func runCrawl(ctx context.Context, cfg config.Config, logger *zap.Logger) (*crawler.RunResult, error) {
	runID, err := uuid.NewGenerator().NewID()
	if err != nil {
		return nil, fmt.Errorf("generate run id: %w", err)
	}

	filter, err := crawler.NewURLFilter(crawler.FilterConfig{
		SeedURL:          cfg.Crawl.SeedURL,
		MaxDepth:         cfg.Crawl.MaxDepth,
		NormalizeQuery:   cfg.Filter.NormalizeQuery,
		ExcludePatterns:  cfg.Filter.ExcludePatterns,
		StaticExtensions: cfg.Filter.StaticExtensions,
	})
	if err != nil {
		return nil, fmt.Errorf("init url filter: %w", err)
	}

	initial, max := cfg.Backoff()
	gate := crawler.NewGate(cfg.Delay())
	retry := crawler.NewRetryPolicy(cfg.HTTP.MaxRetries, initial, max)

	client := fetcher.New(fetcher.Config{
		UserAgent:       cfg.HTTP.UserAgent,
		Timeout:         cfg.Timeout(),
		FollowRedirects: cfg.HTTP.FollowRedirects,
		RespectRobots:   cfg.HTTP.RespectRobots,
	}, gate, retry, logger)

	domain, err := seedDomain(cfg.Crawl.SeedURL)
	if err != nil {
		return nil, err
	}
	store, err := cache.New(cfg.Output.CacheDir, domain, logger)
	if err != nil {
		return nil, fmt.Errorf("init crawl cache: %w", err)
	}

	sched := crawler.NewScheduler(crawler.Config{
		RunID:       runID,
		SeedURL:     cfg.Crawl.SeedURL,
		MaxPages:    cfg.Crawl.MaxPages,
		Workers:     cfg.Crawl.Workers,
		DiffEnabled: cfg.Crawl.Diff,
	}, filter, client, parser.New(), markdown.New(), store, system.New(), logger)

	result, err := sched.Run(ctx)
	if err != nil {
		return nil, err
	}

	if err := writeArtifacts(ctx, cfg, result, logger); err != nil {
		logger.Error("write artifacts failed", zap.Error(err))
	}
	sendNotification(ctx, cfg, result, logger)
	return result, nil
}

func writeArtifacts(ctx context.Context, cfg config.Config, result *crawler.RunResult, logger *zap.Logger) error {
	store, err := local.New(cfg.Output.Dir)
	if err != nil {
		return fmt.Errorf("init artifact store: %w", err)
	}
	exporter := export.New(store, logger)

	if _, err := exporter.ExportSite(ctx, result); err != nil {
		return err
	}
	if _, err := exporter.ExportDiffReport(ctx, result, result.Previous); err != nil {
		return err
	}
	if _, err := exporter.ExportSummary(ctx, result); err != nil {
		return err
	}
	return nil
}

func sendNotification(ctx context.Context, cfg config.Config, result *crawler.RunResult, logger *zap.Logger) {
	if cfg.Notify.WebhookURL == "" {
		return
	}
	notifier, err := webhook.New(
		cfg.Notify.WebhookURL,
		time.Duration(cfg.Notify.TimeoutSeconds)*time.Second,
		cfg.Notify.OnlyOnChanges,
		logger,
	)
	if err != nil {
		logger.Warn("webhook notifier disabled", zap.Error(err))
		return
	}

	event := notify.Event{
		RunID:     result.Summary.RunID,
		Seed:      result.Summary.Seed,
		State:     result.Summary.State.String(),
		Done:      result.Summary.Done,
		Failed:    result.Summary.Failed,
		Duration:  result.Summary.Duration.Round(time.Second).String(),
		Timestamp: time.Now().UTC(),
	}
	if result.Diff != nil {
		event.Added = len(result.Diff.Added)
		event.Changed = len(result.Diff.Changed)
		event.Removed = len(result.Diff.Removed)
	}
	if err := notifier.Notify(ctx, event); err != nil {
		logger.Warn("webhook delivery failed", zap.Error(err))
	}
}

func printSummary(result *crawler.RunResult) {
	s := result.Summary
	fmt.Printf("Run %s (%s)\n", s.RunID, s.State)
	fmt.Printf("  pages: %d done, %d failed, %d skipped, %d retries\n",
		s.Done, s.Failed, s.Skipped, s.Retries)
	if result.Diff != nil {
		fmt.Printf("  changes: %d added, %d changed, %d removed, %d unchanged\n",
			len(result.Diff.Added), len(result.Diff.Changed),
			len(result.Diff.Removed), result.Diff.Unchanged)
	}
	fmt.Printf("  duration: %s\n", s.Duration.Round(time.Second))
	for _, f := range result.Failures {
		fmt.Fprintf(os.Stderr, "  failed: %s (%s)\n", f.URL, f.Reason)
	}
}

func seedDomain(seed string) (string, error) {
	parsed, err := url.Parse(seed)
	if err != nil || parsed.Hostname() == "" {
		return "", fmt.Errorf("invalid seed url %q", seed)
	}
	return parsed.Hostname(), nil
}
