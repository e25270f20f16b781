package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/mkwatanabe/sitewatch/internal/cache"
	"github.com/mkwatanabe/sitewatch/internal/config"
	"github.com/mkwatanabe/sitewatch/internal/logging"
)

// newHistoryCmd creates and configures the 'history' subcommand.
func newHistoryCmd() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "history [seed-url]",
		Short: "Show past crawl runs for the configured site",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
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

			domain, err := seedDomain(cfg.Crawl.SeedURL)
			if err != nil {
				return err
			}
			store, err := cache.New(cfg.Output.CacheDir, domain, logger)
			if err != nil {
				return fmt.Errorf("init crawl cache: %w", err)
			}

			entries, err := store.History(cmd.Context(), limit)
			if err != nil {
				return fmt.Errorf("read crawl history: %w", err)
			}
			if len(entries) == 0 {
				fmt.Printf("No crawl history for %s\n", domain)
				return nil
			}

			fmt.Printf("%-36s  %-20s  %6s  %5s  %7s  %7s  %8s\n",
				"RUN ID", "DATE", "PAGES", "NEW", "UPDATED", "DELETED", "DURATION")
			for _, e := range entries {
				fmt.Printf("%-36s  %-20s  %6d  %5d  %7d  %7d  %8s\n",
					e.RunID, e.CrawlDate.Format(time.RFC3339), e.PageCount,
					e.NewCount, e.UpdatedCount, e.DeletedCount, e.Duration)
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 10, "maximum runs to show (0 for all)")
	return cmd
}
