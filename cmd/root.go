// Package cmd defines and implements the CLI commands for the sitewatch
// executable.
package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var cfgFile string

// newRootCmd creates and configures the root command.
func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sitewatch",
		Short: "Crawl a site to Markdown and report what changed",
		Long: `sitewatch crawls every page of a single site, converts each page to
normalized Markdown, and compares the result against the previous crawl
so you can see exactly which pages were added, changed, or removed.`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./sitewatch.yaml)")

	cmd.AddCommand(newCrawlCmd())
	cmd.AddCommand(newHistoryCmd())

	return cmd
}

// Execute is the main entry point. Interrupt and termination signals
// cancel the command context so a running crawl drains gracefully.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
