package main

import (
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	"github.com/TobiSchelling/tweetextract/internal/pipeline"
)

var (
	bookmarkOpts = pipeline.DefaultOptions()
	noLLM        bool
)

var bookmarksCmd = &cobra.Command{
	Use:   "bookmarks",
	Short: "Build a report from your bookmarks",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		opts := bookmarkOpts
		opts.LLM = !noLLM
		if !cmd.Flags().Changed("timeout-ms") && cfg.Summarization.TimeoutMS > 0 {
			opts.TimeoutMS = cfg.Summarization.TimeoutMS
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
		defer stop()

		p := pipeline.New(cfg, cmd.OutOrStdout(), cmd.ErrOrStderr())
		_, err := p.Run(ctx, opts)
		return err
	},
}

func init() {
	f := bookmarksCmd.Flags()
	f.IntVarP(&bookmarkOpts.Count, "count", "n", pipeline.DefaultCount, "Number of bookmarks to fetch")
	f.StringVar(&bookmarkOpts.Duration, "duration", "", "Only include posts newer than duration (e.g. 7d, 24h, 2w)")
	f.StringVarP(&bookmarkOpts.Out, "out", "o", "", "Report directory name (default bookmarks-<timestamp>)")
	f.StringVar(&bookmarkOpts.Format, "format", "markdown", "Output format: markdown or html")
	f.BoolVar(&noLLM, "no-llm", false, "Skip LLM summaries")
	f.StringVar(&bookmarkOpts.CookieSource, "cookie-source", "safari", "Browser cookie sources, comma separated (safari, chrome, firefox)")
	f.StringVar(&bookmarkOpts.AuthToken, "auth-token", "", "X auth_token cookie")
	f.StringVar(&bookmarkOpts.CT0, "ct0", "", "X ct0 cookie")
	f.StringVar(&bookmarkOpts.ChromeProfile, "chrome-profile", "", "Chrome profile name or path")
	f.StringVar(&bookmarkOpts.FirefoxProfile, "firefox-profile", "", "Firefox profile name or path")
	f.IntVar(&bookmarkOpts.TimeoutMS, "timeout-ms", pipeline.DefaultTimeoutMS, "Timeout for X and LLM requests in milliseconds")
	f.IntVar(&bookmarkOpts.QuoteDepth, "quote-depth", pipeline.DefaultQuoteDepth, "How many levels of quoted posts to resolve")
	f.IntVar(&bookmarkOpts.Concurrency, "concurrency", pipeline.DefaultConcurrency, "Posts processed in parallel")
	f.BoolVar(&bookmarkOpts.FailFast, "fail-fast", false, "Abort the run when a summary fails")
	f.BoolVar(&bookmarkOpts.FetchLinks, "fetch-links", false, "Attach previews of linked articles")
	f.StringVar(&bookmarkOpts.MetricsFile, "metrics-file", "", "Write run metrics in Prometheus text format to this file")
}
