package commands

import (
	"context"
	"log/slog"
	"slices"
	"time"

	"github.com/peterfisher/canvas-parent/lib/serviceutil"
	"github.com/peterfisher/canvas-parent/lib/timezone"
	"github.com/peterfisher/canvas-parent/services/grades"
	"github.com/peterfisher/canvas-parent/services/notify"
	"github.com/peterfisher/canvas-parent/services/site"

	"github.com/spf13/cobra"
	"go.etcd.io/bbolt"
)

func init() {
	rootCmd.AddCommand(watchCmd)
}

// runSync is one full pass: scrape, regenerate the site, email the
// digest. A failing scrape skips the rest so the site never renders
// from a login-failed state, everything else only logs.
func runSync(ctx context.Context, cfg Config, store grades.Store, cacheDb *bbolt.DB) {
	summary, err := scrapeOnce(ctx, cfg, store, cacheDb, "")
	if err != nil {
		slog.ErrorContext(ctx, "scrape", "err", err)
		return
	}
	logRunSummary(ctx, summary)

	err = site.NewService(store, cfg.Site.OutputDir, cfg.Site.BaseUrl).GenerateAll(ctx)
	if err != nil {
		slog.ErrorContext(ctx, "generate site", "err", err)
	}

	if len(cfg.Notify.Recipients) > 0 {
		err = notify.NewService(store, cfg.Notify).SendMissingWorkDigest(ctx, cfg.Student)
		if err != nil {
			slog.ErrorContext(ctx, "send digest", "err", err)
		}
	}
}

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Periodically scrapes, regenerates the site and emails missing work digests.",
	Run: func(cmd *cobra.Command, args []string) {
		ctx := cmd.Context()
		cfg := mustLoadConfig()
		cfg.requireCredentials()

		store, database := openStore(cfg)
		defer database.Close()

		cacheDb, err := bbolt.Open(cfg.Cache, 0600, nil)
		if err != nil {
			serviceutil.Fatal("failed to open page cache", err)
		}
		defer cacheDb.Close()

		hours := cfg.Watch.Hours
		if len(hours) == 0 {
			// after school, dinner time, before bed
			hours = []int{15, 18, 21}
		}
		slog.InfoContext(ctx, "watching portal", "hours", hours, "student", cfg.Student)

		// one pass right away so a fresh install has data to show
		runSync(ctx, cfg, store, cacheDb)

		ticker := time.NewTicker(time.Hour)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if !slices.Contains(hours, timezone.Now().Hour()) {
					continue
				}
				runSync(ctx, cfg, store, cacheDb)
			}
		}
	},
}
