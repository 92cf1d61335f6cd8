package commands

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/peterfisher/canvas-parent/lib/restyutil"
	"github.com/peterfisher/canvas-parent/lib/scrapers/canvas"
	"github.com/peterfisher/canvas-parent/lib/serviceutil"
	"github.com/peterfisher/canvas-parent/services/grades"
	"github.com/peterfisher/canvas-parent/services/grades/extract"
	"github.com/peterfisher/canvas-parent/services/grades/scraper"

	"github.com/spf13/cobra"
	"go.etcd.io/bbolt"
)

var scrapeHttpLog *string

func init() {
	scrapeHttpLog = scrapeCmd.Flags().String("http-log", "", "Directory to dump portal request/response logs to.")
	rootCmd.AddCommand(scrapeCmd)
}

func buildClient(ctx context.Context, cfg Config, cacheDb *bbolt.DB, httpLog string) (*canvas.Client, error) {
	cache, err := canvas.NewPageCache(cacheDb, cfg.Canvas.Username)
	if err != nil {
		return nil, fmt.Errorf("initialize page cache: %w", err)
	}

	opts := canvas.ClientOptions{
		BaseUrl: cfg.Canvas.BaseUrl,
		Cache:   cache,
	}
	if httpLog != "" {
		opts.Output = restyutil.NewFilesystemOutput(httpLog)
	}

	client, err := canvas.NewClient(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("initialize canvas client: %w", err)
	}

	err = client.Login(ctx, cfg.Canvas.Username, cfg.Canvas.Password)
	if err != nil {
		return nil, fmt.Errorf("login to %s: %w", cfg.Canvas.BaseUrl, err)
	}
	return client, nil
}

func scrapeOnce(ctx context.Context, cfg Config, store grades.Store, cacheDb *bbolt.DB, httpLog string) (scraper.RunSummary, error) {
	client, err := buildClient(ctx, cfg, cacheDb, httpLog)
	if err != nil {
		return scraper.RunSummary{}, err
	}

	s := scraper.NewScraper(client, store, cfg.Student)
	s.RegisterExtractor(extract.NewAssignmentExtractor)
	s.RegisterExtractor(extract.NewCourseGradeExtractor)

	summary, err := s.Run(ctx)
	if err != nil {
		return scraper.RunSummary{}, err
	}

	err = store.SaveRun(ctx, summary)
	if err != nil {
		return scraper.RunSummary{}, fmt.Errorf("record run: %w", err)
	}
	return summary, nil
}

func logRunSummary(ctx context.Context, summary scraper.RunSummary) {
	slog.InfoContext(ctx, "scrape finished",
		"status", summary.Status(),
		"courses", summary.CoursesAttempted,
		"assignments", summary.AssignmentCount,
		"seconds", summary.Duration.Seconds(),
	)
	for course, count := range summary.CourseAssignments {
		slog.InfoContext(ctx, "course scraped", "course", course, "assignments", count)
	}
}

var scrapeCmd = &cobra.Command{
	Use:   "scrape [--http-log <dir>]",
	Short: "Logs into the portal, scrapes every active course and stores the results.",
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

		summary, err := scrapeOnce(ctx, cfg, store, cacheDb, *scrapeHttpLog)
		if err != nil {
			serviceutil.Fatal("scrape failed", err)
		}
		logRunSummary(ctx, summary)
	},
}
