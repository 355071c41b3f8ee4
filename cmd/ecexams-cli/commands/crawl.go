package commands

import (
	"log/slog"
	"os"

	"ecexams-crawler/lib/events"
	"ecexams-crawler/lib/restyutil"
	"ecexams-crawler/lib/scrapers/ecexams"
	"ecexams-crawler/lib/serviceutil"
	"ecexams-crawler/services/crawler"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

var (
	crawlGrades    *[]string
	crawlYears     *[]string
	crawlOut       *string
	crawlThreads   *int
	crawlDryRun    *bool
	crawlDebugDump *string
)

func init() {
	crawlGrades = crawlCmd.Flags().StringSlice("grade", nil, "Only crawl sessions for these grades; bare numbers mean \"Grade N\".")
	crawlYears = crawlCmd.Flags().StringSlice("year", nil, "Only crawl sessions from these years, e.g. 2024.")
	crawlOut = crawlCmd.Flags().String("out", crawler.DefaultOutputRoot, "The directory to download papers into.")
	crawlThreads = crawlCmd.Flags().Int("threads", crawler.DefaultConcurrency, "Parallel downloads, clamped between 1 and 10.")
	crawlDryRun = crawlCmd.Flags().Bool("dry-run", false, "List what would be downloaded without writing to disk.")
	crawlDebugDump = crawlCmd.Flags().String("debug-dump", "", "Write HTTP transcripts to this directory; needs --verbose.")
	rootCmd.AddCommand(crawlCmd)
}

var crawlCmd = &cobra.Command{
	Use:   "crawl [--grade 12] [--year 2024] [--out downloads] [--dry-run]",
	Short: "Crawls the examination archive and downloads every matching paper.",
	Run: func(cmd *cobra.Command, args []string) {
		options := ecexams.ClientOptions{}
		if *crawlDebugDump != "" {
			output, err := restyutil.NewFilesystemOutput(*crawlDebugDump)
			if err != nil {
				serviceutil.Fatal("failed to prepare debug dump directory", err)
			}
			options.DebugOutput = output
		}

		svc := crawler.NewService(options)
		ctx := serviceutil.SignalContext()

		job, err := svc.Start(ctx, crawler.JobConfig{
			Filters: ecexams.Filters{
				Grades: ecexams.ExpandGradeFilters(*crawlGrades),
				Years:  ecexams.CleanYearFilters(*crawlYears),
			},
			OutputRoot:  *crawlOut,
			DryRun:      *crawlDryRun,
			Concurrency: *crawlThreads,
		})
		if err != nil {
			serviceutil.Fatal("failed to start the crawl", err)
		}

		go func() {
			<-ctx.Done()
			slog.Warn("stop requested, letting in-flight downloads finish...")
			svc.Stop()
		}()

		var counts events.Counts
		for ev := range job.Events() {
			if ev.Kind == events.KindDone {
				counts = *ev.Counts
				continue
			}
			renderEvent(ev)
		}

		renderSummary(counts, *crawlDryRun)
		if job.State() == crawler.StateFailed {
			os.Exit(1)
		}
	},
}

func renderEvent(ev events.Event) {
	switch ev.Kind {
	case events.KindWarn:
		slog.Warn(ev.Message)
	case events.KindError:
		slog.Error(ev.Message)
	case events.KindProgress:
		if ev.Total > 0 {
			slog.Debug("downloading", "done", ev.Done, "total", ev.Total)
		} else {
			slog.Debug("scanning", "files", ev.Scanned)
		}
	default:
		slog.Info(ev.Message)
	}
}

func renderSummary(counts events.Counts, dryRun bool) {
	t := table.NewWriter()
	t.SetStyle(table.StyleRounded)
	t.SetOutputMirror(os.Stdout)
	t.AppendHeader(table.Row{"Outcome", "Files"})
	if dryRun {
		t.AppendRow(table.Row{"Would download", counts.DryRun})
	} else {
		t.AppendRow(table.Row{"Downloaded", counts.Downloaded})
	}
	t.AppendRow(table.Row{"Skipped", counts.Skipped})
	t.AppendRow(table.Row{"Failed", counts.Failed})
	t.AppendFooter(table.Row{"Total", counts.Total()})
	t.Render()
}
