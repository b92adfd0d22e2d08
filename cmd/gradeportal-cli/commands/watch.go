package commands

import (
	"fmt"
	"log/slog"
	"time"

	"gradeportal-backend/internal/components/chrono"
	"gradeportal-backend/internal/components/telemetry"
	"gradeportal-backend/internal/notify"
	"gradeportal-backend/internal/watch"

	"github.com/spf13/cobra"
)

var watchNow bool

func init() {
	watchCmd.Flags().BoolVar(&watchNow, "now", false, "Run a round immediately before waiting for the schedule.")
	rootCmd.AddCommand(watchCmd)
}

func logRound(reports []watch.Report) {
	for _, r := range reports {
		attrs := []any{"district", r.Account.District, "username", r.Account.Username}
		switch {
		case r.Err != nil:
			slog.Error("watch round failed", append(attrs, "err", r.Err)...)
		case r.Changes == nil:
			slog.Info("first scrape recorded", append(attrs, "courses", r.Pushed)...)
		default:
			slog.Info("scrape recorded", append(attrs, "courses", r.Pushed, "changes", len(r.Changes))...)
		}
	}
}

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Scrapes the configured accounts on a schedule, records averages and mails grade changes.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		if len(config.Accounts) == 0 {
			return fmt.Errorf("no accounts configured in %s", configPath)
		}
		timeout, err := time.ParseDuration(config.RoundTimeout)
		if err != nil {
			return fmt.Errorf("round_timeout: %w", err)
		}

		r, err := registry()
		if err != nil {
			return err
		}
		scraper, err := newScraper()
		if err != nil {
			return err
		}
		store, closeStore, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer closeStore()

		var sender watch.Sender
		if config.Smtp != nil {
			sender = notify.NewNotifier(*config.Smtp, tel)
		}
		watcher := watch.NewWatcher(r, scraper, store, sender, tel)

		telemetry.InstrumentPerfStats(ctx, 30*time.Second, tel)

		if watchNow {
			reports, err := watcher.RunOnce(ctx, config.Accounts)
			if err != nil {
				return err
			}
			logRound(reports)
		}

		cron := chrono.NewStandardCron(tel)
		defer cron.Stop()
		err = watcher.Schedule(ctx, cron, config.Schedule, timeout, config.Accounts, logRound)
		if err != nil {
			return err
		}
		slog.Info("watching", "accounts", len(config.Accounts), "schedule", config.Schedule)

		<-ctx.Done()
		return nil
	},
}
