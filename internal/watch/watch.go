// Package watch scrapes a set of accounts on a schedule, keeps their
// snapshots and mails what changed since the previous scrape.
package watch

import (
	"context"
	"fmt"
	"time"

	"gradeportal-backend/internal/components/assert"
	"gradeportal-backend/internal/components/chrono"
	"gradeportal-backend/internal/components/telemetry"
	"gradeportal-backend/internal/districts"
	"gradeportal-backend/internal/gradediff"
	"gradeportal-backend/internal/scrape"
	"gradeportal-backend/internal/snapshot"
)

const (
	report_watch_scrape   = "watch.scrape"
	report_watch_snapshot = "watch.snapshot"
	report_watch_notify   = "watch.notify"
	report_watch_changes  = "watch.changes"
)

type Account struct {
	District  string `json:"district"`
	Username  string `json:"username"`
	Password  string `json:"password"`
	AccountId string `json:"account_id"`
	// Notify lists the addresses mailed when grades change.
	Notify []string `json:"notify"`
}

func (a Account) Credentials() scrape.Credentials {
	return scrape.Credentials{
		Username:  a.Username,
		Password:  a.Password,
		AccountId: a.AccountId,
	}
}

// Sender delivers change notifications, [notify.Notifier] in production.
type Sender interface {
	Notify(ctx context.Context, to []string, result scrape.Result, changes []gradediff.Change) error
}

// Report is what happened to one account in one round.
type Report struct {
	Account Account
	Result  scrape.Result
	// Changes is nil on the first scrape of an account.
	Changes []gradediff.Change
	Pushed  int
	Err     error
}

type Watcher struct {
	registry districts.Registry
	scraper  scrape.Scraper
	store    snapshot.Store
	sender   Sender
	tel      telemetry.API
}

// NewWatcher creates a Watcher, sender may be nil to disable mail.
func NewWatcher(registry districts.Registry, scraper scrape.Scraper, store snapshot.Store, sender Sender, tel telemetry.API) Watcher {
	assert.NotNil(tel)

	return Watcher{
		registry: registry,
		scraper:  scraper,
		store:    store,
		sender:   sender,
		tel:      telemetry.NewScopedAPI("watch", tel),
	}
}

// Jobs resolves the district of every account.
func (w Watcher) Jobs(accounts []Account) ([]scrape.Job, error) {
	jobs := make([]scrape.Job, len(accounts))
	for i, a := range accounts {
		d, ok := w.registry.Find(a.District)
		if !ok {
			return nil, fmt.Errorf("account %s: unknown district '%s'", a.Username, a.District)
		}
		jobs[i] = scrape.Job{District: d, Credentials: a.Credentials()}
	}
	return jobs, nil
}

// RunOnce scrapes every account once. Failures are kept per account in the
// reports, the error is only for accounts that cannot be resolved.
func (w Watcher) RunOnce(ctx context.Context, accounts []Account) ([]Report, error) {
	jobs, err := w.Jobs(accounts)
	if err != nil {
		return nil, err
	}

	outcomes := w.scraper.RunAll(ctx, jobs)
	reports := make([]Report, len(outcomes))
	for i, outcome := range outcomes {
		reports[i] = w.process(ctx, accounts[i], outcome)
	}
	return reports, nil
}

func (w Watcher) process(ctx context.Context, account Account, outcome scrape.Outcome) Report {
	report := Report{Account: account, Result: outcome.Result, Err: outcome.Err}
	if outcome.Err != nil {
		w.tel.ReportWarning(report_watch_scrape, outcome.Err, account.District, account.Username)
		return report
	}
	result := outcome.Result
	key := snapshot.AccountOf(result)

	previous, found, err := w.store.LatestScrape(ctx, key)
	if err != nil {
		report.Err = err
		w.tel.ReportBroken(report_watch_snapshot, err, key)
		return report
	}
	if found {
		report.Changes = gradediff.Diff(previous, result)
		if report.Changes == nil {
			report.Changes = []gradediff.Change{}
		}
		w.tel.ReportCount(report_watch_changes, int64(len(report.Changes)))
	}

	report.Pushed, err = w.store.PushCourses(ctx, key, result.Courses)
	if err != nil {
		report.Err = err
		w.tel.ReportBroken(report_watch_snapshot, err, key)
		return report
	}
	err = w.store.SaveScrape(ctx, result)
	if err != nil {
		report.Err = err
		w.tel.ReportBroken(report_watch_snapshot, err, key)
		return report
	}

	if w.sender != nil && len(report.Changes) > 0 && len(account.Notify) > 0 {
		err = w.sender.Notify(ctx, account.Notify, result, report.Changes)
		if err != nil {
			report.Err = err
			w.tel.ReportBroken(report_watch_notify, err, account.Notify)
		}
	}
	return report
}

// Schedule runs RunOnce on the given cron spec, each round gets at most
// timeout to finish.
func (w Watcher) Schedule(ctx context.Context, cron chrono.CronAPI, spec string, timeout time.Duration, accounts []Account, onRound func([]Report)) error {
	assert.NotNil(cron)

	_, err := w.Jobs(accounts)
	if err != nil {
		return err
	}
	return cron.Cron(spec, func() {
		roundCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()

		reports, err := w.RunOnce(roundCtx, accounts)
		if err != nil {
			w.tel.ReportBroken(report_watch_scrape, err)
			return
		}
		if onRound != nil {
			onRound(reports)
		}
	})
}
