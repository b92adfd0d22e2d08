// Package scrape runs the whole conversation with a portal for one account:
// log in, pick the student, read the grade summary and then the class
// grades of every cycle that has them.
package scrape

import (
	"context"
	"fmt"
	"strings"
	"time"

	"gradeportal-backend/internal/components/assert"
	"gradeportal-backend/internal/components/chrono"
	"gradeportal-backend/internal/components/telemetry"
	"gradeportal-backend/internal/portal"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/errgroup"
)

var tracer = otel.Tracer("internal/scrape")

const (
	report_scrape_new_transport = "scrape.new-transport"
	report_scrape_retry         = "scrape.retry"
	report_scrape_run           = "scrape.run"
	report_scrape_missing_cycle = "scrape.missing-cycle"
	report_scrape_class_count   = "scrape.class-grades"
)

type Credentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
	// AccountId picks the student when the login covers several of them, it
	// may be left empty when there is only one.
	AccountId string `json:"account_id"`
}

type Job struct {
	District    portal.District
	Credentials Credentials
}

// Result is everything read from the portal in one run.
type Result struct {
	District    string               `json:"district"`
	Username    string               `json:"username"`
	AccountId   string               `json:"account_id"`
	ScrapedAt   time.Time            `json:"scraped_at"`
	Courses     []portal.Course      `json:"courses"`
	ClassGrades []portal.ClassGrades `json:"class_grades"`
}

// Outcome is the result of one job of RunAll.
type Outcome struct {
	Job    Job
	Result Result
	Err    error
}

// TransportFactory makes the transport of a single session, sessions must
// not share cookie jars.
type TransportFactory func(d portal.District) (portal.Transport, error)

// RestyTransports is the TransportFactory for real portals.
func RestyTransports(tel telemetry.API, dumpDir string) TransportFactory {
	return func(d portal.District) (portal.Transport, error) {
		opts := portal.DefaultRestyTransportOptions(d.Hosts)
		opts.DumpDir = dumpDir
		return portal.NewRestyTransport(opts, tel)
	}
}

type Options struct {
	Retry        RetryPolicy
	NewTransport TransportFactory
	Time         chrono.TimeAPI
	// Concurrency bounds the number of jobs RunAll runs at once.
	Concurrency int
}

type Scraper struct {
	retry        RetryPolicy
	newTransport TransportFactory
	time         chrono.TimeAPI
	concurrency  int
	tel          telemetry.API
	sessionTel   telemetry.API
}

func NewScraper(opts Options, tel telemetry.API) Scraper {
	assert.NotNil(opts.NewTransport)
	assert.NotNil(tel)

	if opts.Time == nil {
		opts.Time = chrono.NewStandardTime()
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 4
	}
	return Scraper{
		retry:        opts.Retry,
		newTransport: opts.NewTransport,
		time:         opts.Time,
		concurrency:  opts.Concurrency,
		tel:          telemetry.NewScopedAPI("scrape", tel),
		sessionTel:   tel,
	}
}

func (s Scraper) do(ctx context.Context, op string, fn func() error) error {
	return s.retry.Do(ctx, fn, func(err error, wait time.Duration) {
		s.tel.ReportWarning(report_scrape_retry, op, err, wait.String())
	})
}

// Run scrapes one account with a fresh session.
func (s Scraper) Run(ctx context.Context, job Job) (result Result, err error) {
	ctx, span := tracer.Start(ctx, "Scraper.Run")
	span.SetAttributes(attribute.String("district", job.District.Name))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			s.tel.ReportBroken(report_scrape_run, err, job.District.Name, job.Credentials.Username)
		}
		span.End()
	}()

	transport, err := s.newTransport(job.District)
	if err != nil {
		s.tel.ReportBroken(report_scrape_new_transport, err, job.District.Name)
		return Result{}, err
	}
	session := portal.NewSession(job.District, transport, s.sessionTel)
	span.SetAttributes(attribute.String("session", session.Id()))

	err = s.do(ctx, "login", func() error {
		return session.Login(ctx, job.Credentials.Username, job.Credentials.Password)
	})
	if err != nil {
		return Result{}, err
	}

	accountId := job.Credentials.AccountId
	if session.State() == portal.StateAwaitingDisambiguation {
		accountId, err = pickAccount(session.Accounts(), accountId)
		if err != nil {
			return Result{}, err
		}
		err = s.do(ctx, "disambiguate", func() error {
			return session.Disambiguate(ctx, accountId)
		})
		if err != nil {
			return Result{}, err
		}
	}

	courses, err := s.loadGrades(ctx, session)
	if err != nil {
		return Result{}, err
	}
	classGrades, err := s.loadAllClassGrades(ctx, session, courses)
	if err != nil {
		return Result{}, err
	}
	s.tel.ReportCount(report_scrape_class_count, int64(len(classGrades)))

	return Result{
		District:    job.District.Name,
		Username:    job.Credentials.Username,
		AccountId:   accountId,
		ScrapedAt:   s.time.Now(),
		Courses:     courses,
		ClassGrades: classGrades,
	}, nil
}

func pickAccount(accounts []portal.Account, accountId string) (string, error) {
	if accountId != "" {
		return accountId, nil
	}
	if len(accounts) == 1 {
		return accounts[0].Id, nil
	}
	if len(accounts) == 0 {
		return "", fmt.Errorf("login covers several students but none could be listed, an account id must be given")
	}
	names := make([]string, len(accounts))
	for i, a := range accounts {
		names[i] = fmt.Sprintf("%s (%s)", a.Name, a.Id)
	}
	return "", fmt.Errorf(
		"login covers %d students, an account id must be given: %s",
		len(accounts), strings.Join(names, ", "),
	)
}

func (s Scraper) loadGrades(ctx context.Context, session *portal.Session) ([]portal.Course, error) {
	var courses []portal.Course
	err := s.do(ctx, "load grades", func() error {
		var err error
		courses, err = session.LoadGrades(ctx)
		return err
	})
	return courses, err
}

type cycleRef struct {
	courseKey     string
	courseId      string
	semesterIndex int
	cycleIndex    int
}

func courseKey(c portal.Course) string {
	if c.Id != "" {
		return c.Id
	}
	return c.Title
}

func findCycle(courses []portal.Course, ref cycleRef) (portal.Cycle, bool) {
	for _, c := range courses {
		if courseKey(c) == ref.courseKey {
			return c.FindCycle(ref.semesterIndex, ref.cycleIndex)
		}
	}
	return portal.Cycle{}, false
}

func (s Scraper) loadAllClassGrades(ctx context.Context, session *portal.Session, courses []portal.Course) ([]portal.ClassGrades, error) {
	var refs []cycleRef
	for _, c := range courses {
		for _, semester := range c.Semesters {
			for _, cycle := range semester.Cycles {
				if cycle.UrlHash == "" {
					continue
				}
				refs = append(refs, cycleRef{
					courseKey:     courseKey(c),
					courseId:      c.Id,
					semesterIndex: semester.Index,
					cycleIndex:    cycle.Index,
				})
			}
		}
	}

	requiresSummary := session.District().ClassGradesRequiresAverageLoaded
	summaryFresh := true
	var out []portal.ClassGrades
	for _, ref := range refs {
		if requiresSummary && !summaryFresh {
			reloaded, err := s.loadGrades(ctx, session)
			if err != nil {
				return nil, err
			}
			courses = reloaded
			summaryFresh = true
		}

		cycle, ok := findCycle(courses, ref)
		if !ok || cycle.UrlHash == "" {
			s.tel.ReportWarning(report_scrape_missing_cycle, ref.courseKey, ref.semesterIndex, ref.cycleIndex)
			continue
		}

		var grades portal.ClassGrades
		err := s.do(ctx, "load class grades", func() error {
			var err error
			grades, err = session.LoadClassGrades(ctx, portal.ClassGradesRequest{
				CourseId:      ref.courseId,
				SemesterIndex: ref.semesterIndex,
				Cycle:         cycle,
			})
			return err
		})
		if err != nil {
			return nil, err
		}
		summaryFresh = false
		out = append(out, grades)
	}
	return out, nil
}

// RunAll runs every job with at most Concurrency of them at a time. A failed
// job does not stop the others, outcomes are in the order of jobs.
func (s Scraper) RunAll(ctx context.Context, jobs []Job) []Outcome {
	outcomes := make([]Outcome, len(jobs))

	var group errgroup.Group
	group.SetLimit(s.concurrency)
	for i, job := range jobs {
		group.Go(func() error {
			result, err := s.Run(ctx, job)
			outcomes[i] = Outcome{Job: job, Result: result, Err: err}
			return nil
		})
	}
	group.Wait()

	return outcomes
}
