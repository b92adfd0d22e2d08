package scrape

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"gradeportal-backend/internal/components/chrono"
	"gradeportal-backend/internal/components/telemetry"
	"gradeportal-backend/internal/portal"

	"github.com/PuerkitoBio/goquery"
	"github.com/stretchr/testify/require"
)

func page(n int, body string) []byte {
	return []byte(fmt.Sprintf(`<html><body><form method="post">
		<input type="hidden" name="__EVENTTARGET" value="" />
		<input type="hidden" name="__EVENTARGUMENT" value="" />
		<input type="hidden" name="__VIEWSTATE" value="vs-%d" />
		<input type="hidden" name="__EVENTVALIDATION" value="ev-%d" />
		%s
	</form></body></html>`, n, n, body))
}

const summaryBody = `<table id="grades">
	<tr data-course="c1"><td data-hash="hash-1">91</td><td data-hash="hash-2">88</td></tr>
	<tr data-course="c2"><td data-hash="hash-3">79</td><td></td></tr>
</table>`

// fakePortal serves class grades only when the previous page was the
// summary if strict is set.
type fakePortal struct {
	strict bool

	mutex       sync.Mutex
	n           int
	lastSummary bool
	log         []string
	// failures is the number of 503s still to serve per "METHOD path".
	failures map[string]int
}

func (f *fakePortal) Send(ctx context.Context, req portal.Request) (portal.Response, error) {
	f.mutex.Lock()
	defer f.mutex.Unlock()

	path := req.Url[strings.LastIndex(req.Url, "/"):]
	key := fmt.Sprintf("%s %s", req.Method, path)
	f.log = append(f.log, key)
	f.n++

	if f.failures[key] > 0 {
		f.failures[key]--
		return portal.Response{Status: 503}, nil
	}

	ok := func(body string, summary bool) (portal.Response, error) {
		f.lastSummary = summary
		return portal.Response{Status: 200, Body: page(f.n, body)}, nil
	}

	switch key {
	case "POST /login":
		user, _ := req.Query.Get("user")
		switch user {
		case "wrong":
			return ok(`<span id="error">Invalid username or password</span>`, false)
		case "parent":
			return ok(`<select id="accounts"><option value="s1">Alice</option><option value="s2">Bob</option></select>`, false)
		case "single":
			return ok(`<select id="accounts"><option value="s1">Alice</option></select>`, false)
		}
		return ok(`<h1>Welcome</h1>`, false)
	case "POST /select":
		return ok(`<h1>Welcome</h1>`, false)
	case "GET /grades":
		return ok(summaryBody, true)
	case "POST /grades":
		if f.strict && !f.lastSummary {
			return portal.Response{Status: 500}, nil
		}
		target, _ := req.Query.Get(portal.FieldEventTarget)
		return ok(fmt.Sprintf(`<h1 class="class">%s</h1>`, target), false)
	}
	return portal.Response{Status: 404}, nil
}

func (f *fakePortal) Log() []string {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	return append([]string(nil), f.log...)
}

func testDistrict(requiresSummary bool) portal.District {
	return portal.District{
		Name:                             "Test ISD",
		Driver:                           "test",
		Hosts:                            []string{"portal.test"},
		ExamWeight:                       15,
		Semesters:                        1,
		CyclesPerSemester:                2,
		ClassGradesRequiresAverageLoaded: requiresSummary,
		API: portal.GradeAPI{
			Login: portal.LoginLoader{
				Url:    "https://portal.test/login",
				Method: portal.MethodPost,
				MakeQuery: func(username, password string, state portal.PageState) portal.Query {
					return portal.NewQuery(state, portal.Field{Name: "user", Value: username}, portal.Field{Name: "pass", Value: password})
				},
			},
			Disambiguate: portal.DisambiguateLoader{
				Url:    "https://portal.test/select",
				Method: portal.MethodPost,
				IsRequired: func(doc *goquery.Document) bool {
					return doc.Find("#accounts").Length() > 0
				},
				ListAccounts: func(doc *goquery.Document) ([]portal.Account, error) {
					var accounts []portal.Account
					doc.Find("#accounts option").Each(func(_ int, s *goquery.Selection) {
						id, _ := s.Attr("value")
						accounts = append(accounts, portal.Account{Id: id, Name: s.Text()})
					})
					return accounts, nil
				},
				MakeQuery: func(accountId string, state portal.PageState) portal.Query {
					return portal.NewQuery(state, portal.Field{Name: "account", Value: accountId})
				},
			},
			Grades: portal.GradeLoader{
				Url:    "https://portal.test/grades",
				Method: portal.MethodGet,
			},
			ClassGrades: portal.ClassGradeLoader{
				Url:    "https://portal.test/grades",
				Method: portal.MethodPost,
				MakeQuery: func(urlHash string, state portal.PageState) portal.Query {
					return portal.NewQuery(state).Set(portal.FieldEventTarget, urlHash)
				},
			},
		},
		Parser: portal.Parser{
			IsLoginRejected: func(doc *goquery.Document) (string, bool) {
				banner := doc.Find("#error")
				return strings.TrimSpace(banner.Text()), banner.Length() > 0
			},
			ParseGrades: func(ctx context.Context, doc *goquery.Document, d portal.District) ([]portal.Course, error) {
				var courses []portal.Course
				doc.Find("#grades tr").Each(func(_ int, row *goquery.Selection) {
					id, _ := row.Attr("data-course")
					var cycles []portal.Cycle
					row.Find("td").Each(func(i int, cell *goquery.Selection) {
						hash, _ := cell.Attr("data-hash")
						cycles = append(cycles, portal.Cycle{Index: i, UrlHash: hash})
					})
					courses = append(courses, portal.Course{
						Title:     strings.ToUpper(id),
						Id:        id,
						Semesters: []portal.Semester{{Index: 0, Cycles: cycles}},
					})
				})
				if len(courses) == 0 {
					return nil, portal.NewParseError("parse grades", "course", "no rows")
				}
				return courses, nil
			},
			ParseClassGrades: func(ctx context.Context, doc *goquery.Document, c portal.ClassGradesContext) (portal.ClassGrades, error) {
				return portal.ClassGrades{
					Title:         doc.Find("h1.class").Text(),
					UrlHash:       c.UrlHash,
					SemesterIndex: c.SemesterIndex,
					CycleIndex:    c.CycleIndex,
				}, nil
			},
		},
	}
}

var fastRetry = RetryPolicy{
	MaxRetries:      3,
	InitialInterval: time.Millisecond,
	MaxInterval:     5 * time.Millisecond,
}

var scrapedAt = time.Date(2024, time.October, 11, 16, 30, 0, 0, time.UTC)

func newTestScraper(retry RetryPolicy, transports func() portal.Transport) (Scraper, *telemetry.Recorder) {
	rec := &telemetry.Recorder{}
	s := NewScraper(Options{
		Retry: retry,
		NewTransport: func(d portal.District) (portal.Transport, error) {
			return transports(), nil
		},
		Time:        chrono.FixedTime{At: scrapedAt},
		Concurrency: 2,
	}, rec)
	return s, rec
}

func classTitles(grades []portal.ClassGrades) []string {
	titles := make([]string, len(grades))
	for i, g := range grades {
		titles[i] = g.Title
	}
	return titles
}

func TestRunReloadsSummaryBeforeClassGrades(t *testing.T) {
	fake := &fakePortal{strict: true}
	s, _ := newTestScraper(RetryPolicy{}, func() portal.Transport { return fake })

	result, err := s.Run(context.Background(), Job{
		District:    testDistrict(true),
		Credentials: Credentials{Username: "student", Password: "pw"},
	})
	require.NoError(t, err)
	require.Equal(t, "Test ISD", result.District)
	require.Equal(t, "student", result.Username)
	require.True(t, result.ScrapedAt.Equal(scrapedAt))
	require.Len(t, result.Courses, 2)
	require.Equal(t, []string{"hash-1", "hash-2", "hash-3"}, classTitles(result.ClassGrades))
	require.Equal(t, 1, result.ClassGrades[1].CycleIndex)

	require.Equal(t, []string{
		"POST /login",
		"GET /grades",
		"POST /grades",
		"GET /grades",
		"POST /grades",
		"GET /grades",
		"POST /grades",
	}, fake.Log())
}

func TestRunWithoutSummaryRequirement(t *testing.T) {
	fake := &fakePortal{}
	s, _ := newTestScraper(RetryPolicy{}, func() portal.Transport { return fake })

	result, err := s.Run(context.Background(), Job{
		District:    testDistrict(false),
		Credentials: Credentials{Username: "student", Password: "pw"},
	})
	require.NoError(t, err)
	require.Equal(t, []string{"hash-1", "hash-2", "hash-3"}, classTitles(result.ClassGrades))
	require.Equal(t, []string{
		"POST /login",
		"GET /grades",
		"POST /grades",
		"POST /grades",
		"POST /grades",
	}, fake.Log())
}

func TestRunRetriesTransportErrors(t *testing.T) {
	fake := &fakePortal{strict: true, failures: map[string]int{
		"GET /grades":  1,
		"POST /grades": 2,
	}}
	s, rec := newTestScraper(fastRetry, func() portal.Transport { return fake })

	result, err := s.Run(context.Background(), Job{
		District:    testDistrict(true),
		Credentials: Credentials{Username: "student", Password: "pw"},
	})
	require.NoError(t, err)
	require.Len(t, result.ClassGrades, 3)
	require.True(t, rec.Has(telemetry.ReportKindWarning, report_scrape_retry))
}

func TestRunGivesUpAfterRetries(t *testing.T) {
	fake := &fakePortal{failures: map[string]int{"GET /grades": 10}}
	s, _ := newTestScraper(fastRetry, func() portal.Transport { return fake })

	_, err := s.Run(context.Background(), Job{
		District:    testDistrict(false),
		Credentials: Credentials{Username: "student", Password: "pw"},
	})
	var transportErr *portal.TransportError
	require.ErrorAs(t, err, &transportErr)
	require.Equal(t, 503, transportErr.Status)
	// one attempt plus three retries
	require.Equal(t, 4, strings.Count(strings.Join(fake.Log(), "\n"), "GET /grades"))
}

func TestRunWithoutRetryPolicy(t *testing.T) {
	fake := &fakePortal{failures: map[string]int{"POST /login": 1}}
	s, _ := newTestScraper(RetryPolicy{}, func() portal.Transport { return fake })

	_, err := s.Run(context.Background(), Job{
		District:    testDistrict(false),
		Credentials: Credentials{Username: "student", Password: "pw"},
	})
	var transportErr *portal.TransportError
	require.ErrorAs(t, err, &transportErr)
	require.Equal(t, []string{"POST /login"}, fake.Log())
}

func TestRunDoesNotRetryRejectedLogin(t *testing.T) {
	fake := &fakePortal{}
	s, rec := newTestScraper(fastRetry, func() portal.Transport { return fake })

	_, err := s.Run(context.Background(), Job{
		District:    testDistrict(false),
		Credentials: Credentials{Username: "wrong", Password: "pw"},
	})
	var authErr *portal.AuthenticationError
	require.ErrorAs(t, err, &authErr)
	require.Equal(t, []string{"POST /login"}, fake.Log())
	require.True(t, rec.Has(telemetry.ReportKindBroken, report_scrape_run))
}

func TestRunDisambiguation(t *testing.T) {
	district := testDistrict(false)

	fake := &fakePortal{}
	s, _ := newTestScraper(RetryPolicy{}, func() portal.Transport { return fake })
	_, err := s.Run(context.Background(), Job{
		District:    district,
		Credentials: Credentials{Username: "parent", Password: "pw"},
	})
	require.ErrorContains(t, err, "Alice (s1), Bob (s2)")

	fake = &fakePortal{}
	result, err := s.Run(context.Background(), Job{
		District:    district,
		Credentials: Credentials{Username: "parent", Password: "pw", AccountId: "s2"},
	})
	require.NoError(t, err)
	require.Equal(t, "s2", result.AccountId)
	require.Equal(t, "POST /select", fake.Log()[1])

	fake = &fakePortal{}
	result, err = s.Run(context.Background(), Job{
		District:    district,
		Credentials: Credentials{Username: "single", Password: "pw"},
	})
	require.NoError(t, err)
	require.Equal(t, "s1", result.AccountId)
}

func TestRunUnlistedAccounts(t *testing.T) {
	district := testDistrict(false)
	district.API.Disambiguate.ListAccounts = func(doc *goquery.Document) ([]portal.Account, error) {
		return nil, portal.NewParseError("list accounts", "account", "student list changed")
	}

	fake := &fakePortal{}
	s, _ := newTestScraper(RetryPolicy{}, func() portal.Transport { return fake })
	result, err := s.Run(context.Background(), Job{
		District:    district,
		Credentials: Credentials{Username: "parent", Password: "pw", AccountId: "s2"},
	})
	require.NoError(t, err)
	require.Equal(t, "s2", result.AccountId)

	fake = &fakePortal{}
	_, err = s.Run(context.Background(), Job{
		District:    district,
		Credentials: Credentials{Username: "parent", Password: "pw"},
	})
	require.ErrorContains(t, err, "none could be listed")
}

func TestRunCancelled(t *testing.T) {
	fake := &fakePortal{failures: map[string]int{"POST /login": 100}}
	s, _ := newTestScraper(RetryPolicy{
		MaxRetries:      100,
		InitialInterval: time.Hour,
		MaxInterval:     time.Hour,
	}, func() portal.Transport { return fake })

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := s.Run(ctx, Job{
		District:    testDistrict(false),
		Credentials: Credentials{Username: "student", Password: "pw"},
	})
	var transportErr *portal.TransportError
	require.ErrorAs(t, err, &transportErr)
}

func TestRunAll(t *testing.T) {
	var mutex sync.Mutex
	var portals []*fakePortal
	s, _ := newTestScraper(RetryPolicy{}, func() portal.Transport {
		mutex.Lock()
		defer mutex.Unlock()
		fake := &fakePortal{strict: true}
		portals = append(portals, fake)
		return fake
	})

	district := testDistrict(true)
	jobs := []Job{
		{District: district, Credentials: Credentials{Username: "a", Password: "pw"}},
		{District: district, Credentials: Credentials{Username: "wrong", Password: "pw"}},
		{District: district, Credentials: Credentials{Username: "c", Password: "pw"}},
	}
	outcomes := s.RunAll(context.Background(), jobs)
	require.Len(t, outcomes, 3)
	require.Len(t, portals, 3)

	require.NoError(t, outcomes[0].Err)
	require.Equal(t, "a", outcomes[0].Result.Username)
	require.Len(t, outcomes[0].Result.ClassGrades, 3)

	var authErr *portal.AuthenticationError
	require.True(t, errors.As(outcomes[1].Err, &authErr))
	require.Equal(t, "wrong", outcomes[1].Job.Credentials.Username)

	require.NoError(t, outcomes[2].Err)
	require.Equal(t, "c", outcomes[2].Result.Username)
}
