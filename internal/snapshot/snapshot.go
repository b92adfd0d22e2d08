// Package snapshot keeps the history of course averages and the last full
// scrape of every account.
package snapshot

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"gradeportal-backend/internal/components/assert"
	"gradeportal-backend/internal/components/chrono"
	"gradeportal-backend/internal/components/telemetry"
	"gradeportal-backend/internal/gradecalc"
	"gradeportal-backend/internal/portal"
	"gradeportal-backend/internal/scrape"

	sq "github.com/Masterminds/squirrel"
)

//go:embed schema.sql
var Schema string

const (
	report_db_query     = "db.query"
	report_push_average = "snapshot.push-average"
	report_save_scrape  = "snapshot.save-scrape"
)

// Account identifies whose grades a snapshot belongs to.
type Account struct {
	District string
	Username string
}

func AccountOf(r scrape.Result) Account {
	return Account{District: r.District, Username: r.Username}
}

type Point struct {
	Day   time.Time
	Value float64
}

type Series struct {
	CourseId    string
	CourseTitle string
	Points      []Point
}

type Store struct {
	db     *sql.DB
	makeTx MakeTx
	time   chrono.TimeAPI
	tel    telemetry.API
}

func NewStore(db *sql.DB, time chrono.TimeAPI, tel telemetry.API) Store {
	assert.NotNil(db)
	assert.NotNil(time)
	assert.NotNil(tel)

	return Store{
		db:     db,
		makeTx: NewMakeTx(db),
		time:   time,
		tel:    telemetry.NewScopedAPI("snapshot", tel),
	}
}

func (s Store) today() time.Time {
	return chrono.StartOfDay(s.time.Now())
}

func (s Store) latestDay(ctx context.Context, runner sq.BaseRunner, account Account, courseId string) (day int64, found bool, err error) {
	var latest sql.NullInt64
	err = sq.Select("max(day)").
		From("course_average").
		Where(sq.Eq{
			"district":  account.District,
			"username":  account.Username,
			"course_id": courseId,
		}).
		RunWith(runner).
		QueryRowContext(ctx).
		Scan(&latest)
	if err != nil {
		return 0, false, err
	}
	return latest.Int64, latest.Valid, nil
}

func (s Store) push(ctx context.Context, tx *sql.Tx, account Account, courseId, courseTitle string, value float64) error {
	today := s.today()

	latest, found, err := s.latestDay(ctx, tx, account, courseId)
	if err != nil {
		s.tel.ReportBroken(report_db_query, err, "latest day", account, courseId)
		return err
	}
	if found && latest > today.Unix() {
		err := fmt.Errorf(
			"current date %s is before the most recent snapshot %s",
			today.Format(time.DateOnly),
			time.Unix(latest, 0).In(chrono.Central()).Format(time.DateOnly),
		)
		s.tel.ReportBroken(report_push_average, err, account, courseId, value)
		return err
	}

	_, err = sq.Insert("course_average").
		Columns("district", "username", "course_id", "course_title", "day", "value").
		Values(account.District, account.Username, courseId, courseTitle, today.Unix(), value).
		Suffix("on conflict (district, username, course_id, day) do update set value = excluded.value, course_title = excluded.course_title").
		RunWith(tx).
		ExecContext(ctx)
	if err != nil {
		s.tel.ReportBroken(report_db_query, err, "insert course_average", account, courseId)
		return err
	}
	return nil
}

// Push records today's average of a course. Pushing again on the same day
// replaces the value.
func (s Store) Push(ctx context.Context, account Account, courseId, courseTitle string, value float64) error {
	tx, discard, commit, err := s.makeTx(ctx)
	if err != nil {
		s.tel.ReportBroken(report_db_query, fmt.Errorf("make tx: %w", err))
		return err
	}
	defer discard()

	err = s.push(ctx, tx, account, courseId, courseTitle, value)
	if err != nil {
		return err
	}
	return commit()
}

// PushCourses records today's current average of every course that has
// one. It returns the number of averages recorded.
func (s Store) PushCourses(ctx context.Context, account Account, courses []portal.Course) (int, error) {
	tx, discard, commit, err := s.makeTx(ctx)
	if err != nil {
		s.tel.ReportBroken(report_db_query, fmt.Errorf("make tx: %w", err))
		return 0, err
	}
	defer discard()

	pushed := 0
	for _, c := range courses {
		average := gradecalc.CurrentAverage(c)
		if average == nil {
			continue
		}
		courseId := c.Id
		if courseId == "" {
			courseId = c.Title
		}
		err = s.push(ctx, tx, account, courseId, c.Title, *average)
		if err != nil {
			return 0, err
		}
		pushed++
	}

	err = commit()
	if err != nil {
		return 0, err
	}
	return pushed, nil
}

// Pull returns the averages of one course, oldest first.
func (s Store) Pull(ctx context.Context, account Account, courseId string) ([]Point, error) {
	rows, err := sq.Select("day", "value").
		From("course_average").
		Where(sq.Eq{
			"district":  account.District,
			"username":  account.Username,
			"course_id": courseId,
		}).
		OrderBy("day").
		RunWith(s.db).
		QueryContext(ctx)
	if err != nil {
		s.tel.ReportBroken(report_db_query, err, "select course_average", account, courseId)
		return nil, err
	}
	defer rows.Close()

	var points []Point
	for rows.Next() {
		var day int64
		var value float64
		err = rows.Scan(&day, &value)
		if err != nil {
			return nil, err
		}
		points = append(points, Point{
			Day:   time.Unix(day, 0).In(chrono.Central()),
			Value: value,
		})
	}
	return points, rows.Err()
}

// History returns the series of every course of an account ordered by
// course title.
func (s Store) History(ctx context.Context, account Account) ([]Series, error) {
	rows, err := sq.Select("course_id", "course_title", "day", "value").
		From("course_average").
		Where(sq.Eq{
			"district": account.District,
			"username": account.Username,
		}).
		OrderBy("course_id", "day").
		RunWith(s.db).
		QueryContext(ctx)
	if err != nil {
		s.tel.ReportBroken(report_db_query, err, "select course_average", account)
		return nil, err
	}
	defer rows.Close()

	var out []Series
	for rows.Next() {
		var courseId, courseTitle string
		var day int64
		var value float64
		err = rows.Scan(&courseId, &courseTitle, &day, &value)
		if err != nil {
			return nil, err
		}
		if len(out) == 0 || out[len(out)-1].CourseId != courseId {
			out = append(out, Series{CourseId: courseId})
		}
		series := &out[len(out)-1]
		// the title of the latest day wins
		series.CourseTitle = courseTitle
		series.Points = append(series.Points, Point{
			Day:   time.Unix(day, 0).In(chrono.Central()),
			Value: value,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	slices.SortStableFunc(out, func(a, b Series) int {
		return strings.Compare(a.CourseTitle, b.CourseTitle)
	})
	return out, nil
}

// SaveScrape replaces the stored latest scrape of the result's account.
func (s Store) SaveScrape(ctx context.Context, result scrape.Result) error {
	data, err := json.Marshal(result)
	if err != nil {
		s.tel.ReportBroken(report_save_scrape, fmt.Errorf("json marshal: %w", err))
		return err
	}

	_, err = sq.Insert("latest_scrape").
		Columns("district", "username", "scraped_at", "data").
		Values(result.District, result.Username, result.ScrapedAt.Unix(), string(data)).
		Suffix("on conflict (district, username) do update set scraped_at = excluded.scraped_at, data = excluded.data").
		RunWith(s.db).
		ExecContext(ctx)
	if err != nil {
		s.tel.ReportBroken(report_db_query, err, "insert latest_scrape", result.District, result.Username)
		return err
	}
	return nil
}

// LatestScrape returns the stored scrape of an account, found is false
// when there is none.
func (s Store) LatestScrape(ctx context.Context, account Account) (result scrape.Result, found bool, err error) {
	var data string
	err = sq.Select("data").
		From("latest_scrape").
		Where(sq.Eq{
			"district": account.District,
			"username": account.Username,
		}).
		RunWith(s.db).
		QueryRowContext(ctx).
		Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return scrape.Result{}, false, nil
	}
	if err != nil {
		s.tel.ReportBroken(report_db_query, err, "select latest_scrape", account)
		return scrape.Result{}, false, err
	}

	err = json.Unmarshal([]byte(data), &result)
	if err != nil {
		s.tel.ReportBroken(report_save_scrape, fmt.Errorf("json unmarshal: %w", err), account)
		return scrape.Result{}, false, err
	}
	return result, true, nil
}
