package portal

import (
	"context"
	"errors"
	"fmt"
	"net/url"

	"github.com/PuerkitoBio/goquery"
)

type Method string

const (
	MethodGet  Method = "GET"
	MethodPost Method = "POST"
)

// ColumnOffsets are the positions of the cells of a grade summary row.
// Grades is the first of the per cycle / exam / semester grade columns.
type ColumnOffsets struct {
	Title   int
	Teacher int
	Period  int
	Grades  int
}

type LoginLoader struct {
	Url    string
	Method Method
	// Bootstrap fetches the login page first so the login post can replay
	// its page state.
	Bootstrap bool
	MakeQuery func(username, password string, state PageState) Query
}

type DisambiguateLoader struct {
	Url        string
	Method     Method
	IsRequired func(doc *goquery.Document) bool
	// ListAccounts is optional.
	ListAccounts func(doc *goquery.Document) ([]Account, error)
	MakeQuery    func(accountId string, state PageState) Query
}

type GradeLoader struct {
	Url    string
	Method Method
	// MakeQuery is optional, a nil MakeQuery sends no fields.
	MakeQuery func(state PageState) Query
}

type ClassGradeLoader struct {
	Url       string
	Method    Method
	MakeQuery func(urlHash string, state PageState) Query
}

type GradeAPI struct {
	Login        LoginLoader
	Disambiguate DisambiguateLoader
	Grades       GradeLoader
	ClassGrades  ClassGradeLoader
}

// ClassGradesContext is what a class grades parser knows besides the page.
type ClassGradesContext struct {
	CourseId      string
	UrlHash       string
	SemesterIndex int
	CycleIndex    int
}

type Parser struct {
	// IsLoginRejected reports whether the login response is the login page
	// again with an error, reason is the portal's message if it has one.
	IsLoginRejected  func(doc *goquery.Document) (reason string, rejected bool)
	ParseGrades      func(ctx context.Context, doc *goquery.Document, district District) ([]Course, error)
	ParseClassGrades func(ctx context.Context, doc *goquery.Document, c ClassGradesContext) (ClassGrades, error)
}

// District binds a Session to one portal. It is plain configuration, two
// backend families differ only in the values held here.
type District struct {
	Name   string
	Driver string
	// Hosts are the portal hostnames, used for lookup by url.
	Hosts []string
	// ExamWeight is the percent of a semester average held by the exam.
	ExamWeight        float64
	Columns           ColumnOffsets
	Semesters         int
	CyclesPerSemester int
	// ClassGradesRequiresAverageLoaded is set for portals that render class
	// grades relative to the last viewed summary page.
	ClassGradesRequiresAverageLoaded bool

	API    GradeAPI
	Parser Parser
}

func (d District) Validate() error {
	var errs []error
	check := func(ok bool, what string) {
		if !ok {
			errs = append(errs, fmt.Errorf("%s is not set", what))
		}
	}
	checkUrl := func(raw, what string) {
		if raw == "" {
			errs = append(errs, fmt.Errorf("%s is not set", what))
			return
		}
		if _, err := url.ParseRequestURI(raw); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", what, err))
		}
	}

	check(d.Name != "", "name")
	check(d.Driver != "", "driver")
	check(d.Semesters > 0, "semesters")
	check(d.CyclesPerSemester > 0, "cycles per semester")
	check(d.ExamWeight >= 0 && d.ExamWeight <= 100, "exam weight within 0-100")

	checkUrl(d.API.Login.Url, "login url")
	check(d.API.Login.MakeQuery != nil, "login query")
	checkUrl(d.API.Disambiguate.Url, "disambiguate url")
	check(d.API.Disambiguate.IsRequired != nil, "disambiguate predicate")
	check(d.API.Disambiguate.MakeQuery != nil, "disambiguate query")
	checkUrl(d.API.Grades.Url, "grades url")
	checkUrl(d.API.ClassGrades.Url, "class grades url")
	check(d.API.ClassGrades.MakeQuery != nil, "class grades query")

	check(d.Parser.IsLoginRejected != nil, "login rejection parser")
	check(d.Parser.ParseGrades != nil, "grades parser")
	check(d.Parser.ParseClassGrades != nil, "class grades parser")

	if len(errs) > 0 {
		return fmt.Errorf("district %s: %w", d.Name, errors.Join(errs...))
	}
	return nil
}
