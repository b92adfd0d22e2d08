// Package txconnect is the driver for txConnect student portals.
//
// txConnect never links to class grades directly. Each cycle grade on the
// summary is a postback whose event target is the class grades handle, so
// class grades can only be requested right after the summary was served.
package txconnect

import (
	"strings"

	"gradeportal-backend/internal/portal"
	"gradeportal-backend/pkg/htmlutil"

	"github.com/PuerkitoBio/goquery"
)

const Driver = "txconnect"

const (
	controlPrefix  = "ctl00$ContentPlaceHolder1$"
	fieldUserName  = controlPrefix + "txtUserName"
	fieldPassword  = controlPrefix + "txtPassword"
	fieldLogin     = controlPrefix + "btnLogin"
	targetStudents = controlPrefix + "gvStudents"
	selectPrefix   = "Select$"

	idStudents = "#ctl00_ContentPlaceHolder1_gvStudents"
	idGrades   = "#ctl00_ContentPlaceHolder1_gvGrades"
	idError    = "#ctl00_ContentPlaceHolder1_lblError"
	idCourse   = "#ctl00_ContentPlaceHolder1_lblCourse"
	idPeriod   = "#ctl00_ContentPlaceHolder1_lblPeriod"
	idAverage  = "#ctl00_ContentPlaceHolder1_lblAverage"
)

type Config struct {
	Name string
	// BaseUrl is the directory the portal pages live in, ex.
	// "https://txconnect.example.org/TxConnect/".
	BaseUrl    string
	Hosts      []string
	ExamWeight float64
}

func page(base, name string) string {
	return strings.TrimSuffix(base, "/") + "/" + name
}

// NewDistrict builds the configuration of a txConnect district.
func NewDistrict(c Config) portal.District {
	gradesUrl := page(c.BaseUrl, "StudentGrades.aspx")

	return portal.District{
		Name:       c.Name,
		Driver:     Driver,
		Hosts:      c.Hosts,
		ExamWeight: c.ExamWeight,
		Columns: portal.ColumnOffsets{
			Period:  0,
			Title:   1,
			Teacher: 2,
			Grades:  3,
		},
		Semesters:                        2,
		CyclesPerSemester:                3,
		ClassGradesRequiresAverageLoaded: true,

		API: portal.GradeAPI{
			Login: portal.LoginLoader{
				Url:    page(c.BaseUrl, "Login.aspx"),
				Method: portal.MethodPost,
				MakeQuery: func(username, password string, state portal.PageState) portal.Query {
					return portal.NewQuery(
						state,
						portal.Field{Name: fieldUserName, Value: username},
						portal.Field{Name: fieldPassword, Value: password},
						portal.Field{Name: fieldLogin, Value: "Log In"},
					)
				},
			},
			Disambiguate: portal.DisambiguateLoader{
				Url:          page(c.BaseUrl, "Students.aspx"),
				Method:       portal.MethodPost,
				IsRequired:   IsDisambiguationRequired,
				ListAccounts: ListAccounts,
				MakeQuery: func(accountId string, state portal.PageState) portal.Query {
					return portal.NewQuery(state).
						Set(portal.FieldEventTarget, targetStudents).
						Set(portal.FieldEventArgument, selectPrefix+accountId)
				},
			},
			Grades: portal.GradeLoader{
				Url:    gradesUrl,
				Method: portal.MethodGet,
			},
			ClassGrades: portal.ClassGradeLoader{
				Url:    gradesUrl,
				Method: portal.MethodPost,
				MakeQuery: func(urlHash string, state portal.PageState) portal.Query {
					return portal.NewQuery(state).
						Set(portal.FieldEventTarget, urlHash).
						Set(portal.FieldEventArgument, "")
				},
			},
		},
		Parser: portal.Parser{
			IsLoginRejected:  IsLoginRejected,
			ParseGrades:      ParseGrades,
			ParseClassGrades: ParseClassGrades,
		},
	}
}

func IsLoginRejected(doc *goquery.Document) (string, bool) {
	reason := htmlutil.SelectionText(doc.Find(idError))
	if reason != "" {
		return reason, true
	}
	if doc.Find(`input[name="` + fieldPassword + `"]`).Length() > 0 {
		return "", true
	}
	return "", false
}

// IsDisambiguationRequired is true when the portal lists the students tied
// to the login.
func IsDisambiguationRequired(doc *goquery.Document) bool {
	return doc.Find(idStudents).Length() > 0
}

func ListAccounts(doc *goquery.Document) ([]portal.Account, error) {
	var accounts []portal.Account
	doc.Find(idStudents + " a").Each(func(_ int, a *goquery.Selection) {
		href, _ := a.Attr("href")
		target, argument, ok := portal.ParsePostBack(href)
		if !ok || target != targetStudents || !strings.HasPrefix(argument, selectPrefix) {
			return
		}
		accounts = append(accounts, portal.Account{
			Id:   strings.TrimPrefix(argument, selectPrefix),
			Name: htmlutil.SelectionText(a),
		})
	})
	if len(accounts) == 0 {
		return nil, portal.NewParseError("list accounts", "account", "student list has no selectable students")
	}
	return accounts, nil
}
