// Package gradespeed is the driver for GradeSpeed parent/student portals.
//
// GradeSpeed serves its grade summary with GET, and every class grades link
// carries a base64 encoded query ("data") that is replayed with GET as well.
// Only logging in and picking a student post back to the server.
package gradespeed

import (
	"strings"

	"gradeportal-backend/internal/portal"
	"gradeportal-backend/pkg/htmlutil"

	"github.com/PuerkitoBio/goquery"
)

const Driver = "gradespeed"

const (
	fieldUserName = "txtUserName"
	fieldPassword = "txtPassword"
	fieldLogOn    = "btnLogOn"
	fieldStudents = "ddlStudents"
	fieldData     = "data"
)

type Config struct {
	Name string
	// BaseUrl is the directory the portal pages live in, ex.
	// "https://gradespeed.example.org/pc/".
	BaseUrl    string
	Hosts      []string
	ExamWeight float64
}

func page(base, name string) string {
	return strings.TrimSuffix(base, "/") + "/" + name
}

// NewDistrict builds the configuration of a GradeSpeed district.
func NewDistrict(c Config) portal.District {
	loginUrl := page(c.BaseUrl, "default.aspx")
	gradesUrl := page(c.BaseUrl, "ParentStudentGrades.aspx")

	return portal.District{
		Name:       c.Name,
		Driver:     Driver,
		Hosts:      c.Hosts,
		ExamWeight: c.ExamWeight,
		Columns: portal.ColumnOffsets{
			Teacher: 0,
			Title:   1,
			Period:  2,
			Grades:  3,
		},
		Semesters:         2,
		CyclesPerSemester: 3,

		API: portal.GradeAPI{
			Login: portal.LoginLoader{
				Url:       loginUrl,
				Method:    portal.MethodPost,
				Bootstrap: true,
				MakeQuery: func(username, password string, state portal.PageState) portal.Query {
					return portal.NewQuery(
						state,
						portal.Field{Name: fieldUserName, Value: username},
						portal.Field{Name: fieldPassword, Value: password},
						portal.Field{Name: fieldLogOn, Value: "Log On"},
					)
				},
			},
			Disambiguate: portal.DisambiguateLoader{
				Url:          gradesUrl,
				Method:       portal.MethodPost,
				IsRequired:   IsDisambiguationRequired,
				ListAccounts: ListAccounts,
				MakeQuery: func(accountId string, state portal.PageState) portal.Query {
					return portal.NewQuery(
						state,
						portal.Field{Name: fieldStudents, Value: accountId},
					).Set(portal.FieldEventTarget, fieldStudents)
				},
			},
			Grades: portal.GradeLoader{
				Url:    gradesUrl,
				Method: portal.MethodGet,
			},
			ClassGrades: portal.ClassGradeLoader{
				Url:    gradesUrl,
				Method: portal.MethodGet,
				MakeQuery: func(urlHash string, _ portal.PageState) portal.Query {
					return portal.Query{{Name: fieldData, Value: urlHash}}
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

// IsLoginRejected is true when the login form is served again.
func IsLoginRejected(doc *goquery.Document) (string, bool) {
	reason := htmlutil.SelectionText(doc.Find("#lblErrMsg"))
	if reason != "" {
		return reason, true
	}
	if doc.Find(`input[name="` + fieldPassword + `"]`).Length() > 0 {
		return "", true
	}
	return "", false
}

// IsDisambiguationRequired is true when the portal asks which student to
// show instead of showing grades.
func IsDisambiguationRequired(doc *goquery.Document) bool {
	return doc.Find("select#"+fieldStudents).Length() > 0 &&
		doc.Find("table.DataTable").Length() == 0
}

func ListAccounts(doc *goquery.Document) ([]portal.Account, error) {
	options := doc.Find("select#" + fieldStudents + " option")
	var accounts []portal.Account
	options.Each(func(_ int, option *goquery.Selection) {
		id, _ := option.Attr("value")
		id = strings.TrimSpace(id)
		if id == "" {
			return
		}
		accounts = append(accounts, portal.Account{
			Id:   id,
			Name: htmlutil.SelectionText(option),
		})
	})
	if len(accounts) == 0 {
		return nil, portal.NewParseError("list accounts", "account", "student selection has no options")
	}
	return accounts, nil
}
