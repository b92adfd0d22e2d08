package gradespeed

import (
	"context"
	"encoding/base64"
	"net/url"
	"strings"

	"gradeportal-backend/internal/portal"
	"gradeportal-backend/pkg/htmlutil"

	"github.com/PuerkitoBio/goquery"
)

const opParseGrades = "parse grades"

// ParseGrades reads the grade summary table.
func ParseGrades(ctx context.Context, doc *goquery.Document, d portal.District) ([]portal.Course, error) {
	table := doc.Find("table.DataTable").First()
	if table.Length() == 0 {
		return nil, portal.NewParseError(opParseGrades, "course", "grade summary table not found")
	}
	rows := table.Find("tr.DataRow, tr.AltDataRow")
	if rows.Length() == 0 {
		return nil, portal.NewParseError(opParseGrades, "course", "grade summary table has no course rows")
	}

	courses := make([]portal.Course, 0, rows.Length())
	for i := range rows.Nodes {
		course, err := parseCourseRow(ctx, rows.Eq(i), d)
		if err != nil {
			return nil, err
		}
		courses = append(courses, course)
	}
	return courses, nil
}

func parseCourseRow(ctx context.Context, row *goquery.Selection, d portal.District) (portal.Course, error) {
	cells := row.ChildrenFiltered("td")
	cols := d.Columns
	minCells := cols.Grades + d.Semesters*(d.CyclesPerSemester+2)
	if cells.Length() < minCells {
		return portal.Course{}, portal.NewParseError(
			opParseGrades, "course",
			"row has %d cells, expected at least %d", cells.Length(), minCells,
		)
	}

	title := htmlutil.SelectionText(cells.Eq(cols.Title))
	if title == "" {
		return portal.Course{}, portal.NewParseError(opParseGrades, "course", "row has no title")
	}
	period, err := portal.ParseInt(opParseGrades, "period", cells.Eq(cols.Period).Text())
	if err != nil {
		return portal.Course{}, err
	}

	teacherCell := cells.Eq(cols.Teacher)
	teacherName := htmlutil.SelectionText(teacherCell)
	teacherEmail := ""
	for _, anchor := range htmlutil.GetAnchors(ctx, teacherCell.Find("a")) {
		if anchor.Url.Scheme == "mailto" {
			teacherName = anchor.Name
			teacherEmail = anchor.Url.Opaque
			break
		}
	}

	var gradeCells []portal.SummaryCell
	courseId := ""
	cells.Slice(cols.Grades, cells.Length()).Each(func(_ int, cell *goquery.Selection) {
		summary := portal.SummaryCell{Text: htmlutil.SelectionText(cell)}
		for _, anchor := range htmlutil.GetAnchors(ctx, cell.Find("a")) {
			data := anchor.Url.Query().Get(fieldData)
			if data != "" {
				summary.Link = data
				break
			}
		}
		gradeCells = append(gradeCells, summary)
	})

	semesters, err := portal.ParseSemesterCells(opParseGrades, d, gradeCells)
	if err != nil {
		return portal.Course{}, err
	}

	for _, cell := range gradeCells {
		if cell.Link == "" {
			continue
		}
		courseId, err = CourseIdFromHash(cell.Link)
		if err != nil {
			return portal.Course{}, err
		}
		break
	}
	// the course id only appears inside class grades links
	if courseId == "" {
		return portal.Course{}, portal.NewParseError(opParseGrades, "course", "row '%s' has no class grades link", title)
	}

	return portal.Course{
		Title:        title,
		TeacherName:  teacherName,
		TeacherEmail: teacherEmail,
		Id:           courseId,
		Period:       period,
		Semesters:    semesters,
	}, nil
}

// CourseIdFromHash decodes a class grades handle, a base64 encoded query
// string, and returns its course id.
func CourseIdFromHash(urlHash string) (string, error) {
	var decoded []byte
	var err error
	for _, encoding := range []*base64.Encoding{base64.StdEncoding, base64.URLEncoding, base64.RawStdEncoding} {
		decoded, err = encoding.DecodeString(urlHash)
		if err == nil {
			break
		}
	}
	if err != nil {
		return "", portal.NewParseError(opParseGrades, "course", "class grades link '%s' is not base64", urlHash)
	}

	values, err := url.ParseQuery(strings.TrimPrefix(string(decoded), "?"))
	if err != nil {
		return "", portal.NewParseError(opParseGrades, "course", "class grades link '%s' is not a query", decoded)
	}
	for key, v := range values {
		if strings.EqualFold(key, "courseid") && len(v) > 0 && v[0] != "" {
			return v[0], nil
		}
	}
	return "", portal.NewParseError(opParseGrades, "course", "class grades link '%s' has no course id", decoded)
}
