package txconnect

import (
	"context"
	"strings"

	"gradeportal-backend/internal/portal"
	"gradeportal-backend/pkg/htmlutil"

	"github.com/PuerkitoBio/goquery"
)

const opParseGrades = "parse grades"

func ParseGrades(ctx context.Context, doc *goquery.Document, d portal.District) ([]portal.Course, error) {
	table := doc.Find(idGrades)
	if table.Length() == 0 {
		return nil, portal.NewParseError(opParseGrades, "course", "grade summary table not found")
	}

	var courses []portal.Course
	rows := table.Find("tr")
	for i := range rows.Nodes {
		row := rows.Eq(i)
		if row.ChildrenFiltered("td").Length() == 0 {
			// header
			continue
		}
		course, err := parseCourseRow(ctx, row, d)
		if err != nil {
			return nil, err
		}
		courses = append(courses, course)
	}
	if len(courses) == 0 {
		return nil, portal.NewParseError(opParseGrades, "course", "grade summary table has no course rows")
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

	period, err := portal.ParseInt(opParseGrades, "period", cells.Eq(cols.Period).Text())
	if err != nil {
		return portal.Course{}, err
	}

	titleCell := cells.Eq(cols.Title)
	title := htmlutil.SelectionText(titleCell)
	courseId := ""
	for _, anchor := range htmlutil.GetAnchors(ctx, titleCell.Find("a")) {
		for key, values := range anchor.Url.Query() {
			if strings.EqualFold(key, "courseid") && len(values) > 0 {
				courseId = values[0]
			}
		}
	}
	if title == "" || courseId == "" {
		return portal.Course{}, portal.NewParseError(opParseGrades, "course", "row '%s' has no course link", title)
	}

	teacherCell := cells.Eq(cols.Teacher)
	teacherName := htmlutil.SelectionText(teacherCell)
	teacherEmail := ""
	for _, anchor := range htmlutil.GetAnchors(ctx, teacherCell.Find("a")) {
		if anchor.Url.Scheme == "mailto" {
			teacherEmail = anchor.Url.Opaque
		}
	}

	var gradeCells []portal.SummaryCell
	cells.Slice(cols.Grades, cells.Length()).Each(func(_ int, cell *goquery.Selection) {
		summary := portal.SummaryCell{Text: htmlutil.SelectionText(cell)}
		if href, ok := cell.Find("a").Attr("href"); ok {
			if target, _, ok := portal.ParsePostBack(href); ok {
				summary.Link = target
			}
		}
		gradeCells = append(gradeCells, summary)
	})

	semesters, err := portal.ParseSemesterCells(opParseGrades, d, gradeCells)
	if err != nil {
		return portal.Course{}, err
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
