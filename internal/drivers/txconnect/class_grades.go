package txconnect

import (
	"context"
	"regexp"
	"strconv"
	"strings"

	"gradeportal-backend/internal/portal"
	"gradeportal-backend/pkg/htmlutil"

	"github.com/PuerkitoBio/goquery"
)

const opParseClassGrades = "parse class grades"

var digitsRegex = regexp.MustCompile(`\d+`)

func ParseClassGrades(ctx context.Context, doc *goquery.Document, c portal.ClassGradesContext) (portal.ClassGrades, error) {
	title := htmlutil.SelectionText(doc.Find(idCourse))
	if title == "" {
		return portal.ClassGrades{}, portal.NewParseError(opParseClassGrades, "class", "course label not found")
	}

	periodText := digitsRegex.FindString(htmlutil.SelectionText(doc.Find(idPeriod)))
	if periodText == "" {
		return portal.ClassGrades{}, portal.NewParseError(opParseClassGrades, "class", "period label not found")
	}
	period, _ := strconv.Atoi(periodText)

	averageLabel := doc.Find(idAverage)
	if averageLabel.Length() == 0 {
		return portal.ClassGrades{}, portal.NewParseError(opParseClassGrades, "class", "average label not found")
	}
	average, err := parseLabeled("class", averageLabel)
	if err != nil {
		return portal.ClassGrades{}, err
	}

	blocks := doc.Find("div.category")
	if blocks.Length() == 0 {
		return portal.ClassGrades{}, portal.NewParseError(opParseClassGrades, "category", "no categories found")
	}
	categories := make([]portal.Category, 0, blocks.Length())
	for i := range blocks.Nodes {
		category, err := parseCategory(blocks.Eq(i), c.CourseId)
		if err != nil {
			return portal.ClassGrades{}, err
		}
		categories = append(categories, category)
	}

	return portal.ClassGrades{
		Title:         title,
		CourseId:      c.CourseId,
		UrlHash:       c.UrlHash,
		Period:        period,
		SemesterIndex: c.SemesterIndex,
		CycleIndex:    c.CycleIndex,
		Average:       average,
		Categories:    categories,
	}, nil
}

func parseLabeled(entity string, sel *goquery.Selection) (*float64, error) {
	text := htmlutil.SelectionText(sel)
	if _, value, found := strings.Cut(text, ":"); found {
		text = value
	}
	return portal.ParseOptionalFloat(opParseClassGrades, entity, text)
}

// assignment table columns, keyed by lowercased header text
const (
	colAssignment  = "assignment"
	colDue         = "date due"
	colScore       = "score"
	colMax         = "max points"
	colWeight      = "weight"
	colExtraCredit = "extra credit"
	colComment     = "comment"
)

func parseCategory(block *goquery.Selection, courseId string) (portal.Category, error) {
	title, weight, err := portal.ParseCategoryWeight(opParseClassGrades, block.Find(".categoryName").First().Text())
	if err != nil {
		return portal.Category{}, err
	}
	id := portal.HashId(courseId, title)

	var average *float64
	if sel := block.Find(".categoryAverage").First(); sel.Length() > 0 {
		average, err = parseLabeled("category", sel)
		if err != nil {
			return portal.Category{}, err
		}
	}
	bonus := 0.0
	if sel := block.Find(".categoryBonus").First(); sel.Length() > 0 {
		value, err := parseLabeled("category", sel)
		if err != nil {
			return portal.Category{}, err
		}
		if value != nil {
			bonus = *value
		}
	}

	table := block.Find("table.assignments").First()
	if table.Length() == 0 {
		return portal.Category{}, portal.NewParseError(opParseClassGrades, "category", "category '%s' has no assignment table", title)
	}
	columns := map[string]int{}
	table.Find("tr th").Each(func(i int, th *goquery.Selection) {
		columns[strings.ToLower(htmlutil.SelectionText(th))] = i
	})
	for _, required := range []string{colAssignment, colScore, colMax} {
		if _, ok := columns[required]; !ok {
			return portal.Category{}, portal.NewParseError(opParseClassGrades, "assignment", "category '%s' has no %s column", title, required)
		}
	}

	var assignments []portal.Assignment
	rows := table.Find("tr")
	for i := range rows.Nodes {
		cells := rows.Eq(i).ChildrenFiltered("td")
		if cells.Length() == 0 {
			continue
		}
		assignment, err := parseAssignment(cells, columns, id)
		if err != nil {
			return portal.Category{}, err
		}
		assignments = append(assignments, assignment)
	}

	return portal.Category{
		Id:          id,
		Title:       title,
		Weight:      weight,
		Average:     average,
		Bonus:       bonus,
		Assignments: assignments,
	}, nil
}

func cell(cells *goquery.Selection, columns map[string]int, name string) string {
	i, ok := columns[name]
	if !ok || i >= cells.Length() {
		return ""
	}
	return htmlutil.SelectionText(cells.Eq(i))
}

func parseAssignment(cells *goquery.Selection, columns map[string]int, categoryId string) (portal.Assignment, error) {
	title := cell(cells, columns, colAssignment)
	if title == "" {
		return portal.Assignment{}, portal.NewParseError(opParseClassGrades, "assignment", "row has no title")
	}

	earned, err := portal.ParseOptionalFloat(opParseClassGrades, "assignment", cell(cells, columns, colScore))
	if err != nil {
		return portal.Assignment{}, err
	}

	maxText := cell(cells, columns, colMax)
	possible, err := strconv.ParseFloat(maxText, 64)
	if err != nil {
		return portal.Assignment{}, portal.NewParseError(opParseClassGrades, "assignment", "'%s' max points '%s' is not a number", title, maxText)
	}

	weight := 1.0
	if text := cell(cells, columns, colWeight); text != "" {
		weight, err = strconv.ParseFloat(text, 64)
		if err != nil {
			return portal.Assignment{}, portal.NewParseError(opParseClassGrades, "assignment", "'%s' weight '%s' is not a number", title, text)
		}
	}

	extraCredit := false
	switch strings.ToLower(cell(cells, columns, colExtraCredit)) {
	case "y", "yes", "x", "true":
		extraCredit = true
	}

	return portal.Assignment{
		Id:          portal.HashId(categoryId, title),
		Title:       title,
		Date:        cell(cells, columns, colDue),
		PtsEarned:   earned,
		PtsPossible: possible,
		Weight:      weight,
		Note:        cell(cells, columns, colComment),
		ExtraCredit: extraCredit,
	}, nil
}
