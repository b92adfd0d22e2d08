package gradespeed

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

var (
	classNameRegex        = regexp.MustCompile(`^(.*?)\s*\((\d+)\)$`)
	assignmentWeightRegex = regexp.MustCompile(`(?i)\s*\(x\s*(\d+(?:\.\d+)?)\)$`)
	extraCreditRegex      = regexp.MustCompile(`(?i)\s*\(extra credit\)$`)
)

// ParseClassGrades reads the class grades page of one cycle.
func ParseClassGrades(ctx context.Context, doc *goquery.Document, c portal.ClassGradesContext) (portal.ClassGrades, error) {
	heading := htmlutil.SelectionText(doc.Find("h3.ClassName").First())
	if heading == "" {
		return portal.ClassGrades{}, portal.NewParseError(opParseClassGrades, "class", "class name heading not found")
	}
	groups := classNameRegex.FindStringSubmatch(heading)
	if groups == nil {
		return portal.ClassGrades{}, portal.NewParseError(opParseClassGrades, "class", "class name '%s' has no period", heading)
	}
	title := groups[1]
	period, _ := strconv.Atoi(groups[2])

	averageText := doc.Find("h3.ClassName ~ p.CurrentAverage").First()
	if averageText.Length() == 0 {
		return portal.ClassGrades{}, portal.NewParseError(opParseClassGrades, "class", "class average not found")
	}
	average, err := parseLabeled(opParseClassGrades, "class", averageText)
	if err != nil {
		return portal.ClassGrades{}, err
	}

	blocks := doc.Find("div.AssignmentClass")
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

// parseLabeled reads values like "Current Average: 93".
func parseLabeled(op, entity string, sel *goquery.Selection) (*float64, error) {
	text := htmlutil.SelectionText(sel)
	if _, value, found := strings.Cut(text, ":"); found {
		text = value
	}
	return portal.ParseOptionalFloat(op, entity, text)
}

func parseCategory(block *goquery.Selection, courseId string) (portal.Category, error) {
	title, weight, err := portal.ParseCategoryWeight(opParseClassGrades, block.Find("span.CategoryName").First().Text())
	if err != nil {
		return portal.Category{}, err
	}
	id := portal.HashId(courseId, title)

	var average *float64
	if sel := block.Find("p.CurrentAverage").First(); sel.Length() > 0 {
		average, err = parseLabeled(opParseClassGrades, "category", sel)
		if err != nil {
			return portal.Category{}, err
		}
	}

	bonus := 0.0
	if sel := block.Find("p.CategoryBonus").First(); sel.Length() > 0 {
		value, err := parseLabeled(opParseClassGrades, "category", sel)
		if err != nil {
			return portal.Category{}, err
		}
		if value != nil {
			bonus = *value
		}
	}

	table := block.Find("table.DataTable").First()
	if table.Length() == 0 {
		return portal.Category{}, portal.NewParseError(opParseClassGrades, "category", "category '%s' has no assignment table", title)
	}

	columns := map[string]int{}
	table.Find("tr.TableHeader th").Each(func(i int, th *goquery.Selection) {
		columns[strings.ToLower(htmlutil.SelectionText(th))] = i
	})
	for _, required := range []string{"assignment", "score"} {
		if _, ok := columns[required]; !ok {
			return portal.Category{}, portal.NewParseError(opParseClassGrades, "assignment", "category '%s' has no %s column", title, required)
		}
	}

	rows := table.Find("tr.DataRow, tr.AltDataRow")
	assignments := make([]portal.Assignment, 0, rows.Length())
	for i := range rows.Nodes {
		assignment, err := parseAssignment(rows.Eq(i).ChildrenFiltered("td"), columns, id)
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
	title := cell(cells, columns, "assignment")
	if title == "" {
		return portal.Assignment{}, portal.NewParseError(opParseClassGrades, "assignment", "row has no title")
	}

	extraCredit := false
	if extraCreditRegex.MatchString(title) {
		extraCredit = true
		title = extraCreditRegex.ReplaceAllString(title, "")
	}
	weight := 1.0
	if groups := assignmentWeightRegex.FindStringSubmatch(title); groups != nil {
		weight, _ = strconv.ParseFloat(groups[1], 64)
		title = assignmentWeightRegex.ReplaceAllString(title, "")
	}

	score := cell(cells, columns, "score")
	var earned *float64
	possible := 100.0
	var err error
	if strings.Contains(score, "/") {
		earned, possible, err = portal.ParsePoints(opParseClassGrades, score)
	} else {
		earned, err = portal.ParseOptionalFloat(opParseClassGrades, "assignment", score)
	}
	if err != nil {
		return portal.Assignment{}, err
	}

	note := cell(cells, columns, "note")
	if strings.EqualFold(note, "extra credit") {
		extraCredit = true
	}

	return portal.Assignment{
		Id:          portal.HashId(categoryId, title),
		Title:       title,
		Date:        cell(cells, columns, "due"),
		PtsEarned:   earned,
		PtsPossible: possible,
		Weight:      weight,
		Note:        note,
		ExtraCredit: extraCredit,
	}, nil
}
