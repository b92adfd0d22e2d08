package portal

import (
	"regexp"
)

var postBackRegex = regexp.MustCompile(`__doPostBack\(\s*'([^']*)'\s*,\s*'([^']*)'\s*\)`)

// ParsePostBack reads the event target and argument out of a WebForms
// "javascript:__doPostBack('target','argument')" link.
func ParsePostBack(href string) (target, argument string, ok bool) {
	groups := postBackRegex.FindStringSubmatch(href)
	if groups == nil {
		return "", "", false
	}
	return groups[1], groups[2], true
}

// SummaryCell is one grade cell of a summary row. Link is the driver
// specific class grades handle, empty if the cell has none.
type SummaryCell struct {
	Text string
	Link string
}

// ParseSemesterCells lays out the grade cells of a summary row. Each
// semester is CyclesPerSemester cycle cells, an exam cell and a semester
// average cell.
func ParseSemesterCells(op string, d District, cells []SummaryCell) ([]Semester, error) {
	perSemester := d.CyclesPerSemester + 2
	if len(cells) < d.Semesters*perSemester {
		return nil, NewParseError(
			op, "semester",
			"expected %d grade cells, got %d",
			d.Semesters*perSemester, len(cells),
		)
	}

	semesters := make([]Semester, d.Semesters)
	for s := 0; s < d.Semesters; s++ {
		base := s * perSemester

		cycles := make([]Cycle, d.CyclesPerSemester)
		for c := 0; c < d.CyclesPerSemester; c++ {
			cell := cells[base+c]
			average, err := ParseOptionalFloat(op, "cycle", cell.Text)
			if err != nil {
				return nil, err
			}
			cycles[c] = Cycle{
				Index:   c,
				Average: average,
				UrlHash: cell.Link,
			}
		}

		exam, err := ParseGradeCell(op, "exam", cells[base+d.CyclesPerSemester].Text)
		if err != nil {
			return nil, err
		}
		average, err := ParseOptionalFloat(op, "semester", cells[base+d.CyclesPerSemester+1].Text)
		if err != nil {
			return nil, err
		}

		semesters[s] = Semester{
			Index:        s,
			Average:      average,
			ExamGrade:    exam.Value,
			ExamIsExempt: exam.Exempt,
			Cycles:       cycles,
		}
	}
	return semesters, nil
}
