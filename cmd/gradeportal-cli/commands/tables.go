package commands

import (
	"fmt"
	"os"
	"strconv"

	"gradeportal-backend/internal/gradecalc"
	"gradeportal-backend/internal/gradediff"
	"gradeportal-backend/internal/scrape"

	"github.com/jedib0t/go-pretty/v6/table"
)

func grade(value *float64) string {
	if value == nil {
		return "-"
	}
	return strconv.FormatFloat(gradecalc.Round(*value, 2), 'f', -1, 64)
}

func renderCourses(result scrape.Result) {
	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.SetTitle("%s: %s", result.District, result.Username)

	// every course of a portal shares the same semester layout
	header := table.Row{"Period", "Course", "Teacher"}
	if len(result.Courses) > 0 {
		for _, s := range result.Courses[0].Semesters {
			for _, cycle := range s.Cycles {
				header = append(header, fmt.Sprintf("S%d C%d", s.Index+1, cycle.Index+1))
			}
			header = append(header, fmt.Sprintf("S%d Exam", s.Index+1), fmt.Sprintf("S%d", s.Index+1))
		}
	}
	t.AppendHeader(header)

	for _, c := range result.Courses {
		row := table.Row{c.Period, c.Title, c.TeacherName}
		for _, s := range c.Semesters {
			for _, cycle := range s.Cycles {
				row = append(row, grade(cycle.Average))
			}
			exam := grade(s.ExamGrade)
			if s.ExamIsExempt {
				exam = "exempt"
			}
			row = append(row, exam, grade(s.Average))
		}
		t.AppendRow(row)
	}
	t.SetStyle(table.StyleRounded)
	t.Render()
}

func renderClassGrades(result scrape.Result) {
	for _, class := range result.ClassGrades {
		t := table.NewWriter()
		t.SetOutputMirror(os.Stdout)
		t.SetTitle(
			"%s S%d C%d: %s (computed %s)",
			class.Title, class.SemesterIndex+1, class.CycleIndex+1,
			grade(class.Average), grade(gradecalc.ClassAverage(class)),
		)
		t.AppendHeader(table.Row{"Category", "Assignment", "Date", "Score", "Weight", "Note"})
		for _, category := range class.Categories {
			name := fmt.Sprintf("%s (%d%%)", category.Title, category.Weight)
			for _, a := range category.Assignments {
				score := fmt.Sprintf("%s/%g", grade(a.PtsEarned), a.PtsPossible)
				if a.ExtraCredit {
					score += " EC"
				}
				t.AppendRow(table.Row{name, a.Title, a.Date, score, a.Weight, a.Note})
			}
			t.AppendRow(table.Row{name, "average", "", grade(category.Average), "", ""})
			t.AppendSeparator()
		}
		t.SetStyle(table.StyleRounded)
		t.Render()
	}
}

func renderChanges(changes []gradediff.Change) {
	if len(changes) == 0 {
		fmt.Println("no changes since the last scrape")
		return
	}
	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.AppendHeader(table.Row{"Change"})
	for _, c := range changes {
		t.AppendRow(table.Row{c.String()})
	}
	t.SetStyle(table.StyleRounded)
	t.Render()
}
