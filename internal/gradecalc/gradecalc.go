// Package gradecalc recomputes averages from the assignments and weights a
// portal reports, so that grades can be checked against the portal's own
// averages and projected when an assignment changes.
package gradecalc

import (
	"math"

	"gradeportal-backend/internal/portal"
)

// CategoryAverage is the weighted percentage of points earned in a
// category. Ungraded assignments are skipped and extra credit only counts
// towards the points earned. It is nil when nothing has been graded.
func CategoryAverage(c portal.Category) *float64 {
	var earned, possible float64
	graded := false
	for _, a := range c.Assignments {
		if a.PtsEarned == nil {
			continue
		}
		earned += *a.PtsEarned * a.Weight
		if a.ExtraCredit {
			continue
		}
		possible += a.PtsPossible * a.Weight
		graded = true
	}
	if !graded || possible == 0 {
		return nil
	}
	average := earned / possible * 100
	return &average
}

// ClassAverage combines the category averages by their weights. Category
// weights are renormalized over the categories that have an average and
// each category's bonus is added to its average. A category with no
// graded assignments falls back to the average the portal reported.
func ClassAverage(grades portal.ClassGrades) *float64 {
	var total, weights float64
	for _, c := range grades.Categories {
		average := CategoryAverage(c)
		if average == nil {
			average = c.Average
		}
		if average == nil || c.Weight == 0 {
			continue
		}
		total += (*average + c.Bonus) * float64(c.Weight)
		weights += float64(c.Weight)
	}
	if weights == 0 {
		return nil
	}
	average := total / weights
	return &average
}

// SemesterAverage is the mean of the cycle averages combined with the exam,
// which counts for examWeight parts per hundred. An exempt or missing exam
// leaves the cycle mean as is.
func SemesterAverage(s portal.Semester, examWeight float64) *float64 {
	var sum float64
	var count int
	for _, c := range s.Cycles {
		if c.Average == nil {
			continue
		}
		sum += *c.Average
		count++
	}
	if count == 0 {
		return nil
	}
	average := sum / float64(count)
	if s.ExamGrade != nil && !s.ExamIsExempt {
		average = average*(100-examWeight)/100 + *s.ExamGrade*examWeight/100
	}
	return &average
}

// Round rounds half away from zero to the given number of decimal places,
// portals display averages rounded this way.
func Round(value float64, places int) float64 {
	scale := math.Pow(10, float64(places))
	return math.Round(value*scale) / scale
}

// Mismatch reports whether a computed average disagrees with the one the
// portal shows once both are rounded to whole numbers.
func Mismatch(computed, reported *float64) bool {
	if computed == nil || reported == nil {
		return computed != reported
	}
	return Round(*computed, 0) != Round(*reported, 0)
}

// CurrentAverage is the most recent average a course has: the average of
// the last cycle with one, in the last semester with any.
func CurrentAverage(c portal.Course) *float64 {
	for i := len(c.Semesters) - 1; i >= 0; i-- {
		cycles := c.Semesters[i].Cycles
		for j := len(cycles) - 1; j >= 0; j-- {
			if cycles[j].Average != nil {
				return cycles[j].Average
			}
		}
	}
	return nil
}
