// Package gradediff compares two scrapes of the same account.
//
// Categories and assignments are matched by their content ids first. What
// is left unmatched on both sides within the same class and cycle is
// paired up by title similarity and reported as a rename, since a renamed
// entity gets a new id.
package gradediff

import (
	"cmp"
	"fmt"
	"slices"
	"strings"

	"gradeportal-backend/internal/portal"
	"gradeportal-backend/internal/scrape"

	"github.com/antzucaro/matchr"
)

type Kind string

const (
	KindAdded   Kind = "added"
	KindRemoved Kind = "removed"
	KindChanged Kind = "changed"
	KindRenamed Kind = "renamed"
)

type Entity string

const (
	EntityCourse     Entity = "course"
	EntityCycle      Entity = "cycle"
	EntitySemester   Entity = "semester"
	EntityCategory   Entity = "category"
	EntityAssignment Entity = "assignment"
)

// RenameSimilarity is the lowest Jaro-Winkler similarity between two titles
// for a removed and an added entity to be paired as a rename.
const RenameSimilarity = 0.8

type Change struct {
	Kind          Kind     `json:"kind"`
	Entity        Entity   `json:"entity"`
	Course        string   `json:"course"`
	SemesterIndex int      `json:"semester_index"`
	CycleIndex    int      `json:"cycle_index"`
	Title         string   `json:"title"`
	PreviousTitle string   `json:"previous_title,omitempty"`
	Previous      *float64 `json:"previous"`
	Current       *float64 `json:"current"`
	Similarity    float64  `json:"similarity,omitempty"`
}

func formatValue(v *float64) string {
	if v == nil {
		return "-"
	}
	return fmt.Sprintf("%g", *v)
}

func (c Change) String() string {
	where := fmt.Sprintf("%s S%d", c.Course, c.SemesterIndex+1)
	if c.Entity != EntitySemester && c.Entity != EntityCourse {
		where += fmt.Sprintf("C%d", c.CycleIndex+1)
	}
	switch c.Kind {
	case KindAdded:
		return fmt.Sprintf("%s: %s '%s' added (%s)", where, c.Entity, c.Title, formatValue(c.Current))
	case KindRemoved:
		return fmt.Sprintf("%s: %s '%s' removed", where, c.Entity, c.Title)
	case KindRenamed:
		return fmt.Sprintf(
			"%s: %s '%s' renamed to '%s' (%s -> %s)",
			where, c.Entity, c.PreviousTitle, c.Title,
			formatValue(c.Previous), formatValue(c.Current),
		)
	}
	return fmt.Sprintf(
		"%s: %s '%s' changed %s -> %s",
		where, c.Entity, c.Title,
		formatValue(c.Previous), formatValue(c.Current),
	)
}

func sameValue(a, b *float64) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

// Diff returns every change from previous to current in a stable order.
func Diff(previous, current scrape.Result) []Change {
	changes := DiffCourses(previous.Courses, current.Courses)
	changes = append(changes, DiffClassGrades(previous.ClassGrades, current.ClassGrades)...)
	return changes
}

func courseKey(c portal.Course) string {
	if c.Id != "" {
		return c.Id
	}
	return c.Title
}

// DiffCourses compares the averages of the grade summaries.
func DiffCourses(previous, current []portal.Course) []Change {
	prevByKey := map[string]portal.Course{}
	for _, c := range previous {
		prevByKey[courseKey(c)] = c
	}
	currentKeys := map[string]bool{}

	var changes []Change
	for _, c := range current {
		key := courseKey(c)
		currentKeys[key] = true
		prev, ok := prevByKey[key]
		if !ok {
			changes = append(changes, Change{Kind: KindAdded, Entity: EntityCourse, Course: c.Title, Title: c.Title})
			continue
		}
		changes = append(changes, diffSemesters(c.Title, prev.Semesters, c.Semesters)...)
	}
	for _, c := range previous {
		if !currentKeys[courseKey(c)] {
			changes = append(changes, Change{Kind: KindRemoved, Entity: EntityCourse, Course: c.Title, Title: c.Title})
		}
	}
	sortChanges(changes)
	return changes
}

func diffSemesters(course string, previous, current []portal.Semester) []Change {
	var changes []Change
	for _, semester := range current {
		var prev portal.Semester
		for _, p := range previous {
			if p.Index == semester.Index {
				prev = p
			}
		}

		for _, cycle := range semester.Cycles {
			var prevAverage *float64
			for _, p := range prev.Cycles {
				if p.Index == cycle.Index {
					prevAverage = p.Average
				}
			}
			if !sameValue(prevAverage, cycle.Average) {
				changes = append(changes, Change{
					Kind:          KindChanged,
					Entity:        EntityCycle,
					Course:        course,
					SemesterIndex: semester.Index,
					CycleIndex:    cycle.Index,
					Title:         fmt.Sprintf("cycle %d", cycle.Index+1),
					Previous:      prevAverage,
					Current:       cycle.Average,
				})
			}
		}

		if !sameValue(prev.Average, semester.Average) {
			changes = append(changes, Change{
				Kind:          KindChanged,
				Entity:        EntitySemester,
				Course:        course,
				SemesterIndex: semester.Index,
				Title:         fmt.Sprintf("semester %d", semester.Index+1),
				Previous:      prev.Average,
				Current:       semester.Average,
			})
		}
		if !sameValue(prev.ExamGrade, semester.ExamGrade) {
			changes = append(changes, Change{
				Kind:          KindChanged,
				Entity:        EntitySemester,
				Course:        course,
				SemesterIndex: semester.Index,
				Title:         fmt.Sprintf("semester %d exam", semester.Index+1),
				Previous:      prev.ExamGrade,
				Current:       semester.ExamGrade,
			})
		}
	}
	return changes
}

// classKey identifies one cycle of one course. Titles are not unique within
// a scrape (sections of PE share one), so the course id is used when known.
type classKey struct {
	course   string
	semester int
	cycle    int
}

func keyOf(g portal.ClassGrades) classKey {
	course := g.CourseId
	if course == "" {
		course = fmt.Sprintf("%s|%d", g.Title, g.Period)
	}
	return classKey{course: course, semester: g.SemesterIndex, cycle: g.CycleIndex}
}

// entry is a category or an assignment flattened for matching.
type entry struct {
	id    string
	title string
	value *float64
	// possible is only compared for assignments.
	possible float64
}

// DiffClassGrades compares categories and assignments of the class grades
// read in both scrapes.
func DiffClassGrades(previous, current []portal.ClassGrades) []Change {
	prevByKey := map[classKey]portal.ClassGrades{}
	for _, g := range previous {
		prevByKey[keyOf(g)] = g
	}
	seen := map[classKey]bool{}

	var changes []Change
	for _, g := range current {
		key := keyOf(g)
		seen[key] = true
		changes = append(changes, diffClass(g.Title, key, prevByKey[key], g)...)
	}
	for _, g := range previous {
		key := keyOf(g)
		if !seen[key] {
			changes = append(changes, diffClass(g.Title, key, g, portal.ClassGrades{})...)
		}
	}
	sortChanges(changes)
	return changes
}

func categoryEntries(g portal.ClassGrades) []entry {
	out := make([]entry, len(g.Categories))
	for i, c := range g.Categories {
		out[i] = entry{id: c.Id, title: c.Title, value: c.Average}
	}
	return out
}

func assignmentEntries(g portal.ClassGrades) []entry {
	var out []entry
	for _, c := range g.Categories {
		for _, a := range c.Assignments {
			out = append(out, entry{id: a.Id, title: a.Title, value: a.PtsEarned, possible: a.PtsPossible})
		}
	}
	return out
}

func diffClass(title string, key classKey, previous, current portal.ClassGrades) []Change {
	base := Change{Course: title, SemesterIndex: key.semester, CycleIndex: key.cycle}
	changes := diffEntries(base, EntityCategory, categoryEntries(previous), categoryEntries(current))
	changes = append(changes, diffEntries(base, EntityAssignment, assignmentEntries(previous), assignmentEntries(current))...)
	return changes
}

func diffEntries(base Change, entity Entity, previous, current []entry) []Change {
	base.Entity = entity

	prevById := map[string]int{}
	for i, e := range previous {
		prevById[e.id] = i
	}
	prevMatched := make([]bool, len(previous))
	curMatched := make([]bool, len(current))

	var changes []Change
	for i, e := range current {
		j, ok := prevById[e.id]
		if !ok || prevMatched[j] {
			continue
		}
		prevMatched[j] = true
		curMatched[i] = true

		p := previous[j]
		if sameValue(p.value, e.value) && p.possible == e.possible {
			continue
		}
		change := base
		change.Kind = KindChanged
		change.Title = e.title
		change.Previous = p.value
		change.Current = e.value
		changes = append(changes, change)
	}

	type link struct {
		similarity float64
		prev       int
		cur        int
	}
	var links []link
	for i, e := range current {
		if curMatched[i] {
			continue
		}
		for j, p := range previous {
			if prevMatched[j] {
				continue
			}
			similarity := matchr.JaroWinkler(strings.ToLower(p.title), strings.ToLower(e.title), false)
			if similarity >= RenameSimilarity {
				links = append(links, link{similarity: similarity, prev: j, cur: i})
			}
		}
	}
	slices.SortStableFunc(links, func(a, b link) int {
		return cmp.Compare(b.similarity, a.similarity)
	})
	for _, l := range links {
		if prevMatched[l.prev] || curMatched[l.cur] {
			continue
		}
		prevMatched[l.prev] = true
		curMatched[l.cur] = true

		change := base
		change.Kind = KindRenamed
		change.Title = current[l.cur].title
		change.PreviousTitle = previous[l.prev].title
		change.Previous = previous[l.prev].value
		change.Current = current[l.cur].value
		change.Similarity = l.similarity
		changes = append(changes, change)
	}

	for i, e := range current {
		if curMatched[i] {
			continue
		}
		change := base
		change.Kind = KindAdded
		change.Title = e.title
		change.Current = e.value
		changes = append(changes, change)
	}
	for j, p := range previous {
		if prevMatched[j] {
			continue
		}
		change := base
		change.Kind = KindRemoved
		change.Title = p.title
		change.Previous = p.value
		changes = append(changes, change)
	}
	return changes
}

var entityOrder = map[Entity]int{
	EntityCourse:     0,
	EntitySemester:   1,
	EntityCycle:      2,
	EntityCategory:   3,
	EntityAssignment: 4,
}

func sortChanges(changes []Change) {
	slices.SortStableFunc(changes, func(a, b Change) int {
		return cmp.Or(
			strings.Compare(a.Course, b.Course),
			cmp.Compare(a.SemesterIndex, b.SemesterIndex),
			cmp.Compare(a.CycleIndex, b.CycleIndex),
			cmp.Compare(entityOrder[a.Entity], entityOrder[b.Entity]),
			strings.Compare(a.Title, b.Title),
		)
	})
}

// Summary renders changes one per line.
func Summary(changes []Change) string {
	lines := make([]string, len(changes))
	for i, c := range changes {
		lines[i] = c.String()
	}
	return strings.Join(lines, "\n")
}
