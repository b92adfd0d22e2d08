package gradediff

import (
	"testing"

	"gradeportal-backend/internal/portal"
	"gradeportal-backend/internal/scrape"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/mazen160/go-random"
	"github.com/stretchr/testify/require"
)

func ptr(f float64) *float64 {
	return &f
}

func assignment(categoryId, title string, earned *float64, possible float64) portal.Assignment {
	return portal.Assignment{
		Id:          portal.HashId(categoryId, title),
		Title:       title,
		PtsEarned:   earned,
		PtsPossible: possible,
		Weight:      1,
	}
}

var (
	majorId = portal.HashId("CHEM-101", "Major Grades")
	minorId = portal.HashId("CHEM-101", "Minor Grades")
)

func chemistry(major, minor portal.Category) portal.ClassGrades {
	return portal.ClassGrades{
		Title:      "CHEMISTRY",
		CourseId:   "CHEM-101",
		Period:     3,
		Categories: []portal.Category{major, minor},
	}
}

func TestDiffClassGrades(t *testing.T) {
	previous := chemistry(
		portal.Category{
			Id: majorId, Title: "Major Grades", Weight: 60, Average: ptr(84.67),
			Assignments: []portal.Assignment{
				assignment(majorId, "Lab Report 1", ptr(45), 50),
				assignment(majorId, "Stoichiometry Test", ptr(82), 100),
			},
		},
		portal.Category{
			Id: minorId, Title: "Minor Grades", Weight: 40, Average: ptr(100),
			Assignments: []portal.Assignment{
				assignment(minorId, "Warmup 1", ptr(10), 10),
				assignment(minorId, "Safety Quiz", nil, 20),
			},
		},
	)
	current := chemistry(
		portal.Category{
			Id: majorId, Title: "Major Grades", Weight: 60, Average: ptr(86),
			Assignments: []portal.Assignment{
				assignment(majorId, "Lab Report #1", ptr(48), 50),
				assignment(majorId, "Stoichiometry Test", ptr(82), 100),
			},
		},
		portal.Category{
			Id: minorId, Title: "Minor Grades", Weight: 40, Average: ptr(100),
			Assignments: []portal.Assignment{
				assignment(minorId, "Warmup 1", ptr(10), 10),
				assignment(minorId, "Safety Quiz", ptr(18), 20),
				assignment(minorId, "Unit 3 Quiz", ptr(9), 10),
			},
		},
	)

	changes := DiffClassGrades([]portal.ClassGrades{previous}, []portal.ClassGrades{current})
	expected := []Change{
		{Kind: KindChanged, Entity: EntityCategory, Course: "CHEMISTRY", Title: "Major Grades", Previous: ptr(84.67), Current: ptr(86)},
		{Kind: KindRenamed, Entity: EntityAssignment, Course: "CHEMISTRY", Title: "Lab Report #1", PreviousTitle: "Lab Report 1", Previous: ptr(45), Current: ptr(48)},
		{Kind: KindChanged, Entity: EntityAssignment, Course: "CHEMISTRY", Title: "Safety Quiz", Current: ptr(18)},
		{Kind: KindAdded, Entity: EntityAssignment, Course: "CHEMISTRY", Title: "Unit 3 Quiz", Current: ptr(9)},
	}
	if diff := cmp.Diff(expected, changes, cmpopts.IgnoreFields(Change{}, "Similarity")); diff != "" {
		t.Fatal(diff)
	}
	require.Greater(t, changes[1].Similarity, RenameSimilarity)

	require.Equal(
		t,
		"CHEMISTRY S1C1: assignment 'Lab Report 1' renamed to 'Lab Report #1' (45 -> 48)",
		changes[1].String(),
	)
	require.Equal(t, "CHEMISTRY S1C1: assignment 'Unit 3 Quiz' added (9)", changes[3].String())

	require.Empty(t, DiffClassGrades([]portal.ClassGrades{current}, []portal.ClassGrades{current}))
}

func physicalEducation(courseId string, run *float64) portal.ClassGrades {
	testsId := portal.HashId(courseId, "Tests")
	return portal.ClassGrades{
		Title:    "PE",
		CourseId: courseId,
		Categories: []portal.Category{{
			Id: testsId, Title: "Tests", Weight: 100,
			Assignments: []portal.Assignment{assignment(testsId, "Run", run, 10)},
		}},
	}
}

func TestDiffClassGradesSameTitledCourses(t *testing.T) {
	previous := []portal.ClassGrades{
		physicalEducation("course-1", ptr(8)),
		physicalEducation("course-2", ptr(9)),
	}
	require.Empty(t, DiffClassGrades(previous, previous))

	current := []portal.ClassGrades{
		physicalEducation("course-1", ptr(8)),
		physicalEducation("course-2", ptr(10)),
	}
	changes := DiffClassGrades(previous, current)
	expected := []Change{
		{Kind: KindChanged, Entity: EntityAssignment, Course: "PE", Title: "Run", Previous: ptr(9), Current: ptr(10)},
	}
	if diff := cmp.Diff(expected, changes); diff != "" {
		t.Fatal(diff)
	}
}

func TestDiffClassGradesDissimilarTitles(t *testing.T) {
	previous := chemistry(
		portal.Category{Id: majorId, Title: "Major Grades", Assignments: []portal.Assignment{
			assignment(majorId, "Lab Report 1", ptr(45), 50),
		}},
		portal.Category{Id: minorId, Title: "Minor Grades"},
	)
	current := chemistry(
		portal.Category{Id: majorId, Title: "Major Grades", Assignments: []portal.Assignment{
			assignment(majorId, "Stoichiometry Test", ptr(82), 100),
		}},
		portal.Category{Id: minorId, Title: "Minor Grades"},
	)

	changes := DiffClassGrades([]portal.ClassGrades{previous}, []portal.ClassGrades{current})
	expected := []Change{
		{Kind: KindRemoved, Entity: EntityAssignment, Course: "CHEMISTRY", Title: "Lab Report 1", Previous: ptr(45)},
		{Kind: KindAdded, Entity: EntityAssignment, Course: "CHEMISTRY", Title: "Stoichiometry Test", Current: ptr(82)},
	}
	if diff := cmp.Diff(expected, changes); diff != "" {
		t.Fatal(diff)
	}
}

func TestDiffCourses(t *testing.T) {
	previous := []portal.Course{
		{
			Id: "ENG-2", Title: "ENGLISH II",
			Semesters: []portal.Semester{{
				Index:  0,
				Cycles: []portal.Cycle{{Index: 0, Average: ptr(95)}, {Index: 1, Average: ptr(92)}, {Index: 2}},
			}},
		},
		{Id: "ART-1", Title: "ART"},
	}
	current := []portal.Course{
		{Id: "BAND-1", Title: "BAND"},
		{
			Id: "ENG-2", Title: "ENGLISH II",
			Semesters: []portal.Semester{{
				Index:   0,
				Average: ptr(92),
				Cycles:  []portal.Cycle{{Index: 0, Average: ptr(95)}, {Index: 1, Average: ptr(93)}, {Index: 2, Average: ptr(88)}},
			}},
		},
	}

	changes := DiffCourses(previous, current)
	expected := []Change{
		{Kind: KindRemoved, Entity: EntityCourse, Course: "ART", Title: "ART"},
		{Kind: KindAdded, Entity: EntityCourse, Course: "BAND", Title: "BAND"},
		{Kind: KindChanged, Entity: EntitySemester, Course: "ENGLISH II", Title: "semester 1", Current: ptr(92)},
		{Kind: KindChanged, Entity: EntityCycle, Course: "ENGLISH II", CycleIndex: 1, Title: "cycle 2", Previous: ptr(92), Current: ptr(93)},
		{Kind: KindChanged, Entity: EntityCycle, Course: "ENGLISH II", CycleIndex: 2, Title: "cycle 3", Current: ptr(88)},
	}
	if diff := cmp.Diff(expected, changes); diff != "" {
		t.Fatal(diff)
	}

	require.Equal(t, "ENGLISH II S1C2: cycle 'cycle 2' changed 92 -> 93", changes[3].String())
	require.Equal(t, "ENGLISH II S1: semester 'semester 1' changed - -> 92", changes[2].String())
}

func TestDiffMissingClass(t *testing.T) {
	class := chemistry(
		portal.Category{Id: majorId, Title: "Major Grades", Average: ptr(90), Assignments: []portal.Assignment{
			assignment(majorId, "Lab Report 1", ptr(45), 50),
		}},
		portal.Category{Id: minorId, Title: "Minor Grades"},
	)
	changes := Diff(
		scrape.Result{ClassGrades: []portal.ClassGrades{class}},
		scrape.Result{},
	)
	require.Len(t, changes, 3)
	for _, c := range changes {
		require.Equal(t, KindRemoved, c.Kind)
	}
}

func randomClass(t *testing.T, n int) portal.ClassGrades {
	category := portal.Category{Id: majorId, Title: "Major Grades"}
	for i := 0; i < n; i++ {
		title, err := random.String(12)
		require.NoError(t, err)
		category.Assignments = append(category.Assignments, assignment(majorId, title, ptr(float64(i)), 100))
	}
	return portal.ClassGrades{Title: "RANDOM", Categories: []portal.Category{category}}
}

func TestDiffProperties(t *testing.T) {
	for round := 0; round < 20; round++ {
		class := randomClass(t, 10)
		require.Empty(t, DiffClassGrades([]portal.ClassGrades{class}, []portal.ClassGrades{class}))

		extra := randomClass(t, 3)
		grown := class
		grown.Categories = []portal.Category{{
			Id:          majorId,
			Title:       "Major Grades",
			Assignments: append(append([]portal.Assignment(nil), class.Categories[0].Assignments...), extra.Categories[0].Assignments...),
		}}

		added := DiffClassGrades([]portal.ClassGrades{class}, []portal.ClassGrades{grown})
		require.Len(t, added, 3)
		for _, c := range added {
			require.Equal(t, KindAdded, c.Kind)
		}

		removed := DiffClassGrades([]portal.ClassGrades{grown}, []portal.ClassGrades{class})
		require.Len(t, removed, 3)
		for _, c := range removed {
			require.Equal(t, KindRemoved, c.Kind)
		}
	}
}
