package portal

// Course is one row of the grade summary page.
type Course struct {
	Title        string `json:"title"`
	TeacherName  string `json:"teacherName"`
	TeacherEmail string `json:"teacherEmail"`
	// Id is the portal's own course identifier taken from a link.
	Id        string     `json:"id"`
	Period    int        `json:"period"`
	Semesters []Semester `json:"semesters"`
}

type Semester struct {
	Index        int      `json:"index"`
	Average      *float64 `json:"average"`
	ExamGrade    *float64 `json:"examGrade"`
	ExamIsExempt bool     `json:"examIsExempt"`
	Cycles       []Cycle  `json:"cycles"`
}

type Cycle struct {
	Index   int      `json:"index"`
	Average *float64 `json:"average"`
	// UrlHash is replayed verbatim to fetch the cycle's class grades, it is
	// empty when the portal has no detail page for the cycle.
	UrlHash string `json:"urlHash"`
}

type ClassGrades struct {
	Title string `json:"title"`
	// CourseId is the Course.Id the page was requested for.
	CourseId      string     `json:"courseId"`
	UrlHash       string     `json:"urlHash"`
	Period        int        `json:"period"`
	SemesterIndex int        `json:"semesterIndex"`
	CycleIndex    int        `json:"cycleIndex"`
	Average       *float64   `json:"average"`
	Categories    []Category `json:"categories"`
}

type Category struct {
	Id    string `json:"id"`
	Title string `json:"title"`
	// Weight is in parts per hundred of the class average.
	Weight      int          `json:"weight"`
	Average     *float64     `json:"average"`
	Bonus       float64      `json:"bonus"`
	Assignments []Assignment `json:"assignments"`
}

type Assignment struct {
	Id          string   `json:"id"`
	Title       string   `json:"title"`
	Date        string   `json:"date"`
	PtsEarned   *float64 `json:"ptsEarned"`
	PtsPossible float64  `json:"ptsPossible"`
	Weight      float64  `json:"weight"`
	Note        string   `json:"note"`
	ExtraCredit bool     `json:"extraCredit"`
}

// Account is one choice on a disambiguation page.
type Account struct {
	Id   string `json:"id"`
	Name string `json:"name"`
}

// FindCycle returns the cycle with the given semester and cycle index.
func (c Course) FindCycle(semesterIndex, cycleIndex int) (Cycle, bool) {
	for _, s := range c.Semesters {
		if s.Index != semesterIndex {
			continue
		}
		for _, cycle := range s.Cycles {
			if cycle.Index == cycleIndex {
				return cycle, true
			}
		}
	}
	return Cycle{}, false
}
