package txconnect

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"testing"

	"gradeportal-backend/internal/components/telemetry"
	"gradeportal-backend/internal/portal"

	"github.com/PuerkitoBio/goquery"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
)

const (
	englishCycle1   = "ctl00$ContentPlaceHolder1$gvGrades$ctl02$lnkC1"
	englishCycle2   = "ctl00$ContentPlaceHolder1$gvGrades$ctl02$lnkC2"
	englishCycle3   = "ctl00$ContentPlaceHolder1$gvGrades$ctl02$lnkC3"
	chemistryCycle1 = "ctl00$ContentPlaceHolder1$gvGrades$ctl03$lnkC1"

	summaryViewState = "/wEPDwUJNzQ0Grades"
)

func fixture(t *testing.T, name string) []byte {
	t.Helper()
	content, err := os.ReadFile(filepath.Join("testdata", name))
	require.NoError(t, err)
	return content
}

func fixtureDoc(t *testing.T, name string) *goquery.Document {
	t.Helper()
	file, err := os.Open(filepath.Join("testdata", name))
	require.NoError(t, err)
	defer file.Close()
	doc, err := goquery.NewDocumentFromReader(file)
	require.NoError(t, err)
	return doc
}

func ptr(f float64) *float64 {
	return &f
}

func testDistrict(baseUrl string) portal.District {
	return NewDistrict(Config{
		Name:       "Round Rock ISD",
		BaseUrl:    baseUrl,
		Hosts:      []string{"txconnect.roundrockisd.org"},
		ExamWeight: 15,
	})
}

func TestDistrict(t *testing.T) {
	d := testDistrict("https://txconnect.roundrockisd.org/TxConnect/")
	require.NoError(t, d.Validate())
	require.True(t, d.ClassGradesRequiresAverageLoaded)
	require.False(t, d.API.Login.Bootstrap)

	query := d.API.ClassGrades.MakeQuery(chemistryCycle1, portal.PageState{
		ViewState:       summaryViewState,
		EventValidation: "ev",
		EventArgument:   "stale",
	})
	require.Equal(t, portal.Query{
		{Name: portal.FieldEventTarget, Value: chemistryCycle1},
		{Name: portal.FieldEventArgument, Value: ""},
		{Name: portal.FieldViewState, Value: summaryViewState},
		{Name: portal.FieldEventValidation, Value: "ev"},
	}, query)
}

func TestIsLoginRejected(t *testing.T) {
	reason, rejected := IsLoginRejected(fixtureDoc(t, "login_error.html"))
	require.True(t, rejected)
	require.Equal(t, "Your login attempt was not successful. Please try again.", reason)

	_, rejected = IsLoginRejected(fixtureDoc(t, "students.html"))
	require.False(t, rejected)
}

func TestListAccounts(t *testing.T) {
	doc := fixtureDoc(t, "students.html")
	require.True(t, IsDisambiguationRequired(doc))
	require.False(t, IsDisambiguationRequired(fixtureDoc(t, "grades.html")))

	accounts, err := ListAccounts(doc)
	require.NoError(t, err)
	require.Equal(t, []portal.Account{{Id: "0", Name: "Alice Doe"}, {Id: "1", Name: "Bob Doe"}}, accounts)

	_, err = ListAccounts(fixtureDoc(t, "grades.html"))
	var parseErr *portal.ParseError
	require.ErrorAs(t, err, &parseErr)
}

func TestParseGrades(t *testing.T) {
	d := testDistrict("https://txconnect.roundrockisd.org/TxConnect/")
	courses, err := ParseGrades(context.Background(), fixtureDoc(t, "grades.html"), d)
	require.NoError(t, err)

	emptySemester := portal.Semester{
		Index:  1,
		Cycles: []portal.Cycle{{Index: 0}, {Index: 1}, {Index: 2}},
	}
	expected := []portal.Course{
		{
			Title:        "ENGLISH II",
			TeacherName:  "Jones, Mary",
			TeacherEmail: "mary.jones@roundrockisd.org",
			Id:           "ENG-2",
			Period:       1,
			Semesters: []portal.Semester{
				{
					Index:     0,
					Average:   ptr(90),
					ExamGrade: ptr(72),
					Cycles: []portal.Cycle{
						{Index: 0, Average: ptr(95), UrlHash: englishCycle1},
						{Index: 1, Average: ptr(92), UrlHash: englishCycle2},
						{Index: 2, Average: ptr(90), UrlHash: englishCycle3},
					},
				},
				emptySemester,
			},
		},
		{
			Title:       "CHEMISTRY",
			TeacherName: "Nguyen, Tom",
			Id:          "CHEM-101",
			Period:      3,
			Semesters: []portal.Semester{
				{
					Index: 0,
					Cycles: []portal.Cycle{
						{Index: 0, Average: ptr(88.5), UrlHash: chemistryCycle1},
						{Index: 1},
						{Index: 2},
					},
				},
				emptySemester,
			},
		},
	}
	if diff := cmp.Diff(expected, courses); diff != "" {
		t.Fatal(diff)
	}
}

func TestParseClassGrades(t *testing.T) {
	grades, err := ParseClassGrades(context.Background(), fixtureDoc(t, "class_grades.html"), portal.ClassGradesContext{
		CourseId:      "CHEM-101",
		UrlHash:       chemistryCycle1,
		SemesterIndex: 0,
		CycleIndex:    0,
	})
	require.NoError(t, err)

	expected := portal.ClassGrades{
		Title:    "CHEMISTRY",
		CourseId: "CHEM-101",
		UrlHash:  chemistryCycle1,
		Period:   3,
		Average:  ptr(88.5),
		Categories: []portal.Category{
			{
				Id:      "ac59416b88c57337b0dc35b7eaad269d86aa8983",
				Title:   "Major Grades",
				Weight:  60,
				Average: ptr(84.67),
				Assignments: []portal.Assignment{
					{
						Id:          "8ae708718515da2fc7d0c49657ea25fb19b1d769",
						Title:       "Lab Report 1",
						Date:        "10/02/2024",
						PtsEarned:   ptr(45),
						PtsPossible: 50,
						Weight:      1,
					},
					{
						Id:          "8a13503e0fdcd2deb66c0a6372a4405a2bc2d8f2",
						Title:       "Stoichiometry Test",
						Date:        "10/10/2024",
						PtsEarned:   ptr(82),
						PtsPossible: 100,
						Weight:      2,
						Note:        "corrections allowed",
					},
				},
			},
			{
				Id:      "3c506ecb45287491376251685e580bdf51e3e064",
				Title:   "Minor Grades",
				Weight:  40,
				Average: ptr(100),
				Bonus:   1.5,
				Assignments: []portal.Assignment{
					{
						Id:          "9f531311dbc7126d67cd3f54ab09205a97fa2963",
						Title:       "Warmup 1",
						Date:        "09/30/2024",
						PtsEarned:   ptr(10),
						PtsPossible: 10,
						Weight:      1,
					},
					{
						Id:          "c90bec32626aed66812c77634494e2540c2e28ef",
						Title:       "Safety Quiz",
						Date:        "09/25/2024",
						PtsPossible: 20,
						Weight:      1,
					},
					{
						Id:          "b665b94121759cca6d745df2cdb67e1693faf956",
						Title:       "Element Poster",
						Date:        "10/05/2024",
						PtsEarned:   ptr(5),
						PtsPossible: 5,
						Weight:      1,
						ExtraCredit: true,
					},
				},
			},
		},
	}
	if diff := cmp.Diff(expected, grades); diff != "" {
		t.Fatal(diff)
	}
}

// fakePortal only serves class grades for postbacks made from the summary page.
func fakePortal(t *testing.T) *httptest.Server {
	loginError := fixture(t, "login_error.html")
	students := fixture(t, "students.html")
	grades := fixture(t, "grades.html")
	classGrades := fixture(t, "class_grades.html")

	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r.ParseForm()
		switch {
		case r.URL.Path == "/TxConnect/Login.aspx":
			if r.PostForm.Get(fieldPassword) != "secret" {
				w.Write(loginError)
				return
			}
			http.SetCookie(w, &http.Cookie{Name: ".ASPXAUTH", Value: "auth", Path: "/"})
			w.Write(students)
		case r.URL.Path == "/TxConnect/Students.aspx":
			if r.PostForm.Get(portal.FieldEventTarget) != targetStudents {
				w.WriteHeader(http.StatusBadRequest)
				return
			}
			http.Redirect(w, r, "/TxConnect/StudentGrades.aspx", http.StatusFound)
		case r.URL.Path == "/TxConnect/StudentGrades.aspx" && r.Method == http.MethodGet:
			w.Write(grades)
		case r.URL.Path == "/TxConnect/StudentGrades.aspx" && r.Method == http.MethodPost:
			if r.PostForm.Get(portal.FieldViewState) != summaryViewState {
				w.WriteHeader(http.StatusInternalServerError)
				return
			}
			w.Write(classGrades)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
}

func TestSessionAgainstFakePortal(t *testing.T) {
	srv := fakePortal(t)
	defer srv.Close()
	srvUrl, err := url.Parse(srv.URL)
	require.NoError(t, err)

	opts := portal.DefaultRestyTransportOptions([]string{srvUrl.Hostname()})
	opts.RequestsPerSecond = 0
	rec := &telemetry.Recorder{}
	transport, err := portal.NewRestyTransport(opts, rec)
	require.NoError(t, err)

	session := portal.NewSession(testDistrict(srv.URL+"/TxConnect/"), transport, rec)
	ctx := context.Background()

	require.NoError(t, session.Login(ctx, "parent", "secret"))
	require.Equal(t, portal.StateAwaitingDisambiguation, session.State())
	require.NoError(t, session.Disambiguate(ctx, "1"))

	courses, err := session.LoadGrades(ctx)
	require.NoError(t, err)
	require.Len(t, courses, 2)

	chemistry := portal.ClassGradesRequest{
		CourseId: courses[1].Id,
		Cycle:    courses[1].Semesters[0].Cycles[0],
	}
	grades, err := session.LoadClassGrades(ctx, chemistry)
	require.NoError(t, err)
	require.Equal(t, "CHEMISTRY", grades.Title)

	// the portal would reject this postback, the session does not send it
	_, err = session.LoadClassGrades(ctx, chemistry)
	var invalid *portal.InvalidStateError
	require.ErrorAs(t, err, &invalid)

	_, err = session.LoadGrades(ctx)
	require.NoError(t, err)
	_, err = session.LoadClassGrades(ctx, chemistry)
	require.NoError(t, err)
}

func TestSessionRejectedAgainstFakePortal(t *testing.T) {
	srv := fakePortal(t)
	defer srv.Close()

	opts := portal.DefaultRestyTransportOptions(nil)
	opts.RequestsPerSecond = 0
	transport, err := portal.NewRestyTransport(opts, &telemetry.Recorder{})
	require.NoError(t, err)

	session := portal.NewSession(testDistrict(srv.URL+"/TxConnect/"), transport, &telemetry.Recorder{})
	err = session.Login(context.Background(), "parent", "wrong")
	var authErr *portal.AuthenticationError
	require.ErrorAs(t, err, &authErr)
	require.Contains(t, authErr.Reason, "not successful")
}
